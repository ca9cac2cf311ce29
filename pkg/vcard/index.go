package vcard

import (
	"encoding/json"

	"github.com/sonroyaalmerol/caldav-core/internal/model"
)

// ContactMetadata is the JSON bag stored alongside a card_index row,
// carrying the fields beyond the directly-searchable columns.
type ContactMetadata struct {
	Org        []string `json:"org,omitempty"`
	Title      string   `json:"title,omitempty"`
	Nickname   []string `json:"nickname,omitempty"`
	Note       string   `json:"note,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// IndexRow is the searchable summary of a vCard, independent of the raw
// property tree, used for REPORT addressbook-query filtering and listing.
type IndexRow struct {
	UID      string
	FN       string
	Emails   []string
	Tels     []string
	Metadata ContactMetadata
}

// BuildIndexRow extracts the card_index row for a parsed vCard entity.
func BuildIndexRow(entity *model.Entity) IndexRow {
	row := IndexRow{UID: entity.LogicalUID}
	if entity.Root == nil {
		return row
	}
	c := entity.Root

	if p := c.Get("FN"); p != nil {
		row.FN = p.Text
	}
	for _, p := range c.GetAll("EMAIL") {
		row.Emails = append(row.Emails, p.Text)
	}
	for _, p := range c.GetAll("TEL") {
		row.Tels = append(row.Tels, p.Text)
	}

	md := ContactMetadata{}
	if p := c.Get("ORG"); p != nil {
		md.Org = p.TextArray
	}
	if p := c.Get("TITLE"); p != nil {
		md.Title = p.Text
	}
	if p := c.Get("NICKNAME"); p != nil {
		md.Nickname = p.TextArray
	}
	if p := c.Get("NOTE"); p != nil {
		md.Note = p.Text
	}
	if p := c.Get("CATEGORIES"); p != nil {
		md.Categories = p.TextArray
	}
	row.Metadata = md
	return row
}

// MarshalMetadata renders the metadata bag for storage in a jsonb column.
func (md ContactMetadata) MarshalMetadata() ([]byte, error) {
	return json.Marshal(md)
}
