package vcard

import (
	"fmt"
	"io"
	"strings"

	govcard "github.com/emersion/go-vcard"
	"github.com/sonroyaalmerol/caldav-core/internal/model"
)

// Parse decodes a single vCard into the canonical component tree: one root
// VCARD component, VERSION carried as an explicit property, group prefixes
// (e.g. "item1.TEL") preserved on Property.Group. Unfolding and
// content-line grammar are handled by emersion/go-vcard; this mapper adds
// the typed extraction and tree shape spec.md §4.1 requires uniformly
// across iCalendar and vCard.
func Parse(data []byte) (*model.Entity, error) {
	cards, err := parseAll(data)
	if err != nil {
		return nil, newParseErr("InvalidContentLine", err)
	}
	if len(cards) == 0 {
		return nil, newParseErr("InvalidContentLine", fmt.Errorf("no vCard found"))
	}
	if len(cards) > 1 {
		return nil, newParseErr("InvalidContentLine", fmt.Errorf("multiple vCards in one resource"))
	}
	return mapCard(cards[0])
}

// ParseAll decodes a stream that may contain more than one vCard into one
// entity per card. No request handler calls it.
func ParseAll(data []byte) ([]*model.Entity, error) {
	cards, err := parseAll(data)
	if err != nil {
		return nil, newParseErr("InvalidContentLine", err)
	}
	out := make([]*model.Entity, 0, len(cards))
	for _, c := range cards {
		ent, err := mapCard(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

func parseAll(b []byte) ([]govcard.Card, error) {
	content := strings.ReplaceAll(string(b), "\r\n", "\n")
	content = strings.ReplaceAll(content, "\n", "\r\n")

	dec := govcard.NewDecoder(strings.NewReader(content))
	var out []govcard.Card
	for {
		c, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode vcard: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

var compIDSeq int

func nextID() string {
	compIDSeq++
	return fmt.Sprintf("tmp-%d", compIDSeq)
}

func mapCard(card govcard.Card) (*model.Entity, error) {
	if card.Value(govcard.FieldVersion) == "" {
		return nil, newParseErr("MissingVersion", fmt.Errorf("vCard missing VERSION"))
	}
	if card.Value(govcard.FieldFormattedName) == "" {
		return nil, newParseErr("MissingFN", fmt.Errorf("vCard missing FN"))
	}

	root := &model.Component{ID: nextID(), Name: "VCARD"}

	ordinal := 0
	for name, fields := range card {
		for _, f := range fields {
			mp := mapField(strings.ToUpper(name), f)
			mp.Ordinal = ordinal
			ordinal++
			root.Properties = append(root.Properties, mp)
		}
	}

	ent := &model.Entity{
		Type: model.EntityVCard,
		Root: root,
	}
	if uid := root.Get("UID"); uid != nil {
		ent.LogicalUID = uid.Text
	}
	return ent, nil
}

func mapField(name string, f *govcard.Field) *model.Property {
	vt := valueTypeFor(name)
	mp := &model.Property{
		ID:    nextID(),
		Name:  name,
		Group: f.Group,
		Type:  vt,
		Raw:   f.Value,
	}
	for pname, pvals := range f.Params {
		mp.Parameters = append(mp.Parameters, &model.Parameter{
			ID:    nextID(),
			Name:  strings.ToUpper(pname),
			Value: strings.Join(pvals, ","),
		})
	}

	switch vt {
	case model.ValueTextArray:
		if name == "CATEGORIES" || name == "NICKNAME" {
			mp.TextArray = splitOn(f.Value, ',')
		} else {
			mp.TextArray = splitOn(f.Value, ';')
		}
	case model.ValueTimestamp:
		t, isDate, err := parseVCardTime(f.Value)
		if err != nil {
			mp.Type = model.ValueText
			mp.Text = unescapeText(f.Value)
			break
		}
		if isDate {
			mp.Type = model.ValueDate
			mp.Date = t
		} else {
			mp.Timestamp = t
		}
	case model.ValueDate:
		t, _, err := parseVCardTime(f.Value)
		if err != nil {
			mp.Type = model.ValueText
			mp.Text = unescapeText(f.Value)
			break
		}
		mp.Date = t
	default:
		mp.Text = unescapeText(f.Value)
	}

	return mp
}
