package dav

import (
	"sort"
	"time"

	"github.com/sonroyaalmerol/caldav-core/internal/model"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
	"github.com/sonroyaalmerol/caldav-core/pkg/ical"
	"github.com/sonroyaalmerol/caldav-core/pkg/vcard"
)

// defaultDuration backstops occurrence-width computation for a schedulable
// component whose DTEND, DUE, and DURATION are all absent (e.g. a VEVENT
// with only DTSTART, legal per RFC 5545 §3.6.1), which is given a one-hour
// duration for overlap purposes.
const defaultDuration = time.Hour

// flattenEntity lowers a canonical component tree into the placeholder-id
// row set the store's transactional replace expects, plus the derived
// calendar/address index rows built from the same tree. The placeholder ids
// are the mapper-assigned "tmp-N" component/property ids; replaceEntityTree
// substitutes real ids for them in one pass.
func flattenEntity(entity *model.Entity) storage.EntityTree {
	tree := storage.EntityTree{
		Entity: storage.Entity{
			EntityType: storage.EntityType(entity.Type),
			LogicalUID: entity.LogicalUID,
		},
	}
	if entity.Root != nil {
		flattenComponent(entity.Root, nil, &tree)
	}

	switch entity.Type {
	case model.EntityICalendar:
		for _, row := range ical.BuildIndexRows(entity) {
			md, _ := row.Metadata.MarshalMetadata()
			tree.CalIndex = append(tree.CalIndex, storage.CalIndexRow{
				ComponentID:   row.ComponentID,
				ComponentType: row.Kind,
				UID:           row.ComponentUID,
				DTStartUTC:    row.DTStart,
				DTEndUTC:      row.DTEnd,
				AllDay:        row.AllDay,
				RRuleText:     row.RRule,
				Metadata:      md,
			})
			if row.DTStart != nil {
				dur := defaultDuration
				if row.DTEnd != nil {
					dur = row.DTEnd.Sub(*row.DTStart)
				}
				occStart, occEnd := *row.DTStart, row.DTEnd
				_ = occEnd
				if row.RRule != "" || len(row.RDates) > 0 {
					exp := ical.NewExpander(ical.DefaultMaxInstances)
					occs, err := exp.Expand(*row.DTStart, dur, row.RRule, row.RDates, row.ExDates, nil, nil)
					if err == nil {
						for _, o := range occs {
							tree.CalOccurrence = append(tree.CalOccurrence, storage.CalOccurrence{
								ComponentID: row.ComponentID,
								StartUTC:    o.Start,
								EndUTC:      o.End,
							})
						}
					}
				} else {
					end := occStart.Add(dur)
					tree.CalOccurrence = append(tree.CalOccurrence, storage.CalOccurrence{
						ComponentID: row.ComponentID,
						StartUTC:    occStart,
						EndUTC:      end,
					})
				}
			}
		}
	case model.EntityVCard:
		row := vcard.BuildIndexRow(entity)
		md, _ := row.Metadata.MarshalMetadata()
		org := ""
		if len(row.Metadata.Org) > 0 {
			org = row.Metadata.Org[0]
		}
		tree.CardIndex = &storage.CardIndexRow{
			UID:        row.UID,
			FN:         row.FN,
			Emails:     row.Emails,
			Tels:       row.Tels,
			Org:        org,
			Categories: row.Metadata.Categories,
			Metadata:   md,
		}
	}
	return tree
}

func flattenComponent(c *model.Component, parentID *string, tree *storage.EntityTree) {
	tree.Components = append(tree.Components, storage.Component{
		ID:                c.ID,
		ParentComponentID: parentID,
		Name:              c.Name,
		Ordinal:           c.Ordinal,
	})
	for _, p := range c.Properties {
		tree.Properties = append(tree.Properties, storage.Property{
			ID:          p.ID,
			ComponentID: c.ID,
			Name:        p.Name,
			Group:       p.Group,
			ValueType:   storage.ValueType(p.Type),
			Ordinal:     p.Ordinal,
			Text:        textOrRaw(p),
			Integer:     p.Integer,
			Float:       p.Float,
			Boolean:     p.Boolean,
			Date:        p.Date,
			Timestamp:   p.Timestamp,
			Binary:      p.Binary,
			TextArray:   p.TextArray,
		})
		for _, pm := range p.Parameters {
			tree.Parameters = append(tree.Parameters, storage.Parameter{
				PropertyID: p.ID,
				Name:       pm.Name,
				Value:      pm.Value,
				Ordinal:    pm.Ordinal,
			})
		}
	}
	id := c.ID
	for _, ch := range c.Children {
		flattenComponent(ch, &id, tree)
	}
}

func textOrRaw(p *model.Property) string {
	if p.Type == model.ValueText && p.Text == "" && p.Raw != "" {
		return p.Raw
	}
	return p.Text
}

// materializeEntity reconstructs a canonical component tree from a stored
// entity's flattened rows, the inverse of flattenEntity, used to re-derive
// wire bytes for GET/REPORT and to run fine-grained REPORT filters.
func materializeEntity(tree *storage.EntityTree) *model.Entity {
	compsByID := make(map[string]*model.Component, len(tree.Components))
	order := make([]*model.Component, 0, len(tree.Components))
	for _, c := range tree.Components {
		mc := &model.Component{ID: c.ID, Name: c.Name, Ordinal: c.Ordinal}
		compsByID[c.ID] = mc
		order = append(order, mc)
	}
	var root *model.Component
	for i, c := range tree.Components {
		mc := order[i]
		if c.ParentComponentID == nil {
			if root == nil {
				root = mc
			}
			continue
		}
		if parent, ok := compsByID[*c.ParentComponentID]; ok {
			mc.Parent = parent
			parent.Children = append(parent.Children, mc)
		}
	}
	sortComponentChildren(root)

	propsByID := make(map[string]*model.Property, len(tree.Properties))
	for _, p := range tree.Properties {
		mp := &model.Property{
			ID:        p.ID,
			Name:      p.Name,
			Group:     p.Group,
			Type:      model.ValueType(p.ValueType),
			Ordinal:   p.Ordinal,
			Text:      p.Text,
			Integer:   p.Integer,
			Float:     p.Float,
			Boolean:   p.Boolean,
			Date:      p.Date,
			Timestamp: p.Timestamp,
			Binary:    p.Binary,
			TextArray: p.TextArray,
		}
		propsByID[p.ID] = mp
		if c, ok := compsByID[p.ComponentID]; ok {
			c.Properties = append(c.Properties, mp)
		}
	}
	for _, pm := range tree.Parameters {
		if p, ok := propsByID[pm.PropertyID]; ok {
			p.Parameters = append(p.Parameters, &model.Parameter{
				ID: pm.ID, Name: pm.Name, Value: pm.Value, Ordinal: pm.Ordinal,
			})
		}
	}
	for _, c := range order {
		sort.Slice(c.Properties, func(i, j int) bool { return c.Properties[i].Ordinal < c.Properties[j].Ordinal })
	}

	return &model.Entity{
		ID:         tree.Entity.ID,
		Type:       model.EntityType(tree.Entity.EntityType),
		LogicalUID: tree.Entity.LogicalUID,
		Root:       root,
	}
}

func sortComponentChildren(c *model.Component) {
	if c == nil {
		return
	}
	sort.Slice(c.Children, func(i, j int) bool { return c.Children[i].Ordinal < c.Children[j].Ordinal })
	for _, ch := range c.Children {
		sortComponentChildren(ch)
	}
}
