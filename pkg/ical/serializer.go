package ical

import (
	"bytes"

	goical "github.com/emersion/go-ical"
	"github.com/sonroyaalmerol/caldav-core/internal/model"
)

// Serialize reassembles a component tree into canonical bytes: CRLF line
// endings, folded at 75 octets on a UTF-8 boundary, upper-cased names,
// produced by emersion/go-ical's encoder over the tree this mapper
// reconstructs from typed values.
func Serialize(root *model.Component) ([]byte, error) {
	comp := unmapComponent(root)
	cal := &goical.Calendar{Component: comp}
	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmapComponent(c *model.Component) *goical.Component {
	out := goical.NewComponent(c.Name)
	for _, p := range c.Properties {
		out.Props.Add(unmapProperty(p))
	}
	for _, ch := range c.Children {
		out.Children = append(out.Children, unmapComponent(ch))
	}
	return out
}

func unmapProperty(p *model.Property) goical.Prop {
	name := p.Name
	if p.Group != "" {
		name = p.Group + "." + p.Name
	}
	prop := goical.NewProp(name)
	for _, pm := range p.Parameters {
		prop.Params.Set(pm.Name, pm.Value)
	}

	switch p.Type {
	case model.ValueTimestamp:
		form := FormFloating
		if tzid := prop.Params.Get("TZID"); tzid != "" {
			form = FormZoned
		} else if isUTCTimestamp(p) {
			form = FormUTC
		}
		prop.Value = FormatDateTime(p.Timestamp, false, form)
	case model.ValueDate:
		prop.Value = FormatDateTime(p.Date, true, FormFloating)
	case model.ValueInteger:
		prop.Value = itoa(p.Integer)
	case model.ValueFloat:
		prop.Value = ftoa(p.Float)
	case model.ValueBoolean:
		if p.Boolean {
			prop.Value = "TRUE"
		} else {
			prop.Value = "FALSE"
		}
	case model.ValueBinary:
		prop.Value = string(p.Binary)
	case model.ValueTextArray:
		prop.Value = joinTextArray(p.TextArray)
	default:
		if p.Text != "" || p.Raw == "" {
			prop.Value = escapeText(p.Text)
		} else {
			prop.Value = p.Raw
		}
	}
	return *prop
}

// isUTCTimestamp reports whether a stored timestamp should round-trip with
// a trailing Z. Index rows always store UTC; the mapper marks this via the
// TZID parameter's absence, which unmapProperty already checked, so this
// is the remaining "no parameter at all" case defaulting to UTC to match
// the store's UTC-normalized Timestamp columns.
func isUTCTimestamp(p *model.Property) bool {
	return p.Param("TZID") == nil
}
