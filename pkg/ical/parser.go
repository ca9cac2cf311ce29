package ical

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/sonroyaalmerol/caldav-core/internal/model"
)

// Parse decodes a CRLF content-line stream into the canonical component
// tree. Line unfolding, parameter parsing, and value-level \,\;\\\n
// unescaping follow RFC 5545; the content-line grammar itself is handled
// by emersion/go-ical, which this mapper wraps with the typed extraction
// and tree shape spec.md §4.1 requires.
func Parse(data []byte) (*model.Entity, error) {
	dec := goical.NewDecoder(bytes.NewReader(data))
	cal, err := dec.Decode()
	if err != nil {
		return nil, newParseErr("InvalidContentLine", 0, err)
	}
	if cal.Component == nil || cal.Name != goical.CompCalendar {
		return nil, newParseErr("MismatchedComponent", 0, fmt.Errorf("missing VCALENDAR root"))
	}

	tzindex := buildTimezoneIndex(cal.Component)

	root, err := mapComponent(cal.Component, 0, tzindex)
	if err != nil {
		return nil, err
	}

	ent := &model.Entity{
		Type: model.EntityICalendar,
		Root: root,
	}
	ent.LogicalUID = firstUID(root)
	return ent, nil
}

func firstUID(c *model.Component) string {
	if p := c.Get("UID"); p != nil {
		return p.Text
	}
	for _, ch := range c.Children {
		if u := firstUID(ch); u != "" {
			return u
		}
	}
	return ""
}

// tzIndex maps a VTIMEZONE's TZID to a resolved *time.Location, built from
// the document's own embedded definitions with an IANA fallback.
type tzIndex map[string]*time.Location

func buildTimezoneIndex(root *goical.Component) tzIndex {
	idx := tzIndex{}
	for _, child := range root.Children {
		if child.Name != goical.CompTimezone {
			continue
		}
		tzidProp := child.Props.Get("TZID")
		if tzidProp == nil {
			continue
		}
		tzid := tzidProp.Value
		if loc, err := time.LoadLocation(tzid); err == nil {
			idx[tzid] = loc
			continue
		}
		idx[tzid] = fixedOffsetFromVTimezone(child)
	}
	return idx
}

// fixedOffsetFromVTimezone builds an approximate fixed-offset *time.Location
// from the first STANDARD (or DAYLIGHT) sub-component's TZOFFSETTO, used
// only when the TZID isn't a resolvable IANA name. This does not track DST
// transitions; it is a best-effort fallback, documented in DESIGN.md.
func fixedOffsetFromVTimezone(vtz *goical.Component) *time.Location {
	for _, sub := range vtz.Children {
		if sub.Name != "STANDARD" && sub.Name != "DAYLIGHT" {
			continue
		}
		off := sub.Props.Get("TZOFFSETTO")
		if off == nil {
			continue
		}
		secs, ok := parseUTCOffset(off.Value)
		if !ok {
			continue
		}
		tzidProp := vtz.Props.Get("TZID")
		name := "FIXED"
		if tzidProp != nil {
			name = tzidProp.Value
		}
		return time.FixedZone(name, secs)
	}
	return time.UTC
}

func parseUTCOffset(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 5 || (v[0] != '+' && v[0] != '-') {
		return 0, false
	}
	sign := 1
	if v[0] == '-' {
		sign = -1
	}
	h, err := parseInt(v[1:3])
	if err != nil {
		return 0, false
	}
	m, err := parseInt(v[3:5])
	if err != nil {
		return 0, false
	}
	return sign * (int(h)*3600 + int(m)*60), true
}

var compIDSeq int

func nextID() string {
	compIDSeq++
	return fmt.Sprintf("tmp-%d", compIDSeq)
}

func mapComponent(c *goical.Component, ordinal int, tz tzIndex) (*model.Component, error) {
	out := &model.Component{
		ID:      nextID(),
		Name:    strings.ToUpper(c.Name),
		Ordinal: ordinal,
	}

	propOrd := 0
	for name, props := range c.Props {
		for _, p := range props {
			mp, err := mapProperty(strings.ToUpper(name), p, tz)
			if err != nil {
				return nil, err
			}
			mp.Ordinal = propOrd
			propOrd++
			out.Properties = append(out.Properties, mp)
		}
	}

	for i, child := range c.Children {
		mc, err := mapComponent(child, i, tz)
		if err != nil {
			return nil, err
		}
		mc.Parent = out
		out.Children = append(out.Children, mc)
	}
	return out, nil
}

func mapProperty(name string, p goical.Prop, tz tzIndex) (*model.Property, error) {
	group := ""
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		group, name = name[:idx], name[idx+1:]
	}

	valueParam := p.Params.Get("VALUE")
	vt := valueTypeFor(name, valueParam)

	mp := &model.Property{
		ID:    nextID(),
		Name:  name,
		Group: group,
		Type:  vt,
		Raw:   p.Value,
	}

	for pname, pvals := range p.Params {
		mp.Parameters = append(mp.Parameters, &model.Parameter{
			ID:    nextID(),
			Name:  strings.ToUpper(pname),
			Value: strings.Join(pvals, ","),
		})
	}

	switch vt {
	case model.ValueTimestamp, model.ValueDate:
		tzid := p.Params.Get("TZID")
		t, allDay, _, err := ParseDateTime(p.Value, tzid)
		if err != nil {
			return nil, newParseErr("InvalidDateTime", 0, fmt.Errorf("%s: %w", name, err))
		}
		if loc, ok := tz[tzid]; ok && !allDay {
			t = t.In(loc).UTC()
		} else if allDay {
			mp.Type = model.ValueDate
		} else if tzid == "" && !strings.HasSuffix(p.Value, "Z") {
			// floating time: kept as given, not converted
		}
		if mp.Type == model.ValueDate {
			mp.Date = t
		} else {
			mp.Timestamp = t
		}
	case model.ValueInteger:
		n, err := parseInt(p.Value)
		if err != nil {
			mp.Type = model.ValueText
			mp.Text = unescapeText(p.Value)
		} else {
			mp.Integer = n
		}
	case model.ValueFloat:
		f, err := parseFloat(p.Value)
		if err != nil {
			mp.Type = model.ValueText
			mp.Text = unescapeText(p.Value)
		} else {
			mp.Float = f
		}
	case model.ValueBoolean:
		mp.Boolean = strings.EqualFold(p.Value, "TRUE")
	case model.ValueBinary:
		mp.Binary = []byte(p.Value)
	case model.ValueTextArray:
		mp.TextArray = splitTextArray(p.Value)
	default:
		mp.Text = unescapeText(p.Value)
	}

	if name == "RRULE" {
		if err := ValidateRRule(p.Value); err != nil {
			return nil, newParseErr("InvalidRRule", 0, err)
		}
	}

	return mp, nil
}
