package dav

import (
	"strings"
	"time"

	"github.com/sonroyaalmerol/caldav-core/internal/model"
	"github.com/sonroyaalmerol/caldav-core/pkg/ical"
)

// CompFilterXML decodes one RFC 4791 §9.7.1 CALDAV:comp-filter element,
// self-referential to mirror the filter grammar's nesting.
type CompFilterXML struct {
	Name         string          `xml:"name,attr"`
	IsNotDefined *struct{}       `xml:"urn:ietf:params:xml:ns:caldav is-not-defined"`
	TimeRange    *TimeRangeXML   `xml:"urn:ietf:params:xml:ns:caldav time-range"`
	PropFilters  []PropFilterXML `xml:"urn:ietf:params:xml:ns:caldav prop-filter"`
	CompFilters  []CompFilterXML `xml:"urn:ietf:params:xml:ns:caldav comp-filter"`
}

// PropFilterXML decodes one CALDAV:prop-filter / CARDDAV:prop-filter
// element; both namespaces share the same child grammar.
type PropFilterXML struct {
	Name         string           `xml:"name,attr"`
	IsNotDefined *struct{}        `xml:"is-not-defined"`
	TimeRange    *TimeRangeXML    `xml:"time-range"`
	TextMatch    *TextMatchXML    `xml:"text-match"`
	ParamFilters []ParamFilterXML `xml:"param-filter"`
}

type ParamFilterXML struct {
	Name         string        `xml:"name,attr"`
	IsNotDefined *struct{}     `xml:"is-not-defined"`
	TextMatch    *TextMatchXML `xml:"text-match"`
}

type TextMatchXML struct {
	Collation       string `xml:"collation,attr"`
	NegateCondition string `xml:"negate-condition,attr"`
	Text            string `xml:",chardata"`
}

type TimeRangeXML struct {
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
}

const icalTimeLayout = "20060102T150405Z"

func (t *TimeRangeXML) bounds() (time.Time, time.Time) {
	start := time.Time{}
	end := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if t.Start != "" {
		if v, err := time.Parse(icalTimeLayout, t.Start); err == nil {
			start = v
		}
	}
	if t.End != "" {
		if v, err := time.Parse(icalTimeLayout, t.End); err == nil {
			end = v
		}
	}
	return start, end
}

func overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && e1.After(s2)
}

// MatchesCalendarQuery evaluates an outermost comp-filter (always named
// VCALENDAR per RFC 4791 §9.7.1) against a materialized entity's root.
func MatchesCalendarQuery(root *model.Component, top CompFilterXML) bool {
	if root == nil || !strings.EqualFold(root.Name, top.Name) {
		return false
	}
	if top.IsNotDefined != nil {
		return false
	}
	return matchesComp(root, top)
}

// matchesComp checks cf's own time-range/prop-filter constraints against c,
// and recurses cf's nested comp-filters against c's children.
func matchesComp(c *model.Component, cf CompFilterXML) bool {
	if cf.TimeRange != nil && !matchTimeRangeComp(c, cf.TimeRange) {
		return false
	}
	for _, pf := range cf.PropFilters {
		if !evalPropFilter(c, pf) {
			return false
		}
	}
	for _, sub := range cf.CompFilters {
		if !evalNestedCompFilter(c, sub) {
			return false
		}
	}
	return true
}

func evalNestedCompFilter(parent *model.Component, cf CompFilterXML) bool {
	children := parent.ChildrenNamed(strings.ToUpper(cf.Name))
	if cf.IsNotDefined != nil {
		return len(children) == 0
	}
	for _, ch := range children {
		if matchesComp(ch, cf) {
			return true
		}
	}
	return false
}

func componentTimeRange(c *model.Component) (start, end time.Time, ok bool) {
	dtstart := c.Get("DTSTART")
	if dtstart == nil {
		return time.Time{}, time.Time{}, false
	}
	start = propTimeValue(dtstart)
	switch {
	case c.Get("DTEND") != nil:
		end = propTimeValue(c.Get("DTEND"))
	case c.Get("DUE") != nil:
		end = propTimeValue(c.Get("DUE"))
	case c.Get("DURATION") != nil:
		if d, err := ical.ParseISODuration(c.Get("DURATION").Text); err == nil {
			end = start.Add(d)
		} else {
			end = start.Add(defaultDuration)
		}
	default:
		end = start.Add(defaultDuration)
	}
	return start, end, true
}

func propTimeValue(p *model.Property) time.Time {
	if p.Type == model.ValueDate {
		return p.Date
	}
	return p.Timestamp
}

// matchTimeRangeComp tests the master occurrence first, then expands RRULE/
// RDATE minus EXDATE (bounded by DefaultMaxInstances) when the master alone
// doesn't overlap, so a recurring event with a distant DTSTART still matches
// a query range that only one of its later occurrences falls in.
func matchTimeRangeComp(c *model.Component, tr *TimeRangeXML) bool {
	start, end, ok := componentTimeRange(c)
	if !ok {
		return false
	}
	rs, re := tr.bounds()
	if overlaps(start, end, rs, re) {
		return true
	}
	var rdates, exdates []time.Time
	for _, p := range c.GetAll("RDATE") {
		rdates = append(rdates, propTimeValue(p))
	}
	for _, p := range c.GetAll("EXDATE") {
		exdates = append(exdates, propTimeValue(p))
	}
	rrule := c.Get("RRULE")
	if rrule == nil && len(rdates) == 0 {
		return false
	}
	rruleText := ""
	if rrule != nil {
		rruleText = rrule.Raw
	}
	exp := ical.NewExpander(ical.DefaultMaxInstances)
	occs, err := exp.Expand(start, end.Sub(start), rruleText, rdates, exdates, &rs, &re)
	return err == nil && len(occs) > 0
}

func evalPropFilter(c *model.Component, pf PropFilterXML) bool {
	props := c.GetAll(strings.ToUpper(pf.Name))
	if pf.IsNotDefined != nil {
		return len(props) == 0
	}
	if len(props) == 0 {
		return false
	}
	for _, p := range props {
		if pf.TimeRange != nil {
			t := propTimeValue(p)
			rs, re := pf.TimeRange.bounds()
			if t.Before(rs) || !t.Before(re) {
				continue
			}
		}
		if pf.TextMatch != nil && !matchText(propTextValue(p), *pf.TextMatch) {
			continue
		}
		ok := true
		for _, paf := range pf.ParamFilters {
			if !evalParamFilter(p, paf) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func evalParamFilter(p *model.Property, paf ParamFilterXML) bool {
	param := p.Param(strings.ToUpper(paf.Name))
	if paf.IsNotDefined != nil {
		return param == nil
	}
	if param == nil {
		return false
	}
	if paf.TextMatch != nil {
		return matchText(param.Value, *paf.TextMatch)
	}
	return true
}

func propTextValue(p *model.Property) string {
	if p.Text != "" {
		return p.Text
	}
	return p.Raw
}

// matchText implements RFC 4790 collations used by CalDAV/CardDAV filters:
// i;octet is byte-exact substring matching, i;ascii-casemap lowercases only
// ASCII letters, and i;unicode-casemap (also used when no collation is named)
// lowercases both sides with strings.ToLower. strings.ToLower is a per-rune
// case mapping, not full Unicode case folding: multi-rune foldings such as
// "ß" to "ss" are not applied.
func matchText(value string, tm TextMatchXML) bool {
	asciiLower := func(s string) string {
		return strings.Map(func(r rune) rune {
			if 'A' <= r && r <= 'Z' {
				return r + ('a' - 'A')
			}
			return r
		}, s)
	}
	var match bool
	switch {
	case strings.EqualFold(tm.Collation, "i;octet"):
		match = strings.Contains(value, tm.Text)
	case strings.EqualFold(tm.Collation, "i;ascii-casemap"):
		match = strings.Contains(asciiLower(value), asciiLower(tm.Text))
	default:
		match = strings.Contains(strings.ToLower(value), strings.ToLower(tm.Text))
	}
	if strings.EqualFold(tm.NegateCondition, "yes") {
		return !match
	}
	return match
}

// AddressbookFilterXML decodes a CARDDAV:filter element: a flat set of
// prop-filters over a vCard's top-level properties, ANDed or ORed per Test.
type AddressbookFilterXML struct {
	Test        string          `xml:"test,attr"`
	PropFilters []PropFilterXML `xml:"urn:ietf:params:xml:ns:carddav prop-filter"`
}

func MatchesAddressbookQuery(root *model.Component, f AddressbookFilterXML) bool {
	if root == nil || len(f.PropFilters) == 0 {
		return true
	}
	anyOf := strings.EqualFold(f.Test, "anyof")
	for _, pf := range f.PropFilters {
		ok := evalPropFilter(root, pf)
		if anyOf && ok {
			return true
		}
		if !anyOf && !ok {
			return false
		}
	}
	return !anyOf
}
