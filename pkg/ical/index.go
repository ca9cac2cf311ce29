package ical

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sonroyaalmerol/caldav-core/internal/model"
)

// IndexedComponentNames lists the schedulable component types that get one
// cal_index row per occurrence-bearing entity, per spec.md §4.2.
var IndexedComponentNames = map[string]bool{
	"VEVENT":   true,
	"VTODO":    true,
	"VJOURNAL": true,
}

// Attendee is one ATTENDEE entry captured in an index row's metadata bag.
type Attendee struct {
	CalAddress string `json:"calAddress"`
	CN         string `json:"cn,omitempty"`
	PartStat   string `json:"partStat,omitempty"`
	Role       string `json:"role,omitempty"`
}

// IndexMetadata is the JSON bag stored alongside a cal_index row.
type IndexMetadata struct {
	Summary      string     `json:"summary,omitempty"`
	Location     string     `json:"location,omitempty"`
	Description  string     `json:"description,omitempty"`
	Organizer    string     `json:"organizer,omitempty"`
	OrganizerCN  string     `json:"organizerCn,omitempty"`
	Sequence     int64      `json:"sequence"`
	Transparency string     `json:"transparency,omitempty"`
	Status       string     `json:"status,omitempty"`
	Attendees    []Attendee `json:"attendees,omitempty"`
}

// IndexRow is one row of the calendar index: the searchable, filterable
// summary of a schedulable component, independent of recurrence expansion.
type IndexRow struct {
	ComponentUID string
	ComponentID  string
	Kind         string // VEVENT, VTODO, VJOURNAL
	DTStart      *time.Time
	DTEnd        *time.Time
	AllDay       bool
	RRule        string
	RDates       []time.Time
	ExDates      []time.Time
	Metadata     IndexMetadata
}

// BuildIndexRows walks an entity's tree and emits one IndexRow per
// schedulable top-level component, per spec.md §4.2: "For each schedulable
// component (VEVENT, VTODO, VJOURNAL) in a written entity, emit one index
// row."
func BuildIndexRows(entity *model.Entity) []IndexRow {
	var rows []IndexRow
	if entity.Root == nil {
		return rows
	}
	for _, c := range entity.Root.Children {
		if !IndexedComponentNames[c.Name] {
			continue
		}
		rows = append(rows, buildIndexRow(c, entity.LogicalUID))
	}
	return rows
}

func buildIndexRow(c *model.Component, uid string) IndexRow {
	row := IndexRow{
		ComponentUID: uid,
		ComponentID:  c.ID,
		Kind:         c.Name,
	}

	if dtstart := c.Get("DTSTART"); dtstart != nil {
		t, allDay := propTime(dtstart)
		row.DTStart = &t
		row.AllDay = allDay
	}
	if dtend := c.Get("DTEND"); dtend != nil {
		t, _ := propTime(dtend)
		row.DTEnd = &t
	} else if due := c.Get("DUE"); due != nil {
		t, _ := propTime(due)
		row.DTEnd = &t
	} else if row.DTStart != nil {
		if dur := c.Get("DURATION"); dur != nil {
			if d, err := parseISODuration(dur.Text); err == nil {
				end := row.DTStart.Add(d)
				row.DTEnd = &end
			}
		}
	}

	if rrule := c.Get("RRULE"); rrule != nil {
		row.RRule = rrule.Raw
	}
	for _, rd := range c.GetAll("RDATE") {
		t, _ := propTime(rd)
		row.RDates = append(row.RDates, t)
	}
	for _, ex := range c.GetAll("EXDATE") {
		t, _ := propTime(ex)
		row.ExDates = append(row.ExDates, t)
	}

	row.Metadata = buildMetadata(c)
	return row
}

func propTime(p *model.Property) (time.Time, bool) {
	if p.Type == model.ValueDate {
		return p.Date, true
	}
	return p.Timestamp, false
}

func buildMetadata(c *model.Component) IndexMetadata {
	md := IndexMetadata{}
	if p := c.Get("SUMMARY"); p != nil {
		md.Summary = p.Text
	}
	if p := c.Get("LOCATION"); p != nil {
		md.Location = p.Text
	}
	if p := c.Get("DESCRIPTION"); p != nil {
		md.Description = p.Text
	}
	if p := c.Get("ORGANIZER"); p != nil {
		md.Organizer = p.Text
		if cn := p.Param("CN"); cn != nil {
			md.OrganizerCN = cn.Value
		}
	}
	if p := c.Get("SEQUENCE"); p != nil {
		md.Sequence = p.Integer
	}
	if p := c.Get("TRANSP"); p != nil {
		md.Transparency = p.Text
	}
	if p := c.Get("STATUS"); p != nil {
		md.Status = p.Text
	}
	for _, p := range c.GetAll("ATTENDEE") {
		a := Attendee{CalAddress: p.Text}
		if cn := p.Param("CN"); cn != nil {
			a.CN = cn.Value
		}
		if ps := p.Param("PARTSTAT"); ps != nil {
			a.PartStat = ps.Value
		}
		if role := p.Param("ROLE"); role != nil {
			a.Role = role.Value
		}
		md.Attendees = append(md.Attendees, a)
	}
	return md
}

// MarshalMetadata renders the metadata bag for storage in a jsonb column.
func (md IndexMetadata) MarshalMetadata() ([]byte, error) {
	return json.Marshal(md)
}

// ParseISODuration parses an RFC 5545 §3.3.6 DURATION value (e.g. "P1DT2H"),
// exported for callers outside the package that need the same arithmetic
// against a DURATION property found on a component (filter time-range
// evaluation, for instance).
func ParseISODuration(v string) (time.Duration, error) {
	return parseISODuration(v)
}

func parseISODuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	neg := false
	if strings.HasPrefix(v, "-") {
		neg = true
		v = v[1:]
	} else if strings.HasPrefix(v, "+") {
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") {
		return 0, &ParseError{Kind: "InvalidDuration", Err: errInvalidDuration}
	}
	v = v[1:]

	var weeks, days, hours, mins, secs int64
	inTime := false
	var num strings.Builder
	for _, r := range v {
		switch {
		case r == 'T':
			inTime = true
		case r >= '0' && r <= '9':
			num.WriteRune(r)
		default:
			n, _ := parseInt(num.String())
			num.Reset()
			switch r {
			case 'W':
				weeks = n
			case 'D':
				days = n
			case 'H':
				hours = n
			case 'M':
				if inTime {
					mins = n
				}
			case 'S':
				secs = n
			}
		}
	}

	d := time.Duration(weeks)*7*24*time.Hour +
		time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}

var errInvalidDuration = errors.New("duration value must start with P")
