package ical

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultMaxInstances bounds recurrence expansion per spec.md §4.2 when the
// caller doesn't override it.
const DefaultMaxInstances = 1000

// Occurrence is one expanded recurrence instance, always in UTC.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// ValidateRRule checks an RRULE value for RFC 5545 §3.8.5 syntax errors and
// the mutually-exclusive COUNT/UNTIL constraint, without needing a DTSTART.
func ValidateRRule(value string) error {
	up := strings.ToUpper(value)
	hasCount := strings.Contains(up, "COUNT=")
	hasUntil := strings.Contains(up, "UNTIL=")
	if hasCount && hasUntil {
		return fmt.Errorf("UntilCountConflict: RRULE specifies both COUNT and UNTIL")
	}
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return fmt.Errorf("invalid RRULE: %w", err)
	}
	if opt == nil {
		return fmt.Errorf("invalid RRULE: empty")
	}
	return nil
}

// Expander expands RRULE/RDATE/EXDATE sets into bounded, range-filtered
// UTC occurrence rows, per spec.md §4.2.
type Expander struct {
	MaxInstances int
}

func NewExpander(maxInstances int) *Expander {
	if maxInstances <= 0 {
		maxInstances = DefaultMaxInstances
	}
	return &Expander{MaxInstances: maxInstances}
}

// Expand computes occurrences for a recurring component. dtstart carries
// the zone the occurrence computation should run in (UTC, a fixed offset,
// or an IANA location); results are always converted to UTC before return.
// rangeStart/rangeEnd may be nil to mean unbounded (still capped by
// MaxInstances).
func (e *Expander) Expand(dtstart time.Time, duration time.Duration, rruleText string, rdates, exdates []time.Time, rangeStart, rangeEnd *time.Time) ([]Occurrence, error) {
	excluded := make(map[int64]bool, len(exdates))
	for _, d := range exdates {
		excluded[d.UTC().Unix()] = true
	}

	var starts []time.Time

	if rruleText != "" {
		opt, err := rrule.StrToROption(rruleText)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE: %w", err)
		}
		opt.Dtstart = dtstart
		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE: %w", err)
		}

		iter := rule.Iterator()
		count := 0
		for count < e.MaxInstances {
			t, ok := iter()
			if !ok {
				break
			}
			if rangeEnd != nil && !t.Before(*rangeEnd) && rangeStart != nil {
				break // ascending iterator: nothing further can match
			}
			if excluded[t.UTC().Unix()] {
				continue
			}
			if rangeStart != nil && t.Add(duration).Before(*rangeStart) {
				continue
			}
			if rangeEnd != nil && !t.Before(*rangeEnd) {
				continue
			}
			starts = append(starts, t)
			count++
		}
	}

	for _, d := range rdates {
		if excluded[d.UTC().Unix()] {
			continue
		}
		if rangeStart != nil && d.Add(duration).Before(*rangeStart) {
			continue
		}
		if rangeEnd != nil && !d.Before(*rangeEnd) {
			continue
		}
		starts = append(starts, d)
	}

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	if len(starts) > e.MaxInstances {
		starts = starts[:e.MaxInstances]
	}

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		su := s.UTC()
		out = append(out, Occurrence{Start: su, End: su.Add(duration)})
	}
	return out, nil
}
