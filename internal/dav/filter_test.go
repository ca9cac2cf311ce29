package dav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/caldav-core/pkg/ical"
	"github.com/sonroyaalmerol/caldav-core/pkg/vcard"
)

const filterTestEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:filter-event@example.com\r\n" +
	"DTSTART:20260301T100000Z\r\n" +
	"DTEND:20260301T110000Z\r\n" +
	"SUMMARY:Budget Review\r\n" +
	"LOCATION:HQ\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestMatchesCalendarQueryTopLevelNameMismatch(t *testing.T) {
	ent, err := ical.Parse([]byte(filterTestEvent))
	require.NoError(t, err)
	cf := CompFilterXML{Name: "VTODO"}
	assert.False(t, MatchesCalendarQuery(ent.Root, cf), "expected a VTODO comp-filter not to match a VCALENDAR root")
}

func TestMatchesCalendarQueryNestedVEVENT(t *testing.T) {
	ent, err := ical.Parse([]byte(filterTestEvent))
	require.NoError(t, err)
	cf := CompFilterXML{
		Name: "VCALENDAR",
		CompFilters: []CompFilterXML{
			{Name: "VEVENT"},
		},
	}
	assert.True(t, MatchesCalendarQuery(ent.Root, cf), "expected a bare VEVENT comp-filter to match any VEVENT child")
}

func TestMatchesCalendarQueryTimeRange(t *testing.T) {
	ent, err := ical.Parse([]byte(filterTestEvent))
	require.NoError(t, err)

	inRange := CompFilterXML{
		Name: "VCALENDAR",
		CompFilters: []CompFilterXML{
			{Name: "VEVENT", TimeRange: &TimeRangeXML{Start: "20260301T000000Z", End: "20260302T000000Z"}},
		},
	}
	assert.True(t, MatchesCalendarQuery(ent.Root, inRange), "expected the event to match a time-range covering its day")

	outOfRange := CompFilterXML{
		Name: "VCALENDAR",
		CompFilters: []CompFilterXML{
			{Name: "VEVENT", TimeRange: &TimeRangeXML{Start: "20260401T000000Z", End: "20260402T000000Z"}},
		},
	}
	assert.False(t, MatchesCalendarQuery(ent.Root, outOfRange), "expected the event not to match a time-range a month later")
}

func TestMatchesCalendarQueryPropFilterTextMatch(t *testing.T) {
	ent, err := ical.Parse([]byte(filterTestEvent))
	require.NoError(t, err)

	cf := CompFilterXML{
		Name: "VCALENDAR",
		CompFilters: []CompFilterXML{
			{
				Name: "VEVENT",
				PropFilters: []PropFilterXML{
					{Name: "SUMMARY", TextMatch: &TextMatchXML{Text: "budget"}},
				},
			},
		},
	}
	assert.True(t, MatchesCalendarQuery(ent.Root, cf), "expected a case-insensitive substring match on SUMMARY to succeed")

	miss := CompFilterXML{
		Name: "VCALENDAR",
		CompFilters: []CompFilterXML{
			{
				Name: "VEVENT",
				PropFilters: []PropFilterXML{
					{Name: "SUMMARY", TextMatch: &TextMatchXML{Text: "nope"}},
				},
			},
		},
	}
	assert.False(t, MatchesCalendarQuery(ent.Root, miss), "expected a non-matching substring to fail")
}

func TestMatchesCalendarQueryIsNotDefined(t *testing.T) {
	ent, err := ical.Parse([]byte(filterTestEvent))
	require.NoError(t, err)

	cf := CompFilterXML{
		Name: "VCALENDAR",
		CompFilters: []CompFilterXML{
			{
				Name: "VEVENT",
				PropFilters: []PropFilterXML{
					{Name: "ATTENDEE", IsNotDefined: &struct{}{}},
				},
			},
		},
	}
	assert.True(t, MatchesCalendarQuery(ent.Root, cf), "expected is-not-defined to match a property absent from the event")
}

func TestMatchTextNegateCondition(t *testing.T) {
	assert.False(t, matchText("Budget Review", TextMatchXML{Text: "budget", NegateCondition: "yes"}), "expected negate-condition=yes to invert a matching substring")
	assert.True(t, matchText("Budget Review", TextMatchXML{Text: "nope", NegateCondition: "yes"}), "expected negate-condition=yes to invert a non-matching substring")
}

func TestMatchTextOctetCollationIsCaseSensitive(t *testing.T) {
	assert.False(t, matchText("Budget Review", TextMatchXML{Text: "budget", Collation: "i;octet"}), "expected i;octet collation to be case-sensitive")
	assert.True(t, matchText("Budget Review", TextMatchXML{Text: "Budget", Collation: "i;octet"}), "expected i;octet collation to match an exact-case substring")
}

func TestMatchesAddressbookQueryAnyOf(t *testing.T) {
	card := "BEGIN:VCARD\r\n" +
		"VERSION:4.0\r\n" +
		"UID:contact-1\r\n" +
		"FN:Jane Doe\r\n" +
		"EMAIL:jane@example.com\r\n" +
		"END:VCARD\r\n"
	ent, err := vcard.Parse([]byte(card))
	require.NoError(t, err)

	anyOf := AddressbookFilterXML{
		Test: "anyof",
		PropFilters: []PropFilterXML{
			{Name: "FN", TextMatch: &TextMatchXML{Text: "nomatch"}},
			{Name: "EMAIL", TextMatch: &TextMatchXML{Text: "jane"}},
		},
	}
	assert.True(t, MatchesAddressbookQuery(ent.Root, anyOf), "expected anyof to match when at least one prop-filter succeeds")

	allOf := AddressbookFilterXML{
		PropFilters: []PropFilterXML{
			{Name: "FN", TextMatch: &TextMatchXML{Text: "jane"}},
			{Name: "EMAIL", TextMatch: &TextMatchXML{Text: "nomatch"}},
		},
	}
	assert.False(t, MatchesAddressbookQuery(ent.Root, allOf), "expected allof (default test) to fail when one prop-filter fails")
}

func TestMatchesAddressbookQueryEmptyFilterMatchesAll(t *testing.T) {
	card := "BEGIN:VCARD\r\nVERSION:4.0\r\nUID:contact-2\r\nFN:No Filter\r\nEND:VCARD\r\n"
	ent, err := vcard.Parse([]byte(card))
	require.NoError(t, err)
	assert.True(t, MatchesAddressbookQuery(ent.Root, AddressbookFilterXML{}), "expected an empty filter to match every card")
}
