package dav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/caldav-core/pkg/ical"
	"github.com/sonroyaalmerol/caldav-core/pkg/vcard"
)

func TestFlattenAndMaterializeRoundTripICalendar(t *testing.T) {
	entity, err := ical.Parse([]byte(filterTestEvent))
	require.NoError(t, err)

	tree := flattenEntity(entity)
	assert.Len(t, tree.Components, 2, "expected 2 flattened components (VCALENDAR + VEVENT)")
	assert.Len(t, tree.CalIndex, 1, "expected 1 cal_index row for the VEVENT")
	assert.Len(t, tree.CalOccurrence, 1, "expected 1 occurrence for a non-recurring event")

	rebuilt := materializeEntity(&tree)
	require.NotNil(t, rebuilt.Root)
	assert.Equal(t, "VCALENDAR", rebuilt.Root.Name)
	require.Len(t, rebuilt.Root.Children, 1)
	assert.Equal(t, "VEVENT", rebuilt.Root.Children[0].Name)

	vevent := rebuilt.Root.Children[0]
	summary := vevent.Get("SUMMARY")
	require.NotNil(t, summary, "SUMMARY did not survive flatten/materialize round-trip")
	assert.Equal(t, "Budget Review", summary.Text)

	loc := vevent.Get("LOCATION")
	require.NotNil(t, loc, "LOCATION did not survive flatten/materialize round-trip")
	assert.Equal(t, "HQ", loc.Text)
}

func TestFlattenEntityExpandsRecurrence(t *testing.T) {
	ics := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:recurring@example.com\r\n" +
		"DTSTART:20260301T090000Z\r\n" +
		"DTEND:20260301T100000Z\r\n" +
		"RRULE:FREQ=DAILY;COUNT=5\r\n" +
		"SUMMARY:Daily Standup\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	entity, err := ical.Parse([]byte(ics))
	require.NoError(t, err)
	tree := flattenEntity(entity)
	assert.Len(t, tree.CalOccurrence, 5, "expected 5 expanded occurrences")
}

func TestFlattenAndMaterializeRoundTripVCard(t *testing.T) {
	card := "BEGIN:VCARD\r\nVERSION:4.0\r\nUID:contact-9\r\nFN:Ada Lovelace\r\nEMAIL:ada@example.com\r\nEND:VCARD\r\n"
	entity, err := vcard.Parse([]byte(card))
	require.NoError(t, err)

	tree := flattenEntity(entity)
	require.NotNil(t, tree.CardIndex, "expected a card_index row to be built")
	assert.Equal(t, "Ada Lovelace", tree.CardIndex.FN)

	rebuilt := materializeEntity(&tree)
	require.NotNil(t, rebuilt.Root)
	assert.Equal(t, "VCARD", rebuilt.Root.Name)

	fn := rebuilt.Root.Get("FN")
	require.NotNil(t, fn, "FN did not survive round-trip")
	assert.Equal(t, "Ada Lovelace", fn.Text)
}
