package ical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsNonCalendarRoot(t *testing.T) {
	_, err := Parse([]byte("BEGIN:VCARD\r\nVERSION:3.0\r\nEND:VCARD\r\n"))
	assert.Error(t, err, "expected an error parsing a non-VCALENDAR root")
}

func TestParseExtractsUIDFromNestedComponent(t *testing.T) {
	entity, err := Parse([]byte(sampleEvent))
	require.NoError(t, err)
	assert.Equal(t, "event-1@example.com", entity.LogicalUID)
	require.Len(t, entity.Root.Children, 1)
	assert.Equal(t, "VEVENT", entity.Root.Children[0].Name)
}

func TestRoundTripParseSerialize(t *testing.T) {
	entity, err := Parse([]byte(sampleEvent))
	require.NoError(t, err)

	out, err := Serialize(entity.Root)
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err, "reparse of serialized output failed, output:\n%s", out)
	assert.Equal(t, entity.LogicalUID, reparsed.LogicalUID, "LogicalUID changed across round-trip")

	vevent := reparsed.Root.Children[0]
	summary := vevent.Get("SUMMARY")
	require.NotNil(t, summary, "SUMMARY did not survive round-trip")
	assert.Equal(t, "Standup", summary.Text)

	seq := vevent.Get("SEQUENCE")
	require.NotNil(t, seq, "SEQUENCE did not survive round-trip")
	assert.EqualValues(t, 1, seq.Integer)
}

func TestParseRejectsInvalidRRule(t *testing.T) {
	ics := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:event-3@example.com\r\n" +
		"DTSTART:20260301T100000Z\r\n" +
		"RRULE:FREQ=BOGUS\r\n" +
		"SUMMARY:Broken\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	_, err := Parse([]byte(ics))
	assert.Error(t, err, "expected an error for a malformed RRULE")
}
