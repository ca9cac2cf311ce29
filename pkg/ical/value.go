package ical

import (
	"strconv"
	"strings"
	"time"

	"github.com/sonroyaalmerol/caldav-core/internal/model"
)

// defaultValueType gives the RFC 5545 §3.8 default VALUE type for a
// property name. Properties not listed default to TEXT.
var defaultValueType = map[string]model.ValueType{
	"DTSTART":         model.ValueTimestamp,
	"DTEND":           model.ValueTimestamp,
	"DTSTAMP":         model.ValueTimestamp,
	"DUE":             model.ValueTimestamp,
	"RECURRENCE-ID":   model.ValueTimestamp,
	"EXDATE":          model.ValueTimestamp,
	"RDATE":           model.ValueTimestamp,
	"CREATED":         model.ValueTimestamp,
	"LAST-MODIFIED":   model.ValueTimestamp,
	"COMPLETED":       model.ValueTimestamp,
	"SEQUENCE":        model.ValueInteger,
	"PRIORITY":        model.ValueInteger,
	"PERCENT-COMPLETE": model.ValueInteger,
	"REPEAT":          model.ValueInteger,
	"RRULE":           model.ValueText,
	"DURATION":        model.ValueText,
	"CATEGORIES":      model.ValueTextArray,
	"RESOURCES":       model.ValueTextArray,
	"ATTACH":          model.ValueText, // URI or BINARY; refined by VALUE param
	"GEO":             model.ValueText,
}

// valueTypeFor resolves the effective value type for a property, honoring
// an explicit VALUE parameter override.
func valueTypeFor(name string, valueParam string) model.ValueType {
	if valueParam != "" {
		switch strings.ToUpper(valueParam) {
		case "DATE":
			return model.ValueDate
		case "DATE-TIME":
			return model.ValueTimestamp
		case "INTEGER":
			return model.ValueInteger
		case "FLOAT":
			return model.ValueFloat
		case "BOOLEAN":
			return model.ValueBoolean
		case "BINARY":
			return model.ValueBinary
		case "DURATION", "PERIOD", "RECUR", "TEXT", "URI", "CAL-ADDRESS", "UTC-OFFSET":
			return model.ValueText
		}
	}
	if vt, ok := defaultValueType[strings.ToUpper(name)]; ok {
		return vt
	}
	return model.ValueText
}

// DateTimeForm classifies how a DATE-TIME value was expressed on the wire.
type DateTimeForm int

const (
	FormFloating DateTimeForm = iota
	FormUTC
	FormZoned
)

// ParseDateTime parses a RFC 5545 DATE or DATE-TIME value. tzid, if
// non-empty, names the parameter-supplied timezone for a zoned value; the
// caller resolves it against embedded VTIMEZONEs or the IANA database.
func ParseDateTime(value, tzid string) (t time.Time, allDay bool, form DateTimeForm, err error) {
	v := strings.TrimSpace(value)
	if len(v) == 8 {
		t, err = time.ParseInLocation("20060102", v, time.UTC)
		return t, true, FormFloating, err
	}
	if strings.HasSuffix(v, "Z") {
		t, err = time.Parse("20060102T150405Z", v)
		return t, false, FormUTC, err
	}
	if tzid != "" {
		loc, lerr := resolveLocation(tzid)
		if lerr != nil {
			loc = time.UTC
		}
		t, err = time.ParseInLocation("20060102T150405", v, loc)
		return t, false, FormZoned, err
	}
	t, err = time.ParseInLocation("20060102T150405", v, time.Local)
	return t, false, FormFloating, err
}

// resolveLocation looks up a timezone by IANA name. Embedded VTIMEZONE
// definitions are resolved earlier by the caller (mapper); this is the
// fallback IANA resolver spec.md §4.2 calls for.
func resolveLocation(tzid string) (*time.Location, error) {
	return time.LoadLocation(tzid)
}

// FormatDateTime renders t back to wire form matching the given form/allDay.
func FormatDateTime(t time.Time, allDay bool, form DateTimeForm) string {
	if allDay {
		return t.Format("20060102")
	}
	switch form {
	case FormUTC:
		return t.UTC().Format("20060102T150405Z")
	default:
		return t.Format("20060102T150405")
	}
}

// unescapeText reverses the RFC 5545 §3.3.11 escaping of a TEXT value.
func unescapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			case ';':
				b.WriteByte(';')
				i++
				continue
			case ',':
				b.WriteByte(',')
				i++
				continue
			case 'n', 'N':
				b.WriteByte('\n')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// escapeText applies RFC 5545 §3.3.11 escaping to a TEXT value.
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitTextArray(raw string) []string {
	// Commas inside the value separate array elements; a backslash-escaped
	// comma does not split.
	var out []string
	var cur strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			cur.WriteByte(raw[i])
			cur.WriteByte(raw[i+1])
			i++
			continue
		}
		if raw[i] == ',' {
			out = append(out, unescapeText(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(raw[i])
	}
	out = append(out, unescapeText(cur.String()))
	return out
}

func joinTextArray(vals []string) string {
	escaped := make([]string, len(vals))
	for i, v := range vals {
		escaped[i] = escapeText(v)
	}
	return strings.Join(escaped, ",")
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
