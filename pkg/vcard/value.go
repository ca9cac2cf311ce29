package vcard

import (
	"strconv"
	"strings"
	"time"

	"github.com/sonroyaalmerol/caldav-core/internal/model"
)

// defaultValueType gives the RFC 6350 default type for properties whose
// shape this mapper needs to interpret rather than pass through as TEXT.
var defaultValueType = map[string]model.ValueType{
	"N":        model.ValueTextArray, // family;given;additional;prefix;suffix
	"ADR":      model.ValueTextArray, // pobox;ext;street;locality;region;code;country
	"ORG":      model.ValueTextArray,
	"CATEGORIES": model.ValueTextArray,
	"NICKNAME": model.ValueTextArray,
	"REV":      model.ValueTimestamp,
	"BDAY":     model.ValueDate,
	"ANNIVERSARY": model.ValueDate,
}

func valueTypeFor(name string) model.ValueType {
	if vt, ok := defaultValueType[strings.ToUpper(name)]; ok {
		return vt
	}
	return model.ValueText
}

// unescapeText reverses RFC 6350 §3.4 escaping: \\, \;, \,, \n/\N.
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

// splitOn splits a raw field value on an unescaped separator byte, used for
// both ';'-delimited structured properties (N, ADR, ORG) and ','-delimited
// multi-valued ones (CATEGORIES, NICKNAME).
func splitOn(raw string, sep byte) []string {
	var out []string
	var cur strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			cur.WriteByte(raw[i])
			cur.WriteByte(raw[i+1])
			i++
			continue
		}
		if raw[i] == sep {
			out = append(out, unescapeText(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(raw[i])
	}
	out = append(out, unescapeText(cur.String()))
	return out
}

func joinOn(vals []string, sep byte) string {
	escaped := make([]string, len(vals))
	for i, v := range vals {
		escaped[i] = escapeText(v)
	}
	return strings.Join(escaped, string(sep))
}

// parseVCardTime parses a BDAY/ANNIVERSARY/REV value, accepting both
// full DATE-TIME and plain DATE forms per RFC 6350 §4.3.1/§4.3.5.
func parseVCardTime(v string) (t time.Time, isDate bool, err error) {
	v = strings.TrimSpace(v)
	switch len(v) {
	case 8:
		t, err = time.ParseInLocation("20060102", v, time.UTC)
		return t, true, err
	case 10:
		if strings.Count(v, "-") == 2 {
			t, err = time.ParseInLocation("2006-01-02", v, time.UTC)
			return t, true, err
		}
	}
	if strings.HasSuffix(v, "Z") {
		t, err = time.Parse("20060102T150405Z", v)
		return t, false, err
	}
	t, err = time.ParseInLocation("20060102T150405", v, time.UTC)
	return t, false, err
}

func formatVCardTime(t time.Time, isDate bool) string {
	if isDate {
		return t.Format("20060102")
	}
	return t.UTC().Format("20060102T150405Z")
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
