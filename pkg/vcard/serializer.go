package vcard

import (
	"bytes"

	govcard "github.com/emersion/go-vcard"
	"github.com/sonroyaalmerol/caldav-core/internal/model"
)

// Serialize reassembles a VCARD component into canonical bytes via
// emersion/go-vcard's encoder, mirroring pkg/ical.Serialize's shape for the
// other document family.
func Serialize(root *model.Component) ([]byte, error) {
	card := govcard.Card{}
	for _, p := range root.Properties {
		f := unmapField(p)
		name := p.Name
		card[name] = append(card[name], f)
	}

	var buf bytes.Buffer
	if err := govcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmapField(p *model.Property) *govcard.Field {
	f := &govcard.Field{Group: p.Group}
	if len(p.Parameters) > 0 {
		f.Params = govcard.Params{}
		for _, pm := range p.Parameters {
			f.Params.Add(pm.Name, pm.Value)
		}
	}

	switch p.Type {
	case model.ValueTextArray:
		sep := byte(';')
		if p.Name == "CATEGORIES" || p.Name == "NICKNAME" {
			sep = ','
		}
		f.Value = joinOn(p.TextArray, sep)
	case model.ValueTimestamp:
		f.Value = formatVCardTime(p.Timestamp, false)
	case model.ValueDate:
		f.Value = formatVCardTime(p.Date, true)
	default:
		if p.Text != "" || p.Raw == "" {
			f.Value = escapeText(p.Text)
		} else {
			f.Value = p.Raw
		}
	}
	return f
}
