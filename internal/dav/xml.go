package dav

import (
	"encoding/xml"
	"io"
	"strings"
)

const davNS = "DAV:"

// multiStatusNS is the fixed namespace preamble every 207 response declares,
// so property payloads can use the cal:/card:/cs: prefixes without each
// caller tracking which namespaces it touched.
const multiStatusNS = `xmlns:cal="urn:ietf:params:xml:ns:caldav" xmlns:card="urn:ietf:params:xml:ns:carddav" xmlns:cs="http://calendarserver.org/ns/"`

func xmlEscapeText(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// propXML is one rendered DAV:prop child: either a leaf text value or a
// pre-built inner XML fragment (for href-valued and composite properties).
type propXML struct {
	name  string
	inner string
	self  bool
}

func textProp(name, value string) propXML {
	return propXML{name: name, inner: xmlEscapeText(value)}
}

func rawProp(name, innerXML string) propXML {
	return propXML{name: name, inner: innerXML}
}

func emptyProp(name string) propXML {
	return propXML{name: name, self: true}
}

func (p propXML) render() string {
	if p.inner == "" {
		return "<" + p.name + "/>"
	}
	return "<" + p.name + ">" + p.inner + "</" + p.name + ">"
}

// multiStatusWriter accumulates DAV:response elements for a 207 Multi-Status
// reply, built as raw XML text rather than via encoding/xml struct
// marshaling: property payloads mix namespaces and skip/omit rules that
// don't map cleanly onto a single Go struct shape per response.
type multiStatusWriter struct {
	buf       strings.Builder
	syncToken string
}

func newMultiStatusWriter() *multiStatusWriter {
	return &multiStatusWriter{}
}

func (m *multiStatusWriter) addPropResponse(href string, found []propXML, missing []string) {
	m.buf.WriteString("<response><href>")
	m.buf.WriteString(xmlEscapeText(href))
	m.buf.WriteString("</href>")
	if len(found) > 0 {
		m.buf.WriteString("<propstat><prop>")
		for _, p := range found {
			m.buf.WriteString(p.render())
		}
		m.buf.WriteString("</prop><status>HTTP/1.1 200 OK</status></propstat>")
	}
	if len(missing) > 0 {
		m.buf.WriteString("<propstat><prop>")
		for _, name := range missing {
			m.buf.WriteString("<" + name + "/>")
		}
		m.buf.WriteString("</prop><status>HTTP/1.1 404 Not Found</status></propstat>")
	}
	m.buf.WriteString("</response>")
}

func (m *multiStatusWriter) addStatusResponse(href, status string) {
	m.buf.WriteString("<response><href>")
	m.buf.WriteString(xmlEscapeText(href))
	m.buf.WriteString("</href><status>")
	m.buf.WriteString(status)
	m.buf.WriteString("</status></response>")
}

func (m *multiStatusWriter) writeTo(w io.Writer) error {
	var out strings.Builder
	out.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	out.WriteString(`<multistatus xmlns="DAV:" `)
	out.WriteString(multiStatusNS)
	out.WriteString(">")
	out.WriteString(m.buf.String())
	if m.syncToken != "" {
		out.WriteString("<sync-token>" + xmlEscapeText(m.syncToken) + "</sync-token>")
	}
	out.WriteString("</multistatus>")
	_, err := io.WriteString(w, out.String())
	return err
}

// writeXML encodes v (an encoding/xml-tagged struct) with a leading
// declaration, for the smaller single-document error and request bodies
// that don't need multiStatusWriter's raw-fragment assembly.
func writeXML(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}

// xmlProp is a single child of a decoded DAV:prop request element, captured
// generically so PROPFIND/PROPPATCH don't need a fixed struct per known
// property name.
type xmlProp struct {
	XMLName xml.Name
	Inner   string `xml:",innerxml"`
}

type propfindXML struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	PropName *struct{} `xml:"DAV: propname"`
	Prop     *struct {
		Items []xmlProp `xml:",any"`
	} `xml:"DAV: prop"`
}

// parsePropfindBody decodes a PROPFIND request body. An empty body means
// allprop, matching RFC 4918 §9.1's "treat as if it were an allprop".
func parsePropfindBody(body []byte) (wantAll, wantNames bool, names []xml.Name) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return true, false, nil
	}
	var req propfindXML
	if err := xml.Unmarshal(body, &req); err != nil {
		return true, false, nil
	}
	if req.PropName != nil {
		return false, true, nil
	}
	if req.Prop != nil {
		for _, it := range req.Prop.Items {
			names = append(names, it.XMLName)
		}
		return false, false, names
	}
	return true, false, nil
}

type setRemoveXML struct {
	Prop struct {
		Items []xmlProp `xml:",any"`
	} `xml:"DAV: prop"`
}

type propertyupdateXML struct {
	XMLName xml.Name       `xml:"DAV: propertyupdate"`
	Set     []setRemoveXML `xml:"DAV: set"`
	Remove  []setRemoveXML `xml:"DAV: remove"`
}

// mkcolXML decodes both a plain RFC 5689 extended MKCOL body and an RFC
// 4791 MKCALENDAR body: both carry a DAV:set of initial properties, the
// latter just under a caldav-namespaced root element.
type mkcolXML struct {
	XMLName xml.Name       `xml:""`
	Set     []setRemoveXML `xml:"DAV: set"`
}

func parseMkcolBody(body []byte) map[string]string {
	props := map[string]string{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return props
	}
	var req mkcolXML
	if err := xml.Unmarshal(body, &req); err != nil {
		return props
	}
	for _, s := range req.Set {
		for _, item := range s.Prop.Items {
			props[strings.ToLower(item.XMLName.Local)] = item.Inner
		}
	}
	return props
}

func qualifiedLocal(n xml.Name) string {
	switch n.Space {
	case "urn:ietf:params:xml:ns:caldav":
		return "cal:" + n.Local
	case "urn:ietf:params:xml:ns:carddav":
		return "card:" + n.Local
	case "http://calendarserver.org/ns/":
		return "cs:" + n.Local
	default:
		return n.Local
	}
}
