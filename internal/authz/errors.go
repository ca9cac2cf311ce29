package authz

import "encoding/xml"

// NeedPrivilegesBody renders the RFC 3744 §7.1.1 DAV:need-privileges error
// body for a 403 response, naming the href and privileges that were missing.
type NeedPrivilegesBody struct {
	XMLName xml.Name `xml:"DAV: error"`
	Need    needPrivileges
}

type needPrivileges struct {
	XMLName xml.Name        `xml:"DAV: need-privileges"`
	Entries []resourcePriv  `xml:"DAV: resource"`
}

type resourcePriv struct {
	Href       string       `xml:"DAV: href"`
	Privileges []privilegeXML `xml:"DAV: privilege"`
}

type privilegeXML struct {
	Name xml.Name `xml:""`
}

// NewNeedPrivilegesBody builds the error body for a denied Decision against
// the resource identified by href.
func NewNeedPrivilegesBody(href string, d Decision) NeedPrivilegesBody {
	missing := d.Required &^ d.Level.Privileges()
	entries := []resourcePriv{{Href: href}}
	for _, name := range missing.Names() {
		entries[0].Privileges = append(entries[0].Privileges, privilegeXML{
			Name: xml.Name{Space: "DAV:", Local: name},
		})
	}
	return NeedPrivilegesBody{Need: needPrivileges{Entries: entries}}
}
