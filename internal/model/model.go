// Package model defines the canonical component-tree representation shared
// by the iCalendar and vCard mappers: entities decompose into components,
// components carry properties, and properties carry parameters.
package model

import "time"

// EntityType distinguishes the two document families the core stores.
type EntityType string

const (
	EntityICalendar EntityType = "icalendar"
	EntityVCard     EntityType = "vcard"
)

// ValueType tags which typed column of a Property is populated.
type ValueType string

const (
	ValueText      ValueType = "text"
	ValueInteger   ValueType = "integer"
	ValueFloat     ValueType = "float"
	ValueBoolean   ValueType = "boolean"
	ValueDate      ValueType = "date"
	ValueTimestamp ValueType = "timestamp"
	ValueBinary    ValueType = "binary"
	ValueJSON      ValueType = "json"
	ValueTextArray ValueType = "text[]"
)

// Entity is the semantic content object: one iCalendar document or one
// vCard. It owns exactly one root Component.
type Entity struct {
	ID         string
	Type       EntityType
	LogicalUID string
	Root       *Component
}

// Component is a node of an entity's tree (VCALENDAR, VEVENT, VCARD, ...).
// Ordinal is the component's position among its siblings and must be
// preserved across a parse/serialize round trip.
type Component struct {
	ID         string
	Name       string
	Ordinal    int
	Properties []*Property
	Children   []*Component
	Parent     *Component
}

// Property is a typed attribute of a Component. Exactly one of the typed
// value fields is meaningful, selected by Type.
type Property struct {
	ID      string
	Name    string
	Group   string // vCard "group.NAME" prefix; empty for iCalendar
	Type    ValueType
	Ordinal int

	Text      string
	Integer   int64
	Float     float64
	Boolean   bool
	Date      time.Time // date-only, UTC midnight
	Timestamp time.Time
	Binary    []byte
	JSONText  string
	TextArray []string

	// Raw holds the exact unescaped value text as it appeared on the wire,
	// used when round-tripping a value type the mapper doesn't need to
	// interpret (e.g. an X- extension property).
	Raw string

	Parameters []*Parameter
}

// Parameter is a modifier on a Property (e.g. TZID, VALUE, TYPE).
type Parameter struct {
	ID      string
	Name    string
	Value   string // comma-joined if the parameter is multi-valued
	Ordinal int
}

// Get returns the first property named n (case-sensitive, names are always
// stored upper-cased), or nil.
func (c *Component) Get(name string) *Property {
	for _, p := range c.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// GetAll returns every property named n in declaration order.
func (c *Component) GetAll(name string) []*Property {
	var out []*Property
	for _, p := range c.Properties {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// ChildrenNamed returns direct children with the given component name.
func (c *Component) ChildrenNamed(name string) []*Component {
	var out []*Component
	for _, ch := range c.Children {
		if ch.Name == name {
			out = append(out, ch)
		}
	}
	return out
}

// Param returns the first parameter named n on the property.
func (p *Property) Param(name string) *Parameter {
	for _, pm := range p.Parameters {
		if pm.Name == name {
			return pm
		}
	}
	return nil
}
