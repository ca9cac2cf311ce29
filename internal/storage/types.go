// Package storage defines the relational persisted-state layout and the
// Store interface every DAV handler and the authorization engine read and
// write through. The postgres subpackage is the sole implementation.
package storage

import (
	"encoding/json"
	"strconv"
	"time"
)

type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

type Principal struct {
	ID          string
	Type        PrincipalType
	Slug        string
	DisplayName string
}

type User struct {
	ID          string
	PrincipalID string
	Name        string
	Email       string
	// PasswordHash is a bcrypt hash for local credential verification; empty
	// when the principal authenticates exclusively via bearer tokens or an
	// external directory sync.
	PasswordHash string
}

type Group struct {
	ID          string
	PrincipalID string
}

type CollectionType string

const (
	CollectionCalendar    CollectionType = "calendar"
	CollectionAddressBook CollectionType = "addressbook"
	CollectionGeneric     CollectionType = "generic"
)

type Collection struct {
	ID               string
	OwnerPrincipalID string
	ParentID         *string
	Type             CollectionType
	Slug             string
	DisplayName      string
	Description      string
	TimezoneTZID     string
	SyncToken        int64
	DeletedAt        *time.Time
}

func (c Collection) CTag() string {
	return "sync-" + strconv.FormatInt(c.SyncToken, 10)
}

type EntityType string

const (
	EntityICalendar EntityType = "icalendar"
	EntityVCard     EntityType = "vcard"
)

type Entity struct {
	ID         string
	EntityType EntityType
	LogicalUID string
}

type Component struct {
	ID               string
	EntityID         string
	ParentComponentID *string
	Name             string
	Ordinal          int
}

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

type Property struct {
	ID          string
	ComponentID string
	Name        string
	Group       string
	ValueType   ValueType
	Ordinal     int

	Text      string
	Integer   int64
	Float     float64
	Boolean   bool
	Date      time.Time
	Timestamp time.Time
	Binary    []byte
	TextArray []string
}

type Parameter struct {
	ID         string
	PropertyID string
	Name       string
	Value      string
	Ordinal    int
}

type Instance struct {
	ID            string
	CollectionID  string
	EntityID      string
	Slug          string
	ContentType   string
	ETag          string
	SyncRevision  int64
	LastModified  time.Time
	DeletedAt     *time.Time
}

type Tombstone struct {
	ID           string
	CollectionID string
	Slug         string
	EntityID     *string
	SyncRevision int64
	DeletedAt    time.Time
	LastETag     string
	LogicalUID   string
}

type CalIndexRow struct {
	EntityID       string
	ComponentID    string
	ComponentType  string
	UID            string
	RecurrenceIDUTC *time.Time
	DTStartUTC     *time.Time
	DTEndUTC       *time.Time
	AllDay         bool
	RRuleText      string
	Metadata       json.RawMessage
}

type CalOccurrence struct {
	EntityID    string
	ComponentID string
	StartUTC    time.Time
	EndUTC      time.Time
	DeletedAt   *time.Time
}

type CardIndexRow struct {
	EntityID   string
	UID        string
	FN         string
	Emails     []string
	Tels       []string
	Org        string
	Categories []string
	Metadata   json.RawMessage
}

// Policy is one grant: subject may perform action on any resource path
// matching PathPattern (a glob over the canonical id-form path).
type Policy struct {
	ID          string
	SubjectID   string // principal id or pseudo-principal name
	PathPattern string
	Level       string // PermissionLevel.String()
}
