// Package directory syncs principal and group membership from an upstream
// LDAP tree into the storage schema. Authentication and per-request
// authorization no longer consult LDAP directly (see internal/auth,
// internal/authz); this package only keeps the principal/user/group tables
// current.
package directory

import "context"

// Source lists the users and groups a sync pass should mirror into storage.
type Source interface {
	Close()
	ListUsers(ctx context.Context) ([]User, error)
	ListGroups(ctx context.Context) ([]Group, error)
}

type User struct {
	UID         string
	DN          string
	DisplayName string
	Mail        string
}

type Group struct {
	CN      string
	DN      string
	Members []string // user UIDs, resolved from member DNs during sync
}
