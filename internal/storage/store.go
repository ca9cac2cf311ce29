package storage

import (
	"context"
	"time"
)

// EntityTree is the full canonical-tree payload a writer hands to the
// store: the entity row plus its flattened component/property/parameter
// rows (ids may be mapper-assigned placeholders; the store substitutes
// real ids in one transactional pass) and the derived index rows computed
// from the same tree.
type EntityTree struct {
	Entity     Entity
	Components []Component
	Properties []Property
	Parameters []Parameter

	CalIndex      []CalIndexRow
	CalOccurrence []CalOccurrence
	CardIndex     *CardIndexRow
}

// WriteResult reports the identifiers and revision produced by a
// transactional write, needed by the handler to build response headers.
type WriteResult struct {
	EntityID     string
	InstanceID   string
	ETag         string
	SyncRevision int64
	Created      bool
}

// Store is the relational persistence interface every DAV handler and the
// authorization engine use. Implementations must provide the
// transactional guarantees spec.md §5 requires: entity writes, index
// rebuilds, instance upserts, and synctoken bumps commit atomically.
type Store interface {
	Close()

	// Principals
	GetPrincipalBySlug(ctx context.Context, slug string) (*Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (*Principal, error)
	GetUserByPrincipalID(ctx context.Context, principalID string) (*User, error)
	GetUserByName(ctx context.Context, name string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpsertUser(ctx context.Context, u User, slug, displayName string) (*Principal, error)
	UpsertGroup(ctx context.Context, slug, displayName string) (*Principal, error)
	SetMembership(ctx context.Context, userPrincipalID, groupPrincipalID string, member bool) error
	GroupsForUser(ctx context.Context, userPrincipalID string) ([]string, error)

	// Collections
	CreateCollection(ctx context.Context, c Collection) (*Collection, error)
	GetCollectionByID(ctx context.Context, id string) (*Collection, error)
	GetCollectionBySlug(ctx context.Context, ownerPrincipalID string, parentID *string, slug string) (*Collection, error)
	ListChildCollections(ctx context.Context, ownerPrincipalID string, parentID *string) ([]*Collection, error)
	UpdateCollectionProps(ctx context.Context, id string, displayName, description *string) error
	SoftDeleteCollection(ctx context.Context, id string) error
	BumpSyncToken(ctx context.Context, collectionID string) (int64, error)

	// Instances
	GetInstanceBySlug(ctx context.Context, collectionID, slug string) (*Instance, error)
	GetInstanceByID(ctx context.Context, id string) (*Instance, error)
	ListLiveInstances(ctx context.Context, collectionID string) ([]*Instance, error)
	// SoftDeleteInstance bumps the owning collection's synctoken and
	// records the tombstone in the same transaction.
	SoftDeleteInstance(ctx context.Context, instanceID string) (*Tombstone, error)

	// Entities: transactional tree replace + index rebuild + instance
	// upsert + synctoken bump, all in one commit.
	WriteEntity(ctx context.Context, collectionID, slug, contentType, etag string, tree EntityTree, ifMatch, ifNoneMatchAny bool, matchETag string) (*WriteResult, error)
	GetEntityTree(ctx context.Context, entityID string) (*EntityTree, error)
	CopyEntity(ctx context.Context, srcEntityID, destCollectionID, destSlug, contentType, etag string, overwrite bool) (*WriteResult, error)

	// Calendar index queries
	QueryCalIndex(ctx context.Context, collectionID string, componentTypes []string, start, end *time.Time) ([]CalIndexRow, error)
	QueryOccurrences(ctx context.Context, entityIDs []string, start, end time.Time) ([]CalOccurrence, error)

	// Address index queries
	QueryCardIndex(ctx context.Context, collectionID string) ([]CardIndexRow, error)

	// Sync
	ListChangesSince(ctx context.Context, collectionID string, sinceRevision int64, limit int) (instances []*Instance, tombstones []*Tombstone, truncated bool, err error)
	RetentionHorizon(ctx context.Context, collectionID string) (int64, error)

	// Authorization policy set
	ListPolicies(ctx context.Context) ([]Policy, error)
	GrantShare(ctx context.Context, granterPrincipalID, granteePrincipalID, pathPattern, level string) error
}
