// Package authz implements the DB-policy authorization engine: resolving
// the effective permission level for a subject set against a resource path,
// by union across ownership, explicit policy grants, and built-in defaults,
// per spec.md §4.5. It replaces the teacher's LDAP-group ACL engine
// (formerly internal/acl), which answered the same question from directory
// group membership against a fixed calendar-owner model instead of a
// general path-pattern policy table.
package authz

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/cache"
	"github.com/sonroyaalmerol/caldav-core/internal/resource"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

// Query is the input to one authorization check.
type Query struct {
	Subjects resource.ExpandedSubjects
	// OwnerPrincipalID is the principal id that owns the resource chain
	// being accessed, empty if the target doesn't resolve to an owned
	// resource (e.g. a missing collection en route to a PUT target).
	OwnerPrincipalID string
	// Path is the canonical id-form path the policy table's PathPattern
	// entries are matched against.
	Path   string
	Action resource.Action
}

// Decision is the outcome of a Query: the effective level granted by the
// union of every policy source, and whether that level satisfies the
// action's required privileges.
type Decision struct {
	Level    resource.PermissionLevel
	Granted  bool
	Required resource.Privilege
}

type Engine struct {
	store  storage.Store
	logger zerolog.Logger
	cache  *cache.Cache[string, []storage.Policy]
	ttl    time.Duration
}

const policyCacheKey = "policies"

func New(store storage.Store, logger zerolog.Logger, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Engine{
		store:  store,
		logger: logger,
		cache:  cache.New[string, []storage.Policy](ttl),
		ttl:    ttl,
	}
}

func (e *Engine) policies(ctx context.Context) ([]storage.Policy, error) {
	if p, ok := e.cache.Get(policyCacheKey); ok {
		return p, nil
	}
	p, err := e.store.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	e.cache.Set(policyCacheKey, p, time.Now().Add(e.ttl))
	return p, nil
}

// Evaluate computes the effective PermissionLevel for q.Subjects on q.Path
// by taking the maximum level across every matching source, then checks it
// against the privileges q.Action requires.
func (e *Engine) Evaluate(ctx context.Context, q Query) (Decision, error) {
	level := e.ownershipLevel(q)

	if builtin := builtinLevel(q); builtin > level {
		level = builtin
	}

	policies, err := e.policies(ctx)
	if err != nil {
		return Decision{}, err
	}
	subjectSet := make(map[string]struct{}, len(q.Subjects.IDs()))
	for _, id := range q.Subjects.IDs() {
		subjectSet[id] = struct{}{}
	}
	for _, p := range policies {
		if _, ok := subjectSet[p.SubjectID]; !ok {
			continue
		}
		if !matchPath(p.PathPattern, q.Path) {
			continue
		}
		if lvl := parseLevel(p.Level); lvl > level {
			level = lvl
		}
	}

	target, parent := resource.RequiredPrivileges(q.Action)
	granted := level.Privileges()
	ok := granted.Has(target) && granted.Has(parent)

	e.logger.Debug().
		Str("path", q.Path).
		Str("action", q.Action.Kind.String()).
		Str("level", level.String()).
		Bool("granted", ok).
		Msg("authz decision")

	return Decision{Level: level, Granted: ok, Required: target | parent}, nil
}

// ownershipLevel grants LevelOwner when the authenticated principal or one
// of its groups owns the resource chain.
func (e *Engine) ownershipLevel(q Query) resource.PermissionLevel {
	if q.OwnerPrincipalID == "" {
		return resource.LevelNone
	}
	if q.Subjects.PrincipalID == q.OwnerPrincipalID {
		return resource.LevelOwner
	}
	for _, g := range q.Subjects.GroupIDs {
		if g == q.OwnerPrincipalID {
			return resource.LevelOwner
		}
	}
	return resource.LevelNone
}

// builtinLevel grants the default every authenticated principal holds
// regardless of explicit shares: free-busy visibility into any other
// principal's calendar tree, matching common CalDAV server defaults for
// scheduling availability lookups. Anonymous requests get nothing.
func builtinLevel(q Query) resource.PermissionLevel {
	if q.Subjects.IsAnonymous() {
		return resource.LevelNone
	}
	if q.Action.Kind == resource.ActionReadFreebusy {
		return resource.LevelReadFreebusy
	}
	return resource.LevelNone
}

func parseLevel(s string) resource.PermissionLevel {
	switch s {
	case "ReadFreebusy":
		return resource.LevelReadFreebusy
	case "Read":
		return resource.LevelRead
	case "ReadShare":
		return resource.LevelReadShare
	case "Edit":
		return resource.LevelEdit
	case "EditShare":
		return resource.LevelEditShare
	case "Owner":
		return resource.LevelOwner
	default:
		return resource.LevelNone
	}
}
