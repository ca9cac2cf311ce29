package authz

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/caldav-core/internal/resource"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

// fakeStore embeds a nil storage.Store so it satisfies the interface while
// only ListPolicies needs a real implementation for these tests; any other
// method would panic on a nil-pointer call, which is fine since Evaluate
// never reaches them.
type fakeStore struct {
	storage.Store
	policies []storage.Policy
}

func (f *fakeStore) ListPolicies(ctx context.Context) ([]storage.Policy, error) {
	return f.policies, nil
}

func newTestEngine(policies []storage.Policy) *Engine {
	return New(&fakeStore{policies: policies}, zerolog.Nop(), time.Minute)
}

func TestEvaluateOwnerGetsFullAccess(t *testing.T) {
	e := newTestEngine(nil)
	q := Query{
		Subjects:         resource.ExpandedSubjects{PrincipalID: "u1"},
		OwnerPrincipalID: "u1",
		Path:             "/dav/calendars/u1/work/",
		Action:           resource.Action{Kind: resource.ActionEdit},
	}
	d, err := e.Evaluate(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, d.Granted, "expected owner to be granted Edit, got %+v", d)
	assert.Equal(t, resource.LevelOwner, d.Level)
}

func TestEvaluateStrangerDenied(t *testing.T) {
	e := newTestEngine(nil)
	d, err := e.Evaluate(context.Background(), Query{
		Subjects:         resource.ExpandedSubjects{PrincipalID: "u2"},
		OwnerPrincipalID: "u1",
		Path:             "/dav/calendars/u1/work/",
		Action:           resource.Action{Kind: resource.ActionRead},
	})
	require.NoError(t, err)
	assert.False(t, d.Granted, "expected a stranger with no grant to be denied, got %+v", d)
}

func TestEvaluateFreebusyDefaultAuthenticatedOnly(t *testing.T) {
	e := newTestEngine(nil)
	d, err := e.Evaluate(context.Background(), Query{
		Path:   "/dav/calendars/u1/work/",
		Action: resource.Action{Kind: resource.ActionReadFreebusy},
	})
	require.NoError(t, err)
	assert.False(t, d.Granted, "anonymous requests must never be granted, got %+v", d)

	d, err = e.Evaluate(context.Background(), Query{
		Subjects: resource.ExpandedSubjects{PrincipalID: "u2"},
		Path:     "/dav/calendars/u1/work/",
		Action:   resource.Action{Kind: resource.ActionReadFreebusy},
	})
	require.NoError(t, err)
	assert.True(t, d.Granted, "any authenticated principal should get free-busy read by default, got %+v", d)
}

func TestEvaluateGroupGrantUnion(t *testing.T) {
	policies := []storage.Policy{
		{SubjectID: "group-staff", PathPattern: "/dav/calendars/u1/**", Level: "Edit"},
	}
	e := newTestEngine(policies)
	d, err := e.Evaluate(context.Background(), Query{
		Subjects:         resource.ExpandedSubjects{PrincipalID: "u2", GroupIDs: []string{"group-staff"}},
		OwnerPrincipalID: "u1",
		Path:             "/dav/calendars/u1/work/",
		Action:           resource.Action{Kind: resource.ActionEdit},
	})
	require.NoError(t, err)
	assert.True(t, d.Granted, "expected group grant to confer Edit, got %+v", d)
	assert.Equal(t, resource.LevelEdit, d.Level)
}

func TestEvaluatePolicyCached(t *testing.T) {
	fs := &fakeStore{policies: []storage.Policy{
		{SubjectID: "u2", PathPattern: "/dav/calendars/u1/**", Level: "Read"},
	}}
	e := New(fs, zerolog.Nop(), time.Minute)

	q := Query{
		Subjects:         resource.ExpandedSubjects{PrincipalID: "u2"},
		OwnerPrincipalID: "u1",
		Path:             "/dav/calendars/u1/work/",
		Action:           resource.Action{Kind: resource.ActionRead},
	}
	_, err := e.Evaluate(context.Background(), q)
	require.NoError(t, err)

	// Mutating the backing slice after the first call must not affect the
	// cached policy set within the TTL window.
	fs.policies = nil
	d, err := e.Evaluate(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, d.Granted, "expected cached policy grant to still apply, got %+v", d)
}
