package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/config"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

// Principal is the authenticated caller of a request: a resolved row in
// the principal/user tables, never an LDAP DN directly (directory-sourced
// accounts are synced into those tables by internal/directory beforehand).
type Principal struct {
	PrincipalID string
	UID         string // user.name, used for logging and principal-slug matching
	Email       string
	Display     string
}

type ctxKey int

const principalKey ctxKey = 1

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

type Chain struct {
	cfg    *config.Config
	store  storage.Store
	logger zerolog.Logger
	basic  *BasicAuth
	bearer *BearerAuth
}

func NewChain(cfg *config.Config, store storage.Store, logger zerolog.Logger) *Chain {
	c := &Chain{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
	if cfg.Auth.EnableBasic {
		c.basic = &BasicAuth{Store: store, Logger: logger}
	}
	if cfg.Auth.EnableBearer {
		c.bearer = NewBearerAuth(cfg, store, logger)
	}
	return c
}

func (c *Chain) BasicEnabled() bool  { return c.basic != nil }
func (c *Chain) BearerEnabled() bool { return c.bearer != nil }

func (c *Chain) BasicAuthenticate(ctx context.Context, header string) (*Principal, error) {
	if c.basic == nil {
		return nil, errors.New("basic disabled")
	}
	return c.basic.Authenticate(ctx, header)
}

func (c *Chain) BearerAuthenticate(ctx context.Context, token string) (*Principal, error) {
	if c.bearer == nil {
		return nil, errors.New("bearer disabled")
	}
	return c.bearer.Authenticate(ctx, token)
}
