package auth

import (
	"context"
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/cache"
	"github.com/sonroyaalmerol/caldav-core/internal/config"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

type BearerAuth struct {
	cfg    *config.Config
	store  storage.Store
	Logger zerolog.Logger

	keyset jwk.Set
	ksAt   time.Time
	ksTTL  time.Duration

	verCache *cache.Cache[string, *Principal]
}

func NewBearerAuth(cfg *config.Config, store storage.Store, logger zerolog.Logger) *BearerAuth {
	return &BearerAuth{
		cfg:      cfg,
		store:    store,
		Logger:   logger,
		ksTTL:    10 * time.Minute,
		verCache: cache.New[string, *Principal](2 * time.Minute),
	}
}

func (b *BearerAuth) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if p, ok := b.verCache.Get(token); ok && p != nil {
		return p, nil
	}

	if b.cfg.Auth.JWKSURL == "" && !b.cfg.Auth.AllowOpaque {
		return nil, errors.New("no jwt validation configured")
	}

	if b.cfg.Auth.JWKSURL != "" {
		set := b.keyset
		var err error
		if set == nil || time.Since(b.ksAt) > b.ksTTL {
			set, err = jwk.Fetch(ctx, b.cfg.Auth.JWKSURL)
			if err != nil {
				return nil, err
			}
			b.keyset = set
			b.ksAt = time.Now()
		}

		tok, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
		if err == nil {
			if iss := tok.Issuer(); b.cfg.Auth.Issuer != "" && iss != b.cfg.Auth.Issuer {
				return nil, errors.New("issuer mismatch")
			}
			if aud := tok.Audience(); len(aud) > 0 && b.cfg.Auth.Audience != "" {
				found := false
				for _, a := range aud {
					if a == b.cfg.Auth.Audience {
						found = true
						break
					}
				}
				if !found {
					return nil, errors.New("audience mismatch")
				}
			}
			sub := tok.Subject()
			if sub == "" {
				return nil, errors.New("no sub")
			}
			p, err := b.resolveSubject(ctx, sub)
			if err != nil {
				return nil, err
			}
			b.verCache.Set(token, p, time.Now().Add(2*time.Minute))
			return p, nil
		}
	}

	if b.cfg.Auth.AllowOpaque && b.cfg.Auth.IntrospectURL != "" {
		return nil, errors.New("opaque token introspection requires an external introspection client, not configured")
	}

	return nil, errors.New("bearer rejected")
}

// resolveSubject maps a verified token subject to a local principal. The
// field compared (name vs email) is configurable since identity providers
// disagree on what they put in "sub".
func (b *BearerAuth) resolveSubject(ctx context.Context, sub string) (*Principal, error) {
	var user *storage.User
	var err error
	if b.cfg.Auth.TokenUserField == "name" {
		user, err = b.store.GetUserByName(ctx, sub)
	} else {
		user, err = b.store.GetUserByEmail(ctx, sub)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.New("unknown subject")
	}
	if err != nil {
		return nil, err
	}
	principal, err := b.store.GetPrincipalByID(ctx, user.PrincipalID)
	if err != nil {
		return nil, err
	}
	return &Principal{
		PrincipalID: principal.ID,
		UID:         user.Name,
		Email:       user.Email,
		Display:     principal.DisplayName,
	}, nil
}
