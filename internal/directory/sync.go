package directory

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

// Syncer mirrors an LDAP Source's users and groups into the principal/user/
// group/membership tables. It runs periodically from internal/httpserver's
// startDirectorySync ticker, which NewServer starts for cmd/caldav-server.
type Syncer struct {
	src    Source
	store  storage.Store
	logger zerolog.Logger
}

func NewSyncer(src Source, store storage.Store, logger zerolog.Logger) *Syncer {
	return &Syncer{src: src, store: store, logger: logger}
}

func (s *Syncer) SyncOnce(ctx context.Context) error {
	users, err := s.src.ListUsers(ctx)
	if err != nil {
		return err
	}
	groups, err := s.src.ListGroups(ctx)
	if err != nil {
		return err
	}

	userPrincipals := make(map[string]string, len(users)) // uid -> principal id
	for _, u := range users {
		slug := slugify(u.UID)
		p, err := s.store.UpsertUser(ctx, storage.User{Name: u.UID, Email: firstNonEmpty(u.Mail, u.UID)}, slug, u.DisplayName)
		if err != nil {
			s.logger.Error().Err(err).Str("uid", u.UID).Msg("failed to upsert synced user")
			continue
		}
		userPrincipals[u.UID] = p.ID
	}

	for _, g := range groups {
		slug := slugify(g.CN)
		gp, err := s.store.UpsertGroup(ctx, slug, g.CN)
		if err != nil {
			s.logger.Error().Err(err).Str("cn", g.CN).Msg("failed to upsert synced group")
			continue
		}
		for _, uid := range g.Members {
			userPrincipalID, ok := userPrincipals[uid]
			if !ok {
				continue
			}
			if err := s.store.SetMembership(ctx, userPrincipalID, gp.ID, true); err != nil {
				s.logger.Error().Err(err).Str("uid", uid).Str("cn", g.CN).Msg("failed to record membership")
			}
		}
	}

	s.logger.Info().Int("users", len(users)).Int("groups", len(groups)).Msg("directory sync complete")
	return nil
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r == ' ' || r == '_' || r == '.':
			return '-'
		default:
			return -1
		}
	}, s)
	return s
}
