package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/auth"
	"github.com/sonroyaalmerol/caldav-core/internal/authz"
	"github.com/sonroyaalmerol/caldav-core/internal/config"
	"github.com/sonroyaalmerol/caldav-core/internal/dav"
	"github.com/sonroyaalmerol/caldav-core/internal/directory"
	"github.com/sonroyaalmerol/caldav-core/internal/pathresolver"
	"github.com/sonroyaalmerol/caldav-core/internal/router"
	"github.com/sonroyaalmerol/caldav-core/internal/storage"
	"github.com/sonroyaalmerol/caldav-core/internal/storage/postgres"
)

type Server struct {
	http   *http.Server
	logger zerolog.Logger
	cancel context.CancelFunc
	store  storage.Store
	dir    *directory.LDAPClient
}

func NewServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	store, err := postgres.New(ctx, cfg.Storage.PostgresURL, logger)
	if err != nil {
		return nil, nil, err
	}

	dir, err := directory.NewLDAPClient(cfg.LDAP, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	authn := auth.NewChain(cfg, store, logger)
	engine := authz.New(store, logger, cfg.Authz.PolicyCacheTTL)
	resolver := pathresolver.New(store, cfg.HTTP.BasePath)
	davh := dav.New(store, resolver, engine, cfg, logger)
	mux := router.New(cfg, davh, authn, logger)

	syncCtx, cancel := context.WithCancel(ctx)
	startDirectorySync(syncCtx, dir, store, cfg.LDAP.CacheTTL, logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
		cancel: cancel,
		store:  store,
		dir:    dir,
	}
	cleanup := func() {
		cancel()
		store.Close()
		dir.Close()
	}
	logger.Info().Msgf("listening on %s (storage=postgres)", cfg.HTTP.Addr)
	return srv, cleanup, nil
}

// startDirectorySync periodically mirrors LDAP users and groups into the
// relational principal tables, the same period the teacher used to cache
// per-request LDAP lookups.
func startDirectorySync(ctx context.Context, dir directory.Source, store storage.Store, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	syncer := directory.NewSyncer(dir, store, logger)
	go func() {
		if err := syncer.SyncOnce(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial directory sync failed")
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := syncer.SyncOnce(ctx); err != nil {
					logger.Warn().Err(err).Msg("directory sync failed")
				}
			}
		}
	}()
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
