package router

import (
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/auth"
	"github.com/sonroyaalmerol/caldav-core/internal/config"
	"github.com/sonroyaalmerol/caldav-core/internal/dav"
)

type Router struct {
	config   *config.Config
	handlers *dav.Handlers
	auth     *auth.Chain
	logger   zerolog.Logger
}
