package router

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/auth"
	"github.com/sonroyaalmerol/caldav-core/internal/config"
	"github.com/sonroyaalmerol/caldav-core/internal/dav"
)

func New(cfg *config.Config, h *dav.Handlers, authn *auth.Chain, logger zerolog.Logger) http.Handler {
	r := &Router{
		config:   cfg,
		handlers: h,
		auth:     authn,
		logger:   logger,
	}

	return r.setupRoutes()
}

func (r *Router) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	r.setupWellKnownRoutes(mux)

	mux.HandleFunc("/healthz", r.handleHealth)

	base := r.getBasePath()
	mux.HandleFunc(base, r.handleDAVRequest)

	if strings.HasSuffix(base, "/") {
		baseWithoutSlash := strings.TrimSuffix(base, "/")
		mux.HandleFunc(baseWithoutSlash, r.handleDAVRequest)
	}

	return mux
}

func (r *Router) setupWellKnownRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/caldav", r.handlers.HandleWellKnown)
	mux.HandleFunc("/.well-known/carddav", r.handlers.HandleWellKnown)
}

func (r *Router) getBasePath() string {
	base := r.config.HTTP.BasePath
	if base == "" || base[0] != '/' {
		base = "/dav"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleDAVRequest authenticates the caller (OPTIONS stays public for
// capability discovery) and hands everything else to dav.Handlers, which
// owns method dispatch, resource resolution, and authorization.
func (r *Router) handleDAVRequest(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodOptions {
		r.handlers.HandleOptions(w, req)
		return
	}

	p, err := r.authenticate(req)
	if err != nil || p == nil {
		r.logAttempt(req, "", err)
		w.Header().Set("WWW-Authenticate", `Basic realm="DAV", charset="UTF-8"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	r.routeDAVMethod(w, req)
}

func (r *Router) routeDAVMethod(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: 0, wroteHeader: false}

	ip := realIP(req)
	method := req.Method
	path := req.URL.Path
	ua := req.Header.Get("User-Agent")
	principal, _ := auth.PrincipalFrom(req.Context())

	r.handlers.ServeHTTP(rec, req)

	dur := time.Since(start)

	var logEvent *zerolog.Event
	switch req.Method {
	case "PROPFIND", "REPORT", http.MethodGet, http.MethodHead:
		logEvent = r.logger.Debug()
	default:
		logEvent = r.logger.Info()
	}

	logEntry := logEvent.
		Str("method", method).
		Str("path", path).
		Int("status", statusOrDefault(rec.status)).
		Int("bytes", rec.bytes).
		Float64("duration_ms", float64(dur.Microseconds())/1000.0).
		Str("ip", ip).
		Str("user_agent", ua)

	if principal != nil {
		logEntry = logEntry.Str("user", principal.UID)
	}

	logEntry.Msg("http request")
}

func (r *Router) authenticate(req *http.Request) (*auth.Principal, error) {
	authz := req.Header.Get("Authorization")
	lower := strings.ToLower(authz)

	if strings.HasPrefix(lower, "bearer ") && r.auth.BearerEnabled() {
		return r.auth.BearerAuthenticate(req.Context(), strings.TrimSpace(authz[7:]))
	}

	if r.auth.BasicEnabled() {
		return r.auth.BasicAuthenticate(req.Context(), authz)
	}

	return nil, errors.New("no auth")
}

func (r *Router) logAttempt(req *http.Request, username string, authErr error) {
	ip := realIP(req)
	ua := req.Header.Get("User-Agent")
	authz := req.Header.Get("Authorization")
	authType := ""
	if i := strings.IndexByte(authz, ' '); i > 0 {
		authType = strings.ToLower(authz[:i])
	}

	logEvent := r.logger.Info().
		Bool("auth_success", false).
		Str("user", username).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("ip", ip).
		Str("user_agent", ua).
		Str("auth_type", authType)

	if authErr != nil {
		logEvent = logEvent.Str("error", authErr.Error())
	}

	logEvent.Msg("auth attempt")
}
