// Package httpapi is the HTTP/WebSocket surface over the session-security
// core. It stays intentionally thin: every security decision is delegated
// to auth.Service and signedurl.Signer.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"posehub.org/internal/auth"
	"posehub.org/internal/obs"
	"posehub.org/internal/signedurl"
)

// ReadyProbe checks readiness (DB ping when a DB is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// VersionSource reports the current version tag of a resource. Signed image
// links are bound to it, so regenerating a pose invalidates old links.
type VersionSource interface {
	Version(ctx context.Context, kind string, id int64) (string, error)
}

// Deps wires the API's collaborators.
type Deps struct {
	Sessions *auth.Service
	Signer   *signedurl.Signer
	Versions VersionSource
	Images   ImageSource
	Probe    ReadyProbe
	Log      *zap.Logger
	Version  string
	LinkTTL  time.Duration
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	sessions *auth.Service
	signer   *signedurl.Signer
	versions VersionSource
	images   ImageSource
	probe    ReadyProbe
	log      *zap.Logger
	version  string
	linkTTL  time.Duration
}

func New(d Deps) *API {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.LinkTTL <= 0 {
		d.LinkTTL = 10 * time.Minute
	}
	a := &API{
		mux:      http.NewServeMux(),
		sessions: d.Sessions,
		signer:   d.Signer,
		versions: d.Versions,
		images:   d.Images,
		probe:    d.Probe,
		log:      d.Log,
		version:  d.Version,
		linkTTL:  d.LinkTTL,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("POST /v1/auth/logout_all", a.handleLogoutAll)
	a.mux.HandleFunc("POST /v1/auth/password", a.handleChangeCredential)
	a.mux.HandleFunc("POST /v1/auth/revoke", a.handleRevokeToken)

	a.mux.HandleFunc("GET /v1/images/{kind}/{id}", a.handleImage)
	a.mux.HandleFunc("POST /v1/images/{kind}/{id}/link", a.handleImageLink)

	a.mux.HandleFunc("GET /v1/ws", a.handleWS)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(a.log, h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "posehub-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "posehub-auth",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func deviceInfo(r *http.Request) auth.DeviceInfo {
	return auth.DeviceInfo{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}
