package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/obs"
	"cardiavue.org/internal/records"
	"cardiavue.org/internal/stream"
)

const (
	serviceName  = "cardiavue-api"
	maxBodyBytes = 1 << 20
	readyTimeout = 2 * time.Second
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe is a readiness check, typically a store ping.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Authenticator turns credentials into a session.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (auth.Session, error)
}

// Gate resolves the Authorization header and applies the permission table.
type Gate interface {
	Check(ctx context.Context, header string, res auth.Resource, act auth.Action) (auth.Principal, error)
	Authenticate(ctx context.Context, header string) (auth.Principal, error)
}

// GrantLister exposes the permission table for read-only listing.
type GrantLister interface {
	GrantsFor(role auth.Role) []auth.Grant
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Authenticator Authenticator
	Gate          Gate
	Policy        GrantLister
	Records       records.Service
	Alerts        *stream.Stream // optional live alert feed
	Ready         ReadyProbe
	Logger        *slog.Logger
	Metrics       *obs.Metrics
	Version       string

	CORSOrigins     []string
	LoginRatePerSec float64
	LoginRateBurst  int
	TrustedProxies  []netip.Prefix

	// StreamHeartbeat is how often an open alert stream pings and re-checks its token.
	StreamHeartbeat time.Duration

	Now func() time.Time
}

// API is the HTTP layer.
type API struct {
	router chi.Router

	authn   Authenticator
	gate    Gate
	policy  GrantLister
	records records.Service
	alerts  *stream.Stream
	ready   ReadyProbe
	logger  *slog.Logger
	metrics *obs.Metrics
	version string
	now     func() time.Time

	proxies         ProxyTrust
	streamHeartbeat time.Duration

	loginLimiter *RateLimiter
}

func New(d Deps) *API {
	a := &API{
		authn:   d.Authenticator,
		gate:    d.Gate,
		policy:  d.Policy,
		records: d.Records,
		alerts:  d.Alerts,
		ready:   d.Ready,
		logger:  d.Logger,
		metrics: d.Metrics,
		version: d.Version,
		now:     d.Now,

		proxies:         ProxyTrust(d.TrustedProxies),
		streamHeartbeat: d.StreamHeartbeat,
	}
	if a.logger == nil {
		a.logger = obs.Discard()
	}
	if a.metrics == nil {
		a.metrics = obs.NewMetrics()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.streamHeartbeat <= 0 {
		a.streamHeartbeat = defaultStreamHeartbeat
	}
	perSec, burst := d.LoginRatePerSec, d.LoginRateBurst
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 5
	}
	a.loginLimiter = NewRateLimiter(perSec, burst)
	a.loginLimiter.Key = a.proxies.ClientIP
	a.loginLimiter.OnLimit = func(*http.Request) { a.metrics.ObserveLogin("throttled") }

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(a.metrics.Instrument)
	r.Use(Logging(a.logger, a.proxies))
	r.Use(SecurityHeaders)
	r.Use(CORS(d.CORSOrigins))
	r.Use(MaxBodyBytes(maxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// health/ready/info
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/info", a.Info)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(a.loginLimiter.Middleware).Post("/login", a.login)
			r.Post("/logout", a.logout)
			r.Get("/me", a.authenticated(a.me))
		})
		r.Get("/policy", a.authenticated(a.listGrants))

		r.Route("/clinics", func(r chi.Router) {
			r.Get("/", a.guard(auth.ResourceClinic, auth.ActionRead, a.listClinics))
			r.Post("/", a.guard(auth.ResourceClinic, auth.ActionCreate, a.createClinic))
			r.Get("/{id}", a.guard(auth.ResourceClinic, auth.ActionRead, a.getClinic))
			r.Put("/{id}", a.guard(auth.ResourceClinic, auth.ActionUpdate, a.updateClinic))
			r.Delete("/{id}", a.guard(auth.ResourceClinic, auth.ActionDelete, a.deleteClinic))
		})
		r.Route("/patients", func(r chi.Router) {
			r.Get("/", a.guard(auth.ResourcePatient, auth.ActionRead, a.listPatients))
			r.Post("/", a.guard(auth.ResourcePatient, auth.ActionCreate, a.createPatient))
			r.Get("/{id}", a.guard(auth.ResourcePatient, auth.ActionRead, a.getPatient))
			r.Put("/{id}", a.guard(auth.ResourcePatient, auth.ActionUpdate, a.updatePatient))
			r.Delete("/{id}", a.guard(auth.ResourcePatient, auth.ActionDelete, a.deletePatient))
		})
		r.Route("/transmissions", func(r chi.Router) {
			r.Get("/", a.guard(auth.ResourceTransmission, auth.ActionRead, a.listTransmissions))
			r.Post("/", a.guard(auth.ResourceTransmission, auth.ActionCreate, a.createTransmission))
			r.Get("/stats/dashboard", a.guard(auth.ResourceTransmission, auth.ActionRead, a.dashboardStats))
			r.Get("/stream", a.guard(auth.ResourceTransmission, auth.ActionRead, a.streamAlerts))
			r.Get("/{id}", a.guard(auth.ResourceTransmission, auth.ActionRead, a.getTransmission))
			r.Put("/{id}", a.guard(auth.ResourceTransmission, auth.ActionUpdate, a.updateTransmission))
		})
	})

	a.router = r
	return a
}

// Handler returns the root handler with all middleware applied.
func (a *API) Handler() http.Handler {
	return a.router
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		a.logger.Warn("readiness check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
