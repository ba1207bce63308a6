// Package api Watchtower SIEM API
//
//	@title			Watchtower SIEM API
//	@version		1.0
//	@description	Security events, correlation rules, alerts and incidents
//
// @license.name	MIT
// @license.url	https://opensource.org/licenses/MIT
//
// @host		localhost:8081
// @BasePath	/api/v1
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
// @description				Bearer token from POST /auth/login
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"watchtower/config"
	"watchtower/ingest"
	"watchtower/service"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// authFailureEntry holds auth failure count and last failure time
type authFailureEntry struct {
	count    int
	lastFail time.Time
}

// API holds the HTTP server for the SIEM service
type API struct {
	router   *mux.Router
	server   *http.Server
	siem     *service.SIEM
	hub      *Hub
	dlq      *ingest.DLQ
	config   *config.Config
	logger   *zap.SugaredLogger
	validate *validator.Validate

	apiLimiters    *limiterSet
	ingestLimiters *limiterSet

	authFailures   map[string]*authFailureEntry
	authFailuresMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAPI creates the API server. hub may be nil, which disables the
// /stream endpoint.
func NewAPI(siem *service.SIEM, hub *Hub, cfg *config.Config, logger *zap.SugaredLogger) *API {
	if siem == nil {
		panic("api: SIEM service is required")
	}
	a := &API{
		router:         mux.NewRouter(),
		siem:           siem,
		hub:            hub,
		config:         cfg,
		logger:         logger,
		validate:       newValidator(),
		apiLimiters:    newLimiterSet(cfg.API.RateLimit),
		ingestLimiters: newLimiterSet(cfg.API.IngestRateLimit),
		authFailures:   make(map[string]*authFailureEntry),
		stopCh:         make(chan struct{}),
	}
	a.setupRoutes()
	a.server = a.newServer(":" + strconv.Itoa(cfg.API.Port))
	go a.cleanupLimiters()
	return a
}

// SetDLQ exposes the dead letter queue under /dlq. Call before Start;
// without it those routes answer 503.
func (a *API) SetDLQ(dlq *ingest.DLQ) {
	a.dlq = dlq
}

// Handler returns the root handler, for tests and custom servers
func (a *API) Handler() http.Handler {
	return a.router
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.recoverMiddleware)
	a.router.Use(a.metricsMiddleware)
	a.router.Use(a.corsMiddleware)

	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler())
	a.router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)
	// CORS preflight; corsMiddleware writes the headers
	a.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Ingestion has its own, larger budget so dashboards and producers do
	// not starve each other.
	ingest := a.router.PathPrefix("/api/v1/events").Subrouter()
	ingest.Use(a.ingestRateLimitMiddleware, a.jwtAuthMiddleware)
	ingest.HandleFunc("", a.recordEvent).Methods(http.MethodPost)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.rateLimitMiddleware)
	v1.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)

	secured := v1.NewRoute().Subrouter()
	secured.Use(a.jwtAuthMiddleware)

	secured.HandleFunc("/events", a.queryEvents).Methods(http.MethodGet)
	secured.HandleFunc("/events/search", a.searchEvents).Methods(http.MethodPost)
	secured.HandleFunc("/events/metrics", a.eventMetrics).Methods(http.MethodGet)
	secured.HandleFunc("/events/{eventId}", a.getEvent).Methods(http.MethodGet)
	secured.HandleFunc("/analytics", a.getAnalytics).Methods(http.MethodGet)

	secured.HandleFunc("/alerts", a.listAlerts).Methods(http.MethodGet)
	secured.HandleFunc("/alerts", a.createAlert).Methods(http.MethodPost)
	secured.HandleFunc("/alerts/metrics", a.alertMetrics).Methods(http.MethodGet)
	secured.HandleFunc("/alerts/{alertId}", a.getAlert).Methods(http.MethodGet)
	secured.HandleFunc("/alerts/{alertId}/status", a.updateAlertStatus).Methods(http.MethodPatch)
	secured.HandleFunc("/alerts/{alertId}/assign", a.assignAlert).Methods(http.MethodPatch)

	secured.HandleFunc("/incidents", a.listIncidents).Methods(http.MethodGet)
	secured.HandleFunc("/incidents", a.createIncident).Methods(http.MethodPost)
	secured.HandleFunc("/incidents/metrics", a.incidentMetrics).Methods(http.MethodGet)
	secured.HandleFunc("/incidents/{incidentId}", a.getIncident).Methods(http.MethodGet)
	secured.HandleFunc("/incidents/{incidentId}/status", a.updateIncidentStatus).Methods(http.MethodPatch)
	secured.HandleFunc("/incidents/{incidentId}/timeline", a.addTimelineEntry).Methods(http.MethodPost)
	secured.HandleFunc("/incidents/{incidentId}/artifacts", a.addArtifact).Methods(http.MethodPost)
	secured.HandleFunc("/incidents/{incidentId}/alerts", a.linkAlert).Methods(http.MethodPost)
	secured.HandleFunc("/incidents/{incidentId}/phase", a.setIncidentPhase).Methods(http.MethodPatch)
	secured.HandleFunc("/incidents/{incidentId}/assign", a.assignIncident).Methods(http.MethodPatch)
	secured.HandleFunc("/incidents/{incidentId}/resolve", a.resolveIncident).Methods(http.MethodPost)

	secured.HandleFunc("/rules", a.listRules).Methods(http.MethodGet)
	secured.HandleFunc("/rules", a.createRule).Methods(http.MethodPost)
	secured.HandleFunc("/rules/import", a.importRules).Methods(http.MethodPost)
	secured.HandleFunc("/rules/{ruleId}", a.getRule).Methods(http.MethodGet)
	secured.HandleFunc("/rules/{ruleId}", a.updateRule).Methods(http.MethodPut)
	secured.HandleFunc("/rules/{ruleId}", a.deleteRule).Methods(http.MethodDelete)
	secured.HandleFunc("/rules/{ruleId}/enabled", a.setRuleEnabled).Methods(http.MethodPatch)

	secured.HandleFunc("/audit", a.listAudit).Methods(http.MethodGet)

	secured.HandleFunc("/dlq", a.listDeadLetters).Methods(http.MethodGet)
	secured.HandleFunc("/dlq/{id}", a.getDeadLetter).Methods(http.MethodGet)
	secured.HandleFunc("/dlq/{id}", a.discardDeadLetter).Methods(http.MethodDelete)
	secured.HandleFunc("/dlq/{id}/replay", a.replayDeadLetter).Methods(http.MethodPost)

	if a.hub != nil {
		secured.HandleFunc("/stream", a.stream).Methods(http.MethodGet)
	}
}

func (a *API) newServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Start serves plain HTTP on the configured port
func (a *API) Start() error {
	return a.server.ListenAndServe()
}

// StartTLS serves HTTPS on the configured port
func (a *API) StartTLS() error {
	return a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return a.server.Shutdown(ctx)
}
