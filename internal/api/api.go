// Package api provides the HTTP/JSON inspection surface named in
// spec.md §1 as a collaborator: backend and server listing, a reload
// trigger, and Prometheus metrics. It consumes the core components but
// is not itself part of the proxy's specified behavior.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mcbegate/internal/backend"
	"mcbegate/internal/reload"
)

// Response is the unified envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, Response{Success: false, Message: message})
}

// Server wires the inspection routes to a backend and the reload
// orchestrator, and exposes a dedicated Prometheus registry so its
// gauges never collide with the default global one.
type Server struct {
	router   *gin.Engine
	backend  *backend.Backend
	reloader *reload.Orchestrator
	log      *zap.SugaredLogger

	registry   *prometheus.Registry
	loadGauge  *prometheus.GaugeVec
	aliveGauge *prometheus.GaugeVec
}

// New builds the inspection server. Serve its Handler (via http.Server
// or httptest) to expose it; this package never listens on its own.
func New(b *backend.Backend, reloader *reload.Orchestrator, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)

	registry := prometheus.NewRegistry()
	s := &Server{
		router:   gin.New(),
		backend:  b,
		reloader: reloader,
		log:      log,
		registry: registry,
		loadGauge: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcbegate_server_load_score",
			Help: "Current load score of a backend server.",
		}, []string{"server_id", "address"}),
		aliveGauge: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcbegate_server_alive",
			Help: "1 if the server is currently considered alive, 0 otherwise.",
		}, []string{"server_id", "address"}),
	}
	s.setupRoutes()
	return s
}

// Handler returns the underlying HTTP handler for a caller-owned
// http.Server to listen with.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())

	s.router.GET("/backends", s.getBackends)
	s.router.GET("/backends/:id/servers", s.getBackendServers)
	s.router.POST("/reload", s.postReload)
	s.router.GET("/metrics", s.getMetrics)
}

type backendSummary struct {
	ID          string `json:"id"`
	ServerCount int    `json:"server_count"`
	Method      string `json:"load_balance_method"`
}

// getBackends lists the proxy's single backend. Kept plural (§1's
// collaborator surface is modeled on a multi-backend inspection API in
// original_source/) even though one proxy instance routes to exactly
// one backend.
func (s *Server) getBackends(c *gin.Context) {
	servers := s.backend.Servers()
	respondSuccess(c, []backendSummary{{
		ID:          s.backend.ID(),
		ServerCount: len(servers),
		Method:      string(s.backend.Balancer().Method()),
	}})
}

type serverSummary struct {
	ID             string `json:"id"`
	Address        string `json:"address"`
	Alive          bool   `json:"alive"`
	FailedAttempts int    `json:"failed_attempts"`
	LoadScore      int64  `json:"load_score"`
	ConnectedCount int    `json:"connected_count"`
}

func (s *Server) getBackendServers(c *gin.Context) {
	id := c.Param("id")
	if id != s.backend.ID() {
		respondError(c, http.StatusNotFound, "unknown backend id")
		return
	}

	servers := s.backend.Servers()
	out := make([]serverSummary, 0, len(servers))
	for _, srv := range servers {
		out = append(out, serverSummary{
			ID:             srv.ID(),
			Address:        srv.Address().String(),
			Alive:          srv.Alive(),
			FailedAttempts: srv.FailedAttempts(),
			LoadScore:      srv.LoadScore(),
			ConnectedCount: srv.ConnectedCount(),
		})
	}
	respondSuccess(c, out)
}

// postReload triggers the same reload sequence an operator signal or
// console command would (§4.13), returning any re-parse failure to the
// caller instead of just logging it.
func (s *Server) postReload(c *gin.Context) {
	if err := s.reloader.Reload(); err != nil {
		respondError(c, http.StatusBadRequest, "reload failed: "+err.Error())
		return
	}
	respondSuccess(c, nil)
}

// getMetrics refreshes the per-server gauges from the backend's
// current state, then serves them through promhttp against this
// server's dedicated registry.
func (s *Server) getMetrics(c *gin.Context) {
	for _, srv := range s.backend.Servers() {
		labels := prometheus.Labels{"server_id": srv.ID(), "address": srv.Address().String()}
		s.loadGauge.With(labels).Set(float64(srv.LoadScore()))
		alive := 0.0
		if srv.Alive() {
			alive = 1.0
		}
		s.aliveGauge.With(labels).Set(alive)
	}
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}
