// Package gateway is the HTTP surface of the bridge: the carrier media
// websocket, the call-record feed, the live-call view, health, and metrics.
package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frontdesk-ai/frontdesk/pkg/config"
	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
	"github.com/frontdesk-ai/frontdesk/pkg/handlers"
	"github.com/frontdesk-ai/frontdesk/pkg/logging"
	"github.com/frontdesk-ai/frontdesk/pkg/metrics"
	"github.com/frontdesk-ai/frontdesk/pkg/session"
	"github.com/frontdesk-ai/frontdesk/pkg/store"
)

// Server wires the handlers together. The dispatch pool is shared by all
// sessions so total function-call concurrency stays bounded.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	db       *store.DB
	tracker  *session.Tracker
	metrics  *metrics.Metrics
	pool     *dispatch.Pool
	practice handlers.PracticeClient
	mux      *http.ServeMux
	promReg  *prometheus.Registry
}

// New assembles the server. A nil practice client falls back to the
// in-memory development stub.
func New(cfg config.Config, db *store.DB, tracker *session.Tracker, practice handlers.PracticeClient, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	if practice == nil {
		practice = handlers.NewInMemoryPractice()
	}
	promReg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		log:      log.Sub("gateway"),
		db:       db,
		tracker:  tracker,
		metrics:  metrics.New(promReg),
		pool:     dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.Queue),
		practice: practice,
		mux:      http.NewServeMux(),
		promReg:  promReg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/media", mediaHandler{srv: s})
	s.mux.Handle("/v1/calls", recordsHandler{srv: s})
	s.mux.Handle("/v1/calls/", recordsHandler{srv: s})
	s.mux.Handle("/v1/live", liveHandler{srv: s})
	s.mux.Handle("/healthz", healthHandler{srv: s})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = CORS(h)
	h = Recover(s.log, h)
	h = AccessLog(s.log, h)
	h = RequestID(h)
	return h
}

// Close releases shared resources once the HTTP server has stopped.
func (s *Server) Close() {
	s.pool.Close()
}
