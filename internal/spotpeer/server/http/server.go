// Package http serves the spotpeer query API, probes and metrics.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/spotpeer/internal/pkg/metrics"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/service"
	"github.com/autopeer-io/spotpeer/pkg/log"
	"github.com/autopeer-io/spotpeer/pkg/options"
)

// View is the part of service.View exposed over HTTP.
type View interface {
	Select(ctx context.Context, lot model.LotID) error
	Refresh(ctx context.Context) error
	RequestStatus(ctx context.Context) error

	MergedView(lot model.LotID, f service.Filter) ([]model.MergedSpot, error)
	Stats(lot model.LotID) (model.Stats, error)
	Floors(lot model.LotID) ([]string, error)
	LotStats(lot model.LotID) (model.LotStatsReport, bool)
	Sensor(sensorID string) (model.SensorReading, bool)
	Baseline() service.Snapshot

	Connection() connection.ConnectionState
	Connect()
	Disconnect(ctx context.Context) error

	HasLiveUpdates() bool
	LastUpdate() time.Time
	Ready() bool
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	logger  log.Logger
}

func NewServer(opts *options.HttpOptions, view View, logger log.Logger) *Server {
	logger = logger.WithName("http")
	return &Server{
		server: &http.Server{
			Addr:         opts.Addr,
			Handler:      NewRouter(view, logger),
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
		options: opts,
		logger:  logger,
	}
}

// NewRouter returns the API handler. It is exported for tests and embedding.
func NewRouter(view View, logger log.Logger) http.Handler {
	h := &handler{view: view, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/lot", h.activeLot).Methods(http.MethodGet)
	api.HandleFunc("/lot", h.selectLot).Methods(http.MethodPut)
	api.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	api.HandleFunc("/request-status", h.requestStatus).Methods(http.MethodPost)
	api.HandleFunc("/lots/{lotId:[0-9]+}/spots", h.spots).Methods(http.MethodGet)
	api.HandleFunc("/lots/{lotId:[0-9]+}/stats", h.stats).Methods(http.MethodGet)
	api.HandleFunc("/lots/{lotId:[0-9]+}/floors", h.floors).Methods(http.MethodGet)
	api.HandleFunc("/lots/{lotId:[0-9]+}/live-stats", h.liveStats).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{sensorId}", h.sensor).Methods(http.MethodGet)
	api.HandleFunc("/connection", h.connection).Methods(http.MethodGet)
	api.HandleFunc("/connection/connect", h.connect).Methods(http.MethodPost)
	api.HandleFunc("/connection/disconnect", h.disconnect).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen(s.options.Network, s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
