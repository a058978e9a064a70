// Package spotpeer assembles the occupancy service: snapshot source, push
// channel, reconciled view and HTTP API.
package spotpeer

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/service"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/server"
	"github.com/autopeer-io/spotpeer/pkg/log"
)

// Server is the main application struct.
type Server struct {
	view          *service.View
	serverManager *server.Manager
	lot           atomic.Int64
	db            *sql.DB
}

// Run starts the view and the servers and blocks until ctx is done or one
// of them fails.
func (s *Server) Run(ctx context.Context) error {
	log.Info("Starting spotpeer...")
	if s.db != nil {
		defer s.db.Close()
	}

	s.serverManager.Add(server.ServerFunc(s.view.Run))
	s.serverManager.Add(server.ServerFunc(func(ctx context.Context) error {
		if err := s.ApplyLot(ctx); err != nil {
			// A failed initial fetch is retried by the periodic refresh.
			log.Warn("Initial lot selection incomplete", "lot", s.lot.Load(), "error", err.Error())
		}
		<-ctx.Done()
		return nil
	}))

	return s.serverManager.Start(ctx)
}

// SetLot changes the configured lot. It takes effect on the next ApplyLot.
func (s *Server) SetLot(id int64) {
	s.lot.Store(id)
}

// ApplyLot selects the configured lot if it differs from the active one.
// It is called at startup and after every configuration reload.
func (s *Server) ApplyLot(ctx context.Context) error {
	want := model.LotID(s.lot.Load())
	if want == 0 {
		return nil
	}
	if active, ok := s.view.ActiveLot(); ok && active == want {
		return nil
	}
	err := s.view.Select(ctx, want)
	if errors.Is(err, service.ErrStaleSnapshot) {
		return nil
	}
	return err
}
