package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"biotutor/internal/config"
	"biotutor/internal/logging"
	"biotutor/internal/session"
	"biotutor/internal/sse"
	"biotutor/internal/workflow"
)

// Server owns the HTTP listener and the session cleanup loop.
type Server struct {
	cfg        *config.Config
	store      *session.Store
	publisher  *sse.Publisher
	tutor      *workflow.Tutor
	httpServer *http.Server
	logger     logging.Logger

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewServer builds the server over its collaborators.
func NewServer(cfg *config.Config, store *session.Store, publisher *sse.Publisher, tutor *workflow.Tutor) *Server {
	router := NewRouter(cfg, store, publisher, tutor)
	return &Server{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		tutor:     tutor,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:      logging.NewComponentLogger("Server"),
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Start runs the listener and the cleanup loop. Blocks until the listener
// stops.
func (s *Server) Start() error {
	go s.runCleanupLoop()

	s.logger.Info("Listening on %s", s.cfg.Server.Addr())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the cleanup loop and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.cleanupStop)
	select {
	case <-s.cleanupDone:
	case <-ctx.Done():
	}
	return s.httpServer.Shutdown(ctx)
}

// runCleanupLoop periodically removes expired sessions together with their
// publisher and tutoring state.
func (s *Server) runCleanupLoop() {
	defer close(s.cleanupDone)

	interval := s.cfg.Sessions.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			removed := s.store.CleanupOld(s.cfg.Sessions.MaxAge)
			for _, id := range removed {
				s.publisher.ClearSession(id)
				s.tutor.ReleaseSession(id)
			}
		}
	}
}
