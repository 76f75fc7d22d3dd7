package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"replay-orchestration/internal/jobs"
	"replay-orchestration/internal/journal"
	"replay-orchestration/internal/replay"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-ID"

// Server exposes the job registry and the slice catalog over HTTP.
type Server struct {
	mux      *http.ServeMux
	registry *jobs.Registry
	catalog  *replay.ConfigStore
	journal  journal.Sink
}

// NewServer wires the routes. A nil sink disables the journal.
func NewServer(registry *jobs.Registry, catalog *replay.ConfigStore, sink journal.Sink) *Server {
	if sink == nil {
		sink = journal.Nop{}
	}
	s := &Server{
		mux:      http.NewServeMux(),
		registry: registry,
		catalog:  catalog,
		journal:  sink,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/job", s.handleJob)         // GET ?nextjob | ?jobid= | ?position=, POST ?jobid=
	s.mux.HandleFunc("/status", s.handleStatus)   // GET
	s.mux.HandleFunc("/summary", s.handleSummary) // GET
	s.mux.HandleFunc("/run", s.handleRun)         // POST
	s.mux.HandleFunc("/config", s.handleConfig)   // GET ?sliceid=, POST
	s.mux.HandleFunc("/healthcheck", s.handleHealthcheck)
}

// Handler returns the routed handler wrapped in the logging and recovery
// middlewares.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.loggingMiddleware(s.mux))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("HTTP server running on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loggingMiddleware tags every request with an id and logs it.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		logrus.WithField("request_id", reqID).Infof("%s %s", r.Method, r.URL.RequestURI())
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware catches panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.Errorf("panic recovered: %v", rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
