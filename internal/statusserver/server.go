// Package statusserver exposes a small read-only HTTP surface for operator
// observability: version, the Top's registry snapshot, and Prometheus
// metrics. Grounded on the teacher's server/server.go (mux subrouters,
// logging middleware, graceful Shutdown), stripped of the embedded web UI
// and SOL-session handlers that have no counterpart in this domain.
package statusserver

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/bender2333/tpmesh/internal/registry"
)

// Server serves the status/metrics HTTP API. A nil Registry is valid (the
// Leaf role has no directory to expose); /api/registry then responds 404.
type Server struct {
	addr       string
	reg        *registry.Registry
	router     *mux.Router
	httpServer *http.Server
}

// New builds a Server listening on addr. reg may be nil for the Leaf role.
func New(addr string, reg *registry.Registry) *Server {
	s := &Server{
		addr:   addr,
		reg:    reg,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	if s.reg != nil {
		api.HandleFunc("/registry", s.handleRegistry).Methods("GET")
	}
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(log.Fields{"method": r.Method, "path": r.URL.Path, "remote": r.RemoteAddr}).Debug("statusserver: request")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, shutting down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("statusserver: context done, shutting down")
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("statusserver: listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
