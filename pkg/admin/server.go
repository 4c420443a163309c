package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mnohosten/repcrec/pkg/events"
	"github.com/mnohosten/repcrec/pkg/metrics"
	"github.com/mnohosten/repcrec/pkg/txnmgr"
)

// Server is the optional HTTP/WebSocket inspection surface over a live
// txnmgr.Manager. It never participates in the TM-DM transport or the
// tick loop itself: it only observes a manager's read-only snapshot
// methods and the event stream, so it can run concurrently with the
// driver without affecting the simulation's determinism.
type Server struct {
	config    *Config
	manager   *txnmgr.Manager
	logger    *events.Logger
	collector *metrics.Collector
	router    *chi.Mux
	httpSrv   *http.Server
	startTime time.Time
	stream    *eventStream
	gql       *graphQLHandler
}

// New wires up the admin server's routes against manager and logger. The
// logger is the manager's events.Logger; the server registers its own
// sinks on it (metrics collection, WebSocket fan-out) so callers don't
// have to wire those by hand.
func New(config *Config, manager *txnmgr.Manager, logger *events.Logger) (*Server, error) {
	if config.EnableTLS {
		if config.TLSCertFile == "" || config.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS enabled but certificate or key file not specified")
		}
		if _, err := os.Stat(config.TLSCertFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS certificate file not found: %s", config.TLSCertFile)
		}
		if _, err := os.Stat(config.TLSKeyFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS key file not found: %s", config.TLSKeyFile)
		}
	}

	collector := metrics.NewCollector()
	logger.AddSink(metrics.NewEventSink(collector))

	srv := &Server{
		config:    config,
		manager:   manager,
		logger:    logger,
		collector: collector,
		router:    chi.NewRouter(),
		startTime: time.Now(),
		stream:    newEventStream(config.AllowedOrigins),
	}
	logger.AddSink(srv.stream)

	if config.EnableGraphQL {
		gql, err := newGraphQLHandler(manager)
		if err != nil {
			return nil, fmt.Errorf("failed to build GraphQL schema: %w", err)
		}
		srv.gql = gql
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return srv, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.jsonContentType(s.handleHealth))
	s.router.Get("/sites", s.jsonContentType(s.handleSites))
	s.router.Get("/transactions", s.jsonContentType(s.handleTransactions))
	s.router.Get("/waits-for", s.jsonContentType(s.handleWaitsFor))
	s.router.Get("/dump/{item}", s.jsonContentType(s.handleDumpItem))

	s.router.Get("/metrics", s.handlePrometheusMetrics)
	s.router.Get("/events", s.stream.ServeHTTP)

	if s.gql != nil {
		s.router.Post("/graphql", s.gql.ServeHTTP)
		s.router.Get("/graphiql", graphiQLHandler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"uptime":    time.Since(s.startTime).String(),
		"now":       s.manager.Now(),
		"graphqlOn": s.gql != nil,
	})
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Sites())
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Transactions())
}

func (s *Server) handleWaitsFor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.WaitsFor())
}

func (s *Server) handleDumpItem(w http.ResponseWriter, r *http.Request) {
	itemParam := chi.URLParam(r, "item")
	item, err := strconv.Atoi(itemParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_item", fmt.Sprintf("invalid item id %q", itemParam))
		return
	}

	out := make(map[int]map[int]int)
	for _, siteID := range s.manager.SiteIDs() {
		values, ok := s.manager.ItemValues(siteID)
		if !ok {
			continue
		}
		if value, hosted := values[item]; hosted {
			out[siteID] = map[int]int{item: value}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	exporter := metrics.NewPrometheusExporter(s.collector)
	if err := exporter.WriteMetrics(w); err != nil {
		http.Error(w, fmt.Sprintf("error writing metrics: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) jsonContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// Serve runs the HTTP listener until it errors or Shutdown is called,
// returning nil on a clean shutdown (http.ErrServerClosed is swallowed).
// Meant to run in its own goroutine alongside the driver's tick loop,
// which owns the process's actual lifetime.
func (s *Server) Serve() error {
	protocol := "http"
	if s.config.EnableTLS {
		protocol = "https"
	}
	fmt.Printf("admin: listening on %s://%s:%d\n", protocol, s.config.Host, s.config.Port)

	var err error
	if s.config.EnableTLS {
		err = s.httpSrv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

// Start runs Serve in the background and blocks until an OS signal
// arrives or the listener fails, then shuts down gracefully. Intended
// for a standalone admin server with no foreground driver of its own.
func (s *Server) Start() error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// Collector exposes the server's metrics collector, e.g. for a driver
// that wants to print a summary on exit.
func (s *Server) Collector() *metrics.Collector {
	return s.collector
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, errorType, message string) {
	writeJSON(w, statusCode, map[string]interface{}{
		"error":   errorType,
		"message": message,
	})
}
