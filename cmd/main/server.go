package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CTAG07/markovtext/pkg/markov"
)

type Server struct {
	cm        *ConfigManager
	db        *sql.DB
	logger    *slog.Logger
	store     *markov.Store
	cache     *ModelCache
	markovAPI *MarkovAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	store, err := markov.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("error creating markov store: %w", err)
	}
	store.SetLogger(logger)

	cache := NewModelCache(store, logger)

	// api initialization
	statsAPI := NewStatsAPI(store, cache, logger)
	markovAPI := NewMarkovAPI(store, cache, cm, statsAPI, logger)
	serverAPI := NewServerAPI(cm, actionChan, logger)

	server := &Server{
		cm:        cm,
		db:        db,
		logger:    logger,
		store:     store,
		cache:     cache,
		markovAPI: markovAPI,
		statsAPI:  statsAPI,
		serverAPI: serverAPI,
		apiMux:    http.NewServeMux(),
	}

	server.markovAPI.RegisterRoutes(server.apiMux)
	server.statsAPI.RegisterRoutes(server.apiMux)
	server.serverAPI.RegisterRoutes(server.apiMux)

	return server, nil
}

// Handler returns the API mux wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.apiMux)
}

// Close releases the store's prepared statements. The database is closed by the caller.
func (s *Server) Close() {
	s.store.Close()
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("Handled API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote_addr", getClientIP(r),
			"duration", time.Since(start),
		)
	})
}

func getClientIP(r *http.Request) string {

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	realIP := r.Header.Get("X-Real-Ip")
	if realIP != "" {
		return realIP
	}

	// The X-Forwarded-For header can contain a comma-separated list of IPs.
	// The first IP in the list is the original client IP.
	forwardedFor := r.Header.Get("X-Forwarded-For")
	if forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// initDB opens the model database and makes sure the schema exists.
func initDB(ctx context.Context, dataSource string) (*sql.DB, error) {
	db, err := openDB(dataSource)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection avoids busy errors on
	// concurrent training requests.
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not reach database: %w", err)
	}
	if err = markov.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup markov schema: %w", err)
	}
	return db, nil
}
