package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/CTAG07/markovtext/pkg/markov"
)

// GenerationStats counts generate requests for a single model since startup.
type GenerationStats struct {
	Model     string    `json:"model"`
	Requests  int64     `json:"requests"`
	Requested int64     `json:"sentences_requested"`
	Served    int64     `json:"sentences_served"`
	LastSeen  time.Time `json:"last_seen"`
}

// StatsSummary provides a high-level overview of the store and the server.
type StatsSummary struct {
	Store        *markov.DBStats `json:"store"`
	LoadedModels int             `json:"loaded_models"`
	Uptime       string          `json:"uptime"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	store   *markov.Store
	cache   *ModelCache
	started time.Time
	logger  *slog.Logger

	mu          sync.Mutex
	generations map[string]*GenerationStats
}

func NewStatsAPI(store *markov.Store, cache *ModelCache, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		store:       store,
		cache:       cache,
		started:     time.Now(),
		logger:      logger,
		generations: make(map[string]*GenerationStats),
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", s.handleSummary)
	mux.HandleFunc("/api/stats/generations", s.handleGenerations)
}

// RecordGeneration is called by the generate handler after every request.
func (s *StatsAPI) RecordGeneration(model string, requested, served int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.generations[model]
	if !ok {
		g = &GenerationStats{Model: model}
		s.generations[model] = g
	}
	g.Requests++
	g.Requested += int64(requested)
	g.Served += int64(served)
	g.LastSeen = time.Now()
}

// handleSummary returns store statistics for every model.
func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to get store stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}

	respondWithJSON(w, http.StatusOK, StatsSummary{
		Store:        stats,
		LoadedModels: s.cache.Loaded(),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
	})
}

// handleGenerations returns per-model generation counters, busiest first.
func (s *StatsAPI) handleGenerations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	list := make([]GenerationStats, 0, len(s.generations))
	for _, g := range s.generations {
		list = append(list, *g)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Requests != list[j].Requests {
			return list[i].Requests > list[j].Requests
		}
		return list[i].Model < list[j].Model
	})
	respondWithJSON(w, http.StatusOK, list)
}
