package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CTAG07/markovtext/pkg/markov"
	"github.com/natefinch/atomic"
)

// maxCountPerRequest bounds how many sentences one generate request may ask for.
const maxCountPerRequest = 100

// MarkovAPI holds the dependencies for the Markov model API handlers.
type MarkovAPI struct {
	store  *markov.Store
	cache  *ModelCache
	cm     *ConfigManager
	stats  *StatsAPI
	logger *slog.Logger
}

// NewMarkovAPI creates a new instance of the MarkovAPI.
func NewMarkovAPI(store *markov.Store, cache *ModelCache, cm *ConfigManager, stats *StatsAPI, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		store:  store,
		cache:  cache,
		cm:     cm,
		stats:  stats,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/markov endpoints.
func (m *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/markov/models", m.handleListAndCreateModels)
	mux.HandleFunc("/api/markov/models/", m.handleModelByName)
	mux.HandleFunc("/api/markov/import", m.handleImport)
}

type PruneRequest struct {
	MinFreq int `json:"minFreq"`
}

// GenerateResponse is returned by the generate endpoint. Sentences may hold
// fewer entries than requested if generation ran out of tries.
type GenerateResponse struct {
	Model     string   `json:"model"`
	Sentences []string `json:"sentences"`
}

// handleListAndCreateModels handles GET for listing and POST for training models.
func (m *MarkovAPI) handleListAndCreateModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		models, err := m.store.GetModelInfos(r.Context())
		if err != nil {
			m.logger.Error("Failed to get model infos", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve models: %v", err))
			return
		}
		// Convert map to slice for consistent JSON output
		modelList := make([]markov.ModelInfo, 0, len(models))
		for _, model := range models {
			modelList = append(modelList, model)
		}
		respondWithJSON(w, http.StatusOK, modelList)

	case http.MethodPost:
		name := r.URL.Query().Get("name")
		if !validModelName(name) {
			respondWithError(w, http.StatusBadRequest, "A valid model name is required")
			return
		}
		m.train(w, r, name)

	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleModelByName routes actions for a specific model, e.g., train, generate, export, delete.
func (m *MarkovAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/markov/models/")
	parts := strings.Split(path, "/")
	modelName := parts[0]

	if !validModelName(modelName) {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}

	// Training creates the model, so it is the only action allowed on a name
	// that is not stored yet.
	if len(parts) == 2 && parts[1] == "train" {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		m.train(w, r, modelName)
		return
	}

	model, err := m.store.GetModelInfo(r.Context(), modelName)
	if err != nil {
		if errors.Is(err, markov.ErrModelNotFound) {
			respondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		m.logger.Error("Failed to get model info by name", "name", modelName, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}

	if len(parts) == 1 { // Path is just /api/markov/models/{name}
		switch r.Method {
		case http.MethodGet:
			respondWithJSON(w, http.StatusOK, model)
		case http.MethodDelete:
			if err = m.cache.Remove(r.Context(), model); err != nil {
				m.logger.Error("Failed to remove model", "name", modelName, "error", err)
				respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove model: %v", err))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	action := parts[1]
	switch action {
	case "generate":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		m.generate(w, r, model)

	case "prune":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var req PruneRequest
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if err = m.store.PruneModel(r.Context(), model, req.MinFreq); err != nil {
			m.logger.Error("Failed to prune model", "name", modelName, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Pruning failed: %v", err))
			return
		}
		m.cache.Drop(model.Name)
		w.WriteHeader(http.StatusNoContent)

	case "export":
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", modelName))
			if err = m.store.ExportModel(r.Context(), model, w); err != nil {
				m.logger.Error("Failed to export model", "name", modelName, "error", err)
			}
		case http.MethodPost:
			path, err := m.exportToFile(r.Context(), model)
			if err != nil {
				m.logger.Error("Failed to export model to file", "name", modelName, "error", err)
				respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Export failed: %v", err))
				return
			}
			respondWithJSON(w, http.StatusCreated, map[string]string{"path": path})
		default:
			w.Header().Set("Allow", "GET, POST")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}

	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

// train builds a model from the request body and stores it under name.
func (m *MarkovAPI) train(w http.ResponseWriter, r *http.Request, name string) {
	cfg := m.cm.Markov()
	opts := cfg.TextOptions()
	if v := r.URL.Query().Get("state_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > markov.MaxStateSize {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("state_size must be an integer between 1 and %d", markov.MaxStateSize))
			return
		}
		opts = append(opts, markov.WithTextStateSize(n))
	}

	model, err := m.cache.Train(r.Context(), name, r.Body, opts...)
	if err != nil {
		if errors.Is(err, markov.ErrEmptyCorpus) {
			respondWithError(w, http.StatusBadRequest, "Corpus contains no usable sentences")
			return
		}
		m.logger.Error("Failed to train model", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusCreated, model)
}

// generate serves one or more sentences from a cached model.
func (m *MarkovAPI) generate(w http.ResponseWriter, r *http.Request, model markov.ModelInfo) {
	query := r.URL.Query()
	cfg := m.cm.Markov()
	opts := cfg.GenerateOptions()

	intParams := []struct {
		name string
		opt  func(int) markov.GenerateOption
	}{
		{"tries", markov.WithTries},
		{"min", markov.WithMinWords},
		{"max", markov.WithMaxWords},
		{"overlap_total", markov.WithMaxOverlapTotal},
	}
	for _, p := range intParams {
		v := query.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a non-negative integer", p.name))
			return
		}
		opts = append(opts, p.opt(n))
	}
	if v := query.Get("overlap_ratio"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || ratio < 0 {
			respondWithError(w, http.StatusBadRequest, "overlap_ratio must be a non-negative number")
			return
		}
		opts = append(opts, markov.WithMaxOverlapRatio(ratio))
	}
	if v := query.Get("test"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "test must be a boolean")
			return
		}
		opts = append(opts, markov.WithOverlapTest(enabled))
	}

	count := 1
	if v := query.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxCountPerRequest {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxCountPerRequest))
			return
		}
		count = n
	}

	text, err := m.cache.Get(r.Context(), model.Name)
	if err != nil {
		m.logger.Error("Failed to load model", "name", model.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return
	}

	resp := GenerateResponse{Model: model.Name, Sentences: []string{}}
	if start := query.Get("start"); start != "" {
		for i := 0; i < count; i++ {
			sentence, err := text.GenerateWithStart(start, opts...)
			if errors.Is(err, markov.ErrUnknownWord) || errors.Is(err, markov.ErrNoStartState) {
				respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Cannot start from %q: %v", start, err))
				return
			}
			if sentence == "" {
				break
			}
			resp.Sentences = append(resp.Sentences, sentence)
		}
	} else {
		for sentence := range text.GenerateStream(r.Context(), count, opts...) {
			resp.Sentences = append(resp.Sentences, sentence)
		}
	}

	m.stats.RecordGeneration(model.Name, count, len(resp.Sentences))
	respondWithJSON(w, http.StatusOK, resp)
}

// exportToFile writes the model's JSON export into the configured export
// directory and returns the file path.
func (m *MarkovAPI) exportToFile(ctx context.Context, model markov.ModelInfo) (string, error) {
	dir := m.cm.Get().Server.ExportDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create export directory: %w", err)
	}

	var buf bytes.Buffer
	if err := m.store.ExportModel(ctx, model, &buf); err != nil {
		return "", err
	}

	path := filepath.Join(dir, model.Name+".json")
	if err := atomic.WriteFile(path, &buf); err != nil {
		return "", fmt.Errorf("could not write export file: %w", err)
	}
	m.logger.Info("Model exported to file", "name", model.Name, "path", path)
	return path, nil
}

// handleImport imports a model from an uploaded JSON file.
func (m *MarkovAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	model, err := m.cache.Import(r.Context(), r.Body)
	if err != nil {
		m.logger.Error("Failed to import model", "error", err)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusCreated, model)
}

var errInvalidModelName = errors.New("invalid model name")

// validModelName rejects names that cannot be used in a URL path segment or
// as an export file name.
func validModelName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
