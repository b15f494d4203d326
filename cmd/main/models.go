package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/CTAG07/markovtext/pkg/markov"
)

// ModelCache keeps loaded models in memory so generation does not go to the
// database on every request. Models are loaded lazily on first use.
type ModelCache struct {
	mu     sync.RWMutex
	texts  map[string]*markov.Text
	store  *markov.Store
	logger *slog.Logger
}

// NewModelCache creates an empty cache backed by store.
func NewModelCache(store *markov.Store, logger *slog.Logger) *ModelCache {
	return &ModelCache{
		texts:  make(map[string]*markov.Text),
		store:  store,
		logger: logger,
	}
}

// Get returns the model stored under name, loading it if needed.
// markov.ErrModelNotFound is returned for unknown names.
func (mc *ModelCache) Get(ctx context.Context, name string) (*markov.Text, error) {
	mc.mu.RLock()
	text, ok := mc.texts[name]
	mc.mu.RUnlock()
	if ok {
		return text, nil
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	// Another request may have loaded it while we waited for the lock.
	if text, ok = mc.texts[name]; ok {
		return text, nil
	}
	text, err := mc.store.LoadText(ctx, name, markov.WithLogger(mc.logger))
	if err != nil {
		return nil, err
	}
	mc.texts[name] = text
	return text, nil
}

// Train builds a model from corpus, stores it under name and caches it,
// replacing any previous model with that name.
func (mc *ModelCache) Train(ctx context.Context, name string, corpus io.Reader, opts ...markov.TextOption) (markov.ModelInfo, error) {
	opts = append(opts, markov.WithLogger(mc.logger))
	text, err := markov.NewTextFromReader(corpus, opts...)
	if err != nil {
		return markov.ModelInfo{}, err
	}
	return mc.put(ctx, name, text)
}

// Import reads an exported model, stores it under its exported name and
// caches it. Names the API could not address are refused.
func (mc *ModelCache) Import(ctx context.Context, r io.Reader) (markov.ModelInfo, error) {
	text, name, err := markov.ImportText(r, markov.WithLogger(mc.logger))
	if err != nil {
		return markov.ModelInfo{}, err
	}
	if !validModelName(name) {
		return markov.ModelInfo{}, fmt.Errorf("%w: %q", errInvalidModelName, name)
	}
	return mc.put(ctx, name, text)
}

func (mc *ModelCache) put(ctx context.Context, name string, text *markov.Text) (markov.ModelInfo, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	model, err := mc.store.SaveText(ctx, name, text)
	if err != nil {
		return markov.ModelInfo{}, err
	}
	mc.texts[name] = text
	return model, nil
}

// Remove deletes the model from the store and the cache.
func (mc *ModelCache) Remove(ctx context.Context, model markov.ModelInfo) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if err := mc.store.RemoveModel(ctx, model); err != nil {
		return err
	}
	delete(mc.texts, model.Name)
	return nil
}

// Drop evicts a model from the cache without touching the store.
func (mc *ModelCache) Drop(name string) {
	mc.mu.Lock()
	delete(mc.texts, name)
	mc.mu.Unlock()
}

// Loaded returns how many models are currently held in memory.
func (mc *ModelCache) Loaded() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.texts)
}

// TrainCorpora trains every configured corpus whose model is not stored yet.
// Failures are logged and skipped so one bad file does not stop startup.
func (mc *ModelCache) TrainCorpora(ctx context.Context, cfg MarkovConfig) {
	stored, err := mc.store.GetModelInfos(ctx)
	if err != nil {
		mc.logger.Error("Failed to list stored models, skipping corpus training", "error", err)
		return
	}

	for name, path := range cfg.Corpora {
		if _, ok := stored[name]; ok {
			mc.logger.Debug("Model already stored, skipping corpus", "model", name, "path", path)
			continue
		}
		if err = mc.trainFile(ctx, name, path, cfg.TextOptions()); err != nil {
			mc.logger.Error("Failed to train model from corpus", "model", name, "path", path, "error", err)
			continue
		}
		mc.logger.Info("Trained model from corpus", "model", name, "path", path)
	}
}

func (mc *ModelCache) trainFile(ctx context.Context, name, path string, opts []markov.TextOption) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open corpus: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	_, err = mc.Train(ctx, name, f, opts...)
	return err
}
