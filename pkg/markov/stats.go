package markov

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBStats holds aggregated statistics for the entire store, including a
// list of all models and their individual stats.
type DBStats struct {
	Models     []ModelInfo        // A list of models in the store
	Stats      map[int]ModelStats // A mapping of model ids to their stats
	PrefixSize int                // The number of unique prefixes across all models
}

// ModelStats holds aggregated statistics for a single Markov model.
type ModelStats struct {
	VocabSize      int // The number of tokens in the model's vocabulary, sentinels included.
	States         int // The number of unique states (prefixes) recorded.
	TotalChains    int // The number of unique state->next_token links.
	TotalFrequency int // The sum of frequencies of all links; the total number of trained transitions.
	StartingTokens int // The number of unique tokens that can start a sentence.
}

// Stats returns statistics for the chain. VocabSize is left at zero since a
// Chain does not know its vocabulary.
func (c *Chain[T]) Stats() ModelStats {
	stats := ModelStats{
		States:         len(c.states),
		StartingTokens: len(c.beginChoices),
	}
	for _, w := range c.states {
		stats.TotalChains += len(w.next)
		for _, n := range w.counts {
			stats.TotalFrequency += n
		}
	}
	return stats
}

// Stats returns statistics for the Text's chain and vocabulary.
func (t *Text) Stats() ModelStats {
	stats := t.chain.Stats()
	stats.VocabSize = t.vocab.Len()
	return stats
}

// GetStats returns a snapshot of statistics for the entire store,
// including global counts and per-model stats.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	modelInfos, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	var prefixLen int
	err = s.stmtGetPrefixLen.QueryRowContext(ctx).Scan(&prefixLen)
	if err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(modelInfos))
	modelStats := make(map[int]ModelStats)
	for _, v := range modelInfos {
		models = append(models, v)
		stats, err := s.modelStats(ctx, v)
		if err != nil {
			return nil, err
		}
		modelStats[v.Id] = stats
	}

	return &DBStats{
		Models:     models,
		Stats:      modelStats,
		PrefixSize: prefixLen,
	}, nil
}

func (s *Store) modelStats(ctx context.Context, model ModelInfo) (ModelStats, error) {
	var stats ModelStats
	if err := s.stmtModelVocabLen.QueryRowContext(ctx, model.Id).Scan(&stats.VocabSize); err != nil {
		return ModelStats{}, err
	}
	if err := s.stmtModelStates.QueryRowContext(ctx, model.Id).Scan(&stats.States); err != nil {
		return ModelStats{}, err
	}
	if err := s.stmtModelChains.QueryRowContext(ctx, model.Id).Scan(&stats.TotalChains); err != nil {
		return ModelStats{}, err
	}
	if err := s.stmtModelFreq.QueryRowContext(ctx, model.Id).Scan(&stats.TotalFrequency); err != nil {
		return ModelStats{}, err
	}

	if model.Order < 1 || model.Order > MaxStateSize {
		return ModelStats{}, fmt.Errorf("model '%s' has invalid order %d", model.Name, model.Order)
	}
	initial := make([]Token, model.Order)
	for i := range initial {
		initial[i] = BeginToken
	}
	var beginID int
	err := s.stmtGetPrefixID.QueryRowContext(ctx, prefixKeyOf(initial)).Scan(&beginID)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return ModelStats{}, err
	}
	if err = s.stmtModelStarters.QueryRowContext(ctx, model.Id, beginID).Scan(&stats.StartingTokens); err != nil {
		return ModelStats{}, err
	}
	return stats, nil
}
