package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// PruneModel removes all chain links from a stored model that have a
// frequency less than or equal to `minFreq`. This is useful for reducing the
// size of a model by removing rare, and often noisy, transitions.
//
// Pruning can leave states whose successors are no longer recorded. Walks
// that run into one are treated as dead ends and rejected by Generate, so a
// heavily pruned model may need more tries to produce output.
func (s *Store) PruneModel(ctx context.Context, model ModelInfo, minFreq int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM markov_chains WHERE model_id = ? AND frequency <= ?;`, model.Id, minFreq)
	if err != nil {
		return fmt.Errorf("could not prune model %d: %w", model.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "Model pruned",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("min_frequency", minFreq),
		slog.Int64("chains_removed", rowsAffected),
	)
	return nil
}
