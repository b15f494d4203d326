package markov

import (
	"context"
	"testing"
)

func TestPruneModel(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	// "a b" is seen twice; every other link once.
	text := setupTestText(t, "a b c\na b d\n")
	model, err := s.SaveText(ctx, "prune_test", text)
	if err != nil {
		t.Fatalf("SaveText() failed: %v", err)
	}

	if err = s.PruneModel(ctx, model, 1); err != nil {
		t.Fatalf("PruneModel failed: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM markov_chains WHERE model_id = ? AND frequency <= 1", model.Id).Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected 0 chains with frequency 1 after pruning, got %d", count)
	}
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM markov_chains WHERE model_id = ?", model.Id).Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected the two frequency-2 chains to survive, got %d", count)
	}
}

func TestPrunedModelStillLoads(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	model, err := s.SaveText(ctx, "pruned", setupTestText(t, "a b c\na b d\n"))
	if err != nil {
		t.Fatalf("SaveText() failed: %v", err)
	}
	if err = s.PruneModel(ctx, model, 1); err != nil {
		t.Fatalf("PruneModel failed: %v", err)
	}

	text, err := s.LoadText(ctx, "pruned")
	if err != nil {
		t.Fatalf("LoadText() after pruning failed: %v", err)
	}

	// Every walk now runs into the "a b" state, which has no successors left.
	if got := text.Generate(WithOverlapTest(false), WithTries(20)); got != "" {
		t.Errorf("Generate() on a dead-ended model = %q, want empty string", got)
	}
}
