package markov

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

const storeCorpus = "one fish two fish\nred fish blue fish\nthe cat likes red fish\n"

func TestSetupSchemaIdempotent(t *testing.T) {
	db, _ := setupTestDB(t)
	if err := SetupSchema(db); err != nil {
		t.Errorf("second SetupSchema() failed: %v", err)
	}
}

func TestSaveAndLoadText(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	original := setupTestText(t, storeCorpus+mixCorpus, WithTextStateSize(2))
	model, err := s.SaveText(ctx, "fish", original)
	if err != nil {
		t.Fatalf("SaveText() failed: %v", err)
	}
	if model.Name != "fish" || model.Order != 2 || model.Id == 0 {
		t.Errorf("got unexpected model info: %+v", model)
	}

	loaded, err := s.LoadText(ctx, "fish")
	if err != nil {
		t.Fatalf("LoadText() failed: %v", err)
	}

	if !reflect.DeepEqual(loaded.Sentences(), original.Sentences()) {
		t.Errorf("sentences differ after load:\n%q\n%q", loaded.Sentences(), original.Sentences())
	}
	if !reflect.DeepEqual(loaded.Vocabulary().Words(), original.Vocabulary().Words()) {
		t.Error("vocabulary differs after load")
	}
	if !reflect.DeepEqual(loaded.Chain().Transitions(), original.Chain().Transitions()) {
		t.Error("transition table differs after load")
	}
	if !reflect.DeepEqual(loaded.Tokens(), original.Tokens()) {
		t.Error("tokenized sentences differ after load")
	}

	// Same table and same random sequence give the same output.
	a := setupTestText(t, storeCorpus+mixCorpus, WithTextRand(seededRand(21)))
	b, err := s.LoadText(ctx, "fish", WithTextRand(seededRand(21)))
	if err != nil {
		t.Fatalf("LoadText() failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if x, y := a.Generate(), b.Generate(); x != y {
			t.Fatalf("run %d: trained model produced %q, loaded model produced %q", i, x, y)
		}
	}
}

func TestSaveTextStateSize(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	original := setupTestText(t, storeCorpus, WithTextStateSize(3))
	model, err := s.SaveText(ctx, "order3", original)
	if err != nil {
		t.Fatalf("SaveText() failed: %v", err)
	}
	if model.Order != 3 {
		t.Errorf("expected order 3, got %d", model.Order)
	}

	// A conflicting state size option is overridden by the stored order.
	loaded, err := s.LoadText(ctx, "order3", WithTextStateSize(1))
	if err != nil {
		t.Fatalf("LoadText() failed: %v", err)
	}
	if loaded.Chain().StateSize() != 3 {
		t.Errorf("loaded state size = %d, want 3", loaded.Chain().StateSize())
	}
}

func TestSaveTextReplacesExisting(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	first, err := s.SaveText(ctx, "model", setupTestText(t, storeCorpus))
	if err != nil {
		t.Fatalf("SaveText() failed: %v", err)
	}
	second, err := s.SaveText(ctx, "model", setupTestText(t, mixCorpus))
	if err != nil {
		t.Fatalf("SaveText() over an existing model failed: %v", err)
	}

	models, err := s.GetModelInfos(ctx)
	if err != nil {
		t.Fatalf("GetModelInfos() failed: %v", err)
	}
	if len(models) != 1 || models["model"].Id != second.Id {
		t.Errorf("expected only the replacement model, got %+v", models)
	}

	var count int
	if err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM markov_sentences WHERE model_id = ?", first.Id).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if first.Id != second.Id && count != 0 {
		t.Errorf("expected the replaced model's sentences to be gone, found %d", count)
	}

	loaded, err := s.LoadText(ctx, "model")
	if err != nil {
		t.Fatalf("LoadText() failed: %v", err)
	}
	if want := []string{mixLine1, mixLine2}; !reflect.DeepEqual(loaded.Sentences(), want) {
		t.Errorf("loaded sentences = %q, want %q", loaded.Sentences(), want)
	}
}

func TestGetModelInfo(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	saved, err := s.SaveText(ctx, "test_model", setupTestText(t, storeCorpus))
	if err != nil {
		t.Fatalf("SaveText() failed: %v", err)
	}

	m, err := s.GetModelInfo(ctx, "test_model")
	if err != nil {
		t.Errorf("GetModelInfo: expected no error, got %v", err)
	}
	if m != saved {
		t.Errorf("GetModelInfo() = %+v, want %+v", m, saved)
	}

	_, err = s.GetModelInfo(ctx, "nonexistent_model")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound for nonexistent model, got %v", err)
	}
	if _, err = s.LoadText(ctx, "nonexistent_model"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound from LoadText, got %v", err)
	}
}

func TestGetModelInfos(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	_, _ = s.SaveText(ctx, "test_model", setupTestText(t, storeCorpus))
	_, _ = s.SaveText(ctx, "another_model", setupTestText(t, mixCorpus, WithTextStateSize(1)))

	models, err := s.GetModelInfos(ctx)
	if err != nil {
		t.Fatalf("GetModelInfos failed: %v", err)
	}
	if len(models) != 2 {
		t.Errorf("expected 2 models, got %d", len(models))
	}
	if _, ok := models["test_model"]; !ok {
		t.Error("expected to find 'test_model'")
	}
	if m, ok := models["another_model"]; !ok || m.Order != 1 {
		t.Errorf("expected to find 'another_model' with order 1, got %+v", m)
	}
}

func TestRemoveModel(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	m1, _ := s.SaveText(ctx, "to_delete", setupTestText(t, "delete this data\n"))
	m2, _ := s.SaveText(ctx, "to_keep", setupTestText(t, "keep this data\n"))

	if err := s.RemoveModel(ctx, m1); err != nil {
		t.Fatalf("RemoveModel failed: %v", err)
	}

	_, err := s.GetModelInfo(ctx, m1.Name)
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound for deleted model, got %v", err)
	}

	for _, table := range []string{"markov_chains", "markov_vocabulary", "markov_sentences"} {
		var count int
		_ = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE model_id = ?", m1.Id).Scan(&count)
		if count != 0 {
			t.Errorf("expected 0 rows in %s for deleted model, found %d", table, count)
		}
		_ = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE model_id = ?", m2.Id).Scan(&count)
		if count == 0 {
			t.Errorf("expected rows in %s for kept model, but found 0", table)
		}
	}
}

func TestGetStats(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	fish := setupTestText(t, storeCorpus)
	mix := setupTestText(t, mixCorpus)
	fishModel, _ := s.SaveText(ctx, "fish", fish)
	mixModel, _ := s.SaveText(ctx, "mix", mix)

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if len(stats.Models) != 2 {
		t.Errorf("expected 2 models in stats, got %d", len(stats.Models))
	}
	if got, want := stats.Stats[fishModel.Id], fish.Stats(); got != want {
		t.Errorf("stored stats for fish = %+v, want %+v", got, want)
	}
	if got, want := stats.Stats[mixModel.Id], mix.Stats(); got != want {
		t.Errorf("stored stats for mix = %+v, want %+v", got, want)
	}
	if stats.PrefixSize == 0 {
		t.Error("expected a non-zero prefix count")
	}
}

func TestStoreRejectsCorruptVocabulary(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	model, _ := s.SaveText(ctx, "corrupt", setupTestText(t, storeCorpus))
	if _, err := db.ExecContext(ctx, "DELETE FROM markov_vocabulary WHERE model_id = ? AND token_id = 3", model.Id); err != nil {
		t.Fatal(err)
	}

	if _, err := s.LoadText(ctx, "corrupt"); err == nil {
		t.Error("expected an error loading a model with a gap in its vocabulary")
	}
}

func TestStoreRejectsCorruptOrder(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.SaveText(ctx, "corrupt", setupTestText(t, storeCorpus)); err != nil {
		t.Fatalf("SaveText() failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, "UPDATE markov_models SET model_order = ? WHERE model_name = ?", 1<<40, "corrupt"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.LoadText(ctx, "corrupt"); err == nil {
		t.Error("expected an error loading a model with an oversized order")
	}
	if _, err := s.GetStats(ctx); err == nil {
		t.Error("expected GetStats() to fail on a model with an oversized order")
	}
}

func BenchmarkSaveText(b *testing.B) {
	_, s := setupTestDB(b)
	ctx := context.Background()
	text := setupTestText(b, createBenchmarkCorpus(), WithoutRejectPattern())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.SaveText(ctx, "bench", text); err != nil {
			b.Fatalf("SaveText() failed: %v", err)
		}
	}
}

func BenchmarkLoadText(b *testing.B) {
	_, s := setupTestDB(b)
	ctx := context.Background()
	if _, err := s.SaveText(ctx, "bench", setupTestText(b, createBenchmarkCorpus(), WithoutRejectPattern())); err != nil {
		b.Fatalf("SaveText() setup failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.LoadText(ctx, "bench"); err != nil {
			b.Fatalf("LoadText() failed: %v", err)
		}
	}
}
