package markov

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestExportImportText(t *testing.T) {
	original := setupTestText(t, storeCorpus+mixCorpus, WithTextStateSize(3))

	var buf bytes.Buffer
	if err := original.Export(&buf, "fish"); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	imported, name, err := ImportText(&buf)
	if err != nil {
		t.Fatalf("ImportText() failed: %v", err)
	}
	if name != "fish" {
		t.Errorf("imported name = %q, want %q", name, "fish")
	}
	if imported.Chain().StateSize() != 3 {
		t.Errorf("imported state size = %d, want 3", imported.Chain().StateSize())
	}
	if !reflect.DeepEqual(imported.Chain().Transitions(), original.Chain().Transitions()) {
		t.Error("transition table differs after import")
	}
	if !reflect.DeepEqual(imported.Sentences(), original.Sentences()) {
		t.Error("sentences differ after import")
	}
	if !reflect.DeepEqual(imported.Vocabulary().Words(), original.Vocabulary().Words()) {
		t.Error("vocabulary differs after import")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	model, err := s.SaveText(ctx, "mix", setupTestText(t, mixCorpus))
	if err != nil {
		t.Fatalf("SaveText() failed: %v", err)
	}

	// 1. Export the stored model to an in-memory buffer
	var buf bytes.Buffer
	if err = s.ExportModel(ctx, model, &buf); err != nil {
		t.Fatalf("ExportModel failed: %v", err)
	}

	// 2. Set up a completely new, empty database
	_, s2 := setupTestDB(t)

	// 3. Import from the buffer into the new DB
	imported, err := s2.ImportModel(ctx, &buf)
	if err != nil {
		t.Fatalf("ImportModel failed: %v", err)
	}
	if imported.Name != "mix" || imported.Order != model.Order {
		t.Errorf("imported model info = %+v, want name mix and order %d", imported, model.Order)
	}

	// 4. Verify the imported data by generating
	text, err := s2.LoadText(ctx, "mix")
	if err != nil {
		t.Fatalf("could not load imported model: %v", err)
	}
	if output := text.Generate(); !isMix(output) {
		t.Errorf("Generate() from imported model got = %q, want one of [%q, %q]", output, mixA, mixB)
	}
}

func TestImportTextRejectsBadInput(t *testing.T) {
	valid := func() ExportedModel {
		return ExportedModel{
			Name:       "tiny",
			Order:      1,
			Vocabulary: []string{BeginText, EndText, "hi"},
			Sentences:  []string{"hi"},
			Chains: []ExportedChain{
				{State: []int{0}, NextTokenID: 2, Frequency: 1},
				{State: []int{2}, NextTokenID: 1, Frequency: 1},
			},
		}
	}

	testCases := []struct {
		name   string
		mutate func(*ExportedModel)
	}{
		{name: "Unknown state token", mutate: func(m *ExportedModel) { m.Chains[0].State = []int{7} }},
		{name: "Negative next token", mutate: func(m *ExportedModel) { m.Chains[1].NextTokenID = -1 }},
		{name: "Zero order", mutate: func(m *ExportedModel) { m.Order = 0 }},
		{name: "Wrong state size", mutate: func(m *ExportedModel) { m.Chains[0].State = []int{0, 0} }},
		{name: "Zero frequency", mutate: func(m *ExportedModel) { m.Chains[0].Frequency = 0 }},
		{name: "Missing sentinels", mutate: func(m *ExportedModel) { m.Vocabulary = m.Vocabulary[:1] }},
		{name: "Sentence word not in vocabulary", mutate: func(m *ExportedModel) { m.Sentences = []string{"bye"} }},
		{name: "No sentences", mutate: func(m *ExportedModel) { m.Sentences = nil }},
		{name: "Huge order", mutate: func(m *ExportedModel) { m.Order = 1 << 40; m.Chains = nil }},
		{name: "Order above maximum", mutate: func(m *ExportedModel) { m.Order = MaxStateSize + 1 }},
		{name: "No chains", mutate: func(m *ExportedModel) { m.Chains = []ExportedChain{} }},
		{name: "Next is begin", mutate: func(m *ExportedModel) { m.Chains[1].NextTokenID = 0 }},
		{name: "End in state", mutate: func(m *ExportedModel) { m.Chains[1].State = []int{1} }},
	}

	// The unmodified model imports fine.
	data, _ := json.Marshal(valid())
	if _, _, err := ImportText(bytes.NewReader(data)); err != nil {
		t.Fatalf("ImportText() of a valid model failed: %v", err)
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := valid()
			tc.mutate(&m)
			data, err := json.Marshal(m)
			if err != nil {
				t.Fatal(err)
			}
			if _, _, err = ImportText(bytes.NewReader(data)); err == nil {
				t.Error("expected ImportText() to fail")
			}
		})
	}

	if _, _, err := ImportText(strings.NewReader("{not json")); err == nil {
		t.Error("expected ImportText() to fail on malformed json")
	}
}

func TestImportModelRequiresName(t *testing.T) {
	_, s := setupTestDB(t)

	var buf bytes.Buffer
	if err := setupTestText(t, mixCorpus).Export(&buf, ""); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if _, err := s.ImportModel(context.Background(), &buf); !errors.Is(err, ErrUnnamedModel) {
		t.Errorf("expected ErrUnnamedModel, got %v", err)
	}
}
