package markov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrUnnamedModel is returned by ImportModel when the exported model has no name.
var ErrUnnamedModel = errors.New("markov: imported model has no name")

// ExportedModel is the serializable representation of a trained Text, used
// for JSON-based import and export.
type ExportedModel struct {
	Name       string          `json:"name"`
	Order      int             `json:"order"`
	Vocabulary []string        `json:"vocabulary"` // indexed by token id, sentinels first
	Sentences  []string        `json:"sentences"`
	Chains     []ExportedChain `json:"chains"`
}

// ExportedChain is the serializable representation of a single link
// in a Markov chain, used within an ExportedModel.
type ExportedChain struct {
	State       []int `json:"state"`
	NextTokenID int   `json:"next_token_id"`
	Frequency   int   `json:"frequency"`
}

// Export serializes the Text under the given name as indented JSON.
func (t *Text) Export(w io.Writer, name string) error {
	transitions := t.chain.Transitions()
	chains := make([]ExportedChain, len(transitions))
	for i, tr := range transitions {
		state := make([]int, len(tr.State))
		for j, tok := range tr.State {
			state[j] = int(tok)
		}
		chains[i] = ExportedChain{State: state, NextTokenID: int(tr.Next), Frequency: tr.Count}
	}

	exported := ExportedModel{
		Name:       name,
		Order:      t.chain.StateSize(),
		Vocabulary: t.vocab.Words(),
		Sentences:  t.Sentences(),
		Chains:     chains,
	}

	t.logger.Info("Model exported",
		slog.String("model_name", name),
		slog.Int("vocab_items_exported", len(exported.Vocabulary)),
		slog.Int("chains_exported", len(chains)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportText reads a model written by Export and rebuilds the Text, returning
// it together with the stored name.
func ImportText(r io.Reader, opts ...TextOption) (*Text, string, error) {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return nil, "", fmt.Errorf("failed to decode json model: %w", err)
	}
	if imported.Order < 1 || imported.Order > MaxStateSize {
		return nil, "", fmt.Errorf("model '%s' has invalid order %d", imported.Name, imported.Order)
	}
	if len(imported.Chains) == 0 {
		return nil, "", fmt.Errorf("model '%s' has no chains", imported.Name)
	}

	transitions := make([]Transition[Token], len(imported.Chains))
	for i, c := range imported.Chains {
		if len(c.State) != imported.Order {
			return nil, "", fmt.Errorf("import consistency error: state of %d tokens in an order %d model", len(c.State), imported.Order)
		}
		state := make([]Token, len(c.State))
		for j, id := range c.State {
			if id < 0 || id >= len(imported.Vocabulary) {
				return nil, "", fmt.Errorf("import consistency error: token id %d in state not found in vocabulary", id)
			}
			state[j] = Token(id)
		}
		if c.NextTokenID < 0 || c.NextTokenID >= len(imported.Vocabulary) {
			return nil, "", fmt.Errorf("import consistency error: next token id %d not found in vocabulary", c.NextTokenID)
		}
		transitions[i] = Transition[Token]{State: state, Next: Token(c.NextTokenID), Count: c.Frequency}
	}

	opts = append(opts, WithTextStateSize(imported.Order))
	text, err := assembleText(imported.Vocabulary, imported.Sentences, transitions, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to rebuild model '%s': %w", imported.Name, err)
	}
	return text, imported.Name, nil
}

// ExportModel loads a stored model and writes it to w in the Export format.
func (s *Store) ExportModel(ctx context.Context, model ModelInfo, w io.Writer) error {
	text, err := s.LoadText(ctx, model.Name, WithLogger(s.logger))
	if err != nil {
		return err
	}
	return text.Export(w, model.Name)
}

// ImportModel reads a model in the Export format and saves it, replacing any
// stored model with the same name.
func (s *Store) ImportModel(ctx context.Context, r io.Reader) (ModelInfo, error) {
	text, name, err := ImportText(r, WithLogger(s.logger))
	if err != nil {
		return ModelInfo{}, err
	}
	if name == "" {
		return ModelInfo{}, ErrUnnamedModel
	}
	model, err := s.SaveText(ctx, name, text)
	if err != nil {
		return ModelInfo{}, err
	}

	s.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", name),
		slog.Int("target_model_id", model.Id),
	)
	return model, nil
}
