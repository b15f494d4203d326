package markov

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// ErrModelNotFound is returned when a named model does not exist in the store.
var ErrModelNotFound = errors.New("markov: model not found")

// ModelInfo holds the essential metadata for a stored model: its unique ID,
// name, and the order of the chain (the number of preceding tokens used to
// predict the next one).
type ModelInfo struct {
	Id    int
	Name  string
	Order int
}

// SetupSchema initializes the tables used by Store. It is idempotent and safe
// to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaModels = `
CREATE TABLE IF NOT EXISTS markov_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_order INTEGER NOT NULL
);
`
		schemaVocab = `
CREATE TABLE IF NOT EXISTS markov_vocabulary (
    model_id INTEGER NOT NULL,
    token_id INTEGER NOT NULL,
    token_text TEXT NOT NULL,
    PRIMARY KEY (model_id, token_id)
);
`
		schemaPrefixes = `
CREATE TABLE IF NOT EXISTS markov_prefixes (
	prefix_id INTEGER PRIMARY KEY,
	prefix_text TEXT NOT NULL UNIQUE
);
`
		schemaChains = `
CREATE TABLE IF NOT EXISTS markov_chains (
    model_id INTEGER NOT NULL,
    prefix_id INTEGER NOT NULL,
    next_token_id INTEGER NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 1,
    position INTEGER NOT NULL,
    PRIMARY KEY (model_id, prefix_id, next_token_id)
);
`
		schemaSentences = `
CREATE TABLE IF NOT EXISTS markov_sentences (
    model_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    sentence_text TEXT NOT NULL,
    PRIMARY KEY (model_id, position)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaModels, schemaVocab, schemaPrefixes, schemaChains, schemaSentences} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store persists trained Text models in a SQL database. It holds the database
// connection and prepared statements for efficient access.
type Store struct {
	db                    *sql.DB
	stmtGetModelInfo      *sql.Stmt
	stmtGetModels         *sql.Stmt
	stmtAddModel          *sql.Stmt
	stmtInsertVocab       *sql.Stmt
	stmtInsertSentence    *sql.Stmt
	stmtInsertChain       *sql.Stmt
	stmtGetOrInsertPrefix *sql.Stmt
	stmtGetPrefixID       *sql.Stmt
	stmtLoadVocab         *sql.Stmt
	stmtLoadSentences     *sql.Stmt
	stmtLoadChains        *sql.Stmt
	stmtModelStates       *sql.Stmt
	stmtModelChains       *sql.Stmt
	stmtModelStarters     *sql.Stmt
	stmtModelFreq         *sql.Stmt
	stmtModelVocabLen     *sql.Stmt
	stmtGetPrefixLen      *sql.Stmt
	logger                *slog.Logger
}

// NewStore creates and returns a new Store. SetupSchema must have been run on
// db. All SQL statements are prepared up front and an error is returned if
// any preparation fails.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	statements := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtGetModelInfo, `SELECT model_id, model_order FROM markov_models WHERE model_name = ?;`},
		{&s.stmtGetModels, `SELECT model_id, model_name, model_order FROM markov_models;`},
		{&s.stmtAddModel, `INSERT INTO markov_models (model_name, model_order) VALUES (?, ?);`},
		{&s.stmtInsertVocab, `INSERT INTO markov_vocabulary (model_id, token_id, token_text) VALUES (?, ?, ?);`},
		{&s.stmtInsertSentence, `INSERT INTO markov_sentences (model_id, position, sentence_text) VALUES (?, ?, ?);`},
		{&s.stmtInsertChain, `INSERT INTO markov_chains (model_id, prefix_id, next_token_id, frequency, position) VALUES (?, ?, ?, ?, ?);`},
		{&s.stmtGetOrInsertPrefix, `INSERT INTO markov_prefixes (prefix_text) VALUES (?) ON CONFLICT(prefix_text) DO UPDATE SET prefix_text=excluded.prefix_text RETURNING prefix_id;`},
		{&s.stmtGetPrefixID, `SELECT prefix_id FROM markov_prefixes WHERE prefix_text = ?;`},
		{&s.stmtLoadVocab, `SELECT token_id, token_text FROM markov_vocabulary WHERE model_id = ? ORDER BY token_id;`},
		{&s.stmtLoadSentences, `SELECT sentence_text FROM markov_sentences WHERE model_id = ? ORDER BY position;`},
		{&s.stmtLoadChains, `SELECT p.prefix_text, c.next_token_id, c.frequency FROM markov_chains c JOIN markov_prefixes p ON p.prefix_id = c.prefix_id WHERE c.model_id = ? ORDER BY c.position;`},
		{&s.stmtModelStates, `SELECT COUNT(DISTINCT prefix_id) FROM markov_chains WHERE model_id = ?;`},
		{&s.stmtModelChains, `SELECT COUNT(*) FROM markov_chains WHERE model_id = ?;`},
		{&s.stmtModelStarters, `SELECT COUNT(*) FROM markov_chains WHERE model_id = ? AND prefix_id = ?;`},
		{&s.stmtModelFreq, `SELECT coalesce(SUM(frequency), 0) FROM markov_chains WHERE model_id = ?;`},
		{&s.stmtModelVocabLen, `SELECT COUNT(*) FROM markov_vocabulary WHERE model_id = ?;`},
		{&s.stmtGetPrefixLen, `SELECT COUNT(*) FROM markov_prefixes;`},
	}

	for _, st := range statements {
		stmt, err := db.Prepare(st.query)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to prepare statement %q: %w", st.query, err)
		}
		*st.dst = stmt
	}

	return s, nil
}

// Close releases all prepared SQL statements held by the Store. It does not
// close the database itself.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetModelInfo, s.stmtGetModels, s.stmtAddModel, s.stmtInsertVocab,
		s.stmtInsertSentence, s.stmtInsertChain, s.stmtGetOrInsertPrefix,
		s.stmtGetPrefixID, s.stmtLoadVocab, s.stmtLoadSentences, s.stmtLoadChains,
		s.stmtModelStates, s.stmtModelChains, s.stmtModelStarters, s.stmtModelFreq,
		s.stmtModelVocabLen, s.stmtGetPrefixLen,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// GetModelInfos retrieves metadata for all stored models, keyed by name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.Order); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModelInfo retrieves the metadata for a single model. ErrModelNotFound is
// returned if no model has that name.
func (s *Store) GetModelInfo(ctx context.Context, modelName string) (ModelInfo, error) {
	var modelId, modelOrder int
	err := s.stmtGetModelInfo.QueryRowContext(ctx, modelName).Scan(&modelId, &modelOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelInfo{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelName)
	}
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{
		Id:    modelId,
		Name:  modelName,
		Order: modelOrder,
	}, nil
}

// chainLink is a struct used for batching chain inserts.
type chainLink struct {
	prefixID    int
	nextTokenID int
	frequency   int
	position    int
}

// SaveText writes text under modelName, replacing any model already stored
// with that name. The vocabulary, the accepted sentences and the exact chain
// table are written in a single transaction.
func (s *Store) SaveText(ctx context.Context, modelName string, text *Text) (ModelInfo, error) {
	// chainBatchSize determines how many chain links are buffered in memory before being written to the database in a single batch.
	const chainBatchSize = 1000

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelInfo{}, err
	}
	// All transaction-specific statements will also be closed with this or the .Commit()
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var oldID int
	err = tx.StmtContext(ctx, s.stmtGetModelInfo).QueryRowContext(ctx, modelName).Scan(&oldID, new(int))
	switch {
	case err == nil:
		if err = deleteModelRows(ctx, tx, oldID); err != nil {
			return ModelInfo{}, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return ModelInfo{}, fmt.Errorf("failed to query for model '%s': %w", modelName, err)
	}

	model := ModelInfo{Name: modelName, Order: text.chain.StateSize()}
	res, err := tx.StmtContext(ctx, s.stmtAddModel).ExecContext(ctx, model.Name, model.Order)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to insert model '%s': %w", modelName, err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return ModelInfo{}, err
	}
	model.Id = int(newID)

	stmtInsertVocab := tx.StmtContext(ctx, s.stmtInsertVocab)
	for id, word := range text.vocab.Words() {
		if _, err = stmtInsertVocab.ExecContext(ctx, model.Id, id, word); err != nil {
			return ModelInfo{}, fmt.Errorf("sql insert vocabulary error for token '%s': %w", word, err)
		}
	}

	stmtInsertSentence := tx.StmtContext(ctx, s.stmtInsertSentence)
	for i, line := range text.lines {
		if _, err = stmtInsertSentence.ExecContext(ctx, model.Id, i, line); err != nil {
			return ModelInfo{}, fmt.Errorf("failed to insert sentence %d: %w", i, err)
		}
	}

	stmtGetOrInsertPrefix := tx.StmtContext(ctx, s.stmtGetOrInsertPrefix)
	stmtInsertChain := tx.StmtContext(ctx, s.stmtInsertChain)

	commitChainBatch := func(batch *[]chainLink) error {
		for _, link := range *batch {
			if _, err := stmtInsertChain.ExecContext(ctx, model.Id, link.prefixID, link.nextTokenID, link.frequency, link.position); err != nil {
				return fmt.Errorf("failed during batch insert of chain link (%d -> %d): %w", link.prefixID, link.nextTokenID, err)
			}
		}
		*batch = (*batch)[:0]
		return nil
	}

	prefixCache := make(map[string]int)
	chainBatch := make([]chainLink, 0, chainBatchSize)
	transitions := text.chain.Transitions()

	for i, t := range transitions {
		prefixKey := prefixKeyOf(t.State)

		prefixID, ok := prefixCache[prefixKey]
		if !ok {
			if err = stmtGetOrInsertPrefix.QueryRowContext(ctx, prefixKey).Scan(&prefixID); err != nil {
				return ModelInfo{}, fmt.Errorf("failed to get or insert prefix '%s': %w", prefixKey, err)
			}
			prefixCache[prefixKey] = prefixID
		}

		chainBatch = append(chainBatch, chainLink{
			prefixID:    prefixID,
			nextTokenID: int(t.Next),
			frequency:   t.Count,
			position:    i,
		})
		if len(chainBatch) >= chainBatchSize {
			if err = commitChainBatch(&chainBatch); err != nil {
				return ModelInfo{}, err
			}
		}
	}
	if err = commitChainBatch(&chainBatch); err != nil {
		return ModelInfo{}, err
	}

	if err = tx.Commit(); err != nil {
		return ModelInfo{}, err
	}

	s.logger.InfoContext(ctx, "Model saved",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("sentences", len(text.lines)),
		slog.Int("chains", len(transitions)),
	)
	return model, nil
}

// LoadText rebuilds the Text stored under modelName. No retraining happens:
// the chain table is restored exactly as it was saved. The options are applied
// to the restored Text; the state size always comes from the stored model.
func (s *Store) LoadText(ctx context.Context, modelName string, opts ...TextOption) (*Text, error) {
	model, err := s.GetModelInfo(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if model.Order < 1 || model.Order > MaxStateSize {
		return nil, fmt.Errorf("model '%s' has invalid order %d", model.Name, model.Order)
	}

	words, err := s.loadVocabulary(ctx, model)
	if err != nil {
		return nil, err
	}

	lines, err := s.loadSentences(ctx, model)
	if err != nil {
		return nil, err
	}

	transitions, err := s.loadTransitions(ctx, model)
	if err != nil {
		return nil, err
	}

	opts = append(opts, WithTextStateSize(model.Order))
	text, err := assembleText(words, lines, transitions, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild model '%s': %w", modelName, err)
	}

	s.logger.InfoContext(ctx, "Model loaded",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("vocab_size", len(words)),
		slog.Int("chains", len(transitions)),
	)
	return text, nil
}

func (s *Store) loadVocabulary(ctx context.Context, model ModelInfo) ([]string, error) {
	rows, err := s.stmtLoadVocab.QueryContext(ctx, model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query vocabulary: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var words []string
	for rows.Next() {
		var id int
		var text string
		if err = rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		if id != len(words) {
			return nil, fmt.Errorf("consistency error: vocabulary of model %d skips token id %d", model.Id, len(words))
		}
		words = append(words, text)
	}
	return words, rows.Err()
}

func (s *Store) loadSentences(ctx context.Context, model ModelInfo) ([]string, error) {
	rows, err := s.stmtLoadSentences.QueryContext(ctx, model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query sentences: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var lines []string
	for rows.Next() {
		var line string
		if err = rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) loadTransitions(ctx context.Context, model ModelInfo) ([]Transition[Token], error) {
	rows, err := s.stmtLoadChains.QueryContext(ctx, model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query chains: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var transitions []Transition[Token]
	for rows.Next() {
		var prefixText string
		var next, freq int
		if err = rows.Scan(&prefixText, &next, &freq); err != nil {
			return nil, err
		}
		state, err := parsePrefixKey(prefixText)
		if err != nil {
			return nil, fmt.Errorf("consistency error: bad prefix '%s': %w", prefixText, err)
		}
		transitions = append(transitions, Transition[Token]{State: state, Next: Token(next), Count: freq})
	}
	return transitions, rows.Err()
}

// RemoveModel deletes a model and all of its associated data. The operation
// is performed within a transaction.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err = deleteModelRows(ctx, tx, model.Id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}

func deleteModelRows(ctx context.Context, tx *sql.Tx, modelID int) error {
	for _, table := range []string{"markov_chains", "markov_vocabulary", "markov_sentences", "markov_models"} {
		query := fmt.Sprintf("DELETE FROM %s WHERE model_id = ?", table)
		if _, err := tx.ExecContext(ctx, query, modelID); err != nil {
			return fmt.Errorf("failed to remove %s for model %d: %w", table, modelID, err)
		}
	}
	return nil
}

// prefixKeyOf renders a state as space-separated token ids.
func prefixKeyOf(state []Token) string {
	var keyBuf []byte
	for j, tokenID := range state {
		if j > 0 {
			keyBuf = append(keyBuf, ' ')
		}
		keyBuf = strconv.AppendInt(keyBuf, int64(tokenID), 10)
	}
	return string(keyBuf)
}

// parsePrefixKey is the inverse of prefixKeyOf.
func parsePrefixKey(key string) ([]Token, error) {
	parts := strings.Split(key, " ")
	state := make([]Token, len(parts))
	for i, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		state[i] = Token(id)
	}
	return state, nil
}
