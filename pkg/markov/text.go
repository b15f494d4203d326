package markov

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	// BeginText is how the begin sentinel reads back through ToWord.
	BeginText = "<SOC>"
	// EndText is how the end sentinel reads back through ToWord.
	EndText = "<EOC>"
	// BeginToken is the reserved Token that pads the start of every sentence.
	BeginToken Token = 0
	// EndToken is the reserved Token that terminates every sentence.
	EndToken Token = 1
)

var (
	// ErrEmptyCorpus is returned when no line of the input survives parsing.
	ErrEmptyCorpus = errors.New("markov: corpus contains no usable sentences")
	// ErrUnknownWord is returned when a start word is not in the vocabulary.
	ErrUnknownWord = errors.New("markov: word not found in vocabulary")
	// ErrNoStartState is returned when no state ends with the start word.
	ErrNoStartState = errors.New("markov: no state ends with the start word")
)

// Text generates new sentences from a line-oriented corpus. It owns the
// Vocabulary and Chain built from the corpus and keeps the corpus itself
// around so generated output can be checked for verbatim copies.
// A Text is read-only after construction and safe for concurrent use as long
// as its Rand is.
type Text struct {
	lines    []string
	parsed   [][]Token
	rejoined string
	vocab    *Vocabulary
	chain    *Chain[Token]
	rng      Rand
	logger   *slog.Logger
}

// NewText is a convenience wrapper around NewTextFromReader for corpora
// already held in memory.
func NewText(data string, opts ...TextOption) (*Text, error) {
	return NewTextFromReader(strings.NewReader(data), opts...)
}

// NewTextFromReader reads a corpus with one sentence per line, drops blank and
// rejected lines, tokenizes the rest on whitespace and builds the Chain.
// ErrEmptyCorpus is returned if no line survives.
func NewTextFromReader(r io.Reader, opts ...TextOption) (*Text, error) {
	options, err := newTextOptions(opts)
	if err != nil {
		return nil, err
	}

	lines, err := splitSentences(r, options.acceptSentence)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCorpus
	}

	vocab := NewVocabulary()
	vocab.Reserve(BeginText)
	vocab.Reserve(EndText)

	parsed := make([][]Token, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		sentence := make([]Token, len(fields))
		for i, word := range fields {
			sentence[i] = vocab.ToToken(word)
		}
		parsed = append(parsed, sentence)
	}

	t := &Text{
		lines:    lines,
		parsed:   parsed,
		rejoined: strings.Join(lines, " "),
		vocab:    vocab,
		chain:    NewChain(parsed, BeginToken, EndToken, options.chainOpts...),
		rng:      options.rng,
		logger:   options.logger,
	}

	t.logger.Info("Text model built",
		slog.Int("sentences", len(lines)),
		slog.Int("vocab_size", vocab.Len()),
		slog.Int("state_size", t.chain.StateSize()),
	)
	return t, nil
}

// assembleText rebuilds a Text from persisted parts without retraining:
// words is the Vocabulary table indexed by Token (sentinels first), lines the
// accepted sentences and transitions the exact Chain table.
func assembleText(words, lines []string, transitions []Transition[Token], opts ...TextOption) (*Text, error) {
	options, err := newTextOptions(opts)
	if err != nil {
		return nil, err
	}

	if len(words) < 2 {
		return nil, fmt.Errorf("vocabulary has %d entries, sentinels missing", len(words))
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCorpus
	}

	vocab := NewVocabulary()
	vocab.Reserve(words[BeginToken])
	vocab.Reserve(words[EndToken])
	for i, word := range words[2:] {
		if got, want := vocab.ToToken(word), Token(i+2); got != want {
			return nil, fmt.Errorf("vocabulary word %q maps to %d, want %d", word, got, want)
		}
	}

	parsed := make([][]Token, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		sentence := make([]Token, 0, len(fields))
		for _, word := range fields {
			tok, ok := vocab.Lookup(word)
			if !ok {
				return nil, fmt.Errorf("%w: %q in stored sentence", ErrUnknownWord, word)
			}
			sentence = append(sentence, tok)
		}
		parsed = append(parsed, sentence)
	}

	chain, err := RestoreChain(transitions, BeginToken, EndToken, options.chainOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to restore chain: %w", err)
	}

	return &Text{
		lines:    lines,
		parsed:   parsed,
		rejoined: strings.Join(lines, " "),
		vocab:    vocab,
		chain:    chain,
		rng:      options.rng,
		logger:   options.logger,
	}, nil
}

// SetLogger sets the logger for the Text. By default, all logs are discarded.
func (t *Text) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Vocabulary returns the Text's vocabulary.
func (t *Text) Vocabulary() *Vocabulary { return t.vocab }

// Chain returns the Text's Markov chain.
func (t *Text) Chain() *Chain[Token] { return t.chain }

// Sentences returns the accepted corpus lines in input order.
func (t *Text) Sentences() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Tokens returns the tokenized sentences in input order.
func (t *Text) Tokens() [][]Token {
	out := make([][]Token, len(t.parsed))
	for i, s := range t.parsed {
		out[i] = append([]Token(nil), s...)
	}
	return out
}

// words maps tokens back to their surface strings.
func (t *Text) words(tokens []Token) []string {
	words := make([]string, len(tokens))
	for i, tok := range tokens {
		words[i] = t.vocab.ToWord(tok)
	}
	return words
}
