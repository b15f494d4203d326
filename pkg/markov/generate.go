package markov

import (
	"errors"
	"log/slog"
	"math"
	"strings"
)

const (
	// DefaultTries is the number of candidates Generate samples before giving up.
	DefaultTries = 999
	// DefaultMaxWords is the longest candidate Generate accepts.
	DefaultMaxWords = 100
	// DefaultMaxOverlapRatio bounds verbatim overlap relative to output length.
	DefaultMaxOverlapRatio = 0.7
	// DefaultMaxOverlapTotal bounds verbatim overlap in absolute words.
	DefaultMaxOverlapTotal = 15
)

// generateOptions is used by the generate functions to configure default options.
type generateOptions struct {
	tries           int
	minWords        int
	maxWords        int
	maxOverlapRatio float64
	maxOverlapTotal int
	testOutput      bool
}

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument in Generate and GenerateWithStart.
type GenerateOption func(*generateOptions)

// WithTries sets how many candidates are sampled before giving up.
// Default: 999
func WithTries(n int) GenerateOption {
	return func(o *generateOptions) { o.tries = n }
}

// WithMinWords sets the shortest acceptable output, in words.
// Default: 0
func WithMinWords(n int) GenerateOption {
	return func(o *generateOptions) { o.minWords = n }
}

// WithMaxWords sets the longest acceptable output, in words.
// Default: 100
func WithMaxWords(n int) GenerateOption {
	return func(o *generateOptions) { o.maxWords = n }
}

// WithMaxOverlapRatio sets the largest share of the output, rounded to whole
// words, that may be copied verbatim from the corpus.
// Default: 0.7
func WithMaxOverlapRatio(r float64) GenerateOption {
	return func(o *generateOptions) { o.maxOverlapRatio = r }
}

// WithMaxOverlapTotal caps the verbatim overlap at an absolute number of words.
// Default: 15
func WithMaxOverlapTotal(n int) GenerateOption {
	return func(o *generateOptions) { o.maxOverlapTotal = n }
}

// WithOverlapTest turns the corpus overlap check on or off. With it off, any
// candidate of acceptable length is returned, even a verbatim corpus line.
// Default: true
func WithOverlapTest(enabled bool) GenerateOption {
	return func(o *generateOptions) { o.testOutput = enabled }
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		tries:           DefaultTries,
		minWords:        0,
		maxWords:        DefaultMaxWords,
		maxOverlapRatio: DefaultMaxOverlapRatio,
		maxOverlapTotal: DefaultMaxOverlapTotal,
		testOutput:      true,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Generate samples up to `tries` sentences from the Chain and returns the
// first one whose length is within bounds and which does not copy too long a
// run of words from the corpus. An empty string means no candidate passed.
func (t *Text) Generate(opts ...GenerateOption) string {
	options := newGenerateOptions(opts)
	return t.generate(options, func() ([]Token, []string) { return nil, nil })
}

// GenerateWithStart is like Generate but every candidate is seeded from a
// state ending in word. Each attempt picks such a state at random, emits its
// real words and continues the walk from it, so with a state size above 1 the
// output usually starts with the words that preceded word in the corpus.
func (t *Text) GenerateWithStart(word string, opts ...GenerateOption) (string, error) {
	tok, ok := t.vocab.Lookup(word)
	if !ok {
		return "", ErrUnknownWord
	}

	var starts [][]Token
	for _, state := range t.chain.FindStatesContaining(tok) {
		if state[len(state)-1] == tok {
			starts = append(starts, state)
		}
	}
	if len(starts) == 0 {
		return "", ErrNoStartState
	}

	options := newGenerateOptions(opts)
	return t.generate(options, func() ([]Token, []string) {
		i := int(t.rng.Float64() * float64(len(starts)))
		if i == len(starts) {
			i--
		}
		state := starts[i]

		var prefix []string
		for _, tok := range state {
			if tok != BeginToken {
				prefix = append(prefix, t.vocab.ToWord(tok))
			}
		}
		return state, prefix
	}), nil
}

// generate contains the main try loop. start supplies the initial state and
// the words already emitted for it on every attempt.
func (t *Text) generate(options *generateOptions, start func() ([]Token, []string)) string {
	var rejectedLength, rejectedOverlap, rejectedDeadEnd int

	for try := 0; try < options.tries; try++ {
		init, prefix := start()

		// Anything longer than maxWords is rejected below, so there is no
		// point walking further than one token past it.
		limit := max(options.maxWords+1-len(prefix), 1)
		tokens, err := t.chain.Walk(init, limit)
		if errors.Is(err, ErrMaxSteps) {
			rejectedLength++
			continue
		}
		if errors.Is(err, ErrStateNotFound) { // Dead end left behind by pruning.
			rejectedDeadEnd++
			continue
		}
		if err != nil {
			t.logger.Error("Generation walk failed", slog.Any("error", err))
			return ""
		}

		words := append(prefix, t.words(tokens)...)
		if len(words) > options.maxWords || len(words) < options.minWords {
			rejectedLength++
			continue
		}

		if options.testOutput && !t.verify(words, options.maxOverlapRatio, options.maxOverlapTotal) {
			rejectedOverlap++
			continue
		}

		t.logger.Debug("Generation accepted candidate",
			slog.Int("attempt", try+1),
			slog.Int("words", len(words)),
		)
		return strings.Join(words, " ")
	}

	t.logger.Debug("Generation exhausted all attempts",
		slog.Int("tries", options.tries),
		slog.Int("rejected_length", rejectedLength),
		slog.Int("rejected_overlap", rejectedOverlap),
		slog.Int("rejected_dead_end", rejectedDeadEnd),
	)
	return ""
}

// verify reports whether words avoids reproducing the corpus verbatim. The
// longest allowed overlap is maxOverlapRatio of the candidate's length,
// rounded, capped at maxOverlapTotal; any window one word longer than that
// which occurs in the corpus rejects the candidate.
func (t *Text) verify(words []string, maxOverlapRatio float64, maxOverlapTotal int) bool {
	overlapRatio := int(math.Round(maxOverlapRatio * float64(len(words))))
	overlapMax := max(min(maxOverlapTotal, overlapRatio), 0)
	overlapOver := overlapMax + 1
	gramCount := max(len(words)-overlapMax, 1)

	for i := 0; i < gramCount; i++ {
		end := min(i+overlapOver, len(words))
		if strings.Contains(t.rejoined, strings.Join(words[i:end], " ")) {
			return false
		}
	}
	return true
}
