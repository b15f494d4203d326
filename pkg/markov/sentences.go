package markov

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// DefaultRejectPattern matches lines that quote or bracket text: a single
// quote at either end or next to whitespace, or any double quote, parenthesis
// or square bracket. Such lines are left out of the corpus.
const DefaultRejectPattern = `(^')|('$)|\s'|'\s|["()\[\]]`

// textOptions is used by NewText and friends to configure parsing and the
// underlying Chain.
type textOptions struct {
	reject    *regexp.Regexp
	chainOpts []ChainOption
	rng       Rand
	logger    *slog.Logger
	err       error
}

// TextOption configures how a Text parses its corpus and builds its Chain.
type TextOption func(*textOptions)

// WithRejectPattern sets the regex used to drop input lines. It is matched
// against an ASCII transliteration of each line. An invalid expression makes
// the constructor the option is passed to fail.
// Default: DefaultRejectPattern
func WithRejectPattern(expr string) TextOption {
	return func(o *textOptions) {
		re, err := regexp.Compile(expr)
		if err != nil {
			o.err = fmt.Errorf("invalid reject pattern: %w", err)
			return
		}
		o.reject = re
	}
}

// WithoutRejectPattern keeps every non-blank line.
func WithoutRejectPattern() TextOption {
	return func(o *textOptions) {
		o.reject = nil
	}
}

// WithTextStateSize sets the state size of the underlying Chain.
// Default: 2
func WithTextStateSize(n int) TextOption {
	return func(o *textOptions) {
		o.chainOpts = append(o.chainOpts, WithStateSize(n))
	}
}

// WithTextRand sets the random source used for sampling and for picking
// start states.
func WithTextRand(r Rand) TextOption {
	return func(o *textOptions) {
		if r != nil {
			o.rng = r
			o.chainOpts = append(o.chainOpts, WithRand(r))
		}
	}
}

// WithLogger sets the logger for the Text. By default, all logs are discarded.
func WithLogger(logger *slog.Logger) TextOption {
	return func(o *textOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newTextOptions(opts []TextOption) (*textOptions, error) {
	o := &textOptions{
		reject: regexp.MustCompile(DefaultRejectPattern),
		rng:    globalRand{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.err != nil {
		return nil, o.err
	}
	return o, nil
}

// acceptSentence reports whether a raw line should become a sentence.
func (o *textOptions) acceptSentence(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	if o.reject != nil && o.reject.MatchString(unidecode.Unidecode(line)) {
		return false
	}
	return true
}

// splitSentences reads r line by line and returns the lines accept keeps.
// Lines may be of any length; a trailing carriage return is dropped.
func splitSentences(r io.Reader, accept func(string) bool) ([]string, error) {
	reader := bufio.NewReader(r)

	var sentences []string
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if accept(line) {
				sentences = append(sentences, line)
			}
		}
		if errors.Is(err, io.EOF) {
			return sentences, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
