package markov

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func isMix(s string) bool { return s == mixA || s == mixB }

func TestGenerate(t *testing.T) {
	text := setupTestText(t, mixCorpus, WithTextRand(seededRand(1)))

	// Both corpus lines are rejected as verbatim copies, so only the two
	// crossovers at "likes green" can come back.
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		got := text.Generate()
		if !isMix(got) {
			t.Fatalf("Generate() = %q, want one of the crossover sentences", got)
		}
		seen[got] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both crossover sentences over 50 runs, saw %v", seen)
	}
}

func TestGenerateRejectsVerbatim(t *testing.T) {
	const line = "the quick brown fox jumps over the lazy dog"
	text := setupTestText(t, line)

	if got := text.Generate(); got != "" {
		t.Errorf("Generate() = %q, want empty string for a single-line corpus", got)
	}
	if got := text.Generate(WithOverlapTest(false)); got != line {
		t.Errorf("Generate(WithOverlapTest(false)) = %q, want %q", got, line)
	}
}

func TestGenerateOptions(t *testing.T) {
	text := setupTestText(t, mixCorpus, WithTextRand(seededRand(2)))

	testCases := []struct {
		name   string
		opts   []GenerateOption
		expect func(string) bool
	}{
		{name: "Zero tries", opts: []GenerateOption{WithTries(0)}, expect: func(s string) bool { return s == "" }},
		{name: "Max words below output length", opts: []GenerateOption{WithMaxWords(9)}, expect: func(s string) bool { return s == "" }},
		{name: "Max words at output length", opts: []GenerateOption{WithMaxWords(10)}, expect: isMix},
		{name: "Min words above output length", opts: []GenerateOption{WithMinWords(11)}, expect: func(s string) bool { return s == "" }},
		{name: "Min words at output length", opts: []GenerateOption{WithMinWords(10)}, expect: isMix},
		{name: "Strict overlap total", opts: []GenerateOption{WithMaxOverlapTotal(3)}, expect: func(s string) bool { return s == "" }},
		{name: "Whole candidate may overlap", opts: []GenerateOption{WithMaxOverlapRatio(1)}, expect: isMix},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := text.Generate(tc.opts...); !tc.expect(got) {
				t.Errorf("Generate() = %q, not what was expected", got)
			}
		})
	}
}

func TestGenerateWithStart(t *testing.T) {
	text := setupTestText(t, mixCorpus, WithTextRand(seededRand(4)))

	t.Run("From the first word", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			got, err := text.GenerateWithStart("my")
			if err != nil {
				t.Fatalf("GenerateWithStart() error = %v", err)
			}
			if got != mixA {
				t.Fatalf("GenerateWithStart(my) = %q, want %q", got, mixA)
			}
		}
	})

	t.Run("From a shared word without overlap test", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			got, err := text.GenerateWithStart("green", WithOverlapTest(false))
			if err != nil {
				t.Fatalf("GenerateWithStart() error = %v", err)
			}
			if got != "likes green apples very much indeed" && got != "likes green fish every single night" {
				t.Fatalf("GenerateWithStart(green) = %q, want it to begin with the state ending in green", got)
			}
		}
	})

	t.Run("Unknown word", func(t *testing.T) {
		got, err := text.GenerateWithStart("zebra")
		if !errors.Is(err, ErrUnknownWord) {
			t.Errorf("expected ErrUnknownWord, got %v", err)
		}
		if got != "" {
			t.Errorf("expected empty output for an unknown word, got %q", got)
		}
	})

	t.Run("Sentinel text is not a word", func(t *testing.T) {
		if _, err := text.GenerateWithStart(BeginText); !errors.Is(err, ErrUnknownWord) {
			t.Errorf("expected ErrUnknownWord for the begin sentinel, got %v", err)
		}
	})
}

func TestGenerateConcurrent(t *testing.T) {
	text := setupTestText(t, mixCorpus)

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				if got := text.Generate(); !isMix(got) {
					errs <- got
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for got := range errs {
		t.Errorf("concurrent Generate() = %q", got)
	}
}

func BenchmarkGenerate(b *testing.B) {
	text := setupTestText(b, createBenchmarkCorpus(), WithoutRejectPattern())

	opts := map[string][]GenerateOption{
		"Default":   nil,
		"Short":     {WithMaxWords(20)},
		"NoOverlap": {WithOverlapTest(false)},
	}
	for name, o := range opts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = text.Generate(o...)
			}
		})
	}
}

func BenchmarkVerify(b *testing.B) {
	text := setupTestText(b, createBenchmarkCorpus(), WithoutRejectPattern())
	words := strings.Fields("the server returns an error when the request body cannot be parsed")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = text.verify(words, DefaultMaxOverlapRatio, DefaultMaxOverlapTotal)
	}
}
