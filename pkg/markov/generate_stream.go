package markov

import (
	"context"
	"log/slog"
)

// GenerateStream generates sentences one after another and returns a
// read-only channel of them. At most count sentences are sent; a count of 0
// or less keeps going until the context is cancelled. The channel is also
// closed early when a Generate call exhausts its tries, since further calls
// are unlikely to fare better.
func (t *Text) GenerateStream(ctx context.Context, count int, opts ...GenerateOption) <-chan string {
	options := newGenerateOptions(opts)
	sentenceChan := make(chan string)

	go func() {
		defer close(sentenceChan)

		for sent := 0; count <= 0 || sent < count; sent++ {
			select {
			case <-ctx.Done():
				t.logger.DebugContext(ctx, "Generation stream cancelled by context")
				return
			default:
				// continue
			}

			sentence := t.generate(options, func() ([]Token, []string) { return nil, nil })
			if sentence == "" {
				t.logger.DebugContext(ctx, "Generation stream stopped, no acceptable candidate",
					slog.Int("sentences_sent", sent),
				)
				return
			}

			select {
			case <-ctx.Done():
				return
			case sentenceChan <- sentence:
			}
		}
	}()

	return sentenceChan
}
