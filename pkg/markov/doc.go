/*
Package markov generates new sentences from a line-oriented corpus with a
fixed-order Markov chain, rejecting candidates that copy too much of the
corpus verbatim.

A Text parses the corpus (one sentence per line), maps words to Tokens through
a Vocabulary and builds a Chain over them. Generate samples candidates from the
Chain and returns the first one whose length is within bounds and whose
longest run of corpus words stays under the overlap limit:

	text, err := markov.NewText(corpus)
	if err != nil {
		return err
	}
	sentence := text.Generate(markov.WithMaxWords(20))

The Chain is generic and can be used on its own over any comparable token
type. Trained models can be persisted in SQLite through a Store, or moved
between processes with Export and ImportText.
*/
package markov
