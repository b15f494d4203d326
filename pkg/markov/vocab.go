package markov

import "sync"

// Token is the dense integer id standing in for a single word.
type Token int

// Vocabulary is a bidirectional mapping between words and Tokens. Tokens are
// handed out in first-seen order starting at 0 and are never reused or
// renumbered. All methods are concurrent-safe.
type Vocabulary struct {
	mu       sync.RWMutex
	wordToID map[string]Token
	idToWord []string
}

// NewVocabulary returns an empty Vocabulary.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		wordToID: make(map[string]Token),
	}
}

// ToToken returns the Token for word, registering it first if it has not been
// seen before.
func (v *Vocabulary) ToToken(word string) Token {
	v.mu.RLock()
	id, ok := v.wordToID[word]
	v.mu.RUnlock()
	if ok {
		return id
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	// Another writer may have won the race between the two locks.
	if id, ok = v.wordToID[word]; ok {
		return id
	}
	id = Token(len(v.idToWord))
	v.wordToID[word] = id
	v.idToWord = append(v.idToWord, word)
	return id
}

// Lookup returns the Token for word without registering it.
func (v *Vocabulary) Lookup(word string) (Token, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.wordToID[word]
	return id, ok
}

// Reserve allocates a Token for a sentinel. The name is only used by ToWord;
// it is never returned by Lookup or ToToken, so a real word with the same
// text gets a separate Token.
func (v *Vocabulary) Reserve(name string) Token {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := Token(len(v.idToWord))
	v.idToWord = append(v.idToWord, name)
	return id
}

// ToWord returns the word for token, or an empty string if the token was
// never handed out.
func (v *Vocabulary) ToWord(token Token) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if token < 0 || int(token) >= len(v.idToWord) {
		return ""
	}
	return v.idToWord[token]
}

// Len returns the number of Tokens handed out, sentinels included.
func (v *Vocabulary) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idToWord)
}

// Words returns a copy of the id->word table, indexed by Token.
func (v *Vocabulary) Words() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.idToWord))
	copy(out, v.idToWord)
	return out
}
