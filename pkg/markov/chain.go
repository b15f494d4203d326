package markov

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
)

// DefaultStateSize is the number of preceding tokens a Chain conditions on
// unless WithStateSize says otherwise.
const DefaultStateSize = 2

// MaxStateSize is the largest state size a Chain accepts.
const MaxStateSize = 32

var (
	// ErrStateNotFound is returned when stepping from a state the model has
	// never recorded.
	ErrStateNotFound = errors.New("markov: state not found in model")
	// ErrEmptyModel is returned when the model has no transitions out of the
	// initial state, which happens when it was built from no data.
	ErrEmptyModel = errors.New("markov: model has no initial transitions")
	// ErrMaxSteps is returned by Walk when the step limit is reached before
	// the end token is drawn.
	ErrMaxSteps = errors.New("markov: walk reached the step limit")
)

// Rand is the source of randomness used for sampling. A *rand.Rand from
// math/rand/v2 satisfies it, but is not safe for concurrent use.
type Rand interface {
	Float64() float64
}

// globalRand draws from the top-level math/rand/v2 source, which is safe for
// concurrent use.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// chainOptions is used by NewChain and RestoreChain to configure defaults.
type chainOptions struct {
	stateSize int
	rng       Rand
	maxSteps  int
}

// ChainOption configures a Chain at construction time.
type ChainOption func(*chainOptions)

// WithStateSize sets how many preceding tokens make up a state. Values below
// 1 or above MaxStateSize are ignored.
// Default: 2
func WithStateSize(n int) ChainOption {
	return func(o *chainOptions) {
		if n >= 1 && n <= MaxStateSize {
			o.stateSize = n
		}
	}
}

// WithRand sets the random source used by Step. Passing a seeded *rand.Rand
// makes generation reproducible.
func WithRand(r Rand) ChainOption {
	return func(o *chainOptions) {
		if r != nil {
			o.rng = r
		}
	}
}

// WithMaxSteps bounds the number of tokens Generate may produce before it
// gives up with ErrMaxSteps. A value of 0 leaves generation unbounded.
// Default: 0
func WithMaxSteps(n int) ChainOption {
	return func(o *chainOptions) { o.maxSteps = n }
}

// Transition is one recorded `state -> next` link and the number of times it
// was observed.
type Transition[T comparable] struct {
	State []T
	Next  T
	Count int
}

// stateKey folds a state into a comparable value usable as a map key,
// whatever its length.
type stateKey[T comparable] struct {
	prev any
	tok  T
}

func keyOf[T comparable](state []T) any {
	var k any
	for _, tok := range state {
		k = stateKey[T]{prev: k, tok: tok}
	}
	return k
}

// weights holds the successors of one state in first-seen order.
type weights[T comparable] struct {
	state  []T
	next   []T
	counts []int
	cum    []int // prefix sums of counts, filled by compute
	index  map[T]int
}

func (w *weights[T]) add(tok T, n int) {
	if i, ok := w.index[tok]; ok {
		w.counts[i] += n
		return
	}
	w.index[tok] = len(w.next)
	w.next = append(w.next, tok)
	w.counts = append(w.counts, n)
}

// accumulate turns weights into their prefix sums.
func accumulate(ns []int) []int {
	cum := make([]int, len(ns))
	total := 0
	for i, n := range ns {
		total += n
		cum[i] = total
	}
	return cum
}

// Chain is a fixed-order Markov model over tokens of type T. It is built once
// and is read-only afterwards, so a Chain may be shared between goroutines as
// long as its Rand is safe for concurrent use.
type Chain[T comparable] struct {
	stateSize int
	begin     T
	end       T
	rng       Rand
	maxSteps  int

	states []*weights[T]
	lookup map[any]int

	beginChoices []T
	beginCumDist []int
}

func newChain[T comparable](begin, end T, opts []ChainOption) *Chain[T] {
	options := &chainOptions{
		stateSize: DefaultStateSize,
		rng:       globalRand{},
	}
	for _, opt := range opts {
		opt(options)
	}
	return &Chain[T]{
		stateSize: options.stateSize,
		begin:     begin,
		end:       end,
		rng:       options.rng,
		maxSteps:  options.maxSteps,
		lookup:    make(map[any]int),
	}
}

// NewChain builds a Chain from training runs. Each run is padded with
// state-size begin tokens and a single end token; every window of the padded
// run is recorded together with the token that follows it. The begin and end
// tokens must never appear inside a run.
func NewChain[T comparable](data [][]T, begin, end T, opts ...ChainOption) *Chain[T] {
	c := newChain(begin, end, opts)

	items := make([]T, 0, c.stateSize+1)
	for _, run := range data {
		items = items[:0]
		for range c.stateSize {
			items = append(items, begin)
		}
		items = append(items, run...)
		items = append(items, end)

		for i := 0; i < len(run)+1; i++ { // len+1 to include the final end token.
			c.record(items[i:i+c.stateSize], items[i+c.stateSize], 1)
		}
	}

	c.compute()
	return c
}

// RestoreChain rebuilds a Chain from a table previously returned by
// Transitions. The state size comes from the options and every transition
// must match it. Begin may only pad the front of a state and never follow
// one; end may only follow one.
func RestoreChain[T comparable](transitions []Transition[T], begin, end T, opts ...ChainOption) (*Chain[T], error) {
	c := newChain(begin, end, opts)
	for _, t := range transitions {
		if len(t.State) != c.stateSize {
			return nil, fmt.Errorf("transition state has %d tokens, want %d", len(t.State), c.stateSize)
		}
		if t.Count < 1 {
			return nil, fmt.Errorf("transition %v -> %v has non-positive count %d", t.State, t.Next, t.Count)
		}
		if err := c.checkSentinels(t.State, t.Next); err != nil {
			return nil, err
		}
		c.record(t.State, t.Next, t.Count)
	}
	c.compute()
	return c, nil
}

func (c *Chain[T]) checkSentinels(state []T, next T) error {
	if next == c.begin {
		return fmt.Errorf("transition %v -> %v leads back to the begin token", state, next)
	}
	padding := true
	for _, tok := range state {
		switch {
		case tok == c.end:
			return fmt.Errorf("transition state %v holds the end token", state)
		case tok == c.begin && !padding:
			return fmt.Errorf("transition state %v has the begin token after a word", state)
		case tok != c.begin:
			padding = false
		}
	}
	return nil
}

func (c *Chain[T]) record(state []T, next T, n int) {
	key := keyOf(state)
	i, ok := c.lookup[key]
	if !ok {
		i = len(c.states)
		c.lookup[key] = i
		c.states = append(c.states, &weights[T]{
			state: slices.Clone(state),
			index: make(map[T]int),
		})
	}
	c.states[i].add(next, n)
}

// compute caches the cumulative weights of every state, and the choices of
// the initial state, which every walk starts from.
func (c *Chain[T]) compute() {
	for _, w := range c.states {
		w.cum = accumulate(w.counts)
	}

	i, ok := c.lookup[keyOf(c.InitialState())]
	if !ok {
		return
	}
	w := c.states[i]
	c.beginChoices = slices.Clone(w.next)
	c.beginCumDist = slices.Clone(w.cum)
}

// StateSize returns the number of tokens in a state.
func (c *Chain[T]) StateSize() int {
	return c.stateSize
}

// InitialState returns a new state made entirely of begin tokens.
func (c *Chain[T]) InitialState() []T {
	state := make([]T, c.stateSize)
	for i := range state {
		state[i] = c.begin
	}
	return state
}

func (c *Chain[T]) isInitial(state []T) bool {
	if len(state) != c.stateSize {
		return false
	}
	for _, tok := range state {
		if tok != c.begin {
			return false
		}
	}
	return true
}

// Step draws the token that follows state. The draw scales a uniform
// fraction by the total weight, truncates it, and picks the first bucket whose
// cumulative weight is strictly greater.
func (c *Chain[T]) Step(state []T) (T, error) {
	var zero T

	choices, cumdist := c.beginChoices, c.beginCumDist
	if !c.isInitial(state) {
		i, ok := c.lookup[keyOf(state)]
		if !ok {
			return zero, fmt.Errorf("%w: %v", ErrStateNotFound, state)
		}
		choices, cumdist = c.states[i].next, c.states[i].cum
	}
	if len(choices) == 0 {
		return zero, ErrEmptyModel
	}

	r := int(c.rng.Float64() * float64(cumdist[len(cumdist)-1]))
	i := sort.Search(len(cumdist), func(i int) bool { return cumdist[i] > r })
	if i == len(choices) { // Only reachable with a Rand that returns 1.0.
		i--
	}
	return choices[i], nil
}

// Generate walks the chain from init until the end token is drawn and returns
// the tokens in between. A nil init starts from the initial state. The walk is
// unbounded unless the Chain was built with WithMaxSteps.
func (c *Chain[T]) Generate(init []T) ([]T, error) {
	return c.Walk(init, c.maxSteps)
}

// Walk is Generate with an explicit step limit. When limit is positive and
// limit tokens have been produced without reaching the end token, the tokens
// so far are returned together with ErrMaxSteps.
func (c *Chain[T]) Walk(init []T, limit int) ([]T, error) {
	state := c.InitialState()
	if init != nil {
		if len(init) != c.stateSize {
			return nil, fmt.Errorf("%w: state has %d tokens, want %d", ErrStateNotFound, len(init), c.stateSize)
		}
		copy(state, init)
	}

	var out []T
	for {
		next, err := c.Step(state)
		if err != nil {
			return nil, err
		}
		if next == c.end {
			return out, nil
		}
		if limit > 0 && len(out) == limit {
			return out, ErrMaxSteps
		}
		out = append(out, next)

		// Shift the window and append the new token.
		copy(state, state[1:])
		state[len(state)-1] = next
	}
}

// FindStatesContaining returns every recorded state that includes tok at any
// position, in the order the states were first recorded.
func (c *Chain[T]) FindStatesContaining(tok T) [][]T {
	var found [][]T
	for _, w := range c.states {
		if slices.Contains(w.state, tok) {
			found = append(found, slices.Clone(w.state))
		}
	}
	return found
}

// Transitions returns every recorded link in storage order. Feeding the
// result to RestoreChain yields an equivalent Chain.
func (c *Chain[T]) Transitions() []Transition[T] {
	var out []Transition[T]
	for _, w := range c.states {
		for i, next := range w.next {
			out = append(out, Transition[T]{
				State: slices.Clone(w.state),
				Next:  next,
				Count: w.counts[i],
			})
		}
	}
	return out
}
