package circuitbreaker

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	Closed   State = iota // Normal operation, requests pass through.
	Open                  // Failing, requests are rejected immediately.
	HalfOpen              // Testing recovery, one trial request allowed through.
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a request
// without attempting the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker guards one external dependency. It opens after failureThreshold
// consecutive failures, rejects all requests for the cooldown period, then
// admits exactly one trial request. A successful trial closes the circuit;
// a failed one re-opens it and restarts the cooldown.
//
// The breaker is meant to wrap a call that already performs its own transient
// retries, so one counted failure means the retry budget was exhausted.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	probing          bool
	now              func() time.Time
}

// New creates a Breaker that opens after failureThreshold consecutive errors
// and probes for recovery after cooldown.
func New(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:            Closed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Execute runs fn through the circuit breaker. If the circuit is open, or a
// trial request is already in flight, ErrCircuitOpen is returned without
// calling fn. No lock is held while fn runs.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = HalfOpen
		b.probing = true
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if b.state == HalfOpen {
			// Failed trial: re-open and restart the cooldown.
			b.state = Open
			b.openedAt = b.now()
			b.probing = false
			return err
		}
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = Open
			b.openedAt = b.now()
		}
		return err
	}

	b.failures = 0
	b.state = Closed
	b.probing = false
	return nil
}

// GetState returns the current state. An expired cooldown is reported as
// half-open even before the next call arrives.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Snapshot is a point-in-time view of one breaker for status and metrics.
type Snapshot struct {
	Dependency string    `json:"dependency"`
	State      string    `json:"state"`
	Failures   int       `json:"failures"`
	OpenedAt   time.Time `json:"opened_at,omitzero"`
}

func (b *Breaker) snapshot(name string) Snapshot {
	state := b.GetState()
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Dependency: name,
		State:      state.String(),
		Failures:   b.failures,
	}
	if b.state != Closed {
		s.OpenedAt = b.openedAt
	}
	return s
}

// Registry holds one breaker per external dependency name, creating them
// on demand with shared settings.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	failureThreshold int
	cooldown         time.Duration
}

func NewRegistry(failureThreshold int, cooldown time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Get returns the breaker for a dependency, creating it if needed.
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[dependency]
	if !ok {
		b = New(r.failureThreshold, r.cooldown)
		r.breakers[dependency] = b
	}
	return b
}

// Snapshots returns a view of every registered breaker, sorted by
// dependency name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for name, b := range r.breakers {
		out = append(out, b.snapshot(name))
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return strings.Compare(a.Dependency, b.Dependency)
	})
	return out
}
