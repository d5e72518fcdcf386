// Package dispatch turns a logical user action into platform invocations.
//
// The first candidate is launched through the platform's URI handler. If the
// page still holds focus when the fallback timer fires, no external
// application took over, and the next candidate is opened in a new browsing
// context. Focus is the only signal available: a dispatched outcome means a
// candidate was invoked, not that an application actually opened.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/logger"
)

const DefaultFallbackTimeout = 500 * time.Millisecond

// Platform is the host's URI dispatch surface.
type Platform interface {
	// Launch hands uri to the platform's scheme handler without blocking.
	Launch(uri string) error
	// OpenNewContext opens uri in a new browsing context.
	OpenNewContext(uri string) error
	// Foreground reports whether the invoking page still has focus.
	Foreground() bool
}

type State int

const (
	Idle State = iota
	CandidateDispatched
	TimeoutElapsedFallback
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CandidateDispatched:
		return "candidate-dispatched"
	case TimeoutElapsedFallback:
		return "timeout-elapsed-fallback"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Candidates []Candidate
	Invoked    []Candidate
	State      State
	// Exhausted is set once the last candidate has been invoked.
	Exhausted bool
	// Superseded is set when a newer request or Cancel retired the chain.
	Superseded bool
}

func (o Outcome) Dispatched() bool {
	return len(o.Invoked) > 0
}

// Dispatch is the handle of one fallback chain.
type Dispatch struct {
	done    chan struct{}
	outcome Outcome
}

func (d *Dispatch) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the chain reaches a terminal state or ctx ends.
func (d *Dispatch) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-d.done:
		return d.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type stopper interface {
	Stop() bool
}

type chain struct {
	generation uint64
	candidates []Candidate
	next       int
	timer      stopper
	handle     *Dispatch
	outcome    Outcome
}

// Resolver runs at most one fallback chain at a time.
type Resolver struct {
	platform  Platform
	timeout   time.Duration
	afterFunc func(time.Duration, func()) stopper

	mu         sync.Mutex
	generation uint64
	live       *chain
}

type Option func(*Resolver)

func WithFallbackTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func NewResolver(platform Platform, opts ...Option) *Resolver {
	r := &Resolver{
		platform: platform,
		timeout:  DefaultFallbackTimeout,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(req Request) (*Dispatch, error) {
	candidates, err := DirectionsCandidates(req)
	if err != nil {
		return nil, err
	}
	return r.Start(candidates), nil
}

func (r *Resolver) ResolveContact(channel Channel, value string) (*Dispatch, error) {
	candidates, err := ContactCandidates(channel, value)
	if err != nil {
		return nil, err
	}
	return r.Start(candidates), nil
}

// Start retires any live chain and dispatches candidates.
func (r *Resolver) Start(candidates []Candidate) *Dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.retireLocked()
	r.generation++
	c := &chain{
		generation: r.generation,
		candidates: candidates,
		handle:     &Dispatch{done: make(chan struct{})},
		outcome: Outcome{
			Candidates: append([]Candidate(nil), candidates...),
			State:      Idle,
		},
	}
	if len(candidates) == 0 {
		c.outcome.Exhausted = true
		r.finishLocked(c, Done)
		return c.handle
	}
	r.live = c

	first := candidates[0]
	c.next = 1
	c.outcome.Invoked = append(c.outcome.Invoked, first)
	c.outcome.State = CandidateDispatched
	if err := r.platform.Launch(first.URI); err != nil {
		logger.WarnF("Launch of %s failed: %v", first.Label, err)
		r.fallbackLocked(c)
		return c.handle
	}
	logger.DebugF("Dispatched candidate %s: %s", first.Label, first.URI)

	if len(candidates) == 1 {
		c.outcome.Exhausted = true
		r.finishLocked(c, Done)
		return c.handle
	}
	r.armLocked(c)
	return c.handle
}

// Cancel retires the live chain, if any.
func (r *Resolver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retireLocked()
}

func (r *Resolver) armLocked(c *chain) {
	generation := c.generation
	c.timer = r.afterFunc(r.timeout, func() {
		r.onTimeout(generation)
	})
}

func (r *Resolver) onTimeout(generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.live
	if c == nil || c.generation != generation {
		return
	}
	c.timer = nil
	if !r.platform.Foreground() {
		logger.DebugF("Focus left the page, %s accepted", c.candidates[c.next-1].Label)
		r.finishLocked(c, Done)
		return
	}
	r.fallbackLocked(c)
}

// fallbackLocked opens the next candidate in a new context and rearms the
// timer while candidates remain.
func (r *Resolver) fallbackLocked(c *chain) {
	for c.next < len(c.candidates) {
		candidate := c.candidates[c.next]
		c.next++
		c.outcome.Invoked = append(c.outcome.Invoked, candidate)
		c.outcome.State = TimeoutElapsedFallback

		if err := r.platform.OpenNewContext(candidate.URI); err != nil {
			logger.WarnF("Fallback %s failed: %v", candidate.Label, err)
			continue
		}
		logger.DebugF("Fallback candidate %s opened: %s", candidate.Label, candidate.URI)
		if c.next < len(c.candidates) {
			r.armLocked(c)
			return
		}
		break
	}
	c.outcome.Exhausted = true
	r.finishLocked(c, c.outcome.State)
}

func (r *Resolver) retireLocked() {
	c := r.live
	if c == nil {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.outcome.Superseded = true
	r.finishLocked(c, c.outcome.State)
}

func (r *Resolver) finishLocked(c *chain, state State) {
	c.outcome.State = state
	c.handle.outcome = c.outcome
	close(c.handle.done)
	if r.live == c {
		r.live = nil
	}
}
