package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	mu         sync.Mutex
	launched   []string
	opened     []string
	foreground bool
	launchErr  error
}

func (p *fakePlatform) Launch(uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launched = append(p.launched, uri)
	return p.launchErr
}

func (p *fakePlatform) OpenNewContext(uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, uri)
	return nil
}

func (p *fakePlatform) Foreground() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.foreground
}

func (p *fakePlatform) setForeground(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.foreground = v
}

type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

// manualClock collects armed timers so tests decide when they fire.
type manualClock struct {
	timers []*fakeTimer
}

func (c *manualClock) afterFunc(d time.Duration, f func()) stopper {
	t := &fakeTimer{delay: d, fire: f}
	c.timers = append(c.timers, t)
	return t
}

func newTestResolver(platform Platform) (*Resolver, *manualClock) {
	clock := &manualClock{}
	r := NewResolver(platform)
	r.afterFunc = clock.afterFunc
	return r, clock
}

func outcomeOf(t *testing.T, d *Dispatch) Outcome {
	t.Helper()
	select {
	case <-d.Done():
	default:
		t.Fatal("dispatch has not finished")
	}
	outcome, err := d.Wait(context.Background())
	require.NoError(t, err)
	return outcome
}

func TestSingleCandidateInvokesImmediately(t *testing.T) {
	platform := &fakePlatform{foreground: true}
	r, clock := newTestResolver(platform)

	d, err := r.Resolve(Request{Address: "1 Main St", Mode: Walk, Platform: Other})
	require.NoError(t, err)

	assert.Empty(t, clock.timers, "no timer for a single candidate")
	require.Len(t, platform.launched, 1)
	assert.Contains(t, platform.launched[0], "travelmode=walking")

	outcome := outcomeOf(t, d)
	assert.Equal(t, Done, outcome.State)
	assert.True(t, outcome.Exhausted)
	assert.True(t, outcome.Dispatched())
}

func TestFocusLostBeforeTimeoutSkipsFallback(t *testing.T) {
	platform := &fakePlatform{foreground: true}
	r, clock := newTestResolver(platform)

	d, err := r.Resolve(Request{Address: "1 Main St", Mode: Drive, Platform: Apple})
	require.NoError(t, err)
	require.Len(t, clock.timers, 1)
	assert.Equal(t, DefaultFallbackTimeout, clock.timers[0].delay)
	assert.Equal(t, []string{"maps://?daddr=1+Main+St&dirflg=d"}, platform.launched)

	select {
	case <-d.Done():
		t.Fatal("dispatch finished before the timer fired")
	default:
	}

	platform.setForeground(false)
	clock.timers[0].fire()

	outcome := outcomeOf(t, d)
	assert.Equal(t, Done, outcome.State)
	assert.False(t, outcome.Exhausted)
	assert.Len(t, outcome.Invoked, 1)
	assert.Empty(t, platform.opened)
}

func TestFocusRetainedOpensFallbackOnce(t *testing.T) {
	platform := &fakePlatform{foreground: true}
	r, clock := newTestResolver(platform)

	d, err := r.Resolve(Request{Address: "1 Main St", Mode: Bike, Platform: Android})
	require.NoError(t, err)
	require.Len(t, clock.timers, 1)

	clock.timers[0].fire()
	// a late duplicate fire is ignored
	clock.timers[0].fire()

	require.Len(t, platform.opened, 1)
	assert.Equal(t, "https://www.google.com/maps/dir/?api=1&destination=1+Main+St&travelmode=bicycling", platform.opened[0])

	outcome := outcomeOf(t, d)
	assert.Equal(t, TimeoutElapsedFallback, outcome.State)
	assert.True(t, outcome.Exhausted)
	assert.Len(t, outcome.Invoked, 2)
}

func TestNewRequestSupersedesPendingChain(t *testing.T) {
	platform := &fakePlatform{foreground: true}
	r, clock := newTestResolver(platform)

	first, err := r.Resolve(Request{Address: "A", Platform: Apple})
	require.NoError(t, err)
	second, err := r.Resolve(Request{Address: "B", Platform: Apple})
	require.NoError(t, err)

	require.Len(t, clock.timers, 2)
	assert.True(t, clock.timers[0].stopped)

	outcome := outcomeOf(t, first)
	assert.True(t, outcome.Superseded)
	assert.Equal(t, CandidateDispatched, outcome.State)

	// the stale timer firing anyway must not touch the new chain
	clock.timers[0].fire()
	assert.Empty(t, platform.opened)

	clock.timers[1].fire()
	require.Len(t, platform.opened, 1)
	assert.Contains(t, platform.opened[0], "destination=B")
	assert.False(t, outcomeOf(t, second).Superseded)
}

func TestCancel(t *testing.T) {
	platform := &fakePlatform{foreground: true}
	r, clock := newTestResolver(platform)

	d, err := r.ResolveContact(WhatsApp, "+44 20 7946 0958")
	require.NoError(t, err)
	r.Cancel()
	r.Cancel()

	assert.True(t, clock.timers[0].stopped)
	assert.True(t, outcomeOf(t, d).Superseded)
	assert.Empty(t, platform.opened)
}

func TestLaunchFailureFallsBackImmediately(t *testing.T) {
	platform := &fakePlatform{foreground: true, launchErr: errors.New("no handler")}
	r, clock := newTestResolver(platform)

	d, err := r.ResolveContact(WhatsApp, "+1 555 0100")
	require.NoError(t, err)

	assert.Empty(t, clock.timers)
	assert.Equal(t, []string{"https://wa.me/15550100"}, platform.opened)
	outcome := outcomeOf(t, d)
	assert.True(t, outcome.Exhausted)
	assert.Equal(t, TimeoutElapsedFallback, outcome.State)
}

func TestResolveRejectsBadRequests(t *testing.T) {
	r, _ := newTestResolver(&fakePlatform{})
	_, err := r.Resolve(Request{Address: "  "})
	assert.ErrorIs(t, err, ErrEmptyTarget)
	_, err = r.Resolve(Request{Address: "x", Mode: "teleport"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestRealTimerFallback(t *testing.T) {
	platform := &fakePlatform{foreground: true}
	r := NewResolver(platform, WithFallbackTimeout(10*time.Millisecond))

	d, err := r.Resolve(Request{Address: "1 Main St", Platform: Android})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := d.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Exhausted)
	assert.Len(t, outcome.Invoked, 2)
}
