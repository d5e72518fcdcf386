// Package auth is the boundary to the authentication provider: it only carries
// session-change events, never credentials.
package auth

import (
	"context"
	"sync"
)

// Session identifies the authenticated principal. A nil *Session means anonymous.
type Session struct {
	UserID string
}

// Clone returns an independent copy, nil stays nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Equal reports whether two optional sessions identify the same principal.
func Equal(a, b *Session) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UserID == b.UserID
}

// ID returns the user id or "anonymous".
func (s *Session) ID() string {
	if s == nil {
		return "anonymous"
	}
	return s.UserID
}

// Provider emits a value every time sign-in or sign-out completes.
type Provider interface {
	Changes() <-chan *Session
}

// ChannelProvider is an in-process Provider fed by SignIn and SignOut.
type ChannelProvider struct {
	// senders hold mu for reading so Close can only close ch once they left
	mu     sync.RWMutex
	ch     chan *Session
	done   chan struct{}
	once   sync.Once
	closed bool
}

func NewChannelProvider(buffer int) *ChannelProvider {
	return &ChannelProvider{
		ch:   make(chan *Session, buffer),
		done: make(chan struct{}),
	}
}

func (p *ChannelProvider) Changes() <-chan *Session {
	return p.ch
}

func (p *ChannelProvider) SignIn(ctx context.Context, userID string) error {
	return p.emit(ctx, &Session{UserID: userID})
}

func (p *ChannelProvider) SignOut(ctx context.Context) error {
	return p.emit(ctx, nil)
}

func (p *ChannelProvider) emit(ctx context.Context, s *Session) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProviderClosed
	}
	select {
	case p.ch <- s:
		return nil
	case <-p.done:
		return ErrProviderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the event stream. Senders blocked on a full stream give up with
// ErrProviderClosed.
func (p *ChannelProvider) Close() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.ch)
		p.mu.Unlock()
	})
}
