package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelProviderEmitsInOrder(t *testing.T) {
	p := NewChannelProvider(4)
	ctx := context.Background()

	require.NoError(t, p.SignIn(ctx, "alice"))
	require.NoError(t, p.SignOut(ctx))
	require.NoError(t, p.SignIn(ctx, "bob"))
	p.Close()

	var got []string
	for s := range p.Changes() {
		got = append(got, s.ID())
	}
	assert.Equal(t, []string{"alice", "anonymous", "bob"}, got)
	assert.ErrorIs(t, p.SignIn(ctx, "carol"), ErrProviderClosed)
}

func TestChannelProviderRespectsContext(t *testing.T) {
	p := NewChannelProvider(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.SignIn(ctx, "alice"), context.Canceled)
}

func TestChannelProviderCloseReleasesBlockedSender(t *testing.T) {
	p := NewChannelProvider(0)
	result := make(chan error, 1)
	go func() {
		result <- p.SignIn(context.Background(), "alice")
	}()

	// nobody reads Changes, so the sender stays blocked until Close
	time.Sleep(20 * time.Millisecond)
	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a pending sender")
	}
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrProviderClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("sender was not released by Close")
	}
	p.Close()
}

func TestSessionHelpers(t *testing.T) {
	var none *Session
	assert.Nil(t, none.Clone())
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(&Session{UserID: "a"}, nil))
	assert.True(t, Equal(&Session{UserID: "a"}, &Session{UserID: "a"}))

	s := &Session{UserID: "a"}
	c := s.Clone()
	c.UserID = "b"
	assert.Equal(t, "a", s.UserID)
}
