package notification

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/auth"
	"github.com/life-stream-dev/bizfolio/internal/database"
	"github.com/life-stream-dev/bizfolio/internal/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type fixedSource struct {
	mu   sync.Mutex
	snap subscription.Snapshot
	ok   bool
}

func (s *fixedSource) Latest(key subscription.Key) (subscription.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key != subscription.KeyNotifications {
		return subscription.Snapshot{}, false
	}
	return s.snap, s.ok
}

func (s *fixedSource) set(snap subscription.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.ok = snap, true
}

type spyStore struct {
	updates  []string
	batches  [][]database.Update
	batchErr error
	onBatch  func()
}

func (s *spyStore) Update(_ context.Context, _ string, id string, set bson.M) error {
	s.updates = append(s.updates, id)
	return nil
}

func (s *spyStore) Create(_ context.Context, _ string, _ string, _ bson.M) error {
	return errors.New("unexpected create")
}

func (s *spyStore) UpdateBatch(_ context.Context, _ string, updates []database.Update) error {
	if s.onBatch != nil {
		s.onBatch()
	}
	s.batches = append(s.batches, updates)
	return s.batchErr
}

func makeSnapshot(t *testing.T, n, k int) subscription.Snapshot {
	t.Helper()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	docs := make([]database.Document, 0, n)
	for i := 0; i < n; i++ {
		doc, err := database.NewDocument(bson.M{
			"_id":        fmt.Sprintf("n%d", i),
			"owner_id":   "alice",
			"message":    "new review",
			"category":   "review",
			"created_at": base.Add(-time.Duration(i) * time.Minute),
			"read":       i >= k,
		})
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	return subscription.FromDocuments(subscription.KeyNotifications, "alice", docs...)
}

func TestUnreadCountEqualsK(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		n := r.Intn(40)
		k := 0
		if n > 0 {
			k = r.Intn(n + 1)
		}
		assert.Equal(t, k, UnreadCount(makeSnapshot(t, n, k)), "n=%d k=%d", n, k)
	}
}

func TestMissingReadFlagCountsAsUnread(t *testing.T) {
	doc, err := database.NewDocument(bson.M{"_id": "x", "message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, UnreadCount(subscription.FromDocuments(subscription.KeyNotifications, "alice", doc)))
}

func TestDecode(t *testing.T) {
	notifications, err := Decode(makeSnapshot(t, 3, 1))
	require.NoError(t, err)
	require.Len(t, notifications, 3)
	assert.Equal(t, "n0", notifications[0].ID)
	assert.False(t, notifications[0].Read)
	assert.True(t, notifications[1].Read)
	assert.Equal(t, "review", notifications[2].Category)
	assert.True(t, notifications[0].CreatedAt.After(notifications[1].CreatedAt))
}

func TestMarkAllReadIssuesOneBatchOfK(t *testing.T) {
	for _, tt := range []struct{ n, k int }{{10, 4}, {5, 5}, {1, 1}} {
		source := &fixedSource{}
		source.set(makeSnapshot(t, tt.n, tt.k))
		store := &spyStore{}
		r := NewReconciler(source, store)

		marked, err := r.MarkAllRead(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.k, marked)
		require.Len(t, store.batches, 1)
		assert.Len(t, store.batches[0], tt.k)
		for _, update := range store.batches[0] {
			assert.Equal(t, true, update.Set["read"])
			assert.NotNil(t, update.Set["read_at"])
		}
	}
}

func TestMarkAllReadWithNothingUnreadWritesNothing(t *testing.T) {
	source := &fixedSource{}
	source.set(makeSnapshot(t, 3, 0))
	store := &spyStore{}

	marked, err := NewReconciler(source, store).MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Empty(t, store.batches)
}

func TestMarkAllReadUsesSnapshotAtCallTime(t *testing.T) {
	source := &fixedSource{}
	source.set(makeSnapshot(t, 4, 2))
	store := &spyStore{}
	// a newer snapshot with more unread arrives while the batch is in flight
	store.onBatch = func() { source.set(makeSnapshot(t, 8, 8)) }

	marked, err := NewReconciler(source, store).MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, marked)
	ids := []string{store.batches[0][0].ID, store.batches[0][1].ID}
	assert.ElementsMatch(t, []string{"n0", "n1"}, ids)
}

func TestMarkAllReadErrors(t *testing.T) {
	store := &spyStore{}
	_, err := NewReconciler(&fixedSource{}, store).MarkAllRead(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)

	failed := &fixedSource{}
	failed.set(subscription.Snapshot{Key: subscription.KeyNotifications, Err: database.ErrPermissionDenied})
	_, err = NewReconciler(failed, store).MarkAllRead(context.Background())
	assert.ErrorIs(t, err, ErrFailedSnapshot)
	assert.ErrorIs(t, err, database.ErrPermissionDenied)

	source := &fixedSource{}
	source.set(makeSnapshot(t, 2, 2))
	_, err = NewReconciler(source, &spyStore{batchErr: database.ErrUnavailable}).MarkAllRead(context.Background())
	assert.ErrorIs(t, err, database.ErrUnavailable)
}

func TestMarkReadIsNotOptimistic(t *testing.T) {
	source := &fixedSource{}
	source.set(makeSnapshot(t, 3, 3))
	store := &spyStore{}
	r := NewReconciler(source, store)

	require.NoError(t, r.MarkRead(context.Background(), "n1"))
	assert.Equal(t, []string{"n1"}, store.updates)
	unread, err := r.Unread()
	require.NoError(t, err)
	assert.Equal(t, 3, unread, "local state waits for the next snapshot")
}

func TestReconcilerAgainstLiveSubscription(t *testing.T) {
	store := database.NewMemoryStore()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.Put(database.NotificationCollectionName, bson.M{
			"_id": fmt.Sprintf("n%d", i), "owner_id": "alice", "created_at": base.Add(time.Duration(i) * time.Minute), "read": false,
		})
		require.NoError(t, err)
	}

	manager := subscription.NewManager(store)
	defer manager.Close(context.Background())
	require.NoError(t, manager.OnSessionChange(context.Background(), &auth.Session{UserID: "alice"}))

	r := NewReconciler(manager, store)
	require.Eventually(t, func() bool { n, err := r.Unread(); return err == nil && n == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.MarkRead(context.Background(), "n0"))
	require.Eventually(t, func() bool { n, _ := r.Unread(); return n == 2 }, 2*time.Second, 5*time.Millisecond)

	marked, err := r.MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, marked)
	require.Eventually(t, func() bool { n, _ := r.Unread(); return n == 0 }, 2*time.Second, 5*time.Millisecond)
}
