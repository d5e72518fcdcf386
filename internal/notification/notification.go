// Package notification derives unread state from the notifications snapshot
// and writes read marks back to the store.
//
// Nothing is applied locally: after MarkRead or MarkAllRead the caller waits
// for the next snapshot to see the change.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/database"
	"github.com/life-stream-dev/bizfolio/internal/logger"
	"github.com/life-stream-dev/bizfolio/internal/subscription"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNoSnapshot     = errors.New("no notifications snapshot yet")
	ErrFailedSnapshot = errors.New("notifications subscription failed")
)

type Notification struct {
	ID        string     `bson:"-" json:"id"`
	OwnerID   string     `bson:"owner_id" json:"owner_id"`
	Message   string     `bson:"message" json:"message"`
	Category  string     `bson:"category" json:"category"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	Read      bool       `bson:"read" json:"read"`
	ReadAt    *time.Time `bson:"read_at,omitempty" json:"read_at,omitempty"`
}

// unread treats a missing read flag as unread.
func unread(doc database.Document) bool {
	read, ok := doc.Raw.Lookup("read").BooleanOK()
	return !ok || !read
}

// UnreadCount counts unread notifications in snap. A failed snapshot counts zero.
func UnreadCount(snap subscription.Snapshot) int {
	count := 0
	for _, doc := range snap.Documents() {
		if unread(doc) {
			count++
		}
	}
	return count
}

// Decode materializes every notification of snap in snapshot order.
func Decode(snap subscription.Snapshot) ([]Notification, error) {
	docs := snap.Documents()
	notifications := make([]Notification, 0, len(docs))
	for _, doc := range docs {
		var n Notification
		if err := doc.Decode(&n); err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", doc.ID, err)
		}
		n.ID = doc.ID
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// Source yields the latest snapshot of a key; *subscription.Manager implements it.
type Source interface {
	Latest(key subscription.Key) (subscription.Snapshot, bool)
}

type Store interface {
	database.Writer
	database.Batcher
}

type Reconciler struct {
	source Source
	store  Store
	now    func() time.Time
}

func NewReconciler(source Source, store Store) *Reconciler {
	return &Reconciler{source: source, store: store, now: time.Now}
}

func (r *Reconciler) latest() (subscription.Snapshot, error) {
	snap, ok := r.source.Latest(subscription.KeyNotifications)
	if !ok {
		return subscription.Snapshot{}, ErrNoSnapshot
	}
	if snap.Failed() {
		return subscription.Snapshot{}, fmt.Errorf("%w: %w", ErrFailedSnapshot, snap.Err)
	}
	return snap, nil
}

// Unread returns the unread count of the latest snapshot.
func (r *Reconciler) Unread() (int, error) {
	snap, err := r.latest()
	if err != nil {
		return 0, err
	}
	return UnreadCount(snap), nil
}

func (r *Reconciler) readFields() bson.M {
	return bson.M{"read": true, "read_at": r.now().UTC()}
}

// MarkRead issues one update setting read and read_at on id.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	if err := r.store.Update(ctx, database.NotificationCollectionName, id, r.readFields()); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	logger.DebugF("Notification %s marked read", id)
	return nil
}

// MarkAllRead marks every notification that is unread in the snapshot held at
// call time, in one all-or-nothing batch. It returns the number of documents
// in the batch and writes nothing when there are none.
func (r *Reconciler) MarkAllRead(ctx context.Context) (int, error) {
	snap, err := r.latest()
	if err != nil {
		return 0, err
	}

	fields := r.readFields()
	updates := make([]database.Update, 0)
	for _, doc := range snap.Documents() {
		if unread(doc) {
			updates = append(updates, database.Update{ID: doc.ID, Set: fields})
		}
	}
	if len(updates) == 0 {
		return 0, nil
	}

	if err := r.store.UpdateBatch(ctx, database.NotificationCollectionName, updates); err != nil {
		return 0, fmt.Errorf("mark %d notifications read: %w", len(updates), err)
	}
	logger.InfoF("Marked %d notifications read", len(updates))
	return len(updates), nil
}
