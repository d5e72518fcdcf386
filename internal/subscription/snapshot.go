package subscription

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/bizfolio/internal/database"
)

// Key names a tracked collection of the current session.
type Key string

const (
	KeyBusiness      Key = "business"
	KeyNotifications Key = "notifications"
	KeyCounters      Key = "counters"
)

// Keys lists every key established for a session.
var Keys = []Key{KeyBusiness, KeyNotifications, KeyCounters}

// Snapshot is one delivery of a live query. It is never modified after
// construction; Documents hands out copies.
type Snapshot struct {
	Key            Key
	SessionID      string
	SubscriptionID uuid.UUID
	// Sequence starts at 1 and grows by one per delivery of a subscription.
	Sequence   uint64
	ReceivedAt time.Time
	// Err is set on the terminal snapshot of a failed subscription.
	Err error

	documents []database.Document
}

func newSnapshot(key Key, sessionID string, id uuid.UUID, sequence uint64, at time.Time, change database.Change) Snapshot {
	return Snapshot{
		Key:            key,
		SessionID:      sessionID,
		SubscriptionID: id,
		Sequence:       sequence,
		ReceivedAt:     at,
		Err:            change.Err,
		documents:      copyDocuments(change.Documents),
	}
}

func copyDocuments(docs []database.Document) []database.Document {
	if docs == nil {
		return nil
	}
	out := make([]database.Document, len(docs))
	for i, doc := range docs {
		raw := make([]byte, len(doc.Raw))
		copy(raw, doc.Raw)
		out[i] = database.Document{ID: doc.ID, Raw: raw}
	}
	return out
}

func (s Snapshot) Documents() []database.Document {
	return copyDocuments(s.documents)
}

func (s Snapshot) Len() int {
	return len(s.documents)
}

// First returns the first document, used for single-document keys.
func (s Snapshot) First() (database.Document, bool) {
	if len(s.documents) == 0 {
		return database.Document{}, false
	}
	return copyDocuments(s.documents[:1])[0], true
}

func (s Snapshot) Failed() bool {
	return s.Err != nil
}

// PermissionDenied reports a failure the user can only fix by signing in again.
func (s Snapshot) PermissionDenied() bool {
	return errors.Is(s.Err, database.ErrPermissionDenied)
}

// FromDocuments builds a snapshot outside any subscription, as used by
// offline tools and tests.
func FromDocuments(key Key, sessionID string, docs ...database.Document) Snapshot {
	return Snapshot{
		Key:        key,
		SessionID:  sessionID,
		ReceivedAt: time.Now(),
		documents:  copyDocuments(docs),
	}
}
