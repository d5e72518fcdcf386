package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	BusinessCollectionName     = "businesses"
	NotificationCollectionName = "notifications"
	CounterCollectionName      = "counters"
)

var collectionsList = []string{BusinessCollectionName, NotificationCollectionName, CounterCollectionName}

var (
	ErrNotFound         = errors.New("document does not exist")
	ErrDuplicate        = errors.New("unique key conflicts")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("store unavailable")
	ErrEmptyID          = errors.New("document id is empty")
)

// Document is one stored document as raw BSON plus its id rendered as a string.
type Document struct {
	ID  string
	Raw bson.Raw
}

// NewDocument encodes v and reads its _id.
func NewDocument(v interface{}) (Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("encode document: %w", err)
	}
	return documentFromRaw(raw), nil
}

func documentFromRaw(raw bson.Raw) Document {
	return Document{ID: idString(raw), Raw: raw}
}

func idString(raw bson.Raw) string {
	value, err := raw.LookupErr("_id")
	if err != nil {
		return ""
	}
	if s, ok := value.StringValueOK(); ok {
		return s
	}
	if oid, ok := value.ObjectIDOK(); ok {
		return oid.Hex()
	}
	return value.String()
}

// Decode unmarshals the document into v.
func (d Document) Decode(v interface{}) error {
	return bson.Unmarshal(d.Raw, v)
}

// Query selects documents of one collection with equality filters and an ordering.
type Query struct {
	Collection string
	Filter     bson.D
	Sort       bson.D
	Limit      int64
}

// Change is one materialization of a watched query, or its terminal error.
type Change struct {
	Documents []Document
	Err       error
}

// Update sets fields on the document with the given id.
type Update struct {
	ID  string
	Set bson.M
}

type Reader interface {
	Get(ctx context.Context, collection string, id string) (Document, error)
}

// Watcher opens live queries. The channel first carries the current result set,
// then a fresh result set after every remote change, and is closed when ctx
// ends or after a Change carrying Err.
type Watcher interface {
	Watch(ctx context.Context, query Query) (<-chan Change, error)
}

type Writer interface {
	// Update fails with ErrNotFound when no document has id.
	Update(ctx context.Context, collection string, id string, set bson.M) error
	// Create fails with ErrDuplicate when id is taken.
	Create(ctx context.Context, collection string, id string, fields bson.M) error
}

type Incrementer interface {
	// Increment atomically adds to every field path; ErrNotFound when id is missing.
	Increment(ctx context.Context, collection string, id string, fields map[string]int64) error
}

type Batcher interface {
	// UpdateBatch applies every update or none of them.
	UpdateBatch(ctx context.Context, collection string, updates []Update) error
}

type Store interface {
	Reader
	Watcher
	Writer
	Incrementer
	Batcher
}

// idFilter matches string ids and, when id is a valid hex ObjectID, the ObjectID form too.
func idFilter(id string) bson.D {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{id, oid}}}}}
	}
	return bson.D{{Key: "_id", Value: id}}
}
