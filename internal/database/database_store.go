package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Store = (*Mongo)(nil)

// server error codes that mean the access rules rejected the request
var permissionCodes = []int{13, 18, 8000}

// HandleErr maps driver errors onto the package sentinels, keeping the cause.
func HandleErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		for _, code := range permissionCodes {
			if serverErr.HasErrorCode(code) {
				return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
			}
		}
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (m *Mongo) Get(ctx context.Context, collection string, id string) (Document, error) {
	if id == "" {
		return Document{}, ErrEmptyID
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	startTime := time.Now()
	raw, err := m.db.Collection(collection).FindOne(ctx, idFilter(id)).Raw()
	logger.DebugF("%s point read cost: %v", collection, time.Since(startTime))
	if err != nil {
		return Document{}, HandleErr(err)
	}
	return documentFromRaw(raw), nil
}

func (m *Mongo) find(ctx context.Context, query Query) ([]Document, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	opts := options.Find()
	if len(query.Sort) > 0 {
		opts.SetSort(query.Sort)
	}
	if query.Limit > 0 {
		opts.SetLimit(query.Limit)
	}
	filter := query.Filter
	if filter == nil {
		filter = bson.D{}
	}

	startTime := time.Now()
	cursor, err := m.db.Collection(query.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, HandleErr(err)
	}
	defer cursor.Close(ctx)

	docs := make([]Document, 0)
	for cursor.Next(ctx) {
		raw := make(bson.Raw, len(cursor.Current))
		copy(raw, cursor.Current)
		docs = append(docs, documentFromRaw(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, HandleErr(err)
	}
	logger.DebugF("%s query returned %d documents, cost: %v", query.Collection, len(docs), time.Since(startTime))
	return docs, nil
}

// changeStreamMatch selects the change events that can affect query. A query
// on _id alone only follows that document.
func changeStreamMatch(query Query) bson.D {
	match := bson.D{{Key: "operationType", Value: bson.D{
		{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}},
	}}}
	if len(query.Filter) == 1 && query.Filter[0].Key == "_id" {
		match = append(match, bson.E{Key: "documentKey._id", Value: query.Filter[0].Value})
	}
	return match
}

// Watch follows the collection's change stream and re-materializes the query
// after every batch of changes.
func (m *Mongo) Watch(ctx context.Context, query Query) (<-chan Change, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: changeStreamMatch(query)}}}
	stream, err := m.db.Collection(query.Collection).Watch(ctx, pipeline)
	if err != nil {
		return nil, HandleErr(err)
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), m.operationTimeout)
			defer cancel()
			_ = stream.Close(closeCtx)
		}()

		send := func(change Change) bool {
			select {
			case out <- change:
				return change.Err == nil
			case <-ctx.Done():
				return false
			}
		}
		emit := func() bool {
			docs, err := m.find(ctx, query)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				return send(Change{Err: err})
			}
			return send(Change{Documents: docs})
		}

		if !emit() {
			return
		}
		for stream.Next(ctx) {
			// coalesce whatever is already buffered into one re-query
			for stream.RemainingBatchLength() > 0 && stream.Next(ctx) {
			}
			if !emit() {
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			send(Change{Err: HandleErr(err)})
		}
	}()
	return out, nil
}

func (m *Mongo) Update(ctx context.Context, collection string, id string, set bson.M) error {
	if id == "" {
		return ErrEmptyID
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	result, err := m.db.Collection(collection).UpdateOne(ctx, idFilter(id), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return HandleErr(err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	logger.DebugF("Document updated: %s/%s, modified=%d", collection, id, result.ModifiedCount)
	return nil
}

func (m *Mongo) Create(ctx context.Context, collection string, id string, fields bson.M) error {
	if id == "" {
		return ErrEmptyID
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	doc := make(bson.M, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc["_id"] = id

	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return HandleErr(err)
	}
	logger.DebugF("Document created: %s/%s", collection, id)
	return nil
}

func (m *Mongo) Increment(ctx context.Context, collection string, id string, fields map[string]int64) error {
	if id == "" {
		return ErrEmptyID
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	inc := make(bson.M, len(fields))
	for k, v := range fields {
		inc[k] = v
	}
	result, err := m.db.Collection(collection).UpdateOne(ctx, idFilter(id), bson.D{{Key: "$inc", Value: inc}})
	if err != nil {
		return HandleErr(err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// UpdateBatch runs every update inside one transaction.
func (m *Mongo) UpdateBatch(ctx context.Context, collection string, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	session, err := m.client.StartSession()
	if err != nil {
		return HandleErr(err)
	}
	defer session.EndSession(ctx)

	coll := m.db.Collection(collection)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, update := range updates {
			if update.ID == "" {
				return nil, ErrEmptyID
			}
			result, err := coll.UpdateOne(sc, idFilter(update.ID), bson.D{{Key: "$set", Value: update.Set}})
			if err != nil {
				return nil, err
			}
			if result.MatchedCount == 0 {
				return nil, fmt.Errorf("%s/%s: %w", collection, update.ID, ErrNotFound)
			}
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrEmptyID) {
			return err
		}
		return HandleErr(err)
	}
	logger.DebugF("Batch committed: %s, documents=%d", collection, len(updates))
	return nil
}
