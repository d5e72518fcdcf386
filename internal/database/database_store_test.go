package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestHandleErr(t *testing.T) {
	unknown := errors.New("boom")
	sentinels := []error{ErrNotFound, ErrDuplicate, ErrPermissionDenied, ErrUnavailable}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no documents", mongo.ErrNoDocuments, ErrNotFound},
		{"wrapped no documents", fmt.Errorf("find one: %w", mongo.ErrNoDocuments), ErrNotFound},
		{"duplicate key", mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}, ErrDuplicate},
		{"unauthorized", mongo.CommandError{Code: 13, Name: "Unauthorized"}, ErrPermissionDenied},
		{"authentication failed", mongo.CommandError{Code: 18, Name: "AuthenticationFailed"}, ErrPermissionDenied},
		{"atlas unauthorized", mongo.CommandError{Code: 8000, Name: "AtlasError"}, ErrPermissionDenied},
		{"wrapped unauthorized", fmt.Errorf("watch: %w", mongo.CommandError{Code: 13}), ErrPermissionDenied},
		{"deadline", context.DeadlineExceeded, ErrUnavailable},
		{"unclassified", unknown, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HandleErr(tt.err)
			assert.Contains(t, got.Error(), tt.err.Error())
			for _, sentinel := range sentinels {
				assert.Equal(t, sentinel == tt.want, errors.Is(got, sentinel), "errors.Is(%v, %v)", got, sentinel)
			}
		})
	}
	assert.ErrorIs(t, HandleErr(unknown), unknown)
	assert.NoError(t, HandleErr(nil))
}

func TestChangeStreamMatch(t *testing.T) {
	byID := changeStreamMatch(Query{Collection: "counters", Filter: bson.D{{Key: "_id", Value: "u1"}}})
	assert.Len(t, byID, 2)
	assert.Equal(t, "operationType", byID[0].Key)
	assert.Equal(t, bson.E{Key: "documentKey._id", Value: "u1"}, byID[1])

	byOwner := changeStreamMatch(Query{Collection: "notifications", Filter: bson.D{{Key: "owner_id", Value: "u1"}}})
	assert.Len(t, byOwner, 1)

	all := changeStreamMatch(Query{Collection: "notifications"})
	assert.Len(t, all, 1)
}
