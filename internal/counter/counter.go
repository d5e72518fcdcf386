// Package counter records per-business usage metrics with the store's atomic
// increment, creating the record on first use.
package counter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/database"
	"github.com/life-stream-dev/bizfolio/internal/logger"
	"github.com/life-stream-dev/bizfolio/internal/subscription"
	"github.com/life-stream-dev/bizfolio/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
)

type Metric string

const (
	Views         Metric = "views"
	Clicks        Metric = "clicks"
	Scans         Metric = "scans"
	Conversations Metric = "conversations"
)

var Metrics = []Metric{Views, Clicks, Scans, Conversations}

var (
	// ErrRaceLoss means another session created the record first and this
	// increment was dropped.
	ErrRaceLoss      = errors.New("counter record created concurrently, increment lost")
	ErrUnknownMetric = errors.New("unknown metric")
)

func ParseMetric(s string) (Metric, error) {
	metric := Metric(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Metrics {
		if metric == known {
			return metric, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

type Store interface {
	database.Incrementer
	database.Writer
}

type Accumulator struct {
	store Store
	now   func() time.Time
}

func NewAccumulator(store Store) *Accumulator {
	return &Accumulator{store: store, now: time.Now}
}

func dailyPath(day string, metric Metric) string {
	return "daily." + day + "." + string(metric)
}

// Increment adds one to metric and to today's entry of metric. A missing
// record is created with every metric at zero except this one.
func (a *Accumulator) Increment(ctx context.Context, businessID string, metric Metric) error {
	if _, err := ParseMetric(string(metric)); err != nil {
		return err
	}
	day := utils.DateKey(a.now())

	err := a.store.Increment(ctx, database.CounterCollectionName, businessID, map[string]int64{
		string(metric):         1,
		dailyPath(day, metric): 1,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("increment %s of %s: %w", metric, businessID, err)
	}

	record := bson.M{}
	for _, m := range Metrics {
		record[string(m)] = int64(0)
	}
	record[string(metric)] = int64(1)
	record["daily"] = bson.M{day: bson.M{string(metric): int64(1)}}

	err = a.store.Create(ctx, database.CounterCollectionName, businessID, record)
	switch {
	case err == nil:
		logger.DebugF("Counter record created for %s", businessID)
		return nil
	case errors.Is(err, database.ErrDuplicate):
		logger.DebugF("Counter record for %s created concurrently, %s increment dropped", businessID, metric)
		return ErrRaceLoss
	default:
		return fmt.Errorf("create counter record of %s: %w", businessID, err)
	}
}

// Record is the decoded counter document of one business.
type Record struct {
	BusinessID    string                      `bson:"-" json:"business_id"`
	Views         int64                       `bson:"views" json:"views"`
	Clicks        int64                       `bson:"clicks" json:"clicks"`
	Scans         int64                       `bson:"scans" json:"scans"`
	Conversations int64                       `bson:"conversations" json:"conversations"`
	Daily         map[string]map[string]int64 `bson:"daily" json:"daily"`
}

func (r Record) Get(metric Metric) int64 {
	switch metric {
	case Views:
		return r.Views
	case Clicks:
		return r.Clicks
	case Scans:
		return r.Scans
	case Conversations:
		return r.Conversations
	default:
		return 0
	}
}

// Day returns the breakdown for t's UTC date; metrics without hits are zero.
func (r Record) Day(t time.Time) map[Metric]int64 {
	day := make(map[Metric]int64, len(Metrics))
	entry := r.Daily[utils.DateKey(t)]
	for _, m := range Metrics {
		day[m] = entry[string(m)]
	}
	return day
}

// Decode reads the record from a counters snapshot. ok is false when the
// business has no record yet.
func Decode(snap subscription.Snapshot) (record Record, ok bool, err error) {
	if snap.Err != nil {
		return Record{}, false, snap.Err
	}
	doc, ok := snap.First()
	if !ok {
		return Record{}, false, nil
	}
	if err := doc.Decode(&record); err != nil {
		return Record{}, false, fmt.Errorf("decode counter record %s: %w", doc.ID, err)
	}
	record.BusinessID = doc.ID
	return record, true, nil
}
