package database

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/bizfolio/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ Store = (*MemoryStore)(nil)

type memoryWatcher struct {
	query  Query
	notify chan struct{}
	fail   chan error
}

// MemoryStore is an in-process Store with the same observable semantics as
// Mongo: atomic increments, all-or-nothing batches and live queries.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]bson.Raw
	watchers    map[string]map[*memoryWatcher]struct{}
	watchErrors map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]bson.Raw),
		watchers:    make(map[string]map[*memoryWatcher]struct{}),
		watchErrors: make(map[string]error),
	}
}

// Put stores v (a struct or map carrying _id) as-is, replacing any existing
// document. When _id is missing a UUID is assigned. It returns the id.
func (ms *MemoryStore) Put(collection string, v interface{}) (string, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	id := idString(raw)
	if id == "" {
		doc := bson.M{}
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return "", err
		}
		id = uuid.NewString()
		doc["_id"] = id
		if raw, err = bson.Marshal(doc); err != nil {
			return "", err
		}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.collection(collection)[id] = raw
	ms.notifyLocked(collection)
	return id, nil
}

// Delete removes a document; missing ids are ignored.
func (ms *MemoryStore) Delete(collection string, id string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.collection(collection), id)
	ms.notifyLocked(collection)
}

// FailWatch makes subsequent Watch calls on collection deliver err as their only Change.
func (ms *MemoryStore) FailWatch(collection string, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err == nil {
		delete(ms.watchErrors, collection)
		return
	}
	ms.watchErrors[collection] = err
}

// Break terminates every active watch on collection with err.
func (ms *MemoryStore) Break(collection string, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for w := range ms.watchers[collection] {
		select {
		case w.fail <- err:
		default:
		}
	}
}

// ActiveWatches counts live queries on collection.
func (ms *MemoryStore) ActiveWatches(collection string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.watchers[collection])
}

func (ms *MemoryStore) collection(name string) map[string]bson.Raw {
	coll, ok := ms.collections[name]
	if !ok {
		coll = make(map[string]bson.Raw)
		ms.collections[name] = coll
	}
	return coll
}

func (ms *MemoryStore) notifyLocked(collection string) {
	for w := range ms.watchers[collection] {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func (ms *MemoryStore) Get(_ context.Context, collection string, id string) (Document, error) {
	if id == "" {
		return Document{}, ErrEmptyID
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	raw, ok := ms.collection(collection)[id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Raw: raw}, nil
}

func (ms *MemoryStore) Watch(ctx context.Context, query Query) (<-chan Change, error) {
	ms.mu.Lock()
	if err := ms.watchErrors[query.Collection]; err != nil {
		ms.mu.Unlock()
		out := make(chan Change, 1)
		out <- Change{Err: err}
		close(out)
		return out, nil
	}
	w := &memoryWatcher{
		query:  query,
		notify: make(chan struct{}, 1),
		fail:   make(chan error, 1),
	}
	if ms.watchers[query.Collection] == nil {
		ms.watchers[query.Collection] = make(map[*memoryWatcher]struct{})
	}
	ms.watchers[query.Collection][w] = struct{}{}
	ms.mu.Unlock()

	out := make(chan Change)
	go func() {
		defer close(out)
		defer func() {
			ms.mu.Lock()
			delete(ms.watchers[query.Collection], w)
			ms.mu.Unlock()
		}()

		send := func(change Change) bool {
			select {
			case out <- change:
				return change.Err == nil
			case <-ctx.Done():
				return false
			}
		}

		if !send(Change{Documents: ms.run(query)}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-w.fail:
				send(Change{Err: err})
				return
			case <-w.notify:
				if !send(Change{Documents: ms.run(query)}) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (ms *MemoryStore) run(query Query) []Document {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	type row struct {
		doc    Document
		fields bson.M
	}
	rows := make([]row, 0)
	for id, raw := range ms.collection(query.Collection) {
		fields := bson.M{}
		if err := bson.Unmarshal(raw, &fields); err != nil {
			logger.ErrorF("memory store: undecodable document %s/%s: %v", query.Collection, id, err)
			continue
		}
		if matches(fields, query.Filter) {
			rows = append(rows, row{doc: Document{ID: id, Raw: raw}, fields: fields})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if c := compareBy(rows[i].fields, rows[j].fields, query.Sort); c != 0 {
			return c < 0
		}
		return rows[i].doc.ID < rows[j].doc.ID
	})

	if query.Limit > 0 && int64(len(rows)) > query.Limit {
		rows = rows[:query.Limit]
	}
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return docs
}

func (ms *MemoryStore) Update(_ context.Context, collection string, id string, set bson.M) error {
	if id == "" {
		return ErrEmptyID
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	raw, err := ms.modifyLocked(collection, id, func(doc bson.M) error {
		return applySet(doc, set)
	})
	if err != nil {
		return err
	}
	ms.collection(collection)[id] = raw
	ms.notifyLocked(collection)
	return nil
}

func (ms *MemoryStore) Create(_ context.Context, collection string, id string, fields bson.M) error {
	if id == "" {
		return ErrEmptyID
	}
	doc := make(bson.M, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc["_id"] = id
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	coll := ms.collection(collection)
	if _, exists := coll[id]; exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDuplicate)
	}
	coll[id] = raw
	ms.notifyLocked(collection)
	return nil
}

func (ms *MemoryStore) Increment(_ context.Context, collection string, id string, fields map[string]int64) error {
	if id == "" {
		return ErrEmptyID
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	raw, err := ms.modifyLocked(collection, id, func(doc bson.M) error {
		for path, delta := range fields {
			if err := applyInc(doc, path, delta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	ms.collection(collection)[id] = raw
	ms.notifyLocked(collection)
	return nil
}

func (ms *MemoryStore) UpdateBatch(_ context.Context, collection string, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	staged := make(map[string]bson.Raw, len(updates))
	for _, update := range updates {
		if update.ID == "" {
			return ErrEmptyID
		}
		raw, err := ms.modifyStaged(collection, update.ID, staged, func(doc bson.M) error {
			return applySet(doc, update.Set)
		})
		if err != nil {
			return err
		}
		staged[update.ID] = raw
	}

	coll := ms.collection(collection)
	for id, raw := range staged {
		coll[id] = raw
	}
	ms.notifyLocked(collection)
	return nil
}

func (ms *MemoryStore) modifyLocked(collection, id string, fn func(bson.M) error) (bson.Raw, error) {
	return ms.modifyStaged(collection, id, nil, fn)
}

func (ms *MemoryStore) modifyStaged(collection, id string, staged map[string]bson.Raw, fn func(bson.M) error) (bson.Raw, error) {
	raw, ok := staged[id]
	if !ok {
		raw, ok = ms.collection(collection)[id]
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	updated, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return updated, nil
}

// parent walks a dotted path, creating intermediate documents, and returns the
// containing document and the leaf key.
func parent(doc bson.M, path string) (bson.M, string, error) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok || next == nil {
			child := bson.M{}
			current[part] = child
			current = child
			continue
		}
		switch typed := next.(type) {
		case bson.M:
			current = typed
		case map[string]interface{}:
			current = typed
		case bson.D:
			child := typed.Map()
			current[part] = child
			current = child
		default:
			return nil, "", fmt.Errorf("field %q of path %q is not a document", part, path)
		}
	}
	return current, parts[len(parts)-1], nil
}

func applySet(doc bson.M, set bson.M) error {
	for path, value := range set {
		container, key, err := parent(doc, path)
		if err != nil {
			return err
		}
		container[key] = value
	}
	return nil
}

func applyInc(doc bson.M, path string, delta int64) error {
	container, key, err := parent(doc, path)
	if err != nil {
		return err
	}
	current, ok := container[key]
	if !ok || current == nil {
		container[key] = delta
		return nil
	}
	switch n := current.(type) {
	case int32:
		container[key] = int64(n) + delta
	case int64:
		container[key] = n + delta
	case int:
		container[key] = int64(n) + delta
	case float64:
		container[key] = n + float64(delta)
	default:
		return fmt.Errorf("cannot increment non-numeric field %q", path)
	}
	return nil
}

func matches(doc bson.M, filter bson.D) bool {
	for _, cond := range filter {
		value, ok := doc[cond.Key]
		if !ok || !valuesEqual(value, cond.Value) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case primitive.DateTime:
		return float64(n), true
	case time.Time:
		return float64(n.UnixMilli()), true
	}
	return 0, false
}

func compareBy(a, b bson.M, sortSpec bson.D) int {
	for _, key := range sortSpec {
		c := compareValues(a[key.Key], b[key.Key])
		if c == 0 {
			continue
		}
		if direction, ok := toFloat(key.Value); ok && direction < 0 {
			return -c
		}
		return c
	}
	return 0
}

func compareValues(a, b interface{}) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
