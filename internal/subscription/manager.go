// Package subscription keeps one live query per tracked collection for the
// signed-in user and re-creates all of them whenever the session changes.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/bizfolio/internal/auth"
	"github.com/life-stream-dev/bizfolio/internal/database"
	"github.com/life-stream-dev/bizfolio/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSession   = errors.New("no active session")
	ErrUnknownKey  = errors.New("unknown subscription key")
	ErrManagerDone = errors.New("subscription manager closed")
)

// Observer receives every snapshot that becomes the latest for its key.
// Calls for one key never overlap; calls for different keys may.
// Observers must not call back into the Manager synchronously.
type Observer interface {
	OnSnapshot(Snapshot)
}

type ObserverFunc func(Snapshot)

func (f ObserverFunc) OnSnapshot(s Snapshot) {
	f(s)
}

// TeardownObserver is an optional Observer extension notified after a
// subscription has been detached and its delivery goroutine has exited.
type TeardownObserver interface {
	OnTeardown(key Key, id uuid.UUID)
}

type handle struct {
	id        uuid.UUID
	key       Key
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

type Manager struct {
	store     database.Watcher
	observers []Observer
	now       func() time.Time

	root       context.Context
	cancelRoot context.CancelFunc

	// change serializes session transitions, Resubscribe and Close.
	change sync.Mutex
	closed bool

	mu      sync.Mutex
	session *auth.Session
	active  map[Key]*handle
	latest  map[Key]Snapshot

	keyLocks map[Key]*sync.Mutex
}

func NewManager(store database.Watcher, observers ...Observer) *Manager {
	root, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:      store,
		observers:  observers,
		now:        time.Now,
		root:       root,
		cancelRoot: cancel,
		active:     make(map[Key]*handle),
		latest:     make(map[Key]Snapshot),
		keyLocks:   make(map[Key]*sync.Mutex, len(Keys)),
	}
	for _, key := range Keys {
		m.keyLocks[key] = &sync.Mutex{}
	}
	return m
}

func query(key Key, userID string) (database.Query, error) {
	switch key {
	case KeyBusiness:
		return database.Query{
			Collection: database.BusinessCollectionName,
			Filter:     bson.D{{Key: "_id", Value: userID}},
		}, nil
	case KeyNotifications:
		return database.Query{
			Collection: database.NotificationCollectionName,
			Filter:     bson.D{{Key: "owner_id", Value: userID}},
			Sort:       bson.D{{Key: "created_at", Value: -1}},
		}, nil
	case KeyCounters:
		return database.Query{
			Collection: database.CounterCollectionName,
			Filter:     bson.D{{Key: "_id", Value: userID}},
		}, nil
	default:
		return database.Query{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
}

// Session returns a copy of the current session, nil when signed out.
func (m *Manager) Session() *auth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Latest returns the newest snapshot delivered for key in the current session.
func (m *Manager) Latest(key Key) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.latest[key]
	return snap, ok
}

// OnSessionChange tears down every subscription of the previous session and,
// when session is non-nil, establishes the tracked keys for it.
func (m *Manager) OnSessionChange(ctx context.Context, session *auth.Session) error {
	m.change.Lock()
	defer m.change.Unlock()
	if m.closed {
		return ErrManagerDone
	}

	previous := m.Session()
	m.teardownAll()

	m.mu.Lock()
	m.session = session.Clone()
	m.mu.Unlock()
	logger.InfoF("Session changed: %s -> %s", previous.ID(), session.ID())

	if session == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range Keys {
		key := key
		g.Go(func() error {
			return m.establish(gctx, key, session.UserID)
		})
	}
	return g.Wait()
}

// Resubscribe replaces the subscription for key. It is the manual recovery
// path after a terminal error snapshot.
func (m *Manager) Resubscribe(ctx context.Context, key Key) error {
	m.change.Lock()
	defer m.change.Unlock()
	if m.closed {
		return ErrManagerDone
	}
	if _, ok := m.keyLocks[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	session := m.Session()
	if session == nil {
		return ErrNoSession
	}
	m.Teardown(key)
	return m.establish(ctx, key, session.UserID)
}

// Teardown detaches the subscription for key and waits for its delivery
// goroutine. Tearing down a missing subscription is a no-op.
func (m *Manager) Teardown(key Key) {
	m.mu.Lock()
	h := m.active[key]
	delete(m.active, key)
	m.mu.Unlock()

	if h == nil {
		return
	}
	h.cancel()
	<-h.done
	logger.DebugF("Subscription %s (%s) torn down", h.id, key)

	for _, observer := range m.observers {
		if o, ok := observer.(TeardownObserver); ok {
			o.OnTeardown(key, h.id)
		}
	}
}

// Close tears everything down; later calls do nothing.
func (m *Manager) Close(_ context.Context) error {
	m.change.Lock()
	defer m.change.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.teardownAll()
	m.cancelRoot()

	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	logger.InfoF("Subscription manager closed")
	return nil
}

// Run feeds session changes from provider into the manager until ctx ends or
// the provider closes its stream.
func (m *Manager) Run(ctx context.Context, provider auth.Provider) error {
	changes := provider.Changes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case session, ok := <-changes:
			if !ok {
				return nil
			}
			if err := m.OnSessionChange(ctx, session); err != nil {
				if errors.Is(err, ErrManagerDone) {
					return err
				}
				logger.ErrorF("Error occurred while changing session to %s: %v", session.ID(), err)
			}
		}
	}
}

func (m *Manager) teardownAll() {
	for _, key := range Keys {
		m.Teardown(key)
	}
	m.mu.Lock()
	m.latest = make(map[Key]Snapshot)
	m.mu.Unlock()
}

// establish opens the live query for key. A store that refuses the query
// produces a terminal error snapshot; only a done ctx is returned as error.
func (m *Manager) establish(ctx context.Context, key Key, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q, err := query(key, userID)
	if err != nil {
		return err
	}

	subCtx, cancel := context.WithCancel(m.root)
	h := &handle{
		id:        uuid.New(),
		key:       key,
		sessionID: userID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.mu.Lock()
	m.active[key] = h
	m.mu.Unlock()

	// ctx bounds opening the stream, m.root bounds its lifetime
	stop := context.AfterFunc(ctx, cancel)
	changes, err := m.store.Watch(subCtx, q)
	if !stop() {
		m.mu.Lock()
		if m.active[key] == h {
			delete(m.active, key)
		}
		m.mu.Unlock()
		if err == nil {
			for range changes {
			}
		}
		close(h.done)
		logger.DebugF("Subscription %s (%s) abandoned while opening", h.id, key)
		return ctx.Err()
	}
	if err != nil {
		logger.WarnF("Subscription %s (%s) rejected: %v", h.id, key, err)
		go func() {
			defer close(h.done)
			m.deliver(h, newSnapshot(key, userID, h.id, 1, m.now(), database.Change{Err: err}))
		}()
		return nil
	}
	logger.DebugF("Subscription %s (%s) established for %s", h.id, key, userID)

	go m.pump(subCtx, h, changes)
	return nil
}

func (m *Manager) pump(ctx context.Context, h *handle, changes <-chan database.Change) {
	defer close(h.done)
	// the store closes changes once its listener is released
	defer func() {
		for range changes {
		}
	}()
	var sequence uint64
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			sequence++
			m.deliver(h, newSnapshot(h.key, h.sessionID, h.id, sequence, m.now(), change))
			if change.Err != nil {
				logger.WarnF("Subscription %s (%s) failed: %v", h.id, h.key, change.Err)
				return
			}
		}
	}
}

// deliver publishes snap if h is still the active subscription for its key.
func (m *Manager) deliver(h *handle, snap Snapshot) {
	lock := m.keyLocks[h.key]
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if m.active[h.key] != h {
		m.mu.Unlock()
		logger.DebugF("Dropped snapshot %d of retired subscription %s", snap.Sequence, h.id)
		return
	}
	m.latest[h.key] = snap
	m.mu.Unlock()

	for _, observer := range m.observers {
		observer.OnSnapshot(snap)
	}
}
