package docstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps documents in process. Snapshots are delivered
// synchronously from the writing goroutine after the store lock is released.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	subs        map[uint64]*memorySubscription
	nextSubID   uint64
	newID       func() string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[uint64]*memorySubscription),
		newID:       uuid.NewString,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Collection: collection, Fields: CloneFields(fields)}, nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters Filters) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLocked(collection, filters), nil
}

func (s *MemoryStore) queryLocked(collection string, filters Filters) []Document {
	docs := make([]Document, 0)
	for id, fields := range s.collections[collection] {
		if !filters.Matches(fields) {
			continue
		}
		docs = append(docs, Document{ID: id, Collection: collection, Fields: CloneFields(fields)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func (s *MemoryStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := s.newID()
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields map[string]any, opts ...SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := applySetOptions(opts)

	s.mu.Lock()
	coll := s.collection(collection)
	existing, ok := coll[id]
	if o.merge && ok {
		for k, v := range fields {
			existing[k] = cloneValue(v)
		}
	} else {
		coll[id] = CloneFields(fields)
	}
	pending := s.snapshotsLocked(collection)
	s.mu.Unlock()

	pending.deliver()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	for k, v := range patch {
		existing[k] = cloneValue(v)
	}
	pending := s.snapshotsLocked(collection)
	s.mu.Unlock()

	pending.deliver()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	coll := s.collections[collection]
	if _, ok := coll[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(coll, id)
	pending := s.snapshotsLocked(collection)
	s.mu.Unlock()

	pending.deliver()
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection string, filters Filters, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		store:      s,
		collection: collection,
		filters:    CloneFields(filters),
		onSnapshot: onSnapshot,
		onError:    onError,
	}

	sub.stop = context.AfterFunc(ctx, sub.shutdown)

	s.mu.Lock()
	if sub.closed.Load() {
		s.mu.Unlock()
		return nil, ctx.Err()
	}
	s.nextSubID++
	sub.id = s.nextSubID
	s.subs[sub.id] = sub
	initial := pendingSnapshot{sub: sub, seq: sub.nextSeq(), docs: s.queryLocked(collection, filters)}
	s.mu.Unlock()

	pendingSnapshots{initial}.deliver()
	return sub, nil
}

// SubscriberCount reports the number of open subscriptions.
func (s *MemoryStore) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *MemoryStore) collection(name string) map[string]map[string]any {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[string]map[string]any)
		s.collections[name] = coll
	}
	return coll
}

func (s *MemoryStore) snapshotsLocked(collection string) pendingSnapshots {
	var pending pendingSnapshots
	for _, sub := range s.subs {
		if sub.collection != collection {
			continue
		}
		pending = append(pending, pendingSnapshot{
			sub:  sub,
			seq:  sub.nextSeq(),
			docs: s.queryLocked(collection, sub.filters),
		})
	}
	return pending
}

type pendingSnapshot struct {
	sub  *memorySubscription
	seq  uint64
	docs []Document
}

type pendingSnapshots []pendingSnapshot

func (p pendingSnapshots) deliver() {
	for _, snap := range p {
		snap.sub.deliver(snap.seq, snap.docs)
	}
}

type memorySubscription struct {
	store      *MemoryStore
	id         uint64
	collection string
	filters    Filters
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	stop       func() bool

	// seq is guarded by store.mu.
	seq uint64

	// deliverMu orders callbacks; Close never takes it so a callback may
	// close its own subscription.
	deliverMu sync.Mutex
	delivered uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func (m *memorySubscription) nextSeq() uint64 {
	m.seq++
	return m.seq
}

func (m *memorySubscription) deliver(seq uint64, docs []Document) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if m.closed.Load() || seq <= m.delivered {
		return
	}
	m.delivered = seq
	if m.onSnapshot != nil {
		m.onSnapshot(docs)
	}
}

func (m *memorySubscription) Close() error {
	m.shutdown()
	if m.stop != nil {
		m.stop()
	}
	return nil
}

func (m *memorySubscription) shutdown() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)

		m.store.mu.Lock()
		delete(m.store.subs, m.id)
		m.store.mu.Unlock()
	})
}
