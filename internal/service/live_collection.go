package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
)

type collectionSubscriber interface {
	Subscribe(ctx context.Context, collection string, filters docstore.Filters, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Subscription, error)
}

// LiveCollectionOptions tunes a LiveCollection.
type LiveCollectionOptions[T any] struct {
	// ClearOnResubscribe empties the list when a new subscription opens
	// instead of keeping the previous items until the first snapshot.
	ClearOnResubscribe bool
	// OnChange is called after every snapshot and after a terminal error.
	OnChange func(items []T, err error)
	Metrics  *MetricsService
	Logger   *zap.Logger
}

// LiveCollection mirrors a remote collection as a typed list. Every snapshot
// replaces the list wholesale. At most one subscription is open at a time.
type LiveCollection[T any] struct {
	source     collectionSubscriber
	collection string
	mapper     func(docstore.Document) T
	opts       LiveCollectionOptions[T]
	logger     *zap.Logger

	// opMu serializes Subscribe and Unsubscribe; mu guards the state below
	// and is never held while calling into the store.
	opMu       sync.Mutex
	mu         sync.Mutex
	handle     docstore.Subscription
	generation uint64
	failed     bool
	items      []T
	err        error
}

// NewLiveCollection builds a view over collection. mapper must not fail.
func NewLiveCollection[T any](source collectionSubscriber, collection string, mapper func(docstore.Document) T, opts LiveCollectionOptions[T]) *LiveCollection[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveCollection[T]{
		source:     source,
		collection: collection,
		mapper:     mapper,
		opts:       opts,
		logger:     logger.With(zap.String("collection", collection)),
	}
}

// Collection returns the subscribed collection path.
func (l *LiveCollection[T]) Collection() string {
	return l.collection
}

// Subscribe closes any open subscription and opens a new one with filters.
// The initial snapshot may be applied before Subscribe returns.
func (l *LiveCollection[T]) Subscribe(ctx context.Context, filters docstore.Filters) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	prev := l.handle
	l.handle = nil
	l.generation++
	gen := l.generation
	l.failed = false
	l.err = nil
	if l.opts.ClearOnResubscribe {
		l.items = nil
	}
	l.mu.Unlock()

	l.release(prev)

	handle, err := l.source.Subscribe(ctx, l.collection, filters,
		func(docs []docstore.Document) { l.apply(gen, docs) },
		func(err error) { l.fail(gen, err) },
	)
	if err != nil {
		l.opts.Metrics.RecordSubscriptionError(l.collection)
		appErr := l.transportError(err)
		l.mu.Lock()
		if gen == l.generation {
			l.failed = true
			l.err = appErr
		}
		l.mu.Unlock()
		l.notify()
		return appErr
	}

	l.mu.Lock()
	if gen != l.generation || l.failed {
		// the subscription already failed while opening
		l.mu.Unlock()
		_ = handle.Close()
		return l.Err()
	}
	l.handle = handle
	l.mu.Unlock()
	l.opts.Metrics.SubscriptionOpened()
	return nil
}

// Unsubscribe releases the open subscription. Safe to call repeatedly.
func (l *LiveCollection[T]) Unsubscribe() {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	prev := l.handle
	l.handle = nil
	l.generation++
	l.mu.Unlock()

	l.release(prev)
}

// Active reports whether a subscription is open.
func (l *LiveCollection[T]) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Items returns a copy of the current list.
func (l *LiveCollection[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Err returns the terminal error of the current subscription, if any.
func (l *LiveCollection[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *LiveCollection[T]) apply(gen uint64, docs []docstore.Document) {
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		items = append(items, l.mapper(doc))
	}

	l.mu.Lock()
	if gen != l.generation || l.failed {
		l.mu.Unlock()
		return
	}
	l.items = items
	l.mu.Unlock()

	l.opts.Metrics.RecordSnapshot(l.collection)
	l.notify()
}

// fail keeps the last good list; the subscription is dead until the next
// Subscribe call.
func (l *LiveCollection[T]) fail(gen uint64, err error) {
	l.mu.Lock()
	if gen != l.generation || l.failed {
		l.mu.Unlock()
		return
	}
	l.failed = true
	l.err = l.transportError(err)
	dead := l.handle
	l.handle = nil
	l.mu.Unlock()

	l.logger.Warn("live subscription failed", zap.Error(err))
	l.opts.Metrics.RecordSubscriptionError(l.collection)
	l.release(dead)
	l.notify()
}

func (l *LiveCollection[T]) release(handle docstore.Subscription) {
	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		l.logger.Debug("close live subscription", zap.Error(err))
	}
	l.opts.Metrics.SubscriptionClosed()
}

func (l *LiveCollection[T]) transportError(err error) *appErrors.Error {
	return appErrors.Transport(err, fmt.Sprintf("Failed to load %s", l.collection))
}

func (l *LiveCollection[T]) notify() {
	if l.opts.OnChange == nil {
		return
	}
	l.mu.Lock()
	items := make([]T, len(l.items))
	copy(items, l.items)
	err := l.err
	l.mu.Unlock()
	l.opts.OnChange(items, err)
}
