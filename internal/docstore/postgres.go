package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying changed collection paths.
const NotifyChannel = "docstore_changes"

const (
	schemaStatement = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_fields_gin ON documents USING GIN (fields jsonb_path_ops);`

	getDocumentQuery    = `SELECT id, fields FROM documents WHERE collection = $1 AND id = $2`
	queryDocumentsQuery = `SELECT id, fields FROM documents WHERE collection = $1 AND fields @> $2::jsonb ORDER BY id`
	upsertDocumentQuery = `INSERT INTO documents (collection, id, fields, updated_at) VALUES ($1, $2, $3::jsonb, NOW())
	ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = NOW()`
	mergeDocumentQuery = `INSERT INTO documents (collection, id, fields, updated_at) VALUES ($1, $2, $3::jsonb, NOW())
	ON CONFLICT (collection, id) DO UPDATE SET fields = documents.fields || EXCLUDED.fields, updated_at = NOW()`
	updateDocumentQuery = `UPDATE documents SET fields = fields || $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`
	deleteDocumentQuery = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	notifyQuery         = `SELECT pg_notify($1, $2)`
)

// NotificationSource is the part of *pq.Listener the store consumes.
type NotificationSource interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
}

type documentRow struct {
	ID     string `db:"id"`
	Fields []byte `db:"fields"`
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps documents as JSONB rows. Every write sends a NOTIFY with
// the collection path; Listen turns those notifications into snapshots.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
	newID  func() string

	mu     sync.Mutex
	subs   map[uint64]*pgSubscription
	nextID uint64
	seq    uint64
}

// NewPostgresStore constructs the store.
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
		newID:  uuid.NewString,
		subs:   make(map[uint64]*pgSubscription),
	}
}

// EnsureSchema creates the documents table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaStatement); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var row documentRow
	if err := s.db.GetContext(ctx, &row, getDocumentQuery, collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}
	return row.document(collection)
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters Filters) ([]Document, error) {
	filter, err := encodeFields(filters)
	if err != nil {
		return nil, err
	}

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, queryDocumentsQuery, collection, filter); err != nil {
		return nil, fmt.Errorf("query documents %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.document(collection)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *PostgresStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := s.newID()
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, fields map[string]any, opts ...SetOption) error {
	payload, err := encodeFields(fields)
	if err != nil {
		return err
	}
	query := upsertDocumentQuery
	if applySetOptions(opts).merge {
		query = mergeDocumentQuery
	}
	if err := s.write(ctx, collection, false, query, collection, id, payload); err != nil {
		return fmt.Errorf("set document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	payload, err := encodeFields(patch)
	if err != nil {
		return err
	}
	if err := s.write(ctx, collection, true, updateDocumentQuery, collection, id, payload); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.write(ctx, collection, false, deleteDocumentQuery, collection, id); err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// write runs a statement and the change notification in one transaction so
// listeners only hear about committed changes.
func (s *PostgresStore) write(ctx context.Context, collection string, requireRow bool, query string, args ...any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if requireRow {
		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if affected == 0 {
			_ = tx.Rollback()
			return ErrNotFound
		}
	}

	if _, err := tx.ExecContext(ctx, notifyQuery, NotifyChannel, collection); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Subscribe(ctx context.Context, collection string, filters Filters, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	sub := &pgSubscription{
		store:      s,
		collection: collection,
		filters:    CloneFields(filters),
		onSnapshot: onSnapshot,
		onError:    onError,
	}

	s.mu.Lock()
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
	s.mu.Unlock()

	if err := s.refreshOne(ctx, sub); err != nil {
		sub.shutdown()
		return nil, err
	}

	sub.stop = context.AfterFunc(ctx, sub.shutdown)
	return sub, nil
}

// Listen consumes change notifications until ctx is done or the source closes
// its channel. Open subscriptions fail with ErrSubscriptionClosed when the
// feed ends; they are not re-established.
func (s *PostgresStore) Listen(ctx context.Context, source NotificationSource) error {
	if err := source.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			s.failAll(ErrSubscriptionClosed)
			return nil
		case n, ok := <-source.NotificationChannel():
			if !ok {
				s.failAll(ErrSubscriptionClosed)
				return ErrSubscriptionClosed
			}
			// pq sends nil after a reconnect; anything may have changed.
			collection := ""
			if n != nil {
				collection = n.Extra
			}
			s.refresh(ctx, collection)
		}
	}
}

// HandleListenerEvent is a pq.EventCallbackType. Losing the connection is
// terminal for every open subscription.
func (s *PostgresStore) HandleListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		if err == nil {
			err = ErrSubscriptionClosed
		}
		s.logger.Warn("document change feed lost", zap.Error(err))
		s.failAll(fmt.Errorf("document change feed: %w", err))
	}
}

// SubscriberCount reports the number of open subscriptions.
func (s *PostgresStore) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *PostgresStore) refresh(ctx context.Context, collection string) {
	s.mu.Lock()
	targets := make([]*pgSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if collection == "" || sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		if err := s.refreshOne(ctx, sub); err != nil {
			s.logger.Warn("subscription refresh failed",
				zap.String("collection", sub.collection),
				zap.Error(err),
			)
			sub.fail(err)
		}
	}
}

func (s *PostgresStore) refreshOne(ctx context.Context, sub *pgSubscription) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	docs, err := s.Query(ctx, sub.collection, sub.filters)
	if err != nil {
		return err
	}
	sub.deliver(seq, docs)
	return nil
}

func (s *PostgresStore) failAll(err error) {
	s.mu.Lock()
	targets := make([]*pgSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.fail(err)
	}
}

type pgSubscription struct {
	store      *PostgresStore
	id         uint64
	collection string
	filters    Filters
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	stop       func() bool

	deliverMu sync.Mutex
	delivered uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func (p *pgSubscription) deliver(seq uint64, docs []Document) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	if p.closed.Load() || seq <= p.delivered {
		return
	}
	p.delivered = seq
	if p.onSnapshot != nil {
		p.onSnapshot(docs)
	}
}

func (p *pgSubscription) fail(err error) {
	if p.closed.Load() {
		return
	}
	p.shutdown()
	if p.onError != nil {
		p.onError(err)
	}
}

func (p *pgSubscription) Close() error {
	p.shutdown()
	if p.stop != nil {
		p.stop()
	}
	return nil
}

func (p *pgSubscription) shutdown() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		p.store.mu.Lock()
		delete(p.store.subs, p.id)
		p.store.mu.Unlock()
	})
}

func (r documentRow) document(collection string) (Document, error) {
	fields := map[string]any{}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &fields); err != nil {
			return Document{}, fmt.Errorf("decode document %s/%s: %w", collection, r.ID, err)
		}
	}
	return Document{ID: r.ID, Collection: collection, Fields: fields}, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode document fields: %w", err)
	}
	return string(raw), nil
}
