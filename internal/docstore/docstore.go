// Package docstore abstracts the remote document database the app talks to.
// Collections are addressed by slash separated paths such as "Schools" or
// "Schools/{schoolId}/Classes"; documents are schemaless field maps.
package docstore

import (
	"context"
	"errors"
	"math"
	"reflect"
	"time"
)

var (
	// ErrNotFound is returned by Get and Update when the document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrSubscriptionClosed is delivered to onError when the backend drops a subscription.
	ErrSubscriptionClosed = errors.New("docstore: subscription closed by backend")
)

// Document is a single record read from a collection.
type Document struct {
	ID         string
	Collection string
	Fields     map[string]any
}

// Filters are equality predicates, field name to expected value.
type Filters map[string]any

// SnapshotFunc receives the full current result set of a subscription.
type SnapshotFunc func(docs []Document)

// ErrorFunc receives a terminal subscription error. No snapshot follows it.
type ErrorFunc func(err error)

// Subscription is a live query handle. Close is idempotent.
type Subscription interface {
	Close() error
}

// Store is the document store contract shared by every backend.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, filters Filters) ([]Document, error)
	// Add writes a new document under a generated id and returns it.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Set(ctx context.Context, collection, id string, fields map[string]any, opts ...SetOption) error
	// Update patches existing fields and fails with ErrNotFound for missing documents.
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Subscribe delivers the current result set immediately and again after
	// every change to the collection, until the handle is closed, ctx is done
	// or onError fires.
	Subscribe(ctx context.Context, collection string, filters Filters, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)
}

type setOptions struct {
	merge bool
}

// SetOption tunes Set.
type SetOption func(*setOptions)

// Merge keeps fields that are not present in the written map.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Matches reports whether fields satisfies every equality filter.
func (f Filters) Matches(fields map[string]any) bool {
	for key, want := range f {
		got, ok := fields[key]
		if !ok {
			return false
		}
		if !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two field values, treating every numeric kind as a
// float64 and comparing times by instant.
func ValuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && (af == bf || (math.IsNaN(af) && math.IsNaN(bf)))
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// CloneFields deep copies a field map so callers cannot mutate stored state.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []time.Time:
		return append([]time.Time(nil), t...)
	default:
		return v
	}
}
