package txn

import (
	"context"
	"errors"
	"time"

	"go-gin-event-registration/internal/store"
)

// Tx is the view of one attempt. Reads go to the store and pin the
// observed version; writes are buffered until the attempt commits.
type Tx struct {
	store     store.Store
	attempt   int
	now       time.Time
	reads     map[string]*store.Document
	readOrder []string
	mutations []store.Mutation
}

func newTx(s store.Store, attempt int, now time.Time) *Tx {
	return &Tx{
		store:   s,
		attempt: attempt,
		now:     now,
		reads:   make(map[string]*store.Document),
	}
}

// Get reads key and records its version as a commit precondition. A
// missing document is recorded as version 0 and reported as
// store.ErrNotFound. Repeated reads in the same attempt return the first
// snapshot.
func (t *Tx) Get(ctx context.Context, key string) (*store.Document, error) {
	if doc, ok := t.reads[key]; ok {
		if doc == nil {
			return nil, store.ErrNotFound
		}
		return doc, nil
	}

	doc, err := t.store.Get(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	t.reads[key] = doc
	t.readOrder = append(t.readOrder, key)
	if doc == nil {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

func (t *Tx) Put(key string, body []byte) {
	t.mutations = append(t.mutations, store.Mutation{Op: store.OpPut, Key: key, Body: body})
}

func (t *Tx) Delete(key string) {
	t.mutations = append(t.mutations, store.Mutation{Op: store.OpDelete, Key: key})
}

// Increment adds delta to a numeric field at commit time.
func (t *Tx) Increment(key, field string, delta int64) {
	t.mutations = append(t.mutations, store.Mutation{Op: store.OpIncrement, Key: key, Field: field, Delta: delta})
}

// Now 是本次嘗試的提交時間（UTC），同一次嘗試內固定不變
func (t *Tx) Now() time.Time {
	return t.now
}

func (t *Tx) Attempt() int {
	return t.attempt
}

func (t *Tx) batch() store.Batch {
	b := store.Batch{Mutations: t.mutations}
	for _, key := range t.readOrder {
		var version int64
		if doc := t.reads[key]; doc != nil {
			version = doc.Version
		}
		b.Preconditions = append(b.Preconditions, store.Precondition{Key: key, Version: version})
	}
	return b
}
