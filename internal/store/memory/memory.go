// Package memory is an in-process implementation of store.Store. It keeps
// the same versioning and all-or-nothing commit rules as the networked
// stores and is used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"go-gin-event-registration/internal/store"
)

// entry 刪除後保留為 tombstone（deleted），重新建立時版本從舊值往上加，不會重複
type entry struct {
	version int64
	body    []byte
	deleted bool
}

type Store struct {
	mu   sync.RWMutex
	docs map[string]entry
}

func New() *Store {
	return &Store{docs: make(map[string]entry)}
}

func (s *Store) Get(ctx context.Context, key string) (*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.docs[key]
	if !ok || e.deleted {
		return nil, store.ErrNotFound
	}
	return &store.Document{Key: key, Version: e.version, Body: clone(e.body)}, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*store.Document, 0)
	for key, e := range s.docs {
		if e.deleted || store.CollectionOf(key) != collection {
			continue
		}
		docs = append(docs, &store.Document{Key: key, Version: e.version, Body: clone(e.body)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func (s *Store) Commit(ctx context.Context, batch store.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateBatch(batch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range batch.Preconditions {
		if s.versionOf(p.Key) != p.Version {
			return store.ErrVersionConflict
		}
	}

	// stage every write first so a failing increment leaves nothing applied
	staged := make(map[string]*entry)
	current := func(key string) *entry {
		if e, ok := staged[key]; ok {
			return e
		}
		if e, ok := s.docs[key]; ok {
			return &entry{version: e.version, body: e.body, deleted: e.deleted}
		}
		return nil
	}

	for _, m := range batch.Mutations {
		e := current(m.Key)
		switch m.Op {
		case store.OpPut:
			next := &entry{version: 1, body: clone(m.Body)}
			if e != nil {
				next.version = e.version + 1
			}
			staged[m.Key] = next
		case store.OpDelete:
			if e != nil && !e.deleted {
				staged[m.Key] = &entry{version: e.version + 1, deleted: true}
			}
		case store.OpIncrement:
			if e == nil || e.deleted {
				return store.ErrNotFound
			}
			body, err := store.IncrementField(e.body, m.Field, m.Delta)
			if err != nil {
				return err
			}
			staged[m.Key] = &entry{version: e.version + 1, body: body}
		}
	}

	for key, e := range staged {
		s.docs[key] = *e
	}
	return nil
}

func (s *Store) versionOf(key string) int64 {
	if e, ok := s.docs[key]; ok && !e.deleted {
		return e.version
	}
	return 0
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
