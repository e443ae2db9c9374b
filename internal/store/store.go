// Package store defines the versioned document store the registration core
// runs on. Implementations live in the memory, redisstore and pgstore
// sub-packages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
	ErrInvalidKey      = errors.New("invalid document key")
)

// Document is a JSON object body addressed by a slash separated key.
// Version starts at 1 on creation and grows by one on every mutation. A
// deleted key keeps its last version, so a re-created document never
// repeats a version an earlier reader may still hold.
type Document struct {
	Key     string
	Version int64
	Body    []byte
}

// Precondition pins a key to the version observed by a transaction.
// Version 0 means the key must not exist.
type Precondition struct {
	Key     string
	Version int64
}

type Op int

const (
	OpPut Op = iota + 1
	OpDelete
	OpIncrement
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpIncrement:
		return "incr"
	}
	return "unknown"
}

type Mutation struct {
	Op    Op
	Key   string
	Body  []byte // OpPut
	Field string // OpIncrement
	Delta int64  // OpIncrement
}

// Batch is applied all-or-nothing: every precondition must still hold and
// every increment target must exist, otherwise nothing is written.
type Batch struct {
	Preconditions []Precondition
	Mutations     []Mutation
}

func (b Batch) Empty() bool {
	return len(b.Mutations) == 0
}

type Store interface {
	// 讀取：回傳文件與版本，不存在時回傳 ErrNotFound
	Get(ctx context.Context, key string) (*Document, error)
	// 列出：collection 底下的所有文件（不含更深層的子集合）
	List(ctx context.Context, collection string) ([]*Document, error)
	// 提交：檢查版本條件後原子性套用所有寫入，條件不成立時回傳 ErrVersionConflict
	Commit(ctx context.Context, batch Batch) error
}

// Key joins path segments. Segments must be non-empty and free of "/".
func Key(segments ...string) (string, error) {
	for _, s := range segments {
		if !ValidSegment(s) {
			return "", ErrInvalidKey
		}
	}
	return strings.Join(segments, "/"), nil
}

func ValidSegment(s string) bool {
	return s != "" && !strings.Contains(s, "/")
}

// CollectionOf returns the parent collection path of a document key.
func CollectionOf(key string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i]
}

// ValidateBatch rejects batches that reference malformed keys or mutations.
func ValidateBatch(b Batch) error {
	for _, p := range b.Preconditions {
		if p.Key == "" || p.Version < 0 {
			return ErrInvalidKey
		}
	}
	for _, m := range b.Mutations {
		if m.Key == "" || CollectionOf(m.Key) == "" {
			return ErrInvalidKey
		}
		switch m.Op {
		case OpPut:
			if len(m.Body) == 0 {
				return errors.New("put mutation without body")
			}
		case OpDelete:
		case OpIncrement:
			if m.Field == "" {
				return errors.New("increment mutation without field")
			}
		default:
			return errors.New("unknown mutation op")
		}
	}
	return nil
}

// IncrementField adds delta to a numeric top-level field of a JSON object.
// A missing or null field counts as zero.
func IncrementField(body []byte, field string, delta int64) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, errors.New("document body is not an object")
	}

	var current float64
	if raw, ok := doc[field]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &current); err != nil {
			return nil, fmt.Errorf("field %q is not numeric: %w", field, err)
		}
	}

	next := current + float64(delta)
	var encoded []byte
	var err error
	if next == math.Trunc(next) {
		encoded, err = json.Marshal(int64(next))
	} else {
		encoded, err = json.Marshal(next)
	}
	if err != nil {
		return nil, err
	}
	doc[field] = encoded
	return json.Marshal(doc)
}
