// Package docstore provides a hierarchical document store with change
// subscriptions.
//
// Documents live at slash-separated paths that alternate collection and
// document segments: "users/u1/lists" is a collection, "users/u1/lists/L"
// is a document inside it, "users/u1/lists/L/notes" a sub-collection.
// Deleting a document does not touch its sub-collections.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPath is returned for malformed collection or document paths.
	ErrInvalidPath = errors.New("docstore: invalid path")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("docstore: closed")
)

// Fields is a document body. Numbers decode as float64.
type Fields map[string]any

// Document is a stored record.
type Document struct {
	ID     string
	Path   string
	Fields Fields
}

// Snapshot is the full content of one collection at delivery time.
// Version increases with every delivery on the same subscription. Rev is
// the store revision read before loading: every batch whose Result.Rev is
// at most Rev is reflected in Docs.
type Snapshot struct {
	Collection string
	Version    uint64
	Rev        uint64
	Docs       []Document
}

// Result reports a committed batch.
type Result struct {
	// IDs is parallel to the ops and holds the generated id of every OpCreate.
	IDs []string
	// Rev is the store revision that includes the batch.
	Rev uint64
}

// OpKind selects the kind of a batched write.
type OpKind int

const (
	OpCreate OpKind = iota + 1
	OpUpdate
	OpDelete
)

// Op is one write inside a Commit. For OpCreate, Path is the parent
// collection; otherwise it is the document path.
type Op struct {
	Kind   OpKind
	Path   string
	Fields Fields
}

// CreateOp creates a document with a generated id under parent.
func CreateOp(parent string, fields Fields) Op {
	return Op{Kind: OpCreate, Path: parent, Fields: fields}
}

// UpdateOp patches fields of the document at path.
func UpdateOp(path string, fields Fields) Op {
	return Op{Kind: OpUpdate, Path: path, Fields: fields}
}

// DeleteOp removes the document at path.
func DeleteOp(path string) Op {
	return Op{Kind: OpDelete, Path: path}
}

// SnapshotFunc receives collection snapshots.
type SnapshotFunc func(Snapshot)

// Store is the persistent store contract.
type Store interface {
	// Create adds a document under the parent collection and returns its id.
	Create(ctx context.Context, parent string, fields Fields) (string, error)
	// Update merges fields into an existing document; apperr.ErrNotFound if absent.
	Update(ctx context.Context, path string, fields Fields) error
	// Delete removes a document; apperr.ErrNotFound if absent.
	Delete(ctx context.Context, path string) error
	// Commit applies ops atomically. A missing document for an update or
	// delete aborts the whole batch with apperr.ErrNotFound.
	Commit(ctx context.Context, ops []Op) (Result, error)
	// Subscribe calls fn with the collection's current documents and again
	// after every change to it, until the returned func is called or ctx ends.
	Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (func(), error)
	Close() error
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent collection and id of a document path.
func Split(docPath string) (parent, id string, err error) {
	if err := validate(docPath, false); err != nil {
		return "", "", err
	}
	i := strings.LastIndexByte(docPath, '/')
	return docPath[:i], docPath[i+1:], nil
}

// validate checks segment structure: collections have an odd number of
// segments, documents an even number.
func validate(path string, collection bool) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	if isCollection := len(segs)%2 == 1; isCollection != collection {
		kind := "document"
		if collection {
			kind = "collection"
		}
		return fmt.Errorf("%w: %q is not a %s path", ErrInvalidPath, path, kind)
	}
	return nil
}

func validateOps(ops []Op) error {
	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			if err := validate(op.Path, true); err != nil {
				return err
			}
		case OpUpdate, OpDelete:
			if err := validate(op.Path, false); err != nil {
				return err
			}
		default:
			return fmt.Errorf("docstore: unknown op kind %d", op.Kind)
		}
	}
	return nil
}

func merge(dst, patch Fields) Fields {
	out := make(Fields, len(dst)+len(patch))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// String returns fields[key] if it is a string, otherwise "".
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Bool returns fields[key] if it is a bool, otherwise false.
func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// Float returns fields[key] as a float64, accepting any numeric type, otherwise 0.
func (f Fields) Float(key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
