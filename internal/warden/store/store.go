package store

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("store closed")

// DocStore holds the serialized access state record. GetDoc returns nil, nil
// when nothing has been stored yet. PutDoc replaces the record atomically:
// a failed write leaves the previous record intact.
type DocStore interface {
	GetDoc(ctx context.Context) ([]byte, error)
	PutDoc(ctx context.Context, doc []byte) error
}
