package kv

import (
	"context"
	"errors"
)

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrEmptyKey    = errors.New("key is empty")
)

// Store is a single storage tier holding opaque values by key.
//
// Implementations return (nil, false, nil) for missing keys; an error is only
// reported when the tier itself could not be read.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
