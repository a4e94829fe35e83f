package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	ErrCorrupt   = errors.New("cache: stored value unreadable")
)

// Service defines cache operations interface.
//
// Values passed to Set as []byte are stored verbatim, anything else is JSON encoded.
// Get decodes into dest the same way: *[]byte receives the raw bytes.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
