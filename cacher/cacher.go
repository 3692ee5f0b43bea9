// Package cacher defines the pluggable result-caching contract a broker
// uses for actions marked cacheable.
package cacher

import (
	"context"
	"time"
)

// Cacher stores and retrieves raw action results keyed by a fingerprint
// the broker computes from the action name and its params.
type Cacher interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Clean(ctx context.Context, pattern string) error
}
