package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is a process local key/value cache.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	Delete(ctx context.Context, key string)
	Flush(ctx context.Context)
}

// Key prefixes
const (
	PrefixPlan = "plan"
)

// GenerateKey joins a prefix and parts with colons.
func GenerateKey(prefix string, parts ...string) string {
	return prefix + ":" + strings.Join(parts, ":")
}
