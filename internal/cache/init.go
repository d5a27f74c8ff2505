package cache

import (
	"github.com/elementojuris/billing/internal/config"
	"github.com/elementojuris/billing/internal/logger"
)

// Initialize returns the in-memory cache, or a no-op cache when caching is
// disabled.
func Initialize(config *config.Configuration, log *logger.Logger) Cache {
	if !config.Cache.Enabled {
		log.Infow("cache disabled")
		return NoopCache{}
	}
	log.Infow("cache initialized", "type", "inmemory", "default_expiry", ExpiryDefaultInMemory.String())
	return NewInMemoryCache()
}
