package app

import (
	"fmt"
	"strings"

	"github.com/yungbote/answercache/internal/clients/redis"
	"github.com/yungbote/answercache/internal/config"
	"github.com/yungbote/answercache/internal/kv"
	"github.com/yungbote/answercache/internal/kv/memstore"
	"github.com/yungbote/answercache/internal/platform/logger"
	"github.com/yungbote/answercache/internal/provider"
	"github.com/yungbote/answercache/internal/provider/mock"
	"github.com/yungbote/answercache/internal/provider/oaihttp"
)

// wireKV builds the single key-value store shared by the cache and the
// coordinator. "memory" is process-local and only coordinates one replica.
func wireKV(cfg *config.Config, log *logger.Logger) (kv.Store, error) {
	if strings.EqualFold(cfg.Redis.Mode, "memory") {
		log.Warn("using in-memory kv store; in-flight coordination is per process")
		return memstore.New(), nil
	}
	return redis.New(cfg.Redis, redis.Options{OpTimeout: cfg.Cache.OpTimeout.Duration}, log)
}

func wireProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "mock":
		return mock.New(), nil
	case "oai_http", "openai_http":
		return oaihttp.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Type)
	}
}
