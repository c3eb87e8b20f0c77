package app

import (
	"github.com/yungbote/answercache/internal/answercache"
	"github.com/yungbote/answercache/internal/contextstore"
	"github.com/yungbote/answercache/internal/inflight"
	"github.com/yungbote/answercache/internal/platform/logger"
	"github.com/yungbote/answercache/internal/provider"
	"github.com/yungbote/answercache/internal/services"
)

func (a *App) wireServices(log *logger.Logger, prov provider.Provider) {
	log.Info("Wiring services...")
	cfg := a.Cfg
	prefix := cfg.Redis.KeyPrefix

	a.Cache = answercache.New(a.KV, log, answercache.Options{
		KeyPrefix: prefix,
		TTL:       cfg.Cache.TTL.Duration,
		OpTimeout: cfg.Cache.OpTimeout.Duration,
	})
	a.Coordinator = inflight.New(a.KV, log, inflight.Options{
		KeyPrefix:    prefix,
		Lease:        cfg.Inflight.Lease.Duration,
		WaitTimeout:  cfg.Inflight.WaitTimeout.Duration,
		PollInterval: cfg.Inflight.PollInterval.Duration,
	})

	store := contextstore.New(log, a.Repos.Conversation, a.Repos.Message, a.Repos.Preferences, contextstore.Options{
		HistoryLimit: cfg.Completion.HistoryLimit,
	})

	a.Completions = services.NewCompletionService(log, store, a.Cache, a.Coordinator, prov, services.CompletionOptions{
		Model:            cfg.Completion.Model,
		HistoryLimit:     cfg.Completion.HistoryLimit,
		RequestBudget:    cfg.Completion.RequestBudget.Duration,
		ComputeTimeout:   cfg.Completion.ComputeTimeout.Duration,
		MaxClaimAttempts: cfg.Completion.MaxClaimAttempts,
		CacheEnabled:     cfg.Cache.Enabled,
	})
}
