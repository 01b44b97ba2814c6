// Package engine assembles a Coordinator and its storage from a config.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/clientstore"
	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/coordinator"
	"github.com/ppiankov/trustgate/internal/decisioncache"
	"github.com/ppiankov/trustgate/internal/fallback"
	"github.com/ppiankov/trustgate/internal/liststore"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/signature"
)

// Engine is a running Coordinator together with the resources it owns.
type Engine struct {
	*coordinator.Coordinator

	Config     *config.Config
	PolicyPath string // empty when a preset is in use

	closers []io.Closer
}

// Open builds an Engine from cfg. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	self, err := ResolveSelf(cfg)
	if err != nil {
		return nil, err
	}

	doc, hash, err := loadPolicy(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Policy != "" {
		e.PolicyPath = cfg.Policy
	}

	lists, err := liststore.Open(cfg.ListsDir)
	if err != nil {
		return nil, err
	}

	var clients clientstore.Store = clientstore.NewMemoryStore()
	if cfg.ClientDB != "" {
		sq, err := clientstore.OpenSQLite(cfg.ClientDB)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, sq)
		clients = sq
	}

	cache, err := e.openCache(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	reasoner, err := NewReasoner(ctx, cfg.Fallback)
	if err != nil {
		return nil, err
	}

	var recorder audit.Recorder
	if cfg.AuditLog != "" {
		log, err := audit.Open(cfg.AuditLog)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, log)
		recorder = log
	}

	var alerts alert.Notifier
	if d := alert.NewDispatcher(cfg.Alerts, logger); d != nil {
		e.closers = append(e.closers, d)
		alerts = d
	}

	coord, err := coordinator.New(ctx, coordinator.Config{
		Self:            self,
		Policy:          doc,
		PolicyHash:      hash,
		Lists:           lists,
		Clients:         clients,
		Cache:           cache,
		Audit:           recorder,
		Alerts:          alerts,
		Reasoner:        reasoner,
		Budget:          fallback.NewBudget(cfg.Fallback.RatePerMin, cfg.Fallback.Burst),
		Verifiers:       policy.DefaultVerifiers{InviteCodes: cfg.InviteCodes},
		FreshnessWindow: cfg.FreshnessWindow,
		FallbackTimeout: cfg.Fallback.Timeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	e.Coordinator = coord
	ok = true
	return e, nil
}

// Watch hot-reloads the policy file and list files until ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	r, err := coordinator.NewReloader(e.Coordinator, e.PolicyPath, e.Config.ListsDir)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

// Close releases every resource Open acquired, in reverse order.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *Engine) openCache(ctx context.Context, c config.Cache, logger *slog.Logger) (decisioncache.Cache, error) {
	if c.Backend != config.CacheRedis {
		return decisioncache.NewMemory(time.Now), nil
	}
	client := redis.NewClient(&redis.Options{Addr: c.RedisAddr, DB: c.RedisDB})
	e.closers = append(e.closers, client)
	cache := decisioncache.New(ctx, client, c.Prefix, time.Now)
	if _, isMemory := cache.(*decisioncache.Memory); isMemory {
		logger.Warn("redis unreachable, using in-process decision cache", "addr", c.RedisAddr)
	}
	return cache, nil
}

// ResolveSelf returns the configured owner identity, falling back to the
// public key stored in the key directory. No owner is not an error: the
// engine then has no implicit admin.
func ResolveSelf(cfg *config.Config) (model.ClientIdentity, error) {
	if cfg.Self != "" {
		return model.ClientIdentity(cfg.Self), nil
	}
	if cfg.KeyDir == "" {
		return "", nil
	}
	pub, _, err := signature.LoadKeypair(cfg.KeyDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("self identity: %w", err)
	}
	return signature.IdentityFromPublicKey(pub), nil
}

func loadPolicy(cfg *config.Config) (*policy.Document, string, error) {
	if cfg.Policy != "" {
		return policy.LoadWithHash(cfg.Policy)
	}
	return policy.PresetWithHash(cfg.Preset)
}

// NewReasoner builds the configured reasoning fallback, nil for none.
func NewReasoner(ctx context.Context, f config.Fallback) (fallback.Reasoner, error) {
	switch f.Provider {
	case config.ProviderOpenAI:
		return &fallback.HTTPReasoner{
			APIURL:    f.APIURL,
			APIKey:    f.APIKey(),
			Model:     f.Model,
			MaxTokens: f.MaxTokens,
			Timeout:   f.Timeout,
		}, nil
	case config.ProviderBedrock:
		b, err := fallback.NewBedrockReasoner(ctx, f.Region, f.Model)
		if err != nil {
			return nil, err
		}
		b.MaxTokens = int32(f.MaxTokens)
		return b, nil
	}
	return nil, nil
}
