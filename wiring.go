package waypoint

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/waypoint/internal/config"
	"github.com/aretw0/waypoint/pkg/adapters/file"
	"github.com/aretw0/waypoint/pkg/adapters/llm/scripted"
	"github.com/aretw0/waypoint/pkg/adapters/llm/webhook"
	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/adapters/redis"
	"github.com/aretw0/waypoint/pkg/adapters/sqlstore"
	"github.com/aretw0/waypoint/pkg/loader"
	"github.com/aretw0/waypoint/pkg/persistence/middleware"
	"github.com/aretw0/waypoint/pkg/ports"
)

// LockPrefix prefixes the Redis keys of session locks.
const LockPrefix = "waypoint:lock:"

type openedStore struct {
	store  ports.SessionStore
	locker ports.DistributedLocker
	closer io.Closer
}

func openStore(ctx context.Context, cfg *config.Config) (*openedStore, error) {
	switch cfg.Store {
	case "memory":
		return &openedStore{store: memory.NewStore()}, nil
	case "file":
		return &openedStore{store: file.New(cfg.StorePath)}, nil
	case "redis":
		url := cfg.RedisAddr
		if !strings.Contains(url, "://") {
			url = "redis://" + url
		}
		rs, err := redis.New(url, redis.WithTTL(cfg.SessionTTL))
		if err != nil {
			return nil, err
		}
		return &openedStore{
			store:  rs,
			locker: redis.NewLocker(rs.Client(), LockPrefix),
			closer: rs.Client(),
		}, nil
	case "sqlite", "postgres":
		ss, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Store), cfg.StoreDSN)
		if err != nil {
			return nil, err
		}
		return &openedStore{store: ss, closer: ss}, nil
	}
	return nil, fmt.Errorf("unsupported store %q", cfg.Store)
}

// OpenStore opens the session store configured by b, with masking and
// encryption applied. Close the returned closer when done; it may be nil.
func OpenStore(ctx context.Context, b *loader.Bundle) (ports.SessionStore, io.Closer, error) {
	opened, err := openStore(ctx, b.Config)
	if err != nil {
		return nil, nil, err
	}
	store, err := wrapStore(opened.store, b.Config)
	if err != nil {
		if opened.closer != nil {
			_ = opened.closer.Close()
		}
		return nil, nil, err
	}
	return store, opened.closer, nil
}

// wrapStore adds PII masking and encryption at rest when configured.
// Masking runs first so the encrypted envelope never holds the raw values.
func wrapStore(store ports.SessionStore, cfg *config.Config) (ports.SessionStore, error) {
	var mws []middleware.Middleware
	if len(cfg.PIIKeys) > 0 || len(cfg.PIIPatterns) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.PIIKeys, cfg.PIIPatterns...)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if cfg.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
		if err != nil {
			return nil, err
		}
		mws = append(mws, enc)
	}
	return middleware.Chain(store, mws...), nil
}

func openLLM(cfg *config.Config, baseDir string) (ports.LLM, error) {
	switch cfg.LLM.Kind {
	case "webhook":
		opts := []webhook.Option{webhook.WithRetries(cfg.LLM.Retries, 200*time.Millisecond)}
		if cfg.LLMTimeout > 0 {
			opts = append(opts, webhook.WithTimeout(cfg.LLMTimeout))
		}
		for k, v := range cfg.LLM.Headers {
			opts = append(opts, webhook.WithHeader(k, v))
		}
		return webhook.New(cfg.LLM.URL, opts...), nil
	default:
		if cfg.LLM.Script == "" {
			return nil, fmt.Errorf("no LLM configured: set runtime.llm.script, runtime.llm.url or pass WithLLM")
		}
		path := cfg.LLM.Script
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		llm, err := scripted.Load(path)
		if err != nil {
			return nil, err
		}
		return llm, nil
	}
}
