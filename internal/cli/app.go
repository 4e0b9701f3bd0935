package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/auth"
	"github.com/Martian-dev/watchlane/internal/config"
	"github.com/Martian-dev/watchlane/internal/lock"
	"github.com/Martian-dev/watchlane/internal/logging"
	"github.com/Martian-dev/watchlane/internal/providers"
	"github.com/Martian-dev/watchlane/internal/secrets"
	"github.com/Martian-dev/watchlane/internal/store"
	"github.com/Martian-dev/watchlane/internal/sync"
)

// app holds the process-wide dependencies one command needs. Commands build it explicitly
// and close it on return.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *store.Store

	closers []func()
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st}
	a.onClose(func() { _ = st.Close() })
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *app) cipher() (*secrets.Cipher, error) {
	if a.cfg.Encryption.Key == "" {
		return nil, errors.New("encryption.key is required")
	}
	return secrets.NewCipher(a.cfg.Encryption.Key)
}

// locker serializes account cycles in process, and across processes when Redis is configured.
func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	local := lock.NewLocal()
	if a.cfg.Redis.Addr == "" {
		return local, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.onClose(func() { _ = rdb.Close() })

	return lock.Chain{local, lock.NewRedis(rdb, a.cfg.Redis.LockTTL, config.AppName, a.logger)}, nil
}

// eventsPrefix is empty when no broker is configured so the outbox does not grow unread.
func (a *app) eventsPrefix() string {
	if a.cfg.Events.Backend == "" {
		return ""
	}
	return a.cfg.Events.SubjectPrefix
}

func (a *app) syncManager(ctx context.Context) (*sync.Manager, error) {
	cipher, err := a.cipher()
	if err != nil {
		return nil, err
	}
	locker, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenProvider(a.store, cipher, auth.NewOAuthRefresher(a.cfg))
	fetcher := sync.NewFetcher(providers.Sources(a.cfg), a.cfg.Sync.PageSize, a.cfg.Sync.RequestTimeout)
	aggregator := sync.NewAggregator(a.store, a.eventsPrefix(), a.logger)
	runner := sync.NewRunner(a.store, tokens, fetcher, aggregator, a.cfg.Sync.InitialLookback)

	return sync.NewManager(a.store, runner, locker, sync.ManagerOptions{
		Concurrency:    a.cfg.Sync.Concurrency,
		AccountTimeout: a.cfg.Sync.AccountTimeout,
		EventsPrefix:   a.eventsPrefix(),
	}, a.logger), nil
}

func (a *app) verifier(ctx context.Context) (*auth.Verifier, error) {
	if a.cfg.Auth.JWKSURL != "" {
		return auth.NewJWKSVerifier(ctx, a.cfg.Auth.JWKSURL)
	}
	return auth.NewHMACVerifier(a.cfg.Auth.JWTSecret), nil
}
