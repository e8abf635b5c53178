package main

import (
	"context"
	"database/sql"
	"fmt"

	"corecu_go/config"
	"corecu_go/pkg/metrics"
	"corecu_go/pkg/storage"
	"corecu_go/pkg/telegram/client"
	"corecu_go/pkg/telegram/core_users"
	"corecu_go/pkg/telegram/engagement"
	"corecu_go/pkg/telegram/export"
	"corecu_go/pkg/telegram/feed"
	"corecu_go/pkg/telegram/fetch"
	"corecu_go/pkg/telegram/scanner"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// env — общее окружение команд: конфигурация, логгер, хранилище.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics

	store     core_users.RunStore
	sessionDB *sql.DB
	closers   []func()
}

func newEnv(ctx context.Context, cfgPath string) (*env, error) {
	e, err := newEnvNoStore(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := e.openStore(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// newEnvNoStore — окружение без подключения к хранилищу запусков, для миграций.
func newEnvNoStore(cfgPath string) (*env, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, metrics: metrics.New()}
	e.closers = append(e.closers, func() { _ = log.Sync() })
	return e, nil
}

func (e *env) openStore(ctx context.Context) error {
	sc := e.cfg.Storage
	switch sc.Driver {
	case "postgres":
		db, err := storage.Open(ctx, sc.Postgres.URL)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, func() { _ = db.Close() })
		e.store = db
		if sc.Postgres.SessionInDB {
			e.sessionDB = db.Conn
		}
	case "redis":
		rdb, err := storage.ConnRedis(ctx, sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB, sc.Redis.DialTimeout)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, func() { _ = rdb.Close() })
		e.store = storage.NewRedisRunStore(rdb, storage.RedisOptions{
			Prefix:    sc.Redis.Prefix,
			LockTTL:   sc.Redis.LockTTL,
			Retention: sc.Redis.Retention,
		})
	default:
		e.store = storage.NewMemoryRunStore()
	}
	e.log.Info("хранилище запусков", zap.String("driver", sc.Driver))
	return nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (e *env) telegramClient() (*telegram.Client, error) {
	tc := e.cfg.Telegram
	opts := client.Options{
		APIID:       tc.APIID,
		APIHash:     tc.APIHash,
		Phone:       tc.Phone,
		SessionDB:   e.sessionDB,
		SessionFile: tc.SessionFile,
		Logger:      e.log,
	}
	if tc.Proxy.Addr != "" {
		opts.Proxy = &client.Proxy{Addr: tc.Proxy.Addr, Login: tc.Proxy.Login, Password: tc.Proxy.Password}
	}
	return client.New(opts)
}

// components — собранный конвейер поверх одного подключения к Telegram.
type components struct {
	resolver *fetch.Fetcher
	manager  *core_users.Manager
	exporter *export.Exporter
}

func (e *env) components(api *tg.Client) components {
	f := feed.New(api, e.log)
	fetcher := fetch.New(f, fetch.Policy{
		MaxAttempts: e.cfg.Fetch.MaxAttempts,
		BaseDelay:   e.cfg.Fetch.BaseDelay,
		MaxDelay:    e.cfg.Fetch.MaxDelay,
		ParseWait:   fetch.ParseFloodWait,
	}, fetch.WithLogger(e.log), fetch.WithMetrics(e.metrics))

	scan := scanner.Options{PageSize: e.cfg.Scan.PageSize, MaxScanned: e.cfg.Scan.MaxScanned}
	pipeline := engagement.NewPipeline(fetcher, engagement.Options{
		Scan:     scan,
		MaxSteps: e.cfg.Scan.MaxSteps,
		TopN:     e.cfg.Scan.TopN,
	}, e.log, e.metrics)

	manager := core_users.NewManager(fetcher, pipeline, e.store, core_users.Config{
		RateLimitWindow: e.cfg.Runs.RateLimitWindow,
		FreshWindow:     e.cfg.Runs.FreshWindow,
		ErrorLimit:      e.cfg.Runs.ErrorLimit,
		MaxPeriodDays:   e.cfg.Runs.MaxPeriodDays,
	}, e.log, e.metrics)

	exporter := export.New(fetcher, export.Options{
		Scan:            scan,
		RepliesPageSize: e.cfg.Export.RepliesPageSize,
	}, e.log, e.metrics)

	return components{resolver: fetcher, manager: manager, exporter: exporter}
}

// withTelegram подключается к Telegram и вызывает fn с собранными компонентами.
func (e *env) withTelegram(ctx context.Context, fn func(ctx context.Context, c components) error) error {
	tgc, err := e.telegramClient()
	if err != nil {
		return err
	}
	return client.Run(ctx, tgc, func(ctx context.Context, api *tg.Client) error {
		return fn(ctx, e.components(api))
	})
}
