package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/avresolve/internal/config"
	"github.com/John-Robertt/avresolve/internal/infra/cache"
	"github.com/John-Robertt/avresolve/internal/infra/httpx"
	"github.com/John-Robertt/avresolve/internal/job"
	"github.com/John-Robertt/avresolve/internal/metrics"
	"github.com/John-Robertt/avresolve/internal/provider"
	"github.com/John-Robertt/avresolve/internal/provider/catalog"
	"github.com/John-Robertt/avresolve/internal/provider/r18dev"
	"github.com/John-Robertt/avresolve/internal/queue"
	"github.com/John-Robertt/avresolve/internal/resolve"
	"github.com/John-Robertt/avresolve/internal/store/memstore"
	"github.com/John-Robertt/avresolve/internal/store/pgstore"
	"github.com/John-Robertt/avresolve/internal/store/sqlitestore"
	"github.com/John-Robertt/avresolve/internal/stream"
)

func newFetcher(cfg config.EffectiveConfig, log logrus.FieldLogger) (*httpx.Fetcher, error) {
	client, err := httpx.NewClient(httpx.Options{
		ProxyURL:    cfg.HTTP.ProxyURL,
		Timeout:     cfg.HTTP.Timeout,
		RatePerHost: cfg.HTTP.RatePerHost,
		Burst:       cfg.HTTP.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP client 失败：%w", err)
	}
	f := &httpx.Fetcher{Client: client, CacheTTL: cfg.Cache.TTL, Log: log}

	switch cfg.Cache.Backend {
	case "file":
		f.Cache = cache.NewFileStore(cfg.Cache.Dir)
	case "s3":
		s3, err := cache.NewS3Store(cache.S3Options{
			Endpoint:  cfg.Cache.S3.Endpoint,
			Bucket:    cfg.Cache.S3.Bucket,
			AccessKey: cfg.Cache.S3.AccessKey,
			SecretKey: cfg.Cache.S3.SecretKey,
			Secure:    cfg.Cache.S3.Secure,
		})
		if err != nil {
			return nil, err
		}
		f.Cache = s3
	}
	return f, nil
}

func newRegistry(cfg config.EffectiveConfig, f provider.TextFetcher, log logrus.FieldLogger) (provider.Registry, error) {
	return provider.NewRegistry(
		r18dev.Provider{BaseURL: cfg.Providers.R18BaseURL, Fetcher: f, Log: log},
		catalog.NewNumericSuffix(f, cfg.Providers.CatalogBaseURL, cfg.Providers.CatalogTemplates, log),
		catalog.NewStandard(f, cfg.Providers.CatalogBaseURL, cfg.Providers.CatalogTemplates, log),
	)
}

func newCapturer(cfg config.EffectiveConfig, log logrus.FieldLogger) *stream.RodCapturer {
	return &stream.RodCapturer{
		ControlURL: cfg.Browser.ControlURL,
		Bin:        cfg.Browser.Bin,
		Headless:   cfg.Browser.Headless,
		NavTimeout: cfg.Stream.NavTimeout,
		Log:        log,
	}
}

// newOrchestrator 装配完整的解析管线；capturer 由调用方负责关闭。
func newOrchestrator(cfg config.EffectiveConfig, capturer stream.Capturer, log logrus.FieldLogger, m *metrics.Collectors) (*resolve.Orchestrator, error) {
	f, err := newFetcher(cfg, log)
	if err != nil {
		return nil, err
	}
	reg, err := newRegistry(cfg, f, log)
	if err != nil {
		return nil, err
	}
	locator := &stream.Locator{
		Capturer:   capturer,
		Manifests:  stream.ManifestSelector{Fetcher: f, Log: log},
		BaseURL:    cfg.Stream.BaseURL,
		Templates:  cfg.Stream.Templates,
		AltHosts:   cfg.Stream.AltHosts,
		Settle:     cfg.Stream.Settle,
		NavTimeout: cfg.Stream.NavTimeout,
		Log:        log,
	}
	return resolve.FromRegistry(reg, locator, resolve.Proxy{Prefix: cfg.Stream.ProxyPrefix}, log, m)
}

// openStore 按 store.driver 打开记录存储；返回的 close 总是非 nil。
func openStore(ctx context.Context, cfg config.EffectiveConfig) (job.Store, func() error, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memstore.New(), func() error { return nil }, nil
	case "postgres":
		s, err := pgstore.Open(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlitestore.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func newRedis(cfg config.EffectiveConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func newQueue(cfg config.EffectiveConfig, rdb redis.UniversalClient, log logrus.FieldLogger) *queue.RedisQueue {
	return queue.New(rdb, queue.Options{
		Consumer: cfg.Worker.Consumer,
		LockTTL:  cfg.Worker.LockTTL,
		Retry:    job.RetryPolicy{Attempts: cfg.Worker.Attempts, Base: cfg.Worker.Backoff},
	}, log)
}
