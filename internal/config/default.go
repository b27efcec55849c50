package config

import (
	"time"

	"github.com/John-Robertt/avresolve/internal/provider/catalog"
	"github.com/John-Robertt/avresolve/internal/stream"
)

// Field 是一个配置项的定义。
type Field struct {
	Key         string
	Value       any
	Description string
}

// Fields 是全部配置项（顺序即 `avresolve config` 的展示顺序）。
var Fields = []Field{
	{KeyLogLevel, "info", "panic, fatal, error, warn, info, debug, trace"},
	{KeyLogJSON, false, "Use JSON log format"},

	{KeyRedisAddr, "localhost:6379", "Redis address for the job queue and live events"},
	{KeyRedisPassword, "", "Redis password"},
	{KeyRedisDB, 0, "Redis database index"},

	{KeyStoreDriver, "sqlite", "Record store: sqlite, postgres or memory"},
	{KeyStoreDSN, "avresolve.db", "sqlite file path or postgres DSN"},

	{KeyStreamProxyPrefix, "", "Prefix prepended to the percent-encoded manifest URL (required)"},
	{KeyStreamSettle, stream.DefaultSettle, "How long to observe network requests after page load"},
	{KeyStreamNavTimeout, stream.DefaultNavTimeout, "Page navigation timeout"},
	{KeyStreamBaseURL, stream.DefaultBaseURL, "Streaming site base URL"},
	{KeyStreamTemplates, stream.DefaultTemplates, "Streaming site path templates in probe order"},
	{KeyStreamAltHosts, stream.DefaultAltHosts, "Last-resort page templates; {code} and {slug} are substituted"},

	{KeyBrowserControlURL, "", "DevTools URL of a running browser; empty launches one"},
	{KeyBrowserBin, "", "Browser binary; empty downloads a managed one"},
	{KeyBrowserHeadless, true, "Run the launched browser headless"},

	{KeyHTTPProxyURL, "", "Outbound HTTP proxy for metadata fetches"},
	{KeyHTTPTimeout, 30 * time.Second, "Overall HTTP client timeout"},
	{KeyHTTPRatePerHost, 2.0, "Requests per second per upstream host"},
	{KeyHTTPBurst, 4, "Per host burst"},

	{KeyR18BaseURL, "https://r18.dev", "Primary registry base URL"},
	{KeyCatalogBaseURL, catalog.DefaultBaseURL, "Fallback catalog base URL"},
	{KeyCatalogTemplates, catalog.DefaultTemplates, "Fallback catalog path templates in probe order"},

	{KeyWorkerConcurrency, 2, "Concurrent jobs per worker process (1..16)"},
	{KeyWorkerAttempts, 3, "Attempts per job"},
	{KeyWorkerBackoff, 5 * time.Second, "Base retry backoff, doubled per attempt"},
	{KeyWorkerLockTTL, 10 * time.Minute, "Per code lock lifetime"},
	{KeyWorkerMetricsAddr, ":9090", "Prometheus listen address; empty disables"},
	{KeyWorkerConsumer, "", "Queue consumer name; empty uses the hostname. Keep it stable across restarts"},

	{KeyCacheBackend, "none", "Page cache: none, file or s3"},
	{KeyCacheDir, ".cache/pages", "Directory for the file page cache"},
	{KeyCacheTTL, time.Duration(0), "Page cache lifetime; 0 disables reads"},
	{KeyCacheS3Endpoint, "", "S3 endpoint (host:port)"},
	{KeyCacheS3Bucket, "", "S3 bucket"},
	{KeyCacheS3AccessKey, "", "S3 access key"},
	{KeyCacheS3SecretKey, "", "S3 secret key"},
	{KeyCacheS3Secure, true, "Use TLS for S3"},
}
