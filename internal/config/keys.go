package config

// 配置键（viper 使用点分键；环境变量为 AVRESOLVE_ 前缀 + 下划线）。
const (
	KeyLogLevel = "log.level"
	KeyLogJSON  = "log.json"

	KeyRedisAddr     = "redis.addr"
	KeyRedisPassword = "redis.password"
	KeyRedisDB       = "redis.db"

	KeyStoreDriver = "store.driver"
	KeyStoreDSN    = "store.dsn"

	KeyStreamProxyPrefix = "stream.proxy_prefix"
	KeyStreamSettle      = "stream.settle"
	KeyStreamNavTimeout  = "stream.nav_timeout"
	KeyStreamBaseURL     = "stream.base_url"
	KeyStreamTemplates   = "stream.templates"
	KeyStreamAltHosts    = "stream.alt_hosts"

	KeyBrowserControlURL = "browser.control_url"
	KeyBrowserBin        = "browser.bin"
	KeyBrowserHeadless   = "browser.headless"

	KeyHTTPProxyURL    = "http.proxy_url"
	KeyHTTPTimeout     = "http.timeout"
	KeyHTTPRatePerHost = "http.rate_per_host"
	KeyHTTPBurst       = "http.burst"

	KeyR18BaseURL       = "providers.r18_base_url"
	KeyCatalogBaseURL   = "providers.catalog_base_url"
	KeyCatalogTemplates = "providers.catalog_templates"

	KeyWorkerConcurrency = "worker.concurrency"
	KeyWorkerAttempts    = "worker.attempts"
	KeyWorkerBackoff     = "worker.backoff"
	KeyWorkerLockTTL     = "worker.lock_ttl"
	KeyWorkerMetricsAddr = "worker.metrics_addr"
	KeyWorkerConsumer    = "worker.consumer"

	KeyCacheBackend     = "cache.backend"
	KeyCacheDir         = "cache.dir"
	KeyCacheTTL         = "cache.ttl"
	KeyCacheS3Endpoint  = "cache.s3.endpoint"
	KeyCacheS3Bucket    = "cache.s3.bucket"
	KeyCacheS3AccessKey = "cache.s3.access_key"
	KeyCacheS3SecretKey = "cache.s3.secret_key"
	KeyCacheS3Secure    = "cache.s3.secure"
)
