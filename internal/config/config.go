package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// ErrCodeInvalid 表示配置文件无法解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissing 表示缺少必填项（例如 stream.proxy_prefix / postgres dsn）。
	ErrCodeMissing = "config_missing"
)

const (
	Name      = "avresolve"
	EnvPrefix = "AVRESOLVE"

	minConcurrency = 1
	maxConcurrency = 16
)

// EnvKeyReplacer 把配置键转换为环境变量命名。
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Error 是配置阶段的结构化错误（带 error_code），属于启动期致命错误。
type Error struct {
	Code string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Code == ErrCodeMissing:
		return fmt.Sprintf("%s：缺少必填配置 %q（环境变量 %s）", e.Code, e.Key, EnvName(e.Key))
	case e.Key != "" && e.Err != nil:
		return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Key, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// EnvName 返回配置键对应的环境变量名。
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(EnvKeyReplacer.Replace(key))
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StoreConfig struct {
	Driver string
	DSN    string
}

type StreamConfig struct {
	ProxyPrefix string
	Settle      time.Duration
	NavTimeout  time.Duration
	BaseURL     string
	Templates   []string
	AltHosts    []string
}

type BrowserConfig struct {
	ControlURL string
	Bin        string
	Headless   bool
}

type HTTPConfig struct {
	ProxyURL    string
	Timeout     time.Duration
	RatePerHost float64
	Burst       int
}

type ProvidersConfig struct {
	R18BaseURL       string
	CatalogBaseURL   string
	CatalogTemplates []string
}

type WorkerConfig struct {
	Concurrency int
	Attempts    int
	Backoff     time.Duration
	LockTTL     time.Duration
	MetricsAddr string
	Consumer    string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

type CacheConfig struct {
	Backend string
	Dir     string
	TTL     time.Duration
	S3      S3Config
}

// EffectiveConfig 是校验并规范化后的最终配置（实现层直接消费，不再做二次默认判断）。
type EffectiveConfig struct {
	LogLevel string
	LogJSON  bool

	Redis     RedisConfig
	Store     StoreConfig
	Stream    StreamConfig
	Browser   BrowserConfig
	HTTP      HTTPConfig
	Providers ProvidersConfig
	Worker    WorkerConfig
	Cache     CacheConfig
}

// Setup 装配 viper：默认值、环境变量绑定与配置文件发现。
//
// 发现规则：
// - file 非空：只读该文件，不存在即报错
// - file 为空：依次在 .、$HOME/.config/avresolve 下找 avresolve.{toml,yaml,json}，找不到不报错
func Setup(v *viper.Viper, file string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	v.SetTypeByDefaultValue(true)
	for _, f := range Fields {
		v.SetDefault(f.Key, f.Value)
		if err := v.BindEnv(f.Key); err != nil {
			return &Error{Code: ErrCodeInvalid, Key: f.Key, Err: err}
		}
	}

	if strings.TrimSpace(file) != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return &Error{Code: ErrCodeInvalid, Err: fmt.Errorf("读取配置文件 %q 失败：%w", file, err)}
		}
		return nil
	}

	v.SetConfigName(Name)
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", Name))
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return &Error{Code: ErrCodeInvalid, Err: err}
	}
	return nil
}

// Load 从已 Setup 的 viper 读取并校验配置。
// stream.proxy_prefix 的必填校验由 RequireProxyPrefix 单独完成（只读命令不需要它）。
func Load(v *viper.Viper) (EffectiveConfig, error) {
	c := EffectiveConfig{
		LogLevel: strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		LogJSON:  v.GetBool(KeyLogJSON),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString(KeyRedisAddr)),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString(KeyStoreDriver))),
			DSN:    strings.TrimSpace(v.GetString(KeyStoreDSN)),
		},
		Stream: StreamConfig{
			ProxyPrefix: strings.TrimSpace(v.GetString(KeyStreamProxyPrefix)),
			Settle:      v.GetDuration(KeyStreamSettle),
			NavTimeout:  v.GetDuration(KeyStreamNavTimeout),
			BaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString(KeyStreamBaseURL)), "/"),
			Templates:   cleanList(v.GetStringSlice(KeyStreamTemplates)),
			AltHosts:    cleanList(v.GetStringSlice(KeyStreamAltHosts)),
		},
		Browser: BrowserConfig{
			ControlURL: strings.TrimSpace(v.GetString(KeyBrowserControlURL)),
			Bin:        strings.TrimSpace(v.GetString(KeyBrowserBin)),
			Headless:   v.GetBool(KeyBrowserHeadless),
		},
		HTTP: HTTPConfig{
			ProxyURL:    strings.TrimSpace(v.GetString(KeyHTTPProxyURL)),
			Timeout:     v.GetDuration(KeyHTTPTimeout),
			RatePerHost: v.GetFloat64(KeyHTTPRatePerHost),
			Burst:       v.GetInt(KeyHTTPBurst),
		},
		Providers: ProvidersConfig{
			R18BaseURL:       strings.TrimRight(strings.TrimSpace(v.GetString(KeyR18BaseURL)), "/"),
			CatalogBaseURL:   strings.TrimRight(strings.TrimSpace(v.GetString(KeyCatalogBaseURL)), "/"),
			CatalogTemplates: cleanList(v.GetStringSlice(KeyCatalogTemplates)),
		},
		Worker: WorkerConfig{
			Concurrency: clamp(v.GetInt(KeyWorkerConcurrency), minConcurrency, maxConcurrency),
			Attempts:    v.GetInt(KeyWorkerAttempts),
			Backoff:     v.GetDuration(KeyWorkerBackoff),
			LockTTL:     v.GetDuration(KeyWorkerLockTTL),
			MetricsAddr: strings.TrimSpace(v.GetString(KeyWorkerMetricsAddr)),
			Consumer:    strings.TrimSpace(v.GetString(KeyWorkerConsumer)),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString(KeyCacheBackend))),
			Dir:     strings.TrimSpace(v.GetString(KeyCacheDir)),
			TTL:     v.GetDuration(KeyCacheTTL),
			S3: S3Config{
				Endpoint:  strings.TrimSpace(v.GetString(KeyCacheS3Endpoint)),
				Bucket:    strings.TrimSpace(v.GetString(KeyCacheS3Bucket)),
				AccessKey: v.GetString(KeyCacheS3AccessKey),
				SecretKey: v.GetString(KeyCacheS3SecretKey),
				Secure:    v.GetBool(KeyCacheS3Secure),
			},
		},
	}
	if err := c.validate(); err != nil {
		return EffectiveConfig{}, err
	}
	return c, nil
}

func (c EffectiveConfig) validate() error {
	invalid := func(key, format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Key: key, Err: fmt.Errorf(format, args...)}
	}

	switch c.Store.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return &Error{Code: ErrCodeMissing, Key: KeyStoreDSN}
		}
	default:
		return invalid(KeyStoreDriver, "不支持的存储：%q（可选 sqlite/postgres/memory）", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		return &Error{Code: ErrCodeMissing, Key: KeyStoreDSN}
	}

	if c.ProxyPrefixSet() {
		if err := checkHTTPURL(c.Stream.ProxyPrefix); err != nil {
			return invalid(KeyStreamProxyPrefix, "%v", err)
		}
	}
	if c.Stream.Settle <= 0 {
		return invalid(KeyStreamSettle, "必须大于 0")
	}
	if c.Stream.NavTimeout <= 0 {
		return invalid(KeyStreamNavTimeout, "必须大于 0")
	}
	for key, u := range map[string]string{
		KeyStreamBaseURL:  c.Stream.BaseURL,
		KeyR18BaseURL:     c.Providers.R18BaseURL,
		KeyCatalogBaseURL: c.Providers.CatalogBaseURL,
	} {
		if err := checkHTTPURL(u); err != nil {
			return invalid(key, "%v", err)
		}
	}
	if len(c.Stream.Templates) == 0 {
		return invalid(KeyStreamTemplates, "至少需要一个模板")
	}
	if len(c.Providers.CatalogTemplates) == 0 {
		return invalid(KeyCatalogTemplates, "至少需要一个模板")
	}

	if c.HTTP.ProxyURL != "" {
		if _, err := url.Parse(c.HTTP.ProxyURL); err != nil {
			return invalid(KeyHTTPProxyURL, "%v", err)
		}
	}
	if c.HTTP.Timeout <= 0 {
		return invalid(KeyHTTPTimeout, "必须大于 0")
	}
	if c.HTTP.RatePerHost < 0 || c.HTTP.Burst < 0 {
		return invalid(KeyHTTPRatePerHost, "限速参数不能为负")
	}

	if c.Worker.Attempts < 1 {
		return invalid(KeyWorkerAttempts, "至少为 1")
	}
	if c.Worker.Backoff <= 0 {
		return invalid(KeyWorkerBackoff, "必须大于 0")
	}
	if c.Worker.LockTTL <= 0 {
		return invalid(KeyWorkerLockTTL, "必须大于 0")
	}

	switch c.Cache.Backend {
	case "none":
	case "file":
		if c.Cache.Dir == "" {
			return &Error{Code: ErrCodeMissing, Key: KeyCacheDir}
		}
	case "s3":
		if c.Cache.S3.Endpoint == "" {
			return &Error{Code: ErrCodeMissing, Key: KeyCacheS3Endpoint}
		}
		if c.Cache.S3.Bucket == "" {
			return &Error{Code: ErrCodeMissing, Key: KeyCacheS3Bucket}
		}
	default:
		return invalid(KeyCacheBackend, "不支持的缓存后端：%q（可选 none/file/s3）", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return invalid(KeyCacheTTL, "不能为负")
	}
	return nil
}

// ProxyPrefixSet 报告是否配置了 stream.proxy_prefix。
func (c EffectiveConfig) ProxyPrefixSet() bool { return c.Stream.ProxyPrefix != "" }

// RequireProxyPrefix 在需要解析流地址的命令（worker / resolve）启动前调用。
func (c EffectiveConfig) RequireProxyPrefix() error {
	if !c.ProxyPrefixSet() {
		return &Error{Code: ErrCodeMissing, Key: KeyStreamProxyPrefix}
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("需要 http(s) URL：%q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("缺少 host：%q", raw)
	}
	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
