package httpx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxBodyBytes 限制单页读取量；目录站详情页与 m3u8 都远小于该值，超出即报错。
var maxBodyBytes int64 = 8 << 20

// PageCache 是可选的页面缓存后端（文件或对象存储）。
type PageCache interface {
	Get(ctx context.Context, key string) (body []byte, storedAt time.Time, ok bool, err error)
	Put(ctx context.Context, key string, body []byte) error
}

// Fetcher 实现 fetchText：一次 GET，返回文本 body。
//
// 约束：
// - 200..399 视为成功（与上游站点的跳转习惯一致），其余返回 *StatusError
// - 挑战页返回 *BlockedError
// - 每次调用单独的超时（timeout<=0 时只受 client 总超时约束）
// - Cache 非空且 CacheTTL>0 时，命中未过期条目直接返回；缓存读写失败只记录日志
type Fetcher struct {
	Client   *http.Client
	Cache    PageCache
	CacheTTL time.Duration
	Log      logrus.FieldLogger
}

func (f *Fetcher) FetchText(ctx context.Context, rawURL string, timeout time.Duration, headers map[string]string) (string, error) {
	if f == nil || f.Client == nil {
		return "", errors.New("http client 不能为空")
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("url 不能为空")
	}

	key := cacheKey(rawURL)
	if b, ok := f.cached(ctx, key); ok {
		return string(b), nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(body)) > maxBodyBytes {
		return "", fmt.Errorf("%w: %s 超过 %d 字节", ErrBodyTooLarge, rawURL, maxBodyBytes)
	}
	if detectChallenge(resp, body) {
		return "", &BlockedError{URL: rawURL, Reason: "cloudflare"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	f.store(ctx, key, body)
	return string(body), nil
}

func (f *Fetcher) cached(ctx context.Context, key string) ([]byte, bool) {
	if f.Cache == nil || f.CacheTTL <= 0 {
		return nil, false
	}
	b, at, ok, err := f.Cache.Get(ctx, key)
	if err != nil {
		f.logger().WithError(err).WithField("key", key).Debug("page cache read failed")
		return nil, false
	}
	if !ok || time.Since(at) > f.CacheTTL {
		return nil, false
	}
	return b, true
}

func (f *Fetcher) store(ctx context.Context, key string, body []byte) {
	if f.Cache == nil || f.CacheTTL <= 0 {
		return
	}
	if err := f.Cache.Put(ctx, key, body); err != nil {
		f.logger().WithError(err).WithField("key", key).Debug("page cache write failed")
	}
}

func (f *Fetcher) logger() logrus.FieldLogger {
	if f.Log == nil {
		return logrus.StandardLogger()
	}
	return f.Log
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}
