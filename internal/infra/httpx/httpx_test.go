package httpx

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

func TestNewClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewClient(Options{ProxyURL: "http://127.0.0.1:8080"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives || !tr.DisableKeepAlives {
		t.Fatalf("期望代理模式禁用 keep-alive")
	}
}

func TestNewClient_DefaultsAndLimiter(t *testing.T) {
	c, err := NewClient(Options{RatePerHost: 2, Burst: 4})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if c.Timeout != defaultTimeout {
		t.Fatalf("期望默认超时 %v，实际 %v", defaultTimeout, c.Timeout)
	}
	tr := c.Transport.(*Transport)
	if tr.Base.Proxy != nil {
		t.Fatalf("不期望启用代理，但 Proxy!=nil")
	}
	if tr.Limiter == nil {
		t.Fatalf("期望启用按 host 限速")
	}
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	if _, err := NewClient(Options{ProxyURL: "http://[::1"}); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func newFetcher(t *testing.T) *Fetcher {
	t.Helper()
	c, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return &Fetcher{Client: c}
}

func TestFetchText_OKAndHeaders(t *testing.T) {
	var gotLang, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang = r.Header.Get("Accept-Language")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	s, err := newFetcher(t).FetchText(context.Background(), srv.URL, time.Second, map[string]string{"Accept-Language": "en-US"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if s != "hello" {
		t.Fatalf("期望 hello，实际 %q", s)
	}
	if gotLang != "en-US" {
		t.Fatalf("期望透传 Accept-Language，实际 %q", gotLang)
	}
	if gotUA == "" {
		t.Fatalf("期望自动填充 User-Agent")
	}
}

func TestFetchText_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newFetcher(t).FetchText(context.Background(), srv.URL, time.Second, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("期望 404 StatusError，实际 %v", err)
	}
	if !IsNotFound(err) {
		t.Fatalf("期望 IsNotFound=true")
	}
}

func TestFetchText_OversizedBodyIsError(t *testing.T) {
	old := maxBodyBytes
	maxBodyBytes = 16
	t.Cleanup(func() { maxBodyBytes = old })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			_, _ = w.Write(bytes.Repeat([]byte("a"), 17))
			return
		}
		_, _ = w.Write(bytes.Repeat([]byte("a"), 16))
	}))
	defer srv.Close()

	f := newFetcher(t)
	_, err := f.FetchText(context.Background(), srv.URL+"/big", time.Second, nil)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("期望 ErrBodyTooLarge，实际 %v", err)
	}
	body, err := f.FetchText(context.Background(), srv.URL+"/fit", time.Second, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(body) != 16 {
		t.Fatalf("期望完整读取 16 字节，实际 %d", len(body))
	}
}

func TestFetchText_CloudflareChallengeIsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.Header().Set("CF-RAY", "abc")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><head><title>Just a moment...</title></head></html>"))
	}))
	defer srv.Close()

	_, err := newFetcher(t).FetchText(context.Background(), srv.URL, time.Second, nil)
	var be *BlockedError
	if !errors.As(err, &be) || be.Reason != "cloudflare" {
		t.Fatalf("期望 BlockedError(cloudflare)，实际 %v", err)
	}
}

func TestFetchText_DecodesBrotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, _ = bw.Write([]byte("#EXTM3U"))
	_ = bw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	s, err := newFetcher(t).FetchText(context.Background(), srv.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if s != "#EXTM3U" {
		t.Fatalf("期望解压后的文本，实际 %q", s)
	}
}

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	return b, time.Now(), ok, nil
}

func (c *memCache) Put(_ context.Context, key string, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = b
	return nil
}

func TestFetchText_CacheHitSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("page"))
	}))
	defer srv.Close()

	f := newFetcher(t)
	f.Cache = &memCache{m: map[string][]byte{}}
	f.CacheTTL = time.Hour

	for i := 0; i < 2; i++ {
		s, err := f.FetchText(context.Background(), srv.URL, time.Second, nil)
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		if s != "page" {
			t.Fatalf("期望 page，实际 %q", s)
		}
	}
	if calls != 1 {
		t.Fatalf("期望只请求 1 次，实际 %d", calls)
	}
}

func TestTransport_RetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s, err := newFetcher(t).FetchText(context.Background(), srv.URL, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if s != "ok" || calls != 2 {
		t.Fatalf("期望重试后成功（calls=2），实际 s=%q calls=%d", s, calls)
	}
}
