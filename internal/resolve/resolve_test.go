package resolve

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/samber/mo"

	"github.com/John-Robertt/avresolve/internal/domain"
	"github.com/John-Robertt/avresolve/internal/provider"
)

type stubProvider struct {
	name  string
	res   provider.Result
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(context.Context, domain.CodeIdentity) provider.Result {
	s.calls++
	return s.res
}

type stubLocator struct {
	found      string
	priorities []string
}

func (s *stubLocator) Locate(_ context.Context, _ domain.CodeIdentity, priority string) mo.Option[string] {
	s.priorities = append(s.priorities, priority)
	if s.found == "" {
		return mo.None[string]()
	}
	return mo.Some(s.found)
}

const (
	proxyPrefix = "https://proxy.test/v2?url="
	manifest    = "https://cdn.test/hls/abc/1080p/video.m3u8?t=1 2"
)

func primaryMeta() domain.Metadata {
	return domain.Metadata{
		Code:      "pppe-356",
		Title:     "Sample Title",
		PosterURL: "https://pics.test/digital/video/pppe00356/pppe00356pl.jpg",
		Galleries: []domain.Gallery{{
			FullURL:  "https://pics.test/digital/video/pppe00356/pppe00356-1.jpg",
			ThumbURL: "https://pics.test/digital/video/pppe00356/pppe00356-1.jpg",
		}},
	}
}

func newOrchestrator(primary, a, b provider.Result, loc *stubLocator) (*Orchestrator, *stubProvider, *stubProvider, *stubProvider) {
	p := &stubProvider{name: PrimaryName, res: primary}
	ca := &stubProvider{name: CatalogAName, res: a}
	cb := &stubProvider{name: CatalogBName, res: b}
	return &Orchestrator{Primary: p, CatalogA: ca, CatalogB: cb, Streams: loc, Proxy: Proxy{Prefix: proxyPrefix}}, p, ca, cb
}

func TestResolve_PrimaryAndStream(t *testing.T) {
	loc := &stubLocator{found: manifest}
	o, _, ca, cb := newOrchestrator(provider.Found(primaryMeta(), ""), provider.NotFound("x"), provider.NotFound("x"), loc)

	out, err := o.Resolve(context.Background(), "pppe-356")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !out.Completed() || out.FailureReason != "" {
		t.Fatalf("期望 completed，实际 %+v", out)
	}
	if !strings.HasPrefix(out.StreamURL, proxyPrefix) {
		t.Fatalf("stream 应被代理包装，实际 %q", out.StreamURL)
	}
	raw, err := url.QueryUnescape(strings.TrimPrefix(out.StreamURL, proxyPrefix))
	if err != nil || raw != manifest {
		t.Fatalf("解码后应得到原始 manifest，实际 %q（%v）", raw, err)
	}
	if out.Metadata.StreamURL != out.StreamURL || out.Metadata.Code != "PPPE-356" {
		t.Fatalf("metadata 不符合预期：%+v", out.Metadata)
	}
	if out.Metadata.ThumbnailURL != out.Metadata.PosterURL {
		t.Fatalf("thumbnail 应回退为 poster")
	}
	if g := out.Metadata.Galleries[0]; !strings.HasSuffix(g.FullURL, "/pppe00356jp-1.jpg") || g.ThumbURL != "https://pics.test/digital/video/pppe00356/pppe00356-1.jpg" {
		t.Fatalf("gallery 改写不符合预期：%+v", g)
	}
	if len(loc.priorities) != 1 || loc.priorities[0] != "" {
		t.Fatalf("primary 路径应不带 priority 定位，实际 %v", loc.priorities)
	}
	if ca.calls != 0 || cb.calls != 0 {
		t.Fatalf("primary 成功时不应访问目录站")
	}
}

func TestResolve_PrimaryOKStreamMissKeepsMetadata(t *testing.T) {
	o, _, _, cb := newOrchestrator(provider.Found(primaryMeta(), ""), provider.NotFound("x"), provider.NotFound("x"), &stubLocator{})

	out, err := o.Resolve(context.Background(), "PPPE-356")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if out.Completed() || out.FailureReason != ReasonStreamNotFoundAnywhere {
		t.Fatalf("期望失败原因 %q，实际 %q", ReasonStreamNotFoundAnywhere, out.FailureReason)
	}
	if out.Metadata.Title != "Sample Title" || out.Metadata.PosterURL == "" {
		t.Fatalf("失败时应保留 primary 元数据：%+v", out.Metadata)
	}
	if cb.calls != 0 {
		t.Fatalf("stream 失败不应回退到 CatalogB")
	}
}

func TestResolve_BothFailKeepsPrimaryReason(t *testing.T) {
	o, _, _, _ := newOrchestrator(
		provider.Failed(errors.New("Invalid Code: Metadata not found on r18.dev")),
		provider.NotFound("x"),
		provider.Failed(errors.New("dial tcp: timeout")),
		&stubLocator{found: manifest},
	)

	out, err := o.Resolve(context.Background(), "PPPE-356")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := "Both r18.dev and 123av failed: Invalid Code: Metadata not found on r18.dev"
	if out.FailureReason != want {
		t.Fatalf("期望 %q，实际 %q", want, out.FailureReason)
	}
	if len(out.Attempts) != 2 || out.Attempts[1].Stage != provider.StageFetch {
		t.Fatalf("attempt 轨迹不符合预期：%+v", out.Attempts)
	}
}

func TestResolve_FallbackUsesPattern(t *testing.T) {
	loc := &stubLocator{}
	meta := domain.Metadata{Title: "From Catalog", PosterURL: "https://c.test/p.jpg"}
	o, _, _, _ := newOrchestrator(provider.NotFound("Not found on r18.dev (dvd_id lookup failed)"), provider.NotFound("x"), provider.Found(meta, "en/dm3/v"), loc)

	out, _ := o.Resolve(context.Background(), "PPPE-356")
	if out.FailureReason != ReasonStreamNotFound {
		t.Fatalf("期望 %q，实际 %q", ReasonStreamNotFound, out.FailureReason)
	}
	if out.Metadata.Title != "From Catalog" {
		t.Fatalf("应保留目录站元数据")
	}
	if len(loc.priorities) != 1 || loc.priorities[0] != "en/dm3/v" {
		t.Fatalf("应以命中模板作为 priority，实际 %v", loc.priorities)
	}
}

func TestResolve_NumericFamily(t *testing.T) {
	loc := &stubLocator{found: "https://cdn.test/fc2.m3u8"}
	meta := domain.Metadata{Title: "FC2 Title", PosterURL: "https://c.test/fc2.jpg"}
	o, p, _, _ := newOrchestrator(provider.NotFound("x"), provider.Found(meta, "en/v"), provider.NotFound("x"), loc)

	out, err := o.Resolve(context.Background(), "fc2 ppv 7654321")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !out.Completed() || out.Metadata.Code != "FC2-PPV-7654321" {
		t.Fatalf("期望 completed 且 code 规范化，实际 %+v", out)
	}
	if p.calls != 0 {
		t.Fatalf("numeric 族不应访问 primary")
	}
	if loc.priorities[0] != "en/v" {
		t.Fatalf("应以命中模板作为 priority，实际 %v", loc.priorities)
	}
}

func TestResolve_NumericCatalogMiss(t *testing.T) {
	o, _, _, _ := newOrchestrator(provider.NotFound("x"), provider.NotFound("Failed to load FC2-PPV-1 with complete details from any 123av URL pattern"), provider.NotFound("x"), &stubLocator{})
	out, _ := o.Resolve(context.Background(), "FC2-PPV-7654321")
	if !strings.HasPrefix(out.FailureReason, "Failed to load") {
		t.Fatalf("应透传目录站原因，实际 %q", out.FailureReason)
	}
}

func TestResolve_EmptyAndCanceled(t *testing.T) {
	o, _, _, _ := newOrchestrator(provider.NotFound("x"), provider.NotFound("x"), provider.NotFound("x"), &stubLocator{})
	if _, err := o.Resolve(context.Background(), "  "); !errors.Is(err, ErrEmptyCode) {
		t.Fatalf("期望 ErrEmptyCode，实际 %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Resolve(ctx, "PPPE-356"); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
}

func TestFromRegistry(t *testing.T) {
	reg, err := provider.NewRegistry(
		&stubProvider{name: PrimaryName},
		&stubProvider{name: CatalogAName},
		&stubProvider{name: CatalogBName},
	)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	o, err := FromRegistry(reg, &stubLocator{}, Proxy{}, nil, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if o.Primary.Name() != PrimaryName || o.CatalogB.Name() != CatalogBName {
		t.Fatalf("provider 装配错误")
	}

	partial, _ := provider.NewRegistry(&stubProvider{name: PrimaryName})
	if _, err := FromRegistry(partial, nil, Proxy{}, nil, nil); err == nil {
		t.Fatalf("缺少 provider 应报错")
	}
}
