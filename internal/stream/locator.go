package stream

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/avresolve/internal/domain"
)

const (
	DefaultBaseURL    = "https://123av.com"
	DefaultSettle     = 10 * time.Second
	DefaultNavTimeout = 10 * time.Second

	manifestSuffix = ".m3u8"
)

// DefaultTemplates 是流媒体站的路径前缀（按经验命中率排序）。
var DefaultTemplates = []string{"en/dm2/v", "en/dm4/v", "en/dm3/v", "en/v", "dm4/v", "en/dm1/v", "en/dm9/v"}

// DefaultAltHosts 在所有模板都未命中时兜底；{code} 为规范番号，{slug} 为小写 slug。
var DefaultAltHosts = []string{"https://memojav.com/video/{code}", "https://missav.com/en/{slug}"}

// 固定清晰度标记：带这种标记的 m3u8 通常是单档位，而不是 master。
var resolutionMarkerRE = regexp.MustCompile(`(?i)(^|[^0-9])(240|360|480|720|1080|1440|2160)p`)

// Capturer 是 renderAndCapture 能力：加载页面（执行脚本），在 settle 窗口内观察子请求。
//
// 约束：返回值按观察顺序排列；实现自行处理页面/浏览器资源回收。
type Capturer interface {
	Capture(ctx context.Context, pageURL string, settle time.Duration) ([]string, error)
}

// Locator 按模板顺序探测页面，抓取 m3u8 请求并交给 ManifestSelector。
//
// 约束：
// - 单个候选的超时/错误只算该候选未命中，不向上抛
// - 全部未命中返回 mo.None（常见结果，不是缺陷）
// - 严格串行，不并发探测
type Locator struct {
	Capturer  Capturer
	Manifests ManifestSelector

	BaseURL    string
	Templates  []string
	AltHosts   []string
	Settle     time.Duration
	NavTimeout time.Duration

	Log logrus.FieldLogger
}

// Locate 返回最高码率档位的绝对 URL（未包装 proxy）。
// priority 通常是目录站拿到完整元数据的那个模板。
func (l *Locator) Locate(ctx context.Context, id domain.CodeIdentity, priority string) mo.Option[string] {
	log := logger(l.Log).WithField("code", id.Canonical)
	if l.Capturer == nil {
		log.Warn("no page capturer configured, stream lookup skipped")
		return mo.None[string]()
	}

	candidates := append(l.CandidateURLs(id.Slug(), priority), l.altURLs(id)...)
	for _, pageURL := range candidates {
		if ctx.Err() != nil {
			return mo.None[string]()
		}
		if m, ok := l.probe(ctx, log, pageURL).Get(); ok {
			best := l.Manifests.Best(ctx, m)
			log.WithFields(logrus.Fields{"url": pageURL, "manifest": m, "stream": best}).Info("stream located")
			return mo.Some(best)
		}
	}
	log.WithField("candidates", len(candidates)).Info("no manifest captured on any candidate")
	return mo.None[string]()
}

func (l *Locator) probe(ctx context.Context, log logrus.FieldLogger, pageURL string) mo.Option[string] {
	settle := l.settle()
	cctx, cancel := context.WithTimeout(ctx, l.navTimeout()+settle+5*time.Second)
	defer cancel()

	seen, err := l.Capturer.Capture(cctx, pageURL, settle)
	if err != nil {
		log.WithError(err).WithField("url", pageURL).Debug("capture failed, treated as miss")
	}
	// 出错时已观察到的请求仍然有效。
	return PickManifest(seen)
}

// PickManifest 从观察到的子请求里挑 master playlist。
//
// 规则：
// - 只保留 .m3u8（忽略 query），保序去重
// - 优先第一个不带固定清晰度标记的 URL；都带标记时取第一个
func PickManifest(observed []string) mo.Option[string] {
	ms := lo.Uniq(lo.Filter(observed, func(u string, _ int) bool {
		return isManifestURL(u)
	}))
	if len(ms) == 0 {
		return mo.None[string]()
	}
	master := lo.FindOrElse(ms, ms[0], func(u string) bool {
		return !resolutionMarkerRE.MatchString(pathOf(u))
	})
	return mo.Some(master)
}

func isManifestURL(u string) bool {
	return strings.HasSuffix(strings.ToLower(pathOf(u)), manifestSuffix)
}

func pathOf(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

// CandidateURLs 生成 {base}/{template}/{slug} 候选（slug 变体 × 模板，保序去重）。
// priority 非空时移到最前；未知的 priority 也会被前置。
func (l *Locator) CandidateURLs(slug, priority string) []string {
	templates := OrderTemplates(l.templates(), priority)
	base := strings.TrimRight(strings.TrimSpace(l.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}

	slugs := lo.Uniq([]string{strings.ToLower(slug), strings.ReplaceAll(strings.ToLower(slug), "_", "-")})
	out := make([]string, 0, len(slugs)*len(templates))
	for _, s := range slugs {
		for _, t := range templates {
			out = append(out, base+"/"+strings.Trim(t, "/")+"/"+s)
		}
	}
	return lo.Uniq(out)
}

// OrderTemplates 把 priority 放到最前，其余保持原顺序。
func OrderTemplates(templates []string, priority string) []string {
	priority = strings.Trim(strings.TrimSpace(priority), "/")
	if priority == "" {
		return append([]string(nil), templates...)
	}
	rest := lo.Filter(templates, func(t string, _ int) bool {
		return strings.Trim(t, "/") != priority
	})
	return append([]string{priority}, rest...)
}

func (l *Locator) altURLs(id domain.CodeIdentity) []string {
	hosts := l.AltHosts
	if hosts == nil {
		hosts = DefaultAltHosts
	}
	r := strings.NewReplacer("{code}", id.Canonical, "{slug}", id.Slug())
	return lo.Map(hosts, func(h string, _ int) string { return r.Replace(h) })
}

func (l *Locator) templates() []string {
	if len(l.Templates) == 0 {
		return DefaultTemplates
	}
	return l.Templates
}

func (l *Locator) settle() time.Duration {
	if l.Settle <= 0 {
		return DefaultSettle
	}
	return l.Settle
}

func (l *Locator) navTimeout() time.Duration {
	if l.NavTimeout <= 0 {
		return DefaultNavTimeout
	}
	return l.NavTimeout
}
