package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/avresolve/internal/domain"
	"github.com/John-Robertt/avresolve/internal/provider"
)

const (
	DefaultBaseURL = "https://123av.com"

	fetchTimeout = 30 * time.Second
	maxGallery   = 12
)

// DefaultTemplates 是目录站详情页的路径前缀（dm2/dm4 通常带完整详情）。
var DefaultTemplates = []string{"en/dm2/v", "en/dm4/v", "en/dm3/v", "en/v", "en/dm1/v", "en/dm9/v"}

var pageHeaders = map[string]string{"Accept-Language": "en-US,en;q=0.9"}

// Provider 是目录站（123av）的两种变体：FallbackCatalogA（numeric-suffix）与 FallbackCatalogB（standard）。
//
// 约束：
// - 按模板顺序串行探测，第一个通过 IsUsable 的模板胜出，并作为 Result.Pattern 返回
// - 单个模板的网络错误只记录日志，继续下一个
// - 没有模板通过时返回 NotFound（不抛错）
// - numeric 变体不抽取 gallery 与演员（该族页面上没有可靠来源）
type Provider struct {
	name    string
	numeric bool

	// BaseURL 为空时使用 https://123av.com。
	BaseURL   string
	Templates []string
	Fetcher   provider.TextFetcher
	Log       logrus.FieldLogger
}

// NewNumericSuffix 构造 FallbackCatalogA。
func NewNumericSuffix(f provider.TextFetcher, baseURL string, templates []string, log logrus.FieldLogger) *Provider {
	return &Provider{name: "123av-fc2", numeric: true, BaseURL: baseURL, Templates: templates, Fetcher: f, Log: log}
}

// NewStandard 构造 FallbackCatalogB。
func NewStandard(f provider.TextFetcher, baseURL string, templates []string, log logrus.FieldLogger) *Provider {
	return &Provider{name: "123av", BaseURL: baseURL, Templates: templates, Fetcher: f, Log: log}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func (p *Provider) templates() []string {
	if len(p.Templates) == 0 {
		return DefaultTemplates
	}
	return p.Templates
}

func (p *Provider) logger() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

func (p *Provider) Fetch(ctx context.Context, id domain.CodeIdentity) provider.Result {
	if p.Fetcher == nil {
		return provider.Failed(errors.New("http fetcher 不能为空"))
	}
	reason := fmt.Sprintf("Failed to load %s with complete details from any 123av URL pattern", id.Canonical)
	if id.Canonical == "" {
		return provider.NotFound(reason)
	}

	log := p.logger().WithFields(logrus.Fields{"provider": p.name, "code": id.Canonical})
	for _, tpl := range p.templates() {
		if ctx.Err() != nil {
			return provider.Failed(ctx.Err())
		}
		tpl = strings.Trim(tpl, "/")
		pageURL := p.baseURL() + "/" + tpl + "/" + id.Slug()

		body, err := p.Fetcher.FetchText(ctx, pageURL, fetchTimeout, pageHeaders)
		if err != nil {
			log.WithError(err).WithField("url", pageURL).Debug("template fetch failed")
			continue
		}
		pg, err := parsePage([]byte(body), pageURL, id, p.numeric)
		if err != nil {
			log.WithError(err).WithField("url", pageURL).Debug("template parse failed")
			continue
		}
		if !provider.IsUsable(pg.usability()) {
			log.WithField("url", pageURL).Debug("template lacks complete details")
			continue
		}
		log.WithFields(logrus.Fields{"url": pageURL, "template": tpl}).Info("catalog details loaded")
		return provider.Found(pg.metadata(), tpl)
	}
	return provider.NotFound(reason)
}

type parsedPage struct {
	meta       domain.Metadata
	runtime    mo.Option[int]
	genres     []string
	tags       []string
	actresses  []string
	hasDetails bool
}

func (p *parsedPage) usability() provider.Usability {
	return provider.Usability{
		PosterURL:   p.meta.PosterURL,
		Title:       p.meta.Title,
		HasDetails:  p.hasDetails,
		ReleaseDate: p.meta.ReleaseDate,
		Runtime:     p.runtime,
		Categories:  len(p.meta.Categories),
	}
}

func (p *parsedPage) metadata() domain.Metadata {
	m := p.meta
	if v, ok := p.runtime.Get(); ok {
		m.RuntimeMinutes = &v
	}
	return m
}

var (
	siteSuffixRE = regexp.MustCompile(`(?i)\s*-\s*123AV\s*$`)
	imageExtRE   = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp)(\?|$)`)
	noiseImageRE = regexp.MustCompile(`(?i)logo|icon|sprite|avatar`)
)

// parsePage 是纯函数：相同输入 => 相同输出。
func parsePage(html []byte, pageURL string, id domain.CodeIdentity, numeric bool) (*parsedPage, error) {
	if len(html) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	pg := &parsedPage{
		meta: domain.Metadata{
			Code:       id.Canonical,
			SourceURL:  pageURL,
			Actresses:  []domain.Actress{},
			Categories: []domain.Category{},
			Directors:  []domain.Director{},
			Galleries:  []domain.Gallery{},
		},
	}

	pg.meta.Title = cleanTitle(firstNonEmpty(
		doc.Find("h1").First().Text(),
		attrOf(doc, `meta[property="og:title"]`, "content"),
		doc.Find("title").First().Text(),
	), id.Canonical)

	poster := firstNonEmpty(
		attrOf(doc, "#player", "data-poster"),
		attrOf(doc, `meta[property="og:image"]`, "content"),
		attrOf(doc, ".cover img, .poster img", "src"),
	)
	pg.meta.PosterURL = resolveURL(pageURL, poster)
	pg.meta.ThumbnailURL = pg.meta.PosterURL
	pg.meta.Description = normSpace(attrOf(doc, `meta[name="description"]`, "content"))

	rows := doc.Find(".detail-item > div")
	pg.hasDetails = rows.Length() > 0
	rows.Each(func(_ int, s *goquery.Selection) {
		spans := s.Find("span")
		row := detailRow{
			Label: normSpace(spans.First().Text()),
			Value: normSpace(spans.Last().Text()),
			Link:  normSpace(s.Find("a").First().Text()),
			Links: s.Find("a").Map(func(_ int, a *goquery.Selection) string { return normSpace(a.Text()) }),
		}
		if rule, ok := matchRule(fieldRules, row.Label); ok {
			rule.Apply(pg, row)
		}
	})

	pg.meta.Categories = lo.Map(lo.Uniq(append(append([]string(nil), pg.genres...), pg.tags...)), func(name string, _ int) domain.Category {
		return domain.Category{Name: name}
	})

	if !numeric {
		pg.meta.Actresses = extractActresses(doc, pg.actresses)
		pg.meta.Galleries = extractGallery(doc, pageURL)
	}
	return pg, nil
}

// extractActresses 合并详情区 actress 行的名字与页面上的演员链接，按出现顺序去重。
func extractActresses(doc *goquery.Document, fromRows []string) []domain.Actress {
	names := append([]string(nil), fromRows...)
	doc.Find(`.detail-item .actress a, a[href*="/actresses/"], a[href*="/actress/"]`).Each(func(_ int, a *goquery.Selection) {
		if n := normSpace(a.Text()); n != "" {
			names = append(names, n)
		}
	})
	return lo.Map(lo.Uniq(names), func(n string, _ int) domain.Actress {
		return domain.Actress{Name: n}
	})
}

func extractGallery(doc *goquery.Document, pageURL string) []domain.Gallery {
	var srcs []string
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" || !imageExtRE.MatchString(src) || noiseImageRE.MatchString(src) {
			return
		}
		if !strings.Contains(src, "/images/") && !strings.Contains(src, "/gallery/") {
			return
		}
		srcs = append(srcs, resolveURL(pageURL, src))
	})
	srcs = lo.Uniq(srcs)
	if len(srcs) > maxGallery {
		srcs = srcs[:maxGallery]
	}
	return lo.Map(srcs, func(s string, _ int) domain.Gallery {
		return domain.Gallery{FullURL: s, ThumbURL: s}
	})
}

// cleanTitle 去掉站点后缀与开头重复的番号。
func cleanTitle(title, canonical string) string {
	title = normSpace(siteSuffixRE.ReplaceAllString(normSpace(title), ""))
	if canonical != "" && len(title) >= len(canonical) && strings.EqualFold(title[:len(canonical)], canonical) {
		title = strings.TrimLeft(title[len(canonical):], " -:|")
	}
	return strings.TrimSpace(title)
}

func attrOf(doc *goquery.Document, sel, name string) string {
	v, _ := doc.Find(sel).First().Attr(name)
	return strings.TrimSpace(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	ru, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(ru).String()
}
