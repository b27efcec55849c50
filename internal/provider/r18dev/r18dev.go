package r18dev

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/avresolve/internal/domain"
	"github.com/John-Robertt/avresolve/internal/infra/httpx"
	"github.com/John-Robertt/avresolve/internal/provider"
)

const (
	defaultBaseURL = "https://r18.dev"
	fetchTimeout   = 15 * time.Second

	actressImageBase = "https://awsimgsrc.dmm.com/dig/mono/actjpgs/"

	ReasonLookupFailed = "Not found on r18.dev (dvd_id lookup failed)"
	ReasonInvalidCode  = "Invalid Code: Metadata not found on r18.dev"
)

// Provider 是 PrimaryRegistry：两步 JSON 解析。
//
//  1. dvd_id=<CODE>/json      => content_id
//  2. combined=<content_id>/json => 完整详情
//
// 约束：
// - 不返回 stream（该站没有播放源）
// - 查无此片 => NotFound；网络/解码错误 => Failed
type Provider struct {
	// BaseURL 为空时使用 https://r18.dev。
	BaseURL string
	Fetcher provider.TextFetcher
	Log     logrus.FieldLogger
}

func (Provider) Name() string { return "r18dev" }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func (p Provider) Fetch(ctx context.Context, id domain.CodeIdentity) provider.Result {
	if p.Fetcher == nil {
		return provider.Failed(errors.New("http fetcher 不能为空"))
	}
	if id.Canonical == "" {
		return provider.NotFound(ReasonLookupFailed)
	}

	lookupURL := p.baseURL() + "/videos/vod/movies/detail/-/dvd_id=" + url.PathEscape(id.Canonical) + "/json"
	body, err := p.Fetcher.FetchText(ctx, lookupURL, fetchTimeout, jsonHeaders)
	if err != nil {
		if httpx.IsNotFound(err) {
			return provider.NotFound(ReasonLookupFailed)
		}
		return provider.Failed(err)
	}
	var lk lookup
	if err := json.Unmarshal([]byte(body), &lk); err != nil || strings.TrimSpace(lk.ContentID) == "" {
		return provider.NotFound(ReasonLookupFailed)
	}

	detailURL := p.baseURL() + "/videos/vod/movies/detail/-/combined=" + url.PathEscape(lk.ContentID) + "/json"
	body, err = p.Fetcher.FetchText(ctx, detailURL, fetchTimeout, jsonHeaders)
	if err != nil {
		if httpx.IsNotFound(err) {
			return provider.NotFound(ReasonInvalidCode)
		}
		return provider.Failed(err)
	}
	if strings.TrimSpace(body) == "" {
		return provider.NotFound(ReasonInvalidCode)
	}
	var d detail
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return provider.Failed(err)
	}
	if strings.EqualFold(strings.TrimSpace(d.Result), "not found") || (d.DvdID == "" && d.TitleEn == "") {
		return provider.NotFound(ReasonInvalidCode)
	}

	meta := mapDetail(d, id)
	meta.SourceURL = detailURL
	return provider.Found(meta, "")
}

var jsonHeaders = map[string]string{"Accept": "application/json"}

type lookup struct {
	ContentID string `json:"content_id"`
}

type detail struct {
	Result string `json:"result"`

	DvdID          string   `json:"dvd_id"`
	ContentID      string   `json:"content_id"`
	TitleEn        string   `json:"title_en"`
	JacketFullURL  string   `json:"jacket_full_url"`
	JacketThumbURL string   `json:"jacket_thumb_url"`
	SampleURL      string   `json:"sample_url"`
	MakerNameEn    string   `json:"maker_name_en"`
	LabelNameEn    string   `json:"label_name_en"`
	ReleaseDate    string   `json:"release_date"`
	RuntimeMins    *flexInt `json:"runtime_mins"`

	Series       *named  `json:"series"`
	SeriesID     flexInt `json:"series_id"`
	SeriesNameEn string  `json:"series_name_en"`

	Actresses []struct {
		ID         flexInt `json:"id"`
		NameRomaji string  `json:"name_romaji"`
		ImageURL   string  `json:"image_url"`
	} `json:"actresses"`
	Categories []named `json:"categories"`
	Directors  []named `json:"directors"`
	Gallery    []struct {
		ImageFull  string `json:"image_full"`
		ImageThumb string `json:"image_thumb"`
		Thumb      string `json:"thumb"`
	} `json:"gallery"`
}

// named 兼容 categories / directors / series 的几种命名字段。
type named struct {
	ID         flexInt `json:"id"`
	NameEn     string  `json:"name_en"`
	NameRomaji string  `json:"name_romaji"`
	Name       string  `json:"name"`
}

func (n named) name() string {
	for _, s := range []string{n.NameEn, n.NameRomaji, n.Name} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// flexInt 接受 JSON number、数字字符串与 null。
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// mapDetail 把 r18.dev 详情映射到统一 schema（不做 gallery 的 jp 改写，由 resolve 统一处理）。
func mapDetail(d detail, id domain.CodeIdentity) domain.Metadata {
	code := strings.ToUpper(strings.TrimSpace(d.DvdID))
	if code == "" {
		code = id.Canonical
	}
	m := domain.Metadata{
		Code:           code,
		Title:          strings.TrimSpace(d.TitleEn),
		PosterURL:      strings.TrimSpace(d.JacketFullURL),
		ThumbnailURL:   strings.TrimSpace(d.JacketThumbURL),
		SampleVideoURL: strings.TrimSpace(d.SampleURL),
		Maker:          strings.TrimSpace(d.MakerNameEn),
		Label:          strings.TrimSpace(d.LabelNameEn),
		ReleaseDate:    strings.TrimSpace(d.ReleaseDate),
		Actresses:      []domain.Actress{},
		Categories:     []domain.Category{},
		Directors:      []domain.Director{},
		Galleries:      []domain.Gallery{},
	}
	if d.RuntimeMins != nil && *d.RuntimeMins >= 0 {
		n := int(*d.RuntimeMins)
		m.RuntimeMinutes = &n
	}

	switch {
	case d.Series != nil && d.Series.name() != "":
		m.Series = &domain.Series{ExternalID: int64(d.Series.ID), Name: d.Series.name()}
	case strings.TrimSpace(d.SeriesNameEn) != "":
		m.Series = &domain.Series{ExternalID: int64(d.SeriesID), Name: strings.TrimSpace(d.SeriesNameEn)}
	}

	for _, a := range d.Actresses {
		name := strings.TrimSpace(a.NameRomaji)
		if name == "" {
			continue
		}
		m.Actresses = append(m.Actresses, domain.Actress{
			ExternalID: int64(a.ID),
			Name:       name,
			ImageURL:   actressImage(a.ImageURL),
		})
	}
	for _, c := range d.Categories {
		if n := c.name(); n != "" {
			m.Categories = append(m.Categories, domain.Category{ExternalID: int64(c.ID), Name: n})
		}
	}
	for _, dr := range d.Directors {
		if n := dr.name(); n != "" {
			m.Directors = append(m.Directors, domain.Director{ExternalID: int64(dr.ID), Name: n})
		}
	}
	for _, g := range d.Gallery {
		thumb := g.ImageThumb
		if thumb == "" {
			thumb = g.Thumb
		}
		if g.ImageFull == "" && thumb == "" {
			continue
		}
		m.Galleries = append(m.Galleries, domain.Gallery{FullURL: g.ImageFull, ThumbURL: thumb})
	}
	return m
}

func actressImage(src string) string {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "http") {
		return src
	}
	return actressImageBase + strings.TrimLeft(src, "/")
}
