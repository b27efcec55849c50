package stream

import (
	"bufio"
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const streamInfTag = "#EXT-X-STREAM-INF"

// manifestTimeout 是单次拉取 master playlist 的上限。
const manifestTimeout = 15 * time.Second

// TextFetcher 是 fetchText 能力（由 httpx.Fetcher 实现）。
type TextFetcher interface {
	FetchText(ctx context.Context, rawURL string, timeout time.Duration, headers map[string]string) (string, error)
}

// Variant 是 master playlist 中的一个码率档位（只在解析期间存在）。
type Variant struct {
	URL       string // 原样保留（可能是相对路径）
	Bandwidth int64  // bits/sec；缺失或不可解析时为 0
}

// ParseVariants 按出现顺序收集 (url, bandwidth)。
//
// 约束：
// - 只认 #EXT-X-STREAM-INF 行，其后的第一条非注释、非空行是该档位的 URL
// - 连续两条 STREAM-INF 之间没有 URL 时，前一条丢弃
func ParseVariants(manifest string) []Variant {
	var (
		out     []Variant
		pending *int64
	)
	sc := bufio.NewScanner(strings.NewReader(manifest))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, streamInfTag) {
			bw := bandwidthOf(line)
			pending = &bw
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if pending != nil {
			out = append(out, Variant{URL: line, Bandwidth: *pending})
			pending = nil
		}
	}
	return out
}

// bandwidthOf 从 STREAM-INF 的属性列表中取 BANDWIDTH。
// 属性列表可能含引号包裹的逗号（CODECS="avc1,mp4a"），并且 AVERAGE-BANDWIDTH 不能被误认。
func bandwidthOf(line string) int64 {
	_, attrs, ok := strings.Cut(line, ":")
	if !ok {
		return 0
	}
	for _, kv := range splitAttrs(attrs) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) != "BANDWIDTH" {
			continue
		}
		n, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(v), `"`), 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}

func splitAttrs(s string) []string {
	var (
		out     []string
		inQuote bool
		start   int
	)
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// SelectBestVariant 返回码率最高档位的绝对 URL。
//
// 约束：
// - 只在严格更大时替换（并列时保留先出现的）
// - 没有任何档位或无法解析时原样返回 manifestURL
func SelectBestVariant(manifest, manifestURL string) string {
	vs := ParseVariants(manifest)
	if len(vs) == 0 {
		return manifestURL
	}
	best := vs[0]
	for _, v := range vs[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	abs, ok := resolveAgainst(manifestURL, best.URL)
	if !ok {
		return manifestURL
	}
	return abs
}

func resolveAgainst(base, ref string) (string, bool) {
	bu, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	out := bu.ResolveReference(ru)
	if !out.IsAbs() {
		return "", false
	}
	return out.String(), true
}

// ManifestSelector 拉取 master playlist 并选出最高码率档位。
type ManifestSelector struct {
	Fetcher TextFetcher
	Log     logrus.FieldLogger
}

// Best 拉取失败时降级为返回 manifestURL 本身（不是错误）。
func (s ManifestSelector) Best(ctx context.Context, manifestURL string) string {
	if s.Fetcher == nil {
		return manifestURL
	}
	body, err := s.Fetcher.FetchText(ctx, manifestURL, manifestTimeout, nil)
	if err != nil {
		logger(s.Log).WithError(err).WithField("url", manifestURL).Warn("manifest fetch failed, keeping master url")
		return manifestURL
	}
	return SelectBestVariant(body, manifestURL)
}

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
