package resolve

import (
	"net/url"
	"regexp"
	"strings"
)

// Proxy 把上游流地址包装到直通代理之后：Prefix + 百分号编码(rawURL)。
//
// 约束：
// - 纯函数，相同输入 => 相同输出
// - 编码规则与 URI component 一致（空格 => %20，保留 -_.!~*'()）
// - Prefix 为空时原样返回（只会出现在测试里；worker 启动时 Prefix 为必填配置）
type Proxy struct {
	Prefix string
}

var componentUnescape = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func (p Proxy) Wrap(rawURL string) string {
	if rawURL == "" || p.Prefix == "" {
		return rawURL
	}
	return p.Prefix + componentUnescape.Replace(url.QueryEscape(rawURL))
}

var galleryVariantRE = regexp.MustCompile(`(/video/[^/]+/)([^/]+)-(\d+\.jpg)`)

// RewriteGalleryURL 选择 gallery 的区域变体：.../video/<dir>/<stem>-<n>.jpg => .../video/<dir>/<stem>jp-<n>.jpg。
// 不匹配的输入原样返回。
func RewriteGalleryURL(u string) string {
	return galleryVariantRE.ReplaceAllString(u, "${1}${2}jp-${3}")
}
