package provider

import (
	"strings"

	"github.com/samber/mo"
)

var placeholderMarkers = []string{"logo", "favicon", "default"}

// Usability 是 IsUsable 判定所需的最小字段集合。
type Usability struct {
	PosterURL   string
	Title       string
	HasDetails  bool
	ReleaseDate string
	Runtime     mo.Option[int]
	Categories  int
}

// IsUsable 判断一个页面/模板的结果是否“足够完整”可被接受。
//
// 规则：非占位海报 + 非空标题 + 至少满足其一：有详情区 / 发行日期 / 时长 / 分类。
func IsUsable(u Usability) bool {
	if IsPlaceholderImage(u.PosterURL) {
		return false
	}
	if strings.TrimSpace(u.Title) == "" {
		return false
	}
	return u.HasDetails ||
		strings.TrimSpace(u.ReleaseDate) != "" ||
		u.Runtime.IsPresent() ||
		u.Categories > 0
}

// IsPlaceholderImage 报告海报 URL 为空或是站点占位图。
func IsPlaceholderImage(src string) bool {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		return true
	}
	for _, m := range placeholderMarkers {
		if strings.Contains(src, m) {
			return true
		}
	}
	return false
}
