package catalog

import (
	"strings"

	"github.com/samber/lo"

	"github.com/John-Robertt/avresolve/internal/domain"
	"github.com/John-Robertt/avresolve/internal/provider"
)

// detailRow 是详情区的一行：第一个 span 为标签，最后一个 span 为值。
type detailRow struct {
	Label string
	Value string
	Link  string   // 第一个 <a> 的文本（maker/label/series 优先使用）
	Links []string // 全部 <a> 的文本（actress 行使用）
}

func (r detailRow) linkOrValue() string {
	if r.Link != "" {
		return r.Link
	}
	return r.Value
}

// FieldRule 声明“哪些标签文本映射到哪个字段”。
//
// 约束：
// - Captions 与标签做大小写不敏感的子串匹配
// - 每行只应用第一条匹配的规则（表的顺序即优先级）
type FieldRule struct {
	Field    string
	Captions []string
	Apply    func(p *parsedPage, row detailRow)
}

// fieldRules 是目录站详情区的字段表。
var fieldRules = []FieldRule{
	{
		Field:    "release_date",
		Captions: []string{"release"},
		Apply:    func(p *parsedPage, r detailRow) { p.meta.ReleaseDate = r.Value },
	},
	{
		Field:    "runtime_mins",
		Captions: []string{"runtime", "duration", "length"},
		Apply: func(p *parsedPage, r detailRow) {
			p.runtime = provider.ParseRuntime(r.Value)
		},
	},
	{
		Field:    "maker",
		Captions: []string{"maker", "studio"},
		Apply:    func(p *parsedPage, r detailRow) { p.meta.Maker = r.linkOrValue() },
	},
	{
		Field:    "label",
		Captions: []string{"label"},
		Apply:    func(p *parsedPage, r detailRow) { p.meta.Label = r.linkOrValue() },
	},
	{
		Field:    "series",
		Captions: []string{"series"},
		Apply: func(p *parsedPage, r detailRow) {
			if name := r.linkOrValue(); name != "" {
				p.meta.Series = &domain.Series{Name: name}
			}
		},
	},
	{
		Field:    "genres",
		Captions: []string{"genre"},
		Apply:    func(p *parsedPage, r detailRow) { p.genres = append(p.genres, splitList(r.Value)...) },
	},
	{
		Field:    "tags",
		Captions: []string{"tag"},
		Apply:    func(p *parsedPage, r detailRow) { p.tags = append(p.tags, splitList(r.Value)...) },
	},
	{
		Field:    "actress",
		Captions: []string{"actress", "cast", "performer"},
		Apply: func(p *parsedPage, r detailRow) {
			names := lo.Filter(r.Links, func(n string, _ int) bool { return n != "" })
			if len(names) == 0 && r.Value != r.Label {
				names = splitList(r.Value)
			}
			p.actresses = append(p.actresses, names...)
		},
	},
}

// matchRule 返回该标签命中的第一条规则。
func matchRule(rules []FieldRule, label string) (FieldRule, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return FieldRule{}, false
	}
	return lo.Find(rules, func(r FieldRule) bool {
		return lo.SomeBy(r.Captions, func(c string) bool {
			return strings.Contains(label, strings.ToLower(c))
		})
	})
}

func splitList(s string) []string {
	return lo.Filter(lo.Map(strings.Split(s, ","), func(x string, _ int) string {
		return normSpace(x)
	}), func(x string, _ int) bool { return x != "" })
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
