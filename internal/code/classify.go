package code

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/John-Robertt/avresolve/internal/domain"
)

// numeric-suffix 族：可选的 FC2 / FC2-PPV 前缀 + 至少 5 位数字。
// 注意：整串锚定，避免把 "ABC-12345" 这种 standard 番号误判为 FC2。
var numericRE = regexp.MustCompile(`^(?:FC2(?:[-_]?PPV)?[-_]?)?([0-9]{5,})$`)

// Classify 把用户输入的原始番号归类并规范化。
//
// 约束：
// - 没有错误分支：不匹配 numeric-suffix 的输入一律落到 standard
// - 非空校验由调用方负责（Classify("") 返回 Canonical=="" 的 standard）
func Classify(raw string) domain.CodeIdentity {
	cleaned := clean(raw)
	if m := numericRE.FindStringSubmatch(cleaned); m != nil {
		return domain.CodeIdentity{
			Family:    domain.FamilyNumericSuffix,
			Canonical: domain.NumericPrefix + "-" + m[1],
			NumericID: m[1],
		}
	}
	return domain.CodeIdentity{
		Family:    domain.FamilyStandard,
		Canonical: cleaned,
	}
}

func clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
