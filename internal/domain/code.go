package domain

import "strings"

// Family 是番号的“形态族”，决定 resolve 走哪条 provider 链。
type Family string

const (
	// FamilyStandard 是 LETTERS-DIGITS 形态（例如 PPPE-356）。
	FamilyStandard Family = "standard"
	// FamilyNumericSuffix 是纯数字 id 形态（FC2-PPV-<digits>）。
	FamilyNumericSuffix Family = "numeric_suffix"
)

// NumericPrefix 是 numeric-suffix 族的规范前缀。
const NumericPrefix = "FC2-PPV"

// CodeIdentity 是一次分类的结果（瞬时值，不落库）。
//
// 约束：
// - Canonical 永远是大写、无空白
// - NumericID 仅在 Family==FamilyNumericSuffix 时非空
type CodeIdentity struct {
	Family    Family
	Canonical string
	NumericID string
}

// IsNumeric 报告该 CODE 是否属于 numeric-suffix 族。
func (c CodeIdentity) IsNumeric() bool { return c.Family == FamilyNumericSuffix }

// Slug 返回目录站 / 流媒体站 URL 中使用的小写路径段。
func (c CodeIdentity) Slug() string {
	if c.IsNumeric() {
		return "fc2-ppv-" + c.NumericID
	}
	return strings.ToLower(c.Canonical)
}
