package code

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/John-Robertt/avresolve/internal/domain"
)

func TestClassify(t *testing.T) {
	Convey("Classify", t, func() {
		Convey("numeric-suffix 的各种写法规范化为同一形态", func() {
			for _, in := range []string{"fc2ppv1234567", "FC2-PPV-1234567", "fc2 ppv 1234567", "FC2_PPV_1234567", " 1234567 ", "FC2-1234567", "fc2 1234567", "fc2_1234567"} {
				got := Classify(in)
				So(got.Family, ShouldEqual, domain.FamilyNumericSuffix)
				So(got.Canonical, ShouldEqual, "FC2-PPV-1234567")
				So(got.NumericID, ShouldEqual, "1234567")
			}
		})

		Convey("standard 番号只做大写与去空白", func() {
			got := Classify(" pppe-356 ")
			So(got.Family, ShouldEqual, domain.FamilyStandard)
			So(got.Canonical, ShouldEqual, "PPPE-356")
			So(got.NumericID, ShouldBeEmpty)
		})

		Convey("带字母段的 5 位数字不是 numeric-suffix", func() {
			got := Classify("ABC-12345")
			So(got.Family, ShouldEqual, domain.FamilyStandard)
			So(got.Canonical, ShouldEqual, "ABC-12345")
		})

		Convey("不足 5 位数字回落到 standard", func() {
			got := Classify("FC2-PPV-1234")
			So(got.Family, ShouldEqual, domain.FamilyStandard)
			So(got.Canonical, ShouldEqual, "FC2-PPV-1234")
		})

		Convey("空输入不报错", func() {
			got := Classify("   ")
			So(got.Family, ShouldEqual, domain.FamilyStandard)
			So(got.Canonical, ShouldBeEmpty)
		})
	})
}
