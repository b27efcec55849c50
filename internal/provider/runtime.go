package provider

import (
	"math"
	"strconv"
	"strings"

	"github.com/samber/mo"
)

// ParseRuntime 把时长文本转成分钟数。
//
// 规则：
// - "H:MM:SS" / "MM:SS"：每段取开头的数字（"1:30 min" 的第二段为 30），秒数四舍五入到分钟（"45:30" => 46）
// - 其它：去掉非数字字符后按整数解析（"120 min" => 120）
// - 空串、解析不出数字或结果为 0：None
func ParseRuntime(s string) mo.Option[int] {
	s = strings.TrimSpace(s)
	if s == "" {
		return mo.None[int]()
	}
	if strings.Contains(s, ":") {
		if m, ok := clockMinutes(s); ok {
			if m <= 0 {
				return mo.None[int]()
			}
			return mo.Some(m)
		}
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil || n <= 0 {
		return mo.None[int]()
	}
	return mo.Some(n)
}

func clockMinutes(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		nums[i] = leadingInt(p)
	}
	var secs int
	if len(nums) == 3 {
		secs = nums[0]*3600 + nums[1]*60 + nums[2]
	} else {
		secs = nums[0]*60 + nums[1]
	}
	return int(math.Round(float64(secs) / 60)), true
}

// leadingInt 解析去空白后开头的连续数字；没有数字时为 0。
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
