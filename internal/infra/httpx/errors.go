package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrBodyTooLarge 表示响应体超过单页读取上限。
var ErrBodyTooLarge = errors.New("响应体过大")

// StatusError 表示站点返回了 2xx/3xx 以外的 HTTP 状态码。
type StatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// IsNotFound 报告 err 是否为 404/410（目录站“没有这个模板”的常见信号）。
func IsNotFound(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone
	}
	return false
}

// BlockedError 表示请求被站点引导到了“验证/拦截”页面（通常意味着需要浏览器执行 JS 或人工验证）。
// 产品约束：不尝试绕过，直接视为该候选失败，让上层走下一个模板或 provider。
type BlockedError struct {
	URL    string
	Reason string // 例如 "cloudflare"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return "blocked"
	}
	return "blocked: " + strings.TrimSpace(e.Reason)
}

var cfResponseHeaders = []string{"CF-RAY", "CF-Mitigated", "CF-Chl-Bypass"}

var challengeMarkers = []string{
	"cf-browser-verification",
	"challenge-platform",
	"cf_chl_opt",
	"<title>just a moment...</title>",
}

// detectChallenge 判断响应是否是 Cloudflare 挑战页：必须同时满足“CF 响应头”与“挑战页标记”。
// 仅有 CF-RAY 的正常页面很常见，不能单凭响应头判定。
func detectChallenge(resp *http.Response, body []byte) bool {
	fromCF := strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare")
	for _, h := range cfResponseHeaders {
		if resp.Header.Get(h) != "" {
			fromCF = true
			break
		}
	}
	if !fromCF {
		return false
	}
	if strings.EqualFold(resp.Header.Get("CF-Mitigated"), "challenge") {
		return true
	}
	head := body
	if len(head) > 8192 {
		head = head[:8192]
	}
	lower := strings.ToLower(string(head))
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
