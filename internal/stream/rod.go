package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/avresolve/internal/infra/httpx"
)

// requestIdle 是判定网络空闲所需的无请求时长（对应 networkidle 的 500ms 窗口）。
const requestIdle = 500 * time.Millisecond

// RodCapturer 用无头 Chromium 实现 Capturer：监听 Network.requestWillBeSent。
//
// 约束：
// - 浏览器进程按需启动、进程内复用；每次 Capture 使用独立 incognito 上下文
// - ControlURL 非空时连接远端 devtools，不在本地启动
// - 并发安全（每次 Capture 独立页面）
type RodCapturer struct {
	ControlURL string
	Bin        string
	Headless   bool
	NavTimeout time.Duration
	Log        logrus.FieldLogger

	mu      sync.Mutex
	browser *rod.Browser
}

func (c *RodCapturer) Capture(ctx context.Context, pageURL string, settle time.Duration) ([]string, error) {
	b, err := c.connect()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inc, err := b.Incognito()
	if err != nil {
		return nil, err
	}
	defer func() { _ = inc.Close() }()

	page, err := inc.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	page = page.Context(ctx)
	defer func() { _ = page.Close() }()

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, err
	}
	_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: httpx.RandomUserAgent()})

	var (
		seenMu sync.Mutex
		seen   []string
	)
	wait := page.EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		if e.Request == nil {
			return
		}
		seenMu.Lock()
		seen = append(seen, e.Request.URL)
		seenMu.Unlock()
	})
	go wait()

	// 导航、load 与网络空闲共用 navTimeout；长连接让空闲等不到时由超时兜底。
	nav := page.Timeout(c.navTimeout())
	waitIdle := nav.WaitRequestIdle(requestIdle, nil, nil, nil)
	navErr := nav.Navigate(pageURL)
	if navErr == nil {
		navErr = nav.WaitLoad()
	}
	if navErr == nil {
		waitIdle()
	}
	nav.CancelTimeout()
	if navErr != nil {
		logger(c.Log).WithError(navErr).WithField("url", pageURL).Debug("navigation incomplete, still observing")
	}

	// settle 窗口从网络空闲后开始：脚本通常在此之后才注入播放器请求。
	t := time.NewTimer(settle)
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	t.Stop()

	seenMu.Lock()
	out := append([]string(nil), seen...)
	seenMu.Unlock()

	if len(out) == 0 && navErr != nil {
		return nil, navErr
	}
	return out, nil
}

func (c *RodCapturer) connect() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}

	u := strings.TrimSpace(c.ControlURL)
	if u == "" {
		l := launcher.New().Headless(c.Headless).NoSandbox(true)
		if bin := strings.TrimSpace(c.Bin); bin != "" {
			l = l.Bin(bin)
		}
		var err error
		u, err = l.Launch()
		if err != nil {
			return nil, err
		}
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	c.browser = b
	return b, nil
}

// Close 关闭浏览器进程（worker 退出时调用）。
func (c *RodCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *RodCapturer) navTimeout() time.Duration {
	if c.NavTimeout <= 0 {
		return DefaultNavTimeout
	}
	return c.NavTimeout
}
