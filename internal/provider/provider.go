package provider

import (
	"context"
	"errors"
	"time"

	"github.com/John-Robertt/avresolve/internal/domain"
)

// MetadataProvider 把“站点变化”限制在 provider 包内部；resolve 只依赖统一接口与稳定的 Metadata。
//
// 约束：
// - Fetch 永远不向外抛错：网络错误、页面不合格、查无此片都折叠进 Result
// - Fetch 自己负责模板探测顺序与 IsUsable 门槛
// - 限速、重试、UA 由 httpx 统一实现
type MetadataProvider interface {
	Name() string
	Fetch(ctx context.Context, id domain.CodeIdentity) Result
}

// Kind 是 Fetch 结果的标签。
type Kind int

const (
	KindFound Kind = iota
	// KindNotFound：正常地“没有可用数据”（查无此片 / 页面未通过 IsUsable）。
	KindNotFound
	// KindFailed：网络或解码错误等非预期失败；调用方与 NotFound 同样处理，只是日志级别不同。
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindFound:
		return "found"
	case KindNotFound:
		return "not_found"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result 是带标签的 Fetch 结果。
type Result struct {
	Kind Kind
	Meta domain.Metadata
	// Pattern 是命中的 URL 模板（目录站才有），交给 StreamLocator 作为 priority。
	Pattern string
	// Err 在 Kind!=KindFound 时非空，Error() 即对用户可见的原因文本。
	Err error
}

func Found(meta domain.Metadata, pattern string) Result {
	return Result{Kind: KindFound, Meta: meta, Pattern: pattern}
}

func NotFound(reason string) Result {
	return Result{Kind: KindNotFound, Err: errors.New(reason)}
}

func Failed(err error) Result {
	if err == nil {
		err = errors.New("unknown provider failure")
	}
	return Result{Kind: KindFailed, Err: err}
}

func (r Result) OK() bool { return r.Kind == KindFound }

// Reason 返回失败原因文本；Found 时为空串。
func (r Result) Reason() string {
	if r.Kind == KindFound || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// TextFetcher 是 fetchText 能力（由 httpx.Fetcher 实现）。
type TextFetcher interface {
	FetchText(ctx context.Context, rawURL string, timeout time.Duration, headers map[string]string) (string, error)
}
