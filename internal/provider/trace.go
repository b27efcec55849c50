package provider

import (
	"context"
	"fmt"

	"github.com/John-Robertt/avresolve/internal/domain"
)

// Attempt 记录一次 provider 尝试（用于解释 fallback/降级原因）。
// 注意：这是内部执行轨迹，不直接写入记录（由上层决定如何呈现）。
type Attempt struct {
	Provider string // provider name（小写）
	Stage    string // "ok" / "not_found" / "fetch"
	Pattern  string // 命中的模板（仅 Stage=="ok" 且来源是目录站）
	Err      error  // nil when Stage=="ok"
}

const (
	StageOK       = "ok"
	StageNotFound = "not_found"
	StageFetch    = "fetch"
)

// Error 是 provider 阶段的可追溯错误。
type Error struct {
	Provider string
	Stage    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Try 调用一次 p.Fetch，并把结果折叠为一条 Attempt。
// ctx 已取消时直接返回 Failed，不再发起请求。
func Try(ctx context.Context, p MetadataProvider, id domain.CodeIdentity) (Result, Attempt) {
	name := p.Name()
	if err := ctx.Err(); err != nil {
		return Failed(err), Attempt{Provider: name, Stage: StageFetch, Err: err}
	}

	res := p.Fetch(ctx, id)
	switch res.Kind {
	case KindFound:
		return res, Attempt{Provider: name, Stage: StageOK, Pattern: res.Pattern}
	case KindNotFound:
		return res, Attempt{Provider: name, Stage: StageNotFound, Err: res.Err}
	default:
		return res, Attempt{Provider: name, Stage: StageFetch, Err: &Error{Provider: name, Stage: StageFetch, Err: res.Err}}
	}
}
