package job

import (
	"context"

	"github.com/John-Robertt/avresolve/internal/domain"
)

// 推送给订阅方的事件名。
const (
	EventStatusUpdate = "status-update"
	EventCompleted    = "job-completed"
	EventFailed       = "job-failed"
)

type StatusPayload struct {
	VideoCode string        `json:"video_code"`
	Status    domain.Status `json:"status"`
}

type CompletedPayload struct {
	VideoCode string             `json:"video_code"`
	Video     domain.VideoRecord `json:"video"`
}

type FailedPayload struct {
	VideoCode string `json:"video_code"`
	Reason    string `json:"reason"`
}

// Notifier 是实时通知出口。
//
// 约束：
// - fire-and-forget：实现不得阻塞作业，也不得向外报错（投递失败直接丢弃）
// - 实现必须并发安全（多个 worker 共用同一个实例）
type Notifier interface {
	Notify(ctx context.Context, event string, payload any)
}

func (p StatusPayload) EventCode() string    { return p.VideoCode }
func (p CompletedPayload) EventCode() string { return p.VideoCode }
func (p FailedPayload) EventCode() string    { return p.VideoCode }
