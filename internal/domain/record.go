package domain

import (
	"fmt"
	"time"
)

// Status 是 VideoRecord 的作业状态。
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus 校验落库/消息中读到的状态字符串。
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Active 报告该状态是否仍有作业在途（queued/processing）。
func (s Status) Active() bool { return s == StatusQueued || s == StatusProcessing }

// VideoRecord 是唯一的持久化实体，以 Code 为主键。
//
// 约束：
// - Code 创建后不可变
// - FailureReason 仅在 Status==StatusFailed 时非空
// - EditorChoice 与作业流程无关，resolve 不得改写
type VideoRecord struct {
	Metadata

	Status        Status `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	EditorChoice  bool   `json:"editor_choice"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate 检查状态与失败原因的一致性。
func (r VideoRecord) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("video_code 不能为空")
	}
	if _, err := ParseStatus(string(r.Status)); err != nil {
		return err
	}
	if r.Status != StatusFailed && r.FailureReason != "" {
		return fmt.Errorf("status=%s 时 failure_reason 必须为空", r.Status)
	}
	return nil
}
