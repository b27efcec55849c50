package job

import (
	"errors"
	"fmt"
	"time"
)

// FailedError 表示作业以 failed 结束；队列据此决定是否重试。
type FailedError struct {
	Code   string
	Reason string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.Code, e.Reason)
}

// IsFailed 报告 err 是否为作业失败（而不是存储/连接等基础设施错误）。
func IsFailed(err error) bool {
	var fe *FailedError
	return errors.As(err, &fe)
}

// RetryPolicy：最多 Attempts 次，指数退避 Base, 2*Base, 4*Base...
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 5 * time.Second}
}

// Delay 返回第 n 次尝试失败后、下一次尝试前的等待（n 从 1 开始）。
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

// Next 报告第 attempt 次尝试失败后是否还应重试，以及等待多久。
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt >= p.Attempts {
		return 0, false
	}
	return p.Delay(attempt), true
}
