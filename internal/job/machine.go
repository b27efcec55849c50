package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/avresolve/internal/code"
	"github.com/John-Robertt/avresolve/internal/domain"
	"github.com/John-Robertt/avresolve/internal/metrics"
	"github.com/John-Robertt/avresolve/internal/resolve"
)

var ErrEmptyCode = errors.New("code 不能为空")

// Store 是 VideoRecord 的读-改-写入口（以 code 为唯一键）。
type Store interface {
	FindByCode(ctx context.Context, code string) (domain.VideoRecord, bool, error)
	Upsert(ctx context.Context, rec domain.VideoRecord) (domain.VideoRecord, error)
}

// Resolver 由 resolve.Orchestrator 实现。
type Resolver interface {
	Resolve(ctx context.Context, raw string) (resolve.Outcome, error)
}

// Enqueuer 由 queue.RedisQueue 实现。
type Enqueuer interface {
	Enqueue(ctx context.Context, code string) error
}

// Machine 驱动 queued -> processing -> {completed|failed}。
//
// 约束：
// - 进入 processing 时清空 failure_reason
// - 每次落库都是整条覆盖（只保留 EditorChoice 与 CreatedAt），重复 resolve 幂等
// - 同一 CODE 的并发由队列层串行化，Machine 本身不加锁
type Machine struct {
	Store    Store
	Notifier Notifier
	Resolver Resolver
	Enqueuer Enqueuer
	Log      logrus.FieldLogger
	Metrics  *metrics.Collectors

	// StaleAfter>0 时，UpdatedAt 早于该时长的 processing 记录视为遗留作业（worker 中途退出），
	// Submit 会重新入队；通常取队列锁 TTL。
	StaleAfter time.Duration
}

// Submit 是作业入口：规范化 CODE，必要时置为 queued 并入队。
//
// 返回值 enqueued=false 表示已有在途作业，或记录已 completed 且未要求 refresh。
// 遗留的 processing 记录（见 StaleAfter）不算在途。
func (m *Machine) Submit(ctx context.Context, raw string, refresh bool) (domain.VideoRecord, bool, error) {
	id := code.Classify(raw)
	if id.Canonical == "" {
		return domain.VideoRecord{}, false, ErrEmptyCode
	}
	if m.Enqueuer == nil {
		return domain.VideoRecord{}, false, errors.New("enqueuer 未配置")
	}
	log := m.logger().WithField("code", id.Canonical)

	prev, found, err := m.Store.FindByCode(ctx, id.Canonical)
	if err != nil {
		return domain.VideoRecord{}, false, fmt.Errorf("读取记录失败：%w", err)
	}
	if found && prev.Status.Active() {
		if !m.stale(prev) {
			log.WithField("status", prev.Status).Info("job already in flight")
			return prev, false, nil
		}
		log.WithField("updated_at", prev.UpdatedAt).Warn("stale processing job, requeueing")
	}
	if found && prev.Status == domain.StatusCompleted && !refresh {
		return prev, false, nil
	}

	rec := prev
	if !found {
		rec = domain.VideoRecord{Metadata: domain.Metadata{Code: id.Canonical}}
	}
	rec.Status = domain.StatusQueued
	rec.FailureReason = ""
	saved, err := m.Store.Upsert(ctx, rec)
	if err != nil {
		return domain.VideoRecord{}, false, fmt.Errorf("写入记录失败：%w", err)
	}

	if err := m.Enqueuer.Enqueue(ctx, id.Canonical); err != nil {
		saved.Status = domain.StatusFailed
		saved.FailureReason = "enqueue failed: " + err.Error()
		if _, uerr := m.Store.Upsert(ctx, saved); uerr != nil {
			log.WithError(uerr).Warn("persist enqueue failure")
		}
		return saved, false, fmt.Errorf("入队失败：%w", err)
	}

	m.notify(ctx, EventStatusUpdate, StatusPayload{VideoCode: id.Canonical, Status: domain.StatusQueued})
	log.Info("job queued")
	return saved, true, nil
}

// Run 执行一个已出队的作业。
//
// 返回：
// - nil：completed
// - *FailedError：failed（已落库并通知），由队列按 RetryPolicy 决定是否重试
// - 其它 error：存储错误或 ctx 取消，记录状态不可信，队列应重新投递
func (m *Machine) Run(ctx context.Context, raw string) error {
	started := time.Now()
	id := code.Classify(raw)
	if id.Canonical == "" {
		return ErrEmptyCode
	}
	log := m.logger().WithField("code", id.Canonical)

	prev, _, err := m.Store.FindByCode(ctx, id.Canonical)
	if err != nil {
		return fmt.Errorf("读取记录失败：%w", err)
	}
	processing := prev
	processing.Code = id.Canonical
	processing.Status = domain.StatusProcessing
	processing.FailureReason = ""
	if prev, err = m.Store.Upsert(ctx, processing); err != nil {
		return fmt.Errorf("写入记录失败：%w", err)
	}
	m.notify(ctx, EventStatusUpdate, StatusPayload{VideoCode: id.Canonical, Status: domain.StatusProcessing})
	log.Info("job processing")

	out, rerr := m.Resolver.Resolve(ctx, id.Canonical)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	next := domain.VideoRecord{
		Metadata:     out.Metadata,
		EditorChoice: prev.EditorChoice,
		CreatedAt:    prev.CreatedAt,
	}
	next.Code = id.Canonical
	switch {
	case rerr != nil:
		next.Status = domain.StatusFailed
		next.FailureReason = rerr.Error()
	case out.Completed():
		next.Status = domain.StatusCompleted
	default:
		next.Status = domain.StatusFailed
		next.FailureReason = out.FailureReason
	}

	saved, err := m.Store.Upsert(ctx, next)
	if err != nil {
		return fmt.Errorf("写入记录失败：%w", err)
	}
	m.Metrics.ObserveJob(string(saved.Status), time.Since(started))

	if saved.Status == domain.StatusCompleted {
		m.notify(ctx, EventCompleted, CompletedPayload{VideoCode: id.Canonical, Video: saved})
		log.WithField("elapsed", time.Since(started).Round(time.Millisecond)).Info("job completed")
		return nil
	}
	m.notify(ctx, EventFailed, FailedPayload{VideoCode: id.Canonical, Reason: saved.FailureReason})
	log.WithField("reason", saved.FailureReason).Warn("job failed")
	return &FailedError{Code: id.Canonical, Reason: saved.FailureReason}
}

func (m *Machine) stale(rec domain.VideoRecord) bool {
	return m.StaleAfter > 0 &&
		rec.Status == domain.StatusProcessing &&
		time.Since(rec.UpdatedAt) > m.StaleAfter
}

func (m *Machine) notify(ctx context.Context, event string, payload any) {
	if m.Notifier == nil {
		return
	}
	m.Notifier.Notify(ctx, event, payload)
}

func (m *Machine) logger() logrus.FieldLogger {
	if m.Log == nil {
		return logrus.StandardLogger()
	}
	return m.Log
}
