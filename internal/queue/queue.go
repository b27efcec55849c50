package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/avresolve/internal/job"
)

const (
	DefaultStream     = "avresolve:jobs"
	DefaultGroup      = "avresolve-workers"
	DefaultDelayedKey = "avresolve:jobs:delayed"
	DefaultLockPrefix = "avresolve:lock:"

	defaultBlock        = 5 * time.Second
	defaultPromoteEvery = time.Second
	defaultLockTTL      = 10 * time.Minute
	defaultReclaimEvery = 30 * time.Second
	pendingBatch        = 100
	promoteBatch        = 100
)

// Message 是一条作业消息（以 JSON 放在 stream 的 data 字段里）。
type Message struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler 处理一个作业；返回 nil 表示成功。
type Handler func(ctx context.Context, code string) error

type Options struct {
	Stream string
	Group  string
	// Consumer 为空时取主机名；重启后沿用同一名字才能立即认领自己遗留的消息。
	Consumer   string
	DelayedKey string
	LockPrefix string
	LockTTL    time.Duration
	Retry      job.RetryPolicy
	// Block 是 XREADGROUP 的阻塞时长。
	Block time.Duration
	// PromoteEvery 是延迟集合的扫描间隔。
	PromoteEvery time.Duration
	// ReclaimEvery 是扫描 PEL 中超时消息（空闲超过 LockTTL）的间隔。
	ReclaimEvery time.Duration
}

// RedisQueue 基于 Redis Streams 的作业队列。
//
// 约束：
// - 每条消息最终只交给一个 Handler 调用（consumer group 语义）
// - 同一 CODE 同时最多一个作业在跑：SET NX PX 锁，拿不到锁的消息按基础退避延后重投
// - 失败按 RetryPolicy 写入延迟 ZSET，由 promoter 到期后重新 XADD
// - 消息在处理完成或完成重排后才 XACK；进程中途退出的消息留在 PEL：
//   同名 consumer 重启时立即认领，其余的在空闲超过 LockTTL 后由任一 worker 重新投递
type RedisQueue struct {
	rdb  redis.UniversalClient
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time
}

func New(rdb redis.UniversalClient, opts Options, log logrus.FieldLogger) *RedisQueue {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.DelayedKey == "" {
		opts.DelayedKey = DefaultDelayedKey
	}
	if opts.LockPrefix == "" {
		opts.LockPrefix = DefaultLockPrefix
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = job.DefaultRetryPolicy()
	}
	if opts.Block <= 0 {
		opts.Block = defaultBlock
	}
	if opts.PromoteEvery <= 0 {
		opts.PromoteEvery = defaultPromoteEvery
	}
	if opts.ReclaimEvery <= 0 {
		opts.ReclaimEvery = defaultReclaimEvery
	}
	if opts.Consumer == "" {
		opts.Consumer = defaultConsumer()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisQueue{rdb: rdb, opts: opts, log: log.WithField("consumer", opts.Consumer), now: time.Now}
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

// Init 创建 stream 与 consumer group（已存在则忽略）。
func (q *RedisQueue) Init(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("创建 consumer group 失败：%w", err)
	}
	return nil
}

// Enqueue 追加一个首次尝试的作业。
func (q *RedisQueue) Enqueue(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("code 不能为空")
	}
	msg := Message{ID: uuid.NewString(), Code: code, Attempt: 1, EnqueuedAt: q.now().UTC()}
	if err := q.add(ctx, msg); err != nil {
		return err
	}
	q.log.WithFields(logrus.Fields{"code": code, "job_id": msg.ID}).Info("job enqueued")
	return nil
}

func (q *RedisQueue) add(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化作业失败：%w", err)
	}
	values := map[string]any{
		"id":          msg.ID,
		"code":        msg.Code,
		"attempt":     msg.Attempt,
		"data":        string(data),
		"enqueued_at": msg.EnqueuedAt.Unix(),
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.opts.Stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("写入 stream 失败：%w", err)
	}
	return nil
}

// schedule 把消息放进延迟集合，delay 之后由 PromoteDue 重新投递。
func (q *RedisQueue) schedule(ctx context.Context, msg Message, delay time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	due := q.now().Add(delay).UnixMilli()
	return q.rdb.ZAdd(ctx, q.opts.DelayedKey, redis.Z{Score: float64(due), Member: string(data)}).Err()
}

// PromoteDue 把到期的延迟作业移回 stream，返回移动条数。
// 多个 worker 并发调用时由 ZREM 的返回值决定归属，不会重复投递。
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	upper := strconv.FormatInt(q.now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.opts.DelayedKey, &redis.ZRangeBy{Min: "-inf", Max: upper, Count: promoteBatch}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, m := range members {
		n, err := q.rdb.ZRem(ctx, q.opts.DelayedKey, m).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(m), &msg); err != nil {
			q.log.WithError(err).Warn("drop malformed delayed job")
			continue
		}
		if err := q.add(ctx, msg); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Consume 阻塞消费直到 ctx 结束；workers 为并发上限。
// ctx 结束属于正常退出，返回 nil。
func (q *RedisQueue) Consume(ctx context.Context, workers int, h Handler) error {
	if h == nil {
		return errors.New("handler 不能为空")
	}
	if workers <= 0 {
		workers = 1
	}
	if err := q.Init(ctx); err != nil {
		return err
	}

	jobs := make(chan redis.XMessage)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				q.process(ctx, m, h)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.promoteLoop(ctx)
	}()

	dispatch := func(msgs []redis.XMessage) bool {
		for _, m := range msgs {
			select {
			case jobs <- m:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	if pending, err := q.claimPending(ctx); err != nil {
		q.log.WithError(err).Warn("claim pending jobs failed")
	} else if len(pending) > 0 {
		q.log.WithField("count", len(pending)).Info("reclaimed pending jobs")
		dispatch(pending)
	}

	for ctx.Err() == nil {
		msgs, err := q.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			q.log.WithError(err).Warn("read stream failed")
			sleepCtx(ctx, 2*time.Second)
			continue
		}
		if !dispatch(msgs) {
			break
		}
	}

	close(jobs)
	wg.Wait()
	return nil
}

func (q *RedisQueue) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    1,
		Block:    q.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// claimPending 在启动时认领上次运行遗留的消息：本 consumer 名下的，或空闲超过锁 TTL 的。
func (q *RedisQueue) claimPending(ctx context.Context) ([]redis.XMessage, error) {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.opts.Stream,
		Group:  q.opts.Group,
		Start:  "-",
		End:    "+",
		Count:  pendingBatch,
	}).Result()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range pending {
		if p.Consumer == q.opts.Consumer || p.Idle >= q.opts.LockTTL {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return q.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  0,
		Messages: ids,
	}).Result()
}

// ReclaimStale 把 PEL 中空闲超过 LockTTL 的消息（持有者已退出或卡死）重新追加到 stream 并 ack 旧条目，
// 返回重新投递的条数。XAUTOCLAIM 保证多个 worker 并发调用时每条只被一个认领。
func (q *RedisQueue) ReclaimStale(ctx context.Context) (int, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  q.opts.LockTTL,
		Start:    "0-0",
		Count:    pendingBatch,
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, xm := range msgs {
		msg, err := parseMessage(xm.Values)
		if err != nil {
			q.log.WithError(err).WithField("message_id", xm.ID).Warn("drop malformed job")
			q.ack(ctx, xm.ID)
			continue
		}
		if err := q.add(ctx, msg); err != nil {
			return moved, err
		}
		q.ack(ctx, xm.ID)
		moved++
	}
	return moved, nil
}

func (q *RedisQueue) promoteLoop(ctx context.Context) {
	t := time.NewTicker(q.opts.PromoteEvery)
	defer t.Stop()
	reclaim := time.NewTicker(q.opts.ReclaimEvery)
	defer reclaim.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaim.C:
			if n, err := q.ReclaimStale(ctx); err != nil {
				if ctx.Err() == nil {
					q.log.WithError(err).Warn("reclaim stale jobs failed")
				}
			} else if n > 0 {
				q.log.WithField("count", n).Info("stale jobs requeued")
			}
		case <-t.C:
			if n, err := q.PromoteDue(ctx); err != nil {
				if ctx.Err() == nil {
					q.log.WithError(err).Warn("promote delayed jobs failed")
				}
			} else if n > 0 {
				q.log.WithField("count", n).Debug("delayed jobs promoted")
			}
		}
	}
}

func (q *RedisQueue) process(ctx context.Context, xm redis.XMessage, h Handler) {
	msg, err := parseMessage(xm.Values)
	if err != nil {
		q.log.WithError(err).WithField("message_id", xm.ID).Warn("drop malformed job")
		q.ack(ctx, xm.ID)
		return
	}
	log := q.log.WithFields(logrus.Fields{"code": msg.Code, "job_id": msg.ID, "attempt": msg.Attempt})

	unlock, ok, err := q.lock(ctx, msg)
	if err != nil {
		log.WithError(err).Warn("acquire job lock failed")
		return
	}
	if !ok {
		log.Info("code locked by another job, rescheduling")
		if err := q.schedule(ctx, msg, q.opts.Retry.Base); err != nil {
			log.WithError(err).Warn("reschedule locked job failed")
			return
		}
		q.ack(ctx, xm.ID)
		return
	}

	herr := h(ctx, msg.Code)
	unlock()

	if herr == nil {
		q.ack(ctx, xm.ID)
		return
	}
	if ctx.Err() != nil {
		// 留在 PEL，由重启后的 claimPending 或 ReclaimStale 接手。
		return
	}

	delay, retry := q.opts.Retry.Next(msg.Attempt)
	if !retry {
		log.WithError(herr).Warn("job exhausted retries")
		q.ack(ctx, xm.ID)
		return
	}
	next := msg
	next.Attempt++
	if err := q.schedule(ctx, next, delay); err != nil {
		log.WithError(err).Warn("schedule retry failed")
		return
	}
	log.WithError(herr).WithField("delay", delay).Info("job retry scheduled")
	q.ack(ctx, xm.ID)
}

var unlockScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`)

func (q *RedisQueue) lock(ctx context.Context, msg Message) (func(), bool, error) {
	key := q.opts.LockPrefix + msg.Code
	ok, err := q.rdb.SetNX(ctx, key, msg.ID, q.opts.LockTTL).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	unlock := func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(uctx, q.rdb, []string{key}, msg.ID).Err(); err != nil && !errors.Is(err, redis.Nil) {
			q.log.WithError(err).WithField("code", msg.Code).Warn("release job lock failed")
		}
	}
	return unlock, true, nil
}

func (q *RedisQueue) ack(ctx context.Context, id string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := q.rdb.XAck(actx, q.opts.Stream, q.opts.Group, id).Err(); err != nil {
		q.log.WithError(err).WithField("message_id", id).Warn("ack failed")
	}
}

func parseMessage(values map[string]any) (Message, error) {
	data, ok := values["data"].(string)
	if !ok {
		return Message{}, errors.New("缺少 data 字段")
	}
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return Message{}, fmt.Errorf("解析作业失败：%w", err)
	}
	if strings.TrimSpace(msg.Code) == "" {
		return Message{}, errors.New("作业缺少 code")
	}
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	return msg, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
