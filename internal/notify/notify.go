package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	AllChannel    = "avresolve:events"
	ChannelPrefix = "avresolve:events:"
	LastKeyPrefix = "avresolve:last:"

	lastTTL        = 24 * time.Hour
	publishTimeout = 2 * time.Second
)

// Envelope 是发布到频道上的消息体。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Redis 通过 pub/sub 推送作业事件，并保留每个 CODE 的最后一条事件供迟到的订阅方读取。
//
// 约束：
// - 进程内只构造一次，多个 worker 共享（go-redis 客户端自带连接池与重连）
// - 每次发布有独立超时；任何错误只记日志，不影响作业
type Redis struct {
	rdb redis.UniversalClient
	log logrus.FieldLogger
}

func NewRedis(rdb redis.UniversalClient, log logrus.FieldLogger) *Redis {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{rdb: rdb, log: log}
}

func (n *Redis) Notify(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.WithError(err).WithField("event", event).Warn("encode event failed")
		return
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		n.log.WithError(err).WithField("event", event).Warn("encode event failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	code := videoCode(payload)
	pipe := n.rdb.Pipeline()
	pipe.Publish(ctx, AllChannel, msg)
	if code != "" {
		pipe.Publish(ctx, ChannelPrefix+code, msg)
		pipe.Set(ctx, LastKeyPrefix+code, msg, lastTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{"event": event, "code": code}).Debug("publish event dropped")
	}
}

// Last 读取某个 CODE 最近一次的事件；没有时 ok=false。
func (n *Redis) Last(ctx context.Context, code string) (Envelope, bool, error) {
	b, err := n.rdb.Get(ctx, LastKeyPrefix+code).Bytes()
	if err == redis.Nil {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, err
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}

// Subscribe 订阅某个 CODE 的事件（code 为空时订阅全部），ctx 结束时关闭通道。
func (n *Redis) Subscribe(ctx context.Context, code string) <-chan Envelope {
	channel := AllChannel
	if code != "" {
		channel = ChannelPrefix + code
	}
	ps := n.rdb.Subscribe(ctx, channel)
	out := make(chan Envelope)

	go func() {
		defer close(out)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					n.log.WithError(err).Debug("decode event failed")
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Coded 由带 video_code 的事件实现；实现了它的事件会额外发布到按 CODE 区分的频道。
type Coded interface {
	EventCode() string
}

func videoCode(payload any) string {
	if c, ok := payload.(Coded); ok {
		return c.EventCode()
	}
	return ""
}

// Log 把事件写进日志（单次 resolve 时使用）。
type Log struct {
	Log logrus.FieldLogger
}

func (n Log) Notify(_ context.Context, event string, payload any) {
	log := n.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{"event": event, "code": videoCode(payload)}).Info("job event")
}
