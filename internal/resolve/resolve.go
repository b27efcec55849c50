package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/avresolve/internal/code"
	"github.com/John-Robertt/avresolve/internal/domain"
	"github.com/John-Robertt/avresolve/internal/metrics"
	"github.com/John-Robertt/avresolve/internal/provider"
)

// 对外可见的失败原因（会落库并展示给用户）。
const (
	ReasonStreamNotFound         = "Stream not found"
	ReasonStreamNotFoundAnywhere = "Stream not found on any provider"

	bothFailedFormat = "Both r18.dev and 123av failed: %s"
)

// Provider 名（与 Registry 中注册的一致）。
const (
	PrimaryName  = "r18dev"
	CatalogAName = "123av-fc2"
	CatalogBName = "123av"
)

var ErrEmptyCode = errors.New("code 不能为空")

// StreamLocator 由 stream.Locator 实现。
type StreamLocator interface {
	Locate(ctx context.Context, id domain.CodeIdentity, priority string) mo.Option[string]
}

// Outcome 是一次 resolve 的结果。
// StreamURL 为空 <=> FailureReason 非空。
type Outcome struct {
	Identity      domain.CodeIdentity
	Metadata      domain.Metadata
	StreamURL     string
	FailureReason string
	Attempts      []provider.Attempt
}

func (o Outcome) Completed() bool { return o.StreamURL != "" }

// Orchestrator 串起 CodeNormalizer / providers / StreamLocator。
//
// 约束：
// - 单个 job 内严格串行，不并发竞速
// - standard 族：Primary 成功 => 独立定位流（不带 priority）；Primary 失败 => CatalogB（带命中模板定位流）
// - 两者都失败时保留 Primary 的原因作为诊断
// - 只要拿到过元数据，失败时也保留在 Outcome 里
// - 无共享可变状态，可并发调用（不同 CODE）
type Orchestrator struct {
	Primary  provider.MetadataProvider
	CatalogA provider.MetadataProvider
	CatalogB provider.MetadataProvider
	Streams  StreamLocator
	Proxy    Proxy
	Log      logrus.FieldLogger
	Metrics  *metrics.Collectors
}

// FromRegistry 按固定名字从注册表取出三个 provider。
func FromRegistry(reg provider.Registry, streams StreamLocator, proxy Proxy, log logrus.FieldLogger, m *metrics.Collectors) (*Orchestrator, error) {
	ps, err := reg.Lookup(PrimaryName, CatalogAName, CatalogBName)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Primary:  ps[0],
		CatalogA: ps[1],
		CatalogB: ps[2],
		Streams:  streams,
		Proxy:    proxy,
		Log:      log,
		Metrics:  m,
	}, nil
}

// Resolve 只在输入为空或 ctx 被取消时返回 error；其余失败都体现在 Outcome.FailureReason。
func (o *Orchestrator) Resolve(ctx context.Context, raw string) (Outcome, error) {
	id := code.Classify(raw)
	if id.Canonical == "" {
		return Outcome{}, ErrEmptyCode
	}
	out := Outcome{Identity: id}
	log := o.logger().WithFields(logrus.Fields{"code": id.Canonical, "family": id.Family})

	if id.IsNumeric() {
		o.resolveNumeric(ctx, log, &out)
	} else {
		o.resolveStandard(ctx, log, &out)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	out.Metadata.Code = id.Canonical
	if out.Metadata.ThumbnailURL == "" {
		out.Metadata.ThumbnailURL = out.Metadata.PosterURL
	}
	out.Metadata.StreamURL = out.StreamURL
	if out.StreamURL != "" {
		out.FailureReason = ""
	}

	if out.Completed() {
		log.Info("resolve completed")
	} else {
		log.WithField("reason", out.FailureReason).Warn("resolve failed")
	}
	return out, nil
}

func (o *Orchestrator) resolveNumeric(ctx context.Context, log logrus.FieldLogger, out *Outcome) {
	res := o.try(ctx, log, o.CatalogA, out)
	if !res.OK() {
		out.FailureReason = res.Reason()
		return
	}
	out.Metadata = res.Meta
	o.attachStream(ctx, log, out, res.Pattern, ReasonStreamNotFound)
}

func (o *Orchestrator) resolveStandard(ctx context.Context, log logrus.FieldLogger, out *Outcome) {
	primary := o.try(ctx, log, o.Primary, out)
	if primary.OK() {
		out.Metadata = primary.Meta
		out.Metadata.Galleries = lo.Map(primary.Meta.Galleries, func(g domain.Gallery, _ int) domain.Gallery {
			// 只改大图；缩略图保持原样（改写后会指向大图资源）。
			return domain.Gallery{FullURL: RewriteGalleryURL(g.FullURL), ThumbURL: g.ThumbURL}
		})
		o.attachStream(ctx, log, out, "", ReasonStreamNotFoundAnywhere)
		return
	}

	fallback := o.try(ctx, log, o.CatalogB, out)
	if !fallback.OK() {
		out.FailureReason = fmt.Sprintf(bothFailedFormat, primary.Reason())
		return
	}
	out.Metadata = fallback.Meta
	o.attachStream(ctx, log, out, fallback.Pattern, ReasonStreamNotFound)
}

func (o *Orchestrator) try(ctx context.Context, log logrus.FieldLogger, p provider.MetadataProvider, out *Outcome) provider.Result {
	if p == nil {
		return provider.Failed(errors.New("provider 未配置"))
	}
	res, at := provider.Try(ctx, p, out.Identity)
	out.Attempts = append(out.Attempts, at)
	o.Metrics.ObserveProvider(at.Provider, res.Kind.String())

	entry := log.WithFields(logrus.Fields{"provider": at.Provider, "stage": at.Stage})
	switch res.Kind {
	case provider.KindFound:
		entry.WithField("template", res.Pattern).Debug("provider found")
	case provider.KindNotFound:
		entry.WithField("reason", res.Reason()).Debug("provider not found")
	default:
		entry.WithError(at.Err).Warn("provider failed")
	}
	return res
}

func (o *Orchestrator) attachStream(ctx context.Context, log logrus.FieldLogger, out *Outcome, priority, missReason string) {
	found := mo.None[string]()
	if o.Streams != nil && ctx.Err() == nil {
		found = o.Streams.Locate(ctx, out.Identity, priority)
	}
	o.Metrics.ObserveStream(found.IsPresent())

	raw, ok := found.Get()
	if !ok {
		out.FailureReason = missReason
		return
	}
	log.WithField("manifest", raw).Debug("stream located")
	out.StreamURL = o.Proxy.Wrap(raw)
}

func (o *Orchestrator) logger() logrus.FieldLogger {
	if o.Log == nil {
		return logrus.StandardLogger()
	}
	return o.Log
}
