package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/avresolve/internal/domain"
	"github.com/John-Robertt/avresolve/internal/resolve"
	"github.com/John-Robertt/avresolve/internal/store/memstore"
)

type event struct {
	name    string
	payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) Notify(_ context.Context, name string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{name: name, payload: payload})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.name)
	}
	return out
}

type stubResolver struct {
	out   resolve.Outcome
	err   error
	calls int
}

func (r *stubResolver) Resolve(context.Context, string) (resolve.Outcome, error) {
	r.calls++
	return r.out, r.err
}

type stubEnqueuer struct {
	codes []string
	err   error
}

func (e *stubEnqueuer) Enqueue(_ context.Context, code string) error {
	if e.err != nil {
		return e.err
	}
	e.codes = append(e.codes, code)
	return nil
}

func completedOutcome() resolve.Outcome {
	rt := 120
	return resolve.Outcome{
		Identity:  domain.CodeIdentity{Family: domain.FamilyStandard, Canonical: "PPPE-356"},
		StreamURL: "https://proxy.test/?url=x",
		Metadata: domain.Metadata{
			Code:           "PPPE-356",
			Title:          "Sample",
			StreamURL:      "https://proxy.test/?url=x",
			RuntimeMinutes: &rt,
			Categories:     []domain.Category{{ExternalID: 1, Name: "Drama"}},
		},
	}
}

func newMachine(res *stubResolver) (*Machine, *memstore.Store, *recordingNotifier, *stubEnqueuer) {
	st := memstore.New()
	n := &recordingNotifier{}
	q := &stubEnqueuer{}
	return &Machine{Store: st, Notifier: n, Resolver: res, Enqueuer: q}, st, n, q
}

func TestRun_Completed(t *testing.T) {
	m, st, n, _ := newMachine(&stubResolver{out: completedOutcome()})

	if err := m.Run(context.Background(), "pppe-356"); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	rec, ok, _ := st.FindByCode(context.Background(), "PPPE-356")
	if !ok || rec.Status != domain.StatusCompleted || rec.FailureReason != "" {
		t.Fatalf("期望 completed，实际 %+v", rec)
	}
	if rec.StreamURL == "" || rec.Title != "Sample" {
		t.Fatalf("应整条写入元数据：%+v", rec)
	}
	names := n.names()
	if len(names) != 2 || names[0] != EventStatusUpdate || names[1] != EventCompleted {
		t.Fatalf("事件序列不符合预期：%v", names)
	}
	if p, ok := n.events[1].payload.(CompletedPayload); !ok || p.Video.Code != "PPPE-356" {
		t.Fatalf("completed 事件应携带完整记录：%+v", n.events[1].payload)
	}
}

func TestRun_FailedKeepsMetadata(t *testing.T) {
	out := completedOutcome()
	out.StreamURL = ""
	out.Metadata.StreamURL = ""
	out.FailureReason = resolve.ReasonStreamNotFoundAnywhere
	m, st, n, _ := newMachine(&stubResolver{out: out})

	err := m.Run(context.Background(), "PPPE-356")
	var fe *FailedError
	if !errors.As(err, &fe) || fe.Reason != resolve.ReasonStreamNotFoundAnywhere {
		t.Fatalf("期望 FailedError，实际 %v", err)
	}
	if !IsFailed(err) {
		t.Fatalf("IsFailed 应为 true")
	}
	rec, _, _ := st.FindByCode(context.Background(), "PPPE-356")
	if rec.Status != domain.StatusFailed || rec.FailureReason != resolve.ReasonStreamNotFoundAnywhere || rec.Title != "Sample" {
		t.Fatalf("失败记录不符合预期：%+v", rec)
	}
	p, ok := n.events[len(n.events)-1].payload.(FailedPayload)
	if !ok || p.VideoCode != "PPPE-356" || p.Reason != fe.Reason {
		t.Fatalf("failed 事件不符合预期：%+v", n.events)
	}
}

func TestRun_ResolverErrorIsFailure(t *testing.T) {
	m, st, _, _ := newMachine(&stubResolver{err: errors.New("boom")})
	if err := m.Run(context.Background(), "PPPE-356"); !IsFailed(err) {
		t.Fatalf("期望 FailedError，实际 %v", err)
	}
	rec, _, _ := st.FindByCode(context.Background(), "PPPE-356")
	if rec.Status != domain.StatusFailed || rec.FailureReason != "boom" {
		t.Fatalf("失败记录不符合预期：%+v", rec)
	}
}

func TestRun_ClearsReasonAndKeepsEditorChoice(t *testing.T) {
	res := &stubResolver{out: completedOutcome()}
	m, st, _, _ := newMachine(res)
	ctx := context.Background()
	if _, err := st.Upsert(ctx, domain.VideoRecord{
		Metadata:      domain.Metadata{Code: "PPPE-356", Title: "old"},
		Status:        domain.StatusFailed,
		FailureReason: "Stream not found",
		EditorChoice:  true,
	}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if err := m.Run(ctx, "PPPE-356"); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	rec, _, _ := st.FindByCode(ctx, "PPPE-356")
	if !rec.EditorChoice || rec.FailureReason != "" || rec.Title != "Sample" {
		t.Fatalf("应保留 editor_choice 并清空失败原因：%+v", rec)
	}
}

func TestRun_Idempotent(t *testing.T) {
	m, st, _, _ := newMachine(&stubResolver{out: completedOutcome()})
	ctx := context.Background()

	snapshot := func() []byte {
		rec, _, _ := st.FindByCode(ctx, "PPPE-356")
		rec.CreatedAt, rec.UpdatedAt = time.Time{}, time.Time{}
		b, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		return b
	}

	if err := m.Run(ctx, "PPPE-356"); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	first := snapshot()
	if err := m.Run(ctx, "PPPE-356"); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if second := snapshot(); string(first) != string(second) {
		t.Fatalf("两次 resolve 结果应一致：\n%s\n%s", first, second)
	}
}

func TestRun_CanceledLeavesNoTerminalState(t *testing.T) {
	m, st, _, _ := newMachine(&stubResolver{out: completedOutcome()})
	ctx, cancel := context.WithCancel(context.Background())
	m.Resolver = resolverFunc(func(context.Context, string) (resolve.Outcome, error) {
		cancel()
		return resolve.Outcome{}, context.Canceled
	})

	if err := m.Run(ctx, "PPPE-356"); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
	rec, _, _ := st.FindByCode(context.Background(), "PPPE-356")
	if rec.Status != domain.StatusProcessing {
		t.Fatalf("取消时记录应停留在 processing，实际 %s", rec.Status)
	}
}

type resolverFunc func(context.Context, string) (resolve.Outcome, error)

func (f resolverFunc) Resolve(ctx context.Context, raw string) (resolve.Outcome, error) {
	return f(ctx, raw)
}

func TestSubmit_DedupAndRefresh(t *testing.T) {
	m, st, _, q := newMachine(&stubResolver{out: completedOutcome()})
	ctx := context.Background()

	rec, enqueued, err := m.Submit(ctx, " pppe-356 ", false)
	if err != nil || !enqueued || rec.Status != domain.StatusQueued || rec.Code != "PPPE-356" {
		t.Fatalf("首次提交应入队：%+v %v %v", rec, enqueued, err)
	}
	if _, enqueued, _ := m.Submit(ctx, "PPPE-356", true); enqueued {
		t.Fatalf("在途作业不应重复入队")
	}
	if len(q.codes) != 1 {
		t.Fatalf("期望入队 1 次，实际 %v", q.codes)
	}

	if err := m.Run(ctx, "PPPE-356"); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rec, enqueued, _ := m.Submit(ctx, "PPPE-356", false); enqueued || rec.Status != domain.StatusCompleted {
		t.Fatalf("completed 且未 refresh 应直接返回：%+v", rec)
	}
	rec, enqueued, _ = m.Submit(ctx, "PPPE-356", true)
	if !enqueued || rec.Status != domain.StatusQueued || rec.Title != "Sample" {
		t.Fatalf("refresh 应重新入队并保留元数据：%+v", rec)
	}
	if st.Len() != 1 {
		t.Fatalf("期望 1 条记录，实际 %d", st.Len())
	}
}

func TestSubmit_RequeuesStaleProcessing(t *testing.T) {
	m, st, _, q := newMachine(&stubResolver{})
	m.StaleAfter = 10 * time.Minute
	ctx := context.Background()

	long := time.Now().Add(-20 * time.Minute).UTC()
	st.WithClock(func() time.Time { return long })
	if _, err := st.Upsert(ctx, domain.VideoRecord{Metadata: domain.Metadata{Code: "PPPE-356"}, Status: domain.StatusProcessing}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	st.WithClock(func() time.Time { return time.Now().UTC() })
	if _, err := st.Upsert(ctx, domain.VideoRecord{Metadata: domain.Metadata{Code: "ABP-123"}, Status: domain.StatusProcessing}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	rec, enqueued, err := m.Submit(ctx, "PPPE-356", false)
	if err != nil || !enqueued || rec.Status != domain.StatusQueued {
		t.Fatalf("遗留的 processing 记录应重新入队：%+v %v %v", rec, enqueued, err)
	}
	if _, enqueued, _ := m.Submit(ctx, "ABP-123", false); enqueued {
		t.Fatalf("新近的 processing 记录不应重复入队")
	}
	if len(q.codes) != 1 || q.codes[0] != "PPPE-356" {
		t.Fatalf("期望只入队 PPPE-356，实际 %v", q.codes)
	}
}

func TestSubmit_Errors(t *testing.T) {
	m, st, _, q := newMachine(&stubResolver{})
	ctx := context.Background()
	if _, _, err := m.Submit(ctx, "  ", false); !errors.Is(err, ErrEmptyCode) {
		t.Fatalf("期望 ErrEmptyCode，实际 %v", err)
	}

	q.err = errors.New("redis down")
	if _, _, err := m.Submit(ctx, "ABP-123", false); err == nil {
		t.Fatalf("入队失败应报错")
	}
	rec, _, _ := st.FindByCode(ctx, "ABP-123")
	if rec.Status != domain.StatusFailed {
		t.Fatalf("入队失败后记录不应卡在 queued，实际 %s", rec.Status)
	}
}

func TestRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) 期望 %v，实际 %v", i+1, w, got)
		}
	}
	if d, ok := p.Next(1); !ok || d != 5*time.Second {
		t.Fatalf("第 1 次失败后应重试")
	}
	if _, ok := p.Next(3); ok {
		t.Fatalf("第 3 次失败后不应重试")
	}
}
