package sqlitestore

import (
	"context"
	"testing"
	"time"

	"github.com/John-Robertt/avresolve/internal/domain"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsert_FindRoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	rt := 121
	rec := domain.VideoRecord{
		Metadata: domain.Metadata{
			Code:           "PPPE-356",
			Title:          "Sample",
			PosterURL:      "https://pics.test/p.jpg",
			StreamURL:      "https://proxy.test/?url=x",
			RuntimeMinutes: &rt,
			Series:         &domain.Series{ExternalID: 3, Name: "S"},
			Actresses:      []domain.Actress{{ExternalID: 1, Name: "A", ImageURL: "https://img.test/a.jpg"}},
			Categories:     []domain.Category{{ExternalID: 2, Name: "Drama"}},
			Galleries:      []domain.Gallery{{FullURL: "f", ThumbURL: "t"}},
		},
		Status: domain.StatusCompleted,
	}

	saved, err := s.Upsert(ctx, rec)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
		t.Fatalf("应写入时间戳：%+v", saved)
	}
	got, ok, err := s.FindByCode(ctx, "PPPE-356")
	if err != nil || !ok {
		t.Fatalf("应能读回记录：%v %v", ok, err)
	}
	if got.RuntimeMinutes == nil || *got.RuntimeMinutes != 121 || got.Series == nil || got.Series.Name != "S" {
		t.Fatalf("runtime/series 不符合预期：%+v", got)
	}
	if len(got.Actresses) != 1 || got.Actresses[0].ImageURL != "https://img.test/a.jpg" {
		t.Fatalf("actresses 不符合预期：%+v", got.Actresses)
	}
	if got.Directors == nil || len(got.Directors) != 0 {
		t.Fatalf("空列表应读回为空切片：%+v", got.Directors)
	}
	if got.Status != domain.StatusCompleted || got.StreamURL != rec.StreamURL {
		t.Fatalf("status/stream 不符合预期：%+v", got)
	}
}

func TestUpsert_FullOverwriteKeepsCreatedAt(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := t0
	s.now = func() time.Time { return now }

	rt := 90
	first := domain.VideoRecord{
		Metadata: domain.Metadata{Code: "ABP-123", Title: "old", RuntimeMinutes: &rt, Series: &domain.Series{Name: "S"}},
		Status:   domain.StatusCompleted,
	}
	if _, err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	now = t0.Add(time.Hour)
	second := domain.VideoRecord{
		Metadata:      domain.Metadata{Code: "ABP-123", Title: "new"},
		Status:        domain.StatusFailed,
		FailureReason: "Stream not found",
	}
	got, err := s.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got.Title != "new" || got.RuntimeMinutes != nil || got.Series != nil {
		t.Fatalf("应整条覆盖而不是合并：%+v", got)
	}
	if !got.CreatedAt.Equal(t0) || !got.UpdatedAt.Equal(now) {
		t.Fatalf("时间戳不符合预期：%v %v", got.CreatedAt, got.UpdatedAt)
	}
	if got.FailureReason != "Stream not found" {
		t.Fatalf("failure_reason 不符合预期：%q", got.FailureReason)
	}
}

func TestFindByCode_Missing(t *testing.T) {
	s := openMemory(t)
	if _, ok, err := s.FindByCode(context.Background(), "NOPE-1"); ok || err != nil {
		t.Fatalf("不存在的记录应返回 ok=false：%v %v", ok, err)
	}
}

func TestUpsert_RejectsInvalid(t *testing.T) {
	s := openMemory(t)
	if _, err := s.Upsert(context.Background(), domain.VideoRecord{Status: domain.StatusQueued}); err == nil {
		t.Fatalf("空 code 应报错")
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatalf("空路径应报错")
	}
}
