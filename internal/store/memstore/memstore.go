package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/avresolve/internal/domain"
)

// Store 是进程内的记录存储（单次 resolve 与测试使用）。
// 读写都返回深拷贝，调用方改动不会影响已存内容。
type Store struct {
	mu   sync.RWMutex
	recs map[string]domain.VideoRecord
	now  func() time.Time
}

func New() *Store {
	return &Store{recs: map[string]domain.VideoRecord{}, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock 替换时钟（测试用）。
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) FindByCode(_ context.Context, code string) (domain.VideoRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[strings.TrimSpace(code)]
	if !ok {
		return domain.VideoRecord{}, false, nil
	}
	return clone(rec), true, nil
}

func (s *Store) Upsert(_ context.Context, rec domain.VideoRecord) (domain.VideoRecord, error) {
	if err := rec.Validate(); err != nil {
		return domain.VideoRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec = clone(rec)
	if prev, ok := s.recs[rec.Code]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.recs[rec.Code] = rec
	return clone(rec), nil
}

// Len 返回记录条数。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}

func clone(r domain.VideoRecord) domain.VideoRecord {
	r.Actresses = slices.Clone(r.Actresses)
	r.Categories = slices.Clone(r.Categories)
	r.Directors = slices.Clone(r.Directors)
	r.Galleries = slices.Clone(r.Galleries)
	if r.Series != nil {
		s := *r.Series
		r.Series = &s
	}
	if r.RuntimeMinutes != nil {
		v := *r.RuntimeMinutes
		r.RuntimeMinutes = &v
	}
	return r
}
