package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/John-Robertt/avresolve/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	video_code       TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	poster_url       TEXT NOT NULL DEFAULT '',
	thumbnail_url    TEXT NOT NULL DEFAULT '',
	sample_video_url TEXT NOT NULL DEFAULT '',
	video_url        TEXT NOT NULL DEFAULT '',
	maker            TEXT NOT NULL DEFAULT '',
	label            TEXT NOT NULL DEFAULT '',
	release_date     TEXT NOT NULL DEFAULT '',
	runtime_mins     INTEGER,
	source_url       TEXT NOT NULL DEFAULT '',
	series           TEXT NOT NULL DEFAULT 'null',
	actresses        TEXT NOT NULL DEFAULT '[]',
	categories       TEXT NOT NULL DEFAULT '[]',
	directors        TEXT NOT NULL DEFAULT '[]',
	gallery          TEXT NOT NULL DEFAULT '[]',
	status           TEXT NOT NULL,
	failure_reason   TEXT NOT NULL DEFAULT '',
	editor_choice    INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS videos_status ON videos(status);
`

const columns = `video_code, title, description, poster_url, thumbnail_url, sample_video_url, video_url,
	maker, label, release_date, runtime_mins, source_url, series, actresses, categories, directors, gallery,
	status, failure_reason, editor_choice, created_at, updated_at`

const upsertSQL = `INSERT INTO videos (` + columns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(video_code) DO UPDATE SET
	title = excluded.title,
	description = excluded.description,
	poster_url = excluded.poster_url,
	thumbnail_url = excluded.thumbnail_url,
	sample_video_url = excluded.sample_video_url,
	video_url = excluded.video_url,
	maker = excluded.maker,
	label = excluded.label,
	release_date = excluded.release_date,
	runtime_mins = excluded.runtime_mins,
	source_url = excluded.source_url,
	series = excluded.series,
	actresses = excluded.actresses,
	categories = excluded.categories,
	directors = excluded.directors,
	gallery = excluded.gallery,
	status = excluded.status,
	failure_reason = excluded.failure_reason,
	editor_choice = excluded.editor_choice,
	updated_at = excluded.updated_at`

// Store 是基于 modernc sqlite 的单机记录存储（worker 默认后端）。
//
// 约束：
// - 单连接（SetMaxOpenConns(1)），写入天然串行；":memory:" 也因此可用于测试
// - Upsert 整条覆盖，created_at 只在首次插入时写入
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite 路径不能为空")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败：%w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化 videos 表失败：%w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) FindByCode(ctx context.Context, code string) (domain.VideoRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM videos WHERE video_code = ?`, code)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VideoRecord{}, false, nil
	}
	if err != nil {
		return domain.VideoRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Upsert(ctx context.Context, rec domain.VideoRecord) (domain.VideoRecord, error) {
	if err := rec.Validate(); err != nil {
		return domain.VideoRecord{}, err
	}
	now := s.now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	m := rec.Metadata

	var runtime sql.NullInt64
	if m.RuntimeMinutes != nil {
		runtime = sql.NullInt64{Int64: int64(*m.RuntimeMinutes), Valid: true}
	}
	jsonCols, err := encodeJSON(m.Series, nonNil(m.Actresses), nonNil(m.Categories), nonNil(m.Directors), nonNil(m.Galleries))
	if err != nil {
		return domain.VideoRecord{}, err
	}

	_, err = s.db.ExecContext(ctx, upsertSQL,
		m.Code, m.Title, m.Description, m.PosterURL, m.ThumbnailURL, m.SampleVideoURL, m.StreamURL,
		m.Maker, m.Label, m.ReleaseDate, runtime, m.SourceURL,
		jsonCols[0], jsonCols[1], jsonCols[2], jsonCols[3], jsonCols[4],
		string(rec.Status), rec.FailureReason, rec.EditorChoice,
		created.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.VideoRecord{}, fmt.Errorf("写入 videos 失败：%w", err)
	}

	saved, ok, err := s.FindByCode(ctx, m.Code)
	if err != nil {
		return domain.VideoRecord{}, err
	}
	if !ok {
		return domain.VideoRecord{}, fmt.Errorf("upsert 后读不到记录：%s", m.Code)
	}
	return saved, nil
}

func scanRecord(row *sql.Row) (domain.VideoRecord, error) {
	var (
		rec                                      domain.VideoRecord
		runtime                                  sql.NullInt64
		series, actresses, categories, directors string
		gallery, status, createdAt, updatedAt    string
	)
	m := &rec.Metadata
	err := row.Scan(
		&m.Code, &m.Title, &m.Description, &m.PosterURL, &m.ThumbnailURL, &m.SampleVideoURL, &m.StreamURL,
		&m.Maker, &m.Label, &m.ReleaseDate, &runtime, &m.SourceURL,
		&series, &actresses, &categories, &directors, &gallery,
		&status, &rec.FailureReason, &rec.EditorChoice, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.VideoRecord{}, err
	}
	if runtime.Valid {
		v := int(runtime.Int64)
		m.RuntimeMinutes = &v
	}
	for _, c := range []struct {
		raw string
		dst any
	}{
		{series, &m.Series},
		{actresses, &m.Actresses},
		{categories, &m.Categories},
		{directors, &m.Directors},
		{gallery, &m.Galleries},
	} {
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return domain.VideoRecord{}, fmt.Errorf("解析 JSON 列失败：%w", err)
		}
	}
	m.Actresses = nonNil(m.Actresses)
	m.Categories = nonNil(m.Categories)
	m.Directors = nonNil(m.Directors)
	m.Galleries = nonNil(m.Galleries)

	st, err := domain.ParseStatus(status)
	if err != nil {
		return domain.VideoRecord{}, err
	}
	rec.Status = st
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return domain.VideoRecord{}, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return domain.VideoRecord{}, err
	}
	return rec, nil
}

func encodeJSON(vals ...any) ([]string, error) {
	out := make([]string, len(vals))
	for i, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("编码 JSON 列失败：%w", err)
		}
		out[i] = string(b)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
