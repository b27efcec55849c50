package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/John-Robertt/avresolve/internal/domain"
)

// videoRow 是 videos 表的一行；嵌套列表以 JSON 列保存。
type videoRow struct {
	VideoCode      string            `gorm:"column:video_code;primaryKey"`
	Title          string            `gorm:"column:title"`
	Description    string            `gorm:"column:description"`
	PosterURL      string            `gorm:"column:poster_url"`
	ThumbnailURL   string            `gorm:"column:thumbnail_url"`
	SampleVideoURL string            `gorm:"column:sample_video_url"`
	StreamURL      string            `gorm:"column:video_url"`
	Maker          string            `gorm:"column:maker"`
	Label          string            `gorm:"column:label"`
	ReleaseDate    string            `gorm:"column:release_date"`
	RuntimeMinutes *int              `gorm:"column:runtime_mins"`
	SourceURL      string            `gorm:"column:source_url"`
	Series         *domain.Series    `gorm:"column:series;serializer:json"`
	Actresses      []domain.Actress  `gorm:"column:actresses;serializer:json"`
	Categories     []domain.Category `gorm:"column:categories;serializer:json"`
	Directors      []domain.Director `gorm:"column:directors;serializer:json"`
	Galleries      []domain.Gallery  `gorm:"column:gallery;serializer:json"`
	Status         string            `gorm:"column:status;index;not null"`
	FailureReason  string            `gorm:"column:failure_reason"`
	EditorChoice   bool              `gorm:"column:editor_choice;not null;default:false"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (videoRow) TableName() string { return "videos" }

// 冲突时整条覆盖的列（除主键与 created_at）。
var overwriteColumns = []string{
	"title", "description", "poster_url", "thumbnail_url", "sample_video_url", "video_url",
	"maker", "label", "release_date", "runtime_mins", "source_url", "series",
	"actresses", "categories", "directors", "gallery", "status", "failure_reason",
	"editor_choice", "updated_at",
}

// Store 是基于 gorm + PostgreSQL 的记录存储。
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open 连接数据库并迁移 videos 表。
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn 不能为空")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("连接 postgres 失败：%w", err)
	}
	return New(db)
}

// New 包装已有连接（调用方负责方言）。
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&videoRow{}); err != nil {
		return nil, fmt.Errorf("迁移 videos 表失败：%w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (domain.VideoRecord, bool, error) {
	var row videoRow
	err := s.db.WithContext(ctx).Where("video_code = ?", code).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.VideoRecord{}, false, nil
	}
	if err != nil {
		return domain.VideoRecord{}, false, err
	}
	return fromRow(row), true, nil
}

func (s *Store) Upsert(ctx context.Context, rec domain.VideoRecord) (domain.VideoRecord, error) {
	if err := rec.Validate(); err != nil {
		return domain.VideoRecord{}, err
	}
	now := s.now()
	row := toRow(rec)
	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_code"}},
		DoUpdates: clause.AssignmentColumns(overwriteColumns),
	}).Create(&row).Error
	if err != nil {
		return domain.VideoRecord{}, err
	}

	saved, ok, err := s.FindByCode(ctx, rec.Code)
	if err != nil {
		return domain.VideoRecord{}, err
	}
	if !ok {
		return domain.VideoRecord{}, fmt.Errorf("upsert 后读不到记录：%s", rec.Code)
	}
	return saved, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(r domain.VideoRecord) videoRow {
	m := r.Metadata
	return videoRow{
		VideoCode:      m.Code,
		Title:          m.Title,
		Description:    m.Description,
		PosterURL:      m.PosterURL,
		ThumbnailURL:   m.ThumbnailURL,
		SampleVideoURL: m.SampleVideoURL,
		StreamURL:      m.StreamURL,
		Maker:          m.Maker,
		Label:          m.Label,
		ReleaseDate:    m.ReleaseDate,
		RuntimeMinutes: m.RuntimeMinutes,
		SourceURL:      m.SourceURL,
		Series:         m.Series,
		Actresses:      nonNil(m.Actresses),
		Categories:     nonNil(m.Categories),
		Directors:      nonNil(m.Directors),
		Galleries:      nonNil(m.Galleries),
		Status:         string(r.Status),
		FailureReason:  r.FailureReason,
		EditorChoice:   r.EditorChoice,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromRow(row videoRow) domain.VideoRecord {
	return domain.VideoRecord{
		Metadata: domain.Metadata{
			Code:           row.VideoCode,
			Title:          row.Title,
			Description:    row.Description,
			PosterURL:      row.PosterURL,
			ThumbnailURL:   row.ThumbnailURL,
			SampleVideoURL: row.SampleVideoURL,
			StreamURL:      row.StreamURL,
			Actresses:      nonNil(row.Actresses),
			Categories:     nonNil(row.Categories),
			Directors:      nonNil(row.Directors),
			Galleries:      nonNil(row.Galleries),
			Maker:          row.Maker,
			Label:          row.Label,
			Series:         row.Series,
			ReleaseDate:    row.ReleaseDate,
			RuntimeMinutes: row.RuntimeMinutes,
			SourceURL:      row.SourceURL,
		},
		Status:        domain.Status(row.Status),
		FailureReason: row.FailureReason,
		EditorChoice:  row.EditorChoice,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
