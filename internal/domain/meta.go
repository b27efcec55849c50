package domain

// Actress 是演员条目；ExternalID 为 0 表示来源没有提供 id。
type Actress struct {
	ExternalID int64  `json:"id,omitempty"`
	Name       string `json:"name"`
	ImageURL   string `json:"image_url,omitempty"`
}

// Category 同时承载 genre 与 tag。
type Category struct {
	ExternalID int64  `json:"id,omitempty"`
	Name       string `json:"name"`
}

type Director struct {
	ExternalID int64  `json:"id,omitempty"`
	Name       string `json:"name"`
}

type Gallery struct {
	FullURL  string `json:"image_full"`
	ThumbURL string `json:"image_thumb"`
}

type Series struct {
	ExternalID int64  `json:"id,omitempty"`
	Name       string `json:"name"`
}

// Metadata 是 provider 解析并映射到统一 schema 的结果（ResolvedMetadata）。
//
// 约束：
// - 字段缺失允许为空，但结构必须稳定
// - RuntimeMinutes==nil 表示来源没有可解析的时长（与 0 区分）
// - StreamURL 只由 resolve 层写入（已经过 proxy 包装）
type Metadata struct {
	Code           string     `json:"video_code"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	PosterURL      string     `json:"poster_url"`
	ThumbnailURL   string     `json:"thumbnail_url"`
	SampleVideoURL string     `json:"sample_video_url,omitempty"`
	StreamURL      string     `json:"stream_url,omitempty"`
	Actresses      []Actress  `json:"actresses"`
	Categories     []Category `json:"categories"`
	Directors      []Director `json:"directors"`
	Galleries      []Gallery  `json:"galleries"`
	Maker          string     `json:"maker,omitempty"`
	Label          string     `json:"label,omitempty"`
	Series         *Series    `json:"series,omitempty"`
	ReleaseDate    string     `json:"release_date,omitempty"`
	RuntimeMinutes *int       `json:"runtime_mins,omitempty"`

	// SourceURL 是最终成功的详情页/接口 URL（来源标记，用于追溯）。
	SourceURL string `json:"source_url,omitempty"`
}
