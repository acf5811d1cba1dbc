package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type JobState string

const (
	JobQueued           JobState = "queued"
	JobRunning          JobState = "running"
	JobWritingDraft     JobState = "writing_draft"
	JobGeneratingImages JobState = "generating_images"
	JobFinalizing       JobState = "finalizing"
	JobSucceeded        JobState = "succeeded"
	JobFailed           JobState = "failed"
	JobCancelled        JobState = "cancelled"
)

// Active reports whether a job in this state is owned by a running orchestrator.
func (s JobState) Active() bool {
	switch s {
	case JobRunning, JobWritingDraft, JobGeneratingImages, JobFinalizing:
		return true
	}
	return false
}

func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

type KeywordState string

const (
	KeywordPending    KeywordState = "pending"
	KeywordProcessing KeywordState = "processing"
	KeywordCompleted  KeywordState = "completed"
	KeywordFailed     KeywordState = "failed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for the queue, higher first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type PostStatus string

const (
	PostDraft      PostStatus = "draft"
	PostGenerating PostStatus = "generating"
	PostScheduled  PostStatus = "scheduled"
	PostPublished  PostStatus = "published"
	PostFailed     PostStatus = "failed"
)

type ScheduleStatus string

const (
	ScheduleNotConfigured ScheduleStatus = "not_configured"
	ScheduleConfigured    ScheduleStatus = "configured"
	ScheduleActive        ScheduleStatus = "active"
	ScheduleStopped       ScheduleStatus = "stopped"
)

type Cadence string

const (
	Cadence5m         Cadence = "5m"
	Cadence15m        Cadence = "15m"
	Cadence30m        Cadence = "30m"
	Cadence1h         Cadence = "1h"
	CadenceDaily      Cadence = "daily"
	CadenceTwiceDaily Cadence = "twice_daily"
	CadenceWeekly     Cadence = "weekly"
)

// Interval returns the fixed period of interval cadences.
func (c Cadence) Interval() (time.Duration, bool) {
	switch c {
	case Cadence5m:
		return 5 * time.Minute, true
	case Cadence15m:
		return 15 * time.Minute, true
	case Cadence30m:
		return 30 * time.Minute, true
	case Cadence1h:
		return time.Hour, true
	}
	return 0, false
}

// Period is the nominal distance between two runs of the cadence.
func (c Cadence) Period() time.Duration {
	if d, ok := c.Interval(); ok {
		return d
	}
	switch c {
	case CadenceTwiceDaily:
		return 12 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

func (c Cadence) Valid() bool {
	switch c {
	case Cadence5m, Cadence15m, Cadence30m, Cadence1h, CadenceDaily, CadenceTwiceDaily, CadenceWeekly:
		return true
	}
	return false
}

type User struct {
	UserID                 string    `json:"userId" db:"user_id"`
	Email                  string    `json:"email" db:"email"`
	Role                   string    `json:"role" db:"role"`
	IsActive               bool      `json:"isActive" db:"is_active"`
	DailyLimit             int       `json:"dailyLimit" db:"daily_limit"`
	PreferredImageProvider string    `json:"preferredImageProvider" db:"preferred_image_provider"`
	CreatedAt              time.Time `json:"createdAt" db:"created_at"`
}

type ProviderCredential struct {
	UserID      string     `json:"userId" db:"user_id"`
	Provider    string     `json:"provider" db:"provider"`
	Secret      string     `json:"-" db:"secret"`
	ValidatedAt *time.Time `json:"validatedAt" db:"validated_at"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

type Keyword struct {
	KeywordID   string       `json:"keywordId" db:"keyword_id"`
	UserID      string       `json:"userId" db:"user_id"`
	Phrase      string       `json:"phrase" db:"phrase"`
	Priority    Priority     `json:"priority" db:"priority"`
	State       KeywordState `json:"state" db:"state"`
	AuxKeywords StringList   `json:"auxKeywords" db:"aux_keywords"`
	Notes       string       `json:"notes" db:"notes"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time    `json:"updatedAt" db:"updated_at"`
}

type Post struct {
	PostID          string     `json:"postId" db:"post_id"`
	AuthorID        string     `json:"authorId" db:"author_id"`
	KeywordID       *string    `json:"keywordId" db:"keyword_id"`
	JobID           *string    `json:"jobId" db:"job_id"`
	Title           string     `json:"title" db:"title"`
	Content         string     `json:"content" db:"content"`
	Excerpt         string     `json:"excerpt" db:"excerpt"`
	MetaTitle       string     `json:"metaTitle" db:"meta_title"`
	MetaDescription string     `json:"metaDescription" db:"meta_description"`
	FocusKeyword    string     `json:"focusKeyword" db:"focus_keyword"`
	CanonicalURL    string     `json:"canonicalUrl" db:"canonical_url"`
	AuthorName      string     `json:"authorName" db:"author_name"`
	PublisherName   string     `json:"publisherName" db:"publisher_name"`
	SchemaType      string     `json:"schemaType" db:"schema_type"`
	ArticleSection  string     `json:"articleSection" db:"article_section"`
	Status          PostStatus `json:"status" db:"status"`
	Slug            string     `json:"slug" db:"slug"`
	WordCount       int        `json:"wordCount" db:"word_count"`
	ReadingMinutes  int        `json:"readingMinutes" db:"reading_minutes"`
	PublishedAt     *time.Time `json:"publishedAt" db:"published_at"`
	ScheduledAt     *time.Time `json:"scheduledAt" db:"scheduled_at"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
	Images          []Image    `json:"images" db:"-"`
}

type Image struct {
	ImageID     string    `json:"imageId" db:"image_id"`
	PostID      string    `json:"postId" db:"post_id"`
	StoragePath string    `json:"storagePath" db:"storage_path"`
	ImageURL    string    `json:"imageUrl" db:"image_url"`
	AltText     string    `json:"altText" db:"alt_text"`
	Prompt      string    `json:"prompt" db:"prompt"`
	Provider    string    `json:"provider" db:"provider"`
	Position    int       `json:"position" db:"position"`
	IsFeatured  bool      `json:"isFeatured" db:"is_featured"`
	Width       int       `json:"width" db:"width"`
	Height      int       `json:"height" db:"height"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// JobOptions carries the generation options a job was enqueued with.
type JobOptions struct {
	Tone            string     `json:"tone,omitempty"`
	Language        string     `json:"language,omitempty"`
	WordCountMin    int        `json:"wordCountMin,omitempty"`
	WordCountMax    int        `json:"wordCountMax,omitempty"`
	AuxKeywords     []string   `json:"auxKeywords,omitempty"`
	AutoPublish     bool       `json:"autoPublish,omitempty"`
	PublishAt       *time.Time `json:"publishAt,omitempty"`
	GenerateImages  *bool      `json:"generateImages,omitempty"`
	ImageCount      *int       `json:"imageCount,omitempty"`
	ImageStyle      string     `json:"imageStyle,omitempty"`
	IncludeFeatured *bool      `json:"includeFeatured,omitempty"`
	Source          string     `json:"source,omitempty"`
}

func (o JobOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *JobOptions) Scan(src interface{}) error {
	return scanJSON(src, o)
}

type GenerationJob struct {
	JobID         string     `json:"jobId" db:"job_id"`
	UserID        string     `json:"userId" db:"user_id"`
	KeywordID     string     `json:"keywordId" db:"keyword_id"`
	Provider      string     `json:"provider" db:"provider"`
	ContentType   string     `json:"contentType" db:"content_type"`
	Options       JobOptions `json:"options" db:"options"`
	Priority      Priority   `json:"priority" db:"priority"`
	State         JobState   `json:"state" db:"state"`
	ScheduledAt   time.Time  `json:"scheduledAt" db:"scheduled_at"`
	Attempts      int        `json:"attempts" db:"attempts"`
	MaxRetries    int        `json:"maxRetries" db:"max_retries"`
	Timeouts      int        `json:"timeouts" db:"timeouts"`
	LastError     string     `json:"lastError" db:"last_error"`
	FailureReason string     `json:"failureReason" db:"failure_reason"`
	Warnings      StringList `json:"warnings" db:"warnings"`
	PostID        *string    `json:"postId" db:"post_id"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
	StartedAt     *time.Time `json:"startedAt" db:"started_at"`
	FinishedAt    *time.Time `json:"finishedAt" db:"finished_at"`
}

type ScheduleConfig struct {
	UserID          string         `json:"userId" db:"user_id"`
	Enabled         bool           `json:"enabled" db:"enabled"`
	Cadence         Cadence        `json:"cadence" db:"cadence" validate:"required"`
	MaxPostsPerDay  int            `json:"maxPostsPerDay" db:"max_posts_per_day" validate:"min=1,max=50"`
	TimeOfDay       string         `json:"timeOfDay" db:"time_of_day" validate:"omitempty,len=5"`
	DaysOfWeek      IntList        `json:"daysOfWeek" db:"days_of_week" validate:"dive,min=0,max=6"`
	AutoPublish     bool           `json:"autoPublish" db:"auto_publish"`
	GenerateImages  bool           `json:"generateImages" db:"generate_images"`
	ContentStyle    string         `json:"contentStyle" db:"content_style"`
	Language        string         `json:"language" db:"language"`
	WordCountMin    int            `json:"wordCountMin" db:"word_count_min" validate:"omitempty,min=100"`
	WordCountMax    int            `json:"wordCountMax" db:"word_count_max" validate:"omitempty,gtefield=WordCountMin,max=5000"`
	Provider        string         `json:"provider" db:"provider"`
	ImageCount      int            `json:"imageCount" db:"image_count" validate:"min=0,max=5"`
	ImageStyle      string         `json:"imageStyle" db:"image_style"`
	ImagePlacement  string         `json:"imagePlacement" db:"image_placement"`
	IncludeFeatured bool           `json:"includeFeatured" db:"include_featured"`
	Status          ScheduleStatus `json:"status" db:"status"`
	LastRunAt       *time.Time     `json:"lastRunAt" db:"last_run_at"`
	NextRunAt       *time.Time     `json:"nextRunAt" db:"next_run_at"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}

// ImageConfig is a user's image settings, global when KeywordID is nil.
type ImageConfig struct {
	ConfigID        string    `json:"configId" db:"config_id"`
	UserID          string    `json:"userId" db:"user_id"`
	KeywordID       *string   `json:"keywordId" db:"keyword_id"`
	Provider        string    `json:"provider" db:"provider"`
	NumImages       int       `json:"numImages" db:"num_images"`
	Size            string    `json:"size" db:"size"`
	Quality         string    `json:"quality" db:"quality"`
	Style           string    `json:"style" db:"style"`
	Placement       string    `json:"placement" db:"placement"`
	AspectRatio     string    `json:"aspectRatio" db:"aspect_ratio"`
	SafetyLevel     string    `json:"safetyLevel" db:"safety_level"`
	AutoGenerate    bool      `json:"autoGenerate" db:"auto_generate"`
	IncludeFeatured bool      `json:"includeFeatured" db:"include_featured"`
	CustomPrompt    string    `json:"customPrompt" db:"custom_prompt"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// StringList is stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// IntList is stored as a JSON array.
type IntList []int

func (l IntList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int(l))
}

func (l *IntList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

func (l IntList) Contains(v int) bool {
	for _, x := range l {
		if x == v {
			return true
		}
	}
	return false
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
