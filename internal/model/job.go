package model

import "time"

// Job represents one requested video and its pipeline state
type Job struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId,omitempty"`
	Status          JobStatus  `json:"status"`
	ProgressPercent int        `json:"progressPercent"`
	ETASeconds      *int       `json:"etaSeconds,omitempty"`
	CurrentStep     string     `json:"currentStep,omitempty"`
	Settings        Settings   `json:"settings"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	RegeneratedFrom string     `json:"regeneratedFrom,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`

	// Populated as stages complete
	Title           string   `json:"title,omitempty"`
	Script          string   `json:"script,omitempty"`
	Scenes          []Scene  `json:"scenes,omitempty"`
	DurationSeconds float64  `json:"durationSeconds,omitempty"`
	VideoURL        string   `json:"videoUrl,omitempty"`
	AudioURL        string   `json:"audioUrl,omitempty"`
	ThumbnailURL    string   `json:"thumbnailUrl,omitempty"`
	SubtitleURL     string   `json:"subtitleUrl,omitempty"`
	Caption         string   `json:"caption,omitempty"`
	Hashtags        []string `json:"hashtags,omitempty"`

	// Lease and cancellation live in their own keys; the store merges them on read.
	LockedBy        string     `json:"lockedBy,omitempty"`
	LockedAt        *time.Time `json:"lockedAt,omitempty"`
	LeaseExpiresAt  *time.Time `json:"leaseExpiresAt,omitempty"`
	LastProgressAt  *time.Time `json:"lastProgressAt,omitempty"`
	CancelRequested bool       `json:"cancelRequested"`
}

// Settings is captured at creation time and never mutated
type Settings struct {
	ContentType       ContentType   `json:"contentType"`
	Topic             string        `json:"topic,omitempty"`
	TargetDurationSec int           `json:"targetDurationSec"`
	SceneCount        int           `json:"sceneCount,omitempty"`
	Voice             string        `json:"voice,omitempty"`
	VisualStyle       string        `json:"visualStyle,omitempty"`
	Language          string        `json:"language,omitempty"`
	Width             int           `json:"width"`
	Height            int           `json:"height"`
	FPS               int           `json:"fps"`
	Subtitles         SubtitleStyle `json:"subtitles"`
}

// SubtitleStyle controls the burned-in subtitle track
type SubtitleStyle struct {
	Enabled      bool             `json:"enabled"`
	FontName     string           `json:"fontName,omitempty"`
	FontSize     int              `json:"fontSize,omitempty"`
	PrimaryColor string           `json:"primaryColor,omitempty"`
	OutlineColor string           `json:"outlineColor,omitempty"`
	Position     SubtitlePosition `json:"position,omitempty"`
}

// Scene is one visual/audio beat of the script, addressed by Index
type Scene struct {
	Index                int     `json:"index"`
	StartTime            float64 `json:"startTime"`
	EndTime              float64 `json:"endTime"`
	TextOverlay          string  `json:"textOverlay,omitempty"`
	VoiceSegmentText     string  `json:"voiceSegmentText,omitempty"`
	BackgroundPrompt     string  `json:"backgroundPrompt,omitempty"`
	BackgroundAssetURL   string  `json:"backgroundAssetUrl,omitempty"`
	AudioAssetURL        string  `json:"audioAssetUrl,omitempty"`
	AudioDurationSeconds float64 `json:"audioDurationSeconds,omitempty"`
}

// Duration is the scene's span on the timeline.
func (s Scene) Duration() float64 {
	return s.EndTime - s.StartTime
}

// JobStep is the execution record of one stage for one job
type JobStep struct {
	JobID      string     `json:"jobId"`
	Stage      StageType  `json:"stage"`
	Status     StepStatus `json:"status"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
	Message    string     `json:"message,omitempty"`
	Attempts   int        `json:"attempts"`
}

// Asset is a handle to one piece of externally generated media
type Asset struct {
	ID         string         `json:"id"`
	JobID      string         `json:"jobId"`
	Stage      StageType      `json:"stage"`
	SceneIndex int            `json:"sceneIndex"`
	AssetType  AssetType      `json:"assetType"`
	URL        string         `json:"url"`
	Hash       string         `json:"hash"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// StageStats is the rolling duration average for one (content type, stage) pair
type StageStats struct {
	AvgDurationMs float64 `json:"avgDurationMs"`
	SampleCount   int64   `json:"sampleCount"`
}

// JobFilter narrows a job listing
type JobFilter struct {
	Status      JobStatus
	ContentType ContentType
	UserID      string
	Limit       int
	Offset      int
}

// Clone returns a copy that shares no slices with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.Scenes != nil {
		c.Scenes = append([]Scene(nil), j.Scenes...)
	}
	if j.Hashtags != nil {
		c.Hashtags = append([]string(nil), j.Hashtags...)
	}
	if j.ETASeconds != nil {
		eta := *j.ETASeconds
		c.ETASeconds = &eta
	}
	return &c
}
