package model

import "time"

// Job status
type JobStatus string

const (
	JobStatusQueued            JobStatus = "queued"
	JobStatusRunning           JobStatus = "running"
	JobStatusGeneratingScript  JobStatus = "generating_script"
	JobStatusGeneratingAssets  JobStatus = "generating_assets"
	JobStatusRenderingVideo    JobStatus = "rendering_video"
	JobStatusGeneratingCaption JobStatus = "generating_caption"
	JobStatusCompleted         JobStatus = "completed"
	JobStatusFailed            JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Step status
type StepStatus string

const (
	StepStatusQueued    StepStatus = "queued"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Stage types
type StageType string

const (
	StageScript       StageType = "script"
	StageAssetsVisual StageType = "assets_visual"
	StageAssetsAudio  StageType = "assets_audio"
	StageRender       StageType = "render"
	StageCaption      StageType = "caption"
)

// Stage describes one fixed pipeline phase. Status is the job status label shown
// while the stage runs; both asset stages share generating_assets.
type Stage struct {
	Type            StageType
	Status          JobStatus
	Label           string
	ProgressStart   int
	ProgressEnd     int
	DefaultDuration time.Duration
}

// Pipeline is the stage order. Step initialization and the runner both read it.
var Pipeline = []Stage{
	{StageScript, JobStatusGeneratingScript, "Writing script...", 0, 15, 20 * time.Second},
	{StageAssetsVisual, JobStatusGeneratingAssets, "Generating images...", 15, 45, 60 * time.Second},
	{StageAssetsAudio, JobStatusGeneratingAssets, "Generating voiceover...", 45, 70, 40 * time.Second},
	{StageRender, JobStatusRenderingVideo, "Rendering video...", 70, 92, 90 * time.Second},
	{StageCaption, JobStatusGeneratingCaption, "Writing caption...", 92, 100, 10 * time.Second},
}

// StageByType looks up a pipeline stage.
func StageByType(t StageType) (Stage, bool) {
	for _, s := range Pipeline {
		if s.Type == t {
			return s, true
		}
	}
	return Stage{}, false
}

// Asset types
type AssetType string

const (
	AssetTypeImage    AssetType = "image"
	AssetTypeAudio    AssetType = "audio"
	AssetTypeVideo    AssetType = "video"
	AssetTypeSubtitle AssetType = "subtitle"
)

// Content types
type ContentType string

const (
	ContentTypeFacts      ContentType = "facts"
	ContentTypeStory      ContentType = "story"
	ContentTypeMotivation ContentType = "motivation"
	ContentTypeHistory    ContentType = "history"
	ContentTypeTips       ContentType = "tips"
)

// Subtitle positions
type SubtitlePosition string

const (
	SubtitleBottom SubtitlePosition = "bottom"
	SubtitleCenter SubtitlePosition = "center"
	SubtitleTop    SubtitlePosition = "top"
)
