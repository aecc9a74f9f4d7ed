package model

import "time"

// VideoCreateRequest represents the request to start a video job
type VideoCreateRequest struct {
	ContentType       ContentType        `json:"contentType" validate:"required,oneof=facts story motivation history tips"`
	Topic             string             `json:"topic" validate:"omitempty,max=200"`
	TargetDurationSec int                `json:"targetDurationSec" validate:"required,min=10,max=180"`
	SceneCount        int                `json:"sceneCount" validate:"omitempty,min=1,max=20"`
	Voice             string             `json:"voice" validate:"omitempty,max=40"`
	VisualStyle       string             `json:"visualStyle" validate:"omitempty,max=100"`
	Language          string             `json:"language" validate:"omitempty,len=2"`
	Subtitles         *SubtitleStyleBody `json:"subtitles" validate:"omitempty"`
}

// SubtitleStyleBody is the request shape of SubtitleStyle
type SubtitleStyleBody struct {
	Enabled      bool   `json:"enabled"`
	FontName     string `json:"fontName" validate:"omitempty,max=60"`
	FontSize     int    `json:"fontSize" validate:"omitempty,min=8,max=120"`
	PrimaryColor string `json:"primaryColor" validate:"omitempty,hexcolor"`
	OutlineColor string `json:"outlineColor" validate:"omitempty,hexcolor"`
	Position     string `json:"position" validate:"omitempty,oneof=bottom center top"`
}

// VideoCreateResponse represents the response after queuing a video job
type VideoCreateResponse struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	ETASeconds *int      `json:"etaSeconds,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// VideoDetailResponse is a job with its steps and assets
type VideoDetailResponse struct {
	Job    *Job       `json:"job"`
	Steps  []*JobStep `json:"steps"`
	Assets []*Asset   `json:"assets"`
}

// VideoListResponse is a page of jobs
type VideoListResponse struct {
	Jobs   []*Job `json:"jobs"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// VideoCancelResponse represents the response for a cancellation request
type VideoCancelResponse struct {
	Success         bool      `json:"success"`
	JobID           string    `json:"jobId"`
	Status          JobStatus `json:"status"`
	CancelRequested bool      `json:"cancelRequested"`
}

// VideoTaskPayload is the body of a video:process task
type VideoTaskPayload struct {
	JobID string `json:"jobId"`
}

// VideoListQuery is the query string of GET /api/videos
type VideoListQuery struct {
	Status      JobStatus   `query:"status" validate:"omitempty,oneof=queued running generating_script generating_assets rendering_video generating_caption completed failed"`
	ContentType ContentType `query:"contentType" validate:"omitempty,oneof=facts story motivation history tips"`
	Limit       int         `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset      int         `query:"offset" validate:"omitempty,min=0"`
}

// HealthResponse reports dependency and provider status
type HealthResponse struct {
	Status    string          `json:"status"`
	Mode      string          `json:"mode"`
	Redis     bool            `json:"redis"`
	Providers map[string]bool `json:"providers"`
	Active    int             `json:"activeJobs"`
}
