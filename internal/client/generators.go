package client

import (
	"context"

	"github.com/reelforge/api/internal/model"
)

// ScriptRequest carries the job settings relevant to script writing
type ScriptRequest struct {
	ContentType       model.ContentType
	Topic             string
	TargetDurationSec int
	SceneCount        int
	Language          string
	VisualStyle       string
}

// secondsPerScene sizes scripts that leave the scene count open
const secondsPerScene = 6

// Scenes is the requested scene count, or one scene per six seconds of narration when unset.
func (r *ScriptRequest) Scenes() int {
	if r.SceneCount > 0 {
		return r.SceneCount
	}
	return max(1, r.TargetDurationSec/secondsPerScene)
}

// ScriptScene is one scene as written by the script generator
type ScriptScene struct {
	TextOverlay      string  `json:"textOverlay"`
	VoiceSegmentText string  `json:"voiceSegmentText"`
	BackgroundPrompt string  `json:"backgroundPrompt"`
	DurationSeconds  float64 `json:"durationSeconds"`
}

// Script is the output of the script stage
type Script struct {
	Title  string        `json:"title"`
	Script string        `json:"script"`
	Scenes []ScriptScene `json:"scenes"`
}

// CaptionRequest carries what the caption generator needs
type CaptionRequest struct {
	ContentType model.ContentType
	Title       string
	Script      string
	Language    string
}

// Caption is the output of the caption stage
type Caption struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

// ScriptGenerator writes the narration script and scene breakdown
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, req *ScriptRequest) (*Script, error)
}

// ImageGenerator produces a still image for a scene background
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, width, height int) ([]byte, error)
}

// SpeechGenerator synthesizes a narration clip
type SpeechGenerator interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	// Format is the container extension of the returned audio (mp3, wav)
	Format() string
}

// CaptionGenerator writes the post caption and hashtags
type CaptionGenerator interface {
	GenerateCaption(ctx context.Context, req *CaptionRequest) (*Caption, error)
}
