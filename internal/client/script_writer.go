package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ScriptWriter implements ScriptGenerator and CaptionGenerator on top of Groq
type ScriptWriter struct {
	groq *GroqClient
}

func NewScriptWriter(groq *GroqClient) *ScriptWriter {
	return &ScriptWriter{groq: groq}
}

func (w *ScriptWriter) IsConfigured() bool {
	return w.groq != nil && w.groq.IsConfigured()
}

// GenerateScript asks the model for a scene-by-scene short-form script
func (w *ScriptWriter) GenerateScript(ctx context.Context, req *ScriptRequest) (*Script, error) {
	response, err := w.groq.ChatJSON(ctx, w.buildSystemPrompt(req.Language), w.buildScriptPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("script generation failed: %w", err)
	}

	var script Script
	if err := json.Unmarshal([]byte(extractJSON(response)), &script); err != nil {
		return nil, fatalf("invalid script JSON: %w", err)
	}
	if len(script.Scenes) == 0 {
		return nil, fatalf("no scenes in script")
	}
	if script.Script == "" {
		parts := make([]string, len(script.Scenes))
		for i, s := range script.Scenes {
			parts[i] = s.VoiceSegmentText
		}
		script.Script = strings.Join(parts, " ")
	}
	return &script, nil
}

// GenerateCaption asks the model for a caption and hashtags
func (w *ScriptWriter) GenerateCaption(ctx context.Context, req *CaptionRequest) (*Caption, error) {
	response, err := w.groq.ChatJSON(ctx, w.buildSystemPrompt(req.Language), w.buildCaptionPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("caption generation failed: %w", err)
	}

	var caption Caption
	if err := json.Unmarshal([]byte(extractJSON(response)), &caption); err != nil {
		return nil, fatalf("invalid caption JSON: %w", err)
	}
	return &caption, nil
}

func (w *ScriptWriter) buildSystemPrompt(language string) string {
	if language == "" {
		language = "en"
	}
	return fmt.Sprintf(`You write scripts for vertical short-form videos in language "%s".
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`, language)
}

func (w *ScriptWriter) buildScriptPrompt(req *ScriptRequest) string {
	topic := req.Topic
	if topic == "" {
		topic = "a surprising subject of your choice"
	}
	style := req.VisualStyle
	if style == "" {
		style = "cinematic, high detail"
	}

	return fmt.Sprintf(`Write a %s video about %s.
Total narration length: about %d seconds, split into exactly %d scenes.
Each scene needs a short on-screen text overlay, the narration sentence for that scene,
and an image prompt for the background in this visual style: %s.

Output as JSON: {"title": "...", "script": "full narration", "scenes": [{"textOverlay": "...", "voiceSegmentText": "...", "backgroundPrompt": "...", "durationSeconds": 6}]}`,
		req.ContentType, topic, req.TargetDurationSec, req.Scenes(), style)
}

func (w *ScriptWriter) buildCaptionPrompt(req *CaptionRequest) string {
	return fmt.Sprintf(`Write a social media caption for a %s video titled "%s".
Narration:
%s

Keep the caption under 200 characters and add 3 to 6 relevant hashtags without the # sign.

Output as JSON: {"caption": "...", "hashtags": ["tag1", "tag2"]}`,
		req.ContentType, req.Title, req.Script)
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}
