package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/reelforge/api/internal/model"
)

// Golden generators are deterministic stand-ins used when a provider is not
// configured and by end-to-end tests. Same input, same output, no network.

type GoldenScriptWriter struct{}

func (GoldenScriptWriter) GenerateScript(_ context.Context, req *ScriptRequest) (*Script, error) {
	n := req.Scenes()
	topic := req.Topic
	if topic == "" {
		topic = "the ocean"
	}

	per := float64(req.TargetDurationSec) / float64(n)
	script := &Script{
		Title:  fmt.Sprintf("%d %s about %s", n, req.ContentType, topic),
		Scenes: make([]ScriptScene, n),
	}
	narration := make([]string, n)
	for i := 0; i < n; i++ {
		line := fmt.Sprintf("Here is %s number %d about %s that most people never hear.", req.ContentType, i+1, topic)
		script.Scenes[i] = ScriptScene{
			TextOverlay:      fmt.Sprintf("#%d %s", i+1, topic),
			VoiceSegmentText: line,
			BackgroundPrompt: fmt.Sprintf("%s, scene %d, %s", topic, i+1, req.VisualStyle),
			DurationSeconds:  per,
		}
		narration[i] = line
	}
	script.Script = strings.Join(narration, " ")
	return script, nil
}

func (GoldenScriptWriter) GenerateCaption(_ context.Context, req *CaptionRequest) (*Caption, error) {
	tags := []string{string(req.ContentType), "shorts"}
	for _, w := range strings.Fields(strings.ToLower(req.Title)) {
		w = strings.Trim(w, ".,!?#")
		if len(w) > 4 && len(tags) < 5 {
			tags = append(tags, w)
		}
	}
	return &Caption{
		Caption:  fmt.Sprintf("%s. Follow for more!", req.Title),
		Hashtags: tags,
	}, nil
}

// GoldenImageGenerator renders a flat PNG whose color is derived from the prompt
type GoldenImageGenerator struct{}

func (GoldenImageGenerator) GenerateImage(_ context.Context, prompt string, width, height int) ([]byte, error) {
	w, h := max(width/8, 16), max(height/8, 16)
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	sum := fnv.New32a()
	sum.Write([]byte(prompt))
	v := sum.Sum32()
	fill := color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GoldenSpeechGenerator returns a silent mono WAV as long as the text would take to read
type GoldenSpeechGenerator struct{}

const goldenSampleRate = 16000

func (GoldenSpeechGenerator) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	samples := int(model.EstimateSpeechSeconds(text) * goldenSampleRate)
	dataLen := uint32(samples * 2)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(goldenSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(goldenSampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(make([]byte, dataLen))
	return buf.Bytes(), nil
}

func (GoldenSpeechGenerator) Format() string { return "wav" }
