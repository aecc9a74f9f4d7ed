package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetimeScenes(t *testing.T) {
	scenes := make([]Scene, 3)
	total := RetimeScenes(scenes, []float64{2, 0.2, 1.5})

	assert.InDelta(t, 4.0, total, 1e-9)
	assert.Zero(t, scenes[0].StartTime)
	assert.InDelta(t, 2.0, scenes[1].StartTime, 1e-9)
	assert.InDelta(t, MinSceneSeconds, scenes[1].Duration(), 1e-9, "short clips take the rendered floor")
	assert.InDelta(t, 2.5, scenes[2].StartTime, 1e-9)
	assert.InDelta(t, total, scenes[2].EndTime, 1e-9)
}

func TestEstimateSpeechSeconds(t *testing.T) {
	assert.InDelta(t, 2.0, EstimateSpeechSeconds("one two three four five"), 1e-9)
	assert.InDelta(t, 1.0, EstimateSpeechSeconds(""), 1e-9)
}
