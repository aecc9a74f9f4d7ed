package model

import (
	"math"
	"strings"
)

const (
	speechWordsPerSecond = 2.5
	minSpeechSeconds     = 1.0
)

// MinSceneSeconds is the shortest scene the renderer produces
const MinSceneSeconds = 0.5

// EstimateSpeechSeconds approximates narration length from word count.
func EstimateSpeechSeconds(text string) float64 {
	words := len(strings.Fields(text))
	return math.Max(minSpeechSeconds, float64(words)/speechWordsPerSecond)
}

// RetimeScenes lays scenes end to end using durations[i] for scene i, never
// shorter than MinSceneSeconds. It returns the total length.
func RetimeScenes(scenes []Scene, durations []float64) float64 {
	var t float64
	for i := range scenes {
		scenes[i].StartTime = t
		t += math.Max(durations[i], MinSceneSeconds)
		scenes[i].EndTime = t
	}
	return t
}
