package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/reelforge/api/internal/model"
)

// BuildSRT writes one cue per scene with overlay text, spanning the scene as
// rendered: scenes play back to back, each at least MinSceneSeconds long.
// Returns "" when no scene has text.
func BuildSRT(scenes []model.Scene) string {
	var b strings.Builder
	cue := 0
	var start float64
	for _, s := range scenes {
		end := start + math.Max(s.Duration(), model.MinSceneSeconds)
		if text := strings.TrimSpace(s.TextOverlay); text != "" {
			cue++
			fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", cue, srtTimestamp(start), srtTimestamp(end), text)
		}
		start = end
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	ms := int64(math.Round(seconds * 1000))
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
