package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/reelforge/api/internal/model"
)

const (
	maxZoom = 1.2
	upscale = 4
)

var placeholderPalette = []string{"0x1f2937", "0x312e81", "0x064e3b", "0x7c2d12", "0x4a044e"}

// PlaceholderColor is the solid fill used for a scene without a usable image
func PlaceholderColor(index int) string {
	return placeholderPalette[index%len(placeholderPalette)]
}

// SceneFrames is the exact frame count for a scene of the given length
func SceneFrames(seconds float64, fps int) int {
	seconds = math.Max(seconds, model.MinSceneSeconds)
	return int(math.Round(seconds * float64(fps)))
}

// KenBurnsFilter builds the pan/zoom filtergraph for one still. Even scene
// indices zoom in, odd ones zoom out; zoom is a function of the output frame
// number only, so the same inputs always give the same frames.
func KenBurnsFilter(index, frames, width, height, fps int) string {
	step := (maxZoom - 1) / float64(max(frames-1, 1))

	zoom := fmt.Sprintf("min(1+%.6f*on,%.2f)", step, maxZoom)
	if index%2 == 1 {
		zoom = fmt.Sprintf("max(%.2f-%.6f*on,1)", maxZoom, step)
	}

	w, h := width*upscale, height*upscale
	return strings.Join([]string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", w, h),
		fmt.Sprintf("crop=%d:%d", w, h),
		fmt.Sprintf("zoompan=z='%s':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d", zoom, frames, width, height, fps),
		"format=yuv420p",
	}, ",")
}

// SubtitleForceStyle renders the libass style override for the subtitles filter
func SubtitleForceStyle(style model.SubtitleStyle) string {
	font := style.FontName
	if font == "" {
		font = "Arial"
	}
	size := style.FontSize
	if size <= 0 {
		size = 18
	}

	parts := []string{
		"FontName=" + font,
		fmt.Sprintf("FontSize=%d", size),
		"PrimaryColour=" + assColor(style.PrimaryColor, "&H00FFFFFF"),
		"OutlineColour=" + assColor(style.OutlineColor, "&H00000000"),
		"BorderStyle=1",
		"Outline=2",
		fmt.Sprintf("Alignment=%d", alignment(style.Position)),
		"MarginV=40",
	}
	return strings.Join(parts, ",")
}

// assColor converts #RRGGBB to the &HAABBGGRR form libass expects
func assColor(hex, fallback string) string {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return fallback
	}
	return strings.ToUpper(fmt.Sprintf("&H00%s%s%s", hex[4:6], hex[2:4], hex[0:2]))
}

func alignment(pos model.SubtitlePosition) int {
	switch pos {
	case model.SubtitleTop:
		return 8
	case model.SubtitleCenter:
		return 5
	}
	return 2
}
