package render

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/logger"
	"github.com/reelforge/api/internal/model"
	"github.com/sirupsen/logrus"
)

// Options are the renderer's fixed settings
type Options struct {
	TempRoot       string
	ExtraArgs      []string
	MinOutputBytes int64
	ThumbnailAt    time.Duration
}

// Input is one job's scene list and output settings
type Input struct {
	JobID     string
	Scenes    []model.Scene
	Width     int
	Height    int
	FPS       int
	Subtitles model.SubtitleStyle
}

// Result describes the uploaded render
type Result struct {
	VideoURL          string
	ThumbnailURL      string
	AudioURL          string
	SubtitleURL       string
	DurationSeconds   float64
	SizeBytes         int64
	HasAudio          bool
	PlaceholderScenes []int
}

// Renderer composes scenes into a finished vertical video
type Renderer struct {
	encoder   Encoder
	prober    Prober
	storage   client.StorageClient
	resources ResourceChecker
	opts      Options
	log       *logrus.Entry
}

func NewRenderer(encoder Encoder, prober Prober, storage client.StorageClient, resources ResourceChecker, opts Options) *Renderer {
	if opts.TempRoot == "" {
		opts.TempRoot = os.TempDir()
	}
	if opts.ThumbnailAt <= 0 {
		opts.ThumbnailAt = time.Second
	}
	return &Renderer{
		encoder:   encoder,
		prober:    prober,
		storage:   storage,
		resources: resources,
		opts:      opts,
		log:       logger.WithModule("render"),
	}
}

// Render builds, verifies and uploads the video. The work directory is removed
// on every return path.
func (r *Renderer) Render(ctx context.Context, in *Input) (*Result, error) {
	if len(in.Scenes) == 0 {
		return nil, fmt.Errorf("nothing to render: no scenes")
	}
	if in.FPS <= 0 {
		in.FPS = 30
	}
	log := r.log.WithField("job_id", in.JobID)

	if r.resources != nil {
		if err := r.resources.Check(ctx, r.opts.TempRoot); err != nil {
			return nil, fmt.Errorf("insufficient system resources: %w", err)
		}
	}

	workDir, err := os.MkdirTemp(r.opts.TempRoot, "render_"+in.JobID+"_")
	if err != nil {
		return nil, fmt.Errorf("could not create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.WithError(err).Warn("Failed to remove render work directory")
		}
	}()

	res := &Result{}

	// 1. Stills
	images := make([]string, len(in.Scenes))
	for i, scene := range in.Scenes {
		name, placeholder, err := r.prepareImage(ctx, workDir, scene, in)
		if err != nil {
			return nil, err
		}
		images[i] = name
		if placeholder {
			res.PlaceholderScenes = append(res.PlaceholderScenes, scene.Index)
		}
	}

	// 2. Ken Burns clips, concatenated
	clips := make([]string, len(in.Scenes))
	for i, scene := range in.Scenes {
		clips[i] = fmt.Sprintf("clip_%03d.mp4", i)
		frames := SceneFrames(scene.Duration(), in.FPS)
		args := []string{
			"-i", images[i],
			"-vf", KenBurnsFilter(scene.Index, frames, in.Width, in.Height, in.FPS),
			"-frames:v", strconv.Itoa(frames),
			"-c:v", "libx264",
		}
		args = append(args, r.opts.ExtraArgs...)
		args = append(args, "-pix_fmt", "yuv420p", clips[i])
		if err := r.encoder.Run(ctx, workDir, args); err != nil {
			return nil, fmt.Errorf("scene %d clip: %w", scene.Index, err)
		}
	}
	if err := r.concat(ctx, workDir, "clips.txt", clips, "silent.mp4"); err != nil {
		return nil, fmt.Errorf("concat clips: %w", err)
	}
	current := "silent.mp4"

	// 3. Narration
	hasAudio := false
	for _, s := range in.Scenes {
		if s.AudioAssetURL != "" {
			hasAudio = true
			break
		}
	}
	if hasAudio {
		if err := r.buildNarration(ctx, workDir, in); err != nil {
			return nil, err
		}
		err := r.encoder.Run(ctx, workDir, []string{
			"-i", current,
			"-i", "narration.wav",
			"-map", "0:v:0", "-map", "1:a:0",
			"-c:v", "copy",
			"-c:a", "aac", "-b:a", "192k",
			"-shortest",
			"muxed.mp4",
		})
		if err != nil {
			return nil, fmt.Errorf("mux audio: %w", err)
		}
		current = "muxed.mp4"
	}
	res.HasAudio = hasAudio

	// 4. Subtitles
	srt := ""
	if in.Subtitles.Enabled {
		srt = BuildSRT(in.Scenes)
	}
	if srt != "" {
		if err := os.WriteFile(filepath.Join(workDir, "subs.srt"), []byte(srt), 0o644); err != nil {
			return nil, fmt.Errorf("write subtitles: %w", err)
		}
		args := []string{
			"-i", current,
			"-vf", fmt.Sprintf("subtitles=subs.srt:force_style='%s'", SubtitleForceStyle(in.Subtitles)),
			"-c:v", "libx264",
		}
		args = append(args, r.opts.ExtraArgs...)
		args = append(args, "-pix_fmt", "yuv420p", "-c:a", "copy", "final.mp4")
		if err := r.encoder.Run(ctx, workDir, args); err != nil {
			return nil, fmt.Errorf("burn subtitles: %w", err)
		}
		current = "final.mp4"
	}

	// 5. Integrity, before anything leaves the machine
	probe, err := Verify(ctx, r.prober, filepath.Join(workDir, current), Expectation{
		MinBytes:     r.opts.MinOutputBytes,
		Width:        in.Width,
		Height:       in.Height,
		RequireAudio: hasAudio,
	})
	if err != nil {
		return nil, err
	}
	res.DurationSeconds = probe.DurationSeconds
	res.SizeBytes = probe.SizeBytes

	// 6. Thumbnail
	at := r.opts.ThumbnailAt.Seconds()
	if at > probe.DurationSeconds/2 {
		at = probe.DurationSeconds / 2
	}
	err = r.encoder.Run(ctx, workDir, []string{
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", current,
		"-frames:v", "1",
		"-q:v", "2",
		"thumbnail.jpg",
	})
	if err != nil {
		return nil, fmt.Errorf("extract thumbnail: %w", err)
	}

	// 7. Upload
	prefix := fmt.Sprintf("videos/%s/", in.JobID)
	if res.VideoURL, err = r.upload(ctx, workDir, current, prefix+"video.mp4", "video/mp4"); err != nil {
		return nil, err
	}
	if res.ThumbnailURL, err = r.upload(ctx, workDir, "thumbnail.jpg", prefix+"thumbnail.jpg", "image/jpeg"); err != nil {
		return nil, err
	}
	if hasAudio {
		if res.AudioURL, err = r.upload(ctx, workDir, "narration.wav", prefix+"narration.wav", "audio/wav"); err != nil {
			return nil, err
		}
	}
	if srt != "" {
		if res.SubtitleURL, err = r.upload(ctx, workDir, "subs.srt", prefix+"subtitles.srt", "application/x-subrip"); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"duration":     res.DurationSeconds,
		"size":         res.SizeBytes,
		"placeholders": len(res.PlaceholderScenes),
	}).Info("Render complete")
	return res, nil
}

// prepareImage downloads the scene image, or synthesizes a solid-color still
// when there is none or the download fails.
func (r *Renderer) prepareImage(ctx context.Context, workDir string, scene model.Scene, in *Input) (string, bool, error) {
	if scene.BackgroundAssetURL != "" {
		data, err := r.storage.Download(ctx, scene.BackgroundAssetURL)
		if err == nil {
			name := fmt.Sprintf("img_%03d%s", scene.Index, imageExt(data))
			if err := os.WriteFile(filepath.Join(workDir, name), data, 0o644); err != nil {
				return "", false, fmt.Errorf("write scene image: %w", err)
			}
			return name, false, nil
		}
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		r.log.WithError(err).WithFields(logrus.Fields{"job_id": in.JobID, "scene": scene.Index}).Warn("Scene image unavailable, using placeholder")
	}

	name := fmt.Sprintf("placeholder_%03d.png", scene.Index)
	err := r.encoder.Run(ctx, workDir, []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d", PlaceholderColor(scene.Index), in.Width, in.Height),
		"-frames:v", "1",
		name,
	})
	if err != nil {
		return "", false, fmt.Errorf("scene %d placeholder: %w", scene.Index, err)
	}
	return name, true, nil
}

// buildNarration normalizes every scene's audio to the scene length, filling
// gaps with silence, and concatenates the segments into narration.wav.
func (r *Renderer) buildNarration(ctx context.Context, workDir string, in *Input) error {
	segments := make([]string, len(in.Scenes))
	for i, scene := range in.Scenes {
		segments[i] = fmt.Sprintf("seg_%03d.wav", i)
		dur := strconv.FormatFloat(max(scene.Duration(), model.MinSceneSeconds), 'f', 3, 64)

		var input []string
		if scene.AudioAssetURL != "" {
			data, err := r.storage.Download(ctx, scene.AudioAssetURL)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.WithError(err).WithFields(logrus.Fields{"job_id": in.JobID, "scene": scene.Index}).Warn("Scene audio unavailable, using silence")
			} else {
				name := fmt.Sprintf("aud_%03d%s", scene.Index, audioExt(scene.AudioAssetURL))
				if err := os.WriteFile(filepath.Join(workDir, name), data, 0o644); err != nil {
					return fmt.Errorf("write scene audio: %w", err)
				}
				input = []string{"-i", name, "-af", "apad"}
			}
		}
		if input == nil {
			input = []string{"-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo"}
		}

		args := append(input, "-t", dur, "-ar", "44100", "-ac", "2", "-c:a", "pcm_s16le", segments[i])
		if err := r.encoder.Run(ctx, workDir, args); err != nil {
			return fmt.Errorf("scene %d audio: %w", scene.Index, err)
		}
	}
	if err := r.concat(ctx, workDir, "audio.txt", segments, "narration.wav"); err != nil {
		return fmt.Errorf("concat audio: %w", err)
	}
	return nil
}

func (r *Renderer) concat(ctx context.Context, workDir, listName string, files []string, out string) error {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "file '%s'\n", f)
	}
	if err := os.WriteFile(filepath.Join(workDir, listName), []byte(b.String()), 0o644); err != nil {
		return err
	}
	return r.encoder.Run(ctx, workDir, []string{"-f", "concat", "-safe", "0", "-i", listName, "-c", "copy", out})
}

func (r *Renderer) upload(ctx context.Context, workDir, name, key, contentType string) (string, error) {
	f, err := os.Open(filepath.Join(workDir, name))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	url, err := r.storage.Upload(ctx, key, f, contentType)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return url, nil
}

func imageExt(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".png"
}

func audioExt(url string) string {
	if ext := path.Ext(url); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".audio"
}
