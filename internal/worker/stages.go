package worker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/render"
	"github.com/reelforge/api/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// maxConsecutiveProbeFailures aborts the audio stage rather than desync the video
const maxConsecutiveProbeFailures = 3

func (w *VideoWorker) runScript(ctx context.Context, sess *jobSession) error {
	job := sess.snapshot()
	settings := job.Settings

	script, err := client.Call(ctx, w.Caller, "script", func(ctx context.Context) (*client.Script, error) {
		return w.gens.Script.GenerateScript(ctx, &client.ScriptRequest{
			ContentType:       settings.ContentType,
			Topic:             settings.Topic,
			TargetDurationSec: settings.TargetDurationSec,
			SceneCount:        settings.SceneCount,
			Language:          settings.Language,
			VisualStyle:       settings.VisualStyle,
		})
	})
	if err != nil {
		return fmt.Errorf("script generation failed: %w", err)
	}
	if len(script.Scenes) == 0 {
		return fmt.Errorf("script generation returned no scenes")
	}

	nominal := float64(settings.TargetDurationSec) / float64(len(script.Scenes))
	scenes := make([]model.Scene, len(script.Scenes))
	durations := make([]float64, len(script.Scenes))
	for i, sc := range script.Scenes {
		scenes[i] = model.Scene{
			Index:            i,
			TextOverlay:      sc.TextOverlay,
			VoiceSegmentText: sc.VoiceSegmentText,
			BackgroundPrompt: sc.BackgroundPrompt,
		}
		durations[i] = sc.DurationSeconds
		if durations[i] <= 0 {
			durations[i] = nominal
		}
	}
	total := model.RetimeScenes(scenes, durations)

	return sess.update(ctx, func(j *model.Job) {
		j.Title = script.Title
		j.Script = script.Script
		j.Scenes = scenes
		j.DurationSeconds = total
	})
}

func (w *VideoWorker) runVisualAssets(ctx context.Context, sess *jobSession) error {
	job := sess.snapshot()
	settings := job.Settings

	return w.forEachScene(ctx, sess, job.Scenes, "image", func(ctx context.Context, scene model.Scene) error {
		if scene.BackgroundAssetURL != "" {
			return nil
		}
		log := w.log.WithFields(logrus.Fields{"job_id": job.ID, "stage": model.StageAssetsVisual, "scene": scene.Index})

		prompt := scene.BackgroundPrompt
		if settings.VisualStyle != "" {
			prompt = fmt.Sprintf("%s, %s style", prompt, settings.VisualStyle)
		}
		hash := store.AssetHash(job.ID, string(model.StageAssetsVisual), strconv.Itoa(scene.Index), prompt,
			strconv.Itoa(settings.Width), strconv.Itoa(settings.Height))

		url, err := w.reuseOrGenerate(ctx, &model.Asset{
			JobID:      job.ID,
			Stage:      model.StageAssetsVisual,
			SceneIndex: scene.Index,
			AssetType:  model.AssetTypeImage,
			Hash:       hash,
			Metadata:   map[string]any{"prompt": prompt},
		}, func(ctx context.Context) ([]byte, error) {
			return client.Call(ctx, w.Caller, "image", func(ctx context.Context) ([]byte, error) {
				return w.gens.Image.GenerateImage(ctx, prompt, settings.Width, settings.Height)
			})
		}, func(data []byte) (string, string) {
			ct := http.DetectContentType(data)
			return fmt.Sprintf("assets/%s/scene_%03d%s", job.ID, scene.Index, imageExt(ct)), ct
		})
		if err != nil {
			if w.opts.ImagePlaceholderOnError && ctx.Err() == nil {
				log.WithError(err).Warn("Image generation failed, scene will use a placeholder")
				return nil
			}
			return fmt.Errorf("scene %d image: %w", scene.Index, err)
		}

		return sess.update(ctx, func(j *model.Job) {
			j.Scenes[scene.Index].BackgroundAssetURL = url
		})
	})
}

func (w *VideoWorker) runAudioAssets(ctx context.Context, sess *jobSession) error {
	job := sess.snapshot()
	settings := job.Settings
	format := w.gens.Speech.Format()

	err := w.forEachScene(ctx, sess, job.Scenes, "voiceover", func(ctx context.Context, scene model.Scene) error {
		if scene.AudioAssetURL != "" || strings.TrimSpace(scene.VoiceSegmentText) == "" {
			return nil
		}
		hash := store.AssetHash(job.ID, string(model.StageAssetsAudio), strconv.Itoa(scene.Index),
			scene.VoiceSegmentText, settings.Voice, format)

		url, err := w.reuseOrGenerate(ctx, &model.Asset{
			JobID:      job.ID,
			Stage:      model.StageAssetsAudio,
			SceneIndex: scene.Index,
			AssetType:  model.AssetTypeAudio,
			Hash:       hash,
			Metadata:   map[string]any{"voice": settings.Voice, "format": format},
		}, func(ctx context.Context) ([]byte, error) {
			return client.Call(ctx, w.Caller, "speech", func(ctx context.Context) ([]byte, error) {
				return w.gens.Speech.Synthesize(ctx, scene.VoiceSegmentText, settings.Voice)
			})
		}, func([]byte) (string, string) {
			return fmt.Sprintf("assets/%s/voice_%03d.%s", job.ID, scene.Index, format), audioContentType(format)
		})
		if err != nil {
			return fmt.Errorf("scene %d voiceover: %w", scene.Index, err)
		}

		return sess.update(ctx, func(j *model.Job) {
			j.Scenes[scene.Index].AudioAssetURL = url
		})
	})
	if err != nil {
		return err
	}
	return w.reconcileDurations(ctx, sess)
}

// reconcileDurations replaces nominal scene lengths with probed clip lengths
// and lays the scenes end to end.
func (w *VideoWorker) reconcileDurations(ctx context.Context, sess *jobSession) error {
	job := sess.snapshot()
	durations := make([]float64, len(job.Scenes))
	consecutive := 0

	for i, scene := range job.Scenes {
		if err := w.checkCancelled(ctx, job.ID); err != nil {
			return err
		}
		if scene.AudioAssetURL == "" {
			durations[i] = scene.Duration()
			consecutive = 0
			continue
		}

		d, err := w.probeClip(ctx, scene.AudioAssetURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutive++
			if consecutive >= maxConsecutiveProbeFailures {
				return fmt.Errorf("audio duration probe failed for %d consecutive scenes: %w", consecutive, err)
			}
			d = model.EstimateSpeechSeconds(scene.VoiceSegmentText)
			w.log.WithError(err).WithFields(logrus.Fields{"job_id": job.ID, "scene": scene.Index, "estimate": d}).
				Warn("Audio duration probe failed, using text estimate")
		} else {
			consecutive = 0
		}
		durations[i] = d
	}

	scenes := job.Scenes
	total := model.RetimeScenes(scenes, durations)
	return sess.update(ctx, func(j *model.Job) {
		for i := range j.Scenes {
			j.Scenes[i].StartTime = scenes[i].StartTime
			j.Scenes[i].EndTime = scenes[i].EndTime
			if scenes[i].AudioAssetURL != "" {
				j.Scenes[i].AudioDurationSeconds = durations[i]
			}
		}
		j.DurationSeconds = total
	})
}

func (w *VideoWorker) probeClip(ctx context.Context, url string) (float64, error) {
	data, err := w.Storage.Download(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("download clip: %w", err)
	}
	f, err := os.CreateTemp(w.opts.TempRoot, "probe_*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	res, err := w.Prober.Probe(ctx, f.Name())
	if err != nil {
		return 0, err
	}
	if res.DurationSeconds <= 0 {
		return 0, fmt.Errorf("clip reports zero duration")
	}
	return res.DurationSeconds, nil
}

func (w *VideoWorker) runRender(ctx context.Context, sess *jobSession) error {
	job := sess.snapshot()
	settings := job.Settings

	renderCtx, cancel := context.WithTimeout(ctx, w.opts.RenderTimeout)
	defer cancel()

	res, err := w.Renderer.Render(renderCtx, &render.Input{
		JobID:     job.ID,
		Scenes:    job.Scenes,
		Width:     settings.Width,
		Height:    settings.Height,
		FPS:       settings.FPS,
		Subtitles: settings.Subtitles,
	})
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	inputs := []string{job.ID, string(model.StageRender)}
	for _, s := range job.Scenes {
		inputs = append(inputs, s.BackgroundAssetURL, s.AudioAssetURL, strconv.FormatFloat(s.Duration(), 'f', 3, 64))
	}
	hash := store.AssetHash(inputs...)
	if _, err := w.Assets.Create(ctx, &model.Asset{
		JobID:     job.ID,
		Stage:     model.StageRender,
		AssetType: model.AssetTypeVideo,
		URL:       res.VideoURL,
		Hash:      hash,
		Metadata: map[string]any{
			"durationSeconds":   res.DurationSeconds,
			"sizeBytes":         res.SizeBytes,
			"hasAudio":          res.HasAudio,
			"thumbnailUrl":      res.ThumbnailURL,
			"placeholderScenes": res.PlaceholderScenes,
			"integrity":         "valid",
		},
	}); err != nil {
		return err
	}
	if res.SubtitleURL != "" {
		if _, err := w.Assets.Create(ctx, &model.Asset{
			JobID:     job.ID,
			Stage:     model.StageRender,
			AssetType: model.AssetTypeSubtitle,
			URL:       res.SubtitleURL,
			Hash:      store.AssetHash(hash, "subtitles"),
		}); err != nil {
			return err
		}
	}

	return sess.update(ctx, func(j *model.Job) {
		j.VideoURL = res.VideoURL
		j.ThumbnailURL = res.ThumbnailURL
		j.AudioURL = res.AudioURL
		j.SubtitleURL = res.SubtitleURL
	})
}

func (w *VideoWorker) runCaption(ctx context.Context, sess *jobSession) error {
	job := sess.snapshot()

	caption, err := client.Call(ctx, w.Caller, "caption", func(ctx context.Context) (*client.Caption, error) {
		return w.gens.Caption.GenerateCaption(ctx, &client.CaptionRequest{
			ContentType: job.Settings.ContentType,
			Title:       job.Title,
			Script:      job.Script,
			Language:    job.Settings.Language,
		})
	})
	if err != nil {
		return fmt.Errorf("caption generation failed: %w", err)
	}

	text := strings.TrimSpace(caption.Caption)
	if text == "" {
		text = job.Title
	}
	hashtags := normalizeHashtags(caption.Hashtags, job.Settings.ContentType)

	return sess.update(ctx, func(j *model.Job) {
		j.Caption = text
		j.Hashtags = hashtags
	})
}

// forEachScene runs fn for every scene with bounded fan-out. Cancellation is
// checked as each scene starts. Once any scene fails or sees the cancel flag no
// new scene starts, but scenes already running finish their call on ctx.
func (w *VideoWorker) forEachScene(ctx context.Context, sess *jobSession, scenes []model.Scene, noun string, fn func(ctx context.Context, scene model.Scene) error) error {
	jobID := sess.snapshot().ID
	var g errgroup.Group
	g.SetLimit(w.opts.SceneConcurrency)

	var (
		stopped atomic.Bool
		done    atomic.Int32
	)
	total := len(scenes)
	stop := func(err error) error {
		stopped.Store(true)
		return err
	}

	for _, scene := range scenes {
		if stopped.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stopped.Load() {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return stop(err)
			}
			if err := w.checkCancelled(ctx, jobID); err != nil {
				return stop(err)
			}
			if err := fn(ctx, scene); err != nil {
				return stop(err)
			}
			n := done.Add(1)
			if err := sess.progress(ctx, float64(n)/float64(total), fmt.Sprintf("Generated %s %d of %d", noun, n, total)); err != nil {
				return stop(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func normalizeHashtags(tags []string, contentType model.ContentType) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tags {
		t = strings.Join(strings.Fields(strings.TrimPrefix(strings.TrimSpace(t), "#")), "")
		if t == "" {
			continue
		}
		t = "#" + t
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		out = []string{"#" + string(contentType), "#shorts"}
	}
	return out
}

func imageExt(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".png"
}

func audioContentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	}
	return "application/octet-stream"
}

// reuseOrGenerate returns the URL of an existing asset with the same hash, or
// generates, uploads and records a new one.
func (w *VideoWorker) reuseOrGenerate(ctx context.Context, asset *model.Asset, generate func(ctx context.Context) ([]byte, error), name func(data []byte) (key, contentType string)) (string, error) {
	existing, err := w.Assets.FindByHash(ctx, asset.Hash)
	if err != nil {
		return "", err
	}
	if existing != nil {
		w.log.WithFields(logrus.Fields{"job_id": asset.JobID, "stage": asset.Stage, "scene": asset.SceneIndex}).Debug("Reusing existing asset")
		return existing.URL, nil
	}

	data, err := generate(ctx)
	if err != nil {
		return "", err
	}
	key, contentType := name(data)
	url, err := w.Storage.Upload(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	asset.URL = url
	asset.Metadata["bytes"] = len(data)
	created, err := w.Assets.Create(ctx, asset)
	if err != nil {
		return "", err
	}
	return created.URL, nil
}
