package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/lease"
	"github.com/reelforge/api/internal/model"
	"github.com/reelforge/api/internal/render"
	"github.com/reelforge/api/internal/store"
)

// countingGens wraps the golden generators and counts external calls.
type countingGens struct {
	scripts, images, speeches, captions atomic.Int32
	// onImage runs before every image; a non-nil error fails that call.
	onImage func(ctx context.Context, n int32) error
}

func (g *countingGens) GenerateScript(ctx context.Context, req *client.ScriptRequest) (*client.Script, error) {
	g.scripts.Add(1)
	return client.GoldenScriptWriter{}.GenerateScript(ctx, req)
}

func (g *countingGens) GenerateImage(ctx context.Context, prompt string, w, h int) ([]byte, error) {
	n := g.images.Add(1)
	if g.onImage != nil {
		if err := g.onImage(ctx, n); err != nil {
			return nil, err
		}
	}
	return client.GoldenImageGenerator{}.GenerateImage(ctx, prompt, w, h)
}

func (g *countingGens) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	g.speeches.Add(1)
	return client.GoldenSpeechGenerator{}.Synthesize(ctx, text, voice)
}

func (g *countingGens) Format() string { return "wav" }

func (g *countingGens) GenerateCaption(ctx context.Context, req *client.CaptionRequest) (*client.Caption, error) {
	g.captions.Add(1)
	return client.GoldenScriptWriter{}.GenerateCaption(ctx, req)
}

type recordingNotifier struct {
	mu        sync.Mutex
	progress  []int
	completed []model.VideoResult
	errors    []string
}

func (n *recordingNotifier) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string, eta *int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, progress)
}

func (n *recordingNotifier) BroadcastComplete(jobID string, result model.VideoResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, result)
}

func (n *recordingNotifier) BroadcastError(jobID string, code, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, code)
}

// wavProber derives the duration of a 16 kHz mono PCM file from its size.
type wavProber struct {
	calls atomic.Int32
	fail  func(call int32) bool
}

func (p *wavProber) Probe(ctx context.Context, path string) (*render.ProbeResult, error) {
	n := p.calls.Add(1)
	if p.fail != nil && p.fail(n) {
		return nil, errors.New("probe failed")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &render.ProbeResult{DurationSeconds: float64(info.Size()-44) / 32000, HasAudio: true}, nil
}

// fakeRenderer uploads a stub video and reports the scene timeline as its length.
type fakeRenderer struct {
	storage client.StorageClient
	calls   atomic.Int32
	last    *render.Input
}

func (r *fakeRenderer) Render(ctx context.Context, in *render.Input) (*render.Result, error) {
	r.calls.Add(1)
	r.last = in
	url, err := r.storage.Upload(ctx, "videos/"+in.JobID+"/video.mp4", strings.NewReader("video"), "video/mp4")
	if err != nil {
		return nil, err
	}
	return &render.Result{
		VideoURL:        url,
		ThumbnailURL:    r.storage.GetPublicURL("videos/" + in.JobID + "/thumbnail.jpg"),
		DurationSeconds: in.Scenes[len(in.Scenes)-1].EndTime,
		HasAudio:        true,
	}, nil
}

type harness struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	jobs     *store.JobStore
	assets   *store.AssetStore
	leases   *lease.Manager
	storage  *client.MemoryStorage
	gens     *countingGens
	notifier *recordingNotifier
	prober   *wavProber
	renderer *fakeRenderer
	deps     Deps
	opts     Options
	worker   *VideoWorker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := &harness{
		mr:       mr,
		rdb:      rdb,
		jobs:     store.NewJobStore(rdb),
		assets:   store.NewAssetStore(rdb),
		leases:   lease.NewManager(rdb),
		storage:  client.NewMemoryStorage(),
		gens:     &countingGens{},
		notifier: &recordingNotifier{},
		prober:   &wavProber{},
	}
	h.renderer = &fakeRenderer{storage: h.storage}
	h.deps = Deps{
		Jobs:     h.jobs,
		Assets:   h.assets,
		Stats:    store.NewStatsStore(rdb),
		Leases:   h.leases,
		Caller:   client.NewCaller(client.CallerOptions{MaxConcurrent: 4, MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}),
		Storage:  h.storage,
		Renderer: h.renderer,
		Prober:   h.prober,
		Notifier: h.notifier,
	}
	h.opts = Options{
		LeaseTTL:         time.Minute,
		RenewInterval:    time.Second,
		SceneConcurrency: 1,
		ProbeAttempts:    3,
		ProbeInterval:    time.Millisecond,
		TempRoot:         t.TempDir(),
	}
	h.build()
	return h
}

// build (re)creates the worker after deps or opts are changed.
func (h *harness) build() {
	gens := Generators{Script: h.gens, Image: h.gens, Speech: h.gens, Caption: h.gens}
	h.worker = NewVideoWorker(h.deps, gens, h.opts, "worker-a")
}

func (h *harness) createJob(t *testing.T, scenes int) string {
	t.Helper()
	job := &model.Job{
		ID: uuid.NewString(),
		Settings: model.Settings{
			ContentType:       model.ContentTypeFacts,
			Topic:             "octopuses",
			TargetDurationSec: 30,
			SceneCount:        scenes,
			Width:             1080,
			Height:            1920,
			FPS:               30,
			Subtitles:         model.SubtitleStyle{Enabled: true},
		},
	}
	require.NoError(t, h.jobs.CreateJob(context.Background(), job))
	return job.ID
}

func (h *harness) job(t *testing.T, id string) *model.Job {
	t.Helper()
	job, err := h.jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *harness) steps(t *testing.T, id string) map[model.StageType]model.StepStatus {
	t.Helper()
	steps, err := h.jobs.GetSteps(context.Background(), id)
	require.NoError(t, err)
	out := make(map[model.StageType]model.StepStatus, len(steps))
	for _, s := range steps {
		out[s.Stage] = s.Status
	}
	return out
}

func assertContiguous(t *testing.T, job *model.Job) {
	t.Helper()
	require.NotEmpty(t, job.Scenes)
	assert.Zero(t, job.Scenes[0].StartTime)
	for i := 0; i+1 < len(job.Scenes); i++ {
		assert.Equal(t, job.Scenes[i].EndTime, job.Scenes[i+1].StartTime, "scene %d", i)
	}
	assert.InDelta(t, job.DurationSeconds, job.Scenes[len(job.Scenes)-1].EndTime, 1e-9)
}

func TestProcessJob_GoldenJob(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, 3)

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.ProgressPercent)
	assert.NotEmpty(t, job.Caption)
	assert.NotEmpty(t, job.Hashtags)
	assert.NotNil(t, job.CompletedAt)
	assert.NotEmpty(t, job.VideoURL)
	assert.Empty(t, job.LockedBy, "lease released")

	for _, stage := range model.Pipeline {
		assert.Equal(t, model.StepStatusCompleted, h.steps(t, id)[stage.Type], string(stage.Type))
	}

	// Scene lengths come from the probed narration, not the nominal 10s each.
	assertContiguous(t, job)
	var total float64
	for _, s := range job.Scenes {
		assert.NotEmpty(t, s.BackgroundAssetURL)
		assert.NotEmpty(t, s.AudioAssetURL)
		want := model.EstimateSpeechSeconds(s.VoiceSegmentText)
		assert.InDelta(t, want, s.AudioDurationSeconds, 1e-3)
		total += want
	}
	assert.InDelta(t, total, job.DurationSeconds, 1e-2)

	assets, err := h.assets.ListForJob(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, assets, 7)
	video := assets[6]
	assert.Equal(t, model.AssetTypeVideo, video.AssetType)
	assert.Equal(t, job.VideoURL, video.URL)
	assert.Equal(t, "valid", video.Metadata["integrity"])

	active, err := h.jobs.ListActiveJobIDs(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, active, id)

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	require.NotEmpty(t, h.notifier.progress)
	for i := 1; i < len(h.notifier.progress); i++ {
		assert.GreaterOrEqual(t, h.notifier.progress[i], h.notifier.progress[i-1], "progress went backwards at %d", i)
	}
	require.Len(t, h.notifier.completed, 1)
	assert.Equal(t, job.VideoURL, h.notifier.completed[0].VideoURL)
}

func TestProcessJob_ResumeRegeneratesOnlyUnfinishedScenes(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, 5)

	// Kill the worker while the third image is being generated.
	ctx, kill := context.WithCancel(context.Background())
	h.gens.onImage = func(ctx context.Context, n int32) error {
		if n == 3 {
			kill()
			return context.Canceled
		}
		return nil
	}
	err := h.worker.ProcessJob(ctx, id)
	require.ErrorIs(t, err, context.Canceled)

	job := h.job(t, id)
	assert.False(t, job.Status.IsTerminal(), "interrupted job stays resumable")
	assert.NotEmpty(t, job.Scenes[0].BackgroundAssetURL)
	assert.NotEmpty(t, job.Scenes[1].BackgroundAssetURL)
	assert.Empty(t, job.Scenes[2].BackgroundAssetURL)
	finished := []string{job.Scenes[0].BackgroundAssetURL, job.Scenes[1].BackgroundAssetURL}

	before := h.gens.images.Load()
	h.gens.onImage = nil
	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job = h.job(t, id)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, int32(1), h.gens.scripts.Load(), "completed script step is not rerun")
	assert.Equal(t, int32(3), h.gens.images.Load()-before, "only the unfinished scenes are generated")
	assert.Equal(t, finished, []string{job.Scenes[0].BackgroundAssetURL, job.Scenes[1].BackgroundAssetURL})

	visual, err := h.jobs.GetStep(context.Background(), id, model.StageAssetsVisual)
	require.NoError(t, err)
	assert.Equal(t, 2, visual.Attempts)
}

func TestProcessJob_CompletedJobIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, 2)
	require.NoError(t, h.worker.ProcessJob(context.Background(), id))
	first := h.job(t, id)

	calls := h.gens.scripts.Load() + h.gens.images.Load() + h.gens.speeches.Load() + h.gens.captions.Load()
	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	assert.Equal(t, calls, h.gens.scripts.Load()+h.gens.images.Load()+h.gens.speeches.Load()+h.gens.captions.Load())
	assert.Equal(t, first.VideoURL, h.job(t, id).VideoURL)
	assert.Equal(t, int32(1), h.renderer.calls.Load())
}

func TestProcessJob_ResumeReusesRecordedAssets(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, 2)
	ctx := context.Background()

	// A previous owner generated and recorded scene 0's image, then crashed
	// before the job record picked up its URL.
	prompt := "octopuses, scene 1, "
	hash := store.AssetHash(id, string(model.StageAssetsVisual), "0", prompt, "1080", "1920")
	_, err := h.assets.Create(ctx, &model.Asset{
		JobID:     id,
		Stage:     model.StageAssetsVisual,
		AssetType: model.AssetTypeImage,
		URL:       "mem://assets/" + id + "/scene_000.png",
		Hash:      hash,
	})
	require.NoError(t, err)
	img, err := client.GoldenImageGenerator{}.GenerateImage(ctx, prompt, 1080, 1920)
	require.NoError(t, err)
	_, err = h.storage.Upload(ctx, "assets/"+id+"/scene_000.png", strings.NewReader(string(img)), "image/png")
	require.NoError(t, err)

	require.NoError(t, h.worker.ProcessJob(ctx, id))

	job := h.job(t, id)
	require.Equal(t, model.JobStatusCompleted, job.Status, job.ErrorMessage)
	assert.Equal(t, int32(1), h.gens.images.Load(), "recorded asset is reused, not regenerated")
	assert.Equal(t, "mem://assets/"+id+"/scene_000.png", job.Scenes[0].BackgroundAssetURL)
	assert.Equal(t, "mem://assets/"+id+"/scene_001.png", job.Scenes[1].BackgroundAssetURL)
}

func TestProcessJob_Cancellation(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, 4)

	h.gens.onImage = func(ctx context.Context, n int32) error {
		if n == 1 {
			_, err := h.jobs.RequestCancel(context.Background(), id)
			return err
		}
		return nil
	}
	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "cancelled by user", job.ErrorMessage)
	assert.True(t, job.CancelRequested)
	assert.Equal(t, int32(1), h.gens.images.Load(), "no new image calls after cancellation")
	assert.Zero(t, h.gens.speeches.Load())
	assert.Zero(t, h.renderer.calls.Load())

	steps := h.steps(t, id)
	assert.Equal(t, model.StepStatusCompleted, steps[model.StageScript])
	assert.Equal(t, model.StepStatusFailed, steps[model.StageAssetsVisual])
	assert.Equal(t, model.StepStatusQueued, steps[model.StageRender])
	assert.Equal(t, []string{ErrCodeCancelled}, h.notifier.errors)
}

func TestProcessJob_SceneFanOut(t *testing.T) {
	h := newHarness(t)
	h.opts.SceneConcurrency = 3
	h.deps.Caller = client.NewCaller(client.CallerOptions{MaxConcurrent: 2, MaxAttempts: 1})
	h.build()
	id := h.createJob(t, 5)

	var inFlight, peak atomic.Int32
	h.gens.onImage = func(ctx context.Context, n int32) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		// Earlier calls finish later so scenes complete out of order.
		time.Sleep(time.Duration(6-n) * 5 * time.Millisecond)
		return nil
	}

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	require.Equal(t, model.JobStatusCompleted, job.Status, job.ErrorMessage)
	assert.Equal(t, int32(5), h.gens.images.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2), "outbound calls stay under the global cap")
	for i, s := range job.Scenes {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, fmt.Sprintf("mem://assets/%s/scene_%03d.png", id, i), s.BackgroundAssetURL)
		assert.Equal(t, fmt.Sprintf("mem://assets/%s/voice_%03d.wav", id, i), s.AudioAssetURL)
	}
	assertContiguous(t, job)

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	for i := 1; i < len(h.notifier.progress); i++ {
		assert.GreaterOrEqual(t, h.notifier.progress[i], h.notifier.progress[i-1], "progress went backwards at %d", i)
	}
}

func TestProcessJob_CancellationLetsRunningScenesFinish(t *testing.T) {
	h := newHarness(t)
	h.opts.SceneConcurrency = 2
	h.build()
	id := h.createJob(t, 3)

	cancelled := make(chan struct{})
	var interrupted atomic.Bool
	h.gens.onImage = func(ctx context.Context, n int32) error {
		switch n {
		case 1:
			<-cancelled
			// Give the next scene time to observe the flag before this call finishes.
			select {
			case <-ctx.Done():
				interrupted.Store(true)
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		case 2:
			defer close(cancelled)
			_, err := h.jobs.RequestCancel(context.Background(), id)
			return err
		}
		return nil
	}

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	assert.False(t, interrupted.Load(), "running image call was interrupted")
	job := h.job(t, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "cancelled by user", job.ErrorMessage)
	assert.Equal(t, int32(2), h.gens.images.Load(), "no image call starts after cancellation")
	assert.Equal(t, fmt.Sprintf("mem://assets/%s/scene_000.png", id), job.Scenes[0].BackgroundAssetURL)
	assert.Equal(t, fmt.Sprintf("mem://assets/%s/scene_001.png", id), job.Scenes[1].BackgroundAssetURL)
	assert.Empty(t, job.Scenes[2].BackgroundAssetURL)
	assert.Zero(t, h.gens.speeches.Load())
	assert.Equal(t, []string{ErrCodeCancelled}, h.notifier.errors)
}

func TestProcessJob_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, 2)
	_, err := h.jobs.RequestCancel(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	assert.Equal(t, model.JobStatusFailed, h.job(t, id).Status)
	assert.Zero(t, h.gens.scripts.Load())
}

// stubEncoder writes every requested output so the real renderer can run.
type stubEncoder struct{}

func (stubEncoder) Run(ctx context.Context, workDir string, args []string) error {
	return os.WriteFile(filepath.Join(workDir, args[len(args)-1]), make([]byte, 4096), 0o644)
}

type fixedProber struct{ result render.ProbeResult }

func (p fixedProber) Probe(ctx context.Context, path string) (*render.ProbeResult, error) {
	r := p.result
	return &r, nil
}

func TestProcessJob_IntegrityGateFailsRender(t *testing.T) {
	h := newHarness(t)
	h.deps.Renderer = render.NewRenderer(stubEncoder{},
		fixedProber{render.ProbeResult{DurationSeconds: 0, HasVideo: true, HasAudio: true, Width: 1080, Height: 1920}},
		h.storage, nil, render.Options{TempRoot: t.TempDir(), MinOutputBytes: 1024})
	h.build()
	id := h.createJob(t, 2)

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "integrity")
	assert.Empty(t, job.VideoURL)

	steps := h.steps(t, id)
	assert.Equal(t, model.StepStatusFailed, steps[model.StageRender])
	assert.Equal(t, model.StepStatusQueued, steps[model.StageCaption])
	assert.Zero(t, h.gens.captions.Load())
	assert.Equal(t, []string{ErrCodeVideoFailed}, h.notifier.errors)
}

func TestProcessJob_RealRendererHappyPath(t *testing.T) {
	h := newHarness(t)
	h.deps.Renderer = render.NewRenderer(stubEncoder{},
		fixedProber{render.ProbeResult{DurationSeconds: 10.4, HasVideo: true, HasAudio: true, Width: 1080, Height: 1920}},
		h.storage, nil, render.Options{TempRoot: t.TempDir(), MinOutputBytes: 1024})
	h.build()
	id := h.createJob(t, 2)

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	require.Equal(t, model.JobStatusCompleted, job.Status, job.ErrorMessage)
	assert.Equal(t, "mem://videos/"+id+"/video.mp4", job.VideoURL)
	assert.Equal(t, "mem://videos/"+id+"/subtitles.srt", job.SubtitleURL)
	assert.Equal(t, "mem://videos/"+id+"/narration.wav", job.AudioURL)
}

func TestProcessJob_AudioProbeIsolatedFailureUsesEstimate(t *testing.T) {
	h := newHarness(t)
	// All three attempts for the first clip fail, the rest succeed.
	h.prober.fail = func(call int32) bool { return call <= 3 }
	id := h.createJob(t, 3)

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	require.Equal(t, model.JobStatusCompleted, job.Status, job.ErrorMessage)
	assertContiguous(t, job)
	assert.InDelta(t, model.EstimateSpeechSeconds(job.Scenes[0].VoiceSegmentText), job.Scenes[0].AudioDurationSeconds, 1e-9)
}

func TestProcessJob_AudioProbeConsecutiveFailuresAbort(t *testing.T) {
	h := newHarness(t)
	h.prober.fail = func(int32) bool { return true }
	id := h.createJob(t, 4)

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "3 consecutive scenes")
	assert.Equal(t, int32(9), h.prober.calls.Load(), "three scenes, three attempts each")
	assert.Zero(t, h.renderer.calls.Load())
}

func TestProcessJob_LeaseHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, 2)
	ok, err := h.leases.Acquire(context.Background(), id, "worker-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, "worker-b", job.LockedBy)
	assert.Zero(t, h.gens.scripts.Load())
}

func TestProcessJob_LeaseLostAbandonsSilently(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, 3)

	h.gens.onImage = func(ctx context.Context, n int32) error {
		if n == 1 {
			// Another worker took over after our lease lapsed.
			return h.rdb.HSet(context.Background(), store.LeaseKey(id),
				"owner", "worker-b",
				"locked_at", time.Now().UnixMilli(),
				"expires_at", time.Now().Add(time.Hour).UnixMilli(),
			).Err()
		}
		return nil
	}
	require.NoError(t, h.worker.ProcessJob(context.Background(), id))

	job := h.job(t, id)
	assert.False(t, job.Status.IsTerminal(), "abandoned job is not failed")
	assert.Equal(t, "worker-b", job.LockedBy, "the new owner's lease survives our release")
	assert.Equal(t, int32(1), h.gens.images.Load())
	assert.Empty(t, h.notifier.errors)
}

func TestStepRunner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createJob(t, 1)
	ok, err := h.leases.Acquire(ctx, id, "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	stats := store.NewStatsStore(h.rdb)
	runner := NewStepRunner(h.jobs, stats, "worker-a")
	clock := time.Unix(1_700_000_000, 0)
	runner.Now = func() time.Time {
		clock = clock.Add(2 * time.Second)
		return clock
	}

	t.Run("failure marks the step failed", func(t *testing.T) {
		ran, err := runner.RunStep(ctx, id, model.ContentTypeFacts, model.StageScript, func(ctx context.Context) error {
			return errors.New("provider down")
		})
		assert.True(t, ran)
		assert.EqualError(t, err, "provider down")

		step, err := h.jobs.GetStep(ctx, id, model.StageScript)
		require.NoError(t, err)
		assert.Equal(t, model.StepStatusFailed, step.Status)
		assert.Equal(t, "provider down", step.Message)
		assert.Equal(t, 1, step.Attempts)
	})

	t.Run("success completes and records duration", func(t *testing.T) {
		ran, err := runner.RunStep(ctx, id, model.ContentTypeFacts, model.StageScript, func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)

		step, err := h.jobs.GetStep(ctx, id, model.StageScript)
		require.NoError(t, err)
		assert.Equal(t, model.StepStatusCompleted, step.Status)
		assert.Equal(t, int64(2000), step.DurationMs)
		assert.Empty(t, step.Message)
		assert.Equal(t, 2, step.Attempts)

		got, err := stats.Get(ctx, model.ContentTypeFacts, model.StageScript)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.SampleCount)
		assert.InDelta(t, 2000, got.AvgDurationMs, 0.001)
	})

	t.Run("completed step is skipped", func(t *testing.T) {
		called := false
		ran, err := runner.RunStep(ctx, id, model.ContentTypeFacts, model.StageScript, func(ctx context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, ran)
		assert.False(t, called)
	})

	t.Run("without the lease nothing runs", func(t *testing.T) {
		intruder := NewStepRunner(h.jobs, stats, "worker-b")
		called := false
		_, err := intruder.RunStep(ctx, id, model.ContentTypeFacts, model.StageCaption, func(ctx context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, store.ErrLeaseLost)
		assert.False(t, called)
	})
}

func TestNormalizeHashtags(t *testing.T) {
	assert.Equal(t, []string{"#facts", "#DidYouKnow"}, normalizeHashtags([]string{"facts", "#Did You Know", "#FACTS", " "}, model.ContentTypeFacts))
	assert.Equal(t, []string{"#story", "#shorts"}, normalizeHashtags(nil, model.ContentTypeStory))
}
