package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/config"
	"github.com/reelforge/api/internal/model"
)

func fastCaller() *Caller {
	return NewCaller(CallerOptions{
		MaxConcurrent:   2,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &APIError{Provider: "p", StatusCode: 429}, true},
		{"timeout", &APIError{Provider: "p", StatusCode: 408}, true},
		{"server error", &APIError{Provider: "p", StatusCode: 503}, true},
		{"bad request", &APIError{Provider: "p", StatusCode: 400}, false},
		{"unauthorized", &APIError{Provider: "p", StatusCode: 401}, false},
		{"wrapped server error", fmt.Errorf("call: %w", &APIError{StatusCode: 502}), true},
		{"transport", errors.New("connection reset by peer"), true},
		{"fatal", fatalf("bad json"), false},
		{"not configured", ErrNotConfigured, false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestCall_RetriesRetryableErrors(t *testing.T) {
	c := fastCaller()
	var calls atomic.Int32

	got, err := Call(context.Background(), c, "test", func(ctx context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", &APIError{Provider: "test", StatusCode: 429}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_FatalErrorFailsFast(t *testing.T) {
	c := fastCaller()
	var calls atomic.Int32

	_, err := Call(context.Background(), c, "test", func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, &APIError{Provider: "test", StatusCode: 400, Body: "bad prompt"}
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_GivesUpAfterMaxAttempts(t *testing.T) {
	c := fastCaller()
	var calls atomic.Int32

	_, err := Call(context.Background(), c, "test", func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, &APIError{Provider: "test", StatusCode: 500}
	})

	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_RespectsGlobalCap(t *testing.T) {
	c := NewCaller(CallerOptions{MaxConcurrent: 2, MaxAttempts: 1})
	var inFlight, peak atomic.Int32

	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = Call(context.Background(), c, "test", func(ctx context.Context) (bool, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return true, nil
			})
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGroqClient_ChatJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"caption\":\"hi\",\"hashtags\":[\"a\"]}"}}]}`)
	}))
	defer srv.Close()

	writer := NewScriptWriter(NewGroqClient(&config.GroqConfig{APIKey: "key", BaseURL: srv.URL, Model: "m"}))
	caption, err := writer.GenerateCaption(context.Background(), &CaptionRequest{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "hi", caption.Caption)
	assert.Equal(t, []string{"a"}, caption.Hashtags)
}

func TestGroqClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"slow down"}`)
	}))
	defer srv.Close()

	groq := NewGroqClient(&config.GroqConfig{APIKey: "key", BaseURL: srv.URL})
	_, err := groq.ChatCompletion(context.Background(), "s", "u")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "groq", apiErr.Provider)
	assert.True(t, IsRetryable(err))
}

func TestGroqClient_NotConfigured(t *testing.T) {
	groq := NewGroqClient(&config.GroqConfig{})
	_, err := groq.ChatCompletion(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestImageClient_DecodesBase64(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		fmt.Fprintf(w, `{"data":[{"b64_json":"%s"}]}`, base64.StdEncoding.EncodeToString(png))
	}))
	defer srv.Close()

	img := NewImageClient(&config.ProviderConfig{APIKey: "key", BaseURL: srv.URL, Model: "m"})
	data, err := img.GenerateImage(context.Background(), "a cat", 1080, 1920)
	require.NoError(t, err)
	assert.Equal(t, png, data)
}

func TestGoldenScriptWriter_Deterministic(t *testing.T) {
	req := &ScriptRequest{ContentType: model.ContentTypeFacts, Topic: "octopus", TargetDurationSec: 30, SceneCount: 3}

	a, err := GoldenScriptWriter{}.GenerateScript(context.Background(), req)
	require.NoError(t, err)
	b, err := GoldenScriptWriter{}.GenerateScript(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.Scenes, 3)
	assert.InDelta(t, 10.0, a.Scenes[0].DurationSeconds, 0.001)
	assert.Contains(t, a.Script, "octopus")
}

func TestScriptRequest_Scenes(t *testing.T) {
	tests := []struct {
		name string
		req  ScriptRequest
		want int
	}{
		{"explicit count", ScriptRequest{TargetDurationSec: 30, SceneCount: 4}, 4},
		{"derived from duration", ScriptRequest{TargetDurationSec: 30}, 5},
		{"short video gets one scene", ScriptRequest{TargetDurationSec: 5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Scenes())
		})
	}
}

func TestScriptWriter_PromptWithoutSceneCount(t *testing.T) {
	w := NewScriptWriter(nil)
	prompt := w.buildScriptPrompt(&ScriptRequest{ContentType: model.ContentTypeFacts, Topic: "octopus", TargetDurationSec: 60})
	assert.Contains(t, prompt, "exactly 10 scenes")
	assert.NotContains(t, prompt, "exactly 0 scenes")

	script, err := GoldenScriptWriter{}.GenerateScript(context.Background(), &ScriptRequest{ContentType: model.ContentTypeFacts, TargetDurationSec: 60})
	require.NoError(t, err)
	assert.Len(t, script.Scenes, 10)
}

func TestGoldenScriptWriter_Caption(t *testing.T) {
	caption, err := GoldenScriptWriter{}.GenerateCaption(context.Background(), &CaptionRequest{
		ContentType: model.ContentTypeFacts, Title: "Three facts about octopus",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, caption.Caption)
	assert.NotEmpty(t, caption.Hashtags)
}

func TestGoldenSpeechGenerator_WAVLength(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	wav, err := GoldenSpeechGenerator{}.Synthesize(context.Background(), text, "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(wav), "RIFF"))
	seconds := model.EstimateSpeechSeconds(text)
	assert.Equal(t, 44+int(seconds*goldenSampleRate)*2, len(wav))
}

func TestMemoryStorage_RoundTrip(t *testing.T) {
	m := NewMemoryStorage()
	url, err := m.Upload(context.Background(), "videos/a.mp4", strings.NewReader("data"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "mem://videos/a.mp4", url)

	data, err := m.Download(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.Equal(t, "video/mp4", m.ContentType("videos/a.mp4"))

	_, err = m.Download(context.Background(), "mem://missing")
	assert.Error(t, err)
}
