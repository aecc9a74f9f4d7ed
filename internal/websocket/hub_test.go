package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/model"
)

func subscribe(t *testing.T, h *Hub, jobID string, buffer int) *Client {
	t.Helper()
	c := &Client{JobID: jobID, Send: make(chan []byte, buffer)}
	h.Register(c)
	require.Eventually(t, func() bool { return h.Subscribers(jobID) > 0 }, time.Second, time.Millisecond)
	return c
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "channel closed")
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
		return nil
	}
}

func TestHub_FansOutPerJob(t *testing.T) {
	h := NewHub()
	go h.Run()

	a := subscribe(t, h, "job-a", 8)
	b := subscribe(t, h, "job-b", 8)

	eta := 42
	h.BroadcastProgress("job-a", 30, model.JobStatusGeneratingAssets, "Generating images...", &eta)
	msg := receive(t, a)
	assert.Equal(t, model.WSMessageTypeProgress, msg["type"])
	assert.EqualValues(t, 30, msg["progress"])
	assert.EqualValues(t, 42, msg["etaSeconds"])
	assert.Equal(t, "generating_assets", msg["status"])

	h.BroadcastComplete("job-b", model.VideoResult{VideoURL: "mem://v.mp4", Hashtags: []string{"#facts"}})
	msg = receive(t, b)
	assert.Equal(t, model.WSMessageTypeComplete, msg["type"])
	assert.Equal(t, "mem://v.mp4", msg["result"].(map[string]any)["videoUrl"])

	h.BroadcastError("job-a", "CANCELLED", "cancelled by user")
	msg = receive(t, a)
	assert.Equal(t, model.WSMessageTypeError, msg["type"])
	assert.Equal(t, "CANCELLED", msg["error"].(map[string]any)["code"])

	assert.Empty(t, b.Send, "job-b saw nothing of job-a")
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := subscribe(t, h, "job", 1)
	h.Unregister(c)
	require.Eventually(t, func() bool { return h.Subscribers("job") == 0 }, time.Second, time.Millisecond)
	_, ok := <-c.Send
	assert.False(t, ok)

	// A second unregister is harmless.
	h.Unregister(c)
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	h := NewHub()
	go h.Run()

	slow := subscribe(t, h, "job", 0)
	h.BroadcastProgress("job", 10, model.JobStatusRunning, "", nil)
	require.Eventually(t, func() bool { return h.Subscribers("job") == 0 }, time.Second, time.Millisecond)
	_, ok := <-slow.Send
	assert.False(t, ok)
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := NewHub()
	go h.Run()
	for i := 0; i < 1000; i++ {
		h.BroadcastProgress("nobody", i%100, model.JobStatusRunning, "", nil)
	}
	assert.Zero(t, h.Subscribers("nobody"))
}
