package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/makeastory/api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(nil)
	go h.Run(ctx)
	return h
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHub_BroadcastBeatToSubscribers(t *testing.T) {
	h := startHub(t)
	a := &Client{BatchID: "b1", Send: make(chan []byte, 4)}
	other := &Client{BatchID: "b2", Send: make(chan []byte, 4)}
	h.Register(a)
	h.Register(other)

	beat := model.Beat{ID: 2, Status: model.BeatStatusProcessing}
	h.Observe("b1", model.StageVideo, model.StageState{Status: model.StageStatusRunning, Attempts: 1}, beat)

	var msg model.WSBeatMessage
	require.NoError(t, json.Unmarshal(receive(t, a), &msg))
	assert.Equal(t, model.WSMessageTypeBeat, msg.Type)
	assert.Equal(t, "b1", msg.BatchID)
	assert.Equal(t, model.StageVideo, msg.Stage)
	assert.Equal(t, 2, msg.Beat.ID)
	assert.Empty(t, other.Send)
}

func TestHub_CompleteAndError(t *testing.T) {
	h := startHub(t)
	c := &Client{BatchID: "b1", Send: make(chan []byte, 4)}
	h.Register(c)

	h.BroadcastComplete("b1", &model.BatchResult{SuccessfulVideos: 2, TotalVideos: 3})
	var done model.WSCompleteMessage
	require.NoError(t, json.Unmarshal(receive(t, c), &done))
	assert.Equal(t, model.WSMessageTypeComplete, done.Type)
	assert.Equal(t, 3, done.Result.TotalVideos)

	h.BroadcastError("b1", "BATCH_TIMEOUT", "deadline exceeded")
	var failed model.WSErrorMessage
	require.NoError(t, json.Unmarshal(receive(t, c), &failed))
	assert.Equal(t, "BATCH_TIMEOUT", failed.Error.Code)
}

func TestHub_Unregister(t *testing.T) {
	h := startHub(t)
	c := &Client{BatchID: "b1", Send: make(chan []byte, 1)}
	h.Register(c)
	assert.Eventually(t, func() bool { return h.Subscribers("b1") == 1 }, time.Second, 5*time.Millisecond)

	h.Unregister(c)
	assert.Eventually(t, func() bool { return h.Subscribers("b1") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.Send
	assert.False(t, open)
}

func TestHub_SendDoesNotBlockWithoutLoop(t *testing.T) {
	h := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			h.BroadcastError("b1", "X", "y")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked")
	}
}
