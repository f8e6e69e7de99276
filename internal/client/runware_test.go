package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makeastory/api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances instantly whenever something waits on it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type runwareTask map[string]interface{}

func newRunwareServer(t *testing.T, handle func(task runwareTask) (int, interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var tasks []runwareTask
		if err := json.NewDecoder(r.Body).Decode(&tasks); err != nil || len(tasks) != 1 {
			t.Errorf("bad task payload: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		status, body := handle(tasks[0])
		w.WriteHeader(status)
		if s, ok := body.(string); ok {
			_, _ = w.Write([]byte(s))
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRunware(url string) *RunwareClient {
	return NewRunwareClient(&config.RunwareConfig{
		APIKey:       "test-key",
		BaseURL:      url,
		ImageModel:   "runware:101@1",
		VideoModel:   "bytedance:1@1",
		ImageWidth:   1248,
		ImageHeight:  704,
		PollInterval: 10 * time.Second,
		PollTimeout:  300 * time.Second,
		MinDuration:  1,
		MaxDuration:  12,
	}, nil).WithClock(newFakeClock())
}

func dataItem(task runwareTask, fields map[string]interface{}) map[string]interface{} {
	item := map[string]interface{}{"taskType": task["taskType"], "taskUUID": task["taskUUID"]}
	for k, v := range fields {
		item[k] = v
	}
	return map[string]interface{}{"data": []interface{}{item}}
}

func TestPreprocessPose_ThirdCandidateField(t *testing.T) {
	srv := newRunwareServer(t, func(task runwareTask) (int, interface{}) {
		assert.Equal(t, "imageControlNetPreProcess", task["taskType"])
		assert.Equal(t, "openpose", task["preProcessorType"])
		return http.StatusOK, dataItem(task, map[string]interface{}{
			"guideImageBase64Data": "aGVsbG8=",
			"cost":                 0.0013,
		})
	})

	res, err := newTestRunware(srv.URL).PreprocessPose(context.Background(), ParseMedia("https://example.com/me.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "guideImageBase64Data", res.Field)
	assert.Equal(t, MediaBase64, res.Payload.Media.Kind)
	assert.Equal(t, "aGVsbG8=", res.Payload.Media.Value)
	require.NotNil(t, res.Cost)
	assert.InDelta(t, 0.0013, *res.Cost, 1e-9)
}

func TestPreprocessPose_NoKnownField(t *testing.T) {
	srv := newRunwareServer(t, func(task runwareTask) (int, interface{}) {
		return http.StatusOK, dataItem(task, map[string]interface{}{"somethingElse": "x"})
	})

	_, err := newTestRunware(srv.URL).PreprocessPose(context.Background(), ParseMedia("https://example.com/me.jpg"))
	require.Error(t, err)
	assert.Equal(t, KindUnexpectedShape, KindOf(err))
}

func TestPreprocessPose_RequiresImage(t *testing.T) {
	_, err := newTestRunware("http://unused").PreprocessPose(context.Background(), Media{})
	assert.Equal(t, KindInputValidation, KindOf(err))
}

func TestSynthesizeImage_SendsReferencesInOrder(t *testing.T) {
	var refs []interface{}
	srv := newRunwareServer(t, func(task runwareTask) (int, interface{}) {
		refs, _ = task["referenceImages"].([]interface{})
		assert.Equal(t, "a knight\n\nwatercolor", task["positivePrompt"])
		return http.StatusOK, dataItem(task, map[string]interface{}{
			"imageURL":  "https://im.runware.ai/image/out.png",
			"imageUUID": "8f5b0c4e-1111-4d3c-9c1e-7a1f0a2b3c4d",
			"seed":      42,
		})
	})

	req := SynthesisRequest{
		Prompt: "a knight\n\nwatercolor",
		ReferenceImages: []Media{
			ParseMedia("https://example.com/pose.png"),
			ParseMedia("https://example.com/character.png"),
			ParseMedia("https://example.com/style.png"),
		},
	}
	res, err := newTestRunware(srv.URL).SynthesizeImage(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []interface{}{
		"https://example.com/pose.png",
		"https://example.com/character.png",
		"https://example.com/style.png",
	}, refs)
	assert.Equal(t, "imageURL", res.Field)
	assert.Equal(t, MediaURL, res.Payload.Media.Kind)
	assert.Equal(t, "8f5b0c4e-1111-4d3c-9c1e-7a1f0a2b3c4d", res.Payload.UUID)
	require.NotNil(t, res.Seed)
	assert.EqualValues(t, 42, *res.Seed)
}

func TestSynthesizeImage_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   interface{}
		kind   ErrorKind
	}{
		{"http error", http.StatusInternalServerError, `{"error":"boom"}`, KindHTTP},
		{"malformed body", http.StatusOK, `{"data": [`, KindMalformedResponse},
		{"provider error", http.StatusOK, map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"code": "invalidModel", "message": "model not found"}},
		}, KindProviderReported},
		{"empty data", http.StatusOK, map[string]interface{}{"data": []interface{}{}}, KindUnexpectedShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRunwareServer(t, func(task runwareTask) (int, interface{}) {
				return tt.status, tt.body
			})
			_, err := newTestRunware(srv.URL).SynthesizeImage(context.Background(), SynthesisRequest{Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			if tt.kind == KindHTTP {
				assert.Contains(t, err.Error(), "500")
			}
		})
	}
}

func TestSynthesizeImage_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestRunware(url).SynthesizeImage(context.Background(), SynthesisRequest{Prompt: "p"})
	assert.Equal(t, KindTransport, KindOf(err))
}

func animationRequest() AnimationRequest {
	return AnimationRequest{
		Image:           ParseMedia("https://example.com/frame.png"),
		Prompt:          "smooth animation",
		DurationSeconds: 5,
		Width:           1248,
		Height:          704,
		FPS:             24,
	}
}

func TestAnimateImage_PollsUntilSuccess(t *testing.T) {
	var polls int32
	srv := newRunwareServer(t, func(task runwareTask) (int, interface{}) {
		switch task["taskType"] {
		case "videoInference":
			assert.Equal(t, "async", task["deliveryMethod"])
			frames := task["frameImages"].([]interface{})
			assert.Equal(t, "first", frames[0].(map[string]interface{})["frame"])
			return http.StatusOK, dataItem(task, nil)
		case "getResponse":
			switch atomic.AddInt32(&polls, 1) {
			case 1:
				return http.StatusOK, map[string]interface{}{
					"errors": []interface{}{map[string]interface{}{"code": "taskNotFound", "message": "not ready"}},
				}
			case 2:
				return http.StatusServiceUnavailable, "try later"
			case 3:
				return http.StatusOK, dataItem(task, map[string]interface{}{"status": "processing"})
			default:
				return http.StatusOK, dataItem(task, map[string]interface{}{
					"status":    "success",
					"videoURL":  "https://vm.runware.ai/video/out.mp4",
					"videoUUID": "0b7f7e5c-2222-4c1d-8d1e-6b2f1c3d4e5f",
					"cost":      0.25,
				})
			}
		}
		t.Errorf("unexpected task %v", task["taskType"])
		return http.StatusBadRequest, "unexpected task"
	})

	res, err := newTestRunware(srv.URL).AnimateImage(context.Background(), animationRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://vm.runware.ai/video/out.mp4", res.Payload.Media.Value)
	assert.Equal(t, "videoURL", res.Field)
	assert.EqualValues(t, 4, atomic.LoadInt32(&polls))
}

func TestAnimateImage_TimesOut(t *testing.T) {
	var polls int32
	srv := newRunwareServer(t, func(task runwareTask) (int, interface{}) {
		if task["taskType"] == "getResponse" {
			atomic.AddInt32(&polls, 1)
			return http.StatusOK, dataItem(task, map[string]interface{}{"status": "processing"})
		}
		return http.StatusOK, dataItem(task, nil)
	})

	start := time.Now()
	_, err := newTestRunware(srv.URL).AnimateImage(context.Background(), animationRequest())
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	// 300s window at a 10s interval.
	assert.EqualValues(t, 31, atomic.LoadInt32(&polls))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestAnimateImage_ProviderReportedFailure(t *testing.T) {
	srv := newRunwareServer(t, func(task runwareTask) (int, interface{}) {
		if task["taskType"] == "getResponse" {
			return http.StatusOK, dataItem(task, map[string]interface{}{"status": "error", "error": "content policy"})
		}
		return http.StatusOK, dataItem(task, nil)
	})

	_, err := newTestRunware(srv.URL).AnimateImage(context.Background(), animationRequest())
	require.Error(t, err)
	assert.Equal(t, KindProviderReported, KindOf(err))
	assert.Contains(t, err.Error(), "content policy")
}

func TestAnimateImage_InputValidation(t *testing.T) {
	c := newTestRunware("http://unused")

	req := animationRequest()
	req.DurationSeconds = 0
	_, err := c.AnimateImage(context.Background(), req)
	assert.Equal(t, KindInputValidation, KindOf(err))

	req = animationRequest()
	req.FPS = 240
	_, err = c.AnimateImage(context.Background(), req)
	assert.Equal(t, KindInputValidation, KindOf(err))
}

func TestAnimateImage_SubmitHTTPError(t *testing.T) {
	srv := newRunwareServer(t, func(task runwareTask) (int, interface{}) {
		return http.StatusInternalServerError, "internal error"
	})

	_, err := newTestRunware(srv.URL).AnimateImage(context.Background(), animationRequest())
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindHTTP, perr.Kind)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	assert.Equal(t, "internal error", perr.Body)
}
