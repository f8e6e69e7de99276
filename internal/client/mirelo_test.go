package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makeastory/api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mireloFake struct {
	srv      *httptest.Server
	uploaded []byte
	payload  map[string]interface{}
	polls    int32
	// sfx answers POST /video-to-sfx; status answers GET /video-to-sfx/{id}.
	sfx    func() (int, interface{})
	status func(n int32) interface{}
	// asset replaces the create-customer-asset answer when set.
	asset interface{}
}

func newMireloFake(t *testing.T) *mireloFake {
	f := &mireloFake{}
	mux := http.NewServeMux()

	mux.HandleFunc("/create-customer-asset", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mirelo-key", r.Header.Get("x-api-key"))
		if f.asset != nil {
			_ = json.NewEncoder(w).Encode(f.asset)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"customer_asset_id": "asset-123",
			"upload_url":        f.srv.URL + "/upload",
		})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Empty(t, r.Header.Get("x-api-key"))
		f.uploaded, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/source.mp4", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote-video"))
	})
	mux.HandleFunc("/video-to-sfx", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.payload)
		status, body := f.sfx()
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/video-to-sfx/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.polls, 1)
		_ = json.NewEncoder(w).Encode(f.status(n))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *mireloFake) client() *MireloClient {
	return NewMireloClient(&config.MireloConfig{
		APIKey:       "mirelo-key",
		BaseURL:      f.srv.URL,
		ModelVersion: "1.5",
		Steps:        25,
		PollInterval: 5 * time.Second,
		PollTimeout:  60 * time.Second,
	}, nil).WithClock(newFakeClock())
}

func soundRequest(src Media) SoundRequest {
	return SoundRequest{
		Source:          src,
		TextPrompt:      "cinematic sound effects",
		NegativePrompt:  "speech",
		DurationSeconds: 5,
		Creativity:      6,
		NumSamples:      1,
	}
}

func TestAddSoundEffects_ImmediateOutputs(t *testing.T) {
	f := newMireloFake(t)
	f.sfx = func() (int, interface{}) {
		return http.StatusCreated, map[string]interface{}{
			"output_paths": []string{"https://cdn.mirelo.ai/out_0.mp4"},
		}
	}

	res, err := f.client().AddSoundEffects(context.Background(), soundRequest(MediaFromBytes([]byte("clip"), "video/mp4")))
	require.NoError(t, err)

	assert.Equal(t, []byte("clip"), f.uploaded)
	assert.Equal(t, "asset-123", f.payload["customer_asset_id"])
	assert.EqualValues(t, 6, f.payload["creativity_coef"])
	assert.EqualValues(t, 25, f.payload["steps"])
	assert.Equal(t, "1.5", f.payload["model_version"])
	require.Len(t, res.Payload, 1)
	assert.Equal(t, "https://cdn.mirelo.ai/out_0.mp4", res.Payload[0].Media.Value)
	assert.Equal(t, "output_paths", res.Field)
}

func TestAddSoundEffects_DownloadsRemoteSource(t *testing.T) {
	f := newMireloFake(t)
	f.sfx = func() (int, interface{}) {
		return http.StatusCreated, map[string]interface{}{"outputPaths": []string{"https://cdn/x.mp4"}}
	}

	res, err := f.client().AddSoundEffects(context.Background(), soundRequest(ParseMedia(f.srv.URL+"/source.mp4")))
	require.NoError(t, err)
	assert.Equal(t, []byte("remote-video"), f.uploaded)
	assert.Equal(t, "outputPaths", res.Field)
}

func TestAddSoundEffects_PollsJob(t *testing.T) {
	f := newMireloFake(t)
	f.sfx = func() (int, interface{}) {
		return http.StatusAccepted, map[string]interface{}{"job_id": "job-9"}
	}
	f.status = func(n int32) interface{} {
		if n < 3 {
			return map[string]interface{}{"status": "running"}
		}
		return map[string]interface{}{"status": "succeeded", "output_paths": []string{"https://cdn/a.mp4", "https://cdn/b.mp4"}}
	}

	res, err := f.client().AddSoundEffects(context.Background(), soundRequest(MediaFromBytes([]byte("clip"), "video/mp4")))
	require.NoError(t, err)
	assert.Len(t, res.Payload, 2)
	assert.EqualValues(t, 3, atomic.LoadInt32(&f.polls))
}

func TestAddSoundEffects_JobFailure(t *testing.T) {
	f := newMireloFake(t)
	f.sfx = func() (int, interface{}) {
		return http.StatusAccepted, map[string]interface{}{"job_id": "job-9"}
	}
	f.status = func(n int32) interface{} {
		return map[string]interface{}{"status": "failed", "error": "unsupported codec"}
	}

	_, err := f.client().AddSoundEffects(context.Background(), soundRequest(MediaFromBytes([]byte("clip"), "video/mp4")))
	require.Error(t, err)
	assert.Equal(t, KindProviderReported, KindOf(err))
	assert.Contains(t, err.Error(), "unsupported codec")
}

func TestAddSoundEffects_EmptyOutputs(t *testing.T) {
	f := newMireloFake(t)
	f.sfx = func() (int, interface{}) {
		return http.StatusCreated, map[string]interface{}{"output_paths": []string{}}
	}

	_, err := f.client().AddSoundEffects(context.Background(), soundRequest(MediaFromBytes([]byte("clip"), "video/mp4")))
	assert.Equal(t, KindUnexpectedShape, KindOf(err))
}

func TestAddSoundEffects_ErrorField(t *testing.T) {
	cases := []struct {
		name string
		body interface{}
		want string
	}{
		{"string error", map[string]interface{}{"error": "insufficient credits"}, "insufficient credits"},
		{"nested error", map[string]interface{}{"error": map[string]string{"message": "quota exceeded"}}, "quota exceeded"},
		{"error next to job id", map[string]interface{}{"error": "model busy", "id": "job-1"}, "model busy"},
		{"message without payload", map[string]interface{}{"message": "video too short"}, "video too short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newMireloFake(t)
			f.sfx = func() (int, interface{}) { return http.StatusOK, tc.body }

			_, err := f.client().AddSoundEffects(context.Background(), soundRequest(MediaFromBytes([]byte("clip"), "video/mp4")))
			require.Error(t, err)
			assert.Equal(t, KindProviderReported, KindOf(err))
			assert.Contains(t, err.Error(), tc.want)
			assert.EqualValues(t, 0, atomic.LoadInt32(&f.polls))
		})
	}
}

func TestAddSoundEffects_AssetErrorField(t *testing.T) {
	f := newMireloFake(t)
	f.asset = map[string]string{"error": "invalid api key"}
	var sfxCalls int32
	f.sfx = func() (int, interface{}) {
		atomic.AddInt32(&sfxCalls, 1)
		return http.StatusOK, map[string]interface{}{}
	}

	_, err := f.client().AddSoundEffects(context.Background(), soundRequest(MediaFromBytes([]byte("clip"), "video/mp4")))
	require.Error(t, err)
	assert.Equal(t, KindProviderReported, KindOf(err))
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Nil(t, f.uploaded)
	assert.EqualValues(t, 0, atomic.LoadInt32(&sfxCalls))

	f.asset = map[string]string{"unrelated": "x"}
	_, err = f.client().AddSoundEffects(context.Background(), soundRequest(MediaFromBytes([]byte("clip"), "video/mp4")))
	assert.Equal(t, KindUnexpectedShape, KindOf(err))
}

func TestAddSoundEffects_HTTPError(t *testing.T) {
	f := newMireloFake(t)
	f.sfx = func() (int, interface{}) {
		return http.StatusBadRequest, map[string]string{"detail": "duration too long"}
	}

	_, err := f.client().AddSoundEffects(context.Background(), soundRequest(MediaFromBytes([]byte("clip"), "video/mp4")))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindHTTP, perr.Kind)
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
}

func TestAddSoundEffects_Validation(t *testing.T) {
	c := NewMireloClient(&config.MireloConfig{APIKey: "k", BaseURL: "http://unused"}, nil)

	req := soundRequest(MediaFromBytes([]byte("clip"), "video/mp4"))
	req.Creativity = 11
	_, err := c.AddSoundEffects(context.Background(), req)
	assert.Equal(t, KindInputValidation, KindOf(err))

	req = soundRequest(MediaFromBytes([]byte("clip"), "video/mp4"))
	req.DurationSeconds = 30
	_, err = c.AddSoundEffects(context.Background(), req)
	assert.Equal(t, KindInputValidation, KindOf(err))

	_, err = c.AddSoundEffects(context.Background(), soundRequest(Media{}))
	assert.Equal(t, KindInputValidation, KindOf(err))
}
