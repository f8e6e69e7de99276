// Package pipelinetest provides in-memory providers for exercising the
// pipeline without network access.
package pipelinetest

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/makeastory/api/internal/client"
	"github.com/makeastory/api/internal/pipeline"
)

// Providers is a recording fake for every pipeline provider. Each output is
// derived from the input's base name, so "https://in/beat-1.jpg" becomes
// "https://fake/image/beat-1.jpg" after synthesis.
type Providers struct {
	// Fail hooks return a non-nil error to make a call fail.
	PoseErr  func(image client.Media) error
	ImageErr func(req client.SynthesisRequest) error
	VideoErr func(req client.AnimationRequest) error
	SoundErr func(req client.SoundRequest) error

	// VideoDelay is slept inside AnimateImage to widen concurrency windows.
	VideoDelay time.Duration
	// VideoHook, when set, runs inside AnimateImage before the fake answers.
	VideoHook func(ctx context.Context, req client.AnimationRequest) error

	mu            sync.Mutex
	poseCalls     []client.Media
	imageRequests []client.SynthesisRequest
	videoRequests []client.AnimationRequest
	soundRequests []client.SoundRequest

	videoActive int32
	videoPeak   int32
}

// New returns a fake whose calls all succeed.
func New() *Providers {
	return &Providers{}
}

// Providers wires the fake into a pipeline.Providers value.
func (f *Providers) Providers() pipeline.Providers {
	return pipeline.Providers{Pose: f, Images: f, Animator: f, Sound: f}
}

func (f *Providers) PreprocessPose(ctx context.Context, image client.Media) (*client.Result[client.Asset], error) {
	f.mu.Lock()
	f.poseCalls = append(f.poseCalls, image)
	f.mu.Unlock()

	if f.PoseErr != nil {
		if err := f.PoseErr(image); err != nil {
			return nil, err
		}
	}
	return asset("pose", image), nil
}

func (f *Providers) SynthesizeImage(ctx context.Context, req client.SynthesisRequest) (*client.Result[client.Asset], error) {
	f.mu.Lock()
	f.imageRequests = append(f.imageRequests, req)
	f.mu.Unlock()

	if f.ImageErr != nil {
		if err := f.ImageErr(req); err != nil {
			return nil, err
		}
	}
	var src client.Media
	if len(req.ReferenceImages) > 0 {
		src = req.ReferenceImages[0]
	}
	return asset("image", src), nil
}

func (f *Providers) AnimateImage(ctx context.Context, req client.AnimationRequest) (*client.Result[client.Asset], error) {
	n := atomic.AddInt32(&f.videoActive, 1)
	defer atomic.AddInt32(&f.videoActive, -1)
	for {
		p := atomic.LoadInt32(&f.videoPeak)
		if n <= p || atomic.CompareAndSwapInt32(&f.videoPeak, p, n) {
			break
		}
	}

	f.mu.Lock()
	f.videoRequests = append(f.videoRequests, req)
	f.mu.Unlock()

	if f.VideoDelay > 0 {
		time.Sleep(f.VideoDelay)
	}
	if f.VideoHook != nil {
		if err := f.VideoHook(ctx, req); err != nil {
			return nil, err
		}
	}
	if f.VideoErr != nil {
		if err := f.VideoErr(req); err != nil {
			return nil, err
		}
	}
	return asset("video", req.Image), nil
}

func (f *Providers) AddSoundEffects(ctx context.Context, req client.SoundRequest) (*client.Result[[]client.Asset], error) {
	f.mu.Lock()
	f.soundRequests = append(f.soundRequests, req)
	f.mu.Unlock()

	if f.SoundErr != nil {
		if err := f.SoundErr(req); err != nil {
			return nil, err
		}
	}
	n := req.NumSamples
	if n < 1 {
		n = 1
	}
	assets := make([]client.Asset, 0, n)
	for i := 1; i <= n; i++ {
		assets = append(assets, client.Asset{
			Media: client.ParseMedia(fmt.Sprintf("https://fake/sound/%d/%s", i, Key(req.Source))),
		})
	}
	return &client.Result[[]client.Asset]{Payload: assets}, nil
}

// PoseCalls returns the inputs PreprocessPose received.
func (f *Providers) PoseCalls() []client.Media {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.Media(nil), f.poseCalls...)
}

// ImageRequests returns the requests SynthesizeImage received.
func (f *Providers) ImageRequests() []client.SynthesisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.SynthesisRequest(nil), f.imageRequests...)
}

// VideoRequests returns the requests AnimateImage received.
func (f *Providers) VideoRequests() []client.AnimationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.AnimationRequest(nil), f.videoRequests...)
}

// SoundRequests returns the requests AddSoundEffects received.
func (f *Providers) SoundRequests() []client.SoundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.SoundRequest(nil), f.soundRequests...)
}

// VideoPeak returns the highest number of concurrent AnimateImage calls.
func (f *Providers) VideoPeak() int {
	return int(atomic.LoadInt32(&f.videoPeak))
}

// Key returns the base name a fake output was derived from.
func Key(m client.Media) string {
	return path.Base(m.Value)
}

// HTTPError builds the error a provider returns for a non-2xx response.
func HTTPError(provider, op string, status int, body string) error {
	return &client.Error{Kind: client.KindHTTP, Provider: provider, Op: op, StatusCode: status, Body: body}
}

func asset(kind string, src client.Media) *client.Result[client.Asset] {
	return &client.Result[client.Asset]{
		Payload: client.Asset{Media: client.ParseMedia(fmt.Sprintf("https://fake/%s/%s", kind, Key(src)))},
	}
}
