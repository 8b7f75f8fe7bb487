package processor

import (
	"context"
	"os"
	"sync"

	"github.com/ZacxDev/clip-composer/internal/ffmpeg"
	"github.com/pkg/errors"
)

// fakeEngine stands in for FFmpeg. Outputs are written as empty files so
// cleanup can be observed.
type fakeEngine struct {
	mu sync.Mutex

	media        map[string]*ffmpeg.MediaMetadata
	nonSilent    map[string][]ffmpeg.Interval
	silenceErr   error
	compositeErr map[string]error
	assembleErr  error

	outputs    map[string]float64
	calls      int
	detected   []float64
	concats    [][]ffmpeg.Interval
	layers     []ffmpeg.Layer
	assemblies []ffmpeg.AssemblySpec
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		media:        map[string]*ffmpeg.MediaMetadata{},
		nonSilent:    map[string][]ffmpeg.Interval{},
		compositeErr: map[string]error{},
		outputs:      map[string]float64{},
	}
}

func (f *fakeEngine) addVideo(path string, duration float64, withAudio bool) {
	f.media[path] = &ffmpeg.MediaMetadata{
		Duration: duration,
		Width:    1080,
		Height:   1920,
		Codec:    "h264",
		HasVideo: true,
		HasAudio: withAudio,
	}
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEngine) GetMediaMetadata(ctx context.Context, path string) (*ffmpeg.MediaMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if d, ok := f.outputs[path]; ok {
		return &ffmpeg.MediaMetadata{Duration: d, HasVideo: true, HasAudio: true}, nil
	}
	if m, ok := f.media[path]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, errors.Errorf("%s: invalid data found when processing input", path)
}

func (f *fakeEngine) DetectNonSilent(ctx context.Context, path string, duration float64, params ffmpeg.SilenceParams) ([]ffmpeg.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.detected = append(f.detected, duration)
	if f.silenceErr != nil {
		return nil, f.silenceErr
	}
	return f.nonSilent[path], nil
}

func (f *fakeEngine) ConcatIntervals(ctx context.Context, src ffmpeg.Segment, dst string, intervals []ffmpeg.Interval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.concats = append(f.concats, intervals)
	f.outputs[dst] = ffmpeg.TotalDuration(intervals).Seconds()
	return os.WriteFile(dst, nil, 0644)
}

func (f *fakeEngine) Composite(ctx context.Context, base ffmpeg.Segment, layer ffmpeg.Layer, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.compositeErr[layer.Path]; err != nil {
		return err
	}
	f.layers = append(f.layers, layer)
	f.outputs[dst] = base.Duration
	return os.WriteFile(dst, nil, 0644)
}

func (f *fakeEngine) Assemble(ctx context.Context, spec ffmpeg.AssemblySpec, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.assemblies = append(f.assemblies, spec)
	if f.assembleErr != nil {
		return f.assembleErr
	}
	return os.WriteFile(dst, []byte("mp4"), 0644)
}

// seqSampler replays fixed values.
type seqSampler struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func (s *seqSampler) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}
