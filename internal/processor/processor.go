package processor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZacxDev/clip-composer/internal/config"
	"github.com/ZacxDev/clip-composer/internal/ffmpeg"
	"github.com/ZacxDev/clip-composer/internal/platform"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MediaEngine performs the decode, trim, composite and encode work.
type MediaEngine interface {
	GetMediaMetadata(ctx context.Context, path string) (*ffmpeg.MediaMetadata, error)
	DetectNonSilent(ctx context.Context, path string, duration float64, params ffmpeg.SilenceParams) ([]ffmpeg.Interval, error)
	ConcatIntervals(ctx context.Context, src ffmpeg.Segment, dst string, intervals []ffmpeg.Interval) error
	Composite(ctx context.Context, base ffmpeg.Segment, layer ffmpeg.Layer, dst string) error
	Assemble(ctx context.Context, spec ffmpeg.AssemblySpec, dst string) error
}

// Request lists the persisted input assets for one composition.
type Request struct {
	Hook    string
	Body    string
	CTA     string
	Overlay string
	Brolls  []string
	Music   string

	// OutputPath must be unique per request
	OutputPath string
	// Platform selects the export profile; empty means default
	Platform string
}

// SkippedAsset records an optional asset left out of the output.
type SkippedAsset struct {
	Asset  string
	Path   string
	Reason string
}

// Result describes a finished composition.
type Result struct {
	OutputPath   string
	Duration     float64
	BodyDuration float64
	Intervals    []ffmpeg.Interval
	Placements   []Placement
	Skipped      []SkippedAsset
}

// Composer runs the composition pipeline.
type Composer struct {
	engine       MediaEngine
	log          *zap.Logger
	sampler      Sampler
	workDir      string
	avoidOverlap bool
}

type Option func(*Composer)

// WithSampler injects the random source used for b-roll placement.
func WithSampler(s Sampler) Option {
	return func(c *Composer) { c.sampler = s }
}

// WithLogger sets the pipeline logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Composer) { c.log = log }
}

// WithWorkDir sets the parent directory for intermediates.
func WithWorkDir(dir string) Option {
	return func(c *Composer) { c.workDir = dir }
}

// WithAvoidOverlap retries b-roll placement so cutaways do not overlap.
func WithAvoidOverlap(avoid bool) Option {
	return func(c *Composer) { c.avoidOverlap = avoid }
}

// NewComposer creates a new composition pipeline
func NewComposer(engine MediaEngine, opts ...Option) *Composer {
	c := &Composer{
		engine:  engine,
		log:     zap.NewNop(),
		sampler: NewSampler(uint64(time.Now().UnixNano())),
		workDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSupportedPlatforms returns a list of supported export profiles
func GetSupportedPlatforms() []string {
	return platform.GetSupportedPlatforms()
}

func (r *Request) validate() (platform.Platform, error) {
	for _, clip := range []struct{ name, path string }{
		{"hook", r.Hook},
		{"body", r.Body},
		{"cta", r.CTA},
	} {
		if strings.TrimSpace(clip.path) == "" {
			return nil, validationError(clip.name, ErrMissingClip)
		}
	}
	if strings.TrimSpace(r.OutputPath) == "" {
		return nil, validationError("output", errors.New("output path is required"))
	}
	plat, err := platform.Get(r.Platform)
	if err != nil {
		return nil, validationError("platform", err)
	}
	return plat, nil
}

// ensureOutputPath creates the parent directory and forces the container extension.
func ensureOutputPath(path, format string) (string, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return ffmpeg.EnsureExtension(path, "."+format), nil
}

func silenceParams() ffmpeg.SilenceParams {
	return ffmpeg.SilenceParams{
		MinLength:   config.SilenceMinLength,
		ThresholdDB: config.SilenceThresholdDB,
	}
}
