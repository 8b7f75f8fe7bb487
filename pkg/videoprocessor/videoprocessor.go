package videoprocessor

import (
	"context"
	"time"

	"github.com/ZacxDev/clip-composer/internal/ffmpeg"
	"github.com/ZacxDev/clip-composer/internal/logger"
	"github.com/ZacxDev/clip-composer/internal/processor"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ComposeOptions defines options for a single composition run
type ComposeOptions struct {
	HookPath    string
	BodyPath    string
	CTAPath     string
	OverlayPath string
	BrollPaths  []string
	MusicPath   string
	OutputPath  string

	TargetPlatform string
	// Seed fixes b-roll placement; zero picks a random seed
	Seed         uint64
	AvoidOverlap bool
	FFmpegPath   string
	WorkDir      string
	Verbose      bool
}

// Placement is a layer drawn over the trimmed body, in seconds.
type Placement struct {
	// Asset is "overlay" or "broll_<index>", in --broll order
	Asset    string
	Path     string
	Kind     string
	Start    float64
	Duration float64
}

// ComposeResult describes the exported video.
type ComposeResult struct {
	OutputPath   string
	Duration     float64
	BodyDuration float64
	Placements   []Placement
	Skipped      []SkippedAsset
}

// SkippedAsset is an optional asset left out of the video.
type SkippedAsset struct {
	Asset  string
	Path   string
	Reason string
}

// MediaMetadata contains metadata about a media file
type MediaMetadata struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	HasAudio bool
}

// GetSupportedPlatforms returns a list of supported export profiles
func GetSupportedPlatforms() []string {
	return processor.GetSupportedPlatforms()
}

// GetMediaMetadata retrieves metadata about a media file
func GetMediaMetadata(ctx context.Context, inputPath string) (*MediaMetadata, error) {
	meta, err := ffmpeg.NewProcessor("", nil).GetMediaMetadata(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	return &MediaMetadata{
		Duration: meta.Duration,
		Width:    meta.Width,
		Height:   meta.Height,
		Codec:    meta.Codec,
		HasAudio: meta.HasAudio,
	}, nil
}

// Compose stitches hook, body and cta into OutputPath
func Compose(ctx context.Context, opts *ComposeOptions) (*ComposeResult, error) {
	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}
	defer log.Sync()

	composer := newComposer(opts, ffmpeg.NewProcessor(opts.FFmpegPath, log), log)
	res, err := composer.Process(ctx, &processor.Request{
		Hook:       opts.HookPath,
		Body:       opts.BodyPath,
		CTA:        opts.CTAPath,
		Overlay:    opts.OverlayPath,
		Brolls:     opts.BrollPaths,
		Music:      opts.MusicPath,
		OutputPath: opts.OutputPath,
		Platform:   opts.TargetPlatform,
	})
	if err != nil {
		return nil, err
	}
	return toComposeResult(res), nil
}

func newComposer(opts *ComposeOptions, engine processor.MediaEngine, log *zap.Logger) *processor.Composer {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	composerOpts := []processor.Option{
		processor.WithLogger(log),
		processor.WithSampler(processor.NewSampler(seed)),
		processor.WithAvoidOverlap(opts.AvoidOverlap),
	}
	if opts.WorkDir != "" {
		composerOpts = append(composerOpts, processor.WithWorkDir(opts.WorkDir))
	}
	return processor.NewComposer(engine, composerOpts...)
}

func toComposeResult(res *processor.Result) *ComposeResult {
	out := &ComposeResult{
		OutputPath:   res.OutputPath,
		Duration:     res.Duration,
		BodyDuration: res.BodyDuration,
	}
	for _, p := range res.Placements {
		out.Placements = append(out.Placements, Placement{
			Asset:    p.Asset,
			Path:     p.Path,
			Kind:     string(p.Kind),
			Start:    p.Start,
			Duration: p.Duration,
		})
	}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, SkippedAsset{Asset: s.Asset, Path: s.Path, Reason: s.Reason})
	}
	return out
}

// IsInputError reports whether err was caused by missing or unreadable input
// rather than a processing failure.
func IsInputError(err error) bool {
	switch processor.KindOf(err) {
	case processor.KindValidation, processor.KindDecode:
		return true
	}
	return false
}
