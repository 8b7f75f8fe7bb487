package processor

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ZacxDev/clip-composer/internal/config"
	"github.com/ZacxDev/clip-composer/internal/ffmpeg"
	"github.com/ZacxDev/clip-composer/internal/platform"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Process validates the request, trims silence from the body, composites the
// overlay and b-rolls, joins hook, body and cta, mixes music and exports to
// req.OutputPath. Every intermediate is released before returning.
func (c *Composer) Process(ctx context.Context, req *Request) (*Result, error) {
	plat, err := req.validate()
	if err != nil {
		return nil, err
	}
	output, err := ensureOutputPath(req.OutputPath, plat.GetOutputFormat())
	if err != nil {
		return nil, encodeError(err)
	}

	workDir, err := os.MkdirTemp(c.workDir, config.WorkDirPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create work directory")
	}
	rel := &releaser{}
	rel.dir(workDir)
	defer func() {
		if relErr := rel.Release(); relErr != nil {
			c.log.Warn("failed to release intermediates", zap.Error(relErr))
		}
	}()

	job := &job{
		Composer: c,
		req:      req,
		plat:     plat,
		workDir:  workDir,
		rel:      rel,
		res:      &Result{OutputPath: output},
	}
	if err := job.run(ctx); err != nil {
		return nil, err
	}
	return job.res, nil
}

// job holds the state of one Process call.
type job struct {
	*Composer
	req     *Request
	plat    platform.Platform
	workDir string
	rel     *releaser
	res     *Result
	step    int
}

func (j *job) run(ctx context.Context) error {
	hook, err := j.probeClip(ctx, "hook", j.req.Hook)
	if err != nil {
		return err
	}
	body, err := j.probeClip(ctx, "body", j.req.Body)
	if err != nil {
		return err
	}
	cta, err := j.probeClip(ctx, "cta", j.req.CTA)
	if err != nil {
		return err
	}

	trimmed, err := j.trimBody(ctx, body)
	if err != nil {
		return err
	}
	j.res.BodyDuration = trimmed.Duration

	if j.req.Overlay != "" {
		if trimmed, err = j.applyOverlay(ctx, trimmed); err != nil {
			return err
		}
	}
	for i, broll := range j.req.Brolls {
		if trimmed, err = j.applyBroll(ctx, trimmed, i, broll); err != nil {
			return err
		}
	}

	return j.assemble(ctx, hook, trimmed, cta)
}

// probeClip opens one of the required clips. Every failure is a decode error.
func (j *job) probeClip(ctx context.Context, name, path string) (*ffmpeg.MediaMetadata, error) {
	meta, err := j.engine.GetMediaMetadata(ctx, path)
	if err != nil {
		return nil, decodeError(name, err)
	}
	if !meta.HasVideo || meta.Duration <= 0 {
		return nil, decodeError(name, errors.Errorf("%s has no video to play", path))
	}
	return meta, nil
}

// trimBody cuts silent spans out of the body. Bodies without audio, or without
// any non-silent span, are used whole.
func (j *job) trimBody(ctx context.Context, body *ffmpeg.MediaMetadata) (ffmpeg.Segment, error) {
	whole := ffmpeg.Segment{Path: j.req.Body, Duration: body.Duration, HasAudio: body.HasAudio}
	if !body.HasAudio {
		j.log.Debug("body has no audio, skipping silence trim")
		return whole, nil
	}

	// speech ends with the audio track; a longer video tail is dropped
	length := body.Duration
	if body.AudioDuration > 0 && body.AudioDuration < length {
		length = body.AudioDuration
	}

	intervals, err := j.engine.DetectNonSilent(ctx, j.req.Body, length, silenceParams())
	if err != nil {
		return ffmpeg.Segment{}, decodeError("body", err)
	}
	totalMs := int64(math.Round(length * 1000))
	intervals = ffmpeg.NormalizeIntervals(intervals, totalMs)
	if len(intervals) == 0 {
		j.log.Debug("no speech detected in body, keeping it whole")
		return whole, nil
	}
	j.res.Intervals = intervals

	dst := j.intermediate("body_trimmed")
	if err := j.engine.ConcatIntervals(ctx, whole, dst, intervals); err != nil {
		return ffmpeg.Segment{}, compositionError("body", err)
	}
	meta, err := j.engine.GetMediaMetadata(ctx, dst)
	if err != nil {
		return ffmpeg.Segment{}, compositionError("body", err)
	}
	j.log.Debug("trimmed body",
		zap.Int("intervals", len(intervals)),
		zap.Float64("original", body.Duration),
		zap.Float64("trimmed", meta.Duration))
	return ffmpeg.Segment{Path: dst, Duration: meta.Duration, HasAudio: true}, nil
}

func (j *job) applyOverlay(ctx context.Context, base ffmpeg.Segment) (ffmpeg.Segment, error) {
	placement, ok := PlanOverlay("overlay", base.Duration)
	if !ok {
		reason := fmt.Sprintf("body is %.2fs, overlay starts at %.0fs", base.Duration, config.OverlayStart)
		j.skip("overlay", j.req.Overlay, reason)
		return base, nil
	}

	meta, err := j.engine.GetMediaMetadata(ctx, j.req.Overlay)
	if err != nil {
		return base, decodeError("overlay", err)
	}
	if !meta.HasVideo {
		return base, decodeError("overlay", errors.New("overlay has no picture"))
	}

	placement.Path = j.req.Overlay

	layer := ffmpeg.Layer{
		Path:     j.req.Overlay,
		Start:    placement.Start,
		Duration: placement.Duration,
		Height:   config.OverlayHeight,
		Position: ffmpeg.PositionBottomRight,
		Opacity:  config.OverlayOpacity,
		Still:    meta.IsStill,
	}
	// a short overlay clip ends early
	if !meta.IsStill && meta.Duration < layer.Duration {
		layer.Duration = meta.Duration
		placement.Duration = meta.Duration
	}

	dst := j.intermediate("overlay")
	if err := j.engine.Composite(ctx, base, layer, dst); err != nil {
		return base, compositionError("overlay", err)
	}
	j.res.Placements = append(j.res.Placements, placement)
	j.log.Debug("applied overlay", zap.Float64("start", placement.Start), zap.Float64("duration", placement.Duration))
	return ffmpeg.Segment{Path: dst, Duration: base.Duration, HasAudio: base.HasAudio}, nil
}

// applyBroll composites one b-roll. Failures skip the b-roll, except cancellation.
func (j *job) applyBroll(ctx context.Context, base ffmpeg.Segment, index int, path string) (ffmpeg.Segment, error) {
	name := brollAsset(index)

	meta, err := j.engine.GetMediaMetadata(ctx, path)
	if err != nil || !meta.HasVideo {
		if ctx.Err() != nil {
			return base, ctx.Err()
		}
		if err == nil {
			err = errors.New("no video stream")
		}
		j.skip(name, path, "unreadable: "+err.Error())
		return base, nil
	}

	brollDuration := meta.Duration
	if meta.IsStill {
		brollDuration = config.BrollMaxDuration
	}

	var taken []Placement
	attempts := 1
	if j.avoidOverlap {
		taken = j.brollPlacements()
		attempts = config.BrollMaxAttempts
	}
	placement, err := PlanBroll(j.sampler, name, brollDuration, base.Duration, taken, attempts)
	if err != nil {
		j.skip(name, path, err.Error())
		return base, nil
	}

	placement.Path = path

	layer := ffmpeg.Layer{
		Path:     path,
		Start:    placement.Start,
		Duration: placement.Duration,
		Position: ffmpeg.PositionCenter,
		Opacity:  config.BrollOpacity,
		Still:    meta.IsStill,
	}
	dst := j.intermediate("broll")
	if err := j.engine.Composite(ctx, base, layer, dst); err != nil {
		if ctx.Err() != nil {
			return base, ctx.Err()
		}
		j.skip(name, path, "composite failed: "+err.Error())
		return base, nil
	}

	j.res.Placements = append(j.res.Placements, placement)
	j.log.Debug("applied b-roll",
		zap.String("asset", name),
		zap.String("path", path),
		zap.Float64("start", placement.Start),
		zap.Float64("duration", placement.Duration))
	return ffmpeg.Segment{Path: dst, Duration: base.Duration, HasAudio: base.HasAudio}, nil
}

func (j *job) assemble(ctx context.Context, hook *ffmpeg.MediaMetadata, body ffmpeg.Segment, cta *ffmpeg.MediaMetadata) error {
	spec := ffmpeg.AssemblySpec{
		Segments: []ffmpeg.Segment{
			{Path: j.req.Hook, Duration: hook.Duration, HasAudio: hook.HasAudio},
			body,
			{Path: j.req.CTA, Duration: cta.Duration, HasAudio: cta.HasAudio},
		},
		FrameRate:  config.OutputFrameRate,
		SampleRate: config.OutputSampleRate,
		Platform:   j.plat,
	}

	srcW, srcH := hook.Width, hook.Height
	if srcW <= 0 || srcH <= 0 {
		srcW, srcH = config.FallbackWidth, config.FallbackHeight
	}
	maxW, maxH := j.plat.GetMaxDimensions()
	spec.Width, spec.Height = ffmpeg.FitDimensions(srcW, srcH, maxW, maxH)

	if j.req.Music != "" {
		meta, err := j.engine.GetMediaMetadata(ctx, j.req.Music)
		if err != nil {
			return decodeError("music", err)
		}
		if !meta.HasAudio {
			return decodeError("music", errors.New("music has no audio stream"))
		}
		spec.MusicPath = j.req.Music
		spec.MusicVolume = config.MusicVolume
		spec.OriginalVolume = config.OriginalVolume
		spec.Fade = config.AudioFade
	}

	if err := j.engine.Assemble(ctx, spec, j.res.OutputPath); err != nil {
		return encodeError(err)
	}
	j.res.Duration = spec.Duration()
	j.log.Info("composition finished",
		zap.String("output", j.res.OutputPath),
		zap.Float64("duration", j.res.Duration),
		zap.Int("placements", len(j.res.Placements)),
		zap.Int("skipped", len(j.res.Skipped)))
	return nil
}

func (j *job) brollPlacements() []Placement {
	var out []Placement
	for _, p := range j.res.Placements {
		if p.Kind == PlacementBroll {
			out = append(out, p)
		}
	}
	return out
}

func (j *job) skip(asset, path, reason string) {
	j.log.Warn("skipping asset", zap.String("asset", asset), zap.String("path", path), zap.String("reason", reason))
	j.res.Skipped = append(j.res.Skipped, SkippedAsset{Asset: asset, Path: path, Reason: reason})
}

// brollAsset names the b-roll at index, matching the upload field names.
func brollAsset(index int) string {
	return fmt.Sprintf("broll_%d", index)
}

// intermediate returns a fresh path in the work directory registered for release.
func (j *job) intermediate(stage string) string {
	j.step++
	return j.rel.file(filepath.Join(j.workDir, fmt.Sprintf("%02d_%s.mp4", j.step, stage)))
}
