package ffmpeg

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ZacxDev/clip-composer/internal/platform"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Segment is a clip placed on the final timeline.
type Segment struct {
	Path     string
	Duration float64
	HasAudio bool
}

// Position anchors a layer inside the base frame.
type Position int

const (
	PositionCenter Position = iota
	PositionBottomRight
)

func (p Position) expr() (x, y string) {
	if p == PositionBottomRight {
		return "W-w", "H-h"
	}
	return "(W-w)/2", "(H-h)/2"
}

// Layer is a visual asset drawn over a base clip for [Start, Start+Duration).
type Layer struct {
	Path     string
	Start    float64
	Duration float64
	// Height resizes the layer keeping aspect; zero keeps the source size
	Height   int
	Position Position
	Opacity  float64
	Still    bool
}

// AssemblySpec describes the final concatenation and export.
type AssemblySpec struct {
	Segments []Segment
	Width    int
	Height   int
	// MusicPath is mixed under the original audio when set
	MusicPath      string
	MusicVolume    float64
	OriginalVolume float64
	Fade           float64
	FrameRate      int
	SampleRate     int
	Platform       platform.Platform
}

// Duration is the sum of the segment durations.
func (s *AssemblySpec) Duration() float64 {
	var total float64
	for _, seg := range s.Segments {
		total += seg.Duration
	}
	return total
}

// ConcatIntervals cuts the given intervals out of src and joins them in order.
func (p *Processor) ConcatIntervals(ctx context.Context, src Segment, dst string, intervals []Interval) error {
	if len(intervals) == 0 {
		return errors.New("no intervals to concatenate")
	}
	if _, err := p.run(ctx, concatGraph(src, dst, intervals)); err != nil {
		return errors.Wrap(err, "failed to concatenate intervals")
	}
	return nil
}

func concatGraph(src Segment, dst string, intervals []Interval) *ffmpeg.Stream {
	in := ffmpeg.Input(src.Path)

	videos := make([]*ffmpeg.Stream, 0, len(intervals))
	audios := make([]*ffmpeg.Stream, 0, len(intervals))
	for _, iv := range intervals {
		start, end := iv.Seconds()
		videos = append(videos, in.Video().
			Filter("trim", nil, ffmpeg.KwArgs{"start": formatSeconds(start), "end": formatSeconds(end)}).
			Filter("setpts", ffmpeg.Args{"PTS-STARTPTS"}))
		if src.HasAudio {
			audios = append(audios, in.Audio().
				Filter("atrim", nil, ffmpeg.KwArgs{"start": formatSeconds(start), "end": formatSeconds(end)}).
				Filter("asetpts", ffmpeg.Args{"PTS-STARTPTS"}))
		}
	}

	streams := []*ffmpeg.Stream{ffmpeg.Concat(videos, ffmpeg.KwArgs{"v": 1, "a": 0})}
	if src.HasAudio {
		streams = append(streams, ffmpeg.Concat(audios, ffmpeg.KwArgs{"v": 0, "a": 1}))
	}
	return ffmpeg.Output(streams, dst, intermediateArgs(src.HasAudio)).OverWriteOutput()
}

// Composite draws one layer over base and writes the result to dst. The base
// audio track is copied unchanged.
func (p *Processor) Composite(ctx context.Context, base Segment, layer Layer, dst string) error {
	if layer.Duration <= 0 {
		return errors.Errorf("layer %s has no visible duration", layer.Path)
	}
	if _, err := p.run(ctx, compositeGraph(base, layer, dst)); err != nil {
		return errors.Wrapf(err, "failed to composite %s", layer.Path)
	}
	return nil
}

func compositeGraph(base Segment, layer Layer, dst string) *ffmpeg.Stream {
	baseIn := ffmpeg.Input(base.Path)

	layerArgs := ffmpeg.KwArgs{}
	if layer.Still {
		layerArgs["loop"] = 1
		layerArgs["t"] = formatSeconds(layer.Duration)
	}
	ov := ffmpeg.Input(layer.Path, layerArgs).Video()
	if layer.Height > 0 {
		ov = ov.Filter("scale", ffmpeg.Args{"-2", strconv.Itoa(layer.Height)})
	}
	ov = ov.Filter("format", ffmpeg.Args{"rgba"}).
		Filter("colorchannelmixer", nil, ffmpeg.KwArgs{"aa": strconv.FormatFloat(layer.Opacity, 'f', 2, 64)})
	if !layer.Still {
		ov = ov.Filter("trim", nil, ffmpeg.KwArgs{"duration": formatSeconds(layer.Duration)})
	}
	ov = ov.Filter("setpts", ffmpeg.Args{fmt.Sprintf("PTS-STARTPTS+%s/TB", formatSeconds(layer.Start))})

	x, y := layer.Position.expr()
	video := ffmpeg.Filter([]*ffmpeg.Stream{baseIn.Video(), ov}, "overlay", nil, ffmpeg.KwArgs{
		"x":          x,
		"y":          y,
		"enable":     fmt.Sprintf("between(t,%s,%s)", formatSeconds(layer.Start), formatSeconds(layer.Start+layer.Duration)),
		"eof_action": "pass",
	})

	streams := []*ffmpeg.Stream{video}
	args := intermediateArgs(false)
	if base.HasAudio {
		streams = append(streams, baseIn.Audio())
		args["c:a"] = "copy"
	}
	return ffmpeg.Output(streams, dst, args).OverWriteOutput()
}

// Assemble normalizes every segment to a common frame, joins them, mixes
// optional music under the original audio and encodes with the platform settings.
func (p *Processor) Assemble(ctx context.Context, spec AssemblySpec, dst string) error {
	if len(spec.Segments) == 0 {
		return errors.New("nothing to assemble")
	}
	if _, err := p.run(ctx, assembleGraph(spec, dst)); err != nil {
		return errors.Wrap(err, "failed to export video")
	}
	return nil
}

func assembleGraph(spec AssemblySpec, dst string) *ffmpeg.Stream {
	plat := spec.Platform
	if plat == nil {
		plat = platform.Default()
	}
	sampleRate := strconv.Itoa(spec.SampleRate)

	videos := make([]*ffmpeg.Stream, 0, len(spec.Segments))
	audios := make([]*ffmpeg.Stream, 0, len(spec.Segments))
	for _, seg := range spec.Segments {
		in := ffmpeg.Input(seg.Path)
		dur := formatSeconds(seg.Duration)

		videos = append(videos, in.Video().
			Filter("scale", ffmpeg.Args{strconv.Itoa(spec.Width), strconv.Itoa(spec.Height)}, ffmpeg.KwArgs{"force_original_aspect_ratio": "decrease"}).
			Filter("pad", ffmpeg.Args{strconv.Itoa(spec.Width), strconv.Itoa(spec.Height), "(ow-iw)/2", "(oh-ih)/2", "black"}).
			Filter("setsar", ffmpeg.Args{"1"}).
			Filter("fps", nil, ffmpeg.KwArgs{"fps": spec.FrameRate}).
			Filter("format", ffmpeg.Args{"yuv420p"}).
			Filter("trim", nil, ffmpeg.KwArgs{"duration": dur}).
			Filter("setpts", ffmpeg.Args{"PTS-STARTPTS"}))

		var audio *ffmpeg.Stream
		if seg.HasAudio {
			audio = in.Audio()
		} else {
			audio = silence(spec.SampleRate, seg.Duration)
		}
		audios = append(audios, audio.
			Filter("aresample", ffmpeg.Args{sampleRate}).
			Filter("aformat", nil, ffmpeg.KwArgs{"sample_fmts": "fltp", "channel_layouts": "stereo"}).
			Filter("apad", nil, ffmpeg.KwArgs{"whole_dur": dur}).
			Filter("atrim", nil, ffmpeg.KwArgs{"duration": dur}).
			Filter("asetpts", ffmpeg.Args{"PTS-STARTPTS"}))
	}

	video := ffmpeg.Concat(videos, ffmpeg.KwArgs{"v": 1, "a": 0})
	audio := ffmpeg.Concat(audios, ffmpeg.KwArgs{"v": 0, "a": 1})

	if spec.MusicPath != "" {
		audio = mixMusic(audio, spec)
	}

	return ffmpeg.Output([]*ffmpeg.Stream{video, audio}, dst, exportArgs(plat)).OverWriteOutput()
}

func mixMusic(original *ffmpeg.Stream, spec AssemblySpec) *ffmpeg.Stream {
	total := spec.Duration()
	fadeOut := total - spec.Fade
	if fadeOut < 0 {
		fadeOut = 0
	}

	original = original.
		Filter("volume", ffmpeg.Args{strconv.FormatFloat(spec.OriginalVolume, 'f', 2, 64)}).
		Filter("afade", nil, ffmpeg.KwArgs{"t": "in", "st": 0, "d": formatSeconds(spec.Fade)}).
		Filter("afade", nil, ffmpeg.KwArgs{"t": "out", "st": formatSeconds(fadeOut), "d": formatSeconds(spec.Fade)})

	// shorter tracks are padded with silence, longer ones cut to the video
	music := ffmpeg.Input(spec.MusicPath).Audio().
		Filter("aresample", ffmpeg.Args{strconv.Itoa(spec.SampleRate)}).
		Filter("aformat", nil, ffmpeg.KwArgs{"sample_fmts": "fltp", "channel_layouts": "stereo"}).
		Filter("apad", nil, ffmpeg.KwArgs{"whole_dur": formatSeconds(total)}).
		Filter("atrim", nil, ffmpeg.KwArgs{"duration": formatSeconds(total)}).
		Filter("volume", ffmpeg.Args{strconv.FormatFloat(spec.MusicVolume, 'f', 2, 64)})

	return ffmpeg.Filter([]*ffmpeg.Stream{original, music}, "amix", nil, ffmpeg.KwArgs{
		"inputs":             2,
		"duration":           "first",
		"dropout_transition": 0,
		"normalize":          0,
	})
}

func silence(sampleRate int, duration float64) *ffmpeg.Stream {
	src := fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", sampleRate)
	return ffmpeg.Input(src, ffmpeg.KwArgs{"f": "lavfi", "t": formatSeconds(duration)}).Audio()
}

func intermediateArgs(withAudio bool) ffmpeg.KwArgs {
	settings := GetCodecSettings("mp4")
	args := ffmpeg.KwArgs{
		"c:v":     settings.VideoCodec,
		"pix_fmt": "yuv420p",
		"threads": GetOptimalThreadCount(),
	}
	for k, v := range settings.EncoderPresets["intermediate"] {
		args[k] = v
	}
	if withAudio {
		args["c:a"] = settings.AudioCodec
		args["b:a"] = "192k"
	}
	return args
}

func exportArgs(plat platform.Platform) ffmpeg.KwArgs {
	settings := GetCodecSettings(plat.GetOutputFormat())
	args := ffmpeg.KwArgs{
		"c:v":     plat.GetVideoCodec(),
		"c:a":     plat.GetAudioCodec(),
		"b:a":     plat.GetAudioBitrate(),
		"pix_fmt": "yuv420p",
		"threads": GetOptimalThreadCount(),
		"g":       60,
	}
	for k, v := range settings.EncoderPresets["final"] {
		args[k] = v
	}

	if target := extractBitrateValue(plat.GetVideoBitrate()); target > 0 {
		args["b:v"] = kbps(target)
		args["maxrate"] = kbps(target)
		args["bufsize"] = kbps(2 * target)
	} else {
		args["crf"] = settings.DefaultCRF
	}
	return args
}
