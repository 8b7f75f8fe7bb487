package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/exp/slices"
)

// Interval is a span of media time in milliseconds, [StartMs, EndMs).
type Interval struct {
	StartMs int64
	EndMs   int64
}

func (i Interval) Duration() time.Duration {
	return time.Duration(i.EndMs-i.StartMs) * time.Millisecond
}

// Seconds returns the interval bounds in seconds.
func (i Interval) Seconds() (start, end float64) {
	return float64(i.StartMs) / 1000, float64(i.EndMs) / 1000
}

// SilenceParams configures silence detection
type SilenceParams struct {
	MinLength   time.Duration
	ThresholdDB float64
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[0-9.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[0-9.]+)`)
)

// DetectNonSilent returns the non-silent spans of the audio track at inputPath,
// ordered and non-overlapping. duration is the track length in seconds.
func (p *Processor) DetectNonSilent(ctx context.Context, inputPath string, duration float64, params SilenceParams) ([]Interval, error) {
	stderr, err := p.run(ctx, silenceGraph(inputPath, params))
	if err != nil {
		return nil, errors.Wrap(err, "silence detection failed")
	}

	totalMs := int64(math.Round(duration * 1000))
	return NonSilentIntervals(ParseSilenceLog(stderr, totalMs), totalMs), nil
}

func silenceGraph(inputPath string, params SilenceParams) *ffmpeg.Stream {
	return ffmpeg.Input(inputPath).
		Audio().
		Filter("silencedetect", nil, ffmpeg.KwArgs{
			"noise": fmt.Sprintf("%gdB", params.ThresholdDB),
			"d":     params.MinLength.Seconds(),
		}).
		Output("-", ffmpeg.KwArgs{"f": "null"})
}

// ParseSilenceLog extracts the silent spans reported by the silencedetect filter.
// A start without a matching end runs to totalMs.
func ParseSilenceLog(log string, totalMs int64) []Interval {
	starts := silenceStartRe.FindAllStringSubmatch(log, -1)
	ends := silenceEndRe.FindAllStringSubmatch(log, -1)

	silences := make([]Interval, 0, len(starts))
	for i, m := range starts {
		start := secondsToMs(m[1])
		end := totalMs
		if i < len(ends) {
			end = secondsToMs(ends[i][1])
		}
		silences = append(silences, Interval{StartMs: start, EndMs: end})
	}
	return silences
}

// NonSilentIntervals returns the complement of silences over [0, totalMs].
func NonSilentIntervals(silences []Interval, totalMs int64) []Interval {
	silences = NormalizeIntervals(silences, totalMs)

	var out []Interval
	var cursor int64
	for _, s := range silences {
		if s.StartMs > cursor {
			out = append(out, Interval{StartMs: cursor, EndMs: s.StartMs})
		}
		if s.EndMs > cursor {
			cursor = s.EndMs
		}
	}
	if cursor < totalMs {
		out = append(out, Interval{StartMs: cursor, EndMs: totalMs})
	}
	return out
}

// NormalizeIntervals clamps intervals to [0, totalMs], drops empty ones, sorts by
// start and merges overlaps.
func NormalizeIntervals(intervals []Interval, totalMs int64) []Interval {
	clamped := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		iv.StartMs = clampMs(iv.StartMs, totalMs)
		iv.EndMs = clampMs(iv.EndMs, totalMs)
		if iv.EndMs > iv.StartMs {
			clamped = append(clamped, iv)
		}
	}
	slices.SortFunc(clamped, func(a, b Interval) int {
		switch {
		case a.StartMs < b.StartMs:
			return -1
		case a.StartMs > b.StartMs:
			return 1
		}
		return 0
	})

	merged := clamped[:0]
	for _, iv := range clamped {
		if n := len(merged); n > 0 && iv.StartMs <= merged[n-1].EndMs {
			if iv.EndMs > merged[n-1].EndMs {
				merged[n-1].EndMs = iv.EndMs
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// TotalDuration sums the interval lengths.
func TotalDuration(intervals []Interval) time.Duration {
	var total time.Duration
	for _, iv := range intervals {
		total += iv.Duration()
	}
	return total
}

func clampMs(v, totalMs int64) int64 {
	if v < 0 {
		return 0
	}
	if v > totalMs {
		return totalMs
	}
	return v
}

func secondsToMs(s string) int64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * 1000))
}
