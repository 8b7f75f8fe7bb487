package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

type CodecSettings struct {
	VideoCodec      string
	AudioCodec      string
	DefaultCRF      int
	ContainerFormat string
	FileExtension   string
	EncoderPresets  map[string]ffmpeg.KwArgs
}

var codecPresets = map[string]CodecSettings{
	"mp4": {
		VideoCodec:      "libx264",
		AudioCodec:      "aac",
		DefaultCRF:      23,
		ContainerFormat: "mp4",
		FileExtension:   ".mp4",
		EncoderPresets: map[string]ffmpeg.KwArgs{
			// intermediates are re-encoded once more at assembly
			"intermediate": {
				"preset": "veryfast",
				"crf":    18,
			},
			"final": {
				"preset":    "medium",
				"profile:v": "high",
				"movflags":  "+faststart",
			},
		},
	},
}

func GetCodecSettings(outputFormat string) CodecSettings {
	if settings, ok := codecPresets[outputFormat]; ok {
		return settings
	}
	return codecPresets["mp4"]
}

// MediaMetadata contains metadata about a media file
type MediaMetadata struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	Bitrate  int64
	HasVideo bool
	HasAudio bool
	// IsStill is set for single images (logos, stickers) which have no duration of their own
	IsStill bool
	// AudioDuration is the length of the first audio stream, zero when unknown
	AudioDuration float64
}

// Processor wraps FFmpeg functionality
type Processor struct {
	ffmpegPath string
	log        *zap.Logger
}

// NewProcessor creates a new FFmpeg processor
func NewProcessor(ffmpegPath string, log *zap.Logger) *Processor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		ffmpegPath: ffmpegPath,
		log:        log,
	}
}

// GetMediaMetadata retrieves metadata about a media file
func (p *Processor) GetMediaMetadata(ctx context.Context, inputPath string) (*MediaMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	probe, err := ffmpeg.Probe(inputPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error probing %s", inputPath)
	}
	return parseProbe([]byte(probe))
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Duration   string `json:"duration"`
	NbFrames   string `json:"nb_frames"`
	RFrameRate string `json:"r_frame_rate"`
	BitRate    string `json:"bit_rate"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		Size       string `json:"size"`
	} `json:"format"`
}

func parseProbe(raw []byte) (*MediaMetadata, error) {
	var data probeOutput
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.WithStack(err)
	}
	if len(data.Streams) == 0 {
		return nil, errors.New("no streams found in media")
	}

	meta := &MediaMetadata{}
	var video, audio *probeStream
	for i := range data.Streams {
		s := &data.Streams[i]
		switch {
		case s.CodecType == "video" && video == nil:
			video = s
		case s.CodecType == "audio" && audio == nil:
			audio = s
		}
	}

	primary := video
	if video != nil {
		meta.HasVideo = true
		meta.Width = video.Width
		meta.Height = video.Height
	} else {
		primary = audio
	}
	if primary == nil {
		return nil, errors.New("no audio or video stream found")
	}
	if audio != nil {
		meta.HasAudio = true
		meta.AudioDuration = parseSeconds(audio.Duration)
	}
	meta.Codec = primary.CodecName

	format := data.Format.FormatName
	meta.IsStill = meta.HasVideo && !meta.HasAudio &&
		(format == "image2" || strings.HasSuffix(format, "_pipe") || primary.NbFrames == "1")

	// First try primary stream duration, then the container's
	meta.Duration = parseSeconds(primary.Duration)
	if meta.Duration == 0 {
		meta.Duration = parseSeconds(data.Format.Duration)
	}

	// If still no duration found, try calculating from frames and frame rate
	if meta.Duration == 0 {
		if frames, err := strconv.ParseFloat(primary.NbFrames, 64); err == nil {
			if fps := parseFrameRate(primary.RFrameRate); fps > 0 {
				meta.Duration = frames / fps
			}
		}
	}

	if meta.Duration == 0 && !meta.IsStill {
		return nil, errors.New("could not determine media duration")
	}

	meta.Bitrate = parseBitrate(&data, primary, meta.Duration)
	return meta, nil
}

func parseSeconds(s string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || d < 0 || math.IsNaN(d) {
		return 0
	}
	return d
}

func parseFrameRate(rate string) float64 {
	nums := strings.Split(rate, "/")
	if len(nums) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(nums[0], 64)
	den, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func parseBitrate(data *probeOutput, primary *probeStream, duration float64) int64 {
	// Try to get bitrate from format section first (usually more accurate)
	if b, err := strconv.ParseInt(data.Format.BitRate, 10, 64); err == nil {
		return b
	}
	if b, err := strconv.ParseInt(primary.BitRate, 10, 64); err == nil {
		return b
	}
	// If no explicit bitrate found, estimate from filesize and duration
	if size, err := strconv.ParseInt(data.Format.Size, 10, 64); err == nil && duration > 0 {
		return int64(float64(size*8) / duration)
	}
	return 0
}

// run executes the compiled stream and returns FFmpeg's stderr. Cancelling ctx kills the process.
func (p *Processor) run(ctx context.Context, stream *ffmpeg.Stream) (string, error) {
	args := stream.GetArgs()
	p.log.Debug("running ffmpeg", zap.String("bin", p.ffmpegPath), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stderr.String(), errors.Wrap(ctxErr, "ffmpeg interrupted")
		}
		return stderr.String(), errors.Wrapf(err, "ffmpeg failed: %s", tail(stderr.String(), 5))
	}
	return stderr.String(), nil
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// FitDimensions scales the source frame down to fit the platform limits, keeping
// aspect ratio and orientation. Zero limits keep the source size. Results are even.
func FitDimensions(srcWidth, srcHeight, maxWidth, maxHeight int) (int, int) {
	if srcWidth <= 0 || srcHeight <= 0 {
		return 0, 0
	}
	if maxWidth <= 0 || maxHeight <= 0 {
		return even(srcWidth), even(srcHeight)
	}

	// If orientations don't match, swap target dimensions
	srcIsPortrait := srcHeight > srcWidth
	targetIsPortrait := maxHeight > maxWidth
	if srcIsPortrait != targetIsPortrait {
		maxWidth, maxHeight = maxHeight, maxWidth
	}

	widthRatio := float64(maxWidth) / float64(srcWidth)
	heightRatio := float64(maxHeight) / float64(srcHeight)
	scaleFactor := math.Min(1, math.Min(widthRatio, heightRatio))

	return even(int(float64(srcWidth) * scaleFactor)), even(int(float64(srcHeight) * scaleFactor))
}

// Ensure dimensions are even (required by yuv420p)
func even(v int) int {
	v = v - (v % 2)
	if v < 2 {
		return 2
	}
	return v
}

func GetOptimalThreadCount() int {
	cpuCount := runtime.NumCPU()
	// Use 75% of available cores to prevent overload
	return int(math.Max(1, float64(cpuCount)*0.75))
}

func extractBitrateValue(bitrate string) int {
	// Remove the 'M' or 'k' suffix and convert to kbps
	value := strings.TrimRight(bitrate, "Mk")
	number, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	if strings.HasSuffix(bitrate, "M") {
		return number * 1000
	}
	if strings.HasSuffix(bitrate, "k") {
		return number
	}
	return number / 1000
}

// EnsureExtension replaces any video extension on filename with extension
func EnsureExtension(filename, extension string) string {
	extensions := []string{".mp4", ".webm", ".mkv", ".avi", ".mov"}
	for _, ext := range extensions {
		filename = strings.TrimSuffix(filename, ext)
	}
	return filename + extension
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func kbps(v int) string {
	return fmt.Sprintf("%dk", v)
}
