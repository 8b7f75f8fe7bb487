package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds the service configuration loaded from the environment.
type Config struct {
	Addr              string        `validate:"required"`
	WorkDir           string        `validate:"required"`
	OutputDir         string        `validate:"required"`
	MaxUploadBytes    int64         `validate:"min=1"`
	MaxConcurrentJobs int           `validate:"min=1"`
	ArtifactTTL       time.Duration `validate:"min=1s"`
	SweepInterval     time.Duration `validate:"min=1s"`
	FFmpegPath        string        `validate:"required"`
	BrollAvoidOverlap bool
	Verbose           bool

	StorageBackend string `validate:"oneof=local minio"`
	MinioEndpoint  string `validate:"required_if=StorageBackend minio"`
	MinioAccessKey string `validate:"required_if=StorageBackend minio"`
	MinioSecretKey string `validate:"required_if=StorageBackend minio"`
	MinioBucket    string `validate:"required_if=StorageBackend minio"`
	MinioUseSSL    bool
	MinioRegion    string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	CORSOrigins      []string `validate:"min=1"`

	LogLevel      string `validate:"oneof=debug info warn error"`
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

const (
	// Silence detection
	SilenceMinLength   = 400 * time.Millisecond
	SilenceThresholdDB = -40.0

	// Overlay (logo/watermark) placement
	OverlayHeight      = 200
	OverlayStart       = 7.0
	OverlayMaxDuration = 3.0
	OverlayOpacity     = 0.9

	// B-roll placement
	BrollMaxDuration  = 3.0
	BrollOpacity      = 0.85
	BrollWindowStart  = 7.0
	BrollWindowMinEnd = 7.1
	BrollTailReserve  = 3.0
	BrollMaxAttempts  = 8

	// Audio mix
	MusicVolume    = 0.2
	OriginalVolume = 0.8
	AudioFade      = 1.0

	// Assembly normalization
	OutputFrameRate  = 30
	OutputSampleRate = 44100

	// Fallback frame size when the hook cannot report one
	FallbackWidth  = 1280
	FallbackHeight = 720

	// Temporary directory prefix for per-request work
	WorkDirPrefix = "compose_"

	// 1GB max upload
	DefaultMaxUploadBytes = 1 << 30
)

var validate = validator.New()

// Load reads configuration from the environment (and a .env file, if present)
// and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	tmp := os.TempDir()
	cfg := &Config{
		Addr:              getEnv("ADDR", ":8080"),
		WorkDir:           getEnv("WORK_DIR", tmp),
		OutputDir:         getEnv("OUTPUT_DIR", filepath.Join(tmp, "clip-composer")),
		MaxUploadBytes:    getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 2),
		ArtifactTTL:       time.Minute * time.Duration(getEnvInt("ARTIFACT_TTL_MINUTES", 60)),
		SweepInterval:     time.Minute * time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 5)),
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		BrollAvoidOverlap: getEnvBool("BROLL_AVOID_OVERLAP", false),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "clip-composer"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    os.Getenv("MINIO_REGION"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 300)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 1800)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 120)),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:       os.Getenv("LOG_FILE"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 7),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or out-of-range values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
