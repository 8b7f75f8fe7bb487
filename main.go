package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZacxDev/clip-composer/internal/config"
	"github.com/ZacxDev/clip-composer/internal/ffmpeg"
	"github.com/ZacxDev/clip-composer/internal/logger"
	"github.com/ZacxDev/clip-composer/internal/processor"
	"github.com/ZacxDev/clip-composer/internal/server"
	"github.com/ZacxDev/clip-composer/internal/storage"
	"github.com/ZacxDev/clip-composer/pkg/videoprocessor"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	rootCmd = &cobra.Command{
		Use:   "clip-composer",
		Short: "Stitch hook, body and call-to-action clips into one video",
		Long: `clip-composer joins a hook, a body and a call-to-action clip into one video.
Silence is cut from the body, an optional logo and b-roll cutaways are drawn over it,
and optional background music is mixed under the original audio.

Examples:
  # Run the HTTP service
  clip-composer serve --addr :8080

  # Compose local files
  clip-composer compose --hook hook.mp4 --body body.mp4 --cta cta.mp4 --broll a.mp4 --broll b.mp4 -o final.mp4`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Addr = addr
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				cfg.Verbose = true
				cfg.LogLevel = "debug"
			}
			return serve(cmd.Context(), cfg)
		},
	}

	composeCmd = &cobra.Command{
		Use:   "compose",
		Short: "Compose a video from local files",
		Long: fmt.Sprintf(`Compose a video from local clips without starting the server.

Supported export profiles:
%s
Example:
  clip-composer compose --hook hook.mp4 --body body.mp4 --cta cta.mp4 --music track.mp3 -o final.mp4 -t tiktok`,
			formatSupportedPlatforms()),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &videoprocessor.ComposeOptions{}

			opts.HookPath, _ = cmd.Flags().GetString("hook")
			opts.BodyPath, _ = cmd.Flags().GetString("body")
			opts.CTAPath, _ = cmd.Flags().GetString("cta")
			opts.OverlayPath, _ = cmd.Flags().GetString("overlay")
			opts.BrollPaths, _ = cmd.Flags().GetStringArray("broll")
			opts.MusicPath, _ = cmd.Flags().GetString("music")
			opts.OutputPath, _ = cmd.Flags().GetString("output")
			opts.TargetPlatform, _ = cmd.Flags().GetString("target-platform")
			opts.Seed, _ = cmd.Flags().GetUint64("seed")
			opts.AvoidOverlap, _ = cmd.Flags().GetBool("avoid-overlap")
			opts.FFmpegPath, _ = cmd.Flags().GetString("ffmpeg")
			opts.Verbose, _ = cmd.Flags().GetBool("verbose")

			res, err := videoprocessor.Compose(cmd.Context(), opts)
			if err != nil {
				return err
			}

			fmt.Printf("Wrote %s (%.2fs, body %.2fs)\n", res.OutputPath, res.Duration, res.BodyDuration)
			for _, p := range res.Placements {
				fmt.Printf("  %s %s (%s) at %.2fs for %.2fs\n", p.Kind, p.Asset, p.Path, p.Start, p.Duration)
			}
			for _, s := range res.Skipped {
				fmt.Printf("  skipped %s (%s): %s\n", s.Asset, s.Path, s.Reason)
			}
			return nil
		},
	}
)

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	defer log.Sync()

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	go storage.RunSweeper(ctx, store, cfg.ArtifactTTL, cfg.SweepInterval, log)

	composer := processor.NewComposer(
		ffmpeg.NewProcessor(cfg.FFmpegPath, log),
		processor.WithLogger(log),
		processor.WithWorkDir(cfg.WorkDir),
		processor.WithAvoidOverlap(cfg.BrollAvoidOverlap),
	)

	log.Info("starting clip composer",
		zap.String("storage", cfg.StorageBackend),
		zap.Int("max_jobs", cfg.MaxConcurrentJobs),
		zap.Duration("artifact_ttl", cfg.ArtifactTTL))
	return server.New(cfg, composer, store, log).ListenAndServe(ctx)
}

func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		}, log)
	}
	return storage.NewFileStore(cfg.OutputDir)
}

func formatSupportedPlatforms() string {
	platforms := videoprocessor.GetSupportedPlatforms()
	var sb strings.Builder
	for _, platform := range platforms {
		sb.WriteString(fmt.Sprintf("- %s\n", platform))
	}
	return sb.String()
}

func init() {
	// Serve command flags
	serveCmd.Flags().String("addr", "", "Listen address (overrides ADDR)")
	serveCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Compose command flags
	composeCmd.Flags().String("hook", "", "Hook clip")
	composeCmd.Flags().String("body", "", "Body clip (silence is trimmed)")
	composeCmd.Flags().String("cta", "", "Call-to-action clip")
	composeCmd.Flags().String("overlay", "", "Logo or watermark drawn bottom-right")
	composeCmd.Flags().StringArray("broll", nil, "B-roll clip, repeatable")
	composeCmd.Flags().String("music", "", "Background music")
	composeCmd.Flags().StringP("output", "o", "", "Output video path")
	composeCmd.Flags().StringP("target-platform", "t", "",
		fmt.Sprintf("Export profile (%s)", strings.Join(videoprocessor.GetSupportedPlatforms(), ", ")))
	composeCmd.Flags().Uint64("seed", 0, "Seed for b-roll placement (0 = random)")
	composeCmd.Flags().Bool("avoid-overlap", false, "Keep b-rolls from overlapping each other")
	composeCmd.Flags().String("ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	composeCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")

	composeCmd.MarkFlagRequired("hook")
	composeCmd.MarkFlagRequired("body")
	composeCmd.MarkFlagRequired("cta")
	composeCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(composeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}
