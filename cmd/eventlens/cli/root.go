// Package cli implements the eventlens command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	eventlens "github.com/eventlens/eventlens"
	"github.com/eventlens/eventlens/cmd/eventlens/cli/config"
	"github.com/eventlens/eventlens/core"
	"github.com/eventlens/eventlens/internal/devcollab"
	"github.com/eventlens/eventlens/internal/window"
)

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cfgFile is the path to the config file (set via --config flag).
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "eventlens",
	Short: "Operate the content-aware photo preprocessing pipeline",
	Long: `eventlens is an operator/debugging CLI for a content-aware photo
preprocessing and cache coordination pipeline: it hashes, RAW-decodes,
face-detects, and thumbnails incoming images, and caches the result by
content digest.

This CLI embeds the pipeline with stub RAW-decode/face-detect/crop
collaborators; it is meant for local demoing and operational inspection,
not production face detection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().String("cache-dir", "", "Cache directory path (default: XDG cache dir)")
	rootCmd.PersistentFlags().Int64("budget-bytes", 0, "Soft cache size budget in bytes (0: store default)")
	rootCmd.PersistentFlags().Int("max-workers", 0, "Worker pool concurrency cap (0: store default)")

	//nolint:errcheck // flags are defined above, so Lookup will never return nil
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	//nolint:errcheck
	viper.BindPFlag("cache.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	//nolint:errcheck
	viper.BindPFlag("cache.budget_bytes", rootCmd.PersistentFlags().Lookup("budget-bytes"))
	//nolint:errcheck
	viper.BindPFlag("pipeline.max_workers", rootCmd.PersistentFlags().Lookup("max-workers"))

	rootCmd.Version = version
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := config.Dir()
		if err == nil {
			viper.AddConfigPath(configDir)
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Environment variables: EVENTLENS_CACHE_DIR, EVENTLENS_VERBOSE, etc.
	viper.SetEnvPrefix("EVENTLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Config file is optional - don't fail if missing
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config:", viper.ConfigFileUsed())
		}
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// newCoordinator wires a Coordinator from the effective viper configuration,
// using the in-process devcollab stub collaborators in place of a real RAW
// decoder and face-detection model.
func newCoordinator(ctx context.Context) (*eventlens.Coordinator, error) {
	cacheDir := viper.GetString("cache.dir")
	if cacheDir == "" {
		var err error
		cacheDir, err = config.CacheDir()
		if err != nil {
			return nil, fmt.Errorf("determine cache directory: %w", err)
		}
	}

	opts := []eventlens.CoordinatorOption{
		eventlens.WithCacheDir(cacheDir),
		eventlens.WithCollaborators(
			devcollab.FakeDecoder{TempDir: os.TempDir()},
			devcollab.FixedDetector{Boxes: []core.BBox{{X: 0, Y: 0, W: 64, H: 64}}},
			devcollab.NoopCropper{},
			&devcollab.MonotonicClock{},
			devcollab.OSFs{},
		),
	}

	if budget := viper.GetInt64("cache.budget_bytes"); budget > 0 {
		opts = append(opts, eventlens.WithBudget(budget))
	}
	if maxWorkers := viper.GetInt("pipeline.max_workers"); maxWorkers > 0 {
		opts = append(opts, eventlens.WithMaxWorkers(maxWorkers))
	}
	if exts := viper.GetStringSlice("pipeline.raw_extensions"); len(exts) > 0 {
		opts = append(opts, eventlens.WithRawExtensions(exts))
	}
	if winCfg, ok := windowConfigFromViper(); ok {
		opts = append(opts, eventlens.WithWindowConfig(winCfg))
	}
	if viper.GetBool("verbose") {
		opts = append(opts, eventlens.WithLogger(
			slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
		))
	}

	return eventlens.NewCoordinator(ctx, opts...)
}

// windowConfigFromViper builds a window.Config only if at least one
// watermark was explicitly configured; otherwise the coordinator's own
// default applies.
func windowConfigFromViper() (window.Config, bool) {
	max := viper.GetInt("window.max_ready_items")
	buf := viper.GetInt("window.min_queue_buffer")
	resume := viper.GetInt("window.resume_threshold")
	if max == 0 && buf == 0 && resume == 0 {
		return window.Config{}, false
	}
	cfg := window.DefaultConfig()
	if max > 0 {
		cfg.MaxReadyItems = max
	}
	if buf > 0 {
		cfg.MinQueueBuffer = buf
	}
	if resume > 0 {
		cfg.ResumeThreshold = resume
	}
	return cfg, true
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// formatError converts eventlens errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, core.ErrFileMissing):
		return fmt.Sprintf("Error: file missing: %v", err)
	case errors.Is(err, core.ErrStorageFull):
		return "Error: cache storage full (disk out of space)"
	case errors.Is(err, core.ErrAlreadyLocked):
		return "Error: cache directory already locked by another process"
	case errors.Is(err, core.ErrInvariantViolation):
		return fmt.Sprintf("Error: %v", err)
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
