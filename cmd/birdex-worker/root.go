package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	birdexworker "github.com/menta2k/birdex-worker"
	"github.com/menta2k/birdex-worker/internal/config"
	"github.com/menta2k/birdex-worker/internal/logger"
	"github.com/menta2k/birdex-worker/internal/metrics"
	"github.com/menta2k/birdex-worker/pkg/framing"
	"github.com/menta2k/birdex-worker/pkg/media"
	"github.com/menta2k/birdex-worker/pkg/worker"
)

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	v := config.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "birdex-worker",
		Short:         "Bird species classification worker",
		Long:          "Reads length-prefixed media frames on stdin and writes one JSON result line per frame on stdout.",
		Version:       birdexworker.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML config file (default ./birdex.yaml)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	bindFlag(v, "log.level", flags.Lookup("log-level"))
	bindFlag(v, "metrics.addr", flags.Lookup("metrics-addr"))

	rootCmd.AddCommand(
		imageCommand(v, &configFile),
		videoCommand(v, &configFile),
	)

	return rootCmd
}

func imageCommand(v *viper.Viper, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "image",
		Short: "Classify still images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, *configFile, worker.KindImage)
		},
	}
}

func videoCommand(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Classify short videos",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			stop, err := cmd.Flags().GetInt("stop")
			if err != nil {
				return err
			}
			if stop != 0 && stop != 1 {
				return fmt.Errorf("--stop must be 0 or 1, got %d", stop)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, *configFile, worker.KindVideo)
		},
	}

	cmd.Flags().Float64("fps", 1, "Frames per second to sample")
	cmd.Flags().Int("stop", 0, "Stop at the first frame reaching the threshold (0 or 1)")
	bindFlag(v, "video.fps", cmd.Flags().Lookup("fps"))
	bindFlag(v, "video.stop", cmd.Flags().Lookup("stop"))

	return cmd
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

// run loads configuration and models, then serves the frame loop until
// stdin closes or a termination signal arrives
func run(ctx context.Context, v *viper.Viper, configFile string, kind worker.Kind) error {
	cfg, err := config.Load(v, config.Options{File: configFile, EnvFiles: []string{".env"}})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return err
	}
	log := logger.Module("main")

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		addr, done, err := m.StartServer(ctx, cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		log.Info("metrics server listening", slog.String("addr", addr.String()))
		go func() {
			if err := <-done; err != nil {
				log.Error("metrics server stopped", logger.Err(err))
			}
		}()
	}

	engine, err := birdexworker.New(cfg,
		birdexworker.WithLogger(logger.Module("pipeline")),
		birdexworker.WithMetrics(m))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn("failed to release models", logger.Err(err))
		}
	}()

	w := worker.New(os.Stdin, os.Stdout, engine.Pipeline(), m, logger.Module("worker"), worker.Config{
		Kind:       kind,
		Envelope:   media.EnvelopeMode(cfg.Worker.Envelope),
		MaxPayload: cfg.Worker.MaxPayload,
	})

	if err := w.Run(ctx); err != nil {
		if errors.Is(err, framing.ErrTruncated) {
			log.Warn("input stream closed mid-frame, exiting", logger.Err(err))
			return nil
		}
		return err
	}
	return nil
}
