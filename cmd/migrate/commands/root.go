package commands

import (
	"context"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/pkg/configutil"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	jsonLogs   bool
)

// loaded by the root PersistentPreRunE for every command
var (
	cfg Config
	tel telemetry.API
	otl telemetry.Otel
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrates Kartra courses into Strapi.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := telemetry.InitSlog(verbose, jsonLogs)
		tel = telemetry.NewSlogAPI(logger)

		var err error
		cfg, err = configutil.ReadConfig[Config](configPath)
		if err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}
		err = cfg.normalize()
		if err != nil {
			return err
		}

		otl, err = telemetry.SetupOtel(cmd.Context(), "coursemigrate", cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("setup otel: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := otl.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "config.json5", "Config file, <name>.local.<ext> is merged over it.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log debug output.")
	flags.BoolVar(&jsonLogs, "json", false, "Log json lines instead of text.")
}

// signalContext lives until Ctrl+C is pressed.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()
	return ctx
}

func fatal(message string, err error) {
	slog.Error(message, "err", err)
	os.Exit(1)
}

func Execute() {
	err := rootCmd.ExecuteContext(signalContext())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
