package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chadiek/prescreen/internal/config"
	"github.com/chadiek/prescreen/internal/infra/storage"
	"github.com/chadiek/prescreen/internal/records"
	"github.com/chadiek/prescreen/internal/usecase"
)

var (
	cfg      config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "prescreen",
	Short:         "Voice pre-screening intake service",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(logLevel)
		cfg = config.Load()
		if !cmd.Flags().Changed("log-level") {
			setupLogging(cfg.LogLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordsCmd)
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
}

type closer func() error

// openStore builds the configured record store. The archive is nil for the local store.
func openStore(ctx context.Context, c config.Config) (records.Store, usecase.Archive, closer, error) {
	if c.RecordStore == config.StoreSupabase {
		s, err := storage.NewSupabaseStore(storage.SupabaseConfig{URL: c.SupabaseURL, Key: c.SupabaseKey, Bucket: c.SupabaseBucket})
		if err != nil {
			return nil, nil, nil, err
		}
		var archive usecase.Archive
		if c.SupabaseBucket != "" {
			archive = s
		}
		return s, archive, func() error { return nil }, nil
	}
	s, err := storage.NewSQLiteStore(ctx, c.SQLitePath)
	if err != nil {
		return nil, nil, nil, err
	}
	return s, nil, s.Close, nil
}
