package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chadiek/prescreen/internal/agent"
	"github.com/chadiek/prescreen/internal/auth"
	"github.com/chadiek/prescreen/internal/backend"
	"github.com/chadiek/prescreen/internal/catalog"
	"github.com/chadiek/prescreen/internal/httpserver"
	"github.com/chadiek/prescreen/internal/rtc"
	"github.com/chadiek/prescreen/internal/speech"
	"github.com/chadiek/prescreen/internal/tts"
	"github.com/chadiek/prescreen/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket shell",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides HTTP_ADDRESS)")
	serveCmd.Flags().String("backend", "", "Intake backend base URL (overrides BACKEND_URL)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.HTTPAddress = v
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.BackendURL = v
	}

	ctx := context.Background()
	store, archive, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("close record store")
		}
	}()

	state := auth.NewState(store)
	if err := state.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("could not restore previous session")
	}

	cat := catalog.Default()
	var synth speech.Synthesizer
	if cfg.DeepgramKey != "" {
		synth = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel)
	}

	srv := httpserver.New(httpserver.Deps{
		Backend:   backend.NewClient(cfg.BackendURL),
		Catalog:   cat,
		Auth:      state,
		Store:     store,
		Intake:    usecase.NewIntakeService(store, state, cat, archive),
		Devices:   rtc.NewRegistry(),
		Synth:     synth,
		VoicePref: speech.VoicePreference{Locale: cfg.VoiceLocale},
		Policy: agent.FollowUpPolicy{
			MinQuestions:   cfg.FollowUpMinQuestions,
			MaxQuestions:   cfg.FollowUpMaxQuestions,
			TrustEarlyDone: cfg.FollowUpTrustEarlyDone,
		},
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
	return nil
}
