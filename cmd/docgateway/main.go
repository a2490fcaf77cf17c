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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trackshift/platform/docgateway/internal/config"
	"github.com/trackshift/platform/docgateway/internal/connectors"
	"github.com/trackshift/platform/docgateway/internal/convert"
	"github.com/trackshift/platform/docgateway/internal/dlp"
	"github.com/trackshift/platform/docgateway/internal/executor"
	"github.com/trackshift/platform/docgateway/internal/features"
	"github.com/trackshift/platform/docgateway/internal/flags"
	"github.com/trackshift/platform/docgateway/internal/ledger"
	"github.com/trackshift/platform/docgateway/internal/upload"
)

const shutdownGrace = 30 * time.Second

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("docgateway exited")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(""); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg := config.Load()

	set, err := flags.Load(cfg.FeaturesFile)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.FeaturesFile).Msg("ignoring unreadable feature file")
	} else if set.Loaded() {
		log.Info().Str("path", set.Source()).Int("flags", set.Len()).Msg("feature file loaded")
	}
	resolver := flags.NewResolver(set, cfg.Production)

	stager, err := upload.NewStager(cfg.UploadDir, dlp.NewRuleScannerFromEnv(), component("upload"))
	if err != nil {
		return err
	}

	archive := connectors.NewArchive(
		connectors.Load(ctx, cfg.ArchiveConnectors, component("connectors")),
		cfg.ArchiveStrict,
		component("archive"),
	)
	if archive.Len() > 0 {
		log.Info().Int("count", archive.Len()).Msg("archive connectors enabled")
	}

	var recorder ledger.Recorder = ledger.Nop{}
	if cfg.PostgresDSN != "" {
		pg, err := ledger.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer pg.Close()
		recorder = pg
	}

	conv := convert.New(convert.Deps{
		Runner:  executor.NewExecRunner(cfg.ToolTimeout, component("executor")),
		Tools:   cfg.Tools,
		WorkDir: cfg.UploadDir,
		Archive: archive,
		Logger:  component("convert"),
	})
	loader := features.NewLoader(features.Builtin(), features.Context{
		UploadDir: cfg.UploadDir,
		Policies:  upload.DefaultRegistry(),
		Flags:     resolver,
		Converter: conv,
		Logger:    log.Logger,
	}, stager, recorder)

	srv := &http.Server{
		Addr:              cfg.HTTPBind,
		Handler:           newRouter(cfg, loader, component("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.HTTPBind).
			Bool("production", cfg.Production).
			Str("upload_dir", cfg.UploadDir).
			Msg("docgateway HTTP listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
