package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hsn0918/fileconv/conversion"
	"github.com/hsn0918/fileconv/internal/blob"
	"github.com/hsn0918/fileconv/internal/store"
	"github.com/hsn0918/fileconv/internal/web"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	so := &serveOptions{opts: opts}

	cmd := &cobra.Command{
		Use:               "serve",
		Short:             "Run the file manager web server",
		Args:              cobra.NoArgs,
		ValidArgsFunction: flagsOnly,
		RunE: func(cmd *cobra.Command, args []string) error {
			return so.Run(cmd)
		},
	}

	cmd.Flags().StringVar(&so.address, "address", "", "Listen address (overrides http.address)")

	return cmd
}

type serveOptions struct {
	address string
	opts    *cliOptions
}

func (o *serveOptions) Run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, o.opts)
	if err != nil {
		return err
	}
	if o.address != "" {
		cfg.HTTP.Address = o.address
	}

	level, err := cfg.Logger.SlogLevel()
	if err != nil {
		return err
	}
	logger := newServiceLogger(cmd.OutOrStdout(), level)

	if cfg.CloudConvert.APIKey == "" {
		logger.Warn("No CloudConvert API key configured, convertible uploads will be rejected")
	}

	maxUpload, err := cfg.HTTP.MaxUploadBytes()
	if err != nil {
		return err
	}

	files, err := store.Open(ctx, cfg.Storage.Database.DSN, level)
	if err != nil {
		return err
	}
	defer files.Close()

	blobs, err := blob.Open(ctx, cfg.Storage.Blob)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	converter, err := buildConverter(cfg, buildClient(cfg, o.opts), logger, reg)
	if err != nil {
		return err
	}

	handler, err := web.NewHandler(files, blobs,
		conversion.NewDispatcher(converter, conversion.WithTempDir(cfg.Conversion.TempDir)),
		web.WithLogger(logger),
		web.WithMaxUpload(maxUpload),
		web.WithTempDir(cfg.Conversion.TempDir),
		web.WithCORSOrigins(cfg.HTTP.CORSOrigins...),
		web.WithGatherer(reg),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", slog.String("addr", srv.Addr))
		if e := srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			errCh <- e
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("Server error", slog.Any("error", err))
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", slog.Any("error", err))
		return err
	}

	logger.Info("Server gracefully stopped")
	return nil
}
