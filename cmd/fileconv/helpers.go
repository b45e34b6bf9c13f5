package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	client "github.com/hsn0918/fileconv"
	"github.com/hsn0918/fileconv/conversion"
	"github.com/hsn0918/fileconv/internal/config"
)

// loadConfig reads the config file and environment, then applies the flags
// the user set explicitly.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.CloudConvert.APIKey = opts.apiKey
	}
	if flags.Changed("base-url") {
		cfg.CloudConvert.BaseURL = opts.baseURL
	}
	if flags.Changed("timeout") {
		cfg.CloudConvert.Timeout = opts.timeout
	}
	if flags.Changed("log-level") {
		cfg.Logger.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func requireAPIKey(cfg *config.Config) error {
	if cfg.CloudConvert.APIKey == "" {
		return errors.New("api key is required (flag --api-key, cloudconvert.api_key or CLOUDCONVERT_API_KEY)")
	}
	return nil
}

func buildClient(cfg *config.Config, opts *cliOptions) client.Client {
	return client.NewClient(
		client.WithAPIKey(cfg.CloudConvert.APIKey),
		client.WithBaseURL(cfg.CloudConvert.BaseURL),
		client.WithTimeout(cfg.CloudConvert.Timeout),
		client.WithProcessingTimeout(opts.processingTimeout),
	)
}

// buildConverter wires the lifecycle observers and the configured overrides.
// reg may be nil when metrics are not exposed.
func buildConverter(cfg *config.Config, cli client.Client, logger *slog.Logger, reg prometheus.Registerer) (*conversion.Converter, error) {
	observers := []conversion.Observer{conversion.NewLogObserver(logger)}
	if reg != nil {
		observers = append(observers, conversion.NewMetricsObserver(reg))
	}

	options := []conversion.Option{
		conversion.WithObserver(observers...),
		conversion.WithDownloadTimeout(cfg.Conversion.DownloadTimeout),
	}

	for name, t := range cfg.Conversion.Families {
		family, err := conversion.ParseFamily(name)
		if err != nil {
			return nil, fmt.Errorf("conversion.families: %w", err)
		}
		options = append(options, conversion.WithTiming(family, conversion.Timing{
			MaxWait:       t.MaxWait,
			PollInterval:  t.PollInterval,
			UploadTimeout: t.UploadTimeout,
		}))
	}

	if rl := cfg.Conversion.RateLimit; rl.Interval > 0 {
		options = append(options, conversion.WithRateLimit(rl.Interval, rl.Burst))
	}

	return conversion.NewConverter(cli, options...), nil
}

func printOut(cmd *cobra.Command, msg string, attrs ...slog.Attr) {
	logWith(cmd, slog.LevelInfo, "", msg, attrs...)
}

func printWithJob(cmd *cobra.Command, level slog.Level, jobID string, msg string, attrs ...slog.Attr) {
	logWith(cmd, level, jobID, msg, attrs...)
}

func logWith(cmd *cobra.Command, level slog.Level, jobID string, msg string, attrs ...slog.Attr) {
	logger := newLogger(cmd.OutOrStdout(), slog.LevelDebug)
	if jobID != "" {
		attrs = append([]slog.Attr{slog.String("job-id", jobID)}, attrs...)
	}
	logger.LogAttrs(cmd.Context(), level, strings.TrimSuffix(msg, "\n"), attrs...)
}

// newLogger writes text records without the time attribute.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(handler)
}

// newServiceLogger keeps timestamps, for long running processes.
func newServiceLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
