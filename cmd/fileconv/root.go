package main

import (
	"time"

	"github.com/spf13/cobra"

	client "github.com/hsn0918/fileconv"
)

type cliOptions struct {
	configPath        string
	apiKey            string
	baseURL           string
	timeout           time.Duration
	processingTimeout time.Duration
	logLevel          string
	failLogPath       string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:           "fileconv",
		Short:         "Convert uploads through CloudConvert and manage stored files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", "", "CloudConvert API key (or set CLOUDCONVERT_API_KEY)")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", client.DefaultBaseURL, "Base URL for the CloudConvert API")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "HTTP timeout for API requests")
	cmd.PersistentFlags().DurationVar(&opts.processingTimeout, "processing-timeout", client.ProcessingTimeout, "Fallback wait budget when a family sets none")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&opts.failLogPath, "fail-log", "fail.log", "Path to write failed conversion logs")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newConvertCmd(opts))
	cmd.AddCommand(newExportXMLCmd(opts))
	cmd.AddCommand(newCompletionCmd())

	return cmd
}
