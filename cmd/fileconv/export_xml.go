package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hsn0918/fileconv/internal/store"
	"github.com/hsn0918/fileconv/internal/xmlexport"
)

func newExportXMLCmd(opts *cliOptions) *cobra.Command {
	eo := &exportXMLOptions{opts: opts}

	cmd := &cobra.Command{
		Use:               "export-xml",
		Short:             "Write the metadata XML of stored files",
		Args:              cobra.NoArgs,
		ValidArgsFunction: flagsOnly,
		RunE: func(cmd *cobra.Command, args []string) error {
			return eo.Run(cmd)
		},
	}

	cmd.Flags().StringVarP(&eo.output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().UintVar(&eo.id, "id", 0, "Export only the file with this id")

	return cmd
}

type exportXMLOptions struct {
	output string
	id     uint
	opts   *cliOptions
}

func (o *exportXMLOptions) Run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, o.opts)
	if err != nil {
		return err
	}

	files, err := store.Open(ctx, cfg.Storage.Database.DSN, slog.LevelError)
	if err != nil {
		return err
	}
	defer files.Close()

	var buf bytes.Buffer
	count := 1
	if o.id != 0 {
		f, err := files.Get(ctx, o.id)
		if err != nil {
			return fmt.Errorf("file %d: %w", o.id, err)
		}
		if err := xmlexport.WriteAsset(&buf, *f); err != nil {
			return err
		}
	} else {
		all, err := files.List(ctx)
		if err != nil {
			return err
		}
		if err := xmlexport.WriteDistribution(&buf, all); err != nil {
			return err
		}
		count = len(all)
	}

	if o.output == "" {
		_, err := buf.WriteTo(cmd.OutOrStdout())
		return err
	}

	if dir := filepath.Dir(o.output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(o.output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	printOut(cmd, "Wrote metadata XML", slog.String("path", o.output), slog.Int("assets", count))
	return nil
}
