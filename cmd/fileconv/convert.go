package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hsn0918/fileconv/conversion"
)

func newConvertCmd(opts *cliOptions) *cobra.Command {
	co := &convertOptions{
		opts: opts,
	}

	cmd := &cobra.Command{
		Use:               "convert",
		Short:             "Convert a local file or every convertible file of a directory",
		Args:              cobra.NoArgs,
		ValidArgsFunction: flagsOnly,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := co.Complete(); err != nil {
				target := co.inputPath
				if target == "" {
					target = co.filePath
				}
				if logErr := logFailure(co.opts.failLogPath, "", target, string(conversion.StagePrecondition), err); logErr != nil {
					return fmt.Errorf("%w; also failed to write fail log: %v", err, logErr)
				}
				return err
			}

			if err := co.Validate(); err != nil {
				return err
			}

			return co.Run(cmd)
		},
	}

	co.addFlags(cmd)

	return cmd
}

type convertOptions struct {
	filePath    string
	inputPath   string
	outputDir   string
	concurrency int
	opts        *cliOptions
	files       []string
}

type convertJob struct {
	dispatcher *conversion.Dispatcher
	outputDir  string
	failLog    string
}

func (o *convertOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.filePath, "file", "f", "", "File to convert")
	cmd.Flags().StringVarP(&o.inputPath, "path", "p", "", "File or directory of files to convert")
	cmd.Flags().StringVarP(&o.outputDir, "output-dir", "o", ".", "Directory receiving converted files")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 3, "Number of concurrent conversions when using --path")
}

func (o *convertOptions) Complete() error {
	if o.filePath == "" && o.inputPath == "" {
		return errors.New("flag --file or --path is required")
	}

	if o.concurrency <= 0 {
		o.concurrency = 3
	}
	if o.outputDir == "" {
		o.outputDir = "."
	}

	targetPath := o.filePath
	if targetPath == "" {
		targetPath = o.inputPath
	}

	files, err := collectInputFiles(targetPath)
	if err != nil {
		return err
	}
	o.files = files

	return nil
}

func (o *convertOptions) Validate() error {
	if len(o.files) == 0 {
		return fmt.Errorf("no convertible files found in %s", o.inputPath)
	}
	return nil
}

func (o *convertOptions) Run(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, o.opts)
	if err != nil {
		return err
	}

	if err := requireAPIKey(cfg); err != nil {
		if logErr := logFailure(o.opts.failLogPath, "", "", string(conversion.StageConfiguration), err); logErr != nil {
			return fmt.Errorf("%w; also failed to write fail log: %v", err, logErr)
		}
		return err
	}

	level, err := cfg.Logger.SlogLevel()
	if err != nil {
		return err
	}

	converter, err := buildConverter(cfg, buildClient(cfg, o.opts), newLogger(cmd.OutOrStdout(), level), nil)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	job := convertJob{
		// Artifacts land next to their final name so the move is a rename.
		dispatcher: conversion.NewDispatcher(converter, conversion.WithTempDir(o.outputDir)),
		outputDir:  o.outputDir,
		failLog:    o.opts.failLogPath,
	}

	ctx := cmd.Context()
	if len(o.files) == 1 {
		return handleConvertFile(ctx, cmd, o.files[0], job)
	}

	return runConvertBatch(ctx, cmd, o.files, o.concurrency, job)
}

// collectInputFiles accepts any regular file, while a directory contributes
// only the files whose extension has a conversion.
func collectInputFiles(p string) ([]string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	if info.Mode().IsRegular() {
		return []string{p}, nil
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("path is neither file nor directory: %s", p)
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := conversion.FamilyForExtension(filepath.Ext(entry.Name())); ok {
			files = append(files, filepath.Join(p, entry.Name()))
		}
	}

	return files, nil
}

func handleConvertFile(ctx context.Context, cmd *cobra.Command, input string, job convertJob) error {
	label := filepath.Base(input)

	result, err := job.dispatcher.Dispatch(ctx, conversion.UploadedFile{
		OriginalName: label,
		Path:         input,
	})
	if err != nil {
		var convErr *conversion.Error
		jobID := ""
		if errors.As(err, &convErr) {
			jobID = convErr.JobID
		}
		if logErr := logFailure(job.failLog, jobID, input, string(conversion.StageOf(err)), err); logErr != nil {
			return fmt.Errorf("%w; also failed to write fail log: %v", err, logErr)
		}
		return fmt.Errorf("[%s] %w", label, err)
	}

	if !result.Converted {
		printOut(cmd, "No conversion for this format, skipped", slog.String("file", label))
		return nil
	}

	target, err := settleOutput(result.Path, job.outputDir, label)
	if err != nil {
		if logErr := logFailure(job.failLog, result.JobID, input, string(conversion.StageDownload), err); logErr != nil {
			return fmt.Errorf("%w; also failed to write fail log: %v", err, logErr)
		}
		return err
	}

	attrs := []slog.Attr{
		slog.String("file", label),
		slog.String("family", string(result.Family)),
		slog.String("path", target),
	}
	if info, err := os.Stat(target); err == nil {
		attrs = append(attrs, slog.String("size", humanize.IBytes(uint64(info.Size()))))
	}
	printWithJob(cmd, slog.LevelInfo, result.JobID, "Saved converted file", attrs...)

	return nil
}

// settleOutput renames the artifact at path to <stem>.<ext> under dir. The
// unique artifact name is kept when that name is already taken.
func settleOutput(path, dir, original string) (string, error) {
	ext := filepath.Ext(path)
	want := filepath.Join(dir, strings.TrimSuffix(original, filepath.Ext(original))+ext)

	if _, err := os.Lstat(want); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat output: %w", err)
	}

	if err := os.Rename(path, want); err != nil {
		return "", fmt.Errorf("move output: %w", err)
	}
	return want, nil
}

func runConvertBatch(ctx context.Context, cmd *cobra.Command, files []string, concurrency int, job convertJob) error {
	eg, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}

	var (
		errs []error
		mu   sync.Mutex
	)

	for _, input := range files {
		eg.Go(func() error {
			if err := handleConvertFile(ctx, cmd, input, job); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if len(errs) > 0 {
		return fmt.Errorf("batch completed with %d errors, first: %w", len(errs), errs[0])
	}

	printOut(cmd, "Batch finished", slog.Int("files", len(files)))
	return nil
}
