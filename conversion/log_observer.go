package conversion

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// LogObserver renders conversion events as structured log records.
type LogObserver struct {
	logger *slog.Logger
}

var _ Observer = (*LogObserver)(nil)

func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Observe(ctx context.Context, e Event) {
	attrs := []slog.Attr{
		slog.String("family", string(e.Family)),
		slog.String("input", e.Input),
	}
	if e.JobID != "" {
		attrs = append(attrs, slog.String("job_id", e.JobID))
	}

	level := slog.LevelInfo
	var msg string

	switch e.Kind {
	case EventSubmitted:
		msg = "Conversion job submitted"
		attrs = append(attrs, slog.String("size", humanize.IBytes(uint64(e.InputSize))))
	case EventUploaded:
		msg = "Input uploaded"
	case EventStatusChanged:
		msg = "Job status changed"
		attrs = append(attrs,
			slog.String("from", string(e.PreviousStatus)),
			slog.String("to", string(e.Status)),
			slog.Duration("elapsed", e.Elapsed),
		)
	case EventPollFailed:
		msg = "Job status query failed, retrying"
		level = slog.LevelWarn
		attrs = append(attrs, slog.Duration("elapsed", e.Elapsed), slog.Any("error", e.Err))
	case EventProgress:
		msg = "Conversion still running"
		attrs = append(attrs, slog.String("status", string(e.Status)), slog.Duration("elapsed", e.Elapsed))
	case EventCompleted:
		msg = "Conversion completed"
		attrs = append(attrs,
			slog.String("output", e.Output),
			slog.Duration("duration", e.Duration),
		)
		if e.Family == FamilyImage {
			attrs = append(attrs,
				slog.String("original_size", humanize.IBytes(uint64(e.InputSize))),
				slog.String("converted_size", humanize.IBytes(uint64(e.OutputSize))),
			)
		} else {
			attrs = append(attrs, slog.String("size", humanize.IBytes(uint64(e.OutputSize))))
		}
	case EventFailed:
		msg = "Conversion failed"
		level = slog.LevelError
		attrs = append(attrs,
			slog.String("stage", string(e.Stage)),
			slog.Duration("duration", e.Duration),
			slog.Any("error", e.Err),
		)
		if e.CleanupErr != nil {
			attrs = append(attrs, slog.Any("cleanup_error", e.CleanupErr))
		}
	default:
		msg = string(e.Kind)
	}

	o.logger.LogAttrs(ctx, level, msg, attrs...)
}
