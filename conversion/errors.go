package conversion

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFamily = errors.New("unsupported conversion family")
	ErrUnsupportedFormat = errors.New("unsupported input format")
	ErrFileTooLarge      = errors.New("input file too large")
	ErrInputNotReadable  = errors.New("input file is not readable")
	ErrEmptyOutputPrefix = errors.New("output prefix cannot be empty")
	ErrNoUploadTask      = errors.New("job has no usable upload task")
	ErrExportMissing     = errors.New("export task missing from finished job")
	ErrExportNotFinished = errors.New("export task did not finish")
	ErrExportNoURL       = errors.New("export task has no result url")
)

// Stage names the step a conversion failed in.
type Stage string

const (
	StageConfiguration Stage = "configuration"
	StagePrecondition  Stage = "precondition"
	StageSubmission    Stage = "submission"
	StageUpload        Stage = "upload"
	StageRemoteJob     Stage = "remote_job"
	StageTimeout       Stage = "timeout"
	StageExport        Stage = "export"
	StageDownload      Stage = "download"
	StageCanceled      Stage = "canceled"
)

// Error is returned by every failed conversion.
type Error struct {
	Stage  Stage
	Family Family
	JobID  string // Empty until the job was created
	Err    error
}

func (e *Error) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("%s conversion failed at %s: %v", e.Family, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s conversion failed at %s (job %s): %v", e.Family, e.Stage, e.JobID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StageOf reports the failure stage of err, or "" when err is not a conversion error.
func StageOf(err error) Stage {
	var convErr *Error
	if errors.As(err, &convErr) {
		return convErr.Stage
	}
	return ""
}
