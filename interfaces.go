package client

import (
	"context"
	"io"
)

// Info provides metadata about the client
type Info interface {
	Name() string
	Version() string
	Authenticated() bool
}

// Jobs handles job submission and inspection
type Jobs interface {
	CreateJob(ctx context.Context, spec JobSpec) (*JobResponse, error)
	GetJob(ctx context.Context, id string) (*JobResponse, error)
	DeleteJob(ctx context.Context, id string) error
	WaitForJob(ctx context.Context, id string, policy PollPolicy, opts ...WaitOption) (*Job, error)
}

// Uploader pushes local files to provider-supplied upload forms
type Uploader interface {
	UploadFile(ctx context.Context, form UploadForm, req UploadFileRequest) error
}

// Downloader handles file download operations
type Downloader interface {
	DownloadFile(ctx context.Context, url string) ([]byte, error)
	DownloadFileTo(ctx context.Context, url string, dst io.Writer) (int64, error)
	DownloadToPath(ctx context.Context, url, path string) (int64, error)
}

// Client combines all provider operations
type Client interface {
	Info
	Jobs
	Uploader
	Downloader
}
