package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DownloadFile downloads a file from the given URL.
func (c *client) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, ErrEmptyDownloadURL
	}

	url = strings.ReplaceAll(url, "\\u0026", "&")

	ctx, cancel := withDefaultTimeout(ctx, TransferTimeout)
	defer cancel()

	resp, err := c.transferClient.R().
		SetContext(ctx).
		Get(url)

	if err != nil {
		return nil, fmt.Errorf("download file from %s failed: %w", url, err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("download file failed with status %d: %s", resp.StatusCode(), resp.Status())
	}

	data := resp.Body()
	if len(data) == 0 {
		return nil, ErrEmptyDownload
	}

	return data, nil
}

// DownloadFileTo streams a file from the given URL into dst.
func (c *client) DownloadFileTo(ctx context.Context, url string, dst io.Writer) (int64, error) {
	if url == "" {
		return 0, ErrEmptyDownloadURL
	}

	if dst == nil {
		return 0, ErrNilWriter
	}

	url = strings.ReplaceAll(url, "\\u0026", "&")

	ctx, cancel := withDefaultTimeout(ctx, TransferTimeout)
	defer cancel()

	resp, err := c.transferClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)

	if err != nil {
		return 0, fmt.Errorf("download file from %s failed: %w", url, err)
	}

	body := resp.RawBody()
	defer body.Close()

	if !resp.IsSuccess() {
		return 0, fmt.Errorf("download file failed with status %d: %s", resp.StatusCode(), resp.Status())
	}

	written, err := io.Copy(dst, body)
	if err != nil {
		return written, fmt.Errorf("write downloaded file: %w", err)
	}

	if written == 0 {
		return 0, ErrEmptyDownload
	}

	return written, nil
}

// DownloadToPath downloads a file to path, replacing any existing file. Nothing is
// left at path when the download fails.
func (c *client) DownloadToPath(ctx context.Context, url, path string) (int64, error) {
	if path == "" {
		return 0, ErrEmptyFilePath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	written, err := c.DownloadFileTo(ctx, url, tmp)
	if err != nil {
		return 0, err
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("rename temp file: %w", err)
	}

	return written, nil
}
