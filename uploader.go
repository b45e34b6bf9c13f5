package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const operationUpload Operation = "upload file"

// UploadFile submits a local file to an import/upload form. Every form parameter is
// passed through unchanged and the file travels in the "file" field.
func (c *client) UploadFile(ctx context.Context, form UploadForm, req UploadFileRequest) error {
	if !form.Valid() {
		return ErrInvalidUploadForm
	}

	if req.Path == "" {
		return ErrEmptyFilePath
	}

	// The file may have vanished since the caller validated it.
	info, err := os.Stat(req.Path)
	if err != nil {
		return fmt.Errorf("stat upload file: %w", err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFileData, req.Path)
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	fileName := req.FileName
	if fileName == "" {
		fileName = filepath.Base(req.Path)
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	fields := make(map[string]string, len(form.Parameters))
	for k, v := range form.Parameters {
		fields[k] = formValue(v)
	}

	ctx, cancel := withDefaultTimeout(ctx, TransferTimeout)
	defer cancel()

	resp, err := c.transferClient.R().
		SetContext(ctx).
		SetMultipartFormData(fields).
		SetMultipartField("file", fileName, mimeType, f).
		Post(form.URL)

	if err != nil {
		return fmt.Errorf("upload to %s failed: %w", form.URL, err)
	}

	if !resp.IsSuccess() {
		return errStatus(operationUpload, resp.StatusCode(), resp.Status(), resp.Header().Get(RequestIDHeader))
	}

	return nil
}

func formValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}
