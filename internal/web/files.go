package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/hsn0918/fileconv/conversion"
	"github.com/hsn0918/fileconv/internal/blob"
	"github.com/hsn0918/fileconv/internal/store"
)

var flashes = map[string]string{
	"uploaded": "File uploaded successfully!",
	"updated":  "File updated successfully!",
	"deleted":  "File deleted successfully!",
}

type indexPage struct {
	Files     []store.File
	Flash     string
	Errors    map[string]string
	MaxUpload string
}

type editPage struct {
	File   *store.File
	Errors map[string]string
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, r, http.StatusOK, flashes[r.URL.Query().Get("status")], nil)
}

func (h *Handler) renderIndex(w http.ResponseWriter, r *http.Request, status int, flash string, errs map[string]string) {
	files, err := h.files.List(r.Context())
	if err != nil {
		h.serverError(w, r, "list files", err)
		return
	}

	h.render(w, r, status, "index.html", indexPage{
		Files:     files,
		Flash:     flash,
		Errors:    errs,
		MaxUpload: humanize.IBytes(uint64(h.opts.MaxUpload)),
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.opts.Logger

	limit := h.opts.MaxUpload + formOverhead
	if r.ContentLength > limit {
		h.renderIndex(w, r, http.StatusUnprocessableEntity, "", map[string]string{"file": h.tooLargeMessage()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.renderIndex(w, r, http.StatusUnprocessableEntity, "", map[string]string{
				"file": h.tooLargeMessage(),
			})
			return
		}
		h.renderIndex(w, r, http.StatusBadRequest, "", map[string]string{"file": "The upload could not be read."})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.renderIndex(w, r, http.StatusUnprocessableEntity, "", map[string]string{"file": "The file field is required."})
		return
	}
	defer file.Close()

	errs := map[string]string{}
	if header.Size > h.opts.MaxUpload {
		errs["file"] = h.tooLargeMessage()
	}
	description := strings.TrimSpace(r.FormValue("description"))
	if utf8.RuneCountInString(description) > store.MaxDescriptionLength {
		errs["description"] = fmt.Sprintf("The description may not be greater than %d characters.", store.MaxDescriptionLength)
	}
	if len(errs) > 0 {
		h.renderIndex(w, r, http.StatusUnprocessableEntity, "", errs)
		return
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	tmpPath, err := h.spool(file, ext)
	if err != nil {
		h.serverError(w, r, "spool upload", err)
		return
	}
	defer os.Remove(tmpPath)

	result, err := h.dispatcher.Dispatch(ctx, conversion.UploadedFile{
		OriginalName: header.Filename,
		Extension:    ext,
		Path:         tmpPath,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Upload conversion failed",
			slog.String("file", header.Filename),
			slog.String("stage", string(conversion.StageOf(err))),
			slog.Any("error", err),
		)
		h.renderIndex(w, r, http.StatusUnprocessableEntity, "", map[string]string{
			"file": "The file could not be converted: " + err.Error(),
		})
		return
	}

	name := header.Filename
	if result.Converted {
		defer os.Remove(result.Path)
		ext = strings.TrimPrefix(filepath.Ext(result.Path), ".")
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename)) + "." + ext
	}

	record, err := h.persist(ctx, result.Path, name, ext, description)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRecord) {
			h.renderIndex(w, r, http.StatusUnprocessableEntity, "", map[string]string{"file": err.Error()})
			return
		}
		h.serverError(w, r, "store upload", err)
		return
	}

	logger.InfoContext(ctx, "File stored",
		slog.Uint64("id", uint64(record.ID)),
		slog.String("name", record.OriginalName),
		slog.Bool("converted", result.Converted),
		slog.String("size", humanize.IBytes(uint64(record.Size))),
	)

	http.Redirect(w, r, "/files?status=uploaded", http.StatusSeeOther)
}

func (h *Handler) tooLargeMessage() string {
	return "The file may not be greater than " + humanize.IBytes(uint64(h.opts.MaxUpload)) + "."
}

// spool copies the upload to a temp file keeping its extension, which decides
// the conversion.
func (h *Handler) spool(src multipart.File, ext string) (string, error) {
	pattern := "upload-*"
	if ext != "" {
		pattern += "." + ext
	}

	tmp, err := os.CreateTemp(h.opts.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return tmp.Name(), nil
}

// persist saves the bytes at path as a blob and records its metadata. The
// blob is removed again when the record cannot be written.
func (h *Handler) persist(ctx context.Context, path, name, ext, description string) (*store.File, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect mime type: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}

	stored := h.newName()
	if ext != "" {
		stored += "." + ext
	}
	key := blobPrefix + stored

	size, err := h.blobs.Save(ctx, key, f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("save blob: %w", err)
	}

	record := &store.File{
		OriginalName: name,
		StoredName:   stored,
		Path:         key,
		Extension:    ext,
		MimeType:     mt.String(),
		Size:         size,
	}
	if description != "" {
		record.Description = &description
	}

	if err := h.files.Create(ctx, record); err != nil {
		if derr := h.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			h.opts.Logger.WarnContext(ctx, "Could not remove orphaned blob", slog.String("key", key), slog.Any("error", derr))
		}
		return nil, err
	}

	return record, nil
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("action") != "edit" {
		http.NotFound(w, r)
		return
	}

	f, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "edit.html", editPage{File: f})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	var patch store.Patch
	if name := strings.TrimSpace(r.PostFormValue("original_name")); name != "" {
		patch.OriginalName = &name
	}
	if desc := strings.TrimSpace(r.PostFormValue("description")); desc != "" {
		if utf8.RuneCountInString(desc) > store.MaxDescriptionLength {
			h.render(w, r, http.StatusUnprocessableEntity, "edit.html", editPage{
				File: f,
				Errors: map[string]string{
					"description": fmt.Sprintf("The description may not be greater than %d characters.", store.MaxDescriptionLength),
				},
			})
			return
		}
		patch.Description = &desc
	}

	if _, err := h.files.Update(r.Context(), f.ID, patch); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, store.ErrInvalidRecord):
			h.render(w, r, http.StatusUnprocessableEntity, "edit.html", editPage{
				File:   f,
				Errors: map[string]string{"original_name": err.Error()},
			})
		default:
			h.serverError(w, r, "update file", err)
		}
		return
	}

	http.Redirect(w, r, "/files?status=updated", http.StatusSeeOther)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	rc, size, err := h.blobs.Open(r.Context(), f.Path)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			http.Error(w, "Stored file is missing", http.StatusNotFound)
			return
		}
		h.serverError(w, r, "open blob", err)
		return
	}
	defer rc.Close()

	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.OriginalName}))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.opts.Logger.WarnContext(r.Context(), "Download interrupted", slog.Uint64("id", uint64(f.ID)), slog.Any("error", err))
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := h.blobs.Delete(r.Context(), f.Path); err != nil {
		h.serverError(w, r, "delete blob", err)
		return
	}

	if err := h.files.Delete(r.Context(), f.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.serverError(w, r, "delete file", err)
		return
	}

	http.Redirect(w, r, "/files?status=deleted", http.StatusSeeOther)
}

// lookup resolves the {id} path value, answering 404 itself when there is no
// such file.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*store.File, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 0)
	if err != nil || id == 0 {
		http.NotFound(w, r)
		return nil, false
	}

	f, err := h.files.Get(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return nil, false
		}
		h.serverError(w, r, "get file", err)
		return nil, false
	}

	return f, true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := h.views.ExecuteTemplate(&buf, name, data); err != nil {
		h.serverError(w, r, "render "+name, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, action string, err error) {
	h.opts.Logger.ErrorContext(r.Context(), "Request failed",
		slog.String("action", action),
		slog.Any("error", err),
	)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
