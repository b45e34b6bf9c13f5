// Package web serves the file manager pages, the metadata XML export and the
// metrics endpoint.
package web

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	sloghttp "github.com/samber/slog-http"

	"github.com/hsn0918/fileconv/conversion"
	"github.com/hsn0918/fileconv/internal/blob"
	"github.com/hsn0918/fileconv/internal/store"
)

const (
	defaultMaxUpload = 10 << 20
	// multipartMemory bounds the part of a form kept in memory while parsing.
	multipartMemory = 8 << 20
	// formOverhead is the slack allowed above the file limit for the rest of
	// the multipart body.
	formOverhead = 64 << 10
	blobPrefix   = "files/"
)

//go:embed templates/*.html
var templateFS embed.FS

// Dispatcher converts an uploaded file when its format has a conversion.
type Dispatcher interface {
	Dispatch(ctx context.Context, f conversion.UploadedFile) (conversion.Result, error)
}

// FileStore persists file metadata.
type FileStore interface {
	Create(ctx context.Context, f *store.File) error
	Get(ctx context.Context, id uint) (*store.File, error)
	List(ctx context.Context) ([]store.File, error)
	Update(ctx context.Context, id uint, patch store.Patch) (*store.File, error)
	Delete(ctx context.Context, id uint) error
}

type Options struct {
	Logger      *slog.Logger
	MaxUpload   int64
	TempDir     string
	CORSOrigins []string
	Gatherer    prometheus.Gatherer
}

type OptionFunc func(opts *Options)

func NewOptions(funcs ...OptionFunc) *Options {
	opts := &Options{
		Logger:    slog.Default(),
		MaxUpload: defaultMaxUpload,
		TempDir:   os.TempDir(),
		Gatherer:  prometheus.DefaultGatherer,
	}
	for _, fn := range funcs {
		fn(opts)
	}
	return opts
}

func WithLogger(logger *slog.Logger) OptionFunc {
	return func(opts *Options) {
		if logger != nil {
			opts.Logger = logger
		}
	}
}

func WithMaxUpload(n int64) OptionFunc {
	return func(opts *Options) {
		if n > 0 {
			opts.MaxUpload = n
		}
	}
}

func WithTempDir(dir string) OptionFunc {
	return func(opts *Options) {
		if dir != "" {
			opts.TempDir = dir
		}
	}
}

// WithCORSOrigins sets the origins allowed to read the XML export. Empty means any.
func WithCORSOrigins(origins ...string) OptionFunc {
	return func(opts *Options) {
		opts.CORSOrigins = origins
	}
}

func WithGatherer(g prometheus.Gatherer) OptionFunc {
	return func(opts *Options) {
		if g != nil {
			opts.Gatherer = g
		}
	}
}

type Handler struct {
	mux        *http.ServeMux
	handler    http.Handler
	files      FileStore
	blobs      blob.Store
	dispatcher Dispatcher
	views      *template.Template
	opts       *Options
	newName    func() string
}

var _ http.Handler = (*Handler)(nil)

func NewHandler(files FileStore, blobs blob.Store, dispatcher Dispatcher, funcs ...OptionFunc) (*Handler, error) {
	opts := NewOptions(funcs...)

	views, err := template.New("").Funcs(template.FuncMap{
		"size": func(n int64) string {
			if n < 0 {
				n = 0
			}
			return humanize.IBytes(uint64(n))
		},
		"description": func(f store.File) string {
			return f.DescriptionOr("-")
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	h := &Handler{
		mux:        http.NewServeMux(),
		files:      files,
		blobs:      blobs,
		dispatcher: dispatcher,
		views:      views,
		opts:       opts,
		newName:    uuid.NewString,
	}

	h.routes()

	var handler http.Handler = methodOverride(h.mux)
	handler = sloghttp.Recovery(handler)
	handler = sloghttp.New(opts.Logger)(handler)
	h.handler = handler

	return h, nil
}

func (h *Handler) routes() {
	h.mux.Handle("GET /{$}", http.RedirectHandler("/files", http.StatusFound))

	h.mux.HandleFunc("GET /files", h.handleIndex)
	h.mux.HandleFunc("POST /files/upload", h.handleUpload)
	h.mux.HandleFunc("GET /files/download/{id}", h.handleDownload)
	// A literal edit segment would conflict with the download route.
	h.mux.HandleFunc("GET /files/{id}/{action}", h.handleEdit)
	h.mux.HandleFunc("PUT /files/{id}", h.handleUpdate)
	h.mux.HandleFunc("DELETE /files/{id}", h.handleDelete)

	xml := cors.New(cors.Options{
		AllowedOrigins: h.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	h.mux.Handle("GET /xml", xml.Handler(http.HandlerFunc(h.handleXML)))
	h.mux.Handle("GET /xml/download", xml.Handler(http.HandlerFunc(h.handleXMLDownload)))
	h.mux.Handle("GET /xml/{id}", xml.Handler(http.HandlerFunc(h.handleXMLSingle)))
	h.mux.Handle("GET /xml/{id}/download", xml.Handler(http.HandlerFunc(h.handleXMLSingleDownload)))

	h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{}))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// methodOverride lets HTML forms reach the PUT and DELETE routes through a
// POST carrying a _method field.
func methodOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost &&
			strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			switch m := strings.ToUpper(r.PostFormValue("_method")); m {
			case http.MethodPut, http.MethodDelete:
				r.Method = m
			}
		}
		next.ServeHTTP(w, r)
	})
}
