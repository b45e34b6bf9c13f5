package conversion

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UploadedFile is a file handed over for storage.
type UploadedFile struct {
	OriginalName string
	Extension    string // Falls back to the extension of OriginalName
	Path         string // Readable local path
}

// Result tells the caller which file to store. Path is the original path for
// pass-through files and the converted artifact otherwise.
type Result struct {
	Path      string
	Converted bool
	Family    Family
	JobID     string
}

// Dispatcher routes uploaded files to the converter by extension.
type Dispatcher struct {
	converter *Converter
	tempDir   string
	token     func() string
}

type DispatcherOption func(*Dispatcher)

// WithTempDir sets where converted artifacts are written. Defaults to os.TempDir.
func WithTempDir(dir string) DispatcherOption {
	return func(d *Dispatcher) {
		if dir != "" {
			d.tempDir = dir
		}
	}
}

func NewDispatcher(converter *Converter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		converter: converter,
		tempDir:   os.TempDir(),
		token:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch converts f when its extension belongs to a family and passes it through
// unchanged otherwise. A non-nil error means the file must not be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, f UploadedFile) (Result, error) {
	ext := f.Extension
	if ext == "" {
		ext = filepath.Ext(f.OriginalName)
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	family, ok := FamilyForExtension(ext)
	if !ok {
		return Result{Path: f.Path}, nil
	}

	out, err := d.converter.Convert(ctx, family, Request{
		InputPath:    f.Path,
		OutputPrefix: d.outputPrefix(f.OriginalName),
		InputFormat:  ext,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Path: out.Path, Converted: true, Family: family, JobID: out.JobID}, nil
}

// outputPrefix joins the original stem with a fresh token so that concurrent
// conversions of equally named files never share an output path.
func (d *Dispatcher) outputPrefix(originalName string) string {
	stem := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "file"
	}

	return filepath.Join(d.tempDir, stem+"_"+d.token())
}
