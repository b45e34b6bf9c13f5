package conversion

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/docker/go-units"

	client "github.com/hsn0918/fileconv"
)

// Family groups the input formats that share one remote conversion flow.
type Family string

const (
	FamilyDocument Family = "document"
	FamilyAudio    Family = "audio"
	FamilyVideo    Family = "video"
	FamilyImage    Family = "image"
)

// Families lists every supported family in dispatch order.
func Families() []Family {
	return []Family{FamilyDocument, FamilyAudio, FamilyVideo, FamilyImage}
}

// ParseFamily resolves a family name.
func ParseFamily(name string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(name)))
	if slices.Contains(Families(), f) {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFamily, name)
}

// Timing is the wait policy of a family.
type Timing struct {
	MaxWait       time.Duration // Total status-poll budget
	PollInterval  time.Duration
	UploadTimeout time.Duration
	ProgressEvery time.Duration // Zero disables progress events
}

// merge returns t with every non-zero field of o applied.
func (t Timing) merge(o Timing) Timing {
	if o.MaxWait > 0 {
		t.MaxWait = o.MaxWait
	}
	if o.PollInterval > 0 {
		t.PollInterval = o.PollInterval
	}
	if o.UploadTimeout > 0 {
		t.UploadTimeout = o.UploadTimeout
	}
	if o.ProgressEvery > 0 {
		t.ProgressEvery = o.ProgressEvery
	}
	return t
}

// Request is one conversion of a local file.
type Request struct {
	InputPath    string
	OutputPrefix string // Output path without extension
	InputFormat  string // Declared input format, case-insensitive, leading dot allowed
}

func (r Request) format() string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(r.InputFormat), "."))
}

// Strategy is the per-family policy driving one remote job.
type Strategy interface {
	Family() Family
	// Validate checks the declared format and the input size against the family limits.
	Validate(req Request, size int64) error
	JobSpec(req Request) client.JobSpec
	// Upload returns the file name and mime type announced with the upload.
	Upload(req Request) client.UploadFileRequest
	Timing() Timing
	ResultExtension() string
	ImportTask() string
	ExportTask() string
}

type formatStrategy struct {
	family   Family
	subject  string            // Task name component, e.g. "audio" in import-audio
	output   string            // Target format and extension
	accepted []string          // Accepted declared input formats
	aliases  map[string]string // Declared format → provider format
	mimes    map[string]string // Provider format → mime type
	fileStem string
	maxSize  int64 // Zero means no local ceiling
	options  func(format string) map[string]any
	timing   Timing
}

var _ Strategy = (*formatStrategy)(nil)

func (s *formatStrategy) Family() Family {
	return s.family
}

func (s *formatStrategy) Timing() Timing {
	return s.timing
}

func (s *formatStrategy) ResultExtension() string {
	return s.output
}

func (s *formatStrategy) ImportTask() string {
	return "import-" + s.subject
}

func (s *formatStrategy) convertTask() string {
	return "convert-" + s.subject + "-to-" + s.output
}

func (s *formatStrategy) ExportTask() string {
	return "export-" + s.output
}

func (s *formatStrategy) providerFormat(declared string) string {
	if alias, ok := s.aliases[declared]; ok {
		return alias
	}
	return declared
}

func (s *formatStrategy) Validate(req Request, size int64) error {
	format := req.format()
	if !slices.Contains(s.accepted, format) {
		return fmt.Errorf("%w: %s does not accept %q (want %s)", ErrUnsupportedFormat, s.family, format, strings.Join(s.accepted, ", "))
	}

	if s.maxSize > 0 && size > s.maxSize {
		return fmt.Errorf("%w: %s is larger than the %s limit of %s",
			ErrFileTooLarge, units.BytesSize(float64(size)), s.family, units.BytesSize(float64(s.maxSize)))
	}

	return nil
}

func (s *formatStrategy) JobSpec(req Request) client.JobSpec {
	format := s.providerFormat(req.format())

	var options map[string]any
	if s.options != nil {
		options = s.options(format)
	}

	return client.JobSpec{
		Tag: string(s.family),
		Tasks: []client.NamedTask{
			{Name: s.ImportTask(), TaskSpec: client.TaskSpec{Operation: client.OperationImportUpload}},
			{Name: s.convertTask(), TaskSpec: client.TaskSpec{
				Operation:    client.OperationConvert,
				Input:        s.ImportTask(),
				InputFormat:  format,
				OutputFormat: s.output,
				Options:      options,
			}},
			{Name: s.ExportTask(), TaskSpec: client.TaskSpec{Operation: client.OperationExportURL, Input: s.convertTask()}},
		},
	}
}

func (s *formatStrategy) Upload(req Request) client.UploadFileRequest {
	format := s.providerFormat(req.format())

	mime, ok := s.mimes[format]
	if !ok {
		mime = "application/octet-stream"
	}

	return client.UploadFileRequest{
		Path:     req.InputPath,
		MimeType: mime,
		FileName: s.fileStem + "." + format,
	}
}

// defaultStrategies returns a fresh dispatch table.
func defaultStrategies() map[Family]Strategy {
	return map[Family]Strategy{
		FamilyDocument: &formatStrategy{
			family:   FamilyDocument,
			subject:  "pdf",
			output:   "docx",
			accepted: []string{"pdf"},
			mimes:    map[string]string{"pdf": "application/pdf"},
			fileStem: "document",
			timing: Timing{
				MaxWait:       300 * time.Second,
				PollInterval:  5 * time.Second,
				UploadTimeout: 300 * time.Second,
			},
		},
		FamilyAudio: &formatStrategy{
			family:   FamilyAudio,
			subject:  "audio",
			output:   "flac",
			accepted: []string{"mp3", "wav"},
			mimes:    map[string]string{"mp3": "audio/mpeg", "wav": "audio/wav"},
			fileStem: "audio",
			options: func(string) map[string]any {
				// A null bitrate keeps the source bitrate.
				return map[string]any{
					"audio_codec":   "flac",
					"audio_bitrate": nil,
				}
			},
			timing: Timing{
				MaxWait:       600 * time.Second,
				PollInterval:  5 * time.Second,
				UploadTimeout: 600 * time.Second,
			},
		},
		FamilyVideo: &formatStrategy{
			family:   FamilyVideo,
			subject:  "video",
			output:   "flv",
			accepted: []string{"mp4"},
			mimes:    map[string]string{"mp4": "video/mp4"},
			fileStem: "video",
			maxSize:  units.GiB,
			options: func(string) map[string]any {
				return map[string]any{
					"video_codec":   "flv1",
					"audio_codec":   "mp3",
					"video_bitrate": nil,
					"audio_bitrate": "128",
					"fps":           nil,
				}
			},
			timing: Timing{
				MaxWait:       1200 * time.Second,
				PollInterval:  10 * time.Second,
				UploadTimeout: 1800 * time.Second,
				ProgressEvery: time.Minute,
			},
		},
		FamilyImage: &formatStrategy{
			family:   FamilyImage,
			subject:  "image",
			output:   "png",
			accepted: []string{"jpg", "jpeg"},
			aliases:  map[string]string{"jpeg": "jpg"},
			mimes:    map[string]string{"jpg": "image/jpeg"},
			fileStem: "image",
			maxSize:  50 * units.MiB,
			options: func(string) map[string]any {
				// strip=false keeps EXIF and other metadata.
				return map[string]any{
					"quality":     100,
					"strip":       false,
					"auto_orient": true,
				}
			},
			timing: Timing{
				MaxWait:       120 * time.Second,
				PollInterval:  3 * time.Second,
				UploadTimeout: 180 * time.Second,
			},
		},
	}
}

var extensionFamilies = map[string]Family{
	"pdf":  FamilyDocument,
	"mp3":  FamilyAudio,
	"wav":  FamilyAudio,
	"mp4":  FamilyVideo,
	"jpg":  FamilyImage,
	"jpeg": FamilyImage,
}

// FamilyForExtension maps a file extension to the family converting it.
// Extensions are matched case-insensitively, with or without a leading dot.
func FamilyForExtension(ext string) (Family, bool) {
	f, ok := extensionFamilies[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))]
	return f, ok
}

type timedStrategy struct {
	Strategy
	timing Timing
}

func (s timedStrategy) Timing() Timing {
	return s.timing
}
