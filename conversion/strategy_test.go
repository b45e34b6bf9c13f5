package conversion

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-units"
	qt "github.com/frankban/quicktest"

	client "github.com/hsn0918/fileconv"
)

func TestDefaultStrategiesBuildValidJobSpecs(t *testing.T) {
	c := qt.New(t)

	formats := map[Family]string{
		FamilyDocument: "pdf",
		FamilyAudio:    "mp3",
		FamilyVideo:    "mp4",
		FamilyImage:    "jpeg",
	}

	for family, s := range defaultStrategies() {
		c.Assert(s.Family(), qt.Equals, family)

		spec := s.JobSpec(Request{InputFormat: formats[family]})
		c.Assert(spec.Validate(), qt.IsNil)
		c.Assert(spec.Tag, qt.Equals, string(family))

		imp, ok := spec.Task(s.ImportTask())
		c.Assert(ok, qt.IsTrue)
		c.Assert(imp.Operation, qt.Equals, client.OperationImportUpload)

		exp, ok := spec.Task(s.ExportTask())
		c.Assert(ok, qt.IsTrue)
		c.Assert(exp.Operation, qt.Equals, client.OperationExportURL)
	}
}

func TestStrategyTables(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		family  Family
		tasks   []string
		output  string
		timing  Timing
		maxSize int64
	}{
		{
			family: FamilyDocument,
			tasks:  []string{"import-pdf", "convert-pdf-to-docx", "export-docx"},
			output: "docx",
			timing: Timing{MaxWait: 300 * time.Second, PollInterval: 5 * time.Second, UploadTimeout: 300 * time.Second},
		},
		{
			family: FamilyAudio,
			tasks:  []string{"import-audio", "convert-audio-to-flac", "export-flac"},
			output: "flac",
			timing: Timing{MaxWait: 600 * time.Second, PollInterval: 5 * time.Second, UploadTimeout: 600 * time.Second},
		},
		{
			family:  FamilyVideo,
			tasks:   []string{"import-video", "convert-video-to-flv", "export-flv"},
			output:  "flv",
			timing:  Timing{MaxWait: 1200 * time.Second, PollInterval: 10 * time.Second, UploadTimeout: 1800 * time.Second, ProgressEvery: time.Minute},
			maxSize: units.GiB,
		},
		{
			family:  FamilyImage,
			tasks:   []string{"import-image", "convert-image-to-png", "export-png"},
			output:  "png",
			timing:  Timing{MaxWait: 120 * time.Second, PollInterval: 3 * time.Second, UploadTimeout: 180 * time.Second},
			maxSize: 50 * units.MiB,
		},
	}

	strategies := defaultStrategies()
	for _, tc := range testCases {
		c.Run(string(tc.family), func(c *qt.C) {
			s := strategies[tc.family].(*formatStrategy)

			c.Assert([]string{s.ImportTask(), s.convertTask(), s.ExportTask()}, qt.DeepEquals, tc.tasks)
			c.Assert(s.ResultExtension(), qt.Equals, tc.output)
			c.Assert(s.Timing(), qt.Equals, tc.timing)
			c.Assert(s.maxSize, qt.Equals, tc.maxSize)
		})
	}
}

func TestJobSpecWireFormat(t *testing.T) {
	c := qt.New(t)

	s := defaultStrategies()[FamilyAudio]
	raw, err := json.Marshal(s.JobSpec(Request{InputFormat: ".WAV"}))
	c.Assert(err, qt.IsNil)

	body := string(raw)
	c.Assert(body, qt.Contains, `"tag":"audio"`)
	c.Assert(body, qt.Contains, `"import-audio":{"operation":"import/upload"}`)
	c.Assert(body, qt.Contains, `"input_format":"wav"`)
	c.Assert(body, qt.Contains, `"options":{"audio_bitrate":null,"audio_codec":"flac"}`)
	c.Assert(body, qt.Contains, `"export-flac":{"operation":"export/url","input":"convert-audio-to-flac"}`)

	imp := strings.Index(body, `"import-audio"`)
	conv := strings.Index(body, `"convert-audio-to-flac"`)
	exp := strings.Index(body, `"export-flac"`)
	c.Assert(imp < conv && conv < exp, qt.IsTrue)
}

func TestFormatSpecificOptions(t *testing.T) {
	c := qt.New(t)

	strategies := defaultStrategies()

	video := strategies[FamilyVideo].JobSpec(Request{InputFormat: "mp4"})
	convert, _ := video.Task("convert-video-to-flv")
	c.Assert(convert.Options, qt.DeepEquals, map[string]any{
		"video_codec":   "flv1",
		"audio_codec":   "mp3",
		"video_bitrate": nil,
		"audio_bitrate": "128",
		"fps":           nil,
	})

	image := strategies[FamilyImage].JobSpec(Request{InputFormat: "JPEG"})
	convert, _ = image.Task("convert-image-to-png")
	c.Assert(convert.InputFormat, qt.Equals, "jpg")
	c.Assert(convert.Options, qt.DeepEquals, map[string]any{"quality": 100, "strip": false, "auto_orient": true})

	doc := strategies[FamilyDocument].JobSpec(Request{InputFormat: "pdf"})
	convert, _ = doc.Task("convert-pdf-to-docx")
	c.Assert(convert.Options, qt.IsNil)
}

func TestStrategyValidate(t *testing.T) {
	c := qt.New(t)

	strategies := defaultStrategies()

	c.Assert(strategies[FamilyAudio].Validate(Request{InputFormat: "MP3"}, 10*units.GiB), qt.IsNil)
	c.Assert(strategies[FamilyAudio].Validate(Request{InputFormat: "ogg"}, 1), qt.ErrorIs, ErrUnsupportedFormat)
	c.Assert(strategies[FamilyVideo].Validate(Request{InputFormat: "mp4"}, units.GiB), qt.IsNil)
	c.Assert(strategies[FamilyVideo].Validate(Request{InputFormat: "mp4"}, units.GiB+1), qt.ErrorIs, ErrFileTooLarge)
	c.Assert(strategies[FamilyImage].Validate(Request{InputFormat: "jpg"}, 60*units.MiB), qt.ErrorMatches, `input file too large: 60MiB is larger than the image limit of 50MiB`)
	c.Assert(strategies[FamilyDocument].Validate(Request{InputFormat: "pdf"}, 5*units.GiB), qt.IsNil)
}

func TestUploadInfo(t *testing.T) {
	c := qt.New(t)

	strategies := defaultStrategies()

	c.Assert(strategies[FamilyImage].Upload(Request{InputPath: "/in/x.jpeg", InputFormat: "jpeg"}), qt.Equals, client.UploadFileRequest{
		Path: "/in/x.jpeg", MimeType: "image/jpeg", FileName: "image.jpg",
	})
	c.Assert(strategies[FamilyAudio].Upload(Request{InputPath: "/in/a.wav", InputFormat: "wav"}).MimeType, qt.Equals, "audio/wav")
	c.Assert(strategies[FamilyDocument].Upload(Request{InputPath: "/in/d.pdf", InputFormat: "pdf"}).FileName, qt.Equals, "document.pdf")
}

func TestFamilyLookups(t *testing.T) {
	c := qt.New(t)

	for ext, want := range map[string]Family{".PDF": FamilyDocument, "mp3": FamilyAudio, "Wav": FamilyAudio, "mp4": FamilyVideo, "JPG": FamilyImage, ".jpeg": FamilyImage} {
		got, ok := FamilyForExtension(ext)
		c.Assert(ok, qt.IsTrue, qt.Commentf("extension %s", ext))
		c.Assert(got, qt.Equals, want)
	}

	_, ok := FamilyForExtension("txt")
	c.Assert(ok, qt.IsFalse)

	f, err := ParseFamily(" Video ")
	c.Assert(err, qt.IsNil)
	c.Assert(f, qt.Equals, FamilyVideo)

	_, err = ParseFamily("spreadsheet")
	c.Assert(err, qt.ErrorIs, ErrUnsupportedFamily)
}

func TestWithTimingMergesOverrides(t *testing.T) {
	c := qt.New(t)

	conv := NewConverter(nil, WithTiming(FamilyVideo, Timing{PollInterval: time.Second}))

	s, ok := conv.Strategy(FamilyVideo)
	c.Assert(ok, qt.IsTrue)
	c.Assert(s.Timing(), qt.Equals, Timing{
		MaxWait:       1200 * time.Second,
		PollInterval:  time.Second,
		UploadTimeout: 1800 * time.Second,
		ProgressEvery: time.Minute,
	})
	c.Assert(s.ExportTask(), qt.Equals, "export-flv")
}
