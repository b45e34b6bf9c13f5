package conversion

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-units"
	qt "github.com/frankban/quicktest"

	client "github.com/hsn0918/fileconv"
)

func TestDispatchConvertsEveryFamily(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		name       string
		ext        string
		family     Family
		wantExt    string
		importTask string
		fileName   string
		mimeType   string
		format     string
	}{
		{name: "report.pdf", ext: "pdf", family: FamilyDocument, wantExt: ".docx", importTask: "import-pdf", fileName: "document.pdf", mimeType: "application/pdf", format: "pdf"},
		{name: "song.mp3", ext: "mp3", family: FamilyAudio, wantExt: ".flac", importTask: "import-audio", fileName: "audio.mp3", mimeType: "audio/mpeg", format: "mp3"},
		{name: "voice.WAV", ext: "WAV", family: FamilyAudio, wantExt: ".flac", importTask: "import-audio", fileName: "audio.wav", mimeType: "audio/wav", format: "wav"},
		{name: "clip.mp4", ext: "mp4", family: FamilyVideo, wantExt: ".flv", importTask: "import-video", fileName: "video.mp4", mimeType: "video/mp4", format: "mp4"},
		{name: "photo.jpeg", ext: "jpeg", family: FamilyImage, wantExt: ".png", importTask: "import-image", fileName: "image.jpg", mimeType: "image/jpeg", format: "jpg"},
	}

	for _, tc := range testCases {
		c.Run(tc.name, func(c *qt.C) {
			p := newFakeProvider(c)
			rec := &recorder{}
			conv := NewConverter(p.client(), append(fastTiming(time.Second, 5*time.Millisecond), WithObserver(rec))...)
			tmp := c.TempDir()
			d := NewDispatcher(conv, WithTempDir(tmp))

			input := writeFixture(c, c.TempDir(), tc.name, []byte("source bytes of "+tc.name))

			res, err := d.Dispatch(context.Background(), UploadedFile{OriginalName: tc.name, Extension: tc.ext, Path: input})
			c.Assert(err, qt.IsNil)
			c.Assert(res.Converted, qt.IsTrue)
			c.Assert(res.Family, qt.Equals, tc.family)
			c.Assert(filepath.Ext(res.Path), qt.Equals, tc.wantExt)
			c.Assert(filepath.Dir(res.Path), qt.Equals, tmp)

			got, err := os.ReadFile(res.Path)
			c.Assert(err, qt.IsNil)
			c.Assert(string(got), qt.Equals, "converted artifact bytes")

			st := p.stats()
			c.Assert(st.specs, qt.HasLen, 1)
			c.Assert(st.specs[0].Tag, qt.Equals, string(tc.family))
			c.Assert(st.specs[0].Tasks, qt.HasLen, 3)
			c.Assert(st.apiAuth[0], qt.Equals, "Bearer "+testAPIKey)

			var convert client.TaskSpec
			for _, task := range st.specs[0].Tasks {
				if task.Operation == client.OperationConvert {
					convert = task
				}
			}
			c.Assert(convert.Input, qt.Equals, tc.importTask)
			c.Assert(convert.InputFormat, qt.Equals, tc.format)
			c.Assert("."+convert.OutputFormat, qt.Equals, tc.wantExt)

			c.Assert(st.uploads, qt.HasLen, 1)
			up := st.uploads[0]
			c.Assert(up.fileName, qt.Equals, tc.fileName)
			c.Assert(up.mimeType, qt.Equals, tc.mimeType)
			c.Assert(string(up.content), qt.Equals, "source bytes of "+tc.name)
			c.Assert(up.fields["signature"], qt.Equals, "sig-job-1")
			c.Assert(up.fields["expires"], qt.Equals, "1700000000")
			c.Assert(up.auth, qt.Equals, "")

			c.Assert(rec.ofKind(EventSubmitted), qt.HasLen, 1)
			c.Assert(rec.ofKind(EventUploaded), qt.HasLen, 1)
			c.Assert(rec.ofKind(EventCompleted), qt.HasLen, 1)
			c.Assert(rec.ofKind(EventFailed), qt.HasLen, 0)
		})
	}
}

func TestMissingAPIKeyFailsWithoutNetwork(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	conv := NewConverter(client.NewClient(client.WithBaseURL(p.srv.URL)), fastTiming(time.Second, 5*time.Millisecond)...)
	dir := c.TempDir()

	for _, name := range []string{"a.pdf", "b.mp3", "c.wav", "d.mp4", "e.jpg", "f.jpeg"} {
		input := writeFixture(c, dir, name, []byte("data"))
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		family, ok := FamilyForExtension(ext)
		c.Assert(ok, qt.IsTrue)

		_, err := conv.Convert(context.Background(), family, Request{
			InputPath:    input,
			OutputPrefix: filepath.Join(dir, "out"),
			InputFormat:  ext,
		})
		c.Assert(err, qt.ErrorIs, client.ErrMissingAPIKey)
		c.Assert(StageOf(err), qt.Equals, StageConfiguration)
	}

	c.Assert(p.stats().requests, qt.Equals, 0)
}

func TestOversizedInputFailsBeforeSubmission(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		family Family
		format string
		size   int64
	}{
		{family: FamilyVideo, format: "mp4", size: units.GiB + 100*units.MiB},
		{family: FamilyImage, format: "jpg", size: 51 * units.MiB},
	}

	for _, tc := range testCases {
		c.Run(string(tc.family), func(c *qt.C) {
			p := newFakeProvider(c)
			conv := NewConverter(p.client(), fastTiming(time.Second, 5*time.Millisecond)...)

			input := filepath.Join(c.TempDir(), "big."+tc.format)
			f, err := os.Create(input)
			c.Assert(err, qt.IsNil)
			c.Assert(f.Truncate(tc.size), qt.IsNil)
			c.Assert(f.Close(), qt.IsNil)

			_, err = conv.Convert(context.Background(), tc.family, Request{
				InputPath:    input,
				OutputPrefix: filepath.Join(c.TempDir(), "out"),
				InputFormat:  tc.format,
			})
			c.Assert(err, qt.ErrorIs, ErrFileTooLarge)
			c.Assert(StageOf(err), qt.Equals, StagePrecondition)
			c.Assert(p.stats().requests, qt.Equals, 0)
		})
	}
}

func TestUnsupportedFormatFailsBeforeSubmission(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	conv := NewConverter(p.client(), fastTiming(time.Second, 5*time.Millisecond)...)
	dir := c.TempDir()

	for family, format := range map[Family]string{FamilyAudio: "ogg", FamilyImage: "gif", FamilyVideo: "mkv", FamilyDocument: "docx"} {
		input := writeFixture(c, dir, "in."+format, []byte("data"))
		_, err := conv.Convert(context.Background(), family, Request{
			InputPath:    input,
			OutputPrefix: filepath.Join(dir, "out"),
			InputFormat:  format,
		})
		c.Assert(err, qt.ErrorIs, ErrUnsupportedFormat)
		c.Assert(StageOf(err), qt.Equals, StagePrecondition)
	}

	c.Assert(p.stats().requests, qt.Equals, 0)
}

func TestMissingInputFailsBeforeSubmission(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	conv := NewConverter(p.client())

	_, err := conv.Convert(context.Background(), FamilyDocument, Request{
		InputPath:    filepath.Join(c.TempDir(), "missing.pdf"),
		OutputPrefix: filepath.Join(c.TempDir(), "out"),
		InputFormat:  "pdf",
	})
	c.Assert(err, qt.ErrorIs, ErrInputNotReadable)
	c.Assert(err, qt.ErrorIs, os.ErrNotExist)
	c.Assert(StageOf(err), qt.Equals, StagePrecondition)
	c.Assert(p.stats().requests, qt.Equals, 0)
}

func TestRemoteErrorSurfacesTaskMessages(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	p.statuses = []client.JobStatus{client.JobStatusCreated, client.JobStatusProcessing, client.JobStatusError}

	rec := &recorder{}
	conv := NewConverter(p.client(), append(fastTiming(time.Second, 5*time.Millisecond), WithObserver(rec))...)
	dir := c.TempDir()
	input := writeFixture(c, dir, "in.pdf", []byte("%PDF-1.4"))
	prefix := filepath.Join(dir, "out")

	_, err := conv.Convert(context.Background(), FamilyDocument, Request{InputPath: input, OutputPrefix: prefix, InputFormat: "pdf"})
	c.Assert(StageOf(err), qt.Equals, StageRemoteJob)

	var jobErr *client.JobFailedError
	c.Assert(err, qt.ErrorAs, &jobErr)
	c.Assert(jobErr.JobID, qt.Equals, "job-1")
	c.Assert(err.Error(), qt.Contains, "conversion engine crashed")

	st := p.stats()
	c.Assert(st.downloads, qt.Equals, 0)
	c.Assert(st.deletes, qt.Equals, 0)
	_, statErr := os.Stat(prefix + ".docx")
	c.Assert(os.IsNotExist(statErr), qt.IsTrue)

	changes := rec.ofKind(EventStatusChanged)
	c.Assert(changes, qt.HasLen, 3)
	c.Assert(changes[0].Status, qt.Equals, client.JobStatusCreated)
	c.Assert(changes[2].PreviousStatus, qt.Equals, client.JobStatusProcessing)
	c.Assert(changes[2].Status, qt.Equals, client.JobStatusError)

	failed := rec.ofKind(EventFailed)
	c.Assert(failed, qt.HasLen, 1)
	c.Assert(failed[0].Stage, qt.Equals, StageRemoteJob)
}

func TestTimeoutStopsPollingAndDeletesJob(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	p.statuses = []client.JobStatus{client.JobStatusProcessing}

	conv := NewConverter(p.client(), fastTiming(30*time.Millisecond, 10*time.Millisecond)...)
	dir := c.TempDir()
	input := writeFixture(c, dir, "in.mp3", []byte("ID3"))

	_, err := conv.Convert(context.Background(), FamilyAudio, Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "mp3"})
	c.Assert(StageOf(err), qt.Equals, StageTimeout)
	c.Assert(err, qt.ErrorIs, client.ErrJobTimeout)

	var timeoutErr *client.TimeoutError
	c.Assert(err, qt.ErrorAs, &timeoutErr)
	c.Assert(timeoutErr.Elapsed >= 30*time.Millisecond, qt.IsTrue)
	c.Assert(timeoutErr.LastStatus, qt.Equals, client.JobStatusProcessing)

	st := p.stats()
	c.Assert(st.gets, qt.Equals, 3)
	c.Assert(st.deletes, qt.Equals, 1)
	c.Assert(st.downloads, qt.Equals, 0)

	time.Sleep(50 * time.Millisecond)
	c.Assert(p.stats().gets, qt.Equals, 3)
}

func TestTransientPollFailuresAreRetried(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	p.getFailures = 2
	p.statuses = []client.JobStatus{client.JobStatusFinished}

	rec := &recorder{}
	conv := NewConverter(p.client(), append(fastTiming(time.Second, 5*time.Millisecond), WithObserver(rec))...)
	dir := c.TempDir()
	input := writeFixture(c, dir, "in.jpg", []byte("jpeg"))

	out, err := conv.Convert(context.Background(), FamilyImage, Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "JPG"})
	c.Assert(err, qt.IsNil)
	c.Assert(out.Path, qt.Equals, filepath.Join(dir, "out.png"))
	c.Assert(out.Size, qt.Equals, int64(len("converted artifact bytes")))

	polls := rec.ofKind(EventPollFailed)
	c.Assert(polls, qt.HasLen, 2)
	c.Assert(polls[1].Elapsed, qt.Equals, 10*time.Millisecond)
	c.Assert(p.stats().gets, qt.Equals, 3)

	done := rec.ofKind(EventCompleted)
	c.Assert(done, qt.HasLen, 1)
	c.Assert(done[0].InputSize, qt.Equals, int64(4))
	c.Assert(done[0].OutputSize, qt.Equals, out.Size)
}

func TestTransientPollFailuresConsumeBudget(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	p.getFailures = 100

	conv := NewConverter(p.client(), fastTiming(20*time.Millisecond, 5*time.Millisecond)...)
	dir := c.TempDir()
	input := writeFixture(c, dir, "in.pdf", []byte("%PDF"))

	_, err := conv.Convert(context.Background(), FamilyDocument, Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "pdf"})
	c.Assert(StageOf(err), qt.Equals, StageTimeout)
	c.Assert(p.stats().gets, qt.Equals, 4)
}

func TestExportProblemsFailTheConversion(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		name  string
		setup func(p *fakeProvider)
		want  error
	}{
		{name: "export failed", setup: func(p *fakeProvider) { p.exportStatus = client.TaskStatusError }, want: ErrExportNotFinished},
		{name: "no url", setup: func(p *fakeProvider) { p.omitURL = true }, want: ErrExportNoURL},
	}

	for _, tc := range testCases {
		c.Run(tc.name, func(c *qt.C) {
			p := newFakeProvider(c)
			tc.setup(p)

			conv := NewConverter(p.client(), fastTiming(time.Second, 5*time.Millisecond)...)
			dir := c.TempDir()
			input := writeFixture(c, dir, "in.mp4", []byte("ftyp"))

			_, err := conv.Convert(context.Background(), FamilyVideo, Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "mp4"})
			c.Assert(err, qt.ErrorIs, tc.want)
			c.Assert(StageOf(err), qt.Equals, StageExport)
			c.Assert(p.stats().downloads, qt.Equals, 0)
		})
	}
}

func TestUploadFailures(t *testing.T) {
	c := qt.New(t)

	c.Run("rejected upload", func(c *qt.C) {
		p := newFakeProvider(c)
		p.uploadStatus = http.StatusForbidden

		conv := NewConverter(p.client(), fastTiming(time.Second, 5*time.Millisecond)...)
		dir := c.TempDir()
		input := writeFixture(c, dir, "in.wav", []byte("RIFF"))

		_, err := conv.Convert(context.Background(), FamilyAudio, Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "wav"})
		c.Assert(StageOf(err), qt.Equals, StageUpload)
		c.Assert(err, qt.ErrorMatches, `.*status 403.*`)
		c.Assert(p.stats().gets, qt.Equals, 0)
	})

	c.Run("missing upload form", func(c *qt.C) {
		p := newFakeProvider(c)
		p.omitForm = true

		conv := NewConverter(p.client(), fastTiming(time.Second, 5*time.Millisecond)...)
		dir := c.TempDir()
		input := writeFixture(c, dir, "in.wav", []byte("RIFF"))

		_, err := conv.Convert(context.Background(), FamilyAudio, Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "wav"})
		c.Assert(err, qt.ErrorIs, ErrNoUploadTask)
		c.Assert(StageOf(err), qt.Equals, StageSubmission)
		c.Assert(p.stats().uploads, qt.HasLen, 0)
	})
}

func TestCancellationAbandonsJob(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	p.statuses = []client.JobStatus{client.JobStatusProcessing}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelOnFirstStatus := ObserverFunc(func(_ context.Context, e Event) {
		if e.Kind == EventStatusChanged {
			cancel()
		}
	})
	rec := &recorder{}

	conv := NewConverter(p.client(), append(fastTiming(10*time.Second, 5*time.Millisecond), WithObserver(cancelOnFirstStatus, rec))...)
	dir := c.TempDir()
	input := writeFixture(c, dir, "in.pdf", []byte("%PDF"))

	_, err := conv.Convert(ctx, FamilyDocument, Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "pdf"})
	c.Assert(err, qt.ErrorIs, context.Canceled)
	c.Assert(StageOf(err), qt.Equals, StageCanceled)
	c.Assert(p.stats().deletes, qt.Equals, 1)

	failed := rec.ofKind(EventFailed)
	c.Assert(failed, qt.HasLen, 1)
	c.Assert(failed[0].JobID, qt.Equals, "job-1")
	c.Assert(failed[0].CleanupErr, qt.IsNil)
}

func TestVideoProgressEvents(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	p.statuses = []client.JobStatus{
		client.JobStatusProcessing, client.JobStatusProcessing, client.JobStatusProcessing,
		client.JobStatusProcessing, client.JobStatusProcessing, client.JobStatusFinished,
	}

	rec := &recorder{}
	conv := NewConverter(p.client(),
		WithTiming(FamilyVideo, Timing{MaxWait: time.Second, PollInterval: 5 * time.Millisecond, ProgressEvery: 10 * time.Millisecond}),
		WithObserver(rec),
	)
	dir := c.TempDir()
	input := writeFixture(c, dir, "in.mp4", []byte("ftyp"))

	_, err := conv.Convert(context.Background(), FamilyVideo, Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "mp4"})
	c.Assert(err, qt.IsNil)

	progress := rec.ofKind(EventProgress)
	c.Assert(progress, qt.HasLen, 2)
	c.Assert(progress[0].Elapsed, qt.Equals, 10*time.Millisecond)
	c.Assert(progress[1].Elapsed, qt.Equals, 20*time.Millisecond)
	c.Assert(rec.ofKind(EventStatusChanged), qt.HasLen, 2)
}

func TestRateLimitedSubmissionHonoursContext(t *testing.T) {
	c := qt.New(t)

	p := newFakeProvider(c)
	conv := NewConverter(p.client(), append(fastTiming(time.Second, 5*time.Millisecond), WithRateLimit(time.Hour, 1))...)
	dir := c.TempDir()
	input := writeFixture(c, dir, "in.pdf", []byte("%PDF"))
	req := Request{InputPath: input, OutputPrefix: filepath.Join(dir, "out"), InputFormat: "pdf"}

	_, err := conv.Convert(context.Background(), FamilyDocument, req)
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = conv.Convert(ctx, FamilyDocument, req)
	c.Assert(StageOf(err), qt.Equals, StageSubmission)
	c.Assert(p.stats().specs, qt.HasLen, 1)
}
