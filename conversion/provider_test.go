package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	client "github.com/hsn0918/fileconv"
)

const testAPIKey = "test-key"

type submittedJob struct {
	Tag   string                     `json:"tag"`
	Tasks map[string]client.TaskSpec `json:"tasks"`
}

type uploadRecord struct {
	fields   map[string]string
	fileName string
	mimeType string
	content  []byte
	auth     string
}

type fakeJob struct {
	polls                               int
	importTask, convertTask, exportTask string
}

// fakeProvider is an in-process conversion provider. Jobs walk through statuses,
// one entry per successful status query, and stay on the last one.
type fakeProvider struct {
	srv *httptest.Server

	mu           sync.Mutex
	statuses     []client.JobStatus
	getFailures  int
	uploadStatus int
	exportStatus client.TaskStatus
	omitForm     bool
	omitURL      bool
	payload      []byte
	taskMessage  string

	jobs      map[string]*fakeJob
	specs     []submittedJob
	uploads   []uploadRecord
	apiAuth   []string
	requests  int
	gets      int
	deletes   int
	downloads int
}

func newFakeProvider(t testing.TB) *fakeProvider {
	t.Helper()

	p := &fakeProvider{
		statuses:     []client.JobStatus{client.JobStatusWaiting, client.JobStatusProcessing, client.JobStatusFinished},
		exportStatus: client.TaskStatusFinished,
		payload:      []byte("converted artifact bytes"),
		taskMessage:  "conversion engine crashed",
		jobs:         map[string]*fakeJob{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", p.createJob)
	mux.HandleFunc("GET /jobs/{id}", p.getJob)
	mux.HandleFunc("DELETE /jobs/{id}", p.deleteJob)
	mux.HandleFunc("POST /upload/{id}", p.upload)
	mux.HandleFunc("GET /download/{id}", p.download)

	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.requests++
		p.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(p.srv.Close)

	return p
}

func (p *fakeProvider) client(opts ...client.Option) client.Client {
	return client.NewClient(append([]client.Option{
		client.WithAPIKey(testAPIKey),
		client.WithBaseURL(p.srv.URL),
	}, opts...)...)
}

type providerStats struct {
	specs     []submittedJob
	uploads   []uploadRecord
	apiAuth   []string
	requests  int
	gets      int
	deletes   int
	downloads int
}

func (p *fakeProvider) stats() providerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return providerStats{
		specs:     append([]submittedJob(nil), p.specs...),
		uploads:   append([]uploadRecord(nil), p.uploads...),
		apiAuth:   append([]string(nil), p.apiAuth...),
		requests:  p.requests,
		gets:      p.gets,
		deletes:   p.deletes,
		downloads: p.downloads,
	}
}

func (p *fakeProvider) createJob(w http.ResponseWriter, r *http.Request) {
	var spec submittedJob
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.specs = append(p.specs, spec)
	p.apiAuth = append(p.apiAuth, r.Header.Get("Authorization"))

	id := fmt.Sprintf("job-%d", len(p.specs))
	job := &fakeJob{}
	for name, task := range spec.Tasks {
		switch task.Operation {
		case client.OperationImportUpload:
			job.importTask = name
		case client.OperationConvert:
			job.convertTask = name
		case client.OperationExportURL:
			job.exportTask = name
		}
	}
	p.jobs[id] = job

	importTask := client.Task{ID: id + "-import", Name: job.importTask, Operation: client.OperationImportUpload, Status: client.TaskStatusWaiting}
	if !p.omitForm {
		importTask.Result = &client.TaskResult{Form: &client.UploadForm{
			URL: p.srv.URL + "/upload/" + id,
			Parameters: map[string]any{
				"expires":   1700000000,
				"signature": "sig-" + id,
			},
		}}
	}

	// The import task is deliberately not first.
	writeJSON(w, http.StatusCreated, client.JobResponse{Data: &client.Job{
		ID:     id,
		Tag:    spec.Tag,
		Status: client.JobStatusWaiting,
		Tasks: []client.Task{
			{ID: id + "-export", Name: job.exportTask, Operation: client.OperationExportURL, Status: client.TaskStatusWaiting},
			{ID: id + "-convert", Name: job.convertTask, Operation: client.OperationConvert, Status: client.TaskStatusWaiting},
			importTask,
		},
	}})
}

func (p *fakeProvider) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p.mu.Lock()
	defer p.mu.Unlock()

	p.gets++
	job, ok := p.jobs[id]
	if !ok {
		http.Error(w, "no such job", http.StatusNotFound)
		return
	}

	job.polls++
	if job.polls <= p.getFailures {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	idx := min(job.polls-p.getFailures-1, len(p.statuses)-1)
	status := p.statuses[idx]

	tasks := []client.Task{
		{Name: job.importTask, Operation: client.OperationImportUpload, Status: client.TaskStatusFinished},
		{Name: job.convertTask, Operation: client.OperationConvert, Status: client.TaskStatusProcessing},
		{Name: job.exportTask, Operation: client.OperationExportURL, Status: client.TaskStatusWaiting},
	}

	switch status {
	case client.JobStatusFinished:
		tasks[1].Status = client.TaskStatusFinished
		tasks[2].Status = p.exportStatus
		if !p.omitURL {
			tasks[2].Result = &client.TaskResult{Files: []client.ResultFile{{
				Filename: "out",
				URL:      p.srv.URL + "/download/" + id,
			}}}
		}
	case client.JobStatusError:
		tasks[1].Status = client.TaskStatusError
		tasks[1].Message = p.taskMessage
		tasks[2].Status = client.TaskStatusError
	}

	writeJSON(w, http.StatusOK, client.JobResponse{Data: &client.Job{ID: id, Status: status, Tasks: tasks}})
}

func (p *fakeProvider) deleteJob(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	p.deletes++
	p.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (p *fakeProvider) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec := uploadRecord{fields: map[string]string{}, auth: r.Header.Get("Authorization")}
	for k, v := range r.MultipartForm.Value {
		rec.fields[k] = v[0]
	}

	if files := r.MultipartForm.File["file"]; len(files) > 0 {
		rec.fileName = files[0].Filename
		rec.mimeType = files[0].Header.Get("Content-Type")
		f, err := files[0].Open()
		if err == nil {
			rec.content, _ = io.ReadAll(f)
			f.Close()
		}
	}

	p.mu.Lock()
	p.uploads = append(p.uploads, rec)
	status := p.uploadStatus
	p.mu.Unlock()

	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
}

func (p *fakeProvider) download(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	p.downloads++
	payload := p.payload
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(client.RequestIDHeader, "req-test")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fastTiming shrinks every family's policy to milliseconds.
func fastTiming(maxWait, interval time.Duration) []Option {
	var opts []Option
	for _, f := range Families() {
		opts = append(opts, WithTiming(f, Timing{MaxWait: maxWait, PollInterval: interval, UploadTimeout: 5 * time.Second}))
	}
	return opts
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func writeFixture(t testing.TB, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
