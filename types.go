package client

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JobStatus enumerates remote job states.
type JobStatus string

const (
	JobStatusCreated    JobStatus = "created"
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusFinished   JobStatus = "finished"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further status changes are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusError
}

// TaskStatus enumerates remote task states.
type TaskStatus string

const (
	TaskStatusWaiting    TaskStatus = "waiting"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusFinished   TaskStatus = "finished"
	TaskStatusError      TaskStatus = "error"
)

// Operation enumerates task operations understood by the provider.
type Operation string

const (
	OperationImportUpload Operation = "import/upload"
	OperationConvert      Operation = "convert"
	OperationExportURL    Operation = "export/url"
)

// TaskSpec describes one task of a job submission.
type TaskSpec struct {
	Operation    Operation      `json:"operation"`
	Input        string         `json:"input,omitempty"`         // Name of the task feeding this one
	InputFormat  string         `json:"input_format,omitempty"`  // Only for convert tasks
	OutputFormat string         `json:"output_format,omitempty"` // Only for convert tasks
	Options      map[string]any `json:"options,omitempty"`       // Engine options; nil values are sent as null
}

// NamedTask pairs a task name with its specification.
type NamedTask struct {
	Name string
	TaskSpec
}

// JobSpec is the task graph submitted when creating a job. Tasks keep their
// declaration order on the wire.
type JobSpec struct {
	Tag   string
	Tasks []NamedTask
}

// Task returns the named task specification.
func (s JobSpec) Task(name string) (NamedTask, bool) {
	for _, t := range s.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return NamedTask{}, false
}

// Validate checks the import → convert → export shape.
func (s JobSpec) Validate() error {
	var imports, converts, exports []NamedTask
	seen := make(map[string]struct{}, len(s.Tasks))

	for _, t := range s.Tasks {
		if t.Name == "" {
			return fmt.Errorf("%w: task without name", ErrInvalidJobSpec)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: duplicate task %q", ErrInvalidJobSpec, t.Name)
		}
		seen[t.Name] = struct{}{}

		switch t.Operation {
		case OperationImportUpload:
			imports = append(imports, t)
		case OperationConvert:
			converts = append(converts, t)
		case OperationExportURL:
			exports = append(exports, t)
		default:
			return fmt.Errorf("%w: unsupported operation %q", ErrInvalidJobSpec, t.Operation)
		}
	}

	if len(imports) != 1 || len(converts) != 1 || len(exports) != 1 {
		return fmt.Errorf("%w: want one import, one convert and one export task", ErrInvalidJobSpec)
	}
	if converts[0].Input != imports[0].Name {
		return fmt.Errorf("%w: convert task %q must read from %q", ErrInvalidJobSpec, converts[0].Name, imports[0].Name)
	}
	if exports[0].Input != converts[0].Name {
		return fmt.Errorf("%w: export task %q must read from %q", ErrInvalidJobSpec, exports[0].Name, converts[0].Name)
	}

	return nil
}

// MarshalJSON renders {"tag": ..., "tasks": {name: spec, ...}} preserving task order.
func (s JobSpec) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	if s.Tag != "" {
		tag, err := json.Marshal(s.Tag)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"tag":`)
		buf.Write(tag)
		buf.WriteByte(',')
	}

	buf.WriteString(`"tasks":{`)
	for i, t := range s.Tasks {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(t.Name)
		if err != nil {
			return nil, err
		}
		spec, err := json.Marshal(t.TaskSpec)
		if err != nil {
			return nil, fmt.Errorf("marshal task %s: %w", t.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(spec)
	}
	buf.WriteString("}}")

	return buf.Bytes(), nil
}

// UploadForm is the provider-supplied upload target of an import/upload task.
type UploadForm struct {
	URL        string         `json:"url"`
	Parameters map[string]any `json:"parameters"` // Opaque fields that must accompany the file verbatim
}

// Valid reports whether the form can be submitted.
func (f *UploadForm) Valid() bool {
	return f != nil && f.URL != "" && f.Parameters != nil
}

// ResultFile is one downloadable artifact of an export/url task.
type ResultFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
	URL      string `json:"url"`
}

// TaskResult holds the operation-specific payload of a task.
type TaskResult struct {
	Form  *UploadForm  `json:"form,omitempty"`  // import/upload
	Files []ResultFile `json:"files,omitempty"` // export/url
}

// Task is the remote view of a job step.
type Task struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Operation Operation   `json:"operation"`
	Status    TaskStatus  `json:"status"`
	Message   string      `json:"message,omitempty"` // Error message, only present on failure
	Code      string      `json:"code,omitempty"`
	Result    *TaskResult `json:"result,omitempty"`
}

// FileURL returns the first downloadable URL of an export task.
func (t *Task) FileURL() (string, bool) {
	if t == nil || t.Result == nil || len(t.Result.Files) == 0 || t.Result.Files[0].URL == "" {
		return "", false
	}
	return t.Result.Files[0].URL, true
}

// Job is the remote view of a submitted task graph.
type Job struct {
	ID     string    `json:"id"`
	Tag    string    `json:"tag,omitempty"`
	Status JobStatus `json:"status"`
	Tasks  []Task    `json:"tasks"`
}

// Task looks a task up by name.
func (j *Job) Task(name string) (*Task, bool) {
	if j == nil {
		return nil, false
	}
	for i := range j.Tasks {
		if j.Tasks[i].Name == name {
			return &j.Tasks[i], true
		}
	}
	return nil, false
}

// TaskByOperation returns the first task running the given operation.
func (j *Job) TaskByOperation(op Operation) (*Task, bool) {
	if j == nil {
		return nil, false
	}
	for i := range j.Tasks {
		if j.Tasks[i].Operation == op {
			return &j.Tasks[i], true
		}
	}
	return nil, false
}

// FailedTasks lists the tasks reporting an error status.
func (j *Job) FailedTasks() []Task {
	if j == nil {
		return nil
	}
	var failed []Task
	for _, t := range j.Tasks {
		if t.Status == TaskStatusError {
			failed = append(failed, t)
		}
	}
	return failed
}

// JobResponse wraps job payloads returned by the jobs endpoints.
type JobResponse struct {
	RequestID string `json:"-"`
	Data      *Job   `json:"data"`
}

// UploadFileRequest describes a local file pushed to an UploadForm.
type UploadFileRequest struct {
	Path     string
	MimeType string
	FileName string
}
