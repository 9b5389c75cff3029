package domain

import (
	"time"
)

type JobKind string

const (
	JobKindRemoveBackground JobKind = "remove-background"
	JobKindUpscaleImage     JobKind = "upscale-image"
	JobKindUpscaleRemoveBG  JobKind = "upscale-remove-bg"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobKindRemoveBackground, JobKindUpscaleImage, JobKindUpscaleRemoveBG:
		return true
	default:
		return false
	}
}

func (k JobKind) String() string {
	return string(k)
}

func AllJobKinds() []JobKind {
	return []JobKind{JobKindRemoveBackground, JobKindUpscaleImage, JobKindUpscaleRemoveBG}
}

type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

func (s JobState) String() string {
	return string(s)
}

func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransitionTo enforces the forward-only lifecycle:
// pending -> processing -> completed | failed. Any state may fail.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobStatePending:
		return next == JobStateProcessing || next == JobStateFailed
	case JobStateProcessing:
		return next == JobStateCompleted || next == JobStateFailed
	default:
		return false
	}
}

type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "PNG"
	ImageFormatJPEG ImageFormat = "JPEG"
	ImageFormatWEBP ImageFormat = "WEBP"
)

func (f ImageFormat) Valid() bool {
	switch f {
	case ImageFormatPNG, ImageFormatJPEG, ImageFormatWEBP:
		return true
	default:
		return false
	}
}

// JobInput carries the uploaded image and its processing parameters.
// Image is base64; a data-URL prefix is tolerated and stripped on submission.
type JobInput struct {
	Image  string
	Format ImageFormat
	Crop   bool
}

// JobResult is the terminal payload of a completed job.
type JobResult struct {
	Image        string    `json:"image"` // data URL
	ContentType  string    `json:"content_type"`
	Filename     string    `json:"filename"`
	SubmissionID string    `json:"submission_id"`
	Bytes        int       `json:"bytes"`
	CompletedAt  time.Time `json:"completed_at"`
}

type Job struct {
	ID          string
	Kind        JobKind
	Input       JobInput
	Fingerprint string
	CreatedAt   time.Time

	State               JobState
	AssignedWorker      string
	SubmissionID        string
	ProcessingStartedAt *time.Time
	FinishedAt          *time.Time
	Result              *JobResult
	Error               *JobError
	LastTouchedAt       time.Time
}

// Clone returns a defensive copy so callers never see registry-internal state.
func (j *Job) Clone() *Job {
	clone := *j
	if j.ProcessingStartedAt != nil {
		t := *j.ProcessingStartedAt
		clone.ProcessingStartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		clone.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		clone.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		clone.Error = &e
	}
	return &clone
}

// ProcessingDuration returns the wall time spent processing, zero until the
// job has both started and finished.
func (j *Job) ProcessingDuration() time.Duration {
	if j.ProcessingStartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.ProcessingStartedAt)
}

// JobFilter narrows job listings; zero values match everything.
type JobFilter struct {
	State  JobState
	Kind   JobKind
	Worker string
}

func (f JobFilter) Matches(job *Job) bool {
	if f.State != "" && job.State != f.State {
		return false
	}
	if f.Kind != "" && job.Kind != f.Kind {
		return false
	}
	if f.Worker != "" && job.AssignedWorker != f.Worker {
		return false
	}
	return true
}

// JobStats summarises the registry contents for the stats endpoint.
type JobStats struct {
	Total    int            `json:"total"`
	ByState  map[string]int `json:"by_state"`
	ByKind   map[string]int `json:"by_kind"`
	ByWorker map[string]int `json:"by_worker"`
}
