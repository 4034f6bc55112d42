package models

import (
	"time"

	"github.com/google/uuid"
)

// Job status values. A job moves queued -> processing -> completed|failed;
// failed -> queued only through an admin reprocess.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// FailureStage records where in the pipeline a job failed.
type FailureStage string

const (
	StagePreProcess    FailureStage = "PRE_PROCESS"
	StageDuringProcess FailureStage = "DURING_PROCESS"
	StagePostProcess   FailureStage = "POST_PROCESS"
)

// FailureCause decides whether a failure is eligible for an automatic refund.
type FailureCause string

const (
	CauseSystem    FailureCause = "system"
	CauseUser      FailureCause = "user"
	CauseCancelled FailureCause = "cancelled"
	CauseAdmin     FailureCause = "admin"
)

// SystemAttributable reports whether the platform, not the user's input, caused the failure.
// CauseAdmin is excluded: an admin who force-fails without a refund has
// decided the charge stands.
func (c FailureCause) SystemAttributable() bool {
	return c == CauseSystem || c == CauseCancelled
}

// JobFamily groups job types that share a payload shape.
type JobFamily string

const (
	FamilyDocument JobFamily = "document"
	FamilyImage    JobFamily = "image"
	FamilyMedia    JobFamily = "media"
	FamilyProject  JobFamily = "project"
)

type SourceFile struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

type DocumentOptions struct {
	Source    SourceFile `json:"source"`
	PageRange string     `json:"page_range,omitempty"`
	Encoding  string     `json:"encoding,omitempty"`
}

type ImageOptions struct {
	Source  SourceFile `json:"source"`
	Width   int        `json:"width,omitempty"`
	Height  int        `json:"height,omitempty"`
	Quality int        `json:"quality,omitempty"`
}

type MediaOptions struct {
	Source          SourceFile `json:"source"`
	Bitrate         string     `json:"bitrate,omitempty"`
	StartSeconds    float64    `json:"start_seconds,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
}

type ProjectOptions struct {
	Source        SourceFile `json:"source"`
	SchemaVersion string     `json:"schema_version,omitempty"`
}

// JobPayload is a tagged variant: exactly one pointer matching Family is set.
type JobPayload struct {
	Family   JobFamily        `json:"family"`
	Document *DocumentOptions `json:"document,omitempty"`
	Image    *ImageOptions    `json:"image,omitempty"`
	Media    *MediaOptions    `json:"media,omitempty"`
	Project  *ProjectOptions  `json:"project,omitempty"`
}

// Source returns the input file of whichever variant is set.
func (p JobPayload) Source() SourceFile {
	switch {
	case p.Document != nil:
		return p.Document.Source
	case p.Image != nil:
		return p.Image.Source
	case p.Media != nil:
		return p.Media.Source
	case p.Project != nil:
		return p.Project.Source
	}
	return SourceFile{}
}

// JobMetadata holds dispatch bookkeeping. It is stored as JSONB but always
// read and written through this struct.
type JobMetadata struct {
	EnqueuePending  bool       `json:"enqueue_pending,omitempty"`
	EnqueueError    string     `json:"enqueue_error,omitempty"`
	EnqueueFailedAt *time.Time `json:"enqueue_failed_at,omitempty"`
	QueueJobID      int64      `json:"queue_job_id,omitempty"`
	Repairs         int        `json:"repairs,omitempty"`
	LastRepairAt    *time.Time `json:"last_repair_at,omitempty"`
	ForceFailedBy   string     `json:"force_failed_by,omitempty"`
}

type Job struct {
	ID             uuid.UUID    `json:"id"`
	AccountID      uuid.UUID    `json:"account_id"`
	JobType        string       `json:"job_type"`
	Status         string       `json:"status"`
	CostCharged    int64        `json:"cost_charged"`
	Attempts       int          `json:"attempts"`
	ReprocessCount int          `json:"reprocess_count"`
	Progress       int          `json:"progress"`
	Error          *string      `json:"error,omitempty"`
	FailureStage   FailureStage `json:"failure_stage,omitempty"`
	FailureCause   FailureCause `json:"failure_cause,omitempty"`
	ResultRef      *string      `json:"result_ref,omitempty"`
	Payload        JobPayload   `json:"payload"`
	Metadata       JobMetadata  `json:"metadata"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// JobSnapshot is the before/after state attached to admin audit records.
type JobSnapshot struct {
	Status       string       `json:"status"`
	Attempts     int          `json:"attempts"`
	Progress     int          `json:"progress"`
	Error        *string      `json:"error,omitempty"`
	FailureStage FailureStage `json:"failure_stage,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

func (j *Job) Snapshot() JobSnapshot {
	return JobSnapshot{
		Status:       j.Status,
		Attempts:     j.Attempts,
		Progress:     j.Progress,
		Error:        j.Error,
		FailureStage: j.FailureStage,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
}
