package domain

import (
	"image"
	"time"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseDecoding   Phase = "decoding"
	PhaseRemoving   Phase = "removing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// IsActive reports whether a session in this phase still has engine work pending.
func (p Phase) IsActive() bool {
	return p == PhaseValidating || p == PhaseDecoding || p == PhaseRemoving
}

func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// ImageSubmission is the user-supplied payload. It is never mutated after
// the orchestrator accepts it.
type ImageSubmission struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
	Data      []byte `json:"-"`
}

type ValidationOutcome struct {
	Accepted   bool
	Submission ImageSubmission
	Rejection  *ErrorRecord
}

func Accepted(sub ImageSubmission) ValidationOutcome {
	return ValidationOutcome{Accepted: true, Submission: sub}
}

func Rejected(reason RejectReason) ValidationOutcome {
	rec := NewValidationError(reason)
	return ValidationOutcome{Rejection: &rec}
}

type DecodedImage struct {
	Image  image.Image
	Format string
	Width  int
	Height int
}

type HandleKind string

const (
	HandleOriginal HandleKind = "original"
	HandleArtifact HandleKind = "artifact"
)

// DisplayHandle is a revocable reference to in-memory or stored bytes usable
// for preview and download.
type DisplayHandle struct {
	ID          string     `json:"id"`
	Kind        HandleKind `json:"kind"`
	ContentType string     `json:"content_type"`
	Size        int64      `json:"size"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Snapshot is what the presentation side renders after every state change.
type Snapshot struct {
	Seq            uint64       `json:"seq"`
	SessionID      string       `json:"session_id,omitempty"`
	Phase          Phase        `json:"phase"`
	Progress       int          `json:"progress"`
	OriginalHandle string       `json:"original_handle,omitempty"`
	ArtifactHandle string       `json:"artifact_handle,omitempty"`
	Error          *ErrorRecord `json:"error,omitempty"`
	Filename       string       `json:"filename,omitempty"`
	MediaType      string       `json:"media_type,omitempty"`
	Size           int64        `json:"size,omitempty"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// SessionRecord is the audit trail entry written once a session finishes.
type SessionRecord struct {
	SessionID      string     `json:"session_id"`
	Phase          Phase      `json:"phase"`
	Filename       string     `json:"filename"`
	MediaType      string     `json:"media_type"`
	Size           int64      `json:"size"`
	ErrorKind      ErrorKind  `json:"error_kind,omitempty"`
	ErrorReason    string     `json:"error_reason,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ArtifactHandle string     `json:"artifact_handle,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     time.Time  `json:"finished_at"`
}

// RecordFromSnapshot converts a terminal snapshot into a history record.
// ok is false for snapshots that are not terminal.
func RecordFromSnapshot(s Snapshot) (rec SessionRecord, ok bool) {
	if !s.Phase.IsTerminal() || s.SessionID == "" {
		return SessionRecord{}, false
	}
	rec = SessionRecord{
		SessionID:      s.SessionID,
		Phase:          s.Phase,
		Filename:       s.Filename,
		MediaType:      s.MediaType,
		Size:           s.Size,
		ArtifactHandle: s.ArtifactHandle,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.UpdatedAt,
	}
	if s.Error != nil {
		rec.ErrorKind = s.Error.Kind
		rec.ErrorReason = string(s.Error.Reason)
		rec.ErrorMessage = s.Error.Message
	}
	return rec, true
}
