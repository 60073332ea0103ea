package dto

import (
	"time"

	"github.com/yokitheyo/cutout/internal/domain"
)

type ErrorBody struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type SnapshotResponse struct {
	Seq       uint64     `json:"seq"`
	SessionID string     `json:"session_id,omitempty"`
	Phase     string     `json:"phase"`
	Progress  int        `json:"progress"`
	Filename  string     `json:"filename,omitempty"`
	MediaType string     `json:"media_type,omitempty"`
	Size      int64      `json:"size,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`

	OriginalHandle string `json:"original_handle,omitempty"`
	ArtifactHandle string `json:"artifact_handle,omitempty"`

	// URLs
	OriginalURL string `json:"original_url,omitempty"`
	ArtifactURL string `json:"artifact_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

type HistoryItem struct {
	SessionID    string     `json:"session_id"`
	Phase        string     `json:"phase"`
	Filename     string     `json:"filename"`
	MediaType    string     `json:"media_type"`
	Size         int64      `json:"size"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorReason  string     `json:"error_reason,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time  `json:"finished_at"`
}

type HistoryResponse struct {
	Sessions []*HistoryItem `json:"sessions"`
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	LiveHandles int    `json:"live_handles"`
	Subscribers int    `json:"subscribers"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func MapErrorRecord(rec *domain.ErrorRecord) *ErrorBody {
	if rec == nil {
		return nil
	}
	return &ErrorBody{
		Kind:    string(rec.Kind),
		Reason:  string(rec.Reason),
		Title:   rec.Title,
		Message: rec.Message,
	}
}

func MapSnapshotToResponse(s domain.Snapshot, baseURL string) *SnapshotResponse {
	resp := &SnapshotResponse{
		Seq:            s.Seq,
		SessionID:      s.SessionID,
		Phase:          string(s.Phase),
		Progress:       s.Progress,
		Filename:       s.Filename,
		MediaType:      s.MediaType,
		Size:           s.Size,
		Error:          MapErrorRecord(s.Error),
		StartedAt:      s.StartedAt,
		UpdatedAt:      s.UpdatedAt,
		OriginalHandle: s.OriginalHandle,
		ArtifactHandle: s.ArtifactHandle,
	}

	if s.OriginalHandle != "" {
		resp.OriginalURL = baseURL + "/handles/" + s.OriginalHandle
	}
	if s.ArtifactHandle != "" {
		resp.ArtifactURL = baseURL + "/handles/" + s.ArtifactHandle
		resp.DownloadURL = baseURL + "/download/" + s.ArtifactHandle
	}

	return resp
}

func MapRecordsToResponse(records []*domain.SessionRecord, limit, offset int) *HistoryResponse {
	items := make([]*HistoryItem, 0, len(records))
	for _, r := range records {
		items = append(items, &HistoryItem{
			SessionID:    r.SessionID,
			Phase:        string(r.Phase),
			Filename:     r.Filename,
			MediaType:    r.MediaType,
			Size:         r.Size,
			ErrorKind:    string(r.ErrorKind),
			ErrorReason:  r.ErrorReason,
			ErrorMessage: r.ErrorMessage,
			StartedAt:    r.StartedAt,
			FinishedAt:   r.FinishedAt,
		})
	}

	return &HistoryResponse{
		Sessions: items,
		Total:    len(items),
		Limit:    limit,
		Offset:   offset,
	}
}
