package domain

import (
	"context"
	"io"
)

type Validator interface {
	Validate(sub ImageSubmission) ValidationOutcome
}

// Decoder parses submitted bytes into an image. Bytes that cannot be parsed
// fail with an error wrapping ErrDecodeFailed.
type Decoder interface {
	Decode(ctx context.Context, sub ImageSubmission) (*DecodedImage, error)
}

// Remover is the segmentation capability. It returns PNG bytes with
// transparency, or an error wrapping ErrEngineFailed.
type Remover interface {
	Remove(ctx context.Context, img *DecodedImage) ([]byte, error)
}

// SnapshotListener receives every snapshot in transition order. Implementations
// must not block and must not call back into the orchestrator.
type SnapshotListener interface {
	OnSnapshot(s Snapshot)
}

type SnapshotListenerFunc func(s Snapshot)

func (f SnapshotListenerFunc) OnSnapshot(s Snapshot) { f(s) }

type ProcessingService interface {
	Submit(sub ImageSubmission) (Snapshot, error)
	Reset() (Snapshot, error)
	Snapshot() Snapshot
}

type PresenterService interface {
	Preview(ctx context.Context, handleID string) (io.ReadCloser, DisplayHandle, error)
	Download(ctx context.Context, handleID string) (io.ReadCloser, string, error)
	Reset() (Snapshot, error)
}

type HistoryService interface {
	Record(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
	List(ctx context.Context, limit, offset int) ([]*SessionRecord, error)
	ListByPhase(ctx context.Context, phase Phase, limit, offset int) ([]*SessionRecord, error)
}

type EventPublisher interface {
	SnapshotListener
	Close() error
}
