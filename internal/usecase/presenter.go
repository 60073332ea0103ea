package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
	"github.com/yokitheyo/cutout/internal/resources"
)

const DefaultDownloadPrefix = "cutout"

// Presenter serves the handles of the current session. Handles from any
// other session are treated as revoked even if their bytes still exist.
type Presenter struct {
	orch      *Orchestrator
	resources *resources.Manager
	prefix    string
	now       func() time.Time
}

func NewPresenter(orch *Orchestrator, res *resources.Manager, prefix string) *Presenter {
	if prefix == "" {
		prefix = DefaultDownloadPrefix
	}
	return &Presenter{orch: orch, resources: res, prefix: prefix, now: orch.now}
}

func (p *Presenter) Preview(ctx context.Context, handleID string) (io.ReadCloser, domain.DisplayHandle, error) {
	snap := p.orch.Snapshot()
	if handleID == "" || (handleID != snap.OriginalHandle && handleID != snap.ArtifactHandle) {
		zlog.Logger.Warn().Str("handle_id", handleID).Str("session_id", snap.SessionID).Msg("preview of handle outside current session")
		return nil, domain.DisplayHandle{}, domain.NewResourceError()
	}

	rc, h, err := p.resources.Open(ctx, handleID)
	if err != nil {
		return nil, domain.DisplayHandle{}, p.resourceError(handleID, err)
	}
	return rc, h, nil
}

// Download opens the current artifact and names the file after the
// configured prefix and the current time in milliseconds.
func (p *Presenter) Download(ctx context.Context, handleID string) (io.ReadCloser, string, error) {
	snap := p.orch.Snapshot()
	if snap.Phase != domain.PhaseDone || handleID == "" || handleID != snap.ArtifactHandle {
		zlog.Logger.Warn().
			Str("handle_id", handleID).
			Str("phase", string(snap.Phase)).
			Msg("download of handle that is not the current artifact")
		return nil, "", domain.NewResourceError()
	}

	rc, _, err := p.resources.Open(ctx, handleID)
	if err != nil {
		return nil, "", p.resourceError(handleID, err)
	}

	filename := fmt.Sprintf("%s-%d.png", p.prefix, p.now().UnixMilli())
	zlog.Logger.Info().Str("handle_id", handleID).Str("filename", filename).Msg("artifact download started")
	return rc, filename, nil
}

func (p *Presenter) Reset() (domain.Snapshot, error) {
	return p.orch.Reset()
}

func (p *Presenter) resourceError(handleID string, err error) error {
	if errors.Is(err, domain.ErrHandleRevoked) {
		return domain.NewResourceError()
	}
	zlog.Logger.Error().Err(err).Str("handle_id", handleID).Msg("failed to open handle")
	return fmt.Errorf("open handle %s: %w", handleID, err)
}
