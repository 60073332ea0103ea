// Package resources issues and revokes display handles. A Scope ties the
// handles of one processing session together so that all of them are
// released exactly once when the session ends.
package resources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/domain"
	"github.com/yokitheyo/cutout/internal/infrastructure/storage"
)

type entry struct {
	handle domain.DisplayHandle
	key    string
}

type Manager struct {
	store storage.Storage
	dir   string
	now   func() time.Time

	mu   sync.Mutex
	live map[string]entry
}

func NewManager(store storage.Storage, dir string) *Manager {
	if dir == "" {
		dir = "handles"
	}
	return &Manager{
		store: store,
		dir:   dir,
		now:   time.Now,
		live:  make(map[string]entry),
	}
}

func (m *Manager) Acquire(ctx context.Context, kind domain.HandleKind, data []byte, contentType string) (domain.DisplayHandle, error) {
	id := ksuid.New().String()
	key := path.Join(m.dir, id+extensionFor(contentType))

	if _, err := m.store.Save(ctx, key, bytes.NewReader(data)); err != nil {
		zlog.Logger.Error().Err(err).Str("handle_id", id).Str("kind", string(kind)).Msg("failed to store handle bytes")
		return domain.DisplayHandle{}, fmt.Errorf("acquire %s handle: %w", kind, err)
	}

	h := domain.DisplayHandle{
		ID:          id,
		Kind:        kind,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   m.now(),
	}

	m.mu.Lock()
	m.live[id] = entry{handle: h, key: key}
	m.mu.Unlock()

	zlog.Logger.Debug().Str("handle_id", id).Str("kind", string(kind)).Int64("size", h.Size).Msg("handle acquired")
	return h, nil
}

// Release revokes h. Releasing an unknown or already revoked handle returns
// an error wrapping domain.ErrHandleRevoked and touches nothing.
func (m *Manager) Release(ctx context.Context, h domain.DisplayHandle) error {
	m.mu.Lock()
	e, ok := m.live[h.ID]
	if ok {
		delete(m.live, h.ID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("release %s: %w", h.ID, domain.ErrHandleRevoked)
	}

	if err := m.store.Delete(ctx, e.key); err != nil {
		zlog.Logger.Warn().Err(err).Str("handle_id", h.ID).Msg("handle revoked but backing object was not deleted")
		return fmt.Errorf("release %s: %w", h.ID, err)
	}

	zlog.Logger.Debug().Str("handle_id", h.ID).Str("kind", string(e.handle.Kind)).Msg("handle released")
	return nil
}

func (m *Manager) Open(ctx context.Context, id string) (io.ReadCloser, domain.DisplayHandle, error) {
	m.mu.Lock()
	e, ok := m.live[id]
	m.mu.Unlock()
	if !ok {
		return nil, domain.DisplayHandle{}, fmt.Errorf("open %s: %w", id, domain.ErrHandleRevoked)
	}

	rc, err := m.store.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, domain.DisplayHandle{}, fmt.Errorf("open %s: %w", id, domain.ErrHandleRevoked)
		}
		return nil, domain.DisplayHandle{}, fmt.Errorf("open %s: %w", id, err)
	}
	return rc, e.handle, nil
}

func (m *Manager) IsLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) NewScope(owner string) *Scope {
	return &Scope{m: m, owner: owner}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// Scope tracks the handles issued for one owner. Close releases each of them
// exactly once; after Close the scope refuses new acquisitions.
type Scope struct {
	m     *Manager
	owner string

	mu      sync.Mutex
	handles []domain.DisplayHandle
	closed  bool
}

func (s *Scope) Acquire(ctx context.Context, kind domain.HandleKind, data []byte, contentType string) (domain.DisplayHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.DisplayHandle{}, fmt.Errorf("scope %s: %w", s.owner, domain.ErrScopeClosed)
	}

	h, err := s.m.Acquire(ctx, kind, data, contentType)
	if err != nil {
		return domain.DisplayHandle{}, err
	}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *Scope) Owns(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		if h.ID == id {
			return true
		}
	}
	return false
}

func (s *Scope) Handles() []domain.DisplayHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DisplayHandle(nil), s.handles...)
}

func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := s.m.Release(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}

	if len(handles) > 0 {
		zlog.Logger.Debug().Str("owner", s.owner).Int("released", len(handles)).Msg("scope closed")
	}
	return errors.Join(errs...)
}
