package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/broadcast"
	"github.com/yokitheyo/cutout/internal/domain"
	"github.com/yokitheyo/cutout/internal/dto"
	"github.com/yokitheyo/cutout/internal/handler/middleware"
	"github.com/yokitheyo/cutout/internal/infrastructure/storage"
	"github.com/yokitheyo/cutout/internal/progress"
	"github.com/yokitheyo/cutout/internal/resources"
	"github.com/yokitheyo/cutout/internal/usecase"
	"github.com/yokitheyo/cutout/internal/validation"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	zlog.Init()
	os.Exit(m.Run())
}

type instantDecoder struct{}

func (instantDecoder) Decode(ctx context.Context, sub domain.ImageSubmission) (*domain.DecodedImage, error) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	return &domain.DecodedImage{Image: img, Format: "png", Width: 2, Height: 2}, nil
}

// holdingRemover finishes only when release is closed or ctx ends.
type holdingRemover struct {
	release chan struct{}
	out     []byte
}

func (r *holdingRemover) Remove(ctx context.Context, img *domain.DecodedImage) ([]byte, error) {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.out, nil
}

type stubHistory struct {
	mu      sync.Mutex
	records []*domain.SessionRecord
	phase   domain.Phase
}

func (s *stubHistory) Record(context.Context, domain.SessionRecord) error { return nil }

func (s *stubHistory) Get(_ context.Context, id string) (*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.SessionID == id {
			return r, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (s *stubHistory) List(context.Context, int, int) ([]*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, nil
}

func (s *stubHistory) ListByPhase(_ context.Context, phase domain.Phase, _, _ int) ([]*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	var out []*domain.SessionRecord
	for _, r := range s.records {
		if r.Phase == phase {
			out = append(out, r)
		}
	}
	return out, nil
}

type harness struct {
	engine  *ginext.Engine
	orch    *usecase.Orchestrator
	hub     *broadcast.Hub
	res     *resources.Manager
	remover *holdingRemover
}

func newHarness(t *testing.T, history domain.HistoryService, hold bool) *harness {
	t.Helper()

	res := resources.NewManager(storage.NewMemoryStorage(), "handles")
	hub := broadcast.NewHub(8)
	remover := &holdingRemover{out: pngFixture(t)}
	if hold {
		remover.release = make(chan struct{})
	}

	orch := usecase.NewOrchestrator(
		validation.New(1<<20),
		instantDecoder{},
		remover,
		res,
		progress.NewManual(),
		usecase.WithListener(hub),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
		_ = hub.Close()
	})

	presenter := usecase.NewPresenter(orch, res, "cutout")
	engine := ginext.New("")
	NewSessionHandler(orch, presenter, history, hub, res, 1).RegisterRoutes(engine)

	return &harness{engine: engine, orch: orch, hub: hub, res: res, remover: remover}
}

func pngFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *harness) waitPhase(t *testing.T, phase domain.Phase) domain.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.orch.Snapshot().Phase == phase
	}, 2*time.Second, 5*time.Millisecond)
	return h.orch.Snapshot()
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) dto.SnapshotResponse {
	t.Helper()
	var resp dto.SnapshotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUpload_CompletesAndServesArtifact(t *testing.T) {
	h := newHarness(t, nil, false)
	original := pngFixture(t)

	w := h.do(uploadRequest(t, "cat.png", "image/png", original))
	require.Equal(t, http.StatusAccepted, w.Code)
	accepted := decodeSnapshot(t, w)
	assert.NotEmpty(t, accepted.SessionID)
	assert.NotEmpty(t, accepted.OriginalHandle)
	assert.Equal(t, "http://example.com/handles/"+accepted.OriginalHandle, accepted.OriginalURL)

	done := h.waitPhase(t, domain.PhaseDone)
	assert.Equal(t, 100, done.Progress)

	w = h.do(httptest.NewRequest(http.MethodGet, "/session", nil))
	require.Equal(t, http.StatusOK, w.Code)
	current := decodeSnapshot(t, w)
	assert.Equal(t, "done", current.Phase)
	assert.Equal(t, "http://example.com/download/"+done.ArtifactHandle, current.DownloadURL)

	w = h.do(httptest.NewRequest(http.MethodGet, "/handles/"+done.OriginalHandle, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, original, w.Body.Bytes())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = h.do(httptest.NewRequest(http.MethodGet, "/download/"+done.ArtifactHandle, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	disposition := w.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, `attachment; filename="cutout-`), disposition)
	assert.True(t, strings.HasSuffix(disposition, `.png"`), disposition)
	assert.Equal(t, h.remover.out, w.Body.Bytes())

	// the original cannot be downloaded, only previewed
	w = h.do(httptest.NewRequest(http.MethodGet, "/download/"+done.OriginalHandle, nil))
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestUpload_Rejections(t *testing.T) {
	h := newHarness(t, nil, false)

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		reason      string
	}{
		{"wrong type", "notes.txt", "text/plain", []byte("hello"), string(domain.ReasonWrongType)},
		{"too large", "huge.png", "image/png", bytes.Repeat([]byte{1}, 1<<20+1), string(domain.ReasonTooLarge)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(uploadRequest(t, tt.filename, tt.contentType, tt.data))
			require.Equal(t, http.StatusUnprocessableEntity, w.Code)

			resp := decodeSnapshot(t, w)
			assert.Equal(t, "failed", resp.Phase)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(domain.KindValidation), resp.Error.Kind)
			assert.Equal(t, tt.reason, resp.Error.Reason)
			assert.Empty(t, resp.OriginalHandle)
		})
	}
	assert.Zero(t, h.res.Live())
}

func TestUpload_MissingFile(t *testing.T) {
	h := newHarness(t, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(""))
	w := h.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "idle", string(h.orch.Snapshot().Phase))
}

func TestReset(t *testing.T) {
	h := newHarness(t, nil, true)

	w := h.do(uploadRequest(t, "cat.png", "image/png", pngFixture(t)))
	require.Equal(t, http.StatusAccepted, w.Code)
	h.waitPhase(t, domain.PhaseRemoving)

	w = h.do(httptest.NewRequest(http.MethodPost, "/session/reset", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "removing", decodeSnapshot(t, w).Phase)

	close(h.remover.release)
	done := h.waitPhase(t, domain.PhaseDone)

	w = h.do(httptest.NewRequest(http.MethodPost, "/session/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decodeSnapshot(t, w).Phase)
	assert.Zero(t, h.res.Live())

	w = h.do(httptest.NewRequest(http.MethodGet, "/handles/"+done.ArtifactHandle, nil))
	assert.Equal(t, http.StatusGone, w.Code)
	var body dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(domain.KindResource), body.Error)
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, nil, false)
		w := h.do(httptest.NewRequest(http.MethodGet, "/history", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	history := &stubHistory{records: []*domain.SessionRecord{
		{SessionID: "a", Phase: domain.PhaseDone, Filename: "a.png", FinishedAt: finished},
		{SessionID: "b", Phase: domain.PhaseFailed, Filename: "b.txt", ErrorKind: domain.KindValidation, FinishedAt: finished},
	}}
	h := newHarness(t, history, false)

	w := h.do(httptest.NewRequest(http.MethodGet, "/history?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Sessions, 2)

	w = h.do(httptest.NewRequest(http.MethodGet, "/history?phase=failed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "b", list.Sessions[0].SessionID)
	assert.Equal(t, domain.PhaseFailed, history.phase)

	w = h.do(httptest.NewRequest(http.MethodGet, "/history?phase=removing", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/history/a", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var item dto.HistoryItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, "a.png", item.Filename)

	w = h.do(httptest.NewRequest(http.MethodGet, "/history/zzz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil, false)

	w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "idle", resp.Phase)
	assert.Zero(t, resp.LiveHandles)
}

// streamRecorder adds CloseNotify so gin can stream into a recorder.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func TestEvents_StreamsSnapshots(t *testing.T) {
	h := newHarness(t, nil, false)

	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	req := httptest.NewRequest(http.MethodGet, "/session/events", nil)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		h.engine.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.hub.OnSnapshot(domain.Snapshot{Seq: 41, SessionID: "s-1", Phase: domain.PhaseRemoving, Progress: 40})
	// stale sequence numbers are skipped
	h.hub.OnSnapshot(domain.Snapshot{Seq: 0, SessionID: "old", Phase: domain.PhaseDecoding})
	require.NoError(t, h.hub.Close())

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end after the hub closed")
	}

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Equal(t, 2, strings.Count(text, "event:snapshot"), text)
	assert.Contains(t, text, `"seq":41`)
	assert.NotContains(t, text, `"session_id":"old"`)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestEvents_OutlivesServerWriteTimeout(t *testing.T) {
	h := newHarness(t, nil, false)

	srv := httptest.NewUnstartedServer(middleware.StreamWithoutWriteDeadline(h.engine, EventsPath))
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + EventsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Well past the write timeout, a long removal finishes.
	time.Sleep(150 * time.Millisecond)
	h.hub.OnSnapshot(domain.Snapshot{Seq: 90, SessionID: "s-long", Phase: domain.PhaseRemoving, Progress: 95})
	time.Sleep(100 * time.Millisecond)
	h.hub.OnSnapshot(domain.Snapshot{Seq: 91, SessionID: "s-long", Phase: domain.PhaseDone, Progress: 100})
	require.NoError(t, h.hub.Close())

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `"seq":90`)
	assert.Contains(t, text, `"seq":91`)
	assert.Contains(t, text, `"phase":"done"`)
}
