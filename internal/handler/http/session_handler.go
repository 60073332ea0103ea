package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/broadcast"
	"github.com/yokitheyo/cutout/internal/domain"
	"github.com/yokitheyo/cutout/internal/dto"
)

// EventsPath serves the snapshot stream; it must be exempt from the server
// write timeout.
const EventsPath = "/session/events"

type liveCounter interface {
	Live() int
}

type SessionHandler struct {
	processing    domain.ProcessingService
	presenter     domain.PresenterService
	history       domain.HistoryService
	hub           *broadcast.Hub
	handles       liveCounter
	maxUploadSize int64
}

// NewSessionHandler wires the HTTP surface. history may be nil when the
// database is disabled.
func NewSessionHandler(
	processing domain.ProcessingService,
	presenter domain.PresenterService,
	history domain.HistoryService,
	hub *broadcast.Hub,
	handles liveCounter,
	maxUploadSizeMB int,
) *SessionHandler {
	return &SessionHandler{
		processing:    processing,
		presenter:     presenter,
		history:       history,
		hub:           hub,
		handles:       handles,
		maxUploadSize: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

func (h *SessionHandler) RegisterRoutes(engine *ginext.Engine) {
	engine.POST("/upload", h.Upload)
	engine.GET("/session", h.GetSession)
	engine.GET(EventsPath, h.Events)
	engine.POST("/session/reset", h.Reset)
	engine.GET("/handles/:id", h.Preview)
	engine.GET("/download/:id", h.Download)
	engine.GET("/history", h.ListHistory)
	engine.GET("/history/:id", h.GetHistory)
	engine.GET("/health", h.Health)
}

// Upload POST /upload
func (h *SessionHandler) Upload(c *ginext.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to get file from request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "No image file provided",
			Code:    http.StatusBadRequest,
		})
		return
	}
	defer file.Close()

	sub := domain.ImageSubmission{
		Filename:  header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Size:      header.Size,
	}

	// Oversized uploads are still submitted so the rejection is part of the
	// session; their bytes are never read.
	if header.Size <= h.maxUploadSize {
		data, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
		if err != nil {
			zlog.Logger.Error().Err(err).Str("filename", header.Filename).Msg("failed to read uploaded file")
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "invalid_request",
				Message: "Failed to read uploaded file",
				Code:    http.StatusBadRequest,
			})
			return
		}
		sub.Data = data
		sub.Size = int64(len(data))
	}

	snap, err := h.processing.Submit(sub)
	baseURL := h.getBaseURL(c)
	if err != nil {
		var rec domain.ErrorRecord
		switch {
		case errors.As(err, &rec) && rec.Kind == domain.KindValidation:
			c.JSON(http.StatusUnprocessableEntity, dto.MapSnapshotToResponse(snap, baseURL))
		case errors.Is(err, domain.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
				Error:   "shutting_down",
				Message: "Server is shutting down",
				Code:    http.StatusServiceUnavailable,
			})
		default:
			zlog.Logger.Error().Err(err).Str("filename", header.Filename).Msg("failed to start session")
			c.JSON(http.StatusInternalServerError, dto.MapSnapshotToResponse(snap, baseURL))
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.MapSnapshotToResponse(snap, baseURL))
}

// GetSession GET /session
func (h *SessionHandler) GetSession(c *ginext.Context) {
	c.JSON(http.StatusOK, dto.MapSnapshotToResponse(h.processing.Snapshot(), h.getBaseURL(c)))
}

// Events GET /session/events streams snapshots as server-sent events,
// starting with the current one.
func (h *SessionHandler) Events(c *ginext.Context) {
	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	baseURL := h.getBaseURL(c)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	current := h.processing.Snapshot()
	c.SSEvent("snapshot", dto.MapSnapshotToResponse(current, baseURL))
	c.Writer.Flush()
	lastSeq := current.Seq

	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-events:
			if !ok {
				return false
			}
			if snap.Seq <= lastSeq {
				return true
			}
			lastSeq = snap.Seq
			c.SSEvent("snapshot", dto.MapSnapshotToResponse(snap, baseURL))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Reset POST /session/reset
func (h *SessionHandler) Reset(c *ginext.Context) {
	snap, err := h.presenter.Reset()
	if errors.Is(err, domain.ErrSessionActive) {
		c.JSON(http.StatusConflict, dto.MapSnapshotToResponse(snap, h.getBaseURL(c)))
		return
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to reset session")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "server_error",
			Message: "Failed to reset session",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, dto.MapSnapshotToResponse(snap, h.getBaseURL(c)))
}

// Preview GET /handles/:id
func (h *SessionHandler) Preview(c *ginext.Context) {
	id := c.Param("id")

	file, handle, err := h.presenter.Preview(c.Request.Context(), id)
	if err != nil {
		h.writeHandleError(c, id, err)
		return
	}
	defer file.Close()

	c.Header("Content-Type", handle.ContentType)
	c.Header("Content-Length", strconv.FormatInt(handle.Size, 10))
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%s-%s", handle.Kind, handle.ID))

	written, err := io.Copy(c.Writer, file)
	if err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("handle_id", id).
			Int64("bytes_written", written).
			Msg("failed to write handle to response")
	}
}

// Download GET /download/:id
func (h *SessionHandler) Download(c *ginext.Context) {
	id := c.Param("id")

	file, filename, err := h.presenter.Download(c.Request.Context(), id)
	if err != nil {
		h.writeHandleError(c, id, err)
		return
	}
	defer file.Close()

	c.Header("Content-Type", "image/png")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")

	written, err := io.Copy(c.Writer, file)
	if err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("handle_id", id).
			Str("filename", filename).
			Int64("bytes_written", written).
			Msg("failed to write artifact to response")
		return
	}
	zlog.Logger.Info().
		Str("handle_id", id).
		Str("filename", filename).
		Int64("bytes_written", written).
		Msg("artifact sent successfully")
}

// ListHistory GET /history
func (h *SessionHandler) ListHistory(c *ginext.Context) {
	if h.history == nil {
		h.historyDisabled(c)
		return
	}

	var q dto.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	var (
		records []*domain.SessionRecord
		err     error
	)
	if q.Phase != "" {
		records, err = h.history.ListByPhase(c.Request.Context(), q.ToPhase(), q.Limit, q.Offset)
	} else {
		records, err = h.history.List(c.Request.Context(), q.Limit, q.Offset)
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list history")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "server_error",
			Message: "Failed to retrieve history",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, dto.MapRecordsToResponse(records, q.Limit, q.Offset))
}

// GetHistory GET /history/:id
func (h *SessionHandler) GetHistory(c *ginext.Context) {
	if h.history == nil {
		h.historyDisabled(c)
		return
	}

	rec, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: "Session not found",
			Code:    http.StatusNotFound,
		})
		return
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to get history record")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "server_error",
			Message: "Failed to retrieve session",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	resp := dto.MapRecordsToResponse([]*domain.SessionRecord{rec}, 1, 0)
	c.JSON(http.StatusOK, resp.Sessions[0])
}

// Health GET /health
func (h *SessionHandler) Health(c *ginext.Context) {
	resp := dto.HealthResponse{
		Status: "ok",
		Phase:  string(h.processing.Snapshot().Phase),
	}
	if h.handles != nil {
		resp.LiveHandles = h.handles.Live()
	}
	if h.hub != nil {
		resp.Subscribers = h.hub.Subscribers()
	}
	c.JSON(http.StatusOK, resp)
}

// Helper methods

func (h *SessionHandler) writeHandleError(c *ginext.Context, id string, err error) {
	var rec domain.ErrorRecord
	if errors.As(err, &rec) && rec.Kind == domain.KindResource {
		c.JSON(http.StatusGone, dto.ErrorResponse{
			Error:   string(rec.Kind),
			Message: rec.Message,
			Code:    http.StatusGone,
		})
		return
	}

	zlog.Logger.Error().Err(err).Str("handle_id", id).Msg("failed to open handle")
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:   "server_error",
		Message: "Failed to retrieve image",
		Code:    http.StatusInternalServerError,
	})
}

func (h *SessionHandler) historyDisabled(c *ginext.Context) {
	c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
		Error:   "history_disabled",
		Message: "Session history requires the database to be enabled",
		Code:    http.StatusServiceUnavailable,
	})
}

func (h *SessionHandler) getBaseURL(c *ginext.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}
