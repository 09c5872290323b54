// Package handler holds the Echo HTTP handler for the Span Builder's single
// external surface: raw half-event ingest.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/arc-self/apps/span-builder/internal/trace"
)

// ingestService is the subset of assembler.Service the handler depends on,
// so tests can substitute a fake without a real Store/Emitter/Dedupe.
type ingestService interface {
	ProcessEvent(ctx context.Context, store *trace.Store, traceID string, key trace.EventKey, stage trace.Stage, timestampNS int64) error
}

// IngestHandler serves POST /v3/buildspan.
type IngestHandler struct {
	svc    ingestService
	store  *trace.Store
	logger *zap.Logger
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(svc ingestService, store *trace.Store, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{svc: svc, store: store, logger: logger}
}

// Register mounts the ingest route on the provided Echo instance.
func (h *IngestHandler) Register(e *echo.Echo) {
	e.POST("/v3/buildspan", h.Ingest)
}

// rawEventRequest is the wire shape of a single half-event submitted by a
// storage node. SpanID and ThreadID are accepted but unused: span identity
// is always recomputed deterministically, and the causal graph excludes
// thread-id from assembly identity.
type rawEventRequest struct {
	TraceID    string `json:"traceId"`
	SpanID     string `json:"spanId"`
	NodeID     string `json:"nodeId"`
	PeerNodeID string `json:"peerNodeId"`
	ThreadID   string `json:"threadId"`
	Timestamp  int64  `json:"timestamp"`
	EventType  string `json:"eventType"`
}

// Ingest parses one raw half-event, splits its event type on the last
// underscore into span-name and stage, and routes it to the assembler.
func (h *IngestHandler) Ingest(c echo.Context) error {
	ctx, span := otel.Tracer("span-builder").Start(c.Request().Context(), "ingest.BuildSpan")
	defer span.End()

	var req rawEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}

	spanName, stage, ok := splitEventType(req.EventType)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "eventType must end with _START or _END"})
	}

	key := trace.EventKey{
		NodeID:     req.NodeID,
		PeerNodeID: req.PeerNodeID,
		SpanName:   spanName,
	}

	if err := h.svc.ProcessEvent(ctx, h.store, req.TraceID, key, stage, req.Timestamp); err != nil {
		h.logger.Error("span emit failed", zap.String("trace_id", req.TraceID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to emit span to collector"})
	}

	return c.NoContent(http.StatusOK)
}

// splitEventType splits eventType on its last underscore into a span-name
// and stage. The suffix must be exactly START or END; anything else (or no
// underscore at all) is rejected.
func splitEventType(eventType string) (spanName string, stage trace.Stage, ok bool) {
	idx := strings.LastIndex(eventType, "_")
	if idx < 0 || idx == len(eventType)-1 {
		return "", 0, false
	}

	name, suffix := eventType[:idx], eventType[idx+1:]
	switch suffix {
	case "START":
		return name, trace.StageStart, true
	case "END":
		return name, trace.StageEnd, true
	default:
		return "", 0, false
	}
}
