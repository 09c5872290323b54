// Package handler holds the Echo HTTP handlers for the Gateway's public
// surface: the streaming GET fan-out, the PUT forwarder, and the admin
// health/clear endpoints.
package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/arc-self/apps/gateway/internal/catalog"
	"github.com/arc-self/apps/gateway/internal/fanout"
	"github.com/arc-self/apps/gateway/internal/storageclient"
)

// IPFSHandler serves the GET (fan-out, SSE) and PUT (forward, catalog
// append) endpoints that make up the Gateway's core traffic path.
type IPFSHandler struct {
	runner *fanout.Runner
	client storageclient.Client
	store  catalog.Store
	picker writeTargetPicker
	logger *zap.Logger
}

// writeTargetPicker selects which node a PUT is forwarded to. It is the same
// shape as pool.Pool.NextHealthy so tests can substitute a fake without
// depending on the pool package's concrete type.
type writeTargetPicker interface {
	NextHealthy() (int, error)
	BaseURL(index int) string
}

// NewIPFSHandler constructs an IPFSHandler.
func NewIPFSHandler(runner *fanout.Runner, client storageclient.Client, store catalog.Store, picker writeTargetPicker, logger *zap.Logger) *IPFSHandler {
	return &IPFSHandler{runner: runner, client: client, store: store, picker: picker, logger: logger}
}

// Register mounts the IPFS routes on the provided Echo instance.
func (h *IPFSHandler) Register(e *echo.Echo) {
	e.GET("/ipfs", h.Get)
	e.PUT("/ipfs", h.Put)
}

// ── GET /ipfs ──────────────────────────────────────────────────────────────

// Get streams one fan-out outcome per catalog CID as a server-sent event.
// The catalog is read once, eagerly, before fan-out begins; each resulting
// Item is JSON-encoded and flushed to the client as soon as it is ready, in
// completion order rather than CID order.
func (h *IPFSHandler) Get(c echo.Context) error {
	ctx, span := otel.Tracer("gateway").Start(c.Request().Context(), "ipfs.Get")
	defer span.End()

	records, err := h.store.StreamCIDs(ctx)
	if err != nil {
		h.logger.Error("failed to read catalog", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "catalog unavailable"})
	}

	cids := make([]string, len(records))
	for i, r := range records {
		cids[i] = r.CID
	}

	if _, err := h.store.IncrementCounter(ctx, "total_requests", int64(len(cids))); err != nil {
		h.logger.Error("failed to increment total_requests counter", zap.Error(err))
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, canFlush := resp.Writer.(http.Flusher)

	for item := range h.runner.Stream(ctx, cids) {
		frame := encodeSSEFrame(item)
		if _, err := resp.Write(frame); err != nil {
			// Client disconnected — nothing left to do but stop.
			return nil
		}
		if canFlush {
			flusher.Flush()
		}
	}
	return nil
}

// encodeSSEFrame renders one fan-out Item as an SSE `data:` frame. The wire
// shape carries exactly one of content/error, plus the node that served it
// ("nabu-<index>"), whether it was traced, the upstream trace-id, and
// elapsed time — matching what the streamed response has always looked
// like to callers. Content/error and the trace-id are the fields that can
// carry attacker- or upstream-controlled text, so those are escaped.
func encodeSSEFrame(item fanout.Item) []byte {
	node := "null"
	if item.NodeIndex != nil {
		node = fmt.Sprintf("\"nabu-%d\"", *item.NodeIndex)
	}

	timeTaken := "\"N/A\""
	if item.ElapsedSeconds != nil {
		timeTaken = fmt.Sprintf("\"%.2fs\"", *item.ElapsedSeconds)
	}

	field, value := "content", item.Body
	if item.Err != "" {
		field, value = "error", item.Err
	}

	return []byte(fmt.Sprintf(
		"data: {\"%s\": \"%s\", \"node\": %s, \"trace\": \"%t\", \"trace_id\": \"%s\", \"time_taken\": %s}\n\n",
		field, fanout.EscapeForSSE(value), node, item.Traced, fanout.EscapeForSSE(item.TraceID), timeTaken,
	))
}

// ── PUT /ipfs ──────────────────────────────────────────────────────────────

// putResult is the response body for a successful PUT /ipfs.
type putResult struct {
	Content string `json:"content"`
}

// Put forwards the request body to a single healthy storage node and
// appends the resulting CID to the catalog before responding.
func (h *IPFSHandler) Put(c echo.Context) error {
	ctx, span := otel.Tracer("gateway").Start(c.Request().Context(), "ipfs.Put")
	defer span.End()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read request body"})
	}
	defer c.Request().Body.Close()

	idx, err := h.picker.NextHealthy()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "No healthy IPFS node found"})
	}

	status, cid, err := h.client.Put(ctx, h.picker.BaseURL(idx), body)
	if err != nil {
		h.logger.Error("storage node PUT failed", zap.Int("node_index", idx), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if cid == "" {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve CID from response"})
	}

	if err := h.store.AppendCID(ctx, cid); err != nil {
		h.logger.Error("failed to append cid to catalog", zap.String("cid", cid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "write succeeded but catalog update failed"})
	}

	return c.JSON(status, putResult{Content: cid})
}
