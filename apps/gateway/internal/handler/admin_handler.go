package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/apps/gateway/internal/catalog"
	"github.com/arc-self/apps/gateway/internal/pool"
)

// AdminHandler serves operational endpoints: the per-node health table and
// the catalog reset.
type AdminHandler struct {
	pool   *pool.Pool
	store  catalog.Store
	logger *zap.Logger
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(p *pool.Pool, store catalog.Store, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{pool: p, store: store, logger: logger}
}

// Register mounts the admin routes on the provided Echo instance.
func (h *AdminHandler) Register(e *echo.Echo) {
	e.GET("/ipfs/health", h.Health)
	e.GET("/clear", h.Clear)
}

// Health reports every storage node's current classification as assigned by
// the background health probe, keyed by its stable index.
func (h *AdminHandler) Health(c echo.Context) error {
	snap := h.pool.Snapshot()
	views := make(map[string]string, len(snap))
	for _, n := range snap {
		views[strconv.Itoa(n.Index)] = n.Health.String()
	}
	return c.JSON(http.StatusOK, views)
}

// Clear empties the CID catalog. Storage nodes are untouched — this only
// resets what the Gateway believes is fetchable.
func (h *AdminHandler) Clear(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.store.ClearCIDs(ctx); err != nil {
		h.logger.Error("failed to clear catalog", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not clear catalog"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}
