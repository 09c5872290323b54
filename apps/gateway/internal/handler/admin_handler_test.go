package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arc-self/apps/gateway/internal/catalog"
	"github.com/arc-self/apps/gateway/internal/handler"
	"github.com/arc-self/apps/gateway/internal/pool"
)

func TestAdminHandler_Health_ReportsEveryNode(t *testing.T) {
	p := pool.New([]string{"http://node-0", "http://node-1"})
	p.SetHealth(0, pool.Healthy)
	p.SetHealth(1, pool.Unhealthy)
	store := catalog.NewFakeStore()

	h := handler.NewAdminHandler(p, store, zap.NewNop())
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodGet, "/ipfs/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"0\":\"Healthy\"")
	assert.Contains(t, rec.Body.String(), "\"1\":\"Unhealthy\"")
}

func TestAdminHandler_Clear_EmptiesCatalog(t *testing.T) {
	p := pool.New(nil)
	store := catalog.NewFakeStore("cid-a")

	h := handler.NewAdminHandler(p, store, zap.NewNop())
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodGet, "/clear", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	records, err := store.StreamCIDs(req.Context())
	require.NoError(t, err)
	assert.Empty(t, records)
}
