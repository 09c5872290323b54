package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arc-self/apps/span-builder/internal/handler"
	"github.com/arc-self/apps/span-builder/internal/trace"
)

// fakeIngestService records every call it receives, optionally failing.
type fakeIngestService struct {
	calls int
	err   error
}

func (f *fakeIngestService) ProcessEvent(_ context.Context, _ *trace.Store, _ string, _ trace.EventKey, _ trace.Stage, _ int64) error {
	f.calls++
	return f.err
}

func newRequest(body string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/v3/buildspan", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req, httptest.NewRecorder()
}

func TestIngestHandler_ValidStartEvent_Returns200(t *testing.T) {
	svc := &fakeIngestService{}
	store := trace.NewStore()
	h := handler.NewIngestHandler(svc, store, zap.NewNop())
	e := echo.New()
	h.Register(e)

	req, rec := newRequest(`{"traceId":"t1","nodeId":"n1","peerNodeId":"n2","timestamp":100,"eventType":"BITSWAP_CLIENT_START"}`)
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.calls)
}

func TestIngestHandler_MalformedEventType_Returns400_NoProcessing(t *testing.T) {
	svc := &fakeIngestService{}
	store := trace.NewStore()
	h := handler.NewIngestHandler(svc, store, zap.NewNop())
	e := echo.New()
	h.Register(e)

	req, rec := newRequest(`{"traceId":"t1","nodeId":"n1","peerNodeId":"n2","timestamp":100,"eventType":"BITSWAP_CLIENT_MIDDLE"}`)
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, svc.calls, "malformed eventType must persist nothing")
}

func TestIngestHandler_EventTypeWithNoUnderscore_Returns400(t *testing.T) {
	svc := &fakeIngestService{}
	store := trace.NewStore()
	h := handler.NewIngestHandler(svc, store, zap.NewNop())
	e := echo.New()
	h.Register(e)

	req, rec := newRequest(`{"traceId":"t1","nodeId":"n1","peerNodeId":"n2","timestamp":100,"eventType":"NOUNDERSCORE"}`)
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, svc.calls)
}

func TestIngestHandler_EmitFailure_Returns500(t *testing.T) {
	svc := &fakeIngestService{err: assertError{"collector down"}}
	store := trace.NewStore()
	h := handler.NewIngestHandler(svc, store, zap.NewNop())
	e := echo.New()
	h.Register(e)

	req, rec := newRequest(`{"traceId":"t1","nodeId":"n1","peerNodeId":"n2","timestamp":100,"eventType":"BITSWAP_CLIENT_END"}`)
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
