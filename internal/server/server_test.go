package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/app"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/models"
)

func newTestServer(t *testing.T) (*Server, *app.App) {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.InMemory = true
	cfg.Queue.Concurrency = 1
	cfg.Maintenance.Enabled = false
	cfg.Login.DebugDir = t.TempDir()

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	require.NoError(t, application.StorageManager.DeviceStorage().SaveDevice(context.Background(), &models.Device{
		ID:        "d1",
		CompanyID: "acme",
		Operator:  models.OperatorRobi,
		SimNumber: "01812345678",
		Balance:   decimal.RequireFromString("7.25"),
		Status:    models.DeviceStatusInactive,
	}))

	return New(application), application
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes_DeviceEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"list devices", "GET", "/api/devices", "", http.StatusOK},
		{"get device", "GET", "/api/devices/d1", "", http.StatusOK},
		{"unknown device", "GET", "/api/devices/nope", "", http.StatusNotFound},
		{"session without login", "GET", "/api/devices/d1/session", "", http.StatusNotFound},
		{"attempts", "GET", "/api/devices/d1/attempts", "", http.StatusOK},
		{"logout", "POST", "/api/devices/d1/logout", "", http.StatusOK},
		{"otp without code", "POST", "/api/devices/d1/otp", `{}`, http.StatusBadRequest},
		{"login wrong method", "GET", "/api/devices/d1/login", "", http.StatusMethodNotAllowed},
		{"unknown suffix", "GET", "/api/devices/d1/reboot", "", http.StatusNotFound},
		{"unknown attempt", "GET", "/api/attempts/missing", "", http.StatusNotFound},
		{"unknown route", "GET", "/nothing-here", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRoutes_LoginCreatesAttempt(t *testing.T) {
	s, application := newTestServer(t)

	// Keep the worker from launching a real browser
	require.NoError(t, application.WorkerPool.Stop())

	rec := serve(s, "POST", "/api/devices/d1/login", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["attempt_id"])

	rec = serve(s, "POST", "/api/devices/d1/login", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(s, "GET", "/api/attempts/"+resp["attempt_id"], "")
	require.Equal(t, http.StatusOK, rec.Code)

	var attempt models.LoginAttempt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attempt))
	assert.Equal(t, models.AttemptQueued, attempt.Status)
	assert.Equal(t, "d1", attempt.DeviceID)
}

func TestMiddleware_PreflightAndHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, "OPTIONS", "/api/devices", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(s, "GET", "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.withConditionalMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil session")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/devices/d1", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Body.String(), `"error":"internal server error"`)
}

func TestMiddleware_SocketPathSkipsChain(t *testing.T) {
	s, _ := newTestServer(t)
	var sawRaw bool
	handler := s.withConditionalMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawRaw = w.(*httptest.ResponseRecorder)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/ws/otp/d1", nil))

	assert.True(t, sawRaw, "socket handler gets the unwrapped writer")
	assert.Equal(t, http.StatusNoContent, rec.Code, "preflight short-circuit not applied")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
