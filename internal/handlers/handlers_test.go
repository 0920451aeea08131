package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/services/sessions"
	"github.com/ternarybob/urbix/internal/storage/badger"
)

// fakeLogin records calls and returns canned errors
type fakeLogin struct {
	mu       sync.Mutex
	startErr error
	otpErr   error
	otps     []string
	starts   []string
	attempts map[string]*models.LoginAttempt
}

func (f *fakeLogin) StartLogin(ctx context.Context, deviceID string) (string, error) {
	return f.StartLoginWith(ctx, deviceID, "", "")
}

func (f *fakeLogin) StartLoginWith(ctx context.Context, deviceID, operatorURL, simNumber string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.starts = append(f.starts, deviceID+"|"+operatorURL+"|"+simNumber)
	return "att_fake", nil
}

func (f *fakeLogin) SubmitOTP(ctx context.Context, deviceID, otp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.otpErr != nil {
		return f.otpErr
	}
	f.otps = append(f.otps, deviceID+":"+otp)
	return nil
}

func (f *fakeLogin) GetAttempt(ctx context.Context, attemptID string) (*models.LoginAttempt, error) {
	if a, ok := f.attempts[attemptID]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", interfaces.ErrAttemptNotFound, attemptID)
}

func (f *fakeLogin) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.otps...)
}

func newDeviceHandler(t *testing.T, login *fakeLogin) (*DeviceHandler, interfaces.DeviceStorage) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	devices := badger.NewDeviceStorage(db, logger)
	require.NoError(t, devices.SaveDevice(context.Background(), &models.Device{
		ID: "d1", CompanyID: "acme", Operator: models.OperatorGrameenphone,
		SimNumber: "01712345678", PasswordHash: "$2a$10$secret", Status: models.DeviceStatusInactive,
		Balance: decimal.RequireFromString("3.5"),
	}))

	handler := NewDeviceHandler(login, devices, badger.NewAttemptStorage(db, logger), sessions.NewWriter(devices, logger), logger)
	return handler, devices
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLoginHandler(t *testing.T) {
	tests := []struct {
		name     string
		startErr error
		body     string
		status   int
	}{
		{"accepted", nil, "", http.StatusAccepted},
		{"accepted with overrides", nil, `{"operator_url":"https://portal.test/login","sim_number":"01700000000"}`, http.StatusAccepted},
		{"in progress", fmt.Errorf("%w: d1", interfaces.ErrLoginInProgress), "", http.StatusConflict},
		{"unknown device", fmt.Errorf("%w: d1", interfaces.ErrDeviceNotFound), "", http.StatusNotFound},
		{"unknown operator", interfaces.ErrUnknownOperator, "", http.StatusNotFound},
		{"bad url", nil, `{"operator_url":"not a url"}`, http.StatusBadRequest},
		{"storage failure", fmt.Errorf("disk full"), "", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := newDeviceHandler(t, &fakeLogin{startErr: tt.startErr})
			req := httptest.NewRequest(http.MethodPost, "/api/devices/d1/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.LoginHandler(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusAccepted {
				body := decodeBody(t, rec)
				assert.Equal(t, "success", body["status"])
				assert.Equal(t, "att_fake", body["attempt_id"])
			}
		})
	}
}

func TestLoginHandler_RejectsGet(t *testing.T) {
	handler, _ := newDeviceHandler(t, &fakeLogin{})
	rec := httptest.NewRecorder()
	handler.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices/d1/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOTPHandler(t *testing.T) {
	login := &fakeLogin{}
	handler, _ := newDeviceHandler(t, login)

	rec := httptest.NewRecorder()
	handler.OTPHandler(rec, httptest.NewRequest(http.MethodPost, "/api/devices/d1/otp", strings.NewReader(`{"otp":"482913"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"d1:482913"}, login.submitted())

	rec = httptest.NewRecorder()
	handler.OTPHandler(rec, httptest.NewRequest(http.MethodPost, "/api/devices/d1/otp", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDeviceHandler_HidesSecrets(t *testing.T) {
	handler, _ := newDeviceHandler(t, &fakeLogin{})

	rec := httptest.NewRecorder()
	handler.GetDeviceHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices/d1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "secret")
	body := decodeBody(t, rec)
	assert.Equal(t, "gp", body["operator"])
	assert.Equal(t, "3.5", body["balance"])
	assert.Equal(t, false, body["has_session"])

	rec = httptest.NewRecorder()
	handler.GetDeviceHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_TruncatesCookieValues(t *testing.T) {
	handler, devices := newDeviceHandler(t, &fakeLogin{})
	long := strings.Repeat("x", 80)

	state := models.SessionState{Cookies: []models.Cookie{
		{Name: "sid", Value: long, Domain: ".grameenphone.com", Path: "/"},
		{Name: "lang", Value: "en", Domain: ".grameenphone.com", Path: "/"},
	}}
	blob, err := state.Marshal()
	require.NoError(t, err)
	require.NoError(t, devices.WithDeviceLock(context.Background(), "d1", func(d *models.Device) error {
		d.SessionData = blob
		d.Status = models.DeviceStatusActive
		return nil
	}))

	rec := httptest.NewRecorder()
	handler.SessionHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices/d1/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Cookies     []models.Cookie     `json:"cookies"`
		SessionData models.SessionState `json:"session_data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Cookies, 2)
	assert.Equal(t, strings.Repeat("x", 50)+"...", body.Cookies[0].Value)
	assert.Equal(t, "en", body.Cookies[1].Value)
	assert.Equal(t, long, body.SessionData.Cookies[0].Value)
}

func TestSessionHandler_NoSession(t *testing.T) {
	handler, _ := newDeviceHandler(t, &fakeLogin{})
	rec := httptest.NewRecorder()
	handler.SessionHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices/d1/session", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutHandler(t *testing.T) {
	handler, devices := newDeviceHandler(t, &fakeLogin{})
	require.NoError(t, devices.WithDeviceLock(context.Background(), "d1", func(d *models.Device) error {
		d.SessionData = `{"cookies":[],"origins":[]}`
		d.Status = models.DeviceStatusActive
		return nil
	}))

	rec := httptest.NewRecorder()
	handler.LogoutHandler(rec, httptest.NewRequest(http.MethodPost, "/api/devices/d1/logout", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	device, err := devices.GetDevice(context.Background(), "d1")
	require.NoError(t, err)
	assert.False(t, device.HasSession())
	assert.Equal(t, models.DeviceStatusInactive, device.Status)

	rec = httptest.NewRecorder()
	handler.LogoutHandler(rec, httptest.NewRequest(http.MethodPost, "/api/devices/nope/logout", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAttemptHandler(t *testing.T) {
	login := &fakeLogin{attempts: map[string]*models.LoginAttempt{
		"att_1": {ID: "att_1", DeviceID: "d1", Status: models.AttemptRetrying, Attempt: 2},
	}}
	handler := NewAttemptHandler(login, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.GetAttemptHandler(rec, httptest.NewRequest(http.MethodGet, "/api/attempts/att_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "retrying", body["status"])

	rec = httptest.NewRecorder()
	handler.GetAttemptHandler(rec, httptest.NewRequest(http.MethodGet, "/api/attempts/att_2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPathID(t *testing.T) {
	assert.Equal(t, "d1", PathID("/api/devices/d1/login", "/api/devices/"))
	assert.Equal(t, "d1", PathID("/api/devices/d1", "/api/devices/"))
	assert.Equal(t, "", PathID("/api/other/d1", "/api/devices/"))
}

func TestHealthHandler(t *testing.T) {
	handler := NewAPIHandler(nil, arbor.NewLogger())
	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
