package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/services/login"
)

// cookiePreviewLength is how much of a cookie value the session view shows
const cookiePreviewLength = 50

const devicesPrefix = "/api/devices/"

// DeviceHandler serves the login, OTP, session and logout endpoints of a device
type DeviceHandler struct {
	login    interfaces.LoginService
	devices  interfaces.DeviceStorage
	attempts interfaces.AttemptStorage
	sessions interfaces.SessionWriter
	logger   arbor.ILogger
}

// NewDeviceHandler creates a device handler
func NewDeviceHandler(loginService interfaces.LoginService, devices interfaces.DeviceStorage, attempts interfaces.AttemptStorage, sessions interfaces.SessionWriter, logger arbor.ILogger) *DeviceHandler {
	return &DeviceHandler{
		login:    loginService,
		devices:  devices,
		attempts: attempts,
		sessions: sessions,
		logger:   logger,
	}
}

type loginRequest struct {
	OperatorURL string `json:"operator_url" validate:"omitempty,url"`
	SimNumber   string `json:"sim_number" validate:"omitempty,numeric,min=10,max=15"`
}

type otpRequest struct {
	OTP string `json:"otp" validate:"required"`
}

// deviceSummary is the public view of a device; secrets and the session blob are omitted
type deviceSummary struct {
	ID         string              `json:"id"`
	CompanyID  string              `json:"company_id"`
	Operator   models.Operator     `json:"operator"`
	SimNumber  string              `json:"sim_number"`
	Balance    decimal.Decimal     `json:"balance"`
	Status     models.DeviceStatus `json:"status"`
	HasSession bool                `json:"has_session"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func summarize(d *models.Device) deviceSummary {
	return deviceSummary{
		ID:         d.ID,
		CompanyID:  d.CompanyID,
		Operator:   d.Operator,
		SimNumber:  d.SimNumber,
		Balance:    d.Balance.Round(2),
		Status:     d.Status,
		HasSession: d.HasSession(),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// ListDevicesHandler handles GET /api/devices
func (h *DeviceHandler) ListDevicesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	devices, err := h.devices.ListDevices(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list devices")
		WriteError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}

	summaries := make([]deviceSummary, 0, len(devices))
	for _, d := range devices {
		summaries = append(summaries, summarize(d))
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// GetDeviceHandler handles GET /api/devices/{id}
func (h *DeviceHandler) GetDeviceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	device, ok := h.loadDevice(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, summarize(device))
}

// LoginHandler handles POST /api/devices/{id}/login. The body is optional and
// may override the portal URL and phone number.
func (h *DeviceHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	deviceID := PathID(r.URL.Path, devicesPrefix)
	var req loginRequest
	if err := DecodeJSON(r, &req, true); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	attemptID, err := h.login.StartLoginWith(r.Context(), deviceID, req.OperatorURL, req.SimNumber)
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrLoginInProgress):
		WriteError(w, http.StatusConflict, "A login is already in progress for this device")
		return
	case errors.Is(err, interfaces.ErrDeviceNotFound):
		WriteError(w, http.StatusNotFound, "Device not found")
		return
	case errors.Is(err, interfaces.ErrUnknownOperator):
		WriteError(w, http.StatusNotFound, "No login portal configured for the device operator")
		return
	default:
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to start login")
		WriteError(w, http.StatusInternalServerError, "Failed to start login")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":     "success",
		"attempt_id": attemptID,
		"message":    "Login started, waiting for OTP",
	})
}

// OTPHandler handles POST /api/devices/{id}/otp
func (h *DeviceHandler) OTPHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	deviceID := PathID(r.URL.Path, devicesPrefix)
	var req otpRequest
	if err := DecodeJSON(r, &req, false); err != nil {
		WriteError(w, http.StatusBadRequest, "OTP is required")
		return
	}

	err := h.login.SubmitOTP(r.Context(), deviceID, req.OTP)
	if errors.Is(err, login.ErrInvalidOTPFormat) {
		WriteError(w, http.StatusBadRequest, "OTP is required")
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to submit OTP")
		WriteError(w, http.StatusBadGateway, "Failed to deliver OTP")
		return
	}
	WriteSuccess(w, "OTP submitted")
}

// SessionHandler handles GET /api/devices/{id}/session. Cookie values are
// shortened for display; the full session is returned alongside.
func (h *DeviceHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	device, ok := h.loadDevice(w, r)
	if !ok {
		return
	}
	if !device.HasSession() {
		WriteError(w, http.StatusNotFound, "No session stored for this device")
		return
	}

	state, err := models.ParseSessionState(device.SessionData)
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", device.ID).Msg("Stored session is corrupt")
		WriteError(w, http.StatusInternalServerError, "Stored session could not be read")
		return
	}

	cookies := make([]models.Cookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		c.Value = truncate(c.Value, cookiePreviewLength)
		cookies = append(cookies, c)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "success",
		"device_id":    device.ID,
		"cookies":      cookies,
		"session_data": state,
	})
}

// LogoutHandler handles POST /api/devices/{id}/logout
func (h *DeviceHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	deviceID := PathID(r.URL.Path, devicesPrefix)
	err := h.sessions.Clear(r.Context(), deviceID, models.DeviceStatusInactive)
	if errors.Is(err, interfaces.ErrDeviceNotFound) {
		WriteError(w, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to clear session")
		WriteError(w, http.StatusInternalServerError, "Failed to log out device")
		return
	}
	WriteSuccess(w, "Device logged out")
}

// AttemptsHandler handles GET /api/devices/{id}/attempts
func (h *DeviceHandler) AttemptsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	deviceID := PathID(r.URL.Path, devicesPrefix)
	attempts, err := h.attempts.ListAttemptsByDevice(r.Context(), deviceID)
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to list attempts")
		WriteError(w, http.StatusInternalServerError, "Failed to list attempts")
		return
	}
	WriteJSON(w, http.StatusOK, attempts)
}

func (h *DeviceHandler) loadDevice(w http.ResponseWriter, r *http.Request) (*models.Device, bool) {
	deviceID := PathID(r.URL.Path, devicesPrefix)
	device, err := h.devices.GetDevice(r.Context(), deviceID)
	if errors.Is(err, interfaces.ErrDeviceNotFound) {
		WriteError(w, http.StatusNotFound, "Device not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to load device")
		WriteError(w, http.StatusInternalServerError, "Failed to load device")
		return nil, false
	}
	return device, true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
