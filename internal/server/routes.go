package server

import (
	"net/http"
	"strings"
)

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket: OTP in, login progress and result out
	mux.HandleFunc("/ws/otp/", s.app.WSHandler.HandleOTPSocket)

	// Devices
	mux.HandleFunc("/api/devices", s.app.DeviceHandler.ListDevicesHandler) // GET - list devices
	mux.HandleFunc("/api/devices/", s.handleDeviceRoutes)                  // /{id}[/login|/otp|/session|/logout|/attempts]

	// Attempts (task status)
	mux.HandleFunc("/api/attempts/", s.app.AttemptHandler.GetAttemptHandler) // GET /{id}

	// System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleDeviceRoutes routes /api/devices/{id}/... requests
func (s *Server) handleDeviceRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/devices/"), "/")
	if rest == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	h := s.app.DeviceHandler
	matched := RouteByPathSuffix(w, r, "/api/devices/", []PathSuffixRouter{
		{Suffix: "/login", Handler: h.LoginHandler},
		{Suffix: "/otp", Handler: h.OTPHandler},
		{Suffix: "/session", Handler: h.SessionHandler},
		{Suffix: "/logout", Handler: h.LogoutHandler},
		{Suffix: "/attempts", Handler: h.AttemptsHandler},
	})
	if matched {
		return
	}

	// Bare /api/devices/{id}
	if !strings.Contains(rest, "/") {
		h.GetDeviceHandler(w, r)
		return
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}
