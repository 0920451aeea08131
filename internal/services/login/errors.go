package login

import (
	"errors"
	"fmt"

	"github.com/ternarybob/urbix/internal/models"
)

// Reason classifies why a login run failed
type Reason string

const (
	ReasonNavigation         Reason = "navigation"
	ReasonOTPRequest         Reason = "otp_request"
	ReasonOTPTimeout         Reason = "otp_timeout"
	ReasonInvalidOTPFormat   Reason = "invalid_otp_format"
	ReasonOTPEntry           Reason = "otp_entry"
	ReasonConfirmUnavailable Reason = "confirm_unavailable"
	ReasonBalanceNotFound    Reason = "balance_not_found"
	ReasonRelay              Reason = "relay"
	ReasonSessionCapture     Reason = "session_capture"
	ReasonCancelled          Reason = "cancelled"
	ReasonBrowserLaunch      Reason = "browser_launch"
	ReasonPersistence        Reason = "persistence"
	ReasonDeviceNotFound     Reason = "device_not_found"
	ReasonLeaseLost          Reason = "lease_lost"
)

var (
	ErrOTPRequest              = errors.New("otp request rejected")
	ErrOTPTimeout              = errors.New("timed out waiting for otp")
	ErrInvalidOTPFormat        = errors.New("otp must be exactly 6 characters")
	ErrOTPEntry                = errors.New("otp could not be typed")
	ErrConfirmationUnavailable = errors.New("otp confirmation control unavailable")
	ErrBalanceNotFound         = errors.New("balance element not found")
	ErrSessionCapture          = errors.New("session capture failed")
)

// FlowError is the terminal Failed state of a login run
type FlowError struct {
	Phase  models.LoginPhase // Last phase reached before the failure
	Reason Reason
	Err    error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("login failed in phase %s (%s): %v", e.Phase, e.Reason, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Retryable reports whether running the login again could succeed without
// user action. Bad or missing OTPs need a new code from the user.
func (e *FlowError) Retryable() bool {
	switch e.Reason {
	case ReasonInvalidOTPFormat, ReasonOTPTimeout, ReasonCancelled, ReasonDeviceNotFound, ReasonLeaseLost:
		return false
	}
	return true
}

// ReasonOf extracts the failure reason from err, or "" when err is not a FlowError
func ReasonOf(err error) Reason {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Reason
	}
	return ""
}
