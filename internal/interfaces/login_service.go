package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/urbix/internal/models"
)

// ErrLoginInProgress is returned when a device already has a running login attempt
var ErrLoginInProgress = errors.New("login already in progress for device")

// ErrUnknownOperator is returned when a device's operator has no login profile
var ErrUnknownOperator = errors.New("no login profile for operator")

// LoginService is the entry point used by the HTTP and WebSocket layers
type LoginService interface {
	StartLogin(ctx context.Context, deviceID string) (string, error)
	StartLoginWith(ctx context.Context, deviceID, operatorURL, simNumber string) (string, error)
	SubmitOTP(ctx context.Context, deviceID, otp string) error
	GetAttempt(ctx context.Context, attemptID string) (*models.LoginAttempt, error)
}

// SessionWriter commits and clears captured sessions on device rows
type SessionWriter interface {
	Commit(ctx context.Context, deviceID string, artifact *models.SessionArtifact) error
	Clear(ctx context.Context, deviceID string, status models.DeviceStatus) error
}
