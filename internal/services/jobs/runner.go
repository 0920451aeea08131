// Package jobs accepts login requests, queues them and runs each one on a
// worker: browser, orchestrator, session commit, retry and notification.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/services/login"
)

// Dependencies are the collaborators of a Runner
type Dependencies struct {
	Devices      interfaces.DeviceStorage
	Attempts     interfaces.AttemptStorage
	Leases       interfaces.LeaseStorage
	Queue        interfaces.QueueManager
	Relay        interfaces.OTPRelay
	Browsers     interfaces.BrowserFactory
	Orchestrator *login.Orchestrator
	Sessions     interfaces.SessionWriter
	Events       interfaces.EventService
	Operators    map[string]common.OperatorConfig
}

// Runner implements interfaces.LoginService and handles JobTypeLogin messages
type Runner struct {
	deps   Dependencies
	policy Policy
	logger arbor.ILogger
}

// NewRunner validates dependencies and creates a runner
func NewRunner(deps Dependencies, policy Policy, logger arbor.ILogger) (*Runner, error) {
	switch {
	case deps.Devices == nil:
		return nil, fmt.Errorf("device storage cannot be nil")
	case deps.Attempts == nil:
		return nil, fmt.Errorf("attempt storage cannot be nil")
	case deps.Leases == nil:
		return nil, fmt.Errorf("lease storage cannot be nil")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue cannot be nil")
	case deps.Relay == nil:
		return nil, fmt.Errorf("otp relay cannot be nil")
	case deps.Browsers == nil:
		return nil, fmt.Errorf("browser factory cannot be nil")
	case deps.Orchestrator == nil:
		return nil, fmt.Errorf("orchestrator cannot be nil")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session writer cannot be nil")
	case deps.Events == nil:
		return nil, fmt.Errorf("event service cannot be nil")
	}
	if deps.Operators == nil {
		deps.Operators = common.DefaultOperators()
	}

	return &Runner{deps: deps, policy: policy, logger: logger}, nil
}

// StartLogin queues a login for the device using its operator's portal and SIM number
func (r *Runner) StartLogin(ctx context.Context, deviceID string) (string, error) {
	return r.StartLoginWith(ctx, deviceID, "", "")
}

// StartLoginWith queues a login with an explicit portal URL and phone number.
// Empty values fall back to the operator profile and the stored SIM number.
func (r *Runner) StartLoginWith(ctx context.Context, deviceID, operatorURL, simNumber string) (string, error) {
	device, err := r.deps.Devices.GetDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}

	profile, ok := r.deps.Operators[string(device.Operator)]
	if !ok {
		return "", fmt.Errorf("%w: %s", interfaces.ErrUnknownOperator, device.Operator)
	}
	if operatorURL == "" {
		operatorURL = profile.LoginURL
	}
	if operatorURL == "" {
		return "", fmt.Errorf("%w: %s has no login url", interfaces.ErrUnknownOperator, device.Operator)
	}
	if simNumber == "" {
		simNumber = device.SimNumber
	}

	attemptID := common.NewAttemptID()
	if err := r.deps.Leases.Acquire(ctx, deviceID, attemptID, r.policy.LeaseTTL); err != nil {
		if errors.Is(err, interfaces.ErrLeaseHeld) {
			return "", fmt.Errorf("%w: %s", interfaces.ErrLoginInProgress, deviceID)
		}
		return "", err
	}

	now := time.Now()
	attempt := &models.LoginAttempt{
		ID:          attemptID,
		DeviceID:    deviceID,
		OperatorURL: operatorURL,
		PhoneNumber: simNumber,
		Phase:       models.PhaseInit,
		Status:      models.AttemptQueued,
		Attempt:     1,
		MaxAttempts: r.policy.MaxRetries + 1,
		StartedAt:   now,
		UpdatedAt:   now,
	}

	msg, err := models.NewLoginMessage(models.LoginJob{
		AttemptID:   attemptID,
		DeviceID:    deviceID,
		OperatorURL: operatorURL,
		SimNumber:   simNumber,
		Operator:    string(device.Operator),
		Attempt:     1,
	})
	if err == nil {
		err = r.deps.Attempts.SaveAttempt(ctx, attempt)
	}
	if err == nil {
		err = r.deps.Queue.Enqueue(ctx, msg)
	}
	if err != nil {
		r.releaseLease(deviceID, attemptID)
		return "", fmt.Errorf("failed to queue login: %w", err)
	}

	r.logger.WithCorrelationId(attemptID).Info().
		Str("device_id", deviceID).
		Str("operator", string(device.Operator)).
		Msg("Login queued")

	return attemptID, nil
}

// SubmitOTP relays a code to whichever run is waiting for this device
func (r *Runner) SubmitOTP(ctx context.Context, deviceID, otp string) error {
	otp = strings.TrimSpace(otp)
	if otp == "" {
		return fmt.Errorf("%w: empty code", login.ErrInvalidOTPFormat)
	}
	if err := r.deps.Relay.Publish(ctx, deviceID, otp); err != nil {
		return fmt.Errorf("failed to relay otp: %w", err)
	}
	r.logger.Debug().Str("device_id", deviceID).Msg("OTP relayed")
	return nil
}

// GetAttempt returns the task status of a login attempt
func (r *Runner) GetAttempt(ctx context.Context, attemptID string) (*models.LoginAttempt, error) {
	return r.deps.Attempts.GetAttempt(ctx, attemptID)
}

func (r *Runner) releaseLease(deviceID, holder string) {
	if err := r.deps.Leases.Release(context.Background(), deviceID, holder); err != nil {
		r.logger.Warn().
			Err(err).
			Str("device_id", deviceID).
			Str("attempt_id", holder).
			Msg("Failed to release device lease")
	}
}
