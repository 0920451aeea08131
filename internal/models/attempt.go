package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoginPhase is a state of the login flow state machine
type LoginPhase string

const (
	PhaseInit             LoginPhase = "init"
	PhaseNavigated        LoginPhase = "navigated"
	PhaseConsentHandled   LoginPhase = "consent_handled"
	PhasePhoneSubmitted   LoginPhase = "phone_submitted"
	PhaseAwaitingOTP      LoginPhase = "awaiting_otp"
	PhaseOTPSubmitted     LoginPhase = "otp_submitted"
	PhaseConfirmed        LoginPhase = "confirmed"
	PhaseBalanceExtracted LoginPhase = "balance_extracted"
	PhaseSessionCaptured  LoginPhase = "session_captured"
	PhaseDone             LoginPhase = "done"
	PhaseFailed           LoginPhase = "failed"
)

// AttemptStatus is the job-level state of a login attempt. "connecting" is the
// transient state that replaces the free-text device statuses of old.
type AttemptStatus string

const (
	AttemptQueued     AttemptStatus = "queued"
	AttemptConnecting AttemptStatus = "connecting"
	AttemptRetrying   AttemptStatus = "retrying"
	AttemptSucceeded  AttemptStatus = "succeeded"
	AttemptFailed     AttemptStatus = "failed"
)

// IsTerminal reports whether no more work will happen for the attempt
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptSucceeded || s == AttemptFailed
}

// LoginAttempt tracks one startLogin request across its retries
type LoginAttempt struct {
	ID          string           `json:"id" badgerhold:"key"`
	DeviceID    string           `json:"device_id" badgerhold:"index"`
	OperatorURL string           `json:"operator_url"`
	PhoneNumber string           `json:"phone_number"`
	Phase       LoginPhase       `json:"phase"`
	Status      AttemptStatus    `json:"status"`
	Attempt     int              `json:"attempt"` // 1-based run number
	MaxAttempts int              `json:"max_attempts"`
	Reason      string           `json:"reason,omitempty"` // Failure reason code of the last run
	Message     string           `json:"message,omitempty"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}

// LoginResult statuses
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// LoginResult is the terminal notification sent to the device's live clients
type LoginResult struct {
	AttemptID string           `json:"attempt_id"`
	DeviceID  string           `json:"device_id"`
	Status    string           `json:"status"` // "success" or "failed"
	Balance   *decimal.Decimal `json:"balance"`
	Reason    string           `json:"reason,omitempty"`
	Message   string           `json:"message"`
}

// LoginProgress is a phase transition notification
type LoginProgress struct {
	AttemptID string     `json:"attempt_id"`
	DeviceID  string     `json:"device_id"`
	Phase     LoginPhase `json:"phase"`
	Attempt   int        `json:"attempt"`
	Timestamp time.Time  `json:"timestamp"`
}
