// Package login runs the operator portal login state machine for one device:
// request an OTP, wait for the user to relay it, confirm, read the balance and
// capture the authenticated browser session.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/services/balance"
	"github.com/ternarybob/urbix/internal/services/browser"
)

// OTPLength is the number of characters every supported operator sends
const OTPLength = 6

// Request identifies the device and portal for one run
type Request struct {
	AttemptID   string
	DeviceID    string
	OperatorURL string
	SimNumber   string
	Profile     common.OperatorConfig
}

// PhaseFunc observes phase transitions
type PhaseFunc func(phase models.LoginPhase)

// Orchestrator drives one login run per call to Run. It holds no per-run state.
type Orchestrator struct {
	relay            interfaces.OTPRelay
	timings          Timings
	debugScreenshots bool
	logger           arbor.ILogger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(relay interfaces.OTPRelay, timings Timings, debugScreenshots bool, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		relay:            relay,
		timings:          timings,
		debugScreenshots: debugScreenshots,
		logger:           logger,
	}
}

// run is the state of a single execution
type run struct {
	o       *Orchestrator
	driver  interfaces.BrowserDriver
	req     Request
	phase   models.LoginPhase
	onPhase PhaseFunc
	logger  arbor.ILogger
}

// Run executes the flow on driver. The driver is owned by the caller and must
// be closed by it. On failure the error is a *FlowError.
func (o *Orchestrator) Run(ctx context.Context, driver interfaces.BrowserDriver, req Request, onPhase PhaseFunc) (*models.SessionArtifact, error) {
	r := &run{
		o:       o,
		driver:  driver,
		req:     req,
		phase:   models.PhaseInit,
		onPhase: onPhase,
		logger:  o.logger.WithCorrelationId(req.AttemptID),
	}

	r.logger.Info().
		Str("device_id", req.DeviceID).
		Str("operator_url", req.OperatorURL).
		Msg("Login run started")

	artifact, err := r.execute(ctx)
	if err != nil {
		var flowErr *FlowError
		if !errors.As(err, &flowErr) {
			flowErr = &FlowError{Phase: r.phase, Reason: ReasonNavigation, Err: err}
		}
		r.screenshot(ctx, string(flowErr.Phase))
		r.transition(models.PhaseFailed)

		r.logger.Warn().
			Str("device_id", req.DeviceID).
			Str("phase", string(flowErr.Phase)).
			Str("reason", string(flowErr.Reason)).
			Err(flowErr.Err).
			Msg("Login run failed")
		return nil, flowErr
	}

	r.transition(models.PhaseDone)
	r.logger.Info().
		Str("device_id", req.DeviceID).
		Str("balance", artifact.Balance.StringFixed(2)).
		Msg("Login run completed")
	return artifact, nil
}

func (r *run) fail(reason Reason, err error) error {
	return &FlowError{Phase: r.phase, Reason: reason, Err: err}
}

// failCtx turns caller cancellation into a cancelled flow error, otherwise fail
func (r *run) failCtx(ctx context.Context, reason Reason, err error) error {
	if ctx.Err() != nil {
		return &FlowError{Phase: r.phase, Reason: ReasonCancelled, Err: ctx.Err()}
	}
	return r.fail(reason, err)
}

func (r *run) transition(phase models.LoginPhase) {
	r.phase = phase
	r.logger.Debug().Str("device_id", r.req.DeviceID).Str("phase", string(phase)).Msg("Login phase")
	if r.onPhase != nil {
		r.onPhase(phase)
	}
}

// milestone records a phase and takes a debug screenshot when enabled
func (r *run) milestone(ctx context.Context, phase models.LoginPhase) {
	r.transition(phase)
	if r.o.debugScreenshots {
		r.screenshot(ctx, string(phase))
	}
}

// stepShot captures a recoverable timeout as {phase}_{step}
func (r *run) stepShot(ctx context.Context, step string) {
	r.screenshot(ctx, string(r.phase)+"_"+step)
}

// screenshot is best effort and survives cancellation of the run
func (r *run) screenshot(ctx context.Context, label string) {
	path, err := r.driver.Screenshot(context.WithoutCancel(ctx), label)
	if err != nil {
		r.logger.Debug().Err(err).Str("label", label).Msg("Screenshot failed")
		return
	}
	r.logger.Debug().Str("path", path).Msg("Screenshot captured")
}

func (r *run) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return &FlowError{Phase: r.phase, Reason: ReasonCancelled, Err: ctx.Err()}
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &FlowError{Phase: r.phase, Reason: ReasonCancelled, Err: ctx.Err()}
	case <-timer.C:
		return nil
	}
}

func (r *run) execute(ctx context.Context) (*models.SessionArtifact, error) {
	t := r.o.timings
	profile := r.req.Profile

	if err := r.driver.Navigate(ctx, r.req.OperatorURL, t.PageLoad); err != nil {
		return nil, r.failCtx(ctx, ReasonNavigation, err)
	}
	r.milestone(ctx, models.PhaseNavigated)

	if err := r.handleConsent(ctx); err != nil {
		return nil, err
	}
	r.milestone(ctx, models.PhaseConsentHandled)

	// Listen before requesting the code so a fast reply is never lost
	sub, err := r.o.relay.Subscribe(ctx, r.req.DeviceID)
	if err != nil {
		return nil, r.failCtx(ctx, ReasonRelay, err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to release otp subscription")
		}
	}()

	if err := r.requestOTP(ctx); err != nil {
		return nil, err
	}
	r.milestone(ctx, models.PhasePhoneSubmitted)

	if err := r.driver.WaitForVisible(ctx, profile.OTPInput, t.OTPInputWait); err != nil {
		return nil, r.failCtx(ctx, ReasonOTPRequest, fmt.Errorf("otp input did not appear: %w", err))
	}
	r.milestone(ctx, models.PhaseAwaitingOTP)

	otp, err := r.awaitOTP(ctx, sub)
	if err != nil {
		return nil, err
	}

	if err := r.enterOTP(ctx, otp); err != nil {
		return nil, err
	}
	r.milestone(ctx, models.PhaseOTPSubmitted)

	if err := r.confirm(ctx); err != nil {
		return nil, err
	}
	r.milestone(ctx, models.PhaseConfirmed)

	if err := r.pause(ctx, t.AfterConfirm); err != nil {
		return nil, err
	}

	amount, raw, err := r.readBalance(ctx)
	if err != nil {
		return nil, err
	}
	r.milestone(ctx, models.PhaseBalanceExtracted)

	state, err := r.driver.CaptureStorageState(ctx)
	if err != nil {
		return nil, r.failCtx(ctx, ReasonSessionCapture, fmt.Errorf("%w: %v", ErrSessionCapture, err))
	}
	r.transition(models.PhaseSessionCaptured)

	return &models.SessionArtifact{State: *state, Balance: amount, RawText: raw}, nil
}

// handleConsent dismisses the cookie banner when one appears
func (r *run) handleConsent(ctx context.Context) error {
	t := r.o.timings
	if r.req.Profile.ConsentButton == "" {
		return nil
	}
	if err := r.pause(ctx, t.ConsentDelay); err != nil {
		return err
	}

	err := r.driver.WaitAndClick(ctx, r.req.Profile.ConsentButton, t.ConsentClick)
	switch {
	case err == nil:
		r.logger.Debug().Msg("Consent dialog accepted")
	case ctx.Err() != nil:
		return r.failCtx(ctx, ReasonNavigation, err)
	case errors.Is(err, browser.ErrElementNotFound):
		r.logger.Debug().Msg("No consent dialog")
	default:
		r.logger.Debug().Err(err).Msg("Consent click failed, continuing")
	}
	return nil
}

// requestOTP enters the phone number and asks the portal to send a code
func (r *run) requestOTP(ctx context.Context) error {
	t := r.o.timings
	profile := r.req.Profile

	if profile.LoginTrigger != "" {
		if err := r.driver.WaitAndClick(ctx, profile.LoginTrigger, t.Element); err != nil {
			if ctx.Err() != nil {
				return r.failCtx(ctx, ReasonOTPRequest, err)
			}
			// Some portals land directly on the phone form
			r.logger.Debug().Err(err).Msg("Login trigger not clicked, looking for phone input")
			r.stepShot(ctx, "login_trigger")
		}
	}

	if err := r.driver.WaitAndClick(ctx, profile.PhoneInput, t.Element); err != nil {
		return r.failCtx(ctx, ReasonOTPRequest, fmt.Errorf("phone input: %w", err))
	}
	if err := r.driver.WaitAndFill(ctx, profile.PhoneInput, "", t.Element); err != nil {
		return r.failCtx(ctx, ReasonOTPRequest, fmt.Errorf("phone input: %w", err))
	}
	if err := r.driver.TypeKeys(ctx, r.req.SimNumber, t.PhoneKeyDelay); err != nil {
		return r.failCtx(ctx, ReasonOTPRequest, fmt.Errorf("typing phone number: %w", err))
	}
	if err := r.pause(ctx, t.PhoneSettle); err != nil {
		return err
	}

	if err := r.driver.WaitAndClick(ctx, profile.SendOTPButton, t.Element); err != nil {
		return r.failCtx(ctx, ReasonOTPRequest, fmt.Errorf("send otp button: %w", err))
	}
	if err := r.pause(ctx, t.AfterSendOTP); err != nil {
		return err
	}

	if profile.OTPRequestError != "" {
		if text, err := r.driver.ExtractText(ctx, profile.OTPRequestError, t.ErrorCheck); err == nil && text != "" {
			return r.fail(ReasonOTPRequest, fmt.Errorf("%w: %s", ErrOTPRequest, text))
		}
	}
	return nil
}

// awaitOTP blocks until a code arrives, the wait expires or ctx is cancelled
func (r *run) awaitOTP(ctx context.Context, sub interfaces.OTPSubscription) (string, error) {
	timer := time.NewTimer(r.o.timings.OTPWait)
	defer timer.Stop()

	r.logger.Info().
		Str("device_id", r.req.DeviceID).
		Dur("timeout", r.o.timings.OTPWait).
		Msg("Waiting for OTP")

	select {
	case <-ctx.Done():
		return "", &FlowError{Phase: r.phase, Reason: ReasonCancelled, Err: ctx.Err()}
	case <-timer.C:
		return "", r.fail(ReasonOTPTimeout, ErrOTPTimeout)
	case value, ok := <-sub.Messages():
		if !ok {
			return "", r.fail(ReasonRelay, errors.New("otp subscription closed"))
		}
		otp := strings.TrimSpace(value)
		if utf8.RuneCountInString(otp) != OTPLength {
			return "", r.fail(ReasonInvalidOTPFormat, fmt.Errorf("%w: got %d", ErrInvalidOTPFormat, utf8.RuneCountInString(otp)))
		}
		r.logger.Info().Str("device_id", r.req.DeviceID).Msg("OTP received")
		return otp, nil
	}
}

// clearBoxesScript empties every OTP box; the selector is injected as a JSON string
const clearBoxesScript = `(() => { document.querySelectorAll(%q).forEach(el => { el.value = ''; }); return true; })()`

func (r *run) enterOTP(ctx context.Context, otp string) error {
	t := r.o.timings
	profile := r.req.Profile

	if profile.OTPBoxes != "" && !browser.IsXPath(profile.OTPBoxes) {
		var cleared bool
		if err := r.driver.Evaluate(ctx, fmt.Sprintf(clearBoxesScript, profile.OTPBoxes), &cleared); err != nil {
			r.logger.Debug().Err(err).Msg("Failed to clear otp boxes, continuing")
		}
	}

	if err := r.driver.WaitAndClick(ctx, profile.OTPInput, t.Element); err != nil {
		return r.failCtx(ctx, ReasonOTPEntry, fmt.Errorf("%w: otp input: %v", ErrOTPEntry, err))
	}
	if err := r.pause(ctx, t.OTPFocusSettle); err != nil {
		return err
	}
	if err := r.driver.TypeKeys(ctx, otp, t.OTPKeyDelay); err != nil {
		return r.failCtx(ctx, ReasonOTPEntry, fmt.Errorf("%w: %v", ErrOTPEntry, err))
	}
	return r.pause(ctx, t.OTPSettle)
}

// confirmScript clicks the first enabled button containing the given text
const confirmScript = `(() => {
	const wanted = %q.toLowerCase();
	const button = Array.from(document.querySelectorAll('button'))
		.find(b => !b.disabled && b.textContent.toLowerCase().includes(wanted));
	if (!button) { return false; }
	button.click();
	return true;
})()`

func (r *run) confirm(ctx context.Context) error {
	t := r.o.timings
	profile := r.req.Profile

	err := r.driver.WaitForEnabled(ctx, profile.ConfirmButton, t.ConfirmWait)
	if err == nil {
		err = r.driver.WaitAndClick(ctx, profile.ConfirmButton, t.Element)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return r.failCtx(ctx, ReasonConfirmUnavailable, err)
	}

	r.logger.Debug().Err(err).Msg("Confirm control not clickable, trying scripted click")
	r.stepShot(ctx, "confirm")

	text := profile.ConfirmText
	if text == "" {
		text = "Confirm"
	}
	var clicked bool
	if evalErr := r.driver.Evaluate(ctx, fmt.Sprintf(confirmScript, text), &clicked); evalErr != nil || !clicked {
		return r.failCtx(ctx, ReasonConfirmUnavailable, fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err))
	}
	return nil
}

// readBalance waits for the dashboard, then tries the primary and the fallback
// locator. Text without a numeric token is a zero balance, not a failure.
func (r *run) readBalance(ctx context.Context) (amount decimal.Decimal, raw string, err error) {
	t := r.o.timings
	profile := r.req.Profile

	if profile.DashboardMarker != "" {
		if err := r.driver.WaitForVisible(ctx, profile.DashboardMarker, t.BalancePrimary); err != nil {
			if ctx.Err() != nil {
				return amount, "", r.failCtx(ctx, ReasonBalanceNotFound, err)
			}
			// The widget is sometimes rendered without the marker text
			r.logger.Debug().Err(err).Msg("Dashboard marker not visible, trying balance locators")
			r.stepShot(ctx, "dashboard")
		}
	}

	raw, err = r.driver.ExtractText(ctx, profile.BalancePrimary, t.BalancePrimary)
	if err != nil {
		if ctx.Err() != nil {
			return amount, "", r.failCtx(ctx, ReasonBalanceNotFound, err)
		}
		r.logger.Debug().Err(err).Msg("Primary balance locator failed, trying fallback")
		r.stepShot(ctx, "balance_primary")

		if profile.BalanceFallback == "" {
			return amount, "", r.fail(ReasonBalanceNotFound, fmt.Errorf("%w: %v", ErrBalanceNotFound, err))
		}
		raw, err = r.driver.ExtractText(ctx, profile.BalanceFallback, t.BalanceFallback)
		if err != nil {
			return amount, "", r.failCtx(ctx, ReasonBalanceNotFound, fmt.Errorf("%w: %v", ErrBalanceNotFound, err))
		}
	}

	value, found := balance.Extract(raw)
	if !found {
		r.logger.Warn().Str("raw", raw).Msg("Balance text has no numeric value, recording zero")
	} else {
		r.logger.Info().Str("balance", value.StringFixed(2)).Msg("Balance extracted")
	}
	return value, raw, nil
}
