package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/services/login"
)

// HandleLoginJob is the queue.JobHandler for JobTypeLogin. It returns an error
// only for the worker's log; retries are scheduled here by re-enqueueing.
func (r *Runner) HandleLoginJob(ctx context.Context, msg *models.QueueMessage) error {
	job, err := models.DecodeLoginJob(*msg)
	if err != nil {
		return err
	}
	logger := r.logger.WithCorrelationId(job.AttemptID)

	attempt, err := r.deps.Attempts.GetAttempt(ctx, job.AttemptID)
	if err != nil {
		// Attempt records outlive their jobs, so this is a pruned or foreign message
		logger.Warn().Err(err).Str("device_id", job.DeviceID).Msg("Dropping login job without attempt record")
		return nil
	}
	if attempt.Status.IsTerminal() {
		logger.Debug().Str("status", string(attempt.Status)).Msg("Attempt already finished, skipping redelivery")
		return nil
	}

	// Re-acquiring with the same holder refreshes the TTL
	if err := r.deps.Leases.Acquire(ctx, job.DeviceID, job.AttemptID, r.policy.LeaseTTL); err != nil {
		flowErr := &login.FlowError{Phase: models.PhaseInit, Reason: login.ReasonLeaseLost, Err: err}
		r.finishFailed(ctx, attempt, flowErr, logger)
		return flowErr
	}

	attempt.Status = models.AttemptConnecting
	attempt.Attempt = job.Attempt
	attempt.Phase = models.PhaseInit
	attempt.Reason, attempt.Message = "", ""
	r.saveAttempt(ctx, attempt, logger)

	artifact, runErr := r.runOnce(ctx, job, attempt, logger)

	// Shutdown: leave the attempt and lease for the redelivered message
	if runErr != nil && ctx.Err() != nil {
		logger.Info().Str("device_id", job.DeviceID).Msg("Login interrupted by shutdown")
		return ctx.Err()
	}

	if runErr == nil {
		r.finishSucceeded(ctx, attempt, artifact, logger)
		return nil
	}

	var flowErr *login.FlowError
	if !errors.As(runErr, &flowErr) {
		flowErr = &login.FlowError{Phase: attempt.Phase, Reason: login.ReasonPersistence, Err: runErr}
	}

	if flowErr.Retryable() {
		if delay, ok := r.policy.RetryDelay(job.Attempt); ok {
			if err := r.scheduleRetry(ctx, job, attempt, flowErr, delay, logger); err == nil {
				return flowErr
			}
		}
	}

	r.finishFailed(ctx, attempt, flowErr, logger)
	return flowErr
}

// runOnce launches a browser, drives the portal and commits the session. The
// driver is always closed before returning.
func (r *Runner) runOnce(ctx context.Context, job *models.LoginJob, attempt *models.LoginAttempt, logger arbor.ILogger) (*models.SessionArtifact, error) {
	runCtx := ctx
	if r.policy.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.policy.TaskTimeout)
		defer cancel()
	}

	profile, ok := r.deps.Operators[job.Operator]
	if !ok {
		return nil, &login.FlowError{Phase: models.PhaseInit, Reason: login.ReasonDeviceNotFound, Err: fmt.Errorf("%w: %s", interfaces.ErrUnknownOperator, job.Operator)}
	}

	driver, err := r.deps.Browsers.NewDriver(runCtx, job.DeviceID)
	if err != nil {
		return nil, &login.FlowError{Phase: models.PhaseInit, Reason: login.ReasonBrowserLaunch, Err: err}
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close browser")
		}
	}()

	req := login.Request{
		AttemptID:   job.AttemptID,
		DeviceID:    job.DeviceID,
		OperatorURL: job.OperatorURL,
		SimNumber:   job.SimNumber,
		Profile:     profile,
	}
	onPhase := func(phase models.LoginPhase) {
		if phase != models.PhaseFailed {
			attempt.Phase = phase
			r.saveAttempt(ctx, attempt, logger)
		}
		r.publish(ctx, interfaces.EventLoginProgress, models.LoginProgress{
			AttemptID: job.AttemptID,
			DeviceID:  job.DeviceID,
			Phase:     phase,
			Attempt:   job.Attempt,
			Timestamp: time.Now(),
		}, logger)
	}

	artifact, err := r.deps.Orchestrator.Run(runCtx, driver, req, onPhase)
	if err != nil {
		return nil, err
	}

	if err := r.deps.Sessions.Commit(runCtx, job.DeviceID, artifact); err != nil {
		reason := login.ReasonPersistence
		if errors.Is(err, interfaces.ErrDeviceNotFound) {
			reason = login.ReasonDeviceNotFound
		}
		return nil, &login.FlowError{Phase: models.PhaseSessionCaptured, Reason: reason, Err: err}
	}
	return artifact, nil
}

func (r *Runner) scheduleRetry(ctx context.Context, job *models.LoginJob, attempt *models.LoginAttempt, flowErr *login.FlowError, delay time.Duration, logger arbor.ILogger) error {
	next := *job
	next.Attempt++
	msg, err := models.NewLoginMessage(next)
	if err == nil {
		err = r.deps.Queue.EnqueueWithDelay(ctx, msg, delay)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to schedule login retry")
		return err
	}

	attempt.Status = models.AttemptRetrying
	attempt.Reason = string(flowErr.Reason)
	attempt.Message = flowErr.Error()
	r.saveAttempt(ctx, attempt, logger)

	logger.Warn().
		Str("device_id", job.DeviceID).
		Str("reason", string(flowErr.Reason)).
		Int("attempt", job.Attempt).
		Dur("retry_in", delay).
		Msg("Login failed, retry scheduled")
	return nil
}

func (r *Runner) finishSucceeded(ctx context.Context, attempt *models.LoginAttempt, artifact *models.SessionArtifact, logger arbor.ILogger) {
	balance := artifact.Balance.Round(2)
	now := time.Now()
	attempt.Status = models.AttemptSucceeded
	attempt.Phase = models.PhaseDone
	attempt.Balance = &balance
	attempt.FinishedAt = &now
	r.saveAttempt(ctx, attempt, logger)
	r.releaseLease(attempt.DeviceID, attempt.ID)

	r.publish(ctx, interfaces.EventLoginResult, models.LoginResult{
		AttemptID: attempt.ID,
		DeviceID:  attempt.DeviceID,
		Status:    models.ResultSuccess,
		Balance:   &balance,
		Message:   "Login successful",
	}, logger)
}

func (r *Runner) finishFailed(ctx context.Context, attempt *models.LoginAttempt, flowErr *login.FlowError, logger arbor.ILogger) {
	now := time.Now()
	attempt.Status = models.AttemptFailed
	attempt.Phase = models.PhaseFailed
	attempt.Reason = string(flowErr.Reason)
	attempt.Message = flowErr.Error()
	attempt.FinishedAt = &now
	r.saveAttempt(ctx, attempt, logger)
	r.releaseLease(attempt.DeviceID, attempt.ID)

	r.publish(ctx, interfaces.EventLoginResult, models.LoginResult{
		AttemptID: attempt.ID,
		DeviceID:  attempt.DeviceID,
		Status:    models.ResultFailed,
		Reason:    string(flowErr.Reason),
		Message:   failureMessage(flowErr),
	}, logger)
}

// saveAttempt is best effort; bookkeeping failures must not change the outcome
func (r *Runner) saveAttempt(ctx context.Context, attempt *models.LoginAttempt, logger arbor.ILogger) {
	attempt.UpdatedAt = time.Now()
	if err := r.deps.Attempts.SaveAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		logger.Warn().Err(err).Str("status", string(attempt.Status)).Msg("Failed to save attempt")
	}
}

func (r *Runner) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}, logger arbor.ILogger) {
	event := interfaces.Event{Type: eventType, Payload: payload}
	if err := r.deps.Events.PublishSync(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish login event")
	}
}

// failureMessage is the text shown to the person holding the phone
func failureMessage(flowErr *login.FlowError) string {
	switch flowErr.Reason {
	case login.ReasonOTPTimeout:
		return "No OTP received in time"
	case login.ReasonInvalidOTPFormat:
		return "OTP must be exactly 6 digits"
	case login.ReasonOTPRequest:
		return "Operator rejected the OTP request"
	case login.ReasonOTPEntry:
		return "Could not enter the OTP"
	case login.ReasonConfirmUnavailable:
		return "Could not confirm the OTP"
	case login.ReasonBalanceNotFound:
		return "Logged in but the balance could not be read"
	case login.ReasonDeviceNotFound:
		return "Device not found"
	case login.ReasonCancelled:
		return "Login cancelled"
	}
	return "Login failed"
}
