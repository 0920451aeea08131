package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
	"golang.org/x/sync/errgroup"
)

// JobHandler is a function that handles a specific job type
type JobHandler func(ctx context.Context, msg *Message) error

// WorkerPool manages a pool of workers that process queue messages.
// Each worker handles one message at a time.
type WorkerPool struct {
	queue    interfaces.QueueManager
	config   Config
	handlers map[string]JobHandler
	logger   arbor.ILogger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue interfaces.QueueManager, config Config, logger arbor.ILogger) *WorkerPool {
	return &WorkerPool{
		queue:    queue,
		config:   config,
		handlers: make(map[string]JobHandler),
		logger:   logger,
	}
}

// RegisterHandler registers a job type handler. Call before Start.
func (wp *WorkerPool) RegisterHandler(jobType string, handler JobHandler) {
	wp.handlers[jobType] = handler
	wp.logger.Debug().
		Str("job_type", jobType).
		Msg("Job handler registered")
}

// Start launches the workers. They run until Stop or until ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.group != nil {
		return errors.New("worker pool already started")
	}

	poolCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(poolCtx)
	wp.cancel = cancel
	wp.group = group

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Dur("poll_interval", wp.config.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		workerID := i
		group.Go(func() error {
			wp.worker(groupCtx, workerID)
			return nil
		})
	}

	return nil
}

// Stop cancels the workers and waits for in-flight jobs to return
func (wp *WorkerPool) Stop() error {
	wp.mu.Lock()
	cancel, group := wp.cancel, wp.group
	wp.cancel, wp.group = nil, nil
	wp.mu.Unlock()

	if group == nil {
		return nil
	}

	wp.logger.Info().Msg("Stopping worker pool")
	cancel()
	return group.Wait()
}

// worker is the main worker loop that processes messages
func (wp *WorkerPool) worker(ctx context.Context, workerID int) {
	defer common.RecoverPanic(wp.logger, fmt.Sprintf("queue-worker-%d", workerID))

	// Spread workers evenly across the poll interval
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(staggerDelay):
		}
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			// Drain everything visible before sleeping again
			for ctx.Err() == nil {
				err := wp.processMessage(ctx, workerID)
				if errors.Is(err, ErrNoMessage) || errors.Is(err, context.Canceled) {
					break
				}
				if err != nil {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing message")
				}
			}
		}
	}
}

// processMessage receives and processes a single message
func (wp *WorkerPool) processMessage(ctx context.Context, workerID int) error {
	msg, ack, err := wp.queue.Receive(ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessage) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("failed to receive message: %w", err)
	}

	handler, exists := wp.handlers[msg.Type]
	if !exists {
		wp.logger.Error().
			Str("type", msg.Type).
			Str("job_id", msg.JobID).
			Msg("No handler registered for job type")
		if delErr := ack(); delErr != nil {
			wp.logger.Warn().Err(delErr).Msg("Failed to delete unknown job type message")
		}
		return fmt.Errorf("no handler for job type: %s", msg.Type)
	}

	wp.logger.Debug().
		Str("job_id", msg.JobID).
		Str("type", msg.Type).
		Int("worker_id", workerID).
		Msg("Processing message")

	startTime := time.Now()
	handlerErr := wp.runHandler(ctx, handler, msg)
	duration := time.Since(startTime)

	// Shutdown mid-job: leave the message for redelivery after the visibility timeout
	if ctx.Err() != nil {
		wp.logger.Info().
			Str("job_id", msg.JobID).
			Dur("duration", duration).
			Msg("Job interrupted by shutdown, left for redelivery")
		return ctx.Err()
	}

	if err := ack(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Failed to delete message after processing")
		return err
	}

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", msg.JobID).
			Str("type", msg.Type).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")
		return handlerErr
	}

	wp.logger.Info().
		Str("job_id", msg.JobID).
		Str("type", msg.Type).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed successfully")
	return nil
}

// runHandler converts a handler panic into an error so the worker survives
func (wp *WorkerPool) runHandler(ctx context.Context, handler JobHandler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}
