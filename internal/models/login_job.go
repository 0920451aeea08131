package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoMessage is returned when the queue has no visible message
var ErrNoMessage = errors.New("no messages in queue")

// JobTypeLogin routes queue messages to the login runner
const JobTypeLogin = "device_login"

// QueueMessage is the structure stored in the queue.
// Keep it simple - just enough to route the job.
type QueueMessage struct {
	JobID   string          `json:"job_id"`  // Attempt ID
	Type    string          `json:"type"`    // Job type for handler routing
	Payload json.RawMessage `json:"payload"` // Job-specific data (passed through)
}

// LoginJob is the payload of a JobTypeLogin message
type LoginJob struct {
	AttemptID   string `json:"attempt_id"`
	DeviceID    string `json:"device_id"`
	OperatorURL string `json:"operator_url"`
	SimNumber   string `json:"sim_number"`
	Operator    string `json:"operator"`
	Attempt     int    `json:"attempt"` // 1-based run number of this delivery
}

// NewLoginMessage wraps a login job into a queue message
func NewLoginMessage(job LoginJob) (QueueMessage, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return QueueMessage{}, fmt.Errorf("failed to marshal login job: %w", err)
	}
	return QueueMessage{JobID: job.AttemptID, Type: JobTypeLogin, Payload: payload}, nil
}

// DecodeLoginJob extracts the login job from a queue message
func DecodeLoginJob(msg QueueMessage) (*LoginJob, error) {
	if msg.Type != JobTypeLogin {
		return nil, fmt.Errorf("unexpected job type %q", msg.Type)
	}
	var job LoginJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return nil, fmt.Errorf("failed to decode login job: %w", err)
	}
	return &job, nil
}
