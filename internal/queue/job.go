package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job states.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateDelayed   = "delayed"
)

// ValidStates returns the job states accepted by the control surface.
func ValidStates() []string {
	return []string{StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed}
}

// IsValidState checks whether state names a known job state.
func IsValidState(state string) bool {
	for _, s := range ValidStates() {
		if s == state {
			return true
		}
	}
	return false
}

// Progress is the step/percent pair a running job reports.
type Progress struct {
	Step    string `json:"step"`
	Percent int    `json:"percent"`
}

// Job is one unit of work in a queue, persisted as a Redis hash so it
// survives process restarts.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	State       string          `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Progress    Progress        `json:"progress"`
	Error       string          `json:"error,omitempty"`
	Stacktrace  string          `json:"stacktrace,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	DelayUntil  *time.Time      `json:"delay_until,omitempty"`
}

// UnmarshalPayload decodes the job payload into target.
func (j *Job) UnmarshalPayload(target any) error {
	if err := json.Unmarshal(j.Payload, target); err != nil {
		return fmt.Errorf("unmarshal payload of job %s: %w", j.ID, err)
	}
	return nil
}

// newJobID builds a globally unique, collision-resistant job id from the
// enqueue time, a random suffix, and a salient payload field.
func newJobID(now time.Time, keyField string) string {
	id := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
	if keyField != "" {
		id += "-" + keyField
	}
	return id
}
