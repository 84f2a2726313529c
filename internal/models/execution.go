package models

import "time"

// Execution statuses. pending and running are transient; the rest are
// terminal and immutable once recorded.
const (
	ExecPending   = "pending"
	ExecRunning   = "running"
	ExecSucceeded = "succeeded"
	ExecFailed    = "failed"
	ExecTimedOut  = "timed_out"
)

// ExecTerminal reports whether status is a terminal execution status.
func ExecTerminal(status string) bool {
	switch status {
	case ExecSucceeded, ExecFailed, ExecTimedOut:
		return true
	}
	return false
}

// ExecutionRecord is one attempt to act on a message. Created by the spawner
// at launch, updated to a terminal status at completion, and linked to its
// reply by the reply protocol. Immutable thereafter.
type ExecutionRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	MessageID      uint   `gorm:"index"`
	AgentID        string `gorm:"size:64;index"`
	Status         string `gorm:"size:16;index"`
	PID            int    `gorm:"column:pid"`
	StartedAt      time.Time
	EndedAt        *time.Time
	ReplyMessageID *uint

	// Policy snapshot captured at trigger time.
	PolicyMode            string `gorm:"size:8"`
	PolicyCooldownSeconds int
	PolicyTimeoutSeconds  int
	PolicyMaxRetries      int
}

// WorkerLog captures worker subprocess output for debugging.
type WorkerLog struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExecutionID string `gorm:"size:64;index"`
	AgentID     string `gorm:"size:64;index"`
	Direction   string `gorm:"size:4"`
	Content     string `gorm:"type:text"`
	CreatedAt   time.Time
}
