package models

import "time"

// Ledger entry kinds.
const (
	LedgerDecision = "decision"
	LedgerOutcome  = "outcome"
	LedgerCritical = "critical"
)

// LedgerEntry is one append-only audit record: a dispatch decision (accept,
// reject, or defer, tagged with reason), an execution outcome, or a critical
// escalation. Entries are never updated or deleted except by retention sweeps.
type LedgerEntry struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	AgentID     string    `gorm:"size:64;index:idx_ledger_agent_created"`
	MessageID   uint      `gorm:"index"`
	ExecutionID string    `gorm:"size:64;index"`
	Kind        string    `gorm:"size:8;index"`
	Verdict     string    `gorm:"size:16;index"`
	Reason      string    `gorm:"size:256"`
	CreatedAt   time.Time `gorm:"index:idx_ledger_agent_created"`
}
