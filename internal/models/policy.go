package models

import "time"

// Automation modes.
const (
	ModeAuto   = "auto"
	ModeNotify = "notify"
	ModeManual = "manual"
)

// AutomationPolicy is the per-agent configuration consulted by the dispatch
// decision engine. One row per registered agent; administrative writes only.
type AutomationPolicy struct {
	AgentID         string `gorm:"primaryKey;size:64"`
	Workspace       string `gorm:"type:text"`
	Enabled         bool   `gorm:"default:true"`
	Muted           bool   `gorm:"default:false"`
	Mode            string `gorm:"size:8;default:manual"`
	CooldownSeconds int
	MaxPerWindow    int
	WindowSeconds   int
	TimeoutSeconds  int
	MaxRetries      int
	Priority        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PolicySnapshot is the by-value copy of a policy captured at trigger time.
// Execution handling reads the snapshot, never the live row, so concurrent
// policy edits cannot race an in-flight execution.
type PolicySnapshot struct {
	Mode            string
	CooldownSeconds int
	TimeoutSeconds  int
	MaxRetries      int
}

// Snapshot copies the fields execution handling depends on.
func (p *AutomationPolicy) Snapshot() PolicySnapshot {
	return PolicySnapshot{
		Mode:            p.Mode,
		CooldownSeconds: p.CooldownSeconds,
		TimeoutSeconds:  p.TimeoutSeconds,
		MaxRetries:      p.MaxRetries,
	}
}
