// Package policy manages per-agent automation policies.
package policy

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Get loads the policy for an agent.
func Get(db *gorm.DB, agentID string) (*models.AutomationPolicy, error) {
	if agentID == "" {
		return nil, fmt.Errorf("policy: agentID is required")
	}
	var p models.AutomationPolicy
	if err := db.Where("agent_id = ?", agentID).First(&p).Error; err != nil {
		return nil, fmt.Errorf("policy: get %s: %w", agentID, err)
	}
	return &p, nil
}

// All returns every registered agent's policy, ordered by agent ID.
func All(db *gorm.DB) ([]models.AutomationPolicy, error) {
	var policies []models.AutomationPolicy
	if err := db.Order("agent_id ASC").Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("policy: list: %w", err)
	}
	return policies, nil
}

// SetMode changes an agent's automation mode.
func SetMode(db *gorm.DB, agentID, mode string) error {
	switch mode {
	case models.ModeAuto, models.ModeNotify, models.ModeManual:
	default:
		return fmt.Errorf("policy: invalid mode %q", mode)
	}
	return set(db, agentID, map[string]interface{}{"mode": mode})
}

// SetEnabled enables or disables dispatch for an agent. Idempotent.
func SetEnabled(db *gorm.DB, agentID string, enabled bool) error {
	return set(db, agentID, map[string]interface{}{"enabled": enabled})
}

// SetMuted mutes or unmutes an agent. A muted agent keeps being watched and
// logged but is never dispatched. Idempotent.
func SetMuted(db *gorm.DB, agentID string, muted bool) error {
	return set(db, agentID, map[string]interface{}{"muted": muted})
}

// UpdateOpts holds optional administrative policy field updates. Nil fields
// are left unchanged.
type UpdateOpts struct {
	CooldownSeconds *int
	MaxPerWindow    *int
	WindowSeconds   *int
	TimeoutSeconds  *int
	MaxRetries      *int
	Priority        *int
}

// Update applies administrative field updates to an agent's policy.
func Update(db *gorm.DB, agentID string, opts UpdateOpts) error {
	updates := map[string]interface{}{}
	if opts.CooldownSeconds != nil {
		updates["cooldown_seconds"] = *opts.CooldownSeconds
	}
	if opts.MaxPerWindow != nil {
		updates["max_per_window"] = *opts.MaxPerWindow
	}
	if opts.WindowSeconds != nil {
		updates["window_seconds"] = *opts.WindowSeconds
	}
	if opts.TimeoutSeconds != nil {
		updates["timeout_seconds"] = *opts.TimeoutSeconds
	}
	if opts.MaxRetries != nil {
		updates["max_retries"] = *opts.MaxRetries
	}
	if opts.Priority != nil {
		updates["priority"] = *opts.Priority
	}
	if len(updates) == 0 {
		return nil
	}
	return set(db, agentID, updates)
}

// set applies updates to one agent's policy row.
func set(db *gorm.DB, agentID string, updates map[string]interface{}) error {
	if agentID == "" {
		return fmt.Errorf("policy: agentID is required")
	}
	result := db.Model(&models.AutomationPolicy{}).
		Where("agent_id = ?", agentID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("policy: update %s: %w", agentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("policy: agent not found: %s", agentID)
	}
	return nil
}
