package db

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Message{},
		&models.AutomationPolicy{},
		&models.DedupEntry{},
		&models.ExecutionRecord{},
		&models.WorkerLog{},
		&models.LedgerEntry{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedPolicies upserts AutomationPolicy rows from configuration. Enabled and
// Muted are deliberately not overwritten: those are runtime administrative
// state, not configuration.
func SeedPolicies(db *gorm.DB, agents []config.AgentConfig) error {
	for _, a := range agents {
		policy := models.AutomationPolicy{
			AgentID:         a.ID,
			Workspace:       a.Workspace,
			Enabled:         true,
			Mode:            a.Mode,
			CooldownSeconds: a.CooldownSeconds,
			MaxPerWindow:    a.MaxPerWindow,
			WindowSeconds:   a.WindowSeconds,
			TimeoutSeconds:  a.TimeoutSeconds,
			MaxRetries:      a.MaxRetries,
			Priority:        a.Priority,
		}

		result := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "agent_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"workspace", "mode", "cooldown_seconds", "max_per_window",
				"window_seconds", "timeout_seconds", "max_retries", "priority",
			}),
		}).Create(&policy)
		if result.Error != nil {
			return fmt.Errorf("db: seed policy %q: %w", a.ID, result.Error)
		}
	}
	return nil
}
