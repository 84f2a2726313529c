// Package ledger is the append-only audit log of dispatch decisions and
// execution outcomes.
package ledger

import (
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// RecordDecision appends a dispatch decision (accept, reject, or defer) with
// its reason.
func RecordDecision(db *gorm.DB, agentID string, messageID uint, verdict, reason string) error {
	return appendEntry(db, models.LedgerEntry{
		AgentID:   agentID,
		MessageID: messageID,
		Kind:      models.LedgerDecision,
		Verdict:   verdict,
		Reason:    reason,
	})
}

// RecordOutcome appends an execution outcome (succeeded, failed, timed_out).
func RecordOutcome(db *gorm.DB, agentID string, messageID uint, executionID, outcome, reason string) error {
	return appendEntry(db, models.LedgerEntry{
		AgentID:     agentID,
		MessageID:   messageID,
		ExecutionID: executionID,
		Kind:        models.LedgerOutcome,
		Verdict:     outcome,
		Reason:      reason,
	})
}

// RecordCritical appends a critical escalation entry (e.g. reply delivery
// exhausted its retries, or a runaway loop was detected).
func RecordCritical(db *gorm.DB, agentID string, messageID uint, executionID, reason string) error {
	return appendEntry(db, models.LedgerEntry{
		AgentID:     agentID,
		MessageID:   messageID,
		ExecutionID: executionID,
		Kind:        models.LedgerCritical,
		Verdict:     "critical",
		Reason:      reason,
	})
}

func appendEntry(db *gorm.DB, entry models.LedgerEntry) error {
	if entry.AgentID == "" {
		return fmt.Errorf("ledger: agentID is required")
	}
	entry.CreatedAt = time.Now()
	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// QueryFilters narrow a ledger query. Zero values mean "no filter".
type QueryFilters struct {
	AgentID string
	Kind    string
	Verdict string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Query returns matching entries, newest first.
func Query(db *gorm.DB, f QueryFilters) ([]models.LedgerEntry, error) {
	q := db.Model(&models.LedgerEntry{})
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Verdict != "" {
		q = q.Where("verdict = ?", f.Verdict)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at <= ?", f.Until)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var entries []models.LedgerEntry
	if err := q.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	return entries, nil
}

// DetectRunaway reports whether an agent has accepted at least threshold
// triggers within the trailing window. Used to spot feedback loops between
// cooperating agents before they burn through the rate budget every window.
func DetectRunaway(db *gorm.DB, agentID string, window time.Duration, threshold int) (bool, int, error) {
	if threshold <= 0 {
		return false, 0, nil
	}
	var count int64
	err := db.Model(&models.LedgerEntry{}).
		Where("agent_id = ? AND kind = ? AND verdict = ? AND created_at >= ?",
			agentID, models.LedgerDecision, "accept", time.Now().Add(-window)).
		Count(&count).Error
	if err != nil {
		return false, 0, fmt.Errorf("ledger: runaway check %s: %w", agentID, err)
	}
	return count >= int64(threshold), int(count), nil
}

// Prune deletes entries older than the cutoff. Retention sweep only; the
// ledger is otherwise append-only.
func Prune(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Where("created_at < ?", cutoff).Delete(&models.LedgerEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("ledger: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}
