// Package dedup prevents re-triggering on semantically equivalent messages.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// ErrDuplicate is returned by Register when a live entry already exists for
// the fingerprint.
var ErrDuplicate = errors.New("dedup: fingerprint already live")

// Fingerprint derives the dedup key for a message: a sha256 over the full
// content (sender, subject, body). Full-content hashing is the safer default
// against false-positive suppression of genuinely different requests.
func Fingerprint(from, subject, body string) string {
	h := sha256.New()
	h.Write([]byte(from))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// Register atomically claims a fingerprint for the given trigger. If a live
// entry exists it returns ErrDuplicate. Expired entries are lazily removed
// and replaced; they are never eagerly deleted before their TTL elsewhere.
func Register(db *gorm.DB, fingerprint, agentID string, messageID uint, ttl time.Duration) (*models.DedupEntry, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("dedup: fingerprint is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("dedup: ttl must be positive")
	}

	var entry *models.DedupEntry

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var existing models.DedupEntry
		result := tx.Where("fingerprint = ?", fingerprint).First(&existing)
		if result.Error == nil {
			if !existing.Expired(now) {
				return ErrDuplicate
			}
			// Lazy expiry: the TTL has elapsed, reclaim the fingerprint.
			if err := tx.Delete(&models.DedupEntry{}, "fingerprint = ?", fingerprint).Error; err != nil {
				return fmt.Errorf("expire entry: %w", err)
			}
		} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check entry: %w", result.Error)
		}

		entry = &models.DedupEntry{
			Fingerprint: fingerprint,
			AgentID:     agentID,
			MessageID:   messageID,
			TriggeredAt: now,
			TTLSeconds:  int(ttl / time.Second),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("create entry: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("dedup: register: %w", err)
	}
	return entry, nil
}

// IsLive reports whether a live (unexpired) entry exists for the fingerprint.
// Expired entries encountered here are removed (lazy expiry on lookup).
func IsLive(db *gorm.DB, fingerprint string) (bool, error) {
	var existing models.DedupEntry
	result := db.Where("fingerprint = ?", fingerprint).First(&existing)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if result.Error != nil {
		return false, fmt.Errorf("dedup: lookup: %w", result.Error)
	}
	if existing.Expired(time.Now()) {
		if err := db.Delete(&models.DedupEntry{}, "fingerprint = ?", fingerprint).Error; err != nil {
			return false, fmt.Errorf("dedup: expire: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Release removes an entry regardless of TTL. Unwinds a registration whose
// launch never started, so identical retries are not suppressed.
func Release(db *gorm.DB, fingerprint string) error {
	if err := db.Delete(&models.DedupEntry{}, "fingerprint = ?", fingerprint).Error; err != nil {
		return fmt.Errorf("dedup: release: %w", err)
	}
	return nil
}

// LinkExecution records the execution an entry's trigger produced.
func LinkExecution(db *gorm.DB, fingerprint, executionID string) error {
	result := db.Model(&models.DedupEntry{}).
		Where("fingerprint = ?", fingerprint).
		Update("execution_id", executionID)
	if result.Error != nil {
		return fmt.Errorf("dedup: link execution: %w", result.Error)
	}
	return nil
}

// PruneExpired deletes all entries whose TTL has elapsed. Used by the
// retention sweep; the hot path relies on lazy expiry only.
func PruneExpired(db *gorm.DB) (int64, error) {
	var entries []models.DedupEntry
	if err := db.Find(&entries).Error; err != nil {
		return 0, fmt.Errorf("dedup: prune scan: %w", err)
	}

	now := time.Now()
	var pruned int64
	for _, e := range entries {
		if !e.Expired(now) {
			continue
		}
		result := db.Delete(&models.DedupEntry{}, "fingerprint = ?", e.Fingerprint)
		if result.Error != nil {
			return pruned, fmt.Errorf("dedup: prune %s: %w", e.Fingerprint, result.Error)
		}
		pruned += result.RowsAffected
	}
	return pruned, nil
}
