// Package mailbox provides per-agent message persistence and lifecycle.
package mailbox

import (
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// DeliverOpts holds optional parameters for delivering a message.
type DeliverOpts struct {
	ThreadID *uint
	Priority string // "normal" (default), "urgent"
}

// Deliver appends a new message to the recipient's inbox with status "new".
func Deliver(db *gorm.DB, from, to, subject, body string, opts DeliverOpts) (*models.Message, error) {
	if from == "" {
		return nil, fmt.Errorf("mailbox: from is required")
	}
	if to == "" {
		return nil, fmt.Errorf("mailbox: to is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("mailbox: subject is required")
	}

	priority := opts.Priority
	if priority == "" {
		priority = "normal"
	}

	msg := models.Message{
		FromAgent: from,
		ToAgent:   to,
		ThreadID:  opts.ThreadID,
		Subject:   subject,
		Body:      body,
		Priority:  priority,
		Status:    models.MessageNew,
		CreatedAt: time.Now(),
	}

	if err := db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("mailbox: deliver: %w", err)
	}

	return &msg, nil
}

// Unseen returns an agent's messages with status "new", in arrival order.
func Unseen(db *gorm.DB, agentID string) ([]models.Message, error) {
	if agentID == "" {
		return nil, fmt.Errorf("mailbox: agentID is required")
	}

	var msgs []models.Message
	if err := db.Where("to_agent = ? AND status = ?", agentID, models.MessageNew).
		Order("created_at ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("mailbox: unseen %s: %w", agentID, err)
	}
	return msgs, nil
}

// List returns an agent's messages in arrival order. Archived messages are
// excluded unless includeArchived is set.
func List(db *gorm.DB, agentID string, includeArchived bool) ([]models.Message, error) {
	if agentID == "" {
		return nil, fmt.Errorf("mailbox: agentID is required")
	}

	q := db.Where("to_agent = ?", agentID)
	if !includeArchived {
		q = q.Where("archived = ?", false)
	}

	var msgs []models.Message
	if err := q.Order("created_at ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("mailbox: list %s: %w", agentID, err)
	}
	return msgs, nil
}

// Get loads a single message by ID.
func Get(db *gorm.DB, messageID uint) (*models.Message, error) {
	var msg models.Message
	if err := db.Where("id = ?", messageID).First(&msg).Error; err != nil {
		return nil, fmt.Errorf("mailbox: get %d: %w", messageID, err)
	}
	return &msg, nil
}

// Open transitions a message to "opened".
func Open(db *gorm.DB, messageID uint) error {
	return transition(db, messageID, models.MessageOpened, false)
}

// Requeue returns an opened message to "new" so the next scan reconsiders
// it. Recovery path only: the normal lifecycle never moves backward, so this
// bypasses transition and reverts with a conditional update.
func Requeue(db *gorm.DB, messageID uint) error {
	result := db.Model(&models.Message{}).
		Where("id = ? AND status = ?", messageID, models.MessageOpened).
		Update("status", models.MessageNew)
	if result.Error != nil {
		return fmt.Errorf("mailbox: requeue %d: %w", messageID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("mailbox: requeue %d: message is not opened", messageID)
	}
	return nil
}

// Close transitions a message to "closed" and moves it to the archive
// partition. Closed messages are never deleted.
func Close(db *gorm.DB, messageID uint) error {
	return transition(db, messageID, models.MessageClosed, true)
}

// transition advances a message's lifecycle status. Forward moves (including
// skips, e.g. new -> closed) are allowed; a repeat of the current status is a
// no-op; backward moves are rejected. The conditional update keeps the check
// race-free under concurrent writers.
func transition(db *gorm.DB, messageID uint, target string, archive bool) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Where("id = ?", messageID).First(&msg).Error; err != nil {
			return fmt.Errorf("mailbox: transition %d: %w", messageID, err)
		}

		cur, next := models.MessageStatusRank(msg.Status), models.MessageStatusRank(target)
		if next < cur {
			return fmt.Errorf("mailbox: message %d: cannot revert %s to %s", messageID, msg.Status, target)
		}
		if next == cur && msg.Archived == archive {
			return nil
		}

		updates := map[string]interface{}{"status": target}
		if archive {
			updates["archived"] = true
		}
		result := tx.Model(&models.Message{}).
			Where("id = ? AND status = ?", messageID, msg.Status).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("mailbox: transition %d to %s: %w", messageID, target, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("mailbox: transition %d to %s: concurrent status change", messageID, target)
		}
		return nil
	})
}
