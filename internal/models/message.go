package models

import "time"

// Message lifecycle statuses. A message only ever moves forward:
// new -> opened -> closed.
const (
	MessageNew    = "new"
	MessageOpened = "opened"
	MessageClosed = "closed"
)

// MessageStatusRank maps a lifecycle status to its position in the
// new -> opened -> closed progression. Unknown statuses rank -1.
func MessageStatusRank(status string) int {
	switch status {
	case MessageNew:
		return 0
	case MessageOpened:
		return 1
	case MessageClosed:
		return 2
	default:
		return -1
	}
}

// Message represents agent-to-agent communication.
type Message struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	FromAgent string `gorm:"size:64;not null"`
	ToAgent   string `gorm:"size:64;not null;index"`
	ThreadID  *uint
	Subject   string `gorm:"size:256"`
	Body      string `gorm:"type:text"`
	Priority  string `gorm:"size:8;default:normal"`
	Status    string `gorm:"size:8;default:new;index"`
	Archived  bool   `gorm:"default:false;index"`
	CreatedAt time.Time
}
