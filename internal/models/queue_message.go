package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageDirection identifies the author side of a queue message.
type MessageDirection string

const (
	DirectionJobSeeker MessageDirection = "jobseeker"
	DirectionRecruiter MessageDirection = "recruiter"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageAudio MessageType = "audio"
	MessageVideo MessageType = "video"
)

// QueueMessage is one entry in the append-only message ledger attached
// to a queue entry.
type QueueMessage struct {
	ID           uuid.UUID        `json:"id"`
	QueueEntryID uuid.UUID        `json:"queue_entry_id"`
	Direction    MessageDirection `json:"direction"`
	Type         MessageType      `json:"type"`
	Content      string           `json:"content"`
	IsRead       bool             `json:"is_read"`
	CreatedAt    time.Time        `json:"created_at"`
}
