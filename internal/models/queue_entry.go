package models

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the lifecycle state of a queue entry.
type QueueStatus string

const (
	QueueWaiting         QueueStatus = "waiting"
	QueueInvited         QueueStatus = "invited"
	QueueInMeeting       QueueStatus = "in_meeting"
	QueueCompleted       QueueStatus = "completed"
	QueueLeft            QueueStatus = "left"
	QueueLeftWithMessage QueueStatus = "left_with_message"
)

// ActiveQueueStatuses are the non-terminal states that count toward the
// one-active-entry-per-booth uniqueness constraint.
var ActiveQueueStatuses = []QueueStatus{QueueWaiting, QueueInvited, QueueInMeeting}

// IsTerminal reports whether the status is a terminal state.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueCompleted, QueueLeft, QueueLeftWithMessage:
		return true
	}
	return false
}

// LeaveMessage is the single terminal message a job seeker can leave
// when departing the queue without being served.
type LeaveMessage struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// QueueEntry is one job seeker's ticket in a booth's line. Entries are
// never physically deleted; terminal states are kept for history.
type QueueEntry struct {
	ID                  uuid.UUID     `json:"id"`
	EventID             uuid.UUID     `json:"event_id"`
	BoothID             uuid.UUID     `json:"booth_id"`
	JobSeekerID         uuid.UUID     `json:"job_seeker_id"`
	QueueToken          string        `json:"queue_token"`
	Position            int           `json:"position"`
	Status              QueueStatus   `json:"status"`
	InterpreterCategory *string       `json:"interpreter_category,omitempty"`
	AgreedToTerms       bool          `json:"agreed_to_terms"`
	JoinedAt            time.Time     `json:"joined_at"`
	InvitedAt           *time.Time    `json:"invited_at,omitempty"`
	LeftAt              *time.Time    `json:"left_at,omitempty"`
	LastActivity        time.Time     `json:"last_activity"`
	LeaveMessage        *LeaveMessage `json:"leave_message,omitempty"`
	MeetingID           *uuid.UUID    `json:"meeting_id,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// BoothEntry is a queue entry enriched with the live-call flag for the
// booth management console.
type BoothEntry struct {
	QueueEntry
	IsInCall bool `json:"is_in_call"`
}

// QueueStatusView is the on-demand status snapshot a waiting job seeker
// reconciles against after a dropped realtime connection.
type QueueStatusView struct {
	Position       int         `json:"position"`
	QueueToken     string      `json:"queue_token"`
	CurrentServing int         `json:"current_serving"`
	WaitingCount   int         `json:"waiting_count"`
	PeopleAhead    int         `json:"people_ahead"`
	Status         QueueStatus `json:"status"`
	UnreadMessages int         `json:"unread_messages"`
}
