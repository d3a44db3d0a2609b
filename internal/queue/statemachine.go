package queue

import (
	"time"

	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/pkg/apperr"
)

// transitions is the legal status graph for a queue entry. Initial
// state is waiting; completed, left and left_with_message are terminal.
var transitions = map[models.QueueStatus][]models.QueueStatus{
	models.QueueWaiting:   {models.QueueInvited, models.QueueLeft, models.QueueLeftWithMessage},
	models.QueueInvited:   {models.QueueInMeeting, models.QueueLeft},
	models.QueueInMeeting: {models.QueueCompleted, models.QueueLeft},
}

// CanTransition reports whether from -> to is in the legal graph.
func CanTransition(from, to models.QueueStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply advances a queue entry to the target status, stamping
// invited_at on entry into invited and left_at on entry into either
// left state. Pure: takes current state, returns next state, touches
// no store. Persistence happens separately via compare-and-set.
func Apply(entry models.QueueEntry, to models.QueueStatus, now time.Time) (models.QueueEntry, error) {
	if !CanTransition(entry.Status, to) {
		return entry, apperr.InvalidTransition("queue entry", string(entry.Status), string(to))
	}
	entry.Status = to
	switch to {
	case models.QueueInvited:
		t := now
		entry.InvitedAt = &t
	case models.QueueLeft, models.QueueLeftWithMessage:
		t := now
		entry.LeftAt = &t
	}
	entry.UpdatedAt = now
	return entry, nil
}
