package models

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	CallActive CallStatus = "active"
	CallEnded  CallStatus = "ended"
	CallFailed CallStatus = "failed"
)

// ParticipantRole identifies a call participant's role.
type ParticipantRole string

const (
	ParticipantRecruiter   ParticipantRole = "recruiter"
	ParticipantJobSeeker   ParticipantRole = "jobseeker"
	ParticipantInterpreter ParticipantRole = "interpreter"
)

// CallInterpreterStatus is the state of an interpreter on a call.
type CallInterpreterStatus string

const (
	CallInterpreterInvited  CallInterpreterStatus = "invited"
	CallInterpreterJoined   CallInterpreterStatus = "joined"
	CallInterpreterDeclined CallInterpreterStatus = "declined"
)

// CallSession is the live connection session underlying an active
// meeting. Media relay happens at the external call provider; this
// record tracks membership and lifetime. A session transitions
// active -> ended exactly once.
type CallSession struct {
	ID              uuid.UUID  `json:"id"`
	RoomName        string     `json:"room_name"`
	EventID         uuid.UUID  `json:"event_id"`
	BoothID         uuid.UUID  `json:"booth_id"`
	RecruiterID     uuid.UUID  `json:"recruiter_id"`
	JobSeekerID     uuid.UUID  `json:"job_seeker_id"`
	QueueEntryID    *uuid.UUID `json:"queue_entry_id,omitempty"`
	Status          CallStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CallParticipant is one participant's membership on a call session.
type CallParticipant struct {
	ID                uuid.UUID       `json:"id"`
	CallSessionID     uuid.UUID       `json:"call_session_id"`
	ParticipantID     uuid.UUID       `json:"participant_id"`
	Role              ParticipantRole `json:"role"`
	JoinedAt          time.Time       `json:"joined_at"`
	LeftAt            *time.Time      `json:"left_at,omitempty"`
	ConnectionQuality *string         `json:"connection_quality,omitempty"`
}

// CallInterpreter tracks an interpreter invited onto a call session.
type CallInterpreter struct {
	ID            uuid.UUID             `json:"id"`
	CallSessionID uuid.UUID             `json:"call_session_id"`
	InterpreterID uuid.UUID             `json:"interpreter_id"`
	Status        CallInterpreterStatus `json:"status"`
	CreatedAt     time.Time             `json:"created_at"`
}
