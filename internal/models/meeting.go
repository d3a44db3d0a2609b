package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MeetingStatus is the lifecycle state of a meeting record.
type MeetingStatus string

const (
	MeetingScheduled       MeetingStatus = "scheduled"
	MeetingActive          MeetingStatus = "active"
	MeetingCompleted       MeetingStatus = "completed"
	MeetingCancelled       MeetingStatus = "cancelled"
	MeetingFailed          MeetingStatus = "failed"
	MeetingLeftWithMessage MeetingStatus = "left_with_message"
)

// InterpreterRequestStatus is the state of an interpreter request.
type InterpreterRequestStatus string

const (
	InterpreterPending   InterpreterRequestStatus = "pending"
	InterpreterAccepted  InterpreterRequestStatus = "accepted"
	InterpreterDeclined  InterpreterRequestStatus = "declined"
	InterpreterCompleted InterpreterRequestStatus = "completed"
)

// InterpreterRequest is the interpreter sub-flow nested inside an
// active meeting. Absent until first requested.
type InterpreterRequest struct {
	RequestedAt time.Time                `json:"requested_at"`
	RequestedBy uuid.UUID                `json:"requested_by"`
	Reason      string                   `json:"reason,omitempty"`
	Language    string                   `json:"language,omitempty"`
	Status      InterpreterRequestStatus `json:"status"`
	AcceptedAt  *time.Time               `json:"accepted_at,omitempty"`
	JoinedAt    *time.Time               `json:"joined_at,omitempty"`
}

// Meeting is the durable record of one recruiter/job-seeker engagement.
// Immutable history once ended.
type Meeting struct {
	ID                 uuid.UUID           `json:"id"`
	EventID            uuid.UUID           `json:"event_id"`
	BoothID            uuid.UUID           `json:"booth_id"`
	QueueEntryID       *uuid.UUID          `json:"queue_entry_id,omitempty"`
	RecruiterID        uuid.UUID           `json:"recruiter_id"`
	JobSeekerID        uuid.UUID           `json:"job_seeker_id"`
	InterpreterID      *uuid.UUID          `json:"interpreter_id,omitempty"`
	CallSessionID      *uuid.UUID          `json:"call_session_id,omitempty"`
	Status             MeetingStatus       `json:"status"`
	StartTime          *time.Time          `json:"start_time,omitempty"`
	EndTime            *time.Time          `json:"end_time,omitempty"`
	DurationMinutes    *int                `json:"duration_minutes,omitempty"`
	InterpreterRequest *InterpreterRequest `json:"interpreter_request,omitempty"`
	RecruiterRating    *int                `json:"recruiter_rating,omitempty"`
	RecruiterFeedback  *string             `json:"recruiter_feedback,omitempty"`
	Feedback           json.RawMessage     `json:"feedback,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// MeetingMessageKind distinguishes the job seeker's pre-meeting
// messages carried onto the record from live chat during the call.
type MeetingMessageKind string

const (
	MeetingMessageChat      MeetingMessageKind = "chat"
	MeetingMessageJobSeeker MeetingMessageKind = "jobseeker"
)

// MeetingMessage is a message stored on a meeting record.
type MeetingMessage struct {
	ID             uuid.UUID          `json:"id"`
	MeetingID      uuid.UUID          `json:"meeting_id"`
	SenderID       uuid.UUID          `json:"sender_id"`
	SenderRole     string             `json:"sender_role"`
	Kind           MeetingMessageKind `json:"kind"`
	Type           MessageType        `json:"type"`
	Content        string             `json:"content"`
	IsLeaveMessage bool               `json:"is_leave_message"`
	CreatedAt      time.Time          `json:"created_at"`
}

// MeetingAttachment is a file shared during or around a meeting,
// stored in S3.
type MeetingAttachment struct {
	ID          uuid.UUID `json:"id"`
	MeetingID   uuid.UUID `json:"meeting_id"`
	UploadedBy  uuid.UUID `json:"uploaded_by"`
	FileName    string    `json:"file_name"`
	S3Key       string    `json:"s3_key"`
	URL         string    `json:"url,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
