package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talenthall/backend/internal/models"
)

const meetingColumns = `id, event_id, booth_id, queue_entry_id, recruiter_id, job_seeker_id,
	interpreter_id, call_session_id, status, start_time, end_time, duration_minutes,
	interpreter_request, recruiter_rating, recruiter_feedback, feedback, created_at, updated_at`

const callColumns = `id, room_name, event_id, booth_id, recruiter_id, job_seeker_id,
	queue_entry_id, status, started_at, ended_at, duration_seconds, created_at`

// Repository persists meetings, call sessions and booth assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meetings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	var req []byte
	err := row.Scan(&m.ID, &m.EventID, &m.BoothID, &m.QueueEntryID, &m.RecruiterID, &m.JobSeekerID,
		&m.InterpreterID, &m.CallSessionID, &m.Status, &m.StartTime, &m.EndTime, &m.DurationMinutes,
		&req, &m.RecruiterRating, &m.RecruiterFeedback, &m.Feedback, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(req) > 0 {
		var ir models.InterpreterRequest
		if err := json.Unmarshal(req, &ir); err == nil {
			m.InterpreterRequest = &ir
		}
	}
	return &m, nil
}

func scanCall(row pgx.Row) (*models.CallSession, error) {
	var cs models.CallSession
	err := row.Scan(&cs.ID, &cs.RoomName, &cs.EventID, &cs.BoothID, &cs.RecruiterID, &cs.JobSeekerID,
		&cs.QueueEntryID, &cs.Status, &cs.StartedAt, &cs.EndedAt, &cs.DurationSeconds, &cs.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// CreateMeeting inserts a meeting record.
func (r *Repository) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	const q = `INSERT INTO meetings
		(event_id, booth_id, queue_entry_id, recruiter_id, job_seeker_id, status, interpreter_request)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	var req []byte
	if m.InterpreterRequest != nil {
		req, _ = json.Marshal(m.InterpreterRequest)
	}
	err := r.pool.QueryRow(ctx, q, m.EventID, m.BoothID, m.QueueEntryID, m.RecruiterID,
		m.JobSeekerID, m.Status, req).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

// GetMeeting returns a meeting by ID, or nil when absent.
func (r *Repository) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	m, err := scanMeeting(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// MeetingsByBooth returns the booth's meetings, newest first.
func (r *Repository) MeetingsByBooth(ctx context.Context, boothID uuid.UUID, limit int) ([]models.Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE booth_id = $1
		ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, boothID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// TransitionMeeting moves a meeting between lifecycle states with a
// compare-and-set on its current status.
func (r *Repository) TransitionMeeting(ctx context.Context, id uuid.UUID, from, to models.MeetingStatus, now time.Time) (bool, error) {
	const q = `UPDATE meetings SET status = $3,
			start_time = CASE WHEN $3 = 'active' THEN $4 ELSE start_time END,
			end_time   = CASE WHEN $3 IN ('completed', 'cancelled', 'failed') THEN $4 ELSE end_time END,
			updated_at = $4
		WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, id, from, to, now)
	if err != nil {
		return false, fmt.Errorf("transition meeting: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetMeetingDuration stamps the completed meeting's duration.
func (r *Repository) SetMeetingDuration(ctx context.Context, id uuid.UUID, minutes int, now time.Time) error {
	const q = `UPDATE meetings SET duration_minutes = $2, updated_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, minutes, now)
	return err
}

// SetMeetingCallSession links the live call session onto the meeting.
func (r *Repository) SetMeetingCallSession(ctx context.Context, meetingID, callSessionID uuid.UUID, now time.Time) error {
	const q = `UPDATE meetings SET call_session_id = $2, updated_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, meetingID, callSessionID, now)
	return err
}

// SetInterpreterRequest writes the nested interpreter request. Legal
// only while the meeting is active and no request is already open.
func (r *Repository) SetInterpreterRequest(ctx context.Context, meetingID uuid.UUID, req models.InterpreterRequest, now time.Time) (bool, error) {
	const q = `UPDATE meetings SET interpreter_request = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'
		  AND (interpreter_request IS NULL OR interpreter_request->>'status' NOT IN ('pending', 'accepted'))`
	b, err := json.Marshal(req)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, q, meetingID, b, now)
	if err != nil {
		return false, fmt.Errorf("set interpreter request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceInterpreterRequest moves the nested request between states
// with a compare-and-set on its current status, so two interpreters
// accepting concurrently resolve to exactly one winner.
func (r *Repository) AdvanceInterpreterRequest(ctx context.Context, meetingID uuid.UUID, from, to models.InterpreterRequestStatus, patch map[string]interface{}, now time.Time) (bool, error) {
	patch["status"] = to
	b, err := json.Marshal(patch)
	if err != nil {
		return false, err
	}
	const q = `UPDATE meetings SET interpreter_request = interpreter_request || $3, updated_at = $4
		WHERE id = $1 AND interpreter_request->>'status' = $2`
	tag, err := r.pool.Exec(ctx, q, meetingID, from, b, now)
	if err != nil {
		return false, fmt.Errorf("advance interpreter request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetMeetingInterpreter records the interpreter on the meeting.
func (r *Repository) SetMeetingInterpreter(ctx context.Context, meetingID, interpreterID uuid.UUID, now time.Time) error {
	const q = `UPDATE meetings SET interpreter_id = $2, updated_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, meetingID, interpreterID, now)
	return err
}

// SetRecruiterReview stores the recruiter's post-meeting rating and
// feedback note.
func (r *Repository) SetRecruiterReview(ctx context.Context, meetingID uuid.UUID, rating *int, feedback *string, now time.Time) error {
	const q = `UPDATE meetings SET
			recruiter_rating   = COALESCE($2, recruiter_rating),
			recruiter_feedback = COALESCE($3, recruiter_feedback),
			updated_at = $4
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, meetingID, rating, feedback, now)
	return err
}

// SetJobSeekerFeedback stores the job seeker's structured feedback.
func (r *Repository) SetJobSeekerFeedback(ctx context.Context, meetingID uuid.UUID, feedback json.RawMessage, now time.Time) error {
	const q = `UPDATE meetings SET feedback = $2, updated_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, meetingID, feedback, now)
	return err
}

// CreateCallSession inserts a call session in the active state.
func (r *Repository) CreateCallSession(ctx context.Context, cs *models.CallSession) error {
	const q = `INSERT INTO call_sessions
		(room_name, event_id, booth_id, recruiter_id, job_seeker_id, queue_entry_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, cs.RoomName, cs.EventID, cs.BoothID, cs.RecruiterID,
		cs.JobSeekerID, cs.QueueEntryID, cs.Status, cs.StartedAt).Scan(&cs.ID, &cs.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert call session: %w", err)
	}
	return nil
}

// GetCallSession returns a call session by ID, or nil when absent.
func (r *Repository) GetCallSession(ctx context.Context, id uuid.UUID) (*models.CallSession, error) {
	q := `SELECT ` + callColumns + ` FROM call_sessions WHERE id = $1`
	cs, err := scanCall(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cs, err
}

// EndCallSession transitions active -> ended exactly once, stamping
// end time and duration. Returns false when the session already ended.
func (r *Repository) EndCallSession(ctx context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (bool, error) {
	const q = `UPDATE call_sessions SET status = 'ended', ended_at = $2, duration_seconds = $3
		WHERE id = $1 AND status = 'active'`
	tag, err := r.pool.Exec(ctx, q, id, endedAt, durationSeconds)
	if err != nil {
		return false, fmt.Errorf("end call session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// HasActiveCallForEntry reports whether a live call session exists for
// the queue entry.
func (r *Repository) HasActiveCallForEntry(ctx context.Context, entryID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM call_sessions WHERE queue_entry_id = $1 AND status = 'active')`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, entryID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// HasRecentMeetingForEntry reports whether the entry has a meeting
// created or updated within the last few minutes. Used by the booth
// console to flag members whose call record may lag the session table.
func (r *Repository) HasRecentMeetingForEntry(ctx context.Context, entryID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM meetings
		WHERE queue_entry_id = $1 AND status = 'active' AND updated_at > NOW() - INTERVAL '5 minutes')`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, entryID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// AddParticipant records a participant joining the call session.
func (r *Repository) AddParticipant(ctx context.Context, p *models.CallParticipant) error {
	const q = `INSERT INTO call_participants (call_session_id, participant_id, role, joined_at)
		VALUES ($1, $2, $3, $4) RETURNING id`
	err := r.pool.QueryRow(ctx, q, p.CallSessionID, p.ParticipantID, p.Role, p.JoinedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert call participant: %w", err)
	}
	return nil
}

// AddCallInterpreter records an interpreter invited onto the session.
func (r *Repository) AddCallInterpreter(ctx context.Context, ci *models.CallInterpreter) error {
	const q = `INSERT INTO call_interpreters (call_session_id, interpreter_id, status)
		VALUES ($1, $2, $3) RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, ci.CallSessionID, ci.InterpreterID, ci.Status).Scan(&ci.ID, &ci.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert call interpreter: %w", err)
	}
	return nil
}

// MarkInterpreterJoined flips the interpreter's session row to joined.
func (r *Repository) MarkInterpreterJoined(ctx context.Context, callSessionID, interpreterID uuid.UUID) error {
	const q = `UPDATE call_interpreters SET status = 'joined'
		WHERE call_session_id = $1 AND interpreter_id = $2`
	_, err := r.pool.Exec(ctx, q, callSessionID, interpreterID)
	return err
}

// AddMessage appends a message to the meeting.
func (r *Repository) AddMessage(ctx context.Context, m *models.MeetingMessage) error {
	const q = `INSERT INTO meeting_messages
		(meeting_id, sender_id, sender_role, kind, type, content, is_leave_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	err := r.pool.QueryRow(ctx, q, m.MeetingID, m.SenderID, m.SenderRole, m.Kind, m.Type,
		m.Content, m.IsLeaveMessage, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert meeting message: %w", err)
	}
	return nil
}

// ListMessages returns the meeting's messages in send order.
func (r *Repository) ListMessages(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingMessage, error) {
	const q = `SELECT id, meeting_id, sender_id, sender_role, kind, type, content, is_leave_message, created_at
		FROM meeting_messages WHERE meeting_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.MeetingMessage
	for rows.Next() {
		var m models.MeetingMessage
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.SenderID, &m.SenderRole, &m.Kind, &m.Type,
			&m.Content, &m.IsLeaveMessage, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// AddAttachment records an uploaded attachment.
func (r *Repository) AddAttachment(ctx context.Context, a *models.MeetingAttachment) error {
	const q = `INSERT INTO meeting_attachments
		(meeting_id, uploaded_by, file_name, s3_key, url, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, a.MeetingID, a.UploadedBy, a.FileName, a.S3Key, a.URL,
		a.ContentType, a.SizeBytes).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert meeting attachment: %w", err)
	}
	return nil
}

// GetAttachment returns an attachment by ID, or nil when absent.
func (r *Repository) GetAttachment(ctx context.Context, id uuid.UUID) (*models.MeetingAttachment, error) {
	const q = `SELECT id, meeting_id, uploaded_by, file_name, s3_key, url, content_type, size_bytes, created_at
		FROM meeting_attachments WHERE id = $1`
	var a models.MeetingAttachment
	err := r.pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.MeetingID, &a.UploadedBy, &a.FileName,
		&a.S3Key, &a.URL, &a.ContentType, &a.SizeBytes, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAttachments returns the meeting's attachments, newest first.
func (r *Repository) ListAttachments(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingAttachment, error) {
	const q = `SELECT id, meeting_id, uploaded_by, file_name, s3_key, url, content_type, size_bytes, created_at
		FROM meeting_attachments WHERE meeting_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.MeetingAttachment
	for rows.Next() {
		var a models.MeetingAttachment
		if err := rows.Scan(&a.ID, &a.MeetingID, &a.UploadedBy, &a.FileName, &a.S3Key, &a.URL,
			&a.ContentType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// AssignedRecruiter returns the booth's active recruiter, if any.
func (r *Repository) AssignedRecruiter(ctx context.Context, boothID uuid.UUID) (uuid.UUID, bool, error) {
	const q = `SELECT recruiter_id FROM booth_assignments
		WHERE booth_id = $1 AND active = TRUE
		ORDER BY created_at ASC LIMIT 1`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, q, boothID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// AssignRecruiter upserts a booth assignment.
func (r *Repository) AssignRecruiter(ctx context.Context, boothID, recruiterID uuid.UUID) error {
	const q = `INSERT INTO booth_assignments (booth_id, recruiter_id, active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (booth_id, recruiter_id) DO UPDATE SET active = TRUE`
	_, err := r.pool.Exec(ctx, q, boothID, recruiterID)
	return err
}
