package queue

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

const entryColumns = `id, event_id, booth_id, job_seeker_id, queue_token, position, status,
	interpreter_category, agreed_to_terms, joined_at, invited_at, left_at, last_activity,
	leave_message, meeting_id, created_at, updated_at`

// activeStatuses mirrors models.ActiveQueueStatuses as text for ANY binds.
var activeStatuses = func() []string {
	ss := make([]string, len(models.ActiveQueueStatuses))
	for i, s := range models.ActiveQueueStatuses {
		ss[i] = string(s)
	}
	return ss
}()

// Repository persists queue entries and their message ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a queue repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanEntry(row pgx.Row) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var leaveMsg []byte
	err := row.Scan(&e.ID, &e.EventID, &e.BoothID, &e.JobSeekerID, &e.QueueToken, &e.Position,
		&e.Status, &e.InterpreterCategory, &e.AgreedToTerms, &e.JoinedAt, &e.InvitedAt, &e.LeftAt,
		&e.LastActivity, &leaveMsg, &e.MeetingID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(leaveMsg) > 0 {
		var m models.LeaveMessage
		if err := json.Unmarshal(leaveMsg, &m); err == nil {
			e.LeaveMessage = &m
		}
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var list []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// InsertIfAbsent inserts a new entry unless the job seeker already
// holds an active entry at the booth. Returns false without error on
// conflict, so admission never inspects storage error codes.
func (r *Repository) InsertIfAbsent(ctx context.Context, e *models.QueueEntry) (bool, error) {
	const q = `INSERT INTO queue_entries
		(event_id, booth_id, job_seeker_id, queue_token, position, status, interpreter_category,
		 agreed_to_terms, joined_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_seeker_id, booth_id) WHERE status IN ('waiting', 'invited', 'in_meeting')
		DO NOTHING
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, e.EventID, e.BoothID, e.JobSeekerID, e.QueueToken, e.Position,
		e.Status, e.InterpreterCategory, e.AgreedToTerms, e.JoinedAt, e.LastActivity).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert queue entry: %w", err)
	}
	return true, nil
}

// GetByID returns an entry by ID, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = $1`
	e, err := scanEntry(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// GetByToken returns an entry by its queue token, or nil when absent.
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.QueueEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries WHERE queue_token = $1`
	e, err := scanEntry(r.pool.QueryRow(ctx, q, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ActiveByJobSeekerAndEvent returns the job seeker's active entry
// within the event, or nil. One active queue per event.
func (r *Repository) ActiveByJobSeekerAndEvent(ctx context.Context, jobSeekerID, eventID uuid.UUID) (*models.QueueEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE job_seeker_id = $1 AND event_id = $2 AND status = ANY($3)
		ORDER BY joined_at DESC LIMIT 1`
	e, err := scanEntry(r.pool.QueryRow(ctx, q, jobSeekerID, eventID, activeStatuses))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ActiveByJobSeekerAndBooth returns the job seeker's active entry at
// the booth, or nil.
func (r *Repository) ActiveByJobSeekerAndBooth(ctx context.Context, jobSeekerID, boothID uuid.UUID) (*models.QueueEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE job_seeker_id = $1 AND booth_id = $2 AND status = ANY($3)
		LIMIT 1`
	e, err := scanEntry(r.pool.QueryRow(ctx, q, jobSeekerID, boothID, activeStatuses))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ActiveByJobSeeker returns all of the job seeker's active entries
// across all events and booths.
func (r *Repository) ActiveByJobSeeker(ctx context.Context, jobSeekerID uuid.UUID) ([]models.QueueEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE job_seeker_id = $1 AND status = ANY($2)
		ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, jobSeekerID, activeStatuses)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListActiveByBooth returns the booth's active entries ordered by position.
func (r *Repository) ListActiveByBooth(ctx context.Context, boothID uuid.UUID) ([]models.QueueEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE booth_id = $1 AND status = ANY($2)
		ORDER BY position`
	rows, err := r.pool.Query(ctx, q, boothID, activeStatuses)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// StaleEntries returns entries in the given statuses whose last
// activity is older than the cutoff, across all booths.
func (r *Repository) StaleEntries(ctx context.Context, statuses []models.QueueStatus, before time.Time) ([]models.QueueEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE status = ANY($1) AND last_activity < $2
		ORDER BY last_activity`
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, q, ss, before)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// MaxPosition returns the highest position ever assigned at the booth,
// across all statuses including terminal ones. Positions are never
// reused.
func (r *Repository) MaxPosition(ctx context.Context, boothID uuid.UUID) (int, error) {
	const q = `SELECT COALESCE(MAX(position), 0) FROM queue_entries WHERE booth_id = $1`
	var max int
	if err := r.pool.QueryRow(ctx, q, boothID).Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// TransitionStatus performs the compare-and-set status update: the row
// is written only if its status still equals from. Returns false when
// a concurrent writer won the race or the transition already happened.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.QueueStatus, now time.Time) (bool, error) {
	const q = `UPDATE queue_entries SET status = $3, updated_at = $4,
		invited_at = CASE WHEN $3 = 'invited' THEN $4 ELSE invited_at END,
		left_at = CASE WHEN $3 IN ('left', 'left_with_message') THEN $4 ELSE left_at END
		WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, id, string(from), string(to), now)
	if err != nil {
		return false, fmt.Errorf("transition queue entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchActivity stamps last_activity for the entry.
func (r *Repository) TouchActivity(ctx context.Context, id uuid.UUID, now time.Time) error {
	const q = `UPDATE queue_entries SET last_activity = $2, updated_at = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, now)
	return err
}

// SetLeaveMessage stores the terminal leave message on the entry itself.
func (r *Repository) SetLeaveMessage(ctx context.Context, id uuid.UUID, msg models.LeaveMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	const q = `UPDATE queue_entries SET leave_message = $2, updated_at = NOW() WHERE id = $1`
	_, err = r.pool.Exec(ctx, q, id, body)
	return err
}

// SetMeetingID links the entry to its meeting record.
func (r *Repository) SetMeetingID(ctx context.Context, id, meetingID uuid.UUID) error {
	const q = `UPDATE queue_entries SET meeting_id = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, meetingID)
	return err
}

// CountByBoothStatuses counts the booth's entries in the given statuses.
func (r *Repository) CountByBoothStatuses(ctx context.Context, boothID uuid.UUID, statuses ...models.QueueStatus) (int, error) {
	const q = `SELECT COUNT(*) FROM queue_entries WHERE booth_id = $1 AND status = ANY($2)`
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	var n int
	if err := r.pool.QueryRow(ctx, q, boothID, ss).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountAhead counts waiting or invited entries at the booth with a
// smaller position.
func (r *Repository) CountAhead(ctx context.Context, boothID uuid.UUID, position int) (int, error) {
	const q = `SELECT COUNT(*) FROM queue_entries
		WHERE booth_id = $1 AND position < $2 AND status IN ('waiting', 'invited')`
	var n int
	if err := r.pool.QueryRow(ctx, q, boothID, position).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AppendMessage appends to the entry's message ledger.
func (r *Repository) AppendMessage(ctx context.Context, m *models.QueueMessage) error {
	const q = `INSERT INTO queue_messages (queue_entry_id, direction, type, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING id`
	return r.pool.QueryRow(ctx, q, m.QueueEntryID, m.Direction, m.Type, m.Content, m.CreatedAt).Scan(&m.ID)
}

// ListMessages returns the entry's ledger in append order.
func (r *Repository) ListMessages(ctx context.Context, entryID uuid.UUID) ([]models.QueueMessage, error) {
	const q = `SELECT id, queue_entry_id, direction, type, content, is_read, created_at
		FROM queue_messages WHERE queue_entry_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, q, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.QueueMessage
	for rows.Next() {
		var m models.QueueMessage
		if err := rows.Scan(&m.ID, &m.QueueEntryID, &m.Direction, &m.Type, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// MarkMessagesRead flips is_read for all messages authored by the
// given direction.
func (r *Repository) MarkMessagesRead(ctx context.Context, entryID uuid.UUID, authoredBy models.MessageDirection) error {
	const q = `UPDATE queue_messages SET is_read = TRUE WHERE queue_entry_id = $1 AND direction = $2`
	_, err := r.pool.Exec(ctx, q, entryID, authoredBy)
	return err
}

// UnreadCount counts unread messages not authored by the given
// direction (i.e. addressed to it).
func (r *Repository) UnreadCount(ctx context.Context, entryID uuid.UUID, forDirection models.MessageDirection) (int, error) {
	const q = `SELECT COUNT(*) FROM queue_messages
		WHERE queue_entry_id = $1 AND direction <> $2 AND is_read = FALSE`
	var n int
	if err := r.pool.QueryRow(ctx, q, entryID, forDirection).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
