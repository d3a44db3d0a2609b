package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talenthall/backend/config"
	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/internal/realtime"
	"github.com/talenthall/backend/pkg/apperr"
	"github.com/talenthall/backend/pkg/metrics"
)

// Store is the durable queue entry store. The uniqueness constraint on
// (job seeker, booth) among active statuses and the compare-and-set
// transition live here; the service never holds locks across store
// calls.
type Store interface {
	InsertIfAbsent(ctx context.Context, e *models.QueueEntry) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error)
	GetByToken(ctx context.Context, token string) (*models.QueueEntry, error)
	ActiveByJobSeekerAndEvent(ctx context.Context, jobSeekerID, eventID uuid.UUID) (*models.QueueEntry, error)
	ActiveByJobSeekerAndBooth(ctx context.Context, jobSeekerID, boothID uuid.UUID) (*models.QueueEntry, error)
	ActiveByJobSeeker(ctx context.Context, jobSeekerID uuid.UUID) ([]models.QueueEntry, error)
	ListActiveByBooth(ctx context.Context, boothID uuid.UUID) ([]models.QueueEntry, error)
	MaxPosition(ctx context.Context, boothID uuid.UUID) (int, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.QueueStatus, now time.Time) (bool, error)
	TouchActivity(ctx context.Context, id uuid.UUID, now time.Time) error
	SetLeaveMessage(ctx context.Context, id uuid.UUID, msg models.LeaveMessage) error
	SetMeetingID(ctx context.Context, id, meetingID uuid.UUID) error
	CountByBoothStatuses(ctx context.Context, boothID uuid.UUID, statuses ...models.QueueStatus) (int, error)
	CountAhead(ctx context.Context, boothID uuid.UUID, position int) (int, error)
	AppendMessage(ctx context.Context, m *models.QueueMessage) error
	ListMessages(ctx context.Context, entryID uuid.UUID) ([]models.QueueMessage, error)
	MarkMessagesRead(ctx context.Context, entryID uuid.UUID, authoredBy models.MessageDirection) error
	UnreadCount(ctx context.Context, entryID uuid.UUID, forDirection models.MessageDirection) (int, error)
}

// CallChecker answers whether a live call or recent meeting exists for
// an entry. An in_meeting entry is never reclaimed while its call is
// live.
type CallChecker interface {
	HasActiveCallForEntry(ctx context.Context, entryID uuid.UUID) (bool, error)
	HasRecentMeetingForEntry(ctx context.Context, entryID uuid.UUID) (bool, error)
}

// BoothDirectory answers whether a recruiter is currently assigned to
// a booth.
type BoothDirectory interface {
	AssignedRecruiter(ctx context.Context, boothID uuid.UUID) (uuid.UUID, bool, error)
}

// LeaveMeetingRecorder creates the ancillary meeting record carrying a
// leave message. Failures here never roll back the leave itself.
type LeaveMeetingRecorder interface {
	RecordLeaveMessage(ctx context.Context, entry *models.QueueEntry, recruiterID uuid.UUID, msg models.LeaveMessage) error
}

// Service implements booth queue admission, ordering and the messaging
// sub-ledger.
type Service struct {
	store    Store
	calls    CallChecker
	booths   BoothDirectory
	meetings LeaveMeetingRecorder
	bc       realtime.Broadcaster
	cfg      config.QueueConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a queue service.
func NewService(store Store, calls CallChecker, booths BoothDirectory, bc realtime.Broadcaster, cfg config.QueueConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		calls:  calls,
		booths: booths,
		bc:     bc,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetMeetingRecorder wires the meeting side after both services exist.
func (s *Service) SetMeetingRecorder(m LeaveMeetingRecorder) {
	s.meetings = m
}

// JoinRequest is the input to Join.
type JoinRequest struct {
	JobSeekerID         uuid.UUID
	EventID             uuid.UUID
	BoothID             uuid.UUID
	InterpreterCategory *string
	AgreedToTerms       bool
	QueueToken          string // optional; generated when empty
}

// Join admits a job seeker into a booth's queue. Idempotent for an
// exact duplicate (same booth, still waiting); reclaims the caller's
// orphaned entries first; retries the insert exactly once when a
// concurrent join slips past the pre-check.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*models.QueueEntry, error) {
	if !req.AgreedToTerms {
		metrics.TrackJoin("error")
		return nil, apperr.Validation("agreed_to_terms", "terms must be accepted")
	}
	now := s.now()

	// Job seekers disconnect without an explicit leave; reclaim their
	// abandoned entries at other booths before admitting them here.
	if err := s.sweepOwnEntries(ctx, req.JobSeekerID, &req.BoothID, s.cfg.OrphanThreshold, now); err != nil {
		return nil, err
	}

	existing, err := s.store.ActiveByJobSeekerAndEvent(ctx, req.JobSeekerID, req.EventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.BoothID == req.BoothID && existing.Status == models.QueueWaiting {
			metrics.TrackJoin("idempotent")
			return existing, nil
		}
		if now.Sub(lastActivity(existing)) > s.cfg.StaleThreshold {
			reclaimed, err := s.reclaim(ctx, existing, now)
			if err != nil {
				return nil, err
			}
			if !reclaimed {
				metrics.TrackJoin("conflict")
				return nil, alreadyQueued(existing)
			}
		} else {
			metrics.TrackJoin("conflict")
			return nil, alreadyQueued(existing)
		}
	}

	entry, err := s.insertEntry(ctx, req, now)
	if err == nil {
		metrics.TrackJoin("created")
		s.broadcastQueueUpdated(entry, realtime.ActionJoined)
		return entry, nil
	}
	if _, ok := err.(*conflictOnInsert); !ok {
		return nil, err
	}

	// A concurrent join slipped past the pre-check. Reclaim the
	// conflicting row and re-attempt the insert exactly once.
	conflicting, cerr := s.store.ActiveByJobSeekerAndBooth(ctx, req.JobSeekerID, req.BoothID)
	if cerr != nil {
		return nil, cerr
	}
	if conflicting != nil {
		if _, rerr := s.reclaim(ctx, conflicting, now); rerr != nil {
			return nil, rerr
		}
	}
	entry, err = s.insertEntry(ctx, req, now)
	if err != nil {
		if _, ok := err.(*conflictOnInsert); ok {
			metrics.TrackJoin("error")
			return nil, &apperr.ConcurrencyError{Op: "queue join"}
		}
		return nil, err
	}
	metrics.TrackJoin("reclaimed_retry")
	s.broadcastQueueUpdated(entry, realtime.ActionJoined)
	return entry, nil
}

// conflictOnInsert is internal to the join retry loop.
type conflictOnInsert struct{}

func (*conflictOnInsert) Error() string { return "active entry exists" }

func (s *Service) insertEntry(ctx context.Context, req JoinRequest, now time.Time) (*models.QueueEntry, error) {
	max, err := s.store.MaxPosition(ctx, req.BoothID)
	if err != nil {
		return nil, err
	}
	token := req.QueueToken
	if token == "" {
		token = generateQueueToken(req.BoothID, req.JobSeekerID, now)
	}
	entry := &models.QueueEntry{
		EventID:             req.EventID,
		BoothID:             req.BoothID,
		JobSeekerID:         req.JobSeekerID,
		QueueToken:          token,
		Position:            max + 1,
		Status:              models.QueueWaiting,
		InterpreterCategory: req.InterpreterCategory,
		AgreedToTerms:       true,
		JoinedAt:            now,
		LastActivity:        now,
	}
	ok, err := s.store.InsertIfAbsent(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &conflictOnInsert{}
	}
	return entry, nil
}

// generateQueueToken derives a globally unique token from booth, job
// seeker and join instant.
func generateQueueToken(boothID, jobSeekerID uuid.UUID, now time.Time) string {
	seed := fmt.Sprintf("%s:%s:%d", boothID, jobSeekerID, now.UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func alreadyQueued(e *models.QueueEntry) error {
	return &apperr.AlreadyQueuedError{BoothID: e.BoothID, Position: e.Position, Status: string(e.Status)}
}

func lastActivity(e *models.QueueEntry) time.Time {
	if !e.LastActivity.IsZero() {
		return e.LastActivity
	}
	return e.CreatedAt
}

// sweepOwnEntries force-leaves the job seeker's waiting/in_meeting
// entries idle beyond the threshold, optionally skipping one booth.
// An in_meeting entry survives the sweep while its call is live.
func (s *Service) sweepOwnEntries(ctx context.Context, jobSeekerID uuid.UUID, skipBooth *uuid.UUID, threshold time.Duration, now time.Time) error {
	entries, err := s.store.ActiveByJobSeeker(ctx, jobSeekerID)
	if err != nil {
		return err
	}
	for i := range entries {
		e := &entries[i]
		if skipBooth != nil && e.BoothID == *skipBooth {
			continue
		}
		if e.Status != models.QueueWaiting && e.Status != models.QueueInMeeting {
			continue
		}
		if now.Sub(lastActivity(e)) < threshold {
			continue
		}
		if _, err := s.reclaim(ctx, e, now); err != nil {
			return err
		}
	}
	return nil
}

// reclaim force-transitions an abandoned entry to left. Returns false
// when the entry must be kept: its call is still live, or a concurrent
// writer moved it first.
func (s *Service) reclaim(ctx context.Context, e *models.QueueEntry, now time.Time) (bool, error) {
	if e.Status == models.QueueInMeeting {
		active, err := s.calls.HasActiveCallForEntry(ctx, e.ID)
		if err != nil {
			return false, err
		}
		if active {
			return false, nil
		}
	}
	ok, err := s.store.TransitionStatus(ctx, e.ID, e.Status, models.QueueLeft, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	metrics.TrackTransition(string(e.Status), string(models.QueueLeft))
	prior := e.Status
	e.Status = models.QueueLeft
	e.LeftAt = &now
	s.broadcastQueueUpdated(e, realtime.ActionLeft)
	s.logger.Info("reclaimed stale queue entry",
		zap.String("entry_id", e.ID.String()),
		zap.String("prior_status", string(prior)),
		zap.String("booth_id", e.BoothID.String()))
	return true, nil
}

// Leave transitions the caller's entry at the booth to left.
func (s *Service) Leave(ctx context.Context, jobSeekerID, boothID uuid.UUID) (*models.QueueEntry, error) {
	entry, err := s.store.ActiveByJobSeekerAndBooth(ctx, jobSeekerID, boothID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("queue entry", boothID.String())
	}
	now := s.now()
	next, err := Apply(*entry, models.QueueLeft, now)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.TransitionStatus(ctx, entry.ID, entry.Status, models.QueueLeft, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition("queue entry", string(entry.Status), string(models.QueueLeft))
	}
	metrics.TrackTransition(string(entry.Status), string(models.QueueLeft))
	s.broadcastQueueUpdated(&next, realtime.ActionLeft)
	return &next, nil
}

// LeaveWithMessage is the atomic compound leave: persist the message on
// the entry, transition to left_with_message, then best-effort create a
// meeting record carrying the message when a recruiter is assigned.
// The ancillary record failing never rolls back the leave.
func (s *Service) LeaveWithMessage(ctx context.Context, jobSeekerID uuid.UUID, boothID uuid.UUID, queueToken string, msgType models.MessageType, content string) (*models.QueueEntry, error) {
	if content == "" {
		return nil, apperr.Validation("content", "required")
	}
	entry, err := s.store.GetByToken(ctx, queueToken)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.BoothID != boothID {
		return nil, apperr.NotFound("queue entry", queueToken)
	}
	if entry.JobSeekerID != jobSeekerID {
		return nil, apperr.Permission("queue entry belongs to another job seeker")
	}
	now := s.now()
	msg := models.LeaveMessage{Type: msgType, Content: content, CreatedAt: now}

	// The message lands on the entry first so it survives even if the
	// meeting record below cannot be created.
	if err := s.store.SetLeaveMessage(ctx, entry.ID, msg); err != nil {
		return nil, err
	}
	next, err := Apply(*entry, models.QueueLeftWithMessage, now)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.TransitionStatus(ctx, entry.ID, entry.Status, models.QueueLeftWithMessage, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition("queue entry", string(entry.Status), string(models.QueueLeftWithMessage))
	}
	metrics.TrackTransition(string(entry.Status), string(models.QueueLeftWithMessage))
	next.LeaveMessage = &msg

	if recruiterID, assigned, derr := s.booths.AssignedRecruiter(ctx, boothID); derr == nil && assigned && s.meetings != nil {
		if merr := s.meetings.RecordLeaveMessage(ctx, &next, recruiterID, msg); merr != nil {
			s.logger.Warn("leave-message meeting record failed; message kept on entry",
				zap.String("entry_id", entry.ID.String()), zap.Error(merr))
		}
	} else if derr != nil {
		s.logger.Warn("booth assignment lookup failed; message kept on entry",
			zap.String("booth_id", boothID.String()), zap.Error(derr))
	}

	s.broadcastQueueUpdated(&next, realtime.ActionLeftWithMessage)
	return &next, nil
}

// Remove is the recruiter-initiated forced leave.
func (s *Service) Remove(ctx context.Context, entryID uuid.UUID) (*models.QueueEntry, error) {
	entry, err := s.store.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("queue entry", entryID.String())
	}
	if entry.Status.IsTerminal() {
		return nil, apperr.InvalidTransition("queue entry", string(entry.Status), string(models.QueueLeft))
	}
	now := s.now()
	ok, err := s.store.TransitionStatus(ctx, entry.ID, entry.Status, models.QueueLeft, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition("queue entry", string(entry.Status), string(models.QueueLeft))
	}
	metrics.TrackTransition(string(entry.Status), string(models.QueueLeft))
	entry.Status = models.QueueLeft
	entry.LeftAt = &now
	s.broadcastQueueUpdated(entry, realtime.ActionRemoved)
	return entry, nil
}

// CleanupOwn runs the admission-time reclamation for the caller's own
// entries: waiting entries idle beyond the orphan window, in_meeting
// entries beyond the stale window (with the live-call check).
func (s *Service) CleanupOwn(ctx context.Context, jobSeekerID uuid.UUID) error {
	now := s.now()
	entries, err := s.store.ActiveByJobSeeker(ctx, jobSeekerID)
	if err != nil {
		return err
	}
	for i := range entries {
		e := &entries[i]
		var threshold time.Duration
		switch e.Status {
		case models.QueueWaiting:
			threshold = s.cfg.OrphanThreshold
		case models.QueueInMeeting:
			threshold = s.cfg.StaleThreshold
		default:
			continue
		}
		if now.Sub(lastActivity(e)) < threshold {
			continue
		}
		if _, err := s.reclaim(ctx, e, now); err != nil {
			return err
		}
	}
	return nil
}

// Status returns the caller's queue snapshot at a booth and counts as
// a job-seeker-initiated action for activity tracking.
func (s *Service) Status(ctx context.Context, jobSeekerID, boothID uuid.UUID) (*models.QueueStatusView, error) {
	entry, err := s.store.ActiveByJobSeekerAndBooth(ctx, jobSeekerID, boothID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("queue entry", boothID.String())
	}
	now := s.now()
	if err := s.store.TouchActivity(ctx, entry.ID, now); err != nil {
		s.logger.Warn("touch activity failed", zap.Error(err))
	}

	serving, err := s.store.CountByBoothStatuses(ctx, boothID, models.QueueInvited, models.QueueInMeeting, models.QueueCompleted)
	if err != nil {
		return nil, err
	}
	waiting, err := s.store.CountByBoothStatuses(ctx, boothID, models.QueueWaiting)
	if err != nil {
		return nil, err
	}
	ahead, err := s.store.CountAhead(ctx, boothID, entry.Position)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.UnreadCount(ctx, entry.ID, models.DirectionJobSeeker)
	if err != nil {
		return nil, err
	}
	return &models.QueueStatusView{
		Position:       entry.Position,
		QueueToken:     entry.QueueToken,
		CurrentServing: serving + 1,
		WaitingCount:   waiting,
		PeopleAhead:    ahead,
		Status:         entry.Status,
		UnreadMessages: unread,
	}, nil
}

// BoothEntries returns the booth's active queue for the management
// console, each entry flagged when its owner is on a live call.
func (s *Service) BoothEntries(ctx context.Context, boothID uuid.UUID) ([]models.BoothEntry, error) {
	entries, err := s.store.ListActiveByBooth(ctx, boothID)
	if err != nil {
		return nil, err
	}
	out := make([]models.BoothEntry, 0, len(entries))
	for i := range entries {
		e := entries[i]
		inCall := e.Status == models.QueueInMeeting
		if !inCall {
			if active, err := s.calls.HasActiveCallForEntry(ctx, e.ID); err == nil && active {
				inCall = true
			}
		}
		if !inCall {
			if recent, err := s.calls.HasRecentMeetingForEntry(ctx, e.ID); err == nil && recent {
				inCall = true
			}
		}
		out = append(out, models.BoothEntry{QueueEntry: e, IsInCall: inCall})
	}
	return out, nil
}

// AddMessage appends to the entry's ledger. Legal only while the entry
// is waiting or invited; mid-meeting communication goes through the
// call channel.
func (s *Service) AddMessage(ctx context.Context, entryID uuid.UUID, direction models.MessageDirection, msgType models.MessageType, content string) (*models.QueueMessage, error) {
	if content == "" {
		return nil, apperr.Validation("content", "required")
	}
	entry, err := s.store.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("queue entry", entryID.String())
	}
	if entry.Status != models.QueueWaiting && entry.Status != models.QueueInvited {
		return nil, apperr.Validation("status", "messages allowed only while waiting or invited")
	}
	now := s.now()
	msg := &models.QueueMessage{
		QueueEntryID: entryID,
		Direction:    direction,
		Type:         msgType,
		Content:      content,
		CreatedAt:    now,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	if direction == models.DirectionJobSeeker {
		if err := s.store.TouchActivity(ctx, entry.ID, now); err != nil {
			s.logger.Warn("touch activity failed", zap.Error(err))
		}
		s.bc.Publish(realtime.BoothManagementTopic(entry.BoothID), realtime.EventNewQueueMessage, msg)
	} else {
		s.bc.Publish(realtime.UserTopic(entry.JobSeekerID), realtime.EventNewMessageFromRecruiter, msg)
	}
	return msg, nil
}

// MessageByToken resolves the entry by queue token before appending,
// for the job-seeker message endpoint.
func (s *Service) MessageByToken(ctx context.Context, jobSeekerID uuid.UUID, boothID uuid.UUID, queueToken string, msgType models.MessageType, content string) (*models.QueueMessage, error) {
	entry, err := s.store.GetByToken(ctx, queueToken)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.BoothID != boothID {
		return nil, apperr.NotFound("queue entry", queueToken)
	}
	if entry.JobSeekerID != jobSeekerID {
		return nil, apperr.Permission("queue entry belongs to another job seeker")
	}
	return s.AddMessage(ctx, entry.ID, models.DirectionJobSeeker, msgType, content)
}

// Messages returns the ledger and marks the opposite direction's
// messages as read for the viewer.
func (s *Service) Messages(ctx context.Context, entryID uuid.UUID, viewer models.MessageDirection) ([]models.QueueMessage, error) {
	entry, err := s.store.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("queue entry", entryID.String())
	}
	opposite := models.DirectionRecruiter
	if viewer == models.DirectionRecruiter {
		opposite = models.DirectionJobSeeker
	}
	if err := s.store.MarkMessagesRead(ctx, entryID, opposite); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, entryID)
}

// Entry returns a queue entry by ID.
func (s *Service) Entry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	entry, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("queue entry", id.String())
	}
	return entry, nil
}

// TransitionEntry performs a compare-and-set transition on behalf of
// the meeting lifecycle. The loser of a concurrent race receives
// InvalidTransitionError and must re-fetch.
func (s *Service) TransitionEntry(ctx context.Context, entryID uuid.UUID, from, to models.QueueStatus) (*models.QueueEntry, error) {
	if !CanTransition(from, to) {
		return nil, apperr.InvalidTransition("queue entry", string(from), string(to))
	}
	now := s.now()
	ok, err := s.store.TransitionStatus(ctx, entryID, from, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition("queue entry", string(from), string(to))
	}
	metrics.TrackTransition(string(from), string(to))
	entry, err := s.store.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.NotFound("queue entry", entryID.String())
	}
	return entry, nil
}

// LinkMeeting stores the meeting back-reference on the entry.
func (s *Service) LinkMeeting(ctx context.Context, entryID, meetingID uuid.UUID) error {
	return s.store.SetMeetingID(ctx, entryID, meetingID)
}

// ServingUpdated publishes the booth's serving change to its waiting
// room, letting waiting clients refresh their people-ahead counts.
func (s *Service) ServingUpdated(boothID uuid.UUID) {
	s.bc.Publish(realtime.BoothWaitingTopic(boothID), realtime.EventQueueServingUpdated, map[string]interface{}{
		"booth_id": boothID,
	})
}

func (s *Service) broadcastQueueUpdated(e *models.QueueEntry, action string) {
	payload := map[string]interface{}{
		"action":   action,
		"entry_id": e.ID,
		"booth_id": e.BoothID,
		"position": e.Position,
		"status":   e.Status,
	}
	s.bc.Publish(realtime.BoothWaitingTopic(e.BoothID), realtime.EventQueueUpdated, payload)
	s.bc.Publish(realtime.BoothManagementTopic(e.BoothID), realtime.EventQueueUpdated, payload)
}
