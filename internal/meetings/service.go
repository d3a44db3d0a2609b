package meetings

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talenthall/backend/internal/auth"
	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/internal/realtime"
	"github.com/talenthall/backend/pkg/apperr"
)

// QueueCoordinator is the slice of the queue service the meeting
// lifecycle drives: entry transitions are compare-and-set, so a lost
// race surfaces as InvalidTransitionError here.
type QueueCoordinator interface {
	Entry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error)
	TransitionEntry(ctx context.Context, entryID uuid.UUID, from, to models.QueueStatus) (*models.QueueEntry, error)
	LinkMeeting(ctx context.Context, entryID, meetingID uuid.UUID) error
	ServingUpdated(boothID uuid.UUID)
}

// Store is the persistence surface the meeting lifecycle writes to.
// *Repository is the production implementation.
type Store interface {
	CreateMeeting(ctx context.Context, m *models.Meeting) error
	GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	MeetingsByBooth(ctx context.Context, boothID uuid.UUID, limit int) ([]models.Meeting, error)
	TransitionMeeting(ctx context.Context, id uuid.UUID, from, to models.MeetingStatus, now time.Time) (bool, error)
	SetMeetingDuration(ctx context.Context, id uuid.UUID, minutes int, now time.Time) error
	SetMeetingCallSession(ctx context.Context, meetingID, callSessionID uuid.UUID, now time.Time) error
	SetInterpreterRequest(ctx context.Context, meetingID uuid.UUID, req models.InterpreterRequest, now time.Time) (bool, error)
	AdvanceInterpreterRequest(ctx context.Context, meetingID uuid.UUID, from, to models.InterpreterRequestStatus, patch map[string]interface{}, now time.Time) (bool, error)
	SetMeetingInterpreter(ctx context.Context, meetingID, interpreterID uuid.UUID, now time.Time) error
	SetRecruiterReview(ctx context.Context, meetingID uuid.UUID, rating *int, feedback *string, now time.Time) error
	SetJobSeekerFeedback(ctx context.Context, meetingID uuid.UUID, feedback json.RawMessage, now time.Time) error
	CreateCallSession(ctx context.Context, cs *models.CallSession) error
	GetCallSession(ctx context.Context, id uuid.UUID) (*models.CallSession, error)
	EndCallSession(ctx context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (bool, error)
	AddParticipant(ctx context.Context, p *models.CallParticipant) error
	AddCallInterpreter(ctx context.Context, ci *models.CallInterpreter) error
	MarkInterpreterJoined(ctx context.Context, callSessionID, interpreterID uuid.UUID) error
	AssignRecruiter(ctx context.Context, boothID, recruiterID uuid.UUID) error
	AddMessage(ctx context.Context, m *models.MeetingMessage) error
	ListMessages(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingMessage, error)
}

// Service drives the meeting and call lifecycle: invite, call start
// and end, and the interpreter sub-flow.
type Service struct {
	repo   Store
	queue  QueueCoordinator
	bc     realtime.Broadcaster
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a meetings service. The queue coordinator is
// wired afterwards via SetQueueCoordinator because the two services
// reference each other.
func NewService(repo Store, bc realtime.Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, bc: bc, logger: logger, now: time.Now}
}

// SetQueueCoordinator wires the queue side after both services exist.
func (s *Service) SetQueueCoordinator(q QueueCoordinator) {
	s.queue = q
}

// Invite moves a waiting entry to invited and creates the scheduled
// meeting record. Losing the entry race cancels the freshly created
// meeting so no orphan survives.
func (s *Service) Invite(ctx context.Context, recruiterID, entryID uuid.UUID) (*models.Meeting, error) {
	entry, err := s.queue.Entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.QueueWaiting {
		return nil, apperr.InvalidTransition("queue entry", string(entry.Status), string(models.QueueInvited))
	}

	meeting := &models.Meeting{
		EventID:      entry.EventID,
		BoothID:      entry.BoothID,
		QueueEntryID: &entry.ID,
		RecruiterID:  recruiterID,
		JobSeekerID:  entry.JobSeekerID,
		Status:       models.MeetingScheduled,
	}
	if err := s.repo.CreateMeeting(ctx, meeting); err != nil {
		return nil, err
	}

	if _, err := s.queue.TransitionEntry(ctx, entryID, models.QueueWaiting, models.QueueInvited); err != nil {
		now := s.now()
		if _, cerr := s.repo.TransitionMeeting(ctx, meeting.ID, models.MeetingScheduled, models.MeetingCancelled, now); cerr != nil {
			s.logger.Warn("orphan meeting cancel failed", zap.String("meeting_id", meeting.ID.String()), zap.Error(cerr))
		}
		return nil, err
	}
	if err := s.queue.LinkMeeting(ctx, entryID, meeting.ID); err != nil {
		s.logger.Warn("link meeting to entry failed", zap.String("entry_id", entryID.String()), zap.Error(err))
	}

	s.bc.Publish(realtime.UserTopic(entry.JobSeekerID), realtime.EventQueueInvitedToMeeting, map[string]interface{}{
		"meeting_id": meeting.ID,
		"booth_id":   entry.BoothID,
		"entry_id":   entry.ID,
	})
	s.queue.ServingUpdated(entry.BoothID)
	return meeting, nil
}

// StartCall opens the live call: creates the active call session,
// activates the meeting and moves the entry to in_meeting.
func (s *Service) StartCall(ctx context.Context, meetingID uuid.UUID) (*models.CallSession, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting", meetingID.String())
	}
	if meeting.Status != models.MeetingScheduled {
		return nil, apperr.InvalidTransition("meeting", string(meeting.Status), string(models.MeetingActive))
	}
	now := s.now()

	session := &models.CallSession{
		RoomName:     fmt.Sprintf("booth-%s-%s", meeting.BoothID, uuid.New().String()[:8]),
		EventID:      meeting.EventID,
		BoothID:      meeting.BoothID,
		RecruiterID:  meeting.RecruiterID,
		JobSeekerID:  meeting.JobSeekerID,
		QueueEntryID: meeting.QueueEntryID,
		Status:       models.CallActive,
		StartedAt:    now,
	}
	if err := s.repo.CreateCallSession(ctx, session); err != nil {
		return nil, err
	}

	ok, err := s.repo.TransitionMeeting(ctx, meetingID, models.MeetingScheduled, models.MeetingActive, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, eerr := s.repo.EndCallSession(ctx, session.ID, now, 0); eerr != nil {
			s.logger.Warn("orphan call session end failed", zap.String("call_session_id", session.ID.String()), zap.Error(eerr))
		}
		return nil, apperr.InvalidTransition("meeting", string(meeting.Status), string(models.MeetingActive))
	}
	if err := s.repo.SetMeetingCallSession(ctx, meetingID, session.ID, now); err != nil {
		s.logger.Warn("link call session to meeting failed", zap.Error(err))
	}

	if meeting.QueueEntryID != nil {
		if _, err := s.queue.TransitionEntry(ctx, *meeting.QueueEntryID, models.QueueInvited, models.QueueInMeeting); err != nil {
			s.logger.Warn("entry transition to in_meeting failed",
				zap.String("entry_id", meeting.QueueEntryID.String()), zap.Error(err))
		}
	}

	for _, p := range []struct {
		id   uuid.UUID
		role models.ParticipantRole
	}{
		{meeting.RecruiterID, models.ParticipantRecruiter},
		{meeting.JobSeekerID, models.ParticipantJobSeeker},
	} {
		part := &models.CallParticipant{CallSessionID: session.ID, ParticipantID: p.id, Role: p.role, JoinedAt: now}
		if err := s.repo.AddParticipant(ctx, part); err != nil {
			s.logger.Warn("record call participant failed", zap.Error(err))
		}
	}

	s.bc.Publish(realtime.CallRoomTopic(session.ID), realtime.EventCallStarted, session)
	s.bc.Publish(realtime.UserTopic(meeting.JobSeekerID), realtime.EventCallStarted, session)
	return session, nil
}

// EndCall closes the live call: ends the session exactly once, completes
// the meeting with its duration, and moves the entry to completed.
func (s *Service) EndCall(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting", meetingID.String())
	}
	if meeting.Status != models.MeetingActive {
		return nil, apperr.InvalidTransition("meeting", string(meeting.Status), string(models.MeetingCompleted))
	}
	now := s.now()

	if meeting.CallSessionID != nil {
		session, err := s.repo.GetCallSession(ctx, *meeting.CallSessionID)
		if err != nil {
			return nil, err
		}
		if session != nil {
			secs := int(now.Sub(session.StartedAt).Seconds())
			if ended, err := s.repo.EndCallSession(ctx, session.ID, now, secs); err != nil {
				return nil, err
			} else if !ended {
				s.logger.Info("call session already ended", zap.String("call_session_id", session.ID.String()))
			}
		}
	}

	ok, err := s.repo.TransitionMeeting(ctx, meetingID, models.MeetingActive, models.MeetingCompleted, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition("meeting", string(meeting.Status), string(models.MeetingCompleted))
	}

	var minutes int
	if meeting.StartTime != nil {
		minutes = int(math.Round(now.Sub(*meeting.StartTime).Seconds() / 60))
	}
	if err := s.repo.SetMeetingDuration(ctx, meetingID, minutes, now); err != nil {
		s.logger.Warn("set meeting duration failed", zap.Error(err))
	}

	if meeting.QueueEntryID != nil {
		if _, err := s.queue.TransitionEntry(ctx, *meeting.QueueEntryID, models.QueueInMeeting, models.QueueCompleted); err != nil {
			s.logger.Warn("entry transition to completed failed",
				zap.String("entry_id", meeting.QueueEntryID.String()), zap.Error(err))
		}
	}

	if meeting.CallSessionID != nil {
		s.bc.Publish(realtime.CallRoomTopic(*meeting.CallSessionID), realtime.EventCallEnded, map[string]interface{}{
			"meeting_id": meetingID,
		})
	}
	s.queue.ServingUpdated(meeting.BoothID)
	return s.repo.GetMeeting(ctx, meetingID)
}

// RequestInterpreter opens the interpreter sub-flow on an active
// meeting. Only the meeting's recruiter may request; one open request
// at a time.
func (s *Service) RequestInterpreter(ctx context.Context, requesterID, meetingID uuid.UUID, language, reason string) (*models.Meeting, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting", meetingID.String())
	}
	if meeting.RecruiterID != requesterID {
		return nil, apperr.Permission("only the meeting's recruiter may request an interpreter")
	}
	if meeting.Status != models.MeetingActive {
		return nil, apperr.Validation("status", "interpreter requests require an active meeting")
	}
	now := s.now()

	req := models.InterpreterRequest{
		RequestedAt: now,
		RequestedBy: requesterID,
		Reason:      reason,
		Language:    language,
		Status:      models.InterpreterPending,
	}
	ok, err := s.repo.SetInterpreterRequest(ctx, meetingID, req, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation("interpreter_request", "a request is already open for this meeting")
	}

	payload := map[string]interface{}{
		"meeting_id": meetingID,
		"booth_id":   meeting.BoothID,
		"language":   language,
		"reason":     reason,
	}
	s.bc.Publish(realtime.RoleTopic(auth.RoleInterpreter), realtime.EventInterpreterRequest, payload)
	s.bc.Publish(realtime.RoleTopic(auth.RoleGlobalInterpreter), realtime.EventInterpreterRequest, payload)
	if meeting.CallSessionID != nil {
		s.bc.Publish(realtime.CallRoomTopic(*meeting.CallSessionID), realtime.EventInterpreterRequest, payload)
	}
	return s.repo.GetMeeting(ctx, meetingID)
}

// AcceptInterpreterRequest claims the pending request. The
// compare-and-set on the nested status means exactly one of several
// concurrent acceptors wins.
func (s *Service) AcceptInterpreterRequest(ctx context.Context, interpreterID, meetingID uuid.UUID) (*models.Meeting, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting", meetingID.String())
	}
	now := s.now()

	ok, err := s.repo.AdvanceInterpreterRequest(ctx, meetingID,
		models.InterpreterPending, models.InterpreterAccepted,
		map[string]interface{}{"accepted_at": now}, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		from := "none"
		if fresh, ferr := s.repo.GetMeeting(ctx, meetingID); ferr == nil && fresh != nil && fresh.InterpreterRequest != nil {
			from = string(fresh.InterpreterRequest.Status)
		}
		return nil, apperr.InvalidTransition("interpreter request", from, string(models.InterpreterAccepted))
	}
	if err := s.repo.SetMeetingInterpreter(ctx, meetingID, interpreterID, now); err != nil {
		s.logger.Warn("set meeting interpreter failed", zap.Error(err))
	}
	if meeting.CallSessionID != nil {
		ci := &models.CallInterpreter{CallSessionID: *meeting.CallSessionID,
			InterpreterID: interpreterID, Status: models.CallInterpreterInvited}
		if err := s.repo.AddCallInterpreter(ctx, ci); err != nil {
			s.logger.Warn("record call interpreter failed", zap.Error(err))
		}
	}

	payload := map[string]interface{}{
		"meeting_id":     meetingID,
		"interpreter_id": interpreterID,
	}
	if meeting.CallSessionID != nil {
		s.bc.Publish(realtime.CallRoomTopic(*meeting.CallSessionID), realtime.EventInterpreterAccepted, payload)
	}
	s.bc.Publish(realtime.UserTopic(meeting.RecruiterID), realtime.EventInterpreterAccepted, payload)
	return s.repo.GetMeeting(ctx, meetingID)
}

// JoinAsInterpreter completes the sub-flow: the accepted interpreter
// joins the live call, stamping joined_at and registering on the
// session.
func (s *Service) JoinAsInterpreter(ctx context.Context, interpreterID, meetingID uuid.UUID) (*models.CallSession, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting", meetingID.String())
	}
	if meeting.InterpreterRequest == nil || meeting.InterpreterRequest.Status != models.InterpreterAccepted {
		from := "none"
		if meeting.InterpreterRequest != nil {
			from = string(meeting.InterpreterRequest.Status)
		}
		return nil, apperr.InvalidTransition("interpreter request", from, string(models.InterpreterCompleted))
	}
	if meeting.InterpreterID == nil || *meeting.InterpreterID != interpreterID {
		return nil, apperr.Permission("interpreter request was accepted by another interpreter")
	}
	if meeting.CallSessionID == nil {
		return nil, apperr.Validation("call_session", "meeting has no live call")
	}
	now := s.now()

	ok, err := s.repo.AdvanceInterpreterRequest(ctx, meetingID,
		models.InterpreterAccepted, models.InterpreterCompleted,
		map[string]interface{}{"joined_at": now}, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition("interpreter request",
			string(models.InterpreterAccepted), string(models.InterpreterCompleted))
	}

	session, err := s.repo.GetCallSession(ctx, *meeting.CallSessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status != models.CallActive {
		return nil, apperr.Validation("call_session", "call is no longer live")
	}

	if err := s.repo.MarkInterpreterJoined(ctx, session.ID, interpreterID); err != nil {
		s.logger.Warn("mark call interpreter joined failed", zap.Error(err))
	}
	part := &models.CallParticipant{CallSessionID: session.ID, ParticipantID: interpreterID,
		Role: models.ParticipantInterpreter, JoinedAt: now}
	if err := s.repo.AddParticipant(ctx, part); err != nil {
		s.logger.Warn("record call participant failed", zap.Error(err))
	}

	s.bc.Publish(realtime.CallRoomTopic(session.ID), realtime.EventInterpreterJoined, map[string]interface{}{
		"meeting_id":     meetingID,
		"interpreter_id": interpreterID,
	})
	return session, nil
}

// RecordLeaveMessage creates the ancillary meeting record for a
// left-with-message departure: a left_with_message meeting carrying
// the note so the recruiter's console surfaces it.
func (s *Service) RecordLeaveMessage(ctx context.Context, entry *models.QueueEntry, recruiterID uuid.UUID, msg models.LeaveMessage) error {
	meeting := &models.Meeting{
		EventID:      entry.EventID,
		BoothID:      entry.BoothID,
		QueueEntryID: &entry.ID,
		RecruiterID:  recruiterID,
		JobSeekerID:  entry.JobSeekerID,
		Status:       models.MeetingLeftWithMessage,
	}
	if err := s.repo.CreateMeeting(ctx, meeting); err != nil {
		return err
	}
	mm := &models.MeetingMessage{
		MeetingID:      meeting.ID,
		SenderID:       entry.JobSeekerID,
		SenderRole:     auth.RoleJobSeeker,
		Kind:           models.MeetingMessageJobSeeker,
		Type:           msg.Type,
		Content:        msg.Content,
		IsLeaveMessage: true,
		CreatedAt:      msg.CreatedAt,
	}
	if err := s.repo.AddMessage(ctx, mm); err != nil {
		return err
	}
	s.bc.Publish(realtime.BoothManagementTopic(entry.BoothID), realtime.EventNewQueueMessage, mm)
	return nil
}

// Meeting returns a meeting by ID.
func (s *Service) Meeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	m, err := s.repo.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperr.NotFound("meeting", id.String())
	}
	return m, nil
}

// CallSession returns a call session by ID.
func (s *Service) CallSession(ctx context.Context, id uuid.UUID) (*models.CallSession, error) {
	cs, err := s.repo.GetCallSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, apperr.NotFound("call session", id.String())
	}
	return cs, nil
}

// BoothMeetings lists the booth's meeting history.
func (s *Service) BoothMeetings(ctx context.Context, boothID uuid.UUID, limit int) ([]models.Meeting, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.MeetingsByBooth(ctx, boothID, limit)
}

// AssignRecruiter marks the recruiter as staffing the booth. The
// assignment routes leave-with-message notes when no meeting exists.
func (s *Service) AssignRecruiter(ctx context.Context, boothID, recruiterID uuid.UUID) error {
	return s.repo.AssignRecruiter(ctx, boothID, recruiterID)
}

// SendMessage appends a chat message to the meeting and fans it out to
// the call room.
func (s *Service) SendMessage(ctx context.Context, meetingID, senderID uuid.UUID, senderRole string, msgType models.MessageType, content string) (*models.MeetingMessage, error) {
	if content == "" {
		return nil, apperr.Validation("content", "required")
	}
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting", meetingID.String())
	}
	m := &models.MeetingMessage{
		MeetingID:  meetingID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Kind:       models.MeetingMessageChat,
		Type:       msgType,
		Content:    content,
		CreatedAt:  s.now(),
	}
	if err := s.repo.AddMessage(ctx, m); err != nil {
		return nil, err
	}
	if meeting.CallSessionID != nil {
		s.bc.Publish(realtime.CallRoomTopic(*meeting.CallSessionID), realtime.EventMeetingMessage, m)
	}
	return m, nil
}

// Messages lists the meeting's message history.
func (s *Service) Messages(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingMessage, error) {
	return s.repo.ListMessages(ctx, meetingID)
}

// SubmitReview stores the recruiter's rating and feedback note.
func (s *Service) SubmitReview(ctx context.Context, recruiterID, meetingID uuid.UUID, rating *int, feedback *string) (*models.Meeting, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting", meetingID.String())
	}
	if meeting.RecruiterID != recruiterID {
		return nil, apperr.Permission("only the meeting's recruiter may review it")
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, apperr.Validation("rating", "must be between 1 and 5")
	}
	if err := s.repo.SetRecruiterReview(ctx, meetingID, rating, feedback, s.now()); err != nil {
		return nil, err
	}
	return s.repo.GetMeeting(ctx, meetingID)
}

// SubmitFeedback stores the job seeker's structured feedback.
func (s *Service) SubmitFeedback(ctx context.Context, jobSeekerID, meetingID uuid.UUID, feedback json.RawMessage) (*models.Meeting, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, apperr.NotFound("meeting", meetingID.String())
	}
	if meeting.JobSeekerID != jobSeekerID {
		return nil, apperr.Permission("only the meeting's job seeker may leave feedback")
	}
	if err := s.repo.SetJobSeekerFeedback(ctx, meetingID, feedback, s.now()); err != nil {
		return nil, err
	}
	return s.repo.GetMeeting(ctx, meetingID)
}
