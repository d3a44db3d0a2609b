package meetings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/internal/realtime"
	"github.com/talenthall/backend/pkg/apperr"
)

// memStore is an in-memory Store with the same compare-and-set
// semantics as the Postgres repository.
type memStore struct {
	meetings    map[uuid.UUID]*models.Meeting
	sessions    map[uuid.UUID]*models.CallSession
	parts       []models.CallParticipant
	interps     []models.CallInterpreter
	messages    map[uuid.UUID][]models.MeetingMessage
	assignments map[uuid.UUID]uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		meetings:    map[uuid.UUID]*models.Meeting{},
		sessions:    map[uuid.UUID]*models.CallSession{},
		messages:    map[uuid.UUID][]models.MeetingMessage{},
		assignments: map[uuid.UUID]uuid.UUID{},
	}
}

func (s *memStore) CreateMeeting(_ context.Context, m *models.Meeting) error {
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	s.meetings[m.ID] = &cp
	return nil
}

func (s *memStore) GetMeeting(_ context.Context, id uuid.UUID) (*models.Meeting, error) {
	if m, ok := s.meetings[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) MeetingsByBooth(_ context.Context, boothID uuid.UUID, limit int) ([]models.Meeting, error) {
	var out []models.Meeting
	for _, m := range s.meetings {
		if m.BoothID == boothID && len(out) < limit {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) TransitionMeeting(_ context.Context, id uuid.UUID, from, to models.MeetingStatus, now time.Time) (bool, error) {
	m, ok := s.meetings[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	switch to {
	case models.MeetingActive:
		t := now
		m.StartTime = &t
	case models.MeetingCompleted, models.MeetingCancelled, models.MeetingFailed:
		t := now
		m.EndTime = &t
	}
	m.UpdatedAt = now
	return true, nil
}

func (s *memStore) SetMeetingDuration(_ context.Context, id uuid.UUID, minutes int, now time.Time) error {
	if m, ok := s.meetings[id]; ok {
		d := minutes
		m.DurationMinutes = &d
		m.UpdatedAt = now
	}
	return nil
}

func (s *memStore) SetMeetingCallSession(_ context.Context, meetingID, callSessionID uuid.UUID, now time.Time) error {
	if m, ok := s.meetings[meetingID]; ok {
		id := callSessionID
		m.CallSessionID = &id
		m.UpdatedAt = now
	}
	return nil
}

func (s *memStore) SetInterpreterRequest(_ context.Context, meetingID uuid.UUID, req models.InterpreterRequest, now time.Time) (bool, error) {
	m, ok := s.meetings[meetingID]
	if !ok || m.Status != models.MeetingActive {
		return false, nil
	}
	if m.InterpreterRequest != nil {
		st := m.InterpreterRequest.Status
		if st == models.InterpreterPending || st == models.InterpreterAccepted {
			return false, nil
		}
	}
	r := req
	m.InterpreterRequest = &r
	m.UpdatedAt = now
	return true, nil
}

func (s *memStore) AdvanceInterpreterRequest(_ context.Context, meetingID uuid.UUID, from, to models.InterpreterRequestStatus, patch map[string]interface{}, now time.Time) (bool, error) {
	m, ok := s.meetings[meetingID]
	if !ok || m.InterpreterRequest == nil || m.InterpreterRequest.Status != from {
		return false, nil
	}
	m.InterpreterRequest.Status = to
	if v, ok := patch["accepted_at"].(time.Time); ok {
		t := v
		m.InterpreterRequest.AcceptedAt = &t
	}
	if v, ok := patch["joined_at"].(time.Time); ok {
		t := v
		m.InterpreterRequest.JoinedAt = &t
	}
	m.UpdatedAt = now
	return true, nil
}

func (s *memStore) SetMeetingInterpreter(_ context.Context, meetingID, interpreterID uuid.UUID, now time.Time) error {
	if m, ok := s.meetings[meetingID]; ok {
		id := interpreterID
		m.InterpreterID = &id
		m.UpdatedAt = now
	}
	return nil
}

func (s *memStore) SetRecruiterReview(_ context.Context, meetingID uuid.UUID, rating *int, feedback *string, now time.Time) error {
	if m, ok := s.meetings[meetingID]; ok {
		if rating != nil {
			m.RecruiterRating = rating
		}
		if feedback != nil {
			m.RecruiterFeedback = feedback
		}
		m.UpdatedAt = now
	}
	return nil
}

func (s *memStore) SetJobSeekerFeedback(_ context.Context, meetingID uuid.UUID, feedback json.RawMessage, now time.Time) error {
	if m, ok := s.meetings[meetingID]; ok {
		m.Feedback = feedback
		m.UpdatedAt = now
	}
	return nil
}

func (s *memStore) CreateCallSession(_ context.Context, cs *models.CallSession) error {
	cs.ID = uuid.New()
	cs.CreatedAt = time.Now()
	cp := *cs
	s.sessions[cs.ID] = &cp
	return nil
}

func (s *memStore) GetCallSession(_ context.Context, id uuid.UUID) (*models.CallSession, error) {
	if cs, ok := s.sessions[id]; ok {
		cp := *cs
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) EndCallSession(_ context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (bool, error) {
	cs, ok := s.sessions[id]
	if !ok || cs.Status != models.CallActive {
		return false, nil
	}
	cs.Status = models.CallEnded
	t := endedAt
	cs.EndedAt = &t
	d := durationSeconds
	cs.DurationSeconds = &d
	return true, nil
}

func (s *memStore) AddParticipant(_ context.Context, p *models.CallParticipant) error {
	p.ID = uuid.New()
	s.parts = append(s.parts, *p)
	return nil
}

func (s *memStore) AddCallInterpreter(_ context.Context, ci *models.CallInterpreter) error {
	ci.ID = uuid.New()
	s.interps = append(s.interps, *ci)
	return nil
}

func (s *memStore) MarkInterpreterJoined(_ context.Context, callSessionID, interpreterID uuid.UUID) error {
	for i := range s.interps {
		if s.interps[i].CallSessionID == callSessionID && s.interps[i].InterpreterID == interpreterID {
			s.interps[i].Status = models.CallInterpreterJoined
		}
	}
	return nil
}

func (s *memStore) AssignRecruiter(_ context.Context, boothID, recruiterID uuid.UUID) error {
	s.assignments[boothID] = recruiterID
	return nil
}

func (s *memStore) AddMessage(_ context.Context, m *models.MeetingMessage) error {
	m.ID = uuid.New()
	s.messages[m.MeetingID] = append(s.messages[m.MeetingID], *m)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, meetingID uuid.UUID) ([]models.MeetingMessage, error) {
	return append([]models.MeetingMessage(nil), s.messages[meetingID]...), nil
}

// memQueue is an in-memory QueueCoordinator over a single entry.
type memQueue struct {
	entry          *models.QueueEntry
	linkedMeeting  *uuid.UUID
	servingBooths  []uuid.UUID
	failTransition bool // simulate losing the compare-and-set race
}

func (q *memQueue) Entry(_ context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	if q.entry == nil || q.entry.ID != id {
		return nil, apperr.NotFound("queue entry", id.String())
	}
	cp := *q.entry
	return &cp, nil
}

func (q *memQueue) TransitionEntry(_ context.Context, entryID uuid.UUID, from, to models.QueueStatus) (*models.QueueEntry, error) {
	if q.failTransition || q.entry == nil || q.entry.ID != entryID || q.entry.Status != from {
		return nil, apperr.InvalidTransition("queue entry", string(from), string(to))
	}
	q.entry.Status = to
	cp := *q.entry
	return &cp, nil
}

func (q *memQueue) LinkMeeting(_ context.Context, entryID, meetingID uuid.UUID) error {
	id := meetingID
	q.linkedMeeting = &id
	return nil
}

func (q *memQueue) ServingUpdated(boothID uuid.UUID) {
	q.servingBooths = append(q.servingBooths, boothID)
}

type eventSink struct {
	events []struct {
		Topic realtime.Topic
		Event string
	}
}

func (s *eventSink) Publish(topic realtime.Topic, event string, _ interface{}) {
	s.events = append(s.events, struct {
		Topic realtime.Topic
		Event string
	}{topic, event})
}

func (s *eventSink) has(topic realtime.Topic, event string) bool {
	for _, e := range s.events {
		if e.Topic == topic && e.Event == event {
			return true
		}
	}
	return false
}

type meetingFixture struct {
	store *memStore
	queue *memQueue
	sink  *eventSink
	svc   *Service
	clock time.Time
}

func newMeetingFixture(t *testing.T) *meetingFixture {
	t.Helper()
	f := &meetingFixture{
		store: newMemStore(),
		queue: &memQueue{},
		sink:  &eventSink{},
		clock: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, f.sink, zap.NewNop())
	f.svc.SetQueueCoordinator(f.queue)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *meetingFixture) waitingEntry() *models.QueueEntry {
	entry := &models.QueueEntry{
		ID:          uuid.New(),
		EventID:     uuid.New(),
		BoothID:     uuid.New(),
		JobSeekerID: uuid.New(),
		Status:      models.QueueWaiting,
	}
	f.queue.entry = entry
	return entry
}

func TestInvite(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	recruiter := uuid.New()

	meeting, err := f.svc.Invite(context.Background(), recruiter, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingScheduled, meeting.Status)
	assert.Equal(t, recruiter, meeting.RecruiterID)
	assert.Equal(t, entry.JobSeekerID, meeting.JobSeekerID)
	require.NotNil(t, meeting.QueueEntryID)
	assert.Equal(t, entry.ID, *meeting.QueueEntryID)

	assert.Equal(t, models.QueueInvited, f.queue.entry.Status)
	require.NotNil(t, f.queue.linkedMeeting)
	assert.Equal(t, meeting.ID, *f.queue.linkedMeeting)
	assert.True(t, f.sink.has(realtime.UserTopic(entry.JobSeekerID), realtime.EventQueueInvitedToMeeting))
	assert.Contains(t, f.queue.servingBooths, entry.BoothID)
}

func TestInviteRejectsNonWaitingEntry(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	entry.Status = models.QueueInvited

	_, err := f.svc.Invite(context.Background(), uuid.New(), entry.ID)
	var invalid *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Empty(t, f.store.meetings, "no meeting record created")
}

func TestInviteCancelsMeetingWhenEntryRaceLost(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	// The entry reads as waiting but a concurrent writer wins the
	// compare-and-set between the read and the transition.
	f.queue.failTransition = true

	_, err := f.svc.Invite(context.Background(), uuid.New(), entry.ID)
	var invalid *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	require.Len(t, f.store.meetings, 1)
	for _, m := range f.store.meetings {
		assert.Equal(t, models.MeetingCancelled, m.Status, "orphan meeting cancelled")
	}
}

func TestStartCall(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	recruiter := uuid.New()
	meeting, err := f.svc.Invite(context.Background(), recruiter, entry.ID)
	require.NoError(t, err)

	session, err := f.svc.StartCall(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallActive, session.Status)
	assert.NotEmpty(t, session.RoomName)

	stored, _ := f.store.GetMeeting(context.Background(), meeting.ID)
	assert.Equal(t, models.MeetingActive, stored.Status)
	require.NotNil(t, stored.StartTime)
	require.NotNil(t, stored.CallSessionID)
	assert.Equal(t, session.ID, *stored.CallSessionID)

	assert.Equal(t, models.QueueInMeeting, f.queue.entry.Status)
	assert.Len(t, f.store.parts, 2, "recruiter and job seeker recorded")
	assert.True(t, f.sink.has(realtime.CallRoomTopic(session.ID), realtime.EventCallStarted))
}

func TestStartCallRequiresScheduledMeeting(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	meeting, err := f.svc.Invite(context.Background(), uuid.New(), entry.ID)
	require.NoError(t, err)
	_, err = f.svc.StartCall(context.Background(), meeting.ID)
	require.NoError(t, err)

	_, err = f.svc.StartCall(context.Background(), meeting.ID)
	var invalid *apperr.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid, "second start rejected")
}

func TestEndCall(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	meeting, err := f.svc.Invite(context.Background(), uuid.New(), entry.ID)
	require.NoError(t, err)
	session, err := f.svc.StartCall(context.Background(), meeting.ID)
	require.NoError(t, err)

	f.clock = f.clock.Add(23 * time.Minute)

	done, err := f.svc.EndCall(context.Background(), meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingCompleted, done.Status)
	require.NotNil(t, done.EndTime)
	require.NotNil(t, done.DurationMinutes)
	assert.Equal(t, 23, *done.DurationMinutes)

	endedSession, _ := f.store.GetCallSession(context.Background(), session.ID)
	assert.Equal(t, models.CallEnded, endedSession.Status)
	require.NotNil(t, endedSession.DurationSeconds)
	assert.Equal(t, 23*60, *endedSession.DurationSeconds)

	assert.Equal(t, models.QueueCompleted, f.queue.entry.Status)
	assert.True(t, f.sink.has(realtime.CallRoomTopic(session.ID), realtime.EventCallEnded))
}

func TestEndCallIsIdempotentOnSession(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	meeting, err := f.svc.Invite(context.Background(), uuid.New(), entry.ID)
	require.NoError(t, err)
	session, err := f.svc.StartCall(context.Background(), meeting.ID)
	require.NoError(t, err)

	// The session was ended out-of-band; ending the meeting still works
	// and the session keeps its first end stamp.
	first := f.clock.Add(time.Minute)
	ended, err := f.store.EndCallSession(context.Background(), session.ID, first, 60)
	require.NoError(t, err)
	require.True(t, ended)

	f.clock = f.clock.Add(10 * time.Minute)
	_, err = f.svc.EndCall(context.Background(), meeting.ID)
	require.NoError(t, err)

	got, _ := f.store.GetCallSession(context.Background(), session.ID)
	assert.Equal(t, first, *got.EndedAt, "active -> ended happens exactly once")
	assert.Equal(t, 60, *got.DurationSeconds)
}

func TestInterpreterFlow(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	recruiter := uuid.New()
	meeting, err := f.svc.Invite(context.Background(), recruiter, entry.ID)
	require.NoError(t, err)
	session, err := f.svc.StartCall(context.Background(), meeting.ID)
	require.NoError(t, err)

	// Only the meeting's recruiter may request.
	_, err = f.svc.RequestInterpreter(context.Background(), uuid.New(), meeting.ID, "ASL", "hearing support")
	var perm *apperr.PermissionError
	require.ErrorAs(t, err, &perm)

	m, err := f.svc.RequestInterpreter(context.Background(), recruiter, meeting.ID, "ASL", "hearing support")
	require.NoError(t, err)
	require.NotNil(t, m.InterpreterRequest)
	assert.Equal(t, models.InterpreterPending, m.InterpreterRequest.Status)
	assert.True(t, f.sink.has(realtime.RoleTopic("interpreter"), realtime.EventInterpreterRequest))
	assert.True(t, f.sink.has(realtime.RoleTopic("global_interpreter"), realtime.EventInterpreterRequest))

	// A second open request is rejected.
	_, err = f.svc.RequestInterpreter(context.Background(), recruiter, meeting.ID, "ASL", "again")
	var v *apperr.ValidationError
	require.ErrorAs(t, err, &v)

	interpreter := uuid.New()
	m, err = f.svc.AcceptInterpreterRequest(context.Background(), interpreter, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InterpreterAccepted, m.InterpreterRequest.Status)
	require.NotNil(t, m.InterpreterRequest.AcceptedAt)
	require.NotNil(t, m.InterpreterID)
	assert.Equal(t, interpreter, *m.InterpreterID)
	require.Len(t, f.store.interps, 1)
	assert.Equal(t, models.CallInterpreterInvited, f.store.interps[0].Status)

	// The race loser sees the request already advanced.
	_, err = f.svc.AcceptInterpreterRequest(context.Background(), uuid.New(), meeting.ID)
	var it *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Equal(t, string(models.InterpreterAccepted), it.From)

	// Only the accepted interpreter may join.
	_, err = f.svc.JoinAsInterpreter(context.Background(), uuid.New(), meeting.ID)
	require.ErrorAs(t, err, &perm)

	joinedSession, err := f.svc.JoinAsInterpreter(context.Background(), interpreter, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, joinedSession.ID)

	final, _ := f.store.GetMeeting(context.Background(), meeting.ID)
	assert.Equal(t, models.InterpreterCompleted, final.InterpreterRequest.Status)
	require.NotNil(t, final.InterpreterRequest.JoinedAt)
	assert.True(t, f.sink.has(realtime.CallRoomTopic(session.ID), realtime.EventInterpreterJoined))
	require.Len(t, f.store.interps, 1)
	assert.Equal(t, models.CallInterpreterJoined, f.store.interps[0].Status)
}

func TestAssignRecruiter(t *testing.T) {
	f := newMeetingFixture(t)
	booth, recruiter := uuid.New(), uuid.New()
	require.NoError(t, f.svc.AssignRecruiter(context.Background(), booth, recruiter))
	assert.Equal(t, recruiter, f.store.assignments[booth])
}

func TestJoinBeforeAcceptRejected(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	recruiter := uuid.New()
	meeting, err := f.svc.Invite(context.Background(), recruiter, entry.ID)
	require.NoError(t, err)
	_, err = f.svc.StartCall(context.Background(), meeting.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestInterpreter(context.Background(), recruiter, meeting.ID, "ASL", "hearing support")
	require.NoError(t, err)

	// Joining while the request is still pending is a transition
	// violation, not a permission failure.
	_, err = f.svc.JoinAsInterpreter(context.Background(), uuid.New(), meeting.ID)
	var it *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Equal(t, string(models.InterpreterPending), it.From)
	assert.Equal(t, string(models.InterpreterCompleted), it.To)

	// No request at all is the same violation.
	other := f.waitingEntry()
	m2, err := f.svc.Invite(context.Background(), recruiter, other.ID)
	require.NoError(t, err)
	_, err = f.svc.StartCall(context.Background(), m2.ID)
	require.NoError(t, err)
	_, err = f.svc.JoinAsInterpreter(context.Background(), uuid.New(), m2.ID)
	require.ErrorAs(t, err, &it)
	assert.Equal(t, "none", it.From)
}

func TestRequestInterpreterRequiresActiveMeeting(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	recruiter := uuid.New()
	meeting, err := f.svc.Invite(context.Background(), recruiter, entry.ID)
	require.NoError(t, err)

	_, err = f.svc.RequestInterpreter(context.Background(), recruiter, meeting.ID, "ASL", "")
	var v *apperr.ValidationError
	assert.ErrorAs(t, err, &v, "scheduled meeting has no live call to interpret")
}

func TestRecordLeaveMessage(t *testing.T) {
	f := newMeetingFixture(t)
	recruiter := uuid.New()
	entry := &models.QueueEntry{
		ID:          uuid.New(),
		EventID:     uuid.New(),
		BoothID:     uuid.New(),
		JobSeekerID: uuid.New(),
		Status:      models.QueueLeftWithMessage,
	}
	msg := models.LeaveMessage{Type: models.MessageText, Content: "ping me later", CreatedAt: f.clock}

	require.NoError(t, f.svc.RecordLeaveMessage(context.Background(), entry, recruiter, msg))

	require.Len(t, f.store.meetings, 1)
	for _, m := range f.store.meetings {
		assert.Equal(t, models.MeetingLeftWithMessage, m.Status)
		assert.Equal(t, recruiter, m.RecruiterID)

		msgs, _ := f.store.ListMessages(context.Background(), m.ID)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].IsLeaveMessage)
		assert.Equal(t, models.MeetingMessageJobSeeker, msgs[0].Kind)
		assert.Equal(t, "ping me later", msgs[0].Content)
	}
	assert.True(t, f.sink.has(realtime.BoothManagementTopic(entry.BoothID), realtime.EventNewQueueMessage))
}

func TestSubmitReviewValidatesRating(t *testing.T) {
	f := newMeetingFixture(t)
	entry := f.waitingEntry()
	recruiter := uuid.New()
	meeting, err := f.svc.Invite(context.Background(), recruiter, entry.ID)
	require.NoError(t, err)

	bad := 6
	_, err = f.svc.SubmitReview(context.Background(), recruiter, meeting.ID, &bad, nil)
	var v *apperr.ValidationError
	require.ErrorAs(t, err, &v)

	good := 4
	note := "strong candidate"
	updated, err := f.svc.SubmitReview(context.Background(), recruiter, meeting.ID, &good, &note)
	require.NoError(t, err)
	assert.Equal(t, 4, *updated.RecruiterRating)
	assert.Equal(t, "strong candidate", *updated.RecruiterFeedback)

	_, err = f.svc.SubmitReview(context.Background(), uuid.New(), meeting.ID, &good, nil)
	var perm *apperr.PermissionError
	assert.ErrorAs(t, err, &perm)
}
