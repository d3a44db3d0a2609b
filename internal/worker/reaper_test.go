package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talenthall/backend/config"
	"github.com/talenthall/backend/internal/models"
	"github.com/talenthall/backend/internal/realtime"
)

type stubStore struct {
	entries map[uuid.UUID]*models.QueueEntry
}

func (s *stubStore) StaleEntries(_ context.Context, statuses []models.QueueStatus, before time.Time) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	for _, e := range s.entries {
		for _, st := range statuses {
			if e.Status == st && e.LastActivity.Before(before) {
				out = append(out, *e)
				break
			}
		}
	}
	return out, nil
}

func (s *stubStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.QueueStatus, now time.Time) (bool, error) {
	e, ok := s.entries[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	t := now
	e.LeftAt = &t
	return true, nil
}

type stubCalls struct {
	active map[uuid.UUID]bool
	err    error
}

func (s *stubCalls) HasActiveCallForEntry(_ context.Context, entryID uuid.UUID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.active[entryID], nil
}

func reaperConfig() config.QueueConfig {
	return config.QueueConfig{
		OrphanThreshold: time.Minute,
		StaleThreshold:  2 * time.Minute,
		ReaperInterval:  15 * time.Minute,
		ReaperThreshold: 5 * time.Hour,
	}
}

func entryAt(status models.QueueStatus, lastActivity time.Time) *models.QueueEntry {
	return &models.QueueEntry{
		ID:           uuid.New(),
		BoothID:      uuid.New(),
		JobSeekerID:  uuid.New(),
		Status:       status,
		LastActivity: lastActivity,
	}
}

func TestSweepReclaimsIdleEntries(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fresh := entryAt(models.QueueWaiting, now.Add(-time.Hour))
	staleWaiting := entryAt(models.QueueWaiting, now.Add(-6*time.Hour))
	staleMeeting := entryAt(models.QueueInMeeting, now.Add(-6*time.Hour))
	invited := entryAt(models.QueueInvited, now.Add(-6*time.Hour))

	store := &stubStore{entries: map[uuid.UUID]*models.QueueEntry{
		fresh.ID: fresh, staleWaiting.ID: staleWaiting, staleMeeting.ID: staleMeeting, invited.ID: invited,
	}}
	calls := &stubCalls{active: map[uuid.UUID]bool{}}
	r := NewReaper(store, calls, realtime.NopBroadcaster{}, reaperConfig(), zap.NewNop())
	r.now = func() time.Time { return now }

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, models.QueueWaiting, fresh.Status, "inside the threshold")
	assert.Equal(t, models.QueueLeft, staleWaiting.Status)
	assert.Equal(t, models.QueueLeft, staleMeeting.Status)
	assert.Equal(t, models.QueueInvited, invited.Status, "invited entries are not swept")
}

func TestSweepKeepsLiveCalls(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	onCall := entryAt(models.QueueInMeeting, now.Add(-8*time.Hour))

	store := &stubStore{entries: map[uuid.UUID]*models.QueueEntry{onCall.ID: onCall}}
	calls := &stubCalls{active: map[uuid.UUID]bool{onCall.ID: true}}
	r := NewReaper(store, calls, realtime.NopBroadcaster{}, reaperConfig(), zap.NewNop())
	r.now = func() time.Time { return now }

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.QueueInMeeting, onCall.Status, "a live call always wins")
}

func TestSweepKeepsEntryWhenCallCheckFails(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e := entryAt(models.QueueInMeeting, now.Add(-8*time.Hour))

	store := &stubStore{entries: map[uuid.UUID]*models.QueueEntry{e.ID: e}}
	calls := &stubCalls{err: assert.AnError}
	r := NewReaper(store, calls, realtime.NopBroadcaster{}, reaperConfig(), zap.NewNop())
	r.now = func() time.Time { return now }

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.QueueInMeeting, e.Status, "uncertainty keeps the entry")
}

func TestSweepBroadcastsReclamations(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e := entryAt(models.QueueWaiting, now.Add(-6*time.Hour))

	store := &stubStore{entries: map[uuid.UUID]*models.QueueEntry{e.ID: e}}
	sink := &captureBroadcaster{}
	r := NewReaper(store, &stubCalls{active: map[uuid.UUID]bool{}}, sink, reaperConfig(), zap.NewNop())
	r.now = func() time.Time { return now }

	_, err := r.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.topics, 2)
	assert.Contains(t, sink.topics, realtime.BoothWaitingTopic(e.BoothID))
	assert.Contains(t, sink.topics, realtime.BoothManagementTopic(e.BoothID))
}

type captureBroadcaster struct {
	topics []realtime.Topic
}

func (c *captureBroadcaster) Publish(topic realtime.Topic, _ string, _ interface{}) {
	c.topics = append(c.topics, topic)
}
