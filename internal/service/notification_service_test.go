package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schednotify/internal/cache"
	"schednotify/internal/event"
	"schednotify/internal/model"
)

// fakeStore reproduces the claim semantics of the SQL repository: selection
// and the is_sent flip happen under one lock, so concurrent claimers get
// disjoint sets.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []model.Notification
}

func (f *fakeStore) ClaimDue(_ context.Context, userID string, now time.Time) ([]model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Notification
	for i := range f.rows {
		r := &f.rows[i]
		if r.UserID == userID && !r.IsSent && !r.NotifyAt.After(now) {
			r.IsSent = true
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimAllDue(_ context.Context, now time.Time) ([]model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Notification
	for i := range f.rows {
		r := &f.rows[i]
		if !r.IsSent && !r.NotifyAt.After(now) {
			r.IsSent = true
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) Insert(_ context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	n.ID = f.nextID
	f.rows = append(f.rows, *n)
	return nil
}

func (f *fakeStore) CheckMany(_ context.Context, userID string, ids []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var updated int64
	for i := range f.rows {
		r := &f.rows[i]
		for _, id := range ids {
			if r.ID == id && r.UserID == userID && !r.IsChecked {
				r.IsChecked = true
				updated++
			}
		}
	}
	return updated, nil
}

func (f *fakeStore) Delete(_ context.Context, userID string, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.rows {
		if f.rows[i].ID == id && f.rows[i].UserID == userID {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) get(id int64) *model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			n := f.rows[i]
			return &n
		}
	}
	return nil
}

type fakeSchedules struct {
	schedules []model.Schedule
}

func (f *fakeSchedules) GetByID(_ context.Context, userID string, id int64) (*model.Schedule, error) {
	for _, s := range f.schedules {
		if s.ID == id && s.UserID == userID {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeSchedules) FindByTitle(_ context.Context, userID, title string) (*model.Schedule, error) {
	for _, s := range f.schedules {
		if s.UserID == userID && strings.Contains(strings.ToLower(s.Title), strings.ToLower(title)) {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

// fakeCache is an always-available in-memory cache; TTL expiry is not
// simulated because the tests drive it explicitly.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[key]
	return v, ok
}

func (f *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	return true
}

func (f *fakeCache) DeletePattern(_ context.Context, pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Patterns in this codebase are "prefix:*:suffix" shaped.
	parts := strings.SplitN(pattern, "*", 2)
	var deleted int
	for k := range f.entries {
		if strings.HasPrefix(k, parts[0]) && (len(parts) < 2 || strings.HasSuffix(k, parts[1])) {
			delete(f.entries, k)
			deleted++
		}
	}
	return deleted
}

// downCache simulates an unreachable Redis: every read misses, every write
// fails.
type downCache struct{}

func (downCache) Get(context.Context, string) (string, bool) { return "", false }

func (downCache) Set(context.Context, string, string, time.Duration) bool { return false }

func (downCache) DeletePattern(context.Context, string) int { return 0 }

type published struct {
	Type   event.Type
	UserID string
	Data   map[string]any
}

type fakeBus struct {
	mu     sync.Mutex
	events []published
	ok     bool
}

func (f *fakeBus) Publish(_ context.Context, t event.Type, userID string, data map[string]any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{Type: t, UserID: userID, Data: data})
	return f.ok
}

func (f *fakeBus) byType(t event.Type) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newService(store *fakeStore, schedules *fakeSchedules, c Cache, bus *fakeBus) *NotificationService {
	return NewNotificationService(store, schedules, c, bus, zap.NewNop())
}

func due(id int64, userID string, at time.Time) model.Notification {
	return model.Notification{ID: id, UserID: userID, Message: "reminder", NotifyAt: at}
}

func TestGetPendingClaimsAndPublishes(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{nextID: 2, rows: []model.Notification{
		due(1, "u1", now.Add(-time.Minute)),
		due(2, "u1", now.Add(time.Hour)), // not yet due
	}}
	bus := &fakeBus{ok: true}
	svc := newService(store, &fakeSchedules{}, newFakeCache(), bus)

	got, err := svc.GetPending(context.Background(), "u1", now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsSent)
	assert.True(t, store.get(1).IsSent)
	assert.False(t, store.get(2).IsSent)

	sent := bus.byType(event.NotificationSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "u1", sent[0].UserID)
}

func TestGetPendingReplaysSnapshotWithinTTL(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{nextID: 1, rows: []model.Notification{
		due(1, "u1", now.Add(-time.Minute)),
	}}
	bus := &fakeBus{ok: true}
	svc := newService(store, &fakeSchedules{}, newFakeCache(), bus)

	first, err := svc.GetPending(context.Background(), "u1", now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Mutate the store after the first read; the replay must not see it.
	store.mu.Lock()
	store.rows = append(store.rows, due(99, "u1", now.Add(-time.Hour)))
	store.mu.Unlock()

	second, err := svc.GetPending(context.Background(), "u1", now)
	require.NoError(t, err)

	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	assert.Equal(t, string(firstJSON), string(secondJSON))

	// Only the first pass published events.
	assert.Len(t, bus.byType(event.NotificationSent), 1)
}

func TestGetPendingCachesEmptyBatch(t *testing.T) {
	now := time.Now().UTC()
	c := newFakeCache()
	svc := newService(&fakeStore{}, &fakeSchedules{}, c, &fakeBus{ok: true})

	got, err := svc.GetPending(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.Empty(t, got)

	snapshot, ok := c.Get(context.Background(), cache.PendingNotificationsKey("u1"))
	require.True(t, ok)
	assert.JSONEq(t, "[]", snapshot)
}

func TestConcurrentClaimsAreDisjoint(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{nextID: 100}
	for i := int64(1); i <= 100; i++ {
		store.rows = append(store.rows, due(i, "u1", now.Add(-time.Minute)))
	}
	// Cache down: every poller hits the claim path.
	svc := newService(store, &fakeSchedules{}, downCache{}, &fakeBus{ok: true})

	const pollers = 8
	results := make([][]model.Notification, pollers)
	var wg sync.WaitGroup
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := svc.GetPending(context.Background(), "u1", now)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]int)
	total := 0
	for _, batch := range results {
		for _, n := range batch {
			seen[n.ID]++
			total++
		}
	}
	assert.Equal(t, 100, total, "every due notification claimed exactly once")
	for id, count := range seen {
		assert.Equal(t, 1, count, "notification %d claimed more than once", id)
	}
}

func TestGetPendingCorrectWithCacheAndBusDown(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{nextID: 1, rows: []model.Notification{
		due(1, "u1", now.Add(-time.Minute)),
	}}
	bus := &fakeBus{ok: false} // transport down: publish reports false
	svc := newService(store, &fakeSchedules{}, downCache{}, bus)

	got, err := svc.GetPending(context.Background(), "u1", now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, store.get(1).IsSent)
}

func TestCreateResolvesScheduleByTitle(t *testing.T) {
	start := time.Now().UTC().Add(2 * time.Hour)
	schedules := &fakeSchedules{schedules: []model.Schedule{
		{ID: 7, UserID: "u1", Title: "Operating Systems Lecture", StartAt: start},
	}}
	c := newFakeCache()
	bus := &fakeBus{ok: true}
	svc := newService(&fakeStore{}, schedules, c, bus)

	// Seed a stale pending snapshot; creation must invalidate it.
	c.Set(context.Background(), cache.PendingNotificationsKey("u1"), "[]", time.Minute)

	minutes := 15
	n, err := svc.Create(context.Background(), "u1", CreateInput{
		ScheduleTitle: "operating systems",
		Message:       "lecture soon",
		MinutesBefore: &minutes,
	})
	require.NoError(t, err)
	require.NotNil(t, n.ScheduleID)
	assert.EqualValues(t, 7, *n.ScheduleID)
	assert.Equal(t, start.Add(-15*time.Minute), n.NotifyAt)

	_, ok := c.Get(context.Background(), cache.PendingNotificationsKey("u1"))
	assert.False(t, ok, "pending snapshot must be invalidated on create")

	assert.Len(t, bus.byType(event.NotificationCreated), 1)
}

func TestCreateUnknownScheduleFails(t *testing.T) {
	svc := newService(&fakeStore{}, &fakeSchedules{}, newFakeCache(), &fakeBus{ok: true})

	_, err := svc.Create(context.Background(), "u1", CreateInput{
		ScheduleTitle: "no such lecture",
		Message:       "m",
	})
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	id := int64(404)
	_, err = svc.Create(context.Background(), "u1", CreateInput{
		ScheduleID: &id,
		Message:    "m",
	})
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestCheckSkipsForeignIDs(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{nextID: 3, rows: []model.Notification{
		due(1, "u1", now),
		due(2, "u1", now),
		due(3, "someone-else", now),
	}}
	bus := &fakeBus{ok: true}
	svc := newService(store, &fakeSchedules{}, newFakeCache(), bus)

	updated, err := svc.Check(context.Background(), "u1", []int64{1, 2, 3, 404})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)
	assert.False(t, store.get(3).IsChecked)
	assert.Len(t, bus.byType(event.NotificationChecked), 1)
}

func TestCheckAllowedBeforeSent(t *testing.T) {
	// Dismissing a reminder before its delivery time is permitted; is_checked
	// does not require is_sent.
	future := time.Now().UTC().Add(time.Hour)
	store := &fakeStore{nextID: 1, rows: []model.Notification{due(1, "u1", future)}}
	svc := newService(store, &fakeSchedules{}, newFakeCache(), &fakeBus{ok: true})

	updated, err := svc.Check(context.Background(), "u1", []int64{1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	n := store.get(1)
	assert.True(t, n.IsChecked)
	assert.False(t, n.IsSent)
}

func TestDeleteNotFound(t *testing.T) {
	svc := newService(&fakeStore{}, &fakeSchedules{}, newFakeCache(), &fakeBus{ok: true})
	err := svc.Delete(context.Background(), "u1", 42)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestSweepDueClaimsAcrossUsersAndInvalidates(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{nextID: 2, rows: []model.Notification{
		due(1, "u1", now.Add(-time.Minute)),
		due(2, "u2", now.Add(-time.Minute)),
	}}
	c := newFakeCache()
	c.Set(context.Background(), cache.PendingNotificationsKey("u1"), "[]", time.Minute)
	bus := &fakeBus{ok: true}
	svc := newService(store, &fakeSchedules{}, c, bus)

	claimed, err := svc.SweepDue(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	_, ok := c.Get(context.Background(), cache.PendingNotificationsKey("u1"))
	assert.False(t, ok, "sweep must invalidate stale per-user snapshots")

	sent := bus.byType(event.NotificationSent)
	require.Len(t, sent, 2)
	users := []string{sent[0].UserID, sent[1].UserID}
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}
