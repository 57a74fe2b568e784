package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// recordingPublisher collects every publish call for assertion; it never fails.
type recordingPublisher struct {
	mu        sync.Mutex
	subjects  []string
	payloads  [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

// staticGraph returns a fixed observer list regardless of the queried user.
type staticGraph struct {
	observers []uuid.UUID
}

func (g staticGraph) Observers(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return g.observers, nil
}

func newStore(t *testing.T, observers ...uuid.UUID) (*Store, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewStore(newTestRedis(t), staticGraph{observers: observers}, pub), pub
}

func TestInsertAndGetSessions(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	rec1 := protocol.PresenceSessionRecord{SessionID: "s1", OnlineSince: time.Now().UTC().Truncate(time.Second), Device: protocol.DeviceDesktop}
	rec2 := protocol.PresenceSessionRecord{SessionID: "s2", OnlineSince: time.Now().UTC().Truncate(time.Second), Device: protocol.DeviceMobile}

	if err := store.InsertSession(ctx, userID, rec1); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	if err := store.InsertSession(ctx, userID, rec2); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}

	got, err := store.GetSessions(ctx, userID)
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetSessions() len = %d, want 2", len(got))
	}
	if got[0].SessionID != "s1" || got[1].SessionID != "s2" {
		t.Errorf("GetSessions() order = %+v, want [s1, s2]", got)
	}
}

func TestRemoveSessionLastOneDeletesKey(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	rec := protocol.PresenceSessionRecord{SessionID: "only", Device: protocol.DeviceWeb}
	if err := store.InsertSession(ctx, userID, rec); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}

	if err := store.RemoveSession(ctx, userID, "only"); err != nil {
		t.Fatalf("RemoveSession() error = %v", err)
	}

	exists, err := store.AnySessionExists(ctx, userID)
	if err != nil {
		t.Fatalf("AnySessionExists() error = %v", err)
	}
	if exists {
		t.Error("AnySessionExists() = true, want false after removing the only session")
	}
}

func TestRemoveSessionPreservesOrder(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.InsertSession(ctx, userID, protocol.PresenceSessionRecord{SessionID: id, Device: protocol.DeviceDesktop}); err != nil {
			t.Fatalf("InsertSession(%s) error = %v", id, err)
		}
	}

	if err := store.RemoveSession(ctx, userID, "b"); err != nil {
		t.Fatalf("RemoveSession() error = %v", err)
	}

	got, err := store.GetSessions(ctx, userID)
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "a" || got[1].SessionID != "c" {
		t.Errorf("GetSessions() = %+v, want [a, c] in order", got)
	}
}

func TestRemoveSessionUnknownIsNoop(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.InsertSession(ctx, userID, protocol.PresenceSessionRecord{SessionID: "a"}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	if err := store.RemoveSession(ctx, userID, "does-not-exist"); err != nil {
		t.Fatalf("RemoveSession() error = %v", err)
	}

	got, err := store.GetSessions(ctx, userID)
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("GetSessions() len = %d, want 1 (unchanged)", len(got))
	}
}

func TestGetFirstSessionEmpty(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	got, err := store.GetFirstSession(ctx, uuid.New())
	if err != nil {
		t.Fatalf("GetFirstSession() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetFirstSession() = %+v, want nil", got)
	}
}

func TestGetDevicesShortCircuitsAtFull(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	for _, d := range []protocol.Device{protocol.DeviceDesktop, protocol.DeviceMobile, protocol.DeviceWeb} {
		if err := store.InsertSession(ctx, userID, protocol.PresenceSessionRecord{SessionID: string(d), Device: d}); err != nil {
			t.Fatalf("InsertSession(%s) error = %v", d, err)
		}
	}

	mask, err := store.GetDevices(ctx, userID)
	if err != nil {
		t.Fatalf("GetDevices() error = %v", err)
	}
	if !mask.Full() {
		t.Errorf("GetDevices() = %v, want Full mask", mask)
	}
}

func TestUpdatePresenceOfflineDeletesKey(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.UpdatePresence(ctx, userID, protocol.StatusOnline); err != nil {
		t.Fatalf("UpdatePresence() error = %v", err)
	}
	got, err := store.GetPresence(ctx, userID)
	if err != nil {
		t.Fatalf("GetPresence() error = %v", err)
	}
	if got != protocol.StatusOnline {
		t.Errorf("GetPresence() = %q, want online", got)
	}

	if err := store.UpdatePresence(ctx, userID, protocol.StatusOffline); err != nil {
		t.Fatalf("UpdatePresence(Offline) error = %v", err)
	}
	got, err = store.GetPresence(ctx, userID)
	if err != nil {
		t.Fatalf("GetPresence() error = %v", err)
	}
	if got != protocol.StatusOffline {
		t.Errorf("GetPresence() = %q, want offline after clearing", got)
	}
}

func TestGetPresenceDefaultsToOffline(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	got, err := store.GetPresence(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetPresence() error = %v", err)
	}
	if got != protocol.StatusOffline {
		t.Errorf("GetPresence() = %q, want offline for absent key", got)
	}
}

func TestPublishPresenceChangeIncludesSelfAndObservers(t *testing.T) {
	t.Parallel()
	observerA, observerB := uuid.New(), uuid.New()
	store, pub := newStore(t, observerA, observerB)
	userID := uuid.New()

	presence := protocol.Presence{UserID: userID, Status: protocol.StatusOnline, Devices: protocol.DeviceMaskDesktop}
	if err := store.PublishPresenceChange(context.Background(), userID, presence); err != nil {
		t.Fatalf("PublishPresenceChange() error = %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.subjects) != 3 {
		t.Fatalf("published %d times, want 3 (2 observers + self)", len(pub.subjects))
	}
	want := map[string]bool{
		protocol.UserEventSubject(observerA): false,
		protocol.UserEventSubject(observerB): false,
		protocol.UserEventSubject(userID):    false,
	}
	for _, subject := range pub.subjects {
		if _, ok := want[subject]; !ok {
			t.Errorf("unexpected publish subject %q", subject)
		}
		want[subject] = true
	}
	for subject, seen := range want {
		if !seen {
			t.Errorf("expected a publish to subject %q", subject)
		}
	}
}

func TestResetAllRunsOncePerProcess(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.InsertSession(ctx, userID, protocol.PresenceSessionRecord{SessionID: "s"}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	if err := store.UpdatePresence(ctx, userID, protocol.StatusOnline); err != nil {
		t.Fatalf("UpdatePresence() error = %v", err)
	}

	if err := store.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll() error = %v", err)
	}

	exists, err := store.AnySessionExists(ctx, userID)
	if err != nil {
		t.Fatalf("AnySessionExists() error = %v", err)
	}
	if exists {
		t.Error("AnySessionExists() = true after ResetAll()")
	}
	status, err := store.GetPresence(ctx, userID)
	if err != nil {
		t.Fatalf("GetPresence() error = %v", err)
	}
	if status != protocol.StatusOffline {
		t.Errorf("GetPresence() = %q after ResetAll(), want offline", status)
	}

	// A second call must be a true no-op even if new keys were written in between.
	if err := store.InsertSession(ctx, userID, protocol.PresenceSessionRecord{SessionID: "s2"}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	if err := store.ResetAll(ctx); err != nil {
		t.Fatalf("second ResetAll() error = %v", err)
	}
	exists, err = store.AnySessionExists(ctx, userID)
	if err != nil {
		t.Fatalf("AnySessionExists() error = %v", err)
	}
	if !exists {
		t.Error("second ResetAll() deleted a session inserted after the first reset; want no-op")
	}
}

func TestGraphErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("graph unavailable")
	store := NewStore(newTestRedis(t), errGraph{err: boom}, &recordingPublisher{})

	err := store.PublishPresenceChange(context.Background(), uuid.New(), protocol.Presence{})
	if err == nil {
		t.Fatal("PublishPresenceChange() error = nil, want propagated graph error")
	}
}

type errGraph struct{ err error }

func (g errGraph) Observers(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, g.err
}
