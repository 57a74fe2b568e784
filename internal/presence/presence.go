// Package presence implements C3: a typed protocol over a shared key-value store
// tracking, per user, an ordered list of active sessions and a current status, plus
// fan-out of presence transitions to every observer of a user.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/chatplatform/gateway/internal/wire"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// tombstone marks a removed slot in a session list until LREM sweeps it out, preserving
// the relative order of the records that survive around it.
const tombstone = "\x00presence-tombstone\x00"

// Publisher is the broker capability presence needs: publishing a payload on a subject
// (C4's publish primitive, already addressed via protocol.UserEventSubject).
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// ObserverGraph resolves which users should see a given user's presence changes (mutual
// friends, shared guilds). It is an external collaborator; presence only consumes it.
type ObserverGraph interface {
	Observers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Store is the presence key-value protocol described in C3. It is process-global and
// safe for concurrent use across sessions belonging to different (or the same) user.
type Store struct {
	rdb       *redis.Client
	graph     ObserverGraph
	publisher Publisher
	resetOnce sync.Once
}

// NewStore creates a Store backed by rdb, resolving observers through graph and
// publishing presence transitions through publisher.
func NewStore(rdb *redis.Client, graph ObserverGraph, publisher Publisher) *Store {
	return &Store{rdb: rdb, graph: graph, publisher: publisher}
}

func sessionKey(userID uuid.UUID) string  { return "session-" + userID.String() }
func presenceKey(userID uuid.UUID) string { return "presence-" + userID.String() }

// InsertSession appends record to the user's session list. RPUSH is a single Redis
// command, so concurrent inserts for the same user are naturally atomic.
func (s *Store) InsertSession(ctx context.Context, userID uuid.UUID, record protocol.PresenceSessionRecord) error {
	encoded, err := wire.Encode(record)
	if err != nil {
		return fmt.Errorf("presence: encode session record: %w", err)
	}
	if err := s.rdb.RPush(ctx, sessionKey(userID), encoded).Err(); err != nil {
		return fmt.Errorf("presence: insert session: %w", err)
	}
	return nil
}

// RemoveSession removes the record with the matching session id from the user's
// session list. If the list becomes empty (including the case where exactly one record
// remained and matched), the key is deleted outright. Otherwise the matching slot is
// marked with a tombstone and then swept, preserving the order of the records around it.
// A session id that is not present is a no-op.
func (s *Store) RemoveSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	key := sessionKey(userID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("read session list: %w", err)
		}

		idx := -1
		for i, item := range raw {
			var rec protocol.PresenceSessionRecord
			if err := wire.Decode([]byte(item), &rec); err != nil {
				continue
			}
			if rec.SessionID == sessionID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil
		}

		if len(raw) == 1 {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, key, int64(idx), tombstone)
			pipe.LRem(ctx, key, 1, tombstone)
			return nil
		})
		return err
	}

	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		return fmt.Errorf("presence: remove session: %w", err)
	}
	return nil
}

// GetSessions returns every session record for userID, in insertion order. The result
// may be empty.
func (s *Store) GetSessions(ctx context.Context, userID uuid.UUID) ([]protocol.PresenceSessionRecord, error) {
	raw, err := s.rdb.LRange(ctx, sessionKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: get sessions: %w", err)
	}

	records := make([]protocol.PresenceSessionRecord, 0, len(raw))
	for _, item := range raw {
		var rec protocol.PresenceSessionRecord
		if err := wire.Decode([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetFirstSession returns the head of userID's session list, or nil if the list is
// empty.
func (s *Store) GetFirstSession(ctx context.Context, userID uuid.UUID) (*protocol.PresenceSessionRecord, error) {
	raw, err := s.rdb.LIndex(ctx, sessionKey(userID), 0).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("presence: get first session: %w", err)
	}

	var rec protocol.PresenceSessionRecord
	if err := wire.Decode([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("presence: decode first session: %w", err)
	}
	return &rec, nil
}

// GetDevices returns the OR of every session's device flag for userID, short-circuiting
// once the mask already covers every known device.
func (s *Store) GetDevices(ctx context.Context, userID uuid.UUID) (protocol.DeviceMask, error) {
	records, err := s.GetSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	var mask protocol.DeviceMask
	for _, rec := range records {
		mask |= rec.Device.Bit()
		if mask.Full() {
			break
		}
	}
	return mask, nil
}

// AnySessionExists reports whether userID has at least one active session.
func (s *Store) AnySessionExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := s.rdb.LLen(ctx, sessionKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence: any session exists: %w", err)
	}
	return n > 0, nil
}

// UpdatePresence writes userID's status. Writing StatusOffline deletes the key instead,
// matching get_presence's absent-key-means-Offline contract.
func (s *Store) UpdatePresence(ctx context.Context, userID uuid.UUID, status protocol.Status) error {
	if status == protocol.StatusOffline {
		if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
			return fmt.Errorf("presence: update presence: %w", err)
		}
		return nil
	}
	if err := s.rdb.Set(ctx, presenceKey(userID), string(status), 0).Err(); err != nil {
		return fmt.Errorf("presence: update presence: %w", err)
	}
	return nil
}

// RefreshTTL extends presence-{user_id}'s expiry without changing its value, called on
// each client heartbeat so the key does not expire out from under a live connection. A
// zero or negative ttl is a no-op; a status of Offline has no key to refresh, so this is
// also a no-op in that case (EXPIRE on a missing key simply reports no-op to Redis).
func (s *Store) RefreshTTL(ctx context.Context, userID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Expire(ctx, presenceKey(userID), ttl).Err(); err != nil {
		return fmt.Errorf("presence: refresh ttl: %w", err)
	}
	return nil
}

// GetPresence returns userID's current status, defaulting to Offline when no key is
// stored.
func (s *Store) GetPresence(ctx context.Context, userID uuid.UUID) (protocol.Status, error) {
	val, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return protocol.StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("presence: get presence: %w", err)
	}
	return protocol.Status(val), nil
}

// Derive assembles userID's full Presence: stored status, aggregated device mask, and
// the earliest online-since across their sessions (nil once the user has none).
func (s *Store) Derive(ctx context.Context, userID uuid.UUID) (protocol.Presence, error) {
	status, err := s.GetPresence(ctx, userID)
	if err != nil {
		return protocol.Presence{}, err
	}
	devices, err := s.GetDevices(ctx, userID)
	if err != nil {
		return protocol.Presence{}, err
	}
	first, err := s.GetFirstSession(ctx, userID)
	if err != nil {
		return protocol.Presence{}, err
	}

	p := protocol.Presence{UserID: userID, Status: status, Devices: devices}
	if first != nil {
		p.OnlineSince = &first.OnlineSince
	}
	return p, nil
}

// PublishPresenceChange fetches userID's observers (plus userID itself) and publishes a
// PresenceUpdate frame carrying presence to each of them, on the direct-to-user subject.
func (s *Store) PublishPresenceChange(ctx context.Context, userID uuid.UUID, presence protocol.Presence) error {
	frame, err := protocol.NewPresenceUpdateFrame(presence)
	if err != nil {
		return fmt.Errorf("presence: build presence update frame: %w", err)
	}
	payload, err := wire.Encode(frame)
	if err != nil {
		return fmt.Errorf("presence: encode presence update frame: %w", err)
	}

	observers, err := s.graph.Observers(ctx, userID)
	if err != nil {
		return fmt.Errorf("presence: resolve observers: %w", err)
	}
	recipients := append(observers, userID)

	for _, recipient := range recipients {
		if err := s.publisher.Publish(ctx, protocol.UserEventSubject(recipient), payload); err != nil {
			return fmt.Errorf("presence: publish to %s: %w", recipient, err)
		}
	}
	return nil
}

// ResetAll deletes every session-* and presence-* key. It runs at most once per process,
// regardless of how many times it is called, as startup hygiene for a fresh gateway
// process that may be inheriting stale state from a previous crash.
func (s *Store) ResetAll(ctx context.Context) error {
	var resetErr error
	s.resetOnce.Do(func() {
		resetErr = s.deleteByPattern(ctx, "session-*")
		if resetErr != nil {
			return
		}
		resetErr = s.deleteByPattern(ctx, "presence-*")
	})
	return resetErr
}

func (s *Store) deleteByPattern(ctx context.Context, pattern string) error {
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("presence: scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("presence: delete %s: %w", pattern, err)
	}
	return nil
}
