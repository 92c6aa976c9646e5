package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned when no record exists for a session ID.
// A record can be missing because it never existed or because its TTL
// elapsed; both look identical to the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	setActiveStatusNotFound int64 = 0
	setActiveStatusNoop     int64 = 1
	setActiveStatusChanged  int64 = 2
)

// setActiveScript flips the active flag in place, preserving the key's
// remaining TTL. The compare step makes revocation idempotent and keeps
// concurrent flips from losing updates.
const setActiveScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local sess = cjson.decode(data)
local want = tonumber(ARGV[1]) == 1
if sess["active"] == want then
  return 1
end
sess["active"] = want
if not want then
  sess["revoked_at"] = tonumber(ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], cjson.encode(sess), "PX", ttl)
else
  redis.call("SET", KEYS[1], cjson.encode(sess))
end
return 2
`

var setActiveLua = redis.NewScript(setActiveScript)

// Store is a Redis-backed session store handling persistence, TTL-bound
// expiry, and atomic revocation flips.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "tf"
	}
	return &Store{redis: redis, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save persists a session with the given TTL and indexes it under its
// user. The TTL bounds how long a revoked record stays observable.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves a session by ID. A missing key maps to ErrSessionNotFound;
// revoked and expired sessions are still returned, callers inspect the
// record to decide validity.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}
	sess.SessionID = sessionID
	return &sess, nil
}

// SetActive flips the session's active flag atomically, preserving the
// key's remaining TTL. It returns true when the flag actually changed,
// false when the session already held the requested value, and
// ErrSessionNotFound when no record exists. Once SetActive returns, every
// later Get observes the new flag.
func (s *Store) SetActive(ctx context.Context, sessionID string, active bool) (bool, error) {
	want := 0
	if active {
		want = 1
	}

	status, err := setActiveLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		want,
		time.Now().Unix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch status {
	case setActiveStatusNotFound:
		return false, ErrSessionNotFound
	case setActiveStatusNoop:
		return false, nil
	case setActiveStatusChanged:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown revocation script status %d", ErrRedisUnavailable, status)
	}
}

// ListForUser returns the user's sessions that still have a record in
// Redis, pruning index entries whose keys have expired. The result
// includes revoked sessions; callers filter on Active as needed.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("corrupt session record: %w", err)
		}
		sess.SessionID = ids[i]
		sessions = append(sessions, &sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return sessions, nil
}

// Delete removes a session record and its index entry. Deleting a missing
// session is not an error.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.userKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session record for a user along with the
// index set. Not atomic against concurrent Save; a session created between
// the read and delete phases survives and expires naturally.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.key(id))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SweepUser prunes index entries whose session keys have expired and
// returns how many were removed. Intended for a periodic janitor, not the
// request path.
func (s *Store) SweepUser(ctx context.Context, userID string) (int, error) {
	before, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	live, err := s.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return int(before) - len(live), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
