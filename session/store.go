package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/internal"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned by Get for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
  local count = tonumber(redis.call("GET", KEYS[3]) or "0")
  if count > 1 then
    redis.call("DECR", KEYS[3])
  elseif count == 1 then
    redis.call("DEL", KEYS[3])
  end
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store implements goVerify.SessionStore on Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ goVerify.SessionStore = (*Store)(nil)

func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "vs"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{redis: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *Store) key(userID, sessionID string) string {
	return s.prefix + ":" + userID + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

func (s *Store) countKey() string {
	return s.prefix + ":count"
}

// Open creates a session and returns its id and CSRF token.
func (s *Store) Open(ctx context.Context, userID string, meta goVerify.SessionMeta) (string, string, error) {
	if userID == "" {
		return "", "", errors.New("session user required")
	}
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", "", err
	}
	csrf, err := internal.NewCSRFToken()
	if err != nil {
		return "", "", err
	}

	now := s.now()
	data, err := Encode(&Session{
		UserID:        userID,
		CSRFToken:     csrf,
		IPHash:        hashAttribute(meta.IP),
		UserAgentHash: hashAttribute(meta.UserAgent),
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return "", "", err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(userID, sid), data, s.ttl)
		pipe.SAdd(ctx, s.userKey(userID), sid)
		pipe.Incr(ctx, s.countKey())
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
	}
	return sid, csrf, nil
}

// Get loads a live session.
func (s *Store) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(userID, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt <= s.now().Unix() {
		return nil, ErrSessionNotFound
	}
	sess.SessionID = sessionID
	return sess, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	err := deleteSessionLua.Run(ctx, s.redis,
		[]string{s.key(userID, sessionID), s.userKey(userID), s.countKey()},
		sessionID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session of the user. Sessions opened while
// it runs may survive.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
	}
	for _, sid := range ids {
		if err := s.Delete(ctx, userID, sid); err != nil {
			return err
		}
	}
	return nil
}

// ActiveCount returns the number of open sessions across users.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	n, err := s.redis.Get(ctx, s.countKey()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
	}
	return n, nil
}
