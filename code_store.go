package goVerify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	codeRecordVersionV1 = 1
	storeMaxRetries     = 4
)

// redisCodeStore keeps each code under <prefix>:code:<id> and a pointer to
// the latest code of a (user, type, category) under <prefix>:pending:....
// Codes carry no TTL; terminal codes are retained.
type redisCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCodeStore returns the Redis CodeStore used by Builder.WithRedis.
func NewRedisCodeStore(client redis.UniversalClient, prefix string) CodeStore {
	return newRedisCodeStore(client, prefix)
}

func newRedisCodeStore(client redis.UniversalClient, prefix string) *redisCodeStore {
	if prefix == "" {
		prefix = "vc"
	}
	return &redisCodeStore{redis: client, prefix: prefix}
}

func (s *redisCodeStore) codeKey(id string) string {
	return s.prefix + ":code:" + id
}

func (s *redisCodeStore) pendingKey(userID string, codeType CodeType, category Category) string {
	return s.prefix + ":pending:" + userID + ":" + string(codeType) + ":" + string(category)
}

func (s *redisCodeStore) FindPending(ctx context.Context, userID string, codeType CodeType, category Category, now time.Time) (*Code, error) {
	id, err := s.redis.Get(ctx, s.pendingKey(userID, codeType, category)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	code, err := s.Get(ctx, id)
	if errors.Is(err, ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !code.Pending(now) {
		return nil, nil
	}
	return code, nil
}

func (s *redisCodeStore) CreateOrFetchPending(
	ctx context.Context,
	userID string,
	codeType CodeType,
	category Category,
	now time.Time,
	ttl time.Duration,
) (*Code, error) {
	ptr := s.pendingKey(userID, codeType, category)

	for i := 0; i < storeMaxRetries; i++ {
		var out *Code

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			id, err := tx.Get(ctx, ptr).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if id != "" {
				data, err := tx.Get(ctx, s.codeKey(id)).Bytes()
				switch {
				case err == nil:
					existing, err := decodeCodeRecord(data)
					if err != nil {
						return err
					}
					if existing.Pending(now) {
						out = existing
						return nil
					}
				case !errors.Is(err, redis.Nil):
					return err
				}
			}

			code := &Code{
				ID:        uuid.NewString(),
				UserID:    userID,
				Type:      codeType,
				Category:  category,
				ExpiredAt: now.Add(ttl).UTC(),
				CreatedAt: now.UTC(),
				UpdatedAt: now.UTC(),
				Version:   1,
			}
			encoded, err := encodeCodeRecord(code)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.codeKey(code.ID), encoded, 0)
				pipe.Set(ctx, ptr, code.ID, 0)
				return nil
			})
			if err != nil {
				return err
			}
			out = code
			return nil
		}, ptr)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return out, nil
	}

	return nil, ErrCodeConflict
}

func (s *redisCodeStore) Save(ctx context.Context, code *Code) error {
	if code == nil || code.ID == "" {
		return errors.New("code id required")
	}
	key := s.codeKey(code.ID)

	next := *code
	next.Version = code.Version + 1
	encoded, err := encodeCodeRecord(&next)
	if err != nil {
		return err
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrCodeNotFound
		}
		if err != nil {
			return err
		}
		stored, err := decodeCodeRecord(data)
		if err != nil {
			return err
		}
		if stored.Version != code.Version {
			return ErrCodeConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		code.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrCodeConflict):
		return ErrCodeConflict
	case errors.Is(err, ErrCodeNotFound):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (s *redisCodeStore) Get(ctx context.Context, id string) (*Code, error) {
	data, err := s.redis.Get(ctx, s.codeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeCodeRecord(data)
}

func encodeCodeRecord(code *Code) ([]byte, error) {
	body, err := json.Marshal(code)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, codeRecordVersionV1)
	return append(out, body...), nil
}

func decodeCodeRecord(data []byte) (*Code, error) {
	if len(data) < 2 {
		return nil, errors.New("code record too short")
	}
	if data[0] != codeRecordVersionV1 {
		return nil, errors.New("invalid code record version")
	}
	var code Code
	if err := json.Unmarshal(data[1:], &code); err != nil {
		return nil, err
	}
	return &code, nil
}
