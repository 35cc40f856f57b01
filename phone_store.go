package goVerify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisPhoneStore keeps one phone per user and a set of user ids per number
// index so claims on a number can be found without decrypting.
type redisPhoneStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisPhoneStore returns the Redis PhoneStore used by Builder.WithRedis.
func NewRedisPhoneStore(client redis.UniversalClient, prefix string) PhoneStore {
	return newRedisPhoneStore(client, prefix)
}

func newRedisPhoneStore(client redis.UniversalClient, prefix string) *redisPhoneStore {
	if prefix == "" {
		prefix = "vc"
	}
	return &redisPhoneStore{redis: client, prefix: prefix}
}

func (s *redisPhoneStore) userKey(userID string) string {
	return s.prefix + ":phone:" + userID
}

func (s *redisPhoneStore) indexKey(index string) string {
	return s.prefix + ":phoneidx:" + index
}

func (s *redisPhoneStore) FindByUser(ctx context.Context, userID string) (*Phone, error) {
	data, err := s.redis.Get(ctx, s.userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var phone Phone
	if err := json.Unmarshal(data, &phone); err != nil {
		return nil, err
	}
	return &phone, nil
}

func (s *redisPhoneStore) FindByNumberIndex(ctx context.Context, index string) ([]Phone, error) {
	if index == "" {
		return nil, nil
	}
	users, err := s.redis.SMembers(ctx, s.indexKey(index)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]Phone, 0, len(users))
	for _, uid := range users {
		phone, err := s.FindByUser(ctx, uid)
		if err != nil {
			return nil, err
		}
		// the set may lag behind a number change
		if phone == nil || phone.Number.Index != index {
			continue
		}
		out = append(out, *phone)
	}
	return out, nil
}

func (s *redisPhoneStore) Save(ctx context.Context, phone *Phone) error {
	return s.Claim(ctx, phone, nil)
}

// Claim watches the phone key and the number index set. A concurrent claim
// on the same index adds itself to the set, fails this transaction and is
// replayed against the new members.
func (s *redisPhoneStore) Claim(ctx context.Context, phone *Phone, check func([]Phone) error) error {
	if phone == nil || phone.UserID == "" {
		return errors.New("phone user required")
	}
	key := s.userKey(phone.UserID)
	encoded, err := json.Marshal(phone)
	if err != nil {
		return err
	}
	watched := []string{key}
	if phone.Number.Index != "" {
		watched = append(watched, s.indexKey(phone.Number.Index))
	}

	for i := 0; i < storeMaxRetries; i++ {
		var rejected error
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var previous string
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				var old Phone
				if err := json.Unmarshal(data, &old); err == nil {
					previous = old.Number.Index
				}
			case !errors.Is(err, redis.Nil):
				return err
			}

			if check != nil && phone.Number.Index != "" {
				others, err := s.claimsOf(ctx, tx, phone.Number.Index, phone.UserID)
				if err != nil {
					return err
				}
				if rejected = check(others); rejected != nil {
					return rejected
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				if previous != "" && previous != phone.Number.Index {
					pipe.SRem(ctx, s.indexKey(previous), phone.UserID)
				}
				if phone.Number.Index != "" {
					pipe.SAdd(ctx, s.indexKey(phone.Number.Index), phone.UserID)
				}
				return nil
			})
			return err
		}, watched...)

		if rejected != nil {
			return rejected
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}
	return ErrCodeConflict
}

// claimsOf reads the other users' phones on index inside a watch.
func (s *redisPhoneStore) claimsOf(ctx context.Context, tx *redis.Tx, index, userID string) ([]Phone, error) {
	users, err := tx.SMembers(ctx, s.indexKey(index)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Phone, 0, len(users))
	for _, uid := range users {
		if uid == userID {
			continue
		}
		data, err := tx.Get(ctx, s.userKey(uid)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var other Phone
		if err := json.Unmarshal(data, &other); err != nil || other.Number.Index != index {
			continue
		}
		out = append(out, other)
	}
	return out, nil
}
