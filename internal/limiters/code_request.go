package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeRequestLimited     = errors.New("code request rate limited")
	ErrCodeLimiterUnavailable = errors.New("code request limiter unavailable")
)

type CodeRequestConfig struct {
	MaxRequests int
	Window      time.Duration
}

// CodeRequestLimiter caps how often one user may ask for a fresh code of
// a given type and category.
type CodeRequestLimiter struct {
	redis  redis.UniversalClient
	config CodeRequestConfig
}

func NewCodeRequestLimiter(redisClient redis.UniversalClient, cfg CodeRequestConfig) *CodeRequestLimiter {
	return &CodeRequestLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *CodeRequestLimiter) Check(ctx context.Context, userID, codeType, category string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	return l.enforceFixedWindow(ctx, codeRequestKey(userID, codeType, category))
}

func (l *CodeRequestLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCodeLimiterUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return ErrCodeRequestLimited
	}
	return nil
}

func codeRequestKey(userID, codeType, category string) string {
	return "vcrl:" + userID + ":" + codeType + ":" + category
}
