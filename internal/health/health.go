// Package health runs the liveness and readiness probes of the daemon.
package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger pings a Redis client.
func RedisPinger(client redis.UniversalClient) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Status is the result of one probe run.
type Status struct {
	Healthy  bool                     `json:"healthy"`
	Backends map[string]BackendStatus `json:"backends"`
}

type BackendStatus struct {
	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency_ns"`
	Error     string        `json:"error,omitempty"`
}

// Checker probes the database and Redis. Liveness needs both; readiness
// needs the database only, since the code stores can run without Redis.
type Checker struct {
	db      Pinger
	redis   Pinger
	timeout time.Duration
}

func NewChecker(db, redis Pinger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{db: db, redis: redis, timeout: timeout}
}

func (c *Checker) Live(ctx context.Context) Status {
	return c.run(ctx, map[string]Pinger{"database": c.db, "redis": c.redis})
}

func (c *Checker) Ready(ctx context.Context) Status {
	return c.run(ctx, map[string]Pinger{"database": c.db})
}

func (c *Checker) run(ctx context.Context, probes map[string]Pinger) Status {
	out := Status{Healthy: true, Backends: make(map[string]BackendStatus, len(probes))}
	for name, p := range probes {
		if p == nil {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		started := time.Now()
		err := p.Ping(pctx)
		cancel()

		st := BackendStatus{Available: err == nil, Latency: time.Since(started)}
		if err != nil {
			st.Error = err.Error()
			out.Healthy = false
		}
		out.Backends[name] = st
	}
	return out
}
