package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	mrand "math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/session"
	"github.com/MrEthical07/goVerify/vault"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type userState struct {
	uid    string
	secret string
	mu     sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of users to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (generate, verify, session)")
		hitRatio    = flag.Int("hit-ratio", 25, "percent of verify attempts that submit the right secret")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, sessions, err := buildEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]userState, *users)
	for i := range states {
		states[i].uid = "load-" + strconv.Itoa(i)
	}

	generateStats := runPhase(*ops, *concurrency, states, func(r *mrand.Rand, state *userState) error {
		state.mu.Lock()
		defer state.mu.Unlock()
		code, err := engine.GenerateCode(ctx, goVerify.GenerateRequest{
			UserID:   state.uid,
			Type:     goVerify.CodeTypeEmail,
			Category: goVerify.CategoryLogin,
		})
		if err != nil {
			return err
		}
		state.secret = code.Secret
		return nil
	})

	var validated int64
	verifyStats := runPhase(*ops, *concurrency, states, func(r *mrand.Rand, state *userState) error {
		state.mu.Lock()
		value := state.secret
		state.mu.Unlock()
		if r.Intn(100) >= *hitRatio {
			value = "x" + value
		}
		_, err := engine.VerifyPendingCode(ctx, state.uid, goVerify.CodeTypeEmail, goVerify.CategoryLogin, value)
		switch {
		case err == nil:
			atomic.AddInt64(&validated, 1)
			return nil
		case errors.Is(err, goVerify.ErrStoreUnavailable), errors.Is(err, goVerify.ErrCodeConflict):
			return err
		default:
			// rejected attempts are the expected outcome for most of the phase
			return nil
		}
	})

	sessionStats := runPhase(*ops, *concurrency, states, func(r *mrand.Rand, state *userState) error {
		sid, _, err := sessions.Open(ctx, state.uid, goVerify.SessionMeta{IP: "10.0.0.1"})
		if err != nil {
			return err
		}
		_, err = sessions.Get(ctx, state.uid, sid)
		return err
	})

	fmt.Println("---- results ----")
	printStats("generate", generateStats)
	printStats("verify", verifyStats)
	printStats("session", sessionStats)

	snapshot := engine.Metrics().Snapshot()
	fmt.Printf("codes validated=%d (max %d) cas_conflicts=%d attempts_exhausted=%d\n",
		validated,
		*users,
		snapshot.Counters[goVerify.MetricCodeVerifyConflict],
		snapshot.Counters[goVerify.MetricCodeAttemptsExhausted],
	)
	if validated > int64(*users) {
		fmt.Fprintln(os.Stderr, "more validations than pending codes: single-use guarantee broken")
		os.Exit(1)
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func buildEngine(client redis.UniversalClient) (*goVerify.Engine, *session.Store, error) {
	encKey := make([]byte, 32)
	indexKey := make([]byte, 32)
	if _, err := rand.Read(encKey); err != nil {
		return nil, nil, err
	}
	if _, err := rand.Read(indexKey); err != nil {
		return nil, nil, err
	}
	v, err := vault.New(encKey, indexKey)
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	sessions := session.NewStore(client, "vsload", time.Hour)

	engine, err := goVerify.New().
		WithConfig(goVerify.DefaultConfig()).
		WithRedis(client).
		WithUserProvider(syntheticUsers{}).
		WithVault(v).
		WithSMSSender(discardSMS{}).
		WithEventPublisher(discardEvents{}).
		WithSessionStore(sessions).
		WithActivitySink(goVerify.NewJSONWriterActivitySink(io.Discard)).
		WithLogger(log).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return engine, sessions, nil
}

func runPhase(ops, concurrency int, states []userState, op func(*mrand.Rand, *userState) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(r, state)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// syntheticUsers answers every uid with an active user.
type syntheticUsers struct{}

func (syntheticUsers) GetUserByEmail(_ context.Context, email string) (goVerify.UserRecord, error) {
	return goVerify.UserRecord{}, goVerify.ErrUserNotFound
}

func (syntheticUsers) GetUserByUID(_ context.Context, uid string) (goVerify.UserRecord, error) {
	return goVerify.UserRecord{
		UID:   uid,
		Email: uid + "@load.test",
		State: goVerify.UserStateActive,
		Role:  "member",
	}, nil
}

func (syntheticUsers) MarkPhoneVerified(context.Context, string) error { return nil }

type discardSMS struct{}

func (discardSMS) SendSMS(context.Context, string, string, string) error { return nil }

type discardEvents struct{}

func (discardEvents) Publish(context.Context, string, map[string]any) error { return nil }
