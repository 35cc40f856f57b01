package redisstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goVerify/stream"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStream(t *testing.T, consumer string) (*Stream, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, Config{Group: "barong", Consumer: consumer, Block: 50 * time.Millisecond}), rdb, mr
}

func TestPublishReceiveCommit(t *testing.T) {
	s, _, _ := newTestStream(t, "c1")
	ctx := context.Background()

	if err := s.Subscribe(ctx, "events.peatio"); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if err := s.Subscribe(ctx, "events.peatio"); err != nil {
		t.Fatalf("second Subscribe must tolerate existing group: %v", err)
	}
	if err := s.Publish(ctx, "events.peatio", "peatio.deposit.accepted", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := s.Receive(rctx)
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if msg.Topic != "events.peatio" || msg.Key != "peatio.deposit.accepted" || string(msg.Payload) != `{"a":1}` || msg.ID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if err := s.Commit(ctx, msg); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
}

func TestUncommittedMessageIsRedelivered(t *testing.T) {
	first, rdb, _ := newTestStream(t, "c1")
	ctx := context.Background()

	if err := first.Subscribe(ctx, "events.barong"); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if err := first.Publish(ctx, "events.barong", "barong.system.user.email.confirmation.token", []byte("x")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := first.Receive(rctx)
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	_ = first.Close()

	// same consumer name after a restart
	restarted := New(rdb, Config{Group: "barong", Consumer: "c1", Block: 50 * time.Millisecond})
	if err := restarted.Subscribe(ctx, "events.barong"); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	again, err := restarted.Receive(rctx)
	if err != nil {
		t.Fatalf("Receive after restart error: %v", err)
	}
	if again.ID != msg.ID {
		t.Fatalf("expected redelivery of %s, got %s", msg.ID, again.ID)
	}
}

func TestReceiveHonorsContextAndClose(t *testing.T) {
	s, _, _ := newTestStream(t, "c1")
	ctx := context.Background()
	if err := s.Subscribe(ctx, "events.empty"); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	if _, err := s.Receive(rctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	_ = s.Close()
	if _, err := s.Receive(ctx); !errors.Is(err, stream.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
