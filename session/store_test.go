package session

import (
	"context"
	"errors"
	"testing"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, "vs", time.Hour), mr
}

func TestOpenGetDelete(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	sid, csrf, err := store.Open(ctx, "ID1", goVerify.SessionMeta{IP: "10.0.0.1", UserAgent: "curl"})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if sid == "" || len(csrf) != 64 {
		t.Fatalf("unexpected session id %q csrf %q", sid, csrf)
	}

	sess, err := store.Get(ctx, "ID1", sid)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if sess.UserID != "ID1" || sess.CSRFToken != csrf || !sess.MatchesIP("10.0.0.1") || sess.MatchesIP("10.0.0.2") {
		t.Fatalf("unexpected session %+v", sess)
	}

	if n, _ := store.ActiveCount(ctx); n != 1 {
		t.Fatalf("expected one active session, got %d", n)
	}
	if err := store.Delete(ctx, "ID1", sid); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, "ID1", sid); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if n, _ := store.ActiveCount(ctx); n != 0 {
		t.Fatalf("counter must not go negative, got %d", n)
	}
	if _, err := store.Get(ctx, "ID1", sid); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionExpires(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()

	sid, _, err := store.Open(ctx, "ID1", goVerify.SessionMeta{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "ID1", sid); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := store.Open(ctx, "ID1", goVerify.SessionMeta{}); err != nil {
			t.Fatalf("Open error: %v", err)
		}
	}
	other, _, _ := store.Open(ctx, "ID2", goVerify.SessionMeta{})

	if err := store.DeleteAllForUser(ctx, "ID1"); err != nil {
		t.Fatalf("DeleteAllForUser error: %v", err)
	}
	if n, _ := store.ActiveCount(ctx); n != 1 {
		t.Fatalf("expected only ID2 session left, got %d", n)
	}
	if _, err := store.Get(ctx, "ID2", other); err != nil {
		t.Fatalf("other user session must survive: %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	mr.Close()
	if _, _, err := store.Open(context.Background(), "ID1", goVerify.SessionMeta{}); !errors.Is(err, goVerify.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	data, err := Encode(&Session{UserID: "ID1", CSRFToken: "tok", CreatedAt: 1, ExpiresAt: 2})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if _, err := Decode(data[:len(data)-1]); err == nil {
		t.Fatal("expected truncated record to fail")
	}
	if _, err := Decode(append(data, 0)); err == nil {
		t.Fatal("expected trailing bytes to fail")
	}
	bad := append([]byte(nil), data...)
	bad[0] = 9
	if _, err := Decode(bad); err == nil {
		t.Fatal("expected unknown version to fail")
	}
}
