package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLoginChallengeRoundtrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewLoginChallengeStore(rdb, "t")
	ctx := context.Background()

	record := &LoginChallenge{
		CodeHash:  "$argon2id$fake",
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
		Attempts:  3,
	}
	if err := store.Put(ctx, "patient", "2001001234567", record, 10*time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "patient", "2001001234567")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CodeHash != record.CodeHash || got.ExpiresAt != record.ExpiresAt || got.Attempts != 3 {
		t.Fatalf("got %+v, want %+v", got, record)
	}
}

func TestLoginChallengeKeysAreScoped(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewLoginChallengeStore(rdb, "t")
	ctx := context.Background()

	record := &LoginChallenge{CodeHash: "h", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	if err := store.Put(ctx, "patient", "2001001234567", record, time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Same phone, different role: separate challenge.
	if _, err := store.Get(ctx, "doctor", "2001001234567"); !errors.Is(err, ErrLoginChallengeNotFound) {
		t.Fatalf("cross-role Get: err = %v, want ErrLoginChallengeNotFound", err)
	}
}

func TestLoginChallengeNotFound(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewLoginChallengeStore(rdb, "t")
	ctx := context.Background()

	if _, err := store.Get(ctx, "patient", "2000000000000"); !errors.Is(err, ErrLoginChallengeNotFound) {
		t.Fatalf("err = %v, want ErrLoginChallengeNotFound", err)
	}
	if _, err := store.RecordFailure(ctx, "patient", "2000000000000", 5); !errors.Is(err, ErrLoginChallengeNotFound) {
		t.Fatalf("RecordFailure err = %v, want ErrLoginChallengeNotFound", err)
	}
}

func TestLoginChallengeReadTimeExpiry(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewLoginChallengeStore(rdb, "t")
	ctx := context.Background()

	// Redis TTL is generous; the embedded deadline has already passed.
	record := &LoginChallenge{
		CodeHash:  "h",
		ExpiresAt: time.Now().Add(-time.Second).Unix(),
	}
	if err := store.Put(ctx, "patient", "2001001234567", record, time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := store.Get(ctx, "patient", "2001001234567"); !errors.Is(err, ErrLoginChallengeExpired) {
		t.Fatalf("err = %v, want ErrLoginChallengeExpired", err)
	}

	// The expired record was pruned on read.
	if _, err := store.Get(ctx, "patient", "2001001234567"); !errors.Is(err, ErrLoginChallengeNotFound) {
		t.Fatalf("second Get: err = %v, want ErrLoginChallengeNotFound", err)
	}
}

func TestLoginChallengeRecordFailure(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewLoginChallengeStore(rdb, "t")
	ctx := context.Background()

	record := &LoginChallenge{
		CodeHash:  "h",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
	if err := store.Put(ctx, "patient", "2001001234567", record, time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	for i := 1; i <= 4; i++ {
		exceeded, err := store.RecordFailure(ctx, "patient", "2001001234567", 5)
		if err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
		if exceeded {
			t.Fatalf("RecordFailure %d exceeded early", i)
		}

		got, err := store.Get(ctx, "patient", "2001001234567")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if int(got.Attempts) != i {
			t.Fatalf("attempts = %d, want %d", got.Attempts, i)
		}
	}

	exceeded, err := store.RecordFailure(ctx, "patient", "2001001234567", 5)
	if err != nil {
		t.Fatalf("final RecordFailure failed: %v", err)
	}
	if !exceeded {
		t.Fatal("expected exceeded on fifth failure")
	}

	// Exceeding deletes the record.
	if _, err := store.Get(ctx, "patient", "2001001234567"); !errors.Is(err, ErrLoginChallengeNotFound) {
		t.Fatalf("after exceed: err = %v, want ErrLoginChallengeNotFound", err)
	}
}

func TestLoginChallengeDelete(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewLoginChallengeStore(rdb, "t")
	ctx := context.Background()

	record := &LoginChallenge{CodeHash: "h", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	if err := store.Put(ctx, "patient", "2001001234567", record, time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, err := store.Delete(ctx, "patient", "2001001234567")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !removed {
		t.Fatal("Delete reported no removal")
	}

	removed, err = store.Delete(ctx, "patient", "2001001234567")
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if removed {
		t.Fatal("second Delete reported a removal")
	}
}

func TestLoginChallengeRedisTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewLoginChallengeStore(rdb, "t")
	ctx := context.Background()

	record := &LoginChallenge{CodeHash: "h", ExpiresAt: time.Now().Add(time.Minute).Unix()}
	if err := store.Put(ctx, "patient", "2001001234567", record, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "patient", "2001001234567"); !errors.Is(err, ErrLoginChallengeNotFound) {
		t.Fatalf("after TTL: err = %v, want ErrLoginChallengeNotFound", err)
	}
}

func TestDecodeLoginChallengeRejectsBadData(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {0xFF, 0x01}, {1, 0x00}} {
		if _, err := decodeLoginChallenge(data); err == nil {
			t.Fatalf("decode accepted %v", data)
		}
	}
}
