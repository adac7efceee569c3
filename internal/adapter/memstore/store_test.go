package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sprintpilot/sprintpilot/internal/adapter/memstore"
	"github.com/sprintpilot/sprintpilot/internal/domain"
)

func TestGetPutRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	if _, _, found, err := s.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("absent key: found=%v err=%v", found, err)
	}

	if err := s.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	data, rev, found, err := s.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("expected hit, err=%v", err)
	}
	if string(data) != "v1" || rev != 1 {
		t.Errorf("got %q rev %d", data, rev)
	}

	if err := s.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	_, rev, _, _ = s.Get(ctx, "k")
	if rev != 2 {
		t.Errorf("put must bump revision, got %d", rev)
	}
}

func TestUpdate_CAS(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	// Create via revision 0.
	if err := s.Update(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, "k", []byte("dup"), 0); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("create over existing key must conflict, got %v", err)
	}

	_, rev, _, _ := s.Get(ctx, "k")
	if err := s.Update(ctx, "k", []byte("v2"), rev); err != nil {
		t.Fatal(err)
	}
	// Stale revision loses the race.
	if err := s.Update(ctx, "k", []byte("v3"), rev); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale revision must conflict, got %v", err)
	}
}

func TestDelete_AbsentIsNoError(t *testing.T) {
	s := memstore.New()
	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Fatal(err)
	}
}

func TestKeys_PrefixAndOrder(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	for _, k := range []string{"log.s1.stdout.00000002", "log.s1.stdout.00000001", "log.s1.stderr.00000001", "session.s1"} {
		if err := s.Put(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys(ctx, "log.s1.stdout.")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"log.s1.stdout.00000001", "log.s1.stdout.00000002"}
	if len(keys) != len(want) {
		t.Fatalf("got %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	_ = s.Put(ctx, "k", []byte("abc"))

	data, _, _, _ := s.Get(ctx, "k")
	data[0] = 'z'

	again, _, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Error("mutating a returned value must not affect the store")
	}
}
