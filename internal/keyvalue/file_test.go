package keyvalue

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Error("Get on empty store reported ok")
	}

	if err := s.Set(ctx, KeySpotNote, []byte("level P2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, KeySpotNote)
	if err != nil || !ok || string(v) != "level P2" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	if err := s.Remove(ctx, KeySpotNote); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, KeySpotNote); ok {
		t.Error("key still present after Remove")
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set(ctx, KeyCountdownEndsAt, []byte("1735689600000")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok, err := reopened.Get(ctx, KeyCountdownEndsAt)
	if err != nil || !ok || string(v) != "1735689600000" {
		t.Fatalf("after reopen Get = %q, %v, %v", v, ok, err)
	}
}

func TestFileStoreRemoveMany(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	keys := []string{KeySpotCoordinate, KeySpotSavedAt, KeySpotNote}
	for _, k := range keys {
		if err := s.Set(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := s.RemoveMany(ctx, keys); err != nil {
		t.Fatalf("RemoveMany: %v", err)
	}
	for _, k := range keys {
		if _, ok, _ := s.Get(ctx, k); ok {
			t.Errorf("key %s survived RemoveMany", k)
		}
	}
}
