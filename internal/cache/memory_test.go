package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory(8, false)
	defer m.Close()
	ctx := context.Background()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit")
	}
	if err := m.SetWithTTL(ctx, "k", []byte("value"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "value" {
		t.Fatalf("get = %q, %v", got, ok)
	}

	stats := m.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Items != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestMemory_ReturnedBytesAreCopies(t *testing.T) {
	m := NewMemory(8, false)
	defer m.Close()
	ctx := context.Background()

	_ = m.SetWithTTL(ctx, "k", []byte("abc"), time.Minute)
	got, _ := m.Get(ctx, "k")
	got[0] = 'X'
	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("cached value mutated through returned slice: %q", again)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(8, false)
	defer m.Close()
	ctx := context.Background()

	_ = m.SetWithTTL(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatal("expired entry served")
	}
	if items := m.Stats().Items; items != 0 {
		t.Fatalf("items = %d after lazy expiry, want 0", items)
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(2, false)
	defer m.Close()
	ctx := context.Background()

	_ = m.SetWithTTL(ctx, "a", []byte("1"), time.Minute)
	_ = m.SetWithTTL(ctx, "b", []byte("2"), time.Minute)
	// Touch "a" so "b" is the LRU victim.
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("a missing")
	}
	_ = m.SetWithTTL(ctx, "c", []byte("3"), time.Minute)

	if _, ok := m.Get(ctx, "b"); ok {
		t.Fatal("b should have been evicted")
	}
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("a should have survived")
	}
	if evictions := m.Stats().Evictions; evictions != 1 {
		t.Fatalf("evictions = %d, want 1", evictions)
	}
}

func TestMemory_CompressionRoundTrip(t *testing.T) {
	m := NewMemory(8, true)
	defer m.Close()
	ctx := context.Background()

	// Compressible payload above the threshold.
	payload := []byte(strings.Repeat("governed pipeline ", 100))
	_ = m.SetWithTTL(ctx, "big", payload, time.Minute)
	got, ok := m.Get(ctx, "big")
	if !ok || string(got) != string(payload) {
		t.Fatal("compressed round trip mismatch")
	}
	if bytes := m.Stats().Bytes; bytes >= int64(len(payload)) {
		t.Fatalf("stored bytes = %d, want smaller than %d", bytes, len(payload))
	}
}

func TestKey_Deterministic(t *testing.T) {
	type args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	a := Key("personal", args{Query: "voice", Limit: 5})
	b := Key("personal", args{Query: "voice", Limit: 5})
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "cache:personal:") {
		t.Fatalf("key namespace wrong: %q", a)
	}
	if c := Key("social", args{Query: "voice", Limit: 5}); c == a {
		t.Fatal("namespace not part of key")
	}
}
