package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/logsage/logsage/internal/query"
)

func testEntry(ttl time.Duration, turns ...string) *Entry {
	history := make([]AnalysisResult, 0, len(turns))
	for _, q := range turns {
		history = append(history, AnalysisResult{
			Question:   q,
			Intent:     query.IntentSemantic,
			Answer:     "answer to " + q,
			Confidence: 0.9,
			CreatedAt:  time.Now(),
		})
	}
	return &Entry{History: history, TTL: ttl}
}

func TestMemoryCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Set(ctx, "s1", testEntry(time.Minute, "q1")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() miss for just-set entry")
	}
	if len(got.History) != 1 || got.History[0].Question != "q1" {
		t.Errorf("Get() history = %+v", got.History)
	}
}

func TestMemoryCache_GetMiss(t *testing.T) {
	c := NewMemoryCache()
	_, ok, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() hit for absent session")
	}
}

func TestMemoryCache_GetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	entry := testEntry(time.Minute, "q1")
	entry.History[0].Sources = []string{"req-1"}
	_ = c.Set(ctx, "s1", entry)

	got, _, _ := c.Get(ctx, "s1")
	got.History[0].Answer = "mutated"
	got.History[0].Sources[0] = "mutated"

	again, _, _ := c.Get(ctx, "s1")
	if again.History[0].Answer == "mutated" {
		t.Error("caller mutation leaked into cached history")
	}
	if again.History[0].Sources[0] == "mutated" {
		t.Error("caller mutation leaked into cached sources")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "s1", testEntry(time.Minute, "q1"))

	// Within TTL: hit.
	now = now.Add(30 * time.Second)
	if _, ok, _ := c.Get(ctx, "s1"); !ok {
		t.Fatal("Get() miss within TTL")
	}

	// Reads do not refresh LastAccessed, so the entry still expires on
	// its original schedule.
	now = now.Add(31 * time.Second)
	if _, ok, _ := c.Get(ctx, "s1"); ok {
		t.Fatal("Get() hit after TTL elapsed")
	}

	removed, err := c.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupExpiredSessions() removed = %d, want 1", removed)
	}

	if size, _ := c.Size(ctx); size != 0 {
		t.Errorf("Size() = %d after cleanup, want 0", size)
	}
}

func TestMemoryCache_SetRefreshesLastAccessed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "s1", testEntry(time.Minute, "q1"))

	// A fresh turn 45s in refreshes the clock; the session survives past
	// the original deadline.
	now = now.Add(45 * time.Second)
	_ = c.Set(ctx, "s1", testEntry(time.Minute, "q1", "q2"))

	now = now.Add(45 * time.Second)
	if _, ok, _ := c.Get(ctx, "s1"); !ok {
		t.Error("entry expired despite refresh by Set")
	}
}

func TestMemoryCache_CleanupRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "short", testEntry(time.Second, "q"))
	_ = c.Set(ctx, "long", testEntry(time.Hour, "q"))

	now = now.Add(2 * time.Second)
	removed, _ := c.CleanupExpiredSessions(ctx)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, ok, _ := c.Get(ctx, "long"); !ok {
		t.Error("unexpired entry was removed")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_ = c.Set(ctx, "s1", testEntry(time.Minute, "q"))

	removed, err := c.Delete(ctx, "s1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !removed {
		t.Error("Delete() = false for existing entry")
	}

	removed, _ = c.Delete(ctx, "s1")
	if removed {
		t.Error("Delete() = true for already-deleted entry")
	}
}

func TestMemoryCache_EntriesAndValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_ = c.Set(ctx, "a", testEntry(time.Minute, "qa"))
	_ = c.Set(ctx, "b", testEntry(time.Minute, "qb"))

	entries, err := c.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Entries() len = %d, want 2", len(entries))
	}
	if entries["a"].History[0].Question != "qa" {
		t.Errorf("Entries()[a] = %+v", entries["a"])
	}

	values, err := c.Values(ctx)
	if err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	if len(values) != 2 {
		t.Errorf("Values() len = %d, want 2", len(values))
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n%4)
			for j := 0; j < 50; j++ {
				_ = c.Set(ctx, id, testEntry(time.Minute, "q"))
				_, _, _ = c.Get(ctx, id)
				_, _ = c.CleanupExpiredSessions(ctx)
			}
		}(i)
	}
	wg.Wait()

	if size, _ := c.Size(ctx); size == 0 {
		t.Error("expected surviving entries after concurrent writes")
	}
}
