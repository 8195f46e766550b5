package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"realtime-dashboard/internal/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(name string) telemetry.Snapshot {
	start := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	duration := int64(90_000)
	return telemetry.Snapshot{
		Name:          name,
		Model:         "gpt-4o-realtime-preview",
		Voice:         "ash",
		Prompt:        "be brief",
		PricingConfig: telemetry.DefaultPricing,
		SessionStats: telemetry.TokenStats{
			TokenCounts:   telemetry.TokenCounts{AudioInputTokens: 90, TextInputTokens: 20, AudioOutputTokens: 50, TextOutputTokens: 5},
			CostBreakdown: telemetry.CostBreakdown{InputCost: 0.1, OutputCost: 0.2, TotalCost: 0.3},
		},
		TimelineSegments: []telemetry.TimelineSegment{{
			Start:    start,
			End:      start.Add(time.Second),
			Speaker:  telemetry.SpeakerUser,
			Duration: time.Second,
		}},
		SessionStartTime: &start,
		SessionEndTime:   &end,
		DurationMs:       &duration,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Save(sampleSnapshot("  demo   call "))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.ID == "" || rec.Name != "demo call" {
		t.Fatalf("unexpected record: %+v", rec.Summary)
	}
	if rec.InputTokens != 110 || rec.OutputTokens != 55 || rec.TotalCost != 0.3 {
		t.Fatalf("unexpected totals: %+v", rec.Summary)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Snapshot.Name != "demo call" || got.Snapshot.Prompt != "be brief" {
		t.Fatalf("unexpected snapshot: %+v", got.Snapshot)
	}
	if got.DurationMs == nil || *got.DurationMs != 90_000 {
		t.Fatalf("duration = %v", got.DurationMs)
	}
	if got.SessionStart == nil || !got.SessionStart.Equal(*rec.SessionStart) {
		t.Fatalf("session start = %v", got.SessionStart)
	}
	if len(got.Snapshot.TimelineSegments) != 1 || got.Snapshot.TimelineSegments[0].Duration != time.Second {
		t.Fatalf("timeline = %+v", got.Snapshot.TimelineSegments)
	}
}

func TestSaveDefaultsName(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(sampleSnapshot("first")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := s.Save(sampleSnapshot(" "))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.Name != "Session 2" {
		t.Fatalf("name = %q", rec.Name)
	}
}

func TestDefaultNameDoesNotRepeatAfterDelete(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Save(sampleSnapshot(""))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := s.Save(sampleSnapshot(""))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Name != "Session 1" || second.Name != "Session 2" {
		t.Fatalf("names = %q, %q", first.Name, second.Name)
	}
	if err := s.Delete(first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	third, err := s.Save(sampleSnapshot(""))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if third.Name != "Session 3" {
		t.Fatalf("name after delete = %q, want %q", third.Name, "Session 3")
	}
}

func TestSaveWithoutTiming(t *testing.T) {
	s := newTestStore(t)
	snap := sampleSnapshot("stopped")
	snap.SessionStartTime, snap.SessionEndTime, snap.DurationMs = nil, nil, nil

	rec, err := s.Save(snap)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionStart != nil || got.DurationMs != nil || got.Snapshot.SessionEndTime != nil {
		t.Fatalf("expected nil timing, got %+v", got.Summary)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.Save(sampleSnapshot(name)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}

	list, err := s.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(list))
	}
	if list[0].Name != "c" || list[2].Name != "a" {
		t.Fatalf("unexpected order: %s, %s, %s", list[0].Name, list[1].Name, list[2].Name)
	}

	limited, err := s.List(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(limited))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Save(sampleSnapshot("gone"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewStoreRequiresPath(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
