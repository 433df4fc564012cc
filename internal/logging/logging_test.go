package logging

import (
	"testing"
)

func TestRingBuffer(t *testing.T) {
	Init(5, LevelError) // quiet stderr during the test

	for i := 0; i < 3; i++ {
		Info(CatSystem, "entry", map[string]any{"i": i})
	}

	entries := GetRecent(10)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Fields["i"] != 0 || entries[2].Fields["i"] != 2 {
		t.Error("entries out of order, want oldest first")
	}
}

func TestRingBufferWrapsAround(t *testing.T) {
	Init(5, LevelError)

	for i := 0; i < 8; i++ {
		Info(CatCard, "entry", map[string]any{"i": i})
	}

	entries := GetRecent(10)
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5 (buffer size)", len(entries))
	}
	// Oldest surviving entry is i=3.
	if entries[0].Fields["i"] != 3 {
		t.Errorf("oldest entry is i=%v, want 3", entries[0].Fields["i"])
	}
	if entries[4].Fields["i"] != 7 {
		t.Errorf("newest entry is i=%v, want 7", entries[4].Fields["i"])
	}
}

func TestGetRecentLimit(t *testing.T) {
	Init(100, LevelError)

	for i := 0; i < 10; i++ {
		Warn(CatLedger, "entry", map[string]any{"i": i})
	}

	entries := GetRecent(3)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// The limit keeps the newest entries.
	if entries[2].Fields["i"] != 9 {
		t.Errorf("newest entry is i=%v, want 9", entries[2].Fields["i"])
	}
}

func TestEntryMetadata(t *testing.T) {
	Init(10, LevelError)

	Error(CatWebSocket, "boom", nil)

	entries := GetRecent(1)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != LevelError {
		t.Errorf("level %q, want error", e.Level)
	}
	if e.Category != CatWebSocket {
		t.Errorf("category %q, want websocket", e.Category)
	}
	if e.Message != "boom" {
		t.Errorf("message %q, want boom", e.Message)
	}
	if e.Time.IsZero() {
		t.Error("entry has zero time")
	}
}
