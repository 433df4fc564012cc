package settings

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s == nil {
		t.Fatal("DefaultSettings returned nil")
	}
	if s.CrashReporting != false {
		t.Error("CrashReporting should be false by default (opt-in)")
	}
	if s.PreferredReader != "" {
		t.Error("PreferredReader should be empty by default")
	}
}

func TestGet(t *testing.T) {
	mu.Lock()
	current = &Settings{CrashReporting: true, PreferredReader: "ACS ACR122U"}
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		current = nil
		mu.Unlock()
	})

	s := Get()
	if s == nil {
		t.Fatal("Get returned nil")
	}
	if !s.CrashReporting {
		t.Error("Expected CrashReporting=true")
	}
	if s.PreferredReader != "ACS ACR122U" {
		t.Errorf("PreferredReader %q, want ACS ACR122U", s.PreferredReader)
	}
}

func TestIsCrashReportingEnabled(t *testing.T) {
	t.Cleanup(func() {
		mu.Lock()
		current = nil
		mu.Unlock()
	})

	mu.Lock()
	current = &Settings{CrashReporting: true}
	mu.Unlock()
	if !IsCrashReportingEnabled() {
		t.Error("Expected IsCrashReportingEnabled() to return true")
	}

	mu.Lock()
	current = &Settings{CrashReporting: false}
	mu.Unlock()
	if IsCrashReportingEnabled() {
		t.Error("Expected IsCrashReportingEnabled() to return false")
	}
}

func TestSettingsJSONFormat(t *testing.T) {
	s := Settings{CrashReporting: true, PreferredReader: "Reader A"}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	expected := `{"crashReporting":true,"preferredReader":"Reader A"}`
	if string(data) != expected {
		t.Errorf("JSON format mismatch: got %s, want %s", string(data), expected)
	}

	var loaded Settings
	if err := json.Unmarshal([]byte(`{"crashReporting":false,"preferredReader":""}`), &loaded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if loaded.CrashReporting != false {
		t.Error("Expected CrashReporting=false")
	}
}

func TestConcurrentGetAccess(t *testing.T) {
	mu.Lock()
	current = &Settings{CrashReporting: true}
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		current = nil
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s := Get(); s == nil {
				t.Error("Get returned nil during concurrent access")
			}
		}()
	}
	wg.Wait()
}
