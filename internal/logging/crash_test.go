package logging

import (
	"strings"
	"testing"
)

func TestCrashLogDir(t *testing.T) {
	dir := CrashLogDir()
	if dir == "" {
		t.Error("CrashLogDir returned empty string")
	}
}

func TestReadCrashLogRejectsBadNames(t *testing.T) {
	bad := []string{
		"../../../etc/passwd",
		"crash_..\\..\\x.log",
		"settings.json",
		"crash_ok.txt",
	}
	for _, name := range bad {
		if _, err := ReadCrashLog(name); err == nil || !strings.Contains(err.Error(), "invalid") {
			// A missing-but-valid name gives a not-exist error instead.
			if err == nil {
				t.Errorf("ReadCrashLog(%q) accepted a bad name", name)
			}
		}
	}
}

func TestRecoverAndLogSwallowsPanic(t *testing.T) {
	func() {
		defer RecoverAndLog("test goroutine", false)
		panic("expected test panic")
	}()
	// Reaching here means the panic was recovered and not re-raised.
}
