package core

import (
	"strings"
	"testing"
)

func TestGenerateCode(t *testing.T) {
	for _, length := range []int{4, 6, 8, 32} {
		code, err := GenerateCode(length)
		if err != nil {
			t.Fatalf("GenerateCode(%d) failed: %v", length, err)
		}
		if len(code) != length {
			t.Errorf("got length %d, want %d", len(code), length)
		}
		for _, ch := range code {
			if !strings.ContainsRune(codeAlphabet, ch) {
				t.Errorf("code %q contains %q, not in alphabet", code, ch)
			}
		}
	}
}

func TestGenerateCodeInvalidLength(t *testing.T) {
	for _, length := range []int{0, -1} {
		if _, err := GenerateCode(length); err == nil {
			t.Errorf("GenerateCode(%d) succeeded, want error", length)
		}
	}
}

// Ambiguous characters stay off cards since codes get read back by humans
// over the phone when a reader is down.
func TestCodeAlphabetUnambiguous(t *testing.T) {
	for _, forbidden := range "0O1Il" {
		if strings.ContainsRune(codeAlphabet, forbidden) {
			t.Errorf("alphabet contains ambiguous character %q", forbidden)
		}
	}
}
