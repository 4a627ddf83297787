package secrets

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestSealOpen(t *testing.T) {
	s, err := NewSealer("k1", map[string][]byte{"k1": testKey(0)})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	sealed, err := s.SealString("sk-live-123456")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("expected sealed prefix, got %q", sealed)
	}
	if strings.Contains(sealed, "sk-live") {
		t.Fatalf("plaintext leaked into sealed value")
	}

	out, err := s.OpenString(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "sk-live-123456" {
		t.Fatalf("expected original string, got %q", out)
	}
}

func TestRotationOpensOldSealsNew(t *testing.T) {
	old, err := NewSealer("old", map[string][]byte{"old": testKey(0)})
	if err != nil {
		t.Fatalf("old sealer: %v", err)
	}
	legacy, err := old.SealString("legacy")
	if err != nil {
		t.Fatalf("old seal: %v", err)
	}

	rotated, err := NewSealer("new", map[string][]byte{"old": testKey(0), "new": testKey(1)})
	if err != nil {
		t.Fatalf("rotated sealer: %v", err)
	}
	plain, err := rotated.OpenString(legacy)
	if err != nil {
		t.Fatalf("open with old key: %v", err)
	}
	if plain != "legacy" {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	resealed, err := rotated.Reseal(legacy)
	if err != nil {
		t.Fatalf("reseal: %v", err)
	}
	if _, err := old.OpenString(resealed); err == nil {
		t.Fatalf("value resealed under the new key must not open with the old sealer")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	s, err := NewSealer("k1", map[string][]byte{"k1": testKey(7)})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	if _, err := s.OpenString("plain-value"); err == nil {
		t.Fatalf("unsealed input must be rejected")
	}
	if _, err := s.OpenString(sealedPrefix + "!!!"); err == nil {
		t.Fatalf("garbage envelope must be rejected")
	}

	other, _ := NewSealer("k1", map[string][]byte{"k1": testKey(8)})
	sealed, err := other.SealString("x")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := s.OpenString(sealed); err == nil {
		t.Fatalf("value sealed with a different key must not open")
	}
}

func TestNewSealerValidation(t *testing.T) {
	if _, err := NewSealer("k", nil); !errors.Is(err, ErrNoKeys) {
		t.Fatalf("expected ErrNoKeys, got %v", err)
	}
	if _, err := NewSealer("missing", map[string][]byte{"k": testKey(0)}); err == nil {
		t.Fatalf("expected error for unknown current key")
	}
	if _, err := NewSealer("k", map[string][]byte{"k": []byte("short")}); err == nil {
		t.Fatalf("expected error for short key")
	}
}
