package security

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func setTestKey(t *testing.T) {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", base64.StdEncoding.EncodeToString(key))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	setTestKey(t)

	for _, plain := range []string{"", "api-key-123", "secret with spaces and ünïcode"} {
		encrypted, err := EncryptString(plain)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if encrypted == plain && plain != "" {
			t.Fatal("ciphertext equals plaintext")
		}

		decrypted, err := DecryptString(encrypted)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if decrypted != plain {
			t.Fatalf("roundtrip mismatch: got %q, want %q", decrypted, plain)
		}
	}
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	setTestKey(t)

	a, err := EncryptString("same input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := EncryptString("same input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of the same input must differ")
	}
}

func TestDecryptRejectsBadInput(t *testing.T) {
	setTestKey(t)

	if _, err := DecryptString("not base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := DecryptString(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestRejectsWrongKeyLength(t *testing.T) {
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", base64.StdEncoding.EncodeToString([]byte("too-short")))

	if _, err := EncryptString("anything"); err == nil {
		t.Fatal("expected error for short key")
	}
}
