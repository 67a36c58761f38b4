package crypto

import (
	"bytes"
	"testing"
)

func TestDerivePairingKeyIsDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	first, err := DerivePairingKey("1234", salt)
	if err != nil {
		t.Fatalf("DerivePairingKey failed: %v", err)
	}
	second, err := DerivePairingKey("1234", salt)
	if err != nil {
		t.Fatalf("DerivePairingKey failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected identical keys for identical input")
	}
	if len(first) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(first))
	}

	other, err := DerivePairingKey("4321", salt)
	if err != nil {
		t.Fatalf("DerivePairingKey failed: %v", err)
	}
	if bytes.Equal(first, other) {
		t.Fatalf("expected different PINs to yield different keys")
	}
}

func TestPairingKeyDecryptsChallenge(t *testing.T) {
	key, err := DerivePairingKey("9876", []byte("salt-salt-salt!!"))
	if err != nil {
		t.Fatalf("DerivePairingKey failed: %v", err)
	}

	sealed, err := SealHex(key, []byte("challenge"))
	if err != nil {
		t.Fatalf("SealHex failed: %v", err)
	}

	wrongKey, err := DerivePairingKey("0000", []byte("salt-salt-salt!!"))
	if err != nil {
		t.Fatalf("DerivePairingKey failed: %v", err)
	}
	if _, err := OpenHex(wrongKey, sealed); err == nil {
		t.Fatalf("expected decrypt with wrong PIN to fail")
	}
}

func TestGeneratePINDigits(t *testing.T) {
	pin, err := GeneratePIN(4)
	if err != nil {
		t.Fatalf("GeneratePIN failed: %v", err)
	}
	if len(pin) != 4 {
		t.Fatalf("expected 4 digits, got %q", pin)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric PIN, got %q", pin)
		}
	}
}
