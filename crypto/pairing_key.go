package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

const pairingKeyInfo = "streamlink pairing v1"

// DerivePairingKey derives the AES-256 key shared by both sides of a pairing
// exchange from the displayed PIN and the client-chosen salt.
func DerivePairingKey(pin string, salt []byte) ([]byte, error) {
	if pin == "" {
		return nil, fmt.Errorf("derive pairing key: empty PIN")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("derive pairing key: empty salt")
	}

	key := make([]byte, aes256KeySize)
	reader := hkdf.New(sha256.New, []byte(pin), salt, []byte(pairingKeyInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive pairing key: %w", err)
	}

	return key, nil
}

// GeneratePIN returns a uniformly random numeric PIN of the given length.
func GeneratePIN(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("invalid PIN length %d", digits)
	}

	pin := make([]byte, digits)
	ten := big.NewInt(10)
	for i := range pin {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate PIN: %w", err)
		}
		pin[i] = byte('0' + n.Int64())
	}

	return string(pin), nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return out, nil
}
