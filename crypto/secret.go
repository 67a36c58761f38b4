package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"errors"
	"fmt"
)

// SignedSecret returns secret followed by its Ed25519 signature.
func SignedSecret(privateKey ed25519.PrivateKey, secret []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 private key length: got %d want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	if len(secret) == 0 {
		return nil, errors.New("secret is required")
	}

	out := make([]byte, 0, len(secret)+ed25519.SignatureSize)
	out = append(out, secret...)
	return append(out, ed25519.Sign(privateKey, secret)...), nil
}

// VerifySignedSecret splits blob into a secretSize byte secret and a
// signature, and checks the signature against cert. Ed25519 and RSA
// certificates are accepted.
func VerifySignedSecret(cert *x509.Certificate, blob []byte, secretSize int) ([]byte, error) {
	if len(blob) <= secretSize {
		return nil, errors.New("signed secret too short")
	}
	secret, signature := blob[:secretSize], blob[secretSize:]

	algorithm := x509.SHA256WithRSA
	if _, ok := cert.PublicKey.(ed25519.PublicKey); ok {
		algorithm = x509.PureEd25519
	}
	if err := cert.CheckSignature(algorithm, secret, signature); err != nil {
		return nil, fmt.Errorf("verify secret signature: %w", err)
	}
	return secret, nil
}
