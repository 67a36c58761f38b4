package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strings"
	"time"
)

const (
	ed25519PrivatePEMType = "ED25519 PRIVATE KEY"
	certificatePEMType    = "CERTIFICATE"

	identityValidity = 20 * 365 * 24 * time.Hour
)

// Identity is the client credential presented to hosts.
type Identity struct {
	PrivateKey  ed25519.PrivateKey
	Certificate *x509.Certificate
	CertPEM     []byte
}

// TLSCertificate returns the identity as a TLS client certificate.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// Fingerprint returns the truncated SHA-256 fingerprint of the certificate.
func (id *Identity) Fingerprint() string {
	return CertFingerprint(id.Certificate.Raw)
}

// EnsureClientIdentity loads the client key and certificate from disk,
// generating both on first run. A missing or unparseable certificate is
// regenerated from the stored key.
func EnsureClientIdentity(certPath, keyPath, commonName string) (*Identity, error) {
	privateKey, err := LoadEd25519PrivateKey(keyPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		_, privateKey, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate Ed25519 keypair: %w", err)
		}
		if err := SaveEd25519PrivateKey(keyPath, privateKey); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if raw, err := os.ReadFile(certPath); err == nil {
		cert, parseErr := ParseCertificatePEM(raw)
		if parseErr == nil && publicKeyMatches(cert, privateKey) {
			return &Identity{PrivateKey: privateKey, Certificate: cert, CertPEM: raw}, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read client certificate: %w", err)
	}

	certPEM, err := SelfSignedCertificate(privateKey, commonName)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write client certificate: %w", err)
	}
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}

	return &Identity{PrivateKey: privateKey, Certificate: cert, CertPEM: certPEM}, nil
}

// SelfSignedCertificate issues a long-lived self-signed certificate for key.
func SelfSignedCertificate(key ed25519.PrivateKey, commonName string) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(identityValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: certificatePEMType, Bytes: der}), nil
}

// ParseCertificatePEM decodes the first certificate in a PEM document.
func ParseCertificatePEM(raw []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode certificate PEM: no PEM block")
	}
	if block.Type != certificatePEMType {
		return nil, fmt.Errorf("decode certificate PEM: unexpected type %q", block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return cert, nil
}

// LoadEd25519PrivateKey loads an Ed25519 private key from a PEM file.
func LoadEd25519PrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read Ed25519 private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode Ed25519 private PEM: no PEM block")
	}
	if block.Type != ed25519PrivatePEMType {
		return nil, fmt.Errorf("decode Ed25519 private PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("decode Ed25519 private PEM: invalid key size %d", len(block.Bytes))
	}

	return ed25519.PrivateKey(block.Bytes), nil
}

// SaveEd25519PrivateKey writes an Ed25519 private key PEM file with 0600 permissions.
func SaveEd25519PrivateKey(path string, key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("save Ed25519 private key: invalid key size %d", len(key))
	}

	block := &pem.Block{
		Type:  ed25519PrivatePEMType,
		Bytes: key,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write Ed25519 private key: %w", err)
	}

	return nil
}

// CertFingerprint returns the truncated SHA-256 hex fingerprint of a DER certificate.
func CertFingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}

func publicKeyMatches(cert *x509.Certificate, key ed25519.PrivateKey) bool {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	return ok && pub.Equal(key.Public())
}
