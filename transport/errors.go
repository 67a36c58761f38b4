package transport

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPairingRejected indicates the host refused to start or finish pairing.
	ErrPairingRejected = errors.New("transport: host rejected pairing")
	// ErrIncorrectPIN indicates the PIN entered on the host did not match.
	ErrIncorrectPIN = errors.New("transport: incorrect PIN")
	// ErrCertificateMismatch indicates the host presented an unexpected certificate.
	ErrCertificateMismatch = errors.New("transport: server certificate does not match pinned certificate")
)

// StatusError is a non-OK status reported by a host, either as an HTTP
// status or as the status_code attribute of the XML response root.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("host returned status %d", e.Code)
	}
	return fmt.Sprintf("host returned status %d: %s", e.Code, e.Message)
}

// IsAuthorizationError reports whether err is a 401 status from a host.
func IsAuthorizationError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized
}
