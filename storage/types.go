package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"streamlink/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	pairStateUnknown  = "unknown"
	pairStateUnpaired = "unpaired"
	pairStatePaired   = "paired"
)

const (
	// PairingOutcomeSucceeded records a completed PIN exchange.
	PairingOutcomeSucceeded = "succeeded"
	// PairingOutcomeFailed records a rejected or aborted PIN exchange.
	PairingOutcomeFailed = "failed"
	// PairingOutcomeAlreadyPaired records a pairing attempt the host already trusted.
	PairingOutcomeAlreadyPaired = "already_paired"
	// PairingOutcomeUnpaired records a trust credential dropped by the user.
	PairingOutcomeUnpaired = "unpaired"
)

// PairingEvent is one entry of the pairing history.
type PairingEvent struct {
	ID        int64
	HostUUID  string
	Outcome   string
	Details   string
	Timestamp int64
}

func pairStateToText(state models.PairState) string {
	switch state {
	case models.PairStatePaired:
		return pairStatePaired
	case models.PairStateUnpaired:
		return pairStateUnpaired
	default:
		return pairStateUnknown
	}
}

func pairStateFromText(text string) (models.PairState, error) {
	switch text {
	case pairStatePaired:
		return models.PairStatePaired, nil
	case pairStateUnpaired:
		return models.PairStateUnpaired, nil
	case pairStateUnknown:
		return models.PairStateUnknown, nil
	default:
		return models.PairStateUnknown, fmt.Errorf("invalid pair state %q", text)
	}
}

func validatePairingOutcome(outcome string) error {
	switch outcome {
	case PairingOutcomeSucceeded, PairingOutcomeFailed, PairingOutcomeAlreadyPaired, PairingOutcomeUnpaired:
		return nil
	default:
		return fmt.Errorf("invalid pairing outcome %q", outcome)
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullBytes(value []byte) []byte {
	if len(value) == 0 {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
