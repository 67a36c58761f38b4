package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"streamlink/crypto"
)

const (
	pinDigits         = 4
	saltSize          = 16
	challengeSize     = 16
	secretSize        = 16
	challengeHashSize = sha256.Size
)

// PairResult is the outcome of a completed PIN exchange.
type PairResult struct {
	// ServerCert is the host certificate in PEM form, to be pinned.
	ServerCert []byte
}

// Pair runs the PIN-based pairing exchange with the host at target.
//
// The PIN is generated here and handed to onPIN before the host is
// contacted; the user types it on the host while the first request blocks.
// The exchange is bounded by ctx only. On any failure after the host has
// seen the request, a best-effort unpair is sent so the host does not keep
// a half-finished pairing.
func (c *Client) Pair(ctx context.Context, target Target, onPIN func(pin string)) (*PairResult, error) {
	if c.opts.Identity == nil {
		return nil, errors.New("pair: client identity is required")
	}

	pin, err := crypto.GeneratePIN(pinDigits)
	if err != nil {
		return nil, err
	}
	salt, err := crypto.RandomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	if onPIN != nil {
		onPIN(pin)
	}

	result, err := c.pair(ctx, target, pin, salt)
	if err != nil {
		if unpairErr := c.Unpair(context.WithoutCancel(ctx), target); unpairErr != nil {
			c.logger.Debug("Unpair after failed pairing", "err", unpairErr)
		}
		return nil, err
	}

	return result, nil
}

func (c *Client) pair(ctx context.Context, target Target, pin string, salt []byte) (*PairResult, error) {
	identity := c.opts.Identity

	// Stage 1: exchange certificates. The host holds this request open
	// until the PIN is entered.
	certResp, err := c.pairRequest(ctx, target, false, 0, url.Values{
		"phrase":     {"getservercert"},
		"salt":       {hex.EncodeToString(salt)},
		"clientcert": {hex.EncodeToString(identity.CertPEM)},
	})
	if err != nil {
		return nil, err
	}
	if !certResp.paired() {
		return nil, ErrPairingRejected
	}
	serverCertPEM, err := decodeHexField("plaincert", certResp.PlainCert)
	if err != nil {
		return nil, fmt.Errorf("%w: host is already pairing with another client", ErrPairingRejected)
	}
	serverCert, err := crypto.ParseCertificatePEM(serverCertPEM)
	if err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}

	key, err := crypto.DerivePairingKey(pin, salt)
	if err != nil {
		return nil, err
	}

	// Stage 2: send a client challenge, receive the host's commitment and
	// its own challenge.
	clientChallenge, err := crypto.RandomBytes(challengeSize)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.SealHex(key, clientChallenge)
	if err != nil {
		return nil, err
	}
	challengeResp, err := c.pairRequest(ctx, target, false, c.opts.Timeout, url.Values{
		"clientchallenge": {sealed},
	})
	if err != nil {
		return nil, err
	}
	if !challengeResp.paired() {
		// The host could not open the challenge with its key.
		return nil, ErrIncorrectPIN
	}
	opened, err := crypto.OpenHex(key, challengeResp.ChallengeResponse)
	if err != nil {
		return nil, ErrIncorrectPIN
	}
	if len(opened) != challengeHashSize+challengeSize {
		return nil, fmt.Errorf("pair: unexpected challenge response length %d", len(opened))
	}
	serverCommitment := opened[:challengeHashSize]
	serverChallenge := opened[challengeHashSize:]

	// Stage 3: answer the host challenge, receive the host secret.
	clientSecret, err := crypto.RandomBytes(secretSize)
	if err != nil {
		return nil, err
	}
	clientAnswer := ChallengeHash(serverChallenge, identity.Certificate.Signature, clientSecret)
	sealed, err = crypto.SealHex(key, clientAnswer)
	if err != nil {
		return nil, err
	}
	secretResp, err := c.pairRequest(ctx, target, false, c.opts.Timeout, url.Values{
		"serverchallengeresp": {sealed},
	})
	if err != nil {
		return nil, err
	}
	if !secretResp.paired() {
		return nil, ErrPairingRejected
	}
	pairingSecret, err := decodeHexField("pairingsecret", secretResp.PairingSecret)
	if err != nil {
		return nil, err
	}
	serverSecret, err := crypto.VerifySignedSecret(serverCert, pairingSecret, secretSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingRejected, err)
	}
	expected := ChallengeHash(clientChallenge, serverCert.Signature, serverSecret)
	if !bytes.Equal(expected, serverCommitment) {
		return nil, ErrIncorrectPIN
	}

	// Stage 4: reveal the client secret, signed by the client key.
	signedSecret, err := crypto.SignedSecret(identity.PrivateKey, clientSecret)
	if err != nil {
		return nil, err
	}
	finalResp, err := c.pairRequest(ctx, target, false, c.opts.Timeout, url.Values{
		"clientpairingsecret": {hex.EncodeToString(signedSecret)},
	})
	if err != nil {
		return nil, err
	}
	if !finalResp.paired() {
		return nil, ErrPairingRejected
	}

	// Stage 5: prove the pinned certificate works over the encrypted endpoint.
	pinned := target
	pinned.ServerCert = serverCertPEM
	confirmResp, err := c.pairRequest(ctx, pinned, true, c.opts.Timeout, url.Values{
		"phrase": {"pairchallenge"},
	})
	if err != nil {
		return nil, err
	}
	if !confirmResp.paired() {
		return nil, ErrPairingRejected
	}

	return &PairResult{ServerCert: serverCertPEM}, nil
}

func (c *Client) pairRequest(ctx context.Context, target Target, useHTTPS bool, timeout time.Duration, params url.Values) (*pairResponse, error) {
	params.Set("devicename", c.opts.DeviceName)
	params.Set("updateState", "1")

	var resp pairResponse
	if err := c.do(ctx, target, useHTTPS, "/pair", params, timeout, &resp); err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}
	if err := resp.err(); err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}
	return &resp, nil
}

// ChallengeHash is the commitment each side computes over a peer challenge,
// its own certificate signature and its secret.
func ChallengeHash(challenge, certSignature, secret []byte) []byte {
	h := sha256.New()
	h.Write(challenge)
	h.Write(certSignature)
	h.Write(secret)
	return h.Sum(nil)
}
