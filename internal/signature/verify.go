// Package signature authenticates signed requests.
//
// A request is authentic when its signature verifies, under the Ed25519
// public key named by its From identity, over the canonical encoding of its
// payload, and fresh when its timestamp lies within the freshness window of
// the evaluation time.
//
// Freshness is the only replay defense and it is stateless: there is no
// nonce ledger, so a captured request can be replayed by anyone until its
// timestamp leaves the window. Callers that need exactly-once semantics must
// deduplicate above this layer.
package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/trustgate/internal/codec"
	"github.com/ppiankov/trustgate/internal/model"
)

// DefaultFreshnessWindow bounds |now - payload.timestamp|.
const DefaultFreshnessWindow = 5 * time.Minute

// FailureKind classifies why verification failed. Empty means success.
type FailureKind string

const (
	InvalidSignature FailureKind = "InvalidSignature"
	Expired          FailureKind = "Expired"
)

// ErrMalformedIdentity is returned when an identity is not a hex Ed25519 public key.
var ErrMalformedIdentity = errors.New("signature: identity is not a hex-encoded Ed25519 public key")

// signedPayment and signedPayload fix the field order of the signed bytes
// with integer keys. They are never serialized as JSON.
type signedPayment struct {
	Provider  string `cbor:"1,keyasint"`
	Reference string `cbor:"2,keyasint"`
	Amount    int64  `cbor:"3,keyasint"`
}

type signedPayload struct {
	Body       string            `cbor:"1,keyasint"`
	To         string            `cbor:"2,keyasint,omitempty"`
	Timestamp  int64             `cbor:"3,keyasint"`
	InviteCode string            `cbor:"4,keyasint,omitempty"`
	Payment    *signedPayment    `cbor:"5,keyasint,omitempty"`
	Extra      map[string]string `cbor:"6,keyasint,omitempty"`
}

// CanonicalBytes returns the exact bytes a signature covers.
func CanonicalBytes(p model.Payload) ([]byte, error) {
	sp := signedPayload{
		Body:       p.Body,
		To:         p.To,
		Timestamp:  p.Timestamp,
		InviteCode: p.InviteCode,
		Extra:      p.Extra,
	}
	if p.Payment != nil {
		sp.Payment = &signedPayment{
			Provider:  p.Payment.Provider,
			Reference: p.Payment.Reference,
			Amount:    p.Payment.Amount,
		}
	}
	data, err := codec.Marshal(sp)
	if err != nil {
		return nil, fmt.Errorf("signature: encoding payload: %w", err)
	}
	return data, nil
}

// PublicKeyFromIdentity decodes an identity into an Ed25519 public key.
func PublicKeyFromIdentity(id model.ClientIdentity) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(string(id))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrMalformedIdentity
	}
	return ed25519.PublicKey(raw), nil
}

// IdentityFromPublicKey encodes a public key as a ClientIdentity.
func IdentityFromPublicKey(pub ed25519.PublicKey) model.ClientIdentity {
	return model.ClientIdentity(hex.EncodeToString(pub))
}

// Verifier checks signatures and freshness. It holds no mutable state and is
// safe for concurrent use.
type Verifier struct {
	window time.Duration
}

// NewVerifier creates a Verifier. A window <= 0 selects DefaultFreshnessWindow.
func NewVerifier(window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Verifier{window: window}
}

// Window returns the configured freshness window.
func (v *Verifier) Window() time.Duration {
	return v.window
}

// Verify reports whether req is authentic and fresh at now. On failure the
// FailureKind says why. Signature is checked before freshness.
func (v *Verifier) Verify(req model.SignedRequest, now time.Time) (bool, FailureKind) {
	pub, err := PublicKeyFromIdentity(req.From)
	if err != nil {
		return false, InvalidSignature
	}

	sig, err := hex.DecodeString(req.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, InvalidSignature
	}

	msg, err := CanonicalBytes(req.Payload)
	if err != nil {
		return false, InvalidSignature
	}

	if !ed25519.Verify(pub, msg, sig) {
		return false, InvalidSignature
	}

	// time.Sub saturates past ~292 years, so compare against bounds.
	ts := time.Unix(req.Payload.Timestamp, 0)
	if ts.Before(now.Add(-v.window)) || ts.After(now.Add(v.window)) {
		return false, Expired
	}

	return true, ""
}
