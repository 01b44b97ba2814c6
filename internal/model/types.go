package model

import (
	"fmt"
	"strings"
	"time"
)

// ClientIdentity is the caller's public key, lowercase hex encoded.
// It is the map key for every per-client structure.
type ClientIdentity string

// Short returns a log-friendly prefix of the identity.
func (id ClientIdentity) Short() string {
	if len(id) <= 16 {
		return string(id)
	}
	return string(id[:16])
}

// TrustLevel is the single trust level a client holds at any time.
type TrustLevel string

const (
	Stranger  TrustLevel = "stranger"
	Contact   TrustLevel = "contact"
	Whitelist TrustLevel = "whitelist"
	Admin     TrustLevel = "admin"
	Blocked   TrustLevel = "blocked"
)

// Levels lists every trust level in ascending precedence order.
var Levels = []TrustLevel{Stranger, Contact, Whitelist, Admin, Blocked}

// LevelRank maps levels to their precedence. When an identity shows up in
// more than one list (a crash mid-move), the higher rank wins, so Blocked
// always survives recovery.
var LevelRank = map[TrustLevel]int{
	Stranger:  0,
	Contact:   1,
	Whitelist: 2,
	Admin:     3,
	Blocked:   4,
}

// ParseTrustLevel maps a case-insensitive name to a TrustLevel.
// "contacts" and "block" are accepted as aliases.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stranger", "strangers":
		return Stranger, nil
	case "contact", "contacts":
		return Contact, nil
	case "whitelist", "whitelisted":
		return Whitelist, nil
	case "admin", "admins":
		return Admin, nil
	case "blocked", "block", "blocklist":
		return Blocked, nil
	default:
		return "", fmt.Errorf("unknown trust level %q", s)
	}
}

// Valid reports whether l is one of the five defined levels.
func (l TrustLevel) Valid() bool {
	_, ok := LevelRank[l]
	return ok
}

// TransitionAction names a trust-level state change.
type TransitionAction string

const (
	Promote     TransitionAction = "promote"
	Demote      TransitionAction = "demote"
	Block       TransitionAction = "block"
	Unblock     TransitionAction = "unblock"
	GrantAdmin  TransitionAction = "grant_admin"
	RevokeAdmin TransitionAction = "revoke_admin"
)

// ParseTransitionAction maps a name (underscore or dash separated) to a TransitionAction.
func ParseTransitionAction(s string) (TransitionAction, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "promote":
		return Promote, nil
	case "demote":
		return Demote, nil
	case "block":
		return Block, nil
	case "unblock":
		return Unblock, nil
	case "grant_admin":
		return GrantAdmin, nil
	case "revoke_admin":
		return RevokeAdmin, nil
	default:
		return "", fmt.Errorf("unknown transition %q", s)
	}
}

// Verdict is the outcome of fast-rule evaluation.
type Verdict string

const (
	VerdictAllow         Verdict = "allow"
	VerdictDeny          Verdict = "deny"
	VerdictNeedsFallback Verdict = "needs_fallback"
)

// ClientRecord is everything the engine knows about one caller.
// Created as Stranger on first sighting; never deleted.
type ClientRecord struct {
	Identity ClientIdentity `json:"identity"`
	Level    TrustLevel     `json:"level"`

	// PreAdminLevel is the level held before GrantAdmin, restored on RevokeAdmin.
	// Empty unless Level is Admin.
	PreAdminLevel TrustLevel `json:"pre_admin_level,omitempty"`

	Requests  int64 `json:"requests"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`

	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewClientRecord returns a fresh Stranger record.
func NewClientRecord(id ClientIdentity, now time.Time) ClientRecord {
	return ClientRecord{
		Identity:  id,
		Level:     Stranger,
		FirstSeen: now.UTC(),
		LastSeen:  now.UTC(),
	}
}

// Clone returns a deep copy (the metadata map is not shared).
func (r ClientRecord) Clone() ClientRecord {
	if r.Metadata != nil {
		m := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			m[k] = v
		}
		r.Metadata = m
	}
	return r
}

// Decision is the engine's answer for one request. Never mutated after creation.
type Decision struct {
	Allow        bool       `json:"allow"`
	Reason       string     `json:"reason"`
	UsedFallback bool       `json:"used_fallback"`
	Cacheable    bool       `json:"cacheable"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Denied builds a non-cacheable deny with the given reason.
func Denied(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// PaymentProof is the caller-supplied evidence of payment used for onboarding.
type PaymentProof struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
}

// Payload is the signed portion of a request.
type Payload struct {
	Body       string            `json:"body"`
	To         string            `json:"to,omitempty"`
	Timestamp  int64             `json:"timestamp"`
	InviteCode string            `json:"invite_code,omitempty"`
	Payment    *PaymentProof     `json:"payment,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// SignedRequest is the transport-agnostic request shape. Signature is the
// hex-encoded Ed25519 signature over the canonical encoding of Payload.
type SignedRequest struct {
	Payload   Payload        `json:"payload"`
	From      ClientIdentity `json:"from"`
	Signature string         `json:"signature"`
}
