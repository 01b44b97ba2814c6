package trustgate

import (
	"fmt"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/coordinator"
	"github.com/ppiankov/trustgate/internal/fallback"
	"github.com/ppiankov/trustgate/internal/model"
)

// Aliases for the engine's request and decision shapes.
type (
	Identity     = model.ClientIdentity
	Level        = model.TrustLevel
	Request      = model.SignedRequest
	Payload      = model.Payload
	PaymentProof = model.PaymentProof
	Decision     = model.Decision
)

// Trust levels.
const (
	Stranger  = model.Stranger
	Contact   = model.Contact
	Whitelist = model.Whitelist
	Admin     = model.Admin
	Blocked   = model.Blocked
)

// Reasoning fallback contract.
type (
	Reasoner        = fallback.Reasoner
	ReasonerFunc    = fallback.ReasonerFunc
	FallbackRequest = fallback.Request
	Verdict         = fallback.Verdict
)

// Alert webhook configuration and payload.
type (
	Webhook    = alert.Webhook
	AlertEvent = alert.Event
)

// AdminOp names an operation on a client's trust level.
type AdminOp = coordinator.AdminOp

// Admin operations.
const (
	OpPromote     = coordinator.OpPromote
	OpDemote      = coordinator.OpDemote
	OpBlock       = coordinator.OpBlock
	OpUnblock     = coordinator.OpUnblock
	OpGrantAdmin  = coordinator.OpGrantAdmin
	OpRevokeAdmin = coordinator.OpRevokeAdmin
	OpGetLevel    = coordinator.OpGetLevel
)

// DeniedError is returned by wrapped handlers when a request is refused.
type DeniedError struct {
	Identity Identity
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("trustgate denied %s: %s", e.Identity.Short(), e.Decision.Reason)
}
