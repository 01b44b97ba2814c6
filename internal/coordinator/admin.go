package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/signature"
	"github.com/ppiankov/trustgate/internal/transition"
)

// AdminOp is an operation on the admin surface.
type AdminOp string

const (
	OpPromote     AdminOp = "promote"
	OpDemote      AdminOp = "demote"
	OpBlock       AdminOp = "block"
	OpUnblock     AdminOp = "unblock"
	OpGrantAdmin  AdminOp = "grant_admin"
	OpRevokeAdmin AdminOp = "revoke_admin"
	OpGetLevel    AdminOp = "get_level"
)

var (
	// ErrInvalidSignature is returned by Admin for a request that fails verification.
	ErrInvalidSignature = errors.New(ReasonInvalidSignature)

	// ErrExpired is returned by Admin for a request outside the freshness window.
	ErrExpired = errors.New(ReasonExpired)

	// ErrUnknownOp is returned for an AdminOp not listed above.
	ErrUnknownOp = errors.New("unknown admin operation")
)

// ParseAdminOp maps "grant-admin", "grant_admin" and friends to an AdminOp.
func ParseAdminOp(s string) (AdminOp, error) {
	op := AdminOp(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch op {
	case OpPromote, OpDemote, OpBlock, OpUnblock, OpGrantAdmin, OpRevokeAdmin, OpGetLevel:
		return op, nil
	case "level", "getlevel":
		return OpGetLevel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOp, s)
}

// Admin performs op on target on behalf of the signer of req, who must be
// an admin (or self). It returns target's level after the operation.
func (c *Coordinator) Admin(ctx context.Context, req model.SignedRequest, op AdminOp, target model.ClientIdentity) (model.TrustLevel, error) {
	if ok, kind := c.verifier.Verify(req, c.cfg.Now()); !ok {
		if kind == signature.Expired {
			return "", ErrExpired
		}
		return "", ErrInvalidSignature
	}
	actor := req.From
	if !c.machine.IsAdmin(actor) {
		return "", fmt.Errorf("%w: %s is %s", transition.ErrNotAuthorized, actor.Short(), c.machine.LevelOf(actor))
	}
	if op == OpGetLevel {
		return c.machine.LevelOf(target), nil
	}
	return c.Act(ctx, actor, op, target)
}

// Act applies op to target as actor without a signed request. It is the
// path for local operators (the CLI acting as self); authorization is
// still checked by the state machine.
func (c *Coordinator) Act(ctx context.Context, actor model.ClientIdentity, op AdminOp, target model.ClientIdentity) (model.TrustLevel, error) {
	if op == OpGetLevel {
		return c.machine.LevelOf(target), nil
	}
	action, err := model.ParseTransitionAction(string(op))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	if actor == "" {
		return "", fmt.Errorf("%w: admin operations need an acting identity", transition.ErrNotAuthorized)
	}
	return c.machine.Transition(ctx, target, action, actor)
}
