package policy

import (
	"context"
	"crypto/subtle"

	"github.com/ppiankov/trustgate/internal/model"
)

// Verifiers are the onboarding callbacks used by verify_invite and
// verify_payment rules. Implementations may consult external services; they
// must not change trust levels themselves; the engine applies the rule's
// transition after a successful check.
type Verifiers interface {
	VerifyInvite(ctx context.Context, client model.ClientRecord, code string, ob Onboarding) bool
	VerifyPayment(ctx context.Context, client model.ClientRecord, proof model.PaymentProof, ob Onboarding) bool
}

// PaymentCheck confirms a payment reference with its provider.
type PaymentCheck func(ctx context.Context, proof model.PaymentProof) bool

// DefaultVerifiers accepts invite codes listed in the policy's onboard block
// or in InviteCodes, and delegates payments to Payments after checking the
// provider and minimum amount. A nil Payments rejects every payment.
type DefaultVerifiers struct {
	InviteCodes []string
	Payments    PaymentCheck
}

func (v DefaultVerifiers) VerifyInvite(_ context.Context, _ model.ClientRecord, code string, ob Onboarding) bool {
	if code == "" {
		return false
	}
	return InviteList(ob.InviteCodes).Contains(code) || InviteList(v.InviteCodes).Contains(code)
}

func (v DefaultVerifiers) VerifyPayment(ctx context.Context, _ model.ClientRecord, proof model.PaymentProof, ob Onboarding) bool {
	if v.Payments == nil || ob.Payment == nil {
		return false
	}
	if ob.Payment.Provider != "" && proof.Provider != ob.Payment.Provider {
		return false
	}
	if proof.Amount < ob.Payment.MinAmount || proof.Reference == "" {
		return false
	}
	return v.Payments(ctx, proof)
}

// InviteList is a set of accepted invite codes.
type InviteList []string

// Contains compares in constant time per entry so response timing does not
// reveal how much of a guessed code was right.
func (l InviteList) Contains(code string) bool {
	found := 0
	for _, c := range l {
		found |= subtle.ConstantTimeCompare([]byte(c), []byte(code))
	}
	return found == 1
}
