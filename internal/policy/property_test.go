//go:build property

package policy

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ppiankov/trustgate/internal/model"
)

var (
	allConditions = []Condition{IsBlocked, IsAdmin, IsWhitelisted, IsContact, IsStranger, HasInviteCode, HasPayment, Always}
	allActions    = []Action{Allow, Deny, VerifyInvite, VerifyPayment}
	allDefaults   = []DefaultAction{DefaultAllow, DefaultDeny, DefaultAsk}
)

// buildDocument turns generated indexes into a rule table. Documents built
// this way can contain rules the parser would reject (allow is_blocked);
// the engine must hold up regardless.
func buildDocument(conds, actions []int, def int) *Document {
	doc := &Document{
		Default:    allDefaults[def%len(allDefaults)],
		Onboarding: Onboarding{InviteCodes: []string{"code"}},
		Triggers:   []Trigger{{}},
	}
	promote := model.Promote
	for i := 0; i < len(conds) && i < len(actions); i++ {
		doc.Rules = append(doc.Rules, Rule{
			Condition:  allConditions[conds[i]%len(allConditions)],
			Action:     allActions[actions[i]%len(allActions)],
			Transition: &promote,
		})
	}
	return doc
}

// Property: a blocked client is denied by every document, whatever it says.
func TestBlockedAlwaysDenied(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("blocked clients are never allowed", prop.ForAll(
		func(conds, actions []int, def int, invite string, requests int64) bool {
			doc := buildDocument(conds, actions, def)
			c := model.ClientRecord{Identity: "x", Level: model.Blocked, Requests: requests}
			req := model.SignedRequest{From: "x", Payload: model.Payload{InviteCode: invite}}
			v := DefaultVerifiers{InviteCodes: []string{invite}, Payments: func(context.Context, model.PaymentProof) bool { return true }}

			res := Evaluate(context.Background(), doc, c, req, v)
			return res.Verdict == model.VerdictDeny && res.Transition == nil
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.IntRange(0, 100),
		gen.AlphaString(),
		gen.Int64Range(0, 1000),
	))

	properties.TestingRun(t)
}

// Property: evaluation is deterministic for deterministic verifiers.
func TestEvaluateDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same inputs give the same result", prop.ForAll(
		func(conds, actions []int, def, level int, invite string) bool {
			doc := buildDocument(conds, actions, def)
			c := model.ClientRecord{Identity: "x", Level: model.Levels[level%len(model.Levels)]}
			req := model.SignedRequest{From: "x", Payload: model.Payload{InviteCode: invite}}

			a := Evaluate(context.Background(), doc, c, req, nil)
			b := Evaluate(context.Background(), doc, c, req, nil)
			return a.Verdict == b.Verdict && a.RuleID == b.RuleID && a.Reason == b.Reason
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
