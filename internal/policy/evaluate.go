package policy

import (
	"context"
	"fmt"

	"github.com/ppiankov/trustgate/internal/model"
)

// Result is the outcome of fast-rule evaluation.
type Result struct {
	Verdict model.Verdict

	// Transition is the state change the caller should apply, if any.
	Transition *model.TransitionAction

	Reason string
	RuleID string

	// Provisional marks a default-action verdict that a trigger could
	// overturn once the client's counters grow. It should not be cached.
	Provisional bool
}

// Evaluate decides a request without calling the reasoning fallback.
//
// Evaluation order (must not be changed):
//  1. Blocked check: a blocked client is denied before any rule is read
//  2. Rules in document order, first match wins. Verify actions that fail
//     fall through to the next rule
//  3. Escalation triggers: any firing trigger yields NeedsFallback
//  4. Default action (ask means NeedsFallback)
//
// The only side effects are those of the verifier callbacks. A nil verifier
// set uses DefaultVerifiers{}.
func Evaluate(ctx context.Context, doc *Document, client model.ClientRecord, req model.SignedRequest, v Verifiers) Result {
	if doc == nil {
		return Result{Verdict: model.VerdictDeny, Reason: "Denied: no policy loaded", RuleID: "no_policy"}
	}
	if v == nil {
		v = DefaultVerifiers{}
	}
	level := levelOf(client)

	// Step 1: rule zero, independent of document order
	if level == model.Blocked {
		return Result{Verdict: model.VerdictDeny, Reason: "Blocked: identity is on the blocklist", RuleID: "blocked"}
	}

	// Step 2: ordered rules
	for i, rule := range doc.Rules {
		if rule.Level != "" && rule.Level != level {
			continue
		}
		if !matchCondition(rule.Condition, level, req) {
			continue
		}
		id := rule.ID(i)
		switch rule.Action {
		case Allow:
			return Result{Verdict: model.VerdictAllow, Transition: rule.Transition, RuleID: id,
				Reason: fmt.Sprintf("Allowed: rule %d (%s)", i+1, rule.Condition)}
		case Deny:
			return Result{Verdict: model.VerdictDeny, Transition: rule.Transition, RuleID: id,
				Reason: fmt.Sprintf("Denied: rule %d (%s)", i+1, rule.Condition)}
		case VerifyInvite:
			if v.VerifyInvite(ctx, client, req.Payload.InviteCode, doc.Onboarding) {
				return Result{Verdict: model.VerdictAllow, Transition: rule.Transition, RuleID: id,
					Reason: fmt.Sprintf("Allowed: invite code accepted (rule %d)", i+1)}
			}
		case VerifyPayment:
			if req.Payload.Payment != nil && v.VerifyPayment(ctx, client, *req.Payload.Payment, doc.Onboarding) {
				return Result{Verdict: model.VerdictAllow, Transition: rule.Transition, RuleID: id,
					Reason: fmt.Sprintf("Allowed: payment verified (rule %d)", i+1)}
			}
		}
	}

	// Step 3: escalation triggers
	for i, t := range doc.Triggers {
		if t.fires(client) {
			return Result{Verdict: model.VerdictNeedsFallback, RuleID: fmt.Sprintf("trigger.%d", i),
				Reason: fmt.Sprintf("NeedsFallback: trigger %d (%s)", i, t)}
		}
	}

	// Step 4: default action
	var res Result
	switch doc.Default {
	case DefaultAllow:
		res = Result{Verdict: model.VerdictAllow, Reason: "Allowed: default action allow", RuleID: "default.allow"}
	case DefaultAsk:
		res = Result{Verdict: model.VerdictNeedsFallback, Reason: "NeedsFallback: default action ask", RuleID: "default.ask"}
	default:
		res = Result{Verdict: model.VerdictDeny, Reason: "Denied: default action deny", RuleID: "default.deny"}
	}
	for _, t := range doc.Triggers {
		if t.Level == "" || t.Level == level {
			res.Provisional = true
			break
		}
	}
	return res
}

func matchCondition(c Condition, level model.TrustLevel, req model.SignedRequest) bool {
	switch c {
	case IsBlocked:
		return level == model.Blocked
	case IsAdmin:
		return level == model.Admin
	case IsWhitelisted:
		return level == model.Whitelist
	case IsContact:
		return level == model.Contact
	case IsStranger:
		return level == model.Stranger
	case HasInviteCode:
		return req.Payload.InviteCode != ""
	case HasPayment:
		return req.Payload.Payment != nil
	case Always:
		return true
	default:
		return false
	}
}
