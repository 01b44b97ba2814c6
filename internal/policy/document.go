package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// Condition is one of the closed set of rule predicates.
type Condition string

const (
	IsBlocked     Condition = "is_blocked"
	IsAdmin       Condition = "is_admin"
	IsWhitelisted Condition = "is_whitelisted"
	IsContact     Condition = "is_contact"
	IsStranger    Condition = "is_stranger"
	HasInviteCode Condition = "has_invite_code"
	HasPayment    Condition = "has_payment"
	Always        Condition = "always"
)

// Action is what a matching rule does.
type Action string

const (
	Allow         Action = "allow"
	Deny          Action = "deny"
	VerifyInvite  Action = "verify_invite"
	VerifyPayment Action = "verify_payment"
)

// DefaultAction applies when no rule matched and no trigger fired.
type DefaultAction string

const (
	DefaultAllow DefaultAction = "allow"
	DefaultDeny  DefaultAction = "deny"
	DefaultAsk   DefaultAction = "ask"
)

// DefaultCacheTTL is used when the front-matter has no cache key.
const DefaultCacheTTL = 5 * time.Minute

// Rule is one entry in the ordered rule table.
type Rule struct {
	Condition Condition
	Action    Action

	// Level, when set, restricts the rule to clients currently at that level.
	// Onboarding rules use it so an invite code never promotes past Contact.
	Level model.TrustLevel

	// Transition is applied when the rule decides the request. For verify
	// actions it is applied only after verification succeeds.
	Transition *model.TransitionAction

	// Line is the front-matter line the rule came from (0 for presets built in code).
	Line int
}

// ID returns a stable identifier for audit records, e.g. "rule.3.is_contact.allow".
func (r Rule) ID(index int) string {
	return fmt.Sprintf("rule.%d.%s.%s", index+1, r.Condition, r.Action)
}

// PaymentRequirement is the onboard.payment block.
type PaymentRequirement struct {
	Provider  string
	MinAmount int64
}

// Onboarding is the parsed onboard block. Its rules are compiled into
// Document.Rules; the values here are what verifiers check against.
type Onboarding struct {
	InviteCodes []string
	Payment     *PaymentRequirement
	PromoteTo   model.TrustLevel
}

// Trigger escalates an otherwise unmatched request to the reasoning fallback.
// Level "" matches every level. A trigger with no thresholds fires for every
// matching client; otherwise it fires when any threshold is exceeded.
type Trigger struct {
	Level        model.TrustLevel
	RequestsOver int64
	FailuresOver int64
}

func (t Trigger) fires(client model.ClientRecord) bool {
	if t.Level != "" && t.Level != levelOf(client) {
		return false
	}
	if t.RequestsOver == 0 && t.FailuresOver == 0 {
		return true
	}
	if t.RequestsOver > 0 && client.Requests > t.RequestsOver {
		return true
	}
	return t.FailuresOver > 0 && client.Failures > t.FailuresOver
}

func (t Trigger) String() string {
	var parts []string
	if t.Level != "" {
		parts = append(parts, "level="+string(t.Level))
	}
	if t.RequestsOver > 0 {
		parts = append(parts, fmt.Sprintf("requests>%d", t.RequestsOver))
	}
	if t.FailuresOver > 0 {
		parts = append(parts, fmt.Sprintf("failures>%d", t.FailuresOver))
	}
	if len(parts) == 0 {
		return "always"
	}
	return strings.Join(parts, " ")
}

// Document is a parsed policy. Treat it as immutable once returned from
// Parse; reloading builds a new Document and swaps the reference.
type Document struct {
	// Rules holds the deny shorthand, the allow shorthand, onboarding rules
	// and explicit rules, in that order.
	Rules      []Rule
	Onboarding Onboarding
	Default    DefaultAction
	Triggers   []Trigger
	CacheTTL   time.Duration

	// Instructions is the free text after the front-matter, passed to the
	// reasoning fallback untouched.
	Instructions string
}

// levelOf treats an empty level as Stranger.
func levelOf(client model.ClientRecord) model.TrustLevel {
	if client.Level == "" {
		return model.Stranger
	}
	return client.Level
}
