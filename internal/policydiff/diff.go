// Package policydiff compares two policy documents and reports what a
// reload would change.
package policydiff

import (
	"fmt"
	"strings"

	"github.com/ppiankov/trustgate/internal/policy"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a rule addition, removal, or modification.
type RuleChange struct {
	Type string `json:"type"` // "added", "removed", "changed", "moved"
	Rule string `json:"rule"`
}

// DiffResult holds the comparison of two policy documents.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	RuleChanges []RuleChange `json:"rule_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// defaultRank orders default actions from strictest to loosest.
var defaultRank = map[policy.DefaultAction]int{
	policy.DefaultDeny:  0,
	policy.DefaultAsk:   1,
	policy.DefaultAllow: 2,
}

// Diff compares two documents and returns the differences. Invite codes are
// compared but never printed.
func Diff(old, new *policy.Document) *DiffResult {
	r := &DiffResult{}

	if old.Default != new.Default {
		comment := "looser"
		if defaultRank[new.Default] < defaultRank[old.Default] {
			comment = "stricter"
		}
		r.Changes = append(r.Changes, Change{
			Field:   "default",
			Old:     string(old.Default),
			New:     string(new.Default),
			Comment: comment,
		})
	}

	if old.CacheTTL != new.CacheTTL {
		c := Change{Field: "cache", Old: old.CacheTTL.String(), New: new.CacheTTL.String()}
		switch {
		case new.CacheTTL == 0:
			c.Comment = "caching disabled"
		case old.CacheTTL == 0:
			c.Comment = "caching enabled"
		}
		r.Changes = append(r.Changes, c)
	}

	diffOnboarding(r, old.Onboarding, new.Onboarding)
	diffRules(r, old.Rules, new.Rules)
	diffSet(r, "use_agent", triggerKeys(old.Triggers), triggerKeys(new.Triggers))

	if old.Instructions != new.Instructions {
		r.Changes = append(r.Changes, Change{
			Field:   "instructions",
			Old:     fmt.Sprintf("%d bytes", len(old.Instructions)),
			New:     fmt.Sprintf("%d bytes", len(new.Instructions)),
			Comment: "text changed",
		})
	}

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r
}

func diffOnboarding(r *DiffResult, old, new policy.Onboarding) {
	if !sameSet(old.InviteCodes, new.InviteCodes) {
		r.Changes = append(r.Changes, Change{
			Field:   "onboard.invite_code",
			Old:     fmt.Sprintf("%d codes", len(old.InviteCodes)),
			New:     fmt.Sprintf("%d codes", len(new.InviteCodes)),
			Comment: "codes changed",
		})
	}
	if o, n := paymentLabel(old.Payment), paymentLabel(new.Payment); o != n {
		r.Changes = append(r.Changes, Change{Field: "onboard.payment", Old: o, New: n})
	}
	if old.PromoteTo != new.PromoteTo {
		r.Changes = append(r.Changes, Change{
			Field: "onboard.promote_to",
			Old:   string(old.PromoteTo),
			New:   string(new.PromoteTo),
		})
	}
}

func paymentLabel(p *policy.PaymentRequirement) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%s min %d", p.Provider, p.MinAmount)
}

// ruleKey identifies a rule by what it matches; the outcome may change.
func ruleKey(r policy.Rule) string {
	return string(r.Condition) + "|" + string(r.Level)
}

func ruleOutcome(r policy.Rule) string {
	out := string(r.Action)
	if r.Transition != nil {
		out += " then " + string(*r.Transition)
	}
	return out
}

func ruleLabel(r policy.Rule) string {
	label := "when=" + string(r.Condition)
	if r.Level != "" {
		label += " level=" + string(r.Level)
	}
	return label
}

func diffRules(r *DiffResult, oldRules, newRules []policy.Rule) {
	oldMap := make(map[string]policy.Rule, len(oldRules))
	for _, rule := range oldRules {
		if _, dup := oldMap[ruleKey(rule)]; !dup {
			oldMap[ruleKey(rule)] = rule
		}
	}
	newMap := make(map[string]policy.Rule, len(newRules))
	for _, rule := range newRules {
		if _, dup := newMap[ruleKey(rule)]; !dup {
			newMap[ruleKey(rule)] = rule
		}
	}

	for _, rule := range newRules {
		oldRule, exists := oldMap[ruleKey(rule)]
		switch {
		case !exists:
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "added",
				Rule: fmt.Sprintf("%s → %s", ruleLabel(rule), ruleOutcome(rule)),
			})
		case ruleOutcome(oldRule) != ruleOutcome(rule):
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "changed",
				Rule: fmt.Sprintf("%s → %s (was: %s)", ruleLabel(rule), ruleOutcome(rule), ruleOutcome(oldRule)),
			})
		}
	}

	for _, rule := range oldRules {
		if _, exists := newMap[ruleKey(rule)]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "removed",
				Rule: fmt.Sprintf("%s → %s", ruleLabel(rule), ruleOutcome(rule)),
			})
		}
	}

	// First match wins, so a reorder of surviving rules changes behavior.
	oldOrder := commonOrder(oldRules, newMap)
	newOrder := commonOrder(newRules, oldMap)
	if strings.Join(oldOrder, ",") != strings.Join(newOrder, ",") {
		r.RuleChanges = append(r.RuleChanges, RuleChange{
			Type: "moved",
			Rule: "evaluation order of existing rules changed",
		})
	}
}

func commonOrder(rules []policy.Rule, other map[string]policy.Rule) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, rule := range rules {
		k := ruleKey(rule)
		if _, ok := other[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

func triggerKeys(ts []policy.Trigger) []string {
	keys := make([]string, 0, len(ts))
	for _, t := range ts {
		keys = append(keys, t.String())
	}
	return keys
}

func diffSet(r *DiffResult, section string, oldKeys, newKeys []string) {
	oldSet := make(map[string]bool)
	for _, k := range oldKeys {
		oldSet[k] = true
	}
	newSet := make(map[string]bool)
	for _, k := range newKeys {
		newSet[k] = true
	}

	for _, k := range newKeys {
		if !oldSet[k] {
			r.Changes = append(r.Changes, Change{Field: section, New: k, Comment: "added"})
		}
	}
	for _, k := range oldKeys {
		if !newSet[k] {
			r.Changes = append(r.Changes, Change{Field: section, Old: k, Comment: "removed"})
		}
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	m := make(map[string]int, len(a))
	for _, s := range a {
		m[s]++
	}
	for _, s := range b {
		if m[s] == 0 {
			return false
		}
		m[s]--
	}
	return true
}
