package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/model"
)

// Parse reads a policy document: a "---" delimited YAML front-matter block
// followed by free text. The free text is kept verbatim as Instructions.
//
// Structural problems return a *ParseError; names outside the closed
// condition/action/transition/default vocabulary return an *UnknownTokenError.
func Parse(raw []byte) (*Document, error) {
	front, offset, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return nil, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(front), &root); err != nil {
		return nil, yamlError(err, offset)
	}

	p := &parser{offset: offset}
	doc, err := p.document(&root)
	if err != nil {
		return nil, err
	}
	doc.Instructions = body
	return doc, nil
}

// splitFrontMatter returns the YAML between the first two delimiter lines,
// the number of document lines preceding it, and everything after the
// closing delimiter.
func splitFrontMatter(text string) (front string, offset int, body string, err error) {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.SplitAfter(text, "\n")
	if len(lines) == 0 || !isDelimiter(lines[0], false) {
		return "", 0, "", &ParseError{Line: 1, Msg: "missing front-matter: document must start with ---"}
	}
	for i := 1; i < len(lines); i++ {
		if isDelimiter(lines[i], true) {
			return strings.Join(lines[1:i], ""), 1, strings.Join(lines[i+1:], ""), nil
		}
	}
	return "", 0, "", &ParseError{Line: len(lines), Msg: "unterminated front-matter: no closing ---"}
}

func isDelimiter(line string, closing bool) bool {
	line = strings.TrimRight(line, " \t\r\n")
	return line == "---" || (closing && line == "...")
}

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

// yamlError converts a yaml.v3 syntax error into a ParseError with the line
// shifted to document coordinates.
func yamlError(err error, offset int) error {
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	line := 1 + offset
	if m := yamlLineRe.FindStringSubmatch(msg); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil {
			line = n + offset
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, m[0]), ":"))
		}
	}
	return &ParseError{Line: line, Msg: msg}
}

type parser struct {
	offset int
}

func (p *parser) line(n *yaml.Node) int {
	return n.Line + p.offset
}

func (p *parser) errorf(n *yaml.Node, field, format string, args ...any) error {
	return &ParseError{Line: p.line(n), Field: field, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) unknown(n *yaml.Node, field string) error {
	return &UnknownTokenError{Line: p.line(n), Field: field, Token: n.Value}
}

func (p *parser) document(root *yaml.Node) (*Document, error) {
	doc := &Document{Default: DefaultDeny, CacheTTL: DefaultCacheTTL}

	// Empty front-matter: defaults only.
	if root.Kind == 0 || len(root.Content) == 0 {
		return doc, nil
	}
	m := root.Content[0]
	if m.Kind == yaml.ScalarNode && m.Tag == "!!null" {
		return doc, nil
	}
	if m.Kind != yaml.MappingNode {
		return nil, p.errorf(m, "", "front-matter must be a mapping")
	}

	var denyRules, allowRules, explicit []Rule
	seen := make(map[string]int)
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i], m.Content[i+1]
		name := canonicalKey(key.Value)
		if prev, dup := seen[name]; dup {
			return nil, p.errorf(key, key.Value, "duplicate key (first defined on line %d)", prev)
		}
		seen[name] = p.line(key)

		var err error
		switch name {
		case "deny":
			denyRules, err = p.shorthand(val, key.Value, Deny)
		case "allow":
			allowRules, err = p.shorthand(val, key.Value, Allow)
		case "onboard":
			doc.Onboarding, err = p.onboarding(val)
		case "rules":
			explicit, err = p.rules(val)
		case "default":
			doc.Default, err = p.defaultAction(val)
		case "use_agent":
			doc.Triggers, err = p.triggers(val, key.Value)
		case "cache":
			doc.CacheTTL, err = p.cacheTTL(val)
		default:
			err = p.errorf(key, key.Value, "unknown key")
		}
		if err != nil {
			return nil, err
		}
	}

	doc.Rules = append(doc.Rules, denyRules...)
	doc.Rules = append(doc.Rules, allowRules...)
	doc.Rules = append(doc.Rules, onboardingRules(doc.Onboarding)...)
	doc.Rules = append(doc.Rules, explicit...)
	return doc, nil
}

// canonicalKey folds the accepted spellings of top-level keys.
func canonicalKey(k string) string {
	switch k {
	case "escalationTriggers", "escalation_triggers":
		return "use_agent"
	case "default_action", "defaultAction":
		return "default"
	}
	return k
}

// scalars accepts a single scalar or a sequence of scalars.
func (p *parser) scalars(n *yaml.Node, field string) ([]*yaml.Node, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return nil, nil
		}
		return []*yaml.Node{n}, nil
	case yaml.SequenceNode:
		for i, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, p.errorf(item, fmt.Sprintf("%s[%d]", field, i), "expected a string")
			}
		}
		return n.Content, nil
	default:
		return nil, p.errorf(n, field, "expected a string or a list of strings")
	}
}

func (p *parser) shorthand(n *yaml.Node, field string, action Action) ([]Rule, error) {
	items, err := p.scalars(n, field)
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(items))
	for i, item := range items {
		f := fmt.Sprintf("%s[%d]", field, i)
		cond, ok := parseCondition(item.Value)
		if !ok {
			return nil, p.unknown(item, f)
		}
		if action == Allow && cond == IsBlocked {
			return nil, p.errorf(item, f, "blocked clients can never be allowed")
		}
		rules = append(rules, Rule{Condition: cond, Action: action, Line: p.line(item)})
	}
	return rules, nil
}

func (p *parser) onboarding(n *yaml.Node) (Onboarding, error) {
	ob := Onboarding{PromoteTo: model.Contact}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return ob, nil
	}
	if n.Kind != yaml.MappingNode {
		return ob, p.errorf(n, "onboard", "expected a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		field := "onboard." + key.Value
		switch key.Value {
		case "invite_code", "invite_codes", "invite":
			items, err := p.scalars(val, field)
			if err != nil {
				return ob, err
			}
			for _, item := range items {
				code := strings.TrimSpace(item.Value)
				if code == "" {
					return ob, p.errorf(item, field, "invite code must not be empty")
				}
				ob.InviteCodes = append(ob.InviteCodes, code)
			}
		case "payment":
			req, err := p.payment(val, field)
			if err != nil {
				return ob, err
			}
			ob.Payment = req
		case "promote_to":
			switch strings.ToLower(strings.TrimSpace(val.Value)) {
			case "contact", "contacts":
				ob.PromoteTo = model.Contact
			case "none", "":
				ob.PromoteTo = ""
			default:
				if _, err := model.ParseTrustLevel(val.Value); err != nil {
					return ob, p.unknown(val, field)
				}
				return ob, p.errorf(val, field, "onboarding can only promote strangers to contact")
			}
		default:
			return ob, p.errorf(key, field, "unknown key")
		}
	}
	return ob, nil
}

func (p *parser) payment(n *yaml.Node, field string) (*PaymentRequirement, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errorf(n, field, "expected a mapping with provider and min_amount")
	}
	req := &PaymentRequirement{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "provider":
			req.Provider = strings.TrimSpace(val.Value)
		case "min_amount":
			amount, err := p.nonNegative(val, field+".min_amount")
			if err != nil {
				return nil, err
			}
			req.MinAmount = amount
		default:
			return nil, p.errorf(key, field+"."+key.Value, "unknown key")
		}
	}
	return req, nil
}

// onboardingRules compiles the onboard block into verify rules restricted to strangers.
func onboardingRules(ob Onboarding) []Rule {
	var transition *model.TransitionAction
	if ob.PromoteTo == model.Contact {
		t := model.Promote
		transition = &t
	}
	var rules []Rule
	if len(ob.InviteCodes) > 0 {
		rules = append(rules, Rule{Condition: HasInviteCode, Action: VerifyInvite, Level: model.Stranger, Transition: transition})
	}
	if ob.Payment != nil {
		rules = append(rules, Rule{Condition: HasPayment, Action: VerifyPayment, Level: model.Stranger, Transition: transition})
	}
	return rules
}

func (p *parser) rules(n *yaml.Node) ([]Rule, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, p.errorf(n, "rules", "expected a list of rules")
	}
	rules := make([]Rule, 0, len(n.Content))
	for i, item := range n.Content {
		field := fmt.Sprintf("rules[%d]", i)
		if item.Kind != yaml.MappingNode {
			return nil, p.errorf(item, field, "expected a mapping with when and then")
		}
		r := Rule{Line: p.line(item)}
		var haveWhen, haveThen bool
		for j := 0; j+1 < len(item.Content); j += 2 {
			key, val := item.Content[j], item.Content[j+1]
			f := field + "." + key.Value
			if val.Kind != yaml.ScalarNode {
				return nil, p.errorf(val, f, "expected a string")
			}
			switch key.Value {
			case "when", "if", "condition":
				cond, ok := parseCondition(val.Value)
				if !ok {
					return nil, p.unknown(val, f)
				}
				r.Condition, haveWhen = cond, true
			case "then", "action":
				action, ok := parseAction(val.Value)
				if !ok {
					return nil, p.unknown(val, f)
				}
				r.Action, haveThen = action, true
			case "transition":
				t, ok := parseTransition(val.Value)
				if !ok {
					return nil, p.unknown(val, f)
				}
				r.Transition = &t
			case "level":
				level, err := model.ParseTrustLevel(val.Value)
				if err != nil {
					return nil, p.unknown(val, f)
				}
				r.Level = level
			default:
				return nil, p.errorf(key, f, "unknown key")
			}
		}
		if !haveWhen {
			return nil, p.errorf(item, field, "missing when")
		}
		if !haveThen {
			return nil, p.errorf(item, field, "missing then")
		}
		if r.Action == Allow && r.Condition == IsBlocked {
			return nil, p.errorf(item, field, "blocked clients can never be allowed")
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (p *parser) defaultAction(n *yaml.Node) (DefaultAction, error) {
	if n.Kind != yaml.ScalarNode {
		return "", p.errorf(n, "default", "expected allow, deny or ask")
	}
	switch fold(n.Value) {
	case "allow":
		return DefaultAllow, nil
	case "deny":
		return DefaultDeny, nil
	case "ask", "needsfallback", "agent":
		return DefaultAsk, nil
	}
	return "", p.unknown(n, "default")
}

func (p *parser) triggers(n *yaml.Node, field string) ([]Trigger, error) {
	if n.Kind == yaml.ScalarNode {
		switch n.Tag {
		case "!!null":
			return nil, nil
		case "!!bool":
			if b, _ := strconv.ParseBool(n.Value); b {
				return []Trigger{{}}, nil
			}
			return nil, nil
		}
		return nil, p.errorf(n, field, "expected true, false or a list of triggers")
	}
	if n.Kind != yaml.SequenceNode {
		return nil, p.errorf(n, field, "expected a list of triggers")
	}
	triggers := make([]Trigger, 0, len(n.Content))
	for i, item := range n.Content {
		f := fmt.Sprintf("%s[%d]", field, i)
		if item.Kind != yaml.MappingNode {
			return nil, p.errorf(item, f, "expected a mapping")
		}
		var t Trigger
		for j := 0; j+1 < len(item.Content); j += 2 {
			key, val := item.Content[j], item.Content[j+1]
			kf := f + "." + key.Value
			switch key.Value {
			case "level":
				switch strings.TrimSpace(val.Value) {
				case "", "*", "any":
					t.Level = ""
				default:
					level, err := model.ParseTrustLevel(val.Value)
					if err != nil {
						return nil, p.unknown(val, kf)
					}
					t.Level = level
				}
			case "requests_over":
				v, err := p.nonNegative(val, kf)
				if err != nil {
					return nil, err
				}
				t.RequestsOver = v
			case "failures_over":
				v, err := p.nonNegative(val, kf)
				if err != nil {
					return nil, err
				}
				t.FailuresOver = v
			default:
				return nil, p.errorf(key, kf, "unknown key")
			}
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

func (p *parser) cacheTTL(n *yaml.Node) (time.Duration, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, p.errorf(n, "cache", "expected a duration")
	}
	v := strings.ToLower(strings.TrimSpace(n.Value))
	switch v {
	case "", "0", "off", "false", "none", "null", "~":
		return 0, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0, p.errorf(n, "cache", "duration must not be negative")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, p.errorf(n, "cache", "invalid duration %q", n.Value)
	}
	if d < 0 {
		return 0, p.errorf(n, "cache", "duration must not be negative")
	}
	return d, nil
}

func (p *parser) nonNegative(n *yaml.Node, field string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(n.Value), 10, 64)
	if err != nil || n.Kind != yaml.ScalarNode {
		return 0, p.errorf(n, field, "expected an integer")
	}
	if v < 0 {
		return 0, p.errorf(n, field, "must not be negative")
	}
	return v, nil
}

// fold lowercases and drops separators so IsBlocked, is_blocked and
// is-blocked are the same token.
func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

func parseCondition(s string) (Condition, bool) {
	switch fold(s) {
	case "isblocked", "blocked", "block", "blocklist":
		return IsBlocked, true
	case "isadmin", "admin", "admins":
		return IsAdmin, true
	case "iswhitelisted", "whitelisted", "whitelist":
		return IsWhitelisted, true
	case "iscontact", "contact", "contacts":
		return IsContact, true
	case "isstranger", "stranger", "strangers":
		return IsStranger, true
	case "hasinvitecode", "invitecode", "invite":
		return HasInviteCode, true
	case "haspayment", "payment":
		return HasPayment, true
	case "always", "all", "everyone", "*":
		return Always, true
	}
	return "", false
}

func parseAction(s string) (Action, bool) {
	switch fold(s) {
	case "allow":
		return Allow, true
	case "deny":
		return Deny, true
	case "verifyinvite":
		return VerifyInvite, true
	case "verifypayment":
		return VerifyPayment, true
	}
	return "", false
}

func parseTransition(s string) (model.TransitionAction, bool) {
	switch fold(s) {
	case "promote":
		return model.Promote, true
	case "demote":
		return model.Demote, true
	case "block":
		return model.Block, true
	case "unblock":
		return model.Unblock, true
	case "grantadmin":
		return model.GrantAdmin, true
	case "revokeadmin":
		return model.RevokeAdmin, true
	}
	return "", false
}
