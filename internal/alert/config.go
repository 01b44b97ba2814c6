// Package alert posts trust events to webhooks: blocks, admin grants,
// promotions and policy reloads, so the owner hears about them without
// reading the audit log.
package alert

import "fmt"

// Event types other than the transition action names.
const (
	EventPolicyReload = "policy_reload"
	EventAll          = "*"
)

// knownEvents lists every value accepted in Webhook.Events.
var knownEvents = map[string]bool{
	"promote":         true,
	"demote":          true,
	"block":           true,
	"unblock":         true,
	"grant_admin":     true,
	"revoke_admin":    true,
	EventPolicyReload: true,
	EventAll:          true,
}

// Webhook defines an alert destination.
type Webhook struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack"
	Events  []string          `yaml:"events"  json:"events"` // ["block", "grant_admin", "policy_reload"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Validate reports the first unusable field.
func (w Webhook) Validate() error {
	if w.URL == "" {
		return fmt.Errorf("webhook url is required")
	}
	switch w.Format {
	case "", "generic", "slack":
	default:
		return fmt.Errorf("webhook %s: unknown format %q", w.URL, w.Format)
	}
	if len(w.Events) == 0 {
		return fmt.Errorf("webhook %s: no events", w.URL)
	}
	for _, e := range w.Events {
		if !knownEvents[e] {
			return fmt.Errorf("webhook %s: unknown event %q", w.URL, e)
		}
	}
	return nil
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp  string `json:"timestamp"`
	TraceID    string `json:"trace_id,omitempty"`
	Type       string `json:"type"` // transition action or "policy_reload"
	Identity   string `json:"identity,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Reason     string `json:"reason,omitempty"`
	PolicyHash string `json:"policy_hash,omitempty"`
}
