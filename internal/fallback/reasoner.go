// Package fallback is the contract between the engine and the reasoning
// fallback consulted when fast rules cannot decide a request, plus two
// language-model backed implementations and a cost budget.
//
// The engine treats every implementation as untrusted: it enforces the
// deadline, ignores transitions other than promote and block, and never lets
// a verdict allow a blocked client.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

var (
	// ErrTimeout is returned when the reasoner misses its deadline.
	ErrTimeout = errors.New("fallback timeout")

	// ErrUnavailable is returned when the reasoner cannot be reached or
	// answered with something unusable.
	ErrUnavailable = errors.New("fallback unavailable")
)

// ClientSummary is the history handed to the reasoner.
type ClientSummary struct {
	Identity  model.ClientIdentity `json:"identity"`
	Level     model.TrustLevel     `json:"level"`
	Requests  int64                `json:"requests"`
	Successes int64                `json:"successes"`
	Failures  int64                `json:"failures"`
	FirstSeen time.Time            `json:"first_seen"`
	LastSeen  time.Time            `json:"last_seen"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
}

// Summarize builds a ClientSummary from a record.
func Summarize(rec model.ClientRecord) ClientSummary {
	rec = rec.Clone()
	return ClientSummary{
		Identity:  rec.Identity,
		Level:     rec.Level,
		Requests:  rec.Requests,
		Successes: rec.Successes,
		Failures:  rec.Failures,
		FirstSeen: rec.FirstSeen,
		LastSeen:  rec.LastSeen,
		Metadata:  rec.Metadata,
	}
}

// Request is what the reasoner decides on.
type Request struct {
	History      ClientSummary
	Instructions string
	Request      model.SignedRequest
}

// Verdict is the reasoner's answer.
type Verdict struct {
	Allow bool `json:"allow"`

	// Transition is an optional state change; only promote and block are honoured.
	Transition *model.TransitionAction `json:"transition,omitempty"`

	// Cacheable is false for answers tied to something transient.
	Cacheable bool   `json:"cacheable"`
	Reason    string `json:"reason"`
}

// Reasoner decides requests the fast rules could not. Implementations must
// honour ctx cancellation where they can; the engine stops waiting at the
// deadline either way.
type Reasoner interface {
	Reason(ctx context.Context, req Request) (Verdict, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, req Request) (Verdict, error)

func (f ReasonerFunc) Reason(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}

const systemPrompt = `You are the access gate of a personal agent. A client that the fixed rules could not classify has sent a request. Decide whether the agent should serve it.

The owner's instructions come first, then the client's history, then the request.

Return ONLY valid JSON, no markdown fences, no commentary:
{"allow":true|false,"transition":"promote"|"block"|null,"cacheable":true|false,"reason":"<one sentence>"}

Use "promote" only for a clearly legitimate client, "block" only for abuse or spam.
Set cacheable to false when the answer depends on something temporary.`

// userPrompt renders the decision request for a chat model.
func userPrompt(req Request) string {
	history, _ := json.MarshalIndent(req.History, "", "  ")
	payload := req.Request.Payload
	var b strings.Builder
	b.WriteString("## Owner instructions\n")
	b.WriteString(strings.TrimSpace(req.Instructions))
	b.WriteString("\n\n## Client history\n")
	b.Write(history)
	b.WriteString("\n\n## Request\n")
	if payload.To != "" {
		fmt.Fprintf(&b, "To: %s\n", payload.To)
	}
	fmt.Fprintf(&b, "Sent: %s\n\n", time.Unix(payload.Timestamp, 0).UTC().Format(time.RFC3339))
	b.WriteString(payload.Body)
	return b.String()
}

type rawVerdict struct {
	Allow      *bool   `json:"allow"`
	Transition *string `json:"transition"`
	Cacheable  bool    `json:"cacheable"`
	Reason     string  `json:"reason"`
}

// parseVerdict extracts a Verdict from model output. A missing allow field
// is an error rather than a silent deny so the caller can tell the model
// misbehaved.
func parseVerdict(raw string) (Verdict, error) {
	raw = cleanJSON(raw)
	var rv rawVerdict
	if err := json.Unmarshal([]byte(raw), &rv); err != nil || rv.Allow == nil {
		return Verdict{}, fmt.Errorf("%w: cannot parse verdict: %s", ErrUnavailable, truncate(raw, 200))
	}
	v := Verdict{Allow: *rv.Allow, Cacheable: rv.Cacheable, Reason: strings.TrimSpace(rv.Reason)}
	if rv.Transition != nil {
		if t, err := model.ParseTransitionAction(*rv.Transition); err == nil {
			v.Transition = &t
		}
	}
	return v, nil
}

// cleanJSON strips markdown fences and surrounding whitespace.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
