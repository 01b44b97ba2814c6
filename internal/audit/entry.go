package audit

// Entry types.
const (
	TypeDecision     = "decision"
	TypeTransition   = "transition"
	TypePolicyReload = "policy_reload"
)

// TransitionRecord is the trust-level change recorded by transition entries.
type TransitionRecord struct {
	Action string `json:"action"`
	From   string `json:"from"`
	To     string `json:"to"`
	Actor  string `json:"actor,omitempty"`
}

// Entry is one line in the hash-chained JSONL audit log.
// All fields are structs (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp    string            `json:"ts"`
	TraceID      string            `json:"trace_id"`
	Type         string            `json:"type"`
	Identity     string            `json:"identity,omitempty"`
	Decision     string            `json:"decision,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	RuleID       string            `json:"rule_id,omitempty"`
	UsedFallback bool              `json:"used_fallback,omitempty"`
	Cached       bool              `json:"cached,omitempty"`
	Transition   *TransitionRecord `json:"transition,omitempty"`
	PolicyHash   string            `json:"policy_hash"`
	PrevHash     string            `json:"prev_hash"`
}
