package trustgate

import "log/slog"

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	preset      string
	policyPath  string
	listDir     string
	self        Identity
	reasoner    Reasoner
	clientDB    string
	auditLog    string
	inviteCodes []string
	alerts      []Webhook
	logger      *slog.Logger
}

// WithPreset selects a built-in policy: "open", "careful" or "strict".
func WithPreset(name string) Option {
	return func(c *clientConfig) { c.preset = name }
}

// WithPolicy sets the path to a policy document. It takes precedence over
// WithPreset.
func WithPolicy(path string) Option {
	return func(c *clientConfig) { c.policyPath = path }
}

// WithListDir sets the directory holding the trust lists (required).
func WithListDir(dir string) Option {
	return func(c *clientConfig) { c.listDir = dir }
}

// WithSelf sets the owner identity, which is always admin.
func WithSelf(id Identity) Option {
	return func(c *clientConfig) { c.self = id }
}

// WithReasoner sets the reasoning fallback. Without one, requests the
// rules escalate are denied.
func WithReasoner(r Reasoner) Option {
	return func(c *clientConfig) { c.reasoner = r }
}

// WithClientDB persists client records in a SQLite file instead of memory.
func WithClientDB(path string) Option {
	return func(c *clientConfig) { c.clientDB = path }
}

// WithAuditLog records every decision and transition in a hash-chained log.
func WithAuditLog(path string) Option {
	return func(c *clientConfig) { c.auditLog = path }
}

// WithInviteCodes adds invite codes accepted for onboarding.
func WithInviteCodes(codes ...string) Option {
	return func(c *clientConfig) { c.inviteCodes = append(c.inviteCodes, codes...) }
}

// WithLogger sets the logger for engine activity.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithAlerts posts trust-level changes and policy reloads to webhooks.
func WithAlerts(hooks ...Webhook) Option {
	return func(c *clientConfig) { c.alerts = append(c.alerts, hooks...) }
}
