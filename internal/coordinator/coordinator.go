// Package coordinator is the engine's entry point. Decide runs a signed
// request through signature verification, the client's trust level, the
// decision cache, the fast rules and, when the rules ask for it, the
// reasoning fallback, and returns a Decision that always carries a reason.
//
// Blocked always wins: the blocked check runs before the cache is read and
// again after every fallback call.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/neurorouter"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/clientstore"
	"github.com/ppiankov/trustgate/internal/decisioncache"
	"github.com/ppiankov/trustgate/internal/fallback"
	"github.com/ppiankov/trustgate/internal/liststore"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/signature"
	"github.com/ppiankov/trustgate/internal/transition"
)

// DefaultFallbackTimeout bounds one reasoning-fallback call.
const DefaultFallbackTimeout = 10 * time.Second

// Reason tokens that open the reason string of engine-made denials.
const (
	ReasonInvalidSignature    = "InvalidSignature"
	ReasonExpired             = "Expired"
	ReasonBlocked             = "Blocked"
	ReasonFallbackTimeout     = "FallbackTimeout"
	ReasonFallbackUnavailable = "FallbackUnavailable"
)

// Config wires a Coordinator. Policy and Lists are required.
type Config struct {
	// Self is the owner identity, implicitly admin.
	Self model.ClientIdentity

	Policy     *policy.Document
	PolicyHash string

	Lists   *liststore.Store
	Clients clientstore.Store   // default: in-memory
	Cache   decisioncache.Cache // default: in-memory
	Audit   audit.Recorder      // optional
	Alerts  alert.Notifier      // optional

	Reasoner  fallback.Reasoner // nil: NeedsFallback is denied as unavailable
	Budget    *fallback.Budget  // nil: unlimited
	Verifiers policy.Verifiers  // nil: policy.DefaultVerifiers{}

	FreshnessWindow time.Duration // <= 0: signature.DefaultFreshnessWindow
	FallbackTimeout time.Duration // <= 0: DefaultFallbackTimeout

	Now    func() time.Time
	Logger *slog.Logger
}

type policySnapshot struct {
	doc  *policy.Document
	hash string
}

// Coordinator decides requests. It is safe for concurrent use.
type Coordinator struct {
	cfg      Config
	verifier *signature.Verifier
	machine  *transition.Machine
	policy   atomic.Pointer[policySnapshot]
	flights  singleflight.Group
	log      *slog.Logger
}

// New builds a Coordinator and seeds the self identity as admin.
func New(ctx context.Context, cfg Config) (*Coordinator, error) {
	if cfg.Policy == nil {
		return nil, errors.New("coordinator: policy is required")
	}
	if cfg.Lists == nil {
		return nil, errors.New("coordinator: list store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Clients == nil {
		cfg.Clients = clientstore.NewMemoryStore()
	}
	if cfg.Cache == nil {
		cfg.Cache = decisioncache.NewMemory(cfg.Now)
	}
	if cfg.Verifiers == nil {
		cfg.Verifiers = policy.DefaultVerifiers{}
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = DefaultFallbackTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if cfg.Reasoner != nil && cfg.Self == "" {
		logger.Warn("fallback configured without an owner identity: block verdicts will deny but not blocklist")
	}

	c := &Coordinator{
		cfg:      cfg,
		verifier: signature.NewVerifier(cfg.FreshnessWindow),
		log:      logger,
	}
	c.policy.Store(&policySnapshot{doc: cfg.Policy, hash: cfg.PolicyHash})

	m, err := transition.New(ctx, transition.Config{
		Self:         cfg.Self,
		Lists:        cfg.Lists,
		Clients:      cfg.Clients,
		Cache:        cfg.Cache,
		OnTransition: c.recordTransition,
		Now:          cfg.Now,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	c.machine = m
	return c, nil
}

// Machine returns the state machine used for every transition.
func (c *Coordinator) Machine() *transition.Machine { return c.machine }

// Policy returns the current policy document and its hash.
func (c *Coordinator) Policy() (*policy.Document, string) {
	snap := c.policy.Load()
	return snap.doc, snap.hash
}

// ReloadPolicy swaps in a new policy document. In-flight decisions finish
// on the document they started with. Cached decisions are purged since
// they were made under the old rules.
func (c *Coordinator) ReloadPolicy(ctx context.Context, doc *policy.Document, hash string) error {
	if doc == nil {
		return errors.New("coordinator: nil policy")
	}
	old := c.policy.Swap(&policySnapshot{doc: doc, hash: hash})
	if err := c.cfg.Cache.Purge(ctx); err != nil {
		c.log.Error("cache purge after policy reload failed", "err", err)
	}
	c.log.Info("policy reloaded", "policy_hash", hash, "previous", old.hash)
	c.record(audit.Entry{Type: audit.TypePolicyReload, PolicyHash: hash, Reason: "replaces " + old.hash})
	c.notify(alert.Event{Type: alert.EventPolicyReload, PolicyHash: hash, Reason: "replaces " + old.hash})
	return nil
}

// ReloadLists re-reads the list files after a hand edit and drops cached
// decisions, which may reflect the old levels.
func (c *Coordinator) ReloadLists(ctx context.Context) error {
	if err := c.cfg.Lists.Reload(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	if err := c.cfg.Cache.Purge(ctx); err != nil {
		c.log.Error("cache purge after list reload failed", "err", err)
	}
	return nil
}

// Decide returns the access decision for req. The error is non-nil only
// when client state could not be read or written; every other failure is a
// denying Decision with a reason.
func (c *Coordinator) Decide(ctx context.Context, req model.SignedRequest) (model.Decision, error) {
	now := c.cfg.Now()
	snap := c.policy.Load()
	id := req.From
	trace := uuid.NewString()

	if ok, kind := c.verifier.Verify(req, now); !ok {
		d := model.Denied(string(kind))
		c.log.Warn("request rejected", "identity", id.Short(), "reason", d.Reason)
		c.recordDecision(trace, id, d, "signature", snap.hash, false)
		return d, nil
	}

	if _, err := c.machine.Track(id); err != nil {
		return model.Decision{}, fmt.Errorf("coordinator: %w", err)
	}
	rec, err := c.cfg.Clients.Touch(ctx, id, now)
	if err != nil {
		return model.Decision{}, fmt.Errorf("coordinator: %w", err)
	}
	rec.Level = c.machine.LevelOf(id)

	if rec.Level == model.Blocked {
		d := model.Denied(ReasonBlocked + ": identity is on the blocklist")
		return c.finish(ctx, trace, id, d, "blocked", snap, false)
	}

	if d, hit, err := c.cfg.Cache.Get(ctx, id); err != nil {
		c.log.Warn("cache read failed", "identity", id.Short(), "err", err)
	} else if hit {
		return c.finish(ctx, trace, id, d, "cache", snap, true)
	}

	res := policy.Evaluate(ctx, snap.doc, rec, req, c.cfg.Verifiers)
	var d model.Decision
	switch res.Verdict {
	case model.VerdictAllow, model.VerdictDeny:
		if res.Transition != nil {
			if err := c.apply(ctx, id, *res.Transition, rec.Level); err != nil {
				return model.Decision{}, err
			}
		}
		d = model.Decision{Allow: res.Verdict == model.VerdictAllow, Reason: res.Reason, Cacheable: !res.Provisional}
	default:
		d, err = c.escalate(ctx, rec, req, snap.doc)
		if err != nil {
			return model.Decision{}, err
		}
	}

	if d.Cacheable && snap.doc.CacheTTL > 0 {
		exp := now.Add(snap.doc.CacheTTL).UTC()
		d.ExpiresAt = &exp
		if err := c.cfg.Cache.Put(ctx, id, d, snap.doc.CacheTTL); err != nil {
			c.log.Warn("cache write failed", "identity", id.Short(), "err", err)
		}
		// A transition that landed after evaluation must not leave a stale entry.
		if c.machine.LevelOf(id) != levelAfter(rec.Level, res.Transition) {
			if err := c.cfg.Cache.Invalidate(ctx, id); err != nil {
				c.log.Warn("cache invalidation failed", "identity", id.Short(), "err", err)
			}
		}
	}
	return c.finish(ctx, trace, id, d, res.RuleID, snap, false)
}

// finish updates the client's counters, logs and audits the decision.
func (c *Coordinator) finish(ctx context.Context, trace string, id model.ClientIdentity, d model.Decision, ruleID string, snap *policySnapshot, cached bool) (model.Decision, error) {
	if _, err := c.cfg.Clients.RecordOutcome(ctx, id, d.Allow, c.cfg.Now()); err != nil {
		return model.Decision{}, fmt.Errorf("coordinator: %w", err)
	}
	c.log.Debug("decision", "identity", id.Short(), "allow", d.Allow, "reason", d.Reason,
		"used_fallback", d.UsedFallback, "cached", cached, "rule", ruleID)
	c.recordDecision(trace, id, d, ruleID, snap.hash, cached)
	return d, nil
}

// ruleActor is the actor for a transition requested by a rule or a
// fallback verdict. Promotion and demotion run as the engine itself; the
// others need admin authority, which the engine holds as self.
func (c *Coordinator) ruleActor(action model.TransitionAction) model.ClientIdentity {
	switch action {
	case model.Promote, model.Demote:
		return ""
	}
	return c.cfg.Self
}

// apply runs a rule- or fallback-requested transition against the level
// the decision was made on. Illegal, stale or unauthorized transitions are
// logged and dropped; storage errors are returned.
func (c *Coordinator) apply(ctx context.Context, id model.ClientIdentity, action model.TransitionAction, decidedOn model.TrustLevel) error {
	_, err := c.machine.TransitionFrom(ctx, id, action, c.ruleActor(action), decidedOn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transition.ErrNotAuthorized):
		// Only reachable without an owner identity to act as.
		c.log.Warn("requested transition dropped: no owner identity configured", "identity", id.Short(), "action", string(action), "err", err)
		return nil
	case errors.Is(err, transition.ErrIllegalTransition):
		c.log.Info("requested transition not applied", "identity", id.Short(), "action", string(action), "err", err)
		return nil
	default:
		return fmt.Errorf("coordinator: %w", err)
	}
}

func levelAfter(level model.TrustLevel, action *model.TransitionAction) model.TrustLevel {
	if action == nil {
		return level
	}
	switch *action {
	case model.Promote:
		switch level {
		case model.Stranger:
			return model.Contact
		case model.Contact:
			return model.Whitelist
		}
	case model.Demote:
		switch level {
		case model.Whitelist:
			return model.Contact
		case model.Contact:
			return model.Stranger
		}
	case model.Block:
		return model.Blocked
	}
	return level
}

// escalate consults the reasoning fallback. No list or identity lock is
// held while the reasoner runs.
func (c *Coordinator) escalate(ctx context.Context, rec model.ClientRecord, req model.SignedRequest, doc *policy.Document) (model.Decision, error) {
	id := rec.Identity
	if c.cfg.Reasoner == nil {
		return model.Denied(ReasonFallbackUnavailable + ": no reasoner configured"), nil
	}
	if !c.cfg.Budget.Allow(c.cfg.Now()) {
		c.log.Warn("fallback budget exhausted", "identity", id.Short())
		return model.Denied(ReasonFallbackUnavailable + ": budget exhausted"), nil
	}

	// Identical concurrent requests share one call.
	key := string(id) + "/" + req.Signature
	out, _, _ := c.flights.Do(key, func() (any, error) {
		v, err := c.callReasoner(ctx, fallback.Request{
			History:      fallback.Summarize(rec),
			Instructions: doc.Instructions,
			Request:      req,
		})
		return reasonerResult{v, err}, nil
	})
	r := out.(reasonerResult)

	if r.err != nil {
		reason := ReasonFallbackUnavailable + ": " + r.err.Error()
		switch {
		case errors.Is(r.err, fallback.ErrTimeout), errors.Is(r.err, context.DeadlineExceeded):
			reason = ReasonFallbackTimeout
		case errors.Is(r.err, neurorouter.ErrRateLimited):
			reason = ReasonFallbackUnavailable + ": rate limited"
		}
		c.log.Warn("fallback failed", "identity", id.Short(), "reason", reason, "err", r.err)
		return model.Denied(reason), nil
	}

	v := r.verdict
	if v.Transition != nil {
		switch *v.Transition {
		case model.Promote, model.Block:
			if err := c.apply(ctx, id, *v.Transition, rec.Level); err != nil {
				return model.Decision{}, err
			}
		default:
			c.log.Info("fallback transition ignored", "identity", id.Short(), "action", string(*v.Transition))
		}
	}

	reason := v.Reason
	if reason == "" {
		reason = "no reason given"
	}
	// A block verdict denies even if the block itself could not be applied.
	allow := v.Allow && (v.Transition == nil || *v.Transition != model.Block)
	d := model.Decision{Allow: allow, UsedFallback: true, Cacheable: v.Cacheable}
	if allow {
		d.Reason = "Allowed by fallback: " + reason
	} else {
		d.Reason = "Denied by fallback: " + reason
	}

	// The client may have been blocked while the reasoner ran.
	if c.machine.LevelOf(id) == model.Blocked {
		d = model.Denied(ReasonBlocked + ": identity is on the blocklist")
		d.UsedFallback = true
	}
	return d, nil
}

type reasonerResult struct {
	verdict fallback.Verdict
	err     error
}

// callReasoner enforces the deadline even against a reasoner that ignores
// its context.
func (c *Coordinator) callReasoner(ctx context.Context, req fallback.Request) (fallback.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FallbackTimeout)
	defer cancel()

	done := make(chan reasonerResult, 1)
	go func() {
		v, err := c.cfg.Reasoner.Reason(ctx, req)
		done <- reasonerResult{v, err}
	}()

	select {
	case r := <-done:
		return r.verdict, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fallback.Verdict{}, fallback.ErrTimeout
		}
		return fallback.Verdict{}, fmt.Errorf("%w: %w", fallback.ErrUnavailable, ctx.Err())
	}
}

func (c *Coordinator) recordDecision(trace string, id model.ClientIdentity, d model.Decision, ruleID, hash string, cached bool) {
	verdict := "deny"
	if d.Allow {
		verdict = "allow"
	}
	c.record(audit.Entry{
		TraceID:      trace,
		Type:         audit.TypeDecision,
		Identity:     string(id),
		Decision:     verdict,
		Reason:       d.Reason,
		RuleID:       ruleID,
		UsedFallback: d.UsedFallback,
		Cached:       cached,
		PolicyHash:   hash,
	})
}

func (c *Coordinator) recordTransition(_ context.Context, ev transition.Event) {
	_, hash := c.Policy()
	c.record(audit.Entry{
		Timestamp: ev.At.UTC().Format(audit.TimestampFormat),
		Type:      audit.TypeTransition,
		Identity:  string(ev.Identity),
		Transition: &audit.TransitionRecord{
			Action: string(ev.Action),
			From:   string(ev.From),
			To:     string(ev.To),
			Actor:  string(ev.Actor),
		},
		PolicyHash: hash,
	})
	c.notify(alert.Event{
		Timestamp:  ev.At.UTC().Format(audit.TimestampFormat),
		Type:       string(ev.Action),
		Identity:   string(ev.Identity),
		From:       string(ev.From),
		To:         string(ev.To),
		Actor:      string(ev.Actor),
		PolicyHash: hash,
	})
}

func (c *Coordinator) notify(ev alert.Event) {
	if c.cfg.Alerts == nil {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = c.cfg.Now().UTC().Format(audit.TimestampFormat)
	}
	c.cfg.Alerts.Notify(ev)
}

func (c *Coordinator) record(e audit.Entry) {
	if c.cfg.Audit == nil {
		return
	}
	if e.TraceID == "" {
		e.TraceID = uuid.NewString()
	}
	if err := c.cfg.Audit.Record(e); err != nil {
		c.log.Error("audit write failed", "type", e.Type, "err", err)
	}
}
