// Package transition is the only writer of trust levels. It checks that each
// requested change is a legal edge, that the acting identity may make it,
// and then moves the identity between lists, updates its client record,
// invalidates its cached decision and reports the change, all while holding
// that identity's lock.
//
// Legal edges:
//
//	stranger --promote--> contact --promote--> whitelist
//	whitelist --demote--> contact --demote--> stranger
//	any --block--> blocked --unblock--> stranger
//	any non-blocked --grant_admin--> admin --revoke_admin--> level held before the grant
package transition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ppiankov/trustgate/internal/clientstore"
	"github.com/ppiankov/trustgate/internal/liststore"
	"github.com/ppiankov/trustgate/internal/model"
)

var (
	// ErrIllegalTransition is returned for an edge not in the table above.
	// It is local: callers report it, never escalate it.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrNotAuthorized is returned when the acting identity is not an admin.
	ErrNotAuthorized = errors.New("not authorized")
)

// Invalidator drops cached decisions for an identity.
type Invalidator interface {
	Invalidate(ctx context.Context, id model.ClientIdentity) error
}

// Event describes one applied transition.
type Event struct {
	Identity model.ClientIdentity
	Action   model.TransitionAction
	From     model.TrustLevel
	To       model.TrustLevel
	Actor    model.ClientIdentity
	At       time.Time
}

// Config wires a Machine.
type Config struct {
	// Self is the owner identity: always admin, never demoted, blocked or revoked.
	Self model.ClientIdentity

	Lists   *liststore.Store
	Clients clientstore.Store

	// Cache is invalidated after every applied transition. Optional.
	Cache Invalidator

	// OnTransition is called after every applied transition, still under the
	// identity's lock. Optional.
	OnTransition func(ctx context.Context, ev Event)

	Now    func() time.Time
	Logger *slog.Logger
}

// Machine applies trust-level transitions.
type Machine struct {
	cfg   Config
	locks *keyedMutex
	log   *slog.Logger
}

// New builds a Machine and seeds the self identity into the admin list.
func New(ctx context.Context, cfg Config) (*Machine, error) {
	if cfg.Lists == nil {
		return nil, errors.New("transition: list store is required")
	}
	if cfg.Clients == nil {
		cfg.Clients = clientstore.NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Machine{cfg: cfg, locks: newKeyedMutex(), log: logger}
	if err := m.seedSelf(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine) seedSelf(ctx context.Context) error {
	self := m.cfg.Self
	if self == "" {
		return nil
	}
	if current, ok := m.cfg.Lists.LevelOf(self); !ok || current != model.Admin || !m.cfg.Lists.Contains(model.Admin, self) {
		from := current
		if !ok {
			from = model.Stranger
		}
		if err := m.cfg.Lists.Move(self, from, model.Admin); err != nil {
			return fmt.Errorf("transition: seed self: %w", err)
		}
		// A blocking pattern could still shadow the literal admin entry;
		// self is exempt, so drop a literal blocked entry if there is one.
		if err := m.cfg.Lists.Remove(model.Blocked, self); err != nil {
			return fmt.Errorf("transition: seed self: %w", err)
		}
	}
	rec, ok, err := m.cfg.Clients.Get(ctx, self)
	if err != nil {
		return err
	}
	if !ok || rec.Level != model.Admin {
		_, err = m.cfg.Clients.UpdateLevel(ctx, self, model.Admin, rec.PreAdminLevel, m.cfg.Now())
	}
	return err
}

// Self returns the owner identity.
func (m *Machine) Self() model.ClientIdentity {
	return m.cfg.Self
}

// LevelOf returns the current level of id. Unlisted identities are strangers;
// the self identity is always admin.
func (m *Machine) LevelOf(id model.ClientIdentity) model.TrustLevel {
	if id != "" && id == m.cfg.Self {
		return model.Admin
	}
	if level, ok := m.cfg.Lists.LevelOf(id); ok {
		return level
	}
	return model.Stranger
}

// IsAdmin reports whether id may perform admin operations.
func (m *Machine) IsAdmin(id model.ClientIdentity) bool {
	return id != "" && m.LevelOf(id) == model.Admin
}

// Track records a first sighting: an identity on no list is added to the
// stranger list. It reports whether the identity was new.
func (m *Machine) Track(id model.ClientIdentity) (bool, error) {
	if id == "" || id == m.cfg.Self {
		return false, nil
	}
	unlock := m.locks.Lock(id)
	defer unlock()
	if _, ok := m.cfg.Lists.LevelOf(id); ok {
		return false, nil
	}
	if err := m.cfg.Lists.Add(model.Stranger, id); err != nil {
		return false, fmt.Errorf("transition: track: %w", err)
	}
	return true, nil
}

// Transition applies action to id on behalf of actor and returns the new level.
//
// Block, Unblock, GrantAdmin and RevokeAdmin always require an admin actor.
// Promote and Demote require one only when an actor is named; an empty actor
// is the engine applying a rule's onboarding transition.
func (m *Machine) Transition(ctx context.Context, id model.ClientIdentity, action model.TransitionAction, actor model.ClientIdentity) (model.TrustLevel, error) {
	return m.transition(ctx, id, action, actor, "")
}

// TransitionFrom is Transition guarded by the level the caller decided on:
// if id no longer holds expected, nothing changes and ErrIllegalTransition
// is returned. Two requests that both saw a stranger cannot promote it twice.
func (m *Machine) TransitionFrom(ctx context.Context, id model.ClientIdentity, action model.TransitionAction, actor model.ClientIdentity, expected model.TrustLevel) (model.TrustLevel, error) {
	return m.transition(ctx, id, action, actor, expected)
}

func (m *Machine) transition(ctx context.Context, id model.ClientIdentity, action model.TransitionAction, actor model.ClientIdentity, expected model.TrustLevel) (model.TrustLevel, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty identity", ErrIllegalTransition)
	}
	if err := m.authorize(action, actor); err != nil {
		return "", err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	from := m.LevelOf(id)
	if expected != "" && from != expected {
		return from, fmt.Errorf("%w: %s expected %s, identity is now %s", ErrIllegalTransition, action, expected, from)
	}
	// Counters move concurrently through Touch; only the level fields are written here.
	rec, _, err := m.cfg.Clients.Get(ctx, id)
	if err != nil {
		return "", err
	}

	to, preAdmin, err := m.next(id, action, from, rec.PreAdminLevel)
	if err != nil {
		return from, err
	}
	if to == from {
		return to, nil
	}

	if err := m.cfg.Lists.Move(id, from, to); err != nil {
		return from, fmt.Errorf("transition: %w", err)
	}
	if _, err := m.cfg.Clients.UpdateLevel(ctx, id, to, preAdmin, m.cfg.Now()); err != nil {
		return to, fmt.Errorf("transition: %w", err)
	}
	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.Invalidate(ctx, id); err != nil {
			m.log.Error("cache invalidation failed", "identity", id.Short(), "err", err)
		}
	}

	ev := Event{Identity: id, Action: action, From: from, To: to, Actor: actor, At: m.cfg.Now().UTC()}
	m.log.Info("transition", "identity", id.Short(), "action", string(action), "from", string(from), "level", string(to), "actor", actor.Short())
	if m.cfg.OnTransition != nil {
		m.cfg.OnTransition(ctx, ev)
	}
	return to, nil
}

func (m *Machine) authorize(action model.TransitionAction, actor model.ClientIdentity) error {
	switch action {
	case model.Promote, model.Demote:
		if actor == "" {
			return nil
		}
	case model.Block, model.Unblock, model.GrantAdmin, model.RevokeAdmin:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrIllegalTransition, action)
	}
	if !m.IsAdmin(actor) {
		return fmt.Errorf("%w: %s requires an admin, %s is %s", ErrNotAuthorized, action, actor.Short(), m.LevelOf(actor))
	}
	return nil
}

// next returns the destination level and the pre-admin level to store.
// A transition that leaves the level unchanged is reported as to == from.
func (m *Machine) next(id model.ClientIdentity, action model.TransitionAction, from, preAdmin model.TrustLevel) (model.TrustLevel, model.TrustLevel, error) {
	illegal := func(why string) error {
		return fmt.Errorf("%w: %s from %s: %s", ErrIllegalTransition, action, from, why)
	}
	if id == m.cfg.Self {
		switch action {
		case model.Demote, model.Block, model.RevokeAdmin:
			return "", "", illegal("the owner identity is always admin")
		}
	}

	switch action {
	case model.Promote:
		switch from {
		case model.Stranger:
			return model.Contact, "", nil
		case model.Contact:
			return model.Whitelist, "", nil
		}
		return "", "", illegal("promotion is single-step stranger, contact, whitelist")
	case model.Demote:
		switch from {
		case model.Whitelist:
			return model.Contact, "", nil
		case model.Contact:
			return model.Stranger, "", nil
		}
		return "", "", illegal("demotion is single-step whitelist, contact, stranger")
	case model.Block:
		// Blocking clears admin status; an already blocked identity stays put.
		return model.Blocked, "", nil
	case model.Unblock:
		if from != model.Blocked {
			return "", "", illegal("identity is not blocked")
		}
		if !m.cfg.Lists.Contains(model.Blocked, id) {
			return "", "", illegal("identity is blocked by a wildcard pattern; edit the blocked list")
		}
		return model.Stranger, "", nil
	case model.GrantAdmin:
		switch from {
		case model.Blocked:
			return "", "", illegal("unblock first")
		case model.Admin:
			return model.Admin, preAdmin, nil
		}
		return model.Admin, from, nil
	case model.RevokeAdmin:
		if from != model.Admin {
			return "", "", illegal("identity is not an admin")
		}
		if preAdmin == "" || preAdmin == model.Admin || preAdmin == model.Blocked {
			preAdmin = model.Stranger
		}
		return preAdmin, "", nil
	}
	return "", "", illegal("unknown action")
}
