package trustgate

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/clientstore"
	"github.com/ppiankov/trustgate/internal/coordinator"
	"github.com/ppiankov/trustgate/internal/liststore"
	"github.com/ppiankov/trustgate/internal/policy"
)

// Client decides signed requests in-process. Safe for concurrent use.
type Client struct {
	cfg     clientConfig
	coord   *coordinator.Coordinator
	closers []io.Closer
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{preset: "careful"}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.listDir == "" {
		return nil, errors.New("trustgate: a list directory is required (WithListDir)")
	}

	var (
		doc  *policy.Document
		hash string
		err  error
	)
	if cfg.policyPath != "" {
		doc, hash, err = policy.LoadWithHash(cfg.policyPath)
	} else {
		doc, hash, err = policy.PresetWithHash(cfg.preset)
	}
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to load policy: %w", err)
	}

	lists, err := liststore.Open(cfg.listDir)
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to open lists: %w", err)
	}

	c := &Client{cfg: cfg}
	ccfg := coordinator.Config{
		Self:       cfg.self,
		Policy:     doc,
		PolicyHash: hash,
		Lists:      lists,
		Reasoner:   cfg.reasoner,
		Verifiers:  policy.DefaultVerifiers{InviteCodes: cfg.inviteCodes},
		Logger:     cfg.logger,
	}
	if cfg.clientDB != "" {
		store, err := clientstore.OpenSQLite(cfg.clientDB)
		if err != nil {
			return nil, fmt.Errorf("trustgate: failed to open client db: %w", err)
		}
		c.closers = append(c.closers, store)
		ccfg.Clients = store
	}
	if cfg.auditLog != "" {
		log, err := audit.Open(cfg.auditLog)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("trustgate: failed to open audit log: %w", err)
		}
		c.closers = append(c.closers, log)
		ccfg.Audit = log
	}

	for i, w := range cfg.alerts {
		if err := w.Validate(); err != nil {
			c.Close()
			return nil, fmt.Errorf("trustgate: alerts[%d]: %w", i, err)
		}
	}
	if d := alert.NewDispatcher(cfg.alerts, cfg.logger); d != nil {
		c.closers = append(c.closers, d)
		ccfg.Alerts = d
	}

	coord, err := coordinator.New(context.Background(), ccfg)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("trustgate: %w", err)
	}
	c.coord = coord
	return c, nil
}

// Decide returns the decision for req. The error is non-nil only for
// storage failures; refusals are Decisions with Allow false.
func (c *Client) Decide(ctx context.Context, req Request) (Decision, error) {
	return c.coord.Decide(ctx, req)
}

// Level returns the current trust level of id.
func (c *Client) Level(id Identity) Level {
	return c.coord.Machine().LevelOf(id)
}

// Admin performs op on target for the signer of req, who must be an admin.
func (c *Client) Admin(ctx context.Context, req Request, op AdminOp, target Identity) (Level, error) {
	return c.coord.Admin(ctx, req, op, target)
}

// Act performs op on target as the owner identity.
func (c *Client) Act(ctx context.Context, op AdminOp, target Identity) (Level, error) {
	if c.cfg.self == "" {
		return "", errors.New("trustgate: no owner identity configured (WithSelf)")
	}
	return c.coord.Act(ctx, c.cfg.self, op, target)
}

// ReloadPolicy replaces the policy with the document at path.
func (c *Client) ReloadPolicy(ctx context.Context, path string) error {
	doc, hash, err := policy.LoadWithHash(path)
	if err != nil {
		return err
	}
	return c.coord.ReloadPolicy(ctx, doc, hash)
}

// Watch hot-reloads the policy file (when WithPolicy was given) and the
// list directory until ctx is done. Run it in its own goroutine. A policy
// edit that fails to parse keeps the running policy; list files rewritten by
// the client itself are not treated as edits.
func (c *Client) Watch(ctx context.Context) error {
	r, err := coordinator.NewReloader(c.coord, c.cfg.policyPath, c.cfg.listDir)
	if err != nil {
		return fmt.Errorf("trustgate: %w", err)
	}
	return r.Run(ctx)
}

// Close releases the client's files.
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}
