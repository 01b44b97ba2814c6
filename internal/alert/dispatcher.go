package alert

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Notifier receives trust events.
type Notifier interface {
	Notify(Event)
}

// Dispatcher fans out events to matching webhooks.
type Dispatcher struct {
	hooks  []Webhook
	client *http.Client
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if hooks is empty; a nil Dispatcher drops every event.
func NewDispatcher(hooks []Webhook, logger *slog.Logger) *Dispatcher {
	if len(hooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		hooks:  hooks,
		client: &http.Client{Timeout: requestTimeout},
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Notify sends the event to every webhook whose Events list matches.
// Sends run in the background; Notify never blocks on the network.
// Events arriving after Close are dropped.
func (d *Dispatcher) Notify(ev Event) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, hook := range d.hooks {
		if !matches(hook.Events, ev.Type) {
			continue
		}
		d.wg.Add(1)
		go func(hook Webhook) {
			defer d.wg.Done()
			if err := Send(d.ctx, d.client, hook, ev); err != nil {
				d.log.Warn("alert delivery failed", "url", hook.URL, "type", ev.Type, "err", err)
			}
		}(hook)
	}
}

// Close stops accepting events and waits for in-flight sends, retries
// included. Calling it twice is safe.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	d.cancel()
	return nil
}

func matches(events []string, typ string) bool {
	for _, e := range events {
		if e == typ || e == EventAll {
			return true
		}
	}
	return false
}
