// Package statuspoll implements Core's periodic Periphery status poller
//: for each non-disabled Server, fetch its live container list
// and classify the Server Ok/NotOk, feeding the result into a cache the
// execution engine consults before deciding whether a resource is running.
package statuspoll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dockfleet/conduit/internal/mux"
	"github.com/dockfleet/conduit/internal/ops"
	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/store"
)

// DefaultInterval is how often each Server is polled unless configured
// otherwise.
const DefaultInterval = 15 * time.Second

// State is a Server's classification as seen by the poller.
type State string

const (
	StateOk       State = "ok"
	StateNotOk    State = "not-ok"
	StateDisabled State = "disabled"
)

// ServerStatus is the most recent poll result for one Server.
type ServerStatus struct {
	State      State
	Error      string
	LastPolled time.Time
	Containers []ops.ContainerSummary
}

// Cache holds the latest ServerStatus per Server id. The auto-update
// "is this container currently running" decision is answered by
// ContainerRunning rather than a separate per-resource cache, since this
// module does not model Stack/Deployment documents itself.
type Cache struct {
	mu       sync.RWMutex
	byServer map[string]ServerStatus
}

func NewCache() *Cache {
	return &Cache{byServer: make(map[string]ServerStatus)}
}

func (c *Cache) Get(serverID string) (ServerStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byServer[serverID]
	return s, ok
}

// Set stores the status for serverID directly, for callers that obtain a
// Server's state outside the regular poll loop (and for tests).
func (c *Cache) Set(serverID string, s ServerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byServer[serverID] = s
}

// ContainerRunning reports whether serverID's most recent poll saw a
// container named name in the "running" state.
func (c *Cache) ContainerRunning(serverID, name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byServer[serverID]
	if !ok {
		return false
	}
	for _, ctr := range s.Containers {
		if ctr.Name == name {
			return ctr.State == "running"
		}
	}
	return false
}

// Poller drives the periodic poll loop.
type Poller struct {
	Registry *registry.Registry
	Store    store.Store
	Cache    *Cache
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// New builds a Poller with the given interval (DefaultInterval if <= 0).
func New(reg *registry.Registry, st store.Store, cache *Cache, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{Registry: reg, Store: st, Cache: cache, Interval: interval, Timeout: 5 * time.Second, Logger: logger}
}

// Run polls once immediately, then on every tick, until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	servers, err := store.ListServers(ctx, p.Store)
	if err != nil {
		p.Logger.Warn("status poll: listing servers failed", "error", err)
		return
	}
	for _, rec := range servers {
		p.pollOne(ctx, rec)
	}
}

func (p *Poller) pollOne(ctx context.Context, rec store.ServerRecord) {
	if rec.Disabled {
		p.Cache.Set(rec.ID, ServerStatus{State: StateDisabled, LastPolled: time.Now()})
		return
	}

	conn, ok := p.Registry.Get(rec.ID)
	if !ok || !conn.Connected() {
		p.markNotOk(ctx, rec, "not connected")
		return
	}

	resp, err := mux.SendRequest[ops.PeripheryStatusResponse](ctx, conn, ops.KindPeripheryStatus, struct{}{}, p.Timeout)
	if err != nil {
		p.markNotOk(ctx, rec, err.Error())
		return
	}

	p.Cache.Set(rec.ID, ServerStatus{State: StateOk, LastPolled: time.Now(), Containers: resp.Containers})
	next := rec
	next.State = string(StateOk)
	next.LastSeenAt = time.Now()
	if err := store.SaveServer(ctx, p.Store, next); err != nil {
		p.Logger.Warn("status poll: persisting server state failed", "server", rec.ID, "error", err)
	}
}

func (p *Poller) markNotOk(ctx context.Context, rec store.ServerRecord, errMsg string) {
	p.Cache.Set(rec.ID, ServerStatus{State: StateNotOk, Error: errMsg, LastPolled: time.Now()})
	next := rec
	next.State = string(StateNotOk)
	if err := store.SaveServer(ctx, p.Store, next); err != nil {
		p.Logger.Warn("status poll: persisting server state failed", "server", rec.ID, "error", err)
	}
}
