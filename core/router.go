package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/dvr/perf"
	"github.com/encodeous/dvr/protocol"
	"github.com/encodeous/dvr/state"
)

// Router runs the distance vector protocol for one node. The announce and recompute cycle is
// serialised by mu, packet handlers run concurrently and only read the published table.
type Router struct {
	*state.Env
	Neighbours *NeighbourList
	Presenter  *Presenter
	Counters   *perf.Counters
	// OnDeliver is called for every DATA packet addressed to this node
	OnDeliver func(d *protocol.Data)

	sender       *Sender
	period       time.Duration
	hierarchical bool
	resolve      Resolver
	clock        func() time.Time
	neighTimeout time.Duration

	mu      sync.Mutex
	table   atomic.Pointer[state.RoutingTable]
	started atomic.Bool
	stopped atomic.Bool
}

type Option func(r *Router)

// WithResolver replaces the resolver used to look up neighbour hosts
func WithResolver(resolve Resolver) Option {
	return func(r *Router) {
		r.resolve = resolve
	}
}

// WithClock replaces the clock used to age neighbour vectors
func WithClock(clock func() time.Time) Option {
	return func(r *Router) {
		r.clock = clock
	}
}

// WithNeighbourTimeout changes how long a remote-initiated neighbour may stay silent
func WithNeighbourTimeout(timeout time.Duration) Option {
	return func(r *Router) {
		r.neighTimeout = timeout
	}
}

func NewRouter(env *state.Env, tr Transport, opts ...Option) *Router {
	counters := &perf.Counters{}
	r := &Router{
		Env:          env,
		Presenter:    NewPresenter(),
		Counters:     counters,
		period:       env.LocalCfg.AnnouncePeriod(),
		hierarchical: env.LocalCfg.Hierarchical,
		resolve:      ResolveHost,
		clock:        time.Now,
		neighTimeout: env.LocalCfg.NeighbourTimeout(),
		sender: &Sender{
			Local:     env.LocalCfg.Address,
			Transport: tr,
			Counters:  counters,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Neighbours = NewNeighbourList(r.sender, env.LocalCfg.NeighbourCapacity(), r.neighTimeout)
	r.Neighbours.resolve = r.resolve
	r.Neighbours.clock = r.clock
	r.Neighbours.log = r.Log
	r.Neighbours.OnChange = r.publishNeighbours
	r.table.Store(selfTable(r.Local()))
	return r
}

func (r *Router) Log(event RouterEvent, desc string, args ...any) {
	if event >= InconsistentState {
		r.Env.Log.Warn(fmt.Sprintf("%s %s", event.String(), desc), args...)
		return
	}
	r.Env.Log.Debug(fmt.Sprintf("%s %s", event.String(), desc), args...)
}

func (r *Router) Local() state.Address {
	return r.sender.Local
}

func (r *Router) Period() time.Duration {
	return r.period
}

// RouteTTL is the validity advertised with every ROUTE packet
func (r *Router) RouteTTL() time.Duration {
	return r.period + state.RouteTTLSlack
}

// Table returns the published routing table, it must not be modified
func (r *Router) Table() *state.RoutingTable {
	return r.table.Load()
}

// NextHop resolves the neighbour a packet for dest is forwarded to. Destinations outside the
// local area are looked up by their network address first.
func (r *Router) NextHop(dest state.Address) (state.Address, bool) {
	tbl := r.Table()
	if !dest.SameNetwork(r.Local()) {
		if nh, ok := tbl.NextHop(dest.Network()); ok {
			return nh, true
		}
	}
	return tbl.NextHop(dest)
}

// Start registers the configured neighbours, publishes the first table and schedules the
// announce cycle at half the announce period. The first cycle runs after StartupDelay.
func (r *Router) Start() error {
	if r.stopped.Load() {
		return ErrStopped
	}
	if r.started.Swap(true) {
		return fmt.Errorf("router %s already started", r.Local())
	}
	for _, nc := range r.LocalCfg.Neighbours {
		err := r.Neighbours.Add(r.Context, nc.Address, nc.Host, nc.Port, nc.Distance, false)
		if err != nil {
			r.Env.Log.Error("failed to add configured neighbour", "neigh", nc, "error", err)
		}
	}
	r.Recompute()
	r.Env.Log.Info("router started", "addr", r.Local(), "period", r.period, "hierarchical", r.hierarchical)
	r.RepeatTask(r.Tick, r.period/2)
	// announce once as soon as the first HELLO answers had time to arrive
	r.ScheduleTask(r.Tick, min(state.StartupDelay, r.period/2))
	return nil
}

// Tick runs one announce and recompute cycle
func (r *Router) Tick() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped.Load() {
		return nil
	}
	r.Neighbours.Gc()
	r.greet()
	r.announce()
	r.recomputeLocked()
	return nil
}

// greet repeats the HELLO to every neighbour we hold no current vector from
func (r *Router) greet() {
	for _, n := range r.Neighbours.All() {
		if n.Vector() != nil {
			continue
		}
		if err := n.SendHello(r.sender); err != nil {
			r.Log(SendFailed, "failed to send HELLO", "neigh", n, "err", err)
		}
	}
}

// Recompute rebuilds and publishes the routing table without announcing it
func (r *Router) Recompute() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped.Load() {
		return
	}
	r.recomputeLocked()
}

func (r *Router) recomputeLocked() {
	start := time.Now()
	tbl := ComputeRoutes(r.Local(), r.Neighbours.All())
	perf.ComputeLatency.Add(float64(time.Since(start).Microseconds()))
	old := r.table.Swap(tbl)
	if !old.Equal(tbl) {
		r.Log(TableChanged, "routing table changed", "routes", tbl.Len())
	}
	r.publishTable(tbl)
}

// Stop cancels the announce cycle, says goodbye to every neighbour and clears the routing state.
// Handlers still running afterwards find the router stopped and return.
func (r *Router) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	r.Cancel(context.Canceled)
	r.Wait()

	r.mu.Lock()
	r.Neighbours.Close(true)
	tbl := state.NewRoutingTable()
	r.table.Store(tbl)
	r.publishTable(tbl)
	r.mu.Unlock()

	if err := r.Presenter.Close(); err != nil {
		r.Env.Log.Error("failed to close presenter", "error", err)
	}
	r.Env.Log.Info("router stopped", "addr", r.Local(), "counters", r.Counters.String())
}

func (r *Router) Stopped() bool {
	return r.stopped.Load()
}

func (r *Router) publishTable(tbl *state.RoutingTable) {
	r.Presenter.Publish(TableSnapshot{
		Local:  r.Local(),
		Routes: tbl.Entries(),
	})
}

func (r *Router) publishNeighbours() {
	r.Presenter.Publish(NeighbourSnapshot{
		Local:      r.Local(),
		Neighbours: r.Neighbours.Snapshot(),
	})
}
