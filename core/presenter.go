package core

import (
	"sync"

	"github.com/dustin/go-broadcast"
	"github.com/encodeous/dvr/state"
)

// TableSnapshot is published whenever a routing table is installed
type TableSnapshot struct {
	Local  state.Address
	Routes []state.RouteEntry
}

// NeighbourSnapshot is published whenever the neighbour list changes
type NeighbourSnapshot struct {
	Local      state.Address
	Neighbours []NeighbourRow
}

// Delivery is published for every DATA packet addressed to the local node
type Delivery struct {
	Sender  state.Address
	Dest    state.Address
	Message []byte
	Path    state.AddressList
}

// Presenter fans router events out to any number of subscribers. Publishing never blocks,
// events are dropped when the subscribers cannot keep up. A subscriber must keep reading until it
// unsubscribes or the presenter is closed.
type Presenter struct {
	mu     sync.Mutex
	closed bool
	subs   map[chan any]struct{}
	b      broadcast.Broadcaster
}

func NewPresenter() *Presenter {
	return &Presenter{
		subs: make(map[chan any]struct{}),
		b:    broadcast.NewBroadcaster(256),
	}
}

// Publish offers ev to the subscribers and reports whether it was queued
func (p *Presenter) Publish(ev any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	return p.b.TrySubmit(ev)
}

// drain empties chs until the returned func is called, so the broadcaster is never stuck
// sending to them while they are unregistered
func drain(chs ...chan any) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, ch := range chs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ch:
				case <-done:
					return
				}
			}
		}()
	}
	return func() {
		close(done)
		wg.Wait()
	}
}

// Subscribe returns a channel of events and a function that unsubscribes it.
// The channel is not closed by either.
func (p *Presenter) Subscribe(buffer int) (<-chan any, func()) {
	ch := make(chan any, buffer)
	p.mu.Lock()
	if !p.closed {
		p.subs[ch] = struct{}{}
		p.b.Register(ch)
	}
	p.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			stop := drain(ch)
			defer stop()
			p.mu.Lock()
			defer p.mu.Unlock()
			if _, ok := p.subs[ch]; ok {
				delete(p.subs, ch)
				p.b.Unregister(ch)
			}
		})
	}
}

// Close unregisters every remaining subscriber and stops the broadcaster
func (p *Presenter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	chs := make([]chan any, 0, len(p.subs))
	for ch := range p.subs {
		chs = append(chs, ch)
	}
	stop := drain(chs...)
	defer stop()
	for _, ch := range chs {
		p.b.Unregister(ch)
	}
	clear(p.subs)
	return p.b.Close()
}
