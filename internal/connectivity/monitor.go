// Package connectivity tracks whether the device can reach the ingest
// service and notifies subscribers when it comes back online.
package connectivity

import (
	"context"
	"sync"
	"time"
)

// Monitor holds the current online state. The zero value is offline.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan struct{}
	nextID int
}

// New returns a Monitor with the given initial state.
func New(initial bool) *Monitor {
	return &Monitor{online: initial, subs: make(map[int]chan struct{})}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a new state. Subscribers are signalled only on an
// offline to online transition. It reports whether the state changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online
	if online {
		for _, ch := range m.subs {
			// Buffered 1: a pending signal already covers this transition.
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	return true
}

// Subscribe returns a channel that receives a value after each transition
// to online, and a function that releases the subscription.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs == nil {
		m.subs = make(map[int]chan struct{})
	}
	id := m.nextID
	m.nextID++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Prober periodically runs Check and feeds the result into Monitor.
// It only detects reachability; it never triggers delivery itself.
type Prober struct {
	Check    func(ctx context.Context) error
	Interval time.Duration
	Monitor  *Monitor
	// OnChange, if set, is called after each state transition.
	OnChange func(online bool, err error)
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	p.probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	err := p.Check(ctx)
	if ctx.Err() != nil {
		return
	}
	online := err == nil
	if p.Monitor.Set(online) && p.OnChange != nil {
		p.OnChange(online, err)
	}
}
