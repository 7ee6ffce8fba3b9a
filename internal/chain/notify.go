package chain

import (
	"sync"

	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/block"
)

// EventKind identifies a chain event.
type EventKind int

// Chain event kinds.
const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventReorganized
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReorganized:
		return "reorganized"
	}
	return "unknown"
}

// Event is a committed chain change. Events of one operation are
// delivered in order: disconnects tip first, then connects, then the
// reorganization summary.
type Event struct {
	Kind EventKind
	// Block and Diff are set for connect and disconnect events. Diff is
	// the coin diff the block applied when it was connected.
	Block *block.Block
	Entry *Entry
	Diff  *utxo.Diff
	// OldTip and NewTip are set for EventReorganized.
	OldTip *Entry
	NewTip *Entry
}

// notifier fans chain events out to subscribers.
type notifier struct {
	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Subscribe registers for chain events. buf sizes the channel buffer.
// Delivery blocks the committing caller once the buffer is full, so
// subscribers must drain promptly. The returned func unsubscribes; the
// channel is left open and receives nothing further.
func (n *notifier) Subscribe(buf int) (<-chan Event, func()) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]*subscriber)
	}
	id := n.nextID
	n.nextID++
	s := &subscriber{ch: make(chan Event, buf), done: make(chan struct{})}
	n.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			close(s.done)
			n.subMu.Lock()
			delete(n.subs, id)
			n.subMu.Unlock()
		})
	}
}

// publish delivers events to every subscriber. It is called after the
// chain mutex is released.
func (n *notifier) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	n.subMu.Lock()
	subs := make([]*subscriber, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.subMu.Unlock()

	for _, ev := range events {
		for _, s := range subs {
			select {
			case s.ch <- ev:
			case <-s.done:
			}
		}
	}
}
