package session

import (
	"sync"

	"collabnotes/api/internal/auth"
	"collabnotes/api/internal/protocol"
)

// Peer is a Member backed by a bounded outbound queue. A writer drains
// Events; when the queue is full the peer is closed and onOverflow runs once.
type Peer struct {
	id       string
	identity *auth.Identity

	mu         sync.Mutex
	send       chan protocol.ServerEvent
	closed     bool
	onOverflow func()
}

func NewPeer(id string, identity *auth.Identity, queueSize int, onOverflow func()) *Peer {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Peer{
		id:         id,
		identity:   identity,
		send:       make(chan protocol.ServerEvent, queueSize),
		onOverflow: onOverflow,
	}
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) Identity() *auth.Identity {
	return p.identity
}

// Deliver queues event without blocking. It reports false when the peer is
// closed or its queue overflowed.
func (p *Peer) Deliver(event protocol.ServerEvent) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	select {
	case p.send <- event:
		p.mu.Unlock()
		return true
	default:
	}
	p.closed = true
	close(p.send)
	overflow := p.onOverflow
	p.mu.Unlock()

	if overflow != nil {
		overflow()
	}
	return false
}

// Events is closed once the peer is closed; queued events are still
// delivered first.
func (p *Peer) Events() <-chan protocol.ServerEvent {
	return p.send
}

func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
