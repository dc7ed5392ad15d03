// Package docsync serializes every mutation of a document through one actor
// goroutine. Read, compose, persist and broadcast for a document happen as a
// single step; different documents proceed independently.
package docsync

import (
	"context"
	"log"
	"sync"
	"time"

	"collabnotes/api/internal/session"
	"collabnotes/api/internal/store"
)

// Indexer receives document changes after they are persisted. Failures are
// logged and never affect the edit pipeline.
type Indexer interface {
	IndexDocument(ctx context.Context, doc store.Document) error
	DeleteDocument(ctx context.Context, id string) error
}

type Options struct {
	// AutoCreate creates unknown documents on first access instead of
	// rejecting them with NotFoundError.
	AutoCreate   bool
	RetryDelay   time.Duration
	StoreTimeout time.Duration
	InboxSize    int
	Indexer      Indexer
}

// Manager maps document ids to live actors. The mutex guards only the map;
// document state belongs to the actor goroutine.
type Manager struct {
	store    store.DocumentStore
	registry *session.Registry
	opts     Options

	mu       sync.Mutex
	actors   map[string]*actor
	draining map[string]chan struct{}
	wg       sync.WaitGroup
}

func NewManager(st store.DocumentStore, registry *session.Registry, opts Options) *Manager {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	if registry == nil {
		registry = session.NewRegistry()
	}
	return &Manager{
		store:    st,
		registry: registry,
		opts:     opts,
		actors:   make(map[string]*actor),
		draining: make(map[string]chan struct{}),
	}
}

func (m *Manager) Registry() *session.Registry {
	return m.registry
}

// Open returns a handle on the document's actor, starting one if needed.
// Every handle must be closed.
func (m *Manager) Open(documentID string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actors[documentID]
	if !ok {
		a = newActor(m, documentID)
		m.actors[documentID] = a
		prev := m.draining[documentID]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			a.run(prev)
		}()
	}
	a.refs++
	return &Handle{m: m, a: a}
}

// Active reports how many documents currently have a live actor.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// Wait blocks until every released actor has drained and every index update
// has finished, or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release(a *actor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.refs--
	if a.refs > 0 {
		return
	}
	if m.actors[a.id] == a {
		delete(m.actors, a.id)
	}
	m.draining[a.id] = a.done
	close(a.inbox)
}

func (m *Manager) finished(a *actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining[a.id] == a.done {
		delete(m.draining, a.id)
	}
}

func (m *Manager) index(doc store.Document) {
	if m.opts.Indexer == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.StoreTimeout)
		defer cancel()
		if err := m.opts.Indexer.IndexDocument(ctx, doc); err != nil {
			log.Printf("docsync: index %s: %v", doc.ID, err)
		}
	}()
}

func (m *Manager) unindex(id string) {
	if m.opts.Indexer == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.StoreTimeout)
		defer cancel()
		if err := m.opts.Indexer.DeleteDocument(ctx, id); err != nil {
			log.Printf("docsync: unindex %s: %v", id, err)
		}
	}()
}
