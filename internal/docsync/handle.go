package docsync

import (
	"context"
	"sync"

	"collabnotes/api/internal/delta"
	"collabnotes/api/internal/session"
	"collabnotes/api/internal/store"
)

// Handle is one reference to a document actor. Commands queue behind any
// pending work for the same document. A command that has been queued runs to
// completion even when ctx ends first; only the wait for its result is
// abandoned.
type Handle struct {
	m *Manager
	a *actor

	mu     sync.Mutex
	closed bool
}

// Join loads or creates the document, queues initial-content to member and
// adds it to the room.
func (h *Handle) Join(ctx context.Context, member session.Member) (store.Document, error) {
	return call(ctx, h, func(ctx context.Context) (store.Document, error) {
		return h.a.join(ctx, member)
	})
}

// Leave removes member from the room after all of its pending commands.
func (h *Handle) Leave(ctx context.Context, member session.Member) error {
	_, err := call(ctx, h, func(context.Context) (struct{}, error) {
		h.a.leave(member)
		return struct{}{}, nil
	})
	return err
}

// Submit composes edit onto the document, persists it and broadcasts the
// original edit to every other member. sender may be nil; when set it
// receives the acknowledgment or rejection.
func (h *Handle) Submit(ctx context.Context, sender session.Member, edit delta.Delta, requestID string) (Ack, error) {
	return call(ctx, h, func(ctx context.Context) (Ack, error) {
		return h.a.submit(ctx, sender, edit, requestID)
	})
}

// Resync queues the current content to member only.
func (h *Handle) Resync(ctx context.Context, member session.Member) (store.Document, error) {
	return call(ctx, h, func(ctx context.Context) (store.Document, error) {
		return h.a.resync(ctx, member)
	})
}

// Replace overwrites the document with content and sends sync-content to
// every other member.
func (h *Handle) Replace(ctx context.Context, sender session.Member, content delta.Delta, requestID string) (store.Document, error) {
	return call(ctx, h, func(ctx context.Context) (store.Document, error) {
		return h.a.replace(ctx, sender, content, requestID)
	})
}

// Create stores content unless the document already exists, regardless of
// the auto-create setting.
func (h *Handle) Create(ctx context.Context, content delta.Delta) (store.Document, error) {
	return call(ctx, h, func(ctx context.Context) (store.Document, error) {
		return h.a.create(ctx, content)
	})
}

func (h *Handle) Snapshot(ctx context.Context) (store.Document, error) {
	return call(ctx, h, func(ctx context.Context) (store.Document, error) {
		if err := h.a.ensureLoaded(ctx, false); err != nil {
			return store.Document{}, err
		}
		return h.a.snapshot(), nil
	})
}

func (h *Handle) Delete(ctx context.Context) error {
	_, err := call(ctx, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.a.remove(ctx)
	})
	return err
}

// Close releases the reference. The last release lets the actor drain and
// evict the document from memory.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.m.release(h.a)
}

type result[T any] struct {
	value T
	err   error
}

func call[T any](ctx context.Context, h *Handle, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	reply := make(chan result[T], 1)
	cmd := func(ctx context.Context) {
		v, err := fn(ctx)
		reply <- result[T]{value: v, err: err}
	}

	// Holding h.mu keeps Close from closing the inbox mid-send.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return zero, ErrClosed
	}
	select {
	case h.a.inbox <- cmd:
	case <-ctx.Done():
		h.mu.Unlock()
		return zero, ctx.Err()
	}
	h.mu.Unlock()

	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
