package docsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"collabnotes/api/internal/delta"
	"collabnotes/api/internal/protocol"
	"collabnotes/api/internal/session"
	"collabnotes/api/internal/store"
	"github.com/cenkalti/backoff"
)

// Ack is the result of an accepted or unchanged submit.
type Ack struct {
	Status          string
	ResultingLength int
	LastModified    time.Time
}

type actor struct {
	m     *Manager
	id    string
	inbox chan func(context.Context)
	done  chan struct{}
	refs  int // guarded by Manager.mu

	// Owned by the run goroutine.
	loaded       bool
	content      delta.Delta
	lastModified time.Time
}

func newActor(m *Manager, id string) *actor {
	return &actor{
		m:     m,
		id:    id,
		inbox: make(chan func(context.Context), m.opts.InboxSize),
		done:  make(chan struct{}),
	}
}

// run executes commands one at a time in arrival order. It starts only after
// a predecessor for the same id has drained, and evicts the cached content
// when the inbox is closed and empty.
func (a *actor) run(prev <-chan struct{}) {
	defer close(a.done)
	defer a.m.finished(a)

	if prev != nil {
		<-prev
	}
	for cmd := range a.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), a.m.opts.StoreTimeout)
		cmd(ctx)
		cancel()
	}
}

func (a *actor) retry(op string, fn func() error) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(a.m.opts.RetryDelay), 1)
	return backoff.RetryNotify(fn, b, func(err error, wait time.Duration) {
		log.Printf("docsync: %s %s failed, retrying in %s: %v", op, a.id, wait, err)
	})
}

func (a *actor) snapshot() store.Document {
	return store.Document{ID: a.id, Content: a.content, LastModified: a.lastModified}
}

func (a *actor) adopt(doc store.Document) {
	a.loaded = true
	a.content = doc.Content
	a.lastModified = doc.LastModified
}

// ensureLoaded populates the cache from the store. Unknown ids are created
// empty when create is set or auto-create is on.
func (a *actor) ensureLoaded(ctx context.Context, create bool) error {
	if a.loaded {
		return nil
	}

	var (
		doc      store.Document
		notFound bool
	)
	err := a.retry("load", func() error {
		var err error
		doc, err = a.m.store.Load(ctx, a.id)
		if errors.Is(err, store.ErrNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return reject(protocol.CodeStore, err)
	}

	if notFound {
		if !create && !a.m.opts.AutoCreate {
			return reject(protocol.CodeNotFound, fmt.Errorf("document %s: %w", a.id, store.ErrNotFound))
		}
		err = a.retry("create", func() error {
			var err error
			doc, err = a.m.store.Create(ctx, a.id, delta.Delta{})
			return err
		})
		if err != nil {
			return reject(protocol.CodeStore, err)
		}
		a.m.index(doc)
	}

	a.adopt(doc)
	return nil
}

func (a *actor) persist(ctx context.Context, content delta.Delta) (store.Document, error) {
	var doc store.Document
	err := a.retry("save", func() error {
		var err error
		doc, err = a.m.store.Save(ctx, a.id, content)
		return err
	})
	if err != nil {
		return store.Document{}, reject(protocol.CodeStore, err)
	}
	return doc, nil
}

func (a *actor) join(ctx context.Context, member session.Member) (store.Document, error) {
	if err := a.ensureLoaded(ctx, false); err != nil {
		member.Deliver(protocol.Error(rejectionCode(err), err.Error()))
		return store.Document{}, err
	}
	member.Deliver(protocol.InitialContent(a.id, a.content, a.lastModified))
	a.m.registry.Join(a.id, member)
	return a.snapshot(), nil
}

func (a *actor) leave(member session.Member) {
	a.m.registry.Leave(a.id, member.ID())
}

func (a *actor) submit(ctx context.Context, sender session.Member, edit delta.Delta, requestID string) (Ack, error) {
	ack, err := a.applyEdit(ctx, sender, edit)
	if sender == nil {
		return ack, err
	}
	if err != nil {
		sender.Deliver(protocol.EditRejected(a.id, rejectionCode(err), err.Error(), requestID))
		return Ack{}, err
	}
	sender.Deliver(protocol.EditAcknowledged(a.id, ack.Status, ack.ResultingLength, requestID))
	return ack, nil
}

func (a *actor) applyEdit(ctx context.Context, sender session.Member, edit delta.Delta) (Ack, error) {
	if err := edit.Validate(); err != nil {
		return Ack{}, reject(protocol.CodeMalformedEdit, err)
	}
	if err := a.ensureLoaded(ctx, false); err != nil {
		return Ack{}, err
	}

	next, err := delta.Compose(a.content, edit)
	if err != nil {
		return Ack{}, reject(rejectionCode(err), err)
	}
	if delta.Equal(next, a.content) {
		return Ack{Status: protocol.StatusUnchanged, ResultingLength: a.content.Length(), LastModified: a.lastModified}, nil
	}

	doc, err := a.persist(ctx, next)
	if err != nil {
		log.Printf("docsync: rejecting edit on %s: %v", a.id, err)
		return Ack{}, err
	}
	a.adopt(doc)

	author := protocol.Author{}
	excludeID := ""
	if sender != nil {
		excludeID = sender.ID()
		author.ConnectionID = sender.ID()
		if identity := sender.Identity(); identity != nil {
			author.UserID = identity.UserID
			author.Username = identity.Username
		}
	}
	a.m.registry.BroadcastTo(a.id, protocol.EditBroadcast(a.id, edit, author), excludeID)
	a.m.index(doc)

	return Ack{Status: protocol.StatusAccepted, ResultingLength: next.Length(), LastModified: doc.LastModified}, nil
}

func (a *actor) resync(ctx context.Context, member session.Member) (store.Document, error) {
	if err := a.ensureLoaded(ctx, false); err != nil {
		member.Deliver(protocol.Error(rejectionCode(err), err.Error()))
		return store.Document{}, err
	}
	member.Deliver(protocol.SyncContent(a.id, a.content, a.lastModified))
	return a.snapshot(), nil
}

func (a *actor) replace(ctx context.Context, sender session.Member, content delta.Delta, requestID string) (store.Document, error) {
	doc, err := a.replaceContent(ctx, sender, content)
	if sender == nil {
		return doc, err
	}
	if err != nil {
		sender.Deliver(protocol.ForceSaveError(a.id, rejectionCode(err), err.Error(), requestID))
		return store.Document{}, err
	}
	sender.Deliver(protocol.ForceSaveComplete(a.id, doc.LastModified, requestID))
	return doc, nil
}

func (a *actor) replaceContent(ctx context.Context, sender session.Member, content delta.Delta) (store.Document, error) {
	if err := content.Validate(); err != nil {
		return store.Document{}, reject(protocol.CodeMalformedEdit, err)
	}
	if !content.IsDocument() {
		return store.Document{}, reject(protocol.CodeMalformedEdit, &delta.FormatError{Index: -1, Reason: "content may only contain inserts"})
	}

	doc, err := a.persist(ctx, content)
	if err != nil {
		log.Printf("docsync: replace %s: %v", a.id, err)
		return store.Document{}, err
	}
	a.adopt(doc)

	excludeID := ""
	if sender != nil {
		excludeID = sender.ID()
	}
	a.m.registry.BroadcastTo(a.id, protocol.SyncContent(a.id, a.content, a.lastModified), excludeID)
	a.m.index(doc)
	return doc, nil
}

func (a *actor) create(ctx context.Context, content delta.Delta) (store.Document, error) {
	if err := content.Validate(); err != nil {
		return store.Document{}, reject(protocol.CodeMalformedEdit, err)
	}
	if !content.IsDocument() {
		return store.Document{}, reject(protocol.CodeMalformedEdit, &delta.FormatError{Index: -1, Reason: "content may only contain inserts"})
	}

	var doc store.Document
	err := a.retry("create", func() error {
		var err error
		doc, err = a.m.store.Create(ctx, a.id, content)
		return err
	})
	if err != nil {
		return store.Document{}, reject(protocol.CodeStore, err)
	}
	a.adopt(doc)
	a.m.index(doc)
	return doc, nil
}

func (a *actor) remove(ctx context.Context) error {
	var notFound bool
	err := a.retry("delete", func() error {
		err := a.m.store.Delete(ctx, a.id)
		if errors.Is(err, store.ErrNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return reject(protocol.CodeStore, err)
	}

	wasLoaded := a.loaded
	a.loaded = false
	a.content = delta.Delta{}
	a.lastModified = time.Time{}

	if notFound && !wasLoaded {
		return reject(protocol.CodeNotFound, fmt.Errorf("document %s: %w", a.id, store.ErrNotFound))
	}
	a.m.registry.BroadcastTo(a.id, protocol.DocumentDeleted(a.id), "")
	a.m.unindex(a.id)
	return nil
}
