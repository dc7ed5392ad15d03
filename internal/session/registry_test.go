package session

import (
	"sync"
	"testing"

	"collabnotes/api/internal/auth"
	"collabnotes/api/internal/protocol"
)

type fakeMember struct {
	id string

	mu     sync.Mutex
	events []protocol.ServerEvent
	reject bool
}

func (m *fakeMember) ID() string               { return m.id }
func (m *fakeMember) Identity() *auth.Identity { return nil }

func (m *fakeMember) Deliver(event protocol.ServerEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return false
	}
	m.events = append(m.events, event)
	return true
}

func (m *fakeMember) counts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, ev := range m.events {
		if ev.Type == protocol.TypeMembersChanged {
			out = append(out, *ev.Count)
		}
	}
	return out
}

func TestRegistryMembershipCounting(t *testing.T) {
	reg := NewRegistry()
	a := &fakeMember{id: "a"}
	b := &fakeMember{id: "b"}
	c := &fakeMember{id: "c"}

	for i, m := range []*fakeMember{a, b, c} {
		if got := reg.Join("doc2", m); got != i+1 {
			t.Fatalf("join %d: expected count %d, got %d", i, i+1, got)
		}
	}

	if got := a.counts(); len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("first member saw counts %v", got)
	}
	if got := c.counts(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("last member saw counts %v", got)
	}

	if count, emptied := reg.Leave("doc2", "a"); count != 2 || emptied {
		t.Fatalf("unexpected leave result %d %v", count, emptied)
	}
	if count, emptied := reg.Leave("doc2", "b"); count != 1 || emptied {
		t.Fatalf("unexpected leave result %d %v", count, emptied)
	}
	if got := c.counts(); got[len(got)-1] != 1 {
		t.Fatalf("remaining member should see count 1, got %v", got)
	}

	before := len(c.counts())
	if count, emptied := reg.Leave("doc2", "c"); count != 0 || !emptied {
		t.Fatalf("expected room teardown, got %d %v", count, emptied)
	}
	if len(c.counts()) != before {
		t.Fatal("no members-changed should be sent on teardown")
	}
	if _, ok := reg.Rooms()["doc2"]; ok {
		t.Fatal("room should be discarded")
	}

	if got := reg.Join("doc2", a); got != 1 {
		t.Fatalf("rejoin should recreate room, got %d", got)
	}
}

func TestRegistryJoinIsASet(t *testing.T) {
	reg := NewRegistry()
	a := &fakeMember{id: "a"}
	reg.Join("doc", a)
	if got := reg.Join("doc", a); got != 1 {
		t.Fatalf("duplicate join should not grow the room, got %d", got)
	}
}

func TestRegistryLeaveUnknown(t *testing.T) {
	reg := NewRegistry()
	if count, emptied := reg.Leave("nope", "a"); count != 0 || emptied {
		t.Fatalf("unexpected result %d %v", count, emptied)
	}
	reg.Join("doc", &fakeMember{id: "a"})
	if count, emptied := reg.Leave("doc", "zzz"); count != 1 || emptied {
		t.Fatalf("unexpected result %d %v", count, emptied)
	}
}

func TestRegistryBroadcastExcludesSender(t *testing.T) {
	reg := NewRegistry()
	a := &fakeMember{id: "a"}
	b := &fakeMember{id: "b"}
	stalled := &fakeMember{id: "s", reject: true}
	reg.Join("doc", a)
	reg.Join("doc", b)
	reg.Join("doc", stalled)
	reg.Join("other", &fakeMember{id: "x"})

	delivered := reg.BroadcastTo("doc", protocol.DocumentDeleted("doc"), "a")
	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
	for _, ev := range a.events {
		if ev.Type == protocol.TypeDocumentDeleted {
			t.Fatal("sender must not receive its own broadcast")
		}
	}
	if last := b.events[len(b.events)-1]; last.Type != protocol.TypeDocumentDeleted {
		t.Fatalf("expected broadcast at b, got %s", last.Type)
	}
	if reg.Count("doc") != 3 || reg.Count("other") != 1 || reg.Count("missing") != 0 {
		t.Fatalf("unexpected counts %v", reg.Rooms())
	}
}

func TestPeerOverflowCloses(t *testing.T) {
	overflowed := 0
	p := NewPeer("p", nil, 2, func() { overflowed++ })

	for i := 0; i < 2; i++ {
		if !p.Deliver(protocol.DocumentDeleted("doc")) {
			t.Fatalf("delivery %d should fit the queue", i)
		}
	}
	if p.Deliver(protocol.DocumentDeleted("doc")) {
		t.Fatal("third delivery should overflow")
	}
	if overflowed != 1 || !p.Closed() {
		t.Fatalf("expected one overflow callback and a closed peer, got %d", overflowed)
	}
	if p.Deliver(protocol.DocumentDeleted("doc")) || overflowed != 1 {
		t.Fatal("closed peer must drop events without firing overflow again")
	}

	var drained int
	for range p.Events() {
		drained++
	}
	if drained != 2 {
		t.Fatalf("queued events should drain before close, got %d", drained)
	}
	p.Close()
}
