package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"collabnotes/api/internal/auth"
	"collabnotes/api/internal/config"
	"collabnotes/api/internal/delta"
	"collabnotes/api/internal/docsync"
	"collabnotes/api/internal/protocol"
	"collabnotes/api/internal/session"
	"collabnotes/api/internal/util"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	leaveTimeout = 10 * time.Second
)

func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(r.URL.Query().Get("documentId"))
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_DOCUMENT_ID", "documentId query parameter is required", nil)
		return
	}
	if !util.ValidDocumentID(documentID) {
		writeError(w, http.StatusBadRequest, "INVALID_DOCUMENT_ID", "invalid document id", nil)
		return
	}
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Printf("ws: request %s upgrade failed for %s: %v", requestIDFrom(r.Context()), documentID, err)
		return
	}

	c := &wsConnection{
		id:         util.NewID("conn"),
		documentID: documentID,
		conn:       conn,
		docs:       s.service.Documents(),
		cfg:        s.service.Config(),
	}
	if !s.track(c) {
		c.goAway("server shutting down")
		return
	}
	defer s.untrack(c)
	c.serve(identity)
}

// CloseConnections sends a going-away close frame to every open websocket and
// refuses new ones. Register it with http.Server.RegisterOnShutdown; Shutdown
// does not track hijacked connections.
func (s *HTTPServer) CloseConnections() {
	s.mu.Lock()
	s.shutdown = true
	conns := make([]*wsConnection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.goAway("server shutting down")
	}
	if len(conns) > 0 {
		log.Printf("ws: closed %d connections for shutdown", len(conns))
	}
}

func (s *HTTPServer) track(c *wsConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *HTTPServer) untrack(c *wsConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// wsConnection is one websocket session attached to a single document.
type wsConnection struct {
	id         string
	documentID string
	conn       *websocket.Conn
	docs       *docsync.Manager
	cfg        config.Config
	peer       *session.Peer
	handle     *docsync.Handle
}

// serve runs until the socket closes. Its context is detached from the
// request, which net/http no longer tracks once the connection is hijacked.
func (c *wsConnection) serve(identity *auth.Identity) {
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.peer = session.NewPeer(c.id, identity, c.cfg.SendQueueSize, func() {
		log.Printf("ws: %s send queue full on %s, disconnecting", c.id, c.documentID)
		_ = c.conn.Close()
	})
	c.handle = c.docs.Open(c.documentID)
	defer c.handle.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	if _, err := c.handle.Join(ctx, c.peer); err != nil {
		log.Printf("ws: %s join %s failed: %v", c.id, c.documentID, err)
		c.peer.Close()
		<-writerDone
		return
	}
	log.Printf("ws: %s joined %s (user=%s)", c.id, c.documentID, userLabel(identity))

	c.readLoop(ctx)

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), leaveTimeout)
	if err := c.handle.Leave(leaveCtx, c.peer); err != nil {
		log.Printf("ws: %s leave %s: %v", c.id, c.documentID, err)
	}
	leaveCancel()
	c.peer.Close()
	<-writerDone
	log.Printf("ws: %s left %s", c.id, c.documentID)
}

func (c *wsConnection) readLoop(ctx context.Context) {
	if c.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	if wait := c.pongWait(); wait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Printf("ws: %s read: %v", c.id, err)
			}
			return
		}
		c.dispatch(ctx, data)
	}
}

func (c *wsConnection) dispatch(ctx context.Context, data []byte) {
	event, err := protocol.DecodeClientEvent(data)
	if err != nil {
		c.peer.Deliver(protocol.Error(protocol.CodeMalformedEdit, err.Error()))
		return
	}

	switch event.Type {
	case protocol.TypeSubmitEdit:
		if !c.sameDocument(event.DocumentID) {
			c.peer.Deliver(protocol.EditRejected(c.documentID, protocol.CodeMalformedEdit, "documentId does not match this connection", event.RequestID))
			return
		}
		if len(event.Edit) == 0 {
			c.peer.Deliver(protocol.EditRejected(c.documentID, protocol.CodeMalformedEdit, "edit is required", event.RequestID))
			return
		}
		edit, err := delta.Parse(event.Edit)
		if err != nil {
			c.peer.Deliver(protocol.EditRejected(c.documentID, protocol.CodeMalformedEdit, err.Error(), event.RequestID))
			return
		}
		_, err = c.handle.Submit(ctx, c.peer, edit, event.RequestID)
		c.logFailure("submit", err)

	case protocol.TypeRequestSync:
		_, err := c.handle.Resync(ctx, c.peer)
		c.logFailure("resync", err)

	case protocol.TypeForceSave:
		if !c.sameDocument(event.DocumentID) {
			c.peer.Deliver(protocol.ForceSaveError(c.documentID, protocol.CodeMalformedEdit, "documentId does not match this connection", event.RequestID))
			return
		}
		if len(event.Content) == 0 {
			c.peer.Deliver(protocol.ForceSaveError(c.documentID, protocol.CodeMalformedEdit, "content is required", event.RequestID))
			return
		}
		content, err := delta.Parse(event.Content)
		if err != nil {
			c.peer.Deliver(protocol.ForceSaveError(c.documentID, protocol.CodeMalformedEdit, err.Error(), event.RequestID))
			return
		}
		_, err = c.handle.Replace(ctx, c.peer, content, event.RequestID)
		c.logFailure("force-save", err)
	}
}

// logFailure records errors the actor did not already report to the peer.
func (c *wsConnection) logFailure(op string, err error) {
	if err == nil {
		return
	}
	var rejected *docsync.RejectedError
	if errors.As(err, &rejected) {
		return
	}
	log.Printf("ws: %s %s on %s: %v", c.id, op, c.documentID, err)
}

func (c *wsConnection) sameDocument(documentID string) bool {
	return documentID == "" || documentID == c.documentID
}

func (c *wsConnection) pongWait() time.Duration {
	if c.cfg.PingInterval <= 0 {
		return 0
	}
	return c.cfg.PingInterval * 2
}

// writeLoop is the only writer on the connection. It exits when the peer is
// closed or a write fails.
func (c *wsConnection) writeLoop() {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case event, ok := <-c.peer.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				log.Printf("ws: %s write: %v", c.id, err)
				_ = c.conn.Close()
				return
			}
			if event.Type == protocol.TypeDocumentDeleted {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "document deleted"))
				_ = c.conn.Close()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// goAway may run concurrently with the writer; WriteControl and Close are
// safe for that.
func (c *wsConnection) goAway(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

func userLabel(identity *auth.Identity) string {
	if identity == nil {
		return "anonymous"
	}
	return identity.UserID
}
