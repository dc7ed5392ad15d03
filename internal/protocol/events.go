// Package protocol defines the JSON events exchanged over a document
// connection. Every frame is one object with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"collabnotes/api/internal/delta"
)

// Server to client.
const (
	TypeInitialContent    = "initial-content"
	TypeEditBroadcast     = "edit-broadcast"
	TypeMembersChanged    = "members-changed"
	TypeEditAcknowledged  = "edit-acknowledged"
	TypeEditRejected      = "edit-rejected"
	TypeSyncContent       = "sync-content"
	TypeForceSaveComplete = "force-save-complete"
	TypeForceSaveError    = "force-save-error"
	TypeDocumentDeleted   = "document-deleted"
	TypeError             = "error"
)

// Client to server.
const (
	TypeSubmitEdit  = "submit-edit"
	TypeRequestSync = "request-sync"
	TypeForceSave   = "force-save"
)

// Wire error codes.
const (
	CodeMalformedEdit = "MalformedEditError"
	CodeOutOfRange    = "OutOfRangeError"
	CodeStore         = "StoreError"
	CodeNotFound      = "NotFoundError"
)

// Ack statuses.
const (
	StatusAccepted  = "accepted"
	StatusUnchanged = "unchanged"
)

// Author identifies who submitted a broadcast edit. UserID is empty for
// anonymous sessions.
type Author struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
}

type ServerEvent struct {
	Type            string       `json:"type"`
	DocumentID      string       `json:"documentId,omitempty"`
	Content         *delta.Delta `json:"content,omitempty"`
	Edit            *delta.Delta `json:"edit,omitempty"`
	Author          *Author      `json:"author,omitempty"`
	Count           *int         `json:"count,omitempty"`
	Status          string       `json:"status,omitempty"`
	ResultingLength *int         `json:"resultingLength,omitempty"`
	RequestID       string       `json:"requestId,omitempty"`
	Code            string       `json:"code,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	LastModified    *time.Time   `json:"lastModified,omitempty"`
}

func InitialContent(documentID string, content delta.Delta, lastModified time.Time) ServerEvent {
	return ServerEvent{Type: TypeInitialContent, DocumentID: documentID, Content: &content, LastModified: timePtr(lastModified)}
}

func SyncContent(documentID string, content delta.Delta, lastModified time.Time) ServerEvent {
	return ServerEvent{Type: TypeSyncContent, DocumentID: documentID, Content: &content, LastModified: timePtr(lastModified)}
}

func EditBroadcast(documentID string, edit delta.Delta, author Author) ServerEvent {
	return ServerEvent{Type: TypeEditBroadcast, DocumentID: documentID, Edit: &edit, Author: &author}
}

func MembersChanged(documentID string, count int) ServerEvent {
	return ServerEvent{Type: TypeMembersChanged, DocumentID: documentID, Count: &count}
}

func EditAcknowledged(documentID, status string, resultingLength int, requestID string) ServerEvent {
	return ServerEvent{Type: TypeEditAcknowledged, DocumentID: documentID, Status: status, ResultingLength: &resultingLength, RequestID: requestID}
}

func EditRejected(documentID, code, reason, requestID string) ServerEvent {
	return ServerEvent{Type: TypeEditRejected, DocumentID: documentID, Code: code, Reason: reason, RequestID: requestID}
}

func ForceSaveComplete(documentID string, lastModified time.Time, requestID string) ServerEvent {
	return ServerEvent{Type: TypeForceSaveComplete, DocumentID: documentID, LastModified: timePtr(lastModified), RequestID: requestID}
}

func ForceSaveError(documentID, code, reason, requestID string) ServerEvent {
	return ServerEvent{Type: TypeForceSaveError, DocumentID: documentID, Code: code, Reason: reason, RequestID: requestID}
}

func DocumentDeleted(documentID string) ServerEvent {
	return ServerEvent{Type: TypeDocumentDeleted, DocumentID: documentID}
}

func Error(code, reason string) ServerEvent {
	return ServerEvent{Type: TypeError, Code: code, Reason: reason}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ClientEvent is a decoded client frame. Edit and Content stay raw so the
// handler can report parse failures against the request that carried them.
type ClientEvent struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	Edit       json.RawMessage `json:"edit,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
}

func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var event ClientEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ClientEvent{}, fmt.Errorf("decode client event: %w", err)
	}
	switch event.Type {
	case TypeSubmitEdit, TypeRequestSync, TypeForceSave:
		return event, nil
	case "":
		return ClientEvent{}, fmt.Errorf("decode client event: missing type")
	default:
		return ClientEvent{}, fmt.Errorf("decode client event: unknown type %q", event.Type)
	}
}
