// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"fmt"
	"log/slog"
)

// SessionID is the opaque handle of one GOEP session.
type SessionID uint16

// Status is the outcome reported with ConnectionOpened.
type Status int

const (
	StatusSuccess Status = iota
	StatusRejected
	StatusTimeout
	StatusFailed
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRejected:
		return "rejected"
	case StatusTimeout:
		return "timeout"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Context contains session metadata.
type Context struct {
	// SessionID identifies the session
	SessionID SessionID

	// Bearer is the bearer kind carrying the session (stream, packet)
	Bearer string

	// PeerAddress is the remote address reported by the bearer
	PeerAddress string

	// PeerHandle is the bearer-level handle of the peer link
	PeerHandle uint16

	// MaxMessageSize is the largest object the session may send
	MaxMessageSize int
}

// LogValue implements slog.LogValuer.
func (c Context) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("session", int(c.SessionID)),
		slog.String("bearer", c.Bearer),
		slog.String("peer", c.PeerAddress),
	)
}

// Event is one of IncomingConnection, ConnectionOpened, ConnectionClosed,
// CanSendNow or Data.
type Event interface {
	// Session returns the session the event belongs to.
	Session() SessionID
	isEvent()
}

// IncomingConnection asks the service to accept or decline a peer.
type IncomingConnection struct {
	SessionID   SessionID
	PeerAddress string
	PeerHandle  uint16
}

// ConnectionOpened reports the outcome of an incoming or outgoing connection.
// On failure the session no longer exists when the event is delivered.
type ConnectionOpened struct {
	SessionID   SessionID
	PeerAddress string
	PeerHandle  uint16
	Status      Status
	Incoming    bool
}

// ConnectionClosed is the last event delivered for a session.
type ConnectionClosed struct {
	SessionID SessionID
}

// CanSendNow answers a RequestCanSendNow call.
type CanSendNow struct {
	SessionID SessionID
}

// Data carries inbound bytes. Bytes is only valid during HandleEvent.
type Data struct {
	SessionID SessionID
	Bytes     []byte
}

func (e IncomingConnection) Session() SessionID { return e.SessionID }
func (e ConnectionOpened) Session() SessionID   { return e.SessionID }
func (e ConnectionClosed) Session() SessionID   { return e.SessionID }
func (e CanSendNow) Session() SessionID         { return e.SessionID }
func (e Data) Session() SessionID               { return e.SessionID }

func (IncomingConnection) isEvent() {}
func (ConnectionOpened) isEvent()   {}
func (ConnectionClosed) isEvent()   {}
func (CanSendNow) isEvent()         {}
func (Data) isEvent()               {}

// Handler receives session events for a registered service or an outgoing
// client connection. Events for one session arrive in order, on the run
// loop goroutine. Returned errors are logged and do not affect the session.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// NoopHandler is a Handler implementation that ignores all events.
// Useful for testing.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) HandleEvent(ctx context.Context, ev Event) error {
	return nil
}
