// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package goep

import (
	"github.com/absmach/mobex/pkg/handler"
	"github.com/absmach/mobex/pkg/obex"
)

// State is the lifecycle state of one session.
type State int

const (
	W4AcceptOrDecline State = iota
	W4Connected
	Connected
	OutgoingBufferReserved
)

// String returns a string representation of the session state.
func (s State) String() string {
	switch s {
	case W4AcceptOrDecline:
		return "w4_accept_or_decline"
	case W4Connected:
		return "w4_connected"
	case Connected:
		return "connected"
	case OutgoingBufferReserved:
		return "outgoing_buffer_reserved"
	default:
		return "unknown"
	}
}

type session struct {
	id        handler.SessionID
	kind      BearerKind
	bearerCID uint16
	peer      string
	handle    uint16
	state     State
	incoming  bool
	handler   handler.Handler

	// mtu bounds the outgoing buffer.
	mtu int
	buf []byte

	// Client side only.
	connID uint32
	opcode obex.Opcode
}

func (s *session) context() handler.Context {
	return handler.Context{
		SessionID:      s.id,
		Bearer:         s.kind.String(),
		PeerAddress:    s.peer,
		PeerHandle:     s.handle,
		MaxMessageSize: s.mtu,
	}
}

// sessionTable is an arena of sessions keyed by SessionID.
type sessionTable struct {
	sessions map[handler.SessionID]*session
	last     handler.SessionID
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		sessions: make(map[handler.SessionID]*session),
	}
}

// alloc returns the next free id, skipping 0 and ids still in use.
func (t *sessionTable) alloc() (handler.SessionID, bool) {
	for i := 0; i < 0xFFFF; i++ {
		t.last++
		if t.last == 0 {
			t.last = 1
		}
		if _, ok := t.sessions[t.last]; !ok {
			return t.last, true
		}
	}
	return 0, false
}

func (t *sessionTable) add(s *session) {
	t.sessions[s.id] = s
}

func (t *sessionTable) get(id handler.SessionID) *session {
	return t.sessions[id]
}

func (t *sessionTable) remove(id handler.SessionID) {
	delete(t.sessions, id)
}

func (t *sessionTable) byBearer(kind BearerKind, cid uint16) *session {
	for _, s := range t.sessions {
		if s.kind == kind && s.bearerCID == cid {
			return s
		}
	}
	return nil
}

func (t *sessionTable) len() int {
	return len(t.sessions)
}
