// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"testing"
)

func TestNoopHandler(t *testing.T) {
	h := &NoopHandler{}
	ctx := context.Background()

	tests := []struct {
		name string
		ev   Event
	}{
		{"IncomingConnection", IncomingConnection{SessionID: 1, PeerAddress: "127.0.0.1:1234"}},
		{"ConnectionOpened", ConnectionOpened{SessionID: 1, Status: StatusSuccess}},
		{"CanSendNow", CanSendNow{SessionID: 1}},
		{"Data", Data{SessionID: 1, Bytes: []byte{0x80}}},
		{"ConnectionClosed", ConnectionClosed{SessionID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.HandleEvent(ctx, tt.ev); err != nil {
				t.Errorf("HandleEvent(%s) returned error: %v", tt.name, err)
			}
			if tt.ev.Session() != 1 {
				t.Errorf("Session() = %d, want 1", tt.ev.Session())
			}
		})
	}
}

// mockHandler records events for testing.
type mockHandler struct {
	err    error
	events []Event
}

func (m *mockHandler) HandleEvent(ctx context.Context, ev Event) error {
	m.events = append(m.events, ev)
	return m.err
}

func TestHandlerFunc(t *testing.T) {
	m := &mockHandler{err: errors.New("rejected")}
	var h Handler = HandlerFunc(m.HandleEvent)

	err := h.HandleEvent(context.Background(), CanSendNow{SessionID: 9})
	if !errors.Is(err, m.err) {
		t.Errorf("HandleEvent() error = %v, want %v", err, m.err)
	}
	if len(m.events) != 1 {
		t.Fatalf("got %d events, want 1", len(m.events))
	}
	if ev, ok := m.events[0].(CanSendNow); !ok || ev.SessionID != 9 {
		t.Errorf("event = %#v", m.events[0])
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusSuccess:  "success",
		StatusRejected: "rejected",
		StatusTimeout:  "timeout",
		StatusFailed:   "failed",
		Status(42):     "status(42)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("String() = %q, want %q", s.String(), want)
		}
	}
}
