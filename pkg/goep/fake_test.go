// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package goep

import (
	"context"
	"io"
	"log/slog"

	"github.com/absmach/mobex/pkg/handler"
)

// fakeBearer records calls and lets tests inject events through its sinks.
type fakeBearer struct {
	kind BearerKind

	registerErr error
	connectErr  error
	sendErr     error

	services    map[uint16]EventSink
	accepted    []uint16
	declined    []uint16
	canSend     []uint16
	disconnects []uint16
	sent        [][]byte

	nextCID     uint16
	connectSink EventSink
}

func newFakeBearer(kind BearerKind) *fakeBearer {
	return &fakeBearer{
		kind:     kind,
		services: make(map[uint16]EventSink),
		nextCID:  0x40,
	}
}

func (f *fakeBearer) Kind() BearerKind { return f.kind }

func (f *fakeBearer) RegisterService(id uint16, mtu int, level SecurityLevel, sink EventSink) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.services[id] = sink
	return nil
}

func (f *fakeBearer) UnregisterService(id uint16) error {
	delete(f.services, id)
	return nil
}

func (f *fakeBearer) Accept(cid uint16) error {
	f.accepted = append(f.accepted, cid)
	return nil
}

func (f *fakeBearer) Decline(cid uint16) error {
	f.declined = append(f.declined, cid)
	return nil
}

func (f *fakeBearer) RequestCanSendNow(cid uint16) error {
	f.canSend = append(f.canSend, cid)
	return nil
}

func (f *fakeBearer) Send(cid uint16, data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeBearer) Disconnect(cid uint16) error {
	f.disconnects = append(f.disconnects, cid)
	return nil
}

func (f *fakeBearer) Connect(addr string, service uint16, mtu int, sink EventSink) (uint16, error) {
	if f.connectErr != nil {
		return 0, f.connectErr
	}
	f.connectSink = sink
	f.nextCID++
	return f.nextCID, nil
}

// deliver sends ev to the sink registered for service.
func (f *fakeBearer) deliver(service uint16, ev BearerEvent) {
	f.services[service].HandleBearerEvent(context.Background(), ev)
}

// recorder is a handler.Handler that keeps every event.
type recorder struct {
	events []handler.Event
}

func (r *recorder) HandleEvent(ctx context.Context, ev handler.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) last() handler.Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
