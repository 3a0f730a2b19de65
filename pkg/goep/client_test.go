// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package goep

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	mobexerrors "github.com/absmach/mobex/pkg/errors"
	"github.com/absmach/mobex/pkg/handler"
	"github.com/absmach/mobex/pkg/obex"
	"github.com/absmach/mobex/pkg/srm"
)

func openClient(t *testing.T, mtu int) (*Client, *fakeBearer, *recorder, handler.SessionID) {
	t.Helper()

	stream := newFakeBearer(Stream)
	c := NewClient(Config{Logger: discardLogger()}, stream, nil)
	rec := &recorder{}

	id, err := c.CreateConnection(rec, Stream, "127.0.0.1:6500", testChannel, mtu)
	if err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}
	if err := c.RequestCreateGet(id); !errors.Is(err, mobexerrors.ErrCommandDisallowed) {
		t.Errorf("RequestCreateGet() before open error = %v, want ErrCommandDisallowed", err)
	}

	stream.connectSink.HandleBearerEvent(context.Background(), ChannelOpenedEvent{
		CID:    stream.nextCID,
		Status: handler.StatusSuccess,
		MTU:    mtu,
	})
	opened, ok := rec.last().(handler.ConnectionOpened)
	if !ok || opened.Status != handler.StatusSuccess || opened.Incoming {
		t.Fatalf("last event = %#v, want successful outgoing ConnectionOpened", rec.last())
	}
	return c, stream, rec, id
}

func TestClientRequests(t *testing.T) {
	c, stream, _, id := openClient(t, 256)

	target := bytes.Repeat([]byte{0x11}, obex.TargetUUIDLen)
	if err := c.RequestCreateConnect(id, obex.Version10, 0, 0xFFFF); err != nil {
		t.Fatalf("RequestCreateConnect() error = %v", err)
	}
	if got := c.RequestOpcode(id); got != obex.OpcodeConnect {
		t.Errorf("RequestOpcode() = %s, want CONNECT", got)
	}
	if err := c.HeaderAddTarget(id, target); err != nil {
		t.Fatalf("HeaderAddTarget() error = %v", err)
	}
	if err := c.Execute(id); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	connect := stream.sent[0]
	if connect[0] != uint8(obex.OpcodeConnect) {
		t.Errorf("opcode = %#x, want CONNECT", connect[0])
	}
	if got := binary.BigEndian.Uint16(connect[5:7]); got != 256 {
		t.Errorf("max packet length = %d, want clamped 256", got)
	}

	// No connection id yet: the request carries no Connection-Id header.
	if err := c.RequestCreateGet(id); err != nil {
		t.Fatalf("RequestCreateGet() error = %v", err)
	}
	if err := c.Execute(id); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if want := []byte{0x83, 0x00, 0x03}; !bytes.Equal(stream.sent[1], want) {
		t.Errorf("GET = % x, want % x", stream.sent[1], want)
	}

	if err := c.SetConnectionID(id, 7); err != nil {
		t.Fatalf("SetConnectionID() error = %v", err)
	}
	if err := c.RequestCreatePut(id); err != nil {
		t.Fatalf("RequestCreatePut() error = %v", err)
	}
	if got := c.MaxBodySize(id); got != 256-8-obex.HeaderPrefixLen {
		t.Errorf("MaxBodySize() = %d, want %d", got, 256-8-obex.HeaderPrefixLen)
	}
	n, err := c.BodyFill(id, bytes.Repeat([]byte{'b'}, 1000))
	if err != nil {
		t.Fatalf("BodyFill() error = %v", err)
	}
	if n != 256-8-obex.HeaderPrefixLen {
		t.Errorf("BodyFill() = %d, want %d", n, 256-8-obex.HeaderPrefixLen)
	}
	if err := c.ExecuteWithFinalBit(id, false); err != nil {
		t.Fatalf("ExecuteWithFinalBit() error = %v", err)
	}
	put := stream.sent[2]
	if put[0] != uint8(obex.OpcodePut) {
		t.Errorf("opcode = %#x, want PUT without final bit", put[0])
	}
	if put[3] != uint8(obex.HeaderConnectionID) || binary.BigEndian.Uint32(put[4:8]) != 7 {
		t.Errorf("connection id header = % x, want 7", put[3:8])
	}
	if len(put) != 256 {
		t.Errorf("PUT length = %d, want 256", len(put))
	}

	if err := c.RequestCreateSetPath(id, obex.SetPathBackup); err != nil {
		t.Fatalf("RequestCreateSetPath() error = %v", err)
	}
	if err := c.ExecuteWithFinalBit(id, false); err != nil {
		t.Fatalf("ExecuteWithFinalBit() on SETPATH error = %v", err)
	}
	if want := []byte{0x85, 0x00, 0x0A, obex.SetPathBackup, 0x00, 0xCB, 0, 0, 0, 7}; !bytes.Equal(stream.sent[3], want) {
		t.Errorf("SETPATH = % x, want % x", stream.sent[3], want)
	}
}

func TestClientSRM(t *testing.T) {
	c, stream, _, id := openClient(t, 128)
	if err := c.SetConnectionID(id, 1); err != nil {
		t.Fatalf("SetConnectionID() error = %v", err)
	}

	var machine srm.Client
	machine.Init()

	if err := c.RequestCreateGet(id); err != nil {
		t.Fatalf("RequestCreateGet() error = %v", err)
	}
	if err := machine.PrepareHeaders(c.SRMWriter(id)); err != nil {
		t.Fatalf("PrepareHeaders() error = %v", err)
	}
	if machine.State() != srm.ClientRequested {
		t.Errorf("state = %s, want requested", machine.State())
	}
	if err := c.Execute(id); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []byte{0x83, 0x00, 0x0A, 0xCB, 0, 0, 0, 1, 0x97, 0x01}
	if !bytes.Equal(stream.sent[0], want) {
		t.Errorf("GET = % x, want % x", stream.sent[0], want)
	}
}

func TestClientErrors(t *testing.T) {
	c := NewClient(Config{Logger: discardLogger()}, newFakeBearer(Stream), nil)
	rec := &recorder{}

	if _, err := c.CreateConnection(rec, Packet, "peer", testPSM, 100); !errors.Is(err, mobexerrors.ErrUnsupportedBearer) {
		t.Errorf("CreateConnection() on missing bearer error = %v, want ErrUnsupportedBearer", err)
	}
	if err := c.SetConnectionID(42, 1); !errors.Is(err, mobexerrors.ErrUnknownConnectionIdentifier) {
		t.Errorf("SetConnectionID() error = %v, want ErrUnknownConnectionIdentifier", err)
	}
	if got := c.RequestOpcode(42); got != 0 {
		t.Errorf("RequestOpcode() = %s, want 0", got)
	}
	if got := c.MaxBodySize(42); got != 0 {
		t.Errorf("MaxBodySize() = %d, want 0", got)
	}
	if err := c.Disconnect(42); !errors.Is(err, mobexerrors.ErrUnknownConnectionIdentifier) {
		t.Errorf("Disconnect() error = %v, want ErrUnknownConnectionIdentifier", err)
	}

	failing := newFakeBearer(Stream)
	failing.connectErr = mobexerrors.ErrBearerClosed
	c = NewClient(Config{Logger: discardLogger()}, failing, nil)
	if _, err := c.CreateConnection(rec, Stream, "peer", 1, 100); !errors.Is(err, mobexerrors.ErrBearerClosed) {
		t.Errorf("CreateConnection() error = %v, want ErrBearerClosed", err)
	}
	if c.Sessions() != 0 {
		t.Errorf("Sessions() = %d, want 0", c.Sessions())
	}
}

func TestClientClose(t *testing.T) {
	c, stream, rec, id := openClient(t, 100)

	if err := c.Disconnect(id); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	stream.connectSink.HandleBearerEvent(context.Background(), ChannelClosedEvent{CID: stream.nextCID})
	if _, ok := rec.last().(handler.ConnectionClosed); !ok {
		t.Errorf("last event = %#v, want ConnectionClosed", rec.last())
	}
	if _, ok := c.SessionContext(id); ok {
		t.Error("session still tracked after close")
	}
}
