// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package goep

import (
	"context"

	"github.com/absmach/mobex/pkg/handler"
)

// BearerKind selects the transport carrying a session.
type BearerKind int

const (
	// Stream is a reliable byte stream without message boundaries.
	Stream BearerKind = iota

	// Packet is a reliable, message-oriented bearer. One OBEX packet per message.
	Packet
)

// String returns a string representation of the bearer kind.
func (k BearerKind) String() string {
	switch k {
	case Stream:
		return "stream"
	case Packet:
		return "packet"
	default:
		return "unknown"
	}
}

// SecurityLevel is the minimum link security a service requires.
type SecurityLevel int

const (
	SecurityNone SecurityLevel = iota
	SecurityLow
	SecurityMedium
	SecurityHigh
)

// Bearer is the transport a session runs over. Implementations deliver
// BearerEvents to the sink on the run loop goroutine, and all methods are
// called from that goroutine. Methods must not block.
type Bearer interface {
	// Kind reports the bearer kind.
	Kind() BearerKind

	// RegisterService starts accepting connections for id.
	RegisterService(id uint16, mtu int, level SecurityLevel, sink EventSink) error

	// UnregisterService stops accepting connections for id.
	UnregisterService(id uint16) error

	// Accept completes an incoming connection. ChannelOpenedEvent follows.
	Accept(cid uint16) error

	// Decline refuses an incoming connection. No further events follow for cid.
	Decline(cid uint16) error

	// RequestCanSendNow asks for a one-shot CanSendNowEvent.
	RequestCanSendNow(cid uint16) error

	// Send transmits one OBEX packet. data is not retained after return.
	Send(cid uint16, data []byte) error

	// Disconnect closes the channel. ChannelClosedEvent follows.
	Disconnect(cid uint16) error

	// Connect opens an outgoing channel and returns its cid. ChannelOpenedEvent follows.
	Connect(addr string, service uint16, mtu int, sink EventSink) (uint16, error)
}

// EventSink receives bearer events.
type EventSink interface {
	HandleBearerEvent(ctx context.Context, ev BearerEvent)
}

// BearerEvent is one of the *Event types below.
type BearerEvent interface {
	Channel() uint16
}

// IncomingConnectionEvent reports a peer connecting to a registered service.
type IncomingConnectionEvent struct {
	CID     uint16
	Service uint16
	Peer    string
	Handle  uint16
}

// ChannelOpenedEvent reports the outcome of Accept or Connect.
type ChannelOpenedEvent struct {
	CID    uint16
	Status handler.Status
	Peer   string
	Handle uint16

	// MTU is the largest packet the peer accepts.
	MTU int
}

// CanSendNowEvent answers RequestCanSendNow.
type CanSendNowEvent struct {
	CID uint16
}

// ChannelClosedEvent reports the channel is gone.
type ChannelClosedEvent struct {
	CID uint16
}

// DataEvent carries inbound bytes. Data is only valid during delivery.
type DataEvent struct {
	CID  uint16
	Data []byte
}

func (e IncomingConnectionEvent) Channel() uint16 { return e.CID }
func (e ChannelOpenedEvent) Channel() uint16      { return e.CID }
func (e CanSendNowEvent) Channel() uint16         { return e.CID }
func (e ChannelClosedEvent) Channel() uint16      { return e.CID }
func (e DataEvent) Channel() uint16               { return e.CID }
