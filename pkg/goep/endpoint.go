// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package goep

import (
	"context"
	"log/slog"

	"github.com/absmach/mobex/pkg/builder"
	"github.com/absmach/mobex/pkg/errors"
	"github.com/absmach/mobex/pkg/handler"
	"github.com/absmach/mobex/pkg/metrics"
	"github.com/absmach/mobex/pkg/obex"
)

// DefaultPacketBufferSize bounds the outgoing buffer of packet-bearer sessions.
const DefaultPacketBufferSize = 1000

// Admitter decides whether an incoming connection from peer is admitted.
// *ratelimit.Limiter satisfies it.
type Admitter interface {
	Allow(peer string) bool
}

// Config holds the session manager configuration.
type Config struct {
	// Logger for session events
	Logger *slog.Logger

	// Metrics records session counters. Nil disables instrumentation.
	Metrics *metrics.Metrics

	// PacketBufferSize caps the outgoing buffer of packet-bearer sessions
	// (default: 1000)
	PacketBufferSize int

	// Admission refuses bursts of incoming connections. Nil admits all.
	Admission Admitter
}

// endpoint is the core shared by Server and Client: the session table,
// bearer event dispatch and the outgoing buffer discipline.
type endpoint struct {
	config  Config
	table   *sessionTable
	bearers map[BearerKind]Bearer

	// incoming handles IncomingConnectionEvent. Nil on the client side.
	incoming func(ctx context.Context, kind BearerKind, ev IncomingConnectionEvent)
}

func newEndpoint(cfg Config, stream, packet Bearer) endpoint {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PacketBufferSize <= 0 {
		cfg.PacketBufferSize = DefaultPacketBufferSize
	}

	bearers := make(map[BearerKind]Bearer)
	if stream != nil {
		bearers[Stream] = stream
	}
	if packet != nil {
		bearers[Packet] = packet
	}

	return endpoint{
		config:  cfg,
		table:   newSessionTable(),
		bearers: bearers,
	}
}

// sink adapts the endpoint to one bearer kind.
type sink struct {
	e    *endpoint
	kind BearerKind
}

var _ EventSink = (*sink)(nil)

func (k *sink) HandleBearerEvent(ctx context.Context, ev BearerEvent) {
	k.e.dispatch(ctx, k.kind, ev)
}

func (e *endpoint) sink(kind BearerKind) EventSink {
	return &sink{e: e, kind: kind}
}

func (e *endpoint) dispatch(ctx context.Context, kind BearerKind, ev BearerEvent) {
	if in, ok := ev.(IncomingConnectionEvent); ok {
		if e.incoming == nil {
			e.config.Logger.Warn("unexpected incoming connection",
				slog.String("bearer", kind.String()),
				slog.Int("cid", int(in.CID)))
			if b := e.bearers[kind]; b != nil {
				_ = b.Decline(in.CID)
			}
			return
		}
		e.incoming(ctx, kind, in)
		return
	}

	s := e.table.byBearer(kind, ev.Channel())
	if s == nil {
		e.config.Logger.Warn("dropped event for unknown channel",
			slog.String("bearer", kind.String()),
			slog.Int("cid", int(ev.Channel())))
		return
	}

	switch ev := ev.(type) {
	case ChannelOpenedEvent:
		e.handleOpened(ctx, s, ev)
	case CanSendNowEvent:
		e.emit(ctx, s, handler.CanSendNow{SessionID: s.id})
	case ChannelClosedEvent:
		e.handleClosed(ctx, s)
	case DataEvent:
		e.config.Metrics.BytesReceived(s.kind.String(), len(ev.Data))
		e.config.Logger.Debug("data received",
			slog.Any("session", s.context()),
			slog.Int("len", len(ev.Data)))
		e.emit(ctx, s, handler.Data{SessionID: s.id, Bytes: ev.Data})
	}
}

func (e *endpoint) handleOpened(ctx context.Context, s *session, ev ChannelOpenedEvent) {
	if s.state != W4Connected {
		e.config.Logger.Warn("dropped channel opened in unexpected state",
			slog.Any("session", s.context()),
			slog.String("state", s.state.String()))
		return
	}

	opened := handler.ConnectionOpened{
		SessionID:   s.id,
		PeerAddress: ev.Peer,
		PeerHandle:  ev.Handle,
		Status:      ev.Status,
		Incoming:    s.incoming,
	}
	if opened.PeerAddress == "" {
		opened.PeerAddress = s.peer
	}

	if ev.Status != handler.StatusSuccess {
		e.table.remove(s.id)
		e.config.Metrics.SessionFailed(s.kind.String(), ev.Status.String())
		e.config.Logger.Info("connection failed",
			slog.Any("session", s.context()),
			slog.String("status", ev.Status.String()))
		e.emit(ctx, s, opened)
		return
	}

	s.peer = opened.PeerAddress
	s.handle = ev.Handle
	s.mtu = e.maxMessageSize(s.kind, ev.MTU)
	s.buf = make([]byte, s.mtu)
	s.state = Connected

	e.config.Metrics.SessionOpened(s.kind.String())
	e.config.Logger.Info("connection opened",
		slog.Any("session", s.context()),
		slog.Int("mtu", s.mtu))
	e.emit(ctx, s, opened)
}

// maxMessageSize is min(remote MTU, packet buffer) on packet bearers and
// the max frame size on stream bearers.
func (e *endpoint) maxMessageSize(kind BearerKind, mtu int) int {
	if mtu <= 0 || mtu > obex.MaxPacketLen {
		mtu = obex.MaxPacketLen
	}
	if kind == Packet {
		mtu = min(mtu, e.config.PacketBufferSize)
	}
	return mtu
}

func (e *endpoint) handleClosed(ctx context.Context, s *session) {
	e.table.remove(s.id)
	if s.state >= Connected {
		e.config.Metrics.SessionClosed(s.kind.String())
	} else {
		e.config.Metrics.SessionFailed(s.kind.String(), "closed")
	}
	e.config.Logger.Info("connection closed", slog.Any("session", s.context()))
	e.emit(ctx, s, handler.ConnectionClosed{SessionID: s.id})
}

func (e *endpoint) emit(ctx context.Context, s *session, ev handler.Event) {
	if s.handler == nil {
		return
	}
	if err := s.handler.HandleEvent(ctx, ev); err != nil {
		e.config.Logger.Warn("handler error",
			slog.Any("session", s.context()),
			slog.String("error", err.Error()))
	}
}

func (e *endpoint) lookup(op string, id handler.SessionID) (*session, error) {
	s := e.table.get(id)
	if s == nil {
		return nil, errors.New(op, "", uint16(id), errors.ErrUnknownConnectionIdentifier)
	}
	return s, nil
}

func (e *endpoint) bearer(s *session) Bearer {
	return e.bearers[s.kind]
}

// reserve builds a new outgoing object with create. The session moves to
// OutgoingBufferReserved only if create succeeds.
func (e *endpoint) reserve(op string, id handler.SessionID, create func(s *session) error) error {
	s, err := e.lookup(op, id)
	if err != nil {
		return err
	}
	if s.state != Connected {
		return errors.New(op, s.kind.String(), uint16(id), errors.ErrCommandDisallowed)
	}
	if err := create(s); err != nil {
		return errors.New(op, s.kind.String(), uint16(id), err)
	}
	s.state = OutgoingBufferReserved
	return nil
}

// header appends to the reserved outgoing object.
func (e *endpoint) header(op string, id handler.SessionID, add func(buf []byte) error) error {
	s, err := e.lookup(op, id)
	if err != nil {
		return err
	}
	if s.state != OutgoingBufferReserved {
		return errors.New(op, s.kind.String(), uint16(id), errors.ErrCommandDisallowed)
	}
	return errors.New(op, s.kind.String(), uint16(id), add(s.buf))
}

// execute sends the reserved object after prepare patched its first byte.
// The session returns to Connected whatever the send outcome.
func (e *endpoint) execute(op string, id handler.SessionID, prepare func(buf []byte) error) error {
	s, err := e.lookup(op, id)
	if err != nil {
		return err
	}
	if s.state != OutgoingBufferReserved {
		return errors.New(op, s.kind.String(), uint16(id), errors.ErrCommandDisallowed)
	}
	if err := prepare(s.buf); err != nil {
		return errors.New(op, s.kind.String(), uint16(id), err)
	}
	s.state = Connected

	msg := builder.Message(s.buf)
	if err := e.bearer(s).Send(s.bearerCID, msg); err != nil {
		return errors.New(op, s.kind.String(), uint16(id), err)
	}
	e.config.Metrics.BytesSent(s.kind.String(), len(msg))
	e.config.Logger.Debug("object sent",
		slog.Any("session", s.context()),
		slog.String("code", obexCode(msg[0], s.incoming)),
		slog.Int("len", len(msg)))
	return nil
}

func obexCode(b byte, response bool) string {
	if response {
		return obex.ResponseCode(b).String()
	}
	return obex.Opcode(b).String()
}

func (e *endpoint) requestCanSendNow(op string, id handler.SessionID) error {
	s, err := e.lookup(op, id)
	if err != nil {
		return err
	}
	if s.state != Connected && s.state != OutgoingBufferReserved {
		return errors.New(op, s.kind.String(), uint16(id), errors.ErrCommandDisallowed)
	}
	return errors.New(op, s.kind.String(), uint16(id), e.bearer(s).RequestCanSendNow(s.bearerCID))
}

func (e *endpoint) disconnect(op string, id handler.SessionID) error {
	s, err := e.lookup(op, id)
	if err != nil {
		return err
	}
	if s.state < Connected {
		return errors.New(op, s.kind.String(), uint16(id), errors.ErrCommandDisallowed)
	}
	return errors.New(op, s.kind.String(), uint16(id), e.bearer(s).Disconnect(s.bearerCID))
}

// SessionContext returns the metadata of an open session.
func (e *endpoint) SessionContext(id handler.SessionID) (handler.Context, bool) {
	s := e.table.get(id)
	if s == nil {
		return handler.Context{}, false
	}
	return s.context(), true
}

// SessionState returns the lifecycle state of a session.
func (e *endpoint) SessionState(id handler.SessionID) (State, bool) {
	s := e.table.get(id)
	if s == nil {
		return 0, false
	}
	return s.state, true
}

// Sessions returns the number of tracked sessions.
func (e *endpoint) Sessions() int {
	return e.table.len()
}

// srmWriter binds the SRM header surface to one session.
type srmWriter struct {
	e  *endpoint
	id handler.SessionID
}

func (w srmWriter) HeaderAddSRMEnable() error {
	return w.e.header("add srm", w.id, builder.AddSRMEnable)
}

func (w srmWriter) HeaderAddSRMEnableWait() error {
	return w.e.header("add srm wait", w.id, func(buf []byte) error {
		if err := builder.AddSRMEnable(buf); err != nil {
			return err
		}
		return builder.AddSRMPWait(buf)
	})
}
