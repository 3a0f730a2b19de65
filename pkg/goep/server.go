// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package goep

import (
	"context"
	"log/slog"

	"github.com/absmach/mobex/pkg/builder"
	"github.com/absmach/mobex/pkg/errors"
	"github.com/absmach/mobex/pkg/handler"
	"github.com/absmach/mobex/pkg/obex"
	"github.com/absmach/mobex/pkg/srm"
)

type service struct {
	handler handler.Handler
	channel uint8
	psm     uint16
}

// Server is the responder side of GOEP. It owns the registered services
// and the sessions accepted on them. All methods must be called from the
// run loop goroutine.
type Server struct {
	endpoint
	services []*service
}

// NewServer creates a server over the given bearers. Either bearer may be
// nil if that transport is not offered.
func NewServer(cfg Config, stream, packet Bearer) *Server {
	s := &Server{
		endpoint: newEndpoint(cfg, stream, packet),
	}
	s.incoming = s.handleIncoming
	return s
}

func (s *Server) byChannel(channel uint8) *service {
	for _, svc := range s.services {
		if svc.channel == channel {
			return svc
		}
	}
	return nil
}

func (s *Server) byPSM(psm uint16) *service {
	if psm == 0 {
		return nil
	}
	for _, svc := range s.services {
		if svc.psm == psm {
			return svc
		}
	}
	return nil
}

// RegisterService offers h on the stream channel and, if psm is non-zero,
// on the packet PSM. A failed stream registration rolls back the packet one.
func (s *Server) RegisterService(h handler.Handler, channel uint8, channelMTU int, psm uint16, psmMTU int, level SecurityLevel) error {
	const op = "register service"

	if h == nil || channel == 0 {
		return errors.Wrap(errors.ErrParameterOutOfRange, op)
	}
	if s.byChannel(channel) != nil || s.byPSM(psm) != nil {
		return errors.Wrap(errors.ErrAlreadyRegistered, op)
	}
	stream, ok := s.bearers[Stream]
	if !ok {
		return errors.Wrap(errors.ErrUnsupportedBearer, op)
	}

	if psm != 0 {
		packet, ok := s.bearers[Packet]
		if !ok {
			return errors.Wrap(errors.ErrUnsupportedBearer, op)
		}
		if err := packet.RegisterService(psm, psmMTU, level, s.sink(Packet)); err != nil {
			return errors.Wrap(err, op)
		}
	}

	if err := stream.RegisterService(uint16(channel), channelMTU, level, s.sink(Stream)); err != nil {
		if psm != 0 {
			if uerr := s.bearers[Packet].UnregisterService(psm); uerr != nil {
				s.config.Logger.Warn("packet service rollback failed",
					slog.Int("psm", int(psm)),
					slog.String("error", uerr.Error()))
			}
		}
		return errors.Wrap(err, op)
	}

	s.services = append(s.services, &service{handler: h, channel: channel, psm: psm})
	s.config.Logger.Info("service registered",
		slog.Int("channel", int(channel)),
		slog.Int("psm", int(psm)),
		slog.Int("level", int(level)))
	return nil
}

// UnregisterService removes the service on channel from both bearers.
// Open sessions are not affected.
func (s *Server) UnregisterService(channel uint8) error {
	const op = "unregister service"

	for i, svc := range s.services {
		if svc.channel != channel {
			continue
		}
		s.services = append(s.services[:i], s.services[i+1:]...)

		var err error
		if svc.psm != 0 {
			err = s.bearers[Packet].UnregisterService(svc.psm)
		}
		if serr := s.bearers[Stream].UnregisterService(uint16(channel)); err == nil {
			err = serr
		}
		return errors.Wrap(err, op)
	}
	return errors.Wrap(errors.ErrServiceNotFound, op)
}

func (s *Server) handleIncoming(ctx context.Context, kind BearerKind, ev IncomingConnectionEvent) {
	b := s.bearers[kind]

	var svc *service
	if kind == Stream {
		if ev.Service <= 0xFF {
			svc = s.byChannel(uint8(ev.Service))
		}
	} else {
		svc = s.byPSM(ev.Service)
	}

	reason := ""
	switch {
	case svc == nil:
		reason = "no_service"
	case s.config.Admission != nil && !s.config.Admission.Allow(ev.Peer):
		reason = "rate_limited"
	}

	var id handler.SessionID
	if reason == "" {
		var ok bool
		if id, ok = s.table.alloc(); !ok {
			reason = "no_session"
		}
	}

	if reason != "" {
		s.config.Metrics.ConnectionDeclined(reason)
		s.config.Logger.Warn("incoming connection declined",
			slog.String("bearer", kind.String()),
			slog.Int("service", int(ev.Service)),
			slog.String("peer", ev.Peer),
			slog.String("reason", reason))
		if err := b.Decline(ev.CID); err != nil {
			s.config.Logger.Error("decline failed",
				slog.String("bearer", kind.String()),
				slog.String("error", err.Error()))
		}
		return
	}

	sess := &session{
		id:        id,
		kind:      kind,
		bearerCID: ev.CID,
		peer:      ev.Peer,
		handle:    ev.Handle,
		state:     W4AcceptOrDecline,
		incoming:  true,
		handler:   svc.handler,
		connID:    obex.ConnectionIDInvalid,
	}
	s.table.add(sess)

	s.config.Logger.Info("incoming connection", slog.Any("session", sess.context()))
	s.emit(ctx, sess, handler.IncomingConnection{
		SessionID:   id,
		PeerAddress: ev.Peer,
		PeerHandle:  ev.Handle,
	})
}

// AcceptConnection accepts a pending incoming connection.
// ConnectionOpened follows.
func (s *Server) AcceptConnection(id handler.SessionID) error {
	const op = "accept"

	sess, err := s.lookup(op, id)
	if err != nil {
		return err
	}
	if sess.state != W4AcceptOrDecline {
		return errors.New(op, sess.kind.String(), uint16(id), errors.ErrCommandDisallowed)
	}
	if err := s.bearer(sess).Accept(sess.bearerCID); err != nil {
		return errors.New(op, sess.kind.String(), uint16(id), err)
	}
	sess.state = W4Connected
	return nil
}

// DeclineConnection refuses a pending incoming connection and forgets it.
func (s *Server) DeclineConnection(id handler.SessionID) error {
	const op = "decline"

	sess, err := s.lookup(op, id)
	if err != nil {
		return err
	}
	if sess.state != W4AcceptOrDecline {
		return errors.New(op, sess.kind.String(), uint16(id), errors.ErrCommandDisallowed)
	}
	s.table.remove(id)
	s.config.Metrics.ConnectionDeclined("handler")
	return errors.New(op, sess.kind.String(), uint16(id), s.bearer(sess).Decline(sess.bearerCID))
}

// RequestCanSendNow asks for a one-shot CanSendNow event.
func (s *Server) RequestCanSendNow(id handler.SessionID) error {
	return s.requestCanSendNow("request can send now", id)
}

// ResponseMaxMessageSize returns the largest response the session can
// send, or 0 for an unknown session.
func (s *Server) ResponseMaxMessageSize(id handler.SessionID) int {
	sess := s.table.get(id)
	if sess == nil {
		return 0
	}
	return sess.mtu
}

// ResponseCreateConnect reserves the outgoing buffer for a CONNECT
// response. maxPacketLen is clamped to the session's max message size and
// the connection id is the session id.
func (s *Server) ResponseCreateConnect(id handler.SessionID, version, flags uint8, maxPacketLen uint16) error {
	return s.reserve("response create connect", id, func(sess *session) error {
		maxPacketLen = uint16(min(int(maxPacketLen), sess.mtu))
		return builder.ResponseCreateConnect(sess.buf, version, flags, maxPacketLen, uint32(sess.id))
	})
}

// ResponseCreateGeneral reserves the outgoing buffer for a response
// without fixed fields.
func (s *Server) ResponseCreateGeneral(id handler.SessionID, code obex.ResponseCode) error {
	return s.reserve("response create general", id, func(sess *session) error {
		return builder.ResponseCreateGeneral(sess.buf, code)
	})
}

// HeaderAddWho appends a Who header.
func (s *Server) HeaderAddWho(id handler.SessionID, who []byte) error {
	return s.header("add who", id, func(buf []byte) error {
		return builder.AddWho(buf, who)
	})
}

// HeaderAddName appends a Name header.
func (s *Server) HeaderAddName(id handler.SessionID, name string) error {
	return s.header("add name", id, func(buf []byte) error {
		return builder.AddName(buf, name)
	})
}

// HeaderAddType appends a Type header.
func (s *Server) HeaderAddType(id handler.SessionID, typ string) error {
	return s.header("add type", id, func(buf []byte) error {
		return builder.AddType(buf, typ)
	})
}

// HeaderAddApplicationParameters appends an Application Parameters header.
func (s *Server) HeaderAddApplicationParameters(id handler.SessionID, params []byte) error {
	return s.header("add application parameters", id, func(buf []byte) error {
		return builder.AddApplicationParameters(buf, params)
	})
}

// HeaderAddSRMEnable appends SRM=Enable.
func (s *Server) HeaderAddSRMEnable(id handler.SessionID) error {
	return s.SRMWriter(id).HeaderAddSRMEnable()
}

// HeaderAddSRMEnableWait appends SRM=Enable and SRMP=Wait.
func (s *Server) HeaderAddSRMEnableWait(id handler.SessionID) error {
	return s.SRMWriter(id).HeaderAddSRMEnableWait()
}

// HeaderAddEndOfBody appends data as End-of-Body.
func (s *Server) HeaderAddEndOfBody(id handler.SessionID, data []byte) error {
	return s.header("add end of body", id, func(buf []byte) error {
		return builder.AddBody(buf, data)
	})
}

// HeaderFillEndOfBody appends as much of data as fits as End-of-Body and
// returns the number of bytes written.
func (s *Server) HeaderFillEndOfBody(id handler.SessionID, data []byte) (int, error) {
	var n int
	err := s.header("fill end of body", id, func(buf []byte) error {
		var err error
		n, err = builder.FillBody(buf, data)
		return err
	})
	return n, err
}

// HeaderFillBody appends as much of data as fits as a Body header, for
// responses that more data will follow, and returns the bytes written.
func (s *Server) HeaderFillBody(id handler.SessionID, data []byte) (int, error) {
	var n int
	err := s.header("fill body", id, func(buf []byte) error {
		var err error
		n, err = builder.FillVariable(buf, obex.HeaderBody, data)
		return err
	})
	return n, err
}

// HeaderAddLength appends a Length header.
func (s *Server) HeaderAddLength(id handler.SessionID, length uint32) error {
	return s.header("add length", id, func(buf []byte) error {
		return builder.AddLength(buf, length)
	})
}

// SRMWriter returns the SRM header surface of a session, for use with
// srm.Machine.AddSRMHeaders.
func (s *Server) SRMWriter(id handler.SessionID) srm.HeaderWriter {
	return srmWriter{e: &s.endpoint, id: id}
}

// Execute stamps code into the reserved response and sends it.
func (s *Server) Execute(id handler.SessionID, code obex.ResponseCode) error {
	return s.execute("execute", id, func(buf []byte) error {
		return builder.ResponseUpdateCode(buf, code)
	})
}

// Disconnect closes an open session. ConnectionClosed follows.
func (s *Server) Disconnect(id handler.SessionID) error {
	return s.disconnect("disconnect", id)
}
