// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package goep

import (
	"log/slog"

	"github.com/absmach/mobex/pkg/builder"
	"github.com/absmach/mobex/pkg/errors"
	"github.com/absmach/mobex/pkg/handler"
	"github.com/absmach/mobex/pkg/obex"
	"github.com/absmach/mobex/pkg/srm"
)

// Client is the requester side of GOEP. It opens outgoing sessions and
// stamps the stored OBEX connection id into every request. All methods
// must be called from the run loop goroutine.
type Client struct {
	endpoint
}

// NewClient creates a client over the given bearers. Either bearer may be
// nil if that transport is not offered.
func NewClient(cfg Config, stream, packet Bearer) *Client {
	return &Client{
		endpoint: newEndpoint(cfg, stream, packet),
	}
}

// CreateConnection opens a session to service on addr over the bearer of
// the given kind. ConnectionOpened follows.
func (c *Client) CreateConnection(h handler.Handler, kind BearerKind, addr string, service uint16, mtu int) (handler.SessionID, error) {
	const op = "create connection"

	b, ok := c.bearers[kind]
	if !ok {
		return 0, errors.Wrap(errors.ErrUnsupportedBearer, op)
	}
	id, ok := c.table.alloc()
	if !ok {
		return 0, errors.Wrap(errors.ErrMemoryCapacityExceeded, op)
	}

	cid, err := b.Connect(addr, service, mtu, c.sink(kind))
	if err != nil {
		return 0, errors.New(op, kind.String(), uint16(id), err)
	}

	sess := &session{
		id:        id,
		kind:      kind,
		bearerCID: cid,
		peer:      addr,
		state:     W4Connected,
		handler:   h,
		connID:    obex.ConnectionIDInvalid,
	}
	c.table.add(sess)

	c.config.Logger.Info("outgoing connection", slog.Any("session", sess.context()))
	return id, nil
}

// SetConnectionID stores the connection id returned by the server.
func (c *Client) SetConnectionID(id handler.SessionID, connID uint32) error {
	sess, err := c.lookup("set connection id", id)
	if err != nil {
		return err
	}
	sess.connID = connID
	return nil
}

// RequestOpcode returns the opcode of the last request created, or 0 for
// an unknown session.
func (c *Client) RequestOpcode(id handler.SessionID) obex.Opcode {
	sess := c.table.get(id)
	if sess == nil {
		return 0
	}
	return sess.opcode
}

// request reserves the buffer for op. Requests built before a connection
// id is known carry no Connection-Id header.
func (c *Client) request(name string, id handler.SessionID, op obex.Opcode, create func(buf []byte, connID uint32) error) error {
	return c.reserve(name, id, func(sess *session) error {
		err := create(sess.buf, sess.connID)
		if sess.connID == obex.ConnectionIDInvalid && errors.Is(err, errors.ErrParameterOutOfRange) {
			err = nil
		}
		if err != nil {
			return err
		}
		sess.opcode = op
		return nil
	})
}

// RequestCreateConnect reserves the buffer for a CONNECT request.
// maxPacketLen is clamped to the session's max message size.
func (c *Client) RequestCreateConnect(id handler.SessionID, version, flags uint8, maxPacketLen uint16) error {
	return c.request("request create connect", id, obex.OpcodeConnect, func(buf []byte, _ uint32) error {
		maxPacketLen = uint16(min(int(maxPacketLen), len(buf)))
		return builder.RequestCreateConnect(buf, version, flags, maxPacketLen)
	})
}

// RequestCreateGet reserves the buffer for a final GET request.
func (c *Client) RequestCreateGet(id handler.SessionID) error {
	return c.request("request create get", id, obex.OpcodeGet, builder.RequestCreateGet)
}

// RequestCreatePut reserves the buffer for a final PUT request.
func (c *Client) RequestCreatePut(id handler.SessionID) error {
	return c.request("request create put", id, obex.OpcodePut, builder.RequestCreatePut)
}

// RequestCreateSetPath reserves the buffer for a SETPATH request.
func (c *Client) RequestCreateSetPath(id handler.SessionID, flags uint8) error {
	return c.request("request create set path", id, obex.OpcodeSetPath, func(buf []byte, connID uint32) error {
		return builder.RequestCreateSetPath(buf, flags, connID)
	})
}

// RequestCreateAbort reserves the buffer for an ABORT request.
func (c *Client) RequestCreateAbort(id handler.SessionID) error {
	return c.request("request create abort", id, obex.OpcodeAbort, builder.RequestCreateAbort)
}

// RequestCreateDisconnect reserves the buffer for a DISCONNECT request.
func (c *Client) RequestCreateDisconnect(id handler.SessionID) error {
	return c.request("request create disconnect", id, obex.OpcodeDisconnect, builder.RequestCreateDisconnect)
}

// HeaderAddTarget appends a Target header.
func (c *Client) HeaderAddTarget(id handler.SessionID, target []byte) error {
	return c.header("add target", id, func(buf []byte) error {
		return builder.AddTarget(buf, target)
	})
}

// HeaderAddName appends a Name header.
func (c *Client) HeaderAddName(id handler.SessionID, name string) error {
	return c.header("add name", id, func(buf []byte) error {
		return builder.AddName(buf, name)
	})
}

// HeaderAddType appends a Type header.
func (c *Client) HeaderAddType(id handler.SessionID, typ string) error {
	return c.header("add type", id, func(buf []byte) error {
		return builder.AddType(buf, typ)
	})
}

// HeaderAddApplicationParameters appends an Application Parameters header.
func (c *Client) HeaderAddApplicationParameters(id handler.SessionID, params []byte) error {
	return c.header("add application parameters", id, func(buf []byte) error {
		return builder.AddApplicationParameters(buf, params)
	})
}

// HeaderAddChallengeResponse appends an Authentication Response header.
func (c *Client) HeaderAddChallengeResponse(id handler.SessionID, data []byte) error {
	return c.header("add challenge response", id, func(buf []byte) error {
		return builder.AddChallengeResponse(buf, data)
	})
}

// HeaderAddLength appends a Length header.
func (c *Client) HeaderAddLength(id handler.SessionID, length uint32) error {
	return c.header("add length", id, func(buf []byte) error {
		return builder.AddLength(buf, length)
	})
}

// HeaderAddSRMEnable appends SRM=Enable.
func (c *Client) HeaderAddSRMEnable(id handler.SessionID) error {
	return c.SRMWriter(id).HeaderAddSRMEnable()
}

// BodyAdd appends data as End-of-Body.
func (c *Client) BodyAdd(id handler.SessionID, data []byte) error {
	return c.header("add body", id, func(buf []byte) error {
		return builder.AddBody(buf, data)
	})
}

// BodyFill appends as much of data as fits as End-of-Body and returns the
// number of bytes written.
func (c *Client) BodyFill(id handler.SessionID, data []byte) (int, error) {
	var n int
	err := c.header("fill body", id, func(buf []byte) error {
		var err error
		n, err = builder.FillBody(buf, data)
		return err
	})
	return n, err
}

// HeaderFillBody appends as much of data as fits as a Body header, for
// requests that more data will follow, and returns the bytes written.
func (c *Client) HeaderFillBody(id handler.SessionID, data []byte) (int, error) {
	var n int
	err := c.header("fill body", id, func(buf []byte) error {
		var err error
		n, err = builder.FillVariable(buf, obex.HeaderBody, data)
		return err
	})
	return n, err
}

// MaxBodySize returns the free room left in the reserved request, or 0.
func (c *Client) MaxBodySize(id handler.SessionID) int {
	sess := c.table.get(id)
	if sess == nil || sess.state != OutgoingBufferReserved {
		return 0
	}
	return max(len(sess.buf)-builder.GetMessageLength(sess.buf)-obex.HeaderPrefixLen, 0)
}

// SRMWriter returns the SRM header surface of a session, for use with
// srm.Client.PrepareHeaders.
func (c *Client) SRMWriter(id handler.SessionID) srm.EnableWriter {
	return srmWriter{e: &c.endpoint, id: id}
}

// Execute sends the reserved request with the final bit set.
func (c *Client) Execute(id handler.SessionID) error {
	return c.ExecuteWithFinalBit(id, true)
}

// ExecuteWithFinalBit sends the reserved request with the final bit set
// or cleared. Always-final opcodes are sent unchanged.
func (c *Client) ExecuteWithFinalBit(id handler.SessionID, final bool) error {
	return c.execute("execute", id, func(buf []byte) error {
		if err := builder.SetFinalBit(buf, final); err != nil && !errors.Is(err, errors.ErrCommandDisallowed) {
			return err
		}
		return nil
	})
}

// RequestCanSendNow asks for a one-shot CanSendNow event.
func (c *Client) RequestCanSendNow(id handler.SessionID) error {
	return c.requestCanSendNow("request can send now", id)
}

// Disconnect closes an open session. ConnectionClosed follows.
func (c *Client) Disconnect(id handler.SessionID) error {
	return c.disconnect("disconnect", id)
}
