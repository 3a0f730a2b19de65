// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"encoding/binary"

	"github.com/absmach/mobex/pkg/obex"
)

// ObjectState is the result of feeding bytes to a parser.
type ObjectState int

const (
	// Incomplete means more bytes are needed.
	Incomplete ObjectState = iota

	// Complete means the declared object length was consumed at a header boundary.
	Complete

	// Invalid means the framing is malformed. The parser stays Invalid until re-init.
	Invalid

	// Overrun means bytes arrived after the object completed. Sticky until re-init.
	Overrun
)

// String returns a string representation of the object state.
func (s ObjectState) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Invalid:
		return "invalid"
	case Overrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// State is the internal position of the object parser.
type State int

const (
	WaitOpcode State = iota
	WaitResponseCode
	WaitPacketLength
	WaitParams
	WaitHeaderID
	WaitHeaderLenFirst
	WaitHeaderLenSecond
	WaitHeaderValue
	StateComplete
	StateInvalid
	StateOverrun
)

// Callback receives header values chunk by chunk, in wire order.
//
// totalLen is the length of the whole value, offset the position of chunk
// within it. chunk aliases the bytes passed to Process and must not be
// retained after Header returns.
type Callback interface {
	Header(id obex.HeaderID, totalLen, offset int, chunk []byte)
}

// CallbackFunc adapts a plain function to the Callback interface.
type CallbackFunc func(id obex.HeaderID, totalLen, offset int, chunk []byte)

// Header calls f.
func (f CallbackFunc) Header(id obex.HeaderID, totalLen, offset int, chunk []byte) {
	f(id, totalLen, offset, chunk)
}

// OperationInfo summarises the fixed part of a parsed object.
type OperationInfo struct {
	Opcode          obex.Opcode
	ResponseCode    obex.ResponseCode
	Version         uint8
	Flags           uint8
	MaxPacketLength uint16
}

// Parser incrementally decodes one OBEX request or response object.
// The zero value is not usable; call InitForRequest or InitForResponse.
type Parser struct {
	state        State
	opcode       obex.Opcode
	responseCode obex.ResponseCode
	packetSize   int
	packetPos    int

	// params holds the 2 length bytes followed by the fixed CONNECT or
	// SETPATH fields.
	params [6]byte

	itemLen  int
	itemPos  int
	headerID obex.HeaderID
	callback Callback
}

// NewRequestParser returns a parser ready to decode a request.
func NewRequestParser(cb Callback) *Parser {
	p := &Parser{}
	p.InitForRequest(cb)
	return p
}

// NewResponseParser returns a parser ready to decode the response to opcode.
func NewResponseParser(opcode obex.Opcode, cb Callback) *Parser {
	p := &Parser{}
	p.InitForResponse(opcode, cb)
	return p
}

// InitForRequest resets the parser to decode a new request.
func (p *Parser) InitForRequest(cb Callback) {
	p.reset(cb)
	p.state = WaitOpcode
}

// InitForResponse resets the parser to decode the response to opcode.
// The opcode selects the size of the fixed response fields.
func (p *Parser) InitForResponse(opcode obex.Opcode, cb Callback) {
	p.reset(cb)
	p.state = WaitResponseCode
	p.opcode = opcode
}

func (p *Parser) reset(cb Callback) {
	*p = Parser{
		callback:   cb,
		packetSize: obex.PacketHeaderLen,
	}
}

// State returns the current internal state.
func (p *Parser) State() State {
	return p.state
}

// Process consumes data and reports the object state. It may be called
// with arbitrarily small slices; the outcome does not depend on how the
// object is split.
func (p *Parser) Process(data []byte) ObjectState {
	for len(data) > 0 {
		if p.state == StateInvalid || p.state == StateOverrun {
			break
		}

		n := 1
		switch p.state {
		case WaitOpcode:
			p.opcode = obex.Opcode(data[0])
			p.beginLength(requestParamSize(p.opcode))
		case WaitResponseCode:
			p.responseCode = obex.ResponseCode(data[0])
			p.beginLength(responseParamSize(p.opcode))
		case WaitPacketLength:
			n = copy(p.params[p.itemPos:2], data)
			p.itemPos += n
			if p.itemPos < 2 {
				break
			}
			p.packetSize = int(binary.BigEndian.Uint16(p.params[:2]))
			if p.packetSize < 1+p.itemLen {
				p.state = StateInvalid
				break
			}
			if p.itemLen == 2 {
				p.state = WaitHeaderID
			} else {
				p.state = WaitParams
			}
		case WaitParams:
			n = copy(p.params[p.itemPos:p.itemLen], data)
			p.itemPos += n
			if p.itemPos == p.itemLen {
				p.state = WaitHeaderID
			}
		case WaitHeaderID:
			p.headerID = obex.HeaderID(data[0])
			p.itemPos = 0
			enc := p.headerID.Encoding()
			if enc.LengthPrefixed() {
				p.state = WaitHeaderLenFirst
			} else {
				p.itemLen = enc.FixedLen()
				p.state = WaitHeaderValue
			}
		case WaitHeaderLenFirst:
			p.itemLen = int(data[0]) << 8
			p.state = WaitHeaderLenSecond
		case WaitHeaderLenSecond:
			p.itemLen += int(data[0])
			switch {
			case p.itemLen < obex.HeaderPrefixLen:
				p.state = StateInvalid
			case p.itemLen == obex.HeaderPrefixLen:
				p.state = WaitHeaderID
			default:
				p.itemLen -= obex.HeaderPrefixLen
				p.state = WaitHeaderValue
			}
		case WaitHeaderValue:
			n = min(p.itemLen-p.itemPos, len(data), p.packetSize-p.packetPos)
			if p.callback != nil {
				p.callback.Header(p.headerID, p.itemLen, p.itemPos, data[:n])
			}
			p.itemPos += n
			if p.itemPos == p.itemLen {
				p.state = WaitHeaderID
			}
		case StateComplete:
			p.state = StateOverrun
		}

		data = data[n:]
		p.packetPos += n

		if p.packetPos == p.packetSize && p.state != StateOverrun {
			if p.state == WaitHeaderID {
				p.state = StateComplete
			} else {
				p.state = StateInvalid
			}
		}
	}

	return p.objectState()
}

// Remaining returns how many more bytes the current object needs at
// least. Feeding at most Remaining bytes never runs past the object, which
// lets callers split a stream carrying back-to-back objects.
func (p *Parser) Remaining() int {
	switch p.state {
	case StateComplete, StateInvalid, StateOverrun:
		return 0
	}
	return p.packetSize - p.packetPos
}

func (p *Parser) beginLength(paramSize int) {
	p.state = WaitPacketLength
	p.itemLen = paramSize
	p.itemPos = 0
	p.packetSize = 1 + paramSize
}

func (p *Parser) objectState() ObjectState {
	switch p.state {
	case StateComplete:
		return Complete
	case StateInvalid:
		return Invalid
	case StateOverrun:
		return Overrun
	default:
		return Incomplete
	}
}

// OperationInfo extracts the opcode, response code and fixed fields.
func (p *Parser) OperationInfo() OperationInfo {
	info := OperationInfo{
		Opcode:       p.opcode,
		ResponseCode: p.responseCode,
	}
	switch p.opcode {
	case obex.OpcodeConnect:
		info.Version = p.params[2]
		info.Flags = p.params[3]
		info.MaxPacketLength = binary.BigEndian.Uint16(p.params[4:6])
	case obex.OpcodeSetPath:
		info.Flags = p.params[2]
	}
	return info
}

// Sizes count the 2 length bytes plus the fixed fields.
func requestParamSize(op obex.Opcode) int {
	switch op {
	case obex.OpcodeConnect:
		return 6
	case obex.OpcodeSetPath:
		return 4
	default:
		return 2
	}
}

func responseParamSize(op obex.Opcode) int {
	if op == obex.OpcodeConnect {
		return 6
	}
	return 2
}
