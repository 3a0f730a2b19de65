// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package obex holds the OBEX wire vocabulary shared by the parser, the
// message builder, the SRM state machine and the GOEP session layer.
package obex

import "fmt"

const (
	// PacketHeaderLen is the opcode/response code plus the 2-byte length.
	PacketHeaderLen = 3

	// HeaderPrefixLen is the header id plus the 2-byte length of
	// length-prefixed headers.
	HeaderPrefixLen = 3

	// MaxPacketLen is the largest length the 16-bit length field can declare.
	MaxPacketLen = 0xFFFF

	// ConnectionIDInvalid marks the absence of an OBEX connection id.
	ConnectionIDInvalid uint32 = 0xFFFFFFFF

	// Version10 is the OBEX 1.0 version number sent in CONNECT.
	Version10 uint8 = 0x10

	// WhoLen and TargetUUIDLen are the lengths of service UUID headers.
	WhoLen        = 16
	TargetUUIDLen = 16

	// FinalBit marks the last packet of a request.
	FinalBit uint8 = 0x80
)

// SETPATH flags.
const (
	SetPathBackup   uint8 = 0x01
	SetPathNoCreate uint8 = 0x02
)

// Opcode is a request opcode as it appears on the wire, final bit included.
type Opcode uint8

const (
	OpcodeConnect    Opcode = 0x80
	OpcodeDisconnect Opcode = 0x81
	OpcodePut        Opcode = 0x02
	OpcodeGet        Opcode = 0x03
	OpcodeSetPath    Opcode = 0x85
	OpcodeAction     Opcode = 0x06
	OpcodeSession    Opcode = 0x87
	OpcodeAbort      Opcode = 0xFF
)

// Final reports whether the final bit is set.
func (o Opcode) Final() bool {
	return uint8(o)&FinalBit != 0
}

// Base strips the final bit from opcodes that carry one.
// CONNECT, DISCONNECT, SETPATH, SESSION and ABORT always have it set.
func (o Opcode) Base() Opcode {
	if o.alwaysFinal() {
		return o
	}
	return Opcode(uint8(o) &^ FinalBit)
}

// WithFinal returns the opcode with the final bit set or cleared.
func (o Opcode) WithFinal(final bool) Opcode {
	if o.alwaysFinal() {
		return o
	}
	if final {
		return Opcode(uint8(o) | FinalBit)
	}
	return Opcode(uint8(o) &^ FinalBit)
}

func (o Opcode) alwaysFinal() bool {
	switch o {
	case OpcodeConnect, OpcodeDisconnect, OpcodeSetPath, OpcodeSession, OpcodeAbort:
		return true
	default:
		return false
	}
}

// String returns a string representation of the opcode.
func (o Opcode) String() string {
	switch o.Base() {
	case OpcodeConnect:
		return "CONNECT"
	case OpcodeDisconnect:
		return "DISCONNECT"
	case OpcodePut:
		return "PUT"
	case OpcodeGet:
		return "GET"
	case OpcodeSetPath:
		return "SETPATH"
	case OpcodeAction:
		return "ACTION"
	case OpcodeSession:
		return "SESSION"
	case OpcodeAbort:
		return "ABORT"
	default:
		return fmt.Sprintf("opcode(0x%02x)", uint8(o))
	}
}

// ResponseCode is an OBEX response code, final bit included.
type ResponseCode uint8

const (
	RespContinue            ResponseCode = 0x90
	RespSuccess             ResponseCode = 0xA0
	RespCreated             ResponseCode = 0xA1
	RespAccepted            ResponseCode = 0xA2
	RespBadRequest          ResponseCode = 0xC0
	RespUnauthorized        ResponseCode = 0xC1
	RespForbidden           ResponseCode = 0xC3
	RespNotFound            ResponseCode = 0xC4
	RespNotAcceptable       ResponseCode = 0xC6
	RespPreconditionFailed  ResponseCode = 0xCC
	RespInternalServerError ResponseCode = 0xD0
	RespNotImplemented      ResponseCode = 0xD1
	RespServiceUnavailable  ResponseCode = 0xD3
)

// String returns a string representation of the response code.
func (r ResponseCode) String() string {
	switch r {
	case RespContinue:
		return "Continue"
	case RespSuccess:
		return "Success"
	case RespCreated:
		return "Created"
	case RespAccepted:
		return "Accepted"
	case RespBadRequest:
		return "Bad Request"
	case RespUnauthorized:
		return "Unauthorized"
	case RespForbidden:
		return "Forbidden"
	case RespNotFound:
		return "Not Found"
	case RespNotAcceptable:
		return "Not Acceptable"
	case RespPreconditionFailed:
		return "Precondition Failed"
	case RespInternalServerError:
		return "Internal Server Error"
	case RespNotImplemented:
		return "Not Implemented"
	case RespServiceUnavailable:
		return "Service Unavailable"
	default:
		return fmt.Sprintf("response(0x%02x)", uint8(r))
	}
}

// HeaderID identifies a header. The two high bits carry the value encoding.
type HeaderID uint8

const (
	HeaderName                   HeaderID = 0x01
	HeaderDescription            HeaderID = 0x05
	HeaderDestName               HeaderID = 0x15
	HeaderImgHandle              HeaderID = 0x30
	HeaderType                   HeaderID = 0x42
	HeaderTimeISO8601            HeaderID = 0x44
	HeaderTarget                 HeaderID = 0x46
	HeaderHTTP                   HeaderID = 0x47
	HeaderBody                   HeaderID = 0x48
	HeaderEndOfBody              HeaderID = 0x49
	HeaderWho                    HeaderID = 0x4A
	HeaderApplicationParameters  HeaderID = 0x4C
	HeaderAuthChallenge          HeaderID = 0x4D
	HeaderAuthResponse           HeaderID = 0x4E
	HeaderObjectClass            HeaderID = 0x51
	HeaderSessionParameters      HeaderID = 0x52
	HeaderImgDescriptor          HeaderID = 0x71
	HeaderSessionSequenceNumber  HeaderID = 0x93
	HeaderActionID               HeaderID = 0x94
	HeaderSingleResponseMode     HeaderID = 0x97
	HeaderSingleResponseModeParm HeaderID = 0x98
	HeaderCount                  HeaderID = 0xC0
	HeaderLength                 HeaderID = 0xC3
	HeaderTime4Byte              HeaderID = 0xC4
	HeaderConnectionID           HeaderID = 0xCB
	HeaderCreatorID              HeaderID = 0xCF
	HeaderPermissions            HeaderID = 0xD6
)

// Encoding returns the value encoding selected by the id's two high bits.
func (h HeaderID) Encoding() HeaderEncoding {
	return HeaderEncoding(uint8(h) >> 6)
}

// String returns a string representation of the header id.
func (h HeaderID) String() string {
	switch h {
	case HeaderName:
		return "Name"
	case HeaderDescription:
		return "Description"
	case HeaderDestName:
		return "DestName"
	case HeaderImgHandle:
		return "ImgHandle"
	case HeaderType:
		return "Type"
	case HeaderTimeISO8601:
		return "Time"
	case HeaderTarget:
		return "Target"
	case HeaderHTTP:
		return "HTTP"
	case HeaderBody:
		return "Body"
	case HeaderEndOfBody:
		return "EndOfBody"
	case HeaderWho:
		return "Who"
	case HeaderApplicationParameters:
		return "ApplicationParameters"
	case HeaderAuthChallenge:
		return "AuthChallenge"
	case HeaderAuthResponse:
		return "AuthResponse"
	case HeaderObjectClass:
		return "ObjectClass"
	case HeaderSessionParameters:
		return "SessionParameters"
	case HeaderImgDescriptor:
		return "ImgDescriptor"
	case HeaderSessionSequenceNumber:
		return "SessionSequenceNumber"
	case HeaderActionID:
		return "ActionID"
	case HeaderSingleResponseMode:
		return "SRM"
	case HeaderSingleResponseModeParm:
		return "SRMP"
	case HeaderCount:
		return "Count"
	case HeaderLength:
		return "Length"
	case HeaderTime4Byte:
		return "Time4Byte"
	case HeaderConnectionID:
		return "ConnectionID"
	case HeaderCreatorID:
		return "CreatorID"
	case HeaderPermissions:
		return "Permissions"
	default:
		return fmt.Sprintf("header(0x%02x)", uint8(h))
	}
}

// HeaderEncoding is the closed set of header value encodings.
type HeaderEncoding uint8

const (
	// EncodingUnicode is a length-prefixed, NUL-terminated UTF-16BE string.
	EncodingUnicode HeaderEncoding = iota
	// EncodingBytes is a length-prefixed byte sequence.
	EncodingBytes
	// EncodingByte is a single fixed byte.
	EncodingByte
	// EncodingWord is a fixed 4-byte big-endian quantity.
	EncodingWord
)

// LengthPrefixed reports whether a 2-byte length follows the header id.
func (e HeaderEncoding) LengthPrefixed() bool {
	return e == EncodingUnicode || e == EncodingBytes
}

// FixedLen returns the value length of fixed-width encodings, 0 otherwise.
func (e HeaderEncoding) FixedLen() int {
	switch e {
	case EncodingByte:
		return 1
	case EncodingWord:
		return 4
	default:
		return 0
	}
}

// String returns a string representation of the encoding.
func (e HeaderEncoding) String() string {
	switch e {
	case EncodingUnicode:
		return "unicode"
	case EncodingBytes:
		return "bytes"
	case EncodingByte:
		return "byte"
	case EncodingWord:
		return "word"
	default:
		return "unknown"
	}
}

// SRMValue is the value of the Single Response Mode header.
type SRMValue uint8

const (
	SRMDisable  SRMValue = 0
	SRMEnable   SRMValue = 1
	SRMIndicate SRMValue = 2
)

// SRMPValue is the value of the Single Response Mode Parameter header.
type SRMPValue uint8

const (
	SRMPNext     SRMPValue = 0
	SRMPWait     SRMPValue = 1
	SRMPNextWait SRMPValue = 2
)
