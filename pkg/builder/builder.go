// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package builder assembles outbound OBEX objects in caller-owned buffers.
//
// Every function takes the destination buffer as its first argument. The
// buffer's len is its capacity; the object written so far is described by
// the length field at bytes 1-2. Each write checks the capacity before any
// byte is stored, so a failed call leaves the buffer untouched.
package builder

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/absmach/mobex/pkg/errors"
	"github.com/absmach/mobex/pkg/obex"
)

// PacketInit writes code and a length of 3 at the start of buf.
func PacketInit(buf []byte, code uint8) error {
	if len(buf) < obex.PacketHeaderLen {
		return errors.ErrMemoryCapacityExceeded
	}
	buf[0] = code
	binary.BigEndian.PutUint16(buf[1:3], obex.PacketHeaderLen)
	return nil
}

// GetMessageLength returns the declared length of the object in buf.
func GetMessageLength(buf []byte) int {
	if len(buf) < obex.PacketHeaderLen {
		return 0
	}
	return int(binary.BigEndian.Uint16(buf[1:3]))
}

// Message returns the object written so far. A declared length beyond
// buf is clamped to len(buf).
func Message(buf []byte) []byte {
	return buf[:min(GetMessageLength(buf), len(buf))]
}

func capacity(buf []byte) int {
	return min(len(buf), obex.MaxPacketLen)
}

// room returns the write position and the free bytes behind it.
func room(buf []byte) (int, int, error) {
	if len(buf) < obex.PacketHeaderLen {
		return 0, 0, errors.ErrMemoryCapacityExceeded
	}
	pos := GetMessageLength(buf)
	if pos < obex.PacketHeaderLen || pos > capacity(buf) {
		return 0, 0, errors.ErrInvalid
	}
	return pos, capacity(buf) - pos, nil
}

// appendParts writes parts back to back, or nothing if they do not fit.
func appendParts(buf []byte, parts ...[]byte) error {
	pos, free, err := room(buf)
	if err != nil {
		return err
	}
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	if n > free {
		return errors.ErrMemoryCapacityExceeded
	}
	for _, p := range parts {
		pos += copy(buf[pos:], p)
	}
	binary.BigEndian.PutUint16(buf[1:3], uint16(pos))
	return nil
}

// AddByte appends a 1-byte header.
func AddByte(buf []byte, id obex.HeaderID, v uint8) error {
	return appendParts(buf, []byte{uint8(id), v})
}

// AddWord appends a 4-byte header.
func AddWord(buf []byte, id obex.HeaderID, v uint32) error {
	h := [5]byte{uint8(id)}
	binary.BigEndian.PutUint32(h[1:], v)
	return appendParts(buf, h[:])
}

func prefix(id obex.HeaderID, valueLen int) []byte {
	h := []byte{uint8(id), 0, 0}
	binary.BigEndian.PutUint16(h[1:], uint16(obex.HeaderPrefixLen+valueLen))
	return h
}

// AddVariable appends a length-prefixed header. The prefix and the value
// are checked against the capacity as one unit.
func AddVariable(buf []byte, id obex.HeaderID, value []byte) error {
	if obex.HeaderPrefixLen+len(value) > obex.MaxPacketLen {
		return errors.ErrMemoryCapacityExceeded
	}
	return appendParts(buf, prefix(id, len(value)), value)
}

// FillVariable appends as much of value as fits in a length-prefixed header
// and returns the number of value bytes written.
func FillVariable(buf []byte, id obex.HeaderID, value []byte) (int, error) {
	_, free, err := room(buf)
	if err != nil {
		return 0, err
	}
	if free < obex.HeaderPrefixLen {
		return 0, errors.ErrMemoryCapacityExceeded
	}
	n := min(len(value), free-obex.HeaderPrefixLen)
	if err := appendParts(buf, prefix(id, n), value[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

func addConnectionID(buf []byte, connID uint32) error {
	if connID == obex.ConnectionIDInvalid {
		return errors.ErrParameterOutOfRange
	}
	return AddWord(buf, obex.HeaderConnectionID, connID)
}

func createConnect(buf []byte, code, version, flags uint8, maxPacketLen uint16) error {
	if err := PacketInit(buf, code); err != nil {
		return err
	}
	fields := [4]byte{version, flags}
	binary.BigEndian.PutUint16(fields[2:], maxPacketLen)
	return appendParts(buf, fields[:])
}

// RequestCreateConnect starts a CONNECT request.
func RequestCreateConnect(buf []byte, version, flags uint8, maxPacketLen uint16) error {
	return createConnect(buf, uint8(obex.OpcodeConnect), version, flags, maxPacketLen)
}

// ResponseCreateConnect starts a successful CONNECT response carrying connID.
func ResponseCreateConnect(buf []byte, version, flags uint8, maxPacketLen uint16, connID uint32) error {
	if err := createConnect(buf, uint8(obex.RespSuccess), version, flags, maxPacketLen); err != nil {
		return err
	}
	return addConnectionID(buf, connID)
}

// ResponseCreateGeneral starts a response with no fixed fields.
func ResponseCreateGeneral(buf []byte, code obex.ResponseCode) error {
	return PacketInit(buf, uint8(code))
}

// ResponseUpdateCode replaces the response code of an object in progress.
func ResponseUpdateCode(buf []byte, code obex.ResponseCode) error {
	if len(buf) < obex.PacketHeaderLen {
		return errors.ErrMemoryCapacityExceeded
	}
	buf[0] = uint8(code)
	return nil
}

func createRequest(buf []byte, op obex.Opcode, connID uint32) error {
	if err := PacketInit(buf, uint8(op)); err != nil {
		return err
	}
	return addConnectionID(buf, connID)
}

// RequestCreateGet starts a final GET request.
func RequestCreateGet(buf []byte, connID uint32) error {
	return createRequest(buf, obex.OpcodeGet.WithFinal(true), connID)
}

// RequestCreatePut starts a final PUT request.
func RequestCreatePut(buf []byte, connID uint32) error {
	return createRequest(buf, obex.OpcodePut.WithFinal(true), connID)
}

// RequestCreateSetPath starts a SETPATH request.
func RequestCreateSetPath(buf []byte, flags uint8, connID uint32) error {
	if err := PacketInit(buf, uint8(obex.OpcodeSetPath)); err != nil {
		return err
	}
	if err := appendParts(buf, []byte{flags, 0}); err != nil {
		return err
	}
	return addConnectionID(buf, connID)
}

// RequestCreateAbort starts an ABORT request.
func RequestCreateAbort(buf []byte, connID uint32) error {
	return createRequest(buf, obex.OpcodeAbort, connID)
}

// RequestCreateDisconnect starts a DISCONNECT request.
func RequestCreateDisconnect(buf []byte, connID uint32) error {
	return createRequest(buf, obex.OpcodeDisconnect, connID)
}

// SetFinalBit sets or clears the final bit of the request in buf.
func SetFinalBit(buf []byte, final bool) error {
	if len(buf) < 1 {
		return errors.ErrMemoryCapacityExceeded
	}
	switch obex.Opcode(buf[0]) {
	case obex.OpcodeConnect, obex.OpcodeDisconnect, obex.OpcodeSetPath, obex.OpcodeSession, obex.OpcodeAbort:
		return errors.ErrCommandDisallowed
	}
	buf[0] = uint8(obex.Opcode(buf[0]).WithFinal(final))
	return nil
}

// AddSRMEnable appends SRM=Enable.
func AddSRMEnable(buf []byte) error {
	return AddByte(buf, obex.HeaderSingleResponseMode, uint8(obex.SRMEnable))
}

// AddSRMPWait appends SRMP=Wait.
func AddSRMPWait(buf []byte) error {
	return AddByte(buf, obex.HeaderSingleResponseModeParm, uint8(obex.SRMPWait))
}

// AddTarget appends a Target header.
func AddTarget(buf []byte, target []byte) error {
	return AddVariable(buf, obex.HeaderTarget, target)
}

// AddWho appends a Who header. who must be a 16-byte service UUID.
func AddWho(buf []byte, who []byte) error {
	if len(who) != obex.WhoLen {
		return errors.ErrParameterOutOfRange
	}
	return AddVariable(buf, obex.HeaderWho, who)
}

// AddApplicationParameters appends an Application Parameters header.
func AddApplicationParameters(buf []byte, params []byte) error {
	return AddVariable(buf, obex.HeaderApplicationParameters, params)
}

// AddChallengeResponse appends an Authentication Response header.
func AddChallengeResponse(buf []byte, data []byte) error {
	return AddVariable(buf, obex.HeaderAuthResponse, data)
}

// AddLength appends a Length header.
func AddLength(buf []byte, length uint32) error {
	return AddWord(buf, obex.HeaderLength, length)
}

// AddBody appends data as a single End-of-Body header.
func AddBody(buf []byte, data []byte) error {
	return AddVariable(buf, obex.HeaderEndOfBody, data)
}

// FillBody appends as much of data as fits as End-of-Body and returns the
// number of bytes written.
func FillBody(buf []byte, data []byte) (int, error) {
	return FillVariable(buf, obex.HeaderEndOfBody, data)
}

// NameHeaderLen returns the encoded size of a Name header for name.
func NameHeaderLen(name string) int {
	return unicodeHeaderLen(encodeUTF16(name))
}

func unicodeHeaderLen(units []uint16) int {
	n := obex.HeaderPrefixLen + 2*len(units)
	if len(units) > 0 {
		n += 2
	}
	return n
}

func encodeUTF16(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// AddUnicode appends a UTF-16BE header. Non-empty values carry a
// trailing NUL; an empty string yields an empty value.
func AddUnicode(buf []byte, id obex.HeaderID, s string) error {
	units := encodeUTF16(s)
	total := unicodeHeaderLen(units)
	if total > obex.MaxPacketLen {
		return errors.ErrMemoryCapacityExceeded
	}
	value := make([]byte, total-obex.HeaderPrefixLen)
	for i, u := range units {
		binary.BigEndian.PutUint16(value[2*i:], u)
	}
	return appendParts(buf, prefix(id, len(value)), value)
}

// AddUnicodePrefix appends the first n characters of s as a UTF-16BE
// header.
func AddUnicodePrefix(buf []byte, id obex.HeaderID, s string, n int) error {
	runes := []rune(s)
	if n < 0 || n > len(runes) {
		return errors.ErrParameterOutOfRange
	}
	return AddUnicode(buf, id, string(runes[:n]))
}

// AddName appends a Name header.
func AddName(buf []byte, name string) error {
	return AddUnicode(buf, obex.HeaderName, name)
}

// AddNamePrefix appends the first n characters of name as a Name header.
func AddNamePrefix(buf []byte, name string, n int) error {
	return AddUnicodePrefix(buf, obex.HeaderName, name, n)
}

// TypeHeaderLen returns the encoded size of a Type header, or 0 when typ
// is empty and the header is omitted.
func TypeHeaderLen(typ string) int {
	if typ == "" {
		return 0
	}
	return obex.HeaderPrefixLen + len(typ) + 1
}

// AddType appends a NUL-terminated Type header.
func AddType(buf []byte, typ string) error {
	value := make([]byte, len(typ)+1)
	copy(value, typ)
	return AddVariable(buf, obex.HeaderType, value)
}
