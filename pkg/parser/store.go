// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

// HeaderState reports progress of materialising one value across chunks.
type HeaderState int

const (
	HeaderIncomplete HeaderState = iota
	HeaderComplete
	HeaderOverrun
)

// String returns a string representation of the header state.
func (s HeaderState) String() string {
	switch s {
	case HeaderIncomplete:
		return "incomplete"
	case HeaderComplete:
		return "complete"
	case HeaderOverrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// HeaderStore copies chunk into dst at offset. Bytes that do not fit in
// dst are dropped and HeaderOverrun is returned. HeaderComplete is
// returned once the last chunk of a totalLen value has been stored.
func HeaderStore(dst []byte, totalLen, offset int, chunk []byte) HeaderState {
	if offset < 0 || offset > len(dst) {
		return HeaderOverrun
	}
	n := copy(dst[offset:], chunk)
	if n < len(chunk) {
		return HeaderOverrun
	}
	if offset+n == totalLen {
		return HeaderComplete
	}
	return HeaderIncomplete
}

// TagStore is HeaderStore for application parameter tags.
func TagStore(dst []byte, totalLen, offset int, chunk []byte) HeaderState {
	return HeaderStore(dst, totalLen, offset, chunk)
}
