// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser decodes inbound OBEX objects incrementally.
//
// # Object Parser
//
// A Parser decodes exactly one request or response object. Bytes are fed
// with Process as they arrive from the bearer, in slices of any size:
//
//	p := parser.NewRequestParser(parser.CallbackFunc(onHeader))
//	for chunk := range inbound {
//		switch p.Process(chunk) {
//		case parser.Complete:
//			info := p.OperationInfo()
//			// dispatch on info.Opcode
//		case parser.Invalid, parser.Overrun:
//			// drop the object
//		}
//	}
//
// Responses are decoded with InitForResponse, which needs the opcode of
// the request being answered: the response to CONNECT carries the same
// four fixed bytes (version, flags, max packet length) as the request.
//
// # Header Delivery
//
// Header values are never materialised by the parser. The callback sees
// each value as a sequence of chunks tagged with the value's total length
// and the chunk offset, in wire order. Length-prefixed headers with an
// empty value produce no callback. Use HeaderStore to collect a value
// into caller storage:
//
//	var target [16]byte
//	func onHeader(id obex.HeaderID, total, off int, chunk []byte) {
//		if id == obex.HeaderTarget {
//			if parser.HeaderStore(target[:], total, off, chunk) == parser.HeaderComplete {
//				// target holds the whole value
//			}
//		}
//	}
//
// # Completion Rules
//
// The object is Complete only when the consumed byte count equals the
// declared packet length at a header boundary. Reaching the declared
// length inside a header is Invalid. Any byte after Complete turns the
// parser into Overrun. Invalid and Overrun stay until the parser is
// re-initialised; there is no resynchronisation.
//
// # Application Parameters
//
// AppParamParser decodes the tag/length/value stream carried inside an
// Application Parameters header. It is usually driven from the object
// parser's callback, initialised with the header's total length at
// offset 0 and fed each chunk in turn.
package parser
