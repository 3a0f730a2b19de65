// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package goep multiplexes OBEX sessions over stream and packet bearers.
//
// # Overview
//
// A Server registers services on a stream channel and, optionally, a
// packet PSM. Incoming bearer connections become sessions identified by a
// non-zero handler.SessionID. A Client opens outgoing sessions on either
// bearer kind. Both sides deliver handler.Events to the handler bound to
// the session.
//
// # Session Lifecycle
//
//	W4AcceptOrDecline ──Accept──→ W4Connected ──opened──→ Connected
//	        │                          │                  ↑      │
//	     Decline                    failed             Execute  Create*
//	        ↓                          ↓                  │      ↓
//	    (removed)                  (removed)       OutgoingBufferReserved
//
// A response or request is built in three steps:
//
//  1. ResponseCreate* / RequestCreate* reserves the outgoing buffer
//  2. HeaderAdd* appends headers to it
//  3. Execute sends it and releases the buffer
//
// Reserving twice, or adding headers or executing without a reservation,
// fails with errors.ErrCommandDisallowed. Unknown ids fail with
// errors.ErrUnknownConnectionIdentifier.
//
// # Events
//
// A failed open removes the session before ConnectionOpened is delivered
// with the failure status. ConnectionClosed is the last event of a
// session; bearer events that arrive for a channel no longer tracked are
// logged and dropped.
//
// # Max Message Size
//
// On packet bearers the outgoing buffer is min(remote MTU,
// Config.PacketBufferSize). On stream bearers it is the negotiated max
// frame size. CONNECT packet lengths are clamped to it.
//
// # Concurrency
//
// Server and Client are not safe for concurrent use. Bearers post their
// events to a run loop, and all calls into this package are made from the
// loop goroutine.
//
// # Example
//
//	srv := goep.NewServer(goep.Config{Logger: logger}, streamBearer, packetBearer)
//	if err := srv.RegisterService(profile, 5, 0xFFFF, 0x1001, 0xFFFF, goep.SecurityNone); err != nil {
//		return err
//	}
package goep
