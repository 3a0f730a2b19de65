// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package stream implements the stream bearer over TCP.
//
// # Overview
//
// A stream bearer is a reliable byte stream without message boundaries.
// OBEX packets may arrive split or coalesced; the object parser
// reassembles them. Several services share one listener and are told
// apart by a channel number sent in a handshake.
//
// # Handshake
//
//	dialer → listener:  [channel] [mtu hi] [mtu lo]
//	listener → dialer:  [status]  [mtu hi] [mtu lo]
//
// Status 0x00 accepts the channel, 0x01 rejects it. The channel MTU is the
// smallest of the dialer MTU, the service MTU and Config.MaxFrameSize.
//
// # Channel Flow
//
//  1. Dialer connects and sends the handshake
//  2. Bearer posts IncomingConnectionEvent to the service sink
//  3. Session manager calls Accept or Decline from the run loop
//  4. Bearer answers the handshake and posts ChannelOpenedEvent
//  5. Reader goroutine posts DataEvent for every read
//  6. Writer goroutine sends one packet at a time
//  7. EOF or Disconnect posts ChannelClosedEvent
//
// A service that neither accepts nor declines within AcceptTimeout is
// declined and the pending channel reported closed.
//
// # Graceful Shutdown
//
// When the Listen context is cancelled the listener closes, every channel
// is disconnected and the bearer waits up to ShutdownTimeout for channel
// goroutines to finish, returning ErrShutdownTimeout otherwise.
//
// # Example
//
//	b := stream.New(stream.Config{Address: ":6500"}, loop)
//	srv := goep.NewServer(goep.Config{}, b, nil)
//	g.Go(func() error { return b.Listen(ctx) })
package stream
