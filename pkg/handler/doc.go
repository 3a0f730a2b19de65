// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the events the GOEP session layer delivers to
// profiles.
//
// # Architecture Overview
//
// A profile registers a Handler with goep.Server.RegisterService, or
// passes one to goep.Client.CreateConnection. Every session event of
// that service is delivered to it as a value of one of five types:
//
//	IncomingConnection  a peer wants to connect; call AcceptConnection or DeclineConnection
//	ConnectionOpened    the bearer channel is up (or failed, see Status)
//	CanSendNow          answer to RequestCanSendNow; the profile may build and Execute a packet
//	Data                inbound bytes; feed them to a parser.Parser
//	ConnectionClosed    the session is gone; no further events follow
//
// # Data Flow
//
//	Bearer → goep.Server (dispatch by session) → Handler → parser.Parser
//	Handler → goep.Server.ResponseCreate* / HeaderAdd* → Execute → Bearer
//
// # Threading
//
// Handlers are called on the run loop goroutine. They must not block and
// may call back into the goep.Server or goep.Client directly.
//
// # Example
//
//	h := handler.HandlerFunc(func(ctx context.Context, ev handler.Event) error {
//		switch ev := ev.(type) {
//		case handler.IncomingConnection:
//			return srv.AcceptConnection(ev.SessionID)
//		case handler.Data:
//			p.Process(ev.Bytes)
//		}
//		return nil
//	})
package handler
