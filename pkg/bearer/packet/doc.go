// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package packet implements the packet bearer over websocket.
//
// Each OBEX packet travels as exactly one binary websocket message, so a
// DataEvent always carries one whole packet. Services are addressed by
// PSM in the upgrade path:
//
//	GET /psm/4097 HTTP/1.1
//	Upgrade: websocket
//	X-Obex-Mtu: 8192
//
// The listener holds the upgrade until the session manager accepts or
// declines the channel. A declined channel is answered with 403 Forbidden,
// an unknown PSM with 404 Not Found. Both sides announce the largest
// packet they accept in the X-Obex-Mtu header; the remote value becomes
// the channel MTU reported in ChannelOpenedEvent.
package packet
