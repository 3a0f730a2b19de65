// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package srm

import (
	"github.com/absmach/mobex/pkg/obex"
	"github.com/absmach/mobex/pkg/parser"
)

// ClientState is the requester SRM state.
type ClientState int

const (
	ClientDisabled ClientState = iota
	ClientRequested
	ClientEnabled
)

// String returns a string representation of the client SRM state.
func (s ClientState) String() string {
	switch s {
	case ClientDisabled:
		return "disabled"
	case ClientRequested:
		return "requested"
	case ClientEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// EnableWriter appends SRM=Enable to the request under construction.
type EnableWriter interface {
	HeaderAddSRMEnable() error
}

// Client is the requester side of the SRM handshake.
type Client struct {
	state   ClientState
	waiting bool
	srm     [1]byte
	srmp    [1]byte
}

// Init resets the client to Disabled.
func (c *Client) Init() {
	c.state = ClientDisabled
	c.waiting = false
	c.srm[0] = uint8(obex.SRMDisable)
	c.srmp[0] = uint8(obex.SRMPNext)
}

// State returns the current state.
func (c *Client) State() ClientState {
	return c.state
}

// IsActive reports whether the peer confirmed SRM.
func (c *Client) IsActive() bool {
	return c.state == ClientEnabled
}

// ShouldWait reports whether the peer asked to pause with SRMP=Wait.
func (c *Client) ShouldWait() bool {
	return c.waiting
}

// HeaderStore records SRM and SRMP header values from a response.
func (c *Client) HeaderStore(id obex.HeaderID, totalLen, offset int, chunk []byte) {
	switch id {
	case obex.HeaderSingleResponseMode:
		parser.HeaderStore(c.srm[:], totalLen, offset, chunk)
	case obex.HeaderSingleResponseModeParm:
		parser.HeaderStore(c.srmp[:], totalLen, offset, chunk)
	}
}

// PrepareHeaders requests SRM on the first request of an operation.
func (c *Client) PrepareHeaders(w EnableWriter) error {
	if c.state != ClientDisabled {
		return nil
	}
	if err := w.HeaderAddSRMEnable(); err != nil {
		return err
	}
	c.state = ClientRequested
	return nil
}

// HandleHeaders evaluates the headers of the last response.
func (c *Client) HandleHeaders() {
	if c.state == ClientRequested && obex.SRMValue(c.srm[0]) == obex.SRMEnable {
		c.state = ClientEnabled
	}
	c.waiting = obex.SRMPValue(c.srmp[0]) == obex.SRMPWait
	c.srmp[0] = uint8(obex.SRMPNext)
}
