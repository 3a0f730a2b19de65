// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package srm tracks the Single Response Mode handshake of one GET or PUT
// operation.
//
// Machine is the responder side: it records the SRM and SRMP headers of
// each request, decides whether to confirm SRM, and appends the confirming
// headers to the next response. Client is the requester side.
//
// Both must be re-initialised at the start of every operation.
package srm

import (
	"github.com/absmach/mobex/pkg/obex"
	"github.com/absmach/mobex/pkg/parser"
)

// State is the responder SRM state.
type State int

const (
	Disabled State = iota
	SendConfirm
	SendConfirmWait
	Enabled
	EnabledWait
)

// String returns a string representation of the SRM state.
func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case SendConfirm:
		return "send_confirm"
	case SendConfirmWait:
		return "send_confirm_wait"
	case Enabled:
		return "enabled"
	case EnabledWait:
		return "enabled_wait"
	default:
		return "unknown"
	}
}

// HeaderWriter appends SRM headers to the response under construction.
// goep.Server.SRMWriter returns one bound to a session.
type HeaderWriter interface {
	HeaderAddSRMEnable() error
	HeaderAddSRMEnableWait() error
}

// Machine is the responder side of the SRM handshake.
type Machine struct {
	state State
	srm   [1]byte
	srmp  [1]byte

	// Notify, if set, observes every state change.
	Notify func(from, to State)
}

// Init resets the machine to Disabled and forgets stored header values.
func (m *Machine) Init() {
	m.state = Disabled
	m.srm[0] = uint8(obex.SRMDisable)
	m.srmp[0] = uint8(obex.SRMPNext)
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// IsActive reports whether SRM is enabled.
func (m *Machine) IsActive() bool {
	return m.state == Enabled
}

// HeaderStore records SRM and SRMP header values. It has the parser
// callback shape and ignores other headers.
func (m *Machine) HeaderStore(id obex.HeaderID, totalLen, offset int, chunk []byte) {
	switch id {
	case obex.HeaderSingleResponseMode:
		parser.HeaderStore(m.srm[:], totalLen, offset, chunk)
	case obex.HeaderSingleResponseModeParm:
		parser.HeaderStore(m.srmp[:], totalLen, offset, chunk)
	}
}

// HandleHeaders evaluates the headers stored since the last call.
// An SRMP header applies to the request that carried it only.
func (m *Machine) HandleHeaders() {
	srm := obex.SRMValue(m.srm[0])
	srmp := obex.SRMPValue(m.srmp[0])
	m.srmp[0] = uint8(obex.SRMPNext)

	switch m.state {
	case Disabled:
		if srm != obex.SRMEnable {
			return
		}
		if srmp == obex.SRMPWait {
			m.transition(SendConfirmWait)
		} else {
			m.transition(SendConfirm)
		}
	case EnabledWait:
		if srmp == obex.SRMPNext {
			m.transition(Enabled)
		}
	}
}

// AddSRMHeaders appends the confirming headers when a confirmation is
// pending. The state only advances if the write succeeds.
func (m *Machine) AddSRMHeaders(w HeaderWriter) error {
	switch m.state {
	case SendConfirm:
		if err := w.HeaderAddSRMEnable(); err != nil {
			return err
		}
		m.transition(Enabled)
	case SendConfirmWait:
		if err := w.HeaderAddSRMEnableWait(); err != nil {
			return err
		}
		m.transition(EnabledWait)
	}
	return nil
}

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	if m.Notify != nil {
		m.Notify(from, to)
	}
}
