// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package srm

import (
	"errors"
	"testing"

	"github.com/absmach/mobex/pkg/builder"
	"github.com/absmach/mobex/pkg/obex"
	"github.com/absmach/mobex/pkg/parser"
)

// bufWriter appends SRM headers to a builder buffer.
type bufWriter struct {
	buf []byte
	err error
}

func (w *bufWriter) HeaderAddSRMEnable() error {
	if w.err != nil {
		return w.err
	}
	return builder.AddSRMEnable(w.buf)
}

func (w *bufWriter) HeaderAddSRMEnableWait() error {
	if w.err != nil {
		return w.err
	}
	if err := builder.AddSRMEnable(w.buf); err != nil {
		return err
	}
	return builder.AddSRMPWait(w.buf)
}

func store(m interface {
	HeaderStore(obex.HeaderID, int, int, []byte)
}, id obex.HeaderID, v uint8) {
	m.HeaderStore(id, 1, 0, []byte{v})
}

func TestMachineTransitions(t *testing.T) {
	var m Machine
	var seen []State
	m.Notify = func(_, to State) { seen = append(seen, to) }
	m.Init()

	store(&m, obex.HeaderSingleResponseMode, uint8(obex.SRMEnable))
	store(&m, obex.HeaderSingleResponseModeParm, uint8(obex.SRMPWait))
	m.HandleHeaders()
	if m.State() != SendConfirmWait {
		t.Fatalf("state = %v, want send_confirm_wait", m.State())
	}

	w := &bufWriter{buf: make([]byte, 16)}
	if err := builder.ResponseCreateGeneral(w.buf, obex.RespContinue); err != nil {
		t.Fatalf("ResponseCreateGeneral() error = %v", err)
	}
	if err := m.AddSRMHeaders(w); err != nil {
		t.Fatalf("AddSRMHeaders() error = %v", err)
	}
	if m.State() != EnabledWait {
		t.Fatalf("state = %v, want enabled_wait", m.State())
	}

	var headers []obex.HeaderID
	p := parser.NewResponseParser(obex.OpcodeGet, parser.CallbackFunc(func(id obex.HeaderID, _, _ int, chunk []byte) {
		headers = append(headers, id)
	}))
	if state := p.Process(builder.Message(w.buf)); state != parser.Complete {
		t.Fatalf("Process() = %v", state)
	}
	if len(headers) != 2 || headers[0] != obex.HeaderSingleResponseMode || headers[1] != obex.HeaderSingleResponseModeParm {
		t.Errorf("headers = %v, want [SRM SRMP]", headers)
	}

	store(&m, obex.HeaderSingleResponseModeParm, uint8(obex.SRMPNext))
	m.HandleHeaders()
	if m.State() != Enabled || !m.IsActive() {
		t.Fatalf("state = %v, want enabled", m.State())
	}

	want := []State{SendConfirmWait, EnabledWait, Enabled}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestMachineWithoutWait(t *testing.T) {
	var m Machine
	m.Init()
	store(&m, obex.HeaderSingleResponseMode, uint8(obex.SRMEnable))
	m.HandleHeaders()
	if m.State() != SendConfirm {
		t.Fatalf("state = %v, want send_confirm", m.State())
	}
	if m.IsActive() {
		t.Error("IsActive() before confirmation")
	}

	w := &bufWriter{buf: make([]byte, 8)}
	builder.ResponseCreateGeneral(w.buf, obex.RespContinue)
	if err := m.AddSRMHeaders(w); err != nil {
		t.Fatalf("AddSRMHeaders() error = %v", err)
	}
	if !m.IsActive() {
		t.Errorf("state = %v, want enabled", m.State())
	}
	if builder.GetMessageLength(w.buf) != 5 {
		t.Errorf("message length = %d, want 5", builder.GetMessageLength(w.buf))
	}

	// Enabled is terminal for the operation.
	if err := m.AddSRMHeaders(w); err != nil {
		t.Fatalf("AddSRMHeaders() in enabled error = %v", err)
	}
	if builder.GetMessageLength(w.buf) != 5 {
		t.Error("AddSRMHeaders() wrote headers in enabled state")
	}
}

func TestMachineIgnoresOtherInput(t *testing.T) {
	var m Machine
	m.Init()
	m.HeaderStore(obex.HeaderName, 2, 0, []byte{0, 0})
	m.HandleHeaders()
	if m.State() != Disabled {
		t.Fatalf("state = %v, want disabled", m.State())
	}
	if err := m.AddSRMHeaders(&bufWriter{err: errors.New("unused")}); err != nil {
		t.Errorf("AddSRMHeaders() in disabled error = %v", err)
	}

	store(&m, obex.HeaderSingleResponseMode, uint8(obex.SRMEnable))
	m.HandleHeaders()
	failing := errors.New("full")
	if err := m.AddSRMHeaders(&bufWriter{err: failing}); !errors.Is(err, failing) {
		t.Fatalf("AddSRMHeaders() error = %v", err)
	}
	if m.State() != SendConfirm {
		t.Errorf("state = %v after failed write, want send_confirm", m.State())
	}

	m.Init()
	if m.State() != Disabled {
		t.Errorf("Init() state = %v", m.State())
	}
}

func TestEnabledWaitHoldsOnWait(t *testing.T) {
	var m Machine
	m.Init()
	store(&m, obex.HeaderSingleResponseMode, uint8(obex.SRMEnable))
	store(&m, obex.HeaderSingleResponseModeParm, uint8(obex.SRMPWait))
	m.HandleHeaders()
	w := &bufWriter{buf: make([]byte, 16)}
	builder.ResponseCreateGeneral(w.buf, obex.RespContinue)
	if err := m.AddSRMHeaders(w); err != nil {
		t.Fatalf("AddSRMHeaders() error = %v", err)
	}

	store(&m, obex.HeaderSingleResponseModeParm, uint8(obex.SRMPWait))
	m.HandleHeaders()
	if m.State() != EnabledWait {
		t.Fatalf("state = %v, want enabled_wait", m.State())
	}

	// A request without SRMP counts as next.
	m.HandleHeaders()
	if m.State() != Enabled {
		t.Errorf("state = %v, want enabled", m.State())
	}
}

func TestClient(t *testing.T) {
	var c Client
	c.Init()

	w := &bufWriter{buf: make([]byte, 16)}
	if err := builder.RequestCreateGet(w.buf, 1); err != nil {
		t.Fatalf("RequestCreateGet() error = %v", err)
	}
	if err := c.PrepareHeaders(w); err != nil {
		t.Fatalf("PrepareHeaders() error = %v", err)
	}
	if c.State() != ClientRequested {
		t.Fatalf("state = %v, want requested", c.State())
	}
	n := builder.GetMessageLength(w.buf)
	if err := c.PrepareHeaders(w); err != nil {
		t.Fatalf("PrepareHeaders() error = %v", err)
	}
	if builder.GetMessageLength(w.buf) != n {
		t.Error("PrepareHeaders() requested SRM twice")
	}

	store(&c, obex.HeaderSingleResponseMode, uint8(obex.SRMEnable))
	store(&c, obex.HeaderSingleResponseModeParm, uint8(obex.SRMPWait))
	c.HandleHeaders()
	if !c.IsActive() || !c.ShouldWait() {
		t.Fatalf("active = %v, wait = %v", c.IsActive(), c.ShouldWait())
	}

	c.HandleHeaders()
	if c.ShouldWait() {
		t.Error("ShouldWait() without SRMP")
	}
}

func TestClientPeerDeclines(t *testing.T) {
	var c Client
	c.Init()
	w := &bufWriter{buf: make([]byte, 16)}
	builder.RequestCreatePut(w.buf, 1)
	c.PrepareHeaders(w)
	c.HandleHeaders()
	if c.IsActive() {
		t.Error("IsActive() without peer confirmation")
	}
}
