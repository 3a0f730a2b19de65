// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bearer holds the connection bookkeeping shared by the stream and
// packet bearers: service registrations, channel ids, the single-slot
// writer and event posting onto the run loop.
package bearer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/mobex/pkg/errors"
	"github.com/absmach/mobex/pkg/goep"
	"github.com/absmach/mobex/pkg/handler"
	"github.com/absmach/mobex/pkg/runloop"
	"github.com/google/uuid"
)

// Transport moves whole OBEX packets for one channel.
type Transport interface {
	WritePacket(data []byte) error
	Close() error
}

// Service is one registered service.
type Service struct {
	ID    uint16
	MTU   int
	Level goep.SecurityLevel
	Sink  goep.EventSink
}

// Table tracks the services and channels of one bearer.
type Table struct {
	kind   goep.BearerKind
	loop   *runloop.Loop
	logger *slog.Logger

	mu       sync.Mutex
	services map[uint16]Service
	conns    map[uint16]*Conn
	last     uint16
}

// NewTable creates an empty table posting events to loop.
func NewTable(kind goep.BearerKind, loop *runloop.Loop, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		kind:     kind,
		loop:     loop,
		logger:   logger,
		services: make(map[uint16]Service),
		conns:    make(map[uint16]*Conn),
	}
}

// Register adds a service.
func (t *Table) Register(svc Service) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.services[svc.ID]; ok {
		return errors.ErrAlreadyRegistered
	}
	t.services[svc.ID] = svc
	t.logger.Info("bearer service registered",
		slog.String("bearer", t.kind.String()),
		slog.Int("service", int(svc.ID)),
		slog.Int("mtu", svc.MTU),
		slog.Int("level", int(svc.Level)))
	return nil
}

// Unregister removes a service. Open channels stay up.
func (t *Table) Unregister(id uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.services[id]; !ok {
		return errors.ErrServiceNotFound
	}
	delete(t.services, id)
	return nil
}

// Service looks up a registered service.
func (t *Table) Service(id uint16) (Service, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	svc, ok := t.services[id]
	return svc, ok
}

// Services returns the number of registered services.
func (t *Table) Services() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.services)
}

// NewConn allocates a channel id for a connection to or from peer.
func (t *Table) NewConn(service uint16, peer string, sink goep.EventSink) (*Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < 0xFFFF; i++ {
		t.last++
		if t.last == 0 {
			t.last = 1
		}
		if _, ok := t.conns[t.last]; ok {
			continue
		}
		c := &Conn{
			CID:      t.last,
			Tag:      uuid.NewString(),
			Service:  service,
			Peer:     peer,
			table:    t,
			sink:     sink,
			decision: make(chan bool, 1),
		}
		t.conns[c.CID] = c
		return c, nil
	}
	return nil, errors.ErrMemoryCapacityExceeded
}

// Conn returns the channel with id cid.
func (t *Table) Conn(cid uint16) (*Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[cid]
	if !ok {
		return nil, errors.ErrBearerClosed
	}
	return c, nil
}

// Conns returns the number of channels.
func (t *Table) Conns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *Table) remove(cid uint16) {
	t.mu.Lock()
	delete(t.conns, cid)
	t.mu.Unlock()
}

// CloseAll closes every attached channel.
func (t *Table) CloseAll() {
	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			t.logger.Debug("close channel", slog.String("tag", c.Tag), slog.String("error", err.Error()))
		}
	}
}

// Conn is one bearer channel. The transport is attached once the channel
// is open; until then only the accept decision is pending.
type Conn struct {
	CID     uint16
	Tag     string
	Service uint16
	Peer    string

	table    *Table
	sink     goep.EventSink
	decision chan bool

	mu        sync.Mutex
	transport Transport
	mtu       int
	writes    chan []byte
	busy      bool
	wantSend  bool
	closing   bool
	closed    bool
}

// Logger returns the bearer logger annotated with the channel.
func (c *Conn) Logger() *slog.Logger {
	return c.table.logger.With(
		slog.String("bearer", c.table.kind.String()),
		slog.Int("cid", int(c.CID)),
		slog.String("tag", c.Tag))
}

func (c *Conn) post(ev goep.BearerEvent) {
	sink := c.sink
	err := c.table.loop.Post(func(ctx context.Context) {
		sink.HandleBearerEvent(ctx, ev)
	})
	if err != nil {
		c.Logger().Debug("event dropped", slog.String("error", err.Error()))
	}
}

// Incoming reports the channel to the service as an incoming connection.
func (c *Conn) Incoming(handle uint16) {
	c.post(goep.IncomingConnectionEvent{CID: c.CID, Service: c.Service, Peer: c.Peer, Handle: handle})
}

// Decide records the accept decision for an incoming channel.
func (c *Conn) Decide(accept bool) error {
	select {
	case c.decision <- accept:
		return nil
	default:
		return errors.ErrCommandDisallowed
	}
}

// WaitDecision blocks until Decide is called. It returns false with
// timedOut set when timeout elapses or ctx ends first.
func (c *Conn) WaitDecision(ctx context.Context, timeout time.Duration) (accept, timedOut bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case accept = <-c.decision:
		return accept, false
	case <-timer.C:
	case <-ctx.Done():
	}

	// A decision racing the timeout still wins; otherwise the slot is
	// filled so late decisions fail.
	select {
	case accept = <-c.decision:
		return accept, false
	case c.decision <- false:
		return false, true
	}
}

// Forget drops a channel that never opened. No event is posted.
func (c *Conn) Forget() {
	c.table.remove(c.CID)
}

// Attach binds the transport and starts the writer. It reports false,
// closing tr, if the channel was closed meanwhile.
func (c *Conn) Attach(tr Transport, mtu int) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = tr.Close()
		return false
	}
	c.transport = tr
	c.mtu = mtu
	c.writes = make(chan []byte, 1)
	writes := c.writes
	c.mu.Unlock()

	go c.writer(tr, writes)
	return true
}

// Opened posts ChannelOpenedEvent. A failure status also forgets the channel.
func (c *Conn) Opened(status handler.Status, handle uint16, mtu int) {
	if status != handler.StatusSuccess {
		c.Forget()
	}
	c.post(goep.ChannelOpenedEvent{CID: c.CID, Status: status, Peer: c.Peer, Handle: handle, MTU: mtu})
}

// Deliver posts inbound bytes. data must not be reused by the caller.
func (c *Conn) Deliver(data []byte) {
	c.post(goep.DataEvent{CID: c.CID, Data: data})
}

// Closed tears the channel down and posts ChannelClosedEvent once.
func (c *Conn) Closed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	tr := c.transport
	if c.writes != nil {
		close(c.writes)
	}
	c.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}
	c.table.remove(c.CID)
	c.post(goep.ChannelClosedEvent{CID: c.CID})
}

// Send queues one packet. Only one packet may be in flight.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed || c.closing || c.writes == nil:
		return errors.ErrBearerClosed
	case len(data) > c.mtu:
		return errors.ErrMemoryCapacityExceeded
	case c.busy:
		return errors.ErrBearerBusy
	}
	c.busy = true
	c.writes <- append([]byte(nil), data...)
	return nil
}

// RequestCanSendNow posts CanSendNowEvent as soon as the writer is free.
func (c *Conn) RequestCanSendNow() error {
	c.mu.Lock()
	if c.closed || c.closing || c.writes == nil {
		c.mu.Unlock()
		return errors.ErrBearerClosed
	}
	if c.busy {
		c.wantSend = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.post(goep.CanSendNowEvent{CID: c.CID})
	return nil
}

// Close shuts the transport once the packet in flight, if any, has been
// written. The reader notices and calls Closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	tr := c.transport
	if tr == nil {
		c.mu.Unlock()
		c.Closed()
		return nil
	}
	if c.closing || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	flushing := c.busy
	c.mu.Unlock()

	if flushing {
		return nil
	}
	return tr.Close()
}

func (c *Conn) writer(tr Transport, writes <-chan []byte) {
	for data := range writes {
		if err := tr.WritePacket(data); err != nil {
			c.Logger().Warn("write failed", slog.String("error", err.Error()))
			_ = tr.Close()
		}

		c.mu.Lock()
		c.busy = false
		closing := c.closing && !c.closed
		want := c.wantSend && !c.closed && !c.closing
		c.wantSend = false
		c.mu.Unlock()

		if closing {
			_ = tr.Close()
			continue
		}
		if want {
			c.post(goep.CanSendNowEvent{CID: c.CID})
		}
	}
}
