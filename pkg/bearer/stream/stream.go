// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/mobex/pkg/bearer"
	mobexerrors "github.com/absmach/mobex/pkg/errors"
	"github.com/absmach/mobex/pkg/goep"
	"github.com/absmach/mobex/pkg/handler"
	"github.com/absmach/mobex/pkg/obex"
	"github.com/absmach/mobex/pkg/runloop"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Handshake status bytes.
const (
	StatusAccepted uint8 = 0x00
	StatusRejected uint8 = 0x01
)

const handshakeLen = 3

// Config holds the stream bearer configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// MaxFrameSize caps the MTU negotiated on every channel (default: 0xFFFF)
	MaxFrameSize int

	// AcceptTimeout bounds the handshake and the wait for the service to
	// accept or decline (default: 10s)
	AcceptTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for channel goroutines to
	// finish during graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration

	// Logger for bearer events
	Logger *slog.Logger
}

// Bearer carries OBEX over TCP. The first three bytes a dialer sends select
// the channel and announce its MTU; the listener answers with a status
// byte and its MTU.
type Bearer struct {
	config Config
	table  *bearer.Table

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
}

var _ goep.Bearer = (*Bearer)(nil)

// New creates a stream bearer posting its events to loop.
func New(cfg Config, loop *runloop.Loop) *Bearer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFrameSize <= 0 || cfg.MaxFrameSize > obex.MaxPacketLen {
		cfg.MaxFrameSize = obex.MaxPacketLen
	}
	if cfg.AcceptTimeout == 0 {
		cfg.AcceptTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bearer{
		config: cfg,
		table:  bearer.NewTable(goep.Stream, loop, cfg.Logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Kind reports goep.Stream.
func (b *Bearer) Kind() goep.BearerKind {
	return goep.Stream
}

// Addr returns the listen address once Listen has bound it.
func (b *Bearer) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Channels returns the number of open or pending channels.
func (b *Bearer) Channels() int {
	return b.table.Conns()
}

// Listen accepts channels and blocks until ctx is cancelled. Open channels
// are closed on shutdown.
func (b *Bearer) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", b.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.config.Address, err)
	}

	b.mu.Lock()
	b.addr = listener.Addr()
	b.mu.Unlock()
	b.config.Logger.Info("stream bearer started", slog.String("address", listener.Addr().String()))

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				b.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
				continue
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				if err := b.handleConn(b.ctx, conn); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					b.config.Logger.Debug("channel ended",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	<-ctx.Done()
	b.config.Logger.Info("shutdown signal received, closing stream bearer")

	if err := listener.Close(); err != nil {
		b.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	return b.Close()
}

// Close disconnects every channel and waits for their goroutines.
func (b *Bearer) Close() error {
	b.cancel()
	b.table.CloseAll()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.config.Logger.Info("all stream channels closed")
		return nil
	case <-time.After(b.config.ShutdownTimeout):
		b.config.Logger.Warn("shutdown timeout exceeded")
		return ErrShutdownTimeout
	}
}

// handleConn runs the listener side of the handshake and then reads the
// channel until it closes.
func (b *Bearer) handleConn(ctx context.Context, nc net.Conn) error {
	var hs [handshakeLen]byte
	_ = nc.SetReadDeadline(time.Now().Add(b.config.AcceptTimeout))
	if _, err := io.ReadFull(nc, hs[:]); err != nil {
		nc.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	channel := uint16(hs[0])
	peerMTU := int(binary.BigEndian.Uint16(hs[1:]))

	svc, ok := b.table.Service(channel)
	if !ok {
		reject(nc)
		return fmt.Errorf("channel %d: %w", channel, mobexerrors.ErrServiceNotFound)
	}

	c, err := b.table.NewConn(channel, nc.RemoteAddr().String(), svc.Sink)
	if err != nil {
		reject(nc)
		return err
	}
	logger := c.Logger()
	logger.Debug("incoming channel", slog.Int("channel", int(channel)), slog.Int("peer_mtu", peerMTU))
	c.Incoming(0)

	accept, timedOut := c.WaitDecision(ctx, b.config.AcceptTimeout)
	if !accept {
		reject(nc)
		if timedOut {
			logger.Warn("accept timeout")
			c.Closed()
		} else {
			c.Forget()
		}
		return nil
	}

	mtu := negotiate(peerMTU, svc.MTU, b.config.MaxFrameSize)
	reply := [handshakeLen]byte{StatusAccepted}
	binary.BigEndian.PutUint16(reply[1:], uint16(mtu))
	if _, err := nc.Write(reply[:]); err != nil {
		nc.Close()
		c.Opened(handler.StatusFailed, 0, 0)
		return err
	}
	_ = nc.SetReadDeadline(time.Time{})

	if !c.Attach(transport{nc}, mtu) {
		return mobexerrors.ErrBearerClosed
	}
	c.Opened(handler.StatusSuccess, 0, mtu)
	return b.read(c, nc)
}

func reject(nc net.Conn) {
	_, _ = nc.Write([]byte{StatusRejected, 0, 0})
	nc.Close()
}

// negotiate returns the smallest non-zero MTU.
func negotiate(mtus ...int) int {
	n := obex.MaxPacketLen
	for _, m := range mtus {
		if m > 0 && m < n {
			n = m
		}
	}
	return n
}

// read forwards inbound bytes as they arrive. Stream boundaries carry no
// meaning; the OBEX parser reassembles packets.
func (b *Bearer) read(c *bearer.Conn, nc net.Conn) error {
	defer c.Closed()

	buf := make([]byte, b.config.MaxFrameSize)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			c.Deliver(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			return err
		}
	}
}

// RegisterService accepts channels for the stream channel id.
func (b *Bearer) RegisterService(id uint16, mtu int, level goep.SecurityLevel, sink goep.EventSink) error {
	if id == 0 || id > 0xFF {
		return mobexerrors.ErrParameterOutOfRange
	}
	return b.table.Register(bearer.Service{ID: id, MTU: mtu, Level: level, Sink: sink})
}

// UnregisterService stops accepting channels for id.
func (b *Bearer) UnregisterService(id uint16) error {
	return b.table.Unregister(id)
}

// Accept completes the handshake of a pending channel.
func (b *Bearer) Accept(cid uint16) error {
	c, err := b.table.Conn(cid)
	if err != nil {
		return err
	}
	return c.Decide(true)
}

// Decline rejects a pending channel.
func (b *Bearer) Decline(cid uint16) error {
	c, err := b.table.Conn(cid)
	if err != nil {
		return err
	}
	return c.Decide(false)
}

// RequestCanSendNow asks for CanSendNowEvent once the writer is free.
func (b *Bearer) RequestCanSendNow(cid uint16) error {
	c, err := b.table.Conn(cid)
	if err != nil {
		return err
	}
	return c.RequestCanSendNow()
}

// Send writes one packet.
func (b *Bearer) Send(cid uint16, data []byte) error {
	c, err := b.table.Conn(cid)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Disconnect closes the channel.
func (b *Bearer) Disconnect(cid uint16) error {
	c, err := b.table.Conn(cid)
	if err != nil {
		return err
	}
	return c.Close()
}

// Connect dials addr and runs the dialer side of the handshake in the
// background. ChannelOpenedEvent reports the outcome.
func (b *Bearer) Connect(addr string, service uint16, mtu int, sink goep.EventSink) (uint16, error) {
	if service == 0 || service > 0xFF {
		return 0, mobexerrors.ErrParameterOutOfRange
	}
	c, err := b.table.NewConn(service, addr, sink)
	if err != nil {
		return 0, err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.dial(c, addr, uint8(service), negotiate(mtu, b.config.MaxFrameSize)); err != nil &&
			!errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			c.Logger().Debug("channel ended", slog.String("error", err.Error()))
		}
	}()
	return c.CID, nil
}

func (b *Bearer) dial(c *bearer.Conn, addr string, channel uint8, mtu int) error {
	d := net.Dialer{Timeout: b.config.AcceptTimeout}
	nc, err := d.DialContext(b.ctx, "tcp", addr)
	if err != nil {
		c.Opened(handler.StatusFailed, 0, 0)
		return err
	}

	hs := [handshakeLen]byte{channel}
	binary.BigEndian.PutUint16(hs[1:], uint16(mtu))
	_ = nc.SetDeadline(time.Now().Add(b.config.AcceptTimeout))
	if _, err := nc.Write(hs[:]); err != nil {
		nc.Close()
		c.Opened(handler.StatusFailed, 0, 0)
		return err
	}

	var reply [handshakeLen]byte
	if _, err := io.ReadFull(nc, reply[:]); err != nil {
		nc.Close()
		status := handler.StatusFailed
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			status = handler.StatusTimeout
		}
		c.Opened(status, 0, 0)
		return err
	}
	if reply[0] != StatusAccepted {
		nc.Close()
		c.Opened(handler.StatusRejected, 0, 0)
		return nil
	}
	_ = nc.SetDeadline(time.Time{})

	mtu = negotiate(mtu, int(binary.BigEndian.Uint16(reply[1:])))
	if !c.Attach(transport{nc}, mtu) {
		return mobexerrors.ErrBearerClosed
	}
	c.Opened(handler.StatusSuccess, 0, mtu)
	return b.read(c, nc)
}

type transport struct {
	net.Conn
}

func (t transport) WritePacket(data []byte) error {
	_, err := t.Write(data)
	return err
}
