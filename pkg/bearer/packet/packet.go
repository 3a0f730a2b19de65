// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/absmach/mobex/pkg/bearer"
	mobexerrors "github.com/absmach/mobex/pkg/errors"
	"github.com/absmach/mobex/pkg/goep"
	"github.com/absmach/mobex/pkg/handler"
	"github.com/absmach/mobex/pkg/obex"
	"github.com/absmach/mobex/pkg/runloop"
	"github.com/gorilla/websocket"
)

// MTUHeader carries the largest OBEX packet the sender accepts, in both
// the upgrade request and its response.
const MTUHeader = "X-Obex-Mtu"

// DefaultPath prefixes the PSM in upgrade URLs.
const DefaultPath = "/psm/"

// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Config holds the packet bearer configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// Path prefixes the PSM in upgrade URLs (default: /psm/)
	Path string

	// MaxMessageSize is the largest inbound packet accepted (default: 0xFFFF)
	MaxMessageSize int

	// AcceptTimeout bounds the upgrade handshake and the wait for the
	// service to accept or decline (default: 10s)
	AcceptTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for channels to finish
	// during graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration

	// Logger for bearer events
	Logger *slog.Logger
}

// Bearer carries OBEX over websocket. Every OBEX packet is exactly one
// binary message.
type Bearer struct {
	config   Config
	table    *bearer.Table
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
}

var _ goep.Bearer = (*Bearer)(nil)

// New creates a packet bearer posting its events to loop.
func New(cfg Config, loop *runloop.Loop) *Bearer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxMessageSize <= 0 || cfg.MaxMessageSize > obex.MaxPacketLen {
		cfg.MaxMessageSize = obex.MaxPacketLen
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
		table:  bearer.NewTable(goep.Packet, loop, cfg.Logger),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.AcceptTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.AcceptTimeout,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Kind reports goep.Packet.
func (b *Bearer) Kind() goep.BearerKind {
	return goep.Packet
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

// Handler returns the HTTP handler upgrading {Path}{psm} requests.
func (b *Bearer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+b.config.Path+"{psm}", b.serveUpgrade)
	return mux
}

// Listen serves upgrades and blocks until ctx is cancelled. Open channels
// are closed on shutdown.
func (b *Bearer) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", b.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.config.Address, err)
	}

	b.mu.Lock()
	b.addr = listener.Addr()
	b.mu.Unlock()

	server := &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: b.config.AcceptTimeout,
	}
	b.config.Logger.Info("packet bearer started", slog.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		b.config.Logger.Info("shutdown signal received, closing packet bearer")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.config.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			b.config.Logger.Error("error during shutdown", slog.String("error", err.Error()))
		}
		return b.Close()

	case err := <-errCh:
		_ = b.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
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
		b.config.Logger.Info("all packet channels closed")
		return nil
	case <-time.After(b.config.ShutdownTimeout):
		b.config.Logger.Warn("shutdown timeout exceeded")
		return ErrShutdownTimeout
	}
}

func peerMTU(h http.Header) int {
	mtu, err := strconv.Atoi(h.Get(MTUHeader))
	if err != nil || mtu <= 0 || mtu > obex.MaxPacketLen {
		return obex.MaxPacketLen
	}
	return mtu
}

func (b *Bearer) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	b.wg.Add(1)
	defer b.wg.Done()

	psm, err := strconv.ParseUint(r.PathValue("psm"), 0, 16)
	if err != nil || psm == 0 {
		http.Error(w, "invalid psm", http.StatusBadRequest)
		return
	}
	svc, ok := b.table.Service(uint16(psm))
	if !ok {
		http.Error(w, "service not found", http.StatusNotFound)
		return
	}

	c, err := b.table.NewConn(svc.ID, r.RemoteAddr, svc.Sink)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	logger := c.Logger()
	remoteMTU := peerMTU(r.Header)
	logger.Debug("incoming channel", slog.Int("psm", int(psm)), slog.Int("peer_mtu", remoteMTU))
	c.Incoming(0)

	accept, timedOut := c.WaitDecision(b.ctx, b.config.AcceptTimeout)
	if !accept {
		if timedOut {
			logger.Warn("accept timeout")
			c.Closed()
		} else {
			c.Forget()
		}
		http.Error(w, "connection declined", http.StatusForbidden)
		return
	}

	localMTU := min(max(svc.MTU, obex.PacketHeaderLen), b.config.MaxMessageSize)
	hdr := http.Header{}
	hdr.Set(MTUHeader, strconv.Itoa(localMTU))
	ws, err := b.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		logger.Warn("upgrade failed", slog.String("error", err.Error()))
		c.Opened(handler.StatusFailed, 0, 0)
		return
	}
	ws.SetReadLimit(int64(localMTU))

	if !c.Attach(transport{ws}, remoteMTU) {
		return
	}
	c.Opened(handler.StatusSuccess, 0, remoteMTU)
	if err := b.read(c, ws); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.Debug("channel ended", slog.String("error", err.Error()))
	}
}

// read posts one DataEvent per binary message.
func (b *Bearer) read(c *bearer.Conn, ws *websocket.Conn) error {
	defer c.Closed()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.BinaryMessage {
			c.Logger().Warn("dropped non-binary message", slog.Int("type", mt))
			continue
		}
		c.Deliver(data)
	}
}

// RegisterService accepts channels for psm.
func (b *Bearer) RegisterService(psm uint16, mtu int, level goep.SecurityLevel, sink goep.EventSink) error {
	if psm == 0 {
		return mobexerrors.ErrParameterOutOfRange
	}
	return b.table.Register(bearer.Service{ID: psm, MTU: mtu, Level: level, Sink: sink})
}

// UnregisterService stops accepting channels for psm.
func (b *Bearer) UnregisterService(psm uint16) error {
	return b.table.Unregister(psm)
}

// Accept upgrades a pending channel.
func (b *Bearer) Accept(cid uint16) error {
	c, err := b.table.Conn(cid)
	if err != nil {
		return err
	}
	return c.Decide(true)
}

// Decline answers a pending channel with 403 Forbidden.
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

// Send writes one packet as one binary message.
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

// Connect dials ws://addr{Path}{psm} in the background.
// ChannelOpenedEvent reports the outcome.
func (b *Bearer) Connect(addr string, psm uint16, mtu int, sink goep.EventSink) (uint16, error) {
	if psm == 0 {
		return 0, mobexerrors.ErrParameterOutOfRange
	}
	c, err := b.table.NewConn(psm, addr, sink)
	if err != nil {
		return 0, err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.dial(c, addr, psm, mtu); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.Logger().Debug("channel ended", slog.String("error", err.Error()))
		}
	}()
	return c.CID, nil
}

func (b *Bearer) dial(c *bearer.Conn, addr string, psm uint16, mtu int) error {
	localMTU := b.config.MaxMessageSize
	if mtu > 0 {
		localMTU = min(mtu, localMTU)
	}
	hdr := http.Header{}
	hdr.Set(MTUHeader, strconv.Itoa(localMTU))

	url := fmt.Sprintf("ws://%s%s%d", addr, b.config.Path, psm)
	ws, resp, err := b.dialer.DialContext(b.ctx, url, hdr)
	if err != nil {
		status := handler.StatusFailed
		var nerr net.Error
		switch {
		case resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound):
			status = handler.StatusRejected
		case errors.As(err, &nerr) && nerr.Timeout():
			status = handler.StatusTimeout
		}
		c.Opened(status, 0, 0)
		return err
	}
	ws.SetReadLimit(int64(localMTU))

	remoteMTU := peerMTU(resp.Header)
	if !c.Attach(transport{ws}, remoteMTU) {
		return mobexerrors.ErrBearerClosed
	}
	c.Opened(handler.StatusSuccess, 0, remoteMTU)
	return b.read(c, ws)
}

type transport struct {
	ws *websocket.Conn
}

func (t transport) WritePacket(data []byte) error {
	return t.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a close frame and closes the connection.
func (t transport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.ws.Close()
}
