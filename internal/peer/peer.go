package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/djkazic/wizards-wallet/internal/metrics"
)

const (
	// DefaultHandshakeTimeout bounds the version/verack exchange.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultRateLimit and DefaultRateBurst bound inbound messages per peer.
	DefaultRateLimit = rate.Limit(200)
	DefaultRateBurst = 500

	sendQueueSize = 64
	writeTimeout  = 30 * time.Second
)

// Handler receives the messages of Ready peers. Calls for one peer come
// from that peer's read goroutine, in order.
type Handler interface {
	OnReady(p *Peer)
	OnInv(p *Peer, msg *MsgInv)
	OnGetData(p *Peer, msg *MsgGetData)
	OnNotFound(p *Peer, msg *MsgNotFound)
	OnTx(p *Peer, msg *MsgTx)
	OnBlock(p *Peer, msg *MsgBlock)
	OnHeaders(p *Peer, msg *MsgHeaders)
	OnGetHeaders(p *Peer, msg *MsgGetHeaders)
	OnDisconnect(p *Peer, err error)
}

// NopHandler implements Handler by ignoring everything. Embed it to
// override only some callbacks.
type NopHandler struct{}

func (NopHandler) OnReady(*Peer)                      {}
func (NopHandler) OnInv(*Peer, *MsgInv)               {}
func (NopHandler) OnGetData(*Peer, *MsgGetData)       {}
func (NopHandler) OnNotFound(*Peer, *MsgNotFound)     {}
func (NopHandler) OnTx(*Peer, *MsgTx)                 {}
func (NopHandler) OnBlock(*Peer, *MsgBlock)           {}
func (NopHandler) OnHeaders(*Peer, *MsgHeaders)       {}
func (NopHandler) OnGetHeaders(*Peer, *MsgGetHeaders) {}
func (NopHandler) OnDisconnect(*Peer, error)          {}

// Config is shared by every peer of a Server.
type Config struct {
	Net              uint32
	MaxPayload       uint32
	HandshakeTimeout time.Duration
	UserAgent        string
	Services         uint64
	RateLimit        rate.Limit
	RateBurst        int
	// StartHeight reports our best height for outgoing version messages.
	StartHeight func() int32
	Handler     Handler
}

func (c *Config) setDefaults() {
	if c.MaxPayload == 0 {
		c.MaxPayload = DefaultMaxPayload
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateBurst == 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.StartHeight == nil {
		c.StartHeight = func() int32 { return 0 }
	}
	if c.Handler == nil {
		c.Handler = NopHandler{}
	}
}

// Peer is one connection. It owns its socket: a read goroutine decodes and
// dispatches, a write goroutine drains the send queue.
type Peer struct {
	cfg     *Config
	conn    net.Conn
	inbound bool
	nonce   uint64 // our version nonce
	logger  *zap.Logger

	fsm     *fsm.FSM
	limiter *rate.Limiter

	sendQueue chan Message
	quit      chan struct{}
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	remote *MsgVersion
	err    error
}

func newPeer(cfg *Config, conn net.Conn, inbound bool, nonce uint64, logger *zap.Logger) *Peer {
	dir := "outbound"
	if inbound {
		dir = "inbound"
	}
	return &Peer{
		cfg:       cfg,
		conn:      conn,
		inbound:   inbound,
		nonce:     nonce,
		logger:    logger.With(zap.String("addr", conn.RemoteAddr().String()), zap.String("dir", dir)),
		fsm:       newHandshakeFSM(),
		limiter:   rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		sendQueue: make(chan Message, sendQueueSize),
		quit:      make(chan struct{}),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Addr is the remote address.
func (p *Peer) Addr() string { return p.conn.RemoteAddr().String() }

// Inbound reports whether the remote side dialed us.
func (p *Peer) Inbound() bool { return p.inbound }

// State is the current handshake state.
func (p *Peer) State() string { return p.fsm.Current() }

// IsReady reports whether the handshake completed and the peer is open.
func (p *Peer) IsReady() bool {
	select {
	case <-p.quit:
		return false
	case <-p.ready:
		return true
	default:
		return false
	}
}

// Ready is closed once the handshake completes.
func (p *Peer) Ready() <-chan struct{} { return p.ready }

// Done is closed once both goroutines have exited.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Err is why the peer closed, nil while it is open.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// RemoteVersion is the peer's version message, nil before it arrives.
func (p *Peer) RemoteVersion() *MsgVersion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

// WaitReady blocks until the handshake completes, the peer closes, or ctx
// ends.
func (p *Peer) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-p.quit:
		if err := p.Err(); err != nil {
			return err
		}
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues msg for the write goroutine.
func (p *Peer) Send(msg Message) error {
	select {
	case p.sendQueue <- msg:
		return nil
	case <-p.quit:
		return ErrPeerClosed
	}
}

// Close shuts the connection down. The first reason given wins.
func (p *Peer) Close(reason error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.err = reason
		p.mu.Unlock()
		close(p.quit)
		p.conn.Close()
	})
}

// run drives the connection until it closes. ctx cancellation closes it.
func (p *Peer) run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.writeLoop()
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			p.Close(ctx.Err())
		case <-p.quit:
		}
	}()

	p.conn.SetReadDeadline(time.Now().Add(p.cfg.HandshakeTimeout))
	if !p.inbound {
		if err := p.sendVersion(ctx); err != nil {
			p.Close(err)
		}
	}
	p.readLoop(ctx)

	wg.Wait()
	p.fsm.Event(context.Background(), EventDisconnect)
	close(p.done)
}

func (p *Peer) versionMessage() *MsgVersion {
	return &MsgVersion{
		ProtocolVersion: ProtocolVersion,
		Services:        p.cfg.Services,
		Timestamp:       time.Now(),
		AddrRecv:        NewNetAddress(p.conn.RemoteAddr(), 0),
		AddrFrom:        NewNetAddress(p.conn.LocalAddr(), p.cfg.Services),
		Nonce:           p.nonce,
		UserAgent:       p.cfg.UserAgent,
		StartHeight:     p.cfg.StartHeight(),
		Relay:           false,
	}
}

func (p *Peer) sendVersion(ctx context.Context) error {
	if err := fire(ctx, p.fsm, EventSendVersion); err != nil {
		return err
	}
	return p.Send(p.versionMessage())
}

func (p *Peer) readLoop(ctx context.Context) {
	for {
		msg, err := ReadMessage(p.conn, p.cfg.Net, p.cfg.MaxPayload)
		if err != nil {
			p.Close(readErr(err))
			return
		}
		metrics.MessagesReceived.WithLabelValues(msg.Command()).Inc()

		if !p.limiter.Allow() {
			p.logger.Warn("peer rate limited", zap.String("command", msg.Command()))
			continue
		}

		if err := p.handle(ctx, msg); err != nil {
			p.Close(err)
			return
		}
	}
}

// readErr separates orderly shutdown from failures worth reporting.
func readErr(err error) error {
	var ne net.Error
	switch {
	case IsProtocolError(err):
		return err
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return ErrPeerClosed
	case errors.As(err, &ne) && ne.Timeout():
		return protocolErr(err, "read timed out")
	default:
		return fmt.Errorf("read: %w", err)
	}
}

func (p *Peer) handle(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case *MsgVersion:
		return p.onVersion(ctx, m)
	case *MsgVerAck:
		return p.onVerAck(ctx)
	case *MsgUnknown:
		p.logger.Debug("ignoring unknown command", zap.String("command", m.Cmd), zap.Int("bytes", len(m.Payload)))
		return nil
	}

	if p.State() != StateReady {
		return protocolErr(nil, "%s received before handshake completed (state %s)", msg.Command(), p.State())
	}

	h := p.cfg.Handler
	switch m := msg.(type) {
	case *MsgPing:
		return p.Send(&MsgPong{Nonce: m.Nonce})
	case *MsgPong:
	case *MsgInv:
		h.OnInv(p, m)
	case *MsgGetData:
		h.OnGetData(p, m)
	case *MsgNotFound:
		h.OnNotFound(p, m)
	case *MsgTx:
		h.OnTx(p, m)
	case *MsgBlock:
		h.OnBlock(p, m)
	case *MsgHeaders:
		h.OnHeaders(p, m)
	case *MsgGetHeaders:
		h.OnGetHeaders(p, m)
	default:
		p.logger.Debug("ignoring message", zap.String("command", msg.Command()))
	}
	return nil
}

func (p *Peer) onVersion(ctx context.Context, m *MsgVersion) error {
	if err := fire(ctx, p.fsm, EventRecvVersion); err != nil {
		return err
	}
	if m.Nonce == p.nonce {
		return protocolErr(nil, "connected to self")
	}

	p.mu.Lock()
	p.remote = m
	p.mu.Unlock()

	p.logger.Debug("received version",
		zap.Int32("version", m.ProtocolVersion),
		zap.String("user_agent", m.UserAgent),
		zap.Int32("start_height", m.StartHeight),
	)

	if p.inbound {
		if err := p.Send(p.versionMessage()); err != nil {
			return err
		}
	}
	return p.Send(&MsgVerAck{})
}

func (p *Peer) onVerAck(ctx context.Context) error {
	if err := fire(ctx, p.fsm, EventRecvVerack); err != nil {
		return err
	}
	if err := fire(ctx, p.fsm, EventReady); err != nil {
		return err
	}
	p.conn.SetReadDeadline(time.Time{})
	close(p.ready)
	p.logger.Info("peer ready")
	p.cfg.Handler.OnReady(p)
	return nil
}

func (p *Peer) writeLoop() {
	for {
		select {
		case msg := <-p.sendQueue:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := WriteMessage(p.conn, p.cfg.Net, msg); err != nil {
				p.Close(fmt.Errorf("write %s: %w", msg.Command(), err))
				return
			}
		case <-p.quit:
			return
		}
	}
}
