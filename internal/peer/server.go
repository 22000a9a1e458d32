package peer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/metrics"
)

const dialTimeout = 10 * time.Second

// Server manages inbound and outbound peers that share one Config.
type Server struct {
	cfg    Config
	logger *zap.Logger
	nonce  uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	peers    map[*Peer]struct{}
	listener net.Listener
}

// NewServer creates a server. Nothing is dialed or bound until Start or
// Connect.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	cfg.setDefaults()
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("version nonce: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.Named("peer"),
		nonce:  binary.LittleEndian.Uint64(b[:]),
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[*Peer]struct{}),
	}, nil
}

// Start listens on addr and accepts inbound peers in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr is the bound listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		s.addPeer(conn, true)
	}
}

// Connect dials addr and starts the handshake. It returns once the
// connection is up; use WaitReady for the handshake.
func (s *Server) Connect(ctx context.Context, addr string) (*Peer, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	p := s.addPeer(conn, false)
	if p == nil {
		return nil, ErrPeerClosed
	}
	return p, nil
}

func (s *Server) addPeer(conn net.Conn, inbound bool) *Peer {
	if s.ctx.Err() != nil {
		conn.Close()
		return nil
	}

	p := newPeer(&s.cfg, conn, inbound, s.nonce, s.logger)
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	p.logger.Debug("peer connected")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		p.run(s.ctx)
		s.removePeer(p)
	}()
	go func() {
		defer s.wg.Done()
		select {
		case <-p.Ready():
			metrics.PeersConnected.Set(float64(s.PeerCount()))
		case <-p.Done():
		}
	}()
	return p
}

func (s *Server) removePeer(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	metrics.PeersConnected.Set(float64(s.PeerCount()))

	err := p.Err()
	switch {
	case IsProtocolError(err):
		metrics.ProtocolErrors.Inc()
		p.logger.Warn("peer dropped", zap.Error(err))
	case err == nil, errors.Is(err, ErrPeerClosed), errors.Is(err, context.Canceled):
		p.logger.Info("peer disconnected")
	default:
		p.logger.Info("peer disconnected", zap.Error(err))
	}
	s.cfg.Handler.OnDisconnect(p, err)
}

// Peers returns a snapshot of the peers that completed the handshake.
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		if p.IsReady() {
			out = append(out, p)
		}
	}
	return out
}

// PeerCount counts Ready peers.
func (s *Server) PeerCount() int {
	return len(s.Peers())
}

// Broadcast queues msg on every Ready peer and returns how many took it.
func (s *Server) Broadcast(msg Message) int {
	sent := 0
	for _, p := range s.Peers() {
		if err := p.Send(msg); err == nil {
			sent++
		}
	}
	return sent
}

// Stop closes the listener and every peer, then waits for their
// goroutines.
func (s *Server) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for p := range s.peers {
		p.Close(ErrPeerClosed)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
