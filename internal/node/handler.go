package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/peer"
	"github.com/djkazic/wizards-wallet/internal/types"
)

// The peer.Handler methods run on peer read goroutines. Anything that
// writes chain or UTXO state is handed to the event loop.

func (n *Node) OnReady(p *peer.Peer) {
	n.requestHeaders(p)
}

func (n *Node) OnInv(p *peer.Peer, msg *peer.MsgInv) {
	var want []peer.InvVect
	for _, iv := range msg.Inventory {
		switch iv.Type {
		case peer.InvTypeBlock:
			if _, known := n.chain.Get(iv.Hash); !known && n.markRequested(iv.Hash) {
				want = append(want, iv)
			}
		case peer.InvTypeTx:
			if n.markRequested(iv.Hash) {
				want = append(want, iv)
			}
		}
	}
	if len(want) == 0 {
		return
	}
	if err := p.Send(&peer.MsgGetData{Inventory: want}); err != nil {
		n.logger.Debug("getdata not sent", zap.String("peer", p.Addr()), zap.Error(err))
	}
}

func (n *Node) OnGetData(p *peer.Peer, msg *peer.MsgGetData) {
	var missing []peer.InvVect
	for _, iv := range msg.Inventory {
		var reply peer.Message
		n.mu.RLock()
		switch iv.Type {
		case peer.InvTypeBlock:
			if b, ok := n.recent[iv.Hash]; ok {
				reply = &peer.MsgBlock{Block: b}
			}
		case peer.InvTypeTx:
			if tx, ok := n.sent[iv.Hash]; ok {
				reply = &peer.MsgTx{Tx: tx}
			}
		}
		n.mu.RUnlock()

		if reply == nil {
			missing = append(missing, iv)
			continue
		}
		if err := p.Send(reply); err != nil {
			return
		}
	}
	if len(missing) > 0 {
		p.Send(&peer.MsgNotFound{Inventory: missing})
	}
}

func (n *Node) OnNotFound(p *peer.Peer, msg *peer.MsgNotFound) {
	n.mu.Lock()
	for _, iv := range msg.Inventory {
		delete(n.requested, iv.Hash)
	}
	n.mu.Unlock()
	n.logger.Debug("peer lacks requested data", zap.String("peer", p.Addr()), zap.Int("count", len(msg.Inventory)))
}

func (n *Node) OnTx(p *peer.Peer, msg *peer.MsgTx) {
	select {
	case n.txCh <- TxEvent{Peer: p, Tx: msg.Tx}:
	case <-n.quit:
	}
}

func (n *Node) OnBlock(p *peer.Peer, msg *peer.MsgBlock) {
	select {
	case n.blockCh <- BlockEvent{Peer: p, Block: msg.Block}:
	case <-n.quit:
	}
}

func (n *Node) OnHeaders(p *peer.Peer, msg *peer.MsgHeaders) {
	select {
	case n.headersCh <- HeadersEvent{Peer: p, Headers: msg.Headers}:
	case <-n.quit:
	}
}

func (n *Node) OnGetHeaders(p *peer.Peer, msg *peer.MsgGetHeaders) {
	headers := n.chain.HeadersAfter(msg.Locator, msg.Stop, peer.MaxHeadersPerMsg)
	p.Send(&peer.MsgHeaders{Headers: headers})
}

func (n *Node) OnDisconnect(p *peer.Peer, err error) {}

func (n *Node) requestHeaders(p *peer.Peer) {
	msg := peer.NewGetHeaders(n.chain.LocatorHashes(), types.ZeroHash)
	if err := p.Send(msg); err != nil {
		n.logger.Debug("getheaders not sent", zap.String("peer", p.Addr()), zap.Error(err))
	}
}

// requestTimeout is how long before an unanswered request may be repeated.
const requestTimeout = 2 * time.Minute

// markRequested records hash as asked for. It reports false if a request
// for it is already outstanding.
func (n *Node) markRequested(hash types.Hash256) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if at, ok := n.requested[hash]; ok && time.Since(at) < requestTimeout {
		return false
	}
	n.requested[hash] = time.Now()
	return true
}
