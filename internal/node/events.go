package node

import (
	"github.com/djkazic/wizards-wallet/internal/peer"
	"github.com/djkazic/wizards-wallet/internal/types"
)

// Event types for the node's event loop.

// BlockEvent carries a block received from a peer.
type BlockEvent struct {
	Peer  *peer.Peer
	Block *types.Block
}

// TxEvent carries a loose transaction received from a peer.
type TxEvent struct {
	Peer *peer.Peer
	Tx   *types.Tx
}

// HeadersEvent carries a headers message.
type HeadersEvent struct {
	Peer    *peer.Peer
	Headers []types.BlockHeader
}
