package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/jsonrpc"
	"github.com/djkazic/wizards-wallet/internal/node"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/wallet"
	"github.com/djkazic/wizards-wallet/pkg/util"
)

// BlockResult is returned by getblock.
type BlockResult struct {
	Hash         string            `json:"hash"`
	Height       int32             `json:"height"`
	MainChain    bool              `json:"main_chain"`
	Header       types.BlockHeader `json:"header"`
	Difficulty   float64           `json:"difficulty"`
	HasTxData    bool              `json:"has_txdata"`
	Transactions []string          `json:"transactions,omitempty"`
}

// diff1Target is the target of difficulty 1 on every network.
var diff1Target = util.CompactToTarget(0x1d00ffff)

func difficulty(bits uint32) float64 {
	return util.TargetToDifficulty(util.CompactToTarget(bits), diff1Target)
}

func (s *Server) methodTable() map[string]*method {
	return map[string]*method{
		"help": {
			description: "List the available methods, or describe one",
			usage:       "[method]",
			maxParams:   1,
			handler:     s.handleHelp,
		},
		"getblockcount": {
			description: "Height of the best chain, or the number of blocks after the given main chain block",
			usage:       "[start_hash]",
			maxParams:   1,
			handler:     s.handleGetBlockCount,
		},
		"getbestblockhash": {
			description: "Hash of the best chain tip",
			handler:     s.handleGetBestBlockHash,
		},
		"getblock": {
			description: "Header and transaction ids of a known block",
			usage:       "<hash>",
			minParams:   1,
			maxParams:   1,
			handler:     s.handleGetBlock,
		},
		"getutxocount": {
			description: "Number of unspent outputs in the UTXO set",
			handler:     s.handleGetUTXOCount,
		},
		"getbalance": {
			description: "Spendable wallet balance in BTC",
			handler:     s.handleGetBalance,
		},
		"getnewaddress": {
			description: "Derive a fresh receiving address",
			handler:     s.handleGetNewAddress,
		},
		"sendtoaddress": {
			description: "Pay an amount in BTC to an address and broadcast it",
			usage:       "<address> <amount>",
			minParams:   2,
			maxParams:   2,
			handler:     s.handleSendToAddress,
		},
		"getpeercount": {
			description: "Number of peers that completed the handshake",
			handler:     s.handleGetPeerCount,
		},
	}
}

func blockNotFound(hash string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrCodeMisc, Message: "Block not found", Data: hash}
}

func (s *Server) handleHelp(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var name string
	if err := s.decodeParams("help", params, &name); err != nil {
		return nil, err
	}
	return s.help(name)
}

func (s *Server) handleGetBlockCount(_ context.Context, params []json.RawMessage) (interface{}, error) {
	ch := s.backend.Chain()
	if len(params) == 0 {
		return ch.Height(), nil
	}

	var raw string
	if err := s.decodeParams("getblockcount", params, &raw); err != nil {
		return nil, err
	}
	hash, err := types.NewHashFromStr(raw)
	if err != nil {
		return nil, usageError("getblockcount", s.methods["getblockcount"].usage)
	}
	if !ch.IsMainChain(hash) {
		return nil, blockNotFound(raw)
	}
	height, _ := ch.HeightOf(hash)
	return ch.Height() - height, nil
}

func (s *Server) handleGetBestBlockHash(context.Context, []json.RawMessage) (interface{}, error) {
	return s.backend.Chain().BestHash().String(), nil
}

func (s *Server) handleGetBlock(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var raw string
	if err := s.decodeParams("getblock", params, &raw); err != nil {
		return nil, err
	}
	hash, err := types.NewHashFromStr(raw)
	if err != nil {
		return nil, usageError("getblock", s.methods["getblock"].usage)
	}

	ch := s.backend.Chain()
	header, ok := ch.Get(hash)
	if !ok {
		return nil, blockNotFound(raw)
	}
	height, _ := ch.HeightOf(hash)
	res := &BlockResult{
		Hash:       hash.String(),
		Height:     height,
		MainChain:  ch.IsMainChain(hash),
		Header:     header,
		Difficulty: difficulty(header.Bits),
	}
	if b, ok := s.backend.Block(hash); ok {
		res.HasTxData = true
		for _, tx := range b.Transactions {
			res.Transactions = append(res.Transactions, tx.Hash().String())
		}
	}
	return res, nil
}

func (s *Server) handleGetUTXOCount(context.Context, []json.RawMessage) (interface{}, error) {
	return s.backend.UTXOs().Count(), nil
}

func (s *Server) handleGetBalance(context.Context, []json.RawMessage) (interface{}, error) {
	return btcutil.Amount(s.backend.Wallet().Balance()).ToBTC(), nil
}

func (s *Server) handleGetNewAddress(context.Context, []json.RawMessage) (interface{}, error) {
	a, err := s.backend.Wallet().NewAddress()
	if err != nil {
		return nil, err
	}
	return a.String(), nil
}

func (s *Server) handleSendToAddress(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	var (
		addr string
		btc  float64
	)
	if err := s.decodeParams("sendtoaddress", params, &addr, &btc); err != nil {
		return nil, err
	}
	amount, err := btcutil.NewAmount(btc)
	if err != nil || amount <= 0 {
		return nil, jsonrpc.NewError(jsonrpc.ErrCodeInvalidParams, "Invalid amount %v", btc)
	}

	tx, err := s.backend.Send(ctx, addr, int64(amount))
	if err != nil {
		return nil, sendError(err)
	}
	return tx.Hash().String(), nil
}

func (s *Server) handleGetPeerCount(context.Context, []json.RawMessage) (interface{}, error) {
	return s.backend.PeerCount(), nil
}

func sendError(err error) error {
	switch {
	case errors.Is(err, address.ErrChecksum),
		errors.Is(err, address.ErrWrongNetwork),
		errors.Is(err, address.ErrBadLength):
		return jsonrpc.NewError(jsonrpc.ErrCodeInvalidAddress, "Invalid address: %v", err)
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return jsonrpc.NewError(jsonrpc.ErrCodeInsufficientFunds, "%v", err)
	case errors.Is(err, node.ErrNoPeers):
		return jsonrpc.NewError(jsonrpc.ErrCodeNotConnected, "%v", err)
	}
	return err
}
