package rpc

import (
	"context"

	"github.com/djkazic/wizards-wallet/internal/jsonrpc"
)

// Client is a typed client for the node's RPC server.
type Client struct {
	c *jsonrpc.Client
}

// NewClient talks to the server at url, e.g. "http://localhost:8001".
func NewClient(url, user, password string) *Client {
	return &Client{c: jsonrpc.NewClient(url, user, password)}
}

// Call invokes an arbitrary method.
func (c *Client) Call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	return c.c.Call(ctx, method, result, params...)
}

func (c *Client) GetBlockCount(ctx context.Context) (int32, error) {
	var n int32
	err := c.c.Call(ctx, "getblockcount", &n)
	return n, err
}

func (c *Client) GetBestBlockHash(ctx context.Context) (string, error) {
	var h string
	err := c.c.Call(ctx, "getbestblockhash", &h)
	return h, err
}

func (c *Client) GetBlock(ctx context.Context, hash string) (*BlockResult, error) {
	var res BlockResult
	if err := c.c.Call(ctx, "getblock", &res, hash); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetUTXOCount(ctx context.Context) (int, error) {
	var n int
	err := c.c.Call(ctx, "getutxocount", &n)
	return n, err
}

// GetBalance returns the wallet balance in BTC.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var btc float64
	err := c.c.Call(ctx, "getbalance", &btc)
	return btc, err
}

func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	var a string
	err := c.c.Call(ctx, "getnewaddress", &a)
	return a, err
}

// SendToAddress pays btc to addr and returns the txid.
func (c *Client) SendToAddress(ctx context.Context, addr string, btc float64) (string, error) {
	var txid string
	err := c.c.Call(ctx, "sendtoaddress", &txid, addr, btc)
	return txid, err
}

func (c *Client) GetPeerCount(ctx context.Context) (int, error) {
	var n int
	err := c.c.Call(ctx, "getpeercount", &n)
	return n, err
}
