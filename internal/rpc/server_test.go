package rpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/chain"
	"github.com/djkazic/wizards-wallet/internal/feesource"
	"github.com/djkazic/wizards-wallet/internal/jsonrpc"
	"github.com/djkazic/wizards-wallet/internal/node"
	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/store"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/utxo"
	"github.com/djkazic/wizards-wallet/internal/wallet"
	"github.com/djkazic/wizards-wallet/testutil"
)

var regtest = params.RegTest

type fakeBackend struct {
	chain   *chain.Chain
	utxos   *utxo.Set
	wallet  *wallet.Wallet
	blocks  map[types.Hash256]*types.Block
	peers   int
	sendErr error
	sent    []int64
}

func (f *fakeBackend) Chain() *chain.Chain    { return f.chain }
func (f *fakeBackend) UTXOs() *utxo.Set       { return f.utxos }
func (f *fakeBackend) Wallet() *wallet.Wallet { return f.wallet }
func (f *fakeBackend) PeerCount() int         { return f.peers }

func (f *fakeBackend) Block(hash types.Hash256) (*types.Block, bool) {
	b, ok := f.blocks[hash]
	return b, ok
}

func (f *fakeBackend) Send(_ context.Context, addr string, amount int64) (*types.Tx, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	to, err := address.Decode(addr, regtest)
	if err != nil {
		return nil, err
	}
	f.sent = append(f.sent, amount)
	return &types.Tx{Version: 1, TxOut: []*types.TxOut{{Value: amount, PkScript: to.PkScript()}}}, nil
}

func newBackend(t *testing.T) *fakeBackend {
	t.Helper()
	seed, err := wallet.SeedFromMnemonic(testutil.Mnemonic, "")
	require.NoError(t, err)
	keys, err := wallet.NewKeystore(seed, regtest, store.NewMemStore())
	require.NoError(t, err)

	set := utxo.New(regtest.GenesisHash)
	return &fakeBackend{
		chain:  chain.New(regtest.GenesisBlock.Header, regtest.PowLimitBits),
		utxos:  set,
		wallet: wallet.New(keys, set, feesource.Static(1000), regtest, wallet.DefaultDustThreshold, zap.NewNop()),
		blocks: make(map[types.Hash256]*types.Block),
	}
}

// mine builds a regtest block on prev and adds its header to the chain.
func (f *fakeBackend) mine(t *testing.T, prev types.BlockHeader, salt uint32) *types.Block {
	t.Helper()
	b := testutil.MineBlock(t, prev, salt, []byte{0x51})
	_, err := f.chain.AddHeader(b.Header)
	require.NoError(t, err)
	return b
}

func newTestServer(t *testing.T, cfg Config, backend Backend) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(cfg, backend, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func requireRPCError(t *testing.T, err error, code int) *jsonrpc.Error {
	t.Helper()
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr), "expected RPC error, got %v", err)
	require.Equal(t, code, rpcErr.Code, rpcErr.Message)
	return rpcErr
}

func TestChainMethods(t *testing.T) {
	b := newBackend(t)
	b1 := b.mine(t, regtest.GenesisBlock.Header, 1)
	b2 := b.mine(t, b1.Header, 2)
	b.blocks[b2.Hash()] = b2

	srv := newTestServer(t, Config{}, b)
	c := NewClient(srv.URL, "", "")
	ctx := context.Background()

	height, err := c.GetBlockCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), height)

	best, err := c.GetBestBlockHash(ctx)
	require.NoError(t, err)
	require.Equal(t, b2.Hash(), testutil.MustHash(t, best))

	var after int32
	require.NoError(t, c.Call(ctx, "getblockcount", &after, regtest.GenesisHash.String()))
	require.Equal(t, int32(2), after)
	require.NoError(t, c.Call(ctx, "getblockcount", &after, b1.Hash().String()))
	require.Equal(t, int32(1), after)

	unknown := types.Hash256{0x42}.String()
	err = c.Call(ctx, "getblockcount", nil, unknown)
	rpcErr := requireRPCError(t, err, jsonrpc.ErrCodeMisc)
	require.Equal(t, "Block not found", rpcErr.Message)
	require.Equal(t, unknown, rpcErr.Data)

	t.Run("getblock with body", func(t *testing.T) {
		res, err := c.GetBlock(ctx, b2.Hash().String())
		require.NoError(t, err)
		require.Equal(t, int32(2), res.Height)
		require.True(t, res.MainChain)
		require.True(t, res.HasTxData)
		require.Equal(t, b2.Header, res.Header)
		require.InDelta(t, 4.656542373906925e-10, res.Difficulty, 1e-18)
		require.Equal(t, []string{b2.Transactions[0].Hash().String()}, res.Transactions)
	})

	t.Run("getblock header only", func(t *testing.T) {
		res, err := c.GetBlock(ctx, b1.Hash().String())
		require.NoError(t, err)
		require.Equal(t, int32(1), res.Height)
		require.False(t, res.HasTxData)
		require.Empty(t, res.Transactions)
	})

	t.Run("getblock unknown", func(t *testing.T) {
		_, err := c.GetBlock(ctx, unknown)
		rpcErr := requireRPCError(t, err, jsonrpc.ErrCodeMisc)
		require.Equal(t, "Block not found", rpcErr.Message)
	})

	count, err := c.GetUTXOCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(t, Config{}, newBackend(t))
	err := NewClient(srv.URL, "", "").Call(context.Background(), "frobnicate", nil)
	rpcErr := requireRPCError(t, err, jsonrpc.ErrCodeMethodNotFound)
	require.Equal(t, "frobnicate", rpcErr.Data)
}

func TestUsageErrors(t *testing.T) {
	srv := newTestServer(t, Config{}, newBackend(t))
	c := NewClient(srv.URL, "", "")
	ctx := context.Background()

	tests := []struct {
		method string
		params []interface{}
		want   string
	}{
		{"getblock", nil, "Usage: getblock <hash>"},
		{"getblock", []interface{}{"zz"}, "Usage: getblock <hash>"},
		{"getbalance", []interface{}{1}, "Usage: getbalance"},
		{"sendtoaddress", []interface{}{"addr"}, "Usage: sendtoaddress <address> <amount>"},
		{"sendtoaddress", []interface{}{1, 2}, "Usage: sendtoaddress <address> <amount>"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			err := c.Call(ctx, tt.method, nil, tt.params...)
			rpcErr := requireRPCError(t, err, jsonrpc.ErrCodeInvalidParams)
			require.Equal(t, tt.want, rpcErr.Message)
		})
	}
}

func TestHelp(t *testing.T) {
	srv := newTestServer(t, Config{}, newBackend(t))
	c := NewClient(srv.URL, "", "")
	ctx := context.Background()

	var all map[string]HelpEntry
	require.NoError(t, c.Call(ctx, "help", &all))
	for _, name := range []string{"help", "getblockcount", "getbestblockhash", "getblock", "getutxocount",
		"getbalance", "getnewaddress", "sendtoaddress", "getpeercount"} {
		require.Contains(t, all, name)
	}

	var one HelpEntry
	require.NoError(t, c.Call(ctx, "help", &one, "getblock"))
	require.Equal(t, "<hash>", one.Usage)
}

func TestWalletMethods(t *testing.T) {
	b := newBackend(t)
	b.peers = 3
	srv := newTestServer(t, Config{}, b)
	c := NewClient(srv.URL, "", "")
	ctx := context.Background()

	addr, err := c.GetNewAddress(ctx)
	require.NoError(t, err)
	decoded, err := address.Decode(addr, regtest)
	require.NoError(t, err)
	require.True(t, b.wallet.Keys().Owns(decoded))

	balance, err := c.GetBalance(ctx)
	require.NoError(t, err)
	require.Zero(t, balance)

	peers, err := c.GetPeerCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, peers)

	txid, err := c.SendToAddress(ctx, addr, 0.5)
	require.NoError(t, err)
	require.Len(t, txid, 64)
	require.Equal(t, []int64{50_000_000}, b.sent)

	_, err = c.SendToAddress(ctx, addr, 0)
	requireRPCError(t, err, jsonrpc.ErrCodeInvalidParams)

	t.Run("error codes", func(t *testing.T) {
		tests := []struct {
			err  error
			code int
		}{
			{&wallet.InsufficientFundsError{Need: 10, Have: 1}, jsonrpc.ErrCodeInsufficientFunds},
			{node.ErrNoPeers, jsonrpc.ErrCodeNotConnected},
			{address.ErrChecksum, jsonrpc.ErrCodeInvalidAddress},
			{errors.New("boom"), jsonrpc.ErrCodeMisc},
		}
		for _, tt := range tests {
			b.sendErr = tt.err
			_, err := c.SendToAddress(ctx, addr, 1)
			requireRPCError(t, err, tt.code)
		}
	})
}

func TestBasicAuth(t *testing.T) {
	srv := newTestServer(t, Config{User: "alice", Password: "secret"}, newBackend(t))
	ctx := context.Background()

	_, err := NewClient(srv.URL, "alice", "wrong").GetBlockCount(ctx)
	require.Error(t, err)

	height, err := NewClient(srv.URL, "alice", "secret").GetBlockCount(ctx)
	require.NoError(t, err)
	require.Zero(t, height)

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"id":1,"method":"getblockcount","params":[]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMalformedRequests(t *testing.T) {
	srv := newTestServer(t, Config{}, newBackend(t))

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), `"code":-32700`)

	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{Metrics: true}, newBackend(t))

	// One call so the request counter has a sample.
	_, err := NewClient(srv.URL, "", "").GetBlockCount(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "wizwallet_rpc_requests_total")
}

func TestStartShutdown(t *testing.T) {
	s := NewServer(Config{}, newBackend(t), zap.NewNop())
	require.Nil(t, s.Addr())
	require.NoError(t, s.Start("127.0.0.1:0"))

	c := NewClient("http://"+s.Addr().String(), "", "")
	height, err := c.GetBlockCount(context.Background())
	require.NoError(t, err)
	require.Zero(t, height)

	require.NoError(t, s.Shutdown(context.Background()))
}
