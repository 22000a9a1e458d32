package peer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/pkg/util"
	"github.com/djkazic/wizards-wallet/testutil"
)

const getBlocksVector = "72110100014a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b0000000000000000000000000000000000000000000000000000000000000000"

var testNet = params.RegTest.Net

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestGetBlocksVector(t *testing.T) {
	raw := testutil.MustDecodeHex(t, getBlocksVector)
	genesisTxid := testutil.MustDecodeHex(t, "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")

	for _, msg := range []interface {
		Message
		locator() *blockLocator
	}{&MsgGetBlocks{}, &MsgGetHeaders{}} {
		t.Run(msg.Command(), func(t *testing.T) {
			require.NoError(t, msg.Decode(raw))
			l := msg.locator()
			require.Equal(t, uint32(70002), l.ProtocolVersion)
			require.Len(t, l.Locator, 1)
			require.Equal(t, genesisTxid, l.Locator[0][:])
			require.Equal(t, types.ZeroHash, l.Stop)
			require.Equal(t, raw, msg.Encode())
		})
	}

	require.Equal(t, raw, NewGetBlocks([]types.Hash256{types.Hash256(genesisTxid)}, types.ZeroHash).Encode())
}

func (m *MsgGetBlocks) locator() *blockLocator  { return &m.blockLocator }
func (m *MsgGetHeaders) locator() *blockLocator { return &m.blockLocator }

func sampleTx() *types.Tx {
	return &types.Tx{
		Version: 1,
		TxIn: []*types.TxIn{{
			PreviousOutPoint: types.NewOutPoint(types.HashData([]byte("prev")), 1),
			SignatureScript:  []byte{0x51},
			Sequence:         types.MaxSequence,
		}},
		TxOut: []*types.TxOut{{Value: 5000, PkScript: []byte{0x76, 0xa9}}},
	}
}

func TestMessageRoundTrip(t *testing.T) {
	genesis := params.MainNet.GenesisBlock
	msgs := []Message{
		&MsgVerAck{},
		&MsgPing{Nonce: 0x0102030405060708},
		&MsgPong{Nonce: 42},
		&MsgInv{Inventory: []InvVect{{Type: InvTypeTx, Hash: types.Hash256{1}}, {Type: InvTypeBlock, Hash: types.Hash256{2}}}},
		&MsgGetData{Inventory: []InvVect{{Type: InvTypeBlock, Hash: genesis.Hash()}}},
		&MsgNotFound{Inventory: []InvVect{{Type: InvTypeTx, Hash: types.Hash256{3}}}},
		&MsgTx{Tx: sampleTx()},
		&MsgBlock{Block: genesis},
		NewGetHeaders([]types.Hash256{genesis.Hash()}, types.ZeroHash),
		&MsgHeaders{Headers: []types.BlockHeader{genesis.Header, params.RegTest.GenesisBlock.Header}},
		&MsgUnknown{Cmd: "sendcmpct", Payload: []byte{0, 1}},
	}

	for _, msg := range msgs {
		t.Run(msg.Command(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, testNet, msg))
			require.Equal(t, MessageHeaderSize+len(msg.Encode()), buf.Len())

			got, err := ReadMessage(&buf, testNet, 0)
			require.NoError(t, err)
			require.Equal(t, msg.Command(), got.Command())
			require.Equal(t, msg.Encode(), got.Encode())
		})
	}
}

func TestVersionMessage(t *testing.T) {
	v := &MsgVersion{
		ProtocolVersion: ProtocolVersion,
		Services:        1,
		Timestamp:       time.Unix(1700000000, 0),
		AddrRecv:        NetAddress{IP: net.ParseIP("10.0.0.1"), Port: 8333},
		AddrFrom:        NetAddress{Services: 1, IP: net.ParseIP("::1"), Port: 18444},
		Nonce:           99,
		UserAgent:       DefaultUserAgent,
		StartHeight:     123,
		Relay:           false,
	}
	raw := v.Encode()

	var got MsgVersion
	require.NoError(t, got.Decode(raw))
	require.Equal(t, v.Nonce, got.Nonce)
	require.Equal(t, v.UserAgent, got.UserAgent)
	require.Equal(t, v.StartHeight, got.StartHeight)
	require.Equal(t, uint16(8333), got.AddrRecv.Port)
	require.True(t, got.AddrRecv.IP.Equal(net.ParseIP("10.0.0.1")))
	require.False(t, got.Relay)

	// Port is big-endian on the wire.
	portOff := 4 + 8 + 8 + 8 + 16
	require.Equal(t, []byte{0x20, 0x8d}, raw[portOff:portOff+2])

	// Older peers omit the relay flag.
	var noRelay MsgVersion
	require.NoError(t, noRelay.Decode(raw[:len(raw)-1]))
	require.True(t, noRelay.Relay)

	var short MsgVersion
	require.Error(t, short.Decode(raw[:40]))
}

func frame(net uint32, cmd string, payload []byte) []byte {
	buf := make([]byte, MessageHeaderSize, MessageHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], net)
	copy(buf[4:16], cmd)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	sum := util.Checksum(payload)
	copy(buf[20:24], sum[:])
	return append(buf, payload...)
}

func TestReadMessage_ProtocolErrors(t *testing.T) {
	ping := (&MsgPing{Nonce: 7}).Encode()

	badChecksum := frame(testNet, CmdPing, ping)
	badChecksum[20] ^= 0xff

	badCommand := frame(testNet, CmdPing, ping)
	copy(badCommand[4:16], "pi\x00g")

	tests := []struct {
		name string
		raw  []byte
	}{
		{"bad magic", frame(params.MainNet.Net, CmdPing, ping)},
		{"checksum mismatch", badChecksum},
		{"data after padding", badCommand},
		{"empty command", frame(testNet, "", nil)},
		{"non-printable command", frame(testNet, "ping\x01", ping)},
		{"short ping", frame(testNet, CmdPing, ping[:4])},
		{"verack with payload", frame(testNet, CmdVerAck, []byte{0})},
		{"headers with txs", frame(testNet, CmdHeaders, append(append([]byte{1}, params.MainNet.GenesisBlock.Header.Serialize()...), 1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMessage(bytes.NewReader(tt.raw), testNet, 0)
			require.Error(t, err)
			require.True(t, IsProtocolError(err), "got %v", err)
		})
	}
}

func TestReadMessage_OversizeCheckedBeforePayload(t *testing.T) {
	// Only the header is available; an oversize length must fail before
	// any attempt to read the body.
	hdr := frame(testNet, CmdBlock, nil)
	binary.LittleEndian.PutUint32(hdr[16:20], 1<<20)

	_, err := ReadMessage(bytes.NewReader(hdr), testNet, 1024)
	require.True(t, IsProtocolError(err), "got %v", err)
}

func TestReadMessage_Truncated(t *testing.T) {
	raw := frame(testNet, CmdPing, (&MsgPing{}).Encode())
	_, err := ReadMessage(bytes.NewReader(raw[:len(raw)-1]), testNet, 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.False(t, IsProtocolError(err))
}

func TestHandshakeFSM(t *testing.T) {
	ctx := context.Background()

	out := newHandshakeFSM()
	for _, ev := range []string{EventSendVersion, EventRecvVersion, EventRecvVerack, EventReady} {
		require.NoError(t, fire(ctx, out, ev))
	}
	require.Equal(t, StateReady, out.Current())

	in := newHandshakeFSM()
	require.NoError(t, fire(ctx, in, EventRecvVersion))
	require.Equal(t, StateVersionReceived, in.Current())

	fresh := newHandshakeFSM()
	err := fire(ctx, fresh, EventRecvVerack)
	require.True(t, IsProtocolError(err))

	require.True(t, IsProtocolError(fire(ctx, out, EventRecvVersion)), "second version must be refused")
}

type recorder struct {
	NopHandler
	ready chan *Peer
	txs   chan *MsgTx
}

func newRecorder() *recorder {
	return &recorder{ready: make(chan *Peer, 8), txs: make(chan *MsgTx, 8)}
}

func (r *recorder) OnReady(p *Peer)          { r.ready <- p }
func (r *recorder) OnTx(_ *Peer, msg *MsgTx) { r.txs <- msg }

func newTestServer(t *testing.T, h Handler, listen bool) *Server {
	t.Helper()
	s, err := NewServer(Config{Net: testNet, HandshakeTimeout: 2 * time.Second, Handler: h}, testLogger())
	require.NoError(t, err)
	if listen {
		require.NoError(t, s.Start("127.0.0.1:0"))
	}
	t.Cleanup(s.Stop)
	return s
}

func TestServer_HandshakeAndRelay(t *testing.T) {
	recvA := newRecorder()
	a := newTestServer(t, recvA, true)
	b := newTestServer(t, newRecorder(), false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := b.Connect(ctx, a.Addr().String())
	require.NoError(t, err)
	require.NoError(t, p.WaitReady(ctx))
	require.Equal(t, StateReady, p.State())
	require.NotNil(t, p.RemoteVersion())
	require.Equal(t, int32(ProtocolVersion), p.RemoteVersion().ProtocolVersion)

	select {
	case inbound := <-recvA.ready:
		require.True(t, inbound.Inbound())
	case <-ctx.Done():
		t.Fatal("inbound side never became ready")
	}
	require.Eventually(t, func() bool { return a.PeerCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, b.PeerCount())

	tx := sampleTx()
	require.Equal(t, 1, b.Broadcast(&MsgTx{Tx: tx}))
	select {
	case got := <-recvA.txs:
		require.Equal(t, tx.Hash(), got.Tx.Hash())
	case <-ctx.Done():
		t.Fatal("tx not delivered")
	}
}

func TestServer_BadMagicIsolated(t *testing.T) {
	a := newTestServer(t, newRecorder(), true)
	b := newTestServer(t, newRecorder(), false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A raw connection speaking mainnet magic.
	bad, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer bad.Close()

	good, err := b.Connect(ctx, a.Addr().String())
	require.NoError(t, err)

	v := &MsgVersion{ProtocolVersion: ProtocolVersion, Timestamp: time.Now(), Nonce: 1, UserAgent: "/bad/"}
	require.NoError(t, WriteMessage(bad, params.MainNet.Net, v))

	bad.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = bad.Read(make([]byte, 1))
	require.Error(t, err, "server should close the bad-magic connection")
	var ne net.Error
	if errors.As(err, &ne) {
		require.False(t, ne.Timeout(), "connection was not closed")
	}

	require.NoError(t, good.WaitReady(ctx))
	require.Eventually(t, func() bool { return a.PeerCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.True(t, good.IsReady())
}

func TestServer_MessageBeforeHandshake(t *testing.T) {
	a := newTestServer(t, newRecorder(), true)

	conn, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteMessage(conn, testNet, &MsgPing{Nonce: 1}))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = io.ReadAll(conn)
	var ne net.Error
	if errors.As(err, &ne) {
		require.False(t, ne.Timeout(), "connection was not closed")
	}
	require.Equal(t, 0, a.PeerCount())
}

func TestServer_SelfConnection(t *testing.T) {
	a := newTestServer(t, newRecorder(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := a.Connect(ctx, a.Addr().String())
	require.NoError(t, err)
	require.Error(t, p.WaitReady(ctx))
	require.Eventually(t, func() bool { return a.PeerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_HandshakeTimeout(t *testing.T) {
	s, err := NewServer(Config{Net: testNet, HandshakeTimeout: 100 * time.Millisecond}, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start("127.0.0.1:0"))
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = io.ReadAll(conn)
	var ne net.Error
	if errors.As(err, &ne) {
		require.False(t, ne.Timeout(), "silent peer was not dropped")
	}
}
