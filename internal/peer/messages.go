package peer

import (
	"fmt"

	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/pkg/util"
)

// ProtocolVersion is the version we announce. It is the last one before
// sendheaders, so peers keep announcing blocks by inv.
const ProtocolVersion = 70002

const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdInv        = "inv"
	CmdGetData    = "getdata"
	CmdNotFound   = "notfound"
	CmdTx         = "tx"
	CmdBlock      = "block"
	CmdGetHeaders = "getheaders"
	CmdGetBlocks  = "getblocks"
	CmdHeaders    = "headers"
)

const (
	// MaxInvPerMsg bounds inv, getdata and notfound.
	MaxInvPerMsg = 50000
	// MaxLocatorHashes bounds getheaders and getblocks.
	MaxLocatorHashes = 500
	// MaxHeadersPerMsg bounds a headers message.
	MaxHeadersPerMsg = 2000

	invVectSize = 36
)

// Message is one wire payload.
type Message interface {
	Command() string
	Encode() []byte
	Decode([]byte) error
}

func makeEmptyMessage(cmd string) Message {
	switch cmd {
	case CmdVersion:
		return &MsgVersion{}
	case CmdVerAck:
		return &MsgVerAck{}
	case CmdPing:
		return &MsgPing{}
	case CmdPong:
		return &MsgPong{}
	case CmdInv:
		return &MsgInv{}
	case CmdGetData:
		return &MsgGetData{}
	case CmdNotFound:
		return &MsgNotFound{}
	case CmdTx:
		return &MsgTx{}
	case CmdBlock:
		return &MsgBlock{}
	case CmdGetHeaders:
		return &MsgGetHeaders{}
	case CmdGetBlocks:
		return &MsgGetBlocks{}
	case CmdHeaders:
		return &MsgHeaders{}
	default:
		return &MsgUnknown{Cmd: cmd}
	}
}

func trailing(r *util.Reader, field string) error {
	if r.Remaining() != 0 {
		return &util.DecodingError{Field: field, Reason: fmt.Sprintf("%d trailing bytes", r.Remaining())}
	}
	return nil
}

// MsgUnknown carries a command we do not interpret.
type MsgUnknown struct {
	Cmd     string
	Payload []byte
}

func (m *MsgUnknown) Command() string { return m.Cmd }
func (m *MsgUnknown) Encode() []byte  { return m.Payload }
func (m *MsgUnknown) Decode(b []byte) error {
	m.Payload = b
	return nil
}

// MsgVerAck has an empty payload.
type MsgVerAck struct{}

func (m *MsgVerAck) Command() string { return CmdVerAck }
func (m *MsgVerAck) Encode() []byte  { return nil }
func (m *MsgVerAck) Decode(b []byte) error {
	if len(b) != 0 {
		return &util.DecodingError{Field: "verack", Reason: fmt.Sprintf("%d unexpected bytes", len(b))}
	}
	return nil
}

type MsgPing struct{ Nonce uint64 }

func (m *MsgPing) Command() string { return CmdPing }
func (m *MsgPing) Encode() []byte {
	w := util.NewWriter(8)
	w.Uint64(m.Nonce)
	return w.Bytes()
}
func (m *MsgPing) Decode(b []byte) error {
	r := util.NewReader(b)
	var err error
	if m.Nonce, err = r.Uint64("ping nonce"); err != nil {
		return err
	}
	return trailing(r, "ping")
}

type MsgPong struct{ Nonce uint64 }

func (m *MsgPong) Command() string { return CmdPong }
func (m *MsgPong) Encode() []byte  { return (&MsgPing{Nonce: m.Nonce}).Encode() }
func (m *MsgPong) Decode(b []byte) error {
	r := util.NewReader(b)
	var err error
	if m.Nonce, err = r.Uint64("pong nonce"); err != nil {
		return err
	}
	return trailing(r, "pong")
}

// InvType tags an inventory vector.
type InvType uint32

const (
	InvTypeError InvType = 0
	InvTypeTx    InvType = 1
	InvTypeBlock InvType = 2
)

func (t InvType) String() string {
	switch t {
	case InvTypeError:
		return "error"
	case InvTypeTx:
		return "tx"
	case InvTypeBlock:
		return "block"
	}
	return fmt.Sprintf("InvType(%d)", uint32(t))
}

// InvVect names one object.
type InvVect struct {
	Type InvType
	Hash types.Hash256
}

func encodeInvList(list []InvVect) []byte {
	w := util.NewWriter(util.VarIntSize(uint64(len(list))) + len(list)*invVectSize)
	w.VarInt(uint64(len(list)))
	for _, iv := range list {
		w.Uint32(uint32(iv.Type))
		w.Write(iv.Hash[:])
	}
	return w.Bytes()
}

func decodeInvList(b []byte, field string) ([]InvVect, error) {
	r := util.NewReader(b)
	n, err := r.Count(field+" count", invVectSize)
	if err != nil {
		return nil, err
	}
	if n > MaxInvPerMsg {
		return nil, &util.DecodingError{Field: field, Reason: fmt.Sprintf("%d entries exceeds limit %d", n, MaxInvPerMsg)}
	}
	list := make([]InvVect, n)
	for i := range list {
		t, err := r.Uint32(field + " type")
		if err != nil {
			return nil, err
		}
		h, err := r.Hash(field + " hash")
		if err != nil {
			return nil, err
		}
		list[i] = InvVect{Type: InvType(t), Hash: h}
	}
	return list, trailing(r, field)
}

// MsgInv announces objects.
type MsgInv struct{ Inventory []InvVect }

func (m *MsgInv) Command() string { return CmdInv }
func (m *MsgInv) Encode() []byte  { return encodeInvList(m.Inventory) }
func (m *MsgInv) Decode(b []byte) (err error) {
	m.Inventory, err = decodeInvList(b, "inv")
	return err
}

// MsgGetData requests objects.
type MsgGetData struct{ Inventory []InvVect }

func (m *MsgGetData) Command() string { return CmdGetData }
func (m *MsgGetData) Encode() []byte  { return encodeInvList(m.Inventory) }
func (m *MsgGetData) Decode(b []byte) (err error) {
	m.Inventory, err = decodeInvList(b, "getdata")
	return err
}

// MsgNotFound answers a getdata we could not serve.
type MsgNotFound struct{ Inventory []InvVect }

func (m *MsgNotFound) Command() string { return CmdNotFound }
func (m *MsgNotFound) Encode() []byte  { return encodeInvList(m.Inventory) }
func (m *MsgNotFound) Decode(b []byte) (err error) {
	m.Inventory, err = decodeInvList(b, "notfound")
	return err
}

type MsgTx struct{ Tx *types.Tx }

func (m *MsgTx) Command() string { return CmdTx }
func (m *MsgTx) Encode() []byte  { return m.Tx.Serialize() }
func (m *MsgTx) Decode(b []byte) (err error) {
	m.Tx, err = types.DeserializeTx(b)
	return err
}

type MsgBlock struct{ Block *types.Block }

func (m *MsgBlock) Command() string { return CmdBlock }
func (m *MsgBlock) Encode() []byte  { return m.Block.Serialize() }
func (m *MsgBlock) Decode(b []byte) (err error) {
	m.Block, err = types.DeserializeBlock(b)
	return err
}

// blockLocator is the shared body of getheaders and getblocks.
type blockLocator struct {
	ProtocolVersion uint32
	Locator         []types.Hash256
	Stop            types.Hash256
}

func (l *blockLocator) encode() []byte {
	w := util.NewWriter(4 + util.VarIntSize(uint64(len(l.Locator))) + 32*(len(l.Locator)+1))
	w.Uint32(l.ProtocolVersion)
	w.VarInt(uint64(len(l.Locator)))
	for _, h := range l.Locator {
		w.Write(h[:])
	}
	w.Write(l.Stop[:])
	return w.Bytes()
}

func (l *blockLocator) decode(b []byte, field string) error {
	r := util.NewReader(b)
	var err error
	if l.ProtocolVersion, err = r.Uint32(field + " version"); err != nil {
		return err
	}
	n, err := r.Count(field+" locator count", types.HashSize)
	if err != nil {
		return err
	}
	if n > MaxLocatorHashes {
		return &util.DecodingError{Field: field, Reason: fmt.Sprintf("%d locator hashes exceeds limit %d", n, MaxLocatorHashes)}
	}
	l.Locator = make([]types.Hash256, n)
	for i := range l.Locator {
		if l.Locator[i], err = r.Hash(field + " locator"); err != nil {
			return err
		}
	}
	if l.Stop, err = r.Hash(field + " stop"); err != nil {
		return err
	}
	return trailing(r, field)
}

// MsgGetHeaders asks for headers after the first locator hash the peer
// knows.
type MsgGetHeaders struct{ blockLocator }

// NewGetHeaders builds a getheaders for our protocol version.
func NewGetHeaders(locator []types.Hash256, stop types.Hash256) *MsgGetHeaders {
	return &MsgGetHeaders{blockLocator{ProtocolVersion: ProtocolVersion, Locator: locator, Stop: stop}}
}

func (m *MsgGetHeaders) Command() string       { return CmdGetHeaders }
func (m *MsgGetHeaders) Encode() []byte        { return m.encode() }
func (m *MsgGetHeaders) Decode(b []byte) error { return m.decode(b, "getheaders") }

// MsgGetBlocks asks for an inv of blocks after the locator.
type MsgGetBlocks struct{ blockLocator }

// NewGetBlocks builds a getblocks for our protocol version.
func NewGetBlocks(locator []types.Hash256, stop types.Hash256) *MsgGetBlocks {
	return &MsgGetBlocks{blockLocator{ProtocolVersion: ProtocolVersion, Locator: locator, Stop: stop}}
}

func (m *MsgGetBlocks) Command() string       { return CmdGetBlocks }
func (m *MsgGetBlocks) Encode() []byte        { return m.encode() }
func (m *MsgGetBlocks) Decode(b []byte) error { return m.decode(b, "getblocks") }

// MsgHeaders carries headers, each followed by a zero tx count.
type MsgHeaders struct{ Headers []types.BlockHeader }

func (m *MsgHeaders) Command() string { return CmdHeaders }

func (m *MsgHeaders) Encode() []byte {
	w := util.NewWriter(util.VarIntSize(uint64(len(m.Headers))) + len(m.Headers)*(types.HeaderSize+1))
	w.VarInt(uint64(len(m.Headers)))
	for i := range m.Headers {
		w.Write(m.Headers[i].Serialize())
		w.VarInt(0)
	}
	return w.Bytes()
}

func (m *MsgHeaders) Decode(b []byte) error {
	r := util.NewReader(b)
	n, err := r.Count("headers count", types.HeaderSize+1)
	if err != nil {
		return err
	}
	if n > MaxHeadersPerMsg {
		return &util.DecodingError{Field: "headers", Reason: fmt.Sprintf("%d headers exceeds limit %d", n, MaxHeadersPerMsg)}
	}
	m.Headers = make([]types.BlockHeader, n)
	for i := range m.Headers {
		h, err := types.ReadHeader(r)
		if err != nil {
			return err
		}
		txCount, err := r.VarInt("headers tx count")
		if err != nil {
			return err
		}
		if txCount != 0 {
			return &util.DecodingError{Field: "headers", Reason: fmt.Sprintf("header %d carries tx count %d", i, txCount)}
		}
		m.Headers[i] = *h
	}
	return trailing(r, "headers")
}
