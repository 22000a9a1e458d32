package types

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/djkazic/wizards-wallet/pkg/util"
)

// HeaderSize is the serialized size of a block header.
const HeaderSize = 80

// maxBlockTxs bounds the tx count accepted from the wire. A legacy block
// is at most 1MB and a transaction at least 60 bytes.
const maxBlockTxs = 1_000_000 / 60

// BlockHeader is the 80-byte header that block hashes commit to.
type BlockHeader struct {
	Version    int32   `json:"version"`
	PrevBlock  Hash256 `json:"prev_block"`
	MerkleRoot Hash256 `json:"merkle_root"`
	Timestamp  uint32  `json:"timestamp"`
	Bits       uint32  `json:"bits"` // compact difficulty target (nBits)
	Nonce      uint32  `json:"nonce"`
}

// Serialize serializes the header to its 80-byte wire form.
func (h *BlockHeader) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// Hash computes the double-SHA256 of the header, which is the block hash.
func (h *BlockHeader) Hash() Hash256 {
	return HashData(h.Serialize())
}

// Time returns the header timestamp.
func (h *BlockHeader) Time() time.Time {
	return time.Unix(int64(h.Timestamp), 0)
}

// MeetsOwnTarget reports whether the header hash satisfies its own bits.
func (h *BlockHeader) MeetsOwnTarget() bool {
	target := util.CompactToTarget(h.Bits)
	if target.Sign() <= 0 {
		return false
	}
	return util.HashMeetsTarget(h.Hash(), target)
}

// DeserializeHeader decodes an 80-byte header.
func DeserializeHeader(b []byte) (*BlockHeader, error) {
	if len(b) != HeaderSize {
		return nil, &util.DecodingError{Field: "block header", Reason: fmt.Sprintf("length %d, want %d", len(b), HeaderSize)}
	}
	return ReadHeader(util.NewReader(b))
}

// ReadHeader decodes a header from r.
func ReadHeader(r *util.Reader) (*BlockHeader, error) {
	raw, err := r.Bytes("block header", HeaderSize)
	if err != nil {
		return nil, err
	}
	h := &BlockHeader{
		Version:   int32(binary.LittleEndian.Uint32(raw[0:4])),
		Timestamp: binary.LittleEndian.Uint32(raw[68:72]),
		Bits:      binary.LittleEndian.Uint32(raw[72:76]),
		Nonce:     binary.LittleEndian.Uint32(raw[76:80]),
	}
	copy(h.PrevBlock[:], raw[4:36])
	copy(h.MerkleRoot[:], raw[36:68])
	return h, nil
}

// Block is a header plus its ordered transactions.
type Block struct {
	Header       BlockHeader `json:"header"`
	Transactions []*Tx       `json:"transactions"`
}

// Hash returns the block hash (the header hash).
func (b *Block) Hash() Hash256 {
	return b.Header.Hash()
}

// TxHashes returns the ids of the block's transactions in order.
func (b *Block) TxHashes() []Hash256 {
	hashes := make([]Hash256, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	return hashes
}

// Serialize encodes the header, tx count and transactions.
func (b *Block) Serialize() []byte {
	size := HeaderSize + util.VarIntSize(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		size += tx.SerializeSize()
	}
	w := util.NewWriter(size)
	w.Write(b.Header.Serialize())
	w.VarInt(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		tx.writeTo(w)
	}
	return w.Bytes()
}

// DeserializeBlock decodes a block that must occupy all of data.
func DeserializeBlock(data []byte) (*Block, error) {
	r := util.NewReader(data)
	header, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	n, err := r.Count("block tx count", 60)
	if err != nil {
		return nil, err
	}
	if n > maxBlockTxs {
		return nil, &util.DecodingError{Field: "block tx count", Reason: fmt.Sprintf("%d exceeds limit %d", n, maxBlockTxs)}
	}
	txs := make([]*Tx, n)
	for i := range txs {
		tx, err := ReadTx(r)
		if err != nil {
			return nil, fmt.Errorf("block tx %d: %w", i, err)
		}
		txs[i] = tx
	}
	if r.Remaining() != 0 {
		return nil, &util.DecodingError{Field: "block", Reason: fmt.Sprintf("%d trailing bytes", r.Remaining())}
	}
	return &Block{Header: *header, Transactions: txs}, nil
}

// ComputeMerkleRoot reduces the hashes pairwise with double-SHA256,
// duplicating the last hash of any odd-length level. An empty list yields
// the zero hash.
func ComputeMerkleRoot(hashes []Hash256) Hash256 {
	if len(hashes) == 0 {
		return ZeroHash
	}

	// Copy so we don't mutate the caller's slice
	level := make([]Hash256, len(hashes))
	copy(level, hashes)

	var buf [2 * HashSize]byte
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			copy(buf[:HashSize], level[i][:])
			copy(buf[HashSize:], level[i+1][:])
			next = append(next, HashData(buf[:]))
		}
		level = next
	}
	return level[0]
}

// CheckMerkleRoot compares the header's merkle root with the one computed
// from the transactions.
func (b *Block) CheckMerkleRoot() error {
	computed := ComputeMerkleRoot(b.TxHashes())
	if computed != b.Header.MerkleRoot {
		return &ValidationError{Reason: fmt.Sprintf(
			"merkle root mismatch: header=%s computed=%s tx_count=%d",
			b.Header.MerkleRoot, computed, len(b.Transactions),
		)}
	}
	return nil
}

// CheckSanity runs the context-free structural checks on a block.
func (b *Block) CheckSanity() error {
	// 1. At least one transaction
	if len(b.Transactions) == 0 {
		return &ValidationError{Reason: "block has no transactions"}
	}

	// 2. First transaction is the only coinbase
	if !b.Transactions[0].IsCoinbase() {
		return &ValidationError{Reason: "first transaction is not a coinbase"}
	}
	for i, tx := range b.Transactions[1:] {
		if tx.IsCoinbase() {
			return &ValidationError{Reason: fmt.Sprintf("transaction %d is an extra coinbase", i+1)}
		}
	}

	// 3. Output values within money range
	for i, tx := range b.Transactions {
		if err := CheckTxSanity(tx); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}

	// 4. Merkle commitment
	return b.CheckMerkleRoot()
}

// CheckTxSanity checks a transaction's inputs and output values.
func CheckTxSanity(tx *Tx) error {
	if len(tx.TxIn) == 0 {
		return &ValidationError{Reason: "transaction has no inputs"}
	}
	if len(tx.TxOut) == 0 {
		return &ValidationError{Reason: "transaction has no outputs"}
	}
	var total int64
	for i, out := range tx.TxOut {
		if out.Value < 0 || out.Value > MaxMoney {
			return &ValidationError{Reason: fmt.Sprintf("output %d value %d out of range", i, out.Value)}
		}
		total += out.Value
		if total > MaxMoney {
			return &ValidationError{Reason: fmt.Sprintf("total output value %d out of range", total)}
		}
	}
	if !tx.IsCoinbase() {
		seen := make(map[OutPoint]struct{}, len(tx.TxIn))
		for i, in := range tx.TxIn {
			if in.PreviousOutPoint.IsNull() {
				return &ValidationError{Reason: fmt.Sprintf("input %d has a null prevout", i)}
			}
			if _, dup := seen[in.PreviousOutPoint]; dup {
				return &ValidationError{Reason: fmt.Sprintf("input %d spends %s twice", i, in.PreviousOutPoint)}
			}
			seen[in.PreviousOutPoint] = struct{}{}
		}
	}
	return nil
}
