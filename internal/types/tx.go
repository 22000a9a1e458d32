package types

import (
	"fmt"

	"github.com/djkazic/wizards-wallet/pkg/util"
)

const (
	// MaxSequence is the sequence number of a final input.
	MaxSequence uint32 = 0xffffffff

	// Coin is the number of indivisible units in one bitcoin.
	Coin int64 = 100_000_000

	// MaxMoney is the largest value any output or sum of outputs may carry.
	MaxMoney int64 = 21_000_000 * Coin

	// MaxScriptLen caps script fields accepted from the wire.
	MaxScriptLen = 10_000

	// minTxInSize is prevout (36) + empty script varint (1) + sequence (4).
	minTxInSize = 41
	// minTxOutSize is value (8) + empty script varint (1).
	minTxOutSize = 9
)

// OutPoint identifies an output of a previous transaction.
type OutPoint struct {
	Hash  Hash256 `json:"hash"`
	Index uint32  `json:"index"`
}

// NewOutPoint returns an outpoint for output index of hash.
func NewOutPoint(hash Hash256, index uint32) OutPoint {
	return OutPoint{Hash: hash, Index: index}
}

// IsNull reports whether the outpoint is the coinbase marker.
func (o OutPoint) IsNull() bool {
	return o.Index == 0xffffffff && o.Hash.IsZero()
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash, o.Index)
}

// Less orders outpoints by hash bytes, then index.
func (o OutPoint) Less(other OutPoint) bool {
	for i := 0; i < HashSize; i++ {
		if o.Hash[i] != other.Hash[i] {
			return o.Hash[i] < other.Hash[i]
		}
	}
	return o.Index < other.Index
}

// TxIn spends a previous output.
type TxIn struct {
	PreviousOutPoint OutPoint `json:"prevout"`
	SignatureScript  []byte   `json:"script_sig"`
	Sequence         uint32   `json:"sequence"`
}

// TxOut carries value locked by a script.
type TxOut struct {
	Value    int64  `json:"value"`
	PkScript []byte `json:"script_pubkey"`
}

// Copy returns a deep copy of the output.
func (o TxOut) Copy() TxOut {
	script := make([]byte, len(o.PkScript))
	copy(script, o.PkScript)
	return TxOut{Value: o.Value, PkScript: script}
}

// Tx is a legacy (non-witness) Bitcoin transaction.
type Tx struct {
	Version  int32    `json:"version"`
	TxIn     []*TxIn  `json:"inputs"`
	TxOut    []*TxOut `json:"outputs"`
	LockTime uint32   `json:"lock_time"`
}

// IsCoinbase reports whether tx is a coinbase: exactly one input with a
// null prevout.
func (tx *Tx) IsCoinbase() bool {
	return len(tx.TxIn) == 1 && tx.TxIn[0].PreviousOutPoint.IsNull()
}

// SerializeSize returns the number of bytes Serialize produces.
func (tx *Tx) SerializeSize() int {
	n := 8 + util.VarIntSize(uint64(len(tx.TxIn))) + util.VarIntSize(uint64(len(tx.TxOut)))
	for _, in := range tx.TxIn {
		n += 40 + util.VarIntSize(uint64(len(in.SignatureScript))) + len(in.SignatureScript)
	}
	for _, out := range tx.TxOut {
		n += 8 + util.VarIntSize(uint64(len(out.PkScript))) + len(out.PkScript)
	}
	return n
}

// Serialize encodes tx in consensus order: version, inputs, outputs,
// lock time.
func (tx *Tx) Serialize() []byte {
	w := util.NewWriter(tx.SerializeSize())
	tx.writeTo(w)
	return w.Bytes()
}

func (tx *Tx) writeTo(w *util.Writer) {
	w.Int32(tx.Version)
	w.VarInt(uint64(len(tx.TxIn)))
	for _, in := range tx.TxIn {
		w.Write(in.PreviousOutPoint.Hash[:])
		w.Uint32(in.PreviousOutPoint.Index)
		w.VarBytes(in.SignatureScript)
		w.Uint32(in.Sequence)
	}
	w.VarInt(uint64(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		w.Int64(out.Value)
		w.VarBytes(out.PkScript)
	}
	w.Uint32(tx.LockTime)
}

// Hash returns the transaction id.
func (tx *Tx) Hash() Hash256 {
	return HashData(tx.Serialize())
}

// TotalOut sums the output values.
func (tx *Tx) TotalOut() int64 {
	var total int64
	for _, out := range tx.TxOut {
		total += out.Value
	}
	return total
}

// Copy returns a deep copy of tx.
func (tx *Tx) Copy() *Tx {
	c := &Tx{
		Version:  tx.Version,
		TxIn:     make([]*TxIn, len(tx.TxIn)),
		TxOut:    make([]*TxOut, len(tx.TxOut)),
		LockTime: tx.LockTime,
	}
	for i, in := range tx.TxIn {
		script := make([]byte, len(in.SignatureScript))
		copy(script, in.SignatureScript)
		c.TxIn[i] = &TxIn{PreviousOutPoint: in.PreviousOutPoint, SignatureScript: script, Sequence: in.Sequence}
	}
	for i, out := range tx.TxOut {
		o := out.Copy()
		c.TxOut[i] = &o
	}
	return c
}

// DeserializeTx decodes a transaction that must occupy all of b.
func DeserializeTx(b []byte) (*Tx, error) {
	r := util.NewReader(b)
	tx, err := ReadTx(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, &util.DecodingError{Field: "tx", Reason: fmt.Sprintf("%d trailing bytes", r.Remaining())}
	}
	return tx, nil
}

// ReadTx decodes one transaction from r. On error nothing is returned and
// the reader position is unspecified.
func ReadTx(r *util.Reader) (*Tx, error) {
	version, err := r.Int32("tx version")
	if err != nil {
		return nil, err
	}

	nIn, err := r.Count("tx input count", minTxInSize)
	if err != nil {
		return nil, err
	}
	ins := make([]*TxIn, nIn)
	for i := range ins {
		in, err := readTxIn(r)
		if err != nil {
			return nil, err
		}
		ins[i] = in
	}

	nOut, err := r.Count("tx output count", minTxOutSize)
	if err != nil {
		return nil, err
	}
	outs := make([]*TxOut, nOut)
	for i := range outs {
		out, err := readTxOut(r)
		if err != nil {
			return nil, err
		}
		outs[i] = out
	}

	lockTime, err := r.Uint32("tx lock time")
	if err != nil {
		return nil, err
	}

	return &Tx{Version: version, TxIn: ins, TxOut: outs, LockTime: lockTime}, nil
}

func readTxIn(r *util.Reader) (*TxIn, error) {
	hash, err := r.Hash("prevout hash")
	if err != nil {
		return nil, err
	}
	index, err := r.Uint32("prevout index")
	if err != nil {
		return nil, err
	}
	script, err := r.VarBytes("script sig", MaxScriptLen)
	if err != nil {
		return nil, err
	}
	seq, err := r.Uint32("sequence")
	if err != nil {
		return nil, err
	}
	return &TxIn{
		PreviousOutPoint: OutPoint{Hash: Hash256(hash), Index: index},
		SignatureScript:  script,
		Sequence:         seq,
	}, nil
}

func readTxOut(r *util.Reader) (*TxOut, error) {
	value, err := r.Int64("output value")
	if err != nil {
		return nil, err
	}
	if value < 0 {
		return nil, &util.DecodingError{Field: "output value", Reason: fmt.Sprintf("negative value %d", value)}
	}
	script, err := r.VarBytes("pk script", MaxScriptLen)
	if err != nil {
		return nil, err
	}
	return &TxOut{Value: value, PkScript: script}, nil
}

// TxBuilder assembles a transaction. Only structural rules are enforced;
// value and script checks belong to the wallet and script engine.
type TxBuilder struct {
	tx Tx
}

// NewTxBuilder returns a builder for a version 1 transaction.
func NewTxBuilder() *TxBuilder {
	return &TxBuilder{tx: Tx{Version: 1}}
}

func (b *TxBuilder) SetVersion(v int32) *TxBuilder {
	b.tx.Version = v
	return b
}

func (b *TxBuilder) SetLockTime(lt uint32) *TxBuilder {
	b.tx.LockTime = lt
	return b
}

// AddInput appends an input with an empty unlocking script.
func (b *TxBuilder) AddInput(op OutPoint, sequence uint32) *TxBuilder {
	b.tx.TxIn = append(b.tx.TxIn, &TxIn{PreviousOutPoint: op, Sequence: sequence})
	return b
}

// AddOutput appends an output. The script is copied.
func (b *TxBuilder) AddOutput(value int64, pkScript []byte) *TxBuilder {
	out := TxOut{Value: value, PkScript: pkScript}.Copy()
	b.tx.TxOut = append(b.tx.TxOut, &out)
	return b
}

// Build finalizes the transaction.
func (b *TxBuilder) Build() (*Tx, error) {
	if len(b.tx.TxIn) == 0 {
		return nil, &ValidationError{Reason: "transaction has no inputs"}
	}
	for i, out := range b.tx.TxOut {
		if out.Value < 0 {
			return nil, &ValidationError{Reason: fmt.Sprintf("output %d has negative value %d", i, out.Value)}
		}
	}
	return b.tx.Copy(), nil
}
