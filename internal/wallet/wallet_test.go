package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/feesource"
	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/script"
	"github.com/djkazic/wizards-wallet/internal/store"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/utxo"
	"github.com/djkazic/wizards-wallet/testutil"
)

var (
	net     = params.RegTest
	foreign = address.FromPubKeyHash(types.Hash160{0xbb}, params.RegTest)
)

type fixture struct {
	kv     *store.MemStore
	keys   *Keystore
	set    *utxo.Set
	wallet *Wallet
	fees   *feesource.Mock
}

func newFixture(t *testing.T, rate FeeRate) *fixture {
	t.Helper()
	seed, err := SeedFromMnemonic(testutil.Mnemonic, "")
	require.NoError(t, err)

	kv := store.NewMemStore()
	keys, err := NewKeystore(seed, net, kv)
	require.NoError(t, err)

	set := utxo.New(net.GenesisHash)
	fees := feesource.NewMock(rate)
	return &fixture{
		kv:     kv,
		keys:   keys,
		set:    set,
		fees:   fees,
		wallet: New(keys, set, fees, net, 0, zap.NewNop()),
	}
}

var fundTag byte

// fund adds a coinbase output of value paying to a.
func (f *fixture) fund(t *testing.T, a address.Address, value int64) types.OutPoint {
	t.Helper()
	fundTag++
	tx := &types.Tx{
		Version: 1,
		TxIn:    []*types.TxIn{{PreviousOutPoint: types.OutPoint{Index: 0xffffffff}, SignatureScript: []byte{fundTag, 0x01}, Sequence: types.MaxSequence}},
		TxOut:   []*types.TxOut{{Value: value, PkScript: a.PkScript()}},
	}
	_, err := f.set.Apply(tx)
	require.NoError(t, err)
	return types.NewOutPoint(tx.Hash(), 0)
}

func (f *fixture) newAddr(t *testing.T) address.Address {
	t.Helper()
	a, err := f.wallet.NewAddress()
	require.NoError(t, err)
	return a
}

func TestEstimateSize(t *testing.T) {
	require.Equal(t, 226, EstimateSize(1, 2))
	require.Equal(t, 192, EstimateSize(1, 1))
	require.Equal(t, 374, EstimateSize(2, 2))
}

func TestBuildScenario(t *testing.T) {
	f := newFixture(t, 4424)
	mine := f.newAddr(t)
	f.fund(t, mine, 100_000)

	selected, err := f.wallet.SelectCoins(30_000, 4424)
	require.NoError(t, err)
	require.Len(t, selected, 1)

	tx, err := f.wallet.BuildTransaction(selected, []Output{{Address: foreign, Value: 30_000}}, mine, 4424)
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(30_000), tx.TxOut[0].Value)
	require.Equal(t, foreign.PkScript(), tx.TxOut[0].PkScript)
	require.Equal(t, int64(69_000), tx.TxOut[1].Value)
	require.Equal(t, mine.PkScript(), tx.TxOut[1].PkScript)
	require.Empty(t, tx.TxIn[0].SignatureScript)
	require.Equal(t, uint32(types.MaxSequence), tx.TxIn[0].Sequence)

	signed, err := f.wallet.Sign(tx)
	require.NoError(t, err)
	require.Empty(t, tx.TxIn[0].SignatureScript, "Sign must not mutate its argument")

	prev, _ := f.set.Lookup(selected[0])
	require.NoError(t, script.VerifyInput(signed, 0, &prev))
	require.NotEqual(t, tx.Hash(), signed.Hash())
}

func TestSelectCoinsDeterministic(t *testing.T) {
	f := newFixture(t, 1000)
	mine := f.newAddr(t)
	ops := []types.OutPoint{
		f.fund(t, mine, 5_000),
		f.fund(t, mine, 8_000),
		f.fund(t, mine, 8_000),
	}
	f.fund(t, foreign, 1_000_000)

	first, err := f.wallet.SelectCoins(9_000, 1000)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.ElementsMatch(t, ops[1:], first)
	require.True(t, bytes.Compare(first[0].Hash[:], first[1].Hash[:]) < 0, "equal values order by txid")

	for i := 0; i < 5; i++ {
		again, err := f.wallet.SelectCoins(9_000, 1000)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	all, err := f.wallet.SelectCoins(17_000, 1000)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ops[0], all[2], "smallest output is picked last")
}

func TestSelectCoinsProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, 1000)
		mine := f.newAddr(t)

		values := rapid.SliceOfN(rapid.Int64Range(1, 1_000_000), 1, 20).Draw(rt, "values")
		var sum int64
		for _, v := range values {
			f.fund(t, mine, v)
			sum += v
		}
		target := rapid.Int64Range(1, sum).Draw(rt, "target")

		first, err := f.wallet.SelectCoins(target, 1000)
		again, errAgain := f.wallet.SelectCoins(target, 1000)
		require.Equal(rt, err == nil, errAgain == nil)
		if err != nil {
			require.ErrorIs(rt, err, ErrInsufficientFunds)
			return
		}
		require.Equal(rt, first, again)

		var total, last int64
		for _, op := range first {
			out, ok := f.set.Lookup(op)
			require.True(rt, ok)
			total += out.Value
			last = out.Value
		}
		fee := FeeRate(1000).FeeForSize(EstimateSize(len(first), 2))
		require.GreaterOrEqual(rt, total, target+fee)
		if len(first) > 1 {
			prevFee := FeeRate(1000).FeeForSize(EstimateSize(len(first)-1, 2))
			require.Less(rt, total-last, target+prevFee, "selection stops at the first covering prefix")
		}
	})
}

func TestSelectCoinsInsufficient(t *testing.T) {
	f := newFixture(t, 1000)
	mine := f.newAddr(t)
	f.fund(t, mine, 40_000)
	f.fund(t, mine, 10_000)

	_, err := f.wallet.SelectCoins(1_000_000, 1000)
	require.True(t, errors.Is(err, ErrInsufficientFunds))
	var ife *InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	require.Equal(t, int64(50_000), ife.Have)
	require.Equal(t, int64(1_000_000+374), ife.Need)
}

func TestBuildDustAndFailures(t *testing.T) {
	f := newFixture(t, 1000)
	mine := f.newAddr(t)
	op := f.fund(t, mine, 100_000)

	t.Run("change above dust", func(t *testing.T) {
		tx, err := f.wallet.BuildTransaction([]types.OutPoint{op}, []Output{{foreign, 99_000}}, mine, 1000)
		require.NoError(t, err)
		require.Len(t, tx.TxOut, 2)
		require.Equal(t, int64(774), tx.TxOut[1].Value)
	})

	t.Run("change below dust goes to fee", func(t *testing.T) {
		tx, err := f.wallet.BuildTransaction([]types.OutPoint{op}, []Output{{foreign, 99_300}}, mine, 1000)
		require.NoError(t, err)
		require.Len(t, tx.TxOut, 1)
	})

	t.Run("insufficient", func(t *testing.T) {
		_, err := f.wallet.BuildTransaction([]types.OutPoint{op}, []Output{{foreign, 99_900}}, mine, 1000)
		require.True(t, errors.Is(err, ErrInsufficientFunds))
	})

	t.Run("unknown outpoint", func(t *testing.T) {
		_, err := f.wallet.BuildTransaction([]types.OutPoint{{Hash: types.Hash256{9}}}, []Output{{foreign, 1}}, mine, 1000)
		require.True(t, errors.Is(err, ErrUnknownOutPoint))
	})

	t.Run("no outputs", func(t *testing.T) {
		_, err := f.wallet.BuildTransaction([]types.OutPoint{op}, nil, mine, 1000)
		require.True(t, errors.Is(err, ErrNoOutputs))
	})

	t.Run("non-positive output", func(t *testing.T) {
		_, err := f.wallet.BuildTransaction([]types.OutPoint{op}, []Output{{foreign, 0}}, mine, 1000)
		require.Error(t, err)
	})
}

func TestSignMissingKey(t *testing.T) {
	f := newFixture(t, 1000)
	mine := f.newAddr(t)
	op := f.fund(t, mine, 50_000)
	theirs := f.fund(t, foreign, 50_000)

	tx, err := types.NewTxBuilder().
		AddInput(op, types.MaxSequence).
		AddInput(theirs, types.MaxSequence).
		AddOutput(90_000, foreign.PkScript()).
		Build()
	require.NoError(t, err)

	_, err = f.wallet.Sign(tx)
	var mke *MissingKeyError
	require.True(t, errors.As(err, &mke), "got %v", err)
	require.Equal(t, 1, mke.InputIndex)
	require.Equal(t, foreign.String(), mke.Address)
}

func TestSendReservesAndReleases(t *testing.T) {
	f := newFixture(t, 4424)
	mine := f.newAddr(t)
	f.fund(t, mine, 100_000)
	ctx := context.Background()

	tx, err := f.wallet.Send(ctx, []Output{{foreign, 30_000}})
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(69_000), tx.TxOut[1].Value)
	require.Equal(t, 1, f.fees.Calls)

	// The only coin is reserved by the unconfirmed send.
	_, err = f.wallet.Send(ctx, []Output{{foreign, 10_000}})
	require.True(t, errors.Is(err, ErrInsufficientFunds))

	f.wallet.Release(tx)
	_, err = f.wallet.Send(ctx, []Output{{foreign, 10_000}})
	require.NoError(t, err)

	// Confirming the first send moves the balance to the change key.
	_, err = f.set.Apply(tx)
	require.NoError(t, err)
	require.Equal(t, int64(69_000), f.wallet.Balance())

	f.fees.Err = errors.New("backend down")
	_, err = f.wallet.Send(ctx, []Output{{foreign, 1_000}})
	require.Error(t, err)
}

func TestSendDerivesChangeKeyOnlyForChange(t *testing.T) {
	f := newFixture(t, 1000)
	mine := f.newAddr(t)
	f.fund(t, mine, 100_000)
	f.fund(t, mine, 100_000)
	ctx := context.Background()

	// 100_000 - 99_300 leaves less than dust after the fee.
	tx, err := f.wallet.Send(ctx, []Output{{foreign, 99_300}})
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)
	require.Len(t, f.keys.Addresses(), 1)

	_, err = f.wallet.Send(ctx, []Output{{foreign, 1_000_000}})
	require.True(t, errors.Is(err, ErrInsufficientFunds))
	require.Len(t, f.keys.Addresses(), 1)

	tx, err = f.wallet.Send(ctx, []Output{{foreign, 50_000}})
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 2)
	require.Len(t, f.keys.Addresses(), 2)
}

func TestHoldBlocksSend(t *testing.T) {
	f := newFixture(t, 1000)
	mine := f.newAddr(t)
	f.fund(t, mine, 100_000)

	release := f.wallet.Hold()
	done := make(chan error, 1)
	go func() {
		_, err := f.wallet.Send(context.Background(), []Output{{foreign, 10_000}})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Send finished while held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	release()
	require.NoError(t, <-done)
}

func TestKeystoreDerivationAndReload(t *testing.T) {
	seed, err := SeedFromMnemonic(testutil.Mnemonic, "")
	require.NoError(t, err)

	kv := store.NewMemStore()
	ks, err := NewKeystore(seed, params.MainNet, kv)
	require.NoError(t, err)

	rec, err := ks.NewKey()
	require.NoError(t, err)
	require.Equal(t, "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA", rec.Address.String())
	require.Equal(t, "m/44'/0'/0'/0/0", rec.Path)

	second, err := ks.NewKey()
	require.NoError(t, err)
	require.Equal(t, uint32(1), second.Index)

	priv, err := ks.PrivKey(rec)
	require.NoError(t, err)
	require.Equal(t, rec.PubKey, priv.PubKey().SerializeCompressed())

	reloaded, err := NewKeystore(seed, params.MainNet, kv)
	require.NoError(t, err)
	require.Equal(t, ks.Addresses(), reloaded.Addresses())
	third, err := reloaded.NewKey()
	require.NoError(t, err)
	require.Equal(t, uint32(2), third.Index)

	_, err = NewKeystore(seed, params.RegTest, kv)
	require.Error(t, err, "records from another network must be rejected")
}

func TestImportPrivKey(t *testing.T) {
	f := newFixture(t, 1000)
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x42}, 32))
	rec, err := f.keys.ImportPrivKey(priv)
	require.NoError(t, err)
	require.True(t, rec.Imported)

	again, err := f.keys.ImportPrivKey(priv)
	require.NoError(t, err)
	require.Same(t, rec, again)

	op := f.fund(t, rec.Address, 20_000)
	tx, err := f.wallet.BuildTransaction([]types.OutPoint{op}, []Output{{foreign, 10_000}}, rec.Address, 1000)
	require.NoError(t, err)
	_, err = f.wallet.Sign(tx)
	require.NoError(t, err)
	require.Equal(t, int64(20_000), f.wallet.Balance())
}

func TestMnemonic(t *testing.T) {
	m, err := NewMnemonic()
	require.NoError(t, err)
	require.Len(t, strings.Fields(m), 24)
	_, err = SeedFromMnemonic(m, "")
	require.NoError(t, err)

	seed, err := SeedFromMnemonic(testutil.Mnemonic, "TREZOR")
	require.NoError(t, err)
	require.Equal(t, "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04", hex.EncodeToString(seed))

	_, err = SeedFromMnemonic("abandon abandon abandon", "")
	require.Error(t, err)
}
