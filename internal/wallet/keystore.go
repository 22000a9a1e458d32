package wallet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/tyler-smith/go-bip39"

	"github.com/djkazic/wizards-wallet/internal/address"
	"github.com/djkazic/wizards-wallet/internal/params"
	"github.com/djkazic/wizards-wallet/internal/store"
)

const keyPrefix = "addr/"

// KeyRecord describes one wallet key. Derived keys are re-derived from the
// master key when needed; imported keys keep their raw private key.
type KeyRecord struct {
	Index    uint32          `cbor:"1,keyasint"`
	Path     string          `cbor:"2,keyasint"`
	PubKey   []byte          `cbor:"3,keyasint"`
	Address  address.Address `cbor:"4,keyasint"`
	Imported bool            `cbor:"5,keyasint,omitempty"`
	PrivKey  []byte          `cbor:"6,keyasint,omitempty"`
}

// NewMnemonic returns a fresh 24-word BIP39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// SeedFromMnemonic validates mnemonic and stretches it into a BIP32 seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	return seed, nil
}

// Keystore owns the wallet's keys. Derived keys live under
// m/44'/coin'/0'/0/i.
type Keystore struct {
	mu       sync.RWMutex
	net      *params.Params
	external *hdkeychain.ExtendedKey
	next     uint32
	records  map[address.Address]*KeyRecord
	kv       store.KV
}

// NewKeystore builds a keystore from a BIP32 seed and loads any records
// already persisted in kv.
func NewKeystore(seed []byte, net *params.Params, kv store.KV) (*Keystore, error) {
	master, err := hdkeychain.NewMaster(seed, net.HD)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	// m/44'/coin'/0'/0
	key := master
	for _, idx := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + net.HDCoinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
	} {
		if key, err = key.Derive(idx); err != nil {
			return nil, fmt.Errorf("derive account path: %w", err)
		}
	}

	ks := &Keystore{
		net:      net,
		external: key,
		records:  make(map[address.Address]*KeyRecord),
		kv:       kv,
	}
	if err := ks.load(); err != nil {
		return nil, err
	}
	return ks, nil
}

func (k *Keystore) load() error {
	return k.kv.ForEach([]byte(keyPrefix), func(key, value []byte) error {
		var rec KeyRecord
		if err := store.Decode(value, &rec); err != nil {
			return fmt.Errorf("key record %s: %w", key, err)
		}
		if rec.Address.Version != k.net.PubKeyHashAddrID {
			return fmt.Errorf("key record %s belongs to another network", key)
		}
		k.records[rec.Address] = &rec
		if !rec.Imported && rec.Index >= k.next {
			k.next = rec.Index + 1
		}
		return nil
	})
}

func (k *Keystore) path(i uint32) string {
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", k.net.HDCoinType, i)
}

func (k *Keystore) put(rec *KeyRecord) error {
	return store.PutRecord(k.kv, keyPrefix+rec.Address.String(), rec, false)
}

// NewKey derives, records and persists the next receive key.
func (k *Keystore) NewKey() (*KeyRecord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for {
		i := k.next
		child, err := k.external.Derive(i)
		if errors.Is(err, hdkeychain.ErrInvalidChild) {
			// Astronomically rare; BIP32 says skip to the next index.
			k.next++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("derive key %d: %w", i, err)
		}
		pub, err := child.ECPubKey()
		if err != nil {
			return nil, fmt.Errorf("public key %d: %w", i, err)
		}

		pubBytes := pub.SerializeCompressed()
		rec := &KeyRecord{
			Index:   i,
			Path:    k.path(i),
			PubKey:  pubBytes,
			Address: address.FromPubKey(pubBytes, k.net),
		}
		if err := k.put(rec); err != nil {
			return nil, fmt.Errorf("persist key %d: %w", i, err)
		}
		k.records[rec.Address] = rec
		k.next = i + 1
		return rec, nil
	}
}

// ImportPrivKey adds a raw key. Importing a key twice returns the existing
// record.
func (k *Keystore) ImportPrivKey(priv *btcec.PrivateKey) (*KeyRecord, error) {
	pubBytes := priv.PubKey().SerializeCompressed()
	addr := address.FromPubKey(pubBytes, k.net)

	k.mu.Lock()
	defer k.mu.Unlock()
	if rec, ok := k.records[addr]; ok {
		return rec, nil
	}

	rec := &KeyRecord{
		Path:     "imported",
		PubKey:   pubBytes,
		Address:  addr,
		Imported: true,
		PrivKey:  priv.Serialize(),
	}
	if err := k.put(rec); err != nil {
		return nil, fmt.Errorf("persist imported key: %w", err)
	}
	k.records[addr] = rec
	return rec, nil
}

// Lookup returns the record for an address.
func (k *Keystore) Lookup(a address.Address) (*KeyRecord, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, ok := k.records[a]
	return rec, ok
}

// Addresses lists every owned address in string order.
func (k *Keystore) Addresses() []address.Address {
	k.mu.RLock()
	out := make([]address.Address, 0, len(k.records))
	for a := range k.records {
		out = append(out, a)
	}
	k.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Owns reports whether the wallet holds the key for a.
func (k *Keystore) Owns(a address.Address) bool {
	_, ok := k.Lookup(a)
	return ok
}

// PrivKey returns the signing key of rec.
func (k *Keystore) PrivKey(rec *KeyRecord) (*btcec.PrivateKey, error) {
	if rec.Imported {
		priv, _ := btcec.PrivKeyFromBytes(rec.PrivKey)
		return priv, nil
	}

	k.mu.RLock()
	external := k.external
	k.mu.RUnlock()

	child, err := external.Derive(rec.Index)
	if err != nil {
		return nil, fmt.Errorf("derive key %s: %w", rec.Path, err)
	}
	return child.ECPrivKey()
}
