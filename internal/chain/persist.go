package chain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/djkazic/wizards-wallet/internal/store"
	"github.com/djkazic/wizards-wallet/internal/types"
)

// HeadersKey is where Save keeps the header tree.
const HeadersKey = "chain/headers"

type headerSnapshot struct {
	Genesis types.Hash256 `cbor:"1,keyasint"`
	// Headers holds every non-genesis header, 80 bytes each, parents first.
	Headers []byte `cbor:"2,keyasint"`
}

// Encode serializes every known valid header, side branches included, for
// storage under HeadersKey.
func (c *Chain) Encode() ([]byte, error) {
	c.mu.RLock()
	nodes := make([]*node, 0, len(c.nodes))
	for _, n := range c.nodes {
		if n != c.genesis && !n.invalid {
			nodes = append(nodes, n)
		}
	}
	genesis := c.genesis.hash
	c.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].height != nodes[j].height {
			return nodes[i].height < nodes[j].height
		}
		return nodes[i].hash.String() < nodes[j].hash.String()
	})

	snap := headerSnapshot{Genesis: genesis, Headers: make([]byte, 0, len(nodes)*types.HeaderSize)}
	for _, n := range nodes {
		snap.Headers = append(snap.Headers, n.header.Serialize()...)
	}
	data, err := store.EncodeRecord(snap, true)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
	return data, nil
}

// Load rebuilds a chain from the Encode record under HeadersKey. A missing record yields a fresh
// chain at genesis.
func Load(kv store.KV, genesis types.BlockHeader, powLimitBits uint32) (*Chain, error) {
	c := New(genesis, powLimitBits)

	var snap headerSnapshot
	if err := store.GetRecord(kv, HeadersKey, &snap); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c, nil
		}
		return nil, fmt.Errorf("load headers: %w", err)
	}
	if snap.Genesis != c.genesis.hash {
		return nil, fmt.Errorf("stored headers start at %s, want genesis %s", snap.Genesis, c.genesis.hash)
	}
	if len(snap.Headers)%types.HeaderSize != 0 {
		return nil, fmt.Errorf("stored headers length %d is not a multiple of %d", len(snap.Headers), types.HeaderSize)
	}

	for off := 0; off < len(snap.Headers); off += types.HeaderSize {
		h, err := types.DeserializeHeader(snap.Headers[off : off+types.HeaderSize])
		if err != nil {
			return nil, fmt.Errorf("stored header %d: %w", off/types.HeaderSize, err)
		}
		if _, err := c.AddHeader(*h); err != nil {
			return nil, fmt.Errorf("stored header %d: %w", off/types.HeaderSize, err)
		}
	}
	return c, nil
}
