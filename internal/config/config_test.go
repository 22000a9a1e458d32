package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.RPCAddr != "localhost:8001" {
		t.Errorf("rpc addr = %s", cfg.RPCAddr)
	}
	if len(cfg.PeerAddrs) != 1 || cfg.PeerAddrs[0] != "localhost:8333" {
		t.Errorf("peer addrs = %v", cfg.PeerAddrs)
	}
	if time.Duration(cfg.SaveInterval) != 10*time.Minute {
		t.Errorf("save interval = %v", time.Duration(cfg.SaveInterval))
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network != "mainnet" {
		t.Errorf("network = %s, want defaults", cfg.Network)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"network":"regtest","peer_addrs":["127.0.0.1:18444"],"handshake_timeout":"3s","accept_mempool":true}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network != "regtest" || !cfg.AcceptMempool {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if time.Duration(cfg.HandshakeTimeout) != 3*time.Second {
		t.Errorf("handshake timeout = %v", time.Duration(cfg.HandshakeTimeout))
	}
	// Untouched fields keep their defaults.
	if cfg.DustThreshold != 546 || cfg.RPCAddr != "localhost:8001" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if !strings.HasSuffix(cfg.DBPath(), filepath.Join("regtest", "wallet.db")) {
		t.Errorf("db path = %s", cfg.DBPath())
	}
}

func TestLoadBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"network":`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Default()
	cfg.Network = "testnet3"
	cfg.RPCUser, cfg.RPCPass = "u", "p"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Network != "testnet3" || got.RPCUser != "u" || got.SaveInterval != cfg.SaveInterval {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown network", func(c *Config) { c.Network = "litecoin" }, "unknown network"},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"bad peer", func(c *Config) { c.PeerAddrs = []string{"nohost"} }, "peer address"},
		{"bad listen", func(c *Config) { c.ListenAddr = "8333" }, "listen address"},
		{"user without pass", func(c *Config) { c.RPCUser = "u" }, "rpc_pass"},
		{"tiny payload", func(c *Config) { c.MaxPayload = 10 }, "max_payload"},
		{"zero timeout", func(c *Config) { c.HandshakeTimeout = 0 }, "handshake_timeout"},
		{"negative fee", func(c *Config) { c.FeeRate = -1 }, "fee_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
