// Package config loads the node's settings from a JSON file over built-in
// defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/djkazic/wizards-wallet/internal/params"
)

// Duration is a time.Duration that reads and writes as "10s", "5m".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full set of node settings.
type Config struct {
	Network    string   `json:"network"`
	DataDir    string   `json:"data_dir"`
	PeerAddrs  []string `json:"peer_addrs"`
	ListenAddr string   `json:"listen_addr,omitempty"`

	RPCAddr string `json:"rpc_addr"`
	RPCUser string `json:"rpc_user,omitempty"`
	RPCPass string `json:"rpc_pass,omitempty"`

	MaxPayload       uint32   `json:"max_payload"`
	HandshakeTimeout Duration `json:"handshake_timeout"`
	SaveInterval     Duration `json:"save_interval"`
	AcceptMempool    bool     `json:"accept_mempool"`

	DustThreshold int64 `json:"dust_threshold"`
	// FeeRate is the static sat/kB rate, and the floor under bitcoind
	// estimates when BitcoindURL is set.
	FeeRate      int64  `json:"fee_rate"`
	BitcoindURL  string `json:"bitcoind_url,omitempty"`
	BitcoindUser string `json:"bitcoind_user,omitempty"`
	BitcoindPass string `json:"bitcoind_pass,omitempty"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	LogFile        string `json:"log_file,omitempty"`
	Debug          bool   `json:"debug"`
}

// Default returns the settings used when no file or flag overrides them.
func Default() *Config {
	return &Config{
		Network:          "mainnet",
		DataDir:          defaultDataDir(),
		PeerAddrs:        []string{"localhost:8333"},
		RPCAddr:          "localhost:8001",
		MaxPayload:       32 << 20,
		HandshakeTimeout: Duration(10 * time.Second),
		SaveInterval:     Duration(600 * time.Second),
		DustThreshold:    546,
		FeeRate:          1000,
		MetricsEnabled:   true,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wizwallet"
	}
	return filepath.Join(home, ".wizwallet")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Params resolves the configured network.
func (c *Config) Params() (*params.Params, error) {
	return params.ByName(c.Network)
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	for _, addr := range c.PeerAddrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("peer address %q: %w", addr, err)
		}
	}
	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			return fmt.Errorf("listen address %q: %w", c.ListenAddr, err)
		}
	}
	if c.RPCAddr != "" {
		if _, _, err := net.SplitHostPort(c.RPCAddr); err != nil {
			return fmt.Errorf("rpc address %q: %w", c.RPCAddr, err)
		}
	}
	if c.RPCUser != "" && c.RPCPass == "" {
		return errors.New("rpc_pass must be set with rpc_user")
	}
	if c.MaxPayload < 1<<10 {
		return fmt.Errorf("max_payload %d is too small", c.MaxPayload)
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	if c.SaveInterval <= 0 {
		return errors.New("save_interval must be positive")
	}
	if c.DustThreshold < 0 {
		return errors.New("dust_threshold must not be negative")
	}
	if c.FeeRate < 0 {
		return errors.New("fee_rate must not be negative")
	}
	return nil
}

// NetDir is the per-network directory under DataDir.
func (c *Config) NetDir() string {
	name := c.Network
	if p, err := c.Params(); err == nil {
		name = p.Name
	}
	return filepath.Join(c.DataDir, name)
}

// DBPath is the bbolt file for the configured network.
func (c *Config) DBPath() string {
	return filepath.Join(c.NetDir(), "wallet.db")
}

// MnemonicPath holds the wallet's BIP39 words.
func (c *Config) MnemonicPath() string {
	return filepath.Join(c.NetDir(), "mnemonic")
}
