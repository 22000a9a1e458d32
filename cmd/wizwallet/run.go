package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/chain"
	"github.com/djkazic/wizards-wallet/internal/config"
	"github.com/djkazic/wizards-wallet/internal/feesource"
	"github.com/djkazic/wizards-wallet/internal/jsonrpc"
	"github.com/djkazic/wizards-wallet/internal/node"
	"github.com/djkazic/wizards-wallet/internal/rpc"
	"github.com/djkazic/wizards-wallet/internal/store"
	"github.com/djkazic/wizards-wallet/internal/utxo"
	"github.com/djkazic/wizards-wallet/internal/wallet"
)

// feeConfTarget is the estimatesmartfee target when bitcoind supplies rates.
const feeConfTarget = 6

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Sync with peers, track the wallet and serve JSON-RPC",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "peer", Usage: "peer host:port to keep connected (repeatable)"},
		&cli.StringFlag{Name: "listen", Usage: "accept inbound peers on host:port"},
		&cli.BoolFlag{Name: "accept-mempool", Usage: "apply valid loose transactions before they confirm"},
		&cli.Int64Flag{Name: "fee-rate", Usage: "static fee rate in sat/kB"},
		&cli.StringFlag{Name: "bitcoind-url", Usage: "bitcoind RPC URL for fee estimates"},
		&cli.BoolFlag{Name: "no-metrics", Usage: "do not serve /metrics"},
		&cli.StringFlag{Name: "passphrase", Usage: "BIP39 passphrase", EnvVars: []string{"WIZWALLET_PASSPHRASE"}},
	},
	Action: runNode,
}

func runNode(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Debug, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	net, err := cfg.Params()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.NetDir(), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	kv, err := store.NewBoltStore(cfg.DBPath(), logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	seed, err := loadSeed(cfg, c.String("passphrase"), logger)
	if err != nil {
		return err
	}
	keys, err := wallet.NewKeystore(seed, net, kv)
	if err != nil {
		return err
	}

	ch, err := chain.Load(kv, net.GenesisBlock.Header, net.PowLimitBits)
	if err != nil {
		return fmt.Errorf("load headers: %w", err)
	}
	set, err := utxo.Load(kv, net.GenesisHash)
	if err != nil {
		return fmt.Errorf("load utxo set: %w", err)
	}

	w := wallet.New(keys, set, feeSource(cfg, logger), net, cfg.DustThreshold, logger)
	n, err := node.New(node.Config{
		Params:           net,
		PeerAddrs:        cfg.PeerAddrs,
		ListenAddr:       cfg.ListenAddr,
		MaxPayload:       cfg.MaxPayload,
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeout),
		SaveInterval:     time.Duration(cfg.SaveInterval),
		AcceptMempool:    cfg.AcceptMempool,
	}, kv, ch, set, w, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RPCAddr != "" {
		srv := rpc.NewServer(rpc.Config{
			User:     cfg.RPCUser,
			Password: cfg.RPCPass,
			Metrics:  cfg.MetricsEnabled,
		}, n, logger)
		if err := srv.Start(cfg.RPCAddr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("rpc shutdown", zap.Error(err))
			}
		}()
	}

	return n.Run(ctx)
}

func feeSource(cfg *config.Config, logger *zap.Logger) wallet.FeeRateSource {
	floor := feesource.FeeRate(cfg.FeeRate)
	if cfg.BitcoindURL == "" {
		logger.Info("using static fee rate", zap.Stringer("rate", floor))
		return feesource.Static(floor)
	}
	logger.Info("using bitcoind fee estimates",
		zap.String("url", cfg.BitcoindURL),
		zap.Int("conf_target", feeConfTarget),
		zap.Stringer("floor", floor),
	)
	client := jsonrpc.NewClient(cfg.BitcoindURL, cfg.BitcoindUser, cfg.BitcoindPass)
	return feesource.NewBitcoindSource(client, feeConfTarget, floor)
}

// loadSeed reads the wallet mnemonic, creating one on first run.
func loadSeed(cfg *config.Config, passphrase string, logger *zap.Logger) ([]byte, error) {
	path := cfg.MnemonicPath()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		words, err := wallet.NewMnemonic()
		if err != nil {
			return nil, err
		}
		if err := writeMnemonic(path, words); err != nil {
			return nil, err
		}
		logger.Warn("created a new wallet mnemonic, back it up", zap.String("path", path))
		return wallet.SeedFromMnemonic(words, passphrase)
	case err != nil:
		return nil, fmt.Errorf("read mnemonic: %w", err)
	}
	return wallet.SeedFromMnemonic(string(data), passphrase)
}

func writeMnemonic(path, words string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("write mnemonic: %w", err)
	}
	if _, err := f.WriteString(strings.TrimSpace(words) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write mnemonic: %w", err)
	}
	return f.Close()
}
