// Command wizwallet runs the Bitcoin wallet node and talks to a running one
// over JSON-RPC.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/djkazic/wizards-wallet/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "wizwallet",
		Usage: "A light Bitcoin wallet node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a JSON config file", EnvVars: []string{"WIZWALLET_CONFIG"}},
			&cli.StringFlag{Name: "network", Usage: "mainnet, testnet3 or regtest"},
			&cli.StringFlag{Name: "datadir", Usage: "directory for the database and mnemonic"},
			&cli.StringFlag{Name: "rpc-addr", Usage: "JSON-RPC listen or connect address"},
			&cli.StringFlag{Name: "rpc-user", Usage: "JSON-RPC basic auth user"},
			&cli.StringFlag{Name: "rpc-pass", Usage: "JSON-RPC basic auth password", EnvVars: []string{"WIZWALLET_RPC_PASS"}},
			&cli.BoolFlag{Name: "debug", Usage: "development logging at debug level"},
			&cli.StringFlag{Name: "log-file", Usage: "also write logs to this rotated file"},
		},
		Commands: []*cli.Command{
			runCommand,
			getBalanceCommand,
			getNewAddressCommand,
			sendCommand,
			mnemonicCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies any flags set on the
// command line over it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("network") {
		cfg.Network = c.String("network")
	}
	if c.IsSet("datadir") {
		cfg.DataDir = c.String("datadir")
	}
	if c.IsSet("rpc-addr") {
		cfg.RPCAddr = c.String("rpc-addr")
	}
	if c.IsSet("rpc-user") {
		cfg.RPCUser = c.String("rpc-user")
	}
	if c.IsSet("rpc-pass") {
		cfg.RPCPass = c.String("rpc-pass")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}

	// Flags only defined on run.
	if c.IsSet("peer") {
		cfg.PeerAddrs = c.StringSlice("peer")
	}
	if c.IsSet("listen") {
		cfg.ListenAddr = c.String("listen")
	}
	if c.IsSet("accept-mempool") {
		cfg.AcceptMempool = c.Bool("accept-mempool")
	}
	if c.IsSet("fee-rate") {
		cfg.FeeRate = c.Int64("fee-rate")
	}
	if c.IsSet("bitcoind-url") {
		cfg.BitcoindURL = c.String("bitcoind-url")
	}
	if c.IsSet("no-metrics") {
		cfg.MetricsEnabled = !c.Bool("no-metrics")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
