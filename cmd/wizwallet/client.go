package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/djkazic/wizards-wallet/internal/config"
	"github.com/djkazic/wizards-wallet/internal/rpc"
	"github.com/djkazic/wizards-wallet/internal/wallet"
)

func rpcClient(cfg *config.Config) *rpc.Client {
	return rpc.NewClient("http://"+cfg.RPCAddr, cfg.RPCUser, cfg.RPCPass)
}

var getBalanceCommand = &cli.Command{
	Name:  "getbalance",
	Usage: "Print the wallet balance in BTC",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		btc, err := rpcClient(cfg).GetBalance(c.Context)
		if err != nil {
			return err
		}
		fmt.Println(strconv.FormatFloat(btc, 'f', 8, 64))
		return nil
	},
}

var getNewAddressCommand = &cli.Command{
	Name:  "getnewaddress",
	Usage: "Derive and print a fresh receiving address",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		addr, err := rpcClient(cfg).GetNewAddress(c.Context)
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Pay an amount in BTC to an address",
	ArgsUsage: "<address> <amount>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.ShowSubcommandHelp(c)
		}
		amount, err := strconv.ParseFloat(c.Args().Get(1), 64)
		if err != nil {
			return fmt.Errorf("amount %q: %w", c.Args().Get(1), err)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		txid, err := rpcClient(cfg).SendToAddress(c.Context, c.Args().Get(0), amount)
		if err != nil {
			return err
		}
		fmt.Println(txid)
		return nil
	},
}

var mnemonicCommand = &cli.Command{
	Name:  "mnemonic",
	Usage: "Generate a BIP39 mnemonic, or install one as this network's wallet",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "save", Usage: "write the generated words as the wallet mnemonic"},
		&cli.StringFlag{Name: "import", Usage: "install these words instead of generating new ones"},
	},
	Action: func(c *cli.Context) error {
		words := c.String("import")
		if words == "" {
			var err error
			if words, err = wallet.NewMnemonic(); err != nil {
				return err
			}
			fmt.Println(words)
		} else if _, err := wallet.SeedFromMnemonic(words, ""); err != nil {
			return err
		}

		if !c.Bool("save") && !c.IsSet("import") {
			return nil
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		path := cfg.MnemonicPath()
		if err := writeMnemonic(path, words); err != nil {
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("a wallet mnemonic already exists at %s", path)
			}
			return err
		}
		fmt.Fprintln(os.Stderr, "saved mnemonic to", path)
		return nil
	},
}
