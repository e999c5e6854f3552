// Command accrue runs the portfolio ledger with recurring purchases.
//
// Usage:
//
//	accrue setup -out accrue.yaml
//	accrue run -config accrue.yaml
//	accrue status -config accrue.yaml
//
// Optional environment variables:
//
//	BINANCE_API_KEY, BINANCE_API_SECRET (public market data works without)
//	BYBIT_API_KEY, BYBIT_API_SECRET
//	HYPERLIQUID_PRIVATE_KEY (required for platform hyperliquid)
//	ACCRUE_CONFIG (default config path)
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/vadiminshakov/accrue/internal/cli"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, "accrue")
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range cli.Commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
