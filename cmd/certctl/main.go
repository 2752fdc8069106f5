package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "certctl",
		Usage: "Canonicalize, sign and verify certificate documents",
		Commands: []*cli.Command{
			canonicalizeCmd,
			signCmd,
			verifyCmd,
			verifyBatchCmd,
			cidCmd,
			addressCmd,
			tokenCmd,
			eventsCmd,
		},
		ErrWriter: os.Stderr,
		Version:   Version,
	}
}

var inFlag = &cli.StringFlag{
	Name:     "in",
	Usage:    "input JSON file, - for stdin",
	Required: true,
}

var recursiveFlag = &cli.BoolFlag{
	Name:  "recursive",
	Usage: "sort nested object keys too",
}

var keyFlag = &cli.StringFlag{
	Name:     "key",
	Usage:    "hex secp256k1 private key",
	Required: true,
	EnvVars:  []string{"CERTCTL_KEY"},
}
