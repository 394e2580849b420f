// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiiuae/sbsigntools/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sbsign:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &Config{}

	cmd := &cobra.Command{
		Use:   "sbsign <input image>",
		Short: "Sign a PE/COFF image with an Authenticode signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Input = args[0]
			if err := cfg.validate(); err != nil {
				return err
			}

			level := log.LevelError
			if cfg.Verbose {
				level = log.LevelInfo
			}
			logger := log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(level)))

			return run(cfg, logger)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Key, "key", "", "locator for the private key (required)")
	flags.StringVar(&cfg.Cert, "cert", "", "path to the signer's X.509 certificate in PEM (required)")
	flags.StringVar(&cfg.AddCert, "addcert", "", "path to a PEM file of intermediate certificates")
	flags.StringVar(&cfg.Output, "output", "", "output path (default <input>.signed, or <input>.pk7 if --detached)")
	flags.BoolVar(&cfg.Detached, "detached", false, "emit a detached signature instead of an attached one")
	flags.StringVar(&cfg.Engine, "engine", "", "name of the external cryptographic provider (PKCS#11 module path)")
	flags.StringVar(&cfg.Engine, "provider", "", "alias for --engine")
	flags.StringVar(&cfg.KeyForm, "keyform", "PEM", "key encoding: PEM, DER, or EXTERNAL")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable informational diagnostics")

	return cmd
}
