// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package main implements the sbsign command-line driver: it loads a PE/COFF
// image and a signer, computes its Authenticode digest, wraps it in a PKCS#7
// SignedData, and writes the signed (or detached) result.
package main

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Config collects the options a Config consumes from the command line, the
// same set spec.md §6's CLI surface table names. The CLI reads cobra flags
// into this struct, then hands it to run() as a single value — nothing
// downstream of run() touches flags directly.
type Config struct {
	Input string

	Key      string
	Cert     string
	AddCert  string
	Output   string
	Detached bool

	Engine  string
	KeyForm string
	Verbose bool
}

// defaultOutput derives the output path spec.md §6 specifies when Output is
// unset: "<input>.signed", or "<input>.pk7" for a detached signature.
func (c *Config) defaultOutput() string {
	if c.Output != "" {
		return c.Output
	}
	if c.Detached {
		return c.Input + ".pk7"
	}
	return c.Input + ".signed"
}

func (c *Config) validate() error {
	if c.Input == "" {
		return fmt.Errorf("an input image path is required")
	}
	if c.Key == "" {
		return fmt.Errorf("--key is required")
	}
	if c.Cert == "" {
		return fmt.Errorf("--cert is required")
	}
	switch strings.ToUpper(c.KeyForm) {
	case "PEM", "DER", "EXTERNAL":
	default:
		return fmt.Errorf("--keyform must be one of PEM, DER, EXTERNAL, got %q", c.KeyForm)
	}
	if strings.ToUpper(c.KeyForm) == "EXTERNAL" && c.Engine == "" {
		return fmt.Errorf("--engine is required when --keyform=EXTERNAL")
	}
	return nil
}

// absOrSame returns path unchanged if filepath.Abs fails; used only for
// diagnostic logging, never for actual file access.
func absOrSame(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
