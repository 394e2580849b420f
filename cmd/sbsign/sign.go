// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/tiiuae/sbsigntools/authenticode"
	"github.com/tiiuae/sbsigntools/log"
	"github.com/tiiuae/sbsigntools/pe"
	"github.com/tiiuae/sbsigntools/pkcs7"
	"github.com/tiiuae/sbsigntools/signer"
)

// digestAlgorithm is fixed at SHA-256: spec.md §4.2 makes it mandatory and
// the CLI surface names no flag to pick a different one (SHA-1 stays
// library-only, for legacy verification call sites, not this driver).
const digestAlgorithm = crypto.SHA256

// run executes one sign operation end to end: load the image, load the
// signing key and certificates, compute and sign the Authenticode digest,
// then emit the attached or detached result.
func run(cfg *Config, logger *log.Helper) error {
	f, err := pe.Load(cfg.Input, nil)
	if err != nil {
		return fmt.Errorf("loading %s: %w", cfg.Input, err)
	}
	defer f.Close()

	if cfg.Verbose {
		logger.Infof("%s is a %s image", cfg.Input, f.PrettyOptionalHeaderMagic())
		if len(f.Certificates) > 0 {
			logger.Infof("%s already carries %d certificate table entry(ies); this signature will be appended, producing a dual-signed image", cfg.Input, len(f.Certificates))
		}
	}

	handle, signerCert, err := loadSigner(cfg)
	if err != nil {
		return err
	}
	defer handle.Close()
	handle.Certificate = signerCert

	intermediates, err := loadIntermediates(cfg.AddCert)
	if err != nil {
		return err
	}

	digest, err := authenticode.Digest(f, digestAlgorithm)
	if err != nil {
		return fmt.Errorf("computing Authenticode digest: %w", err)
	}
	if cfg.Verbose {
		logger.Infof("Authenticode digest: %x", digest)
	}

	spcContent, err := authenticode.EncodeSpcIndirectData(digest, digestAlgorithm)
	if err != nil {
		return fmt.Errorf("encoding SpcIndirectData: %w", err)
	}

	der, err := pkcs7.Build(pkcs7.BuildOptions{
		SignerCert:    handle.Certificate,
		Intermediates: intermediates,
		ContentBytes:  spcContent,
		ContentOID:    authenticode.OIDSpcIndirectDataContent(),
		DigestAlg:     digestAlgorithm,
		Handle:        handle,
	})
	if err != nil {
		return fmt.Errorf("building PKCS#7 SignedData: %w", err)
	}

	output := cfg.defaultOutput()
	if cfg.Detached {
		if err := os.WriteFile(output, der, 0o644); err != nil {
			return fmt.Errorf("writing detached signature to %s: %w", output, err)
		}
		if cfg.Verbose {
			logger.Infof("wrote detached signature to %s", absOrSame(output))
		}
		return nil
	}

	if err := f.AppendSignature(der); err != nil {
		return fmt.Errorf("appending signature: %w", err)
	}
	if err := f.Write(output); err != nil {
		return fmt.Errorf("writing signed image to %s: %w", output, err)
	}
	if cfg.Verbose {
		logger.Infof("wrote signed image to %s", absOrSame(output))
	}
	return nil
}

// loadSigner resolves cfg.Key/cfg.KeyForm/cfg.Engine into a signer.Handle and
// cfg.Cert into the certificate attached to it.
func loadSigner(cfg *Config) (*signer.Handle, *x509.Certificate, error) {
	var provider signer.Provider
	switch normalizeForm(cfg.KeyForm) {
	case "EXTERNAL":
		provider = signer.PKCS11Provider{ModulePath: cfg.Engine}
	default:
		provider = signer.FileProvider{}
	}

	handle, err := provider.Load(cfg.Key, normalizeForm(cfg.KeyForm), cfg.Engine)
	if err != nil {
		return nil, nil, fmt.Errorf("loading signing key %s: %w", cfg.Key, err)
	}

	cert, err := signer.LoadCertificate(cfg.Cert, "PEM")
	if err != nil {
		handle.Close()
		return nil, nil, fmt.Errorf("loading signer certificate %s: %w", cfg.Cert, err)
	}

	return handle, cert, nil
}

// loadIntermediates parses zero or more PEM-encoded certificates out of
// path's file, for the optional --addcert chain.
func loadIntermediates(path string) ([]*x509.Certificate, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading intermediate certificates %s: %w", path, err)
	}

	var certs []*x509.Certificate
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing intermediate certificate in %s: %w", path, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return certs, nil
}

// normalizeForm canonicalizes a --keyform value to upper case so every
// comparison against "PEM"/"DER"/"EXTERNAL" (here and in Config.validate) is
// case-insensitive and case-consistent between the two.
func normalizeForm(form string) string {
	if form == "" {
		return "PEM"
	}
	return strings.ToUpper(form)
}
