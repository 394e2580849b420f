// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/tiiuae/sbsigntools/sberrors"
)

// FileProvider loads a private key straight from a local PEM or DER file.
// This is the default signing backend, covering the common case of a key
// that never leaves the filesystem.
type FileProvider struct{}

// Load reads locator from disk and parses it as a private key. form selects
// the encoding: "DER" reads raw DER, anything else (including the empty
// string) is treated as PEM. providerID is unused for file-backed keys.
func (FileProvider) Load(locator, form, _ string) (*Handle, error) {
	const op = "signer.FileProvider.Load"

	raw, err := os.ReadFile(locator)
	if err != nil {
		return nil, sberrors.New(op, sberrors.KeyLoadFailure, err)
	}

	der := raw
	if form != "DER" {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, sberrors.New(op, sberrors.KeyLoadFailure,
				fmt.Errorf("%s: no PEM block found", locator))
		}
		der = block.Bytes
	}

	key, err := parsePrivateKey(der)
	if err != nil {
		return nil, sberrors.New(op, sberrors.KeyLoadFailure, err)
	}

	s, ok := key.(crypto.Signer)
	if !ok {
		return nil, sberrors.New(op, sberrors.KeyLoadFailure,
			fmt.Errorf("%s: key type %T is not usable for signing", locator, key))
	}

	switch s.Public().(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, sberrors.New(op, sberrors.UnsupportedAlgorithm,
			fmt.Errorf("%s: unsupported key algorithm %T", locator, s.Public()))
	}

	return newHandle(s, nil), nil
}

// parsePrivateKey tries the three private key encodings Go's x509 package
// understands, in the order OpenSSL itself tries them: PKCS#8 first since
// it is the modern, algorithm-agnostic container, then the legacy
// algorithm-specific PKCS#1 and SEC1 forms.
func parsePrivateKey(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("unrecognized private key encoding (tried PKCS#8, PKCS#1, SEC1)")
}

// LoadCertificate reads a PEM or DER certificate file, for attaching to a
// Handle after the key itself is loaded. Exported so cmd/sbsign can use the
// same parsing logic regardless of which Provider produced the Handle.
func LoadCertificate(path, form string) (*x509.Certificate, error) {
	const op = "signer.LoadCertificate"

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sberrors.New(op, sberrors.CertificateLoadFailure, err)
	}

	der := raw
	if form != "DER" {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, sberrors.New(op, sberrors.CertificateLoadFailure,
				fmt.Errorf("%s: no PEM block found", path))
		}
		der = block.Bytes
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, sberrors.New(op, sberrors.CertificateLoadFailure, err)
	}
	return cert, nil
}
