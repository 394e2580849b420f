// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package signer is the capability boundary between the PKCS#7 builder and
// whatever actually holds the private key: a PEM/DER file on disk, or an
// external PKCS#11 token. Callers never see a crypto.PrivateKey directly,
// only a Handle that can sign a message and be closed.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"fmt"

	"github.com/tiiuae/sbsigntools/sberrors"
)

// Provider loads a signing Handle for a key locator. form is one of "PEM",
// "DER", or "EXTERNAL"; providerID names the external provider when form is
// "EXTERNAL" and is ignored otherwise.
type Provider interface {
	Load(locator, form, providerID string) (*Handle, error)
}

// Handle is an opaque reference to a private key usable for one-shot signing
// over a caller-chosen digest algorithm, paired with the certificate
// identifying its public half. The certificate is set by the caller after
// loading it independently (spec.md's "cert" CLI option is a distinct
// locator from the key's), not by Provider.Load itself.
type Handle struct {
	Certificate *x509.Certificate

	signer crypto.Signer
	closer func() error
}

func newHandle(s crypto.Signer, closer func() error) *Handle {
	return &Handle{signer: s, closer: closer}
}

// Sign hashes message with alg and signs the resulting digest, returning the
// raw signature bytes. This is the full hash-then-sign spec.md §4.5
// describes: callers pass whatever they need signed over (e.g. the DER of a
// PKCS#7 authenticated-attributes set), not a pre-hashed digest.
func (h *Handle) Sign(alg crypto.Hash, message []byte) ([]byte, error) {
	const op = "signer.Handle.Sign"

	if !alg.Available() {
		return nil, sberrors.New(op, sberrors.UnsupportedAlgorithm,
			fmt.Errorf("hash algorithm %v is not linked into this binary", alg))
	}

	hasher := alg.New()
	hasher.Write(message)
	digest := hasher.Sum(nil)

	sig, err := h.signer.Sign(rand.Reader, digest, alg)
	if err != nil {
		return nil, sberrors.New(op, sberrors.SignFailure, err)
	}
	return sig, nil
}

// Close releases any resources the handle's backend holds (a PKCS#11
// session, for instance). Safe to call on a file-backed handle.
func (h *Handle) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer()
}
