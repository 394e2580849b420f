// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func writePEMKey(t *testing.T, der []byte, blockType string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "key.pem")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("os.Create: %v", err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		t.Fatalf("pem.Encode: %v", err)
	}
	return path
}

func TestFileProviderLoadsPKCS8RSAKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	path := writePEMKey(t, der, "PRIVATE KEY")

	h, err := (FileProvider{}).Load(path, "PEM", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Close()

	sig, err := h.Sign(crypto.SHA256, []byte("message"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) == 0 {
		t.Fatalf("empty signature")
	}
}

func TestFileProviderLoadsPKCS1RSAKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	path := writePEMKey(t, der, "RSA PRIVATE KEY")

	h, err := (FileProvider{}).Load(path, "PEM", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Close()
	if _, err := h.Sign(crypto.SHA256, []byte("message")); err != nil {
		t.Fatalf("Sign: %v", err)
	}
}

func TestFileProviderLoadsECKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa.GenerateKey: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	path := writePEMKey(t, der, "EC PRIVATE KEY")

	h, err := (FileProvider{}).Load(path, "PEM", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Close()
	if _, err := h.Sign(crypto.SHA256, []byte("message")); err != nil {
		t.Fatalf("Sign: %v", err)
	}
}

func TestFileProviderLoadsDERKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "key.der")
	if err := os.WriteFile(path, der, 0600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	h, err := (FileProvider{}).Load(path, "DER", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer h.Close()
}

func TestFileProviderRejectsMissingFile(t *testing.T) {
	if _, err := (FileProvider{}).Load("/nonexistent/path/key.pem", "PEM", ""); err == nil {
		t.Fatalf("expected an error for a missing key file")
	}
}

func TestFileProviderRejectsNonPEMContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(path, []byte("not a pem file"), 0600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if _, err := (FileProvider{}).Load(path, "PEM", ""); err == nil {
		t.Fatalf("expected an error for non-PEM content")
	}
}
