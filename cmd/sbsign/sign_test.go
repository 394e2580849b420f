// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mozpkcs7 "go.mozilla.org/pkcs7"

	"github.com/tiiuae/sbsigntools/internal/testcert"
	"github.com/tiiuae/sbsigntools/internal/testpe"
	"github.com/tiiuae/sbsigntools/log"
	"github.com/tiiuae/sbsigntools/pe"
)

func writeFixtureFiles(t *testing.T) (image, keyPath, certPath string, kp *testcert.KeyPair) {
	t.Helper()
	dir := t.TempDir()

	image = filepath.Join(dir, "app.efi")
	if err := os.WriteFile(image, testpe.New(t, nil), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	kp = testcert.New(t, "sbsign test signer")

	keyDER, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("os.WriteFile key: %v", err)
	}

	certPath = filepath.Join(dir, "cert.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: kp.CertDER}), 0o644); err != nil {
		t.Fatalf("os.WriteFile cert: %v", err)
	}

	return image, keyPath, certPath, kp
}

func TestRunProducesAttachedSignedImage(t *testing.T) {
	image, keyPath, certPath, kp := writeFixtureFiles(t)

	cfg := &Config{
		Input:   image,
		Key:     keyPath,
		Cert:    certPath,
		KeyForm: "PEM",
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := run(cfg, log.Discard()); err != nil {
		t.Fatalf("run: %v", err)
	}

	signed, err := pe.Load(cfg.defaultOutput(), nil)
	if err != nil {
		t.Fatalf("pe.Load signed output: %v", err)
	}
	defer signed.Close()

	if len(signed.Certificates) != 1 {
		t.Fatalf("expected 1 certificate table entry, got %d", len(signed.Certificates))
	}

	p7, err := mozpkcs7.Parse(signed.Certificates[0].Content)
	if err != nil {
		t.Fatalf("mozpkcs7.Parse: %v", err)
	}
	if len(p7.Certificates) != 1 || !p7.Certificates[0].Equal(kp.Cert) {
		t.Fatalf("embedded certificate does not match the signer certificate")
	}
}

func TestRunProducesDetachedSignature(t *testing.T) {
	image, keyPath, certPath, _ := writeFixtureFiles(t)

	cfg := &Config{
		Input:    image,
		Key:      keyPath,
		Cert:     certPath,
		KeyForm:  "PEM",
		Detached: true,
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := run(cfg, log.Discard()); err != nil {
		t.Fatalf("run: %v", err)
	}

	der, err := os.ReadFile(cfg.defaultOutput())
	if err != nil {
		t.Fatalf("os.ReadFile: %v", err)
	}
	if _, err := mozpkcs7.Parse(der); err != nil {
		t.Fatalf("mozpkcs7.Parse: %v", err)
	}

	// A detached signature carries no WIN_CERTIFICATE header and the source
	// image is left untouched.
	original, err := pe.Load(image, nil)
	if err != nil {
		t.Fatalf("pe.Load original: %v", err)
	}
	defer original.Close()
	if len(original.Certificates) != 0 {
		t.Fatalf("expected the source image to remain unsigned, got %d certificates", len(original.Certificates))
	}
}

func TestConfigValidateRejectsMissingKey(t *testing.T) {
	cfg := &Config{Input: "image.efi", Cert: "cert.pem", KeyForm: "PEM"}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for a missing --key")
	}
}

func TestConfigValidateRejectsMissingCert(t *testing.T) {
	cfg := &Config{Input: "image.efi", Key: "key.pem", KeyForm: "PEM"}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for a missing --cert")
	}
}

func TestConfigValidateRejectsBadKeyform(t *testing.T) {
	cfg := &Config{Input: "image.efi", Key: "key.pem", Cert: "cert.pem", KeyForm: "PKCS12"}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for an unrecognized --keyform")
	}
}

func TestConfigValidateRequiresEngineForExternalForm(t *testing.T) {
	cfg := &Config{Input: "image.efi", Key: "key.pem", Cert: "cert.pem", KeyForm: "EXTERNAL"}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected an error for --keyform=EXTERNAL without --engine")
	}
}

func TestRunAcceptsLowercaseKeyform(t *testing.T) {
	image, keyPath, certPath, _ := writeFixtureFiles(t)

	cfg := &Config{
		Input:   image,
		Key:     keyPath,
		Cert:    certPath,
		KeyForm: "pem",
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := run(cfg, log.Discard()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNormalizeFormIsCaseInsensitive(t *testing.T) {
	cases := map[string]string{
		"":         "PEM",
		"pem":      "PEM",
		"PEM":      "PEM",
		"der":      "DER",
		"external": "EXTERNAL",
		"External": "EXTERNAL",
	}
	for in, want := range cases {
		if got := normalizeForm(in); got != want {
			t.Fatalf("normalizeForm(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadSignerDispatchesExternalKeyformCaseInsensitively(t *testing.T) {
	// A lowercase "external" keyform must still resolve to the PKCS#11
	// provider rather than falling through to FileProvider, which would
	// otherwise treat the PKCS#11 locator string as a file path.
	cfg := &Config{Key: "pkcs11:token=nope;object=nope", Cert: "cert.pem", KeyForm: "external", Engine: "/nonexistent.so"}
	_, _, err := loadSigner(cfg)
	if err == nil {
		t.Fatalf("expected an error from the (nonexistent) PKCS#11 module path")
	}
	if strings.Contains(err.Error(), "no such file or directory") && strings.Contains(err.Error(), "pkcs11:") {
		t.Fatalf("locator appears to have been treated as a file path: %v", err)
	}
}

func TestDefaultOutputNames(t *testing.T) {
	cfg := &Config{Input: "app.efi"}
	if got := cfg.defaultOutput(); got != "app.efi.signed" {
		t.Fatalf("got %q, want app.efi.signed", got)
	}
	cfg.Detached = true
	if got := cfg.defaultOutput(); got != "app.efi.pk7" {
		t.Fatalf("got %q, want app.efi.pk7", got)
	}
	cfg.Output = "custom.out"
	if got := cfg.defaultOutput(); got != "custom.out" {
		t.Fatalf("got %q, want custom.out", got)
	}
}
