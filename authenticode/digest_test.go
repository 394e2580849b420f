// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package authenticode

import (
	"bytes"
	"crypto"
	"testing"

	"github.com/tiiuae/sbsigntools/internal/testpe"
	"github.com/tiiuae/sbsigntools/pe"
)

func loadFixture(t *testing.T) *pe.File {
	t.Helper()
	f, err := pe.LoadBytes(testpe.New(t, nil), nil)
	if err != nil {
		t.Fatalf("pe.LoadBytes: %v", err)
	}
	return f
}

func TestDigestIsDeterministic(t *testing.T) {
	data := testpe.New(t, nil)

	f1, err := pe.LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("pe.LoadBytes: %v", err)
	}
	d1, err := Digest(f1, crypto.SHA256)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	f2, err := pe.LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("pe.LoadBytes: %v", err)
	}
	d2, err := Digest(f2, crypto.SHA256)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	if !bytes.Equal(d1, d2) {
		t.Fatalf("digests differ across identical inputs")
	}
	if len(d1) != crypto.SHA256.Size() {
		t.Fatalf("unexpected digest length %d", len(d1))
	}
}

func TestDigestUnaffectedBySigning(t *testing.T) {
	f := loadFixture(t)
	before, err := Digest(f, crypto.SHA256)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	if err := f.AppendSignature([]byte("placeholder signed-data bytes")); err != nil {
		t.Fatalf("AppendSignature: %v", err)
	}

	after, err := Digest(f, crypto.SHA256)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	if !bytes.Equal(before, after) {
		t.Fatalf("digest changed after appending a signature")
	}
}

func TestDigestIdempotentAcrossMultipleSignatures(t *testing.T) {
	f := loadFixture(t)
	if err := f.AppendSignature([]byte("first signature")); err != nil {
		t.Fatalf("AppendSignature (1): %v", err)
	}
	once, err := Digest(f, crypto.SHA256)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	if err := f.AppendSignature([]byte("second signature, e.g. a dual-sign scenario")); err != nil {
		t.Fatalf("AppendSignature (2): %v", err)
	}
	twice, err := Digest(f, crypto.SHA256)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	if !bytes.Equal(once, twice) {
		t.Fatalf("digest changed after appending a second signature")
	}
	if len(f.Certificates) != 2 {
		t.Fatalf("expected 2 certificate table entries, got %d", len(f.Certificates))
	}
}

func TestDigestRejectsUnsupportedAlgorithm(t *testing.T) {
	f := loadFixture(t)
	if _, err := Digest(f, crypto.MD5); err == nil {
		t.Fatalf("expected an error for an unsupported digest algorithm")
	}
}

func TestDigestAcceptsLegacySHA1(t *testing.T) {
	f := loadFixture(t)
	d, err := Digest(f, crypto.SHA1)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if len(d) != crypto.SHA1.Size() {
		t.Fatalf("unexpected digest length %d", len(d))
	}
}
