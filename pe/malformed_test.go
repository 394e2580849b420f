// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"

	"go.mozilla.org/pkcs7"

	"github.com/tiiuae/sbsigntools/internal/testcert"
	"github.com/tiiuae/sbsigntools/internal/testpe"
)

func TestLoadBytesRejectsSectionExceedingFileBounds(t *testing.T) {
	data := testpe.New(t, nil)
	// Truncate past the section's declared raw data so PointerToRawData +
	// SizeOfRawData overruns the buffer.
	truncated := data[:len(data)-0x200]

	if _, err := LoadBytes(truncated, nil); err != ErrSectionExceedsFileBounds {
		t.Fatalf("expected ErrSectionExceedsFileBounds, got %v", err)
	}
}

func TestLoadBytesRejectsMissingCertDirectorySlot(t *testing.T) {
	data := testpe.New(t, &testpe.Options{NumberOfRvaAndSizes: 4})

	if _, err := LoadBytes(data, nil); err != ErrNoCertDirectorySlot {
		t.Fatalf("expected ErrNoCertDirectorySlot, got %v", err)
	}
}

func TestLoadBytesRejectsOverlappingSections(t *testing.T) {
	data := testpe.New(t, &testpe.Options{OverlapSecondSection: true})

	if _, err := LoadBytes(data, nil); err != ErrOverlappingSections {
		t.Fatalf("expected ErrOverlappingSections, got %v", err)
	}
}

func TestLoadBytesRejectsCertTableNotAtEOF(t *testing.T) {
	f, err := LoadBytes(testpe.New(t, nil), nil)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	der := signedDataFixture(t)
	if err := f.AppendSignature(der); err != nil {
		t.Fatalf("AppendSignature: %v", err)
	}

	// Append bytes after the certificate table without extending its data
	// directory entry: the table is well-formed but no longer at EOF.
	raw := append(f.Data(), []byte("trailing bytes after the certificate table")...)

	if _, err := LoadBytes(raw, nil); err != ErrCertTableNotAtEOF {
		t.Fatalf("expected ErrCertTableNotAtEOF, got %v", err)
	}
}

// signedDataFixture builds a minimal but well-formed PKCS#7 SignedData
// payload so parseSecurityDirectory's validation step succeeds, letting
// tests exercise the logic that runs after it.
func signedDataFixture(t *testing.T) []byte {
	t.Helper()
	kp := testcert.New(t, "malformed-test fixture")

	sd, err := pkcs7.NewSignedData([]byte("content"))
	if err != nil {
		t.Fatalf("pkcs7.NewSignedData: %v", err)
	}
	if err := sd.AddSigner(kp.Cert, kp.PrivateKey, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	der, err := sd.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return der
}
