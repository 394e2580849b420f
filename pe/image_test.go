// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"

	"github.com/tiiuae/sbsigntools/internal/testpe"
)

func TestLoadBytesParsesMinimalImage(t *testing.T) {
	data := testpe.New(t, nil)

	f, err := LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	if !f.HasDOSHdr || !f.HasNTHdr || !f.HasSections {
		t.Fatalf("expected DOS/NT/section headers parsed, got %+v", f)
	}
	if !f.Is64 {
		t.Fatalf("expected a PE32+ image")
	}
	if len(f.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(f.Sections))
	}
	if len(f.Certificates) != 0 {
		t.Fatalf("unsigned fixture should carry no certificate table entries")
	}
}

func TestLoadBytesRejectsTruncatedImage(t *testing.T) {
	if _, err := LoadBytes(make([]byte, 10), nil); err != ErrInvalidPESize {
		t.Fatalf("expected ErrInvalidPESize, got %v", err)
	}
}

func TestLoadBytesRejectsBadDOSMagic(t *testing.T) {
	data := testpe.New(t, nil)
	data[0] = 'X'
	data[1] = 'X'
	if _, err := LoadBytes(data, nil); err != ErrDOSMagicNotFound {
		t.Fatalf("expected ErrDOSMagicNotFound, got %v", err)
	}
}

func TestLoadBytesRejectsBadNTSignature(t *testing.T) {
	data := testpe.New(t, nil)
	lfanew := int(data[0x3c]) // AddressOfNewEXEHeader low byte, file built with lfanew=0x80<256
	_ = lfanew
	offset := 0x80
	data[offset] = 0
	data[offset+1] = 0
	data[offset+2] = 0
	data[offset+3] = 0
	if _, err := LoadBytes(data, nil); err == nil {
		t.Fatalf("expected an error for a corrupted NT signature")
	}
}

func TestAppendSignatureGrowsCertificateTable(t *testing.T) {
	data := testpe.New(t, nil)
	f, err := LoadBytes(data, nil)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	before := len(f.Data())
	payload := []byte("fake pkcs7 signed data, not parsed by AppendSignature directly in this test path")
	// AppendSignature validates nothing about the payload itself (the
	// caller is responsible for producing well-formed PKCS#7); it only
	// manages the WIN_CERTIFICATE framing and data directory bookkeeping.
	if err := f.AppendSignature(payload); err != nil {
		t.Fatalf("AppendSignature: %v", err)
	}

	if len(f.Data()) <= before {
		t.Fatalf("expected the buffer to grow")
	}
	if len(f.Certificates) != 1 {
		t.Fatalf("expected 1 certificate table entry, got %d", len(f.Certificates))
	}
	dir, err := f.certDataDirectory()
	if err != nil {
		t.Fatalf("certDataDirectory: %v", err)
	}
	if dir.Size == 0 || dir.VirtualAddress == 0 {
		t.Fatalf("expected a non-empty certificate data directory, got %+v", dir)
	}
	if dir.Size%8 != 0 {
		t.Fatalf("certificate table size must be 8-byte aligned, got %d", dir.Size)
	}
}
