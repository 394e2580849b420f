// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"errors"

	"go.mozilla.org/pkcs7"
)

// The options for the WIN_CERTIFICATE Revision member.
const (
	// WinCertRevision1_0 is the legacy WIN_CERT_REVISION_1_0, supported only
	// for verifying legacy Authenticode signatures.
	WinCertRevision1_0 = 0x0100

	// WinCertRevision2_0 is the current WIN_CERT_REVISION_2_0, the one this
	// module always writes.
	WinCertRevision2_0 = 0x0200
)

// The options for the WIN_CERTIFICATE CertificateType member.
const (
	// WinCertTypeX509 is a bare X.509 certificate; not produced or accepted
	// here.
	WinCertTypeX509 = 0x0001

	// WinCertTypePKCSSignedData marks a PKCS#7 SignedData payload, the only
	// certificate type this module writes.
	WinCertTypePKCSSignedData = 0x0002
)

// ErrSecurityDataDirInvalid is reported when a WIN_CERTIFICATE header in the
// certificate table is malformed.
var ErrSecurityDataDirInvalid = errors.New("invalid certificate header in security directory")

// WinCertificate is the 8-byte WIN_CERTIFICATE header that precedes every
// certificate-table entry's payload.
type WinCertificate struct {
	// Length, in bytes, of the entire entry (header + payload), before
	// the 8-byte padding that separates it from the next entry.
	Length uint32 `json:"length"`

	Revision        uint16 `json:"revision"`
	CertificateType uint16 `json:"certificate_type"`
}

// CertTableEntry is one WIN_CERTIFICATE entry of the certificate table. An
// image can be dual-signed, so File.Certificates holds one of these per
// signature actually present.
type CertTableEntry struct {
	Header WinCertificate `json:"header"`

	// Content is the PKCS#7 SignedData DER payload, without the
	// WIN_CERTIFICATE header and without the trailing pad bytes.
	Content []byte `json:"-"`
}

// parseSecurityDirectory walks the certificate table starting at the given
// file offset, for the given total size, recording one CertTableEntry per
// WIN_CERTIFICATE found. A PE file can carry more than one signature (dual
// signing is the recommended way to add a modern digest alongside a legacy
// one), so entries are walked until the directory's declared size is
// consumed.
func (pe *File) parseSecurityDirectory(fileOffset, size uint32) error {
	certHeader := WinCertificate{}
	certSize := uint32(binary.Size(certHeader))

	end := fileOffset + size
	for fileOffset < end {
		if err := pe.structUnpack(&certHeader, fileOffset, certSize); err != nil {
			return ErrOutsideBoundary
		}
		if certHeader.Length == 0 {
			return ErrSecurityDataDirInvalid
		}
		if fileOffset+certHeader.Length > pe.size {
			return ErrOutsideBoundary
		}

		content := pe.data[fileOffset+certSize : fileOffset+certHeader.Length]
		// Validate it parses as PKCS#7 SignedData; this module only ever
		// writes that certificate type, and re-signing an image whose
		// existing entries aren't even well-formed PKCS#7 would corrupt the
		// appended digest's provenance.
		if _, err := pkcs7.Parse(content); err != nil {
			return err
		}

		pe.Certificates = append(pe.Certificates, CertTableEntry{
			Header:  certHeader,
			Content: append([]byte(nil), content...),
		})

		// Subsequent entries are accessed by advancing that entry's Length
		// bytes, rounded up to an 8-byte multiple, from the start of the
		// current entry.
		next := certHeader.Length + fileOffset
		next = ((next + 7) / 8) * 8
		if next <= fileOffset {
			return ErrSecurityDataDirInvalid
		}
		fileOffset = next
	}

	return nil
}

// AppendSignature appends a new certificate-table entry wrapping der (a
// PKCS#7 SignedData payload). The entry is padded to an 8-byte boundary; the
// certificate-table data-directory entry is updated in place: if previously
// empty, its VirtualAddress is set to the current end-of-file (itself
// rounded up to 8 bytes); its Size becomes the sum of every padded entry's
// length. The image buffer grows to hold the new entry.
func (pe *File) AppendSignature(der []byte) error {
	header := WinCertificate{
		Revision:        WinCertRevision2_0,
		CertificateType: WinCertTypePKCSSignedData,
	}
	unpaddedLen := uint32(8) + uint32(len(der))
	header.Length = unpaddedLen
	paddedLen := ((unpaddedLen + 7) / 8) * 8
	padding := paddedLen - unpaddedLen

	dir, err := pe.certDataDirectory()
	if err != nil {
		return err
	}

	eof := uint32(len(pe.data))
	aligned := ((eof + 7) / 8) * 8
	if aligned > eof {
		pe.data = append(pe.data, make([]byte, aligned-eof)...)
	}
	newVA := aligned

	entry := make([]byte, 0, paddedLen)
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:4], header.Length)
	binary.LittleEndian.PutUint16(hdr[4:6], header.Revision)
	binary.LittleEndian.PutUint16(hdr[6:8], header.CertificateType)
	entry = append(entry, hdr...)
	entry = append(entry, der...)
	entry = append(entry, make([]byte, padding)...)

	pe.data = append(pe.data, entry...)
	pe.size = uint32(len(pe.data))

	if dir.Size == 0 {
		dir.VirtualAddress = newVA
	}
	dir.Size += paddedLen
	pe.setCertDataDirectory(dir)

	// The checksum field isn't part of the digest (AuthenticodeRegions
	// excludes it) but a stale one makes the output look tampered with, so
	// it's refreshed over the final buffer.
	binary.LittleEndian.PutUint32(pe.data[pe.checksumFileOffset():], pe.Checksum())

	pe.Certificates = append(pe.Certificates, CertTableEntry{
		Header:  header,
		Content: append([]byte(nil), der...),
	})
	return nil
}
