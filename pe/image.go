// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// A File represents a loaded PE/COFF image.
type File struct {
	DOSHeader ImageDOSHeader `json:"dos_header,omitempty"`
	NtHeader  ImageNtHeader  `json:"nt_header,omitempty"`
	Sections  []Section      `json:"sections,omitempty"`

	// Certificates holds every parsed WIN_CERTIFICATE entry of the
	// certificate table, in file order. An image can be dual-signed, so this
	// is a slice even though most images carry at most one entry.
	Certificates []CertTableEntry `json:"certificates,omitempty"`

	Header []byte

	Is32 bool
	Is64 bool

	HasDOSHdr   bool
	HasNTHdr    bool
	HasSections bool

	data          []byte
	mapped        mmap.MMap
	size          uint32
	OverlayOffset int64
	f             *os.File
	opts          *Options
}

// Options is reserved for future parsing knobs; it carries none today. Every
// structural condition Parse checks is either accepted or a hard error, so
// there is nothing left to configure (a non-fatal anomaly log, the teacher's
// own approach, doesn't fit a signer that must refuse ambiguous input rather
// than note it and proceed).
type Options struct{}

func newOptions(opts *Options) *Options {
	if opts == nil {
		opts = &Options{}
	}
	return opts
}

// Load opens and memory-maps the named file read-only, then parses it.
func Load(name string, opts *Options) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	file := &File{
		opts:   newOptions(opts),
		mapped: mapped,
		data:   []byte(mapped),
		f:      f,
	}
	file.size = uint32(len(file.data))

	if err := file.Parse(); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// LoadBytes parses an in-memory image buffer. The buffer is copied so the
// File owns a buffer it can safely grow in AppendSignature.
func LoadBytes(data []byte, opts *Options) (*File, error) {
	file := &File{
		opts: newOptions(opts),
		data: append([]byte(nil), data...),
	}
	file.size = uint32(len(file.data))

	if err := file.Parse(); err != nil {
		return nil, err
	}
	return file, nil
}

// Close unmaps and closes the backing file, if any. Safe to call on a File
// returned by LoadBytes.
func (pe *File) Close() error {
	if pe.mapped != nil {
		_ = pe.mapped.Unmap()
	}
	if pe.f != nil {
		return pe.f.Close()
	}
	return nil
}

// Parse parses the DOS header, NT header, section headers, and (if present)
// the certificate table. Unlike the general-purpose PE parser this is
// generalized from, every structural invariant below is a hard error: a
// signer must refuse to operate on an image it cannot unambiguously rewrite,
// rather than logging an anomaly and continuing.
func (pe *File) Parse() error {
	if len(pe.data) < TinyPESize {
		return ErrInvalidPESize
	}

	if err := pe.ParseDOSHeader(); err != nil {
		return err
	}

	if err := pe.ParseNTHeader(); err != nil {
		return err
	}

	if err := pe.ParseSectionHeader(); err != nil {
		return err
	}

	dir, err := pe.certDataDirectory()
	if err != nil {
		return err
	}
	if dir.Size != 0 {
		if err := pe.parseSecurityDirectory(dir.VirtualAddress, dir.Size); err != nil {
			return err
		}
		// Authenticode requires the certificate table at end-of-file: a
		// signer cannot append a new entry in place without relocating
		// whatever data trails it, and nothing legitimate should trail it.
		if int64(dir.VirtualAddress)+int64(dir.Size) != int64(pe.size) {
			return ErrCertTableNotAtEOF
		}
	}

	return nil
}

// certDataDirectory returns the certificate-table data directory entry,
// erroring if the optional header doesn't carry that many directory slots.
func (pe *File) certDataDirectory() (DataDirectory, error) {
	var numberOfRvaAndSizes uint32
	var dir DataDirectory

	switch pe.Is64 {
	case true:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		numberOfRvaAndSizes = oh.NumberOfRvaAndSizes
		if int(ImageDirectoryEntryCertificate) < len(oh.DataDirectory) {
			dir = oh.DataDirectory[ImageDirectoryEntryCertificate]
		}
	case false:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
		numberOfRvaAndSizes = oh.NumberOfRvaAndSizes
		if int(ImageDirectoryEntryCertificate) < len(oh.DataDirectory) {
			dir = oh.DataDirectory[ImageDirectoryEntryCertificate]
		}
	}

	if numberOfRvaAndSizes <= uint32(ImageDirectoryEntryCertificate) {
		return DataDirectory{}, ErrNoCertDirectorySlot
	}
	return dir, nil
}

// setCertDataDirectory rewrites the certificate-table data directory entry,
// both on the parsed struct and in the underlying image buffer: Write and Data
// serialize straight from pe.data, so the struct alone would leave the
// on-disk directory entry stale.
func (pe *File) setCertDataDirectory(dir DataDirectory) {
	switch pe.Is64 {
	case true:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		oh.DataDirectory[ImageDirectoryEntryCertificate] = dir
		pe.NtHeader.OptionalHeader = oh
	case false:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
		oh.DataDirectory[ImageDirectoryEntryCertificate] = dir
		pe.NtHeader.OptionalHeader = oh
	}

	off := pe.certDataDirectoryFileOffset()
	binary.LittleEndian.PutUint32(pe.data[off:], dir.VirtualAddress)
	binary.LittleEndian.PutUint32(pe.data[off+4:], dir.Size)
}

// certDataDirectoryFileOffset returns the file offset of the certificate
// data directory's VirtualAddress/Size pair, used both to rewrite it (via
// setCertDataDirectory) and to exclude it from the Authenticode digest.
func (pe *File) certDataDirectoryFileOffset() uint32 {
	fileHeaderSize := uint32(20) // sizeof(ImageFileHeader) on disk
	optionalHeaderOffset := pe.DOSHeader.AddressOfNewEXEHeader + 4 + fileHeaderSize
	if pe.Is64 {
		return optionalHeaderOffset + 144
	}
	return optionalHeaderOffset + 128
}

// checksumFileOffset returns the file offset of the optional header's
// CheckSum field, fixed at offset 64 into the optional header for both
// PE32 and PE32+.
func (pe *File) checksumFileOffset() uint32 {
	fileHeaderSize := uint32(20)
	optionalHeaderOffset := pe.DOSHeader.AddressOfNewEXEHeader + 4 + fileHeaderSize
	return optionalHeaderOffset + 64
}
