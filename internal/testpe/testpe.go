// Package testpe builds minimal, valid PE32+ images in-process for use by
// this module's tests, since no binary fixtures ship with the repository.
package testpe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/tiiuae/sbsigntools/pe"
)

// Options tweaks the synthetic image New builds.
type Options struct {
	// SectionData is the raw content of the single ".text" section. A
	// default payload is used when nil.
	SectionData []byte

	// NumberOfRvaAndSizes overrides the optional header's data directory
	// count; defaults to 16 (the full set, including the certificate
	// table slot) when zero.
	NumberOfRvaAndSizes uint32

	// OverlapSecondSection, when true, adds a second section (".rdata")
	// whose raw data range overlaps the ".text" section's, for exercising
	// rejection of malformed section tables.
	OverlapSecondSection bool
}

// New builds a minimal PE32+ image: a DOS stub, an NT header with an empty
// 16-slot data directory, and one ".text" section. It parses successfully
// with pe.LoadBytes and carries no certificate table, so callers append one
// with pe.File.AppendSignature to exercise signing.
func New(t *testing.T, opts *Options) []byte {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}

	sectionData := opts.SectionData
	if sectionData == nil {
		sectionData = []byte("authenticode test fixture payload, deterministic and boring")
	}
	sectionData = padTo(sectionData, 0x200)

	const lfanew = 0x80

	numberOfSections := uint16(1)
	if opts.OverlapSecondSection {
		numberOfSections = 2
	}

	fileHeader := pe.ImageFileHeader{
		Machine:              pe.ImageFileMachineAMD64,
		NumberOfSections:     numberOfSections,
		SizeOfOptionalHeader: uint16(binary.Size(pe.ImageOptionalHeader64{})),
	}
	sectionHeader := pe.ImageSectionHeader{}

	headersSize := uint32(lfanew) + 4 + uint32(binary.Size(fileHeader)) +
		uint32(fileHeader.SizeOfOptionalHeader) + uint32(numberOfSections)*uint32(binary.Size(sectionHeader))
	headersSizeAligned := alignUp(headersSize, 0x200)

	numberOfRvaAndSizes := opts.NumberOfRvaAndSizes
	if numberOfRvaAndSizes == 0 {
		numberOfRvaAndSizes = 16
	}

	optHeader := pe.ImageOptionalHeader64{
		Magic:               pe.ImageNtOptionalHeader64Magic,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		ImageBase:           0x140000000,
		SizeOfHeaders:       headersSizeAligned,
		SizeOfImage:         alignUp(headersSizeAligned, 0x1000) + alignUp(uint32(len(sectionData)), 0x1000),
		NumberOfRvaAndSizes: numberOfRvaAndSizes,
	}

	sectionHeader.VirtualSize = uint32(len(sectionData))
	sectionHeader.VirtualAddress = 0x1000
	sectionHeader.SizeOfRawData = uint32(len(sectionData))
	sectionHeader.PointerToRawData = headersSizeAligned
	copy(sectionHeader.Name[:], ".text")

	// A second section (".rdata") whose raw data range starts before the
	// ".text" section ends, for exercising checkSectionOverlap. It sits
	// within the bytes New writes for sectionData, so no extra raw data has
	// to be appended for it.
	var rdataHeader pe.ImageSectionHeader
	if opts.OverlapSecondSection {
		rdataHeader.VirtualSize = uint32(len(sectionData)) / 2
		rdataHeader.VirtualAddress = 0x2000
		rdataHeader.SizeOfRawData = uint32(len(sectionData)) / 2
		rdataHeader.PointerToRawData = headersSizeAligned + uint32(len(sectionData))/2
		copy(rdataHeader.Name[:], ".rdata")
	}

	dos := pe.ImageDOSHeader{
		Magic:                 pe.ImageDOSSignature,
		AddressOfNewEXEHeader: lfanew,
	}

	buf := new(bytes.Buffer)
	must(binary.Write(buf, binary.LittleEndian, dos))
	for uint32(buf.Len()) < lfanew {
		buf.WriteByte(0)
	}
	must(binary.Write(buf, binary.LittleEndian, uint32(pe.ImageNTSignature)))
	must(binary.Write(buf, binary.LittleEndian, fileHeader))
	must(binary.Write(buf, binary.LittleEndian, optHeader))
	must(binary.Write(buf, binary.LittleEndian, sectionHeader))
	if opts.OverlapSecondSection {
		must(binary.Write(buf, binary.LittleEndian, rdataHeader))
	}
	for uint32(buf.Len()) < headersSizeAligned {
		buf.WriteByte(0)
	}
	buf.Write(sectionData)

	return buf.Bytes()
}

func padTo(b []byte, n int) []byte {
	if rem := len(b) % n; rem != 0 {
		b = append(b, make([]byte, n-rem)...)
	}
	return b
}

func alignUp(v, a uint32) uint32 {
	if v%a == 0 {
		return v
	}
	return (v/a + 1) * a
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
