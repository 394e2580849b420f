// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"sort"
	"strings"
)

// ImageSectionHeader is part of the section table; the section table is an
// array of ImageSectionHeader, each describing one section of the file such
// as its attributes and virtual offset. The array size is the number of
// sections in the file. Each entry is 40 bytes with no padding.
type ImageSectionHeader struct {

	// An 8-byte, null-padded UTF-8 encoded string. If the string is exactly 8
	// characters long, there is no terminating null. Executable images do not
	// support section names longer than 8 characters.
	Name [8]uint8

	// The total size of the section when loaded into memory. If this value is
	// greater than SizeOfRawData, the section is zero-padded.
	VirtualSize uint32

	// For executable images, the address of the first byte of the section
	// relative to the image base when the section is loaded into memory.
	VirtualAddress uint32

	// The size of the initialized data on disk. For executable images, this
	// must be a multiple of FileAlignment from the optional header.
	SizeOfRawData uint32

	// The file pointer to the first page of the section within the file.
	PointerToRawData uint32

	// Zero for executable images.
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16

	// The flags that describe the characteristics of the section.
	Characteristics uint32
}

// Section represents a PE section header; String returns its name.
type Section struct {
	Header ImageSectionHeader
}

// ParseSectionHeader parses the PE section headers. Each row of the section
// table is, in effect, a section header, and it must immediately follow the
// NT header.
func (pe *File) ParseSectionHeader() (err error) {

	// Get the first section offset.
	optionalHeaderOffset := pe.DOSHeader.AddressOfNewEXEHeader + 4 +
		uint32(binary.Size(pe.NtHeader.FileHeader))
	offset := optionalHeaderOffset +
		uint32(pe.NtHeader.FileHeader.SizeOfOptionalHeader)

	secHeader := ImageSectionHeader{}
	numberOfSections := pe.NtHeader.FileHeader.NumberOfSections
	secHeaderSize := uint32(binary.Size(secHeader))

	// The section header indexing in the table is one-based, with the order
	// of the sections defined by the linker. The sections follow one another
	// contiguously in the order defined by the section header table, with
	// starting RVAs aligned by SectionAlignment.
	for i := uint16(0); i < numberOfSections; i++ {
		if err := pe.structUnpack(&secHeader, offset, secHeaderSize); err != nil {
			return err
		}

		if secEnd := int64(secHeader.PointerToRawData) + int64(secHeader.SizeOfRawData); secEnd > pe.OverlayOffset {
			pe.OverlayOffset = secEnd
		}

		if secHeader.SizeOfRawData+secHeader.PointerToRawData > pe.size {
			return ErrSectionExceedsFileBounds
		}

		pe.Sections = append(pe.Sections, Section{Header: secHeader})
		offset += secHeaderSize
	}

	// Sort the sections by their VirtualAddress, so File.Sections does not
	// depend on the order a hostile linker wrote them in. AuthenticodeRegions
	// and checkSectionOverlap each sort their own copy by PointerToRawData.
	sort.Sort(byVirtualAddress(pe.Sections))

	if numberOfSections > 0 && len(pe.Sections) > 0 {
		offset += secHeaderSize * uint32(numberOfSections)
	}

	if err := pe.checkSectionOverlap(); err != nil {
		return err
	}

	var rawDataPointers []uint32
	for _, sec := range pe.Sections {
		if sec.Header.PointerToRawData > 0 {
			adjusted, err := pe.adjustFileAlignment(sec.Header.PointerToRawData)
			if err != nil {
				return err
			}
			rawDataPointers = append(rawDataPointers, adjusted)
		}
	}

	var lowestSectionOffset uint32
	if len(rawDataPointers) > 0 {
		lowestSectionOffset = Min(rawDataPointers)
	}

	if lowestSectionOffset == 0 || lowestSectionOffset < offset {
		if offset <= pe.size {
			pe.Header = pe.data[:offset]
		}
	} else if lowestSectionOffset <= pe.size {
		pe.Header = pe.data[:lowestSectionOffset]
	}

	pe.HasSections = true
	return nil
}

// checkSectionOverlap rejects images where two sections' raw data ranges
// overlap on disk. A signer that appends a certificate table after the last
// section (or rewrites the checksum) relies on each section occupying a
// distinct, non-overlapping byte range; a hostile or malformed layout where
// two PointerToRawData/SizeOfRawData ranges overlap would make "the last
// section" ambiguous.
func (pe *File) checkSectionOverlap() error {
	byOffset := append([]Section(nil), pe.Sections...)
	sort.Sort(byPointerToRawData(byOffset))

	for i := 1; i < len(byOffset); i++ {
		prev := byOffset[i-1].Header
		cur := byOffset[i].Header
		if prev.SizeOfRawData == 0 || cur.SizeOfRawData == 0 {
			continue
		}
		prevEnd := uint64(prev.PointerToRawData) + uint64(prev.SizeOfRawData)
		if prevEnd > uint64(cur.PointerToRawData) {
			return ErrOverlappingSections
		}
	}
	return nil
}

// String stringifies the section name.
func (section *Section) String() string {
	return strings.Replace(string(section.Header.Name[:]), "\x00", "", -1)
}

// byVirtualAddress sorts all sections by VirtualAddress.
type byVirtualAddress []Section

func (s byVirtualAddress) Len() int      { return len(s) }
func (s byVirtualAddress) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byVirtualAddress) Less(i, j int) bool {
	return s[i].Header.VirtualAddress < s[j].Header.VirtualAddress
}

// byPointerToRawData sorts sections by their on-disk raw data offset, the
// order checkSectionOverlap needs to compare each section against its
// immediate on-disk neighbor.
type byPointerToRawData []Section

func (s byPointerToRawData) Len() int      { return len(s) }
func (s byPointerToRawData) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byPointerToRawData) Less(i, j int) bool {
	return s[i].Header.PointerToRawData < s[j].Header.PointerToRawData
}
