// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
)

// ImageNtHeader represents the PE header and is the general term for a structure
// named IMAGE_NT_HEADERS.
type ImageNtHeader struct {
	// Signature is a DWORD containing the value 50h, 45h, 00h, 00h.
	Signature uint32 `json:"signature"`

	// IMAGE_NT_HEADERS provides a standard COFF header. It is located
	// immediately after the PE signature. The COFF header provides the most
	// general characteristics of a PE/COFF file, applicable to both object and
	// executable files. It is represented with IMAGE_FILE_HEADER structure.
	FileHeader ImageFileHeader `json:"file_header"`

	// OptionalHeader is of type ImageOptionalHeader32 or ImageOptionalHeader64.
	OptionalHeader interface{} `json:"optional_header"`
}

// ImageFileHeader contains infos about the physical layout and properties of the
// file.
type ImageFileHeader struct {
	// The number that identifies the type of target machine.
	Machine ImageFileHeaderMachineType `json:"machine"`

	// The number of sections. This indicates the size of the section table,
	// which immediately follows the headers.
	NumberOfSections uint16 `json:"number_of_sections"`

	// The low 32 bits of the number of seconds since 00:00 January 1, 1970
	// (a C run-time time_t value), that indicates when the file was created.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// The file offset of the COFF symbol table, or zero if no COFF symbol
	// table is present. This value should be zero for an image because COFF
	// debugging information is deprecated.
	PointerToSymbolTable uint32 `json:"pointer_to_symbol_table"`

	// The number of entries in the symbol table. This data can be used to
	// locate the string table, which immediately follows the symbol table.
	// This value should be zero for an image because COFF debugging information
	// is deprecated.
	NumberOfSymbols uint32 `json:"number_of_symbols"`

	// The size of the optional header, which is required for executable files
	// but not for object files. This value should be zero for an object file.
	SizeOfOptionalHeader uint16 `json:"size_of_optional_header"`

	// The flags that indicate the attributes of the file. Unexamined by the
	// signer; kept verbatim from the source image.
	Characteristics uint16 `json:"characteristics"`
}

// ImageOptionalHeader32 represents the PE32 format structure of the optional header.
// PE32 contains this additional field, which is absent in PE32+.
type ImageOptionalHeader32 struct {

	// The unsigned integer that identifies the state of the image file.
	// 0x10B identifies it as a PE32 executable, 0x20B as PE32+.
	Magic uint16 `json:"magic"`

	MajorLinkerVersion uint8 `json:"major_linker_version"`
	MinorLinkerVersion uint8 `json:"minor_linker_version"`

	SizeOfCode              uint32 `json:"size_of_code"`
	SizeOfInitializedData   uint32 `json:"size_of_initialized_data"`
	SizeOfUninitializedData uint32 `json:"size_of_uninitialized_data"`
	AddressOfEntryPoint     uint32 `json:"address_of_entrypoint"`
	BaseOfCode              uint32 `json:"base_of_code"`

	// BaseOfData doesn't exist in the 64-bit Optional header.
	BaseOfData uint32 `json:"base_of_data"`

	// The preferred address of the first byte of image when loaded into
	// memory; must be a multiple of 64 K.
	ImageBase uint32 `json:"image_base"`

	SectionAlignment uint32 `json:"section_alignment"`
	FileAlignment    uint32 `json:"file_alignment"`

	MajorOperatingSystemVersion uint16 `json:"major_os_version"`
	MinorOperatingSystemVersion uint16 `json:"minor_os_version"`
	MajorImageVersion           uint16 `json:"major_image_version"`
	MinorImageVersion           uint16 `json:"minor_image_version"`
	MajorSubsystemVersion       uint16 `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16 `json:"minor_subsystem_version"`
	Win32VersionValue           uint32 `json:"win32_version_value"`

	// The size (in bytes) of the image, including all headers, as the image
	// is loaded in memory. It must be a multiple of SectionAlignment.
	SizeOfImage uint32 `json:"size_of_image"`

	// The combined size of an MS-DOS stub, PE header, and section headers
	// rounded up to a multiple of FileAlignment. Not read by the signer:
	// AuthenticodeRegions ends the header ranges at len(File.Header), which
	// ParseSectionHeader derives from the section table.
	SizeOfHeaders uint32 `json:"size_of_headers"`

	// The image file checksum, excluded from the Authenticode digest.
	CheckSum uint32 `json:"checksum"`

	Subsystem          uint16 `json:"subsystem"`
	DllCharacteristics uint16 `json:"dll_characteristics"`

	SizeOfStackReserve uint32 `json:"size_of_stack_reserve"`
	SizeOfStackCommit  uint32 `json:"size_of_stack_commit"`
	SizeOfHeapReserve  uint32 `json:"size_of_heap_reserve"`
	SizeOfHeapCommit   uint32 `json:"size_of_heap_commit"`
	LoaderFlags        uint32 `json:"loader_flags"`

	// Number of entries in the DataDirectory array. Parse rejects values
	// that stop short of the certificate-table slot (index 4).
	NumberOfRvaAndSizes uint32 `json:"number_of_rva_and_sizes"`

	// An array of 16 IMAGE_DATA_DIRECTORY structures. Index
	// ImageDirectoryEntryCertificate carries the Authenticode certificate
	// table location, excluded from the Authenticode digest and rewritten
	// in place when a signature is appended.
	DataDirectory [16]DataDirectory `json:"data_directories"`
}

// ImageOptionalHeader64 represents the PE32+ format structure of the optional header.
type ImageOptionalHeader64 struct {
	Magic uint16 `json:"magic"`

	MajorLinkerVersion uint8 `json:"major_linker_version"`
	MinorLinkerVersion uint8 `json:"minor_linker_version"`

	SizeOfCode              uint32 `json:"size_of_code"`
	SizeOfInitializedData   uint32 `json:"size_of_initialized_data"`
	SizeOfUninitializedData uint32 `json:"size_of_uninitialized_data"`
	AddressOfEntryPoint     uint32 `json:"address_of_entrypoint"`
	BaseOfCode              uint32 `json:"base_of_code"`

	// In PE32+, ImageBase is 8 bytes.
	ImageBase uint64 `json:"image_base"`

	SectionAlignment uint32 `json:"section_alignment"`
	FileAlignment    uint32 `json:"file_alignment"`

	MajorOperatingSystemVersion uint16 `json:"major_os_version"`
	MinorOperatingSystemVersion uint16 `json:"minor_os_version"`
	MajorImageVersion           uint16 `json:"major_image_version"`
	MinorImageVersion           uint16 `json:"minor_image_version"`
	MajorSubsystemVersion       uint16 `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16 `json:"minor_subsystem_version"`
	Win32VersionValue           uint32 `json:"win32_version_value"`

	SizeOfImage   uint32 `json:"size_of_image"`
	SizeOfHeaders uint32 `json:"size_of_headers"`
	CheckSum      uint32 `json:"checksum"`

	Subsystem          uint16 `json:"subsystem"`
	DllCharacteristics uint16 `json:"dll_characteristics"`

	SizeOfStackReserve uint64 `json:"size_of_stack_reserve"`
	SizeOfStackCommit  uint64 `json:"size_of_stack_commit"`
	SizeOfHeapReserve  uint64 `json:"size_of_heap_reserve"`
	SizeOfHeapCommit   uint64 `json:"size_of_heap_commit"`
	LoaderFlags        uint32 `json:"loader_flags"`

	NumberOfRvaAndSizes uint32 `json:"number_of_rva_and_sizes"`

	DataDirectory [16]DataDirectory `json:"data_directories"`
}

// DataDirectory represents an entry in the array of 16 IMAGE_DATA_DIRECTORY
// structures, 8 bytes apiece, each relating to an important data structure
// in the PE file. The data directory table starts at offset 96 in a 32-bit
// PE header and at offset 112 in a 64-bit PE header.
type DataDirectory struct {
	VirtualAddress uint32 // The RVA of the data structure.
	Size           uint32 // The size in bytes of the data structure referred to.
}

// ParseNTHeader parses the PE NT header structure referred as IMAGE_NT_HEADERS.
// Its offset is given by the e_lfanew field in the IMAGE_DOS_HEADER at the
// beginning of the file.
func (pe *File) ParseNTHeader() (err error) {
	ntHeaderOffset := pe.DOSHeader.AddressOfNewEXEHeader
	signature, err := pe.ReadUint32(ntHeaderOffset)
	if err != nil {
		return ErrInvalidNtHeaderOffset
	}

	// Probe for non-PE signatures; a signer has nothing to sign in them.
	if signature&0xFFFF == ImageOS2Signature {
		return ErrImageOS2SignatureFound
	}
	if signature&0xFFFF == ImageOS2LESignature {
		return ErrImageOS2LESignatureFound
	}
	if signature&0xFFFF == ImageVXDSignature {
		return ErrImageVXDSignatureFound
	}
	if signature&0xFFFF == ImageTESignature {
		return ErrImageTESignatureFound
	}

	// This is the smallest requirement for a valid PE.
	if signature != ImageNTSignature {
		return ErrImageNtSignatureNotFound
	}
	pe.NtHeader.Signature = signature

	// The file header structure contains some basic information about the
	// file; most importantly, a field describing the size of the optional
	// data that follows it.
	fileHeaderSize := uint32(binary.Size(pe.NtHeader.FileHeader))
	fileHeaderOffset := ntHeaderOffset + 4
	err = pe.structUnpack(&pe.NtHeader.FileHeader, fileHeaderOffset, fileHeaderSize)
	if err != nil {
		return err
	}

	// The optional header could be either for a PE32 or PE32+ file; its size
	// depends on the number of data directories, given by
	// SizeOfOptionalHeader in the COFF header.
	oh32 := ImageOptionalHeader32{}
	oh64 := ImageOptionalHeader64{}

	optHeaderOffset := ntHeaderOffset + (fileHeaderSize + 4)
	magic, err := pe.ReadUint16(optHeaderOffset)
	if err != nil {
		return err
	}

	// Probe for PE32/PE32+ optional header magic.
	if magic != ImageNtOptionalHeader32Magic &&
		magic != ImageNtOptionalHeader64Magic {
		return ErrImageNtOptionalHeaderMagicNotFound
	}

	switch magic {
	case ImageNtOptionalHeader64Magic:
		size := uint32(binary.Size(oh64))
		err = pe.structUnpack(&oh64, optHeaderOffset, size)
		if err != nil {
			return err
		}
		pe.Is64 = true
		pe.NtHeader.OptionalHeader = oh64
	case ImageNtOptionalHeader32Magic:
		size := uint32(binary.Size(oh32))
		err = pe.structUnpack(&oh32, optHeaderOffset, size)
		if err != nil {
			return err
		}
		pe.Is32 = true
		pe.NtHeader.OptionalHeader = oh32
	}

	// ImageBase should be a multiple of 10000h.
	if (pe.Is64 && oh64.ImageBase%0x10000 != 0) || (pe.Is32 && oh32.ImageBase%0x10000 != 0) {
		return ErrImageBaseNotAligned
	}

	// ImageBase can be any value as long as:
	// ImageBase + SizeOfImage < 80000000h for PE32.
	// ImageBase + SizeOfImage < 0xffff080000000000 for PE32+.
	if (pe.Is32 && oh32.ImageBase+oh32.SizeOfImage >= 0x80000000) || (pe.Is64 && oh64.ImageBase+uint64(oh64.SizeOfImage) >= 0xffff080000000000) {
		return ErrImageBaseOverflow
	}

	pe.HasNTHdr = true
	return nil
}

// PrettyOptionalHeaderMagic returns the string representation of the
// `Magic` field of the optional header, used for verbose diagnostics.
func (pe *File) PrettyOptionalHeaderMagic() string {
	var magic uint16
	if pe.Is64 {
		magic = pe.NtHeader.OptionalHeader.(ImageOptionalHeader64).Magic
	} else {
		magic = pe.NtHeader.OptionalHeader.(ImageOptionalHeader32).Magic
	}

	switch magic {
	case ImageNtOptionalHeader32Magic:
		return "PE32"
	case ImageNtOptionalHeader64Magic:
		return "PE32+"
	default:
		return "?"
	}
}
