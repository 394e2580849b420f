// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "sort"

// Range is a half-open byte range [Start, End) within the image buffer.
type Range struct {
	Start uint32
	End   uint32
}

// Data returns the image's backing buffer. Authenticode digesting reads
// directly from the ranges AuthenticodeRegions returns.
func (pe *File) Data() []byte {
	return pe.data
}

// AuthenticodeRegions returns the byte ranges that make up the Authenticode
// digest input, in the canonical order: (a) file start up to CheckSum, (b)
// just after CheckSum up to the certificate-table data-directory entry, (c)
// just after that entry to the end of headers, (d) each section's raw data
// in ascending PointerToRawData order, (e) any trailing bytes between the
// end of the last section and the start of the certificate table (or
// end-of-file if there is none). The certificate table itself is never
// included. Reordering these ranges produces a digest no verifier accepts.
func (pe *File) AuthenticodeRegions() ([]Range, error) {
	checksumOff := pe.checksumFileOffset()
	certDirOff := pe.certDataDirectoryFileOffset()
	headersEnd := uint32(len(pe.Header))

	ranges := []Range{
		{Start: 0, End: checksumOff},
		{Start: checksumOff + 4, End: certDirOff},
		{Start: certDirOff + 8, End: headersEnd},
	}

	sections := append([]Section(nil), pe.Sections...)
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].Header.PointerToRawData < sections[j].Header.PointerToRawData
	})

	last := headersEnd
	for _, s := range sections {
		if s.Header.SizeOfRawData == 0 {
			continue
		}
		start := s.Header.PointerToRawData
		end := start + s.Header.SizeOfRawData
		if end > pe.size {
			end = pe.size
		}
		if end <= start {
			continue
		}
		ranges = append(ranges, Range{Start: start, End: end})
		if end > last {
			last = end
		}
	}

	certStart := pe.size
	if dir, err := pe.certDataDirectory(); err == nil && dir.Size != 0 {
		certStart = dir.VirtualAddress
	}
	if certStart > last {
		ranges = append(ranges, Range{Start: last, End: certStart})
	}

	return ranges, nil
}
