// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package authenticode

import (
	"crypto"
	_ "crypto/sha1"   // register crypto.SHA1
	_ "crypto/sha256" // register crypto.SHA256
	"fmt"

	"github.com/tiiuae/sbsigntools/pe"
	"github.com/tiiuae/sbsigntools/sberrors"
)

func errUnsupportedHash(alg crypto.Hash) error {
	return fmt.Errorf("unsupported digest algorithm %v", alg)
}

func errRangeOutOfBounds(r pe.Range) error {
	return fmt.Errorf("authenticode region [%d, %d) outside image bounds", r.Start, r.End)
}

// Digest streams the image's AuthenticodeRegions through alg in order and
// returns the resulting raw digest bytes. This is the teacher's
// AuthentihashExt, generalized from a hardcoded SHA-256 to a caller-chosen
// algorithm and from swallowing read errors to returning them.
func Digest(f *pe.File, alg crypto.Hash) ([]byte, error) {
	const op = "authenticode.Digest"

	if _, ok := digestAlgOID(alg); !ok {
		return nil, sberrors.New(op, sberrors.UnsupportedAlgorithm,
			errUnsupportedHash(alg))
	}

	ranges, err := f.AuthenticodeRegions()
	if err != nil {
		return nil, sberrors.New(op, sberrors.InvalidImage, err)
	}

	h := alg.New()
	data := f.Data()
	for _, r := range ranges {
		if r.End > uint32(len(data)) || r.Start > r.End {
			return nil, sberrors.New(op, sberrors.InvalidImage, errRangeOutOfBounds(r))
		}
		if _, err := h.Write(data[r.Start:r.End]); err != nil {
			return nil, sberrors.New(op, sberrors.IOFailure, err)
		}
	}

	return h.Sum(nil), nil
}
