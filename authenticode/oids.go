// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package authenticode computes the Authenticode digest of a PE/COFF image
// and encodes it into the Microsoft-defined SpcIndirectDataContent ASN.1
// structure that Authenticode signs, rather than the raw image bytes.
package authenticode

import (
	"crypto"
	"encoding/asn1"
)

// Microsoft SPC object identifiers, from the Authenticode specification.
var (
	oidSpcIndirectDataContent = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 4}
	oidSpcPeImageDataObj      = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 15}
)

// OIDSpcIndirectDataContent is the eContentType of the encapContentInfo
// wrapping an SpcIndirectDataContent: the pkcs7 package's sole caller needs
// it to build encapContentInfo.
func OIDSpcIndirectDataContent() asn1.ObjectIdentifier {
	return append(asn1.ObjectIdentifier(nil), oidSpcIndirectDataContent...)
}

// digestAlgOID maps a supported crypto.Hash to its ASN.1 algorithm
// identifier OID. Only the two algorithms spec.md §4.2 names are supported:
// SHA-256 (mandatory) and SHA-1 (legacy verification only).
func digestAlgOID(alg crypto.Hash) (asn1.ObjectIdentifier, bool) {
	switch alg {
	case crypto.SHA256:
		return asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, true
	case crypto.SHA1:
		return asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}, true
	default:
		return nil, false
	}
}
