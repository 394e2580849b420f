// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package authenticode

import (
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"

	"golang.org/x/text/encoding/unicode"

	"github.com/tiiuae/sbsigntools/sberrors"
)

// SpcIndirectDataContent is the content signed by an Authenticode signature,
// carrying the image digest rather than the image bytes themselves. Same
// ASN.1 shape as the teacher's security.go type of the same name.
type SpcIndirectDataContent struct {
	Data          SpcAttributeTypeAndOptionalValue
	MessageDigest DigestInfo
}

// SpcAttributeTypeAndOptionalValue pairs an OID with its value, here always
// SPC_PE_IMAGE_DATAOBJ paired with an SpcPeImageData.
type SpcAttributeTypeAndOptionalValue struct {
	Type  asn1.ObjectIdentifier
	Value SpcPeImageData
}

// SpcPeImageData is the Microsoft-defined structure identifying the signed
// object as a PE image. Flags is always an empty bit string. File is a
// present-but-empty SpcLink when built by EncodeSpcIndirectData, the shape
// UEFI validators expect; EncodeSpcIndirectDataWithLink can set a name.
type SpcPeImageData struct {
	Flags asn1.BitString
	File  asn1.RawValue
}

// DigestInfo carries the digest algorithm identifier and the raw digest
// bytes being signed.
type DigestInfo struct {
	DigestAlgorithm pkix.AlgorithmIdentifier
	Digest          []byte
}

// bmpEncoder/bmpDecoder convert between a Go string and the UTF-16BE
// ("unicode BMP") encoding SpcString's unicode alternative uses on the wire,
// the same encoding the teacher's helper.go decodes other PE UTF-16 fields
// with (there it's little-endian version-resource strings; SpcString is
// big-endian, but it's the identical x/text machinery).
var (
	bmpEncoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder()
	bmpDecoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
)

// spcLink returns the DER encoding of an SpcLink in its "file" CHOICE
// alternative: `[0] { [0] name }`, name BMP-encoded, empty when name is "".
// SpcLink and the SpcString it wraps are both ASN.1 CHOICE types, so the
// file alternative is explicitly tagged even though the module otherwise
// uses implicit tagging, per the usual CHOICE exception.
func spcLink(name string) (asn1.RawValue, error) {
	var nameBytes []byte
	if name != "" {
		encoded, err := bmpEncoder.Bytes([]byte(name))
		if err != nil {
			return asn1.RawValue{}, err
		}
		nameBytes = encoded
	}

	unicodeName := asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: nameBytes}
	unicodeNameDER, err := asn1.Marshal(unicodeName)
	if err != nil {
		return asn1.RawValue{}, err
	}

	file := asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      unicodeNameDER,
	}
	fileDER, err := asn1.Marshal(file)
	if err != nil {
		return asn1.RawValue{}, err
	}

	return asn1.RawValue{FullBytes: fileDER}, nil
}

// decodeSpcLinkName recovers the file-link name from an SpcLink DER value
// built by spcLink, the inverse operation, for tests and any future verifier
// that wants it back.
func decodeSpcLinkName(link asn1.RawValue) (string, error) {
	var file asn1.RawValue
	if _, err := asn1.Unmarshal(link.FullBytes, &file); err != nil {
		return "", err
	}
	var name asn1.RawValue
	if _, err := asn1.Unmarshal(file.Bytes, &name); err != nil {
		return "", err
	}
	if len(name.Bytes) == 0 {
		return "", nil
	}
	out, err := bmpDecoder.Bytes(name.Bytes)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// EncodeSpcIndirectData DER-encodes an SpcIndirectDataContent carrying
// digest, computed with alg, with an empty SpcLink file name. It is a pure
// function of its two arguments, as spec.md §4.3 requires — the template
// UEFI validators expect.
func EncodeSpcIndirectData(digest []byte, alg crypto.Hash) ([]byte, error) {
	return EncodeSpcIndirectDataWithLink(digest, alg, "")
}

// EncodeSpcIndirectDataWithLink is EncodeSpcIndirectData generalized to a
// caller-chosen SpcLink file name. Real Authenticode signatures always use
// the empty name (EncodeSpcIndirectData's default); this variant exists for
// callers and tests that want to exercise the non-empty SpcString path.
func EncodeSpcIndirectDataWithLink(digest []byte, alg crypto.Hash, linkName string) ([]byte, error) {
	const op = "authenticode.EncodeSpcIndirectDataWithLink"

	oid, ok := digestAlgOID(alg)
	if !ok {
		return nil, sberrors.New(op, sberrors.UnsupportedAlgorithm, errUnsupportedHash(alg))
	}

	link, err := spcLink(linkName)
	if err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}

	content := SpcIndirectDataContent{
		Data: SpcAttributeTypeAndOptionalValue{
			Type: oidSpcPeImageDataObj,
			Value: SpcPeImageData{
				Flags: asn1.BitString{},
				File:  link,
			},
		},
		MessageDigest: DigestInfo{
			DigestAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  oid,
				Parameters: asn1.NullRawValue,
			},
			Digest: digest,
		},
	}

	der, err := asn1.Marshal(content)
	if err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}
	return der, nil
}
