// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package authenticode

import (
	"bytes"
	"crypto"
	"encoding/asn1"
	"testing"
)

func TestEncodeSpcIndirectDataRoundTripsThroughASN1(t *testing.T) {
	digest := bytes.Repeat([]byte{0xAB}, crypto.SHA256.Size())

	der, err := EncodeSpcIndirectData(digest, crypto.SHA256)
	if err != nil {
		t.Fatalf("EncodeSpcIndirectData: %v", err)
	}

	var content SpcIndirectDataContent
	rest, err := asn1.Unmarshal(der, &content)
	if err != nil {
		t.Fatalf("asn1.Unmarshal: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %d", len(rest))
	}

	if !content.Data.Type.Equal(oidSpcPeImageDataObj) {
		t.Fatalf("unexpected SpcAttributeTypeAndOptionalValue.Type: %v", content.Data.Type)
	}
	if !bytes.Equal(content.MessageDigest.Digest, digest) {
		t.Fatalf("digest mismatch after round trip")
	}

	wantAlg, _ := digestAlgOID(crypto.SHA256)
	if !content.MessageDigest.DigestAlgorithm.Algorithm.Equal(wantAlg) {
		t.Fatalf("unexpected digest algorithm OID: %v", content.MessageDigest.DigestAlgorithm.Algorithm)
	}
}

func TestEncodeSpcIndirectDataIsPureFunction(t *testing.T) {
	digest := []byte("01234567890123456789012345678901")

	der1, err := EncodeSpcIndirectData(digest, crypto.SHA256)
	if err != nil {
		t.Fatalf("EncodeSpcIndirectData: %v", err)
	}
	der2, err := EncodeSpcIndirectData(digest, crypto.SHA256)
	if err != nil {
		t.Fatalf("EncodeSpcIndirectData: %v", err)
	}

	if !bytes.Equal(der1, der2) {
		t.Fatalf("EncodeSpcIndirectData is not deterministic for identical input")
	}
}

func TestEncodeSpcIndirectDataRejectsUnsupportedAlgorithm(t *testing.T) {
	if _, err := EncodeSpcIndirectData([]byte("digest"), crypto.MD5); err == nil {
		t.Fatalf("expected an error for an unsupported digest algorithm")
	}
}

func TestEncodeSpcIndirectDataWithLinkDefaultsToEmptyName(t *testing.T) {
	digest := bytes.Repeat([]byte{0x11}, crypto.SHA256.Size())

	withDefault, err := EncodeSpcIndirectData(digest, crypto.SHA256)
	if err != nil {
		t.Fatalf("EncodeSpcIndirectData: %v", err)
	}
	withEmptyLink, err := EncodeSpcIndirectDataWithLink(digest, crypto.SHA256, "")
	if err != nil {
		t.Fatalf("EncodeSpcIndirectDataWithLink: %v", err)
	}
	if !bytes.Equal(withDefault, withEmptyLink) {
		t.Fatalf("EncodeSpcIndirectData should match EncodeSpcIndirectDataWithLink(..., \"\")")
	}
}

func TestSpcLinkNameRoundTrips(t *testing.T) {
	const name = "urn:example:firmware-update"

	link, err := spcLink(name)
	if err != nil {
		t.Fatalf("spcLink: %v", err)
	}
	got, err := decodeSpcLinkName(link)
	if err != nil {
		t.Fatalf("decodeSpcLinkName: %v", err)
	}
	if got != name {
		t.Fatalf("got %q, want %q", got, name)
	}
}

func TestSpcLinkEmptyNameRoundTrips(t *testing.T) {
	link, err := spcLink("")
	if err != nil {
		t.Fatalf("spcLink: %v", err)
	}
	got, err := decodeSpcLinkName(link)
	if err != nil {
		t.Fatalf("decodeSpcLinkName: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}
