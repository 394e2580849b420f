// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pkcs7

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/tiiuae/sbsigntools/sberrors"
	"github.com/tiiuae/sbsigntools/signer"
)

// contentInfo is the generic CMS envelope: a content type OID plus an
// explicitly-tagged, type-dependent content.
type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// encapsulatedContentInfo wraps the bytes actually being signed — here
// always the DER of an SpcIndirectDataContent — under its own content type
// OID, so a verifier can recover eContentType without decoding eContent.
type encapsulatedContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     []byte `asn1:"explicit,optional,tag:0"`
}

// issuerAndSerialNumber identifies the signer's certificate the way CMS
// SignerInfo requires: by its issuer DN and serial number, not by embedding
// the certificate itself a second time.
type issuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// signerInfo is one signature over encapContentInfo's content, computed
// indirectly over a DER-encoded set of authenticated attributes rather than
// the content bytes themselves (the standard CMS indirection spec.md §4.4
// describes).
type signerInfo struct {
	Version                   int
	IssuerAndSerialNumber     issuerAndSerialNumber
	DigestAlgorithm           pkix.AlgorithmIdentifier
	AuthenticatedAttributes   []attribute `asn1:"optional,tag:0"`
	DigestEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest           []byte
}

// signedData is the CMS SignedData content itself, version 1 per RFC 2315
// (no CRLs, no unauthenticated attributes — sbsign never needs either).
type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      encapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

// BuildOptions configures one SignedData, mirroring the
// `build(signer_cert, signer_handle, intermediates, content_bytes,
// content_oid, digest_alg)` contract.
type BuildOptions struct {
	SignerCert    *x509.Certificate
	Intermediates []*x509.Certificate
	ContentBytes  []byte
	ContentOID    asn1.ObjectIdentifier
	DigestAlg     crypto.Hash
	Handle        *signer.Handle
	SigningTime   time.Time
}

// Build constructs the DER of a ContentInfo{signedData} carrying one
// SignerInfo over opts.ContentBytes, signed by opts.Handle. This is the
// Authenticode signature proper: everything upstream (the image digest, the
// SpcIndirectDataContent) is already baked into opts.ContentBytes by the
// time Build is called.
func Build(opts BuildOptions) ([]byte, error) {
	const op = "pkcs7.Build"

	digestOID, ok := digestAlgOID(opts.DigestAlg)
	if !ok {
		return nil, sberrors.New(op, sberrors.UnsupportedAlgorithm,
			fmt.Errorf("unsupported digest algorithm %v", opts.DigestAlg))
	}

	encOID, err := encryptionAlgOID(opts.SignerCert)
	if err != nil {
		return nil, sberrors.New(op, sberrors.UnsupportedAlgorithm, err)
	}

	if !opts.DigestAlg.Available() {
		return nil, sberrors.New(op, sberrors.UnsupportedAlgorithm,
			fmt.Errorf("digest algorithm %v is not linked into this binary", opts.DigestAlg))
	}
	hasher := opts.DigestAlg.New()
	hasher.Write(opts.ContentBytes)
	contentDigest := hasher.Sum(nil)

	attrs := &attributeBuilder{}
	if err := attrs.addContentType(opts.ContentOID); err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}
	if err := attrs.addMessageDigest(contentDigest); err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}
	if !opts.SigningTime.IsZero() {
		if err := attrs.addSigningTime(opts.SigningTime); err != nil {
			return nil, sberrors.New(op, sberrors.EncodingFailure, err)
		}
	}

	sorted, err := attrs.ForMarshalling()
	if err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}
	toSign, err := derSetOf(sorted)
	if err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}

	sig, err := opts.Handle.Sign(opts.DigestAlg, toSign)
	if err != nil {
		return nil, sberrors.New(op, sberrors.SignFailure, err)
	}

	info := signerInfo{
		Version: 1,
		IssuerAndSerialNumber: issuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: opts.SignerCert.RawIssuer},
			SerialNumber: opts.SignerCert.SerialNumber,
		},
		DigestAlgorithm:           pkix.AlgorithmIdentifier{Algorithm: digestOID, Parameters: asn1.NullRawValue},
		AuthenticatedAttributes:   sorted,
		DigestEncryptionAlgorithm: pkix.AlgorithmIdentifier{Algorithm: encOID, Parameters: asn1.NullRawValue},
		EncryptedDigest:           sig,
	}

	certs := append([]*x509.Certificate{opts.SignerCert}, opts.Intermediates...)
	certSet, err := marshalCertificateSet(certs)
	if err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}

	sd := signedData{
		Version:          1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{{Algorithm: digestOID, Parameters: asn1.NullRawValue}},
		ContentInfo: encapsulatedContentInfo{
			ContentType: opts.ContentOID,
			Content:     opts.ContentBytes,
		},
		Certificates: certSet,
		SignerInfos:  []signerInfo{info},
	}

	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}

	// contentInfo.Content is a RawValue: once FullBytes is set, Go's asn1
	// encoder emits it verbatim and ignores the field's own "explicit,tag:0"
	// struct tag, so the [0] EXPLICIT wrapping has to be built by hand here
	// rather than left to the struct tag (same reasoning as spcLink's
	// double-tagging in the authenticode package).
	wrapped, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER})
	if err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}

	outer := contentInfo{
		ContentType: oidSignedData,
		Content:     asn1.RawValue{FullBytes: wrapped},
	}
	der, err := asn1.Marshal(outer)
	if err != nil {
		return nil, sberrors.New(op, sberrors.EncodingFailure, err)
	}
	return der, nil
}

func digestAlgOID(alg crypto.Hash) (asn1.ObjectIdentifier, bool) {
	switch alg {
	case crypto.SHA256:
		return oidDigestAlgorithmSHA256, true
	case crypto.SHA1:
		return oidDigestAlgorithmSHA1, true
	default:
		return nil, false
	}
}

func encryptionAlgOID(cert *x509.Certificate) (asn1.ObjectIdentifier, error) {
	switch cert.PublicKeyAlgorithm {
	case x509.RSA:
		return oidEncryptionAlgorithmRSA, nil
	case x509.ECDSA:
		return oidEncryptionAlgorithmECDSA, nil
	default:
		return nil, fmt.Errorf("unsupported signer public key algorithm %v", cert.PublicKeyAlgorithm)
	}
}

// marshalCertificateSet wraps the raw DER of certs as `[0] IMPLICIT SET OF
// Certificate`. Each cert.Raw is already a complete DER SEQUENCE, so a SET OF
// them is just their concatenation with the outer tag overridden from
// UNIVERSAL SET to context [0] implicit.
func marshalCertificateSet(certs []*x509.Certificate) (asn1.RawValue, error) {
	var body []byte
	for _, cert := range certs {
		if cert == nil {
			continue
		}
		body = append(body, cert.Raw...)
	}
	if len(body) == 0 {
		return asn1.RawValue{}, fmt.Errorf("no certificates to embed")
	}
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: body}, nil
}
