// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pkcs7

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"sort"
	"time"
)

// attribute is a single CMS Attribute: an OID paired with a SET OF values.
// Every attribute sbsign emits carries exactly one value, but the wire shape
// is a set regardless.
type attribute struct {
	Type asn1.ObjectIdentifier
	// Values always holds a pre-encoded SET OF TLV (see marshalSetOf):
	// RawValue.FullBytes is emitted verbatim, so no struct tag is needed
	// here to get the SET OF wire shape right.
	Values asn1.RawValue
}

// attributeBuilder accumulates authenticated attributes and marshals them as
// the DER SET OF Attribute that both gets hashed-and-signed (as the
// SignerInfo's authenticatedAttributes DER) and, re-tagged as
// `[0] IMPLICIT SET OF Attribute`, embedded in the SignerInfo.
type attributeBuilder struct {
	attrs []attribute
}

func (b *attributeBuilder) addContentType(oid asn1.ObjectIdentifier) error {
	raw, err := marshalSetOf([]asn1.ObjectIdentifier{oid})
	if err != nil {
		return fmt.Errorf("pkcs7: marshal contentType attribute: %w", err)
	}
	b.attrs = append(b.attrs, attribute{Type: oidAttributeContentType, Values: raw})
	return nil
}

func (b *attributeBuilder) addMessageDigest(digest []byte) error {
	raw, err := marshalSetOf([][]byte{digest})
	if err != nil {
		return fmt.Errorf("pkcs7: marshal messageDigest attribute: %w", err)
	}
	b.attrs = append(b.attrs, attribute{Type: oidAttributeMessageDigest, Values: raw})
	return nil
}

func (b *attributeBuilder) addSigningTime(t time.Time) error {
	raw, err := marshalSetOf([]time.Time{t.UTC()})
	if err != nil {
		return fmt.Errorf("pkcs7: marshal signingTime attribute: %w", err)
	}
	b.attrs = append(b.attrs, attribute{Type: oidAttributeSigningTime, Values: raw})
	return nil
}

// marshalSetOf DER-encodes values (a concrete-typed, single-element slice)
// as a SET OF, returning its full TLV bytes so they can be embedded directly
// as an attribute's Values field.
func marshalSetOf(values interface{}) (asn1.RawValue, error) {
	der, err := asn1.MarshalWithParams(values, "set")
	if err != nil {
		return asn1.RawValue{}, err
	}
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return asn1.RawValue{}, err
	}
	return raw, nil
}

// sortableAttribute pairs an attribute with its own encoded DER bytes, the
// sort key DER's canonical encoding rules require for a SET OF: elements
// ordered by their encoding, not by insertion order. Grounded on
// smallstep/pkcs7's identically-named helper type.
type sortableAttribute struct {
	attribute attribute
	encoded   []byte
}

type attributeSet []sortableAttribute

func (s attributeSet) Len() int      { return len(s) }
func (s attributeSet) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s attributeSet) Less(i, j int) bool {
	return bytes.Compare(s[i].encoded, s[j].encoded) < 0
}

// ForMarshalling returns the accumulated attributes as a []attribute sorted
// into DER canonical order, ready to be wrapped in a SET OF and marshaled —
// either as the authenticatedAttributes DER that gets signed, or as the `[0]`
// IMPLICIT field of the finished SignerInfo.
func (b *attributeBuilder) ForMarshalling() ([]attribute, error) {
	sortable := make(attributeSet, len(b.attrs))
	for i, attr := range b.attrs {
		encoded, err := asn1.Marshal(attr)
		if err != nil {
			return nil, fmt.Errorf("pkcs7: marshal attribute for sorting: %w", err)
		}
		sortable[i] = sortableAttribute{attribute: attr, encoded: encoded}
	}
	sort.Sort(sortable)

	out := make([]attribute, len(sortable))
	for i, s := range sortable {
		out[i] = s.attribute
	}
	return out, nil
}

// derSetOf marshals attrs as a DER SET OF Attribute and returns its full TLV
// bytes — the exact bytes the SignerInfo digest algorithm signs over, per
// spec.md's "DER(authenticated_attributes)" contract.
func derSetOf(attrs []attribute) ([]byte, error) {
	type wrapper struct {
		Attrs []attribute `asn1:"set"`
	}
	full, err := asn1.Marshal(wrapper{Attrs: attrs})
	if err != nil {
		return nil, err
	}
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(full, &raw); err != nil {
		return nil, err
	}
	// full is the wrapper's SEQUENCE; its contents are exactly the SET OF TLV.
	return raw.Bytes, nil
}
