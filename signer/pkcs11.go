// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/tiiuae/sbsigntools/sberrors"
)

// pkcs11Mu serializes every PKCS#11 session end to end: a single Ctx talking
// to a single module is not safe for concurrent Initialize/Login/Sign calls
// from more than one Handle at a time, and sbsign never needs to hold two
// tokens open at once.
var pkcs11Mu sync.Mutex

// PKCS11Provider loads signing handles backed by a PKCS#11 token, for
// hardware-protected keys that a FileProvider can never see raw.
type PKCS11Provider struct {
	// ModulePath is the shared library implementing the PKCS#11 API, e.g.
	// /usr/lib/softhsm/libsofthsm2.so.
	ModulePath string
	// PIN authenticates the session. Left empty for tokens that don't
	// require a login (public-session-only operations).
	PIN string
}

// Load parses locator as "pkcs11:token=<label>;object=<label>" and opens a
// session against the named token, logging in and locating the private key
// object named by object. form is ignored; PKCS#11 objects have no file
// encoding. providerID is accepted for Provider interface symmetry with
// FileProvider but unused: the module path already identifies the provider.
func (p PKCS11Provider) Load(locator, _, _ string) (*Handle, error) {
	const op = "signer.PKCS11Provider.Load"

	token, object, err := parsePKCS11Locator(locator)
	if err != nil {
		return nil, sberrors.New(op, sberrors.KeyLoadFailure, err)
	}

	pkcs11Mu.Lock()
	unlock := &pkcs11Mu
	ok := false
	defer func() {
		if !ok {
			unlock.Unlock()
		}
	}()

	ctx := pkcs11.New(p.ModulePath)
	if ctx == nil {
		return nil, sberrors.New(op, sberrors.KeyLoadFailure,
			fmt.Errorf("failed to load PKCS#11 module %q", p.ModulePath))
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, sberrors.New(op, sberrors.KeyLoadFailure, err)
	}

	slot, err := findSlotByTokenLabel(ctx, token)
	if err != nil {
		ctx.Finalize()
		ctx.Destroy()
		return nil, sberrors.New(op, sberrors.KeyLoadFailure, err)
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		ctx.Finalize()
		ctx.Destroy()
		return nil, sberrors.New(op, sberrors.KeyLoadFailure, err)
	}

	if p.PIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, p.PIN); err != nil {
			ctx.CloseSession(session)
			ctx.Finalize()
			ctx.Destroy()
			return nil, sberrors.New(op, sberrors.KeyLoadFailure, err)
		}
	}

	priv, err := findObject(ctx, session, pkcs11.CKO_PRIVATE_KEY, object)
	if err != nil {
		ctx.Logout(session)
		ctx.CloseSession(session)
		ctx.Finalize()
		ctx.Destroy()
		return nil, sberrors.New(op, sberrors.KeyLoadFailure, err)
	}

	pub, pubErr := publicKeyFromPrivateObject(ctx, session, object)
	if pubErr != nil {
		ctx.Logout(session)
		ctx.CloseSession(session)
		ctx.Finalize()
		ctx.Destroy()
		return nil, sberrors.New(op, sberrors.KeyLoadFailure, pubErr)
	}

	backend := &pkcs11Signer{ctx: ctx, session: session, key: priv, public: pub}
	closer := func() error {
		defer pkcs11Mu.Unlock()
		ctx.Logout(session)
		ctx.CloseSession(session)
		if err := ctx.Finalize(); err != nil {
			ctx.Destroy()
			return err
		}
		ctx.Destroy()
		return nil
	}
	ok = true

	return newHandle(backend, closer), nil
}

func parsePKCS11Locator(locator string) (token, object string, err error) {
	rest := strings.TrimPrefix(locator, "pkcs11:")
	if rest == locator {
		return "", "", fmt.Errorf("%q: expected a pkcs11: locator", locator)
	}
	for _, part := range strings.Split(rest, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "token":
			token = kv[1]
		case "object":
			object = kv[1]
		}
	}
	if token == "" || object == "" {
		return "", "", fmt.Errorf("%q: locator must set both token and object", locator)
	}
	return token, object, nil
}

func findSlotByTokenLabel(ctx *pkcs11.Ctx, label string) (uint, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, err
	}
	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if strings.TrimRight(info.Label, "\x00 ") == label {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("no PKCS#11 token with label %q", label)
}

func findObject(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, class uint, label string) (pkcs11.ObjectHandle, error) {
	tmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := ctx.FindObjectsInit(session, tmpl); err != nil {
		return 0, err
	}
	defer ctx.FindObjectsFinal(session)

	objs, _, err := ctx.FindObjects(session, 1)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("no PKCS#11 object with label %q and class %d", label, class)
	}
	return objs[0], nil
}

// publicKeyFromPrivateObject reconstructs a crypto.PublicKey from the
// matching public-key object's CKA_MODULUS/CKA_PUBLIC_EXPONENT attributes,
// needed so pkcs11Signer can implement crypto.Signer's Public method without
// a certificate in hand. Only RSA keys are handled: any other key type, EC
// included, is reported as an error, so PKCS11Provider.Load fails for it.
func publicKeyFromPrivateObject(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, label string) (crypto.PublicKey, error) {
	obj, err := findObject(ctx, session, pkcs11.CKO_PUBLIC_KEY, label)
	if err != nil {
		return nil, err
	}

	attrs, err := ctx.GetAttributeValue(session, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, err
	}

	keyType := attrs[0].Value
	if len(keyType) == 8 && bytesToUint64(keyType) == pkcs11.CKK_RSA {
		n := new(big.Int).SetBytes(attrs[1].Value)
		e := new(big.Int).SetBytes(attrs[2].Value)
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	}

	return nil, fmt.Errorf("unsupported or undetectable PKCS#11 public key type for object %q", label)
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// pkcs11Signer adapts a PKCS#11 private key object to crypto.Signer.
type pkcs11Signer struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	key     pkcs11.ObjectHandle
	public  crypto.PublicKey
}

func (s *pkcs11Signer) Public() crypto.PublicKey {
	return s.public
}

// Sign implements crypto.Signer. digest is a pre-hashed message, as Handle.Sign
// always provides. RSA signing uses the raw CKM_RSA_PKCS mechanism, which
// performs only PKCS#1 v1.5 padding and expects the caller to supply the full
// DER-encoded DigestInfo prefix ahead of the digest bytes; ECDSA keys use
// CKM_ECDSA, which signs the digest directly and returns raw r||s that must
// be repacked into the ASN.1 form crypto.Signer callers expect.
func (s *pkcs11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	switch s.public.(type) {
	case *rsa.PublicKey:
		prefix, err := digestInfoPrefix(opts.HashFunc())
		if err != nil {
			return nil, err
		}
		return s.signMechanism(pkcs11.CKM_RSA_PKCS, append(prefix, digest...))

	case *ecdsa.PublicKey:
		raw, err := s.signMechanism(pkcs11.CKM_ECDSA, digest)
		if err != nil {
			return nil, err
		}
		half := len(raw) / 2
		sig := struct{ R, S *big.Int }{
			R: new(big.Int).SetBytes(raw[:half]),
			S: new(big.Int).SetBytes(raw[half:]),
		}
		return asn1.Marshal(sig)

	default:
		return nil, fmt.Errorf("pkcs11: unsupported public key type %T", s.public)
	}
}

func (s *pkcs11Signer) signMechanism(mechanism uint, data []byte) ([]byte, error) {
	if err := s.ctx.SignInit(s.session, []*pkcs11.Mechanism{pkcs11.NewMechanism(mechanism, nil)}, s.key); err != nil {
		return nil, err
	}
	return s.ctx.Sign(s.session, data)
}

// digestInfoPrefix returns the ASN.1 DER bytes that precede the raw digest
// inside a DigestInfo SEQUENCE, computed by marshalling a DigestInfo with a
// zero-filled digest of the hash's size and trimming those digest bytes.
func digestInfoPrefix(hash crypto.Hash) ([]byte, error) {
	oid, ok := hashOID(hash)
	if !ok {
		return nil, fmt.Errorf("pkcs11: no DigestInfo OID for hash %v", hash)
	}
	type digestInfo struct {
		Algorithm struct {
			Algorithm asn1.ObjectIdentifier
			Null      asn1.RawValue
		}
		Digest []byte
	}
	var di digestInfo
	di.Algorithm.Algorithm = oid
	di.Algorithm.Null = asn1.NullRawValue
	di.Digest = make([]byte, hash.Size())
	full, err := asn1.Marshal(di)
	if err != nil {
		return nil, err
	}
	// Trimming the placeholder digest leaves the outer SEQUENCE header (its
	// length already counting a digest of this size), the
	// AlgorithmIdentifier and the OCTET STRING header: the prefix a real
	// digest is appended after.
	return full[:len(full)-hash.Size()], nil
}

func hashOID(hash crypto.Hash) (asn1.ObjectIdentifier, bool) {
	switch hash {
	case crypto.SHA256:
		return asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, true
	case crypto.SHA1:
		return asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}, true
	default:
		return nil, false
	}
}
