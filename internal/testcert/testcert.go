// Package testcert generates throwaway RSA keys and self-signed
// certificates for use by this module's tests. Nothing it produces is
// meant to verify against any real trust store.
package testcert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

// KeyPair bundles a generated RSA private key with a self-signed leaf
// certificate over it.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	Cert       *x509.Certificate
	CertDER    []byte
}

// New generates a 2048-bit RSA key and a self-signed certificate valid for
// one year, using commonName as its subject and issuer.
func New(t *testing.T, commonName string) *KeyPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Unix(1700000000, 0),
		NotAfter:     time.Unix(1700000000, 0).AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("x509.CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("x509.ParseCertificate: %v", err)
	}

	return &KeyPair{PrivateKey: key, Cert: cert, CertDER: der}
}
