// Package certmint holds the CA material and mints leaf certificates
// on-the-fly so the HTTP Interceptor can terminate TLS for routed hosts.
package certmint

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

// CAMaterial is the root certificate and key the mint signs leaves with.
type CAMaterial struct {
	Cert    *x509.Certificate
	CertPEM []byte
	Key     *ecdsa.PrivateKey
}

// LeafCert is a minted leaf certificate cached for a single host.
type LeafCert struct {
	Domain string
	TLS    tls.Certificate
}

// Mint holds CA material plus a reader-writer-locked leaf cache.
type Mint struct {
	ca    CAMaterial
	mu    sync.RWMutex
	cache map[string]LeafCert
}

// GenerateCA creates a fresh, self-signed root CA valid for ten years.
func GenerateCA() (CAMaterial, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return CAMaterial{}, simerrors.ConfigError("failed to generate CA key").WithDetails("cause", err.Error())
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return CAMaterial{}, simerrors.ConfigError("failed to generate CA serial")
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "simulation-host root CA", Organization: []string{"simulation-host"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return CAMaterial{}, simerrors.ConfigError("failed to self-sign CA certificate").WithDetails("cause", err.Error())
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return CAMaterial{}, simerrors.ConfigError("failed to parse generated CA certificate")
	}

	return CAMaterial{Cert: cert, CertPEM: encodeCertPEM(der), Key: key}, nil
}

// NewMint constructs a Mint around existing CA material.
func NewMint(ca CAMaterial) *Mint {
	return &Mint{ca: ca, cache: make(map[string]LeafCert)}
}

// CARootPEM returns the PEM-encoded root certificate for distribution to
// agent processes (the `*_CA_BUNDLE` environment contract in §6).
func (m *Mint) CARootPEM() []byte {
	return m.ca.CertPEM
}

// MintLeaf returns a cached leaf certificate for host, minting one under
// the CA on first use. Per I6, callers must have already confirmed host
// has a route before calling this.
func (m *Mint) MintLeaf(host string) (LeafCert, error) {
	m.mu.RLock()
	if leaf, ok := m.cache[host]; ok {
		m.mu.RUnlock()
		return leaf, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if leaf, ok := m.cache[host]; ok { // re-check: another writer may have minted it
		return leaf, nil
	}

	leaf, err := m.mintLocked(host)
	if err != nil {
		return LeafCert{}, err
	}
	m.cache[host] = leaf
	return leaf, nil
}

func (m *Mint) mintLocked(host string) (LeafCert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return LeafCert{}, simerrors.InterceptionFailed("failed to generate leaf key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return LeafCert{}, simerrors.InterceptionFailed("failed to generate leaf serial", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, m.ca.Cert, &key.PublicKey, m.ca.Key)
	if err != nil {
		return LeafCert{}, simerrors.InterceptionFailed(fmt.Sprintf("failed to mint leaf certificate for %s", host), err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der, m.ca.Cert.Raw},
		PrivateKey:  key,
	}

	return LeafCert{Domain: host, TLS: tlsCert}, nil
}

func encodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
