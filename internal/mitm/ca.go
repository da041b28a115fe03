// Package mitm generates and persists the local certificate authority the
// forward/intercepting proxy deployment (spec §1) installs into
// github.com/elazarl/goproxy for CONNECT/MITM handling. goproxy owns the
// TLS termination and per-SNI leaf minting once given a root CA
// (assigned to goproxy.GoproxyCa); this package's job stops at producing that CA's key
// and certificate, in PEM, and keeping them stable across restarts so the
// CA a browser was told to trust doesn't change out from under it.
package mitm

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// CA is a locally generated root certificate authority.
type CA struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey

	certPEM []byte
	keyPEM  []byte
}

// LoadOrCreate loads a CA cert/key pair from confDir
// (vcrproxy-ca-cert.pem/vcrproxy-ca-key.pem),
// generating and persisting a new 2048-bit RSA root if absent, so the CA
// (and thus its trust by the OS/browser) survives process restarts.
func LoadOrCreate(confDir string) (*CA, error) {
	if confDir == "" {
		confDir = "."
	}
	certPath := filepath.Join(confDir, "vcrproxy-ca-cert.pem")
	keyPath := filepath.Join(confDir, "vcrproxy-ca-key.pem")

	if cert, key, certPEM, keyPEM, err := loadPair(certPath, keyPath); err == nil {
		return &CA{cert: cert, key: key, certPEM: certPEM, keyPEM: keyPEM}, nil
	}

	cert, key, err := generateRoot()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		return nil, fmt.Errorf("vcrproxy: create mitm confdir: %w", err)
	}
	certPEM, keyPEM, err := savePair(certPath, keyPath, cert, key)
	if err != nil {
		return nil, err
	}
	return &CA{cert: cert, key: key, certPEM: certPEM, keyPEM: keyPEM}, nil
}

// CertPEM returns the CA certificate in PEM form, for building the
// goproxy.GoproxyCa key pair and for handing to clients that need to trust
// this proxy's MITM traffic.
func (ca *CA) CertPEM() []byte { return ca.certPEM }

// KeyPEM returns the CA private key in PEM form, for building the
// goproxy.GoproxyCa key pair.
func (ca *CA) KeyPEM() []byte { return ca.keyPEM }

func generateRoot() (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("vcrproxy: generate ca key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("vcrproxy: generate ca serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "vcrproxy local MITM CA", Organization: []string{"vcrproxy"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("vcrproxy: create ca cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("vcrproxy: parse ca cert: %w", err)
	}
	return cert, key, nil
}

func savePair(certPath, keyPath string, cert *x509.Certificate, key *rsa.PrivateKey) (certPEM, keyPEM []byte, err error) {
	certOut, err := os.Create(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("vcrproxy: write ca cert: %w", err)
	}
	defer certOut.Close()
	certBlock := &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}
	if err := pem.Encode(certOut, certBlock); err != nil {
		return nil, nil, fmt.Errorf("vcrproxy: encode ca cert: %w", err)
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("vcrproxy: write ca key: %w", err)
	}
	defer keyOut.Close()
	keyBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := pem.Encode(keyOut, keyBlock); err != nil {
		return nil, nil, fmt.Errorf("vcrproxy: encode ca key: %w", err)
	}
	return pem.EncodeToMemory(certBlock), pem.EncodeToMemory(keyBlock), nil
}

func loadPair(certPath, keyPath string) (cert *x509.Certificate, key *rsa.PrivateKey, certPEM, keyPEM []byte, err error) {
	certPEM, err = os.ReadFile(certPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	keyPEM, err = os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	certBlock, _ := pem.Decode(certPEM)
	keyBlock, _ := pem.Decode(keyPEM)
	if certBlock == nil || keyBlock == nil {
		return nil, nil, nil, nil, fmt.Errorf("vcrproxy: invalid ca pem")
	}
	cert, err = x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	key, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return cert, key, certPEM, keyPEM, nil
}
