// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcua

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PKI layout below the configured directory.
const (
	pkiOwnDir      = "own"
	pkiPrivateDir  = "private"
	pkiTrustedDir  = "trusted"
	pkiRejectedDir = "rejected"
	ownCertFile    = "cert.pem"
	ownKeyFile     = "key.pem"
)

// oidDomainComponent is the DC attribute used in application certificate subjects.
var oidDomainComponent = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}

// Identity is an application instance certificate with its private key.
type Identity struct {
	Certificate    *x509.Certificate
	CertificateDER []byte
	PrivateKey     *rsa.PrivateKey
	ApplicationURI string
}

// Thumbprint returns the SHA-1 thumbprint of the certificate.
func (id *Identity) Thumbprint() []byte {
	return Thumbprint(id.CertificateDER)
}

// ApplicationURIFor builds urn:<host>:<app>.
func ApplicationURIFor(host, app string) string {
	return "urn:" + host + ":" + app
}

// GenerateIdentity creates a self-signed RSA 2048 application certificate
// with CN=<app>, DC=<host> and the application URI as SAN.
func GenerateIdentity(app, host string, validity time.Duration) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	appURI := ApplicationURIFor(host, app)
	u, err := url.Parse(appURI)
	if err != nil {
		return nil, fmt.Errorf("application uri: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: app,
			ExtraNames: []pkix.AttributeTypeAndValue{{Type: oidDomainComponent, Value: host}},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(validity),
		KeyUsage: x509.KeyUsageDigitalSignature |
			x509.KeyUsageContentCommitment |
			x509.KeyUsageKeyEncipherment |
			x509.KeyUsageDataEncipherment |
			x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		URIs:                  []*url.URL{u},
		DNSNames:              []string{host},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Identity{Certificate: cert, CertificateDER: der, PrivateKey: key, ApplicationURI: appURI}, nil
}

// LoadOrCreateIdentity loads the identity stored under <pkiDir>/own, or
// generates and stores a new one. created reports which happened.
func LoadOrCreateIdentity(pkiDir, app, host string) (id *Identity, created bool, err error) {
	certPath := filepath.Join(pkiDir, pkiOwnDir, ownCertFile)
	keyPath := filepath.Join(pkiDir, pkiOwnDir, pkiPrivateDir, ownKeyFile)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		id, err := ParseIdentity(certPEM, keyPEM)
		if err != nil {
			return nil, false, fmt.Errorf("load identity from %s: %w", pkiDir, err)
		}
		return id, false, nil
	}
	if !errors.Is(certErr, fs.ErrNotExist) && certErr != nil {
		return nil, false, certErr
	}

	id, err = GenerateIdentity(app, host, 20*365*24*time.Hour)
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(certPath, EncodeCertificatePEM(id.CertificateDER), 0o644); err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(keyPath, EncodePrivateKeyPEM(id.PrivateKey), 0o600); err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// ParseIdentity builds an Identity from PEM encoded certificate and key.
func ParseIdentity(certPEM, keyPEM []byte) (*Identity, error) {
	cert, der, err := LoadCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := LoadPrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	id := &Identity{Certificate: cert, CertificateDER: der, PrivateKey: key}
	if len(cert.URIs) > 0 {
		id.ApplicationURI = cert.URIs[0].String()
	}
	return id, nil
}

// EncodeCertificatePEM wraps a DER certificate.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// EncodePrivateKeyPEM encodes key as PKCS#1.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// LoadCertificate parses a PEM certificate and also returns its DER bytes.
func LoadCertificate(pemData []byte) (*x509.Certificate, []byte, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, nil, fmt.Errorf("failed to decode PEM block")
	}
	if block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("expected CERTIFICATE, got %s", block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, block.Bytes, nil
}

// LoadPrivateKey parses a PKCS#1 or PKCS#8 RSA key.
func LoadPrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil
	}
	return nil, fmt.Errorf("unsupported key type: %s", block.Type)
}

// Thumbprint returns the SHA-1 digest of a DER certificate.
func Thumbprint(der []byte) []byte {
	h := sha1.Sum(der)
	return h[:]
}

// GenerateNonce returns n random bytes.
func GenerateNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// CertificateValidator decides whether a peer certificate is acceptable.
type CertificateValidator interface {
	Validate(der []byte) error
}

// TrustStore validates peer certificates against the DER and PEM files in
// <pki>/trusted. Rejected certificates are copied to <pki>/rejected so an
// operator can move them into the trusted directory.
type TrustStore struct {
	dir        string
	autoAccept bool
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	trusted map[string]struct{}
}

// NewTrustStore loads the trusted certificates below pkiDir. With
// autoAccept every syntactically valid certificate is accepted and stored.
func NewTrustStore(pkiDir string, autoAccept bool, logger *slog.Logger) (*TrustStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &TrustStore{
		dir:        pkiDir,
		autoAccept: autoAccept,
		logger:     logger,
		now:        time.Now,
		trusted:    make(map[string]struct{}),
	}
	trustedDir := filepath.Join(pkiDir, pkiTrustedDir)
	if err := os.MkdirAll(trustedDir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(trustedDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(trustedDir, e.Name()))
		if err != nil {
			return nil, err
		}
		der := data
		if strings.HasSuffix(e.Name(), ".pem") {
			_, der, err = LoadCertificate(data)
			if err != nil {
				logger.Warn("skipping unreadable trusted certificate", slog.String("file", e.Name()), slog.Any("error", err))
				continue
			}
		}
		t.trusted[hex.EncodeToString(Thumbprint(der))] = struct{}{}
	}
	if autoAccept {
		logger.Warn("untrusted server certificates will be accepted automatically",
			slog.String("trusted_dir", trustedDir))
	}
	return t, nil
}

// Validate implements CertificateValidator. An empty certificate is
// accepted since SecurityPolicy None does not require one.
func (t *TrustStore) Validate(der []byte) error {
	if len(der) == 0 {
		return nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCertificateUntrusted, err)
	}
	now := t.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("%w: %s: outside validity period", ErrCertificateUntrusted, cert.Subject)
	}

	thumb := hex.EncodeToString(Thumbprint(der))
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.trusted[thumb]; ok {
		return nil
	}
	if !t.autoAccept {
		t.store(pkiRejectedDir, thumb, der)
		return fmt.Errorf("%w: %s (%s)", ErrCertificateUntrusted, cert.Subject, thumb)
	}
	t.logger.Warn("auto-accepting untrusted certificate",
		slog.String("subject", cert.Subject.String()),
		slog.String("thumbprint", thumb))
	t.store(pkiTrustedDir, thumb, der)
	t.trusted[thumb] = struct{}{}
	return nil
}

// Trust adds der to the trusted directory.
func (t *TrustStore) Trust(der []byte) error {
	thumb := hex.EncodeToString(Thumbprint(der))
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.WriteFile(filepath.Join(t.dir, pkiTrustedDir, thumb+".der"), der, 0o644); err != nil {
		return err
	}
	t.trusted[thumb] = struct{}{}
	return nil
}

func (t *TrustStore) store(sub, thumb string, der []byte) {
	dir := filepath.Join(t.dir, sub)
	if err := os.MkdirAll(dir, 0o755); err == nil {
		err = os.WriteFile(filepath.Join(dir, thumb+".der"), der, 0o644)
		if err == nil {
			return
		}
	}
	t.logger.Debug("could not store certificate", slog.String("dir", dir))
}
