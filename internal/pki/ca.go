package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrNotInitialized = errors.New("CA not initialized")
)

const (
	caKeyFile    = "ca_private_key.pem"
	caCertFile   = "ca_certificate.pem"
	registryFile = "cert_registry.json"
	crlFile      = "crl.pem"
)

// CAConfig carries the knobs for CA initialization and issuance.
type CAConfig struct {
	Dir          string
	Organization string
	ValidityDays int
	RSABits      int
}

func (c *CAConfig) applyDefaults() {
	if c.Organization == "" {
		c.Organization = "College"
	}
	if c.ValidityDays <= 0 {
		c.ValidityDays = 3650
	}
	if c.RSABits <= 0 {
		c.RSABits = 2048
	}
}

// CA owns the root key pair, the self-signed root certificate, and the issued
// certificate registry. The private key lives in memory for the process
// lifetime; issued end-entity keys are handed to the caller and not retained.
type CA struct {
	cfg      CAConfig
	key      *rsa.PrivateKey
	cert     *x509.Certificate
	registry *Registry
}

// InitCA loads the CA artifacts from cfg.Dir when they exist and parse, and
// generates a fresh root otherwise. Idempotent.
func InitCA(cfg CAConfig, now time.Time) (*CA, error) {
	cfg.applyDefaults()

	keyPath := filepath.Join(cfg.Dir, caKeyFile)
	certPath := filepath.Join(cfg.Dir, caCertFile)

	registry, err := OpenRegistry(filepath.Join(cfg.Dir, registryFile))
	if err != nil {
		return nil, err
	}

	ca := &CA{cfg: cfg, registry: registry}

	keyPEM, keyErr := os.ReadFile(keyPath)
	certPEM, certErr := os.ReadFile(certPath)
	if keyErr == nil && certErr == nil {
		key, err := ParsePrivateKeyPEM(keyPEM)
		if err != nil {
			return nil, fmt.Errorf("load CA key: %w", err)
		}
		cert, err := ParseCertificatePEM(certPEM)
		if err != nil {
			return nil, fmt.Errorf("load CA certificate: %w", err)
		}
		ca.key = key
		ca.cert = cert
		return ca, nil
	}

	if err := ca.generate(now); err != nil {
		return nil, err
	}
	return ca, nil
}

// LoadCA opens an existing CA and fails with ErrNotInitialized if the
// artifacts are missing.
func LoadCA(cfg CAConfig) (*CA, error) {
	cfg.applyDefaults()

	keyPEM, err := os.ReadFile(filepath.Join(cfg.Dir, caKeyFile))
	if err != nil {
		return nil, ErrNotInitialized
	}
	certPEM, err := os.ReadFile(filepath.Join(cfg.Dir, caCertFile))
	if err != nil {
		return nil, ErrNotInitialized
	}

	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load CA key: %w", err)
	}
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("load CA certificate: %w", err)
	}

	registry, err := OpenRegistry(filepath.Join(cfg.Dir, registryFile))
	if err != nil {
		return nil, err
	}

	return &CA{cfg: cfg, key: key, cert: cert, registry: registry}, nil
}

func (ca *CA) generate(now time.Time) error {
	key, err := GenerateRSA(ca.cfg.RSABits)
	if err != nil {
		return err
	}

	serial, err := RandomSerial()
	if err != nil {
		return err
	}

	ski, err := subjectKeyID(&key.PublicKey)
	if err != nil {
		return err
	}

	subject := pkix.Name{
		Country:            []string{"US"},
		Province:           []string{"State"},
		Locality:           []string{"City"},
		Organization:       []string{ca.cfg.Organization},
		OrganizationalUnit: []string{"Certificate Authority"},
		CommonName:         ca.cfg.Organization + " Root CA",
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             now.UTC(),
		NotAfter:              now.UTC().AddDate(0, 0, ca.cfg.ValidityDays),
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		SubjectKeyId:          ski,
		AuthorityKeyId:        ski,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("parse created CA certificate: %w", err)
	}

	if err := os.MkdirAll(ca.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir ca dir: %w", err)
	}

	keyPEM, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(ca.cfg.Dir, caKeyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write CA key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ca.cfg.Dir, caCertFile), EncodeCertificatePEM(der), 0o644); err != nil {
		return fmt.Errorf("write CA certificate: %w", err)
	}

	ca.key = key
	ca.cert = cert
	return nil
}

// Certificate returns the CA certificate.
func (ca *CA) Certificate() *x509.Certificate { return ca.cert }

// CertificatePEM returns the CA certificate PEM-encoded.
func (ca *CA) CertificatePEM() []byte { return EncodeCertificatePEM(ca.cert.Raw) }

// PublicKey returns the CA public key.
func (ca *CA) PublicKey() *rsa.PublicKey { return &ca.key.PublicKey }

// Signer exposes the CA private key for CRL and record signing.
func (ca *CA) Signer() *rsa.PrivateKey { return ca.key }

// Registry returns the issued-certificate catalog.
func (ca *CA) Registry() *Registry { return ca.registry }
