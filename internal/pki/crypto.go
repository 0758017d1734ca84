package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrBadEncoding        = errors.New("bad encoding")
	ErrWrongKeyType       = errors.New("wrong key type (RSA required)")
	ErrVerifyFailed       = errors.New("signature verification failed")
	ErrMalformedSignature = errors.New("malformed signature")
)

const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypePrivateKey  = "PRIVATE KEY"
	pemTypeCRL         = "X509 CRL"
)

// GenerateRSA generates an RSA key pair with public exponent 65537.
func GenerateRSA(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return key, nil
}

// Sign signs msg with PKCS#1 v1.5 over SHA-256 and returns the signature
// hex-encoded.
func Sign(priv *rsa.PrivateKey, msg []byte) (string, error) {
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify checks a hex-encoded PKCS#1 v1.5 SHA-256 signature over msg.
func Verify(pub *rsa.PublicKey, msg []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return ErrMalformedSignature
	}
	digest := sha256.Sum256(msg)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrVerifyFailed
	}
	return nil
}

// SHA256Hex returns the hex-encoded SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	digest := sha256.Sum256(b)
	return hex.EncodeToString(digest[:])
}

// RandomSerial draws a random certificate serial number. 127 bits keeps the
// value positive while comfortably exceeding the 64-bit entropy floor.
func RandomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 127)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("random serial: %w", err)
	}
	return serial, nil
}

// EncodeCertificatePEM encodes a DER certificate as PEM.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: der})
}

// ParseCertificatePEM parses a single PEM-encoded X.509 certificate.
func ParseCertificatePEM(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != pemTypeCertificate {
		return nil, ErrBadEncoding
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, ErrBadEncoding
	}
	return cert, nil
}

// EncodePrivateKeyPEM encodes an RSA private key as PKCS#8 PEM.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal pkcs8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
}

// ParsePrivateKeyPEM parses a PKCS#8 (or PKCS#1) PEM-encoded RSA private key.
func ParsePrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrBadEncoding
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrWrongKeyType
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, ErrBadEncoding
}

// EncodeCRLPEM encodes a DER revocation list as PEM.
func EncodeCRLPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCRL, Bytes: der})
}

// ParseCRLPEM parses a PEM-encoded X.509 CRL.
func ParseCRLPEM(pemBytes []byte) (*x509.RevocationList, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != pemTypeCRL {
		return nil, ErrBadEncoding
	}
	crl, err := x509.ParseRevocationList(block.Bytes)
	if err != nil {
		return nil, ErrBadEncoding
	}
	return crl, nil
}

// PublicKeyOf extracts the RSA public key from a certificate.
func PublicKeyOf(cert *x509.Certificate) (*rsa.PublicKey, error) {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrWrongKeyType
	}
	return pub, nil
}

// subjectKeyID derives a SubjectKeyIdentifier as SHA-1 of the DER SPKI,
// matching RFC 5280 method 1.
func subjectKeyID(pub *rsa.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal spki: %w", err)
	}
	sum := sha1.Sum(spki)
	return sum[:], nil
}
