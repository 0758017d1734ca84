package pki

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"strings"
	"time"
)

var (
	ErrUntrustedIssuer         = errors.New("certificate issuer is not the trusted CA")
	ErrInvalidSignature        = errors.New("certificate signature invalid")
	ErrExpired                 = errors.New("certificate expired")
	ErrNotYetValid             = errors.New("certificate not yet valid")
	ErrRevoked                 = errors.New("certificate revoked")
	ErrInvalidExtension        = errors.New("certificate basic constraints invalid")
	ErrInvalidKeyUsage         = errors.New("certificate key usage invalid")
	ErrInvalidExtendedKeyUsage = errors.New("certificate extended key usage invalid")
	ErrKindMismatch            = errors.New("certificate kind mismatch")
)

// SubjectInfo is the validator's view of an accepted certificate.
type SubjectInfo struct {
	Kind      CertKind
	SubjectID string
	Serial    string
	PublicKey *rsa.PublicKey
	RoomID    string
}

// Validator gates end-entity certificates against the CA and the revocation
// set. It holds read-only handles only; the CRL manager stays the single
// owner of revocation state.
type Validator struct {
	caCert      *x509.Certificate
	caPub       *rsa.PublicKey
	revocations RevocationChecker
}

func NewValidator(caCert *x509.Certificate, revocations RevocationChecker) (*Validator, error) {
	caPub, err := PublicKeyOf(caCert)
	if err != nil {
		return nil, err
	}
	return &Validator{caCert: caCert, caPub: caPub, revocations: revocations}, nil
}

// Validate runs the full check sequence over certPEM. The checks run in a
// fixed order and short-circuit on the first failure; later checks assume
// earlier ones passed.
func (v *Validator) Validate(certPEM []byte, expectedKind CertKind, now time.Time) (*SubjectInfo, error) {
	// 1. Parse.
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, ErrBadEncoding
	}

	// 2. Issuer DN must equal the CA subject DN.
	if !bytes.Equal(cert.RawIssuer, v.caCert.RawSubject) {
		return nil, ErrUntrustedIssuer
	}

	// 3. CA signature over the TBS bytes.
	if err := v.caCert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return nil, ErrInvalidSignature
	}

	// 4. Validity window.
	now = now.UTC()
	if now.Before(cert.NotBefore) {
		return nil, ErrNotYetValid
	}
	if now.After(cert.NotAfter) {
		return nil, ErrExpired
	}

	// 5. Revocation.
	serial := cert.SerialNumber.String()
	if v.revocations != nil && v.revocations.IsRevoked(serial) {
		return nil, ErrRevoked
	}

	// 6. BasicConstraints present, end-entity.
	if !cert.BasicConstraintsValid || cert.IsCA {
		return nil, ErrInvalidExtension
	}

	// 7. KeyUsage must include digitalSignature.
	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return nil, ErrInvalidKeyUsage
	}

	// 8. ExtendedKeyUsage: clientAuth for students and doors.
	kind, subjectID := subjectKind(cert)
	if kind == KindStudent || kind == KindDoor {
		if !hasExtKeyUsage(cert, x509.ExtKeyUsageClientAuth) {
			return nil, ErrInvalidExtendedKeyUsage
		}
	}

	// 9. Kind match.
	if kind != expectedKind {
		return nil, ErrKindMismatch
	}

	pub, err := PublicKeyOf(cert)
	if err != nil {
		return nil, ErrWrongKeyType
	}

	return &SubjectInfo{
		Kind:      kind,
		SubjectID: subjectID,
		Serial:    serial,
		PublicKey: pub,
		RoomID:    roomIDFromURIs(cert.URIs),
	}, nil
}

// subjectKind parses the certificate kind and subject id out of the CN.
func subjectKind(cert *x509.Certificate) (CertKind, string) {
	cn := cert.Subject.CommonName
	switch {
	case strings.HasPrefix(cn, "student_"):
		return KindStudent, strings.TrimPrefix(cn, "student_")
	case strings.HasPrefix(cn, "door_"):
		return KindDoor, strings.TrimPrefix(cn, "door_")
	case strings.HasPrefix(cn, "server_"):
		return KindServer, strings.TrimPrefix(cn, "server_")
	case cert.IsCA:
		return KindCA, cn
	default:
		return "", cn
	}
}

func hasExtKeyUsage(cert *x509.Certificate, want x509.ExtKeyUsage) bool {
	for _, eku := range cert.ExtKeyUsage {
		if eku == want {
			return true
		}
	}
	return false
}
