package pki

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrAlreadyIssued = errors.New("subject already holds an active certificate")
)

const roomURIScheme = "secureattend"

// IssuedCertificate is the result of an issuance: the PEM pair handed to the
// caller plus the registry view of the new certificate.
type IssuedCertificate struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	Record         CertificateRecord
}

// IssueStudent issues a student end-entity certificate. email is optional.
func (ca *CA) IssueStudent(studentID, email string, validityDays int, now time.Time) (*IssuedCertificate, error) {
	subject := pkix.Name{
		Country:            []string{"US"},
		Province:           []string{"State"},
		Locality:           []string{"City"},
		Organization:       []string{ca.cfg.Organization},
		OrganizationalUnit: []string{"Students"},
		CommonName:         "student_" + studentID,
	}

	return ca.issue(issueParams{
		kind:         KindStudent,
		subjectID:    studentID,
		subject:      subject,
		email:        email,
		extKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		validityDays: validityDays,
		now:          now,
	})
}

// IssueDoor issues a door end-entity certificate bound to roomID via a SAN
// URI entry.
func (ca *CA) IssueDoor(doorID, roomID string, validityDays int, now time.Time) (*IssuedCertificate, error) {
	subject := pkix.Name{
		Country:            []string{"US"},
		Province:           []string{"State"},
		Locality:           []string{"City"},
		Organization:       []string{ca.cfg.Organization},
		OrganizationalUnit: []string{"Doors"},
		CommonName:         "door_" + doorID,
	}

	return ca.issue(issueParams{
		kind:         KindDoor,
		subjectID:    doorID,
		subject:      subject,
		roomID:       roomID,
		extKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		validityDays: validityDays,
		now:          now,
	})
}

// IssueServer issues a backend server certificate, used as the dedicated
// attendance signing identity.
func (ca *CA) IssueServer(serverID string, validityDays int, now time.Time) (*IssuedCertificate, error) {
	subject := pkix.Name{
		Country:            []string{"US"},
		Province:           []string{"State"},
		Locality:           []string{"City"},
		Organization:       []string{ca.cfg.Organization},
		OrganizationalUnit: []string{"Servers"},
		CommonName:         "server_" + serverID,
	}

	return ca.issue(issueParams{
		kind:         KindServer,
		subjectID:    serverID,
		subject:      subject,
		extKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		validityDays: validityDays,
		now:          now,
	})
}

type issueParams struct {
	kind         CertKind
	subjectID    string
	subject      pkix.Name
	email        string
	roomID       string
	extKeyUsage  []x509.ExtKeyUsage
	validityDays int
	now          time.Time
}

func (ca *CA) issue(p issueParams) (*IssuedCertificate, error) {
	if ca.key == nil || ca.cert == nil {
		return nil, ErrNotInitialized
	}
	if p.subjectID == "" {
		return nil, fmt.Errorf("empty %s id", p.kind)
	}
	if ca.registry.HasActive(p.kind, p.subjectID) {
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyIssued, p.kind, p.subjectID)
	}
	if p.validityDays <= 0 {
		p.validityDays = 365
	}

	key, err := GenerateRSA(ca.cfg.RSABits)
	if err != nil {
		return nil, err
	}

	serial, err := RandomSerial()
	if err != nil {
		return nil, err
	}

	ski, err := subjectKeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	notBefore := p.now.UTC()
	notAfter := notBefore.AddDate(0, 0, p.validityDays)

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               p.subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           p.extKeyUsage,
		SubjectKeyId:          ski,
		AuthorityKeyId:        ca.cert.SubjectKeyId,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}
	if p.email != "" {
		template.EmailAddresses = []string{p.email}
	}
	if p.roomID != "" {
		template.URIs = []*url.URL{roomURI(p.roomID)}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("create %s certificate: %w", p.kind, err)
	}

	keyPEM, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}

	rec := CertificateRecord{
		Serial:    serial.String(),
		Kind:      p.kind,
		SubjectID: p.subjectID,
		IssuedAt:  notBefore,
		NotAfter:  notAfter,
		Status:    StatusActive,
	}
	if err := ca.registry.Insert(rec); err != nil {
		return nil, fmt.Errorf("registry write: %w", err)
	}

	return &IssuedCertificate{
		CertificatePEM: EncodeCertificatePEM(der),
		PrivateKeyPEM:  keyPEM,
		Record:         rec,
	}, nil
}

// roomURI encodes the room binding carried in a door certificate's SAN.
func roomURI(roomID string) *url.URL {
	return &url.URL{Scheme: roomURIScheme, Host: "room", Path: "/" + roomID}
}

// roomIDFromURIs extracts the room binding from a door certificate's SANs.
func roomIDFromURIs(uris []*url.URL) string {
	for _, u := range uris {
		if u.Scheme == roomURIScheme && u.Host == "room" && len(u.Path) > 1 {
			return u.Path[1:]
		}
	}
	return ""
}
