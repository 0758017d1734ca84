package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NIGHTX-99/SecureAttend/internal/config"
	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

const usage = `secureattend-ca: certificate authority administration

Usage:
  secureattend-ca init
  secureattend-ca issue-student -id <student_id> [-email <email>]
  secureattend-ca issue-door    -id <door_id> -room <room_id>
  secureattend-ca issue-server  -id <server_id>
  secureattend-ca revoke        -serial <serial> [-reason <reason>]
  secureattend-ca list          [-kind <kind>] [-status <status>]
  secureattend-ca crl

Configuration comes from SECUREATTEND_* environment variables.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.FromEnv()
	now := time.Now().UTC()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(cfg, now)
	case "issue-student":
		err = runIssueStudent(cfg, os.Args[2:], now)
	case "issue-door":
		err = runIssueDoor(cfg, os.Args[2:], now)
	case "issue-server":
		err = runIssueServer(cfg, os.Args[2:], now)
	case "revoke":
		err = runRevoke(cfg, os.Args[2:], now)
	case "list":
		err = runList(cfg, os.Args[2:])
	case "crl":
		err = runCRL(cfg, now)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "secureattend-ca: %v\n", err)
		os.Exit(1)
	}
}

func caConfig(cfg config.Config) pki.CAConfig {
	return pki.CAConfig{
		Dir:          cfg.CADir,
		Organization: cfg.Organization,
		ValidityDays: cfg.CAValidityDays,
		RSABits:      cfg.RSABits,
	}
}

func runInit(cfg config.Config, now time.Time) error {
	ca, err := pki.InitCA(caConfig(cfg), now)
	if err != nil {
		return err
	}
	fmt.Printf("CA ready\n  certificate: %s\n  valid until: %s\n",
		filepath.Join(cfg.CADir, "ca_certificate.pem"),
		ca.Certificate().NotAfter.Format(time.RFC3339))
	return nil
}

func runIssueStudent(cfg config.Config, args []string, now time.Time) error {
	fs := flag.NewFlagSet("issue-student", flag.ExitOnError)
	id := fs.String("id", "", "student identifier")
	email := fs.String("email", "", "student email (optional)")
	fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("issue-student: -id is required")
	}

	ca, err := pki.LoadCA(caConfig(cfg))
	if err != nil {
		return err
	}
	issued, err := ca.IssueStudent(*id, *email, cfg.StudentValidityDays, now)
	if err != nil {
		return err
	}
	return writeIssued(cfg.CertsDir, "students", *id, issued)
}

func runIssueDoor(cfg config.Config, args []string, now time.Time) error {
	fs := flag.NewFlagSet("issue-door", flag.ExitOnError)
	id := fs.String("id", "", "door identifier")
	room := fs.String("room", "", "room the door guards")
	fs.Parse(args)
	if *id == "" || *room == "" {
		return fmt.Errorf("issue-door: -id and -room are required")
	}

	ca, err := pki.LoadCA(caConfig(cfg))
	if err != nil {
		return err
	}
	issued, err := ca.IssueDoor(*id, *room, cfg.DoorValidityDays, now)
	if err != nil {
		return err
	}
	return writeIssued(cfg.CertsDir, "doors", *id, issued)
}

func runIssueServer(cfg config.Config, args []string, now time.Time) error {
	fs := flag.NewFlagSet("issue-server", flag.ExitOnError)
	id := fs.String("id", "", "server identifier")
	fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("issue-server: -id is required")
	}

	ca, err := pki.LoadCA(caConfig(cfg))
	if err != nil {
		return err
	}
	issued, err := ca.IssueServer(*id, cfg.ServerValidityDays, now)
	if err != nil {
		return err
	}
	return writeIssued(cfg.CertsDir, "servers", *id, issued)
}

func runRevoke(cfg config.Config, args []string, now time.Time) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	serial := fs.String("serial", "", "certificate serial number")
	reason := fs.String("reason", pki.ReasonUnspecified, "revocation reason")
	fs.Parse(args)
	if *serial == "" {
		return fmt.Errorf("revoke: -serial is required")
	}

	ca, err := pki.LoadCA(caConfig(cfg))
	if err != nil {
		return err
	}
	crl := pki.NewCRLManager(ca, cfg.CRLValidityDays)
	if err := crl.Revoke(*serial, *reason, now); err != nil {
		return err
	}
	fmt.Printf("revoked %s (%s)\n", *serial, *reason)
	return nil
}

func runList(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	kind := fs.String("kind", "", "filter by kind (student|door|server)")
	status := fs.String("status", "", "filter by status (active|revoked)")
	fs.Parse(args)

	ca, err := pki.LoadCA(caConfig(cfg))
	if err != nil {
		return err
	}

	records := ca.Registry().List(pki.RecordFilter{
		Kind:   pki.CertKind(*kind),
		Status: pki.CertStatus(*status),
	})
	for _, rec := range records {
		fmt.Printf("%-8s %-12s %-40s %-8s %s\n",
			rec.Kind, rec.SubjectID, rec.Serial, rec.Status,
			rec.NotAfter.Format("2006-01-02"))
	}
	fmt.Printf("%d certificate(s)\n", len(records))
	return nil
}

func runCRL(cfg config.Config, now time.Time) error {
	ca, err := pki.LoadCA(caConfig(cfg))
	if err != nil {
		return err
	}
	crl := pki.NewCRLManager(ca, cfg.CRLValidityDays)
	pemBytes, err := crl.CurrentCRL(now)
	if err != nil {
		return err
	}
	os.Stdout.Write(pemBytes)
	return nil
}

func writeIssued(certsDir, group, id string, issued *pki.IssuedCertificate) error {
	dir := filepath.Join(certsDir, group, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	certPath := filepath.Join(dir, "certificate.pem")
	keyPath := filepath.Join(dir, "private_key.pem")

	if err := os.WriteFile(certPath, issued.CertificatePEM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, issued.PrivateKeyPEM, 0o600); err != nil {
		return err
	}

	fmt.Printf("issued %s %s\n  certificate: %s\n  private key: %s\n  serial: %s\n",
		issued.Record.Kind, id, certPath, keyPath, issued.Record.Serial)
	return nil
}
