package httpapi_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/challenge"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/service"
	sqlitestore "github.com/NIGHTX-99/SecureAttend/internal/attend/store/sqlite"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
	"github.com/NIGHTX-99/SecureAttend/internal/db"
	"github.com/NIGHTX-99/SecureAttend/internal/httpapi"
	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	ca      *pki.CA
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ca, err := pki.InitCA(pki.CAConfig{Dir: t.TempDir(), Organization: "College", RSABits: 2048}, t0)
	if err != nil {
		t.Fatalf("init CA: %v", err)
	}

	crl := pki.NewCRLManager(ca, 7)
	validator, err := pki.NewValidator(ca.Certificate(), crl)
	if err != nil {
		t.Fatalf("init validator: %v", err)
	}

	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", t.Name())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if err := db.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	writer := db.NewWorker(conn)
	t.Cleanup(writer.Close)

	attendanceStore := sqlitestore.NewAttendanceStore(conn, writer)
	authzStore := sqlitestore.NewAuthorizationStore(conn, writer)
	recorder := service.NewRecorder(attendanceStore, ca.Signer())
	challenges := challenge.NewRegistry(challenge.Config{TTL: 30 * time.Second, NonceWindow: 5 * time.Minute})

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:            zap.NewNop(),
		Addr:              ":0",
		AccessService:     service.NewAccessService(validator, challenges, authzStore, recorder, zap.NewNop()),
		EnrollmentService: service.NewEnrollmentService(authzStore),
		Recorder:          recorder,
		CACertificatePEM:  ca.CertificatePEM(),
		CRL:               crl,
		Now:               func() time.Time { return t0 },
	})

	return &fixture{handler: srv.Handler(), ca: ca}
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestServer_ChallengeVerifyFlow(t *testing.T) {
	f := newFixture(t)

	issued, err := f.ca.IssueStudent("student_001", "", 365, t0)
	if err != nil {
		t.Fatalf("issue student: %v", err)
	}

	// Authorize via the admin endpoint.
	w := f.post(t, "/v1/authorizations", types.Authorization{StudentID: "student_001", RoomID: "CS101"})
	if w.Code != http.StatusOK {
		t.Fatalf("authorize: status %d body %s", w.Code, w.Body.String())
	}

	w = f.post(t, "/v1/challenge", types.ChallengeRequest{
		StudentCertificatePEM: string(issued.CertificatePEM),
		PreviousNonce:         strings.Repeat("a", 64),
		RoomID:                "CS101",
		DoorID:                "door_001",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("challenge: status %d body %s", w.Code, w.Body.String())
	}

	var ch types.ChallengeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ch); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if ch.Nonce == "" || ch.ChallengeID == "" {
		t.Fatalf("incomplete challenge response: %+v", ch)
	}

	key, err := pki.ParsePrivateKeyPEM(issued.PrivateKeyPEM)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	ts, err := challenge.ParseCanonicalTime(ch.Timestamp)
	if err != nil {
		t.Fatalf("parse timestamp: %v", err)
	}
	sig, err := pki.Sign(key, challenge.CanonicalBytes(challenge.Challenge{
		ChallengeID:   ch.ChallengeID,
		Nonce:         ch.Nonce,
		Timestamp:     ts,
		RoomID:        ch.RoomID,
		DoorID:        ch.DoorID,
		PreviousNonce: ch.PreviousNonce,
	}))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	w = f.post(t, "/v1/verify", types.VerifyRequest{
		Challenge:             ch,
		SignatureHex:          sig,
		StudentCertificatePEM: string(issued.CertificatePEM),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", w.Code, w.Body.String())
	}

	var verify types.VerifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &verify); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !verify.AccessGranted {
		t.Fatalf("expected grant, got reason %q", verify.Reason)
	}
	if verify.AttendanceRecord == nil {
		t.Fatal("expected attendance record in response")
	}

	// The record shows up in the query endpoint.
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance?student_id=student_001", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("attendance query: status %d", rec.Code)
	}
	var out struct {
		Records []types.AttendanceRecord `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode attendance: %v", err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out.Records))
	}
}

func TestServer_ChallengeBadJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/challenge", strings.NewReader("{nope"))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", w.Code)
	}
}

func TestServer_ChallengeDeniedForUnknownCert(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/v1/challenge", types.ChallengeRequest{
		StudentCertificatePEM: "-----BEGIN CERTIFICATE-----\nnope\n-----END CERTIFICATE-----\n",
		PreviousNonce:         strings.Repeat("a", 64),
		RoomID:                "CS101",
		DoorID:                "door_001",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["error"] != "BadEncoding" {
		t.Errorf("expected BadEncoding reason, got %q", resp["error"])
	}
}

func TestServer_CACertificateAndCRL(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ca_certificate", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("ca_certificate: status %d", w.Code)
	}
	if _, err := pki.ParseCertificatePEM(w.Body.Bytes()); err != nil {
		t.Errorf("ca_certificate body does not parse: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/crl", nil)
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("crl: status %d", w.Code)
	}
	if _, err := pki.ParseCRLPEM(w.Body.Bytes()); err != nil {
		t.Errorf("crl body does not parse: %v", err)
	}
}
