package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/service"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/store"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/types"
	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

type Dependencies struct {
	Logger            *zap.Logger
	Addr              string
	AccessService     *service.AccessService
	EnrollmentService *service.EnrollmentService
	Recorder          *service.Recorder
	CACertificatePEM  []byte
	CRL               *pki.CRLManager

	// Now supplies the authoritative clock reading; defaults to UTC wall
	// clock. Overridable in tests.
	Now func() time.Time
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux

	access     *service.AccessService
	enrollment *service.EnrollmentService
	recorder   *service.Recorder
	caCertPEM  []byte
	crl        *pki.CRLManager
	now        func() time.Time
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	s := &Server{
		logger:     d.Logger,
		mux:        mux,
		access:     d.AccessService,
		enrollment: d.EnrollmentService,
		recorder:   d.Recorder,
		caCertPEM:  d.CACertificatePEM,
		crl:        d.CRL,
		now:        now,
	}

	mux.HandleFunc("/v1/challenge", withMethod(http.MethodPost, s.handleChallenge))
	mux.HandleFunc("/v1/verify", withMethod(http.MethodPost, s.handleVerify))
	mux.HandleFunc("/v1/attendance", withMethod(http.MethodGet, s.handleAttendanceQuery))
	mux.HandleFunc("/v1/authorizations", withMethod(http.MethodPost, s.handleAuthorize))
	mux.HandleFunc("/v1/enrollments", withMethod(http.MethodPost, s.handleEnroll))
	mux.HandleFunc("/v1/ca_certificate", withMethod(http.MethodGet, s.handleCACertificate))
	mux.HandleFunc("/v1/crl", withMethod(http.MethodGet, s.handleCRL))
	mux.HandleFunc("/v1/healthz", withMethod(http.MethodGet, s.handleHealthz))

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// withMethod restricts a handler to a single HTTP method, matching the
// behavior of Go 1.22+'s method-prefixed ServeMux patterns on the older
// net/http routing available in this build's toolchain.
func withMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req types.ChallengeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if req.StudentCertificatePEM == "" || req.RoomID == "" || req.DoorID == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "student_certificate_pem, room_id and door_id are required")
		return
	}

	resp, err := s.access.IssueChallenge(req, s.now())
	if err != nil {
		reason := service.Reason(err)
		if reason == "InternalError" {
			s.logger.Error("challenge failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		// Denials on the challenge path are terminal for the attempt; the
		// reason string is the closed taxonomy name.
		writeError(w, http.StatusForbidden, reason, "challenge request denied")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.access.VerifyAccess(r.Context(), req, s.now())
	if err != nil {
		s.logger.Error("verify failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAttendanceQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.AttendanceFilter{
		StudentID: q.Get("student_id"),
		RoomID:    q.Get("room_id"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_from", "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_to", "to must be RFC3339")
			return
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	records, err := s.recorder.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("attendance query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if records == nil {
		records = []types.AttendanceRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req types.Authorization
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if err := s.enrollment.Authorize(r.Context(), req); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStudentID), errors.Is(err, service.ErrInvalidRoomID):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			s.logger.Error("authorize failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req types.Enrollment
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if err := s.enrollment.Enroll(r.Context(), req); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStudentID),
			errors.Is(err, service.ErrInvalidRoomID),
			errors.Is(err, service.ErrInvalidCourseID):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			s.logger.Error("enroll failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCACertificate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.caCertPEM)
}

func (s *Server) handleCRL(w http.ResponseWriter, r *http.Request) {
	crlPEM, err := s.crl.CurrentCRL(s.now())
	if err != nil {
		s.logger.Error("crl build failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(crlPEM)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
