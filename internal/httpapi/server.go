package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BrandonDHaskell/keyway/internal/keyway/limiter"
	"github.com/BrandonDHaskell/keyway/internal/keyway/metrics"
	"github.com/BrandonDHaskell/keyway/internal/keyway/service"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

const defaultDurationMinutes = 60

type Dependencies struct {
	Logger  *log.Logger
	Addr    string
	Issuer  *service.Issuer
	Engine  *service.RedemptionEngine
	Audit   *service.AuditLogger
	Auth    *Authenticator
	Limiter *limiter.UnlockLimiter // nil disables unlock throttling
	Metrics *metrics.Metrics

	// Gatherer backs GET /metrics. Nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	issuer     *service.Issuer
	engine     *service.RedemptionEngine
	audit      *service.AuditLogger
	limiter    *limiter.UnlockLimiter
	metrics    *metrics.Metrics
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:  d.Logger,
		mux:     mux,
		issuer:  d.Issuer,
		engine:  d.Engine,
		audit:   d.Audit,
		limiter: d.Limiter,
		metrics: d.Metrics,
	}

	mux.HandleFunc("POST /access", requireSubject(d.Auth, s.handleIssue))
	mux.HandleFunc("GET /access", requireSubject(d.Auth, s.handleList))
	mux.HandleFunc("POST /unlock", s.handleUnlock)
	mux.HandleFunc("GET /audit", requireSubject(d.Auth, s.handleAudit))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Access ───────────────────────────────────────────────────────────────────

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req types.AccessRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	kind, err := types.ParseCredentialKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	duration := defaultDurationMinutes
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}

	ic, res, err := s.issuer.Issue(r.Context(), service.IssueRequest{
		SubjectID:       subjectFrom(r.Context()),
		ResourceID:      req.ResourceID,
		Kind:            kind,
		DurationMinutes: duration,
	})
	if err != nil {
		s.writeServiceError(w, "issue", issueStatus(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, accessResponse(ic, res))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := types.CredentialFilter{
		SubjectID:  subjectFrom(r.Context()),
		ResourceID: strings.TrimSpace(q.Get("resourceId")),
	}
	if v := q.Get("status"); v != "" {
		st, err := types.ParseCredentialStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		f.Status = st
	}

	creds, err := s.issuer.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, "list", issueStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.AccessListResponse{Credentials: creds})
}

func issueStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrOutsideOperatingHours),
		errors.Is(err, service.ErrOTPNotProvisioned):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrResourceInactive):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ── Unlock ───────────────────────────────────────────────────────────────────

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	useProto := isProtobuf(r)

	var req types.UnlockRequest
	if useProto {
		msg, err := readStruct(r)
		if err != nil {
			writeStruct(w, http.StatusBadRequest, errorToProto("bad_proto", "invalid protobuf body"))
			return
		}
		req = unlockRequestFromProto(msg)
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	fail := func(status int, reason, message string) {
		if useProto {
			writeStruct(w, status, errorToProto(reason, message))
			return
		}
		writeError(w, status, reason, message)
	}

	client := clientKey(r)
	if err := s.limiter.Check(r.Context(), client); err != nil {
		if errors.Is(err, limiter.ErrRateLimited) {
			s.metrics.IncrementUnlockRateLimited()
			fail(http.StatusTooManyRequests, "rate_limited", "too many failed attempts, try again later")
			return
		}
		s.logger.Printf("unlock limiter: %v", err)
	}

	result, err := s.engine.Redeem(r.Context(), req.Code, req.ResourceID)
	if err != nil {
		s.noteUnlockFailure(r.Context(), client, err)
		status := unlockStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError && !errors.Is(err, service.ErrActuationFailed) {
			s.logger.Printf("unlock error: %v", err)
			msg = "unexpected server error"
		}
		fail(status, service.Reason(err), msg)
		return
	}

	if err := s.limiter.Reset(r.Context(), client); err != nil {
		s.logger.Printf("unlock limiter: %v", err)
	}

	resp := unlockResponse(result)
	if useProto {
		writeStruct(w, http.StatusOK, unlockResponseToProto(resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// noteUnlockFailure counts guesses against the client: unknown codes and
// wrong one-time codes.
func (s *Server) noteUnlockFailure(ctx context.Context, client string, err error) {
	if !errors.Is(err, service.ErrNotFound) && !errors.Is(err, service.ErrInvalidOTP) {
		return
	}
	if err := s.limiter.RecordFailure(ctx, client); err != nil && !errors.Is(err, limiter.ErrRateLimited) {
		s.logger.Printf("unlock limiter: %v", err)
	}
}

func unlockStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrResourceInactive),
		errors.Is(err, service.ErrExpired),
		errors.Is(err, service.ErrAlreadyUsed),
		errors.Is(err, service.ErrOutsideOperatingHours),
		errors.Is(err, service.ErrInvalidOTP):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ── Audit ────────────────────────────────────────────────────────────────────

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := types.AuditFilter{
		SubjectID:    subjectFrom(r.Context()),
		ResourceID:   strings.TrimSpace(q.Get("resourceId")),
		CredentialID: strings.TrimSpace(q.Get("credentialId")),
	}
	if v := q.Get("kind"); v != "" {
		k := types.AuditKind(strings.ToLower(v))
		if !k.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "unknown audit kind "+strconv.Quote(v))
			return
		}
		f.Kind = k
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "since must be RFC 3339")
			return
		}
		f.Since = t
	}

	events, err := s.audit.Query(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, "audit", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, types.AuditListResponse{Events: events})
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, status int, err error) {
	if status == http.StatusInternalServerError {
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, status, service.Reason(err), "unexpected server error")
		return
	}
	writeError(w, status, service.Reason(err), err.Error())
}
