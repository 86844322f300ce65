// Package httpapi implements the scoring core's two external interfaces
// (spec.md §6): POST /scoreInvoice and GET /invoice/{invoice_id}/decision,
// with Bearer-token authentication and sentinel-error-to-status mapping so
// the orchestrator never imports net/http.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/orchestrator"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/snapshotstore"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/sieveerrors"
)

// Scorer is the subset of *orchestrator.Orchestrator the HTTP layer depends
// on, so handlers can be tested against a fake.
type Scorer interface {
	Score(ctx context.Context, tenantID, actor string, in domain.InvoiceIn) (orchestrator.Result, error)
}

// DecisionLookup is the subset of *snapshotstore.Store the decision-lookup
// handler depends on.
type DecisionLookup interface {
	LatestDecision(ctx context.Context, ex snapshotstore.Execer, tenantID, invoiceID string) (*domain.Decision, error)
	DB() snapshotstore.Execer
}

// AuthConfig configures Bearer token validation.
type AuthConfig struct {
	Secret    []byte
	Audience  string
	Issuer    string
	DevToken  string // when non-empty, this literal bearer value bypasses JWT validation
	DevTenant string // tenant_id attributed to a devtoken-authenticated request
}

type tenantCtxKey struct{}

// Server bundles the collaborators needed to answer both endpoints.
type Server struct {
	scorer Scorer
	lookup DecisionLookup
	auth   AuthConfig
	log    *zap.Logger
}

// New constructs a Server.
func New(scorer Scorer, lookup DecisionLookup, auth AuthConfig, log *zap.Logger) *Server {
	return &Server{scorer: scorer, lookup: lookup, auth: auth, log: log}
}

// Router builds the chi router for both endpoints, with request ID and
// recovery middleware ahead of the auth chain.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Post("/scoreInvoice", s.handleScoreInvoice)
	r.Get("/invoice/{invoice_id}/decision", s.handleGetDecision)
	return r
}

// authenticate validates the Bearer token and attaches the resolved tenant
// ID to the request context. A literal devtoken bypass is honored only
// when configured (spec.md §6), and is logged every time it fires so the
// bypass is never silent in production logs.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, sieveerrors.ErrUnauthorized, "missing bearer token")
			return
		}

		if s.auth.DevToken != "" && token == s.auth.DevToken {
			s.log.Warn("devtoken bypass used", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			ctx := context.WithValue(r.Context(), tenantCtxKey{}, s.auth.DevTenant)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tenantID, err := s.validateJWT(token)
		if err != nil {
			writeError(w, sieveerrors.ErrUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), tenantCtxKey{}, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) validateJWT(raw string) (tenantID string, err error) {
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.auth.Secret, nil
	}, jwt.WithAudience(s.auth.Audience), jwt.WithIssuer(s.auth.Issuer))
	if err != nil {
		return "", err
	}
	sub, _ := claims["tenant_id"].(string)
	if sub == "" {
		return "", errors.New("token missing tenant_id claim")
	}
	return sub, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func tenantFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantCtxKey{}).(string)
	return v
}

// scoreResponse is the wire shape of a successful POST /scoreInvoice
// response (spec.md §6).
type scoreResponse struct {
	RiskScore    float64              `json:"risk_score"`
	Decision     domain.DecisionLabel `json:"decision"`
	ReasonCodes  []string             `json:"reason_codes"`
	TopMatches   []domain.TopMatch    `json:"top_matches"`
	Explanations []domain.Explanation `json:"explanations"`
	TraceID      string               `json:"trace_id"`
}

func (s *Server) handleScoreInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	var in domain.InvoiceIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, sieveerrors.ErrSchemaViolation, "malformed JSON body")
		return
	}
	if in.VendorID != "" && requestedTenantMismatch(r, tenantID) {
		writeError(w, sieveerrors.ErrTenantMismatch, "tenant does not match authenticated token")
		return
	}

	actor := middleware.GetReqID(r.Context())
	if actor == "" {
		actor = uuid.NewString()
	}

	result, err := s.scorer.Score(r.Context(), tenantID, actor, in)
	if err != nil {
		writeError(w, err, err.Error())
		return
	}

	riskFloat, _ := result.RiskScore.Float64()
	resp := scoreResponse{
		RiskScore:    riskFloat,
		Decision:     result.Decision,
		ReasonCodes:  emptyToNilSlice(result.ReasonCodes),
		TopMatches:   result.TopMatches,
		Explanations: result.Explanations,
		TraceID:      middleware.GetReqID(r.Context()),
	}
	writeJSON(w, http.StatusOK, resp)
}

// decisionResponse is the wire shape of a successful
// GET /invoice/{invoice_id}/decision response.
type decisionResponse struct {
	InvoiceID      string               `json:"invoice_id"`
	ModelID        string               `json:"model_id"`
	ModelVersion   string               `json:"model_version"`
	RulesetVersion string               `json:"ruleset_version"`
	RiskScore      float64              `json:"risk_score"`
	Decision       domain.DecisionLabel `json:"decision"`
	ReasonCodes    []string             `json:"reason_codes"`
	TopMatches     []domain.TopMatch    `json:"top_matches"`
	Explanations   []domain.Explanation `json:"explanations"`
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	invoiceID := chi.URLParam(r, "invoice_id")

	dec, err := s.lookup.LatestDecision(r.Context(), s.lookup.DB(), tenantID, invoiceID)
	if err != nil {
		writeError(w, err, err.Error())
		return
	}

	riskFloat, _ := dec.RiskScore.Float64()
	resp := decisionResponse{
		InvoiceID: dec.InvoiceID, ModelID: dec.ModelID, ModelVersion: dec.ModelVersion,
		RulesetVersion: dec.RulesetVersion, RiskScore: riskFloat, Decision: dec.Label,
		ReasonCodes: emptyToNilSlice(dec.ReasonCodes), TopMatches: dec.TopMatches, Explanations: dec.Explanations,
	}
	writeJSON(w, http.StatusOK, resp)
}

// requestedTenantMismatch reports whether the request carries an
// X-Tenant-Id header whose value differs from the authenticated tenant.
// Requests without that header never mismatch; the request body is not
// inspected for a tenant identifier.
func requestedTenantMismatch(r *http.Request, tenantID string) bool {
	hdr := r.Header.Get("X-Tenant-Id")
	return hdr != "" && hdr != tenantID
}

func emptyToNilSlice(s []string) []string {
	if len(s) == 0 {
		return []string{}
	}
	return s
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error, detail string) {
	status := statusFor(err)
	writeJSON(w, status, errorResponse{Error: detail})
}

// statusFor maps a sentinel error from pkg/sieveerrors to its HTTP status
// (spec.md §7). Unrecognized errors default to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sieveerrors.ErrSchemaViolation):
		return http.StatusBadRequest
	case errors.Is(err, sieveerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, sieveerrors.ErrTenantMismatch):
		return http.StatusForbidden
	case errors.Is(err, sieveerrors.ErrInvoiceNotFound), errors.Is(err, sieveerrors.ErrDecisionNotFound):
		return http.StatusNotFound
	case errors.Is(err, sieveerrors.ErrCaseAlreadyDisposed):
		return http.StatusConflict
	case errors.Is(err, sieveerrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
