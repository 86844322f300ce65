package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/orchestrator"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/snapshotstore"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/sieveerrors"
)

type fakeScorer struct {
	result orchestrator.Result
	err    error
	gotTenant string
}

func (f *fakeScorer) Score(ctx context.Context, tenantID, actor string, in domain.InvoiceIn) (orchestrator.Result, error) {
	f.gotTenant = tenantID
	return f.result, f.err
}

type fakeLookup struct {
	decision *domain.Decision
	err      error
}

func (f *fakeLookup) LatestDecision(ctx context.Context, ex snapshotstore.Execer, tenantID, invoiceID string) (*domain.Decision, error) {
	return f.decision, f.err
}

func (f *fakeLookup) DB() snapshotstore.Execer { return nil }

func signedToken(t *testing.T, secret []byte, tenantID, aud, iss string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"tenant_id": tenantID,
		"aud":       aud,
		"iss":       iss,
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func newTestServer(scorer Scorer, lookup DecisionLookup, auth AuthConfig) *Server {
	return New(scorer, lookup, auth, zap.NewNop())
}

func validInvoiceBody() []byte {
	in := domain.InvoiceIn{
		InvoiceID: "inv-1", VendorID: "v1", VendorName: "Acme",
		InvoiceNumber: "INV-001", InvoiceDate: "2026-01-01", Currency: "USD", Total: "100.00",
		LineItems: []domain.LineIn{{Desc: "widget", Qty: "1", UnitPrice: "100.00", Amount: "100.00"}},
	}
	b, _ := json.Marshal(in)
	return b
}

func TestScoreInvoiceRejectsMissingToken(t *testing.T) {
	auth := AuthConfig{Secret: []byte("s"), Audience: "sieve", Issuer: "sieve"}
	srv := newTestServer(&fakeScorer{}, &fakeLookup{}, auth)

	req := httptest.NewRequest(http.MethodPost, "/scoreInvoice", bytes.NewReader(validInvoiceBody()))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestScoreInvoiceAcceptsDevTokenBypass(t *testing.T) {
	auth := AuthConfig{Secret: []byte("s"), Audience: "sieve", Issuer: "sieve", DevToken: "devtoken", DevTenant: "t1"}
	scorer := &fakeScorer{result: orchestrator.Result{RiskScore: decimal.RequireFromString("42.00"), Decision: domain.DecisionReview}}
	srv := newTestServer(scorer, &fakeLookup{}, auth)

	req := httptest.NewRequest(http.MethodPost, "/scoreInvoice", bytes.NewReader(validInvoiceBody()))
	req.Header.Set("Authorization", "Bearer devtoken")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", scorer.gotTenant)

	var resp scoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.DecisionReview, resp.Decision)
	assert.InDelta(t, 42.0, resp.RiskScore, 0.001)
}

func TestScoreInvoiceAcceptsValidJWT(t *testing.T) {
	secret := []byte("topsecret")
	auth := AuthConfig{Secret: secret, Audience: "sieve", Issuer: "sieve"}
	scorer := &fakeScorer{result: orchestrator.Result{RiskScore: decimal.Zero, Decision: domain.DecisionPass}}
	srv := newTestServer(scorer, &fakeLookup{}, auth)

	token := signedToken(t, secret, "tenant-xyz", "sieve", "sieve")
	req := httptest.NewRequest(http.MethodPost, "/scoreInvoice", bytes.NewReader(validInvoiceBody()))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-xyz", scorer.gotTenant)
}

func TestScoreInvoiceRejectsMalformedJSON(t *testing.T) {
	secret := []byte("topsecret")
	auth := AuthConfig{Secret: secret, Audience: "sieve", Issuer: "sieve"}
	srv := newTestServer(&fakeScorer{}, &fakeLookup{}, auth)

	token := signedToken(t, secret, "tenant-xyz", "sieve", "sieve")
	req := httptest.NewRequest(http.MethodPost, "/scoreInvoice", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDecisionReturns404WhenAbsent(t *testing.T) {
	auth := AuthConfig{DevToken: "devtoken", DevTenant: "t1"}
	srv := newTestServer(&fakeScorer{}, &fakeLookup{err: sieveerrors.ErrDecisionNotFound}, auth)

	req := httptest.NewRequest(http.MethodGet, "/invoice/inv-1/decision", nil)
	req.Header.Set("Authorization", "Bearer devtoken")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDecisionReturnsStoredDecision(t *testing.T) {
	auth := AuthConfig{DevToken: "devtoken", DevTenant: "t1"}
	dec := &domain.Decision{
		InvoiceID: "inv-1", ModelID: "heuristic", ModelVersion: "heuristic-v1",
		RulesetVersion: "rules-v1", RiskScore: decimal.RequireFromString("10.00"), Label: domain.DecisionPass,
	}
	srv := newTestServer(&fakeScorer{}, &fakeLookup{decision: dec}, auth)

	req := httptest.NewRequest(http.MethodGet, "/invoice/inv-1/decision", nil)
	req.Header.Set("Authorization", "Bearer devtoken")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp decisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "inv-1", resp.InvoiceID)
	assert.Equal(t, domain.DecisionPass, resp.Decision)
}
