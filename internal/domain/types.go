// Package domain holds the persistence-agnostic types shared by every
// component of the scoring core: invoice snapshots, lines, remit sightings,
// vendor baselines, decisions, cases, and audit entries (spec.md §3).
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision labels, ordered strictest-first for rule/threshold fusion.
type DecisionLabel string

const (
	DecisionHold   DecisionLabel = "HOLD"
	DecisionReview DecisionLabel = "REVIEW"
	DecisionPass   DecisionLabel = "PASS"
)

// Rank returns a total order over decision labels where a lower rank is
// stricter (HOLD < REVIEW < PASS). Used by Stricter to resolve overrides.
func (d DecisionLabel) rank() int {
	switch d {
	case DecisionHold:
		return 0
	case DecisionReview:
		return 1
	default:
		return 2
	}
}

// Stricter returns the stricter (lower-rank) of a and b under
// HOLD > REVIEW > PASS.
func Stricter(a, b DecisionLabel) DecisionLabel {
	if a.rank() <= b.rank() {
		return a
	}
	return b
}

// CaseStatus is the lifecycle state of a review Case.
type CaseStatus string

const (
	CaseOpen   CaseStatus = "OPEN"
	CaseClosed CaseStatus = "CLOSED"
)

// InvoiceIn is the wire shape accepted by POST /scoreInvoice (spec.md §6).
type InvoiceIn struct {
	InvoiceID       string      `json:"invoice_id"`
	VendorID        string      `json:"vendor_id"`
	VendorName      string      `json:"vendor_name"`
	InvoiceNumber   string      `json:"invoice_number"`
	InvoiceDate     string      `json:"invoice_date"` // ISO-8601 date
	Currency        string      `json:"currency"`     // ISO-4217
	Total           string      `json:"total"`        // decimal string
	TaxTotal        *string     `json:"tax_total,omitempty"`
	PONumber        *string     `json:"po_number,omitempty"`
	RemitAccount    *string     `json:"remit_account,omitempty"` // raw account string
	RemitName       *string     `json:"remit_name,omitempty"`
	PDFHash         *string     `json:"pdf_hash,omitempty"`
	Terms           *string     `json:"terms,omitempty"`
	ShingleJaccard  *float64    `json:"shingle_jaccard,omitempty"`
	LineItems       []LineIn    `json:"line_items"`
}

// LineIn is one submitted line item.
type LineIn struct {
	Desc        string  `json:"desc"`
	Qty         string  `json:"qty"`        // decimal string
	UnitPrice   string  `json:"unit_price"` // decimal string
	Amount      string  `json:"amount"`     // decimal string
	SKU         *string `json:"sku,omitempty"`
	GLCode      *string `json:"gl_code,omitempty"`
	CostCenter  *string `json:"cost_center,omitempty"`
}

// InvoiceSnapshot is the immutable persisted header row, keyed by
// (TenantID, InvoiceID). See spec.md §3.
type InvoiceSnapshot struct {
	TenantID          string
	InvoiceID         string
	VendorID          string
	VendorName        string
	InvoiceNumberRaw  string
	InvoiceNumberNorm string
	InvoiceDate       time.Time
	Currency          string
	Total             decimal.Decimal
	TaxTotal          *decimal.Decimal
	PONumber          *string
	RemitAccountHash  *string
	RemitAccountMasked *string
	RemitName         *string
	PDFHash           *string
	Terms             *string
	PayloadHash       string
	NormalizerVersion string
	CreatedAt         time.Time
}

// InvoiceLine is one persisted, immutable line item.
type InvoiceLine struct {
	TenantID   string
	InvoiceID  string
	LineNo     int // 1-based, submission order
	Desc       string
	Qty        decimal.Decimal
	UnitPrice  decimal.Decimal
	Amount     decimal.Decimal
	SKU        *string
	GLCode     *string
	CostCenter *string
}

// RemitSighting records the first/last observation of a vendor remit-account
// hash (spec.md §3: "Vendor remit account sighting").
type RemitSighting struct {
	TenantID         string
	VendorID         string
	RemitAccountHash string
	RemitName        *string
	FirstSeen        time.Time
	LastSeen         time.Time
}

// VendorBaseline is the (median, mad_like) amount baseline for a vendor,
// either read from storage (maintained by an external batch collaborator)
// or derived inline by the anomaly scorer.
type VendorBaseline struct {
	TenantID    string
	VendorID    string
	Median      decimal.Decimal
	MADLike     decimal.Decimal
	SampleCount int
	UpdatedAt   time.Time
	// AlgoVersion gates which mad_like formula produced this baseline (see
	// internal/anomaly), so a future algorithm change can coexist with rows
	// written under an earlier one.
	AlgoVersion string
}

// TopMatch is one of up to three candidates returned alongside a decision.
type TopMatch struct {
	InvoiceID     string  `json:"invoice_id"`
	Similarity    float64 `json:"similarity"` // dup_prob for this candidate
	FeatureDigest string  `json:"features"`   // stable digest of the feature vector
}

// Explanation is a single (feature, value) pair in the decision's
// explanation payload.
type Explanation struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Decision is the append-only fused outcome of scoring one invoice
// (spec.md §3: "Decision").
type Decision struct {
	TenantID      string
	DecisionID    string
	InvoiceID     string
	ModelID       string
	ModelVersion  string
	RulesetVersion string
	RiskScore     decimal.Decimal // scale 2
	Label         DecisionLabel
	ReasonCodes   []string
	TopMatches    []TopMatch
	Explanations  []Explanation
	CreatedAt     time.Time
}

// CaseDisposition records how a human closed out a Case.
type CaseDisposition struct {
	User      string
	Timestamp time.Time
	Label     string
	Notes     string
}

// Case is a review case opened for a HOLD/REVIEW decision.
type Case struct {
	TenantID    string
	CaseID      string
	InvoiceID   string
	Status      CaseStatus
	SLADue      time.Time
	Disposition *CaseDisposition
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuditEntry is one append-only, forward-only action record.
type AuditEntry struct {
	TenantID  string
	EntryID   string
	Actor     string
	Action    string
	Entity    string
	EntityID  string
	Payload   string
	CreatedAt time.Time
}
