package snapshotstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
)

// snapshotRow is the sqlx-mapped row shape for invoice_snapshots; nullable
// columns use sql.Null* / pointer-friendly types so named-exec binding and
// scanning agree on types in both directions.
type snapshotRow struct {
	TenantID           string          `db:"tenant_id"`
	InvoiceID          string          `db:"invoice_id"`
	VendorID           string          `db:"vendor_id"`
	VendorName         string          `db:"vendor_name"`
	InvoiceNumberRaw   string          `db:"invoice_number_raw"`
	InvoiceNumberNorm  string          `db:"invoice_number_norm"`
	InvoiceDate        time.Time       `db:"invoice_date"`
	Currency           string          `db:"currency"`
	Total              decimal.Decimal `db:"total"`
	TaxTotal           sql.NullString  `db:"tax_total"`
	PONumber           sql.NullString  `db:"po_number"`
	RemitAccountHash   sql.NullString  `db:"remit_account_hash"`
	RemitAccountMasked sql.NullString  `db:"remit_account_masked"`
	RemitName          sql.NullString  `db:"remit_name"`
	PDFHash            sql.NullString  `db:"pdf_hash"`
	Terms              sql.NullString  `db:"terms"`
	PayloadHash        string          `db:"payload_hash"`
	NormalizerVersion  string          `db:"normalizer_version"`
	CreatedAt          time.Time       `db:"created_at"`
}

func snapRow(s domain.InvoiceSnapshot) snapshotRow {
	return snapshotRow{
		TenantID:           s.TenantID,
		InvoiceID:          s.InvoiceID,
		VendorID:           s.VendorID,
		VendorName:         s.VendorName,
		InvoiceNumberRaw:   s.InvoiceNumberRaw,
		InvoiceNumberNorm:  s.InvoiceNumberNorm,
		InvoiceDate:        s.InvoiceDate,
		Currency:           s.Currency,
		Total:              s.Total,
		TaxTotal:           nullDecimalStr(s.TaxTotal),
		PONumber:           nullStr(s.PONumber),
		RemitAccountHash:   nullStr(s.RemitAccountHash),
		RemitAccountMasked: nullStr(s.RemitAccountMasked),
		RemitName:          nullStr(s.RemitName),
		PDFHash:            nullStr(s.PDFHash),
		Terms:              nullStr(s.Terms),
		PayloadHash:        s.PayloadHash,
		NormalizerVersion:  s.NormalizerVersion,
		CreatedAt:          s.CreatedAt,
	}
}

func (r snapshotRow) toDomain() domain.InvoiceSnapshot {
	out := domain.InvoiceSnapshot{
		TenantID:          r.TenantID,
		InvoiceID:         r.InvoiceID,
		VendorID:          r.VendorID,
		VendorName:        r.VendorName,
		InvoiceNumberRaw:  r.InvoiceNumberRaw,
		InvoiceNumberNorm: r.InvoiceNumberNorm,
		InvoiceDate:       r.InvoiceDate,
		Currency:          r.Currency,
		Total:             r.Total,
		PayloadHash:       r.PayloadHash,
		NormalizerVersion: r.NormalizerVersion,
		CreatedAt:         r.CreatedAt,
	}
	if r.TaxTotal.Valid {
		d, _ := decimal.NewFromString(r.TaxTotal.String)
		out.TaxTotal = &d
	}
	if r.PONumber.Valid {
		v := r.PONumber.String
		out.PONumber = &v
	}
	if r.RemitAccountHash.Valid {
		v := r.RemitAccountHash.String
		out.RemitAccountHash = &v
	}
	if r.RemitAccountMasked.Valid {
		v := r.RemitAccountMasked.String
		out.RemitAccountMasked = &v
	}
	if r.RemitName.Valid {
		v := r.RemitName.String
		out.RemitName = &v
	}
	if r.PDFHash.Valid {
		v := r.PDFHash.String
		out.PDFHash = &v
	}
	if r.Terms.Valid {
		v := r.Terms.String
		out.Terms = &v
	}
	return out
}

type lineRow struct {
	TenantID    string          `db:"tenant_id"`
	InvoiceID   string          `db:"invoice_id"`
	LineNo      int             `db:"line_no"`
	Description string          `db:"description"`
	Qty         decimal.Decimal `db:"qty"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	Amount      decimal.Decimal `db:"amount"`
	SKU         sql.NullString  `db:"sku"`
	GLCode      sql.NullString  `db:"gl_code"`
	CostCenter  sql.NullString  `db:"cost_center"`
}

func lineRowFrom(l domain.InvoiceLine) lineRow {
	return lineRow{
		TenantID:    l.TenantID,
		InvoiceID:   l.InvoiceID,
		LineNo:      l.LineNo,
		Description: l.Desc,
		Qty:         l.Qty,
		UnitPrice:   l.UnitPrice,
		Amount:      l.Amount,
		SKU:         nullStr(l.SKU),
		GLCode:      nullStr(l.GLCode),
		CostCenter:  nullStr(l.CostCenter),
	}
}

func (r lineRow) toDomain() domain.InvoiceLine {
	out := domain.InvoiceLine{
		TenantID:  r.TenantID,
		InvoiceID: r.InvoiceID,
		LineNo:    r.LineNo,
		Desc:      r.Description,
		Qty:       r.Qty,
		UnitPrice: r.UnitPrice,
		Amount:    r.Amount,
	}
	if r.SKU.Valid {
		v := r.SKU.String
		out.SKU = &v
	}
	if r.GLCode.Valid {
		v := r.GLCode.String
		out.GLCode = &v
	}
	if r.CostCenter.Valid {
		v := r.CostCenter.String
		out.CostCenter = &v
	}
	return out
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDecimalStr(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

type decisionRow struct {
	TenantID       string         `db:"tenant_id"`
	DecisionID     string         `db:"decision_id"`
	InvoiceID      string         `db:"invoice_id"`
	ModelID        string         `db:"model_id"`
	ModelVersion   string         `db:"model_version"`
	RulesetVersion string         `db:"ruleset_version"`
	RiskScore      decimal.Decimal `db:"risk_score"`
	Label          string         `db:"label"`
	ReasonCodes    pq.StringArray `db:"reason_codes"`
	TopMatches     []byte         `db:"top_matches"`
	Explanations   []byte         `db:"explanations"`
	CreatedAt      time.Time      `db:"created_at"`
}

func encodeDecisionBlobs(d domain.Decision) (topMatchesJSON, explanationsJSON []byte, err error) {
	topMatchesJSON, err = json.Marshal(d.TopMatches)
	if err != nil {
		return nil, nil, err
	}
	explanationsJSON, err = json.Marshal(d.Explanations)
	if err != nil {
		return nil, nil, err
	}
	return topMatchesJSON, explanationsJSON, nil
}

func (r decisionRow) toDomain() (domain.Decision, error) {
	var topMatches []domain.TopMatch
	if len(r.TopMatches) > 0 {
		if err := json.Unmarshal(r.TopMatches, &topMatches); err != nil {
			return domain.Decision{}, err
		}
	}
	var explanations []domain.Explanation
	if len(r.Explanations) > 0 {
		if err := json.Unmarshal(r.Explanations, &explanations); err != nil {
			return domain.Decision{}, err
		}
	}
	return domain.Decision{
		TenantID:       r.TenantID,
		DecisionID:     r.DecisionID,
		InvoiceID:      r.InvoiceID,
		ModelID:        r.ModelID,
		ModelVersion:   r.ModelVersion,
		RulesetVersion: r.RulesetVersion,
		RiskScore:      r.RiskScore,
		Label:          domain.DecisionLabel(r.Label),
		ReasonCodes:    []string(r.ReasonCodes),
		TopMatches:     topMatches,
		Explanations:   explanations,
		CreatedAt:      r.CreatedAt,
	}, nil
}
