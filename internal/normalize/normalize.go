// Package normalize implements the pure, deterministic, versioned invoice
// normalization functions described in spec.md §4.1. Every function here
// must produce identical output for identical input across processes and
// machines — no clocks, no randomness, no locale-dependent casing.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
)

// Version is recorded on every snapshot for reproducibility, so a future
// normalizer revision never silently reinterprets historical rows.
const Version = "normalize-v1"

var (
	invnumStripRE = regexp.MustCompile(`[ \-_/]`)
	invnumPrefixes = []string{"INVOICE", "INV", "BILL"}
	nonAlnumRE    = regexp.MustCompile(`[^a-z0-9]+`)
	whitespaceRE  = regexp.MustCompile(`\s+`)
	digitsRE      = regexp.MustCompile(`[0-9]+`)
)

// InvoiceNumberNorm implements spec.md §4.1 invoice_number_norm: uppercase,
// strip separators, strip a leading INV/INVOICE/BILL prefix, strip leading
// zeros, and fall back to the literal "0" if nothing remains.
//
// InvoiceNumberNorm is idempotent: InvoiceNumberNorm(InvoiceNumberNorm(s)) ==
// InvoiceNumberNorm(s) for all s.
func InvoiceNumberNorm(s string) string {
	up := strings.ToUpper(strings.TrimSpace(s))
	up = invnumStripRE.ReplaceAllString(up, "")

	// Re-apply prefix/leading-zero stripping until a pass changes nothing
	// (separators are already gone): a single pass can re-expose a prefix (e.g. "INVINV1" strips
	// to "INV1", which still starts with "INV"), so stopping after one pass
	// would break idempotence.
	for {
		before := up
		for _, p := range invnumPrefixes {
			if strings.HasPrefix(up, p) {
				up = strings.TrimPrefix(up, p)
				break
			}
		}
		up = strings.TrimLeft(up, "0")
		if up == before {
			break
		}
	}

	if up == "" {
		return "0"
	}
	return up
}

// DescNorm implements spec.md §4.1 desc_norm: lowercase, replace non-
// alphanumeric runs with a single space, collapse whitespace, trim.
func DescNorm(s string) string {
	lower := strings.ToLower(s)
	lower = nonAlnumRE.ReplaceAllString(lower, " ")
	lower = whitespaceRE.ReplaceAllString(lower, " ")
	return strings.TrimSpace(lower)
}

// MaskAccountLast4 implements spec.md §4.1 mask_account_last4: extract
// digits and return "****" + last 4 digits, or bare "****" if there are no
// digits. Returns nil for a nil input (absent remit account).
func MaskAccountLast4(s *string) *string {
	if s == nil {
		return nil
	}
	digits := strings.Join(digitsRE.FindAllString(*s, -1), "")
	var out string
	if len(digits) == 0 {
		out = "****"
	} else if len(digits) <= 4 {
		out = "****" + digits
	} else {
		out = "****" + digits[len(digits)-4:]
	}
	return &out
}

// HashAccount implements spec.md §4.1 hash_account: a one-way SHA-256 hex
// digest of the raw account string. Returns nil for a nil input.
func HashAccount(s *string) *string {
	if s == nil {
		return nil
	}
	sum := sha256.Sum256([]byte(*s))
	out := hex.EncodeToString(sum[:])
	return &out
}

// TextBlob implements spec.md §4.1 text_blob: a lower-cased, space-joined
// concatenation of vendor name, PO number, terms, and each line's SKU and
// description, in that order.
func TextBlob(in domain.InvoiceIn) string {
	var parts []string
	parts = append(parts, in.VendorName)
	if in.PONumber != nil {
		parts = append(parts, *in.PONumber)
	}
	if in.Terms != nil {
		parts = append(parts, *in.Terms)
	}
	for _, line := range in.LineItems {
		if line.SKU != nil {
			parts = append(parts, *line.SKU)
		}
		parts = append(parts, line.Desc)
	}
	joined := strings.Join(parts, " ")
	return strings.ToLower(whitespaceRE.ReplaceAllString(joined, " "))
}

// PayloadHash implements spec.md §4.1 payload_hash: a stable content hash
// over a canonicalized serialization of the input payload. Canonicalization
// sorts line items by their natural submission order (already fixed by the
// slice) and renders a deterministic key=value representation rather than
// relying on encoding/json map ordering, so the hash never depends on Go's
// (intentionally randomized) map iteration or struct-tag quirks.
func PayloadHash(in domain.InvoiceIn) string {
	var b strings.Builder
	writeField(&b, "invoice_id", in.InvoiceID)
	writeField(&b, "vendor_id", in.VendorID)
	writeField(&b, "vendor_name", in.VendorName)
	writeField(&b, "invoice_number", in.InvoiceNumber)
	writeField(&b, "invoice_date", in.InvoiceDate)
	writeField(&b, "currency", in.Currency)
	writeField(&b, "total", in.Total)
	writeField(&b, "tax_total", derefStr(in.TaxTotal))
	writeField(&b, "po_number", derefStr(in.PONumber))
	writeField(&b, "remit_account", derefStr(in.RemitAccount))
	writeField(&b, "remit_name", derefStr(in.RemitName))
	writeField(&b, "pdf_hash", derefStr(in.PDFHash))
	writeField(&b, "terms", derefStr(in.Terms))

	for i, line := range in.LineItems {
		prefix := "line" + strconv.Itoa(i+1) + "."
		writeField(&b, prefix+"desc", line.Desc)
		writeField(&b, prefix+"qty", line.Qty)
		writeField(&b, prefix+"unit_price", line.UnitPrice)
		writeField(&b, prefix+"amount", line.Amount)
		writeField(&b, prefix+"sku", derefStr(line.SKU))
		writeField(&b, prefix+"gl_code", derefStr(line.GLCode))
		writeField(&b, prefix+"cost_center", derefStr(line.CostCenter))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeField(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('\n')
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
