// Package format renders invoice numbers from a template.
package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultInvoiceNumberTemplate yields numbers such as INV-2024-000001.
const DefaultInvoiceNumberTemplate = "INV-{YYYY}-{SEQ6}"

var paddedSeqRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

// FormatInvoiceNumber substitutes the date tokens {YYYY} {YY} {MM} {DD} of
// issuedAt (in UTC) and the sequence tokens {SEQ} or {SEQn} (zero padded to
// n digits) into template.
func FormatInvoiceNumber(template string, issuedAt time.Time, seq int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	issuedAt = issuedAt.UTC()
	out := strings.NewReplacer(
		"{YYYY}", fmt.Sprintf("%04d", issuedAt.Year()),
		"{YY}", issuedAt.Format("06"),
		"{MM}", issuedAt.Format("01"),
		"{DD}", issuedAt.Format("02"),
		"{SEQ}", strconv.FormatInt(seq, 10),
	).Replace(template)

	out = paddedSeqRe.ReplaceAllStringFunc(out, func(token string) string {
		width, err := strconv.Atoi(paddedSeqRe.FindStringSubmatch(token)[1])
		if err != nil || width <= 0 {
			return token
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in invoice number: %s", out)
	}
	return out, nil
}
