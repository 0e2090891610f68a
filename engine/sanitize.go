/*
sanitize.go - Defensive parsing of corrupted stored decimals

PURPOSE:
  Legacy rows can hold numeric text that was corrupted by historic write
  defects - most commonly two decimal points concatenated ("1.0032.5").
  decimal.NewFromString rejects such values outright, so every number read
  from storage passes through this sanitizer before it feeds arithmetic
  or persistence.

RULES:
  - Keep digits, a single leading minus, and the FIRST decimal point.
  - An empty or degenerate result ("", "-", ".", "-.") parses as 0.
  - Rate-like fields substitute a caller-supplied default when the result
    is not strictly positive; cost and quantity fields never default and
    instead fail with a numeric-integrity error.
  - Sanitization is idempotent: sanitizing an already-clean string is a
    no-op. Callers compare Clean(raw) against raw and write the corrected
    text back, so the defect self-heals on next read.

SEE ALSO:
  - stocktake/workflow.go: write-back of corrected exchange rates
*/
package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Clean strips everything from raw except digits, one leading minus, and
// the first decimal point encountered. The result is either parseable by
// decimal.NewFromString or degenerate (empty / sign / dot only).
func Clean(raw string) string {
	var b strings.Builder
	seenDot := false
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteByte(byte(r))
		case r == '-' && b.Len() == 0:
			b.WriteByte('-')
		case r == '.' && !seenDot:
			seenDot = true
			b.WriteByte('.')
		}
	}
	return b.String()
}

func degenerate(s string) bool {
	switch s {
	case "", "-", ".", "-.":
		return true
	}
	return false
}

// Sanitize parses raw into a decimal after cleaning. Degenerate input is
// treated as zero. A field name is carried into the error for diagnostics.
func Sanitize(field, raw string) (decimal.Decimal, error) {
	cleaned := Clean(raw)
	if degenerate(cleaned) {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, &NumericError{Field: field, Raw: raw}
	}
	return d, nil
}

// SanitizeRate parses raw as an exchange-rate-like value. Rates must be
// strictly positive; anything else falls back to the supplied default
// (typically 1.0). SanitizeRate never fails - a rate always has a safe
// substitute, unlike costs and quantities.
func SanitizeRate(raw string, fallback decimal.Decimal) decimal.Decimal {
	d, err := Sanitize("rate", raw)
	if err != nil || !d.IsPositive() {
		return fallback
	}
	return d
}
