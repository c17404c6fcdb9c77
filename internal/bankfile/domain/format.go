// Package domain implements the direct-debit presentment file format and
// the batch ledger around it. The format is the bank's fixed pipe layout:
// one H header, one D record per collection, one T trailer with control
// totals. Files are plain text, CRLF tolerated.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	recordHeader  = "H"
	recordDetail  = "D"
	recordTrailer = "T"

	fieldSeparator = "|"
	wireDateLayout = "20060102"
)

var (
	ErrInvalidHeader = errors.New("bankfile_invalid_header")
	ErrInvalidRow    = errors.New("bankfile_invalid_row")
	ErrMalformedFile = errors.New("bankfile_malformed")
)

// FileHeader identifies one presentment file. Company is the presenter
// code the bank assigned us; it never varies per row.
type FileHeader struct {
	Version      string
	BusinessDate time.Time
	Channel      string
	Company      string
}

// OutboundRow is one collection order. Amounts are integer cents.
type OutboundRow struct {
	ExternalReference string
	AmountCents       int64
	HolderTaxID       string
	HolderName        string
	AccountLast4      string
	DueDate           time.Time
}

// ControlTotals are the trailer's reconciliation fields. The checksum is a
// SHA-256 over the canonical serialization of every detail row, sorted, so
// it is stable under row reordering and changes when any field changes.
type ControlTotals struct {
	RecordCount int    `json:"record_count"`
	AmountCents int64  `json:"amount_cents"`
	Checksum    string `json:"checksum"`
}

// BuildOutboundFile renders a presentment file. Rows are sorted by
// external reference before rendering, so identical input sets always
// produce identical bytes and totals.
func BuildOutboundFile(header FileHeader, rows []OutboundRow) ([]byte, ControlTotals, error) {
	if err := validateHeader(header); err != nil {
		return nil, ControlTotals{}, err
	}

	ordered := make([]OutboundRow, len(rows))
	copy(ordered, rows)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ExternalReference < ordered[j].ExternalReference
	})

	canonical := make([]string, 0, len(ordered))
	var totalCents int64

	var b strings.Builder
	b.WriteString(strings.Join([]string{
		recordHeader,
		header.Version,
		header.BusinessDate.Format(wireDateLayout),
		header.Channel,
		header.Company,
	}, fieldSeparator))
	b.WriteString("\n")

	for _, row := range ordered {
		if err := validateOutboundRow(row); err != nil {
			return nil, ControlTotals{}, err
		}
		b.WriteString(strings.Join([]string{
			recordDetail,
			row.ExternalReference,
			FormatAmount(row.AmountCents),
			row.HolderTaxID,
			row.HolderName,
			row.AccountLast4,
			row.DueDate.Format(wireDateLayout),
		}, fieldSeparator))
		b.WriteString("\n")
		canonical = append(canonical, canonicalOutboundRow(row))
		totalCents += row.AmountCents
	}

	totals := ControlTotals{
		RecordCount: len(ordered),
		AmountCents: totalCents,
		Checksum:    checksumRows(canonical),
	}

	b.WriteString(strings.Join([]string{
		recordTrailer,
		strconv.Itoa(totals.RecordCount),
		FormatAmount(totals.AmountCents),
		totals.Checksum,
	}, fieldSeparator))
	b.WriteString("\n")

	return []byte(b.String()), totals, nil
}

func validateHeader(h FileHeader) error {
	if h.Version == "" || h.Channel == "" || h.Company == "" || h.BusinessDate.IsZero() {
		return ErrInvalidHeader
	}
	for _, field := range []string{h.Version, h.Channel, h.Company} {
		if strings.ContainsAny(field, "|\n\r") {
			return ErrInvalidHeader
		}
	}
	return nil
}

func validateOutboundRow(row OutboundRow) error {
	if row.ExternalReference == "" || row.DueDate.IsZero() {
		return fmt.Errorf("%w: reference %q", ErrInvalidRow, row.ExternalReference)
	}
	if row.AmountCents < 0 {
		return fmt.Errorf("%w: reference %q: negative amount", ErrInvalidRow, row.ExternalReference)
	}
	for _, field := range []string{row.ExternalReference, row.HolderTaxID, row.HolderName, row.AccountLast4} {
		if strings.ContainsAny(field, "|\n\r") {
			return fmt.Errorf("%w: reference %q: field contains separator", ErrInvalidRow, row.ExternalReference)
		}
	}
	return nil
}

// canonicalOutboundRow serializes a row as key-sorted key=value pairs. The
// wire rendering of each field is used so that a consumer parsing the file
// can recompute the identical checksum from what it read.
func canonicalOutboundRow(row OutboundRow) string {
	return canonicalize(map[string]string{
		"account_last4":      row.AccountLast4,
		"amount":             FormatAmount(row.AmountCents),
		"due_date":           row.DueDate.Format(wireDateLayout),
		"external_reference": row.ExternalReference,
		"holder_name":        row.HolderName,
		"holder_tax_id":      row.HolderTaxID,
	})
}

func canonicalInboundRow(ref, amount, code, message, settled string) string {
	return canonicalize(map[string]string{
		"amount":             amount,
		"external_reference": ref,
		"result_code":        code,
		"result_message":     message,
		"settled_date":       settled,
	})
}

func canonicalize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, "&")
}

// checksumRows hashes the sorted canonical rows, newline-joined. Sorting
// here (not just at render time) keeps the checksum independent of the
// order rows arrived in.
func checksumRows(canonical []string) string {
	ordered := make([]string, len(canonical))
	copy(ordered, canonical)
	sort.Strings(ordered)
	sum := sha256.Sum256([]byte(strings.Join(ordered, "\n")))
	return hex.EncodeToString(sum[:])
}

func rowHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// OutboundRowHash identifies one outbound row for the batch ledger,
// computed over the same canonical serialization the checksum uses.
func OutboundRowHash(row OutboundRow) string {
	return rowHash(canonicalOutboundRow(row))
}

// FormatAmount renders integer cents as the wire's two-decimal form.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseAmountCents converts a wire amount to integer cents. More than two
// decimals are rounded half-up; the bank has been seen emitting three.
func ParseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", s)
	}
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad amount %q", s)
		}
	}
	cents := whole * 100
	switch {
	case len(fracPart) == 0:
	case len(fracPart) == 1:
		d, _ := strconv.ParseInt(fracPart, 10, 64)
		cents += d * 10
	default:
		d, err := strconv.ParseInt(fracPart[:2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad amount %q", s)
		}
		cents += d
		if len(fracPart) > 2 && fracPart[2] >= '5' {
			cents++
		}
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}
