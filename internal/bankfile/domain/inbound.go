package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bank result codes. The set is closed by contract; anything else the bank
// invents maps to UNKNOWN and is skipped, never applied.
const (
	CodePaid                = "00"
	CodeInsufficientFunds   = "R01"
	CodeInvalidAccount      = "R02"
	CodeAccountClosed       = "R03"
	CodeMandateInvalid      = "R04"
	CodeDuplicateSubmission = "E01"
	CodeMalformedRecord     = "E02"
)

type ResultStatus string

const (
	ResultPaid     ResultStatus = "PAID"
	ResultRejected ResultStatus = "REJECTED"
	ResultError    ResultStatus = "ERROR"
	ResultUnknown  ResultStatus = "UNKNOWN"
)

// ResultMapping is the internal reading of a bank result code.
type ResultMapping struct {
	Status ResultStatus
	Reason string
}

var resultCodes = map[string]ResultMapping{
	CodePaid:                {Status: ResultPaid},
	CodeInsufficientFunds:   {Status: ResultRejected, Reason: "insufficient_funds"},
	CodeInvalidAccount:      {Status: ResultRejected, Reason: "invalid_account"},
	CodeAccountClosed:       {Status: ResultRejected, Reason: "account_closed"},
	CodeMandateInvalid:      {Status: ResultRejected, Reason: "mandate_invalid"},
	CodeDuplicateSubmission: {Status: ResultError, Reason: "duplicate_submission"},
	CodeMalformedRecord:     {Status: ResultError, Reason: "malformed_record"},
}

// MapResultCode translates a bank result code into the internal status
// vocabulary. The bank's free-text message never influences the mapping;
// unknown codes come back UNKNOWN with an empty reason.
func MapResultCode(code, message string) ResultMapping {
	if mapping, ok := resultCodes[strings.TrimSpace(code)]; ok {
		return mapping
	}
	return ResultMapping{Status: ResultUnknown}
}

// InboundRow is one settlement result line, already normalized: amount in
// cents, the mapped internal status, and a deterministic hash of the row's
// wire fields for dedupe across re-imports.
type InboundRow struct {
	LineNo            int
	ExternalReference string
	AmountCents       int64
	ResultCode        string
	ResultMessage     string
	SettledDate       time.Time
	RowHash           string
	Mapping           ResultMapping
}

// ParsedFile is the structural reading of an inbound settlement file.
// Declared totals come from the trailer; Computed totals from the rows
// that parsed. Row-level problems land in Warnings, never in an error.
type ParsedFile struct {
	Header   FileHeader
	Rows     []InboundRow
	Declared ControlTotals
	Computed ControlTotals
	Warnings []string
}

// ParseInboundFile reads a settlement file. Only a missing or unreadable
// header/trailer is fatal; every malformed detail line is recorded as a
// warning with its line number and skipped.
func ParseInboundFile(data []byte) (*ParsedFile, error) {
	lines := splitLines(data)
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: need header and trailer", ErrMalformedFile)
	}

	header, err := parseHeaderLine(lines[0].text)
	if err != nil {
		return nil, err
	}
	declared, err := parseTrailerLine(lines[len(lines)-1].text)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedFile{Header: header, Declared: declared}
	canonical := make([]string, 0, len(lines)-2)

	for _, line := range lines[1 : len(lines)-1] {
		row, warn := parseDetailLine(line.no, line.text)
		if warn != "" {
			parsed.Warnings = append(parsed.Warnings, warn)
			continue
		}
		parsed.Rows = append(parsed.Rows, row)
		parsed.Computed.RecordCount++
		parsed.Computed.AmountCents += row.AmountCents
		canonical = append(canonical, canonicalInboundRow(
			row.ExternalReference,
			FormatAmount(row.AmountCents),
			row.ResultCode,
			row.ResultMessage,
			row.SettledDate.Format(wireDateLayout),
		))
	}
	parsed.Computed.Checksum = checksumRows(canonical)

	return parsed, nil
}

type numberedLine struct {
	no   int
	text string
}

func splitLines(data []byte) []numberedLine {
	var lines []numberedLine
	for i, raw := range strings.Split(string(data), "\n") {
		text := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines = append(lines, numberedLine{no: i + 1, text: text})
	}
	return lines
}

func parseHeaderLine(line string) (FileHeader, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) != 5 || fields[0] != recordHeader {
		return FileHeader{}, fmt.Errorf("%w: bad header record", ErrMalformedFile)
	}
	businessDate, err := time.Parse(wireDateLayout, fields[2])
	if err != nil {
		return FileHeader{}, fmt.Errorf("%w: bad header date %q", ErrMalformedFile, fields[2])
	}
	return FileHeader{
		Version:      fields[1],
		BusinessDate: businessDate,
		Channel:      fields[3],
		Company:      fields[4],
	}, nil
}

func parseTrailerLine(line string) (ControlTotals, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) != 4 || fields[0] != recordTrailer {
		return ControlTotals{}, fmt.Errorf("%w: bad trailer record", ErrMalformedFile)
	}
	count, err := strconv.Atoi(fields[1])
	if err != nil || count < 0 {
		return ControlTotals{}, fmt.Errorf("%w: bad trailer count %q", ErrMalformedFile, fields[1])
	}
	amount, err := ParseAmountCents(fields[2])
	if err != nil {
		return ControlTotals{}, fmt.Errorf("%w: bad trailer amount %q", ErrMalformedFile, fields[2])
	}
	return ControlTotals{RecordCount: count, AmountCents: amount, Checksum: fields[3]}, nil
}

func parseDetailLine(no int, line string) (InboundRow, string) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) != 6 || fields[0] != recordDetail {
		return InboundRow{}, fmt.Sprintf("line %d: not a detail record", no)
	}
	ref := strings.TrimSpace(fields[1])
	if ref == "" {
		return InboundRow{}, fmt.Sprintf("line %d: empty external reference", no)
	}
	amount, err := ParseAmountCents(fields[2])
	if err != nil {
		return InboundRow{}, fmt.Sprintf("line %d: %v", no, err)
	}
	code := strings.TrimSpace(fields[3])
	message := strings.TrimSpace(fields[4])
	settled, err := time.Parse(wireDateLayout, fields[5])
	if err != nil {
		return InboundRow{}, fmt.Sprintf("line %d: bad settled date %q", no, fields[5])
	}

	canonical := canonicalInboundRow(ref, FormatAmount(amount), code, message, fields[5])
	return InboundRow{
		LineNo:            no,
		ExternalReference: ref,
		AmountCents:       amount,
		ResultCode:        code,
		ResultMessage:     message,
		SettledDate:       settled,
		RowHash:           rowHash(canonical),
		Mapping:           MapResultCode(code, message),
	}, ""
}

// InboundFileRow is the bank's side of a settlement line. Production
// inbound files arrive from the bank; this is for sandbox flows and tests
// that have to play the bank.
type InboundFileRow struct {
	ExternalReference string
	AmountCents       int64
	ResultCode        string
	ResultMessage     string
	SettledDate       time.Time
}

// BuildInboundFile renders a settlement file with correct control totals.
func BuildInboundFile(header FileHeader, rows []InboundFileRow) ([]byte, ControlTotals, error) {
	if err := validateHeader(header); err != nil {
		return nil, ControlTotals{}, err
	}

	ordered := make([]InboundFileRow, len(rows))
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
		if row.ExternalReference == "" || row.SettledDate.IsZero() {
			return nil, ControlTotals{}, fmt.Errorf("%w: reference %q", ErrInvalidRow, row.ExternalReference)
		}
		for _, field := range []string{row.ExternalReference, row.ResultCode, row.ResultMessage} {
			if strings.ContainsAny(field, "|\n\r") {
				return nil, ControlTotals{}, fmt.Errorf("%w: reference %q: field contains separator", ErrInvalidRow, row.ExternalReference)
			}
		}
		amount := FormatAmount(row.AmountCents)
		settled := row.SettledDate.Format(wireDateLayout)
		b.WriteString(strings.Join([]string{
			recordDetail,
			row.ExternalReference,
			amount,
			row.ResultCode,
			row.ResultMessage,
			settled,
		}, fieldSeparator))
		b.WriteString("\n")
		canonical = append(canonical, canonicalInboundRow(
			row.ExternalReference, amount, row.ResultCode, row.ResultMessage, settled))
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

// ValidationResult collects every control-total discrepancy instead of
// stopping at the first one; the operator sees the full picture.
type ValidationResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

func compareControlTotals(computed, declared ControlTotals) ValidationResult {
	var errs []string
	if computed.RecordCount != declared.RecordCount {
		errs = append(errs, fmt.Sprintf("record_count: computed %d, declared %d",
			computed.RecordCount, declared.RecordCount))
	}
	if computed.AmountCents != declared.AmountCents {
		errs = append(errs, fmt.Sprintf("amount: computed %s, declared %s",
			FormatAmount(computed.AmountCents), FormatAmount(declared.AmountCents)))
	}
	if computed.Checksum != declared.Checksum {
		errs = append(errs, fmt.Sprintf("checksum: computed %s, declared %s",
			computed.Checksum, declared.Checksum))
	}
	return ValidationResult{OK: len(errs) == 0, Errors: errs}
}

// ValidateOutboundControlTotals compares the totals of a rebuilt file
// against the ones recorded when the batch was first built.
func ValidateOutboundControlTotals(computed, declared ControlTotals) ValidationResult {
	return compareControlTotals(computed, declared)
}

// ValidateInboundControlTotals checks a parsed settlement file's rows
// against its own trailer. Nothing may be applied when this fails.
func ValidateInboundControlTotals(f *ParsedFile) ValidationResult {
	return compareControlTotals(f.Computed, f.Declared)
}
