package domain

import "strings"

// CBU layout: 22 digits in two blocks. Block 1 is bank (3) + branch (4)
// plus its check digit; block 2 is the 13-digit account plus its check
// digit. Check digits are the mod-10 complement of the weighted digit sum.
const (
	cbuLength     = 22
	cbuBlock1Len  = 7
	cbuBlock2Len  = 13
	cbuBankCodeLn = 3
)

var (
	cbuBlock1Weights = []int{7, 1, 3, 9, 7, 1, 3}
	cbuBlock2Weights = []int{3, 9, 7, 1, 3, 9, 7, 1, 3, 9, 7, 1, 3}
)

// NormalizeCBU strips everything but digits. Banks print CBUs with spaces
// and dashes; storage and fingerprints use the bare digit string.
func NormalizeCBU(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateCBU normalizes raw and verifies length and both check digits.
// It returns the normalized 22-digit string on success.
func ValidateCBU(raw string) (string, error) {
	digits := NormalizeCBU(raw)
	if len(digits) != cbuLength {
		return "", ErrInvalidAccountNumber
	}

	block1, check1 := digits[:cbuBlock1Len], digits[cbuBlock1Len]
	block2, check2 := digits[cbuBlock1Len+1:cbuLength-1], digits[cbuLength-1]

	if CheckDigit(block1, cbuBlock1Weights) != int(check1-'0') {
		return "", ErrInvalidAccountNumber
	}
	if CheckDigit(block2, cbuBlock2Weights) != int(check2-'0') {
		return "", ErrInvalidAccountNumber
	}
	return digits, nil
}

// CheckDigit computes the weighted mod-10 complement check digit for a
// digit block. The caller guarantees len(block) == len(weights).
func CheckDigit(block string, weights []int) int {
	sum := 0
	for i := 0; i < len(block) && i < len(weights); i++ {
		sum += int(block[i]-'0') * weights[i]
	}
	return (10 - sum%10) % 10
}

// ComposeCBU assembles a full CBU from its raw blocks, computing both
// check digits. Used by fixtures; production code only validates.
func ComposeCBU(block1, block2 string) string {
	var b strings.Builder
	b.Grow(cbuLength)
	b.WriteString(block1)
	b.WriteByte(byte('0' + CheckDigit(block1, cbuBlock1Weights)))
	b.WriteString(block2)
	b.WriteByte(byte('0' + CheckDigit(block2, cbuBlock2Weights)))
	return b.String()
}

// BankCode returns the leading bank entity code of a normalized CBU.
func BankCode(normalized string) string {
	if len(normalized) < cbuBankCodeLn {
		return ""
	}
	return normalized[:cbuBankCodeLn]
}

// LastFour returns the trailing digits shown in masked views.
func LastFour(normalized string) string {
	if len(normalized) < 4 {
		return normalized
	}
	return normalized[len(normalized)-4:]
}

// MaskAccountNumber renders the only representation of an account number
// that may leave the service: asterisks plus the last four digits.
func MaskAccountNumber(normalized string) string {
	return "****" + LastFour(normalized)
}
