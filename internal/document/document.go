// Package document validates and formats Brazilian tax identifiers: CPF for
// individuals (11 digits) and CNPJ for companies (14 digits). Both carry two
// trailing check digits.
package document

import "strings"

const (
	cpfLen  = 11
	cnpjLen = 14
)

// Digits strips everything but ASCII digits from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ValidateCPF reports whether input, punctuated or not, is a valid CPF.
func ValidateCPF(input string) bool {
	d := Digits(input)
	if len(d) != cpfLen || repeated(d) {
		return false
	}
	return cpfDigit(d[:9], 10) == d[9] && cpfDigit(d[:10], 11) == d[10]
}

// cpfDigit weights prefix from startWeight down to 2.
func cpfDigit(prefix string, startWeight int) byte {
	sum := 0
	for i := 0; i < len(prefix); i++ {
		sum += int(prefix[i]-'0') * (startWeight - i)
	}
	r := (sum * 10) % 11
	if r >= 10 {
		r = 0
	}
	return byte('0' + r)
}

// ValidateCNPJ reports whether input, punctuated or not, is a valid CNPJ.
func ValidateCNPJ(input string) bool {
	d := Digits(input)
	if len(d) != cnpjLen || repeated(d) {
		return false
	}
	return cnpjDigit(d[:12]) == d[12] && cnpjDigit(d[:13]) == d[13]
}

// cnpjDigit applies weights cycling 2..9 counted from the rightmost digit.
func cnpjDigit(prefix string) byte {
	sum := 0
	weight := len(prefix) - 7
	for i := 0; i < len(prefix); i++ {
		sum += int(prefix[i]-'0') * weight
		weight--
		if weight < 2 {
			weight = 9
		}
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + 11 - r)
}

// Validate accepts either a valid CPF or a valid CNPJ.
func Validate(input string) bool {
	switch len(Digits(input)) {
	case cpfLen:
		return ValidateCPF(input)
	case cnpjLen:
		return ValidateCNPJ(input)
	default:
		return false
	}
}

func repeated(d string) bool {
	for i := 1; i < len(d); i++ {
		if d[i] != d[0] {
			return false
		}
	}
	return true
}

// FormatCPF applies the 000.000.000-00 mask to however many digits are present.
func FormatCPF(input string) string {
	return mask(Digits(input), cpfLen, map[int]byte{3: '.', 6: '.', 9: '-'})
}

// FormatCNPJ applies the 00.000.000/0000-00 mask to however many digits are present.
func FormatCNPJ(input string) string {
	return mask(Digits(input), cnpjLen, map[int]byte{2: '.', 5: '.', 8: '/', 12: '-'})
}

// FormatDocument masks as CPF up to 11 digits and as CNPJ beyond that.
func FormatDocument(input string) string {
	if len(Digits(input)) <= cpfLen {
		return FormatCPF(input)
	}
	return FormatCNPJ(input)
}

// mask inserts a separator before the digit at each position in seps.
func mask(d string, max int, seps map[int]byte) string {
	if len(d) > max {
		d = d[:max]
	}
	var b strings.Builder
	b.Grow(len(d) + len(seps))
	for i := 0; i < len(d); i++ {
		if sep, ok := seps[i]; ok {
			b.WriteByte(sep)
		}
		b.WriteByte(d[i])
	}
	return b.String()
}
