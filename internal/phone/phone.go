// Package phone canonicalizes Brazilian phone numbers to E.164 (+55...).
//
// Mobile lines gained a leading 9 in the subscriber part, so the same line
// may be stored as 10 national digits (area code + 8) or 11 (area code +
// 9 + 8). Conversion always produces the 11-digit form for mobile-looking
// numbers; lookups match both forms.
package phone

import (
	"errors"
	"strings"
)

const countryCode = "55"

// ErrInvalidFormat reports input that does not resolve to 10 or 11 national digits.
var ErrInvalidFormat = errors.New("invalid phone format")

// ToE164 converts free-form Brazilian input, with or without country code,
// into +55 followed by the national number.
func ToE164(input string) (string, error) {
	d := digits(input)

	switch {
	case (len(d) == 12 || len(d) == 13) && strings.HasPrefix(d, countryCode):
		d = d[2:]
	case (len(d) == 11 || len(d) == 12) && d[0] == '0':
		d = d[1:]
	}

	national, err := canonicalNational(d)
	if err != nil {
		return "", err
	}
	return "+" + countryCode + national, nil
}

// Normalize repairs an E.164 number whose mobile 9 was inserted twice and
// otherwise returns the canonical form. Normalize(Normalize(x)) == Normalize(x).
func Normalize(e164 string) (string, error) {
	d := digits(e164)
	if len(d) < 12 || !strings.HasPrefix(d, countryCode) {
		return "", ErrInvalidFormat
	}
	d = d[2:]

	if len(d) == 12 && d[2] == '9' && d[3] == '9' {
		d = d[:2] + d[3:]
	}

	national, err := canonicalNational(d)
	if err != nil {
		return "", err
	}
	return "+" + countryCode + national, nil
}

// MessagingID returns the bare digits of an E.164 number, the identifier
// format used by messaging platforms.
func MessagingID(e164 string) string {
	return digits(e164)
}

// Variants returns the canonical E.164 form of input followed, for mobile
// numbers, by the legacy 10-digit form without the inserted 9.
func Variants(input string) ([]string, error) {
	canonical, err := ToE164(input)
	if err != nil {
		return nil, err
	}
	out := []string{canonical}

	national := canonical[1+len(countryCode):]
	if len(national) == 11 && national[2] == '9' && mobileLead(national[3]) {
		out = append(out, "+"+countryCode+national[:2]+national[3:])
	}
	return out, nil
}

func canonicalNational(d string) (string, error) {
	if len(d) < 10 || d[0] == '0' {
		return "", ErrInvalidFormat
	}
	switch len(d) {
	case 11:
		return d, nil
	case 10:
		if mobileLead(d[2]) {
			return d[:2] + "9" + d[2:], nil
		}
		return d, nil
	default:
		return "", ErrInvalidFormat
	}
}

// mobileLead is the heuristic for a pre-2016 mobile subscriber number.
func mobileLead(c byte) bool {
	return c >= '4' && c <= '9'
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
