package accounts

import "regexp"

func regexpQuote(q string) string {
	return "^" + regexp.QuoteMeta(q) + "$"
}
