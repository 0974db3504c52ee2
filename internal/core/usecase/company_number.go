package usecase

import (
	"regexp"
	"strings"
)

// UK company number shapes, most specific first.
var companyNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{8}\b`),
	regexp.MustCompile(`\b[A-Z]{2}\d{6}\b`),
	regexp.MustCompile(`\b[A-Z]{2}\d{5}\b`),
	regexp.MustCompile(`\b[A-Z]{2}\d{4}\b`),
}

var alphanumeric = regexp.MustCompile(`^[A-Z0-9]+$`)

// ParseCompanyNumber pulls a registration number out of a free-text reply.
// When nothing looks like a number the cleaned reply is returned as is.
func ParseCompanyNumber(reply string) string {
	cleaned := strings.ToUpper(strings.Trim(strings.TrimSpace(reply), "\"'`"))
	if cleaned == "" {
		return ""
	}

	for _, pattern := range companyNumberPatterns {
		if match := pattern.FindString(cleaned); match != "" {
			return match
		}
	}

	tokens := strings.FieldsFunc(cleaned, func(r rune) bool {
		switch r {
		case ' ', '\n', '\t', '\r', ',', '.', ';', ':':
			return true
		default:
			return false
		}
	})
	for _, token := range tokens {
		if len(token) >= 6 && len(token) <= 8 && alphanumeric.MatchString(token) {
			return token
		}
	}

	return cleaned
}
