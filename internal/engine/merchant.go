package engine

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	storeNumberPattern = regexp.MustCompile(`\s*[#*]\s*\d+.*$`)
	trailingDigits     = regexp.MustCompile(`\s+\d{3,}.*$`)
	trailingState      = regexp.MustCompile(`\s+[A-Z]{2}$`)
	processorPrefix    = regexp.MustCompile(`^(?:SQ|TST|SP|PP|PAYPAL|APLPAY|GOOGLE)\s*\*\s*`)
	leadingDate        = regexp.MustCompile(`^\d{2}/\d{2}\s+`)
)

var purchasePrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// MerchantName derives a display name for a transaction no rule named. It
// strips card-network prefixes, payment processor markers, store numbers and
// a trailing state code, then title-cases the rest.
func MerchantName(description string) string {
	name := strings.ToUpper(strings.Join(strings.Fields(description), " "))

	for _, prefix := range purchasePrefixes {
		if strings.HasPrefix(name, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	name = leadingDate.ReplaceAllString(name, "")
	name = processorPrefix.ReplaceAllString(name, "")
	name = storeNumberPattern.ReplaceAllString(name, "")
	name = trailingDigits.ReplaceAllString(name, "")
	if len(strings.Fields(name)) > 1 {
		name = trailingState.ReplaceAllString(name, "")
	}
	name = strings.TrimSpace(name)

	if name == "" {
		return strings.TrimSpace(description)
	}
	return cases.Title(language.English).String(strings.ToLower(name))
}
