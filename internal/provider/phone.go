package provider

import "strings"

// callingCodes maps international calling codes to ISO 3166-1 alpha-2
// countries, longest-prefix wins.
var callingCodes = map[string]string{
	"1":   "US",
	"7":   "RU",
	"33":  "FR",
	"34":  "ES",
	"39":  "IT",
	"44":  "GB",
	"49":  "DE",
	"81":  "JP",
	"86":  "CN",
	"91":  "IN",
	"351": "PT",
	"352": "LU",
}

// NormalizePhone strips a phone number down to national digits and derives
// the country from the calling-code prefix when the number is international.
// explicitCountry is the fallback when no prefix resolves.
func NormalizePhone(raw, explicitCountry string) (phone, country string) {
	country = explicitCountry

	if strings.HasPrefix(raw, "+") {
		digits := stripNonDigits(raw[1:])
		for l := 3; l >= 1; l-- {
			if len(digits) <= l {
				continue
			}
			if iso, ok := callingCodes[digits[:l]]; ok {
				return digits[l:], iso
			}
		}
		return digits, country
	}

	return stripNonDigits(raw), country
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
