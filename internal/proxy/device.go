package proxy

import (
	"regexp"
	"strings"
)

// DeviceMatcher classifies a User-Agent against an ordered list of glob
// patterns ("*" matches any run of characters). Evaluation is
// order-sensitive: the first pattern that matches the whole string decides.
type DeviceMatcher struct {
	patterns []*regexp.Regexp
}

func NewDeviceMatcher(globs []string) *DeviceMatcher {
	m := &DeviceMatcher{}
	for _, glob := range globs {
		parts := strings.Split(glob, "*")
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
		if err != nil {
			continue
		}
		m.patterns = append(m.patterns, re)
	}
	return m
}

func (m *DeviceMatcher) Matches(userAgent string) bool {
	for _, re := range m.patterns {
		if re.MatchString(userAgent) {
			return true
		}
	}
	return false
}
