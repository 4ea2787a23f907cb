package spf

import (
	"strings"

	"golang.org/x/net/idna"
)

// DNS wire-format length limits.
const (
	maxLabelLen  = 63
	maxDomainLen = 253
)

// CanonicalDomain normalizes a domain name to the form legal for a DNS
// query. Internationalized names are converted to their ASCII form first.
// Labels longer than 63 bytes are truncated; if the whole name still
// exceeds 253 bytes, leading labels are dropped until it fits. The result
// is lower-case with no trailing dot. The function is idempotent.
func CanonicalDomain(name string) string {
	name = strings.TrimSuffix(name, ".")

	if !isASCII(name) {
		if a, err := idna.Lookup.ToASCII(name); err == nil {
			name = a
		}
	}

	name = toLower(name)

	labels := strings.Split(name, ".")
	for i, label := range labels {
		if len(label) > maxLabelLen {
			labels[i] = label[:maxLabelLen]
		}
	}

	name = strings.Join(labels, ".")
	for len(name) > maxDomainLen && len(labels) > 1 {
		labels = labels[1:]
		name = strings.Join(labels, ".")
	}
	if len(name) > maxDomainLen {
		name = name[len(name)-maxDomainLen:]
	}

	return name
}

// validDomain checks that a domain name can be queried at all.
// CanonicalDomain handles over-long names, so only structural defects
// are rejected here.
func validDomain(s string) error {
	if s == "" {
		return ErrInvalidDomain
	}
	for _, label := range strings.Split(strings.TrimSuffix(s, "."), ".") {
		if label == "" {
			return ErrInvalidDomain
		}
	}
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// toLower lower-cases ASCII A-Z without affecting other bytes.
func toLower(s string) string {
	r := []byte(s)
	for i, c := range r {
		if c >= 'A' && c <= 'Z' {
			r[i] = c + 0x20
		}
	}
	return string(r)
}
