package spf

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Macro is an SPF macro-string template, e.g. an explanation text or a
// domain-spec. Expansion substitutes the identity of a request into the
// template per RFC 7208 section 7.
type Macro struct {
	s string
}

// NewMacro wraps a macro-string into a template.
func NewMacro(s string) *Macro {
	return &Macro{s: s}
}

// String returns the unexpanded macro-string.
func (m *Macro) String() string {
	if m == nil {
		return ""
	}
	return m.s
}

// Expand expands the template for a request. forDNS must be true when the
// result will be used as a DNS query name, which forbids the c, r and t
// macro letters.
func (m *Macro) Expand(ctx context.Context, srv *Server, req *Request, forDNS bool) (string, error) {
	return srv.expandMacro(ctx, m.String(), req, forDNS)
}

// Mocked for testing the "t" macro.
var timeNow = time.Now

// expandMacro expands macros in a macro-string.
func (s *Server) expandMacro(ctx context.Context, spec string, req *Request, forDNS bool) (string, error) {
	root := req.Root()
	if root.tracker == nil {
		root.tracker = newTracker(s.maxDNSInteractiveTerms, s.maxVoidLookups)
	}
	tracker := root.tracker

	var b strings.Builder
	i := 0
	n := len(spec)

	for i < n {
		c := spec[i]
		i++

		if c != '%' {
			b.WriteByte(c)
			continue
		}

		if i >= n {
			return "", fmt.Errorf("%w: trailing %%", ErrMacroSyntax)
		}
		c = spec[i]
		i++

		switch c {
		case '%':
			b.WriteByte('%')
			continue
		case '_':
			b.WriteByte(' ')
			continue
		case '-':
			b.WriteString("%20")
			continue
		case '{':
			// Parse macro
		default:
			return "", fmt.Errorf("%w: invalid macro %%%c", ErrMacroSyntax, c)
		}

		if i >= n {
			return "", fmt.Errorf("%w: incomplete macro", ErrMacroSyntax)
		}
		c = spec[i]
		i++

		upper := false
		if c >= 'A' && c <= 'Z' {
			upper = true
			c += 'a' - 'A'
		}

		var v string
		switch c {
		case 's':
			v = req.SenderLocal() + "@" + req.SenderDomain()
		case 'l':
			v = req.SenderLocal()
		case 'o':
			v = req.SenderDomain()
		case 'd':
			v = req.Domain
		case 'i':
			v = expandIP(req.IP)
		case 'p':
			// PTR validation macro, DNS-interactive
			if err := tracker.TrackInteractiveTerm(); err != nil {
				return "", err
			}
			result, err := s.resolver.LookupAddr(ctx, req.IP)
			tracker.Observe(result.Authentic)
			tracker.TrackVoid(err)
			if len(result.Records) == 0 || err != nil {
				v = "unknown"
				break
			}

			// Find a validated PTR name
			names := result.Records
			if len(names) > s.maxNameLookupsPerPTR {
				names = names[:s.maxNameLookupsPerPTR]
			}
			v = s.findValidatedPTR(ctx, names, req)
		case 'v':
			if req.IP.To4() != nil {
				v = "in-addr"
			} else {
				v = "ip6"
			}
		case 'h':
			v = req.HeloDomain
		case 'c':
			if forDNS {
				return "", fmt.Errorf("%w: macro %%c only allowed in exp", ErrMacroSyntax)
			}
			if req.LocalIP != nil {
				v = req.LocalIP.String()
			}
		case 'r':
			if forDNS {
				return "", fmt.Errorf("%w: macro %%r only allowed in exp", ErrMacroSyntax)
			}
			v = s.hostname
		case 't':
			if forDNS {
				return "", fmt.Errorf("%w: macro %%t only allowed in exp", ErrMacroSyntax)
			}
			v = strconv.FormatInt(timeNow().Unix(), 10)
		default:
			return "", fmt.Errorf("%w: unknown macro letter %c", ErrMacroSyntax, c)
		}

		// Parse optional transformer
		digits := ""
		for i < n && spec[i] >= '0' && spec[i] <= '9' {
			digits += string(spec[i])
			i++
		}
		nlabels := -1
		if digits != "" {
			nv, err := strconv.Atoi(digits)
			if err != nil {
				return "", fmt.Errorf("%w: invalid digits %q", ErrMacroSyntax, digits)
			}
			if nv == 0 {
				return "", fmt.Errorf("%w: zero labels not allowed", ErrMacroSyntax)
			}
			nlabels = nv
		}

		// Optional reverse
		reverse := false
		if i < n && (spec[i] == 'r' || spec[i] == 'R') {
			reverse = true
			i++
		}

		// Optional delimiters
		delim := ""
		for i < n {
			switch spec[i] {
			case '.', '-', '+', ',', '/', '_', '=':
				delim += string(spec[i])
				i++
				continue
			}
			break
		}

		// Closing brace
		if i >= n || spec[i] != '}' {
			return "", fmt.Errorf("%w: missing closing }", ErrMacroSyntax)
		}
		i++

		// Apply transformers
		if nlabels >= 0 || reverse || delim != "" {
			if delim == "" {
				delim = "."
			}
			t := splitByDelim(v, delim)
			if reverse {
				reverseSlice(t)
			}
			if nlabels > 0 && nlabels < len(t) {
				t = t[len(t)-nlabels:]
			}
			v = strings.Join(t, ".")
		}

		// URL encode if uppercase
		if upper {
			v = url.QueryEscape(v)
		}

		b.WriteString(v)
	}

	return b.String(), nil
}

// expandDomainSpec expands a domain-spec for use as a DNS query name.
// Wire-format length limits are applied later by CanonicalDomain.
func (s *Server) expandDomainSpec(ctx context.Context, spec string, req *Request) (string, error) {
	name, err := s.expandMacro(ctx, spec, req, true)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(name, "."), nil
}

// findValidatedPTR finds a PTR name that validates back to the remote IP.
func (s *Server) findValidatedPTR(ctx context.Context, names []string, req *Request) string {
	domain := strings.ToLower(req.Domain) + "."
	dotDomain := "." + domain

	// First try exact match
	for _, name := range names {
		nameLower := strings.ToLower(name)
		if nameLower == domain {
			if s.validatePTR(ctx, name, req) {
				return strings.TrimSuffix(name, ".")
			}
		}
	}

	// Then subdomain match
	for _, name := range names {
		nameLower := strings.ToLower(name)
		if strings.HasSuffix(nameLower, dotDomain) {
			if s.validatePTR(ctx, name, req) {
				return strings.TrimSuffix(name, ".")
			}
		}
	}

	// Finally any other name
	for _, name := range names {
		nameLower := strings.ToLower(name)
		if nameLower != domain && !strings.HasSuffix(nameLower, dotDomain) {
			if s.validatePTR(ctx, name, req) {
				return strings.TrimSuffix(name, ".")
			}
		}
	}

	return "unknown"
}

// validatePTR checks if a PTR name resolves back to the remote IP.
func (s *Server) validatePTR(ctx context.Context, name string, req *Request) bool {
	tracker := req.Root().tracker
	result, err := s.resolver.LookupIP(ctx, "ip", name)
	tracker.Observe(result.Authentic)
	tracker.TrackVoid(err)
	for _, ip := range result.Records {
		if ip.Equal(req.IP) {
			return true
		}
	}
	return false
}

// expandIP expands an IP address for the "i" macro.
func expandIP(ip net.IP) string {
	ip4 := ip.To4()
	if ip4 != nil {
		return ip4.String()
	}
	// IPv6: expand to dotted nibble format
	ip6 := ip.To16()
	var b strings.Builder
	for i, by := range ip6 {
		if i > 0 {
			b.WriteByte('.')
		}
		fmt.Fprintf(&b, "%x.%x", by>>4, by&0xf)
	}
	return b.String()
}

// splitByDelim splits a string by any character in delim.
func splitByDelim(s, delim string) []string {
	isDelim := func(c rune) bool {
		for _, d := range delim {
			if d == c {
				return true
			}
		}
		return false
	}

	var result []string
	start := 0
	for i, c := range s {
		if isDelim(c) {
			result = append(result, s[start:i])
			start = i + 1
		}
	}
	result = append(result, s[start:])
	return result
}

// reverseSlice reverses a slice in place.
func reverseSlice(s []string) {
	n := len(s)
	for i := 0; i < n/2; i++ {
		s[i], s[n-1-i] = s[n-1-i], s[i]
	}
}
