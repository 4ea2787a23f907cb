package spf

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// recordParsers is the closed table of supported record versions, highest
// version first. Record selection walks a request's version preference
// list and dispatches through this table; there is no open registration.
var recordParsers = []struct {
	version Version
	parse   func(string) (*policyRecord, error)
}{
	{V2, parseRecordV2},
	{V1, parseRecordV1},
}

// parserFor returns the parser for a record version.
func parserFor(v Version) (func(string) (*policyRecord, error), bool) {
	for _, e := range recordParsers {
		if e.version == v {
			return e.parse, true
		}
	}
	return nil, false
}

// parseRecordV1 parses a "v=spf1" record. Text not carrying the v1 version
// tag is rejected with errWrongVersion so record selection can try the
// next candidate version.
func parseRecordV1(s string) (r *policyRecord, err error) {
	p := &parser{s: s, lower: toLower(s)}

	defer func() {
		x := recover()
		if x == nil {
			return
		}
		if perr, ok := x.(parseError); ok {
			r, err = nil, fmt.Errorf("%w: %s", ErrRecordSyntax, perr)
			return
		}
		panic(x)
	}()

	if !p.take("v=spf1") {
		return nil, errWrongVersion
	}
	if !p.empty() && p.peekchar() != ' ' {
		// E.g. "v=spf10": a different (unknown) version, not a defect.
		return nil, errWrongVersion
	}

	r = &policyRecord{
		version: V1,
		scopes:  []Scope{ScopeHelo, ScopeMFrom},
	}
	p.parseTerms(r)
	return r, nil
}

// parseRecordV2 parses an "spf2.0/..." Sender ID record. The version tag
// declares the scopes the record covers, e.g. "spf2.0/mfrom,pra".
func parseRecordV2(s string) (r *policyRecord, err error) {
	p := &parser{s: s, lower: toLower(s)}

	defer func() {
		x := recover()
		if x == nil {
			return
		}
		if perr, ok := x.(parseError); ok {
			r, err = nil, fmt.Errorf("%w: %s", ErrRecordSyntax, perr)
			return
		}
		panic(x)
	}()

	if !p.take("spf2.0") {
		return nil, errWrongVersion
	}

	// The tag is unmistakably v2 from here on; a bad scope list is a
	// record defect, not another version.
	p.xtake("/")
	var scopes []Scope
	for {
		switch p.xtakelist("mfrom", "pra") {
		case "mfrom":
			scopes = appendScope(p, scopes, ScopeMFrom)
		case "pra":
			scopes = appendScope(p, scopes, ScopePRA)
		}
		if !p.take(",") {
			break
		}
	}
	if !p.empty() && p.peekchar() != ' ' {
		p.xerrorf("malformed scope list")
	}

	r = &policyRecord{
		version: V2,
		scopes:  scopes,
	}
	p.parseTerms(r)
	return r, nil
}

func appendScope(p *parser, scopes []Scope, scope Scope) []Scope {
	for _, s := range scopes {
		if s == scope {
			p.xerrorf("duplicate scope %s", scope.tag())
		}
	}
	return append(scopes, scope)
}

// parser is the internal state for parsing SPF records.
type parser struct {
	s     string // Original string
	lower string // Lower-cased string for case-insensitive matching
	o     int    // Current offset
}

// parseError is a recoverable parsing error.
type parseError string

func (e parseError) Error() string {
	return string(e)
}

// parseTerms parses the terms following a record's version tag into r.
func (p *parser) parseTerms(r *policyRecord) {
	for !p.empty() {
		// Require space between terms
		if !p.take(" ") {
			p.xerrorf("expected space")
		}

		// Skip multiple spaces
		for p.take(" ") {
		}

		if p.empty() {
			break
		}

		// Try to parse qualifier
		qualifier := p.takelist("+", "-", "?", "~")

		// Try to parse mechanism
		mechanism := p.takelist("all", "include:", "a", "mx", "ptr", "ip4:", "ip6:", "exists:")

		if qualifier != "" && mechanism == "" {
			p.xerrorf("expected mechanism after qualifier")
		}

		if mechanism == "" {
			// Try to parse modifier
			modifier := p.takelist("redirect=", "exp=")
			if modifier == "" {
				// Unknown modifier: name=value
				name := p.xtakefn1(func(c rune, i int) bool {
					alpha := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
					return alpha || i > 0 && (c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.')
				})
				if !p.take("=") {
					p.xerrorf("expected '=' after modifier name")
				}
				v := p.xmacroString(true)
				r.Other = append(r.Other, Modifier{name, v})
				continue
			}

			v := p.xdomainSpec(true)
			modifier = strings.TrimSuffix(modifier, "=")

			if modifier == "redirect" {
				if r.Redirect != "" {
					p.xerrorf("duplicate redirect modifier")
				}
				r.Redirect = v
			}
			if modifier == "exp" {
				if r.Explanation != "" {
					p.xerrorf("duplicate exp modifier")
				}
				r.Explanation = v
			}
			continue
		}

		// Parse directive
		d := Directive{
			Qualifier: qualifier,
			Mechanism: strings.TrimSuffix(mechanism, ":"),
		}

		switch d.Mechanism {
		case "all":
			// No additional parameters

		case "include":
			d.DomainSpec = p.xdomainSpec(false)

		case "a", "mx":
			if p.take(":") {
				d.DomainSpec = p.xdomainSpec(false)
			}
			if p.take("/") {
				if !p.take("/") {
					// IPv4 CIDR length
					num, _ := p.xnumber()
					if num > 32 {
						p.xerrorf("invalid IPv4 CIDR length %d", num)
					}
					d.IP4CIDRLen = &num
					if !p.take("//") {
						r.Directives = append(r.Directives, d)
						continue
					}
				}
				// IPv6 CIDR length
				num, _ := p.xnumber()
				if num > 128 {
					p.xerrorf("invalid IPv6 CIDR length %d", num)
				}
				d.IP6CIDRLen = &num
			}

		case "ptr":
			if p.take(":") {
				d.DomainSpec = p.xdomainSpec(false)
			}

		case "exists":
			d.DomainSpec = p.xdomainSpec(false)

		case "ip4":
			d.IP, d.IPStr = p.xip4address()
			if p.take("/") {
				num, _ := p.xnumber()
				if num > 32 {
					p.xerrorf("invalid IPv4 CIDR length %d", num)
				}
				d.IP4CIDRLen = &num
				d.IPStr += fmt.Sprintf("/%d", num)
			} else {
				num := 32
				d.IP4CIDRLen = &num
				d.IPStr += "/32"
			}

		case "ip6":
			d.IP, d.IPStr = p.xip6address()
			if p.take("/") {
				num, _ := p.xnumber()
				if num > 128 {
					p.xerrorf("invalid IPv6 CIDR length %d", num)
				}
				d.IP6CIDRLen = &num
				d.IPStr += fmt.Sprintf("/%d", num)
			} else {
				num := 128
				d.IP6CIDRLen = &num
				d.IPStr += "/128"
			}

		default:
			p.xerrorf("unknown mechanism %q", d.Mechanism)
		}

		r.Directives = append(r.Directives, d)
	}
}

func (p *parser) xerrorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !p.empty() {
		msg += fmt.Sprintf(" (remaining: %q)", p.s[p.o:])
	}
	panic(parseError(msg))
}

func (p *parser) empty() bool {
	return p.o >= len(p.s)
}

func (p *parser) peekchar() byte {
	return p.s[p.o]
}

func (p *parser) take(s string) bool {
	if strings.HasPrefix(p.lower[p.o:], s) {
		p.o += len(s)
		return true
	}
	return false
}

func (p *parser) xtake(s string) string {
	if !p.take(s) {
		p.xerrorf("expected %q", s)
	}
	return s
}

func (p *parser) takelist(l ...string) string {
	for _, w := range l {
		if strings.HasPrefix(p.lower[p.o:], w) {
			p.o += len(w)
			return w
		}
	}
	return ""
}

func (p *parser) xtakelist(l ...string) string {
	w := p.takelist(l...)
	if w == "" {
		p.xerrorf("no match for %v", l)
	}
	return w
}

// xtakefn1 takes one or more characters matching fn.
func (p *parser) xtakefn1(fn func(rune, int) bool) string {
	r := ""
	for i, c := range p.s[p.o:] {
		if !fn(c, i) {
			break
		}
		r += string(c)
	}
	if r == "" {
		p.xerrorf("need at least 1 character")
	}
	p.o += len(r)
	return r
}

// digits parses zero or more digits.
func (p *parser) digits() string {
	r := ""
	for !p.empty() {
		b := p.peekchar()
		if b >= '0' && b <= '9' {
			r += string(b)
			p.o++
		} else {
			break
		}
	}
	return r
}

func (p *parser) xnumber() (int, string) {
	s := p.digits()
	if s == "" {
		p.xerrorf("expected number")
	}
	if s == "0" {
		return 0, s
	}
	if strings.HasPrefix(s, "0") {
		p.xerrorf("invalid leading zero in number")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.xerrorf("parsing number %q: %s", s, err)
	}
	return v, s
}

// xdomainSpec parses a domain-spec.
// includingSlash should be false when parsing "a" or "mx" to avoid
// consuming the /.
func (p *parser) xdomainSpec(includingSlash bool) string {
	s := p.xmacroString(includingSlash)

	// Validate domain-end: must end with macro-expand or valid toplabel
	for _, suf := range []string{"%%", "%_", "%-", "}"} {
		if strings.HasSuffix(s, suf) {
			return s
		}
	}

	// Check toplabel validity
	tl := strings.Split(strings.TrimSuffix(s, "."), ".")
	if len(tl) == 0 {
		return s
	}
	t := tl[len(tl)-1]
	if t == "" {
		p.xerrorf("invalid empty toplabel")
	}

	nums := 0
	for i, c := range t {
		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			// OK
		case c >= '0' && c <= '9':
			nums++
		case c == '-':
			if i == 0 {
				p.xerrorf("toplabel cannot start with dash")
			}
			if i == len(t)-1 {
				p.xerrorf("toplabel cannot end with dash")
			}
		default:
			p.xerrorf("invalid character in toplabel")
		}
	}
	if nums == len(t) {
		p.xerrorf("toplabel cannot be all digits")
	}

	return s
}

// xmacroString parses a macro-string.
func (p *parser) xmacroString(includingSlash bool) string {
	r := ""
	for !p.empty() {
		w := p.takelist("%{", "%%", "%_", "%-")
		if w == "" {
			// macro-literal
			if !p.empty() {
				b := p.peekchar()
				if b > ' ' && b < 0x7f && b != '%' && (includingSlash || b != '/') {
					r += string(b)
					p.o++
					continue
				}
			}
			break
		}
		r += w
		if w != "%{" {
			continue
		}

		// Parse macro letter
		r += p.xtakelist("s", "l", "o", "d", "i", "p", "h", "c", "r", "t", "v")

		// Optional digits (transformer)
		digits := p.digits()
		if digits != "" {
			v, err := strconv.Atoi(digits)
			if err != nil {
				p.xerrorf("invalid digits: %v", err)
			}
			if v == 0 {
				p.xerrorf("zero labels not allowed")
			}
		}
		r += digits

		// Optional reverse
		if p.take("r") {
			r += "r"
		}

		// Optional delimiters
		for {
			delimiter := p.takelist(".", "-", "+", ",", "/", "_", "=")
			if delimiter == "" {
				break
			}
			r += delimiter
		}

		// Closing brace
		r += p.xtake("}")
	}
	return r
}

func (p *parser) xip4address() (net.IP, string) {
	ip4num := func() (byte, string) {
		v, vs := p.xnumber()
		if v > 255 {
			p.xerrorf("invalid IPv4 octet %d", v)
		}
		return byte(v), vs
	}

	a, as := ip4num()
	p.xtake(".")
	b, bs := ip4num()
	p.xtake(".")
	c, cs := ip4num()
	p.xtake(".")
	d, ds := ip4num()

	return net.IPv4(a, b, c, d), as + "." + bs + "." + cs + "." + ds
}

func (p *parser) xip6address() (net.IP, string) {
	// Take all valid IPv6 characters and parse with net.ParseIP
	s := p.xtakefn1(func(c rune, i int) bool {
		return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' || c == ':' || c == '.'
	})
	ip := net.ParseIP(s)
	if ip == nil {
		p.xerrorf("invalid IPv6 address %q", s)
	}
	return ip, s
}
