package spf

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
)

// Scope is the identity context a policy record is evaluated under.
type Scope uint8

const (
	// ScopeHelo checks the HELO/EHLO identity.
	ScopeHelo Scope = 1 + iota

	// ScopeMFrom checks the SMTP MAIL FROM identity.
	ScopeMFrom

	// ScopePRA checks the purported responsible address (Sender ID).
	ScopePRA
)

// String returns the scope name used in Received-SPF identity fields.
func (s Scope) String() string {
	switch s {
	case ScopeHelo:
		return "helo"
	case ScopeMFrom:
		return "mailfrom"
	case ScopePRA:
		return "pra"
	}
	return "unknown"
}

// tag returns the scope name used in spf2.0 record version tags.
func (s Scope) tag() string {
	if s == ScopeMFrom {
		return "mfrom"
	}
	return s.String()
}

// Version identifies an SPF record version.
type Version uint8

const (
	// V1 is a "v=spf1" record (RFC 7208).
	V1 Version = 1

	// V2 is an "spf2.0/..." record (RFC 4406 Sender ID).
	V2 Version = 2
)

// String returns a human-readable version tag.
func (v Version) String() string {
	switch v {
	case V1:
		return "v=spf1"
	case V2:
		return "spf2.0"
	}
	return "unknown"
}

// Record is a parsed, versioned SPF policy record. Records are produced
// only by the version-specific parsers during record selection.
type Record interface {
	// Version returns the record's concrete protocol version.
	Version() Version

	// Scopes returns the identity scopes the record applies to.
	Scopes() []Scope

	// HasScope reports whether the record applies to the given scope.
	HasScope(scope Scope) bool

	// Eval evaluates the record for the request and returns a terminal
	// result, or an error from the evaluation error taxonomy.
	Eval(ctx context.Context, srv *Server, req *Request) (*Result, error)

	// String returns the record as a DNS TXT record string.
	String() string
}

// policyRecord is the single concrete Record implementation. The version
// set is closed, so one representation with a version tag serves both.
//
// An example v=spf1 record for example.com:
//
//	v=spf1 +mx a:colo.example.com/28 -all
type policyRecord struct {
	version Version
	scopes  []Scope

	// Directives are evaluated in order until a match is found.
	Directives []Directive

	// Redirect specifies another domain to check if no directives match.
	// This is the "redirect=" modifier.
	Redirect string

	// Explanation specifies a domain to query for an explanation string
	// when the result is "fail". This is the "exp=" modifier.
	Explanation string

	// Other contains other modifiers that are not redirect or exp.
	Other []Modifier
}

var _ Record = (*policyRecord)(nil)

func (r *policyRecord) Version() Version { return r.version }

func (r *policyRecord) Scopes() []Scope {
	return slices.Clone(r.scopes)
}

func (r *policyRecord) HasScope(scope Scope) bool {
	return slices.Contains(r.scopes, scope)
}

func (r *policyRecord) Eval(ctx context.Context, srv *Server, req *Request) (*Result, error) {
	return srv.evalRecord(ctx, r, req)
}

// String returns the record as a DNS TXT record string.
func (r *policyRecord) String() string {
	var b strings.Builder
	if r.version == V2 {
		b.WriteString("spf2.0/")
		for i, s := range r.scopes {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s.tag())
		}
	} else {
		b.WriteString("v=spf1")
	}

	for _, d := range r.Directives {
		b.WriteByte(' ')
		b.WriteString(d.String())
	}

	if r.Redirect != "" {
		b.WriteString(" redirect=")
		b.WriteString(r.Redirect)
	}

	if r.Explanation != "" {
		b.WriteString(" exp=")
		b.WriteString(r.Explanation)
	}

	for _, m := range r.Other {
		b.WriteByte(' ')
		b.WriteString(m.Key)
		b.WriteByte('=')
		b.WriteString(m.Value)
	}

	return b.String()
}

// Directive consists of a mechanism that describes how to check if an IP
// matches, an optional qualifier indicating the policy for a match, and
// optional parameters specific to the mechanism.
type Directive struct {
	// Qualifier sets the result if this directive matches.
	// "" and "+" mean "pass", "-" means "fail", "?" means "neutral",
	// "~" means "softfail".
	Qualifier string

	// Mechanism is one of: "all", "include", "a", "mx", "ptr", "ip4",
	// "ip6", "exists".
	Mechanism string

	// DomainSpec is used for include, a, mx, ptr, exists mechanisms. It
	// may contain macros and is normalized only after expansion.
	DomainSpec string

	// IP is the parsed IP address for ip4 and ip6 mechanisms.
	IP net.IP

	// IPStr is the original string representation of the IP with CIDR.
	IPStr string

	// IP4CIDRLen is the CIDR prefix length for IPv4 (0-32).
	// nil means the default (32 for ip4, or depends on mechanism).
	IP4CIDRLen *int

	// IP6CIDRLen is the CIDR prefix length for IPv6 (0-128).
	// nil means the default (128 for ip6, or depends on mechanism).
	IP6CIDRLen *int
}

// String returns the directive in string form.
func (d Directive) String() string {
	var b strings.Builder
	b.WriteString(d.Qualifier)
	b.WriteString(d.Mechanism)

	if d.DomainSpec != "" {
		b.WriteByte(':')
		b.WriteString(d.DomainSpec)
	} else if d.IP != nil {
		b.WriteByte(':')
		b.WriteString(d.IP.String())
	}

	if d.IP4CIDRLen != nil {
		fmt.Fprintf(&b, "/%d", *d.IP4CIDRLen)
	}

	if d.IP6CIDRLen != nil {
		if d.Mechanism != "ip6" {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "/%d", *d.IP6CIDRLen)
	}

	return b.String()
}

// Modifier provides additional information for a policy.
// "redirect" and "exp" are not represented as Modifier but explicitly in
// policyRecord.
type Modifier struct {
	Key   string // Key is case-insensitive.
	Value string
}
