package spf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/synqronlabs/spf/dns"
)

// evalRecord walks the directives of a selected record against the
// request's identity, returning the verdict of the first match. The
// shared tracker on the root request enforces the evaluation-wide
// resource limits; exceeding one aborts the walk with an error.
func (s *Server) evalRecord(ctx context.Context, record *policyRecord, req *Request) (*Result, error) {
	root := req.Root()
	if root.tracker == nil {
		root.tracker = newTracker(s.maxDNSInteractiveTerms, s.maxVoidLookups)
	}
	tracker := root.tracker

	remote4 := req.IP.To4()
	var remote6 net.IP
	if remote4 == nil {
		remote6 = req.IP.To16()
	}

	// checkIP reports whether the remote IP falls within ip, given the
	// directive's dual-CIDR lengths.
	checkIP := func(ip net.IP, d Directive) bool {
		if ip4 := ip.To4(); ip4 != nil {
			if remote4 == nil {
				return false
			}
			bits := 32
			if d.IP4CIDRLen != nil {
				bits = *d.IP4CIDRLen
			}
			return (&net.IPNet{IP: ip4, Mask: net.CIDRMask(bits, 32)}).Contains(remote4)
		}
		if remote6 == nil {
			return false
		}
		bits := 128
		if d.IP6CIDRLen != nil {
			bits = *d.IP6CIDRLen
		}
		return (&net.IPNet{IP: ip.To16(), Mask: net.CIDRMask(bits, 128)}).Contains(remote6)
	}

	// checkHostIP resolves a name's addresses and matches the remote IP
	// against them.
	checkHostIP := func(domain string, d Directive) (bool, error) {
		result, err := s.resolver.LookupIP(ctx, "ip", domain+".")
		tracker.Observe(result.Authentic)
		tracker.TrackVoid(err)
		if err != nil && !dns.IsNotFound(err) {
			return false, &DNSError{Name: domain, Timeout: dns.IsTimeout(err), Err: err}
		}
		for _, ip := range result.Records {
			if checkIP(ip, d) {
				return true, nil
			}
		}
		return false, nil
	}

	for _, d := range record.Directives {
		switch d.Mechanism {
		case "include", "a", "mx", "ptr", "exists":
			if err := tracker.TrackInteractiveTerm(); err != nil {
				return nil, fmt.Errorf("%s: %w", d.Mechanism, err)
			}
		}

		var match bool

		switch d.Mechanism {
		case "all":
			match = true

		case "include":
			name, err := s.expandDomainSpec(ctx, d.DomainSpec, req)
			if err != nil {
				return nil, fmt.Errorf("expanding include domain: %w", err)
			}
			sub := req.NewSubRequest(name)
			sub.explanation = NewMacro(record.Explanation)
			res, err := s.checkHost(ctx, sub)
			if err != nil {
				res, err = s.includeErrorResult(d, req, name, err)
				if err != nil {
					return nil, err
				}
				return res, nil
			}
			switch res.Code {
			case Pass:
				match = true
			case Fail, Softfail, Neutral:
				// no match
			case TempError:
				out := s.NewResult(TempError, req, fmt.Sprintf("include %q: %s", name, res.Problem))
				out.Mechanism = d.String()
				return out, nil
			default:
				// None and PermError from the included domain are the
				// including record's authoring problem.
				out := s.NewResult(PermError, req, fmt.Sprintf("include %q resulted in %s", name, res.Code))
				out.Mechanism = d.String()
				return out, nil
			}

		case "a":
			name := req.Domain
			if d.DomainSpec != "" {
				var err error
				name, err = s.expandDomainSpec(ctx, d.DomainSpec, req)
				if err != nil {
					return nil, fmt.Errorf("expanding a domain: %w", err)
				}
			}
			var err error
			match, err = checkHostIP(CanonicalDomain(name), d)
			if err != nil {
				return nil, err
			}

		case "mx":
			name := req.Domain
			if d.DomainSpec != "" {
				var err error
				name, err = s.expandDomainSpec(ctx, d.DomainSpec, req)
				if err != nil {
					return nil, fmt.Errorf("expanding mx domain: %w", err)
				}
			}
			name = CanonicalDomain(name)
			result, err := s.resolver.LookupMX(ctx, name+".")
			tracker.Observe(result.Authentic)
			tracker.TrackVoid(err)
			if err != nil && !dns.IsNotFound(err) {
				return nil, &DNSError{Name: name, Timeout: dns.IsTimeout(err), Err: err}
			}
			// A null MX means the domain sends no mail.
			if len(result.Records) == 1 && result.Records[0].Host == "." {
				break
			}
			for i, mx := range result.Records {
				if i >= s.maxNameLookupsPerMX {
					return nil, fmt.Errorf("mx %q: %w", name, ErrTooManyDNSRequests)
				}
				match, err = checkHostIP(strings.TrimSuffix(mx.Host, "."), d)
				if err != nil {
					return nil, err
				}
				if match {
					break
				}
			}

		case "ptr":
			name := req.Domain
			if d.DomainSpec != "" {
				var err error
				name, err = s.expandDomainSpec(ctx, d.DomainSpec, req)
				if err != nil {
					return nil, fmt.Errorf("expanding ptr domain: %w", err)
				}
			}
			match = s.checkPTR(ctx, CanonicalDomain(name), req)

		case "ip4":
			if remote4 != nil {
				match = checkIP(d.IP, d)
			}

		case "ip6":
			if remote6 != nil {
				match = checkIP(d.IP, d)
			}

		case "exists":
			name, err := s.expandDomainSpec(ctx, d.DomainSpec, req)
			if err != nil {
				return nil, fmt.Errorf("expanding exists domain: %w", err)
			}
			name = CanonicalDomain(name)
			// Only IPv4 addresses constitute existence, also on IPv6
			// connections.
			result, err := s.resolver.LookupIP(ctx, "ip4", name+".")
			tracker.Observe(result.Authentic)
			tracker.TrackVoid(err)
			if err != nil && !dns.IsNotFound(err) {
				return nil, &DNSError{Name: name, Timeout: dns.IsTimeout(err), Err: err}
			}
			match = len(result.Records) > 0

		default:
			return nil, fmt.Errorf("%w: unknown mechanism %q", ErrRecordSyntax, d.Mechanism)
		}

		if !match {
			continue
		}

		code := Pass
		switch d.Qualifier {
		case "", "+":
		case "?":
			code = Neutral
		case "~":
			code = Softfail
		case "-":
			code = Fail
		}
		var explanation string
		if code == Fail {
			explanation = s.evalExplanation(ctx, record, req)
		}
		res := s.NewResult(code, req, explanation)
		res.Mechanism = d.String()
		return res, nil
	}

	if record.Redirect != "" {
		if err := tracker.TrackInteractiveTerm(); err != nil {
			return nil, fmt.Errorf("redirect: %w", err)
		}
		name, err := s.expandDomainSpec(ctx, record.Redirect, req)
		if err != nil {
			return nil, fmt.Errorf("expanding redirect domain: %w", err)
		}
		sub := req.NewSubRequest(name)
		sub.explanation = nil
		res, err := s.checkHost(ctx, sub)
		if err != nil {
			// A missing record at the redirect target is the redirecting
			// record's fault.
			if errors.Is(err, ErrNoAcceptableRecord) {
				out := s.NewResult(PermError, req, fmt.Sprintf("redirect %q has no policy record", name))
				out.Mechanism = "redirect"
				return out, nil
			}
			return nil, err
		}
		if res.Code == None {
			out := s.NewResult(PermError, req, fmt.Sprintf("redirect %q resulted in none", name))
			out.Mechanism = "redirect"
			return out, nil
		}
		// Rebind the verdict to this node of the tree.
		out := s.NewResult(res.Code, req, "")
		out.Mechanism = res.Mechanism
		out.Explanation = res.Explanation
		out.Problem = res.Problem
		out.Comment = res.Comment
		return out, nil
	}

	res := s.NewResult(Neutral, req, "")
	res.Mechanism = "default"
	return res, nil
}

// includeErrorResult maps a selection or evaluation error from an
// included domain onto the including record's verdict. Transient DNS
// trouble and exhausted global limits keep propagating as errors.
func (s *Server) includeErrorResult(d Directive, req *Request, name string, err error) (*Result, error) {
	switch {
	case errors.Is(err, ErrNoAcceptableRecord),
		errors.Is(err, ErrRedundantRecords),
		errors.Is(err, ErrRecordSyntax),
		errors.Is(err, ErrMacroSyntax),
		errors.Is(err, ErrInvalidDomain):
		res := s.NewResult(PermError, req, fmt.Sprintf("include %q: %v", name, err))
		res.Mechanism = d.String()
		return res, nil
	}
	return nil, err
}

// checkPTR reports whether a reverse name of the remote IP is the target
// domain or a subdomain of it, validated by a forward lookup. Lookup
// failures make the mechanism not match, never an error.
func (s *Server) checkPTR(ctx context.Context, domain string, req *Request) bool {
	tracker := req.Root().tracker
	result, err := s.resolver.LookupAddr(ctx, req.IP)
	tracker.Observe(result.Authentic)
	tracker.TrackVoid(err)
	if err != nil {
		return false
	}

	suffix := "." + strings.ToLower(domain) + "."
	for i, name := range result.Records {
		if i >= s.maxNameLookupsPerPTR {
			return false
		}
		lower := strings.ToLower(name)
		if lower != strings.ToLower(domain)+"." && !strings.HasSuffix(lower, suffix) {
			continue
		}
		if s.validatePTR(ctx, name, req) {
			return true
		}
	}
	return false
}

// evalExplanation produces the authority explanation for a fail verdict.
// An explanation inherited from an including record takes precedence over
// the record's own; errors during the lookup or expansion degrade to the
// server's default explanation, never to a changed verdict.
func (s *Server) evalExplanation(ctx context.Context, record *policyRecord, req *Request) string {
	spec := record.Explanation
	if req.explanation != nil {
		spec = req.explanation.String()
	}
	if spec != "" {
		if text := s.lookupExplanation(ctx, spec, req); text != "" {
			return text
		}
	}
	if text, err := s.defaultExplanation.Expand(ctx, s, req, false); err == nil {
		return text
	}
	return ""
}

// lookupExplanation resolves an exp= domain-spec to its TXT explanation
// and expands it. The lookups here do not count against the evaluation
// limits.
func (s *Server) lookupExplanation(ctx context.Context, spec string, req *Request) string {
	name, err := s.expandDomainSpec(ctx, spec, req)
	if err != nil || name == "" {
		return ""
	}
	result, err := s.resolver.LookupTXT(ctx, CanonicalDomain(name)+".")
	req.Tracker().Observe(result.Authentic)
	if err != nil || len(result.Records) != 1 {
		return ""
	}
	text, err := s.expandMacro(ctx, result.Records[0], req, false)
	if err != nil {
		return ""
	}
	return text
}
