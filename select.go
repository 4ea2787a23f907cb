package spf

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/synqronlabs/spf/dns"
)

// SelectRecord queries DNS for the policy record governing the request's
// authority domain and selects the single applicable record.
//
// When SPF type 99 queries are enabled, they are tried before TXT; the TXT
// query is only issued if no acceptable SPF-type record was found. A DNS
// failure on one record type does not abort the strategy, but if every
// attempted query fails, the first DNS error is returned rather than
// masking a connectivity problem as an absent policy.
func (s *Server) SelectRecord(ctx context.Context, req *Request) (Record, error) {
	domain := CanonicalDomain(req.Domain)
	if err := validDomain(domain); err != nil {
		return nil, err
	}

	versions := preferenceOrder(req)

	var records []*policyRecord
	var firstErr error
	attempted, succeeded := 0, 0

	if s.queryRRTypes&QuerySPF != 0 {
		attempted++
		resp, err := s.query(ctx, req, domain, dns.TypeSPF)
		if err != nil {
			var dnsErr *DNSError
			if s.abortOnSPFTimeout && errors.As(err, &dnsErr) && dnsErr.Timeout {
				return nil, err
			}
			firstErr = err
		} else {
			succeeded++
			recs, err := s.acceptableRecords(resp, versions, req.Scope, dns.TypeSPF)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
	}

	if len(records) == 0 && s.queryRRTypes&QueryTXT != 0 {
		attempted++
		resp, err := s.query(ctx, req, domain, dns.TypeTXT)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			succeeded++
			recs, err := s.acceptableRecords(resp, versions, req.Scope, dns.TypeTXT)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
	}

	if attempted > 0 && succeeded == 0 {
		return nil, firstErr
	}
	if len(records) == 0 {
		return nil, ErrNoAcceptableRecord
	}

	// Version fallback: only the highest version actually published
	// counts; lower versions are discarded silently.
	best := records[0].version
	for _, r := range records {
		if r.version > best {
			best = r.version
		}
	}
	records = slices.DeleteFunc(records, func(r *policyRecord) bool {
		return r.version != best
	})

	// RFC 7208 forbids multiple records of one version for a domain.
	if len(records) > 1 {
		return nil, fmt.Errorf("%w: %d %s records for %q", ErrRedundantRecords, len(records), best, domain)
	}

	return records[0], nil
}

// preferenceOrder returns the request's acceptable versions, highest first.
func preferenceOrder(req *Request) []Version {
	versions := req.Versions
	if len(versions) == 0 {
		versions = defaultVersions(req.Scope)
	}
	versions = slices.Clone(versions)
	slices.SortFunc(versions, func(a, b Version) int { return int(b) - int(a) })
	return slices.Compact(versions)
}

// query issues one raw query and classifies its outcome. NXDOMAIN is a
// valid empty response, not an error.
func (s *Server) query(ctx context.Context, req *Request, domain string, rrtype uint16) (*dns.Response, error) {
	resp, err := s.resolver.Query(ctx, domain, rrtype)
	if err != nil {
		return nil, &DNSError{Name: domain, RRType: rrtype, Timeout: dns.IsTimeout(err), Err: err}
	}
	if resp == nil {
		return nil, &DNSError{Name: domain, RRType: rrtype, Err: errors.New("unknown error")}
	}

	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		if t := req.Tracker(); t != nil {
			t.Observe(resp.Authentic)
		}
		return resp, nil
	default:
		return nil, &DNSError{Name: domain, RRType: rrtype, Err: fmt.Errorf("status %s", dns.RcodeString(resp.Rcode))}
	}
}

// acceptableRecords extracts the records acceptable for the requested scope
// and versions from a query response.
//
// The character-string segments of each answer are concatenated into one
// text value. The candidate versions are tried highest first; a parser
// rejecting the text as another version is skipped, any other parse
// failure propagates. Once a text parses under some version it is not
// retried under a lower one, so a record of an acceptable version whose
// scopes exclude the requested scope is dropped entirely.
func (s *Server) acceptableRecords(resp *dns.Response, versions []Version, scope Scope, rrtype uint16) ([]*policyRecord, error) {
	var out []*policyRecord
	for _, rr := range resp.Answer {
		if rr.Type != rrtype {
			continue
		}
		text := strings.Join(rr.Data, "")

		for _, v := range versions {
			parse, ok := parserFor(v)
			if !ok {
				continue
			}
			rec, err := parse(text)
			if errors.Is(err, errWrongVersion) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if rec.HasScope(scope) {
				out = append(out, rec)
			}
			break
		}
	}
	return out, nil
}
