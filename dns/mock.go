package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing.
// Set DNS records in the fields, which map FQDNs (with trailing dot) to
// values. A name missing from a map resolves as NXDOMAIN; a name mapped to
// an empty slice resolves as a success with no answers (NODATA).
type MockResolver struct {
	PTR  map[string][]string
	A    map[string][]string
	AAAA map[string][]string
	TXT  map[string][]string
	SPF  map[string][]string
	MX   map[string][]*net.MX

	// Fail contains records that will return a temporary error (SERVFAIL).
	// Format: "type name", e.g. "txt example.com." where type is lowercase.
	Fail []string

	// Timeout contains records that will return ErrDNSTimeout.
	// Format: "type name", e.g. "spf example.com."
	Timeout []string

	// AllAuthentic sets the default value for Authentic in responses.
	// Overridden by Authentic and Inauthentic lists.
	AllAuthentic bool

	// Authentic contains records that will have Authentic=true.
	// Format: "type name", e.g. "txt example.com."
	Authentic []string

	// Inauthentic contains records that will have Authentic=false.
	// Format: "type name", e.g. "txt example.com."
	Inauthentic []string
}

var _ Resolver = MockResolver{}

// mockReq represents a mock DNS request.
type mockReq struct {
	Type string // E.g. "txt", "spf", "a", "aaaa", "mx", "ptr"
	Name string // FQDN with trailing dot
}

func (mr mockReq) String() string {
	return mr.Type + " " + mr.Name
}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// check looks up configured failures and the authentication status for a
// request.
func (r MockResolver) check(ctx context.Context, mr mockReq) (authentic bool, err error) {
	authentic = r.AllAuthentic

	if err := ctx.Err(); err != nil {
		return authentic, err
	}

	if slices.Contains(r.Timeout, mr.String()) {
		return authentic, ErrDNSTimeout
	}
	if slices.Contains(r.Fail, mr.String()) {
		return authentic, ErrDNSServFail
	}

	if slices.Contains(r.Authentic, mr.String()) {
		authentic = true
	}
	if slices.Contains(r.Inauthentic, mr.String()) {
		authentic = false
	}

	return authentic, nil
}

// Query issues a raw TXT or SPF type query against the mock zone data.
func (r MockResolver) Query(ctx context.Context, name string, rrtype uint16) (*Response, error) {
	fqdn := ensureFQDN(name)

	var typ string
	var zone map[string][]string
	switch rrtype {
	case TypeTXT:
		typ, zone = "txt", r.TXT
	case TypeSPF:
		typ, zone = "spf", r.SPF
	default:
		return nil, ErrDNSNotFound
	}

	authentic, err := r.check(ctx, mockReq{typ, fqdn})
	if err != nil {
		return nil, err
	}

	records, ok := zone[fqdn]
	if !ok {
		return &Response{Rcode: RcodeNameError, Authentic: authentic}, nil
	}

	resp := &Response{Rcode: RcodeSuccess, Authentic: authentic}
	for _, txt := range records {
		resp.Answer = append(resp.Answer, RR{Type: rrtype, Data: []string{txt}})
	}
	return resp, nil
}

// LookupTXT returns TXT records for the given domain.
func (r MockResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	fqdn := ensureFQDN(name)

	authentic, err := r.check(ctx, mockReq{"txt", fqdn})
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	records, ok := r.TXT[fqdn]
	if !ok || len(records) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[string]{Records: records, Authentic: authentic}, nil
}

// LookupIP returns A and/or AAAA records for the given domain.
func (r MockResolver) LookupIP(ctx context.Context, network, domain string) (Result[net.IP], error) {
	fqdn := ensureFQDN(domain)

	authentic := r.AllAuthentic
	var ips []net.IP

	if network == "ip" || network == "ip4" {
		auth, err := r.check(ctx, mockReq{"a", fqdn})
		if err != nil {
			return Result[net.IP]{Authentic: authentic}, err
		}
		authentic = auth
		for _, ip := range r.A[fqdn] {
			ips = append(ips, net.ParseIP(ip))
		}
	}

	if network == "ip" || network == "ip6" {
		auth, err := r.check(ctx, mockReq{"aaaa", fqdn})
		if err != nil {
			return Result[net.IP]{Authentic: authentic}, err
		}
		authentic = authentic && auth
		for _, ip := range r.AAAA[fqdn] {
			ips = append(ips, net.ParseIP(ip))
		}
	}

	if len(ips) == 0 {
		return Result[net.IP]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[net.IP]{Records: ips, Authentic: authentic}, nil
}

// LookupMX returns MX records for the given domain.
func (r MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	fqdn := ensureFQDN(name)

	authentic, err := r.check(ctx, mockReq{"mx", fqdn})
	if err != nil {
		return Result[*net.MX]{Authentic: authentic}, err
	}

	records, ok := r.MX[fqdn]
	if !ok || len(records) == 0 {
		return Result[*net.MX]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[*net.MX]{Records: records, Authentic: authentic}, nil
}

// LookupAddr performs a reverse DNS lookup.
func (r MockResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	ipStr := ip.String()

	authentic, err := r.check(ctx, mockReq{"ptr", ipStr})
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	records, ok := r.PTR[ipStr]
	if !ok || len(records) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[string]{Records: records, Authentic: authentic}, nil
}
