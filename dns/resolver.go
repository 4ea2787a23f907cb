package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolverConfig contains configuration for the DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, system resolvers from /etc/resolv.conf are used,
	// falling back to public DNS (8.8.8.8, 1.1.1.1).
	Nameservers []string

	// DNSSEC enables DNSSEC validation for queries.
	// Requires DNSSEC-validating upstream resolvers.
	// When enabled, the Authentic fields in results indicate validation status.
	DNSSEC bool

	// Timeout is the timeout for individual DNS queries. Default is 5 seconds.
	Timeout time.Duration

	// Retries is the number of retries for failed queries. Default is 2.
	Retries int
}

// DNSResolver implements the Resolver interface using github.com/miekg/dns.
// It provides DNSSEC validation support, raw queries for arbitrary record
// types (including SPF type 99), and configurable query behavior.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

var _ Resolver = (*DNSResolver)(nil)

// NewResolver creates a new DNS resolver with optional DNSSEC support.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		// Fallback to common public DNS servers
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		if !strings.Contains(s, ":") {
			s = s + ":53"
		}
		servers = append(servers, s)
	}
	return servers
}

// ensureAbsolute ensures the domain name ends with a dot (FQDN format).
func ensureAbsolute(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

// classifyTransportError maps exchange failures onto the package sentinels.
func classifyTransportError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDNSTimeout, err)
	}
	return fmt.Errorf("dns query failed: %w", err)
}

// exchange performs a DNS query with retries. It returns the last response
// received, whatever its rcode; an error is returned only when no server
// produced a response at all.
func (r *DNSResolver) exchange(ctx context.Context, name string, qtype uint16) (*mdns.Msg, bool, error) {
	m := new(mdns.Msg)
	m.SetQuestion(ensureAbsolute(name), qtype)
	m.RecursionDesired = true

	// Set DNSSEC OK bit if DNSSEC is enabled
	if r.config.DNSSEC {
		m.SetEdns0(4096, true) // Enable EDNS0 with DO bit
	}

	var lastErr error
	var lastResp *mdns.Msg
	authentic := false

	for i := 0; i <= r.config.Retries; i++ {
		for _, server := range r.config.Nameservers {
			// Check context cancellation
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			default:
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = classifyTransportError(err)
				continue
			}

			// Check for DNSSEC authentication
			if r.config.DNSSEC && resp.AuthenticatedData {
				authentic = true
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess, mdns.RcodeNameError:
				return resp, authentic, nil
			default:
				// SERVFAIL and friends may be transient, retry and keep
				// the response in case no server does better.
				lastResp = resp
			}
		}
	}

	if lastResp != nil {
		return lastResp, authentic, nil
	}
	if lastErr != nil {
		return nil, false, lastErr
	}
	return nil, false, ErrDNSServFail
}

// rcodeError maps a non-success response code onto the package sentinels.
// dnssec selects whether SERVFAIL is reported as a validation failure.
func rcodeError(rcode int, dnssec bool) error {
	switch rcode {
	case RcodeServerFailure:
		// SERVFAIL might indicate DNSSEC validation failure
		if dnssec {
			return ErrDNSBogus
		}
		return ErrDNSServFail
	case RcodeRefused:
		return ErrDNSRefused
	default:
		return fmt.Errorf("%w: unexpected rcode %s", ErrDNSServFail, RcodeString(rcode))
	}
}

// Query issues a single query for name with the given record type and
// returns the raw response. NXDOMAIN and other response codes are surfaced
// in Response.Rcode; only transport-level failures become errors.
func (r *DNSResolver) Query(ctx context.Context, name string, rrtype uint16) (*Response, error) {
	resp, authentic, err := r.exchange(ctx, name, rrtype)
	if err != nil {
		return nil, err
	}

	out := &Response{Rcode: resp.Rcode, Authentic: authentic}
	for _, rr := range resp.Answer {
		switch a := rr.(type) {
		case *mdns.TXT:
			out.Answer = append(out.Answer, RR{Type: TypeTXT, Data: a.Txt})
		case *mdns.SPF:
			out.Answer = append(out.Answer, RR{Type: TypeSPF, Data: a.Txt})
		}
	}
	return out, nil
}

// queryType performs a typed query, mapping NXDOMAIN and bad rcodes to errors.
func (r *DNSResolver) queryType(ctx context.Context, name string, qtype uint16) (*mdns.Msg, bool, error) {
	resp, authentic, err := r.exchange(ctx, name, qtype)
	if err != nil {
		return nil, false, err
	}
	switch resp.Rcode {
	case mdns.RcodeSuccess:
		return resp, authentic, nil
	case mdns.RcodeNameError:
		return nil, authentic, ErrDNSNotFound
	default:
		return nil, authentic, rcodeError(resp.Rcode, r.config.DNSSEC)
	}
}

// LookupTXT retrieves TXT records for the given domain.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	resp, authentic, err := r.queryType(ctx, name, mdns.TypeTXT)
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			// TXT records may be split into multiple character strings, join them
			// per RFC 7208 Section 3.3
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}

	if len(records) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[string]{Records: records, Authentic: authentic}, nil
}

// LookupIP retrieves A and/or AAAA records for the given domain.
// network can be "ip", "ip4", or "ip6".
func (r *DNSResolver) LookupIP(ctx context.Context, network, host string) (Result[net.IP], error) {
	var ips []net.IP
	authentic := true
	var lastErr error

	if network == "ip" || network == "ip4" {
		resp, auth, err := r.queryType(ctx, host, mdns.TypeA)
		if err != nil && !errors.Is(err, ErrDNSNotFound) {
			lastErr = err
		} else if resp != nil {
			authentic = authentic && auth
			for _, rr := range resp.Answer {
				if a, ok := rr.(*mdns.A); ok {
					ips = append(ips, a.A)
				}
			}
		}
	}

	if network == "ip" || network == "ip6" {
		resp, auth, err := r.queryType(ctx, host, mdns.TypeAAAA)
		if err != nil && !errors.Is(err, ErrDNSNotFound) {
			if lastErr == nil {
				lastErr = err
			}
		} else if resp != nil {
			authentic = authentic && auth
			for _, rr := range resp.Answer {
				if aaaa, ok := rr.(*mdns.AAAA); ok {
					ips = append(ips, aaaa.AAAA)
				}
			}
		}
	}

	if len(ips) == 0 {
		if lastErr != nil {
			return Result[net.IP]{Authentic: authentic}, lastErr
		}
		return Result[net.IP]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[net.IP]{Records: ips, Authentic: authentic}, nil
}

// LookupMX retrieves MX records for the given domain.
func (r *DNSResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	resp, authentic, err := r.queryType(ctx, name, mdns.TypeMX)
	if err != nil {
		return Result[*net.MX]{Authentic: authentic}, err
	}

	var records []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			records = append(records, &net.MX{
				Host: mx.Mx,
				Pref: mx.Preference,
			})
		}
	}

	if len(records) == 0 {
		return Result[*net.MX]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[*net.MX]{Records: records, Authentic: authentic}, nil
}

// LookupAddr performs a reverse DNS lookup for the given IP address.
func (r *DNSResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}

	// Generate reverse DNS name (e.g., 1.0.168.192.in-addr.arpa.)
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return Result[string]{}, fmt.Errorf("dns: invalid IP for reverse lookup: %w", err)
	}

	resp, authentic, err := r.queryType(ctx, arpa, mdns.TypePTR)
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	var names []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*mdns.PTR); ok {
			names = append(names, ptr.Ptr)
		}
	}

	if len(names) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}

	return Result[string]{Records: names, Authentic: authentic}, nil
}

// Config returns the resolver's current configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}
