// Package dns provides the DNS lookup layer for SPF record selection and
// policy evaluation.
//
// The central contract is the Resolver interface. Record selection uses the
// raw Query method, which returns the response code and the answer records
// with their character-string segments intact, so that the caller can apply
// the RFC 7208 selection and fallback rules itself. Mechanism evaluation
// uses the typed Lookup* methods.
//
// Two implementations are provided: DNSResolver, backed by
// github.com/miekg/dns with retries and optional DNSSEC validation, and
// StdResolver, backed by the standard library. MockResolver serves tests.
package dns

import (
	"context"
	"errors"
	"net"
	"strconv"
)

// DNS lookup errors.
var (
	// ErrDNSNotFound indicates the name does not exist (NXDOMAIN) or the
	// response carried no records of the requested type.
	ErrDNSNotFound = errors.New("dns: name or records not found")

	// ErrDNSTimeout indicates the query timed out.
	ErrDNSTimeout = errors.New("dns: query timed out")

	// ErrDNSServFail indicates the server reported a failure (SERVFAIL).
	ErrDNSServFail = errors.New("dns: server failure")

	// ErrDNSRefused indicates the server refused the query.
	ErrDNSRefused = errors.New("dns: query refused")

	// ErrDNSBogus indicates DNSSEC validation failed upstream.
	ErrDNSBogus = errors.New("dns: DNSSEC validation failed")
)

// IsNotFound reports whether err indicates a missing name or record set.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err indicates a query timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether err indicates a server failure.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether err is worth retrying later.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrDNSTimeout) || errors.Is(err, ErrDNSServFail) || errors.Is(err, ErrDNSRefused)
}

// Resource record types used by SPF. Values are DNS wire values.
const (
	// TypeTXT is the TXT resource record type.
	TypeTXT uint16 = 16

	// TypeSPF is the SPF resource record type (RFC 4408 type 99).
	// Publishing it was obsoleted by RFC 7208, but existing records
	// may still be queried.
	TypeSPF uint16 = 99
)

// Response codes surfaced through Response.Rcode. Values are DNS wire values.
const (
	RcodeSuccess       = 0
	RcodeFormatError   = 1
	RcodeServerFailure = 2
	RcodeNameError     = 3 // NXDOMAIN
	RcodeNotImpl       = 4
	RcodeRefused       = 5
)

// RcodeString returns a readable name for a response code.
func RcodeString(rcode int) string {
	switch rcode {
	case RcodeSuccess:
		return "NOERROR"
	case RcodeFormatError:
		return "FORMERR"
	case RcodeServerFailure:
		return "SERVFAIL"
	case RcodeNameError:
		return "NXDOMAIN"
	case RcodeNotImpl:
		return "NOTIMP"
	case RcodeRefused:
		return "REFUSED"
	}
	return "RCODE" + strconv.Itoa(rcode)
}

// RR is one answer record from a raw query. Data holds the record's
// character-string segments in wire order; multi-segment TXT and SPF
// records must be concatenated by the consumer.
type RR struct {
	Type uint16
	Data []string
}

// Response is the outcome of a raw query that reached a server.
// Transport-level failures are reported as errors instead.
type Response struct {
	// Rcode is the DNS response code.
	Rcode int

	// Answer holds the answer section records, in response order.
	Answer []RR

	// Authentic indicates the response was DNSSEC-validated.
	Authentic bool
}

// Result is the outcome of a typed lookup.
type Result[T any] struct {
	// Records holds the returned records, in response order.
	Records []T

	// Authentic indicates the response was DNSSEC-validated.
	Authentic bool
}

// Resolver is the lookup contract consumed by the SPF engine.
//
// Query issues one query for the given record type and returns the raw
// response; the typed Lookup methods return ErrDNSNotFound both for
// NXDOMAIN and for an empty record set, so callers can treat the two
// uniformly as void lookups. All methods must be safe for concurrent use.
type Resolver interface {
	// Query issues a single query for name with the given record type and
	// returns the raw response. A response with a non-success Rcode is not
	// an error at this layer.
	Query(ctx context.Context, name string, rrtype uint16) (*Response, error)

	// LookupTXT retrieves TXT records, with multi-segment strings joined.
	LookupTXT(ctx context.Context, name string) (Result[string], error)

	// LookupIP retrieves address records. network selects the family:
	// "ip", "ip4" or "ip6".
	LookupIP(ctx context.Context, network, host string) (Result[net.IP], error)

	// LookupMX retrieves MX records.
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)

	// LookupAddr performs a reverse lookup for ip.
	LookupAddr(ctx context.Context, ip net.IP) (Result[string], error)
}
