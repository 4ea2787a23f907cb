package spf

import (
	"errors"
	"fmt"
)

// SPF evaluation errors. Server.Process converts every one of these into a
// terminal result; any other error escapes unchanged.
var (
	// ErrNoAcceptableRecord indicates the queries succeeded but no record
	// acceptable for the requested scope and versions was published.
	ErrNoAcceptableRecord = errors.New("spf: no acceptable SPF record found")

	// ErrRedundantRecords indicates more than one applicable record of the
	// selected version was published for the domain, which RFC 7208 forbids.
	ErrRedundantRecords = errors.New("spf: redundant acceptable SPF records")

	// ErrRecordSyntax indicates a record correctly tagged for its version
	// is malformed.
	ErrRecordSyntax = errors.New("spf: malformed SPF record")

	// ErrTooManyDNSRequests indicates the evaluation tree exceeded the
	// configured maximum of DNS-interactive terms.
	ErrTooManyDNSRequests = errors.New("spf: exceeded maximum DNS-interactive terms")

	// ErrTooManyVoidLookups indicates the evaluation tree exceeded the
	// configured maximum of lookups returning no usable answer.
	ErrTooManyVoidLookups = errors.New("spf: exceeded maximum void lookups")

	// ErrMacroSyntax indicates a malformed macro string.
	ErrMacroSyntax = errors.New("spf: macro syntax error")

	// ErrInvalidDomain indicates the identity domain cannot be queried.
	ErrInvalidDomain = errors.New("spf: invalid domain name")

	// errWrongVersion is the internal rejection of a parser given text not
	// tagged for its version. It never escapes record selection.
	errWrongVersion = errors.New("spf: record version mismatch")
)

// DNSError is a DNS-layer failure during record selection or mechanism
// evaluation. Server.Process maps it to a temperror result.
type DNSError struct {
	// Name is the queried domain.
	Name string

	// RRType is the queried record type, when known.
	RRType uint16

	// Timeout indicates the resolver reported a timeout.
	Timeout bool

	// Err is the underlying cause.
	Err error
}

func (e *DNSError) Error() string {
	kind := "DNS error"
	if e.Timeout {
		kind = "DNS timeout"
	}
	if e.Err == nil {
		return fmt.Sprintf("spf: %s looking up %q", kind, e.Name)
	}
	return fmt.Sprintf("spf: %s looking up %q: %v", kind, e.Name, e.Err)
}

func (e *DNSError) Unwrap() error {
	return e.Err
}
