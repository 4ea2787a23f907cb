package spf

import (
	"errors"

	"github.com/synqronlabs/spf/dns"
)

// Tracker holds the per-evaluation-tree processing limits of RFC 7208
// section 4.6.4. One Tracker is created per top-level Process call and
// lives on the root request; every sub-request derived from that root
// consults the same Tracker, so recursive includes and redirects cannot
// reset the budget.
//
// Both counters gate the next DNS-interactive step: TrackInteractiveTerm
// must be called, and must succeed, before a term that needs further DNS
// queries is evaluated.
type Tracker struct {
	maxInteractive int
	maxVoid        int

	interactive int
	void        int
	authentic   bool
}

func newTracker(maxInteractive, maxVoid int) *Tracker {
	return &Tracker{
		maxInteractive: maxInteractive,
		maxVoid:        maxVoid,
		authentic:      true,
	}
}

// TrackInteractiveTerm accounts for one policy term whose evaluation
// requires DNS queries. It fails once either limit has been reached,
// leaving the counters untouched.
func (t *Tracker) TrackInteractiveTerm() error {
	if t.interactive >= t.maxInteractive {
		return ErrTooManyDNSRequests
	}
	if t.void >= t.maxVoid {
		return ErrTooManyVoidLookups
	}
	t.interactive++
	return nil
}

// TrackVoid accounts for a lookup outcome. Lookups returning no usable
// answer (NXDOMAIN or an empty record set) advance the void counter; the
// limit is enforced at the next TrackInteractiveTerm gate.
func (t *Tracker) TrackVoid(err error) {
	if errors.Is(err, dns.ErrDNSNotFound) {
		t.void++
	}
}

// Observe folds the DNSSEC status of one response into the evaluation.
func (t *Tracker) Observe(authentic bool) {
	t.authentic = t.authentic && authentic
}

// DNSInteractiveTerms returns the number of DNS-interactive terms counted.
func (t *Tracker) DNSInteractiveTerms() int { return t.interactive }

// VoidLookups returns the number of void lookups counted.
func (t *Tracker) VoidLookups() int { return t.void }

// Authentic reports whether every DNS response seen so far was
// DNSSEC-validated.
func (t *Tracker) Authentic() bool { return t.authentic }
