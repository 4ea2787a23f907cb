package spf

import (
	"net"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Request describes one SPF check: which identity is being evaluated, under
// which scope, and against which authority domain. Top-level requests are
// built with NewRequest; the engine derives sub-requests from them while
// following include and redirect terms.
//
// A request tree shares one Tracker through its root, so the RFC 7208
// processing limits hold across the whole recursive evaluation. All other
// mutable state is private to each request.
type Request struct {
	// Scope is the identity context to evaluate.
	Scope Scope

	// Versions lists acceptable record versions in preference order,
	// highest first. NewRequest fills it from the scope when empty.
	Versions []Version

	// Domain is the authority domain whose policy governs the check.
	Domain string

	// Sender is the sender identity as "local@domain". NewRequest
	// normalizes a missing local part to "postmaster".
	Sender string

	// IP is the address of the host purporting to send.
	IP net.IP

	// HeloDomain is the HELO/EHLO identity, used by the h macro.
	HeloDomain string

	// LocalIP is the receiving host address, used by the c macro in
	// explanation strings.
	LocalIP net.IP

	id          ulid.ULID
	root        *Request
	record      Record
	state       map[string]any
	tracker     *Tracker
	explanation *Macro
}

// NewRequest builds a top-level request. domain is the authority domain to
// check; for ScopeHelo it is normally the HELO identity itself. sender may
// be empty, a bare domain, or a full mailbox.
func NewRequest(scope Scope, domain string, ip net.IP, sender, helo string) *Request {
	if sender == "" {
		sender = domain
	}
	if !strings.Contains(sender, "@") {
		sender = "postmaster@" + sender
	} else if strings.HasPrefix(sender, "@") {
		sender = "postmaster" + sender
	}

	return &Request{
		Scope:      scope,
		Versions:   defaultVersions(scope),
		Domain:     domain,
		Sender:     sender,
		IP:         ip,
		HeloDomain: helo,
	}
}

// defaultVersions returns the record versions applicable to a scope,
// highest first.
func defaultVersions(scope Scope) []Version {
	switch scope {
	case ScopeHelo:
		return []Version{V1}
	case ScopePRA:
		return []Version{V2}
	default:
		return []Version{V2, V1}
	}
}

// NewSubRequest derives a request for domain from r, for include and
// redirect evaluation. The sub-request keeps the identity of r and shares
// the root of r's evaluation tree, including its Tracker.
func (r *Request) NewSubRequest(domain string) *Request {
	return &Request{
		Scope:      r.Scope,
		Versions:   slices.Clone(r.Versions),
		Domain:     domain,
		Sender:     r.Sender,
		IP:         r.IP,
		HeloDomain: r.HeloDomain,
		LocalIP:    r.LocalIP,
		root:       r.Root(),
	}
}

// Root returns the root of the evaluation tree r belongs to. A top-level
// request is its own root.
func (r *Request) Root() *Request {
	if r.root != nil {
		return r.root
	}
	return r
}

// ID returns the evaluation tree's identifier, assigned by Server.Process.
func (r *Request) ID() string {
	return r.Root().id.String()
}

// SenderLocal returns the local part of the sender identity.
func (r *Request) SenderLocal() string {
	if at := strings.LastIndex(r.Sender, "@"); at > 0 {
		return r.Sender[:at]
	}
	return "postmaster"
}

// SenderDomain returns the domain part of the sender identity.
func (r *Request) SenderDomain() string {
	if at := strings.LastIndex(r.Sender, "@"); at >= 0 && at < len(r.Sender)-1 {
		return r.Sender[at+1:]
	}
	return r.Domain
}

// State returns the value stored under key, or def when unset.
func (r *Request) State(key string, def any) any {
	if v, ok := r.state[key]; ok {
		return v
	}
	return def
}

// SetState stores a value under key in the request's state store.
func (r *Request) SetState(key string, v any) {
	if r.state == nil {
		r.state = make(map[string]any)
	}
	r.state[key] = v
}

// Record returns the policy record selected for this request, if any.
func (r *Request) Record() Record {
	return r.record
}

// SetRecord stores the selected record. The slot is single-assignment; a
// second call with a different record is a defect in the caller.
func (r *Request) SetRecord(rec Record) error {
	if r.record != nil && r.record != rec {
		return ErrRedundantRecords
	}
	r.record = rec
	return nil
}

// Tracker returns the shared limit tracker of the evaluation tree, or nil
// before the tree has been processed.
func (r *Request) Tracker() *Tracker {
	return r.Root().tracker
}
