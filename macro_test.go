package spf

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/synqronlabs/spf/dns"
)

// The macro examples from RFC 7208 section 7.4.
func TestExpandMacro(t *testing.T) {
	srv := New(Options{Hostname: "receiver.example", Resolver: dns.MockResolver{}})

	req := NewRequest(ScopeMFrom, "email.example.com", net.ParseIP("192.0.2.3"), "strong-bad@email.example.com", "mta.example.com")
	req.tracker = newTracker(10, 2)

	tests := []struct {
		spec string
		want string
	}{
		{"%{s}", "strong-bad@email.example.com"},
		{"%{o}", "email.example.com"},
		{"%{d}", "email.example.com"},
		{"%{d4}", "email.example.com"},
		{"%{d3}", "email.example.com"},
		{"%{d2}", "example.com"},
		{"%{d1}", "com"},
		{"%{dr}", "com.example.email"},
		{"%{d2r}", "example.email"},
		{"%{l}", "strong-bad"},
		{"%{l-}", "strong.bad"},
		{"%{lr}", "strong-bad"},
		{"%{lr-}", "bad.strong"},
		{"%{l1r-}", "strong"},
		{"%{i}", "192.0.2.3"},
		{"%{ir}", "3.2.0.192"},
		{"%{v}", "in-addr"},
		{"%{h}", "mta.example.com"},
		{"%{ir}.%{v}._spf.%{d2}", "3.2.0.192.in-addr._spf.example.com"},
		{"%{lr-}.lp._spf.%{d2}", "bad.strong.lp._spf.example.com"},
		{"%{lr-}.lp.%{ir}.%{v}._spf.%{d2}", "bad.strong.lp.3.2.0.192.in-addr._spf.example.com"},
		{"%{ir}.%{v}.%{l1r-}.lp._spf.%{d2}", "3.2.0.192.in-addr.strong.lp._spf.example.com"},
		{"%{d2}.trusted-domains.example.net", "example.com.trusted-domains.example.net"},
		{"%%", "%"},
		{"%_", " "},
		{"%-", "%20"},
		{"literal.example.com", "literal.example.com"},
		{"%{S}", "strong-bad%40email.example.com"},
	}
	for _, tc := range tests {
		got, err := srv.expandMacro(context.Background(), tc.spec, req, true)
		if err != nil {
			t.Errorf("expand %q: unexpected error %v", tc.spec, err)
			continue
		}
		if got != tc.want {
			t.Errorf("expand %q = %q, want %q", tc.spec, got, tc.want)
		}
	}
}

func TestExpandMacroIPv6(t *testing.T) {
	srv := New(Options{Resolver: dns.MockResolver{}})
	req := NewRequest(ScopeMFrom, "example.com", net.ParseIP("2001:db8::cb01"), "strong-bad@email.example.com", "")
	req.tracker = newTracker(10, 2)

	got, err := srv.expandMacro(context.Background(), "%{ir}.%{v}._spf.example.com", req, true)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	want := "1.0.b.c.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.ip6._spf.example.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandMacroErrors(t *testing.T) {
	srv := New(Options{Resolver: dns.MockResolver{}})
	req := NewRequest(ScopeMFrom, "example.com", net.ParseIP("192.0.2.3"), "", "")
	req.tracker = newTracker(10, 2)

	for _, spec := range []string{"%", "%x", "%{", "%{z}", "%{s", "%{s0}", "%{s1x}"} {
		if _, err := srv.expandMacro(context.Background(), spec, req, true); !errors.Is(err, ErrMacroSyntax) {
			t.Errorf("expand %q = %v, want ErrMacroSyntax", spec, err)
		}
	}

	// c, r and t are only allowed in explanation strings.
	for _, spec := range []string{"%{c}", "%{r}", "%{t}"} {
		if _, err := srv.expandMacro(context.Background(), spec, req, true); !errors.Is(err, ErrMacroSyntax) {
			t.Errorf("expand %q for DNS = %v, want ErrMacroSyntax", spec, err)
		}
		if _, err := srv.expandMacro(context.Background(), spec, req, false); err != nil {
			t.Errorf("expand %q for exp: unexpected error %v", spec, err)
		}
	}
}

func TestExpandMacroExplanation(t *testing.T) {
	srv := New(Options{Hostname: "receiver.example", Resolver: dns.MockResolver{}})
	req := NewRequest(ScopeMFrom, "example.com", net.ParseIP("192.0.2.3"), "", "")
	req.tracker = newTracker(10, 2)
	req.LocalIP = net.ParseIP("192.0.2.55")

	origNow := timeNow
	timeNow = func() time.Time { return time.Unix(1234567890, 0) }
	defer func() { timeNow = origNow }()

	got, err := srv.expandMacro(context.Background(), "seen %{c} at %{t} by %{r}", req, false)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	want := "seen 192.0.2.55 at 1234567890 by receiver.example"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandMacroPTR(t *testing.T) {
	resolver := dns.MockResolver{
		PTR: map[string][]string{
			"192.0.2.3": {"mx.example.com."},
		},
		A: map[string][]string{
			"mx.example.com.": {"192.0.2.3"},
		},
	}
	srv := New(Options{Resolver: resolver})
	req := NewRequest(ScopeMFrom, "example.com", net.ParseIP("192.0.2.3"), "", "")
	req.tracker = newTracker(10, 2)

	got, err := srv.expandMacro(context.Background(), "%{p}", req, true)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got != "mx.example.com" {
		t.Errorf("got %q, want %q", got, "mx.example.com")
	}
	if n := req.Tracker().DNSInteractiveTerms(); n != 1 {
		t.Errorf("p macro counted %d interactive terms, want 1", n)
	}

	// No reverse mapping: "unknown", and a void lookup.
	req2 := NewRequest(ScopeMFrom, "example.com", net.ParseIP("192.0.2.99"), "", "")
	req2.tracker = newTracker(10, 2)
	got, err = srv.expandMacro(context.Background(), "%{p}", req2, true)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got != "unknown" {
		t.Errorf("got %q, want %q", got, "unknown")
	}
	if n := req2.Tracker().VoidLookups(); n != 1 {
		t.Errorf("missing reverse mapping counted %d void lookups, want 1", n)
	}
}

func TestExpandMacroPTRCap(t *testing.T) {
	// Only MaxNameLookupsPerPTR names are considered for validation.
	resolver := dns.MockResolver{
		PTR: map[string][]string{
			"192.0.2.3": {"nope.example.org.", "mx.example.com."},
		},
		A: map[string][]string{
			"mx.example.com.": {"192.0.2.3"},
		},
	}
	srv := New(Options{Resolver: resolver, MaxNameLookupsPerPTR: 1})
	req := NewRequest(ScopeMFrom, "example.com", net.ParseIP("192.0.2.3"), "", "")
	req.tracker = newTracker(10, 10)

	got, err := srv.expandMacro(context.Background(), "%{p}", req, true)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got != "unknown" {
		t.Errorf("got %q, want %q", got, "unknown")
	}

	srv = New(Options{Resolver: resolver})
	req = NewRequest(ScopeMFrom, "example.com", net.ParseIP("192.0.2.3"), "", "")
	req.tracker = newTracker(10, 10)
	got, err = srv.expandMacro(context.Background(), "%{p}", req, true)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got != "mx.example.com" {
		t.Errorf("got %q, want %q", got, "mx.example.com")
	}
}

func TestExpandMacroFreshRequest(t *testing.T) {
	// Macro.Expand on a request that never went through Process must
	// create the limit tracker rather than dereference a nil one.
	resolver := dns.MockResolver{
		PTR: map[string][]string{
			"192.0.2.3": {"mx.example.com."},
		},
		A: map[string][]string{
			"mx.example.com.": {"192.0.2.3"},
		},
	}
	srv := New(Options{Resolver: resolver})
	req := NewRequest(ScopeMFrom, "example.com", net.ParseIP("192.0.2.3"), "", "")

	m := NewMacro("%{p}")
	got, err := m.Expand(context.Background(), srv, req, true)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got != "mx.example.com" {
		t.Errorf("got %q, want %q", got, "mx.example.com")
	}
	if req.Tracker() == nil {
		t.Fatal("tracker not created")
	}
	if n := req.Tracker().DNSInteractiveTerms(); n != 1 {
		t.Errorf("p macro counted %d interactive terms, want 1", n)
	}
}

func TestExpandDomainSpec(t *testing.T) {
	srv := New(Options{Resolver: dns.MockResolver{}})
	req := NewRequest(ScopeMFrom, "example.com", net.ParseIP("192.0.2.3"), "", "")
	req.tracker = newTracker(10, 2)

	got, err := srv.expandDomainSpec(context.Background(), "%{d1}.example.net.", req)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got != "com.example.net" {
		t.Errorf("got %q, want %q", got, "com.example.net")
	}
}
