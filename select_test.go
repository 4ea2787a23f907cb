package spf

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/synqronlabs/spf/dns"
)

func ip4(s string) net.IP {
	return net.ParseIP(s)
}

func mfromRequest(domain string) *Request {
	return NewRequest(ScopeMFrom, domain, ip4("192.0.2.1"), "sender@"+domain, "mta."+domain)
}

func TestSelectRecordTXT(t *testing.T) {
	srv := New(Options{
		Resolver: dns.MockResolver{
			TXT: map[string][]string{
				"example.com.": {"hello world", "v=spf1 -all"},
			},
		},
	})

	rec, err := srv.SelectRecord(context.Background(), mfromRequest("example.com"))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if rec.Version() != V1 {
		t.Errorf("version %v, want V1", rec.Version())
	}
	if got := rec.String(); got != "v=spf1 -all" {
		t.Errorf("selected %q", got)
	}

	// Domain names are canonicalized before querying.
	rec, err = srv.SelectRecord(context.Background(), mfromRequest("EXAMPLE.com."))
	if err != nil {
		t.Fatalf("canonicalized query: unexpected error %v", err)
	}
	if rec == nil {
		t.Fatal("canonicalized query: no record")
	}
}

func TestSelectRecordPreferSPFType(t *testing.T) {
	srv := New(Options{
		QueryRRTypes: QueryAll,
		Resolver: dns.MockResolver{
			SPF: map[string][]string{
				"example.com.": {"v=spf1 a -all"},
			},
			TXT: map[string][]string{
				"example.com.": {"v=spf1 -all"},
			},
			// A TXT query would fail, proving none is issued once the
			// SPF type yields an acceptable record.
			Fail: []string{"txt example.com."},
		},
	})

	rec, err := srv.SelectRecord(context.Background(), mfromRequest("example.com"))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := rec.String(); got != "v=spf1 a -all" {
		t.Errorf("selected %q, want the SPF-type record", got)
	}
}

func TestSelectRecordFallbackToTXT(t *testing.T) {
	// SPF type has no record at all.
	srv := New(Options{
		QueryRRTypes: QueryAll,
		Resolver: dns.MockResolver{
			TXT: map[string][]string{
				"example.com.": {"v=spf1 -all"},
			},
		},
	})
	rec, err := srv.SelectRecord(context.Background(), mfromRequest("example.com"))
	if err != nil {
		t.Fatalf("NXDOMAIN on SPF type: unexpected error %v", err)
	}
	if got := rec.String(); got != "v=spf1 -all" {
		t.Errorf("selected %q", got)
	}

	// SPF-type answers exist but none is acceptable.
	srv = New(Options{
		QueryRRTypes: QueryAll,
		Resolver: dns.MockResolver{
			SPF: map[string][]string{
				"example.com.": {"not-spf"},
			},
			TXT: map[string][]string{
				"example.com.": {"v=spf1 -all"},
			},
		},
	})
	rec, err = srv.SelectRecord(context.Background(), mfromRequest("example.com"))
	if err != nil {
		t.Fatalf("no acceptable SPF-type record: unexpected error %v", err)
	}
	if got := rec.String(); got != "v=spf1 -all" {
		t.Errorf("selected %q", got)
	}

	// SPF-type query fails but TXT succeeds: still a record.
	srv = New(Options{
		QueryRRTypes: QueryAll,
		Resolver: dns.MockResolver{
			TXT: map[string][]string{
				"example.com.": {"v=spf1 -all"},
			},
			Fail: []string{"spf example.com."},
		},
	})
	if _, err := srv.SelectRecord(context.Background(), mfromRequest("example.com")); err != nil {
		t.Fatalf("failed SPF-type query with good TXT: unexpected error %v", err)
	}
}

func TestSelectRecordAllQueriesFailed(t *testing.T) {
	srv := New(Options{
		QueryRRTypes: QueryAll,
		Resolver: dns.MockResolver{
			Timeout: []string{"spf example.com."},
			Fail:    []string{"txt example.com."},
		},
	})

	_, err := srv.SelectRecord(context.Background(), mfromRequest("example.com"))
	var dnsErr *DNSError
	if !errors.As(err, &dnsErr) {
		t.Fatalf("got %v, want a DNS error", err)
	}
	// The first failure wins: the SPF-type timeout.
	if !dnsErr.Timeout {
		t.Errorf("first error should be the SPF-type timeout: %v", dnsErr)
	}
	if dnsErr.RRType != dns.TypeSPF {
		t.Errorf("RRType = %d, want %d", dnsErr.RRType, dns.TypeSPF)
	}
}

func TestSelectRecordAbortOnSPFTimeout(t *testing.T) {
	resolver := dns.MockResolver{
		TXT: map[string][]string{
			"example.com.": {"v=spf1 -all"},
		},
		Timeout: []string{"spf example.com."},
	}

	// Default: the timeout does not prevent TXT fallback.
	srv := New(Options{QueryRRTypes: QueryAll, Resolver: resolver})
	if _, err := srv.SelectRecord(context.Background(), mfromRequest("example.com")); err != nil {
		t.Fatalf("timeout should fall back to TXT: %v", err)
	}

	srv = New(Options{QueryRRTypes: QueryAll, Resolver: resolver, AbortOnSPFTimeout: true})
	_, err := srv.SelectRecord(context.Background(), mfromRequest("example.com"))
	var dnsErr *DNSError
	if !errors.As(err, &dnsErr) || !dnsErr.Timeout {
		t.Fatalf("got %v, want timeout DNS error", err)
	}
}

func TestSelectRecordNone(t *testing.T) {
	srv := New(Options{
		Resolver: dns.MockResolver{
			TXT: map[string][]string{
				"nodata.example.com.":  {},
				"nonspf.example.com.":  {"some text"},
				"wrongv.example.com.":  {"v=spf10 -all"},
				"prabound.example.com.": {"spf2.0/pra -all"},
			},
		},
	})

	for _, domain := range []string{"example.com", "nodata.example.com", "nonspf.example.com", "wrongv.example.com", "prabound.example.com"} {
		_, err := srv.SelectRecord(context.Background(), mfromRequest(domain))
		if !errors.Is(err, ErrNoAcceptableRecord) {
			t.Errorf("%s: got %v, want ErrNoAcceptableRecord", domain, err)
		}
	}

	if _, err := srv.SelectRecord(context.Background(), mfromRequest("")); !errors.Is(err, ErrInvalidDomain) {
		t.Errorf("empty domain: got %v, want ErrInvalidDomain", err)
	}
}

func TestSelectRecordVersions(t *testing.T) {
	srv := New(Options{
		Resolver: dns.MockResolver{
			TXT: map[string][]string{
				// Both versions published: only the highest counts.
				"both.example.com.": {"v=spf1 -all", "spf2.0/mfrom,pra ~all"},
				// Two v1 next to one v2 is still unambiguous.
				"extra.example.com.": {"v=spf1 -all", "v=spf1 a -all", "spf2.0/mfrom ~all"},
				"v2only.example.com.": {"spf2.0/mfrom -all"},
			},
		},
	})

	for _, domain := range []string{"both.example.com", "extra.example.com"} {
		rec, err := srv.SelectRecord(context.Background(), mfromRequest(domain))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", domain, err)
		}
		if rec.Version() != V2 {
			t.Errorf("%s: version %v, want V2", domain, rec.Version())
		}
	}

	// The helo scope only accepts v1, so a v2-only domain has no record.
	req := NewRequest(ScopeHelo, "v2only.example.com", ip4("192.0.2.1"), "", "mta.example.com")
	if _, err := srv.SelectRecord(context.Background(), req); !errors.Is(err, ErrNoAcceptableRecord) {
		t.Errorf("helo scope with v2-only record: got %v, want ErrNoAcceptableRecord", err)
	}

	// The pra scope accepts v2, but an mfrom-only record does not cover it.
	req = NewRequest(ScopePRA, "v2only.example.com", ip4("192.0.2.1"), "sender@v2only.example.com", "")
	if _, err := srv.SelectRecord(context.Background(), req); !errors.Is(err, ErrNoAcceptableRecord) {
		t.Errorf("pra scope with mfrom-only record: got %v, want ErrNoAcceptableRecord", err)
	}
}

func TestSelectRecordRedundant(t *testing.T) {
	srv := New(Options{
		Resolver: dns.MockResolver{
			TXT: map[string][]string{
				"example.com.": {"v=spf1 -all", "v=spf1 a -all"},
			},
		},
	})

	_, err := srv.SelectRecord(context.Background(), mfromRequest("example.com"))
	if !errors.Is(err, ErrRedundantRecords) {
		t.Fatalf("got %v, want ErrRedundantRecords", err)
	}
}

func TestSelectRecordSyntax(t *testing.T) {
	srv := New(Options{
		Resolver: dns.MockResolver{
			TXT: map[string][]string{
				"example.com.": {"v=spf1 bogus"},
			},
		},
	})

	_, err := srv.SelectRecord(context.Background(), mfromRequest("example.com"))
	if !errors.Is(err, ErrRecordSyntax) {
		t.Fatalf("got %v, want ErrRecordSyntax", err)
	}
}
