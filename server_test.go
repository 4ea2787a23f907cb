package spf

import (
	"testing"

	"github.com/synqronlabs/spf/dns"
)

func TestNewDefaults(t *testing.T) {
	srv := New(Options{})

	if srv.hostname == "" {
		t.Error("hostname not defaulted")
	}
	if srv.resolver == nil {
		t.Error("resolver not defaulted")
	}
	if srv.queryRRTypes != QueryTXT {
		t.Errorf("queryRRTypes = %v, want QueryTXT", srv.queryRRTypes)
	}
	if srv.maxDNSInteractiveTerms != DefaultMaxDNSInteractiveTerms {
		t.Errorf("maxDNSInteractiveTerms = %d", srv.maxDNSInteractiveTerms)
	}
	if srv.maxVoidLookups != DefaultMaxVoidLookups {
		t.Errorf("maxVoidLookups = %d", srv.maxVoidLookups)
	}
	if srv.maxNameLookupsPerMX != DefaultMaxNameLookupsPerTerm || srv.maxNameLookupsPerPTR != DefaultMaxNameLookupsPerTerm {
		t.Error("per-mechanism caps should default to the per-term cap")
	}
	if srv.defaultExplanation.String() != DefaultExplanation {
		t.Errorf("default explanation %q", srv.defaultExplanation)
	}
	if srv.log == nil {
		t.Error("logger not defaulted")
	}
}

func TestNewOverrides(t *testing.T) {
	srv := New(Options{
		Hostname:              "mx.example.org",
		Resolver:              dns.MockResolver{},
		QueryRRTypes:          QueryAll,
		MaxNameLookupsPerTerm: 5,
		MaxNameLookupsPerMX:   2,
	})

	if srv.hostname != "mx.example.org" || srv.queryRRTypes != QueryAll {
		t.Errorf("options not applied: %+v", srv)
	}
	if srv.maxNameLookupsPerMX != 2 {
		t.Errorf("maxNameLookupsPerMX = %d, want 2", srv.maxNameLookupsPerMX)
	}
	if srv.maxNameLookupsPerPTR != 5 {
		t.Errorf("maxNameLookupsPerPTR = %d, want the per-term cap 5", srv.maxNameLookupsPerPTR)
	}
}
