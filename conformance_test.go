package spf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/synqronlabs/spf/dns"
)

// The YAML suites under testdata/ describe scenarios end to end: a zone,
// an identity, and the verdict the evaluation must reach.

type suiteDoc struct {
	Description string               `yaml:"description"`
	Tests       map[string]suiteTest `yaml:"tests"`
	Zonedata    map[string]suiteZone `yaml:"zonedata"`
}

type suiteTest struct {
	Description string       `yaml:"description"`
	Helo        string       `yaml:"helo"`
	Host        string       `yaml:"host"`
	MailFrom    string       `yaml:"mailfrom"`
	Result      stringOrList `yaml:"result"`
	Explanation string       `yaml:"explanation"`
}

type suiteZone struct {
	TXT     []string `yaml:"txt"`
	SPF     []string `yaml:"spf"`
	A       []string `yaml:"a"`
	AAAA    []string `yaml:"aaaa"`
	MX      []string `yaml:"mx"`
	PTR     []string `yaml:"ptr"`
	Fail    []string `yaml:"fail"`
	Timeout []string `yaml:"timeout"`
}

// A result may be a scalar or a list of acceptable verdicts.
type stringOrList []string

func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var one string
		if err := value.Decode(&one); err != nil {
			return err
		}
		*s = []string{one}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = many
		return nil
	default:
		return fmt.Errorf("unsupported node kind for result: %v", value.Kind)
	}
}

// suiteResolver translates a suite's zonedata into a mock resolver. Zone
// keys are domain names, except PTR data, which is keyed by the address.
func suiteResolver(zonedata map[string]suiteZone) (dns.MockResolver, error) {
	r := dns.MockResolver{
		TXT:  map[string][]string{},
		SPF:  map[string][]string{},
		A:    map[string][]string{},
		AAAA: map[string][]string{},
		MX:   map[string][]*net.MX{},
		PTR:  map[string][]string{},
	}

	for key, zone := range zonedata {
		fqdn := key
		if !strings.HasSuffix(fqdn, ".") {
			fqdn += "."
		}
		if zone.TXT != nil {
			r.TXT[fqdn] = zone.TXT
		}
		if zone.SPF != nil {
			r.SPF[fqdn] = zone.SPF
		}
		if zone.A != nil {
			r.A[fqdn] = zone.A
		}
		if zone.AAAA != nil {
			r.AAAA[fqdn] = zone.AAAA
		}
		if zone.PTR != nil {
			// PTR entries are keyed by the literal address.
			r.PTR[key] = zone.PTR
		}
		for _, mx := range zone.MX {
			var pref uint16
			var host string
			if _, err := fmt.Sscanf(mx, "%d %s", &pref, &host); err != nil {
				return r, fmt.Errorf("zone %q: bad mx entry %q", key, mx)
			}
			if !strings.HasSuffix(host, ".") {
				host += "."
			}
			r.MX[fqdn] = append(r.MX[fqdn], &net.MX{Host: host, Pref: pref})
		}
		for _, typ := range zone.Fail {
			r.Fail = append(r.Fail, typ+" "+fqdn)
		}
		for _, typ := range zone.Timeout {
			r.Timeout = append(r.Timeout, typ+" "+fqdn)
		}
	}
	return r, nil
}

func TestConformanceSuites(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no suite files")
	}

	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			t.Fatal(err)
		}

		dec := yaml.NewDecoder(f)
		for {
			var doc suiteDoc
			if err := dec.Decode(&doc); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				t.Fatalf("%s: %v", file, err)
			}
			runSuite(t, filepath.Base(file), doc)
		}
		f.Close()
	}
}

func runSuite(t *testing.T, file string, doc suiteDoc) {
	resolver, err := suiteResolver(doc.Zonedata)
	if err != nil {
		t.Fatalf("%s (%s): %v", file, doc.Description, err)
	}
	srv := New(Options{
		Hostname:     "receiver.example",
		Resolver:     resolver,
		QueryRRTypes: QueryAll,
	})

	for name, tc := range doc.Tests {
		t.Run(file+"/"+name, func(t *testing.T) {
			ip := net.ParseIP(tc.Host)
			if ip == nil {
				t.Fatalf("bad host %q", tc.Host)
			}

			scope := ScopeMFrom
			domain := tc.MailFrom
			if at := strings.LastIndex(domain, "@"); at >= 0 {
				domain = domain[at+1:]
			}
			if tc.MailFrom == "" {
				scope = ScopeHelo
				domain = tc.Helo
			}

			req := NewRequest(scope, domain, ip, tc.MailFrom, tc.Helo)
			result, err := srv.Process(context.Background(), req)
			if err != nil {
				t.Fatalf("%s: %v", tc.Description, err)
			}

			got := result.Code.String()
			ok := false
			for _, want := range tc.Result {
				if got == want {
					ok = true
				}
			}
			if !ok {
				t.Errorf("%s: result %s, want one of %v (mechanism %q, problem %q)",
					tc.Description, got, tc.Result, result.Mechanism, result.Problem)
			}
			if tc.Explanation != "" && result.Explanation != tc.Explanation {
				t.Errorf("%s: explanation %q, want %q", tc.Description, result.Explanation, tc.Explanation)
			}
		})
	}
}
