package spf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/oklog/ulid/v2"

	"github.com/synqronlabs/spf/dns"
)

// QueryRRTypes selects which DNS record types a server queries when
// selecting a policy record.
type QueryRRTypes uint8

const (
	// QuerySPF enables queries for the dedicated SPF record type (99).
	QuerySPF QueryRRTypes = 1 << iota
	// QueryTXT enables queries for TXT records.
	QueryTXT

	// QueryAll enables both record types, SPF preferred.
	QueryAll = QuerySPF | QueryTXT
)

// Default resource limits, from RFC 7208 section 4.6.4.
const (
	DefaultMaxDNSInteractiveTerms = 10
	DefaultMaxNameLookupsPerTerm  = 10
	DefaultMaxVoidLookups         = 2
)

// DefaultExplanation is the authority explanation template used when the
// matched record carries no explanation of its own.
const DefaultExplanation = "host %{i} is not authorized to send mail for %{o}"

// Options configures a Server. The zero value is usable: every field has
// a working default.
type Options struct {
	// Hostname identifies the receiving host in Received-SPF headers and
	// the %{r} macro. Defaults to os.Hostname.
	Hostname string

	// Resolver performs all DNS lookups. Defaults to a resolver backed by
	// net.Resolver, which cannot issue SPF-type queries; pair a custom
	// QueryRRTypes with a capable resolver such as dns.NewResolver.
	Resolver dns.Resolver

	// QueryRRTypes selects the record types used during record selection.
	// Zero means QueryTXT.
	QueryRRTypes QueryRRTypes

	// MaxDNSInteractiveTerms bounds the DNS-interactive mechanisms and
	// modifiers (include, a, mx, ptr, exists, redirect) evaluated across
	// one whole evaluation tree. Zero means DefaultMaxDNSInteractiveTerms.
	MaxDNSInteractiveTerms int

	// MaxNameLookupsPerTerm is the default for the MX and PTR caps below.
	// It is not consulted directly; set the per-mechanism caps to bound a
	// single term. Zero means DefaultMaxNameLookupsPerTerm.
	MaxNameLookupsPerTerm int

	// MaxNameLookupsPerMX bounds the MX hosts resolved per mx mechanism.
	// Zero means MaxNameLookupsPerTerm.
	MaxNameLookupsPerMX int

	// MaxNameLookupsPerPTR bounds the PTR names validated per ptr
	// mechanism or %{p} macro. Zero means MaxNameLookupsPerTerm.
	MaxNameLookupsPerPTR int

	// MaxVoidLookups bounds the lookups returning no usable answer across
	// one whole evaluation tree. Zero means DefaultMaxVoidLookups.
	MaxVoidLookups int

	// DefaultExplanationText is the macro template expanded into a fail
	// explanation when the record supplies none. Empty means
	// DefaultExplanation.
	DefaultExplanationText string

	// AbortOnSPFTimeout makes a timeout of the SPF-type query abort record
	// selection instead of falling back to TXT.
	AbortOnSPFTimeout bool

	// Logger receives debug logging for record selection and evaluation.
	// Nil means no logging.
	Logger *slog.Logger
}

// Server evaluates sender policies. A Server is safe for concurrent use.
type Server struct {
	hostname               string
	resolver               dns.Resolver
	queryRRTypes           QueryRRTypes
	maxDNSInteractiveTerms int
	maxNameLookupsPerTerm  int
	maxNameLookupsPerMX    int
	maxNameLookupsPerPTR   int
	maxVoidLookups         int
	defaultExplanation     *Macro
	abortOnSPFTimeout      bool
	log                    *slog.Logger
}

// New returns a Server with the given options, filling in defaults for
// zero fields.
func New(opts Options) *Server {
	s := &Server{
		hostname:               opts.Hostname,
		resolver:               opts.Resolver,
		queryRRTypes:           opts.QueryRRTypes,
		maxDNSInteractiveTerms: opts.MaxDNSInteractiveTerms,
		maxNameLookupsPerTerm:  opts.MaxNameLookupsPerTerm,
		maxNameLookupsPerMX:    opts.MaxNameLookupsPerMX,
		maxNameLookupsPerPTR:   opts.MaxNameLookupsPerPTR,
		maxVoidLookups:         opts.MaxVoidLookups,
		abortOnSPFTimeout:      opts.AbortOnSPFTimeout,
		log:                    opts.Logger,
	}
	if s.hostname == "" {
		if name, err := os.Hostname(); err == nil {
			s.hostname = name
		} else {
			s.hostname = "localhost"
		}
	}
	if s.resolver == nil {
		s.resolver = dns.NewStdResolver()
	}
	if s.queryRRTypes == 0 {
		s.queryRRTypes = QueryTXT
	}
	if s.maxDNSInteractiveTerms == 0 {
		s.maxDNSInteractiveTerms = DefaultMaxDNSInteractiveTerms
	}
	if s.maxNameLookupsPerTerm == 0 {
		s.maxNameLookupsPerTerm = DefaultMaxNameLookupsPerTerm
	}
	if s.maxNameLookupsPerMX == 0 {
		s.maxNameLookupsPerMX = s.maxNameLookupsPerTerm
	}
	if s.maxNameLookupsPerPTR == 0 {
		s.maxNameLookupsPerPTR = s.maxNameLookupsPerTerm
	}
	if s.maxVoidLookups == 0 {
		s.maxVoidLookups = DefaultMaxVoidLookups
	}
	text := opts.DefaultExplanationText
	if text == "" {
		text = DefaultExplanation
	}
	s.defaultExplanation = NewMacro(text)
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Process evaluates the policy for a request and returns a verdict.
//
// Recoverable conditions never surface as Go errors: an absent or invalid
// authority domain and an absent policy map to a "none" verdict, transient
// DNS trouble to "temperror", and defective records or exceeded limits to
// "permerror". A non-nil error means something outside the verdict
// taxonomy went wrong and no verdict could be formed.
//
// Process resets the per-evaluation state on the request, so the same
// request value may be processed more than once.
func (s *Server) Process(ctx context.Context, req *Request) (*Result, error) {
	root := req.Root()
	root.tracker = newTracker(s.maxDNSInteractiveTerms, s.maxVoidLookups)
	root.explanation = nil
	req.explanation = nil
	req.record = nil
	if root.id == (ulid.ULID{}) {
		root.id = ulid.Make()
	}

	s.log.DebugContext(ctx, "evaluating policy",
		slog.String("id", req.ID()),
		slog.String("scope", req.Scope.String()),
		slog.String("domain", req.Domain),
		slog.Any("ip", req.IP))

	result, err := s.checkHost(ctx, req)
	if err != nil {
		result, err = s.errorResult(req, err)
		if err != nil {
			return nil, err
		}
	}

	s.log.DebugContext(ctx, "policy evaluated",
		slog.String("id", req.ID()),
		slog.String("result", result.Code.String()),
		slog.String("mechanism", result.Mechanism),
		slog.Int("dns-interactive-terms", root.tracker.DNSInteractiveTerms()),
		slog.Int("void-lookups", root.tracker.VoidLookups()))

	return result, nil
}

// errorResult maps a processing error onto the verdict it stands for.
func (s *Server) errorResult(req *Request, err error) (*Result, error) {
	var dnsErr *DNSError
	switch {
	case errors.As(err, &dnsErr):
		return s.NewResult(TempError, req, err.Error()), nil
	case errors.Is(err, ErrNoAcceptableRecord), errors.Is(err, ErrInvalidDomain):
		res := s.NewResult(None, req, "")
		res.Comment = err.Error()
		return res, nil
	case errors.Is(err, ErrRedundantRecords),
		errors.Is(err, ErrRecordSyntax),
		errors.Is(err, ErrMacroSyntax),
		errors.Is(err, ErrTooManyDNSRequests),
		errors.Is(err, ErrTooManyVoidLookups):
		return s.NewResult(PermError, req, err.Error()), nil
	}
	return nil, fmt.Errorf("evaluating %q: %w", req.Domain, err)
}

// checkHost selects and evaluates the record for one node of the
// evaluation tree. Errors carry the raw taxonomy and are mapped to
// verdicts by the caller.
func (s *Server) checkHost(ctx context.Context, req *Request) (*Result, error) {
	record, err := s.SelectRecord(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := req.SetRecord(record); err != nil {
		return nil, err
	}

	s.log.DebugContext(ctx, "record selected",
		slog.String("id", req.ID()),
		slog.String("domain", req.Domain),
		slog.String("record", record.String()))

	return record.Eval(ctx, s, req)
}
