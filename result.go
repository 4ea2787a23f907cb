package spf

import (
	"strings"
)

// Code is the verdict of an SPF check. The set is closed; every evaluation
// terminates in exactly one of these.
type Code uint8

const (
	// None indicates no applicable SPF record was published.
	None Code = iota

	// Neutral indicates the domain owner states nothing about the host.
	Neutral

	// Pass indicates the host is authorized to send for the domain.
	Pass

	// Fail indicates the host is explicitly not authorized.
	Fail

	// Softfail indicates the host is probably not authorized.
	Softfail

	// TempError indicates a transient failure, usually at the DNS layer.
	TempError

	// PermError indicates the published policy cannot be correctly
	// interpreted, or a processing limit was exceeded.
	PermError
)

// codeNames is the fixed table behind name-keyed verdict construction.
var codeNames = [...]string{
	None:      "none",
	Neutral:   "neutral",
	Pass:      "pass",
	Fail:      "fail",
	Softfail:  "softfail",
	TempError: "temperror",
	PermError: "permerror",
}

// String returns the canonical verdict name.
func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "unknown"
}

// ResultCode maps a canonical verdict name to its Code.
func ResultCode(name string) (Code, bool) {
	for c, n := range codeNames {
		if n == name {
			return Code(c), true
		}
	}
	return None, false
}

// Result is a terminal SPF verdict for one request.
type Result struct {
	// Code is the verdict.
	Code Code

	// Request is the request the verdict was produced for.
	Request *Request

	// Mechanism is the directive that decided the verdict, when one did.
	Mechanism string

	// Explanation carries the authority explanation for Fail verdicts.
	Explanation string

	// Problem describes the failure behind TempError and PermError.
	Problem string

	// Comment provides additional context for the Received-SPF header.
	Comment string

	// Authentic indicates every DNS response involved was
	// DNSSEC-validated.
	Authentic bool

	receiver string
}

// NewResult constructs a verdict for a request. text lands in Explanation
// for Fail and in Problem for TempError and PermError; other codes carry
// it as a comment.
func (s *Server) NewResult(code Code, req *Request, text string) *Result {
	r := &Result{
		Code:     code,
		Request:  req,
		receiver: s.hostname,
	}
	if req != nil {
		if t := req.Tracker(); t != nil {
			r.Authentic = t.Authentic()
		}
	}

	switch code {
	case Fail:
		r.Explanation = text
	case TempError, PermError:
		r.Problem = text
	default:
		r.Comment = text
	}
	return r
}

// ResultClass returns the constructor for a named verdict, or false for an
// unknown name. The dispatch is a fixed table, not an open registry.
func (s *Server) ResultClass(name string) (func(req *Request, text string) *Result, bool) {
	code, ok := ResultCode(name)
	if !ok {
		return nil, false
	}
	return func(req *Request, text string) *Result {
		return s.NewResult(code, req, text)
	}, true
}

// ReceivedHeader generates a Received-SPF header value for the result.
func (r *Result) ReceivedHeader() string {
	var b strings.Builder
	b.WriteString("Received-SPF: ")
	b.WriteString(r.Code.String())

	if r.Comment != "" {
		b.WriteString(" (")
		b.WriteString(r.Comment)
		b.WriteString(")")
	}

	req := r.Request
	if req == nil {
		req = &Request{}
	}

	clientIP := ""
	if req.IP != nil {
		clientIP = req.IP.String()
	}
	b.WriteString(" client-ip=")
	b.WriteString(encodeHeaderValue(clientIP))
	b.WriteByte(';')

	b.WriteString(" envelope-from=")
	b.WriteString(encodeHeaderValue(req.Sender))
	b.WriteByte(';')

	b.WriteString(" helo=")
	b.WriteString(encodeHeaderValue(req.HeloDomain))
	b.WriteByte(';')

	if r.Problem != "" {
		// Truncate problem to avoid excessively long headers
		problem := r.Problem
		if len(problem) > 60 {
			problem = problem[:60]
		}
		b.WriteString(" problem=")
		b.WriteString(encodeHeaderValue(problem))
		b.WriteByte(';')
	}

	if r.Mechanism != "" {
		b.WriteString(" mechanism=")
		b.WriteString(encodeHeaderValue(r.Mechanism))
		b.WriteByte(';')
	}

	b.WriteString(" receiver=")
	b.WriteString(encodeHeaderValue(r.receiver))
	b.WriteByte(';')

	b.WriteString(" identity=")
	b.WriteString(encodeHeaderValue(req.Scope.String()))

	return b.String()
}

// encodeHeaderValue encodes a value for use in the Received-SPF header.
func encodeHeaderValue(s string) string {
	if s == "" {
		return `""`
	}
	// Check if quoting is needed
	needsQuote := false
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '!' || c == '#' || c == '$' || c == '%' || c == '&' || c == '\'' ||
			c == '*' || c == '+' || c == '-' || c == '/' || c == '=' || c == '?' ||
			c == '^' || c == '_' || c == '`' || c == '{' || c == '|' || c == '}' || c == '~' ||
			c == '.' || c == '@') {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return s
	}

	// Quote the string
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range s {
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	b.WriteByte('"')
	return b.String()
}
