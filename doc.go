// Package spf evaluates sender policies published in DNS, deciding
// whether a host is authorized to send mail on behalf of a domain
// (RFC 7208), with optional support for the older spf2.0 record form
// (RFC 4406).
//
// A Server holds the configuration shared across evaluations: the
// resolver, the record types to query, the resource limits and the
// default authority explanation. A Request carries the identity being
// checked, the scope it applies to and the per-evaluation state shared
// through the whole tree of includes and redirects.
//
//	srv := spf.New(spf.Options{})
//	req := spf.NewRequest(spf.ScopeMFrom, "example.org", ip, "alice@example.org", "mx.example.org")
//	result, err := srv.Process(ctx, req)
//	if err != nil {
//		// defect outside the verdict taxonomy
//	}
//	fmt.Println(result.Code, result.Mechanism)
//	fmt.Println(result.ReceivedHeader())
//
// Process never returns an error for conditions the verdict taxonomy
// covers: transient DNS trouble yields a temperror verdict, defective
// records and exceeded limits a permerror, and absent records or an
// invalid authority domain a none.
package spf
