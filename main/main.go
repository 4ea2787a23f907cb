package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/synqronlabs/spf"
	"github.com/synqronlabs/spf/dns"
)

func main() {
	var (
		scope      = flag.String("scope", "mailfrom", "identity scope: helo, mailfrom or pra")
		sender     = flag.String("sender", "", "envelope sender, e.g. alice@example.org")
		helo       = flag.String("helo", "", "HELO/EHLO hostname of the connecting client")
		nameserver = flag.String("nameserver", "", "nameserver address, host or host:port (default: system resolver)")
		dnssec     = flag.Bool("dnssec", false, "request DNSSEC validation from the nameserver")
		spfType    = flag.Bool("spf-type", false, "also query the dedicated SPF record type (requires -nameserver)")
		timeout    = flag.Duration("timeout", 20*time.Second, "overall evaluation timeout")
		verbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] domain ip\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	domain := flag.Arg(0)
	ip := net.ParseIP(flag.Arg(1))
	if ip == nil {
		log.Fatalf("invalid ip %q", flag.Arg(1))
	}

	var reqScope spf.Scope
	switch *scope {
	case "helo":
		reqScope = spf.ScopeHelo
	case "mailfrom":
		reqScope = spf.ScopeMFrom
	case "pra":
		reqScope = spf.ScopePRA
	default:
		log.Fatalf("unknown scope %q", *scope)
	}

	var logger *slog.Logger
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	opts := spf.Options{Logger: logger}
	if *nameserver != "" {
		host, port, err := net.SplitHostPort(*nameserver)
		if err != nil {
			host, port = *nameserver, "53"
		}
		opts.Resolver = dns.NewResolver(dns.ResolverConfig{
			Nameservers: []string{net.JoinHostPort(host, port)},
			DNSSEC:      *dnssec,
		})
	}
	if *spfType {
		opts.QueryRRTypes = spf.QueryAll
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req := spf.NewRequest(reqScope, domain, ip, *sender, *helo)
	srv := spf.New(opts)
	result, err := srv.Process(ctx, req)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("result: %s\n", result.Code)
	if result.Mechanism != "" {
		fmt.Printf("mechanism: %s\n", result.Mechanism)
	}
	if result.Explanation != "" {
		fmt.Printf("explanation: %s\n", result.Explanation)
	}
	if result.Problem != "" {
		fmt.Printf("problem: %s\n", result.Problem)
	}
	fmt.Printf("dnssec: %v\n", result.Authentic)
	fmt.Println()
	fmt.Println(result.ReceivedHeader())
}
