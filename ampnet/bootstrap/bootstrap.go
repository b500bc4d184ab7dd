// Package bootstrap resolves guardian and device bootstrap addresses via
// DNS TXT records, the way the teacher resolves its DNS seed list before
// falling back to hardcoded peers.
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver looks up TXT records against a fixed set of DNS servers.
type Resolver struct {
	client  *dns.Client
	servers []string
}

// NewResolver returns a Resolver querying servers (each "host:port", e.g.
// "1.1.1.1:53") with a per-query timeout.
func NewResolver(servers []string, timeout time.Duration) *Resolver {
	return &Resolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
	}
}

// ResolveAddresses queries domain's TXT records and parses every record
// of the form "aura-bootstrap=<host:port>" into a peer address, trying
// each configured server in turn until one answers.
func (r *Resolver) ResolveAddresses(domain string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)

	var lastErr error
	for _, server := range r.servers {
		reply, _, err := r.client.Exchange(msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("bootstrap: dns server %s returned rcode %d", server, reply.Rcode)
			continue
		}
		return parseTXTAnswers(reply.Answer), nil
	}
	return nil, fmt.Errorf("bootstrap: all DNS servers failed for %s: %w", domain, lastErr)
}

const addressPrefix = "aura-bootstrap="

func parseTXTAnswers(answers []dns.RR) []string {
	var addrs []string
	for _, rr := range answers {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, field := range txt.Txt {
			if strings.HasPrefix(field, addressPrefix) {
				addrs = append(addrs, strings.TrimPrefix(field, addressPrefix))
			}
		}
	}
	return addrs
}
