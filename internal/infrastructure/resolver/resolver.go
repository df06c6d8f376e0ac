// Package resolver turns the configured host names into addresses once, at
// startup. Lookups go straight to the nameservers over DNS.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var ErrNotFound = errors.New("host not found")

// fallbackServer is used when resolv.conf cannot be read.
const fallbackServer = "8.8.8.8:53"

type DNSResolver struct {
	servers   []string
	conf      *dns.ClientConfig
	client    *dns.Client
	hostsPath string
}

// New queries servers ("host:port") in order.
func New(servers []string, timeout time.Duration) *DNSResolver {
	return &DNSResolver{
		servers: servers,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// FromResolvConf reads nameservers and search domains from path, usually
// /etc/resolv.conf.
func FromResolvConf(path string, timeout time.Duration) *DNSResolver {
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil || len(conf.Servers) == 0 {
		return New([]string{fallbackServer}, timeout)
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	r := New(servers, timeout)
	r.conf = conf
	return r
}

// WithHostsFile makes Resolve consult a hosts(5) file, usually /etc/hosts,
// before sending any query.
func (r *DNSResolver) WithHostsFile(path string) *DNSResolver {
	r.hostsPath = path
	return r
}

// Resolve returns the first address for host. IP literals, hosts file
// entries and localhost are answered without a query; an empty host means
// the IPv4 wildcard.
func (r *DNSResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if host == "" {
		return netip.IPv4Unspecified(), nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap(), nil
	}
	if r.hostsPath != "" {
		if ip, ok := lookupHosts(r.hostsPath, host); ok {
			return ip, nil
		}
	}
	if strings.EqualFold(host, "localhost") || strings.EqualFold(host, "localhost.") {
		return netip.AddrFrom4([4]byte{127, 0, 0, 1}), nil
	}

	names := []string{dns.Fqdn(host)}
	if r.conf != nil {
		names = r.conf.NameList(host)
	}

	var lastErr error
	for _, name := range names {
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			ip, err := r.query(ctx, name, qtype)
			if err == nil {
				return ip, nil
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, lastErr)
}

func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = fmt.Errorf("query %s: %w", server, err)
			continue
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return netip.Addr{}, ErrNotFound
		default:
			// SERVFAIL, REFUSED and friends say nothing about the name
			lastErr = fmt.Errorf("query %s: %s", server, dns.RcodeToString[in.Rcode])
			continue
		}
		for _, ans := range in.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				if ip, ok := netip.AddrFromSlice(rr.A.To4()); ok {
					return ip, nil
				}
			case *dns.AAAA:
				if ip, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
					return ip.Unmap(), nil
				}
			}
		}
		return netip.Addr{}, ErrNotFound
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return netip.Addr{}, lastErr
}
