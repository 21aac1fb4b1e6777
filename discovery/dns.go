package discovery

import (
	"context"
	"net"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Resolver resolves one hostname to its IPv4 set.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) ([]string, error)
}

// SystemResolver resolves through the system configuration.
type SystemResolver struct{}

func (SystemResolver) LookupIPv4(ctx context.Context, host string) ([]string, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	sort.Strings(out)
	return out, nil
}

// DNSRefresher re-resolves registered backend hostnames on an interval and
// reports set changes, so pools can be rebuilt with a drain instead of
// serving a dead address until a connection error surfaces it.
type DNSRefresher struct {
	resolver Resolver
	interval time.Duration
	onChange func(host string, ips []string)
	log      *zap.SugaredLogger

	hosts map[string][]string
	reg   chan string
}

// NewDNSRefresher creates a refresher notifying onChange for every host whose
// resolved set changed.
func NewDNSRefresher(resolver Resolver, interval time.Duration, onChange func(host string, ips []string), log *zap.SugaredLogger) *DNSRefresher {
	return &DNSRefresher{
		resolver: resolver,
		interval: interval,
		onChange: onChange,
		log:      log,
		hosts:    map[string][]string{},
		reg:      make(chan string, 64),
	}
}

// Register adds a hostname to the refresh set. Literal IP addresses are
// ignored.
func (m *DNSRefresher) Register(host string) {
	if net.ParseIP(host) != nil {
		return
	}
	m.reg <- host
}

// Run blocks resolving until the context is done.
func (m *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case host := <-m.reg:
			if _, ok := m.hosts[host]; !ok {
				m.hosts[host] = nil
				m.refresh(ctx, host)
			}
		case <-ticker.C:
			for host := range m.hosts {
				m.refresh(ctx, host)
			}
		}
	}
}

func (m *DNSRefresher) refresh(ctx context.Context, host string) {
	ips, err := m.resolver.LookupIPv4(ctx, host)
	if err != nil {
		m.log.Warnw("dns lookup failed", zap.String("host", host), zap.Error(err))
		return
	}
	if len(ips) == 0 || slices.Equal(m.hosts[host], ips) {
		return
	}
	m.log.Infow("dns set changed",
		zap.String("host", host),
		zap.Strings("was", m.hosts[host]),
		zap.Strings("now", ips),
	)
	m.hosts[host] = ips
	m.onChange(host, ips)
}
