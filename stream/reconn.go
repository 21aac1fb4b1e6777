package stream

import (
	"context"
	"time"

	"github.com/weibocom/breeze-sub003/metrics"
)

// ReconnPolicy paces backend reconnects: the first three consecutive
// failures retry after a second, later ones wait 15s. Success resets the
// streak. The fixed schedule is part of the operational contract with the
// backend fleet; it is not a tunable.
type ReconnPolicy struct {
	addr     string
	conns    int
	failures int
}

// NewReconnPolicy creates a policy for one backend address.
func NewReconnPolicy(addr string) *ReconnPolicy {
	return &ReconnPolicy{addr: addr}
}

// OnSuccess records an established connection.
func (p *ReconnPolicy) OnSuccess() {
	if p.conns != 0 {
		metrics.BackendReconnects.WithLabelValues(p.addr).Inc()
	}
	p.failures = 0
	p.conns++
}

// OnFailed records a failed attempt and sleeps the scheduled pause, or
// returns early when the context is cancelled.
func (p *ReconnPolicy) OnFailed(ctx context.Context) {
	metrics.BackendReconnects.WithLabelValues(p.addr).Inc()
	p.failures++
	p.conns++

	pause := 15 * time.Second
	if p.failures <= 3 {
		pause = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(pause):
	}
}
