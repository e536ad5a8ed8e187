package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/karatag/satsweep/target"
)

// RDNSResult is supplementary metadata captured once per run, kept out of
// the RTT sample stream.
type RDNSResult struct {
	Target      string   `json:"target_id"`
	Status      Status   `json:"status"`
	PTRNames    []string `json:"ptr_names"`
	QueryTimeMs float64  `json:"query_time_ms"`
}

// RDNS performs a one-shot reverse (PTR) lookup via the system resolver.
type RDNS struct {
	Timeout time.Duration
}

func (p *RDNS) Lookup(ctx context.Context, tgt target.Target) RDNSResult {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	res := RDNSResult{Target: tgt.ID(), PTRNames: []string{}}

	start := time.Now()
	names, err := net.DefaultResolver.LookupAddr(ctx, tgt.Addr)
	res.QueryTimeMs = float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		var dnsErr *net.DNSError
		switch {
		case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
			// No PTR record is still a successful lookup.
			res.Status = StatusSuccess
		case errors.As(err, &dnsErr) && dnsErr.IsTimeout, ctx.Err() != nil:
			res.Status = StatusTimeout
			logrus.Warnf("rdns %s: lookup timed out after %v", tgt.Addr, p.Timeout)
		default:
			res.Status = StatusError
			logrus.Warnf("rdns %s: %v", tgt.Addr, err)
		}
		return res
	}

	for _, n := range names {
		res.PTRNames = append(res.PTRNames, strings.TrimSuffix(n, "."))
	}
	res.Status = StatusSuccess
	return res
}
