package probe

import (
	"context"
	"math"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/karatag/satsweep/target"
)

// DNS measures RTT by sending a single UDP query directly to the target,
// treating it as a resolver. The RTT spans the wait for a valid response
// carrying the query's transaction ID.
type DNS struct {
	Timeout     time.Duration
	QueryDomain string
	QueryType   string
}

func (p *DNS) Type() Type { return TypeDNS }

func (p *DNS) Probe(ctx context.Context, tgt target.Target) Outcome {
	name, err := dnsmessage.NewName(dnsDomain(p.QueryDomain))
	if err != nil {
		logrus.Debugf("dns %s: bad query domain %q: %v", tgt.Addr, p.QueryDomain, err)
		return failure(tgt, TypeDNS, StatusError)
	}

	txid := newTxID()
	query := dnsmessage.Message{
		Header: dnsmessage.Header{
			ID:               txid,
			RecursionDesired: true,
		},
		Questions: []dnsmessage.Question{{
			Name:  name,
			Type:  dnsType(p.QueryType),
			Class: dnsmessage.ClassINET,
		}},
	}
	wire, err := query.Pack()
	if err != nil {
		logrus.Debugf("dns %s: pack failed: %v", tgt.Addr, err)
		return failure(tgt, TypeDNS, StatusError)
	}

	conn, err := net.Dial("udp", net.JoinHostPort(tgt.Addr, "53"))
	if err != nil {
		return failure(tgt, TypeDNS, StatusError)
	}
	defer conn.Close()

	deadline := time.Now().Add(p.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return failure(tgt, TypeDNS, StatusError)
	}

	start := time.Now()
	if _, err := conn.Write(wire); err != nil {
		return classifyNetErr(tgt, err)
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return classifyNetErr(tgt, err)
		}
		rtt := time.Since(start)

		var resp dnsmessage.Message
		if err := resp.Unpack(buf[:n]); err != nil {
			continue
		}
		if resp.Header.ID != txid || !resp.Header.Response {
			continue
		}
		return success(tgt, TypeDNS, rtt)
	}
}

func classifyNetErr(tgt target.Target, err error) Outcome {
	if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
		return failure(tgt, TypeDNS, StatusTimeout)
	}
	// A UDP socket surfaces ICMP port/host unreachable as ECONNREFUSED
	// or EHOSTUNREACH on the next read.
	if opErr, ok := err.(*net.OpError); ok && opErr.Op == "read" {
		return failure(tgt, TypeDNS, StatusUnreachable)
	}
	logrus.Debugf("dns %s: %v", tgt.Addr, err)
	return failure(tgt, TypeDNS, StatusError)
}

func dnsDomain(domain string) string {
	if len(domain) == 0 || domain[len(domain)-1] != '.' {
		return domain + "."
	}
	return domain
}

func dnsType(qtype string) dnsmessage.Type {
	switch qtype {
	case "AAAA":
		return dnsmessage.TypeAAAA
	case "NS":
		return dnsmessage.TypeNS
	case "TXT":
		return dnsmessage.TypeTXT
	default:
		return dnsmessage.TypeA
	}
}

var txSeed int64 = time.Now().UnixNano()

func newTxID() uint16 {
	r := rand.New(rand.NewSource(atomic.AddInt64(&txSeed, 1)))
	return uint16(r.Intn(math.MaxUint16))
}
