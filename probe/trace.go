package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/karatag/satsweep/target"
	"github.com/karatag/satsweep/util"
)

// Hop is one row of a parsed traceroute.
type Hop struct {
	Hop   int       `json:"hop"`
	IP    string    `json:"ip"`
	RTTs  []float64 `json:"rtts_ms"`
	AvgMs float64   `json:"avg_ms"`
}

// TraceResult is supplementary path metadata captured once per run, kept out
// of the RTT sample stream.
type TraceResult struct {
	Target             string `json:"target_id"`
	Status             Status `json:"status"`
	Hops               []Hop  `json:"hops"`
	DestinationReached bool   `json:"destination_reached"`
}

// Trace performs a one-shot traceroute by shelling out to the system
// traceroute binary. A missing binary or a timeout is recorded, never fatal.
type Trace struct {
	Timeout       time.Duration
	MaxHops       int
	QueriesPerHop int
}

func (p *Trace) Run(ctx context.Context, tgt target.Target) TraceResult {
	res := TraceResult{Target: tgt.ID()}

	args := fmt.Sprintf("-n -m %d -w %d -q %d %s",
		p.MaxHops, int(p.Timeout.Seconds()), p.QueriesPerHop, tgt.Addr)

	// Worst case: every hop waits out every query.
	overall := p.Timeout*time.Duration(p.MaxHops*(p.QueriesPerHop+1)) + 5*time.Second
	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	stdout, stderr, err := util.ExecContext(ctx, "traceroute", args)
	if err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			logrus.Warn("traceroute binary not found, skipping path trace")
			res.Status = StatusError
			return res
		case ctx.Err() != nil:
			logrus.Warnf("trace %s: timed out before completion", tgt.Addr)
			res.Status = StatusTimeout
			return res
		}
		// Nonzero exit with partial output still yields usable hops.
		logrus.Debugf("trace %s: %v: %s", tgt.Addr, err, stderr)
	}

	res.Hops = parseTraceOutput(stdout)
	for _, h := range res.Hops {
		if h.IP == tgt.Addr {
			res.DestinationReached = true
			break
		}
	}
	if len(res.Hops) > 0 {
		res.Status = StatusSuccess
	} else {
		res.Status = StatusError
	}
	return res
}

var (
	hopLineRe = regexp.MustCompile(`^\s*(\d+)\s+(.*)$`)
	hopRTTRe  = regexp.MustCompile(`([0-9.]+)\s*ms`)
	hopIPv4Re = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)`)
)

func parseTraceOutput(text string) []Hop {
	var hops []Hop
	for _, line := range strings.Split(text, "\n") {
		m := hopLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		no, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		rest := m[2]

		hop := Hop{Hop: no}
		for _, ms := range hopRTTRe.FindAllStringSubmatch(rest, -1) {
			if v, err := strconv.ParseFloat(ms[1], 64); err == nil {
				hop.RTTs = append(hop.RTTs, v)
			}
		}
		if ips := hopIPv4Re.FindAllString(rest, -1); len(ips) > 0 {
			hop.IP = ips[len(ips)-1]
		} else if i := strings.IndexByte(rest, ' '); i > 0 && strings.Contains(rest[:i], ":") {
			hop.IP = rest[:i]
		}
		if len(hop.RTTs) > 0 {
			var sum float64
			for _, v := range hop.RTTs {
				sum += v
			}
			hop.AvgMs = sum / float64(len(hop.RTTs))
		}
		hops = append(hops, hop)
	}
	return hops
}
