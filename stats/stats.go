package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/karatag/satsweep/probe"
)

// Summary is the aggregate view of one sample series (or a label-scoped
// union of series). It is a pure function of its input samples: recomputing
// over the same immutable series always yields the identical value.
type Summary struct {
	Key          string
	Count        int
	SuccessCount int
	LossPct      float64

	// RTT is nil when the series has zero successful samples, which keeps
	// "no data" distinguishable from "zero latency".
	RTT *RTTStats
}

// RTTStats are computed over successful samples only, in milliseconds.
// Every quantile, the median included, uses the nearest-rank rule (inverse
// empirical CDF) at every sample size; the rule is never switched. StdDev
// is the sample standard deviation.
type RTTStats struct {
	Mean   float64
	Median float64
	P95    float64
	P99    float64
	Min    float64
	Max    float64
	StdDev float64
}

// Summarize aggregates one series under a key (target ID or group label).
// Skip markers carry no probe attempt and are excluded from the counts.
func Summarize(key string, series []probe.Outcome) Summary {
	s := Summary{Key: key}

	var rtts []float64
	for _, o := range series {
		if o.Status == probe.StatusSkipped {
			continue
		}
		s.Count++
		if o.RTTValid() {
			s.SuccessCount++
			rtts = append(rtts, o.RTT)
		}
	}

	if s.Count > 0 {
		s.LossPct = 100 * float64(s.Count-s.SuccessCount) / float64(s.Count)
	}

	if len(rtts) == 0 {
		return s
	}
	sort.Float64s(rtts)

	r := &RTTStats{
		Mean:   stat.Mean(rtts, nil),
		Median: stat.Quantile(0.50, stat.Empirical, rtts, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, rtts, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, rtts, nil),
		Min:    rtts[0],
		Max:    rtts[len(rtts)-1],
	}
	if len(rtts) > 1 {
		r.StdDev = stat.StdDev(rtts, nil)
	}
	s.RTT = r
	return s
}

// SummarizeByTarget aggregates a mixed stream per target, sorted by key.
func SummarizeByTarget(series []probe.Outcome) []Summary {
	byTarget := map[string][]probe.Outcome{}
	for _, o := range series {
		byTarget[o.Target] = append(byTarget[o.Target], o)
	}
	return summarizeMap(byTarget)
}

// SummarizeByGroup aggregates a mixed stream per group label, skipping
// unlabeled samples.
func SummarizeByGroup(series []probe.Outcome) []Summary {
	byGroup := map[string][]probe.Outcome{}
	for _, o := range series {
		if o.Group == "" {
			continue
		}
		byGroup[string(o.Group)] = append(byGroup[string(o.Group)], o)
	}
	return summarizeMap(byGroup)
}

func summarizeMap(m map[string][]probe.Outcome) []Summary {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		out = append(out, Summarize(k, m[k]))
	}
	return out
}

// SuccessRTTs extracts the sorted successful RTT values of a series, the
// input shape the comparator consumes.
func SuccessRTTs(series []probe.Outcome) []float64 {
	var rtts []float64
	for _, o := range series {
		if o.RTTValid() {
			rtts = append(rtts, o.RTT)
		}
	}
	sort.Float64s(rtts)
	return rtts
}

// WriteSummaryCSV writes aggregate rows keyed by target or group.
func WriteSummaryCSV(path, keyColumn string, summaries []Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{keyColumn, "count", "success_count", "loss_pct",
		"mean", "median", "p95", "p99", "min", "max", "stddev"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, s := range summaries {
		row := []string{
			s.Key,
			strconv.Itoa(s.Count),
			strconv.Itoa(s.SuccessCount),
			formatFloat(s.LossPct),
		}
		if s.RTT != nil {
			row = append(row,
				formatFloat(s.RTT.Mean), formatFloat(s.RTT.Median),
				formatFloat(s.RTT.P95), formatFloat(s.RTT.P99),
				formatFloat(s.RTT.Min), formatFloat(s.RTT.Max),
				formatFloat(s.RTT.StdDev))
		} else {
			row = append(row, "", "", "", "", "", "", "")
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
