package stats

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Test selects the two-sample divergence procedure.
type Test uint8

const (
	MannWhitney Test = iota
	KolmogorovSmirnov
)

func (t Test) String() string {
	switch t {
	case MannWhitney:
		return "mannwhitney-u"
	case KolmogorovSmirnov:
		return "ks-2samp"
	}
	return "unknown"
}

func ParseTest(name string) (Test, error) {
	switch name {
	case "mannwhitney", "mannwhitney-u", "mwu":
		return MannWhitney, nil
	case "ks", "ks-2samp", "kolmogorov-smirnov":
		return KolmogorovSmirnov, nil
	}
	return 0, fmt.Errorf("unknown comparison test %q", name)
}

// Result is the outcome of one two-sample comparison. When either side has
// fewer than two successful samples the comparison is degenerate: no
// statistic is computed and Degenerate is set instead of failing.
type Result struct {
	TestName   string
	Statistic  float64
	PValue     float64
	GroupA     string
	GroupB     string
	NA         int
	NB         int
	Degenerate bool
}

// Compare runs the selected test over two sets of successful RTT values
// sharing a probe type. It is deterministic and order-independent: inputs
// are copied and sorted internally.
func Compare(test Test, groupA string, a []float64, groupB string, b []float64) Result {
	res := Result{
		TestName: test.String(),
		GroupA:   groupA,
		GroupB:   groupB,
		NA:       len(a),
		NB:       len(b),
	}

	if len(a) < 2 || len(b) < 2 {
		res.Degenerate = true
		return res
	}

	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)

	switch test {
	case KolmogorovSmirnov:
		res.Statistic = stat.KolmogorovSmirnov(x, nil, y, nil)
		res.PValue = ksPValue(res.Statistic, len(x), len(y))
	default:
		res.Statistic, res.PValue = mannWhitney(x, y)
	}
	return res
}

// mannWhitney computes the U statistic of the first sample with midrank tie
// handling, and a two-sided p-value from the tie-corrected normal
// approximation with continuity correction. Swapping the samples maps
// U to n1*n2-U and leaves the p-value unchanged.
func mannWhitney(x, y []float64) (u, p float64) {
	n1, n2 := len(x), len(y)
	n := n1 + n2

	type obs struct {
		v     float64
		first bool
	}
	all := make([]obs, 0, n)
	for _, v := range x {
		all = append(all, obs{v, true})
	}
	for _, v := range y {
		all = append(all, obs{v, false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	// Midranks over tie runs, accumulating the tie correction term
	var rankSumX, tieTerm float64
	for i := 0; i < n; {
		j := i
		for j < n && all[j].v == all[i].v {
			j++
		}
		ties := float64(j - i)
		midrank := float64(i+j+1) / 2 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			if all[k].first {
				rankSumX += midrank
			}
		}
		tieTerm += ties*ties*ties - ties
		i = j
	}

	u = rankSumX - float64(n1*(n1+1))/2
	mu := float64(n1) * float64(n2) / 2
	sigma2 := float64(n1) * float64(n2) / 12 *
		(float64(n+1) - tieTerm/(float64(n)*float64(n-1)))
	if sigma2 <= 0 {
		// Every observation tied: no evidence of divergence
		return u, 1
	}

	// Continuity correction shrinks the deviation toward zero
	d := u - mu
	switch {
	case d > 0.5:
		d -= 0.5
	case d < -0.5:
		d += 0.5
	default:
		d = 0
	}

	z := d / math.Sqrt(sigma2)
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	p = 2 * norm.CDF(-math.Abs(z))
	if p > 1 {
		p = 1
	}
	return u, p
}

// WriteComparisonCSV writes comparison rows for downstream tooling. A
// degenerate comparison keeps its group labels and sizes but leaves the
// statistic columns empty, flagged in the test_name column.
func WriteComparisonCSV(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create comparison csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"test_name", "statistic", "p_value", "group_a", "group_b", "n_a", "n_b"}); err != nil {
		return err
	}
	for _, r := range results {
		name, statCol, pCol := r.TestName, formatFloat(r.Statistic), formatFloat(r.PValue)
		if r.Degenerate {
			name, statCol, pCol = r.TestName+":degenerate-input", "", ""
		}
		row := []string{name, statCol, pCol, r.GroupA, r.GroupB,
			strconv.Itoa(r.NA), strconv.Itoa(r.NB)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ksPValue is the asymptotic two-sample Kolmogorov distribution tail, the
// large-sample approximation used for RTT series of realistic length.
func ksPValue(d float64, n1, n2 int) float64 {
	if d <= 0 {
		return 1
	}
	ne := float64(n1) * float64(n2) / float64(n1+n2)
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * d

	var sum float64
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j)*float64(j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}
