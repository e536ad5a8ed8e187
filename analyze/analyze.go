// Package analyze turns a task directory's raw sample files into the
// aggregate CSV reports: per-target and per-group summaries, packet loss,
// and the two-sample comparison when enough data exists on both sides.
package analyze

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/karatag/satsweep/probe"
	"github.com/karatag/satsweep/record"
	"github.com/karatag/satsweep/stats"
)

const (
	PairResultsFile = "results.jsonl"
	MassResultsDir  = "results"
)

// Report is what one analysis pass computed and where it wrote it.
type Report struct {
	ByTarget []stats.Summary
	ByGroup  []stats.Summary

	// Comparison is nil when no valid pairing exists (fewer or more than
	// two targets in a pair task, or a mass task missing a group).
	Comparison *stats.Result

	Files []string
}

// Run loads the samples of a task directory and writes the aggregate CSVs
// next to them. It handles both layouts: a pair task holds one JSONL
// stream, a mass task a CSV tree partitioned by group label.
func Run(taskDir string, test stats.Test) (*Report, error) {
	series, labeled, err := load(taskDir)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("task %s holds no samples", taskDir)
	}

	rep := &Report{
		ByTarget: stats.SummarizeByTarget(series),
		ByGroup:  stats.SummarizeByGroup(series),
	}

	byTargetPath := filepath.Join(taskDir, "summary_by_target.csv")
	if err := stats.WriteSummaryCSV(byTargetPath, "target_id", rep.ByTarget); err != nil {
		return nil, err
	}
	rep.Files = append(rep.Files, byTargetPath)

	lossPath := filepath.Join(taskDir, "packet_loss.csv")
	if err := writeLossCSV(lossPath, rep.ByTarget); err != nil {
		return nil, err
	}
	rep.Files = append(rep.Files, lossPath)

	if labeled && len(rep.ByGroup) > 0 {
		byGroupPath := filepath.Join(taskDir, "summary_by_group.csv")
		if err := stats.WriteSummaryCSV(byGroupPath, "group_label", rep.ByGroup); err != nil {
			return nil, err
		}
		rep.Files = append(rep.Files, byGroupPath)
	}

	if result, ok := compare(series, labeled, test); ok {
		rep.Comparison = &result
		cmpPath := filepath.Join(taskDir, "comparison.csv")
		if err := stats.WriteComparisonCSV(cmpPath, []stats.Result{result}); err != nil {
			return nil, err
		}
		rep.Files = append(rep.Files, cmpPath)
	}

	logrus.Infof("[analyze] %s: %d samples over %d targets, %d reports written",
		taskDir, len(series), len(rep.ByTarget), len(rep.Files))
	return rep, nil
}

// load reads whichever sample layout the task directory holds. The second
// return reports whether the samples carry group labels.
func load(taskDir string) ([]probe.Outcome, bool, error) {
	jsonlPath := filepath.Join(taskDir, PairResultsFile)
	if _, err := os.Stat(jsonlPath); err == nil {
		series, err := record.ReadJSONL(jsonlPath)
		return series, false, err
	}

	csvRoot := filepath.Join(taskDir, MassResultsDir)
	if _, err := os.Stat(csvRoot); err != nil {
		return nil, false, fmt.Errorf("task %s holds neither %s nor %s/", taskDir, PairResultsFile, MassResultsDir)
	}
	series, err := record.ReadCSVTree(csvRoot)
	return series, true, err
}

// compare picks the two sides of the divergence test: the two group labels
// of a mass task, or the exactly-two targets of a pair task.
func compare(series []probe.Outcome, labeled bool, test stats.Test) (stats.Result, bool) {
	split := map[string][]probe.Outcome{}
	for _, o := range series {
		key := o.Target
		if labeled {
			key = string(o.Group)
		}
		if key == "" {
			continue
		}
		split[key] = append(split[key], o)
	}
	if len(split) != 2 {
		logrus.Warnf("[analyze] comparison needs exactly two sides, found %d", len(split))
		return stats.Result{}, false
	}

	keys := make([]string, 0, 2)
	for k := range split {
		keys = append(keys, k)
	}
	if keys[0] > keys[1] {
		keys[0], keys[1] = keys[1], keys[0]
	}

	a := stats.SuccessRTTs(split[keys[0]])
	b := stats.SuccessRTTs(split[keys[1]])
	return stats.Compare(test, keys[0], a, keys[1], b), true
}

func writeLossCSV(path string, summaries []stats.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"target_id", "count", "success_count", "loss_pct"}); err != nil {
		return err
	}
	for _, s := range summaries {
		row := []string{
			s.Key,
			strconv.Itoa(s.Count),
			strconv.Itoa(s.SuccessCount),
			strconv.FormatFloat(s.LossPct, 'f', 1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
