package record

import (
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/karatag/satsweep/probe"
	"github.com/karatag/satsweep/target"
)

var csvHeader = []string{"timestamp", "target_ip", "probe_type", "rtt_ms", "status"}

// CSVDir is the mass-mode capture format: one CSV file per target, header
// plus rows, partitioned into per-group subdirectories so ground and
// satellite series never share a file.
type CSVDir struct {
	root  string
	files map[string]*csvFile
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func NewCSVDir(root string) (*CSVDir, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create csv output dir: %w", err)
	}
	return &CSVDir{root: root, files: make(map[string]*csvFile)}, nil
}

func (s *CSVDir) Write(o probe.Outcome) error {
	cf, err := s.file(o)
	if err != nil {
		return err
	}

	rtt := ""
	if o.RTTValid() {
		rtt = strconv.FormatFloat(o.RTT, 'f', -1, 64)
	}
	row := []string{
		o.Timestamp.Format(time.RFC3339Nano),
		o.Target,
		o.Type.String(),
		rtt,
		o.Status.String(),
	}
	if err := cf.w.Write(row); err != nil {
		return err
	}
	cf.w.Flush()
	return cf.w.Error()
}

func (s *CSVDir) Close() error {
	var firstErr error
	for _, cf := range s.files {
		cf.w.Flush()
		if err := cf.w.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := cf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *CSVDir) file(o probe.Outcome) (*csvFile, error) {
	key := string(o.Group) + "/" + o.Target
	if cf, ok := s.files[key]; ok {
		return cf, nil
	}

	dir := s.root
	if o.Group != target.GroupNone {
		dir = filepath.Join(s.root, string(o.Group))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	path := filepath.Join(dir, sanitizeAddr(o.Target)+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	cf := &csvFile{f: f, w: csv.NewWriter(f)}
	st, err := f.Stat()
	if err == nil && st.Size() == 0 {
		if err := cf.w.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
		cf.w.Flush()
	}
	s.files[key] = cf
	return cf, nil
}

// sanitizeAddr makes an address safe for use as a file name (IPv6 colons).
func sanitizeAddr(addr string) string {
	return strings.ReplaceAll(addr, ":", "_")
}

// ReadCSVFile loads one per-target capture. The group label is taken from
// the caller, which knows the file's position in the tree.
func ReadCSVFile(path string, group target.Group) ([]probe.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var out []probe.Outcome
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "timestamp" {
			continue
		}
		if len(row) != len(csvHeader) {
			return nil, fmt.Errorf("%s row %d: expected %d columns, got %d", path, i+1, len(csvHeader), len(row))
		}
		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		var typ probe.Type
		if err := typ.UnmarshalText([]byte(row[2])); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		var status probe.Status
		if err := status.UnmarshalText([]byte(row[4])); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		o := probe.Outcome{
			Timestamp: ts,
			Target:    row[1],
			Group:     group,
			Type:      typ,
			Status:    status,
		}
		if row[3] != "" {
			if o.RTT, err = strconv.ParseFloat(row[3], 64); err != nil {
				return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
			}
		}
		out = append(out, o)
	}
	return out, nil
}

// ReadCSVTree walks a mass-mode capture directory, labeling each file by its
// parent directory when that directory is a known group name.
func ReadCSVTree(root string) ([]probe.Outcome, error) {
	var out []probe.Outcome
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".csv" {
			return err
		}
		group := target.GroupNone
		switch target.Group(filepath.Base(filepath.Dir(path))) {
		case target.GroupGround:
			group = target.GroupGround
		case target.GroupSatellite:
			group = target.GroupSatellite
		}
		samples, err := ReadCSVFile(path, group)
		if err != nil {
			return err
		}
		out = append(out, samples...)
		return nil
	})
	return out, err
}
