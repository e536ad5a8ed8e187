package record

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/karatag/satsweep/probe"
)

// WriteRDNS stores the one-shot reverse lookup results beside the RTT
// capture, never inside it.
func WriteRDNS(taskDir string, results []probe.RDNSResult) error {
	return writeJSON(filepath.Join(taskDir, "rdns.json"), results)
}

// WriteTraces stores the one-shot path traces beside the RTT capture.
func WriteTraces(taskDir string, results []probe.TraceResult) error {
	return writeJSON(filepath.Join(taskDir, "trace.json"), results)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
