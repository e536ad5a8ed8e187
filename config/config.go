package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

func Load(path string) (cfg *Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	err = json.Unmarshal(data, &cfg)
	if err != nil {
		return
	}

	cfg.applyDefaults()

	return
}

type Config struct {
	LogLevel string `json:"log_level"`

	Scheduler Scheduler `json:"scheduler"`
	ICMP      ICMP      `json:"icmp"`
	DNS       DNS       `json:"dns"`
	RDNS      RDNS      `json:"rdns"`
	Trace     Trace     `json:"trace"`
	Recorder  Recorder  `json:"recorder"`
	API       API       `json:"api"`
}

type Scheduler struct {
	Interval    Interval `json:"interval"`
	Duration    Interval `json:"duration"` // zero means run until interrupted
	Concurrency int      `json:"concurrency"`
}

type ICMP struct {
	Enabled    bool     `json:"enabled"`
	Timeout    Interval `json:"timeout"`
	PacketSize int      `json:"packet_size"`
	Privileged bool     `json:"privileged"`
}

type DNS struct {
	Enabled     bool     `json:"enabled"`
	Timeout     Interval `json:"timeout"`
	QueryDomain string   `json:"query_domain"`
	QueryType   string   `json:"query_type"`
}

type RDNS struct {
	Timeout Interval `json:"timeout"`
}

type Trace struct {
	Timeout       Interval `json:"timeout"`
	MaxHops       int      `json:"max_hops"`
	QueriesPerHop int      `json:"queries_per_hop"`
}

type Recorder struct {
	BufferSize  int    `json:"buffer_size"`
	OutputDir   string `json:"output_dir"`
	SQLitePath  string `json:"sqlite_path"`
	NATSURL     string `json:"nats_url"`
	NATSSubject string `json:"nats_subject"`
}

type API struct {
	Listen string `json:"listen"`
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Scheduler.Interval.Duration == 0 {
		c.Scheduler.Interval = Interval{time.Second}
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = 64
	}
	if c.ICMP.Timeout.Duration == 0 {
		c.ICMP.Timeout = Interval{2 * time.Second}
	}
	if c.ICMP.PacketSize == 0 {
		c.ICMP.PacketSize = 56
	}
	if c.DNS.Timeout.Duration == 0 {
		c.DNS.Timeout = Interval{3 * time.Second}
	}
	if c.DNS.QueryDomain == "" {
		c.DNS.QueryDomain = "google.com"
	}
	if c.DNS.QueryType == "" {
		c.DNS.QueryType = "A"
	}
	if c.RDNS.Timeout.Duration == 0 {
		c.RDNS.Timeout = Interval{3 * time.Second}
	}
	if c.Trace.Timeout.Duration == 0 {
		c.Trace.Timeout = Interval{3 * time.Second}
	}
	if c.Trace.MaxHops == 0 {
		c.Trace.MaxHops = 20
	}
	if c.Trace.QueriesPerHop == 0 {
		c.Trace.QueriesPerHop = 3
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = 1024
	}
	if c.Recorder.OutputDir == "" {
		c.Recorder.OutputDir = "data/output"
	}
	if c.Recorder.NATSSubject == "" {
		c.Recorder.NATSSubject = "satsweep.outcomes"
	}
}

// Validate reports configuration errors that must abort the run before any
// probing begins.
func (c *Config) Validate() error {
	if c.Scheduler.Interval.Duration <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	if c.Scheduler.Duration.Duration < 0 {
		return errors.New("scheduler duration must not be negative")
	}
	if c.Scheduler.Concurrency <= 0 {
		return errors.New("scheduler concurrency must be positive")
	}
	if !c.ICMP.Enabled && !c.DNS.Enabled {
		return errors.New("at least one of icmp or dns probing must be enabled")
	}
	if c.ICMP.Enabled && c.ICMP.Timeout.Duration <= 0 {
		return errors.New("icmp timeout must be positive")
	}
	if c.DNS.Enabled && c.DNS.Timeout.Duration <= 0 {
		return errors.New("dns timeout must be positive")
	}
	if c.Recorder.BufferSize <= 0 {
		return errors.New("recorder buffer size must be positive")
	}
	switch c.DNS.QueryType {
	case "A", "AAAA", "NS", "TXT":
	default:
		return fmt.Errorf("unsupported dns query type %q", c.DNS.QueryType)
	}
	return nil
}

type Interval struct {
	time.Duration
}

func (d *Interval) UnmarshalJSON(data []byte) (err error) {
	var pstr string
	err = json.Unmarshal(data, &pstr)
	if err != nil {
		return err
	}
	d.Duration, err = time.ParseDuration(pstr)
	return
}

func (d *Interval) MarshalJSON() (data []byte, err error) {
	s := d.Duration.String()
	data, err = json.Marshal(s)
	return
}
