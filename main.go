package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/karatag/satsweep/analyze"
	"github.com/karatag/satsweep/config"
	"github.com/karatag/satsweep/probe"
	"github.com/karatag/satsweep/record"
	"github.com/karatag/satsweep/schedule"
	"github.com/karatag/satsweep/stats"
	"github.com/karatag/satsweep/target"
	"github.com/karatag/satsweep/web"
)

var (
	mode        string
	configPath  string
	targetsPath string
	taskName    string
	taskDir     string
	testName    string
	watch       bool
)

func main() {
	flag.StringVar(&mode, "mode", "pair", "Operating mode: pair, mass or analyze")
	flag.StringVar(&configPath, "config", "satsweep.conf", "Path to run configuration")
	flag.StringVar(&targetsPath, "targets", "", "Path to target list")
	flag.StringVar(&taskName, "task", "run", "Task name, prefixes the task directory")
	flag.StringVar(&taskDir, "taskdir", "", "Existing task directory (analyze mode)")
	flag.StringVar(&testName, "test", "mannwhitney-u", "Comparison test: mannwhitney-u or ks-2samp")
	flag.BoolVar(&watch, "watch", false, "Run continuously, restarting when config or target list changes")
	flag.Parse()

	test, err := stats.ParseTest(testName)
	if err != nil {
		logrus.Fatalf("[ CONFIG_FAIL ] %s", err)
	}

	if mode == "analyze" {
		if taskDir == "" {
			logrus.Fatal("[ CONFIG_FAIL ] analyze mode needs -taskdir")
		}
		if _, err := analyze.Run(taskDir, test); err != nil {
			logrus.Fatalf("[ ANALYZE_FAIL ] %s", err)
		}
		return
	}
	if mode != "pair" && mode != "mass" {
		logrus.Fatalf("[ CONFIG_FAIL ] unknown mode %q", mode)
	}
	if targetsPath == "" {
		logrus.Fatalf("[ CONFIG_FAIL ] %s mode needs -targets", mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		cfg, list := loadInputs()

		runCtx, cancelRun := context.WithCancel(ctx)
		if watch {
			go watchInputs(runCtx, cancelRun)
		}

		dir, err := collect(runCtx, cfg, list, test)
		cancelRun()
		if err != nil {
			logrus.Fatalf("[ RUN_FAIL ] %s", err)
		}
		logrus.Infof("[ RUN_DONE ] task directory %s", dir)

		if !watch || ctx.Err() != nil {
			return
		}
		logrus.Info("[ WATCH ] reloading inputs")
	}
}

// loadInputs reads and validates the configuration and target list.
// Anything wrong here aborts before a single probe is sent.
func loadInputs() (*config.Config, *target.List) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("[ CONFIG_FAIL ] %s", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("[ CONFIG_FAIL ] %s", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("[ CONFIG_FAIL ] %s", err)
	}
	logrus.SetLevel(level)

	list, err := target.Load(targetsPath)
	if err != nil {
		logrus.Fatalf("[ CONFIG_FAIL ] %s", err)
	}
	if mode == "pair" && len(list.Targets) != 2 {
		logrus.Fatalf("[ CONFIG_FAIL ] pair mode needs exactly 2 targets, got %d", len(list.Targets))
	}
	return cfg, list
}

// collect runs one full collection pass and the follow-up analysis,
// returning the task directory it produced.
func collect(ctx context.Context, cfg *config.Config, list *target.List, test stats.Test) (string, error) {
	dir, err := makeTaskDir(cfg)
	if err != nil {
		return "", err
	}

	sinks, err := buildSinks(cfg, dir)
	if err != nil {
		return "", err
	}
	rec := record.New(cfg.Recorder.BufferSize, sinks...)

	s := &schedule.Scheduler{
		Interval:    cfg.Scheduler.Interval.Duration,
		Duration:    cfg.Scheduler.Duration.Duration,
		Concurrency: int64(cfg.Scheduler.Concurrency),
	}

	// Pair runs capture one-shot reverse lookups and path traces before
	// the periodic stream starts.
	if mode == "pair" {
		rdns := &probe.RDNS{Timeout: cfg.RDNS.Timeout.Duration}
		trace := &probe.Trace{
			Timeout:       cfg.Trace.Timeout.Duration,
			MaxHops:       cfg.Trace.MaxHops,
			QueriesPerHop: cfg.Trace.QueriesPerHop,
		}
		rdnsResults, traceResults := s.Supplementary(ctx, list, rdns, trace)
		if err := record.WriteRDNS(dir, rdnsResults); err != nil {
			logrus.Warnf("[ SINK_FAIL ] rdns results: %s", err)
		}
		if err := record.WriteTraces(dir, traceResults); err != nil {
			logrus.Warnf("[ SINK_FAIL ] trace results: %s", err)
		}
	}

	outcomes, report := s.Run(ctx, list, buildProbers(cfg))

	var srv *web.Server
	if cfg.API.Listen != "" {
		srv = web.New(cfg.API.Listen, rec, report)
		srv.Start()
	}

	logrus.Infof("[ RUN_START ] %s mode, %d targets, interval %s", mode, len(list.Targets), cfg.Scheduler.Interval)
	for o := range outcomes {
		rec.Record(o)
	}

	if srv != nil {
		srv.Stop()
	}
	if err := rec.Close(); err != nil {
		logrus.Warnf("[ SINK_FAIL ] %s", err)
	}

	if report.Systemic() {
		logrus.Warnf("[ RUN_DEGRADED ] no probe succeeded across %d rounds, check network reachability", report.Rounds())
	}
	if dropped := rec.Dropped(); dropped > 0 {
		logrus.Warnf("[ SINK_DEGRADED ] %d records dropped under backpressure", dropped)
	}
	logrus.Infof("[ RUN_STATS ] rounds: %d, successes: %d, failures: %d, overlapping: %d, skipped: %d",
		report.Rounds(), report.Successes(), report.Failures(), report.Overlapping(), report.Skipped())

	if _, err := analyze.Run(dir, test); err != nil {
		logrus.Warnf("[ ANALYZE_FAIL ] %s", err)
	}
	return dir, nil
}

// makeTaskDir creates <output_dir>/<task>_<shortid>_<timestamp> and
// snapshots the run inputs into it for reproducibility.
func makeTaskDir(cfg *config.Config) (string, error) {
	name := fmt.Sprintf("%s_%s_%s", taskName, uuid.NewString()[:8], time.Now().Format("20060102T150405"))
	dir := filepath.Join(cfg.Recorder.OutputDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	for src, dst := range map[string]string{
		configPath:  filepath.Join(dir, "config.json"),
		targetsPath: filepath.Join(dir, "targets.txt"),
	} {
		data, err := os.ReadFile(src)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func buildProbers(cfg *config.Config) []probe.Prober {
	var probers []probe.Prober
	if cfg.ICMP.Enabled {
		probers = append(probers, &probe.ICMP{
			Timeout:    cfg.ICMP.Timeout.Duration,
			Size:       cfg.ICMP.PacketSize,
			Privileged: cfg.ICMP.Privileged,
		})
	}
	if cfg.DNS.Enabled {
		probers = append(probers, &probe.DNS{
			Timeout:     cfg.DNS.Timeout.Duration,
			QueryDomain: cfg.DNS.QueryDomain,
			QueryType:   cfg.DNS.QueryType,
		})
	}
	return probers
}

// buildSinks assembles the persistence chain: the mode's primary file sink
// plus the optional sqlite and NATS fan-outs.
func buildSinks(cfg *config.Config, dir string) (sinks []record.Sink, err error) {
	if mode == "pair" {
		sink, err := record.NewJSONL(filepath.Join(dir, analyze.PairResultsFile))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	} else {
		sink, err := record.NewCSVDir(filepath.Join(dir, analyze.MassResultsDir))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if cfg.Recorder.SQLitePath != "" {
		sink, err := record.NewSQLite(cfg.Recorder.SQLitePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.Recorder.NATSURL != "" {
		sink, err := record.NewNATS(cfg.Recorder.NATSURL, cfg.Recorder.NATSSubject)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// watchInputs cancels the current run when the configuration or target
// list changes on disk. The outer loop then reloads and starts over.
func watchInputs(ctx context.Context, cancelRun context.CancelFunc) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.Warnf("[ WATCH_FAIL ] %s", err)
		return
	}
	defer watcher.Close()

	for _, path := range []string{configPath, targetsPath} {
		if err := watcher.Add(path); err != nil {
			logrus.Warnf("[ WATCH_FAIL ] %s: %s", path, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				logrus.Infof("[ WATCH ] %s changed, restarting run", ev.Name)
				cancelRun()
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.Warnf("[ WATCH_FAIL ] %s", err)
		}
	}
}
