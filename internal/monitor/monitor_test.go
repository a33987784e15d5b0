package monitor

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dockhand/dockhand/internal/command"
	"github.com/dockhand/dockhand/internal/infrastructure/config"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
	"github.com/dockhand/dockhand/internal/supervisor"
)

func newTestMonitor(dockerBin string) (*Monitor, *supervisor.Supervisor) {
	log := logging.NewNop()
	sup := supervisor.New(log, monitoring.NewMetrics())
	cfg := config.MonitorConfig{
		HostInterval:  20 * time.Millisecond,
		StatsInterval: 20 * time.Millisecond,
		HistorySize:   5,
	}
	return New(cfg, dockerBin, sup, log, monitoring.NewMetrics()), sup
}

func TestStatsLineParsing(t *testing.T) {
	line := "web|1.52%|20MiB / 1GiB|2.00%|1kB / 2kB|0B / 0B"
	rec, err := command.ParseLine(line, StatsSchema)
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}
	if rec["name"] != "web" || rec["cpu"] != "1.52%" || rec["mem_percent"] != "2.00%" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestHistoryBounded(t *testing.T) {
	hist := []float64{}
	for i := 0; i < 20; i++ {
		hist = appendBounded(hist, float64(i), 5)
	}
	if len(hist) != 5 {
		t.Fatalf("expected bounded length 5, got %d", len(hist))
	}
	if hist[0] != 15 || hist[4] != 19 {
		t.Errorf("expected newest 5 samples, got %v", hist)
	}
}

func TestLoopsSampleAndShutDown(t *testing.T) {
	// `true` stands in for the engine CLI; the stats loop sees empty output.
	m, sup := newTestMonitor("true")

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sup.Active() != 2 {
		t.Errorf("expected 2 registered loops, got %d", sup.Active())
	}

	// Let the host loop take at least one sample.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Host().MemTotal > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if m.Host().MemTotal == 0 {
		t.Error("host loop never sampled memory")
	}
	if len(m.MemHistory()) == 0 {
		t.Error("memory history empty after sampling")
	}

	if err := sup.ShutdownAll(2 * time.Second); err != nil {
		t.Fatalf("ShutdownAll failed: %v", err)
	}
	if sup.Active() != 0 {
		t.Errorf("expected empty registry, got %d", sup.Active())
	}
}

func TestStatsFailureLoggedOncePerTransition(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := &logging.Logger{Logger: zap.New(core)}

	sup := supervisor.New(logging.NewNop(), monitoring.NewMetrics())
	cfg := config.MonitorConfig{
		HostInterval:  time.Hour, // host loop idle for the duration
		StatsInterval: 10 * time.Millisecond,
		HistorySize:   5,
	}
	// `false` fails every invocation, so the stats loop is in a steady
	// failing state across many iterations.
	m := New(cfg, "false", sup, log, monitoring.NewMetrics())

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := sup.ShutdownAll(2 * time.Second); err != nil {
		t.Fatalf("ShutdownAll failed: %v", err)
	}

	warns := logs.FilterMessage("container stats unavailable").Len()
	if warns != 1 {
		t.Errorf("expected exactly one unavailability warning, got %d", warns)
	}
}

func TestStartIdempotent(t *testing.T) {
	m, sup := newTestMonitor("true")

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if sup.Active() != 2 {
		t.Errorf("expected 2 loops after double start, got %d", sup.Active())
	}

	sup.ShutdownAll(2 * time.Second)
}
