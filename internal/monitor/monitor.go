// Package monitor samples host and container statistics on supervised
// worker loops.
//
// Both loops poll their cancellation flag once per iteration, so shutdown
// latency is bounded by one sampling interval plus one CLI invocation.
// Consumers read snapshots under a lock held only for the in-memory copy;
// rendering of the histories is someone else's problem.
package monitor

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/dockhand/dockhand/internal/cancel"
	"github.com/dockhand/dockhand/internal/command"
	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/config"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
	"github.com/dockhand/dockhand/internal/supervisor"
)

// StatsSchema matches the --format template used for container stats.
var StatsSchema = command.Schema{
	Fields: []string{"name", "cpu", "mem_usage", "mem_percent", "net_io", "block_io"},
}

const statsFormat = "{{.Name}}|{{.CPUPerc}}|{{.MemUsage}}|{{.MemPerc}}|{{.NetIO}}|{{.BlockIO}}"

// HostStats is one host sample.
type HostStats struct {
	CPUPercent float64
	MemUsed    uint64
	MemTotal   uint64
	MemPercent float64
}

// ContainerStats is one container's row from the stats listing, kept as the
// CLI renders it.
type ContainerStats struct {
	Name       string
	CPUPercent string
	MemUsage   string
	MemPercent string
	NetIO      string
	BlockIO    string
}

// Monitor owns the sampling loops and their bounded histories.
type Monitor struct {
	cfg       config.MonitorConfig
	dockerBin string

	sup     *supervisor.Supervisor
	log     *logging.Logger
	metrics *monitoring.Metrics

	started atomic.Bool

	mu         sync.RWMutex
	host       HostStats
	containers []ContainerStats
	cpuHistory []float64
	memHistory []float64
}

// New creates a monitor.
func New(cfg config.MonitorConfig, dockerBin string, sup *supervisor.Supervisor, log *logging.Logger, metrics *monitoring.Metrics) *Monitor {
	return &Monitor{
		cfg:       cfg,
		dockerBin: dockerBin,
		sup:       sup,
		log:       log.Named("monitor"),
		metrics:   metrics,
	}
}

// Start launches the host and container sampling loops. Idempotent.
func (m *Monitor) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	hostFlag := cancel.New()
	hostDone := make(chan struct{})
	if err := m.sup.Register(&supervisor.Managed{
		ID:   "monitor-host",
		Name: "host stats loop",
		Flag: hostFlag,
		Done: hostDone,
	}); err != nil {
		return err
	}
	go m.hostLoop(hostFlag, hostDone)

	statsFlag := cancel.New()
	statsDone := make(chan struct{})
	if err := m.sup.Register(&supervisor.Managed{
		ID:   "monitor-stats",
		Name: "container stats loop",
		Flag: statsFlag,
		Done: statsDone,
	}); err != nil {
		hostFlag.Set()
		<-hostDone
		return err
	}
	go m.statsLoop(statsFlag, statsDone)

	return nil
}

func (m *Monitor) hostLoop(flag *cancel.Flag, done chan struct{}) {
	defer close(done)

	for !flag.IsSet() {
		sample, err := sampleHost()
		if err != nil {
			m.log.Warn("host sample failed", zap.Error(err))
		} else {
			m.recordHost(sample)
		}
		sleepUnless(flag, m.cfg.HostInterval)
	}
}

func (m *Monitor) statsLoop(flag *cancel.Flag, done chan struct{}) {
	defer close(done)

	args := []string{"stats", "--no-stream", "--format", statsFormat}
	failing := false
	for !flag.IsSet() {
		stdout, stderr, code, err := command.Capture(m.dockerBin, args, "")
		if err != nil || code != 0 {
			// Logged once per transition so a down engine does not flood
			// the log at the sampling interval.
			if !failing {
				failing = true
				m.log.Warn("container stats unavailable",
					zap.Int("exit_code", code),
					zap.String("stderr", strings.TrimSpace(stderr)),
					zap.Error(err))
			}
		} else {
			if failing {
				failing = false
				m.log.Info("container stats recovered")
			}
			records, parseErrs := command.ParseOutput(stdout, StatsSchema)
			if len(parseErrs) > 0 {
				m.log.Debug("stats lines skipped", zap.Int("count", len(parseErrs)))
			}
			m.recordContainers(records)
		}
		sleepUnless(flag, m.cfg.StatsInterval)
	}
}

func sampleHost() (HostStats, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return HostStats{}, fmt.Errorf("cpu sample: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return HostStats{}, fmt.Errorf("memory sample: %w", err)
	}

	sample := HostStats{
		MemUsed:    vm.Used,
		MemTotal:   vm.Total,
		MemPercent: vm.UsedPercent,
	}
	if len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	return sample, nil
}

func (m *Monitor) recordHost(sample HostStats) {
	m.mu.Lock()
	m.host = sample
	m.cpuHistory = appendBounded(m.cpuHistory, sample.CPUPercent, m.cfg.HistorySize)
	m.memHistory = appendBounded(m.memHistory, sample.MemPercent, m.cfg.HistorySize)
	m.mu.Unlock()

	m.metrics.HostCPUPercent.Set(sample.CPUPercent)
	m.metrics.HostMemPercent.Set(sample.MemPercent)
}

func (m *Monitor) recordContainers(records []events.Record) {
	stats := make([]ContainerStats, 0, len(records))
	for _, rec := range records {
		stats = append(stats, ContainerStats{
			Name:       rec["name"],
			CPUPercent: rec["cpu"],
			MemUsage:   rec["mem_usage"],
			MemPercent: rec["mem_percent"],
			NetIO:      rec["net_io"],
			BlockIO:    rec["block_io"],
		})
	}

	m.mu.Lock()
	m.containers = stats
	m.mu.Unlock()
}

// Host returns the latest host sample.
func (m *Monitor) Host() HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.host
}

// Containers returns the latest container samples.
func (m *Monitor) Containers() []ContainerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ContainerStats, len(m.containers))
	copy(out, m.containers)
	return out
}

// CPUHistory returns the bounded CPU utilization history, oldest first.
func (m *Monitor) CPUHistory() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, len(m.cpuHistory))
	copy(out, m.cpuHistory)
	return out
}

// MemHistory returns the bounded memory utilization history, oldest first.
func (m *Monitor) MemHistory() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, len(m.memHistory))
	copy(out, m.memHistory)
	return out
}

func appendBounded(hist []float64, v float64, size int) []float64 {
	hist = append(hist, v)
	if size > 0 && len(hist) > size {
		hist = hist[len(hist)-size:]
	}
	return hist
}

// sleepUnless waits out interval in short steps so a cancelled flag cuts the
// wait to at most 50ms.
func sleepUnless(flag *cancel.Flag, interval time.Duration) {
	const step = 50 * time.Millisecond
	deadline := time.Now().Add(interval)
	for time.Now().Before(deadline) {
		if flag.IsSet() {
			return
		}
		remaining := time.Until(deadline)
		if remaining < step {
			time.Sleep(remaining)
			return
		}
		time.Sleep(step)
	}
}
