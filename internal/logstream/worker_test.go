package logstream

import (
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/dockhand/dockhand/internal/cancel"
	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
	"github.com/dockhand/dockhand/internal/shared/id"
	"github.com/dockhand/dockhand/internal/supervisor"
)

// startWorker spawns script under sh and attaches a worker to its stdout.
func startWorker(t *testing.T, bus *events.Bus, flag *cancel.Flag, script string) (id.SourceID, *Worker, *exec.Cmd) {
	t.Helper()

	cmd := exec.Command("sh", "-c", script)
	out, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe failed: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	source := id.NewSourceID()
	w := Start(source, cmd, out, flag, bus, logging.NewNop(), nil)
	return source, w, cmd
}

// collect drains the bus until the worker's terminal event or the deadline.
func collect(t *testing.T, bus *events.Bus, w *Worker, timeout time.Duration) []events.Event {
	t.Helper()

	var all []events.Event
	deadline := time.After(timeout)
	for {
		select {
		case <-w.Done():
			return append(all, bus.Drain()...)
		case <-deadline:
			t.Fatal("worker did not finish in time")
		default:
			all = append(all, bus.Drain()...)
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestLinesInOrderNoDropsNoDuplicates(t *testing.T) {
	bus := events.NewBus(4096)
	script := "i=0; while [ $i -lt 100 ]; do echo line-$i; i=$((i+1)); done"
	_, w, _ := startWorker(t, bus, cancel.New(), script)

	evs := collect(t, bus, w, 5*time.Second)

	var lines []string
	exits := 0
	for _, ev := range evs {
		switch e := ev.(type) {
		case events.ProcessOutputLine:
			lines = append(lines, e.Text)
		case events.ProcessExited:
			exits++
		}
	}

	if len(lines) != 100 {
		t.Fatalf("expected 100 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if line != fmt.Sprintf("line-%d", i) {
			t.Fatalf("out of order at %d: %s", i, line)
		}
	}
	if exits != 1 {
		t.Errorf("expected exactly one ProcessExited, got %d", exits)
	}
}

func TestExitCodeReported(t *testing.T) {
	bus := events.NewBus(64)
	_, w, _ := startWorker(t, bus, cancel.New(), "echo last; exit 7")

	evs := collect(t, bus, w, 5*time.Second)

	found := false
	for _, ev := range evs {
		if exited, ok := ev.(events.ProcessExited); ok {
			found = true
			if exited.ExitCode != 7 {
				t.Errorf("expected exit code 7, got %d", exited.ExitCode)
			}
		}
	}
	if !found {
		t.Error("no ProcessExited event")
	}
}

func TestCancellationStopsEmissionAndReaps(t *testing.T) {
	bus := events.NewBus(8192)
	log := logging.NewNop()
	sup := supervisor.New(log, monitoring.NewMetrics())

	cmd := exec.Command("sh", "-c", "while true; do echo tick; sleep 0.01; done")
	out, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe failed: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	source := id.NewSourceID()
	flag := cancel.New()
	w := Start(source, cmd, out, flag, bus, log, func() { sup.Deregister(source.String()) })
	if err := sup.Register(&supervisor.Managed{
		ID:   source.String(),
		Name: "ticker",
		Proc: cmd.Process,
		Flag: flag,
		Done: w.Done(),
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Let it emit, then stop it through the supervisor.
	time.Sleep(100 * time.Millisecond)
	if err := sup.Stop(source.String(), time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after Stop")
	}

	exits := 0
	for _, ev := range bus.Drain() {
		if _, ok := ev.(events.ProcessExited); ok {
			exits++
		}
	}
	if exits != 1 {
		t.Errorf("expected exactly one ProcessExited, got %d", exits)
	}
	if sup.Active() != 0 {
		t.Errorf("expected empty registry, got %d", sup.Active())
	}
}

func TestShutdownCompletesWithFullBusAndNoConsumer(t *testing.T) {
	// A tiny buffer and a child that floods it, with nobody draining: the
	// worker must still unblock, reap, and let shutdown finish in bounded
	// time once its flag is set.
	bus := events.NewBus(4)
	log := logging.NewNop()
	sup := supervisor.New(log, monitoring.NewMetrics())

	cmd := exec.Command("sh", "-c", "while true; do echo tick; done")
	out, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe failed: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	source := id.NewSourceID()
	flag := cancel.New()
	w := Start(source, cmd, out, flag, bus, log, func() { sup.Deregister(source.String()) })
	if err := sup.Register(&supervisor.Managed{
		ID:   source.String(),
		Name: "flooder",
		Proc: cmd.Process,
		Flag: flag,
		Done: w.Done(),
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Wait for the buffer to fill so the worker is parked on a full bus.
	deadline := time.Now().Add(2 * time.Second)
	for bus.Len() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bus.Len() < 4 {
		t.Fatal("bus never filled")
	}

	finished := make(chan error, 1)
	go func() { finished <- sup.ShutdownAll(200 * time.Millisecond) }()

	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("ShutdownAll failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ShutdownAll did not return; worker stuck on full bus")
	}

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker never finished after shutdown")
	}
	if sup.Active() != 0 {
		t.Errorf("expected empty registry, got %d", sup.Active())
	}
}

func TestSignalTerminationReported(t *testing.T) {
	bus := events.NewBus(64)
	_, w, cmd := startWorker(t, bus, cancel.New(), "echo up; sleep 600")

	// External kill, as if the process died out from under us.
	time.Sleep(50 * time.Millisecond)
	cmd.Process.Kill()

	evs := collect(t, bus, w, 5*time.Second)

	for _, ev := range evs {
		if exited, ok := ev.(events.ProcessExited); ok {
			if exited.Signal == "" {
				t.Error("expected signal name on killed child")
			}
			return
		}
	}
	t.Error("no ProcessExited event")
}
