package command

import (
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
	"github.com/dockhand/dockhand/internal/shared/id"
	"github.com/dockhand/dockhand/internal/supervisor"
)

func newTestRunner() (*Runner, *events.Bus, *supervisor.Supervisor) {
	bus := events.NewBus(256)
	log := logging.NewNop()
	sup := supervisor.New(log, monitoring.NewMetrics())
	return NewRunner(bus, sup, log, monitoring.NewMetrics()), bus, sup
}

// awaitResult drains the bus until a CommandResult arrives, the way the
// consumer's tick loop would.
func awaitResult(t *testing.T, bus *events.Bus, requestID string) events.CommandResult {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range bus.Drain() {
			if res, ok := ev.(events.CommandResult); ok && res.RequestID == requestID {
				return res
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no CommandResult before deadline")
	return events.CommandResult{}
}

func TestExecuteParsesStructuredOutput(t *testing.T) {
	r, bus, _ := newTestRunner()
	reqID := id.NewRequestID()

	r.Execute(Request{
		RequestID: reqID,
		Program:   "printf",
		Args:      []string{`1|web|running\n2|db|exited\nbad-line\n`},
		Schema:    &Schema{Fields: []string{"id", "name", "state"}},
	})

	res := awaitResult(t, bus, reqID)
	require.NoError(t, res.Err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "web", res.Records[0]["name"])
	require.Equal(t, "running", res.Records[0]["state"])
	require.Equal(t, "db", res.Records[1]["name"])
	require.Len(t, res.ParseErrs, 1)
	require.Equal(t, "bad-line", res.ParseErrs[0].Text)
}

func TestExecuteWithoutSchema(t *testing.T) {
	r, bus, _ := newTestRunner()
	reqID := id.NewRequestID()

	r.Execute(Request{RequestID: reqID, Program: "true"})

	res := awaitResult(t, bus, reqID)
	require.NoError(t, res.Err)
	require.Equal(t, 0, res.ExitCode)
	require.Empty(t, res.Records)
}

func TestExecuteSpawnFailure(t *testing.T) {
	r, bus, _ := newTestRunner()
	reqID := id.NewRequestID()

	r.Execute(Request{RequestID: reqID, Program: "/nonexistent/binary"})

	res := awaitResult(t, bus, reqID)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "failed to spawn")
}

func TestExecuteExitFailureNoOutput(t *testing.T) {
	r, bus, _ := newTestRunner()
	reqID := id.NewRequestID()

	r.Execute(Request{
		RequestID: reqID,
		Program:   "sh",
		Args:      []string{"-c", "echo boom >&2; exit 3"},
		Schema:    &Schema{Fields: []string{"id"}},
	})

	res := awaitResult(t, bus, reqID)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "boom")
	require.Equal(t, 3, res.ExitCode)
}

func TestExecuteDeregistersWhenDone(t *testing.T) {
	r, bus, sup := newTestRunner()
	reqID := id.NewRequestID()

	r.Execute(Request{RequestID: reqID, Program: "true"})
	awaitResult(t, bus, reqID)

	require.Eventually(t, func() bool { return sup.Active() == 0 },
		time.Second, 10*time.Millisecond, "worker should deregister after reap")
}

func TestExecuteAfterShutdownKillsChild(t *testing.T) {
	r, bus, sup := newTestRunner()
	require.NoError(t, sup.ShutdownAll(time.Second))

	// The sleep duration doubles as a process-table marker so the test can
	// verify the child was actually terminated, not left unsupervised.
	reqID := id.NewRequestID()
	r.Execute(Request{RequestID: reqID, Program: "sleep", Args: []string{"57.321"}})

	res := awaitResult(t, bus, reqID)
	require.Error(t, res.Err)
	require.ErrorIs(t, res.Err, supervisor.ErrShuttingDown)
	require.Equal(t, 0, sup.Active())

	require.Eventually(t, func() bool {
		return exec.Command("pgrep", "-f", "sleep 57.321").Run() != nil
	}, 2*time.Second, 20*time.Millisecond, "child still alive after rejection")
}

func TestCapture(t *testing.T) {
	stdout, _, code, err := Capture("sh", []string{"-c", "printf hello"}, "")
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.True(t, strings.Contains(stdout, "hello"))
}
