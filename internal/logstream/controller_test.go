package logstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"flowdeck/internal/api"
	"flowdeck/internal/eventloop"
	"flowdeck/internal/pushconn"
	"flowdeck/internal/roster"
)

type fakeBackend struct {
	mainCalls int
	mainErr   error
	taskLogs  map[string]api.LogContent
	taskCalls []string
	dialer    *pushconn.FakeDialer
}

func (b *fakeBackend) MainLog(ctx context.Context) (api.LogContent, error) {
	b.mainCalls++
	if b.mainErr != nil {
		return api.LogContent{}, b.mainErr
	}
	return api.LogContent{Success: true, Content: fmt.Sprintf("main %d", b.mainCalls), LogFile: "/logs/main.log"}, nil
}

func (b *fakeBackend) TaskLog(ctx context.Context, taskID string) (api.LogContent, error) {
	b.taskCalls = append(b.taskCalls, taskID)
	if res, ok := b.taskLogs[taskID]; ok {
		return res, nil
	}
	return api.LogContent{Success: true, Content: "log of " + taskID}, nil
}

func (b *fakeBackend) OpenLogStream(ctx context.Context, taskID string) (pushconn.Socket, error) {
	return b.dialer.Dial(ctx, "ws://test/ws/logs/"+taskID, nil)
}

type harness struct {
	backend *fakeBackend
	dialer  *pushconn.FakeDialer
	sched   *eventloop.Manual
	roster  *roster.Reconciler
	ctl     *Controller
	updates int
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		dialer: &pushconn.FakeDialer{},
		sched:  eventloop.NewManual(),
		roster: roster.New(),
	}
	h.backend = &fakeBackend{dialer: h.dialer, taskLogs: map[string]api.LogContent{}}
	opts.OnUpdate = func() { h.updates++ }
	h.ctl = New(h.backend, h.roster, h.sched, opts)
	return h
}

func running(ids ...string) []api.Task {
	out := make([]api.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, api.Task{ID: id, Status: api.StatusRunning, LogFile: "/logs/" + id + ".log"})
	}
	return out
}

func pendingTasks(ids ...string) []api.Task {
	out := make([]api.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, api.Task{ID: id, Status: api.StatusPending})
	}
	return out
}

func frame(kind, extra string) string {
	if extra == "" {
		return fmt.Sprintf(`{"type":%q}`, kind)
	}
	return fmt.Sprintf(`{"type":%q,%s}`, kind, extra)
}

func TestController_MainLogPollsAndReplaces(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctl.Select(Main())

	if h.ctl.Buffer() != LoadingText || h.ctl.Transport() != TransportPoll {
		t.Fatalf("unexpected state after select: %q/%s", h.ctl.Buffer(), h.ctl.Transport())
	}
	if h.sched.ActiveTimers() != 1 || h.sched.Pending() != 1 {
		t.Fatalf("expected one timer and an immediate poll, got %d/%d", h.sched.ActiveTimers(), h.sched.Pending())
	}
	h.sched.Step()
	if h.ctl.Buffer() != "main 1" || h.ctl.LogPath() != "/logs/main.log" {
		t.Fatalf("unexpected buffer: %q path=%q", h.ctl.Buffer(), h.ctl.LogPath())
	}

	h.sched.Tick()
	h.sched.Tick()
	if h.sched.Pending() != 1 {
		t.Fatalf("ticks during an outstanding poll must not stack, pending=%d", h.sched.Pending())
	}
	h.sched.Step()
	if h.ctl.Buffer() != "main 2" {
		t.Fatalf("poll should replace the buffer, got %q", h.ctl.Buffer())
	}

	h.ctl.Select(None())
	if h.sched.ActiveTimers() != 0 {
		t.Fatalf("poll timer must stop when leaving main, active=%d", h.sched.ActiveTimers())
	}
	if h.ctl.Buffer() != "" || h.ctl.Transport() != TransportNone {
		t.Fatalf("unexpected state for no target: %q/%s", h.ctl.Buffer(), h.ctl.Transport())
	}
}

func TestController_MainLogErrorShownInBuffer(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.mainErr = errors.New("connection refused")
	h.ctl.Select(Main())
	h.sched.Step()
	if !strings.Contains(h.ctl.Buffer(), "connection refused") {
		t.Fatalf("expected error in buffer, got %q", h.ctl.Buffer())
	}
	if h.sched.ActiveTimers() != 1 {
		t.Fatal("a failed poll must keep polling")
	}
}

func TestController_StaleCompletionDiscarded(t *testing.T) {
	h := newHarness(t, Options{})
	h.roster.ApplyTasks(pendingTasks("a"), nil)

	h.ctl.Select(Main())
	h.ctl.Select(Task("a"))
	if h.ctl.Generation() != 2 {
		t.Fatalf("expected generation 2, got %d", h.ctl.Generation())
	}
	if h.sched.Pending() != 2 {
		t.Fatalf("expected both requests outstanding, got %d", h.sched.Pending())
	}

	h.sched.StepAt(1)
	if h.ctl.Buffer() != "log of a" {
		t.Fatalf("unexpected snapshot buffer: %q", h.ctl.Buffer())
	}
	h.sched.Step()
	if h.ctl.Buffer() != "log of a" {
		t.Fatalf("main log response from generation 1 leaked: %q", h.ctl.Buffer())
	}
	if h.ctl.Transport() != TransportNone {
		t.Fatalf("snapshot should leave no transport, got %s", h.ctl.Transport())
	}
}

func TestController_StreamFramesForRunningTask(t *testing.T) {
	h := newHarness(t, Options{})
	h.roster.ApplyTasks(nil, running("a"))
	h.ctl.Select(Task("a"))

	if h.ctl.Transport() != TransportStream || h.ctl.LogPath() != "/logs/a.log" {
		t.Fatalf("unexpected state: %s path=%q", h.ctl.Transport(), h.ctl.LogPath())
	}
	h.sched.Step()
	if len(h.dialer.URLs) != 1 || h.dialer.URLs[0] != "ws://test/ws/logs/a" {
		t.Fatalf("unexpected dials: %#v", h.dialer.URLs)
	}
	if h.ctl.Buffer() != "" {
		t.Fatalf("buffer should reset once the stream opens, got %q", h.ctl.Buffer())
	}

	sock := h.dialer.Last()
	sock.EmitText(frame("init", `"log_file":"/var/log/a-1.log"`))
	sock.EmitText(frame("log", `"content":"hello\n"`))
	sock.EmitText(frame("bogus", `"content":"x"`))
	sock.EmitText("not json")
	sock.EmitText(frame("LOG", `"content":"world\n"`))
	h.sched.Drain(5)

	if h.ctl.Buffer() != "hello\nworld\n" {
		t.Fatalf("unexpected streamed buffer: %q", h.ctl.Buffer())
	}
	if h.ctl.LogPath() != "/var/log/a-1.log" {
		t.Fatalf("init frame should set the log path, got %q", h.ctl.LogPath())
	}

	h.ctl.Select(Main())
	if !sock.Closed() || h.dialer.Open() != 0 {
		t.Fatal("switching away must close the socket")
	}
	h.sched.Drain(10)
	if h.ctl.Buffer() != "main 1" {
		t.Fatalf("unexpected buffer after switch: %q", h.ctl.Buffer())
	}
}

func TestController_AtMostOneSocket(t *testing.T) {
	h := newHarness(t, Options{})
	h.roster.ApplyTasks(nil, running("a", "b"))

	h.ctl.Select(Task("a"))
	h.ctl.Select(Task("b"))

	// b's dial completes first, then a's late success arrives
	h.sched.StepAt(1)
	h.sched.StepAt(0)

	if len(h.dialer.Sockets) != 2 {
		t.Fatalf("expected two dials, got %d", len(h.dialer.Sockets))
	}
	if h.dialer.Open() != 1 {
		t.Fatalf("expected exactly one open socket, got %d", h.dialer.Open())
	}
	if h.dialer.Sockets[0].Closed() || !h.dialer.Sockets[1].Closed() {
		t.Fatal("b's socket should be adopted and a's late socket closed")
	}
	if !h.ctl.Target().IsTask("b") {
		t.Fatalf("unexpected target %s", h.ctl.Target())
	}
}

func TestController_AutoPromotesNewRunningTask(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctl.Select(Main())
	h.sched.Step()

	h.roster.ApplyTasks(pendingTasks("p2"), running("r1"))
	h.ctl.Sync()
	if !h.ctl.Target().IsTask("r1") {
		t.Fatalf("expected promotion to r1, got %s", h.ctl.Target())
	}
	if h.sched.ActiveTimers() != 0 {
		t.Fatal("main log poll should stop on promotion")
	}
	h.sched.Step()
	if h.dialer.Open() != 1 {
		t.Fatalf("expected r1 stream open, got %d", h.dialer.Open())
	}

	// already following a running task: a second start does not steal focus
	h.roster.ApplyTasks(nil, running("r1", "p2"))
	h.ctl.Sync()
	if !h.ctl.Target().IsTask("r1") {
		t.Fatalf("focus stolen from running target: %s", h.ctl.Target())
	}
}

func TestController_NoPromotionWithoutTarget(t *testing.T) {
	h := newHarness(t, Options{})
	h.roster.ApplyTasks(nil, running("r1"))
	h.ctl.Sync()
	if h.ctl.Target().Kind != TargetNone || h.sched.Pending() != 0 {
		t.Fatalf("no target should stay unselected, got %s", h.ctl.Target())
	}
}

func TestController_FinishedTaskRefetchesStoredLog(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.taskLogs["p"] = api.LogContent{Success: true, Content: "full log of p"}
	h.roster.ApplyTasks(nil, running("p"))
	h.ctl.Sync()
	h.ctl.Select(Task("p"))
	h.sched.Step()

	sock := h.dialer.Last()
	sock.EmitText(frame("log", `"content":"working\n"`))
	sock.EmitText(frame("end", `"status":"failed","message":"exit 1"`))
	h.sched.Step()
	h.sched.Step()
	if !strings.Contains(h.ctl.Buffer(), "working") || !strings.Contains(h.ctl.Buffer(), "--- failed: exit 1 ---") {
		t.Fatalf("unexpected buffer after end frame: %q", h.ctl.Buffer())
	}

	// tasks poll lands first: p is in no bucket yet
	h.roster.ApplyTasks(nil, nil)
	h.ctl.Sync()
	if !h.ctl.Target().IsTask("p") {
		t.Fatalf("target dropped during transient gap: %s", h.ctl.Target())
	}

	h.roster.ApplyHistory([]api.Task{{ID: "p", Status: api.StatusFailed}})
	h.ctl.Sync()
	if !sock.Closed() {
		t.Fatal("stream must be torn down once the task finished")
	}
	if h.ctl.Transport() != TransportSnapshot {
		t.Fatalf("expected snapshot fetch, got %s", h.ctl.Transport())
	}
	if !strings.Contains(h.ctl.Buffer(), "working") {
		t.Fatalf("streamed text should stay until the fetch lands: %q", h.ctl.Buffer())
	}

	h.sched.Drain(10)
	if h.ctl.Buffer() != "full log of p" {
		t.Fatalf("expected stored log, got %q", h.ctl.Buffer())
	}
	if got := strings.Join(h.backend.taskCalls, ","); got != "p" {
		t.Fatalf("unexpected task log fetches: %s", got)
	}
}

func TestController_StaleHistoryDoesNotDropFinishedTarget(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.taskLogs["p"] = api.LogContent{Success: true, Content: "full log of p"}
	h.roster.ApplyTasks(nil, running("p"))
	h.roster.ApplyHistory(nil)
	h.ctl.Sync()
	h.ctl.Select(Task("p"))
	h.sched.Step()

	// p leaves running; the history reply of the same cycle predates its finish
	h.roster.ApplyTasks(nil, nil)
	h.ctl.Sync()
	h.roster.ApplyHistory(nil)
	h.ctl.Sync()
	if !h.ctl.Target().IsTask("p") {
		t.Fatalf("one poll cycle must count as one miss, target=%s", h.ctl.Target())
	}

	h.roster.ApplyHistory([]api.Task{{ID: "p", Status: api.StatusFailed}})
	h.ctl.Sync()
	if !h.ctl.Target().IsTask("p") || h.ctl.Transport() != TransportSnapshot {
		t.Fatalf("finished task should stay selected, got %s/%s", h.ctl.Target(), h.ctl.Transport())
	}
	h.sched.Drain(10)
	if h.ctl.Buffer() != "full log of p" {
		t.Fatalf("expected stored log, got %q", h.ctl.Buffer())
	}
}

func TestController_PendingTaskStartsStreamWhenRunning(t *testing.T) {
	h := newHarness(t, Options{})
	h.roster.ApplyTasks(pendingTasks("p"), nil)
	h.ctl.Sync()
	h.ctl.Select(Task("p"))
	h.sched.Step()
	if h.ctl.Buffer() != "log of p" {
		t.Fatalf("unexpected pending buffer: %q", h.ctl.Buffer())
	}

	h.roster.ApplyTasks(nil, running("p"))
	h.ctl.Sync()
	if h.ctl.Transport() != TransportStream || !h.ctl.Target().IsTask("p") {
		t.Fatalf("expected stream on p, got %s on %s", h.ctl.Transport(), h.ctl.Target())
	}
	h.sched.Step()
	if h.dialer.Open() != 1 {
		t.Fatalf("expected one open socket, got %d", h.dialer.Open())
	}
}

func TestController_FallsBackToMain(t *testing.T) {
	h := newHarness(t, Options{})
	h.roster.ApplyHistory([]api.Task{{ID: "x", Status: api.StatusCompleted}, {ID: "y", Status: api.StatusCompleted}})
	h.ctl.Select(Task("x"))
	h.sched.Step()

	h.roster.ApplyHistory([]api.Task{{ID: "y", Status: api.StatusCompleted}})
	h.ctl.Sync()
	if !h.ctl.Target().IsTask("x") {
		t.Fatalf("one missed sync should not drop the target: %s", h.ctl.Target())
	}
	h.ctl.Sync()
	if !h.ctl.Target().IsTask("x") {
		t.Fatalf("a repeated sync without new snapshots is not a new cycle: %s", h.ctl.Target())
	}
	h.roster.ApplyTasks(nil, nil)
	h.roster.ApplyHistory([]api.Task{{ID: "y", Status: api.StatusCompleted}})
	h.ctl.Sync()
	if h.ctl.Target().Kind != TargetMain || h.ctl.Transport() != TransportPoll {
		t.Fatalf("expected main log fallback, got %s/%s", h.ctl.Target(), h.ctl.Transport())
	}

	h.ctl.Select(Task("y"))
	h.roster.Remove("y")
	h.ctl.Sync()
	if h.ctl.Target().Kind != TargetMain {
		t.Fatalf("deleted target should fall back at once, got %s", h.ctl.Target())
	}
}

func TestController_DialFailureSurfaced(t *testing.T) {
	h := newHarness(t, Options{})
	h.dialer.Err = errors.New("refused")
	h.roster.ApplyTasks(nil, running("a"))
	h.ctl.Select(Task("a"))
	h.sched.Step()
	if !strings.Contains(h.ctl.Buffer(), "Log stream unavailable: refused") {
		t.Fatalf("unexpected buffer: %q", h.ctl.Buffer())
	}
	if h.ctl.Transport() != TransportNone {
		t.Fatalf("expected no transport, got %s", h.ctl.Transport())
	}
}

func TestController_StreamDropAndErrorFrames(t *testing.T) {
	h := newHarness(t, Options{})
	h.roster.ApplyTasks(nil, running("a", "b"))
	h.ctl.Select(Task("a"))
	h.sched.Step()
	sock := h.dialer.Last()
	sock.EmitText(frame("log", `"content":"line"`))
	h.sched.Step()
	_ = sock.Close()
	h.sched.Step()
	if h.ctl.Buffer() != "line\n\n[log stream closed]" {
		t.Fatalf("unexpected buffer after drop: %q", h.ctl.Buffer())
	}
	if h.ctl.Transport() != TransportNone {
		t.Fatalf("expected no transport, got %s", h.ctl.Transport())
	}

	h.ctl.Select(Task("b"))
	h.sched.Step()
	sock = h.dialer.Last()
	sock.EmitText(frame("info", `"message":"waiting for output"`))
	h.sched.Step()
	if h.ctl.Buffer() != "waiting for output" {
		t.Fatalf("info frame should replace buffer, got %q", h.ctl.Buffer())
	}
	sock.EmitText(frame("error", `"message":"task not found"`))
	h.sched.Step()
	_ = sock.Close()
	h.sched.Step()
	if h.ctl.Buffer() != "Log stream error: task not found" {
		t.Fatalf("unexpected buffer after error frame: %q", h.ctl.Buffer())
	}
}

func TestController_BufferKeepsTail(t *testing.T) {
	h := newHarness(t, Options{MaxBufferBytes: 16})
	h.roster.ApplyTasks(nil, running("a"))
	h.ctl.Select(Task("a"))
	h.sched.Step()
	sock := h.dialer.Last()
	sock.EmitText(frame("log", `"content":"first line\n"`))
	sock.EmitText(frame("log", `"content":"second line\n"`))
	h.sched.Step()
	h.sched.Step()
	if h.ctl.Buffer() != "second line\n" {
		t.Fatalf("expected tail to be kept, got %q", h.ctl.Buffer())
	}
	if h.updates == 0 {
		t.Fatal("OnUpdate never fired")
	}
}

func TestTailCommand(t *testing.T) {
	if got := TailCommand("/logs/a.log", false); got != `tail -f "/logs/a.log"` {
		t.Fatalf("unexpected unix command: %s", got)
	}
	if got := TailCommand(`C:\logs\a.log`, true); !strings.HasPrefix(got, "Get-Content -Path ") || !strings.HasSuffix(got, "-Wait -Tail 50") {
		t.Fatalf("unexpected windows command: %s", got)
	}
	if TailCommand("  ", false) != "" {
		t.Fatal("empty path should render nothing")
	}
}

func TestParseTarget(t *testing.T) {
	cases := map[string]Target{
		"":      None(),
		"none":  None(),
		"MAIN":  Main(),
		" t-1 ": Task("t-1"),
	}
	for in, want := range cases {
		if got := ParseTarget(in); got != want {
			t.Fatalf("ParseTarget(%q) = %#v, want %#v", in, got, want)
		}
	}
}
