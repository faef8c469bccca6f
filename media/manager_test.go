package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeStub creates an executable shell script standing in for the
// ffmpeg binary. Every builder puts the destination path last, so stubs
// can find their output file with a plain loop over "$@".
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg-stub.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub: %v", err)
	}
	return path
}

// liveStub creates the destination file immediately and then blocks like
// a real transcoder, appending one line per invocation to spawnLog.
func liveStub(t *testing.T, spawnLog string) string {
	return writeStub(t, fmt.Sprintf(`echo $$ >> %q
for a in "$@"; do out="$a"; done
touch "$out"
exec sleep 60`, spawnLog))
}

func spawnCount(t *testing.T, spawnLog string) int {
	t.Helper()
	data, err := os.ReadFile(spawnLog)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("failed to read spawn log: %v", err)
	}
	return len(strings.Fields(string(data)))
}

func testConfig(t *testing.T, stub string) Config {
	return Config{
		FFmpegPath:     stub,
		StoragePath:    t.TempDir(),
		StartupTimeout: 3 * time.Second,
		StopGrace:      500 * time.Millisecond,
		KillWait:       2 * time.Second,
		CleanupDelay:   100 * time.Millisecond,
	}
}

func TestAcquireSharesSession(t *testing.T) {
	spawnLog := filepath.Join(t.TempDir(), "spawns")
	m := NewManager(testConfig(t, liveStub(t, spawnLog)), nil)
	defer m.Shutdown()

	locator, err := m.Acquire("cam1", "rtsp://x", StreamOptions{})
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := os.Stat(locator); err != nil {
		t.Fatalf("locator %s does not exist: %v", locator, err)
	}

	second, err := m.Acquire("cam1", "rtsp://x", StreamOptions{})
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if second != locator {
		t.Errorf("second acquire returned %s, want %s", second, locator)
	}

	s, ok := m.GetSession("cam1")
	if !ok {
		t.Fatal("session not found after acquire")
	}
	if s.ViewerCount != 2 {
		t.Errorf("viewer count = %d, want 2", s.ViewerCount)
	}
	if s.Status != StatusRunning {
		t.Errorf("status = %s, want %s", s.Status, StatusRunning)
	}
	if got := spawnCount(t, spawnLog); got != 1 {
		t.Errorf("spawned %d processes, want 1", got)
	}

	if stopped := m.Release("cam1"); stopped {
		t.Error("first release reported a stop with a viewer remaining")
	}
	if stopped := m.Release("cam1"); !stopped {
		t.Error("second release did not stop the stream")
	}
	if _, ok := m.GetSession("cam1"); ok {
		t.Error("session still registered after final release")
	}
}

func TestConcurrentAcquireSpawnsOnce(t *testing.T) {
	spawnLog := filepath.Join(t.TempDir(), "spawns")
	m := NewManager(testConfig(t, liveStub(t, spawnLog)), nil)
	defer m.Shutdown()

	const viewers = 8
	var wg sync.WaitGroup
	errs := make(chan error, viewers)
	for i := 0; i < viewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire("cam1", "rtsp://x", StreamOptions{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent acquire failed: %v", err)
	}

	if got := spawnCount(t, spawnLog); got != 1 {
		t.Errorf("spawned %d processes for one id, want 1", got)
	}
	s, _ := m.GetSession("cam1")
	if s.ViewerCount != viewers {
		t.Errorf("viewer count = %d, want %d", s.ViewerCount, viewers)
	}

	for i := 0; i < viewers-1; i++ {
		if m.Release("cam1") {
			t.Fatalf("release %d stopped the stream early", i+1)
		}
	}
	if !m.Release("cam1") {
		t.Error("final release did not stop the stream")
	}
}

func TestReleaseUnknownID(t *testing.T) {
	m := NewManager(testConfig(t, writeStub(t, "exit 0")), nil)
	defer m.Shutdown()

	if m.Release("nope") {
		t.Error("release of unknown id reported a stop")
	}
	// Double release after a stop must stay a no-op as well.
	if m.Release("nope") {
		t.Error("double release reported a stop")
	}
}

func TestAcquireAfterFailureSpawnsNewProcess(t *testing.T) {
	spawnLog := filepath.Join(t.TempDir(), "spawns")
	failFlag := filepath.Join(t.TempDir(), "fail")
	stub := writeStub(t, fmt.Sprintf(`echo $$ >> %q
if [ -e %q ]; then exit 1; fi
for a in "$@"; do out="$a"; done
touch "$out"
exec sleep 60`, spawnLog, failFlag))

	m := NewManager(testConfig(t, stub), nil)
	defer m.Shutdown()

	if err := os.WriteFile(failFlag, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire("cam1", "rtsp://x", StreamOptions{}); err == nil {
		t.Fatal("acquire succeeded although the process died before producing output")
	}

	// Wait until the supervisor records the terminal state.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s, ok := m.GetSession("cam1")
		if !ok || s.Status == StatusFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never reached failed state, still %s", s.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	os.Remove(failFlag)
	if _, err := m.Acquire("cam1", "rtsp://x", StreamOptions{}); err != nil {
		t.Fatalf("acquire after failure did not start fresh: %v", err)
	}
	if got := spawnCount(t, spawnLog); got != 2 {
		t.Errorf("spawned %d processes, want 2 (no reuse of the dead one)", got)
	}
}

func TestStartupTimeoutLeavesSessionRegistered(t *testing.T) {
	cfg := testConfig(t, writeStub(t, "exec sleep 60"))
	cfg.StartupTimeout = 200 * time.Millisecond
	m := NewManager(cfg, nil)
	defer m.Shutdown()

	_, err := m.Acquire("cam1", "rtsp://x", StreamOptions{})
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("err = %v, want ErrStartupTimeout", err)
	}

	s, ok := m.GetSession("cam1")
	if !ok {
		t.Fatal("session gone after startup timeout; it must stay reachable")
	}
	if s.Status != StatusStarting {
		t.Errorf("status = %s, want %s", s.Status, StatusStarting)
	}

	// The caller can still force-stop the lingering process.
	if !m.Release("cam1") {
		t.Error("release did not stop the lingering process")
	}
}

func TestRecordingExclusive(t *testing.T) {
	m := NewManager(testConfig(t, writeStub(t, "exec sleep 60")), nil)
	defer m.Shutdown()

	if _, err := m.StartRecording("r1", "rtsp://x", "", 0); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if _, err := m.StartRecording("r1", "rtsp://x", "", 0); !errors.Is(err, ErrRecordingExists) {
		t.Fatalf("second start err = %v, want ErrRecordingExists", err)
	}
	if !m.StopRecording("r1") {
		t.Error("stop did not find the active recording")
	}
	if m.StopRecording("r1") {
		t.Error("second stop reported an active recording")
	}
}

func TestRecordingFinishedNotification(t *testing.T) {
	// Simulates a bounded-duration capture: runs briefly, writes its
	// output file, exits 0.
	stub := writeStub(t, `for a in "$@"; do out="$a"; done
sleep 0.2
echo data > "$out"
exit 0`)
	m := NewManager(testConfig(t, stub), nil)
	defer m.Shutdown()

	token, events := m.Notifier().Subscribe()
	defer m.Notifier().Unsubscribe(token)

	outPath := filepath.Join(t.TempDir(), "r1.mp4")
	if _, err := m.StartRecording("r1", "rtsp://x", outPath, 5*time.Second); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventRecordingFinished {
			t.Fatalf("event type = %s, want %s", ev.Type, EventRecordingFinished)
		}
		if ev.OutputPath != outPath {
			t.Errorf("event output = %s, want %s", ev.OutputPath, outPath)
		}
		if ev.ExitCode != 0 {
			t.Errorf("event exit code = %d, want 0", ev.ExitCode)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no recordingFinished event observed")
	}

	// Exactly once: no second event, and the registry entry is gone.
	select {
	case ev := <-events:
		t.Fatalf("unexpected second event %s for %s", ev.Type, ev.ID)
	case <-time.After(300 * time.Millisecond):
	}
	if jobs := m.ListRecordings(); len(jobs) != 0 {
		t.Errorf("recording registry still holds %d entries", len(jobs))
	}
}

func TestProbeAccessibleSource(t *testing.T) {
	stub := writeStub(t, `echo "  Stream #0:0: Video: h264 (Main), yuv420p, 1920x1080" >&2
exec sleep 60`)
	m := NewManager(testConfig(t, stub), nil)
	defer m.Shutdown()

	if !m.Probe("rtsp://x", 3*time.Second) {
		t.Error("probe = false for a source announcing a video stream")
	}
}

func TestProbeReturnsWithinTimeout(t *testing.T) {
	m := NewManager(testConfig(t, writeStub(t, "exec sleep 60")), nil)
	defer m.Shutdown()

	timeout := 300 * time.Millisecond
	start := time.Now()
	if m.Probe("rtsp://unreachable", timeout) {
		t.Error("probe = true for a source that never yields a stream")
	}
	if elapsed := time.Since(start); elapsed > timeout+time.Second {
		t.Errorf("probe took %v, want <= timeout plus kill overhead", elapsed)
	}
}

func TestSnapshotSuccess(t *testing.T) {
	stub := writeStub(t, `for a in "$@"; do out="$a"; done
echo jpg > "$out"
exit 0`)
	m := NewManager(testConfig(t, stub), nil)
	defer m.Shutdown()

	outPath := filepath.Join(t.TempDir(), "shot.jpg")
	got, err := m.Snapshot("rtsp://x", outPath, 2*time.Second)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if got != outPath {
		t.Errorf("snapshot path = %s, want %s", got, outPath)
	}
}

func TestSnapshotRejectsMissingOutput(t *testing.T) {
	// Clean exit but no file written: still a failure.
	m := NewManager(testConfig(t, writeStub(t, "exit 0")), nil)
	defer m.Shutdown()

	if _, err := m.Snapshot("rtsp://x", filepath.Join(t.TempDir(), "shot.jpg"), 2*time.Second); err == nil {
		t.Error("snapshot succeeded although no output file exists")
	}
}

func TestSnapshotTimeout(t *testing.T) {
	m := NewManager(testConfig(t, writeStub(t, "exec sleep 60")), nil)
	defer m.Shutdown()

	_, err := m.Snapshot("rtsp://x", filepath.Join(t.TempDir(), "shot.jpg"), 300*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestSpawnErrorIsSynchronous(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "no-such-binary"))
	m := NewManager(cfg, nil)
	defer m.Shutdown()

	if _, err := m.Acquire("cam1", "rtsp://x", StreamOptions{}); !errors.Is(err, ErrSpawn) {
		t.Errorf("acquire err = %v, want ErrSpawn", err)
	}
	if _, ok := m.GetSession("cam1"); ok {
		t.Error("session registered despite spawn failure")
	}
	if _, err := m.StartRecording("r1", "rtsp://x", "", 0); !errors.Is(err, ErrSpawn) {
		t.Errorf("recording err = %v, want ErrSpawn", err)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	spawnLog := filepath.Join(t.TempDir(), "spawns")
	m := NewManager(testConfig(t, liveStub(t, spawnLog)), nil)

	if _, err := m.Acquire("cam1", "rtsp://x", StreamOptions{}); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := m.StartRecording("r1", "rtsp://x", "", 0); err != nil {
		t.Fatalf("recording failed: %v", err)
	}

	m.Shutdown()

	if got := m.ListActiveSessions(); len(got) != 0 {
		t.Errorf("%d sessions active after shutdown", len(got))
	}
	if got := m.ListRecordings(); len(got) != 0 {
		t.Errorf("%d recordings active after shutdown", len(got))
	}
	if _, err := m.Acquire("cam2", "rtsp://x", StreamOptions{}); !errors.Is(err, ErrShutdown) {
		t.Errorf("acquire after shutdown err = %v, want ErrShutdown", err)
	}
}

func TestStreamFailureEmitsErroredEvent(t *testing.T) {
	stub := writeStub(t, `for a in "$@"; do out="$a"; done
touch "$out"
sleep 0.3
exit 1`)
	m := NewManager(testConfig(t, stub), nil)
	defer m.Shutdown()

	token, events := m.Notifier().Subscribe()
	defer m.Notifier().Unsubscribe(token)

	if _, err := m.Acquire("cam1", "rtsp://x", StreamOptions{}); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	sawStarted := false
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventStreamStarted:
				sawStarted = true
			case EventStreamErrored:
				if !sawStarted {
					t.Error("errored event arrived before started event")
				}
				if ev.ExitCode != 1 {
					t.Errorf("exit code = %d, want 1", ev.ExitCode)
				}
				s, ok := m.GetSession("cam1")
				if ok && s.Status != StatusFailed {
					t.Errorf("status = %s, want %s", s.Status, StatusFailed)
				}
				return
			default:
				t.Fatalf("unexpected event %s", ev.Type)
			}
		case <-deadline:
			t.Fatal("no streamErrored event observed")
		}
	}
}
