package media

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tdjunwei/cctv-monitor-api/metrics"
)

// Config tunes the media manager. Zero values fall back to defaults so a
// bare Config{StoragePath: dir} is usable in tests.
type Config struct {
	FFmpegPath     string        // external transcoder binary, default "ffmpeg"
	StoragePath    string        // root under which streams/ and recordings/ live
	HardwareAccel  string        // "", "nvidia", "intel", "amd"
	Codec          string        // "h264" or "hevc"
	StartupTimeout time.Duration // grace period for output artifact confirmation
	StopGrace      time.Duration // polite-signal window before SIGKILL
	KillWait       time.Duration // bound on waiting after SIGKILL
	CleanupDelay   time.Duration // delay before removing a dead stream's artifacts
}

func (c *Config) withDefaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 15 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.KillWait <= 0 {
		c.KillWait = 5 * time.Second
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = 30 * time.Second
	}
}

// streamHandle pairs a live process with the session it serves. Handles
// are kept out of the session records so state queries never touch an OS
// resource.
type streamHandle struct {
	proc     *Proc
	session  *StreamSession
	ready    chan struct{} // closed when the output artifact is confirmed
	stopping bool          // set before a deliberate termination
}

type recordingHandle struct {
	proc     *Proc
	job      *RecordingJob
	stopping bool
}

// Manager owns the lifecycle of every external transcode, recording,
// probe and snapshot process. All registry mutations happen under one
// mutex so concurrent acquire/release calls for the same id serialize
// their check-then-act sequences.
type Manager struct {
	cfg      Config
	notifier *Notifier
	metrics  *metrics.OperationMetrics

	mu         sync.Mutex
	sessions   map[string]*StreamSession
	streams    map[string]*streamHandle
	recordings map[string]*RecordingJob
	recProcs   map[string]*recordingHandle
	closed     bool

	wg sync.WaitGroup // supervisor goroutines
}

// NewManager constructs a manager. The caller owns its lifetime and must
// call Shutdown at process teardown. ops may be nil.
func NewManager(cfg Config, ops *metrics.OperationMetrics) *Manager {
	cfg.withDefaults()
	return &Manager{
		cfg:        cfg,
		notifier:   NewNotifier(),
		metrics:    ops,
		sessions:   make(map[string]*StreamSession),
		streams:    make(map[string]*streamHandle),
		recordings: make(map[string]*RecordingJob),
		recProcs:   make(map[string]*recordingHandle),
	}
}

// Notifier exposes the lifecycle event source for subscribers.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

func (m *Manager) streamDir(id string) string {
	return filepath.Join(m.cfg.StoragePath, "streams", id)
}

func (m *Manager) playlistPath(id string) string {
	return filepath.Join(m.streamDir(id), "playlist.m3u8")
}

// Acquire starts a live transcode for id, or attaches to the one already
// running. The returned locator is the HLS playlist path; when attaching
// to a session that is still starting it may not exist on disk yet.
//
// For a new session Acquire blocks, bounded by the startup grace period,
// until the playlist is confirmed on disk. On ErrStartupTimeout the
// process keeps running and the session stays registered.
func (m *Manager) Acquire(id, sourceURI string, opts StreamOptions) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShutdown
	}

	if s, ok := m.sessions[id]; ok && !s.Status.Terminal() {
		s.ViewerCount++
		locator := s.OutputLocator
		if locator == "" {
			locator = m.playlistPath(id)
		}
		viewers := s.ViewerCount
		m.mu.Unlock()
		log.Printf("[Stream %s] Attached viewer (%d total), sharing existing transcode", id, viewers)
		return locator, nil
	}

	outDir := m.streamDir(id)
	playlist := m.playlistPath(id)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("failed to create stream directory: %v", err)
	}
	// A playlist left behind by a previous session must not satisfy the
	// readiness wait for this one.
	os.Remove(playlist)

	args := buildLiveArgs(sourceURI, outDir, playlist, m.cfg.HardwareAccel, m.cfg.Codec, opts)

	spawnStart := time.Now()
	proc, err := spawn(m.cfg.FFmpegPath, args, "stream-"+id, func(line string) { logProcessLine("stream-"+id, line) })
	if err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	m.metrics.ObserveSpawn(time.Since(spawnStart))

	session := &StreamSession{
		ID:          id,
		SourceURI:   sourceURI,
		Status:      StatusStarting,
		StartedAt:   time.Now(),
		ViewerCount: 1,
	}
	handle := &streamHandle{
		proc:    proc,
		session: session,
		ready:   make(chan struct{}),
	}
	m.sessions[id] = session
	m.streams[id] = handle

	m.wg.Add(1)
	go m.superviseStream(id, handle, outDir, playlist)
	m.mu.Unlock()

	select {
	case <-handle.ready:
		m.metrics.ObserveStartup(time.Since(session.StartedAt))
		return playlist, nil
	case <-proc.Done():
		return "", fmt.Errorf("stream %s: process exited with code %d before output was confirmed", id, proc.ExitCode())
	case <-time.After(m.cfg.StartupTimeout):
		log.Printf("[Stream %s] ⚠️ Startup not confirmed within %v, process left running", id, m.cfg.StartupTimeout)
		return "", ErrStartupTimeout
	}
}

// Release detaches one viewer from id. It returns true only when this
// call dropped the viewer count to zero and therefore terminated the
// underlying process. Unknown ids and double releases return false.
func (m *Manager) Release(id string) bool {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok || session.Status.Terminal() {
		m.mu.Unlock()
		return false
	}

	if session.ViewerCount > 0 {
		session.ViewerCount--
	}
	if session.ViewerCount > 0 {
		viewers := session.ViewerCount
		m.mu.Unlock()
		log.Printf("[Stream %s] Detached viewer, %d remaining", id, viewers)
		return false
	}

	handle := m.streams[id]
	if handle != nil {
		handle.stopping = true
	}
	session.Status = StatusStopped
	delete(m.sessions, id)
	m.mu.Unlock()

	log.Printf("[Stream %s] Last viewer gone, stopping transcode", id)
	if handle != nil {
		handle.proc.Stop(m.cfg.StopGrace, m.cfg.KillWait)
	}
	return true
}

// StartRecording spawns an exclusive capture for id. An empty outputPath
// picks a timestamped file under the storage root. duration of zero
// records until stopped.
func (m *Manager) StartRecording(id, sourceURI, outputPath string, duration time.Duration) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShutdown
	}
	if _, exists := m.recordings[id]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrRecordingExists, id)
	}

	if outputPath == "" {
		outputPath = filepath.Join(m.cfg.StoragePath, "recordings",
			fmt.Sprintf("%s_%s.mp4", id, time.Now().Format("20060102_150405")))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("failed to create recording directory: %v", err)
	}

	args := buildRecordArgs(sourceURI, outputPath, duration)
	proc, err := spawn(m.cfg.FFmpegPath, args, "record-"+id, func(line string) { logProcessLine("record-"+id, line) })
	if err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	job := &RecordingJob{
		ID:         id,
		SourceURI:  sourceURI,
		OutputPath: outputPath,
		Duration:   duration,
		StartedAt:  time.Now(),
	}
	handle := &recordingHandle{proc: proc, job: job}
	m.recordings[id] = job
	m.recProcs[id] = handle

	m.wg.Add(1)
	go m.superviseRecording(id, handle)
	m.mu.Unlock()

	log.Printf("[Recording %s] Started capture to %s (duration %v)", id, outputPath, duration)
	return outputPath, nil
}

// StopRecording terminates an active recording. Returns whether one was
// found and signaled.
func (m *Manager) StopRecording(id string) bool {
	m.mu.Lock()
	handle, ok := m.recProcs[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	handle.stopping = true
	m.mu.Unlock()

	log.Printf("[Recording %s] Stop requested", id)
	handle.proc.Stop(m.cfg.StopGrace, m.cfg.KillWait)
	return true
}

// Probe checks whether sourceURI responds and yields at least one
// decodable elementary stream within timeout. The probe process never
// outlives the call.
func (m *Manager) Probe(sourceURI string, timeout time.Duration) bool {
	start := time.Now()
	found := make(chan struct{}, 1)

	proc, err := spawn(m.cfg.FFmpegPath, buildProbeArgs(sourceURI), "probe", func(line string) {
		if streamMarker(line) {
			select {
			case found <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		log.Printf("[Probe] Failed to spawn probe for %s: %v", sourceURI, err)
		return false
	}

	accessible := false
	select {
	case <-found:
		accessible = true
	case <-proc.Done():
		accessible = proc.ExitCode() == 0
	case <-time.After(timeout):
	}

	proc.Kill()
	<-proc.Done()

	m.metrics.ObserveProbe(time.Since(start), accessible)
	log.Printf("[Probe] %s accessible=%v (%v)", sourceURI, accessible, time.Since(start).Round(time.Millisecond))
	return accessible
}

// Snapshot extracts a single frame from sourceURI into outputPath. It
// fails when the process exits nonzero, times out, or exits cleanly
// without producing the file; in every failure path the process is dead
// before Snapshot returns.
func (m *Manager) Snapshot(sourceURI, outputPath string, timeout time.Duration) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %v", err)
	}

	start := time.Now()
	proc, err := spawn(m.cfg.FFmpegPath, buildSnapshotArgs(sourceURI, outputPath), "snapshot", func(line string) { logProcessLine("snapshot", line) })
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	select {
	case <-proc.Done():
	case <-time.After(timeout):
		proc.Kill()
		<-proc.Done()
		m.metrics.ObserveSnapshot(time.Since(start), false)
		return "", fmt.Errorf("%w: snapshot of %s exceeded %v", ErrTimeout, sourceURI, timeout)
	}

	if code := proc.ExitCode(); code != 0 {
		m.metrics.ObserveSnapshot(time.Since(start), false)
		return "", fmt.Errorf("snapshot process exited with code %d", code)
	}
	if _, err := os.Stat(outputPath); err != nil {
		m.metrics.ObserveSnapshot(time.Since(start), false)
		return "", fmt.Errorf("snapshot produced no output at %s", outputPath)
	}

	m.metrics.ObserveSnapshot(time.Since(start), true)
	return outputPath, nil
}

// GetSession returns a copy of the session state for id. Terminal
// sessions remain queryable until their delayed cleanup runs.
func (m *Manager) GetSession(id string) (StreamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return StreamSession{}, false
	}
	return *s, true
}

// ListActiveSessions returns copies of every session that is starting or
// running.
func (m *Manager) ListActiveSessions() []StreamSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StreamSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.Status.Terminal() {
			out = append(out, *s)
		}
	}
	return out
}

// ListRecordings returns copies of every in-flight recording job.
func (m *Manager) ListRecordings() []RecordingJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RecordingJob, 0, len(m.recordings))
	for _, j := range m.recordings {
		out = append(out, *j)
	}
	return out
}

// Shutdown terminates every active session and recording, waits for the
// supervisors to drain, removes live-stream artifacts and closes the
// notifier. The manager accepts no new work afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	var procs []*Proc
	var dirs []string
	for id, h := range m.streams {
		h.stopping = true
		if !h.session.Status.Terminal() {
			h.session.Status = StatusStopped
		}
		procs = append(procs, h.proc)
		dirs = append(dirs, m.streamDir(id))
		delete(m.sessions, id)
	}
	for _, h := range m.recProcs {
		h.stopping = true
		procs = append(procs, h.proc)
	}
	m.mu.Unlock()

	log.Printf("[MediaManager] Shutting down, stopping %d processes", len(procs))
	var stopWg sync.WaitGroup
	for _, p := range procs {
		stopWg.Add(1)
		go func(p *Proc) {
			defer stopWg.Done()
			p.Stop(m.cfg.StopGrace, m.cfg.KillWait)
		}(p)
	}
	stopWg.Wait()
	m.wg.Wait()

	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[MediaManager] Failed to remove stream artifacts %s: %v", dir, err)
		}
	}

	m.notifier.close()
	log.Printf("[MediaManager] ✅ Shutdown complete")
}

// logProcessLine forwards a subprocess diagnostic line to the log at a
// level inferred from ffmpeg's output conventions.
func logProcessLine(tag, line string) {
	if strings.Contains(line, "error") || strings.Contains(line, "Error") {
		log.Printf("[%s] ffmpeg: %s", tag, line)
	}
}
