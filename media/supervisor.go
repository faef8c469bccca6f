package media

import (
	"fmt"
	"log"
	"os"
	"time"
)

// superviseStream tracks one live transcode process from spawn to
// terminal state. It owns the Starting -> Running transition (playlist
// confirmed on disk) and the terminal transition on process exit, and it
// schedules the delayed artifact cleanup afterwards. Transitions are
// recorded under the registry lock before the matching event is emitted,
// so observers never see an event ahead of the state.
func (m *Manager) superviseStream(id string, h *streamHandle, outDir, playlist string) {
	defer m.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	confirmed := false
	for {
		select {
		case <-h.proc.Done():
			m.finishStream(id, h, outDir)
			return

		case <-ticker.C:
			if confirmed {
				continue
			}
			if _, err := os.Stat(playlist); err != nil {
				continue
			}
			m.mu.Lock()
			if h.session.Status != StatusStarting {
				// Released or shut down before the artifact appeared.
				m.mu.Unlock()
				confirmed = true
				continue
			}
			h.session.Status = StatusRunning
			h.session.OutputLocator = playlist
			m.mu.Unlock()
			close(h.ready)
			confirmed = true
			log.Printf("[Stream %s] ▶️ Output confirmed, stream is live at %s", id, playlist)
			m.notifier.publish(Event{
				Type:       EventStreamStarted,
				ID:         id,
				SourceURI:  h.session.SourceURI,
				OutputPath: playlist,
			})
		}
	}
}

// finishStream records the terminal transition for a stream process and
// schedules the artifact cleanup. A deliberate stop (Release, Shutdown)
// always terminates as Stopped regardless of the exit code the signal
// produced.
func (m *Manager) finishStream(id string, h *streamHandle, outDir string) {
	code := h.proc.ExitCode()

	m.mu.Lock()
	session := h.session
	deliberate := h.stopping
	if !session.Status.Terminal() {
		if deliberate || code == 0 {
			session.Status = StatusStopped
		} else {
			session.Status = StatusFailed
		}
	}
	terminal := session.Status
	if cur, ok := m.streams[id]; ok && cur == h {
		delete(m.streams, id)
	}
	m.mu.Unlock()

	if terminal == StatusFailed {
		log.Printf("[Stream %s] ❌ Process exited with code %d, marking failed", id, code)
		m.notifier.publish(Event{
			Type:      EventStreamErrored,
			ID:        id,
			SourceURI: session.SourceURI,
			ExitCode:  code,
			Error:     fmt.Sprintf("transcode process exited with code %d", code),
		})
	} else {
		log.Printf("[Stream %s] Process stopped (exit code %d)", id, code)
		m.notifier.publish(Event{
			Type:       EventStreamStopped,
			ID:         id,
			SourceURI:  session.SourceURI,
			OutputPath: session.OutputLocator,
			ExitCode:   code,
		})
	}

	m.scheduleCleanup(id, session, outDir)
}

// scheduleCleanup removes the session record and its artifact directory
// after the cleanup delay, tolerating trailing playlist readers. The
// session pointer guards against deleting the artifacts of a fresh
// session that reused the id in the meantime.
func (m *Manager) scheduleCleanup(id string, session *StreamSession, outDir string) {
	time.AfterFunc(m.cfg.CleanupDelay, func() {
		m.mu.Lock()
		if cur, ok := m.sessions[id]; ok {
			if cur != session {
				// The id was re-acquired; the directory belongs to the
				// new session now.
				m.mu.Unlock()
				return
			}
			delete(m.sessions, id)
		}
		m.mu.Unlock()

		if err := os.RemoveAll(outDir); err != nil {
			log.Printf("[Stream %s] Failed to clean up artifacts in %s: %v", id, outDir, err)
			return
		}
		log.Printf("[Stream %s] 🧹 Cleaned up artifacts in %s", id, outDir)
	})
}

// superviseRecording waits for a recording process to exit, removes the
// job from the registry and emits the finished/errored notification. A
// deliberate stop counts as finished: the file up to the stop point is
// the requested artifact.
func (m *Manager) superviseRecording(id string, h *recordingHandle) {
	defer m.wg.Done()

	<-h.proc.Done()
	code := h.proc.ExitCode()

	m.mu.Lock()
	deliberate := h.stopping
	if cur, ok := m.recordings[id]; ok && cur == h.job {
		delete(m.recordings, id)
	}
	if cur, ok := m.recProcs[id]; ok && cur == h {
		delete(m.recProcs, id)
	}
	m.mu.Unlock()

	if code == 0 || deliberate {
		log.Printf("[Recording %s] ✅ Finished (exit code %d): %s", id, code, h.job.OutputPath)
		m.notifier.publish(Event{
			Type:       EventRecordingFinished,
			ID:         id,
			SourceURI:  h.job.SourceURI,
			OutputPath: h.job.OutputPath,
			ExitCode:   code,
		})
		return
	}

	log.Printf("[Recording %s] ❌ Process exited with code %d", id, code)
	m.notifier.publish(Event{
		Type:       EventRecordingErrored,
		ID:         id,
		SourceURI:  h.job.SourceURI,
		OutputPath: h.job.OutputPath,
		ExitCode:   code,
		Error:      fmt.Sprintf("recording process exited with code %d", code),
	})
}
