package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tdjunwei/cctv-monitor-api/config"
	"github.com/tdjunwei/cctv-monitor-api/database"
	"github.com/tdjunwei/cctv-monitor-api/media"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// writeStub creates an executable shell script standing in for ffmpeg.
// Arg builders put the destination path last, so the stub finds its
// output file with a loop over "$@".
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg-stub.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub: %v", err)
	}
	return path
}

func liveStub(t *testing.T) string {
	return writeStub(t, `for a in "$@"; do out="$a"; done
touch "$out"
exec sleep 60`)
}

func newTestServer(t *testing.T, stub string) (*Server, *gin.Engine, *media.Manager) {
	t.Helper()

	storagePath := t.TempDir()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr := media.NewManager(media.Config{
		FFmpegPath:     stub,
		StoragePath:    storagePath,
		StartupTimeout: 3 * time.Second,
		StopGrace:      500 * time.Millisecond,
		KillWait:       2 * time.Second,
		CleanupDelay:   100 * time.Millisecond,
	}, nil)
	t.Cleanup(mgr.Shutdown)

	cfg := &config.Config{
		ServerPort:         "8080",
		BaseURL:            "http://localhost:8080",
		StoragePath:        storagePath,
		ProbeTimeoutSec:    3,
		SnapshotTimeoutSec: 3,
		Cameras: []config.CameraConfig{
			{Name: "front-gate", IP: "10.0.0.5", Port: "554", Path: "/stream1", Username: "u", Password: "p", Enabled: true},
		},
	}
	cfg.BuildCameraLookup()

	srv := NewServer(cfg, db, mgr, nil, nil)
	return srv, srv.SetupTestRouter(), mgr
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestStartAndStopStream(t *testing.T) {
	_, r, mgr := newTestServer(t, liveStub(t))

	w := doRequest(t, r, http.MethodPost, "/api/streams/front-gate/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start stream returned %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "streaming" {
		t.Errorf("expected status streaming, got %v", body["status"])
	}
	hlsURL, _ := body["hlsUrl"].(string)
	if !strings.HasSuffix(hlsURL, "/streams/front-gate/playlist.m3u8") {
		t.Errorf("unexpected hlsUrl: %s", hlsURL)
	}

	if got := len(mgr.ListActiveSessions()); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}

	w = doRequest(t, r, http.MethodPost, "/api/streams/front-gate/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stop stream returned %d: %s", w.Code, w.Body.String())
	}
	body = decodeBody(t, w)
	if body["terminated"] != true {
		t.Errorf("expected terminated=true, got %v", body["terminated"])
	}
}

func TestStartStreamUnknownCamera(t *testing.T) {
	_, r, _ := newTestServer(t, liveStub(t))

	w := doRequest(t, r, http.MethodPost, "/api/streams/nope/start", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown camera, got %d", w.Code)
	}
}

func TestGetStream(t *testing.T) {
	_, r, _ := newTestServer(t, liveStub(t))

	w := doRequest(t, r, http.MethodGet, "/api/streams/front-gate", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before stream starts, got %d", w.Code)
	}

	w = doRequest(t, r, http.MethodPost, "/api/streams/front-gate/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start stream returned %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, r, http.MethodGet, "/api/streams/front-gate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get stream returned %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != string(media.StatusRunning) {
		t.Errorf("expected running session, got %v", body["status"])
	}
	if body["viewerCount"] != float64(1) {
		t.Errorf("expected 1 viewer, got %v", body["viewerCount"])
	}
}

func TestRecordingConflict(t *testing.T) {
	_, r, _ := newTestServer(t, liveStub(t))

	w := doRequest(t, r, http.MethodPost, "/api/recordings/front-gate/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start recording returned %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, r, http.MethodPost, "/api/recordings/front-gate/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second recording, got %d", w.Code)
	}

	w = doRequest(t, r, http.MethodPost, "/api/recordings/front-gate/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stop recording returned %d: %s", w.Code, w.Body.String())
	}
}

func TestStopRecordingWithoutActive(t *testing.T) {
	_, r, _ := newTestServer(t, liveStub(t))

	w := doRequest(t, r, http.MethodPost, "/api/recordings/front-gate/stop", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when no recording is active, got %d", w.Code)
	}
}

func TestProbeCamera(t *testing.T) {
	// Probe succeeds when the stub reports a video stream on stderr
	stub := writeStub(t, `echo "  Stream #0:0: Video: h264" >&2
exec sleep 60`)
	_, r, _ := newTestServer(t, stub)

	w := doRequest(t, r, http.MethodPost, "/api/cameras/front-gate/probe", "")
	if w.Code != http.StatusOK {
		t.Fatalf("probe returned %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["accessible"] != true {
		t.Errorf("expected accessible=true, got %v", body["accessible"])
	}
}

func TestSnapshotCamera(t *testing.T) {
	stub := writeStub(t, `for a in "$@"; do out="$a"; done
printf 'jpg' > "$out"`)
	srv, r, _ := newTestServer(t, stub)

	w := doRequest(t, r, http.MethodPost, "/api/cameras/front-gate/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot returned %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	path, _ := body["path"].(string)
	if path == "" {
		t.Fatal("expected snapshot path in response")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
	if !strings.HasPrefix(path, srv.config.StoragePath) {
		t.Errorf("snapshot path %s not under storage root", path)
	}
}

func TestListCamerasHidesCredentials(t *testing.T) {
	_, r, _ := newTestServer(t, liveStub(t))

	w := doRequest(t, r, http.MethodGet, "/api/cameras", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list cameras returned %d", w.Code)
	}
	if strings.Contains(w.Body.String(), `"password"`) {
		t.Error("camera listing must not expose passwords")
	}
}

func TestSystemHealth(t *testing.T) {
	_, r, _ := newTestServer(t, liveStub(t))

	w := doRequest(t, r, http.MethodGet, "/api/system_health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("system health returned %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	dbStatus, _ := body["database"].(map[string]interface{})
	if dbStatus["status"] != "connected" {
		t.Errorf("expected database connected, got %v", dbStatus)
	}
}

func TestRecordingHistoryPagination(t *testing.T) {
	srv, r, _ := newTestServer(t, liveStub(t))

	for i := 0; i < 5; i++ {
		rec := database.RecordingRecord{
			ID:         fmt.Sprintf("rec-%d", i),
			CameraName: "front-gate",
			CreatedAt:  time.Now().Add(time.Duration(-i) * time.Hour),
			Status:     database.StatusReady,
		}
		if err := srv.db.CreateRecording(rec); err != nil {
			t.Fatalf("failed to seed recording: %v", err)
		}
	}

	w := doRequest(t, r, http.MethodGet, "/api/recordings/history?limit=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history returned %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	recs, _ := body["recordings"].([]interface{})
	if len(recs) != 3 {
		t.Errorf("expected 3 recordings, got %d", len(recs))
	}
}
