package signaling

import (
	"fmt"
	"log"
	"time"

	"github.com/tdjunwei/cctv-monitor-api/config"
)

// RecordingControl is the subset of the media manager the trigger needs.
type RecordingControl interface {
	StartRecording(id, sourceURI, outputPath string, duration time.Duration) (string, error)
	StopRecording(id string) bool
}

// ButtonTrigger toggles recordings when a hardware button is pressed.
// The button number maps to a camera via the configuration.
type ButtonTrigger struct {
	cfg *config.Config
	mgr RecordingControl
}

// NewButtonTrigger creates a trigger bound to the camera configuration
func NewButtonTrigger(cfg *config.Config, mgr RecordingControl) *ButtonTrigger {
	return &ButtonTrigger{cfg: cfg, mgr: mgr}
}

// HandleSignal starts a recording for the camera mapped to the button,
// or stops it if one is already running.
func (t *ButtonTrigger) HandleSignal(signal string) error {
	camera, ok := t.cfg.CameraByButton[signal]
	if !ok {
		return fmt.Errorf("no camera mapped to button %q", signal)
	}
	if !camera.Enabled {
		return fmt.Errorf("camera %s for button %q is disabled", camera.Name, signal)
	}

	if t.mgr.StopRecording(camera.Name) {
		log.Printf("[Signaling] ▶️ Button %s stopped recording for camera %s", signal, camera.Name)
		return nil
	}

	path, err := t.mgr.StartRecording(camera.Name, camera.RTSPURL(), "", 0)
	if err != nil {
		return fmt.Errorf("failed to start recording for camera %s: %v", camera.Name, err)
	}

	log.Printf("[Signaling] ▶️ Button %s started recording for camera %s to %s", signal, camera.Name, path)
	return nil
}
