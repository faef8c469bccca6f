package media

import (
	"fmt"
	"strings"
	"time"
)

// StreamOptions carries the per-stream encoding overrides. Zero values
// mean "use source / defaults"; each set field is inserted at a fixed
// position in the argument vector so flag ordering never depends on call
// sites.
type StreamOptions struct {
	Resolution string // e.g. "1280x720", inserted as a scale filter
	Bitrate    string // e.g. "2800k"
	FrameRate  int    // output frames per second
}

// rtspInputArgs are the input-side flags shared by every operation that
// reads a live RTSP source. TCP transport is more reliable than UDP for
// IP cameras, and the buffering flags keep startup latency down.
func rtspInputArgs(sourceURI string) []string {
	args := []string{
		"-rtsp_transport", "tcp",
		"-timeout", "5000000",
		"-fflags", "nobuffer+discardcorrupt",
		"-analyzeduration", "2000000",
		"-probesize", "1000000",
	}
	if !strings.HasPrefix(sourceURI, "rtsp://") {
		// File or HTTP sources get none of the RTSP tuning.
		args = nil
	}
	return append(args, "-i", sourceURI)
}

// buildLiveArgs assembles the argument vector for a live HLS transcode.
// Order: input flags, input, encoder parameters, HLS muxer flags,
// segment pattern, playlist path last.
func buildLiveArgs(sourceURI, outDir, playlistPath string, hwAccel, codec string, opts StreamOptions) []string {
	args := inputParams(hwAccel)
	args = append(args, rtspInputArgs(sourceURI)...)

	args = append(args,
		"-c:v", videoCodec(hwAccel, codec),
		"-preset", encoderPreset(hwAccel),
		"-tune", "zerolatency",
	)
	if opts.Resolution != "" {
		args = append(args, "-vf", "scale="+strings.Replace(opts.Resolution, "x", ":", 1))
	}
	if opts.Bitrate != "" {
		args = append(args, "-b:v", opts.Bitrate)
	}
	if opts.FrameRate > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", opts.FrameRate))
	}

	args = append(args,
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-max_muxing_queue_size", "1024",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments+delete_segments",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", outDir+"/segment_%03d.ts",
		playlistPath,
	)
	return args
}

// buildRecordArgs assembles the argument vector for an exclusive MP4
// recording. Stream copy keeps CPU cost near zero; the optional duration
// bound is inserted right after the input so FFmpeg stops by itself.
func buildRecordArgs(sourceURI, outputPath string, duration time.Duration) []string {
	args := rtspInputArgs(sourceURI)
	if duration > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", int(duration.Seconds())))
	}
	args = append(args,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts",
		"-max_muxing_queue_size", "1024",
		"-f", "mp4",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	)
	return args
}

// buildSnapshotArgs assembles the argument vector for a single-frame
// extraction.
func buildSnapshotArgs(sourceURI, outputPath string) []string {
	args := rtspInputArgs(sourceURI)
	return append(args,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2",
		"-y",
		outputPath,
	)
}

// buildProbeArgs assembles a minimal decode-only invocation with no
// persistent output. One second of decoded media is enough to confirm
// the source responds and yields decodable streams.
func buildProbeArgs(sourceURI string) []string {
	args := rtspInputArgs(sourceURI)
	return append(args,
		"-t", "1",
		"-f", "null",
		"-",
	)
}

// streamMarker reports whether an FFmpeg diagnostic line announces a
// decodable elementary stream, e.g.
// "  Stream #0:0: Video: h264 (Main), yuv420p, 1920x1080".
func streamMarker(line string) bool {
	if !strings.Contains(line, "Stream #") {
		return false
	}
	return strings.Contains(line, "Video:") || strings.Contains(line, "Audio:")
}
