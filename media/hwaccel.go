package media

// inputParams returns the FFmpeg input-side parameters for the configured
// hardware acceleration. Software decoding needs none.
func inputParams(hwAccel string) []string {
	switch hwAccel {
	case "nvidia":
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case "intel":
		return []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"}
	case "amd":
		return []string{"-hwaccel", "amf"}
	default:
		return nil
	}
}

// videoCodec maps the hardware acceleration mode and codec family to the
// concrete FFmpeg encoder name.
func videoCodec(hwAccel, codec string) string {
	if codec == "" {
		codec = "h264"
	}

	switch hwAccel {
	case "nvidia":
		if codec == "hevc" {
			return "hevc_nvenc"
		}
		return "h264_nvenc"
	case "intel":
		if codec == "hevc" {
			return "hevc_qsv"
		}
		return "h264_qsv"
	case "amd":
		if codec == "hevc" {
			return "hevc_amf"
		}
		return "h264_amf"
	default:
		if codec == "hevc" {
			return "libx265"
		}
		return "libx264"
	}
}

// encoderPreset returns the speed preset flag value appropriate for the
// selected encoder. Hardware encoders use their own preset vocabularies.
func encoderPreset(hwAccel string) string {
	switch hwAccel {
	case "nvidia":
		return "p4"
	case "intel", "amd":
		return "medium"
	default:
		return "ultrafast"
	}
}
