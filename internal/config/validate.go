package config

import (
	"fmt"
	"strings"
)

var validVideoCodecs = map[string]bool{"h264": true, "h265": true, "vp8": true, "vp9": true}
var validVideoPresets = map[string]bool{"speed": true, "balanced": true, "quality": true}
var validHIDBackends = map[string]bool{"otg": true, "ch9329": true}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits validation problems into fatals, which block
// startup, and warnings, which are logged and clamped to a safe value.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal problem was found.
func (r *ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just
// want to log everything found.
func (r *ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values, clamping
// dangerous zero-values to safe defaults and tiering the rest into
// fatal (blocks startup) versus warning (logged, startup continues).
func (c *Config) ValidateTiered() *ValidationResult {
	r := &ValidationResult{}

	if c.VideoCodec != "" && !validVideoCodecs[c.VideoCodec] {
		r.Fatals = append(r.Fatals, fmt.Errorf("video_codec %q is not one of h264, h265, vp8, vp9", c.VideoCodec))
	}
	if c.VideoPreset != "" && !validVideoPresets[c.VideoPreset] {
		r.Warnings = append(r.Warnings, fmt.Errorf("video_preset %q is not valid, using balanced", c.VideoPreset))
		c.VideoPreset = "balanced"
	}
	if c.HIDBackend != "" && !validHIDBackends[c.HIDBackend] {
		r.Fatals = append(r.Fatals, fmt.Errorf("hid_backend %q is not one of otg, ch9329", c.HIDBackend))
	}

	if c.RustDeskEnabled && c.RustDeskRendezvousAddr == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("rustdesk_rendezvous_addr is required when rustdesk_enabled is true"))
	}

	// Clamp capture geometry and frame rate to a safe range to prevent
	// panics further down the pipeline (zero-sized scaler buffers, etc.).
	if c.VideoWidth < 320 || c.VideoWidth > 3840 {
		r.Warnings = append(r.Warnings, fmt.Errorf("video_width %d out of range, clamping to 1920", c.VideoWidth))
		c.VideoWidth = 1920
	}
	if c.VideoHeight < 240 || c.VideoHeight > 2160 {
		r.Warnings = append(r.Warnings, fmt.Errorf("video_height %d out of range, clamping to 1080", c.VideoHeight))
		c.VideoHeight = 1080
	}
	if c.VideoFPS < 1 || c.VideoFPS > 60 {
		r.Warnings = append(r.Warnings, fmt.Errorf("video_fps %d out of range, clamping to 30", c.VideoFPS))
		c.VideoFPS = 30
	}

	if c.AudioEnabled {
		if c.AudioBitrateKbps < 8 || c.AudioBitrateKbps > 256 {
			r.Warnings = append(r.Warnings, fmt.Errorf("audio_bitrate_kbps %d out of range, clamping to 64", c.AudioBitrateKbps))
			c.AudioBitrateKbps = 64
		}
	}

	if c.LogLevel != "" {
		if lower := strings.ToLower(c.LogLevel); validLogLevels[lower] {
			c.LogLevel = lower
		} else {
			r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), using info", c.LogLevel))
			c.LogLevel = "info"
		}
	}
	if c.LogFormat != "" {
		if lower := strings.ToLower(c.LogFormat); lower == "text" || lower == "json" {
			c.LogFormat = lower
		} else {
			r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), using text", c.LogFormat))
			c.LogFormat = "text"
		}
	}

	if c.HealthMaxRetries < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("health_max_retries %d is below minimum 1, clamping", c.HealthMaxRetries))
		c.HealthMaxRetries = 1
	}
	if c.ThrottleIntervalSecs < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("throttle_interval_seconds %d is below minimum 1, clamping", c.ThrottleIntervalSecs))
		c.ThrottleIntervalSecs = 1
	}

	return r
}
