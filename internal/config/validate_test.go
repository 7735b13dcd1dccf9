package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredInvalidVideoCodecIsFatal(t *testing.T) {
	cfg := Default()
	cfg.VideoCodec = "divx"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid video codec should be fatal")
	}
}

func TestValidateTieredInvalidHIDBackendIsFatal(t *testing.T) {
	cfg := Default()
	cfg.HIDBackend = "ps2"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid hid backend should be fatal")
	}
}

func TestValidateTieredRustDeskEnabledWithoutRendezvousIsFatal(t *testing.T) {
	cfg := Default()
	cfg.RustDeskEnabled = true
	cfg.RustDeskRendezvousAddr = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("rustdesk enabled without a rendezvous address should be fatal")
	}
}

func TestValidateTieredVideoWidthClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.VideoWidth = 50
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped width should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for out-of-range video_width")
	}
	if cfg.VideoWidth != 1920 {
		t.Fatalf("VideoWidth = %d, want 1920 (clamped)", cfg.VideoWidth)
	}
}

func TestValidateTieredVideoFPSClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.VideoFPS = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped fps should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.VideoFPS != 30 {
		t.Fatalf("VideoFPS = %d, want 30", cfg.VideoFPS)
	}
}

func TestValidateTieredAudioBitrateClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.AudioBitrateKbps = 1
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped bitrate should be warning: %v", result.Fatals)
	}
	if cfg.AudioBitrateKbps != 64 {
		t.Fatalf("AudioBitrateKbps = %d, want 64", cfg.AudioBitrateKbps)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "log_level") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.HIDBackend = "bogus"  // fatal
	cfg.VideoFPS = 0          // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
