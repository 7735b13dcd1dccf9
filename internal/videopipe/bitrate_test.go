package videopipe

import (
	"testing"

	"github.com/onekvm-go/core/internal/contracts"
)

func TestTargetKbpsBaseline1080p30(t *testing.T) {
	cases := []struct {
		preset contracts.BitratePreset
		want   int
	}{
		{contracts.PresetSpeed, speedKbps1080p30},
		{contracts.PresetBalanced, balancedKbps1080p30},
		{contracts.PresetQuality, qualityKbps1080p30},
	}
	for _, c := range cases {
		got := TargetKbps(c.preset, 1920, 1080, 30)
		if got != c.want {
			t.Errorf("preset %v: got %d want %d", c.preset, got, c.want)
		}
	}
}

func TestTargetKbpsScalesDownForLowerResolution(t *testing.T) {
	full := TargetKbps(contracts.PresetBalanced, 1920, 1080, 30)
	half := TargetKbps(contracts.PresetBalanced, 960, 540, 30)
	if half >= full {
		t.Fatalf("expected lower resolution to scale bitrate down: full=%d half=%d", full, half)
	}
}

func TestTargetKbpsNeverBelowFloor(t *testing.T) {
	got := TargetKbps(contracts.PresetSpeed, 160, 120, 10)
	if got < 150 {
		t.Fatalf("expected floor of 150kbps, got %d", got)
	}
}

func TestConfigEqualDetectsRestartTriggers(t *testing.T) {
	base := Config{Width: 1920, Height: 1080, FPS: 30, Codec: contracts.CodecH264, Preset: contracts.PresetBalanced}

	same := base
	if !base.Equal(same) {
		t.Fatal("expected identical configs to be equal")
	}

	changedCodec := base
	changedCodec.Codec = contracts.CodecVP9
	if base.Equal(changedCodec) {
		t.Fatal("expected codec change to break equality")
	}

	changedPreset := base
	changedPreset.Preset = contracts.PresetQuality
	if base.Equal(changedPreset) {
		t.Fatal("expected preset change to break equality")
	}
}
