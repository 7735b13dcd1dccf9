package videopipe

import "github.com/onekvm-go/core/internal/contracts"

// TargetKbps implements the bitrate-preset table: kbps at
// 1080p30 for each preset, scaled down proportionally to the resolution
// and frame-rate tier actually in use.
const (
	speedKbps1080p30    = 1000
	balancedKbps1080p30 = 4000
	qualityKbps1080p30  = 8000

	baselinePixels = 1920 * 1080
	baselineFPS    = 30
)

// TargetKbps returns the encoder bitrate target for preset at the given
// resolution and frame rate, scaled linearly off the 1080p30 baseline.
func TargetKbps(preset contracts.BitratePreset, width, height, fps int) int {
	var base int
	switch preset {
	case contracts.PresetSpeed:
		base = speedKbps1080p30
	case contracts.PresetQuality:
		base = qualityKbps1080p30
	default:
		base = balancedKbps1080p30
	}

	if width <= 0 || height <= 0 {
		return base
	}
	if fps <= 0 {
		fps = baselineFPS
	}

	pixelRatio := float64(width*height) / float64(baselinePixels)
	fpsRatio := float64(fps) / float64(baselineFPS)
	scaled := float64(base) * pixelRatio * fpsRatio

	const minKbps = 150
	if scaled < minKbps {
		return minKbps
	}
	return int(scaled)
}
