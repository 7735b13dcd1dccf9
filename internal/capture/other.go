//go:build !linux

package capture

import (
	"context"
	"fmt"

	"github.com/onekvm-go/core/internal/contracts"
)

// NewV4L2Source is only supported on linux, where V4L2 and the ffmpeg
// binary are expected to be available.
func NewV4L2Source(cfg Config) *Source {
	return newSource(cfg)
}

// Subscribe always fails on unsupported platforms.
func (s *Source) Subscribe(ctx context.Context) (<-chan contracts.RawVideoFrame, error) {
	return nil, fmt.Errorf("capture: V4L2 capture is not supported on this platform")
}
