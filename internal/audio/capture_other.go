//go:build !linux

package audio

import (
	"context"
	"fmt"
)

// unsupportedCapturer reports a clear error rather than silently
// producing no audio; KVM hosts targeted by this agent are Linux.
type unsupportedCapturer struct{}

// NewCapturer returns a Capturer that always fails to start on platforms
// this agent does not run capture on.
func NewCapturer(device string) Capturer {
	return unsupportedCapturer{}
}

func (unsupportedCapturer) Start(ctx context.Context) (<-chan PCMFrame, error) {
	return nil, fmt.Errorf("audio: capture is not supported on this platform")
}

func (unsupportedCapturer) Stop() {}
