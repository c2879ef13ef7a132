//go:build headless
// +build headless

package graphics

// AudioPlayer stub for headless builds, where no host audio device exists.
type AudioPlayer struct{}

// NewAudioPlayer returns a no-op player for headless builds.
func NewAudioPlayer() (*AudioPlayer, error) {
	return &AudioPlayer{}, nil
}

// PushSamples discards samples in headless mode.
func (ap *AudioPlayer) PushSamples(samples []float32) {}

// Close is a no-op in headless mode.
func (ap *AudioPlayer) Close() error {
	return nil
}
