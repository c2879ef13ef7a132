//go:build !headless
// +build !headless

package graphics

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/hajimehoshi/ebiten/v2/audio"
)

const audioSampleRate = 44100

// AudioPlayer streams the APU's resampled []float32 stream to the host
// audio device through ebiten/v2/audio. The core writes mono analog
// samples; this type stretches each into 16-bit stereo PCM and exposes
// them to ebiten's pull-based audio.Player via a ring buffer, matching
// the single-producer single-consumer model ebiten's own player expects.
type AudioPlayer struct {
	context *audio.Context
	player  *audio.Player
	ring    *sampleRingBuffer
}

// NewAudioPlayer creates an audio player bound to a single shared
// audio.Context. ebiten permits only one audio.Context per process, so the
// host must create exactly one AudioPlayer for the application's lifetime.
func NewAudioPlayer() (*AudioPlayer, error) {
	ctx := audio.NewContext(audioSampleRate)
	ring := newSampleRingBuffer(audioSampleRate) // one second of headroom

	player, err := ctx.NewPlayer(ring)
	if err != nil {
		return nil, err
	}
	player.SetBufferSize(0) // use ebiten's default low-latency buffer

	ap := &AudioPlayer{context: ctx, player: player, ring: ring}
	player.Play()
	return ap, nil
}

// PushSamples enqueues analog samples produced by the APU for playback. If
// the ring buffer is already full, the oldest unplayed samples are dropped
// and the overflow is logged, per the host-side overflow policy.
func (ap *AudioPlayer) PushSamples(samples []float32) {
	dropped := ap.ring.Push(samples)
	if dropped > 0 {
		glog.Warningf("audio ring buffer full, dropped %d samples", dropped)
	}
}

// Close stops playback.
func (ap *AudioPlayer) Close() error {
	return ap.player.Close()
}

// sampleRingBuffer is an io.Reader adapter: Read is called from ebiten's
// audio goroutine and drains queued float32 samples as little-endian
// 16-bit stereo PCM, emitting silence once the queue underflows rather
// than blocking.
type sampleRingBuffer struct {
	mu     sync.Mutex
	buf    []float32
	maxLen int
}

func newSampleRingBuffer(maxLen int) *sampleRingBuffer {
	return &sampleRingBuffer{buf: make([]float32, 0, maxLen), maxLen: maxLen}
}

// Push appends samples, dropping the oldest queued samples if the buffer
// would overflow, and returns how many were dropped.
func (r *sampleRingBuffer) Push(samples []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, samples...)
	dropped := 0
	if overflow := len(r.buf) - r.maxLen; overflow > 0 {
		dropped = overflow
		r.buf = r.buf[overflow:]
	}
	return dropped
}

// Read implements io.Reader, converting queued mono float32 samples into
// interleaved little-endian 16-bit stereo PCM (4 bytes per frame).
func (r *sampleRingBuffer) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 4
	n := 0
	for i := 0; i < frames; i++ {
		var sample float32
		if len(r.buf) > 0 {
			sample = r.buf[0]
			r.buf = r.buf[1:]
		}
		pcm := int16(sample * 32767)
		binary.LittleEndian.PutUint16(p[n:], uint16(pcm))
		binary.LittleEndian.PutUint16(p[n+2:], uint16(pcm))
		n += 4
	}
	return n, nil
}

var _ io.Reader = (*sampleRingBuffer)(nil)
