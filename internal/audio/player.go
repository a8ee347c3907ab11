// Package audio drains the APU's mono sample stream through ebiten's audio
// package, duplicating it to stereo 16-bit PCM for playback.
package audio

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio"
)

const bytesPerFrame = 4 // stereo, 16-bit samples

// Player streams APU output through an ebiten audio.Player. Samples are
// pushed in with Enqueue as the emulator produces them; Read (called by
// ebiten's audio goroutine) drains them as PCM bytes, padding with silence
// on underrun rather than blocking.
type Player struct {
	context *audio.Context
	player  *audio.Player
	volume  float64

	mu      sync.Mutex
	samples []float32
}

// NewPlayer creates a Player streaming at the given sample rate. volume is
// in [0, 1].
func NewPlayer(sampleRate int, volume float64) (*Player, error) {
	p := &Player{
		context: audio.NewContext(sampleRate),
		volume:  volume,
	}

	player, err := p.context.NewPlayer(p)
	if err != nil {
		return nil, err
	}
	player.SetVolume(volume)
	p.player = player
	p.player.Play()

	return p, nil
}

// Enqueue appends newly generated mono samples for playback.
func (p *Player) Enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	p.samples = append(p.samples, samples...)
	// Cap the backlog so a paused/slow consumer can't grow this forever.
	const maxBacklog = 1 << 16
	if len(p.samples) > maxBacklog {
		p.samples = p.samples[len(p.samples)-maxBacklog:]
	}
	p.mu.Unlock()
}

// SetVolume updates playback volume in [0, 1].
func (p *Player) SetVolume(volume float64) {
	p.volume = volume
	if p.player != nil {
		p.player.SetVolume(volume)
	}
}

// Read implements io.Reader, the streaming source ebiten's audio player
// pulls from. It converts queued mono float32 samples to interleaved
// stereo 16-bit little-endian PCM, filling with silence on underrun.
func (p *Player) Read(buf []byte) (int, error) {
	frames := len(buf) / bytesPerFrame

	p.mu.Lock()
	available := len(p.samples)
	if available > frames {
		available = frames
	}
	consumed := p.samples[:available]
	p.samples = p.samples[available:]
	p.mu.Unlock()

	for i := 0; i < frames; i++ {
		var sample16 int16
		if i < available {
			sample16 = float32ToInt16(consumed[i])
		}
		off := i * bytesPerFrame
		buf[off] = byte(sample16)
		buf[off+1] = byte(sample16 >> 8)
		buf[off+2] = byte(sample16)
		buf[off+3] = byte(sample16 >> 8)
	}

	return frames * bytesPerFrame, nil
}

func float32ToInt16(sample float32) int16 {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	return int16(sample * 32767)
}

// Close stops playback.
func (p *Player) Close() error {
	if p.player == nil {
		return nil
	}
	return p.player.Close()
}
