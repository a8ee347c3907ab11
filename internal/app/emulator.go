// Package app provides emulator integration for the main application.
package app

import (
	"fmt"
	"time"

	"gones/internal/bus"
)

// ntscCPUFrequency is the NTSC 6502 clock rate in Hz, used to keep
// cyclesPerFrame consistent whenever the target frame rate changes.
const ntscCPUFrequency = 1789773.0

// Emulator drives the bus through fixed-size frames at a target rate,
// decoupling "how many CPU cycles make a frame" from however often the
// presentation shell happens to call Update.
type Emulator struct {
	bus    *bus.Bus
	config *Config

	targetFrameTime time.Duration
	cyclesPerFrame  uint64

	frameComplete bool
	frameBuffer   []uint32
	audioSamples  []float32

	actualFrameTime  time.Duration
	emulationTime    time.Duration
	cycleCount       uint64
	frameCount       uint64
	averageFrameTime time.Duration

	isRunning     bool
	lastResetTime time.Time
}

// NewEmulator creates a new emulator instance, deriving its frame timing
// from the configured emulation frame rate.
func NewEmulator(bus *bus.Bus, config *Config) *Emulator {
	emulator := &Emulator{
		bus:           bus,
		config:        config,
		frameBuffer:   make([]uint32, 256*240),
		audioSamples:  make([]float32, 0, 1024),
		isRunning:     false,
		lastResetTime: time.Now(),
	}

	frameRate := 60.0
	if config != nil && config.Emulation.FrameRate > 0 {
		frameRate = config.Emulation.FrameRate
	}
	emulator.SetTargetFrameRate(frameRate)

	emulator.Reset()
	return emulator
}

// Reset resets the emulator's timing and buffers to their initial state.
func (e *Emulator) Reset() {
	e.frameComplete = false
	e.actualFrameTime = 0
	e.emulationTime = 0
	e.cycleCount = 0
	e.frameCount = 0
	e.averageFrameTime = 0
	e.lastResetTime = time.Now()

	for i := range e.frameBuffer {
		e.frameBuffer[i] = 0
	}
	e.audioSamples = e.audioSamples[:0]
}

// Start starts the emulator.
func (e *Emulator) Start() {
	e.isRunning = true
}

// Stop stops the emulator.
func (e *Emulator) Stop() {
	e.isRunning = false
}

// Update runs exactly one frame of emulation, intended to be called once
// per presentation-shell tick (60Hz under Ebitengine).
func (e *Emulator) Update() error {
	if !e.isRunning {
		return nil
	}

	frameStartTime := time.Now()

	if err := e.runFrame(); err != nil {
		return fmt.Errorf("frame execution error: %v", err)
	}

	e.actualFrameTime = time.Since(frameStartTime)
	e.updateAverageFrameTime()

	return nil
}

// runFrame steps the bus for exactly cyclesPerFrame CPU cycles and pulls
// the resulting frame buffer and audio samples out of it.
func (e *Emulator) runFrame() error {
	emulationStart := time.Now()

	startCycles := e.bus.GetCycleCount()
	targetCycles := startCycles + e.cyclesPerFrame
	for e.bus.GetCycleCount() < targetCycles {
		e.bus.Step()
	}

	e.frameCount++
	e.frameComplete = true

	if nesFrameBuffer := e.bus.GetFrameBuffer(); len(nesFrameBuffer) == len(e.frameBuffer) {
		copy(e.frameBuffer, nesFrameBuffer)
	}

	e.updateAudioSamples(e.bus.GetAudioSamples())

	e.emulationTime = time.Since(emulationStart)
	e.cycleCount = e.bus.GetCycleCount()

	return nil
}

// updateAudioSamples replaces the pending audio sample buffer with newly
// generated samples, reusing the backing array when it's large enough.
func (e *Emulator) updateAudioSamples(nesSamples []float32) {
	if len(nesSamples) == 0 {
		e.audioSamples = e.audioSamples[:0]
		return
	}
	if cap(e.audioSamples) < len(nesSamples) {
		e.audioSamples = make([]float32, len(nesSamples))
	} else {
		e.audioSamples = e.audioSamples[:len(nesSamples)]
	}
	copy(e.audioSamples, nesSamples)
}

// updateAverageFrameTime maintains an exponential moving average of frame
// time for FPS reporting.
func (e *Emulator) updateAverageFrameTime() {
	if e.averageFrameTime == 0 {
		e.averageFrameTime = e.actualFrameTime
		return
	}
	e.averageFrameTime = time.Duration(
		float64(e.averageFrameTime)*0.95 + float64(e.actualFrameTime)*0.05,
	)
}

// GetFrameBuffer returns the current frame buffer.
func (e *Emulator) GetFrameBuffer() []uint32 {
	return e.frameBuffer
}

// GetAudioSamples returns the pending audio samples.
func (e *Emulator) GetAudioSamples() []float32 {
	return e.audioSamples
}

// IsFrameComplete reports whether a frame finished since the last call,
// clearing the flag.
func (e *Emulator) IsFrameComplete() bool {
	complete := e.frameComplete
	e.frameComplete = false
	return complete
}

// GetFrameCount returns the number of frames run since the last Reset.
func (e *Emulator) GetFrameCount() uint64 {
	return e.frameCount
}

// GetCycleCount returns the current CPU cycle count.
func (e *Emulator) GetCycleCount() uint64 {
	return e.cycleCount
}

// GetEmulationTime returns the time spent emulating the last frame.
func (e *Emulator) GetEmulationTime() time.Duration {
	return e.emulationTime
}

// GetActualFrameTime returns the wall-clock time the last Update call took.
func (e *Emulator) GetActualFrameTime() time.Duration {
	return e.actualFrameTime
}

// GetAverageFrameTime returns the smoothed average frame time.
func (e *Emulator) GetAverageFrameTime() time.Duration {
	return e.averageFrameTime
}

// GetTargetFrameTime returns the configured target frame time.
func (e *Emulator) GetTargetFrameTime() time.Duration {
	return e.targetFrameTime
}

// IsRunning returns whether the emulator is running.
func (e *Emulator) IsRunning() bool {
	return e.isRunning
}

// GetUptime returns the emulator uptime since last reset.
func (e *Emulator) GetUptime() time.Duration {
	return time.Since(e.lastResetTime)
}

// SetTargetFrameRate sets the target frame rate and keeps cyclesPerFrame
// consistent with it at the NTSC CPU clock.
func (e *Emulator) SetTargetFrameRate(fps float64) {
	if fps <= 0 {
		return
	}
	e.targetFrameTime = time.Duration(1e9 / fps)
	e.cyclesPerFrame = uint64(ntscCPUFrequency / fps)
}

// StepFrame runs exactly one frame of emulation regardless of isRunning,
// for frame-by-frame debugging callers.
func (e *Emulator) StepFrame() error {
	if e.bus == nil {
		return fmt.Errorf("bus not initialized")
	}
	return e.runFrame()
}

// StepInstruction executes a single CPU instruction.
func (e *Emulator) StepInstruction() error {
	if e.bus == nil {
		return fmt.Errorf("bus not initialized")
	}
	e.bus.Step()
	e.cycleCount = e.bus.GetCycleCount()
	return nil
}

// GetCPUState returns the current CPU register snapshot.
func (e *Emulator) GetCPUState() bus.CPUState {
	if e.bus == nil {
		return bus.CPUState{}
	}
	return e.bus.GetCPUState()
}

// GetPPUState returns the current PPU timing snapshot.
func (e *Emulator) GetPPUState() bus.PPUState {
	if e.bus == nil {
		return bus.PPUState{}
	}
	return e.bus.GetPPUState()
}

// Cleanup releases the emulator's buffers.
func (e *Emulator) Cleanup() error {
	e.Stop()
	e.frameBuffer = nil
	e.audioSamples = nil
	return nil
}
