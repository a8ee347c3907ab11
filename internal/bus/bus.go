// Package bus implements the system bus for communication between NES components.
package bus

import (
	"gones/internal/apu"
	"gones/internal/cartridge"
	"gones/internal/cpu"
	"gones/internal/input"
	"gones/internal/memory"
	"gones/internal/ppu"
)

// Bus connects all NES components together and drives the master clock:
// one CPU step, then 3x that many PPU ticks, then that many APU ticks.
type Bus struct {
	CPU    *cpu.CPU
	PPU    *ppu.PPU
	APU    *apu.APU
	Memory *memory.Memory
	Input  *input.InputState

	Cartridge cartridge.Mapper

	cpuCycles  uint64
	ppuCycles  uint64
	frameCount uint64

	dmaInProgress bool
}

// New creates a new system bus with all components wired together.
func New() *Bus {
	bus := &Bus{
		PPU:   ppu.New(),
		APU:   apu.New(),
		Input: input.NewInputState(),
	}

	bus.Memory = memory.New(bus.PPU, bus.APU, nil)
	bus.Memory.SetInputSystem(bus.Input)
	bus.CPU = cpu.New(bus.Memory)
	bus.APU.SetBusRead(bus.dmcRead)

	bus.PPU.SetNMICallback(bus.CPU.TriggerNMI)
	bus.PPU.SetFrameCompleteCallback(bus.handleFrameComplete)
	bus.Memory.SetDMACallback(bus.TriggerOAMDMA)

	bus.Reset()

	return bus
}

// Reset resets all components to their initial state.
func (b *Bus) Reset() {
	b.CPU.Reset()
	b.PPU.Reset()
	b.APU.Reset()
	b.Input.Reset()

	b.cpuCycles = 0
	b.ppuCycles = 0
	b.frameCount = 0
	b.dmaInProgress = false

	b.PPU.SetFrameCount(0)
}

func (b *Bus) handleFrameComplete() {
	b.frameCount = b.PPU.GetFrameCount()
}

// dmcRead is the DMC channel's CPU-bus sample fetch callback. It stalls
// the CPU for 4 cycles to model the real bus-contention cost of the fetch.
func (b *Bus) dmcRead(address uint16) uint8 {
	b.CPU.Stall(4)
	return b.Memory.Read(address)
}

// Step executes one CPU instruction (or one stalled cycle) and advances
// the PPU 3x and the APU 1x for every CPU cycle consumed.
func (b *Bus) Step() {
	cpuCycles := b.CPU.Step()

	for i := uint64(0); i < cpuCycles*3; i++ {
		b.PPU.Step()
		b.ppuCycles++
	}

	mapperIRQ := b.Cartridge != nil && b.Cartridge.IRQPending()
	if mapperIRQ || b.APU.IRQPending() {
		b.CPU.SetIRQ(true)
	} else {
		b.CPU.SetIRQ(false)
	}

	for i := uint64(0); i < cpuCycles; i++ {
		b.APU.Step()
	}

	b.cpuCycles += cpuCycles
}

// TriggerOAMDMA initiates an OAM DMA transfer, stalling the CPU for
// 513 cycles (514 if starting on an odd CPU cycle).
func (b *Bus) TriggerOAMDMA(sourcePage uint8) {
	if b.dmaInProgress {
		return
	}
	b.dmaInProgress = true

	dmaCycles := uint32(513)
	if b.cpuCycles%2 == 1 {
		dmaCycles = 514
	}
	b.CPU.Stall(dmaCycles)

	sourceAddress := uint16(sourcePage) << 8
	for i := 0; i < 256; i++ {
		data := b.Memory.Read(sourceAddress + uint16(i))
		b.PPU.WriteOAM(uint8(i), data)
	}

	b.dmaInProgress = false
}

// LoadCartridge loads a cartridge into the system and rewires memory/CPU.
func (b *Bus) LoadCartridge(cart memory.CartridgeInterface) {
	b.Memory = memory.New(b.PPU, b.APU, cart)
	b.Memory.SetInputSystem(b.Input)
	b.CPU = cpu.New(b.Memory)
	b.APU.SetBusRead(b.dmcRead)

	var mirrorMode memory.MirrorMode
	if c, ok := cart.(*cartridge.Cartridge); ok {
		b.Cartridge = c
		switch c.GetMirrorMode() {
		case cartridge.MirrorHorizontal:
			mirrorMode = memory.MirrorHorizontal
		case cartridge.MirrorVertical:
			mirrorMode = memory.MirrorVertical
		case cartridge.MirrorSingleScreen0:
			mirrorMode = memory.MirrorSingleScreen0
		case cartridge.MirrorSingleScreen1:
			mirrorMode = memory.MirrorSingleScreen1
		case cartridge.MirrorFourScreen:
			mirrorMode = memory.MirrorFourScreen
		default:
			mirrorMode = memory.MirrorHorizontal
		}
	} else {
		mirrorMode = memory.MirrorHorizontal
	}

	ppuMemory := memory.NewPPUMemory(cart, mirrorMode)
	b.PPU.SetMemory(ppuMemory)
	b.PPU.SetMapper(b.Cartridge)

	b.PPU.SetNMICallback(b.CPU.TriggerNMI)
	b.Memory.SetDMACallback(b.TriggerOAMDMA)

	b.CPU.Reset()
}

// Run runs the emulator for a specified number of frames.
func (b *Bus) Run(frames int) {
	targetFrames := b.frameCount + uint64(frames)
	for b.frameCount < targetFrames {
		b.Step()
	}
}

// RunCycles runs the emulator for a specified number of CPU cycles.
func (b *Bus) RunCycles(cycles uint64) {
	targetCycles := b.cpuCycles + cycles
	for b.cpuCycles < targetCycles {
		b.Step()
	}
}

// Frame executes one complete frame worth of CPU cycles (NTSC: 29781).
func (b *Bus) Frame() {
	targetCycles := b.cpuCycles + 29781
	for b.cpuCycles < targetCycles {
		b.Step()
	}
}

// GetFrameRate returns the NTSC frame rate.
func (b *Bus) GetFrameRate() float64 {
	return 1789773.0 / (1789773.0 / 60.098803)
}

// GetFrameBuffer returns the current PPU frame buffer (0xAARRGGBB per pixel).
func (b *Bus) GetFrameBuffer() []uint32 {
	frameBuffer := b.PPU.GetFrameBuffer()
	return frameBuffer[:]
}

// GetAudioSamples drains the APU's ring buffer of pending audio samples.
func (b *Bus) GetAudioSamples() []float32 {
	return b.APU.GetSamples()
}

// SetAudioSampleRate sets the target audio sample rate for the APU.
func (b *Bus) SetAudioSampleRate(rate int) {
	b.APU.SetSampleRate(rate)
}

// GetCycleCount returns the current CPU cycle count.
func (b *Bus) GetCycleCount() uint64 {
	return b.cpuCycles
}

// GetFrameCount returns the current frame count.
func (b *Bus) GetFrameCount() uint64 {
	return b.frameCount
}

// GetPPUCycleCount returns the total number of PPU dots ticked so far.
func (b *Bus) GetPPUCycleCount() uint64 {
	return b.ppuCycles
}

// IsDMAInProgress returns whether an OAMDMA transfer is currently in progress.
func (b *Bus) IsDMAInProgress() bool {
	return b.dmaInProgress
}

func (b *Bus) isRenderingEnabled() bool {
	return b.PPU.IsRenderingEnabled()
}

// SetControllerButton sets the state of a single controller button.
func (b *Bus) SetControllerButton(controller int, button input.Button, pressed bool) {
	switch controller {
	case 0, 1:
		b.Input.Controller1.SetButton(button, pressed)
	case 2:
		b.Input.Controller2.SetButton(button, pressed)
	}
}

// SetControllerButtons sets all button states for a controller at once.
func (b *Bus) SetControllerButtons(controller int, buttons [8]bool) {
	switch controller {
	case 0, 1:
		b.Input.SetButtons1(buttons)
	case 2:
		b.Input.SetButtons2(buttons)
	}
}

// GetInputState returns the input state for direct access.
func (b *Bus) GetInputState() *input.InputState {
	return b.Input
}

// GetCPUState returns a snapshot of the CPU's visible registers, for tests.
func (b *Bus) GetCPUState() CPUState {
	return CPUState{
		PC:     b.CPU.PC,
		A:      b.CPU.A,
		X:      b.CPU.X,
		Y:      b.CPU.Y,
		SP:     b.CPU.SP,
		Cycles: b.cpuCycles,
		Flags: CPUFlags{
			N: b.CPU.N,
			V: b.CPU.V,
			B: b.CPU.B,
			D: b.CPU.D,
			I: b.CPU.I,
			Z: b.CPU.Z,
			C: b.CPU.C,
		},
	}
}

// CPUState represents a CPU state snapshot for testing.
type CPUState struct {
	PC      uint16
	A, X, Y uint8
	SP      uint8
	Cycles  uint64
	Flags   CPUFlags
}

// CPUFlags represents CPU status flags for testing.
type CPUFlags struct {
	N, V, B, D, I, Z, C bool
}

// GetPPUState returns a snapshot of PPU timing state, for tests.
func (b *Bus) GetPPUState() PPUState {
	return PPUState{
		Scanline:    b.PPU.Scanline(),
		Cycle:       b.PPU.Cycle(),
		FrameCount:  b.frameCount,
		VBlankFlag:  b.PPU.IsVBlank(),
		RenderingOn: b.isRenderingEnabled(),
	}
}

// PPUState represents a PPU state snapshot for testing.
type PPUState struct {
	Scanline    int
	Cycle       int
	FrameCount  uint64
	VBlankFlag  bool
	RenderingOn bool
}
