// Package memory implements the CPU and PPU memory maps for the NES.
package memory

// Memory represents the NES CPU memory map: RAM, PPU/APU register windows,
// controller strobe, and the cartridge's PRG space.
type Memory struct {
	ram [0x800]uint8

	ppuRegisters PPUInterface
	apuRegisters APUInterface
	inputSystem  InputInterface
	cartridge    CartridgeInterface

	dmaCallback  func(uint8)
	openBusValue uint8
}

// PPUMemory represents the PPU's own memory space: pattern tables (routed
// through the cartridge mapper), nametables, and palette RAM.
type PPUMemory struct {
	vram       [0x1000]uint8 // 4KB backing store; FourScreen mode uses all of it
	paletteRAM [32]uint8
	cartridge  CartridgeInterface
	mirroring  MirrorMode
}

// MirrorMode represents nametable mirroring mode.
type MirrorMode uint8

const (
	MirrorHorizontal MirrorMode = iota
	MirrorVertical
	MirrorSingleScreen0
	MirrorSingleScreen1
	MirrorFourScreen
)

// PPUInterface defines the interface for PPU register access.
type PPUInterface interface {
	ReadRegister(address uint16) uint8
	WriteRegister(address uint16, value uint8)
}

// APUInterface defines the interface for APU register access.
type APUInterface interface {
	WriteRegister(address uint16, value uint8)
	ReadStatus() uint8
}

// InputInterface defines the interface for input system access.
type InputInterface interface {
	Read(address uint16) uint8
	Write(address uint16, value uint8)
}

// CartridgeInterface defines the interface for cartridge PRG/CHR access.
type CartridgeInterface interface {
	ReadPRG(address uint16) uint8
	WritePRG(address uint16, value uint8)
	ReadCHR(address uint16) uint8
	WriteCHR(address uint16, value uint8)
}

// New creates a new CPU-bus Memory instance.
func New(ppu PPUInterface, apu APUInterface, cart CartridgeInterface) *Memory {
	return &Memory{
		ppuRegisters: ppu,
		apuRegisters: apu,
		cartridge:    cart,
	}
}

// SetInputSystem attaches the controller system for $4016/$4017 access.
func (m *Memory) SetInputSystem(input InputInterface) {
	m.inputSystem = input
}

// SetDMACallback attaches the OAMDMA trigger, invoked on a $4014 write.
func (m *Memory) SetDMACallback(callback func(uint8)) {
	m.dmaCallback = callback
}

// SetCartridge swaps in a newly loaded cartridge.
func (m *Memory) SetCartridge(cart CartridgeInterface) {
	m.cartridge = cart
}

// Read reads a byte from the CPU address space.
func (m *Memory) Read(address uint16) uint8 {
	var value uint8

	switch {
	case address < 0x2000:
		value = m.ram[address&0x07FF]

	case address < 0x4000:
		value = m.ppuRegisters.ReadRegister(0x2000 + (address & 0x0007))

	case address < 0x4020:
		switch {
		case address == 0x4015:
			value = m.apuRegisters.ReadStatus()
		case address == 0x4016 || address == 0x4017:
			if m.inputSystem != nil {
				value = m.inputSystem.Read(address)
			}
		default:
			value = m.openBusValue
		}

	case address >= 0x6000:
		if m.cartridge != nil {
			value = m.cartridge.ReadPRG(address)
		} else {
			value = m.openBusValue
		}

	default:
		// $4020-$5FFF: unmapped cartridge expansion area, reads as 0.
		value = 0
	}

	m.openBusValue = value
	return value
}

// Write writes a byte to the CPU address space.
func (m *Memory) Write(address uint16, value uint8) {
	switch {
	case address < 0x2000:
		m.ram[address&0x07FF] = value

	case address < 0x4000:
		m.ppuRegisters.WriteRegister(0x2000+(address&0x0007), value)

	case address < 0x4020:
		switch {
		case address == 0x4014:
			if m.dmaCallback != nil {
				m.dmaCallback(value)
			} else {
				m.performOAMDMA(value)
			}
		case address == 0x4016:
			if m.inputSystem != nil {
				m.inputSystem.Write(address, value)
			}
		case address >= 0x4000 && address <= 0x4013, address == 0x4015, address == 0x4017:
			m.apuRegisters.WriteRegister(address, value)
		}
		// $4018-$401F (APU/IO test registers) ignored.

	case address >= 0x6000:
		if m.cartridge != nil {
			m.cartridge.WritePRG(address, value)
		}

	default:
		// $4020-$5FFF: unmapped, writes ignored.
	}
}

// performOAMDMA is the fallback path when no DMA callback is installed
// (used by standalone memory tests that don't wire a CPU).
func (m *Memory) performOAMDMA(page uint8) {
	base := uint16(page) << 8
	for i := uint16(0); i < 256; i++ {
		m.ppuRegisters.WriteRegister(0x2004, m.Read(base+i))
	}
}

// NewPPUMemory creates a new PPU-bus memory instance.
func NewPPUMemory(cart CartridgeInterface, mirroring MirrorMode) *PPUMemory {
	mem := &PPUMemory{cartridge: cart, mirroring: mirroring}
	for i := 0; i < 32; i += 4 {
		mem.paletteRAM[i] = 0x0F
	}
	return mem
}

// SetMirroring updates the nametable mirroring mode (mappers mutate this
// dynamically, e.g. MMC1/MMC3/AxROM).
func (pm *PPUMemory) SetMirroring(mode MirrorMode) {
	pm.mirroring = mode
}

// Read reads from the PPU address space ($0000-$3FFF).
func (pm *PPUMemory) Read(address uint16) uint8 {
	address &= 0x3FFF

	switch {
	case address < 0x2000:
		return pm.cartridge.ReadCHR(address)
	case address < 0x3000:
		return pm.readNametable(address)
	case address < 0x3F00:
		return pm.readNametable(address - 0x1000)
	default:
		return pm.readPalette(address)
	}
}

// Write writes to the PPU address space ($0000-$3FFF).
func (pm *PPUMemory) Write(address uint16, value uint8) {
	address &= 0x3FFF

	switch {
	case address < 0x2000:
		pm.cartridge.WriteCHR(address, value)
	case address < 0x3000:
		pm.writeNametable(address, value)
	case address < 0x3F00:
		pm.writeNametable(address-0x1000, value)
	default:
		pm.writePalette(address, value)
	}
}

func (pm *PPUMemory) readNametable(address uint16) uint8 {
	return pm.vram[pm.getNametableIndex(address)]
}

func (pm *PPUMemory) writeNametable(address uint16, value uint8) {
	pm.vram[pm.getNametableIndex(address)] = value
}

// getNametableIndex computes the VRAM index for a nametable address under
// the active mirroring mode.
func (pm *PPUMemory) getNametableIndex(address uint16) uint16 {
	address &= 0x0FFF
	nametable := (address >> 10) & 3
	offset := address & 0x3FF

	switch pm.mirroring {
	case MirrorHorizontal:
		if nametable >= 2 {
			return 0x400 + offset
		}
		return offset
	case MirrorVertical:
		if nametable == 1 || nametable == 3 {
			return 0x400 + offset
		}
		return offset
	case MirrorSingleScreen0:
		return offset
	case MirrorSingleScreen1:
		return 0x400 + offset
	case MirrorFourScreen:
		return uint16(nametable)*0x400 + offset
	default:
		return offset
	}
}

// readPalette reads palette RAM, applying the background-color mirror quirk.
func (pm *PPUMemory) readPalette(address uint16) uint8 {
	index := (address - 0x3F00) & 0x1F
	if index&0x03 == 0 && index >= 0x10 {
		index &= 0x0F
	}
	return pm.paletteRAM[index]
}

func (pm *PPUMemory) writePalette(address uint16, value uint8) {
	index := (address - 0x3F00) & 0x1F
	if index&0x03 == 0 && index >= 0x10 {
		index &= 0x0F
	}
	pm.paletteRAM[index] = value
}
