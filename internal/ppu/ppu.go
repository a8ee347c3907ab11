// Package ppu implements the Picture Processing Unit for the NES (2C02).
package ppu

import "gones/internal/memory"

// NMIDelayDots is the number of PPU dots between the nmi_output &&
// nmi_occurred edge and the NMI actually reaching the CPU. Flagged by the
// source material as possibly wrong (8 dots may be the true figure on real
// hardware); kept at 15 and exposed as a named constant rather than
// silently changed.
const NMIDelayDots = 15

// Mapper is the subset of cartridge.Mapper the PPU needs directly: the
// scanline tick used by MMC3-style IRQ counters.
type Mapper interface {
	TickScanline()
}

type spriteLatch struct {
	pattern  uint32
	x        uint8
	priority bool // true = behind background
	index    uint8
	valid    bool
}

// PPU represents the NES Picture Processing Unit (2C02).
type PPU struct {
	ppuCtrl uint8 // $2000
	ppuMask uint8 // $2001
	oamAddr uint8 // $2003

	openBus uint8 // low 5 bits of PPUSTATUS reads: last register write

	nmiOccurred    bool
	spriteZeroHit  bool
	spriteOverflow bool

	nmiOutput    bool // PPUCTRL bit 7
	nmiPrevEdge  bool
	nmiDelay     int

	v, t uint16
	x    uint8
	w    bool

	memory *memory.PPUMemory
	mapper Mapper

	scanline int // 0..261 (261 = pre-render)
	cycle    int // 0..340
	frame    uint64
	oddFrame bool

	readBuffer uint8

	// Background fetch pipeline
	tileData     uint64
	ntByte       uint8
	atByte       uint8
	patternLow   uint8
	patternHigh  uint8

	// Sprites
	oam          [256]uint8
	sprites      [8]spriteLatch
	spriteCount  int

	front, back [256 * 240]uint32

	nmiCallback           func()
	frameCompleteCallback func()
}

// New creates a new PPU instance.
func New() *PPU {
	p := &PPU{}
	p.Reset()
	return p
}

// Reset resets the PPU to its power-up state.
func (p *PPU) Reset() {
	p.ppuCtrl = 0
	p.ppuMask = 0
	p.oamAddr = 0
	p.openBus = 0

	p.nmiOccurred = false
	p.spriteZeroHit = false
	p.spriteOverflow = false
	p.nmiOutput = false
	p.nmiPrevEdge = false
	p.nmiDelay = 0

	p.v, p.t, p.x = 0, 0, 0
	p.w = false

	p.scanline = 261
	p.cycle = 0
	p.frame = 0
	p.oddFrame = false
	p.readBuffer = 0

	p.tileData = 0
	p.ntByte, p.atByte, p.patternLow, p.patternHigh = 0, 0, 0, 0

	for i := range p.oam {
		p.oam[i] = 0
	}
	p.spriteCount = 0
	for i := range p.sprites {
		p.sprites[i] = spriteLatch{}
	}

	for i := range p.front {
		p.front[i] = 0xFF000000
	}
	for i := range p.back {
		p.back[i] = 0xFF000000
	}
}

// SetMemory sets the PPU memory interface.
func (p *PPU) SetMemory(mem *memory.PPUMemory) {
	p.memory = mem
}

// SetMapper attaches the cartridge mapper for scanline-tick IRQ counters.
func (p *PPU) SetMapper(m Mapper) {
	p.mapper = m
}

// SetNMICallback sets the callback invoked when NMI is asserted to the CPU.
func (p *PPU) SetNMICallback(callback func()) {
	p.nmiCallback = callback
}

// SetFrameCompleteCallback sets the callback invoked once per completed frame.
func (p *PPU) SetFrameCompleteCallback(callback func()) {
	p.frameCompleteCallback = callback
}

// ReadRegister reads from a PPU register (CPU $2000-$2007).
func (p *PPU) ReadRegister(address uint16) uint8 {
	switch address {
	case 0x2002:
		status := p.openBus & 0x1F
		if p.nmiOccurred {
			status |= 0x80
		}
		if p.spriteZeroHit {
			status |= 0x40
		}
		if p.spriteOverflow {
			status |= 0x20
		}
		p.nmiOccurred = false
		p.w = false
		p.evaluateNMIEdge()
		return status
	case 0x2004:
		return p.oam[p.oamAddr]
	case 0x2007:
		return p.readPPUData()
	default:
		return p.openBus & 0x1F
	}
}

// WriteRegister writes to a PPU register (CPU $2000-$2007).
func (p *PPU) WriteRegister(address uint16, value uint8) {
	p.openBus = value
	switch address {
	case 0x2000:
		p.ppuCtrl = value
		p.t = (p.t & 0xF3FF) | ((uint16(value) & 0x03) << 10)
		p.nmiOutput = value&0x80 != 0
		p.evaluateNMIEdge()
	case 0x2001:
		p.ppuMask = value
	case 0x2003:
		p.oamAddr = value
	case 0x2004:
		p.oam[p.oamAddr] = value
		p.oamAddr++
	case 0x2005:
		p.writePPUScroll(value)
	case 0x2006:
		p.writePPUAddr(value)
	case 0x2007:
		p.writePPUData(value)
	}
}

// WriteOAM writes to OAM directly (used by OAMDMA).
func (p *PPU) WriteOAM(address uint8, value uint8) {
	p.oam[address] = value
}

func (p *PPU) backgroundEnabled() bool { return p.ppuMask&0x08 != 0 }
func (p *PPU) spritesEnabled() bool    { return p.ppuMask&0x10 != 0 }
func (p *PPU) renderingEnabled() bool  { return p.backgroundEnabled() || p.spritesEnabled() }

// Step advances the PPU by exactly one dot.
func (p *PPU) Step() {
	p.tick()

	if p.scanline < 240 || p.scanline == 261 {
		p.renderDot()
	}

	if p.nmiDelay > 0 {
		p.nmiDelay--
		if p.nmiDelay == 0 && p.nmiOutput && p.nmiOccurred && p.nmiCallback != nil {
			p.nmiCallback()
		}
	}
}

// tick advances cycle/scanline/frame counters, handling the odd-frame
// pre-render skip and the vblank-entry/exit edges.
func (p *PPU) tick() {
	if p.scanline == 261 && p.cycle == 339 && p.oddFrame && p.renderingEnabled() {
		p.cycle = 0
		p.scanline = 0
		p.frame++
		p.oddFrame = !p.oddFrame
		return
	}

	p.cycle++
	if p.cycle > 340 {
		p.cycle = 0
		p.scanline++
		if p.scanline > 261 {
			p.scanline = 0
			p.frame++
			p.oddFrame = !p.oddFrame
		}
	}

	if p.scanline == 241 && p.cycle == 1 {
		p.front, p.back = p.back, p.front
		p.nmiOccurred = true
		p.evaluateNMIEdge()
		if p.frameCompleteCallback != nil {
			p.frameCompleteCallback()
		}
	}

	if p.scanline == 261 && p.cycle == 1 {
		p.nmiOccurred = false
		p.spriteZeroHit = false
		p.spriteOverflow = false
		p.evaluateNMIEdge()
	}
}

// evaluateNMIEdge starts the nmi_delay countdown on the rising edge of
// (nmi_output && nmi_occurred).
func (p *PPU) evaluateNMIEdge() {
	combined := p.nmiOutput && p.nmiOccurred
	if combined && !p.nmiPrevEdge {
		p.nmiDelay = NMIDelayDots
	}
	p.nmiPrevEdge = combined
}

// renderDot runs the background fetch pipeline, scroll updates, sprite
// evaluation, and pixel composition for the current dot.
func (p *PPU) renderDot() {
	renderingActive := p.scanline < 240 || p.scanline == 261
	if !renderingActive {
		return
	}

	fetchCycle := (p.cycle >= 1 && p.cycle <= 256) || (p.cycle >= 321 && p.cycle <= 336)
	if fetchCycle && p.renderingEnabled() {
		p.backgroundFetchStep()
	}

	if p.renderingEnabled() {
		if p.cycle == 256 {
			p.incrementY()
		}
		if p.cycle == 257 {
			p.copyX()
		}
		if p.scanline == 261 && p.cycle >= 280 && p.cycle <= 304 {
			p.copyY()
		}
		if p.cycle == 280 && (p.scanline < 240 || p.scanline == 261) && p.mapper != nil {
			p.mapper.TickScanline()
		}
	}

	if p.cycle == 257 && p.scanline < 240 {
		p.evaluateSprites()
	}

	if p.scanline < 240 && p.cycle >= 1 && p.cycle <= 256 {
		p.outputPixel(p.cycle - 1)
	}
}

func (p *PPU) backgroundFetchStep() {
	switch p.cycle % 8 {
	case 1:
		p.ntByte = p.memory.Read(0x2000 | (p.v & 0x0FFF))
	case 3:
		attrAddr := 0x23C0 | (p.v & 0x0C00) | ((p.v >> 4) & 0x38) | ((p.v >> 2) & 0x07)
		p.atByte = p.memory.Read(attrAddr)
	case 5:
		bgTable := uint16(0)
		if p.ppuCtrl&0x10 != 0 {
			bgTable = 1
		}
		fineY := uint16((p.v >> 12) & 0x07)
		p.patternLow = p.memory.Read((bgTable << 12) + uint16(p.ntByte)<<4 + fineY)
	case 7:
		bgTable := uint16(0)
		if p.ppuCtrl&0x10 != 0 {
			bgTable = 1
		}
		fineY := uint16((p.v >> 12) & 0x07)
		p.patternHigh = p.memory.Read((bgTable<<12)+uint16(p.ntByte)<<4+fineY + 8)
	case 0:
		shift := ((p.v >> 4) & 4) | (p.v & 2)
		paletteBits := (p.atByte >> shift) & 0x03
		word := composeNibbles(paletteBits, p.patternLow, p.patternHigh)
		p.tileData = (p.tileData &^ 0xFFFFFFFF) | uint64(word)
		p.incrementX()
	}
	p.tileData <<= 4
}

// composeNibbles packs 8 pixels' (palette, colorIndex) into a 32-bit word,
// pixel 0 (leftmost) at the high nibble so it reaches the shift register's
// extraction tap first.
func composeNibbles(paletteBits, patternLow, patternHigh uint8) uint32 {
	var word uint32
	for i := 0; i < 8; i++ {
		bit := uint(7 - i)
		lo := (patternLow >> bit) & 1
		hi := (patternHigh >> bit) & 1
		colorIndex := (hi << 1) | lo
		nibble := (paletteBits << 2) | colorIndex
		word |= uint32(nibble) << uint((7-i)*4)
	}
	return word
}

func (p *PPU) outputPixel(x int) {
	if p.memory == nil {
		return
	}

	bgNibble := uint8((p.tileData >> (32 + uint(7-p.x)*4)) & 0xF)
	bgColor := bgNibble & 0x03
	bgPalette := (bgNibble >> 2) & 0x03
	bgOpaque := p.backgroundEnabled() && bgColor != 0
	if x < 8 && p.ppuMask&0x02 == 0 {
		bgOpaque = false
	}

	var spriteColor, spritePalette uint8
	var spritePriority bool
	spriteOpaque := false
	isSpriteZero := false

	if p.spritesEnabled() {
		for i := 0; i < p.spriteCount; i++ {
			s := &p.sprites[i]
			if !s.valid {
				continue
			}
			dx := x - int(s.x)
			if dx < 0 || dx > 7 {
				continue
			}
			nibble := uint8((s.pattern >> uint((7-dx)*4)) & 0xF)
			color := nibble & 0x03
			if color == 0 {
				continue
			}
			if x < 8 && p.ppuMask&0x04 == 0 {
				continue
			}
			spriteColor = color
			spritePalette = (nibble >> 2) & 0x03
			spritePriority = s.priority
			spriteOpaque = true
			isSpriteZero = s.index == 0
			break
		}
	}

	if isSpriteZero && bgOpaque && spriteOpaque && x < 255 && p.backgroundEnabled() {
		p.spriteZeroHit = true
	}

	var color uint32
	switch {
	case !bgOpaque && !spriteOpaque:
		color = p.nesColor(p.memory.Read(0x3F00))
	case !bgOpaque:
		color = p.nesColor(p.memory.Read(0x3F10 + uint16(spritePalette)*4 + uint16(spriteColor)))
	case !spriteOpaque:
		color = p.nesColor(p.memory.Read(0x3F00 + uint16(bgPalette)*4 + uint16(bgColor)))
	case spritePriority:
		color = p.nesColor(p.memory.Read(0x3F00 + uint16(bgPalette)*4 + uint16(bgColor)))
	default:
		color = p.nesColor(p.memory.Read(0x3F10 + uint16(spritePalette)*4 + uint16(spriteColor)))
	}

	p.back[p.scanline*256+x] = color
}

// evaluateSprites scans OAM for sprites visible on the NEXT scanline's
// row, retaining the first 8 found and flagging overflow past that.
func (p *PPU) evaluateSprites() {
	height := 8
	if p.ppuCtrl&0x20 != 0 {
		height = 16
	}

	count := 0
	for i := range p.sprites {
		p.sprites[i] = spriteLatch{}
	}

	targetScanline := p.scanline + 1

	for oamIndex := 0; oamIndex < 64; oamIndex++ {
		base := oamIndex * 4
		y := int(p.oam[base])
		row := targetScanline - y
		if row < 0 || row >= height {
			continue
		}

		if count >= 8 {
			p.spriteOverflow = true
			continue
		}

		tile := p.oam[base+1]
		attr := p.oam[base+2]
		xPos := p.oam[base+3]

		if attr&0x80 != 0 { // vertical flip
			row = height - 1 - row
		}

		var patternAddr uint16
		if height == 16 {
			table := uint16(tile&0x01) << 12
			tileIndex := tile &^ 0x01
			r := row
			if r >= 8 {
				tileIndex++
				r -= 8
			}
			patternAddr = table + uint16(tileIndex)<<4 + uint16(r)
		} else {
			table := uint16(0)
			if p.ppuCtrl&0x08 != 0 {
				table = 1
			}
			patternAddr = (table << 12) + uint16(tile)<<4 + uint16(row)
		}

		lo := p.memory.Read(patternAddr)
		hi := p.memory.Read(patternAddr + 8)
		paletteBits := attr & 0x03

		var pattern uint32
		if attr&0x40 != 0 { // horizontal flip: reverse bit direction
			pattern = composeNibblesReversed(paletteBits, lo, hi)
		} else {
			pattern = composeNibbles(paletteBits, lo, hi)
		}

		p.sprites[count] = spriteLatch{
			pattern:  pattern,
			x:        xPos,
			priority: attr&0x20 != 0,
			index:    uint8(oamIndex),
			valid:    true,
		}
		count++
	}

	p.spriteCount = count
}

func composeNibblesReversed(paletteBits, patternLow, patternHigh uint8) uint32 {
	var word uint32
	for i := 0; i < 8; i++ {
		bit := uint(i) // reversed bit direction for H-flip
		lo := (patternLow >> bit) & 1
		hi := (patternHigh >> bit) & 1
		colorIndex := (hi << 1) | lo
		nibble := (paletteBits << 2) | colorIndex
		word |= uint32(nibble) << uint((7-i)*4)
	}
	return word
}

func (p *PPU) writePPUScroll(value uint8) {
	if !p.w {
		p.t = (p.t & 0xFFE0) | (uint16(value) >> 3)
		p.x = value & 0x07
		p.w = true
	} else {
		p.t = (p.t & 0x8FFF) | ((uint16(value) & 0x07) << 12)
		p.t = (p.t & 0xFC1F) | ((uint16(value) & 0xF8) << 2)
		p.w = false
	}
}

func (p *PPU) writePPUAddr(value uint8) {
	if !p.w {
		p.t = (p.t & 0x80FF) | ((uint16(value) & 0x3F) << 8)
		p.w = true
	} else {
		p.t = (p.t & 0xFF00) | uint16(value)
		p.v = p.t
		p.w = false
	}
}

func (p *PPU) readPPUData() uint8 {
	var data uint8
	if p.memory == nil {
		data = 0
	} else if p.v >= 0x3F00 {
		data = p.memory.Read(p.v)
		p.readBuffer = p.memory.Read(p.v & 0x2FFF)
	} else {
		data = p.readBuffer
		p.readBuffer = p.memory.Read(p.v)
	}

	if p.ppuCtrl&0x04 != 0 {
		p.v += 32
	} else {
		p.v++
	}
	p.v &= 0x3FFF
	return data
}

func (p *PPU) writePPUData(value uint8) {
	if p.memory != nil {
		p.memory.Write(p.v, value)
	}
	if p.ppuCtrl&0x04 != 0 {
		p.v += 32
	} else {
		p.v++
	}
	p.v &= 0x3FFF
}

// incrementX increments coarse X, wrapping to the next nametable.
func (p *PPU) incrementX() {
	if (p.v & 0x001F) == 31 {
		p.v &= ^uint16(0x001F)
		p.v ^= 0x0400
	} else {
		p.v++
	}
}

// incrementY increments fine Y, cascading to coarse Y on overflow.
func (p *PPU) incrementY() {
	if (p.v & 0x7000) != 0x7000 {
		p.v += 0x1000
	} else {
		p.v &= ^uint16(0x7000)
		y := (p.v & 0x03E0) >> 5
		if y == 29 {
			y = 0
			p.v ^= 0x0800
		} else if y == 31 {
			y = 0
		} else {
			y++
		}
		p.v = (p.v & ^uint16(0x03E0)) | (y << 5)
	}
}

func (p *PPU) copyX() {
	p.v = (p.v & 0xFBE0) | (p.t & 0x041F)
}

func (p *PPU) copyY() {
	p.v = (p.v & 0x841F) | (p.t & 0x7BE0)
}

// GetFrameBuffer returns the front (most recently swapped-in) framebuffer.
func (p *PPU) GetFrameBuffer() [256 * 240]uint32 {
	return p.front
}

// GetFrameCount returns the current frame count.
func (p *PPU) GetFrameCount() uint64 { return p.frame }

// SetFrameCount sets the frame count (for bus/PPU synchronization).
func (p *PPU) SetFrameCount(count uint64) { p.frame = count }

// Scanline returns the current scanline (0..261).
func (p *PPU) Scanline() int { return p.scanline }

// Cycle returns the current dot within the scanline (0..340).
func (p *PPU) Cycle() int { return p.cycle }

// GetScanline is a legacy alias for Scanline.
func (p *PPU) GetScanline() int { return p.scanline }

// GetCycle is a legacy alias for Cycle.
func (p *PPU) GetCycle() int { return p.cycle }

// IsRenderingEnabled reports whether background or sprite rendering is on.
func (p *PPU) IsRenderingEnabled() bool { return p.renderingEnabled() }

// IsVBlank reports whether nmi_occurred (vblank) is currently set.
func (p *PPU) IsVBlank() bool { return p.nmiOccurred }

var nesColorPalette = [64]uint32{
	0xFF666666, 0xFF002A88, 0xFF1412A7, 0xFF3B00A4, 0xFF5C007E, 0xFF6E0040, 0xFF6C0600, 0xFF561D00,
	0xFF333500, 0xFF0B4800, 0xFF005200, 0xFF004F08, 0xFF00404D, 0xFF000000, 0xFF000000, 0xFF000000,
	0xFFADADAD, 0xFF155FD9, 0xFF4240FF, 0xFF7527FE, 0xFFA01ACC, 0xFFB71E7B, 0xFFB53120, 0xFF994E00,
	0xFF6B6D00, 0xFF388700, 0xFF0C9300, 0xFF008F32, 0xFF007C8D, 0xFF000000, 0xFF000000, 0xFF000000,
	0xFFFFFEFF, 0xFF64B0FF, 0xFF9290FF, 0xFFC676FF, 0xFFF36AFF, 0xFFFE6ECC, 0xFFFE8170, 0xFFEA9E22,
	0xFFBCBE00, 0xFF88D800, 0xFF5CE430, 0xFF45E082, 0xFF48CDDE, 0xFF4F4F4F, 0xFF000000, 0xFF000000,
	0xFFFFFEFF, 0xFFC0DFFF, 0xFFD3D2FF, 0xFFE8C8FF, 0xFFFBC2FF, 0xFFFEC4EA, 0xFFFECCC5, 0xFFF7D8A5,
	0xFFE4E594, 0xFFCFF29B, 0xFFBEFBB3, 0xFFB8F8D8, 0xFFB8F8F8, 0xFF000000, 0xFF000000, 0xFF000000,
}

// NESColorToRGB converts a NES palette index (0-63) to packed 0xAARRGGBB.
func NESColorToRGB(colorIndex uint8) uint32 {
	if colorIndex >= 64 {
		return 0xFF000000
	}
	return nesColorPalette[colorIndex]
}

func (p *PPU) nesColor(index uint8) uint32 {
	return NESColorToRGB(index & 0x3F)
}
