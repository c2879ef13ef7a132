// Package ppu implements the Picture Processing Unit for the NES.
package ppu

import (
	"image/color"

	"nesgo/internal/memory"
)

// spriteSlot is one entry of the 8-sprite secondary OAM buffer evaluated for
// the next scanline and fetched one scanline ahead of when it is rendered.
type spriteSlot struct {
	originalIndex int
	y             int
	tile          uint8
	attribute     uint8
	x             int
	patternLow    uint8
	patternHigh   uint8
}

// PPU represents the NES Picture Processing Unit (2C02).
type PPU struct {
	// CPU-visible registers
	ppuCtrl   uint8
	ppuMask   uint8
	ppuStatus uint8
	oamAddr   uint8

	// Scroll/address state shared between PPUSCROLL and PPUADDR
	v uint16 // current VRAM address (15 bits)
	t uint16 // temporary VRAM address (15 bits)
	x uint8  // fine X scroll (3 bits)
	w bool   // write toggle

	readBuffer uint8 // PPUDATA read buffer

	memory *memory.PPUMemory

	oam [256]uint8

	secondaryOAM   [8]spriteSlot
	spriteCount    int
	spriteOverflow bool
	sprite0Hit     bool

	// Background fetch latches, filled across the four 2-cycle fetch steps
	nextTileID      uint8
	nextAttrByte    uint8
	nextPatternLow  uint8
	nextPatternHigh uint8

	// Background shift registers. 16 bits wide so fineX can select a bit
	// position inside the currently-shifting tile pair.
	bgPatternLow  uint16
	bgPatternHigh uint16
	bgAttrLow     uint16
	bgAttrHigh    uint16

	scanline int // -1..260
	cycle    int // 0..340

	frameCount uint64
	oddFrame   bool

	backgroundEnabled  bool
	spritesEnabled     bool
	renderingEnabled   bool
	showLeftBackground bool
	showLeftSprite     bool

	frameBuffer [256 * 240]uint32
	cycleCount  uint64

	nmiCallback           func()
	frameCompleteCallback func()
}

// New creates a new PPU instance.
func New() *PPU {
	return &PPU{
		scanline: -1,
		cycle:    0,
	}
}

// Reset resets the PPU to its power-up state.
func (p *PPU) Reset() {
	p.ppuCtrl = 0
	p.ppuMask = 0
	p.ppuStatus = 0
	p.oamAddr = 0

	p.v = 0
	p.t = 0
	p.x = 0
	p.w = false
	p.readBuffer = 0

	p.scanline = -1
	p.cycle = 0
	p.frameCount = 0
	p.oddFrame = false

	p.spriteCount = 0
	p.sprite0Hit = false
	p.spriteOverflow = false

	p.bgPatternLow = 0
	p.bgPatternHigh = 0
	p.bgAttrLow = 0
	p.bgAttrHigh = 0

	p.backgroundEnabled = false
	p.spritesEnabled = false
	p.renderingEnabled = false
	p.showLeftBackground = false
	p.showLeftSprite = false

	p.cycleCount = 0

	for i := range p.oam {
		p.oam[i] = 0
	}
	for i := range p.frameBuffer {
		p.frameBuffer[i] = 0
	}
}

// SetMemory sets the PPU memory interface.
func (p *PPU) SetMemory(mem *memory.PPUMemory) {
	p.memory = mem
}

// Memory returns the PPU's nametable/palette memory, used by the bus to
// fold VRAM and palette RAM into a save-state snapshot.
func (p *PPU) Memory() *memory.PPUMemory {
	return p.memory
}

// SetNMICallback sets the NMI callback function.
func (p *PPU) SetNMICallback(callback func()) {
	p.nmiCallback = callback
}

// SetFrameCompleteCallback sets the frame complete callback.
func (p *PPU) SetFrameCompleteCallback(callback func()) {
	p.frameCompleteCallback = callback
}

// ReadRegister reads from a PPU register (CPU $2000-$2007).
func (p *PPU) ReadRegister(address uint16) uint8 {
	switch address & 0x2007 {
	case 0x2002: // PPUSTATUS
		status := p.ppuStatus
		if p.sprite0Hit {
			status |= 0x40
		}
		if p.spriteOverflow {
			status |= 0x20
		}
		p.ppuStatus &^= 0x80
		p.w = false
		return status
	case 0x2004: // OAMDATA
		return p.oam[p.oamAddr]
	case 0x2007: // PPUDATA
		return p.readPPUData()
	default: // write-only registers return 0
		return 0
	}
}

// WriteRegister writes to a PPU register (CPU $2000-$2007).
func (p *PPU) WriteRegister(address uint16, value uint8) {
	switch address & 0x2007 {
	case 0x2000: // PPUCTRL
		p.ppuCtrl = value
		p.t = (p.t & 0xF3FF) | ((uint16(value) & 0x03) << 10)
	case 0x2001: // PPUMASK
		p.ppuMask = value
		p.updateRenderingFlags()
	case 0x2002: // PPUSTATUS is read-only
	case 0x2003: // OAMADDR
		p.oamAddr = value
	case 0x2004: // OAMDATA
		p.oam[p.oamAddr] = value
	case 0x2005: // PPUSCROLL
		p.writePPUScroll(value)
	case 0x2006: // PPUADDR
		p.writePPUAddr(value)
	case 0x2007: // PPUDATA
		p.writePPUData(value)
	}
}

// WriteOAM writes directly to OAM at the given address (used by OAM-DMA).
func (p *PPU) WriteOAM(address uint8, value uint8) {
	p.oam[address] = value
}

func (p *PPU) updateRenderingFlags() {
	p.backgroundEnabled = (p.ppuMask & 0x08) != 0
	p.spritesEnabled = (p.ppuMask & 0x10) != 0
	p.renderingEnabled = p.backgroundEnabled || p.spritesEnabled
	p.showLeftBackground = (p.ppuMask & 0x02) != 0
	p.showLeftSprite = (p.ppuMask & 0x04) != 0
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
		p.t = (p.t & 0x00FF) | ((uint16(value) & 0x3F) << 8)
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
	p.advanceVRAMAddress()
	return data
}

func (p *PPU) writePPUData(value uint8) {
	if p.memory != nil {
		p.memory.Write(p.v, value)
	}
	p.advanceVRAMAddress()
}

func (p *PPU) advanceVRAMAddress() {
	if p.ppuCtrl&0x04 != 0 {
		p.v += 32
	} else {
		p.v++
	}
	p.v &= 0x3FFF
}

// Step advances the PPU by exactly one dot (cycle).
func (p *PPU) Step() {
	p.cycleCount++

	if p.scanline >= -1 && p.scanline < 240 {
		p.renderScanlineCycle()
	}

	if p.scanline == 241 && p.cycle == 1 {
		p.ppuStatus |= 0x80
		if p.ppuCtrl&0x80 != 0 && p.nmiCallback != nil {
			p.nmiCallback()
		}
	}

	if p.scanline == -1 && p.cycle == 1 {
		p.ppuStatus &^= 0x80
		p.sprite0Hit = false
		p.spriteOverflow = false
	}

	p.cycle++
	if p.cycle > 340 {
		p.cycle = 0
		p.scanline++
		if p.scanline > 260 {
			p.scanline = -1
			p.frameCount++
			p.oddFrame = !p.oddFrame
			if p.frameCompleteCallback != nil {
				p.frameCompleteCallback()
			}
		}
	}

	if p.scanline == 0 && p.cycle == 0 && p.oddFrame && p.renderingEnabled {
		p.cycle = 1
	}
}

func (p *PPU) renderScanlineCycle() {
	fetchWindow := (p.cycle >= 1 && p.cycle <= 257) || p.cycle >= 321

	if p.renderingEnabled && fetchWindow {
		p.shiftBackgroundRegisters()
	}

	if p.renderingEnabled {
		if (p.cycle >= 1 && p.cycle <= 256) || (p.cycle >= 321 && p.cycle <= 336) {
			switch p.cycle % 8 {
			case 1:
				p.nextTileID = p.memory.Read(p.nametableAddress())
			case 3:
				p.nextAttrByte = p.memory.Read(p.attributeAddress())
			case 5:
				p.nextPatternLow = p.memory.Read(p.patternLowAddress())
			case 7:
				p.nextPatternHigh = p.memory.Read(p.patternLowAddress() + 8)
			case 0:
				p.reloadBackgroundShiftRegisters()
				p.incrementCoarseX()
			}
		}
		if p.cycle == 256 {
			p.incrementY()
		}
		if p.cycle == 257 {
			p.copyX()
		}
		if p.scanline == -1 && p.cycle >= 280 && p.cycle <= 304 {
			p.copyY()
		}
	}

	if p.cycle == 257 {
		if p.scanline < 240 {
			p.evaluateSprites()
		} else {
			p.spriteCount = 0
		}
	}
	if p.cycle == 340 {
		p.fetchSpritePatterns()
	}

	if p.scanline >= 0 && p.scanline < 240 && p.cycle >= 1 && p.cycle <= 256 {
		p.renderPixel()
	}

	// Sprite x-delay counters and shift registers advance only after this
	// cycle's pixel has been read, so the cycle where a sprite's x-counter
	// first reaches zero still renders its true first (unshifted) pixel.
	if p.cycle >= 1 && p.cycle <= 256 {
		p.tickSpriteShifters()
	}
}

func (p *PPU) nametableAddress() uint16 {
	return 0x2000 | (p.v & 0x0FFF)
}

func (p *PPU) attributeAddress() uint16 {
	return 0x23C0 | (p.v & 0x0C00) | ((p.v >> 4) & 0x38) | ((p.v >> 2) & 0x07)
}

func (p *PPU) patternLowAddress() uint16 {
	base := uint16(0x0000)
	if p.ppuCtrl&0x10 != 0 {
		base = 0x1000
	}
	fineY := (p.v >> 12) & 0x07
	return base | (uint16(p.nextTileID) << 4) | fineY
}

func (p *PPU) reloadBackgroundShiftRegisters() {
	p.bgPatternLow = (p.bgPatternLow & 0xFF00) | uint16(p.nextPatternLow)
	p.bgPatternHigh = (p.bgPatternHigh & 0xFF00) | uint16(p.nextPatternHigh)

	coarseX := int(p.v & 0x1F)
	coarseY := int((p.v >> 5) & 0x1F)
	shift := uint(((coarseY & 2) << 1) | (coarseX & 2))
	attrBits := (p.nextAttrByte >> shift) & 0x03

	p.bgAttrLow &= 0xFF00
	p.bgAttrHigh &= 0xFF00
	if attrBits&0x01 != 0 {
		p.bgAttrLow |= 0x00FF
	}
	if attrBits&0x02 != 0 {
		p.bgAttrHigh |= 0x00FF
	}
}

func (p *PPU) shiftBackgroundRegisters() {
	p.bgPatternLow <<= 1
	p.bgPatternHigh <<= 1
	p.bgAttrLow <<= 1
	p.bgAttrHigh <<= 1
}

func (p *PPU) incrementCoarseX() {
	if (p.v & 0x001F) == 31 {
		p.v &= ^uint16(0x001F)
		p.v ^= 0x0400
	} else {
		p.v++
	}
}

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

// evaluateSprites fills the secondary OAM buffer for the scanline that
// follows the current one: the PPU evaluates sprites one line ahead of
// when it renders them.
func (p *PPU) evaluateSprites() {
	targetScanline := p.scanline + 1
	height := 8
	if p.ppuCtrl&0x20 != 0 {
		height = 16
	}

	count := 0
	for i := 0; i < 64; i++ {
		oamIdx := i * 4
		y := int(p.oam[oamIdx])
		if targetScanline >= y && targetScanline < y+height {
			if count < 8 {
				p.secondaryOAM[count] = spriteSlot{
					originalIndex: i,
					y:             y,
					tile:          p.oam[oamIdx+1],
					attribute:     p.oam[oamIdx+2],
					x:             int(p.oam[oamIdx+3]),
				}
				count++
			} else {
				p.spriteOverflow = true
				p.ppuStatus |= 0x20
				break
			}
		}
	}
	p.spriteCount = count
}

func reverseBits(b uint8) uint8 {
	var r uint8
	for i := 0; i < 8; i++ {
		r <<= 1
		r |= b & 1
		b >>= 1
	}
	return r
}

func (p *PPU) fetchSpritePatterns() {
	if p.memory == nil {
		return
	}
	targetScanline := p.scanline + 1
	height := 8
	if p.ppuCtrl&0x20 != 0 {
		height = 16
	}

	for i := 0; i < p.spriteCount; i++ {
		s := &p.secondaryOAM[i]
		row := targetScanline - s.y
		if s.attribute&0x80 != 0 {
			row = height - 1 - row
		}

		var base uint16
		tileIndex := s.tile
		if height == 16 {
			if s.tile&0x01 != 0 {
				base = 0x1000
			}
			tileIndex = s.tile & 0xFE
			if row >= 8 {
				tileIndex++
				row -= 8
			}
		} else if p.ppuCtrl&0x08 != 0 {
			base = 0x1000
		}

		addr := base + uint16(tileIndex)*16 + uint16(row)
		low := p.memory.Read(addr)
		high := p.memory.Read(addr + 8)
		if s.attribute&0x40 != 0 {
			low = reverseBits(low)
			high = reverseBits(high)
		}
		s.patternLow = low
		s.patternHigh = high
	}
}

func (p *PPU) tickSpriteShifters() {
	for i := 0; i < p.spriteCount; i++ {
		s := &p.secondaryOAM[i]
		if s.x > 0 {
			s.x--
			continue
		}
		s.patternLow <<= 1
		s.patternHigh <<= 1
	}
}

func (p *PPU) renderPixel() {
	pixelX := p.cycle - 1
	pixelY := p.scanline

	var bgColorIndex, bgPalette uint8
	if p.backgroundEnabled && !(pixelX < 8 && !p.showLeftBackground) {
		bit := uint(15 - p.x)
		lo := uint8((p.bgPatternLow >> bit) & 1)
		hi := uint8((p.bgPatternHigh >> bit) & 1)
		bgColorIndex = (hi << 1) | lo

		loA := uint8((p.bgAttrLow >> bit) & 1)
		hiA := uint8((p.bgAttrHigh >> bit) & 1)
		bgPalette = (hiA << 1) | loA
	}

	var spColorIndex, spPalette uint8
	var spPriority, spIsSprite0 bool
	if p.spritesEnabled && !(pixelX < 8 && !p.showLeftSprite) {
		for i := 0; i < p.spriteCount; i++ {
			s := &p.secondaryOAM[i]
			if s.x != 0 {
				continue
			}
			hi := (s.patternHigh >> 7) & 1
			lo := (s.patternLow >> 7) & 1
			idx := (hi << 1) | lo
			if idx == 0 {
				continue
			}
			spColorIndex = idx
			spPalette = 4 + (s.attribute & 0x03)
			spPriority = (s.attribute & 0x20) != 0
			spIsSprite0 = s.originalIndex == 0
			break
		}
	}

	if bgColorIndex != 0 && spColorIndex != 0 && spIsSprite0 && p.renderingEnabled &&
		(pixelX >= 8 || (p.showLeftBackground && p.showLeftSprite)) && pixelX != 255 {
		p.sprite0Hit = true
	}

	var paletteAddr uint16
	switch {
	case spColorIndex != 0 && (bgColorIndex == 0 || !spPriority):
		paletteAddr = 0x3F00 + uint16(spPalette)*4 + uint16(spColorIndex)
	case bgColorIndex != 0:
		paletteAddr = 0x3F00 + uint16(bgPalette)*4 + uint16(bgColorIndex)
	default:
		paletteAddr = 0x3F00
	}

	var nesColorIndex uint8
	if p.memory != nil {
		nesColorIndex = p.memory.Read(paletteAddr) & 0x3F
	}
	p.frameBuffer[pixelY*256+pixelX] = NESColorToRGB(nesColorIndex)
}

// GetFrameBuffer returns the current frame buffer (row-major, 0x00RRGGBB).
func (p *PPU) GetFrameBuffer() [256 * 240]uint32 {
	return p.frameBuffer
}

// FrameBuffer returns the current frame in packed RGBA byte layout.
func (p *PPU) FrameBuffer() []byte {
	out := make([]byte, len(p.frameBuffer)*4)
	for i, px := range p.frameBuffer {
		out[i*4+0] = byte(px >> 16)
		out[i*4+1] = byte(px >> 8)
		out[i*4+2] = byte(px)
		out[i*4+3] = 0xFF
	}
	return out
}

// GetFrameCount returns the current frame count.
func (p *PPU) GetFrameCount() uint64 { return p.frameCount }

// SetFrameCount sets the frame count (for synchronization with the bus).
func (p *PPU) SetFrameCount(count uint64) { p.frameCount = count }

// GetScanline returns the current scanline.
func (p *PPU) GetScanline() int { return p.scanline }

// GetCycle returns the current cycle within the scanline.
func (p *PPU) GetCycle() int { return p.cycle }

// IsRenderingEnabled returns true if background or sprite rendering is on.
func (p *PPU) IsRenderingEnabled() bool { return p.renderingEnabled }

// IsVBlank returns true if the VBlank flag is currently set.
func (p *PPU) IsVBlank() bool { return (p.ppuStatus & 0x80) != 0 }

// GetCycleCount returns the total number of PPU dots processed.
func (p *PPU) GetCycleCount() uint64 { return p.cycleCount }

// ClearFrameBuffer fills the frame buffer with a single color.
func (p *PPU) ClearFrameBuffer(color uint32) {
	for i := range p.frameBuffer {
		p.frameBuffer[i] = color
	}
}

// State is the serializable subset of PPU state used for save-states: the
// CPU-visible registers, scroll/address latches, OAM, and scanline position.
// Nametable/palette RAM lives in memory.PPUMemory and is snapshotted there.
type State struct {
	PPUCtrl, PPUMask, PPUStatus, OAMAddr uint8
	V, T                                 uint16
	X                                    uint8
	W                                    bool
	ReadBuffer                           uint8
	OAM                                  [256]uint8
	Scanline, Cycle                      int
	FrameCount                           uint64
	OddFrame                             bool
	FrameBuffer                          [256 * 240]uint32
	CycleCount                           uint64
}

// State captures the PPU's registers, OAM, and scanline position.
func (p *PPU) State() State {
	return State{
		PPUCtrl: p.ppuCtrl, PPUMask: p.ppuMask, PPUStatus: p.ppuStatus, OAMAddr: p.oamAddr,
		V: p.v, T: p.t, X: p.x, W: p.w,
		ReadBuffer:  p.readBuffer,
		OAM:         p.oam,
		Scanline:    p.scanline,
		Cycle:       p.cycle,
		FrameCount:  p.frameCount,
		OddFrame:    p.oddFrame,
		FrameBuffer: p.frameBuffer,
		CycleCount:  p.cycleCount,
	}
}

// LoadState restores registers, OAM, and scanline position captured by State.
func (p *PPU) LoadState(s State) {
	p.ppuCtrl, p.ppuMask, p.ppuStatus, p.oamAddr = s.PPUCtrl, s.PPUMask, s.PPUStatus, s.OAMAddr
	p.v, p.t, p.x, p.w = s.V, s.T, s.X, s.W
	p.readBuffer = s.ReadBuffer
	p.oam = s.OAM
	p.scanline = s.Scanline
	p.cycle = s.Cycle
	p.frameCount = s.FrameCount
	p.oddFrame = s.OddFrame
	p.frameBuffer = s.FrameBuffer
	p.cycleCount = s.CycleCount
	p.updateRenderingFlags()
}

// NES 2C02 NTSC palette, 64 entries in 0xFFRRGGBB form; NESColorToRGB masks
// off the top byte.
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

// NESColorToRGB converts a NES palette index to a packed 0x00RRGGBB value.
func NESColorToRGB(colorIndex uint8) uint32 {
	if colorIndex >= 64 {
		return 0
	}
	return nesColorPalette[colorIndex] & 0x00FFFFFF
}

// NESColorToRGB is the PPU-bound form of the package-level converter.
func (p *PPU) NESColorToRGB(colorIndex uint8) uint32 {
	return NESColorToRGB(colorIndex)
}

// NESColorToRGBA converts a NES palette index to a color.RGBA value, for
// host backends that render through Go's image/color types.
func NESColorToRGBA(colorIndex uint8) color.RGBA {
	rgb := NESColorToRGB(colorIndex)
	return color.RGBA{
		R: byte(rgb >> 16),
		G: byte(rgb >> 8),
		B: byte(rgb),
		A: 0xFF,
	}
}
