package ppu

import (
	"testing"

	"nesgo/internal/memory"
)

// MockCartridge implements a simple cartridge for testing.
type MockCartridge struct {
	chrData [0x2000]uint8
}

func (m *MockCartridge) ReadPRG(address uint16) uint8       { return 0 }
func (m *MockCartridge) WritePRG(address uint16, value uint8) {}
func (m *MockCartridge) ReadCHR(address uint16) uint8 {
	return m.chrData[address&0x1FFF]
}
func (m *MockCartridge) WriteCHR(address uint16, value uint8) {
	m.chrData[address&0x1FFF] = value
}

func newTestPPU() (*PPU, *memory.PPUMemory, *MockCartridge) {
	cart := &MockCartridge{}
	mem := memory.NewPPUMemory(cart, memory.MirrorHorizontal)
	p := New()
	p.SetMemory(mem)
	return p, mem, cart
}

func TestPPUCreation(t *testing.T) {
	p := New()
	if p.scanline != -1 {
		t.Errorf("expected initial scanline -1, got %d", p.scanline)
	}
	if p.cycle != 0 {
		t.Errorf("expected initial cycle 0, got %d", p.cycle)
	}
	if p.frameCount != 0 {
		t.Errorf("expected initial frame count 0, got %d", p.frameCount)
	}
}

func TestPPUReset(t *testing.T) {
	p := New()
	p.ppuCtrl = 0xFF
	p.ppuMask = 0xFF
	p.oamAddr = 0x80
	p.scanline = 100
	p.cycle = 200
	p.frameCount = 5
	p.v = 0x2000
	p.t = 0x1000
	p.x = 7
	p.w = true

	p.Reset()

	if p.ppuCtrl != 0 || p.ppuMask != 0 || p.oamAddr != 0 {
		t.Errorf("expected registers cleared after reset")
	}
	if p.scanline != -1 || p.cycle != 0 {
		t.Errorf("expected scanline/cycle reset to -1/0, got %d/%d", p.scanline, p.cycle)
	}
	if p.v != 0 || p.t != 0 || p.x != 0 || p.w != false {
		t.Errorf("expected scroll state cleared after reset")
	}
}

func TestPPUCTRLWriteUpdatesTemporaryNametableBits(t *testing.T) {
	p, _, _ := newTestPPU()
	p.WriteRegister(0x2000, 0x03)
	if p.t&0x0C00 != 0x0C00 {
		t.Errorf("expected t nametable bits set from PPUCTRL write, got t=%04X", p.t)
	}
}

func TestPPUSCROLLTwoWriteSequence(t *testing.T) {
	p, _, _ := newTestPPU()
	p.WriteRegister(0x2005, 0x7D) // coarse X = 15, fine X = 5
	if p.x != 5 {
		t.Errorf("expected fine X = 5, got %d", p.x)
	}
	if !p.w {
		t.Errorf("expected write latch set after first PPUSCROLL write")
	}
	p.WriteRegister(0x2005, 0x5E) // coarse Y = 11, fine Y = 6
	if p.w {
		t.Errorf("expected write latch cleared after second PPUSCROLL write")
	}
	if (p.t>>12)&0x07 != 6 {
		t.Errorf("expected fine Y = 6 in t, got %04X", p.t)
	}
	if (p.t>>5)&0x1F != 11 {
		t.Errorf("expected coarse Y = 11 in t, got %04X", p.t)
	}
}

func TestPPUADDRTwoWriteSequenceLatchesV(t *testing.T) {
	p, _, _ := newTestPPU()
	p.WriteRegister(0x2006, 0x21)
	p.WriteRegister(0x2006, 0x08)
	if p.v != 0x2108 {
		t.Errorf("expected v=0x2108 after PPUADDR sequence, got %04X", p.v)
	}
}

func TestPPUSTATUSReadClearsVBlankAndLatch(t *testing.T) {
	p, _, _ := newTestPPU()
	p.ppuStatus = 0x80
	p.w = true

	status := p.ReadRegister(0x2002)
	if status&0x80 == 0 {
		t.Errorf("expected VBlank bit set in returned status")
	}
	if p.ppuStatus&0x80 != 0 {
		t.Errorf("expected VBlank flag cleared after status read")
	}
	if p.w {
		t.Errorf("expected write latch cleared after status read")
	}
}

func TestOAMAddressAndData(t *testing.T) {
	p, _, _ := newTestPPU()
	p.WriteRegister(0x2003, 0x10)
	p.WriteRegister(0x2004, 0xAB)

	if p.oamAddr != 0x10 {
		t.Errorf("expected OAMADDR to stay at 0x10 after an OAMDATA write, got %02X", p.oamAddr)
	}
	if p.oam[0x10] != 0xAB {
		t.Errorf("expected OAM[0x10]=0xAB, got %02X", p.oam[0x10])
	}
	if got := p.ReadRegister(0x2004); got != 0xAB {
		t.Errorf("expected OAMDATA read to return 0xAB, got %02X", got)
	}
}

func TestWriteOAMViaDMABypassesOAMAddr(t *testing.T) {
	p, _, _ := newTestPPU()
	p.WriteOAM(0x05, 0x42)
	if p.oam[5] != 0x42 {
		t.Errorf("expected OAM[5]=0x42, got %02X", p.oam[5])
	}
}

func TestPPUDATABufferedReadAndIncrement(t *testing.T) {
	p, mem, _ := newTestPPU()
	mem.Write(0x2005, 0x11) // nametable byte
	mem.Write(0x2006, 0x22)

	p.v = 0x2005
	first := p.ReadRegister(0x2007)
	if first != 0 {
		t.Errorf("expected first PPUDATA read to return stale buffer (0), got %02X", first)
	}
	second := p.ReadRegister(0x2007)
	if second != 0x11 {
		t.Errorf("expected second PPUDATA read to return 0x11, got %02X", second)
	}
	if p.v != 0x2007 {
		t.Errorf("expected v to increment by 1 by default, got %04X", p.v)
	}
}

func TestPPUDATAIncrementBy32WhenCtrlBitSet(t *testing.T) {
	p, _, _ := newTestPPU()
	p.ppuCtrl = 0x04
	p.v = 0x2000
	p.ReadRegister(0x2007)
	if p.v != 0x2020 {
		t.Errorf("expected v to increment by 32, got %04X", p.v)
	}
}

func TestPaletteReadIsImmediateNotBuffered(t *testing.T) {
	p, mem, _ := newTestPPU()
	mem.Write(0x3F05, 0x2A)
	p.v = 0x3F05
	got := p.ReadRegister(0x2007)
	if got != 0x2A {
		t.Errorf("expected immediate palette read 0x2A, got %02X", got)
	}
}

// writeSolidTile fills an 8x8 tile's CHR bitplanes so every pixel in the
// tile decodes to color index 3 (both bitplanes fully set).
func writeSolidTile(cart *MockCartridge, tileIndex uint16) {
	base := tileIndex * 16
	for row := uint16(0); row < 8; row++ {
		cart.chrData[base+row] = 0xFF
		cart.chrData[base+row+8] = 0xFF
	}
}

func runFrame(p *PPU) {
	for i := 0; i < 341*262; i++ {
		p.Step()
	}
}

func TestBackgroundPixelRendersNonZeroColor(t *testing.T) {
	p, mem, cart := newTestPPU()
	writeSolidTile(cart, 0)
	mem.Write(0x2000, 0x00) // nametable entry 0 -> tile 0
	mem.Write(0x3F03, 0x16) // palette 0, color index 3 -> arbitrary NES color index

	p.ppuMask = 0x0A // show background, including the leftmost 8 pixels
	p.updateRenderingFlags()

	runFrame(p)

	fb := p.GetFrameBuffer()
	if fb[0] == 0 {
		t.Errorf("expected non-black pixel at (0,0) with a solid background tile, got 0")
	}
}

func TestBackgroundDisabledRendersBackdropColor(t *testing.T) {
	p, mem, cart := newTestPPU()
	writeSolidTile(cart, 0)
	mem.Write(0x2000, 0x00)
	mem.Write(0x3F00, 0x01) // universal backdrop color

	p.ppuMask = 0x00 // background disabled
	p.updateRenderingFlags()

	runFrame(p)

	fb := p.GetFrameBuffer()
	want := NESColorToRGB(0x01)
	if fb[0] != want {
		t.Errorf("expected backdrop color %06X with background disabled, got %06X", want, fb[0])
	}
}

func TestVBlankFlagSetsAndTriggersNMI(t *testing.T) {
	p, _, _ := newTestPPU()
	nmiFired := false
	p.SetNMICallback(func() { nmiFired = true })
	p.ppuCtrl = 0x80 // NMI enabled

	// From (scanline=-1, cycle=0), scanline 241 cycle 1 is 242*341+1 dots away,
	// so it is processed by Step call number 242*341+2.
	for i := 0; i < 242*341+2; i++ {
		p.Step()
	}

	if !p.IsVBlank() {
		t.Errorf("expected VBlank flag set at scanline 241 cycle 1")
	}
	if !nmiFired {
		t.Errorf("expected NMI callback to fire when VBlank begins with NMI enabled")
	}
}

func TestVBlankClearsAtPreRenderScanline(t *testing.T) {
	p, _, _ := newTestPPU()
	p.ppuStatus = 0x80

	// Starting at scanline -1, cycle 0, a full scanline's worth of dots
	// guarantees Step() is called once with scanline==-1, cycle==1 current,
	// which is where the VBlank flag clears.
	for i := 0; i < 341; i++ {
		p.Step()
	}
	if p.IsVBlank() {
		t.Errorf("expected VBlank flag cleared at pre-render scanline cycle 1")
	}
}

func TestFrameCompleteCallbackFiresOncePerFrame(t *testing.T) {
	p, _, _ := newTestPPU()
	count := 0
	p.SetFrameCompleteCallback(func() { count++ })

	runFrame(p)

	if count != 1 {
		t.Errorf("expected frame-complete callback exactly once per 341*262 cycles, got %d", count)
	}
}

func TestOddFrameSkipsOneCycle(t *testing.T) {
	p, _, _ := newTestPPU()
	p.ppuMask = 0x08
	p.updateRenderingFlags()

	var frameEnds []uint64
	p.SetFrameCompleteCallback(func() {
		frameEnds = append(frameEnds, p.cycleCount)
	})

	for len(frameEnds) < 3 {
		p.Step()
	}

	evenFrameDots := frameEnds[0]
	oddFrameDots := frameEnds[1] - frameEnds[0]
	nextEvenFrameDots := frameEnds[2] - frameEnds[1]

	if evenFrameDots != 341*262 {
		t.Errorf("expected even frame to take %d dots, got %d", 341*262, evenFrameDots)
	}
	if oddFrameDots != 341*262-1 {
		t.Errorf("expected odd frame to take one fewer dot (%d), got %d", 341*262-1, oddFrameDots)
	}
	if nextEvenFrameDots != 341*262 {
		t.Errorf("expected the following even frame to take %d dots again, got %d", 341*262, nextEvenFrameDots)
	}
}

func TestSpriteZeroHitDetected(t *testing.T) {
	p, mem, cart := newTestPPU()
	writeSolidTile(cart, 0)
	mem.Write(0x2000, 0x00)
	mem.Write(0x3F03, 0x16) // background palette 0, color index 3
	mem.Write(0x3F13, 0x16) // sprite palette 0, color index 3

	// Sprite 0 placed so it overlaps the opaque background tile at (8,0).
	p.oam[0] = 0 // Y
	p.oam[1] = 0 // tile
	p.oam[2] = 0 // attribute, priority in front
	p.oam[3] = 8 // X

	p.ppuMask = 0x18 // background + sprites
	p.updateRenderingFlags()

	runFrame(p)

	if !p.sprite0Hit {
		t.Errorf("expected sprite-0 hit when an opaque sprite pixel overlaps an opaque background pixel")
	}
}

func TestSpriteOverflowFlaggedPastEightPerLine(t *testing.T) {
	p, _, _ := newTestPPU()
	for i := 0; i < 9; i++ {
		p.oam[i*4] = 0 // all visible on scanline 0
		p.oam[i*4+1] = 0
		p.oam[i*4+2] = 0
		p.oam[i*4+3] = uint8(i * 10)
	}
	p.ppuMask = 0x10
	p.updateRenderingFlags()

	// Sprite evaluation for scanline 0 happens at cycle 257 of the
	// pre-render scanline (-1); a small margin past that is enough.
	for i := 0; i < 260; i++ {
		p.Step()
	}

	if !p.spriteOverflow {
		t.Errorf("expected sprite overflow flag set with 9 sprites on one scanline")
	}
}

func TestNESColorToRGBOutOfRangeReturnsZero(t *testing.T) {
	if got := NESColorToRGB(64); got != 0 {
		t.Errorf("expected out-of-range palette index to return 0, got %06X", got)
	}
}

func TestNESColorToRGBAProducesOpaqueColor(t *testing.T) {
	c := NESColorToRGBA(0x16)
	if c.A != 0xFF {
		t.Errorf("expected fully opaque alpha, got %d", c.A)
	}
}

func TestFrameBufferBytesMatchPackedColors(t *testing.T) {
	p, _, _ := newTestPPU()
	p.frameBuffer[0] = 0x00112233
	bytes := p.FrameBuffer()
	if bytes[0] != 0x11 || bytes[1] != 0x22 || bytes[2] != 0x33 || bytes[3] != 0xFF {
		t.Errorf("expected packed color to unpack to R=11 G=22 B=33 A=FF, got %02X %02X %02X %02X",
			bytes[0], bytes[1], bytes[2], bytes[3])
	}
}
