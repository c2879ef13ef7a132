package cartridge

import "testing"

func buildINES(mapperID uint8, prgChunks, chrChunks int, flags6Extra uint8) []byte {
	header := make([]byte, 16)
	copy(header[0:4], []byte{'N', 'E', 'S', 0x1A})
	header[4] = byte(prgChunks)
	header[5] = byte(chrChunks)
	header[6] = (mapperID << 4) | flags6Extra
	header[7] = mapperID & 0xF0
	data := append(header, make([]byte, prgChunks*16384+chrChunks*8192)...)
	return data
}

func TestLoadINESRejectsShortHeader(t *testing.T) {
	if _, err := LoadINES([]byte{1, 2, 3}); err != ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestLoadINESRejectsBadMagic(t *testing.T) {
	data := buildINES(0, 1, 1, 0)
	data[0] = 'X'
	if _, err := LoadINES(data); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestLoadINESRejectsZeroPRG(t *testing.T) {
	data := buildINES(0, 0, 1, 0)
	if _, err := LoadINES(data); err != ErrZeroPRG {
		t.Fatalf("expected ErrZeroPRG, got %v", err)
	}
}

func TestLoadINESRejectsTruncated(t *testing.T) {
	data := buildINES(0, 2, 1, 0)
	data = data[:len(data)-100]
	if _, err := LoadINES(data); err != ErrTruncatedROM {
		t.Fatalf("expected ErrTruncatedROM, got %v", err)
	}
}

func TestLoadINESSkipsTrainer(t *testing.T) {
	data := buildINES(0, 1, 1, flag6Trainer)
	// Insert the trainer bytes.
	trainer := make([]byte, 512)
	full := append(append(data[:16:16], trainer...), data[16:]...)
	full[16+512] = 0xAB // first PRG byte
	cart, err := LoadINES(full)
	if err != nil {
		t.Fatalf("LoadINES: %v", err)
	}
	if cart.PRG[0] != 0xAB {
		t.Fatalf("expected trainer to be skipped, got PRG[0]=%#x", cart.PRG[0])
	}
}

func TestMirrorFromFlags(t *testing.T) {
	cases := []struct {
		flags6 uint8
		want   MirrorMode
	}{
		{0, MirrorHorizontal},
		{flag6Mirror, MirrorVertical},
		{flag6FourScreen, MirrorFourScreen},
	}
	for _, c := range cases {
		data := buildINES(0, 1, 1, c.flags6)
		cart, err := LoadINES(data)
		if err != nil {
			t.Fatalf("LoadINES: %v", err)
		}
		if cart.DefaultMirror() != c.want {
			t.Errorf("flags6=%#x: got %v, want %v", c.flags6, cart.DefaultMirror(), c.want)
		}
	}
}

func TestUnsupportedMapper(t *testing.T) {
	data := buildINES(5, 1, 1, 0)
	if _, err := LoadINES(data); err != ErrUnsupportedMapper {
		t.Fatalf("expected ErrUnsupportedMapper, got %v", err)
	}
}

func TestMapper0Mirrors16KBBank(t *testing.T) {
	data := buildINES(0, 1, 1, 0)
	data[16] = 0x42
	cart, err := LoadINES(data)
	if err != nil {
		t.Fatalf("LoadINES: %v", err)
	}
	if got := cart.ReadPRG(0x8000); got != 0x42 {
		t.Fatalf("ReadPRG(0x8000)=%#x, want 0x42", got)
	}
	if got := cart.ReadPRG(0xC000); got != 0x42 {
		t.Fatalf("ReadPRG(0xC000)=%#x, want 0x42 (mirrored)", got)
	}
}

func TestMapper0PRGRAM(t *testing.T) {
	data := buildINES(0, 1, 1, 0)
	cart, _ := LoadINES(data)
	cart.WritePRG(0x6000, 0x99)
	if got := cart.ReadPRG(0x6000); got != 0x99 {
		t.Fatalf("PRG-RAM round trip failed: got %#x", got)
	}
}

func TestMapper2BankSwitch(t *testing.T) {
	data := buildINES(2, 4, 0, 0) // 4x16KB PRG, CHR-RAM
	for i := 0; i < 4; i++ {
		data[16+i*16384] = byte(0x10 + i)
	}
	cart, err := LoadINES(data)
	if err != nil {
		t.Fatalf("LoadINES: %v", err)
	}
	if got := cart.ReadPRG(0xC000); got != 0x13 {
		t.Fatalf("last bank fixed at $C000: got %#x, want 0x13", got)
	}
	cart.WritePRG(0x8000, 2)
	if got := cart.ReadPRG(0x8000); got != 0x12 {
		t.Fatalf("after bank select 2: got %#x, want 0x12", got)
	}
}

func TestMapper3CHRBankSelect(t *testing.T) {
	data := buildINES(3, 1, 2, 0)
	data[16+16384] = 0xAA       // CHR bank 0 byte 0
	data[16+16384+8192] = 0xBB // CHR bank 1 byte 0
	cart, err := LoadINES(data)
	if err != nil {
		t.Fatalf("LoadINES: %v", err)
	}
	if got := cart.ReadCHR(0); got != 0xAA {
		t.Fatalf("default CHR bank 0: got %#x", got)
	}
	cart.WritePRG(0x8000, 1)
	if got := cart.ReadCHR(0); got != 0xBB {
		t.Fatalf("after CHR bank select 1: got %#x", got)
	}
}

func TestMapper1ShiftRegisterAndControl(t *testing.T) {
	data := buildINES(1, 4, 0, 0) // 4x16KB PRG, CHR-RAM
	cart, err := LoadINES(data)
	if err != nil {
		t.Fatalf("LoadINES: %v", err)
	}
	// Write control=0b01111 (mirror=horizontal(3), prg mode irrelevant here) via 5 one-bit writes.
	writeMMC1 := func(addr uint16, value uint8) {
		for i := 0; i < 5; i++ {
			bit := (value >> uint(i)) & 1
			cart.WritePRG(addr, bit)
		}
	}
	writeMMC1(0x8000, 0x0F) // control = 01111: chrMode=0,prgMode=3,mirror=3(horizontal)
	if cart.Mirroring() != MirrorHorizontal {
		t.Fatalf("expected horizontal mirroring after control write, got %v", cart.Mirroring())
	}
}

func TestMapper1ResetBitSetsPRGMode3(t *testing.T) {
	data := buildINES(1, 4, 0, 0)
	cart, _ := LoadINES(data)
	m := cart.mapper.(*mapper1)
	m.prg = 5
	cart.WritePRG(0x8000, 0x80) // reset
	if m.prgMode() != 3 {
		t.Fatalf("expected PRG mode 3 after reset write, got %d", m.prgMode())
	}
}

func TestMapper4IRQCounter(t *testing.T) {
	data := buildINES(4, 4, 0, 0)
	cart, err := LoadINES(data)
	if err != nil {
		t.Fatalf("LoadINES: %v", err)
	}
	cart.WritePRG(0xC000, 4) // IRQ latch = 4
	cart.WritePRG(0xC001, 0) // force reload
	cart.WritePRG(0xE001, 0) // enable IRQ

	for i := 0; i < 5; i++ {
		cart.OnScanlineHBlank()
	}
	if !cart.IRQPending() {
		t.Fatalf("expected IRQ pending after counter reaches zero")
	}
	cart.ClearIRQ()
	if cart.IRQPending() {
		t.Fatalf("expected IRQ cleared")
	}
}

func TestMapper9LatchFlipsOnRangedAddress(t *testing.T) {
	data := buildINES(9, 2, 32, 0) // plenty of CHR banks
	cart, err := LoadINES(data)
	if err != nil {
		t.Fatalf("LoadINES: %v", err)
	}
	m := cart.mapper.(*mapper9)
	if m.chrLatch0 {
		t.Fatalf("expected latch0 initially false (FD)")
	}
	cart.ReadCHR(0x0FE9) // within $0FE8-$0FEF range
	if !m.chrLatch0 {
		t.Fatalf("expected latch0 true after reading within FE range")
	}
	cart.ReadCHR(0x0FD9)
	if m.chrLatch0 {
		t.Fatalf("expected latch0 false after reading within FD range")
	}
}
