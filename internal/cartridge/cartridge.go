// Package cartridge implements iNES ROM loading and the mapper chips that
// translate CPU/PPU bus addresses into cartridge storage offsets.
package cartridge

import (
	"errors"
	"hash/fnv"
)

// MirrorMode selects how the console's two physical nametable pages are
// arranged across the 4KB logical nametable region.
type MirrorMode uint8

const (
	MirrorHorizontal MirrorMode = iota
	MirrorVertical
	MirrorSingleLower
	MirrorSingleUpper
	MirrorFourScreen
)

// Mapper is the minimal bus-translation contract every mapper variant
// implements: CPU-side PRG access and PPU-side CHR access.
type Mapper interface {
	ReadPRG(addr uint16) uint8
	WritePRG(addr uint16, value uint8)
	ReadCHR(addr uint16) uint8
	WriteCHR(addr uint16, value uint8)
}

// MirrorOverrider is implemented by mappers that can change nametable
// mirroring at runtime (MMC1, MMC3). Mappers with a fixed, header-driven
// mirroring mode don't implement it.
type MirrorOverrider interface {
	Mirroring() MirrorMode
}

// IRQSource is implemented by mappers that can assert a cartridge IRQ line
// (MMC3's scanline counter).
type IRQSource interface {
	IRQPending() bool
	ClearIRQ()
}

// ScanlineClocker is implemented by mappers whose IRQ counter is clocked by
// the PPU's per-scanline H-blank signal rather than by bus writes.
type ScanlineClocker interface {
	OnScanlineHBlank()
}

// PPUAddressObserver is implemented by mappers that snoop PPU CHR reads to
// drive side-effects unrelated to the returned byte (MMC2's tile latches).
type PPUAddressObserver interface {
	ObserveCHRRead(addr uint16)
}

// Cartridge owns PRG-ROM, CHR-ROM/RAM, onboard PRG-RAM and the mapper chip
// that interprets bus addresses against them. It is created once per loaded
// ROM and mutated only through its bus methods.
type Cartridge struct {
	PRG []uint8
	CHR []uint8

	prgRAM     []uint8
	chrIsRAM   bool
	hasBattery bool

	mapperID uint8
	mapper   Mapper
	mirror   MirrorMode

	contentHash uint64
}

var (
	ErrShortHeader       = errors.New("cartridge: iNES header shorter than 16 bytes")
	ErrBadMagic          = errors.New("cartridge: missing NES\\x1A magic")
	ErrZeroPRG           = errors.New("cartridge: PRG-ROM size is zero")
	ErrTruncatedROM      = errors.New("cartridge: file truncated before end of PRG/CHR data")
	ErrUnsupportedMapper = errors.New("cartridge: unsupported mapper number")
)

// iNES flag 6 bit layout.
const (
	flag6Mirror     = 0x01
	flag6Battery    = 0x02
	flag6Trainer    = 0x04
	flag6FourScreen = 0x08
)

// LoadINES parses a complete iNES (.nes) file image and constructs the
// cartridge along with its mapper.
func LoadINES(data []byte) (*Cartridge, error) {
	if len(data) < 16 {
		return nil, ErrShortHeader
	}
	if data[0] != 'N' || data[1] != 'E' || data[2] != 'S' || data[3] != 0x1A {
		return nil, ErrBadMagic
	}

	prgChunks := int(data[4])
	chrChunks := int(data[5])
	flags6 := data[6]
	flags7 := data[7]

	if prgChunks == 0 {
		return nil, ErrZeroPRG
	}

	mapperID := (flags6 >> 4) | (flags7 & 0xF0)

	cart := &Cartridge{
		mapperID:   mapperID,
		hasBattery: flags6&flag6Battery != 0,
		prgRAM:     make([]uint8, 0x2000),
	}

	switch {
	case flags6&flag6FourScreen != 0:
		cart.mirror = MirrorFourScreen
	case flags6&flag6Mirror != 0:
		cart.mirror = MirrorVertical
	default:
		cart.mirror = MirrorHorizontal
	}

	offset := 16
	if flags6&flag6Trainer != 0 {
		offset += 512
	}

	prgSize := prgChunks * 16384
	if offset+prgSize > len(data) {
		return nil, ErrTruncatedROM
	}
	cart.PRG = append([]uint8(nil), data[offset:offset+prgSize]...)
	offset += prgSize

	if chrChunks > 0 {
		chrSize := chrChunks * 8192
		if offset+chrSize > len(data) {
			return nil, ErrTruncatedROM
		}
		cart.CHR = append([]uint8(nil), data[offset:offset+chrSize]...)
	} else {
		cart.CHR = make([]uint8, 8192)
		cart.chrIsRAM = true
	}

	mapper, err := newMapper(mapperID, cart)
	if err != nil {
		return nil, err
	}
	cart.mapper = mapper

	cart.contentHash = hashContent(data[:16], cart.PRG)

	return cart, nil
}

func hashContent(header []byte, prg []byte) uint64 {
	h := fnv.New64a()
	h.Write(header)
	h.Write(prg)
	return h.Sum64()
}

// ContentHash returns the 64-bit FNV-1a digest of the header and PRG-ROM
// bytes, used as the save-data key for this cartridge.
func (c *Cartridge) ContentHash() uint64 { return c.contentHash }

// HasBattery reports whether the cartridge's PRG-RAM should be persisted
// across sessions.
func (c *Cartridge) HasBattery() bool { return c.hasBattery }

// DefaultMirror returns the mirroring mode derived from iNES flag 6. Some
// mappers override this dynamically; see MirrorOverrider.
func (c *Cartridge) DefaultMirror() MirrorMode { return c.mirror }

// Mirroring resolves the cartridge's effective mirroring, consulting the
// mapper's override if it implements one.
func (c *Cartridge) Mirroring() MirrorMode {
	if m, ok := c.mapper.(MirrorOverrider); ok {
		return m.Mirroring()
	}
	return c.mirror
}

// IRQPending reports whether the mapper is asserting its IRQ line.
func (c *Cartridge) IRQPending() bool {
	if m, ok := c.mapper.(IRQSource); ok {
		return m.IRQPending()
	}
	return false
}

// ClearIRQ acknowledges the mapper's IRQ, if it has one.
func (c *Cartridge) ClearIRQ() {
	if m, ok := c.mapper.(IRQSource); ok {
		m.ClearIRQ()
	}
}

// OnScanlineHBlank notifies a scanline-counting mapper (MMC3) that the PPU
// has reached the H-blank point of a visible scanline.
func (c *Cartridge) OnScanlineHBlank() {
	if m, ok := c.mapper.(ScanlineClocker); ok {
		m.OnScanlineHBlank()
	}
}

func (c *Cartridge) ReadPRG(addr uint16) uint8     { return c.mapper.ReadPRG(addr) }
func (c *Cartridge) WritePRG(addr uint16, v uint8) { c.mapper.WritePRG(addr, v) }

func (c *Cartridge) ReadCHR(addr uint16) uint8 {
	if m, ok := c.mapper.(PPUAddressObserver); ok {
		m.ObserveCHRRead(addr)
	}
	return c.mapper.ReadCHR(addr)
}
func (c *Cartridge) WriteCHR(addr uint16, v uint8) { c.mapper.WriteCHR(addr, v) }

// SaveData returns the onboard PRG-RAM contents for battery-backed saves.
func (c *Cartridge) SaveData() []uint8 {
	out := make([]uint8, len(c.prgRAM))
	copy(out, c.prgRAM)
	return out
}

// LoadSaveData restores onboard PRG-RAM from a previously saved buffer.
func (c *Cartridge) LoadSaveData(data []uint8) {
	copy(c.prgRAM, data)
}

func newMapper(id uint8, cart *Cartridge) (Mapper, error) {
	switch id {
	case 0:
		return newMapper0(cart), nil
	case 1:
		return newMapper1(cart), nil
	case 2:
		return newMapper2(cart), nil
	case 3:
		return newMapper3(cart), nil
	case 4:
		return newMapper4(cart), nil
	case 9:
		return newMapper9(cart), nil
	default:
		return nil, ErrUnsupportedMapper
	}
}
