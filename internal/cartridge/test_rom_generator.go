package cartridge

import (
	"fmt"
	"io"
)

// TestROMConfig describes a synthetic iNES ROM to generate for tests.
type TestROMConfig struct {
	PRGSize      uint8            // PRG ROM size in 16KB units
	CHRSize      uint8            // CHR ROM size in 8KB units (0 = CHR RAM)
	MapperID     uint8            // Mapper number
	Mirroring    MirrorMode       // Nametable mirroring
	HasBattery   bool             // Battery-backed SRAM
	HasTrainer   bool             // 512-byte trainer
	Instructions []uint8          // 6502 machine code placed at the start of PRG ROM
	InitialData  map[uint16]uint8 // Initial data at specific PRG ROM offsets
	ResetVector  uint16           // Reset vector address
	IRQVector    uint16           // IRQ vector address
	NMIVector    uint16           // NMI vector address
	CHRData      []uint8          // CHR ROM/RAM initial data
	TrainerData  []uint8          // Trainer data (if HasTrainer is true)
	Description  string           // Description of the test ROM
}

// TestROMBuilder provides a fluent interface for building test ROMs.
type TestROMBuilder struct {
	config TestROMConfig
}

// NewTestROMBuilder creates a new test ROM builder with default configuration.
func NewTestROMBuilder() *TestROMBuilder {
	return &TestROMBuilder{
		config: TestROMConfig{
			PRGSize:      1,
			CHRSize:      1,
			MapperID:     0,
			Mirroring:    MirrorHorizontal,
			Instructions: []uint8{},
			InitialData:  make(map[uint16]uint8),
			ResetVector:  0x8000,
			IRQVector:    0x8000,
			NMIVector:    0x8000,
			Description:  "Generated test ROM",
		},
	}
}

func (b *TestROMBuilder) WithPRGSize(size uint8) *TestROMBuilder {
	b.config.PRGSize = size
	return b
}

func (b *TestROMBuilder) WithCHRSize(size uint8) *TestROMBuilder {
	b.config.CHRSize = size
	return b
}

func (b *TestROMBuilder) WithCHRRAM() *TestROMBuilder {
	b.config.CHRSize = 0
	return b
}

func (b *TestROMBuilder) WithMapper(mapperID uint8) *TestROMBuilder {
	b.config.MapperID = mapperID
	return b
}

func (b *TestROMBuilder) WithMirroring(mirroring MirrorMode) *TestROMBuilder {
	b.config.Mirroring = mirroring
	return b
}

func (b *TestROMBuilder) WithBattery() *TestROMBuilder {
	b.config.HasBattery = true
	return b
}

func (b *TestROMBuilder) WithTrainer(data []uint8) *TestROMBuilder {
	b.config.HasTrainer = true
	if len(data) > 512 {
		data = data[:512]
	}
	b.config.TrainerData = make([]uint8, 512)
	copy(b.config.TrainerData, data)
	return b
}

func (b *TestROMBuilder) WithInstructions(instructions []uint8) *TestROMBuilder {
	b.config.Instructions = append([]uint8(nil), instructions...)
	return b
}

// WithData sets initial data at specific PRG ROM addresses (offsets from $8000).
func (b *TestROMBuilder) WithData(address uint16, data []uint8) *TestROMBuilder {
	for i, value := range data {
		b.config.InitialData[address+uint16(i)] = value
	}
	return b
}

func (b *TestROMBuilder) WithResetVector(address uint16) *TestROMBuilder {
	b.config.ResetVector = address
	return b
}

func (b *TestROMBuilder) WithIRQVector(address uint16) *TestROMBuilder {
	b.config.IRQVector = address
	return b
}

func (b *TestROMBuilder) WithNMIVector(address uint16) *TestROMBuilder {
	b.config.NMIVector = address
	return b
}

func (b *TestROMBuilder) WithCHRData(data []uint8) *TestROMBuilder {
	b.config.CHRData = append([]uint8(nil), data...)
	return b
}

func (b *TestROMBuilder) WithDescription(description string) *TestROMBuilder {
	b.config.Description = description
	return b
}

// Build generates the iNES-encoded ROM bytes for the current configuration.
func (b *TestROMBuilder) Build() ([]byte, error) {
	return GenerateTestROM(b.config)
}

// BuildCartridge generates the ROM and loads it as a Cartridge.
func (b *TestROMBuilder) BuildCartridge() (*Cartridge, error) {
	romData, err := b.Build()
	if err != nil {
		return nil, err
	}
	return LoadINES(romData)
}

// GenerateTestROM encodes an iNES file for the given configuration.
func GenerateTestROM(config TestROMConfig) ([]byte, error) {
	header, err := createINESHeader(config)
	if err != nil {
		return nil, fmt.Errorf("create iNES header: %w", err)
	}

	result := append([]byte{}, header...)

	if config.HasTrainer {
		trainer := make([]uint8, 512)
		copy(trainer, config.TrainerData)
		result = append(result, trainer...)
	}

	prgROM, err := createPRGROM(config)
	if err != nil {
		return nil, fmt.Errorf("create PRG ROM: %w", err)
	}
	result = append(result, prgROM...)

	if config.CHRSize > 0 {
		result = append(result, createCHRROM(config)...)
	}

	return result, nil
}

func createINESHeader(config TestROMConfig) ([]byte, error) {
	if config.PRGSize == 0 {
		return nil, fmt.Errorf("PRG ROM size cannot be zero")
	}

	header := make([]byte, 16)
	copy(header[0:4], "NES\x1A")
	header[4] = config.PRGSize
	header[5] = config.CHRSize

	flags6 := uint8(0)
	if config.Mirroring == MirrorVertical {
		flags6 |= flag6Mirror
	}
	if config.HasBattery {
		flags6 |= flag6Battery
	}
	if config.HasTrainer {
		flags6 |= flag6Trainer
	}
	if config.Mirroring == MirrorFourScreen {
		flags6 |= flag6FourScreen
	}
	flags6 |= (config.MapperID & 0x0F) << 4
	header[6] = flags6
	header[7] = config.MapperID & 0xF0

	return header, nil
}

func createPRGROM(config TestROMConfig) ([]byte, error) {
	size := int(config.PRGSize) * 16384
	prgROM := make([]byte, size)

	if len(config.Instructions) > 0 {
		if len(config.Instructions) > size {
			return nil, fmt.Errorf("instructions too large for PRG ROM")
		}
		copy(prgROM, config.Instructions)
	}

	for address, value := range config.InitialData {
		if int(address) < size {
			prgROM[address] = value
		}
	}

	vectorOffset := size - 6
	prgROM[vectorOffset] = uint8(config.NMIVector & 0xFF)
	prgROM[vectorOffset+1] = uint8(config.NMIVector >> 8)
	prgROM[vectorOffset+2] = uint8(config.ResetVector & 0xFF)
	prgROM[vectorOffset+3] = uint8(config.ResetVector >> 8)
	prgROM[vectorOffset+4] = uint8(config.IRQVector & 0xFF)
	prgROM[vectorOffset+5] = uint8(config.IRQVector >> 8)

	return prgROM, nil
}

func createCHRROM(config TestROMConfig) []byte {
	size := int(config.CHRSize) * 8192
	chrROM := make([]byte, size)
	if len(config.CHRData) > 0 {
		copySize := len(config.CHRData)
		if copySize > size {
			copySize = size
		}
		copy(chrROM, config.CHRData[:copySize])
	}
	return chrROM
}

// LoadTestROMAsCartridge builds and loads a test ROM configuration directly.
func LoadTestROMAsCartridge(config TestROMConfig) (*Cartridge, error) {
	romData, err := GenerateTestROM(config)
	if err != nil {
		return nil, err
	}
	return LoadINES(romData)
}

// SaveTestROM writes a generated test ROM to w, useful for debugging fixtures.
func SaveTestROM(w io.Writer, config TestROMConfig) error {
	romData, err := GenerateTestROM(config)
	if err != nil {
		return err
	}
	_, err = w.Write(romData)
	return err
}

// MockCartridge is a minimal CartridgeInterface implementation for
// bus-level tests that want direct control over PRG/CHR contents without
// going through the iNES header at all. addr 0 of the PRG array corresponds
// to $8000.
type MockCartridge struct {
	prg [0x8000]uint8
	chr [0x2000]uint8
}

// NewMockCartridge creates an empty mock cartridge mapped at $8000-$FFFF.
func NewMockCartridge() *MockCartridge {
	return &MockCartridge{}
}

// LoadPRG copies data into the cartridge's $8000-$FFFF PRG space.
func (m *MockCartridge) LoadPRG(data []uint8) {
	copy(m.prg[:], data)
}

// LoadCHR copies data into the cartridge's pattern table space.
func (m *MockCartridge) LoadCHR(data []uint8) {
	copy(m.chr[:], data)
}

func (m *MockCartridge) ReadPRG(address uint16) uint8 {
	if address < 0x8000 {
		return 0
	}
	return m.prg[address-0x8000]
}

func (m *MockCartridge) WritePRG(address uint16, value uint8) {
	if address >= 0x8000 {
		m.prg[address-0x8000] = value
	}
}

func (m *MockCartridge) ReadCHR(address uint16) uint8 {
	return m.chr[int(address)%len(m.chr)]
}

func (m *MockCartridge) WriteCHR(address uint16, value uint8) {
	m.chr[int(address)%len(m.chr)] = value
}
