package debug

import (
	"bytes"
	"strings"
	"testing"

	"nesgo/internal/cpu"
)

// flatMemory is a trivial 64KB RAM used only to feed the CPU fixed opcode
// bytes for trace-format testing, independent of the bus/cartridge stack.
type flatMemory [0x10000]uint8

func (m *flatMemory) Read(address uint16) uint8         { return m[address] }
func (m *flatMemory) Write(address uint16, value uint8) { m[address] = value }

func TestTracerFormatsNestestStyleLine(t *testing.T) {
	mem := &flatMemory{}
	// JMP $C5F5 at $C000, matching nestest.log's opening line.
	mem[0xC000] = 0x4C
	mem[0xC001] = 0xF5
	mem[0xC002] = 0xC5

	c := cpu.New(mem)
	c.PC = 0xC000
	c.SP = 0xFD
	c.A, c.X, c.Y = 0, 0, 0
	c.I = true

	var buf bytes.Buffer
	tracer := NewTracer(c, &buf)
	c.Step()
	if err := tracer.Close(); err != nil {
		t.Fatalf("tracer close: %v", err)
	}

	line := strings.TrimRight(buf.String(), "\n")
	disasmField := line
	if idx := strings.Index(line, " A:"); idx >= 0 {
		disasmField = line[:idx]
	}

	if len(disasmField) != 31 {
		t.Fatalf("disassembly field length = %d, want 31 (line: %q)", len(disasmField), line)
	}
	if !strings.HasPrefix(line, "C000  4C F5 C5  JMP $C5F5") {
		t.Fatalf("unexpected disassembly prefix: %q", line)
	}
	if !strings.Contains(line, "A:00 X:00 Y:00") {
		t.Fatalf("missing register fields: %q", line)
	}
	if !strings.Contains(line, "SP:FD") {
		t.Fatalf("missing stack pointer field: %q", line)
	}
	if !strings.Contains(line, "CYC:0") {
		t.Fatalf("missing cycle field: %q", line)
	}
}
