package bus

import (
	"testing"

	"nesgo/internal/cartridge"
)

// TestBlarggStatusProtocolSyntheticFixture exercises the blargg instr_test-v5
// $6000/$6004 status-byte protocol: a ROM writes a "running" marker (0x80)
// to $6000, then an ASCII message to $6004, then a terminal status byte
// (0x00 for pass) to $6000 once it's done. The real instr_test-v5 binaries
// are not present in this repository, so this builds a small synthetic ROM
// that speaks the same protocol rather than running the genuine test suite.
func TestBlarggStatusProtocolSyntheticFixture(t *testing.T) {
	const (
		statusAddr  = 0x6000
		messageAddr = 0x6004
		running     = 0x80
		pass        = 0x00
	)

	romBuilder := cartridge.NewTestROMBuilder().
		WithPRGSize(1).
		WithResetVector(0x8000).
		WithData(0x0000, []uint8{
			0xA9, running, // LDA #$80
			0x8D, 0x00, 0x60, // STA $6000      ; signal running

			0xA2, 0x00, // LDX #$00
			// copy loop: message,X -> $6004,X
			0xBD, 0x20, 0x80, // LDA $8020,X     (loop: offset 0x07)
			0x9D, 0x04, 0x60, // STA $6004,X
			0xE8,       // INX
			0xE0, 0x03, // CPX #$03
			0xD0, 0xF5, // BNE loop (offset 0x07)

			0xA9, pass, // LDA #$00
			0x8D, 0x00, 0x60, // STA $6000      ; signal pass

			0x4C, 0x17, 0x80, // JMP $8017 (halt: spin forever)
		}).
		WithData(0x0020, []uint8{'O', 'K', 0x00}). // message table
		WithDescription("synthetic blargg $6000/$6004 status protocol fixture")

	cart, err := romBuilder.BuildCartridge()
	if err != nil {
		t.Fatalf("failed to build synthetic fixture ROM: %v", err)
	}

	b := New()
	b.LoadCartridge(cart)
	b.Reset()

	// A real instr_test-v5 ROM is allowed up to 50,000,000 master ticks to
	// finish; this fixture does a handful of instructions and needs nowhere
	// near that, but the loop still bails out instead of spinning forever
	// if the protocol is ever broken by a future change.
	const maxMasterTicks = 50_000_000
	// PRG-RAM powers up zeroed, which already reads as pass, so the
	// terminal status only counts once the running marker has been seen.
	seenRunning := false
	for b.masterTicks < maxMasterTicks {
		s := b.Memory.Read(statusAddr)
		if s == running {
			seenRunning = true
		}
		if seenRunning && s == pass {
			break
		}
		b.Step()
	}

	status := b.Memory.Read(statusAddr)
	if status != pass {
		t.Fatalf("status byte at $6000 = 0x%02X after %d master ticks, want 0x%02X (pass)",
			status, b.masterTicks, pass)
	}

	wantMessage := "OK\x00"
	for i := 0; i < len(wantMessage); i++ {
		got := b.Memory.Read(messageAddr + uint16(i))
		if got != wantMessage[i] {
			t.Errorf("message byte %d at $%04X = 0x%02X, want 0x%02X",
				i, messageAddr+uint16(i), got, wantMessage[i])
		}
	}
}
