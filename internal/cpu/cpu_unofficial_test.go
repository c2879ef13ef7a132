package cpu

import "testing"

// Unofficial opcodes and the per-cycle Clock() model.

func TestANCSetsCarryFromBit7(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.CPU.A = 0xFF
	helper.LoadProgram(0x8000, 0x0B, 0x80) // ANC #$80

	helper.CPU.Step()

	if helper.CPU.A != 0x80 {
		t.Errorf("expected A=0x80, got 0x%02X", helper.CPU.A)
	}
	if !helper.CPU.C {
		t.Errorf("expected C set when result bit 7 is set")
	}
	if !helper.CPU.N {
		t.Errorf("expected N set")
	}
}

func TestALRShiftsAfterAnd(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.CPU.A = 0x03
	helper.LoadProgram(0x8000, 0x4B, 0x03) // ALR #$03

	helper.CPU.Step()

	if helper.CPU.A != 0x01 {
		t.Errorf("expected A=0x01, got 0x%02X", helper.CPU.A)
	}
	if !helper.CPU.C {
		t.Errorf("expected C set from shifted-out bit 0")
	}
}

func TestARRRotatesRightWithCarryIn(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.CPU.A = 0xFF
	helper.CPU.C = true
	helper.LoadProgram(0x8000, 0x6B, 0xFF) // ARR #$FF

	helper.CPU.Step()

	if helper.CPU.A != 0xFF {
		t.Errorf("expected A=0xFF, got 0x%02X", helper.CPU.A)
	}
	if !helper.CPU.C {
		t.Errorf("expected C set from bit 6")
	}
}

func TestAXSSubtractsWithoutBorrow(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.CPU.A = 0xFF
	helper.CPU.X = 0x0F
	helper.LoadProgram(0x8000, 0xCB, 0x0A) // AXS #$0A

	helper.CPU.Step()

	if helper.CPU.X != 0x05 {
		t.Errorf("expected X=0x05, got 0x%02X", helper.CPU.X)
	}
	if !helper.CPU.C {
		t.Errorf("expected C set when (A&X) >= operand")
	}
}

func TestLASMasksWithStackPointer(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.CPU.SP = 0xFF
	helper.Memory.SetBytes(0x00A0, 0x3C)
	helper.LoadProgram(0x8000, 0xBB, 0xA0, 0x00) // LAS $00A0,Y

	helper.CPU.Step()

	if helper.CPU.A != 0x3C || helper.CPU.X != 0x3C || helper.CPU.SP != 0x3C {
		t.Errorf("expected A=X=SP=0x3C, got A=0x%02X X=0x%02X SP=0x%02X", helper.CPU.A, helper.CPU.X, helper.CPU.SP)
	}
}

func TestSTPHaltsCPU(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.LoadProgram(0x8000, 0x02, 0xEA) // STP, NOP

	helper.CPU.Step()
	if !helper.CPU.Halted() {
		t.Fatalf("expected CPU halted after STP")
	}

	pcAfterHalt := helper.CPU.PC
	cycles := helper.CPU.Step()
	if cycles != 0 {
		t.Errorf("expected halted Step to report 0 cycles, got %d", cycles)
	}
	if helper.CPU.PC != pcAfterHalt {
		t.Errorf("expected PC to stay at 0x%04X while halted, got 0x%04X", pcAfterHalt, helper.CPU.PC)
	}
}

// runResetBudget drains the 7-cycle countdown Reset() arms before the CPU
// fetches its first post-reset instruction.
func runResetBudget(cpu *CPU) {
	for i := 0; i < 7; i++ {
		cpu.Clock()
	}
}

func TestClockExecutesOneInstructionPerCycleBudget(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.LoadProgram(0x8000, 0xEA, 0xEA) // NOP, NOP
	runResetBudget(helper.CPU)

	// NOP takes 2 cycles: the first Clock() fetches and executes, the
	// second only counts down, and the third fetches the next NOP.
	if helper.CPU.Clock() {
		t.Fatalf("unexpected breakpoint hit")
	}
	if helper.CPU.PC != 0x8001 {
		t.Errorf("expected PC=0x8001 after first Clock, got 0x%04X", helper.CPU.PC)
	}
	helper.CPU.Clock()
	if helper.CPU.PC != 0x8001 {
		t.Errorf("expected PC unchanged during cycle countdown, got 0x%04X", helper.CPU.PC)
	}
	helper.CPU.Clock()
	if helper.CPU.PC != 0x8002 {
		t.Errorf("expected PC=0x8002 after third Clock, got 0x%04X", helper.CPU.PC)
	}
}

func TestClockReportsArmedBreakpoint(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.LoadProgram(0x8000, 0xEA, 0xEA)
	runResetBudget(helper.CPU)
	helper.CPU.SetBreakpoint(0x8001)

	hit := false
	for i := 0; i < 4 && !hit; i++ {
		hit = helper.CPU.Clock()
	}
	if !hit {
		t.Fatalf("expected breakpoint at 0x8001 to be reported")
	}
}

func TestTriggerOAMDMAStallsCPU(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.LoadProgram(0x8000, 0xEA)
	runResetBudget(helper.CPU)
	helper.CPU.TriggerOAMDMA(false)

	for i := 0; i < 512; i++ {
		helper.CPU.Clock()
		if helper.CPU.PC != 0x8000 {
			t.Fatalf("expected PC to stay parked during DMA stall, advanced early at cycle %d", i)
		}
	}
}

func TestDisassembleFormatsOperand(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.SetupResetVector(0x8000)
	helper.LoadProgram(0x8000, 0x4C, 0x34, 0x12) // JMP $1234

	line := helper.CPU.Disassemble(0x8000)
	want := "8000  4C 34 12  JMP $1234"
	if line != want {
		t.Errorf("expected %q, got %q", want, line)
	}
}

func TestResetYieldsPowerUpStatusByte(t *testing.T) {
	helper := NewCPUTestHelper()
	helper.Memory.SetBytes(0xFFFC, 0x00, 0x80)
	helper.CPU.Reset()

	if got := helper.CPU.GetStatusByte(); got != 0x24 {
		t.Errorf("expected status byte 0x24 after reset, got 0x%02X", got)
	}
}
