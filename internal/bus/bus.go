// Package bus implements the system bus for communication between NES components.
package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/golang/glog"

	"nesgo/internal/apu"
	"nesgo/internal/cartridge"
	"nesgo/internal/cpu"
	"nesgo/internal/input"
	"nesgo/internal/memory"
	"nesgo/internal/ppu"
)

// Bus connects all NES components together
type Bus struct {
	// Core components
	CPU    *cpu.CPU
	PPU    *ppu.PPU
	APU    *apu.APU
	Memory *memory.Memory
	Input  *input.InputState

	// System state
	totalCycles uint64
	cpuCycles   uint64
	ppuCycles   uint64
	frameCount  uint64

	// masterTicks counts PPU dots since reset: the master clock unit. The CPU
	// advances once every 3 ticks, reproducing the PPU:CPU 3:1 ratio at the
	// smallest common granularity. See Clock for why the APU stays locked to
	// the CPU's cadence instead of ticking on its own 2-tick schedule.
	masterTicks uint64
	nmiPending  bool

	// frameJustCompleted latches true for one Clock call when the PPU wraps
	// scanline 260 back to -1, driving AdvanceFrame.
	frameJustCompleted bool

	// breakpointHalted latches once Clock reports an armed breakpoint PC,
	// and gates further unforced Clock calls until a caller passes force.
	breakpointHalted bool

	// Frame timing (NTSC: 262 scanlines, 341 PPU cycles/scanline)
	cyclesPerFrame uint64 // 89342 PPU cycles = 29780.67 CPU cycles
	oddFrame       bool

	// Execution logging for testing
	executionLog   []BusExecutionEvent
	loggingEnabled bool

	// Memory monitoring for debugging
	memoryWatchpoints map[uint16]uint8 // Address -> previous value
	watchpointLogging bool
}

// New creates a new system bus with all components
func New() *Bus {
	bus := &Bus{
		PPU:   ppu.New(),
		APU:   apu.New(),
		Input: input.NewInputState(),

		// NTSC timing: 89342 PPU cycles per frame
		cyclesPerFrame: 89342,

		// Initialize memory monitoring
		memoryWatchpoints: make(map[uint16]uint8),
		watchpointLogging: false,
	}

	// Memory needs references to PPU and APU
	bus.Memory = memory.New(bus.PPU, bus.APU, nil) // Cartridge will be set later

	// Set up input system in memory
	bus.Memory.SetInputSystem(bus.Input)

	// CPU needs memory interface
	bus.CPU = cpu.New(bus.Memory)

	// Set up callbacks
	bus.PPU.SetNMICallback(bus.triggerNMI)
	bus.PPU.SetFrameCompleteCallback(bus.handleFrameComplete)
	bus.Memory.SetDMACallback(bus.TriggerOAMDMA)
	bus.APU.SetDMAReadCallback(bus.readDMCByte)

	// Reset all components to proper initial state
	bus.Reset()

	return bus
}

// Reset resets all components to their initial state
func (b *Bus) Reset() {
	b.CPU.Reset()
	b.PPU.Reset()
	b.APU.Reset()
	b.Input.Reset()

	// Reset timing state
	b.totalCycles = 0
	b.cpuCycles = 0
	b.ppuCycles = 0
	b.frameCount = 0
	b.masterTicks = 0
	b.nmiPending = false
	b.oddFrame = false

	// Synchronize PPU frame count with bus
	b.PPU.SetFrameCount(0)

	// Clear execution log
	b.executionLog = make([]BusExecutionEvent, 0)
	b.loggingEnabled = false

	// Initialize memory monitoring
	b.memoryWatchpoints = make(map[uint16]uint8)
	b.watchpointLogging = false
}

// triggerNMI is called by the PPU when an NMI should be triggered
func (b *Bus) triggerNMI() {
	b.nmiPending = true
}

// handleFrameComplete is called by the PPU when a frame is naturally completed
// (scanline wraps from 260 back to -1).
func (b *Bus) handleFrameComplete() {
	// Synchronize bus frame counter with PPU's frame counter
	b.frameCount = b.PPU.GetFrameCount()
	b.frameJustCompleted = true

	// Frame-synchronized input update (like ChibiNES/Fogleman NES)
	// This ensures input states are refreshed every frame for proper game sync
	if b.Input != nil {
		// The input states are maintained but this gives games a consistent
		// point to poll controller states, similar to real NES VBlank timing
		b.synchronizeInputStates()
	}

	// The PPU manages its own timing internally, we just track frame completion
	// Do NOT reset any cycle counters - they should be cumulative for timing accuracy
	// The PPU handles odd/even frame timing internally with proper cycle skipping
}

// synchronizeInputStates provides frame-synchronized input refreshing
func (b *Bus) synchronizeInputStates() {
	if b.frameCount%60 == 0 { // once per second at 60fps
		glog.V(2).Infof("frame %d: input synchronized", b.frameCount)
	}
}

// Clock advances the whole system by one master tick: one PPU dot. The PPU
// ticks every call; the CPU advances via cpu.Clock once every 3 ticks,
// reproducing the PPU:CPU 3:1 ratio at the smallest common granularity this
// bus models, and sees its own tick before any CPU-caused bus activity lands
// in the same group rather than after a whole instruction has already run.
//
// The APU is stepped in lockstep with the CPU tick rather than on its own
// 2-tick schedule: apu.go's frame-sequencer and channel timer constants are
// all expressed in units of "one Step call per CPU cycle," so decoupling the
// call cadence would mean rescaling every one of those tables for no
// audible benefit. The 1.5 PPU-ticks-per-APU-clock ratio instead lives in
// the per-channel divider math inside internal/apu. See DESIGN.md.
//
// If an earlier call reported an armed breakpoint PC, Clock(false) pauses
// (returns true without ticking) until called again with force=true.
func (b *Bus) Clock(force bool) bool {
	if b.breakpointHalted && !force {
		return true
	}
	b.breakpointHalted = false

	b.PPU.Step()
	b.ppuCycles++
	b.masterTicks++

	if b.masterTicks%3 != 0 {
		return false
	}

	if b.nmiPending {
		b.CPU.TriggerNMI()
		b.nmiPending = false
	}

	hit := b.CPU.Clock()
	b.APU.Step()
	b.cpuCycles++
	b.totalCycles++

	if hit {
		b.breakpointHalted = true
	}
	return hit
}

// clockOneCPUCycle runs exactly 3 master ticks: the PPU dots belonging to a
// single CPU cycle, plus the CPU/APU clocking on the third.
func (b *Bus) clockOneCPUCycle() bool {
	hit := false
	for {
		if b.Clock(true) {
			hit = true
		}
		if b.masterTicks%3 == 0 {
			break
		}
	}
	return hit
}

// AdvanceFrame runs Clock until the PPU completes a frame (scanline wraps
// from 260 back to -1) or an unforced call is stopped by an armed
// breakpoint. Returns true if a full frame was produced.
func (b *Bus) AdvanceFrame(force bool) bool {
	b.frameJustCompleted = false
	for !b.frameJustCompleted {
		if b.Clock(force) && !force {
			return false
		}
	}
	return true
}

// Step executes exactly one CPU instruction - including any interrupt
// servicing folded into its cycle count - and advances the PPU/APU through
// the same span of master ticks one tick at a time, rather than catching
// them up in a batch once the whole instruction has already retired.
func (b *Bus) Step() {
	// Capture pre-step state for logging
	preFrameCount := b.frameCount
	prePC := b.CPU.PC
	var preOpcode uint8
	if b.Memory != nil {
		preOpcode = b.Memory.Read(prePC)
	}
	if b.CPU.DMAStallPending() {
		// Drain exactly one stalled CPU cycle per call, so a caller looping
		// on IsDMAInProgress observes the transfer draining cycle by cycle.
		b.clockOneCPUCycle()
	} else {
		for {
			b.clockOneCPUCycle()
			// Stop once the instruction has fully retired, or as soon as it
			// triggers a DMA transfer mid-flight: the instruction's own
			// leftover cycles (if any) then drain alongside the DMA stall
			// over subsequent calls, exactly as a fresh DMA stall would.
			if b.CPU.InstructionBoundary() || b.CPU.DMAStallPending() {
				break
			}
		}
	}

	// Check memory watchpoints for changes (reduced frequency for better performance)
	if b.watchpointLogging && b.frameCount%300 == 0 { // Check every 5 seconds at 60fps
		b.CheckMemoryWatchpoints()
	}

	// Log execution if enabled. CPUCycles/PPUCycles are cumulative totals
	// since reset (not per-call deltas), matching the convention existing
	// integration tests read these logs with.
	if b.loggingEnabled {
		event := BusExecutionEvent{
			StepNumber:    len(b.executionLog) + 1,
			CPUCycles:     b.cpuCycles,
			PPUCycles:     b.cpuCycles * 3,
			FrameCount:    b.frameCount,
			DMAActive:     b.CPU.DMAStallPending(),
			NMIProcessed:  b.frameCount > preFrameCount, // Frame count increased
			PCValue:       prePC,
			InstructionOp: preOpcode,
		}
		b.executionLog = append(b.executionLog, event)
	}
}

// TriggerOAMDMA initiates an OAM DMA transfer
func (b *Bus) TriggerOAMDMA(sourcePage uint8) {
	if b.CPU.DMAStallPending() {
		return // DMA already in progress
	}

	b.CPU.TriggerOAMDMA(b.cpuCycles%2 == 1)

	// Perform the actual OAM transfer
	sourceAddress := uint16(sourcePage) << 8
	for i := 0; i < 256; i++ {
		data := b.Memory.Read(sourceAddress + uint16(i))
		b.PPU.WriteOAM(uint8(i), data)
	}
}

// readDMCByte services a DMC DMA request: it performs the CPU-side memory
// fetch on the APU's behalf and charges the stall cycles a real DMC DMA
// steals from the CPU (4 cycles, or 5 if it lands on a cycle already stolen
// by an in-flight OAM DMA).
func (b *Bus) readDMCByte(address uint16) uint8 {
	b.CPU.TriggerDMCDMA(b.CPU.DMAStallPending())
	return b.Memory.Read(address)
}

// Screen returns the current PPU frame buffer as packed RGBA bytes.
func (b *Bus) Screen() []byte {
	return b.PPU.FrameBuffer()
}

// AudioSamples returns the APU samples accumulated since the last drain.
func (b *Bus) AudioSamples() []float32 {
	return b.APU.GetSamples()
}

// ClearAudioSamples discards any buffered audio without returning it, used
// when a host resets its audio pipeline, e.g. right after loading a
// save-state.
func (b *Bus) ClearAudioSamples() {
	b.APU.GetSamples()
}

// SetBreakpoint arms a PC value that Clock reports once instruction fetch
// reaches it.
func (b *Bus) SetBreakpoint(pc uint16) {
	b.CPU.SetBreakpoint(pc)
}

// LoadCartridge loads a cartridge into the system
func (b *Bus) LoadCartridge(cart memory.CartridgeInterface) {
	// Update memory with cartridge
	b.Memory = memory.New(b.PPU, b.APU, cart)
	
	// Re-establish input system connection
	b.Memory.SetInputSystem(b.Input)
	
	b.CPU = cpu.New(b.Memory)

	// Create PPU memory with proper mirroring mode
	// We need to cast to check if the cartridge has mirroring info
	var mirrorMode memory.MirrorMode
	if cart, ok := cart.(*cartridge.Cartridge); ok {
		// Convert cartridge mirror mode to memory mirror mode
		switch cart.Mirroring() {
		case 0: // MirrorHorizontal
			mirrorMode = memory.MirrorHorizontal
		case 1: // MirrorVertical
			mirrorMode = memory.MirrorVertical
		case 2: // MirrorSingleScreen0
			mirrorMode = memory.MirrorSingleScreen0
		case 3: // MirrorSingleScreen1
			mirrorMode = memory.MirrorSingleScreen1
		case 4: // MirrorFourScreen
			mirrorMode = memory.MirrorFourScreen
		default:
			mirrorMode = memory.MirrorHorizontal // Default to horizontal
		}
	} else {
		mirrorMode = memory.MirrorHorizontal // Default to horizontal
	}

	// Create and set PPU memory
	ppuMemory := memory.NewPPUMemory(cart, mirrorMode)
	b.PPU.SetMemory(ppuMemory)

	// Re-establish callbacks after recreating memory and CPU
	b.PPU.SetNMICallback(b.triggerNMI)
	b.PPU.SetFrameCompleteCallback(b.handleFrameComplete)
	b.Memory.SetDMACallback(b.TriggerOAMDMA)

	// Reset the CPU to properly initialize PC from reset vector
	b.CPU.Reset()
}

// Run runs the emulator for a specified number of frames
func (b *Bus) Run(frames int) {
	targetFrames := b.frameCount + uint64(frames)

	// Run until we complete the target number of frames
	for b.frameCount < targetFrames {
		b.Step()
	}
}

// RunCycles runs the emulator for a specified number of CPU cycles
func (b *Bus) RunCycles(cycles uint64) {
	targetCycles := b.cpuCycles + cycles

	for b.cpuCycles < targetCycles {
		b.Step()
	}
}

// GetFrameRate returns the current frame rate based on NTSC timing
func (b *Bus) GetFrameRate() float64 {
	// NTSC: CPU frequency ~1.789773 MHz, 29780.67 CPU cycles per frame
	cpuFrequency := 1789773.0
	cpuCyclesPerFrame := cpuFrequency / 60.098803 // NTSC frame rate
	return cpuFrequency / cpuCyclesPerFrame
}

// GetFrameBuffer returns the current PPU frame buffer
func (b *Bus) GetFrameBuffer() []uint32 {
	frameBuffer := b.PPU.GetFrameBuffer()
	return frameBuffer[:]
}

// GetAudioSamples returns the current audio samples from the APU
func (b *Bus) GetAudioSamples() []float32 {
	return b.APU.GetSamples()
}

// SetAudioSampleRate sets the target audio sample rate for the APU
func (b *Bus) SetAudioSampleRate(rate int) {
	b.APU.SetSampleRate(rate)
}

// GetCycleCount returns the current CPU cycle count
func (b *Bus) GetCycleCount() uint64 {
	return b.cpuCycles
}

// GetFrameCount returns the current frame count
func (b *Bus) GetFrameCount() uint64 {
	return b.frameCount
}

// IsDMAInProgress returns whether DMA is currently in progress
func (b *Bus) IsDMAInProgress() bool {
	return b.CPU.DMAStallPending()
}

// isRenderingEnabled checks if PPU rendering is enabled. PPUMASK is
// write-only on real hardware, so this reads the PPU's decoded flag rather
// than issuing a bus read of $2001.
func (b *Bus) isRenderingEnabled() bool {
	return b.PPU.IsRenderingEnabled()
}

// SetControllerButton sets the state of a controller button
func (b *Bus) SetControllerButton(controller int, button input.Button, pressed bool) {
	switch controller {
	case 0, 1: // support both 0-based and 1-based indexing
		glog.V(3).Infof("controller %d button %d pressed=%t", controller, uint8(button), pressed)
		b.Input.Controller1.SetButton(button, pressed)
	case 2:
		glog.V(3).Infof("controller %d button %d pressed=%t", controller, uint8(button), pressed)
		b.Input.Controller2.SetButton(button, pressed)
	}
}

// SetControllerButtons sets all button states for a controller at once.
func (b *Bus) SetControllerButtons(controller int, buttons [8]bool) {
	switch controller {
	case 0, 1:
		b.Input.SetButtons1(buttons)
	case 2:
		b.Input.SetButtons2(buttons)
	}
}

// EnableInputDebug enables debug logging for input system
func (b *Bus) EnableInputDebug(enable bool) {
	b.Input.EnableDebug(enable)
}

// GetInputState returns the input state for direct access
func (b *Bus) GetInputState() *input.InputState {
	return b.Input
}

// Frame executes one complete frame, driven by the PPU's own scanline wrap
// rather than a fixed CPU-cycle count, so the odd-frame cycle-skip asymmetry
// surfaces naturally instead of being masked by a constant frame length.
func (b *Bus) Frame() {
	b.AdvanceFrame(true)
}

// GetExecutionLog returns execution log for integration testing
func (b *Bus) GetExecutionLog() []BusExecutionEvent {
	return b.executionLog
}

// EnableExecutionLogging enables execution logging for testing
func (b *Bus) EnableExecutionLogging() {
	b.loggingEnabled = true
}

// DisableExecutionLogging disables execution logging
func (b *Bus) DisableExecutionLogging() {
	b.loggingEnabled = false
}

// ClearExecutionLog clears the execution log
func (b *Bus) ClearExecutionLog() {
	b.executionLog = make([]BusExecutionEvent, 0)
}

// BusExecutionEvent represents a single execution step for testing
type BusExecutionEvent struct {
	StepNumber    int
	CPUCycles     uint64
	PPUCycles     uint64
	FrameCount    uint64
	DMAActive     bool
	NMIProcessed  bool
	PCValue       uint16
	InstructionOp uint8
}

// GetCPUState returns the current CPU state for testing
func (b *Bus) GetCPUState() CPUState {
	return CPUState{
		PC:     b.CPU.PC,
		A:      b.CPU.A,
		X:      b.CPU.X,
		Y:      b.CPU.Y,
		SP:     b.CPU.SP,
		Cycles: b.cpuCycles,
		Flags: CPUFlags{
			N: b.CPU.N,
			V: b.CPU.V,
			B: b.CPU.B,
			D: b.CPU.D,
			I: b.CPU.I,
			Z: b.CPU.Z,
			C: b.CPU.C,
		},
	}
}

// CPUState represents CPU state snapshot for testing
type CPUState struct {
	PC      uint16
	A, X, Y uint8
	SP      uint8
	Cycles  uint64
	Flags   CPUFlags
}

// CPUFlags represents CPU status flags for testing
type CPUFlags struct {
	N, V, B, D, I, Z, C bool
}

// GetPPUState returns the current PPU state for testing
func (b *Bus) GetPPUState() PPUState {
	// Simplified PPU state for testing
	scanline := int((b.ppuCycles % b.cyclesPerFrame) / 341)
	cycle := int((b.ppuCycles % b.cyclesPerFrame) % 341)

	return PPUState{
		Scanline:    scanline,
		Cycle:       cycle,
		FrameCount:  b.frameCount,
		VBlankFlag:  b.PPU.IsVBlank(),
		RenderingOn: b.isRenderingEnabled(),
		NMIEnabled:  true, // Would need to expose this from PPU
	}
}

// PPUState represents PPU state snapshot for testing
type PPUState struct {
	Scanline    int
	Cycle       int
	FrameCount  uint64
	VBlankFlag  bool
	RenderingOn bool
	NMIEnabled  bool
}

// AddMemoryWatchpoint adds a memory address to monitor for changes
func (b *Bus) AddMemoryWatchpoint(address uint16) {
	if b.Memory != nil {
		b.memoryWatchpoints[address] = b.Memory.Read(address)
	}
}

// EnableWatchpointLogging enables/disables memory watchpoint logging
func (b *Bus) EnableWatchpointLogging(enabled bool) {
	b.watchpointLogging = enabled
}

// SetupWatchpointRange adds a contiguous range of addresses as watchpoints,
// useful for monitoring a region such as zero page or a game's WRAM block.
func (b *Bus) SetupWatchpointRange(start, end uint16) {
	for addr := uint32(start); addr <= uint32(end); addr++ {
		b.AddMemoryWatchpoint(uint16(addr))
	}
	glog.V(1).Infof("watchpoints armed for $%04X-$%04X", start, end)
}

// CheckMemoryWatchpoints checks all watchpoints for changes and logs them
func (b *Bus) CheckMemoryWatchpoints() {
	if !b.watchpointLogging || b.Memory == nil {
		return
	}

	for address, previousValue := range b.memoryWatchpoints {
		currentValue := b.Memory.Read(address)
		if currentValue != previousValue {
			glog.V(2).Infof("frame %d: $%04X changed from $%02X to $%02X",
				b.frameCount, address, previousValue, currentValue)
			b.memoryWatchpoints[address] = currentValue
		}
	}
}

// CPU Debug Control Methods

// EnableCPUDebug enables/disables CPU debug logging and loop detection
func (b *Bus) EnableCPUDebug(enable bool) {
	if b.CPU != nil {
		b.CPU.EnableDebugLogging(enable)
		b.CPU.EnableLoopDetection(enable)
	}
}

// Save-state support

// State is the serializable snapshot of the whole console: CPU, PPU, the
// PPU's nametable/palette memory, CPU-visible RAM, and APU state. Gob only
// encodes exported fields, so each component exposes its own State mirror
// rather than being encoded directly.
//
// Cartridge/mapper state (bank registers, CHR-RAM banking, etc.) is
// deliberately excluded: mapper implementations are unexported types
// reached only through CartridgeInterface, with no serialization hook of
// their own. LoadState leaves a loaded cartridge's mapper at whatever
// banking it held when LoadState was called rather than attempting
// per-mapper-type persistence.
type State struct {
	CPU     cpu.State
	PPU     ppu.State
	RAM     [0x800]uint8
	VRAM    [0x1000]uint8
	Palette [32]uint8
	APU     apu.State
}

// State encodes a full snapshot of the console with encoding/gob.
func (b *Bus) State() ([]byte, error) {
	s := State{
		CPU: b.CPU.State(),
		PPU: b.PPU.State(),
		RAM: b.Memory.RAM(),
		APU: b.APU.State(),
	}
	if pm := b.PPU.Memory(); pm != nil {
		s.VRAM = pm.VRAM()
		s.Palette = pm.PaletteRAM()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("encode bus state: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadState restores a snapshot produced by State and clears buffered audio
// so the host doesn't play back samples generated before the jump.
func (b *Bus) LoadState(data []byte) error {
	var s State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode bus state: %w", err)
	}

	b.CPU.LoadState(s.CPU)
	b.PPU.LoadState(s.PPU)
	b.Memory.SetRAM(s.RAM)
	if pm := b.PPU.Memory(); pm != nil {
		pm.SetVRAM(s.VRAM)
		pm.SetPaletteRAM(s.Palette)
	}
	b.APU.LoadState(s.APU)
	b.ClearAudioSamples()
	return nil
}
