package apu

import "testing"

func TestPulseLengthCounterLoadsFromTable(t *testing.T) {
	a := New()
	a.WriteRegister(0x4000, 0x30) // constant volume, volume 0
	a.WriteRegister(0x4003, 0x08) // length index 1 -> lengthTable[1] == 254

	if a.pulse1.lengthCounter != 254 {
		t.Fatalf("expected length counter 254, got %d", a.pulse1.lengthCounter)
	}
}

func TestChannelEnableGatesLengthCounter(t *testing.T) {
	a := New()
	a.WriteRegister(0x4003, 0x08) // loads a nonzero length counter
	if a.pulse1.lengthCounter == 0 {
		t.Fatal("expected nonzero length counter before enable check")
	}

	a.writeChannelEnable(0x00) // disable all channels
	if a.pulse1.lengthCounter != 0 {
		t.Fatalf("expected length counter cleared when channel disabled, got %d", a.pulse1.lengthCounter)
	}
}

func TestStatusReflectsLengthCounters(t *testing.T) {
	a := New()
	a.writeChannelEnable(0x1F) // enable all 5 channels
	a.WriteRegister(0x4003, 0x08)

	status := a.ReadStatus()
	if status&0x01 == 0 {
		t.Error("expected pulse1 length-active bit set")
	}
}

func TestFrameCounterRaisesIRQInFourStepMode(t *testing.T) {
	a := New()
	a.writeFrameCounter(0x00) // 4-step mode, IRQ enabled

	for i := 0; i < 29830; i++ {
		a.stepFrameCounter()
	}

	if !a.frameIRQFlag {
		t.Fatal("expected frame IRQ flag set after a full 4-step sequence")
	}
}

func TestFrameCounterSuppressesIRQWhenDisabled(t *testing.T) {
	a := New()
	a.writeFrameCounter(0x40) // 4-step mode, IRQ disabled

	for i := 0; i < 29830; i++ {
		a.stepFrameCounter()
	}

	if a.frameIRQFlag {
		t.Fatal("expected no frame IRQ when IRQ disabled")
	}
}

func TestFiveStepModeClocksImmediately(t *testing.T) {
	a := New()
	a.WriteRegister(0x4003, 0x08) // load a length counter
	before := a.pulse1.lengthCounter

	a.writeFrameCounter(0x80) // 5-step mode clocks length/sweep immediately

	if a.pulse1.lengthCounter != before-1 {
		t.Fatalf("expected immediate length clock on 5-step mode write, got %d want %d", a.pulse1.lengthCounter, before-1)
	}
}

func TestGenerateSampleEmitsAtTargetRate(t *testing.T) {
	a := New()
	a.SetSampleRate(44100)

	emitted := 0
	for i := 0; i < int(a.cpuFrequency); i++ {
		before := len(a.sampleBuffer)
		a.generateSample()
		if len(a.sampleBuffer) > before {
			emitted++
		}
	}

	// One CPU-frequency's worth of ticks should emit roughly sampleRate samples.
	if emitted < 44000 || emitted > 44200 {
		t.Fatalf("expected ~44100 samples emitted over one second of ticks, got %d", emitted)
	}
}

func TestGetSamplesDrainsBuffer(t *testing.T) {
	a := New()
	a.sampleBuffer = append(a.sampleBuffer, 0.5, -0.5)

	samples := a.GetSamples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 drained samples, got %d", len(samples))
	}
	if len(a.sampleBuffer) != 0 {
		t.Fatal("expected sample buffer cleared after GetSamples")
	}
}

func TestDMCRequestsByteOneClockAfterBufferEmpties(t *testing.T) {
	a := New()

	var requested []uint16
	a.SetDMAReadCallback(func(address uint16) uint8 {
		requested = append(requested, address)
		return 0xAA
	})

	a.WriteRegister(0x4012, 0x00) // sample address $C000
	a.WriteRegister(0x4013, 0x00) // sample length 1 byte
	a.writeChannelEnable(0x10)    // enable DMC, starts playback

	if a.dmc.bytesRemaining == 0 {
		t.Fatal("expected DMC playback to start with a nonzero byte count")
	}

	// Advance the DMC timer enough times to empty the buffer and then
	// service the resulting DMA request on the following clock.
	for i := 0; i < 2*int(dmcRateTable[0])+2; i++ {
		a.stepDMCTimer(&a.dmc)
	}

	if len(requested) == 0 {
		t.Fatal("expected DMA read callback to have been invoked")
	}
	if requested[0] != 0xC000 {
		t.Fatalf("expected DMA read from $C000, got $%04X", requested[0])
	}
}

func TestDMCSetsIRQAtSampleEndWithoutLoop(t *testing.T) {
	a := New()
	a.SetDMAReadCallback(func(address uint16) uint8 { return 0 })

	a.WriteRegister(0x4010, 0x80) // IRQ enabled, no loop
	a.WriteRegister(0x4012, 0x00)
	a.WriteRegister(0x4013, 0x00) // 1-byte sample
	a.writeChannelEnable(0x10)

	for i := 0; i < 2*int(dmcRateTable[0])+2; i++ {
		a.stepDMCTimer(&a.dmc)
	}

	if !a.GetDMCIRQ() {
		t.Fatal("expected DMC IRQ flag set after a non-looping sample finishes")
	}
}

func TestDMCLoopsSampleWhenLoopFlagSet(t *testing.T) {
	a := New()
	a.SetDMAReadCallback(func(address uint16) uint8 { return 0 })

	a.WriteRegister(0x4010, 0x40) // loop enabled, no IRQ
	a.WriteRegister(0x4012, 0x00)
	a.WriteRegister(0x4013, 0x00)
	a.writeChannelEnable(0x10)

	for i := 0; i < 2*int(dmcRateTable[0])+2; i++ {
		a.stepDMCTimer(&a.dmc)
	}

	if a.dmc.bytesRemaining == 0 {
		t.Fatal("expected looping DMC sample to restart playback")
	}
	if a.GetDMCIRQ() {
		t.Fatal("expected no IRQ when looping")
	}
}
