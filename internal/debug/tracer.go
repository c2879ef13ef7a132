package debug

import (
	"bufio"
	"fmt"
	"io"

	"nesgo/internal/cpu"
)

// Tracer renders one nestest-compatible log line per fetched instruction by
// subscribing to internal/cpu's TraceHook, so the CPU package never imports
// a logging dependency of its own.
type Tracer struct {
	cpu *cpu.CPU
	w   *bufio.Writer
}

// NewTracer attaches a Tracer to c, writing formatted lines to w. Call
// Close to flush buffered output.
func NewTracer(c *cpu.CPU, w io.Writer) *Tracer {
	t := &Tracer{cpu: c, w: bufio.NewWriter(w)}
	c.TraceHook = t.onFetch
	return t
}

// Close detaches the tracer from its CPU and flushes any buffered lines.
func (t *Tracer) Close() error {
	t.cpu.TraceHook = nil
	return t.w.Flush()
}

// onFetch formats a single trace line: the disassembly field padded to 31
// characters, as nestest.log does, followed by register and cycle state.
func (t *Tracer) onFetch(s cpu.Snapshot) {
	disasm := t.cpu.Disassemble(s.PC)
	fmt.Fprintf(t.w, "%-31s A:%02X X:%02X Y:%02X P:%02X SP:%02X CYC:%d\n",
		disasm, s.A, s.X, s.Y, s.P, s.SP, s.Cycles)
}
