// Package debug provides ancillary tracing and frame-dump utilities used
// alongside internal/cpu's TraceHook for diagnosing rendering issues.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FrameDumper writes frame buffer snapshots to disk for offline inspection.
type FrameDumper struct {
	outputDir    string
	dumpEnabled  bool
	frameCount   uint64
	maxDumps     int
	dumpInterval int // dump every N frames
	pixelFilter  func(x, y int, rgb uint32) bool
}

// NewFrameDumper creates a new frame dumper writing under outputDir.
func NewFrameDumper(outputDir string) *FrameDumper {
	return &FrameDumper{
		outputDir:    outputDir,
		dumpEnabled:  false,
		maxDumps:     10,
		dumpInterval: 1,
		pixelFilter:  nil,
	}
}

// Enable activates frame dumping, creating outputDir if needed.
func (fd *FrameDumper) Enable() {
	fd.dumpEnabled = true
	os.MkdirAll(fd.outputDir, 0755)
}

// Disable deactivates frame dumping.
func (fd *FrameDumper) Disable() {
	fd.dumpEnabled = false
}

// SetMaxDumps sets the maximum number of frames to dump before going silent.
func (fd *FrameDumper) SetMaxDumps(max int) {
	fd.maxDumps = max
}

// SetDumpInterval sets the interval between frame dumps.
func (fd *FrameDumper) SetDumpInterval(interval int) {
	fd.dumpInterval = interval
}

// SetPixelFilter restricts dumps to pixels for which filter returns true.
func (fd *FrameDumper) SetPixelFilter(filter func(x, y int, rgb uint32) bool) {
	fd.pixelFilter = filter
}

// DumpFrameBuffer writes a complete frame buffer to a text file as a grid
// of hex-encoded 0x00RRGGBB pixel values.
func (fd *FrameDumper) DumpFrameBuffer(frameBuffer [256 * 240]uint32, frameNum uint64) error {
	if !fd.dumpEnabled {
		return nil
	}
	if frameNum%uint64(fd.dumpInterval) != 0 {
		return nil
	}
	if fd.frameCount >= uint64(fd.maxDumps) {
		return nil
	}

	filename := fmt.Sprintf("frame_%06d_%s.txt", frameNum, time.Now().Format("150405"))
	filePath := filepath.Join(fd.outputDir, filename)

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create frame dump file: %v", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "Frame Buffer Dump\n")
	fmt.Fprintf(file, "Frame Number: %d\n", frameNum)
	fmt.Fprintf(file, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(file, "Dimensions: 256x240\n")
	fmt.Fprintf(file, "===================\n\n")

	for y := 0; y < 240; y++ {
		fmt.Fprintf(file, "Line %03d: ", y)
		for x := 0; x < 256; x++ {
			pixel := frameBuffer[y*256+x]
			if fd.pixelFilter != nil && !fd.pixelFilter(x, y, pixel) {
				continue
			}
			if x%16 == 0 && x > 0 {
				fmt.Fprintf(file, "\n          ")
			}
			fmt.Fprintf(file, "%06X ", pixel)
		}
		fmt.Fprintf(file, "\n")
	}

	fd.frameCount++
	return nil
}

// DumpFrameBufferRGB writes a frame buffer with a per-pixel RGB breakdown
// and a color frequency histogram, useful for spotting palette or emphasis
// bugs that a raw hex dump makes hard to see.
func (fd *FrameDumper) DumpFrameBufferRGB(frameBuffer [256 * 240]uint32, frameNum uint64) error {
	if !fd.dumpEnabled {
		return nil
	}

	filename := fmt.Sprintf("frame_rgb_%06d_%s.txt", frameNum, time.Now().Format("150405"))
	filePath := filepath.Join(fd.outputDir, filename)

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create RGB frame dump file: %v", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "Frame Buffer RGB Dump\n")
	fmt.Fprintf(file, "Frame Number: %d\n", frameNum)
	fmt.Fprintf(file, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(file, "Format: X,Y: RGB(r,g,b) #RRGGBB\n")
	fmt.Fprintf(file, "========================\n\n")

	colorFreq := make(map[uint32]int)

	for y := 0; y < 240; y++ {
		for x := 0; x < 256; x++ {
			pixel := frameBuffer[y*256+x]
			if fd.pixelFilter != nil && !fd.pixelFilter(x, y, pixel) {
				continue
			}

			r := (pixel >> 16) & 0xFF
			g := (pixel >> 8) & 0xFF
			b := pixel & 0xFF

			colorFreq[pixel]++

			if pixel != 0 || fd.pixelFilter != nil {
				fmt.Fprintf(file, "%3d,%3d: RGB(%3d,%3d,%3d) #%06X\n", x, y, r, g, b, pixel)
			}
		}
	}

	fmt.Fprintf(file, "\nColor Frequency Analysis:\n")
	fmt.Fprintf(file, "Color      | Count | Percentage\n")
	fmt.Fprintf(file, "-----------|-------|----------\n")

	totalPixels := 256 * 240
	for color, count := range colorFreq {
		percentage := float64(count) / float64(totalPixels) * 100
		r := (color >> 16) & 0xFF
		g := (color >> 8) & 0xFF
		b := color & 0xFF
		fmt.Fprintf(file, "#%06X | %5d | %6.2f%%  RGB(%3d,%3d,%3d)\n",
			color, count, percentage, r, g, b)
	}

	return nil
}

// CreateRegionFilter creates a filter restricted to a rectangular region.
func CreateRegionFilter(x1, y1, x2, y2 int) func(x, y int, rgb uint32) bool {
	return func(x, y int, rgb uint32) bool {
		return x >= x1 && x <= x2 && y >= y1 && y <= y2
	}
}

// CreateColorRangeFilter creates a filter restricted to a range of packed
// RGB values.
func CreateColorRangeFilter(minRGB, maxRGB uint32) func(x, y int, rgb uint32) bool {
	return func(x, y int, rgb uint32) bool {
		return rgb >= minRGB && rgb <= maxRGB
	}
}
