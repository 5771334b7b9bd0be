package opencl

import (
	"errors"
	"strings"
	"testing"
)

func TestScratchpadSize(t *testing.T) {
	tests := []struct {
		name      string
		intensity uint32
		want      uint64
	}{
		{"one lane", 1, CryptonightMemory},
		{"typical", 1000, 1000 * CryptonightMemory},
		{"large", 2048, 2048 * CryptonightMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScratchpadSize(tt.intensity); got != tt.want {
				t.Errorf("ScratchpadSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	const eightGB = 8 * 1024 * 1024 * 1024

	tests := []struct {
		name         string
		cfg          DeviceConfig
		freeMemory   uint64
		maxWorkGroup int
		wantErr      string
	}{
		{
			"valid",
			DeviceConfig{Intensity: 1000, WorkSize: 8},
			eightGB, 256,
			"",
		},
		{
			"zero intensity",
			DeviceConfig{Intensity: 0, WorkSize: 8},
			eightGB, 256,
			"intensity must be positive",
		},
		{
			"zero work size",
			DeviceConfig{Intensity: 1000, WorkSize: 0},
			eightGB, 256,
			"work size must be positive",
		},
		{
			"unaligned",
			DeviceConfig{Intensity: 1001, WorkSize: 8},
			eightGB, 256,
			"not a multiple",
		},
		{
			"work group too large",
			DeviceConfig{Intensity: 1024, WorkSize: 512},
			eightGB, 256,
			"exceeds device maximum",
		},
		{
			"not enough memory",
			DeviceConfig{Intensity: 4096, WorkSize: 8},
			4 * 1024 * 1024 * 1024, 256,
			"needs",
		},
		{
			"tiny device",
			DeviceConfig{Intensity: 8, WorkSize: 8},
			64 * 1024 * 1024, 256,
			"needs",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.cfg, tt.freeMemory, tt.maxWorkGroup)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validateConfig() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("validateConfig() error = %v, want containing %q",
					err, tt.wantErr)
			}
		})
	}
}

func TestRequiredMemoryDominatedByScratchpads(t *testing.T) {
	const intensity = 1000
	need := requiredMemory(intensity)
	if need < ScratchpadSize(intensity) {
		t.Fatalf("requiredMemory() = %d, below scratchpad size %d", need,
			ScratchpadSize(intensity))
	}
	// Everything besides the scratchpads is comparatively small.
	if need-ScratchpadSize(intensity) > intensity*(hashStateSize+64)+outputBufferSize+inputBufferSize {
		t.Fatalf("requiredMemory() overhead unexpectedly large: %d",
			need-ScratchpadSize(intensity))
	}
}

func TestStartNonce(t *testing.T) {
	seen := make(map[uint32]bool)
	for index := 0; index < 8; index++ {
		start := StartNonce(index)
		if seen[start] {
			t.Fatalf("StartNonce(%d) = %08x collides", index, start)
		}
		seen[start] = true
	}
	if StartNonce(0) != 0 {
		t.Errorf("StartNonce(0) = %08x, want 0", StartNonce(0))
	}
	if StartNonce(3) != 0x03000000 {
		t.Errorf("StartNonce(3) = %08x, want 03000000", StartNonce(3))
	}
}

func TestWindowAdvancement(t *testing.T) {
	c := &Context{rawIntensity: 1024, nonce: StartNonce(2)}

	// Two successive windows must be disjoint, adjacent and increasing.
	s1, e1 := c.nextWindow()
	c.advanceWindow()
	s2, e2 := c.nextWindow()

	if e1-s1 != 1024 || e2-s2 != 1024 {
		t.Fatalf("window sizes %d, %d, want 1024", e1-s1, e2-s2)
	}
	if s2 != e1 {
		t.Fatalf("second window starts at %08x, want %08x", s2, e1)
	}
	if s1 != StartNonce(2) {
		t.Fatalf("first window starts at %08x, want %08x", s1, StartNonce(2))
	}
}

func TestSetWorkValidatesBeforeTransfer(t *testing.T) {
	// A zero-value context has no queue; reaching the device would
	// panic, so these prove validation happens first and prior state is
	// untouched.
	c := &Context{index: 1, workLen: 76, target: 42, hasWork: true, nonce: 7}

	if err := c.SetWork(make([]byte, 8), 1); err == nil {
		t.Fatal("SetWork() accepted a short blob")
	}
	if err := c.SetWork(make([]byte, 85), 1); err == nil {
		t.Fatal("SetWork() accepted an oversized blob")
	}

	if c.workLen != 76 || c.target != 42 || !c.hasWork || c.nonce != 7 {
		t.Fatal("failed SetWork() mutated previously loaded work")
	}
}

func TestRunWorkRequiresWork(t *testing.T) {
	c := &Context{index: 0}
	_, err := c.RunWork()
	var derr *DeviceError
	if !errors.As(err, &derr) {
		t.Fatalf("RunWork() error = %v, want *DeviceError", err)
	}
	if derr.Kind != ErrExec {
		t.Errorf("RunWork() kind = %v, want exec", derr.Kind)
	}
}

func TestRoundUp(t *testing.T) {
	tests := []struct {
		v, multiple, want uint32
	}{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{250, 64, 256},
	}
	for _, tt := range tests {
		if got := roundUp(tt.v, tt.multiple); got != tt.want {
			t.Errorf("roundUp(%d, %d) = %d, want %d", tt.v, tt.multiple, got,
				tt.want)
		}
	}
}
