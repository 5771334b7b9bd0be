// Copyright (c) 2016-2023 The Decred developers.

// Package opencl manages one OpenCL hashing context per GPU: the
// command queue, the compiled cryptonight kernel pipeline and the
// device-resident buffers it runs against.
package opencl

import (
	"fmt"

	"github.com/jgillich/go-opencl/cl"
)

// Memory-hardness constants shared with the compiled kernels.  They are
// part of the wire contract between host buffer sizing and device code;
// a kernel built against different values is incompatible with this
// package.
const (
	// CryptonightMemory is the per-lane scratchpad footprint in bytes.
	CryptonightMemory = 2097152

	// CryptonightMask is the address mask applied to scratchpad indexing.
	CryptonightMask = 0x1FFFF0

	// CryptonightIter is the iteration count of the core mixing loop.
	CryptonightIter = 0x80000
)

const (
	// inputBufferSize is the fixed capacity of the device work buffer.
	// Work blobs are shorter; the remainder carries the terminator and
	// zero padding.
	inputBufferSize = 88

	// hashStateSize is the per-lane keccak state footprint.
	hashStateSize = 200

	// maxResults caps how many qualifying nonces one batch may report.
	// The result count lives in the last output buffer word.
	maxResults = 0xFF

	outputBufferSize = 4 * (maxResults + 1)

	// memoryReserve is global memory left to the driver and display
	// stack when validating an intensity against a device.
	memoryReserve = 128 * 1024 * 1024
)

// DeviceConfig carries the per-device tuning parameters.  Both are
// immutable once the context is created; re-tuning requires a new
// context.
type DeviceConfig struct {
	Index     int
	Intensity uint32
	WorkSize  uint32
}

// Context is the hashing context of a single device.  It owns the
// command queue, buffers, program and kernels it holds; the device
// handle itself belongs to the platform layer.  A context must only be
// driven by one goroutine at a time.
type Context struct {
	index        int
	rawIntensity uint32
	workSize     uint32

	device       *cl.Device
	deviceName   string
	freeMemory   uint64
	computeUnits int

	ctx     *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program

	input  *cl.MemObject
	output *cl.MemObject

	// The six scratch buffers of the pipeline: the memory-hard
	// scratchpads, the per-lane hash states and one branch buffer per
	// finalizer kernel.
	scratchpads   *cl.MemObject
	states        *cl.MemObject
	branchBlake   *cl.MemObject
	branchGroestl *cl.MemObject
	branchJH      *cl.MemObject
	branchSkein   *cl.MemObject

	// The seven pipeline kernels, in submission order.
	cn0     *cl.Kernel
	cn1     *cl.Kernel
	cn2     *cl.Kernel
	blake   *cl.Kernel
	groestl *cl.Kernel
	jh      *cl.Kernel
	skein   *cl.Kernel

	nonce   uint32
	target  uint64
	workLen int
	hasWork bool
}

// ScratchpadSize returns the device scratchpad allocation for an
// intensity.
func ScratchpadSize(intensity uint32) uint64 {
	return uint64(intensity) * CryptonightMemory
}

// requiredMemory returns the total device memory a context with the
// given intensity allocates.
func requiredMemory(intensity uint32) uint64 {
	branches := uint64(4) * 4 * uint64(intensity+2)
	return ScratchpadSize(intensity) +
		uint64(intensity)*hashStateSize +
		branches + outputBufferSize + inputBufferSize
}

// validateConfig checks an intensity/work-size pair against a device
// capability snapshot before anything is allocated.
func validateConfig(cfg DeviceConfig, freeMemory uint64, maxWorkGroupSize int) error {
	if cfg.Intensity == 0 {
		return fmt.Errorf("intensity must be positive")
	}
	if cfg.WorkSize == 0 {
		return fmt.Errorf("work size must be positive")
	}
	if cfg.Intensity%cfg.WorkSize != 0 {
		return fmt.Errorf("intensity %d is not a multiple of work size %d",
			cfg.Intensity, cfg.WorkSize)
	}
	if maxWorkGroupSize > 0 && int(cfg.WorkSize) > maxWorkGroupSize {
		return fmt.Errorf("work size %d exceeds device maximum %d",
			cfg.WorkSize, maxWorkGroupSize)
	}
	need := requiredMemory(cfg.Intensity)
	if freeMemory < memoryReserve || need > freeMemory-memoryReserve {
		return fmt.Errorf("intensity %d needs %d bytes, device has %d",
			cfg.Intensity, need, freeMemory)
	}
	return nil
}

// GetPlatforms returns the OpenCL platforms present on this host.
func GetPlatforms() ([]*cl.Platform, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("could not get CL platforms: %w", err)
	}
	return platforms, nil
}

// GetDevices returns the GPU devices of the given platform ordinal.
func GetDevices(platformIndex int) ([]*cl.Device, error) {
	platforms, err := GetPlatforms()
	if err != nil {
		return nil, err
	}
	if platformIndex < 0 || platformIndex >= len(platforms) {
		return nil, fmt.Errorf("platform index %d out of range (%d platforms)",
			platformIndex, len(platforms))
	}
	devices, err := platforms[platformIndex].GetDevices(cl.DeviceTypeGPU)
	if err != nil {
		return nil, fmt.Errorf("could not get CL devices for platform: %w", err)
	}
	return devices, nil
}

// ListDevices prints a list of devices present.
func ListDevices() error {
	platforms, err := GetPlatforms()
	if err != nil {
		return err
	}
	for p, platform := range platforms {
		devices, err := platform.GetDevices(cl.DeviceTypeGPU)
		if err != nil {
			return fmt.Errorf("could not get CL devices for platform: %w", err)
		}
		for i, device := range devices {
			fmt.Printf("PLATFORM #%d DEV #%d: %s (%d CU, %d MB)\n", p, i,
				device.Name(), device.MaxComputeUnits(),
				device.GlobalMemSize()/1024/1024)
		}
	}
	return nil
}

// InitDevices brings up one hashing context per config entry on the
// given platform.  A single device failing does not abort its siblings:
// the returned error slice parallels configs, with nil entries for the
// contexts that came up.  Failed entries have no context and hold no
// device resources.
func InitDevices(platformIndex int, configs []DeviceConfig, kernelSource string) ([]*Context, []error) {
	errs := make([]error, len(configs))

	devices, err := GetDevices(platformIndex)
	if err != nil {
		for i := range errs {
			errs[i] = err
		}
		return nil, errs
	}

	var contexts []*Context
	for i, cfg := range configs {
		if cfg.Index < 0 || cfg.Index >= len(devices) {
			errs[i] = fmt.Errorf("device index %d out of range (%d devices)",
				cfg.Index, len(devices))
			continue
		}
		ctx, err := NewContext(devices[cfg.Index], cfg, kernelSource)
		if err != nil {
			log.Errorf("DEV #%d failed to initialize: %v", cfg.Index, err)
			errs[i] = err
			continue
		}
		log.Infof("DEV #%d: %s initialized (intensity %d, work size %d)",
			cfg.Index, ctx.deviceName, cfg.Intensity, cfg.WorkSize)
		contexts = append(contexts, ctx)
	}
	return contexts, errs
}

// NewContext compiles the kernel pipeline and allocates the buffers for
// one device.  On any failure every resource acquired so far is
// released before the error is returned.
func NewContext(device *cl.Device, cfg DeviceConfig, kernelSource string) (c *Context, err error) {
	c = &Context{
		index:        cfg.Index,
		rawIntensity: cfg.Intensity,
		workSize:     cfg.WorkSize,
		device:       device,
		deviceName:   device.Name(),
		freeMemory:   uint64(device.GlobalMemSize()),
		computeUnits: device.MaxComputeUnits(),
	}
	defer func() {
		if err != nil {
			c.Release()
			c = nil
		}
	}()

	// Capability check happens before anything is acquired.
	if verr := validateConfig(cfg, c.freeMemory, device.MaxWorkGroupSize()); verr != nil {
		return nil, devErr(cfg.Index, ErrCapability, "validateConfig", verr)
	}

	c.ctx, err = cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, devErr(cfg.Index, ErrAlloc, "CreateContext", err)
	}

	c.program, err = c.ctx.CreateProgramWithSource([]string{kernelSource})
	if err != nil {
		return nil, devErr(cfg.Index, ErrCompile, "CreateProgramWithSource", err)
	}

	options := fmt.Sprintf("-DMEMORY=%d -DMASK=%d -DITERATIONS=%d -DWORKSIZE=%d",
		CryptonightMemory, CryptonightMask, CryptonightIter, cfg.WorkSize)
	if err = c.program.BuildProgram([]*cl.Device{device}, options); err != nil {
		// The build log rides along in the returned error.
		log.Errorf("DEV #%d: kernel build failed: %v", cfg.Index, err)
		return nil, devErr(cfg.Index, ErrCompile, "BuildProgram", err)
	}

	for _, k := range []struct {
		name string
		dst  **cl.Kernel
	}{
		{"cn0", &c.cn0},
		{"cn1", &c.cn1},
		{"cn2", &c.cn2},
		{"blake", &c.blake},
		{"groestl", &c.groestl},
		{"jh", &c.jh},
		{"skein", &c.skein},
	} {
		*k.dst, err = c.program.CreateKernel(k.name)
		if err != nil {
			return nil, devErr(cfg.Index, ErrCompile, "CreateKernel "+k.name, err)
		}
	}

	lanes := int(cfg.Intensity)
	branchSize := 4 * (lanes + 2)
	for _, b := range []struct {
		name  string
		flags cl.MemFlag
		size  int
		dst   **cl.MemObject
	}{
		{"input", cl.MemReadOnly, inputBufferSize, &c.input},
		{"scratchpads", cl.MemReadWrite, int(ScratchpadSize(cfg.Intensity)), &c.scratchpads},
		{"states", cl.MemReadWrite, lanes * hashStateSize, &c.states},
		{"branchBlake", cl.MemReadWrite, branchSize, &c.branchBlake},
		{"branchGroestl", cl.MemReadWrite, branchSize, &c.branchGroestl},
		{"branchJH", cl.MemReadWrite, branchSize, &c.branchJH},
		{"branchSkein", cl.MemReadWrite, branchSize, &c.branchSkein},
		{"output", cl.MemReadWrite, outputBufferSize, &c.output},
	} {
		*b.dst, err = c.ctx.CreateEmptyBuffer(b.flags, b.size)
		if err != nil {
			return nil, devErr(cfg.Index, ErrAlloc, "CreateEmptyBuffer "+b.name, err)
		}
	}

	c.queue, err = c.ctx.CreateCommandQueue(device, 0)
	if err != nil {
		return nil, devErr(cfg.Index, ErrAlloc, "CreateCommandQueue", err)
	}

	return c, nil
}

// Release frees every device resource the context owns.  It is safe to
// call on a partially initialized context.
func (c *Context) Release() {
	for _, k := range []*cl.Kernel{c.cn0, c.cn1, c.cn2, c.blake, c.groestl,
		c.jh, c.skein} {
		if k != nil {
			k.Release()
		}
	}
	for _, b := range []*cl.MemObject{c.input, c.output, c.scratchpads,
		c.states, c.branchBlake, c.branchGroestl, c.branchJH, c.branchSkein} {
		if b != nil {
			b.Release()
		}
	}
	if c.queue != nil {
		c.queue.Release()
	}
	if c.program != nil {
		c.program.Release()
	}
	if c.ctx != nil {
		c.ctx.Release()
	}
}

// Index returns the device ordinal this context targets.
func (c *Context) Index() int { return c.index }

// Name returns the device name.
func (c *Context) Name() string { return c.deviceName }

// Intensity returns the number of parallel lanes dispatched per run.
func (c *Context) Intensity() uint32 { return c.rawIntensity }

// WorkSize returns the local work-group size.
func (c *Context) WorkSize() uint32 { return c.workSize }

// FreeMemory returns the device global memory snapshot taken at
// initialization.
func (c *Context) FreeMemory() uint64 { return c.freeMemory }

// ComputeUnits returns the device compute-unit count snapshot.
func (c *Context) ComputeUnits() int { return c.computeUnits }
