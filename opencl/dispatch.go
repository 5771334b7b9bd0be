// Copyright (c) 2016-2023 The Decred developers.

package opencl

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"

	"github.com/MrCyjaneK/go-cryptonight-miner/work"
)

var zeroWord = []uint32{0}

// StartNonce returns the beginning of the search space assigned to a
// device ordinal.  Devices partition the 32-bit nonce space by their
// index so a pool of devices never searches the same window twice for
// one work blob.
func StartNonce(index int) uint32 {
	return uint32(index) << 24
}

// nextWindow returns the nonce window the next run will search.
func (c *Context) nextWindow() (start, end uint32) {
	return c.nonce, c.nonce + c.rawIntensity
}

// advanceWindow moves the cursor past the window just searched.
func (c *Context) advanceWindow() {
	c.nonce += c.rawIntensity
}

// SetWork copies a work blob and target to the device, replacing any
// previous work, and resets the nonce cursor to this device's start of
// the search space.  The blob is validated before anything is
// transferred so a failure leaves the previous work intact.
func (c *Context) SetWork(blob []byte, target uint64) error {
	if len(blob) < work.NonceOffset+4 {
		return devErr(c.index, ErrTransfer, "SetWork",
			fmt.Errorf("work blob too short: %d bytes", len(blob)))
	}
	if len(blob) > work.MaxBlobSize {
		return devErr(c.index, ErrTransfer, "SetWork",
			fmt.Errorf("work blob of %d bytes exceeds maximum %d",
				len(blob), work.MaxBlobSize))
	}

	// Stage the blob into the fixed-size input layout: blob bytes, a
	// 0x01 terminator, zero padding.  The kernel relies on this exact
	// framing.
	var staged [inputBufferSize]byte
	copy(staged[:], blob)
	staged[len(blob)] = 0x01

	_, err := c.queue.EnqueueWriteBuffer(c.input, true, 0, inputBufferSize,
		unsafe.Pointer(&staged[0]), nil)
	if err != nil {
		return devErr(c.index, ErrTransfer, "EnqueueWriteBuffer input", err)
	}

	c.workLen = len(blob)
	c.target = target
	c.nonce = StartNonce(c.index)
	c.hasWork = true
	return nil
}

// setPipelineArgs binds the buffers, target and lane count to the seven
// kernels for one batch.
func (c *Context) setPipelineArgs() error {
	lanes := c.rawIntensity

	if err := c.cn0.SetArgs(c.input, c.scratchpads, c.states, lanes); err != nil {
		return devErr(c.index, ErrExec, "SetArgs cn0", err)
	}
	if err := c.cn1.SetArgs(c.scratchpads, c.states, lanes); err != nil {
		return devErr(c.index, ErrExec, "SetArgs cn1", err)
	}
	if err := c.cn2.SetArgs(c.scratchpads, c.states, c.branchBlake,
		c.branchGroestl, c.branchJH, c.branchSkein, lanes); err != nil {
		return devErr(c.index, ErrExec, "SetArgs cn2", err)
	}

	for _, f := range []struct {
		name   string
		kernel *cl.Kernel
		branch *cl.MemObject
	}{
		{"blake", c.blake, c.branchBlake},
		{"groestl", c.groestl, c.branchGroestl},
		{"jh", c.jh, c.branchJH},
		{"skein", c.skein, c.branchSkein},
	} {
		err := f.kernel.SetArgs(c.states, f.branch, c.output, c.target)
		if err != nil {
			return devErr(c.index, ErrExec, "SetArgs "+f.name, err)
		}
	}
	return nil
}

// RunWork submits one batch of the seven-stage pipeline over the nonce
// window [nonce, nonce+intensity), blocks until the device finishes and
// returns the qualifying nonces.  Successive calls without an
// intervening SetWork search disjoint, increasing windows.  After a
// failed run the nonce cursor is undefined; set work again before
// retrying.
func (c *Context) RunWork() ([]uint32, error) {
	if !c.hasWork {
		return nil, devErr(c.index, ErrExec, "RunWork",
			fmt.Errorf("no work loaded"))
	}

	start, _ := c.nextWindow()

	// Clear the result count and the four branch counters.
	zp := unsafe.Pointer(&zeroWord[0])
	_, err := c.queue.EnqueueWriteBuffer(c.output, false, 4*maxResults, 4, zp, nil)
	if err != nil {
		return nil, devErr(c.index, ErrExec, "EnqueueWriteBuffer output", err)
	}
	counterOffset := 4 * int(c.rawIntensity)
	for _, b := range []*cl.MemObject{c.branchBlake, c.branchGroestl,
		c.branchJH, c.branchSkein} {
		_, err = c.queue.EnqueueWriteBuffer(b, false, counterOffset, 4, zp, nil)
		if err != nil {
			return nil, devErr(c.index, ErrExec, "EnqueueWriteBuffer branch", err)
		}
	}

	if err := c.setPipelineArgs(); err != nil {
		return nil, err
	}

	// The global offset carries the window start so lanes derive their
	// nonce from their global id.
	offset := []int{int(start)}
	global := []int{int(c.rawIntensity)}
	local := []int{int(c.workSize)}
	for _, stage := range []struct {
		name   string
		kernel *cl.Kernel
	}{
		{"cn0", c.cn0},
		{"cn1", c.cn1},
		{"cn2", c.cn2},
	} {
		_, err = c.queue.EnqueueNDRangeKernel(stage.kernel, offset, global,
			local, nil)
		if err != nil {
			return nil, devErr(c.index, ErrExec, "EnqueueNDRangeKernel "+stage.name, err)
		}
	}

	// The finalizer each lane branched to is only known on the device,
	// so read the branch counters back before dispatching them.
	var counts [4]uint32
	for i, b := range []*cl.MemObject{c.branchBlake, c.branchGroestl,
		c.branchJH, c.branchSkein} {
		_, err = c.queue.EnqueueReadBuffer(b, true, counterOffset, 4,
			unsafe.Pointer(&counts[i]), nil)
		if err != nil {
			return nil, devErr(c.index, ErrExec, "EnqueueReadBuffer branch", err)
		}
	}

	for i, stage := range []struct {
		name   string
		kernel *cl.Kernel
	}{
		{"blake", c.blake},
		{"groestl", c.groestl},
		{"jh", c.jh},
		{"skein", c.skein},
	} {
		if counts[i] == 0 {
			continue
		}
		if err := stage.kernel.SetArg(4, counts[i]); err != nil {
			return nil, devErr(c.index, ErrExec, "SetArg "+stage.name, err)
		}
		rounded := roundUp(counts[i], c.workSize)
		_, err = c.queue.EnqueueNDRangeKernel(stage.kernel, nil,
			[]int{int(rounded)}, local, nil)
		if err != nil {
			return nil, devErr(c.index, ErrExec, "EnqueueNDRangeKernel "+stage.name, err)
		}
	}

	if err := c.queue.Finish(); err != nil {
		return nil, devErr(c.index, ErrExec, "Finish", err)
	}

	var results [maxResults + 1]uint32
	_, err = c.queue.EnqueueReadBuffer(c.output, true, 0, outputBufferSize,
		unsafe.Pointer(&results[0]), nil)
	if err != nil {
		return nil, devErr(c.index, ErrExec, "EnqueueReadBuffer output", err)
	}

	c.advanceWindow()

	count := results[maxResults]
	if count > maxResults {
		count = maxResults
	}
	nonces := make([]uint32, count)
	copy(nonces, results[:count])
	log.Tracef("DEV #%d: window [%08x, %08x) found %d", c.index, start,
		start+c.rawIntensity, count)
	return nonces, nil
}

func roundUp(v, multiple uint32) uint32 {
	return (v + multiple - 1) / multiple * multiple
}

// readInputBuffer reads back the staged work bytes from device memory.
// Used by the self test to prove the transfer path round-trips.
func (c *Context) readInputBuffer() ([]byte, error) {
	var staged [inputBufferSize]byte
	_, err := c.queue.EnqueueReadBuffer(c.input, true, 0, inputBufferSize,
		unsafe.Pointer(&staged[0]), nil)
	if err != nil {
		return nil, devErr(c.index, ErrTransfer, "EnqueueReadBuffer input", err)
	}
	return staged[:c.workLen], nil
}

// SelfTest runs a fixed work blob with a pass-everything target through
// the pipeline and verifies the buffer wiring: the input round-trips
// byte for byte and results are distinct nonces inside the searched
// window.  Lanes report through atomic counters, so result order is not
// checked.  The context must be given real work afterwards before
// mining.
func (c *Context) SelfTest() error {
	blob := make([]byte, 76)
	for i := range blob {
		blob[i] = byte(i * 7)
	}

	const allPass = ^uint64(0)
	if err := c.SetWork(blob, allPass); err != nil {
		return err
	}
	// SelfTest work never produces submittable results.
	defer func() { c.hasWork = false }()

	echoed, err := c.readInputBuffer()
	if err != nil {
		return err
	}
	if !bytes.Equal(echoed, blob) {
		return devErr(c.index, ErrTransfer, "SelfTest",
			fmt.Errorf("input buffer mismatch: wrote %x, read %x", blob, echoed))
	}

	start, end := c.nextWindow()
	nonces, err := c.RunWork()
	if err != nil {
		return err
	}
	if len(nonces) == 0 {
		return devErr(c.index, ErrExec, "SelfTest",
			fmt.Errorf("no results with pass-everything target"))
	}
	seen := make(map[uint32]bool, len(nonces))
	for _, n := range nonces {
		if n < start || n >= end {
			return devErr(c.index, ErrExec, "SelfTest",
				fmt.Errorf("nonce %08x outside window [%08x, %08x)", n, start, end))
		}
		if seen[n] {
			return devErr(c.index, ErrExec, "SelfTest",
				fmt.Errorf("duplicate nonce %08x reported", n))
		}
		seen[n] = true
	}
	log.Debugf("DEV #%d: self test passed (%d lanes reported)", c.index,
		len(nonces))
	return nil
}
