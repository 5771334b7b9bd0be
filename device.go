// Copyright (c) 2016 The Decred developers.

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"ekyu.moe/cryptonight"

	"github.com/MrCyjaneK/go-cryptonight-miner/opencl"
	"github.com/MrCyjaneK/go-cryptonight-miner/stratum"
	"github.com/MrCyjaneK/go-cryptonight-miner/util"
	"github.com/MrCyjaneK/go-cryptonight-miner/work"
)

// Device drives a single OpenCL hashing context.  All device interaction
// happens on the goroutine running runDevice; the mutex only guards the
// share counters and current work read by the stats paths.
type Device struct {
	// The following variables must only be used atomically.
	totalHashes uint64

	sync.Mutex
	index      int
	ctx        *opencl.Context
	deviceName string

	work     work.Work
	newWork  chan *work.Work
	workDone chan stratum.Submit
	hasWork  bool

	started       uint32
	validShares   uint64
	invalidShares uint64
}

func NewDevice(ctx *opencl.Context, workDone chan stratum.Submit) *Device {
	return &Device{
		index:      ctx.Index(),
		ctx:        ctx,
		deviceName: ctx.Name(),
		newWork:    make(chan *work.Work, 5),
		workDone:   workDone,
		started:    uint32(time.Now().Unix()),
	}
}

// newMinerDevs enumerates the GPUs on the configured platform, applies the
// device restrictions and per-device tuning options, and brings up a hashing
// context for each enabled device.  Devices that fail to initialize or fail
// their self test are skipped so the healthy ones can still mine.
func newMinerDevs(workDone chan stratum.Submit) ([]*Device, error) {
	clDevices, err := opencl.GetDevices(cfg.PlatformIndex)
	if err != nil {
		return nil, err
	}

	kernelSource, err := os.ReadFile(cfg.Kernel)
	if err != nil {
		return nil, fmt.Errorf("could not read kernel source %v: %w",
			cfg.Kernel, err)
	}

	var configs []opencl.DeviceConfig
	order := 0
	for deviceListIndex := range clDevices {
		// Enforce device restrictions if they exist
		miningAllowed := len(cfg.DeviceIDs) == 0
		for _, i := range cfg.DeviceIDs {
			if deviceListIndex == i {
				miningAllowed = true
			}
		}
		if !miningAllowed {
			continue
		}

		workSize := defaultWorkSize
		if len(cfg.WorkSizeInts) > 0 {
			workSize = cfg.WorkSizeInts[0]
			if order < len(cfg.WorkSizeInts) {
				workSize = cfg.WorkSizeInts[order]
			}
		}

		intensity := defaultIntensity
		if len(cfg.IntensityInts) > 0 {
			intensity = cfg.IntensityInts[0]
			if order < len(cfg.IntensityInts) {
				intensity = cfg.IntensityInts[order]
			}
		}

		if len(cfg.AutocalibrateInts) > 0 {
			calibrateTime := cfg.AutocalibrateInts[0]
			if order < len(cfg.AutocalibrateInts) {
				calibrateTime = cfg.AutocalibrateInts[order]
			}

			calibrated, err := calcIntensityForMilliseconds(
				clDevices[deviceListIndex], deviceListIndex,
				uint32(workSize), string(kernelSource), calibrateTime)
			if err != nil {
				minrLog.Errorf("DEV #%d: autocalibration failed: %v",
					deviceListIndex, err)
			} else {
				minrLog.Infof("DEV #%d: autocalibration picked "+
					"intensity %v for a %v ms batch",
					deviceListIndex, calibrated, calibrateTime)
				intensity = int(calibrated)
			}
		}

		configs = append(configs, opencl.DeviceConfig{
			Index:     deviceListIndex,
			Intensity: uint32(intensity),
			WorkSize:  uint32(workSize),
		})
		order++
	}

	contexts, errs := opencl.InitDevices(cfg.PlatformIndex, configs,
		string(kernelSource))
	for i, err := range errs {
		if err != nil {
			minrLog.Errorf("DEV #%d: failed to initialize: %v",
				configs[i].Index, err)
		}
	}

	var devices []*Device
	for _, ctx := range contexts {
		if err := ctx.SelfTest(); err != nil {
			minrLog.Errorf("DEV #%d: failed self test: %v",
				ctx.Index(), err)
			ctx.Release()
			continue
		}
		devices = append(devices, NewDevice(ctx, workDone))
	}
	return devices, nil
}

// updateCurrentWork pulls new work off the device's work channel and primes
// the hashing context with it.  It blocks until work arrives when the device
// has none, so idle devices do not spin.
func (d *Device) updateCurrentWork(done <-chan struct{}) {
	var w *work.Work
	if d.hasWork {
		// If we already have work, we just need to check if there's new one
		// without blocking if there's not.
		select {
		case w = <-d.newWork:
		default:
			return
		}
	} else {
		// If we don't have work, we block until we do. We need to watch for
		// quit events too.
		select {
		case w = <-d.newWork:
		case <-done:
			return
		}
	}

	d.Lock()
	d.work = *w
	d.Unlock()
	minrLog.Tracef("DEV #%d: new job %q blob %v", d.index, w.JobID,
		hex.EncodeToString(w.Data))

	if err := d.ctx.SetWork(d.work.Data, d.work.Target); err != nil {
		minrLog.Errorf("DEV #%d: could not set work: %v", d.index, err)
		d.hasWork = false
		return
	}
	d.hasWork = true
}

func (d *Device) Run(ctx context.Context) {
	err := d.runDevice(ctx)
	if err != nil {
		minrLog.Errorf("Error on device: %v", err)
	}
}

func (d *Device) runDevice(ctx context.Context) error {
	minrLog.Infof("Started DEV #%d: %s", d.index, d.deviceName)

	for {
		d.updateCurrentWork(ctx.Done())

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !d.hasWork {
			continue
		}

		nonces, err := d.ctx.RunWork()
		if err != nil {
			var devErr *opencl.DeviceError
			if errors.As(err, &devErr) && !devErr.Terminal() {
				minrLog.Errorf("DEV #%d: batch failed, repriming "+
					"work: %v", d.index, err)
				// Push the device state back in sync with the
				// current job before trying again.
				d.hasWork = false
				d.SetWork(ctx, &d.work)
				continue
			}
			return err
		}

		atomic.AddUint64(&d.totalHashes, uint64(d.ctx.Intensity()))

		for i, nonce := range nonces {
			minrLog.Debugf("DEV #%d: Found candidate %v nonce %08x",
				d.index, i+1, nonce)
			d.foundCandidate(nonce)
		}
	}
}

// foundCandidate re-verifies a nonce the GPU flagged by hashing the share on
// the CPU and checking it against the job target.  Candidates that fail the
// check are hardware errors; candidates that pass are handed to the work
// submission goroutine.
func (d *Device) foundCandidate(nonce uint32) {
	d.Lock()
	defer d.Unlock()

	share := d.work.Copy()
	share.SetNonce(nonce)

	hash := cryptonight.Sum(share.Data, cfg.Variant)

	// Candidates that reach this logic and fail the target check are
	// considered to be hardware errors.
	if !work.HashMeetsTarget(hash, d.work.Target) {
		minrLog.Errorf("DEV #%d: Hardware error found, hash %x above "+
			"target %016x", d.index, hash, d.work.Target)
		d.invalidShares++
		return
	}

	d.validShares++

	if cfg.Benchmark {
		return
	}

	minrLog.Infof("DEV #%d: Found hash with work below target! %x (yay)",
		d.index, hash)
	d.workDone <- stratum.Submit{
		JobID: share.JobID,
		Nonce: nonce,
		Hash:  hash,
	}
}

func (d *Device) SetWork(ctx context.Context, w *work.Work) {
	select {
	case d.newWork <- w:
	case <-ctx.Done():
	}
}

func (d *Device) Release() {
	d.ctx.Release()
}

// Status returns the device's average hash rate along with its share
// counters.
func (d *Device) Status() (float64, uint64, uint64) {
	secondsElapsed := uint32(time.Now().Unix()) - d.started
	if secondsElapsed == 0 {
		return 0, 0, 0
	}

	d.Lock()
	defer d.Unlock()
	averageHashRate := float64(atomic.LoadUint64(&d.totalHashes)) /
		float64(secondsElapsed)
	return averageHashRate, d.validShares, d.invalidShares
}

func (d *Device) PrintStats() {
	averageHashRate, valid, invalid := d.Status()
	if averageHashRate == 0 {
		return
	}

	minrLog.Infof("DEV #%d (%s) reporting average hash rate %v, %v/%v valid work",
		d.index,
		d.deviceName,
		util.FormatHashRate(averageHashRate),
		valid,
		valid+invalid)
}
