// Copyright (c) 2016 The Decred developers.

package main

import (
	"math"
	"time"

	"github.com/jgillich/go-opencl/cl"

	"github.com/MrCyjaneK/go-cryptonight-miner/opencl"
)

// getBatchExecutionTime measures how long a single hashing batch takes on a
// throwaway context built with the candidate intensity.
func getBatchExecutionTime(device *cl.Device, index int, intensity uint32,
	workSize uint32, kernelSource string) (time.Duration, error) {
	ctx, err := opencl.NewContext(device, opencl.DeviceConfig{
		Index:     index,
		Intensity: intensity,
		WorkSize:  workSize,
	}, kernelSource)
	if err != nil {
		return time.Duration(0), err
	}
	defer ctx.Release()

	// A blob of the right size and an unreachable target; no candidates
	// come back, so the batch time is pure hashing.
	blob := make([]byte, 76)
	for i := range blob {
		blob[i] = byte(i)
	}
	if err := ctx.SetWork(blob, 1); err != nil {
		return time.Duration(0), err
	}

	currentTime := time.Now()
	if _, err := ctx.RunWork(); err != nil {
		return time.Duration(0), err
	}

	elapsedTime := time.Since(currentTime)
	minrLog.Tracef("DEV #%d: Batch execution time at intensity %v for "+
		"calibration: %v", index, intensity, elapsedTime)

	return elapsedTime, nil
}

// calcIntensityForMilliseconds calculates the intensity that makes a single
// device batch take roughly the passed duration in milliseconds.  Intensity
// is fixed per hashing context, so each probe builds a fresh context.
func calcIntensityForMilliseconds(device *cl.Device, index int,
	workSize uint32, kernelSource string, ms int) (uint32, error) {
	intensity := uint32(1 << 10)
	timeToAchieve := time.Duration(ms) * time.Millisecond
	for {
		execTime, err := getBatchExecutionTime(device, index, intensity,
			workSize, kernelSource)
		if err != nil {
			return 0, err
		}

		// If we fail to go above the desired execution time, double
		// the intensity and try again.
		if execTime < timeToAchieve {
			intensity <<= 1
			continue
		}

		// We're passed the desired execution time, so now calculate
		// what the ideal intensity should be.
		adj := float64(intensity) * (float64(timeToAchieve) / float64(execTime))
		adj /= float64(workSize)
		adjMultiple := uint32(math.Ceil(adj))
		intensity = adjMultiple * workSize

		break
	}

	return intensity, nil
}
