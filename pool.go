// Copyright (c) 2016-2023 The Decred developers.

package main

import (
	"fmt"

	"github.com/MrCyjaneK/go-cryptonight-miner/stratum"
	"github.com/MrCyjaneK/go-cryptonight-miner/work"
)

// GetPoolWork gets work from a stratum enabled pool.
func GetPoolWork(pool *stratum.Stratum) (*work.Work, error) {
	// Get next work for stratum and mark it as used.
	if pool.PoolWork.NewWork {
		minrLog.Debug("Received new work from pool.")
		// Mark used.
		pool.PoolWork.NewWork = false

		if pool.PoolWork.JobID == "" {
			return nil, fmt.Errorf("no work available (no job id)")
		}

		err := pool.PrepWork()
		if err != nil {
			return nil, err
		}

		minrLog.Debugf("new job %q difficulty %v", pool.PoolWork.JobID,
			work.DiffFromTarget(pool.PoolWork.Work.Target))

		return pool.PoolWork.Work, nil
	}

	// Return the work we already had, do not recalculate
	if pool.PoolWork.Work != nil {
		return pool.PoolWork.Work, nil
	}

	return nil, fmt.Errorf("no work available")
}

// GetPoolWorkSubmit sends the result to the stratum enabled pool.
func GetPoolWorkSubmit(sub stratum.Submit, pool *stratum.Stratum) (bool, error) {
	err := pool.SubmitShare(sub)
	if err != nil {
		return false, err
	}
	return true, nil
}
