// Copyright (c) 2016-2023 The Decred developers.

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrCyjaneK/go-cryptonight-miner/stratum"
	"github.com/MrCyjaneK/go-cryptonight-miner/work"
)

type Miner struct {
	// The following variables must only be used atomically.
	validShares   uint64
	staleShares   uint64
	invalidShares uint64

	started          uint32
	devices          []*Device
	workDone         chan stratum.Submit
	needsWorkRefresh chan struct{}
	wg               sync.WaitGroup
	pool             *stratum.Stratum
}

func newStratum(devices []*Device) (*Miner, error) {
	s, err := stratum.StratumConn(cfg.Pool, cfg.PoolUser, cfg.PoolPassword,
		cfg.Proxy, cfg.ProxyUser, cfg.ProxyPass, userAgent())
	if err != nil {
		return nil, err
	}
	m := &Miner{
		devices:          devices,
		pool:             s,
		needsWorkRefresh: make(chan struct{}),
	}
	return m, nil
}

func NewMiner() (*Miner, error) {
	workDone := make(chan stratum.Submit, 10)

	devices, err := newMinerDevs(workDone)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices started")
	}

	var m *Miner
	if cfg.Benchmark {
		m = &Miner{
			devices:          devices,
			needsWorkRefresh: make(chan struct{}),
		}
	} else {
		m, err = newStratum(devices)
		if err != nil {
			return nil, err
		}
	}

	m.workDone = workDone
	m.started = uint32(time.Now().Unix())

	return m, nil
}

func (m *Miner) workSubmitThread(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-m.workDone:
			submitted, err := GetPoolWorkSubmit(sub, m.pool)
			if err != nil {
				switch {
				case errors.Is(err, stratum.ErrStratumStaleWork):
					atomic.AddUint64(&m.staleShares, 1)
					minrLog.Debugf("Share submitted to pool was stale")

				default:
					atomic.AddUint64(&m.invalidShares, 1)
					minrLog.Errorf("Error submitting work to pool: %v", err)
				}
			} else {
				if submitted {
					minrLog.Debugf("Submitted work to pool successfully: %v",
						submitted)
				}

				select {
				case m.needsWorkRefresh <- struct{}{}:
				case <-ctx.Done():
				}
			}
		}
	}
}

func (m *Miner) workRefreshThread(ctx context.Context) {
	defer m.wg.Done()

	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	for {
		m.pool.Lock()
		if m.pool.PoolWork.NewWork {
			work, err := GetPoolWork(m.pool)
			m.pool.Unlock()
			if err != nil {
				minrLog.Errorf("Error in getpoolwork: %v", err)
			} else {
				for _, d := range m.devices {
					d.SetWork(ctx, work)
				}
			}
		} else {
			m.pool.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-m.needsWorkRefresh:
		}
	}
}

func (m *Miner) printStatsThread(ctx context.Context) {
	defer m.wg.Done()

	t := time.NewTicker(time.Second * 5)
	defer t.Stop()

	for {
		if !cfg.Benchmark {
			valid, rejected, stale, total, utility := m.Status()

			minrLog.Infof("Global stats: Accepted: %v, Rejected: %v, Stale: %v, Total: %v",
				valid,
				rejected,
				stale,
				total,
			)
			secondsElapsed := uint32(time.Now().Unix()) - m.started
			if (secondsElapsed / 60) > 0 {
				minrLog.Infof("Global utility (accepted shares/min): %v", utility)
			}
		}

		for _, d := range m.devices {
			d.PrintStats()
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-m.needsWorkRefresh:
		}
	}
}

// benchmarkWork returns a synthetic job used when no pool is configured.  The
// near-impossible target keeps candidate verification rare so the devices
// spend their time hashing.
func benchmarkWork() (*work.Work, error) {
	blob := make([]byte, 76)
	for i := range blob {
		blob[i] = byte(i)
	}
	return work.New(blob, 1, "benchmark", uint32(time.Now().Unix()))
}

func (m *Miner) Run(ctx context.Context) {
	m.wg.Add(len(m.devices))

	for _, d := range m.devices {
		device := d
		go func() {
			device.Run(ctx)
			device.Release()
			m.wg.Done()
		}()
	}

	if cfg.Benchmark {
		minrLog.Warn("Running in BENCHMARK mode! No real mining taking place!")
		w, err := benchmarkWork()
		if err != nil {
			minrLog.Errorf("Error building benchmark work: %v", err)
			return
		}
		for _, d := range m.devices {
			d.SetWork(ctx, w)
		}
	} else {
		m.wg.Add(2)
		go m.workSubmitThread(ctx)
		go m.workRefreshThread(ctx)
	}

	m.wg.Add(1)
	go m.printStatsThread(ctx)

	m.wg.Wait()
}

func (m *Miner) Status() (uint64, uint64, uint64, uint64, float64) {
	if m.pool != nil {
		valid := atomic.LoadUint64(&m.pool.ValidShares)
		rejected := atomic.LoadUint64(&m.pool.InvalidShares)
		stale := atomic.LoadUint64(&m.staleShares)
		total := valid + rejected + stale

		secondsElapsed := uint32(time.Now().Unix()) - m.started
		utility := float64(valid) / (float64(secondsElapsed) / float64(60))

		return valid, rejected, stale, total, utility
	}

	valid := atomic.LoadUint64(&m.validShares)
	rejected := atomic.LoadUint64(&m.invalidShares)
	total := valid + rejected

	return valid, rejected, 0, total, 0
}
