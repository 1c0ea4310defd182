package engine

import "sync/atomic"

// Stats is a per-engine snapshot of operation counters. It replaces
// the process-wide atomic counters the original implementation kept
// for progress logging: every Engine owns its own set, so two engines
// in the same process (over different data directories) don't share
// counters.
type Stats struct {
	Puts               uint64
	Deletes            uint64
	Gets               uint64
	GetHits            uint64
	Flushes            uint64
	Compactions        uint64
	BloomFalsePositive uint64
}

type statCounters struct {
	puts               atomic.Uint64
	deletes            atomic.Uint64
	gets               atomic.Uint64
	getHits            atomic.Uint64
	flushes            atomic.Uint64
	compactions        atomic.Uint64
	bloomFalsePositive atomic.Uint64
}

func (c *statCounters) snapshot() Stats {
	return Stats{
		Puts:               c.puts.Load(),
		Deletes:            c.deletes.Load(),
		Gets:               c.gets.Load(),
		GetHits:            c.getHits.Load(),
		Flushes:            c.flushes.Load(),
		Compactions:        c.compactions.Load(),
		BloomFalsePositive: c.bloomFalsePositive.Load(),
	}
}
