package pools

import (
	"runtime/debug"
)

// GCConfig holds garbage-collector tuning knobs.
type GCConfig struct {
	// GOGC is the collection target percentage; higher means less
	// frequent collections at the cost of heap headroom.
	GOGC int
	// MemoryLimit is the soft limit in bytes; 0 leaves it unset.
	MemoryLimit int64
}

// ApplyGCConfig installs the tuning.
func ApplyGCConfig(cfg GCConfig) {
	if cfg.GOGC > 0 {
		debug.SetGCPercent(cfg.GOGC)
	}
	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
}

// TuneForThroughput relaxes the collector for the serving path. The hot path
// allocates almost nothing (fixed connection records, fixed buffers), so the
// remaining garbage is startup and logging noise; collecting it rarely keeps
// the reactors off the GC assist path.
func TuneForThroughput() {
	ApplyGCConfig(GCConfig{GOGC: 300})
}
