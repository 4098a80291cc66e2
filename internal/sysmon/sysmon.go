// Package sysmon samples system CPU usage for the Scanner's adaptive
// sleep (spec §4.4 step 4). It reads /proc/stat via prometheus/procfs,
// the same library github.com/prometheus/client_golang's process
// collector already pulls in, rather than hand-parsing the proc
// filesystem.
package sysmon

import (
	"sync"

	"github.com/prometheus/procfs"
)

// Sampler tracks consecutive /proc/stat snapshots to derive a percent-
// busy reading between calls to Percent.
type Sampler struct {
	fs procfs.FS

	mu       sync.Mutex
	lastIdle float64
	lastTotal float64
	lastPct  float64
}

// NewSampler opens the default procfs mount ("/proc"). On platforms or
// sandboxes where /proc is unavailable, Percent always reports 0 rather
// than erroring, so the Scanner's adaptive sleep simply never inflates.
func NewSampler() *Sampler {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return &Sampler{}
	}
	return &Sampler{fs: fs}
}

// Percent returns the system-wide CPU busy percentage observed since the
// previous call, implementing the scanner.CPUSampler func signature.
func (s *Sampler) Percent() float64 {
	stat, err := s.fs.Stat()
	if err != nil {
		return 0
	}
	c := stat.CPUTotal
	idle := c.Idle + c.Iowait
	total := c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal

	s.mu.Lock()
	defer s.mu.Unlock()

	deltaTotal := total - s.lastTotal
	deltaIdle := idle - s.lastIdle
	s.lastTotal, s.lastIdle = total, idle

	if deltaTotal <= 0 {
		return s.lastPct
	}
	pct := (1 - deltaIdle/deltaTotal) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.lastPct = pct
	return pct
}
