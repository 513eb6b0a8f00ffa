package mcp

import (
	"sync"
	"time"
)

// Signal is one event on the worker message bus.
type Signal struct {
	Timestamp string            `json:"ts"`
	Event     string            `json:"event"`
	Agent     string            `json:"agent"`
	CaseDir   string            `json:"case_dir,omitempty"`
	LeadID    string            `json:"lead_id,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// SignalBus is a thread-safe, append-only log that parallel lead workers
// use to announce what they picked up and finished.
type SignalBus struct {
	mu      sync.Mutex
	now     func() time.Time
	signals []Signal
}

func NewSignalBus(now func() time.Time) *SignalBus {
	if now == nil {
		now = time.Now
	}
	return &SignalBus{now: now}
}

// Emit appends a signal and returns the bus length.
func (b *SignalBus) Emit(s Signal) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.Timestamp = b.now().UTC().Format(time.RFC3339)
	b.signals = append(b.signals, s)
	return len(b.signals)
}

// Since returns signals from index idx onward, optionally filtered to one
// case. A negative idx is treated as 0.
func (b *SignalBus) Since(idx int, caseDir string) []Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 {
		idx = 0
	}
	out := []Signal{}
	for i := idx; i < len(b.signals); i++ {
		if caseDir == "" || b.signals[i].CaseDir == caseDir {
			out = append(out, b.signals[i])
		}
	}
	return out
}

func (b *SignalBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signals)
}
