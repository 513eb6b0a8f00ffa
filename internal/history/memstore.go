package history

import (
	"context"
	"sync"
)

// MemStore keeps runs in memory.
type MemStore struct {
	mu   sync.Mutex
	runs []Run
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Record(_ context.Context, run Run) (Run, Diff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev []GapRef
	var prevSeq int64
	if n := len(s.runs); n > 0 {
		prev = s.runs[n-1].Gaps
		prevSeq = s.runs[n-1].Seq
	}
	run.Seq = int64(len(s.runs) + 1)
	run.Gaps = append([]GapRef(nil), run.Gaps...)
	s.runs = append(s.runs, run)
	d := Compare(prev, run.Gaps)
	d.Previous = prevSeq
	return run, d, nil
}

func (s *MemStore) Recent(_ context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for i := len(s.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		r := s.runs[i]
		r.Gaps = nil
		out = append(out, r)
	}
	return out, nil
}

func (s *MemStore) Latest(_ context.Context) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil, nil
	}
	r := s.runs[len(s.runs)-1]
	r.Gaps = append([]GapRef(nil), r.Gaps...)
	return &r, nil
}

func (s *MemStore) Close() error { return nil }
