package server

import (
	"context"
	"errors"
	"sync"
)

// errSuperseded is the cancellation cause of a request replaced by a newer
// one for the same document.
var errSuperseded = errors.New("superseded by a newer request for the same document")

// inflight tracks the running request of every document. Fragments are
// applied by block index, so a stale response must never land after a newer
// one: starting a request cancels the previous one.
type inflight struct {
	mu   sync.Mutex
	seq  uint64
	runs map[string]inflightRun
}

type inflightRun struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

func newInflight() *inflight {
	return &inflight{runs: make(map[string]inflightRun)}
}

// begin registers a request for docID, cancelling the one already running.
// It reports whether an older request was superseded. done must be called
// when the request finishes.
func (f *inflight) begin(parent context.Context, docID string) (ctx context.Context, done func(), superseded bool) {
	ctx, cancel := context.WithCancelCause(parent)

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.runs[docID]; ok {
		prev.cancel(errSuperseded)
		superseded = true
	}
	f.seq++
	seq := f.seq
	f.runs[docID] = inflightRun{seq: seq, cancel: cancel}

	done = func() {
		f.mu.Lock()
		if cur, ok := f.runs[docID]; ok && cur.seq == seq {
			delete(f.runs, docID)
		}
		f.mu.Unlock()
		cancel(nil)
	}
	return ctx, done, superseded
}

// len returns the number of documents with a running request.
func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}
