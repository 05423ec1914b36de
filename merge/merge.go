// Package merge joins a set of asynchronous branches into one completion.
//
// A Merge starts with one reference held by its creator. The creator takes a
// branch for each sub-operation it issues, then drops its own reference with
// Release once everything has been issued, so a branch that completes
// synchronously cannot fire the terminal callback early.
package merge

import (
	"sync"

	"github.com/osstudy/nanos/util"
)

type Merge struct {
	mu    *sync.Mutex
	count uint64
	err   error
	done  func(error)
	fired bool
}

// Begin returns a merge that calls done once every branch and the caller's
// own reference have completed. done receives the first failure, or nil.
func Begin(done func(error)) *Merge {
	return &Merge{
		mu:    new(sync.Mutex),
		count: 1,
		done:  done,
	}
}

// Branch registers one more outstanding sub-operation and returns the
// callback that completes it. A branch callback must be invoked exactly once.
func (m *Merge) Branch() func(error) {
	m.mu.Lock()
	if m.fired {
		m.mu.Unlock()
		panic("merge: branch after completion")
	}
	m.count += 1
	m.mu.Unlock()

	var once bool
	return func(err error) {
		if once {
			panic("merge: branch completed twice")
		}
		once = true
		m.complete(err)
	}
}

// Release drops the caller's reference, optionally recording a failure.
func (m *Merge) Release(err error) {
	m.complete(err)
}

func (m *Merge) complete(err error) {
	m.mu.Lock()
	if m.count == 0 {
		m.mu.Unlock()
		panic("merge: count underflow")
	}
	if err != nil && m.err == nil {
		m.err = err
	}
	m.count -= 1
	if m.count > 0 {
		m.mu.Unlock()
		return
	}
	m.fired = true
	err = m.err
	m.mu.Unlock()
	util.DPrintf(10, "merge: fire err=%v\n", err)
	m.done(err)
}

// Pending is the number of outstanding references, the caller's included.
func (m *Merge) Pending() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
