// Package capabilitytest provides a scriptable capability.Manager for tests.
package capabilitytest

import (
	"sync"

	"git.home.luguber.info/inful/meterd/internal/capability"
)

// Op names a Manager call recorded by Fake.
type Op string

const (
	OpCreate  Op = "create"
	OpInit    Op = "init"
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpReset   Op = "reset"
	OpDestroy Op = "destroy"
	OpQuery   Op = "query"
)

// Fake records every mutating call and returns scripted results. A call
// whose scripted result is true applies its natural effect to the three
// query flags; a failing call leaves them unchanged.
type Fake struct {
	mu sync.Mutex

	exists      bool
	initialised bool
	started     bool

	results map[Op]bool
	panics  map[Op]any
	calls   []Op

	LastCreate capability.CreateRequest
	LastReset  capability.Config
	Status     string
	Elapsed    string
}

// New returns a Fake in which every call succeeds.
func New() *Fake {
	return &Fake{
		results: make(map[Op]bool),
		panics:  make(map[Op]any),
		Status:  "idle",
		Elapsed: capability.NotAvailable,
	}
}

// Fail scripts op to report failure.
func (f *Fake) Fail(op Op) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[op] = false
	return f
}

// Succeed scripts op to report success.
func (f *Fake) Succeed(op Op) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[op] = true
	return f
}

// Panic scripts op to panic with v.
func (f *Fake) Panic(op Op, v any) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[op] = v
	return f
}

// SetFlags forces the query flags.
func (f *Fake) SetFlags(exists, initialised, started bool) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists, f.initialised, f.started = exists, initialised, started
	return f
}

// Calls returns the recorded mutating calls in order.
func (f *Fake) Calls() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Op, len(f.calls))
	copy(out, f.calls)
	return out
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) call(op Op, effect func()) bool {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	if v, ok := f.panics[op]; ok {
		f.mu.Unlock()
		panic(v)
	}
	ok, scripted := f.results[op]
	if !scripted {
		ok = true
	}
	if ok && effect != nil {
		effect()
	}
	f.mu.Unlock()
	return ok
}

func (f *Fake) Create(req capability.CreateRequest) bool {
	return f.call(OpCreate, func() {
		f.LastCreate = req
		f.exists, f.initialised, f.started = true, false, false
	})
}

func (f *Fake) Init() bool {
	return f.call(OpInit, func() { f.initialised = true })
}

func (f *Fake) Start() bool {
	return f.call(OpStart, func() { f.started = true })
}

func (f *Fake) Stop() bool {
	return f.call(OpStop, func() { f.started = false })
}

func (f *Fake) Reset(cfg capability.Config) bool {
	return f.call(OpReset, func() {
		f.LastReset = cfg
		f.exists, f.initialised, f.started = true, false, false
	})
}

func (f *Fake) Destroy() bool {
	return f.call(OpDestroy, func() {
		f.exists, f.initialised, f.started = false, false, false
	})
}

func (f *Fake) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

func (f *Fake) IsInitialised() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialised
}

func (f *Fake) IsStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *Fake) QueryStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Status
}

func (f *Fake) RunningTime() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Elapsed
}

var _ capability.Manager = (*Fake)(nil)
