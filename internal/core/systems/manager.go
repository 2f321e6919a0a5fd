package systems

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zeusync/cabintrainer/internal/core/observability/log"
)

var (
	ErrDuplicateSystem = errors.New("system already registered")
	ErrUnknownSystem   = errors.New("system not registered")
)

// Options configures the fixed-step cadence.
type Options struct {
	// FixedStep is the simulation step in seconds.
	FixedStep float64
	// MaxSubsteps caps fixed steps per frame; time beyond the cap is dropped.
	MaxSubsteps int
}

func DefaultOptions() Options {
	return Options{FixedStep: 0.02, MaxSubsteps: 5}
}

// Manager orchestrates registered systems on a single simulation thread.
// Tick accumulates frame time and runs FixedUpdate in whole fixed steps, then
// Update once.
type Manager struct {
	opts        Options
	log         log.Log
	entries     []*entry
	byName      map[string]*entry
	seq         int
	accumulator float64
	state       StateIdentity

	fixedSteps   uint64
	frames       uint64
	droppedSteps uint64
	simTime      float64
}

type entry struct {
	sys     System
	seq     int
	metrics Metrics
}

func NewManager(opts Options, logger log.Log) *Manager {
	def := DefaultOptions()
	if opts.FixedStep <= 0 {
		opts.FixedStep = def.FixedStep
	}
	if opts.MaxSubsteps <= 0 {
		opts.MaxSubsteps = def.MaxSubsteps
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		opts:   opts,
		log:    logger.With(log.Component("systems")),
		byName: make(map[string]*entry),
	}
}

func (m *Manager) FixedStep() float64   { return m.opts.FixedStep }
func (m *Manager) State() StateIdentity { return m.state }

// SimTime is the simulated time covered by executed fixed steps.
func (m *Manager) SimTime() float64 { return m.simTime }

func (m *Manager) FixedSteps() uint64   { return m.fixedSteps }
func (m *Manager) Frames() uint64       { return m.frames }
func (m *Manager) DroppedSteps() uint64 { return m.droppedSteps }

// Register adds a system. Systems registered while running are initialized
// by the caller.
func (m *Manager) Register(s System) error {
	if _, ok := m.byName[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSystem, s.Name())
	}
	m.seq++
	e := &entry{sys: s, seq: m.seq}
	m.entries = append(m.entries, e)
	m.byName[s.Name()] = e
	sort.SliceStable(m.entries, func(i, j int) bool {
		if m.entries[i].sys.Priority() != m.entries[j].sys.Priority() {
			return m.entries[i].sys.Priority() > m.entries[j].sys.Priority()
		}
		return m.entries[i].seq < m.entries[j].seq
	})
	return nil
}

func (m *Manager) Unregister(name string) error {
	e, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSystem, name)
	}
	delete(m.byName, name)
	for i, x := range m.entries {
		if x == e {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Manager) Get(name string) (System, bool) {
	e, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return e.sys, true
}

// ExecutionOrder lists system names in the order they run.
func (m *Manager) ExecutionOrder() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.sys.Name()
	}
	return out
}

func (m *Manager) Metrics(name string) (Metrics, bool) {
	e, ok := m.byName[name]
	if !ok {
		return Metrics{}, false
	}
	return e.metrics, true
}

// Initialize calls every Initializer in execution order. All failures are
// reported together; systems that failed stay registered.
func (m *Manager) Initialize(ctx context.Context) error {
	var all error
	for _, e := range m.entries {
		if in, ok := e.sys.(Initializer); ok {
			if err := in.Initialize(ctx); err != nil {
				all = errors.Join(all, fmt.Errorf("initialize %s: %w", e.sys.Name(), err))
			}
		}
	}
	m.state = StateRunning
	return all
}

// Tick advances the simulation by one rendered frame of length frameDelta.
func (m *Manager) Tick(frameDelta float64) error {
	if frameDelta < 0 {
		frameDelta = 0
	}
	m.accumulator += frameDelta
	var all error
	steps := 0
	for m.accumulator+1e-12 >= m.opts.FixedStep {
		if steps == m.opts.MaxSubsteps {
			dropped := uint64(m.accumulator/m.opts.FixedStep + 1e-9)
			m.droppedSteps += dropped
			m.accumulator = 0
			m.log.Warn("fixed steps dropped", log.Uint64("dropped", dropped))
			break
		}
		if err := m.FixedStepOnce(); err != nil {
			all = errors.Join(all, err)
		}
		m.accumulator -= m.opts.FixedStep
		steps++
	}
	if err := m.update(frameDelta); err != nil {
		all = errors.Join(all, err)
	}
	m.frames++
	return all
}

// FixedStepOnce runs exactly one fixed step on every FixedUpdater.
func (m *Manager) FixedStepOnce() error {
	var all error
	for _, e := range m.entries {
		if fu, ok := e.sys.(FixedUpdater); ok {
			if err := m.run(e, func() error { return fu.FixedUpdate(m.opts.FixedStep) }); err != nil {
				all = errors.Join(all, err)
			}
		}
	}
	m.fixedSteps++
	m.simTime += m.opts.FixedStep
	return all
}

func (m *Manager) update(dt float64) error {
	var all error
	for _, e := range m.entries {
		if u, ok := e.sys.(Updater); ok {
			if err := m.run(e, func() error { return u.Update(dt) }); err != nil {
				all = errors.Join(all, err)
			}
		}
	}
	return all
}

// Shutdown calls every Shutdowner in reverse execution order.
func (m *Manager) Shutdown(ctx context.Context) error {
	var all error
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if sd, ok := e.sys.(Shutdowner); ok {
			if err := sd.Shutdown(ctx); err != nil {
				all = errors.Join(all, fmt.Errorf("shutdown %s: %w", e.sys.Name(), err))
			}
		}
	}
	m.state = StateShutdown
	return all
}

func (m *Manager) run(e *entry, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	e.metrics.ExecutionCount++
	e.metrics.TotalExecutionTime += d
	if d > e.metrics.MaxExecutionTime {
		e.metrics.MaxExecutionTime = d
	}
	if err != nil {
		e.metrics.ErrorCount++
		e.metrics.LastError = err
		m.log.Error("system failed", log.String("system", e.sys.Name()), log.Error(err))
		return fmt.Errorf("%s: %w", e.sys.Name(), err)
	}
	return nil
}
