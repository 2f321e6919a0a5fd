package systems

import (
	"context"
	"time"
)

// System is a unit of simulation logic driven by the Manager. Behaviour is
// opted into through the narrower interfaces below: a tether only needs
// FixedUpdater, a dual-contact gate only Updater.
type System interface {
	Name() string
	Priority() Priority
}

// Initializer runs once before the first tick.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// FixedUpdater runs at the fixed simulation cadence, possibly several times
// per frame.
type FixedUpdater interface {
	FixedUpdate(fixedDeltaTime float64) error
}

// Updater runs once per rendered frame after the fixed steps.
type Updater interface {
	Update(deltaTime float64) error
}

// Shutdowner runs once at scene teardown, in reverse registration order.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Priority defines execution order; higher runs first.
type Priority uint16

const (
	PriorityLowest  Priority = 100
	PriorityLow     Priority = 300
	PriorityNormal  Priority = 500
	PriorityHigh    Priority = 700
	PriorityHighest Priority = 900
)

// StateIdentity represents the lifecycle state of the Manager.
type StateIdentity uint8

const (
	StateUninitialized StateIdentity = iota
	StateRunning
	StateShutdown
)

// Metrics provides runtime metrics for a system.
type Metrics struct {
	ExecutionCount     uint64
	TotalExecutionTime time.Duration
	MaxExecutionTime   time.Duration
	ErrorCount         uint64
	LastError          error
}

func (m Metrics) AverageExecutionTime() time.Duration {
	if m.ExecutionCount == 0 {
		return 0
	}
	return m.TotalExecutionTime / time.Duration(m.ExecutionCount)
}

// Func adapts plain functions into a System.
type Func struct {
	ID       string
	Order    Priority
	OnInit   func(ctx context.Context) error
	OnFixed  func(dt float64) error
	OnUpdate func(dt float64) error
}

func (f *Func) Name() string       { return f.ID }
func (f *Func) Priority() Priority { return f.Order }

func (f *Func) Initialize(ctx context.Context) error {
	if f.OnInit == nil {
		return nil
	}
	return f.OnInit(ctx)
}

func (f *Func) FixedUpdate(dt float64) error {
	if f.OnFixed == nil {
		return nil
	}
	return f.OnFixed(dt)
}

func (f *Func) Update(dt float64) error {
	if f.OnUpdate == nil {
		return nil
	}
	return f.OnUpdate(dt)
}
