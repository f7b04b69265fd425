package pipeline

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/helpers/atomic_clock"
	"github.com/temoto/solarmate/internal/metrics"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

const DefaultWindow = 250 * time.Millisecond

var ErrWriteOutsidePhase = errors.New("pipeline: transport write outside command phase")

type State uint32

const (
	StateAwaitingWindow State = iota
	StateDispatching
	StateCommandPhase
)

func (s State) String() string {
	switch s {
	case StateAwaitingWindow:
		return "awaiting_window"
	case StateDispatching:
		return "dispatching"
	case StateCommandPhase:
		return "command_phase"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// PacketSource is satisfied by mate.Decoder.
type PacketSource interface {
	Next() (types.Packet, error)
}

// Evaluator runs after each dispatched status collection, may enqueue commands.
// Cycles without status do not invoke it.
type Evaluator interface {
	Evaluate(status *types.Collection, now time.Time)
}

// CommandPhase may write at most one command into w.
// w is only usable during the call.
type CommandPhase interface {
	Cycle(w io.Writer, now time.Time) error
}

// Runner drives read, batch and cycle on a single goroutine.
// After a read returns and the window has elapsed, one cycle runs:
// status dispatch, rules (only when status was dispatched), command phase, event dispatch.
// Reads and command writes never overlap because both happen here.
type Runner struct {
	Window   time.Duration
	Now      func() time.Time
	Source   PacketSource
	Output   io.Writer
	Ingest   *Ingest
	Status   *Channel
	Events   *Channel
	Rules    Evaluator
	Commands CommandPhase

	Log     *log2.Log
	Metrics *metrics.Metrics

	state       uint32
	windowStart time.Time
	cycles      uint64
	lastCycle   atomic_clock.Clock
	lastPacket  atomic_clock.Clock
}

func (self *Runner) State() State { return State(atomic.LoadUint32(&self.state)) }

func (self *Runner) setState(s State) { atomic.StoreUint32(&self.state, uint32(s)) }

// Cycles counts completed cycles.
func (self *Runner) Cycles() uint64 { return atomic.LoadUint64(&self.cycles) }

// LastCycle and LastPacket are safe to call from other goroutines (health checks).
func (self *Runner) LastCycle() time.Time  { return self.lastCycle.Time() }
func (self *Runner) LastPacket() time.Time { return self.lastPacket.Time() }

func (self *Runner) window() time.Duration {
	if self.Window <= 0 {
		return DefaultWindow
	}
	return self.Window
}

func (self *Runner) now() time.Time {
	if self.Now != nil {
		return self.Now()
	}
	return time.Now()
}

// Run returns only with terminal source error, e.g. transport closed.
// Pending batches are dispatched before return, command phase is skipped.
func (self *Runner) Run() error {
	if self.Source == nil || self.Ingest == nil || self.Status == nil || self.Events == nil {
		panic("code error pipeline runner is not fully configured")
	}
	self.windowStart = self.now()
	for {
		p, err := self.Source.Next()
		now := self.now()
		if err != nil {
			self.flush(now)
			return errors.Annotate(err, "pipeline source")
		}
		self.Step(p, now)
	}
}

// Step runs cycle if window elapsed by now, then accepts p into new window.
func (self *Runner) Step(p types.Packet, now time.Time) {
	if self.windowStart.IsZero() {
		self.windowStart = now
	}
	if now.Sub(self.windowStart) >= self.window() {
		self.Cycle(now)
	}
	if p != nil {
		self.lastPacket.SetTime(now)
		self.Ingest.Accept(p)
	}
}

func (self *Runner) Cycle(now time.Time) {
	tbegin := time.Now()

	self.setState(StateDispatching)
	status := self.Status.Dispatch(self.Ingest.TakeStatus(), now)
	if status != nil && self.Rules != nil {
		self.Rules.Evaluate(status, now)
	}

	self.setState(StateCommandPhase)
	if self.Commands != nil {
		if err := self.Commands.Cycle(phaseWriter{self}, now); err != nil {
			self.Log.Errorf("command phase err=%v", errors.ErrorStack(err))
		}
	}

	self.setState(StateDispatching)
	self.Events.Dispatch(self.Ingest.TakeEvents(), now)

	self.windowStart = now
	self.lastCycle.SetTime(now)
	atomic.AddUint64(&self.cycles, 1)
	self.setState(StateAwaitingWindow)
	self.Metrics.CycleSeconds(time.Since(tbegin).Seconds())
}

func (self *Runner) flush(now time.Time) {
	self.setState(StateDispatching)
	self.Status.Dispatch(self.Ingest.TakeStatus(), now)
	self.Events.Dispatch(self.Ingest.TakeEvents(), now)
	self.setState(StateAwaitingWindow)
}

type phaseWriter struct{ r *Runner }

func (self phaseWriter) Write(b []byte) (int, error) {
	if s := self.r.State(); s != StateCommandPhase {
		return 0, errors.Annotatef(ErrWriteOutsidePhase, "state=%s", s)
	}
	if self.r.Output == nil {
		return 0, errors.New("pipeline: runner output is not configured")
	}
	return self.r.Output.Write(b)
}
