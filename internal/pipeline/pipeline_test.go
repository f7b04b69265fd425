package pipeline

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/internal/types"
)

func TestWindowThreeStatusOneCollection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	r := env.runner
	r.Step(fxPacket(t, 'A', 2, 250), testEpoch)
	r.Step(fxPacket(t, 'B', 2, 251), testEpoch.Add(50*time.Millisecond))
	r.Step(fxPacket(t, 'C', 2, 252), testEpoch.Add(100*time.Millisecond))
	assert.Empty(t, env.statusS.got)
	assert.Equal(t, uint64(0), r.Cycles())

	// next frame after window closes previous batch first
	r.Step(fxPacket(t, 'A', 2, 253), testEpoch.Add(300*time.Millisecond))
	require.Len(t, env.statusS.got, 1)
	c := env.statusS.got[0]
	assert.Equal(t, 3, c.Len())
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, types.KindStatus, c.Channel)
	assert.Equal(t, testEpoch.Add(300*time.Millisecond), c.Time)
	assert.Equal(t, uint64(1), r.Cycles())
	st, _ := env.ingest.Pending()
	assert.Equal(t, 1, st)
	assert.Empty(t, env.eventS.got)
}

func TestRunUntilSourceError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	var input bytes.Buffer
	for _, addr := range []byte{'A', 'B', 'C'} {
		f := fxFrame(addr, 2, 250)
		input.Write(f[:])
	}
	r := env.runner
	r.Now = func() time.Time { return testEpoch }
	r.Source = mate.NewDecoder(&input, false, env.metrics)
	err := r.Run()
	require.Error(t, err)
	assert.Equal(t, io.EOF, errors.Cause(err))
	// pending batch flushed on exit
	require.Len(t, env.statusS.got, 1)
	assert.Equal(t, 3, env.statusS.got[0].Len())
	assert.True(t, testEpoch.Equal(r.LastPacket()))
	assert.Equal(t, 3.0, testutil.ToFloat64(env.metrics.FramesTotal.WithLabelValues("accepted")))
}

func TestIngestDedup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	in := env.ingest
	in.Accept(testEvent{"x", 1})
	in.Accept(testEvent{"x", 1})
	in.Accept(testEvent{"y", 1})
	in.Accept(testEvent{"x", 2})
	in.Accept(testEvent{"x", 1})
	in.Accept(testEvent{"x", 1})
	events := in.TakeEvents()
	assert.Equal(t, []types.Packet{testEvent{"x", 1}, testEvent{"y", 1}, testEvent{"x", 2}, testEvent{"x", 1}}, events)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.DuplicatesTotal))

	// status is never deduplicated
	p := fxPacket(t, 'A', 2, 250)
	in.Accept(p)
	in.Accept(p)
	assert.Len(t, in.TakeStatus(), 2)
	assert.Empty(t, in.TakeStatus())
}

func TestChangeDetector(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	in := env.ingest
	in.Accept(fxPacket(t, 'A', 2, 250))
	in.Accept(fxPacket(t, 'A', 2, 251))
	in.Accept(fxPacket(t, 'B', 4, 250))
	assert.Empty(t, in.TakeEvents())
	in.Accept(fxPacket(t, 'A', 4, 252))
	events := in.TakeEvents()
	require.Len(t, events, 1)
	assert.Equal(t, ChangeEvent{
		EventType: "fx_operating_mode_change",
		Device:    "fx/0",
		Field:     "operating_mode",
		Previous:  2,
		Current:   4,
	}, events[0])
	assert.Equal(t, types.KindEvent, events[0].Kind())
}

func TestChangeDetectorWarningIgnore(t *testing.T) {
	t.Parallel()
	d := NewChangeDetector(nil, WithFXWarningIgnore(map[int]int{1: 0x04}))
	fx := func(addr, warning int) types.Packet {
		return mate.FXStatus{Address: addr, OperatingMode: 2, WarningMode: warning}
	}
	assert.Empty(t, d.Observe(fx(0, 0)))
	assert.Empty(t, d.Observe(fx(1, 0)))

	// fx/1 ignores bit 0x04, fx/0 does not
	assert.Len(t, d.Observe(fx(0, 0x04)), 1)
	assert.Empty(t, d.Observe(fx(1, 0x04)))

	events := d.Observe(fx(1, 0x06))
	require.Len(t, events, 1)
	assert.Equal(t, ChangeEvent{
		EventType: "fx_warning_mode_change",
		Device:    "fx/1",
		Field:     "warning_mode",
		Previous:  0x04,
		Current:   0x06,
	}, events[0])
}

func TestChannelSinkIsolation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	var trace []string
	first := &recordSink{name: "first", trace: &trace}
	failing := &recordSink{name: "failing", trace: &trace, err: errors.New("disk full")}
	panicking := &recordSink{name: "panicking", trace: &trace, panic: true}
	last := &recordSink{name: "last", trace: &trace}
	ch := NewChannel(types.KindEvent, env.events.ids, nil, env.log, env.metrics)
	ch.Register(first, failing, panicking, last)
	assert.Equal(t, []string{"first", "failing", "panicking", "last"}, ch.Sinks())

	c := ch.Dispatch([]types.Packet{testEvent{"x", 1}}, testEpoch)
	require.NotNil(t, c)
	assert.Equal(t, []string{"first", "failing", "panicking", "last"}, trace)
	assert.Len(t, first.got, 1)
	assert.Len(t, last.got, 1)
	assert.Equal(t, c.ID, last.got[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SinkErrorsTotal.WithLabelValues("event", "failing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SinkErrorsTotal.WithLabelValues("event", "panicking")))
}

func TestChannelEmptyConsumesNoID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	assert.Nil(t, env.events.Dispatch(nil, testEpoch))
	assert.Nil(t, env.events.Dispatch([]types.Packet{}, testEpoch))
	c := env.events.Dispatch([]types.Packet{testEvent{"x", 1}}, testEpoch)
	require.NotNil(t, c)
	assert.Equal(t, "e1", c.ID)
	assert.Len(t, env.eventS.got, 1)
}

func TestChannelOriginAndAttached(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ch := env.status
	ch.SourceID = "cabin"
	ch.Fragment = 2
	ch.Attach(testEvent{"extra", 1})

	assert.Nil(t, ch.Dispatch(nil, testEpoch))
	c := ch.Dispatch([]types.Packet{fxPacket(t, 'A', 2, 250)}, testEpoch)
	require.NotNil(t, c)
	assert.Equal(t, "cabin", c.SourceID)
	assert.Equal(t, 2, c.Fragment)
	require.Len(t, c.Packets, 2)
	assert.Equal(t, "extra", c.Packets[1].Source())
	require.Len(t, env.statusS.got, 1)
}

type fakeRules struct {
	trace *[]string
	r     *Runner
	w     io.Writer
	err   error
}

func (self *fakeRules) Evaluate(status *types.Collection, now time.Time) {
	*self.trace = append(*self.trace, "rules:"+self.r.State().String())
	if self.w != nil {
		_, self.err = self.w.Write([]byte("late"))
	}
}

type fakeCommands struct {
	trace  *[]string
	r      *Runner
	ingest types.Ingester
	w      io.Writer
}

func (self *fakeCommands) Cycle(w io.Writer, now time.Time) error {
	*self.trace = append(*self.trace, "commands:"+self.r.State().String())
	self.w = w
	if _, err := w.Write([]byte("cmd")); err != nil {
		return err
	}
	self.ingest.Accept(testEvent{"echo", int(now.Unix())})
	return nil
}

func TestCycleOrderAndPhase(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	var out bytes.Buffer
	r := env.runner
	r.Output = &out
	rules := &fakeRules{trace: &env.trace, r: r}
	cmds := &fakeCommands{trace: &env.trace, r: r, ingest: env.ingest}
	r.Rules = rules
	r.Commands = cmds

	r.Step(fxPacket(t, 'A', 2, 250), testEpoch)
	r.Cycle(testEpoch.Add(time.Second))
	assert.Equal(t, []string{"status", "rules:dispatching", "commands:command_phase", "events"}, env.trace)
	assert.Equal(t, "cmd", out.String())
	assert.Equal(t, StateAwaitingWindow, r.State())
	// echo recorded in the same cycle
	require.Len(t, env.eventS.got, 1)
	assert.Equal(t, "echo", env.eventS.got[0].Packets[0].Source())

	// writer kept beyond command phase must fail
	rules.w = cmds.w
	env.ingest.Accept(fxPacket(t, 'A', 2, 251))
	r.Cycle(testEpoch.Add(2 * time.Second))
	assert.Equal(t, ErrWriteOutsidePhase, errors.Cause(rules.err))
	assert.Equal(t, "cmdcmd", out.String())
}

func TestRulesOnlyWithStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	r := env.runner
	rules := &fakeRules{trace: &env.trace, r: r}
	r.Rules = rules

	// event only cycle
	env.ingest.Accept(testEvent{"x", 1})
	r.Cycle(testEpoch)
	r.Cycle(testEpoch.Add(time.Second))
	assert.Equal(t, []string{"events"}, env.trace)

	env.ingest.Accept(fxPacket(t, 'A', 2, 250))
	r.Cycle(testEpoch.Add(2 * time.Second))
	assert.Equal(t, []string{"events", "status", "rules:dispatching"}, env.trace)
	assert.Equal(t, uint64(3), r.Cycles())
}

func TestCommandPhaseDisabledOutput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.log.SetErrorFunc(env.metrics.CountError)
	var wire bytes.Buffer
	tr := mate.NewNullTransport(&bytes.Buffer{}, &wire, false)
	r := env.runner
	r.Output = tr.Output()
	cmds := &fakeCommands{trace: &env.trace, r: r, ingest: env.ingest}
	r.Commands = cmds
	r.Cycle(testEpoch)
	assert.Equal(t, 0, wire.Len())
	// failed write produces no echo
	assert.Empty(t, env.eventS.got)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ErrorsTotal))
}
