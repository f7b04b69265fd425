package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/internal/ident"
	"github.com/temoto/solarmate/internal/metrics"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

var testEpoch = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func fxFrame(address byte, operatingMode int, batteryTenths int) mate.Frame {
	return mate.MustBuildFrame(address, "02", "00", "03", "118", "120", "00",
		fmt.Sprintf("%02d", operatingMode), "000", "00",
		fmt.Sprintf("%03d", batteryTenths), "008", "000")
}

func fxPacket(t testing.TB, address byte, operatingMode int, batteryTenths int) types.Packet {
	f := fxFrame(address, operatingMode, batteryTenths)
	p, err := mate.Decode(&f)
	require.NoError(t, err)
	return p
}

type testEvent struct {
	src string
	v   int
}

func (testEvent) Kind() types.Kind                    { return types.KindEvent }
func (testEvent) Type() string                        { return "test_event" }
func (self testEvent) Source() string                 { return self.src }
func (self testEvent) Fields() map[string]interface{} { return map[string]interface{}{"v": self.v} }

type recordSink struct {
	name  string
	err   error
	panic bool
	trace *[]string
	got   []*types.Collection
}

func (self *recordSink) Name() string { return self.name }
func (self *recordSink) Handle(c *types.Collection) error {
	if self.trace != nil {
		*self.trace = append(*self.trace, self.name)
	}
	if self.panic {
		panic("sink exploded")
	}
	self.got = append(self.got, c.Copy())
	return self.err
}

type testEnv struct {
	log     *log2.Log
	metrics *metrics.Metrics
	ingest  *Ingest
	status  *Channel
	events  *Channel
	statusS *recordSink
	eventS  *recordSink
	trace   []string
	runner  *Runner
}

func newTestEnv(t testing.TB) *testEnv {
	env := &testEnv{}
	env.log = log2.NewTest(t, log2.LDebug)
	env.metrics = metrics.New(prometheus.NewRegistry(), env.log)
	env.ingest = NewIngest(env.log, env.metrics, NewChangeDetector(nil))
	env.status = NewChannel(types.KindStatus, ident.NewTimed(3600), time.UTC, env.log, env.metrics)
	env.events = NewChannel(types.KindEvent, &ident.Counter{Prefix: "e"}, time.UTC, env.log, env.metrics)
	env.statusS = &recordSink{name: "status", trace: &env.trace}
	env.eventS = &recordSink{name: "events", trace: &env.trace}
	env.status.Register(env.statusS)
	env.events.Register(env.eventS)
	env.runner = &Runner{
		Ingest:  env.ingest,
		Status:  env.status,
		Events:  env.events,
		Log:     env.log,
		Metrics: env.metrics,
	}
	return env
}
