// Package metrics collects pipeline diagnostics as prometheus metrics.
package metrics

import (
	"io"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/helpers"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

const namespace = "solarmate"

type Metrics struct {
	log *log2.Log

	BytesTotal       *prometheus.CounterVec
	FramesTotal      *prometheus.CounterVec
	PacketsTotal     *prometheus.CounterVec
	DuplicatesTotal  prometheus.Counter
	CollectionsTotal *prometheus.CounterVec
	CollectionSize   *prometheus.HistogramVec
	SinkErrorsTotal  *prometheus.CounterVec
	CommandsTotal    *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	ErrorsTotal      prometheus.Counter
}

// New registers metrics in reg. Use separate registry per pipeline instance.
func New(reg prometheus.Registerer, log *log2.Log) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		log: log,
		BytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_bytes_total",
			Help:      "Bytes on Mate serial link by direction",
		}, []string{"direction"}),
		FramesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Mate frame candidates by result",
		}, []string{"result"}),
		PacketsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets accepted into batches by type",
		}, []string{"type"}),
		DuplicatesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_duplicates_total",
			Help:      "Event packets dropped as exact repeats",
		}),
		CollectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_total",
			Help:      "Collections dispatched by channel",
		}, []string{"channel"}),
		CollectionSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_packets",
			Help:      "Packets per dispatched collection",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}, []string{"channel"}),
		SinkErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Sink failures by channel and sink",
		}, []string{"channel", "sink"}),
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands by result and source",
		}, []string{"result", "source"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of cadence cycle work (dispatch and command phase)",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 5},
		}),
		ErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors logged by the process",
		}),
	}
}

// Nil *Metrics is valid and does nothing, handy in tests.

// CountRead wraps serial input.
func (self *Metrics) CountRead(r io.Reader) io.Reader {
	if self == nil {
		return r
	}
	return helpers.NewStatReader(r, self.BytesTotal.WithLabelValues("read"))
}

// CountWrite wraps serial output.
func (self *Metrics) CountWrite(w io.Writer) io.Writer {
	if self == nil {
		return w
	}
	return helpers.NewStatWriter(w, self.BytesTotal.WithLabelValues("write"))
}

func (self *Metrics) FrameAccepted(f *mate.Frame, p types.Packet) {
	if self == nil {
		return
	}
	self.FramesTotal.WithLabelValues("accepted").Inc()
	self.log.Debugf("mate frame accepted %s", types.FormatPacket(p))
}

func (self *Metrics) FrameRejected(f *mate.Frame, err error) {
	if self == nil {
		return
	}
	result := "invalid"
	cause := errors.Cause(err)
	if _, ok := cause.(mate.InvalidChecksum); ok {
		result = "checksum"
	} else if cause == mate.ErrUnsupportedAddress {
		result = "unsupported"
	}
	self.FramesTotal.WithLabelValues(result).Inc()
	self.log.Debugf("mate frame rejected frame=%s err=%v", f.String(), err)
}

func (self *Metrics) Packet(p types.Packet) {
	if self == nil {
		return
	}
	self.PacketsTotal.WithLabelValues(p.Type()).Inc()
}

func (self *Metrics) Duplicate() {
	if self == nil {
		return
	}
	self.DuplicatesTotal.Inc()
}

func (self *Metrics) Collection(c *types.Collection) {
	if self == nil {
		return
	}
	ch := c.Channel.String()
	self.CollectionsTotal.WithLabelValues(ch).Inc()
	self.CollectionSize.WithLabelValues(ch).Observe(float64(c.Len()))
}

func (self *Metrics) SinkError(channel types.Kind, sink string) {
	if self == nil {
		return
	}
	self.SinkErrorsTotal.WithLabelValues(channel.String(), sink).Inc()
}

func (self *Metrics) Command(result, source string) {
	if self == nil {
		return
	}
	self.CommandsTotal.WithLabelValues(result, source).Inc()
}

func (self *Metrics) CycleSeconds(s float64) {
	if self == nil {
		return
	}
	self.CycleDuration.Observe(s)
}

// CountError is log2.ErrorFunc.
func (self *Metrics) CountError(error) {
	if self == nil {
		return
	}
	self.ErrorsTotal.Inc()
}
