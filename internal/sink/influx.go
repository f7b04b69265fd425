package sink

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/juju/errors"
	"github.com/temoto/solarmate/internal/types"
)

type InfluxConfig struct {
	URL        string
	Token      string
	Org        string
	Bucket     string
	TimeoutSec int
}

// pointWriter is satisfied by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes every packet as a point: measurement is packet type,
// tags are source and channel (plus collection origin when set), fields are packet fields.
type Influx struct {
	client  influxdb2.Client
	w       pointWriter
	timeout time.Duration
}

func NewInflux(config InfluxConfig) *Influx {
	client := influxdb2.NewClient(config.URL, config.Token)
	timeout := time.Duration(config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Influx{
		client:  client,
		w:       client.WriteAPIBlocking(config.Org, config.Bucket),
		timeout: timeout,
	}
}

func (self *Influx) Name() string { return "influx" }

func (self *Influx) Handle(c *types.Collection) error {
	ctx, cancel := context.WithTimeout(context.Background(), self.timeout)
	defer cancel()
	return errors.Annotatef(self.w.WritePoint(ctx, Points(c)...), "influx collection=%s", c.ID)
}

func (self *Influx) Close() {
	if self.client != nil {
		self.client.Close()
	}
}

// Points offsets time by packet index, so packets of same type and source
// in one collection do not overwrite each other.
func Points(c *types.Collection) []*write.Point {
	points := make([]*write.Point, 0, len(c.Packets))
	for i, p := range c.Packets {
		tags := map[string]string{
			"source":  p.Source(),
			"channel": c.Channel.String(),
		}
		if c.SourceID != "" {
			tags["source_id"] = c.SourceID
		}
		if c.Fragment != 0 {
			tags["fragment"] = strconv.Itoa(c.Fragment)
		}
		points = append(points, write.NewPoint(p.Type(), tags, p.Fields(), c.Time.Add(time.Duration(i))))
	}
	return points
}
