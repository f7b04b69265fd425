package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/alive/v2"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/helpers"
	"github.com/temoto/solarmate/internal/command"
	"github.com/temoto/solarmate/internal/ident"
	"github.com/temoto/solarmate/internal/metrics"
	"github.com/temoto/solarmate/internal/pipeline"
	"github.com/temoto/solarmate/internal/sink"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Hardware     hardware // hardware.go
	Log          *log2.Log
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry

	Latest *sink.Latest
	Live   *sink.Live
	Runner *pipeline.Runner
	// RuleQueue holds commands decided by rules, nil when commands are disabled
	RuleQueue *command.Queue

	closeMu sync.Mutex
	closers []func()

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

// Health is served as JSON on /health.
type Health struct {
	State      string    `json:"state"`
	Cycles     uint64    `json:"cycles"`
	LastCycle  time.Time `json:"last_cycle"`
	LastPacket time.Time `json:"last_packet"`
}

// Mate is silent for longer than this, report unhealthy.
const healthStale = 30 * time.Second

func NewGlobal(log *log2.Log) *Global {
	if log == nil {
		panic("code error NewGlobal() log=nil")
	}
	return &Global{
		Alive:        alive.NewAlive(),
		BuildVersion: "unknown",
		Log:          log,
	}
}

func NewContext(log *log2.Log) (context.Context, *Global) {
	g := NewGlobal(log)
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(cfg *Config) error {
	g.Config = cfg
	g.Log.Infof("build version=%s", g.BuildVersion)

	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	if cfg.Log.Level != "" {
		level, err := log2.ParseLevel(cfg.Log.Level)
		if err != nil {
			return errors.Annotate(err, "config log.level")
		}
		g.Log.SetLevel(level)
	}

	g.Registry = prometheus.NewRegistry()
	g.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	g.Metrics = metrics.New(g.Registry, g.Log)
	g.Log.SetErrorFunc(g.Metrics.CountError)

	if err := g.initPipeline(); err != nil {
		return errors.Annotate(err, "pipeline init")
	}
	return errors.Annotate(g.initHTTP(), "http init")
}

func (g *Global) MustInit(cfg *Config) {
	err := g.Init(cfg)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) initPipeline() error {
	cfg := g.Config
	transport, err := g.Mate()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	fxIgnore, err := cfg.FXWarningIgnore()
	if err != nil {
		return err
	}

	ingest := pipeline.NewIngest(g.Log, g.Metrics, pipeline.NewChangeDetector(nil, pipeline.WithFXWarningIgnore(fxIgnore)))
	status := pipeline.NewChannel(types.KindStatus, g.idGenerator(cfg.Pipeline.StatusIDs, "timed"), loc, g.Log, g.Metrics)
	events := pipeline.NewChannel(types.KindEvent, g.idGenerator(cfg.Pipeline.EventIDs, "uuid"), loc, g.Log, g.Metrics)
	for _, ch := range []*pipeline.Channel{status, events} {
		ch.SourceID = cfg.Pipeline.SourceID
		ch.Fragment = cfg.Pipeline.Fragment
	}
	if err := g.initSinks(status, events); err != nil {
		return err
	}

	g.Runner = &pipeline.Runner{
		Window:  cfg.Window(),
		Source:  mate.NewDecoder(g.Metrics.CountRead(transport), cfg.Mate.IgnoreChecksum, g.Metrics),
		Output:  g.Metrics.CountWrite(transport.Output()),
		Ingest:  ingest,
		Status:  status,
		Events:  events,
		Log:     g.Log,
		Metrics: g.Metrics,
	}
	if !cfg.Command.Enable {
		g.Log.Infof("commands disabled, mate output is not used")
		return nil
	}
	return g.initCommands(ingest, status)
}

func (g *Global) idGenerator(kind, fallback string) ident.Generator {
	if kind == "" {
		kind = fallback
	}
	switch kind {
	case "counter":
		return &ident.Counter{}
	case "uuid":
		return ident.UUID{}
	default:
		return &ident.Timed{
			SlotsInHour: g.Config.Pipeline.SlotsInHour,
			Recency:     time.Duration(g.Config.Pipeline.RecencySec) * time.Second,
		}
	}
}

func (g *Global) initSinks(status, events *pipeline.Channel) error {
	cfg := &g.Config.Sink

	g.Latest = sink.NewLatest(g.Log)
	if cfg.Latest.PersistDir != "" {
		every := helpers.IntSecondDefault(cfg.Latest.PersistEverySec, time.Minute)
		if err := g.Latest.EnablePersist(cfg.Latest.PersistDir, every); err != nil {
			g.Log.Errorf("latest snapshot not loaded err=%v", err)
		}
	}
	status.Register(g.Latest)

	if cfg.Debug.Enable {
		d := sink.NewDebug(g.Log)
		status.Register(d)
		events.Register(d)
	}
	if cfg.Analytics.Enable {
		status.Register(sink.NewAnalytics(g.Registry))
	}
	if cfg.Persist.Enable {
		pub := sink.NewMqttPublisher(sink.MqttConfig{
			Broker:            cfg.Persist.MqttBroker,
			ClientID:          cfg.Persist.MqttClientID,
			Username:          cfg.Persist.MqttUsername,
			Password:          cfg.Persist.MqttPassword,
			KeepaliveSec:      cfg.Persist.KeepaliveSec,
			PublishTimeoutSec: cfg.Persist.PublishTimeoutSec,
			StorePath:         cfg.Persist.MqttStorePath,
		}, g.Log)
		p, err := sink.NewPersist(cfg.Persist.QueuePath, pub, cfg.Persist.TopicPrefix, g.Log)
		if err != nil {
			return err
		}
		pub.Start()
		// queue worker stops before connection
		g.addCloser(pub.Close)
		g.addCloser(func() {
			if err := p.Close(); err != nil {
				g.Log.Errorf("persist close err=%v", err)
			}
		})
		status.Register(p)
		events.Register(p)
	}
	if cfg.Influx.Enable {
		i := sink.NewInflux(sink.InfluxConfig{
			URL:        cfg.Influx.URL,
			Token:      cfg.Influx.Token,
			Org:        cfg.Influx.Org,
			Bucket:     cfg.Influx.Bucket,
			TimeoutSec: cfg.Influx.TimeoutSec,
		})
		g.addCloser(i.Close)
		status.Register(i)
		events.Register(i)
	}
	if cfg.Kafka.Enable {
		k := sink.NewKafka(sink.KafkaConfig{
			Brokers:    cfg.Kafka.Brokers,
			Topic:      cfg.Kafka.Topic,
			TimeoutSec: cfg.Kafka.TimeoutSec,
		})
		g.addCloser(func() {
			if err := k.Close(); err != nil {
				g.Log.Errorf("kafka close err=%v", err)
			}
		})
		status.Register(k)
		events.Register(k)
	}
	if cfg.Live.Enable {
		g.Live = sink.NewLive(g.Log)
		g.addCloser(g.Live.Close)
		status.Register(g.Live)
		events.Register(g.Live)
	}
	g.Log.Debugf("sinks status=%v events=%v", status.Sinks(), events.Sinks())
	return nil
}

func (g *Global) initCommands(ingest types.Ingester, status *pipeline.Channel) error {
	cfg := &g.Config.Command
	allow, err := command.ParseAllowList(cfg.Allowed)
	if err != nil {
		return errors.Annotate(err, "command allowed")
	}

	// order is priority: operator, remote, automation
	mux := command.NewMultiplexer()
	if cfg.InputPath != "" {
		if fp, err := command.NewFileProvider(cfg.InputPath, g.Log); err != nil {
			g.Log.Errorf("manual command input disabled err=%v", err)
		} else {
			mux.Add(fp)
		}
	}
	if cfg.Remote.Enable {
		r := command.NewRemote(command.RemoteConfig{
			Broker:       cfg.Remote.Broker,
			ClientID:     cfg.Remote.ClientID,
			Username:     cfg.Remote.Username,
			Password:     cfg.Remote.Password,
			Topic:        cfg.Remote.Topic,
			KeepaliveSec: cfg.Remote.KeepaliveSec,
			QueueLimit:   cfg.Remote.QueueLimit,
		}, g.Log)
		if err := r.Start(); err != nil {
			return err
		}
		g.addCloser(r.Close)
		mux.Add(r)
	}
	queue := &command.Queue{}
	mux.Add(queue)
	g.RuleQueue = queue
	status.Attach(command.NewAvailableCommands(allow))

	if len(g.Config.Rules) != 0 {
		rules := make([]*command.Rule, 0, len(g.Config.Rules))
		errs := make([]error, 0)
		for _, rc := range g.Config.Rules {
			r, err := command.ParseRule(rc.Name, rc.When, rc.Command, time.Duration(rc.CooldownSec)*time.Second)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !allow.Allowed(r.Command) {
				g.Log.Errorf("rule=%s command=%s is not allowed, will be rejected", r.Name, r.Command)
			}
			rules = append(rules, r)
		}
		if err := helpers.FoldErrors(errs); err != nil {
			return err
		}
		g.Runner.Rules = command.NewRules(command.NewEnvironment(queue), g.Log, rules...)
	}

	g.Runner.Commands = command.NewSender(mux, allow, ingest, g.Log, g.Metrics)
	g.Log.Infof("commands enabled allowed=%s providers=%d rules=%d", allow.String(), mux.Len(), len(g.Config.Rules))
	return nil
}

func (g *Global) initHTTP() error {
	listen := g.Config.HTTP.Listen
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/latest", g.Latest)
	mux.HandleFunc("/health", g.serveHealth)
	if g.Live != nil {
		mux.Handle("/live", g.Live)
	}
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	g.addCloser(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	go func() {
		g.Log.Infof("http listen=%s", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.Log.Errorf("http listen=%s err=%v", listen, err)
		}
	}()
	return nil
}

func (g *Global) Health() Health {
	return Health{
		State:      g.Runner.State().String(),
		Cycles:     g.Runner.Cycles(),
		LastCycle:  g.Runner.LastCycle(),
		LastPacket: g.Runner.LastPacket(),
	}
}

func (g *Global) serveHealth(w http.ResponseWriter, r *http.Request) {
	h := g.Health()
	code := http.StatusOK
	if h.LastPacket.IsZero() || time.Since(h.LastPacket) > healthStale {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(h)
}

// Run blocks until transport fails or Stop.
// Error after Stop is expected and not returned.
func (g *Global) Run() error {
	if !g.Alive.Add(1) {
		return nil
	}
	defer g.Alive.Done()
	err := g.Runner.Run()
	if !g.Alive.IsRunning() {
		g.Log.Debugf("pipeline stopped err=%v", err)
		return nil
	}
	return err
}

func (g *Global) addCloser(f func()) {
	g.closeMu.Lock()
	g.closers = append(g.closers, f)
	g.closeMu.Unlock()
}

// Stop closes transport, pending batches are flushed by Run.
func (g *Global) Stop() {
	g.Alive.Stop()
	g.closeMate()
}

// StopWait stops and releases resources, closers run in reverse order.
func (g *Global) StopWait(timeout time.Duration) bool {
	g.Stop()
	ok := true
	select {
	case <-g.Alive.WaitChan():
	case <-time.After(timeout):
		ok = false
	}
	g.closeMu.Lock()
	closers := g.closers
	g.closers = nil
	g.closeMu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	return ok
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}
