package state

import (
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/solarmate/helpers"
	"github.com/temoto/solarmate/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Log struct {
		Level string `hcl:"level"`
	}

	Mate struct {
		Device         string `hcl:"device"`
		Baud           int    `hcl:"baud"`
		IgnoreChecksum bool   `hcl:"ignore_checksum"`
	}

	Pipeline struct {
		WindowMs    int    `hcl:"window_ms"`
		TimeZone    string `hcl:"time_zone"`
		StatusIDs   string `hcl:"status_ids"`
		EventIDs    string `hcl:"event_ids"`
		SlotsInHour int    `hcl:"slots_in_hour"`
		RecencySec  int    `hcl:"recency_sec"`

		// SourceID and Fragment are stamped on every collection
		SourceID string `hcl:"source_id"`
		Fragment int    `hcl:"fragment"`

		// FX address -> warning_mode bits that never produce change event
		FXWarningIgnore map[string]int `hcl:"fx_warning_ignore"`
	}

	Command struct {
		Enable    bool     `hcl:"enable"`
		InputPath string   `hcl:"input_path"`
		Allowed   []string `hcl:"allowed"`
		Remote    struct {
			Enable       bool   `hcl:"enable"`
			Broker       string `hcl:"broker"`
			ClientID     string `hcl:"client_id"`
			Username     string `hcl:"username"`
			Password     string `hcl:"password"`
			Topic        string `hcl:"topic"`
			KeepaliveSec int    `hcl:"keepalive_sec"`
			QueueLimit   int    `hcl:"queue_limit"`
		} `hcl:"remote"`
	}

	Rules []RuleConfig `hcl:"rule"`

	Sink struct {
		Latest struct {
			PersistDir      string `hcl:"persist_dir"`
			PersistEverySec int    `hcl:"persist_every_sec"`
		} `hcl:"latest"`
		Debug struct {
			Enable bool `hcl:"enable"`
		} `hcl:"debug"`
		Persist struct {
			Enable            bool   `hcl:"enable"`
			QueuePath         string `hcl:"queue_path"`
			TopicPrefix       string `hcl:"topic_prefix"`
			MqttBroker        string `hcl:"mqtt_broker"`
			MqttClientID      string `hcl:"mqtt_client_id"`
			MqttUsername      string `hcl:"mqtt_username"`
			MqttPassword      string `hcl:"mqtt_password"`
			MqttStorePath     string `hcl:"mqtt_store_path"`
			KeepaliveSec      int    `hcl:"keepalive_sec"`
			PublishTimeoutSec int    `hcl:"publish_timeout_sec"`
		} `hcl:"persist"`
		Influx struct {
			Enable     bool   `hcl:"enable"`
			URL        string `hcl:"url"`
			Token      string `hcl:"token"`
			Org        string `hcl:"org"`
			Bucket     string `hcl:"bucket"`
			TimeoutSec int    `hcl:"timeout_sec"`
		} `hcl:"influx"`
		Kafka struct {
			Enable     bool     `hcl:"enable"`
			Brokers    []string `hcl:"brokers"`
			Topic      string   `hcl:"topic"`
			TimeoutSec int      `hcl:"timeout_sec"`
		} `hcl:"kafka"`
		Live struct {
			Enable bool `hcl:"enable"`
		} `hcl:"live"`
		Analytics struct {
			Enable bool `hcl:"enable"`
		} `hcl:"analytics"`
	}

	// HTTP serves /metrics, /latest and /live when Listen is set.
	HTTP struct {
		Listen string `hcl:"listen"`
	} `hcl:"http"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type RuleConfig struct {
	Name        string `hcl:"name,key"`
	When        string `hcl:"when"`
	Command     string `hcl:"command"`
	CooldownSec int    `hcl:"cooldown_sec"`
}

func (c *Config) Window() time.Duration {
	return helpers.IntMillisecondDefault(c.Pipeline.WindowMs, 250*time.Millisecond)
}

// Location is time zone for collection date keys, local when empty.
func (c *Config) Location() (*time.Location, error) {
	if c.Pipeline.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Pipeline.TimeZone)
	return loc, errors.Annotatef(err, "config pipeline.time_zone=%s", c.Pipeline.TimeZone)
}

const redactedSecret = "(redacted)"

// Redacted is copy safe to log: passwords and tokens are masked.
func (c *Config) Redacted() *Config {
	r := &Config{
		Log:      c.Log,
		Mate:     c.Mate,
		Pipeline: c.Pipeline,
		Command:  c.Command,
		Rules:    c.Rules,
		Sink:     c.Sink,
		HTTP:     c.HTTP,
	}
	mask := func(s *string) {
		if *s != "" {
			*s = redactedSecret
		}
	}
	mask(&r.Command.Remote.Password)
	mask(&r.Sink.Persist.MqttPassword)
	mask(&r.Sink.Influx.Token)
	return r
}

// FXWarningIgnore parses pipeline.fx_warning_ignore keys as FX addresses.
func (c *Config) FXWarningIgnore() (map[int]int, error) {
	out := make(map[int]int, len(c.Pipeline.FXWarningIgnore))
	for key, mask := range c.Pipeline.FXWarningIgnore {
		addr, err := strconv.Atoi(key)
		if err != nil || addr < 0 || mask < 0 {
			return nil, errors.NotValidf("config pipeline.fx_warning_ignore address=%s mask=%d", key, mask)
		}
		out[addr] = mask
	}
	return out, nil
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.Mate.Device == "" {
		errs = append(errs, errors.NotValidf("config mate.device=empty"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	for _, kind := range []string{c.Pipeline.StatusIDs, c.Pipeline.EventIDs} {
		switch kind {
		case "", "timed", "counter", "uuid":
		default:
			errs = append(errs, errors.NotValidf("config pipeline id generator=%s", kind))
		}
	}
	if _, err := c.FXWarningIgnore(); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.Fragment < 0 {
		errs = append(errs, errors.NotValidf("config pipeline.fragment=%d", c.Pipeline.Fragment))
	}
	if len(c.Rules) != 0 && !c.Command.Enable {
		errs = append(errs, errors.NotValidf("config rules require command.enable=true"))
	}
	if c.Sink.Persist.Enable && c.Sink.Persist.QueuePath == "" {
		errs = append(errs, errors.NotValidf("config sink.persist.queue_path=empty"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
