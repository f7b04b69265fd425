package state

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/solarmate/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, 250*time.Millisecond, c.Window())
			loc, err := c.Location()
			require.NoError(t, err)
			assert.Equal(t, time.Local, loc)
		}, ""},

		{"mate",
			`mate { device = "/dev/ttyUSB3" baud = 19200 } pipeline { window_ms = 100 time_zone = "UTC" }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "/dev/ttyUSB3", c.Mate.Device)
				assert.Equal(t, 19200, c.Mate.Baud)
				assert.Equal(t, 100*time.Millisecond, c.Window())
				loc, err := c.Location()
				require.NoError(t, err)
				assert.Equal(t, "UTC", loc.String())
				assert.NoError(t, c.Validate())
			},
			"",
		},

		{"rules", `
mate { device = "/dev/null" }
command { enable = true allowed = ["AUX_ON", "AUX_OFF"] }
rule "aux-low" { when = "mx.battery_voltage < 24" command = "AUX_OFF" cooldown_sec = 60 }
rule "aux-high" { when = "mx.battery_voltage > 27.5" command = "AUX_ON" }`,
			func(t testing.TB, c *Config) {
				require.Len(t, c.Rules, 2)
				assert.Equal(t, RuleConfig{Name: "aux-low", When: "mx.battery_voltage < 24", Command: "AUX_OFF", CooldownSec: 60}, c.Rules[0])
				assert.Equal(t, "aux-high", c.Rules[1].Name)
				assert.Equal(t, []string{"AUX_ON", "AUX_OFF"}, c.Command.Allowed)
				assert.NoError(t, c.Validate())
			},
			"",
		},

		{"sinks", `
sink {
	persist { enable = true queue_path = "/tmp/q" mqtt_broker = "tcp://localhost:1883" }
	kafka { enable = true brokers = ["k1:9092", "k2:9092"] topic = "solar" }
}
http { listen = ":8080" }`,
			func(t testing.TB, c *Config) {
				assert.True(t, c.Sink.Persist.Enable)
				assert.Equal(t, "/tmp/q", c.Sink.Persist.QueuePath)
				assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Sink.Kafka.Brokers)
				assert.Equal(t, ":8080", c.HTTP.Listen)
			},
			"",
		},

		{"include-normalize", `
mate { device = "/dev/null" }
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "window-100" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 100*time.Millisecond, c.Window())
			}, ""},

		{"include-overwrites", `
pipeline { window_ms = 500 }
include "window-100" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 100*time.Millisecond, c.Window())
			}, ""},

		{"include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"window-100":   "pipeline{window_ms=100}",
				"error-syntax": "hello",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		input     string
		expectErr []string
	}{
		{"ok", `mate { device = "/dev/null" }`, nil},
		{"no-device", ``, []string{"mate.device=empty"}},
		{"bad-zone", `mate { device = "x" } pipeline { time_zone = "Mars/Olympus" }`, []string{"time_zone=Mars/Olympus"}},
		{"bad-ids", `mate { device = "x" } pipeline { status_ids = "sequential" }`, []string{"id generator=sequential"}},
		{"rules-without-command", `mate { device = "x" } rule "r" { when = "mx.aux_mode == 1" command = "AUX_ON" }`, []string{"command.enable=true"}},
		{"persist-without-queue", `sink { persist { enable = true } }`, []string{"mate.device=empty", "queue_path=empty"}},
		{"fx-warning-address", `mate { device = "x" } pipeline { fx_warning_ignore = { "first" = 4 } }`, []string{"fx_warning_ignore address=first"}},
		{"negative-fragment", `mate { device = "x" } pipeline { fragment = -1 }`, []string{"pipeline.fragment=-1"}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			cfg, err := ReadConfig(log, NewMockFullReader(map[string]string{"main": c.input}), "main")
			require.NoError(t, err)
			err = cfg.Validate()
			if len(c.expectErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, s := range c.expectErr {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestPipelineOrigin(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg, err := ReadConfig(log, NewMockFullReader(map[string]string{"main": `
mate { device = "x" }
pipeline {
  source_id = "cabin"
  fragment = 2
  fx_warning_ignore = { "0" = 4, "2" = 3 }
}`}), "main")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "cabin", cfg.Pipeline.SourceID)
	assert.Equal(t, 2, cfg.Pipeline.Fragment)
	ignore, err := cfg.FXWarningIgnore()
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 4, 2: 3}, ignore)
}

func TestConfigRedacted(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg, err := ReadConfig(log, NewMockFullReader(map[string]string{"main": `
mate { device = "x" }
command { remote { password = "remote-secret" } }
sink {
  persist { mqtt_password = "persist-secret" }
  influx { url = "http://influx" token = "influx-secret" }
}`}), "main")
	require.NoError(t, err)
	r := cfg.Redacted()
	s := fmt.Sprintf("%+v", r)
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "http://influx")
	assert.Equal(t, "x", r.Mate.Device)
	// original untouched
	assert.Equal(t, "influx-secret", cfg.Sink.Influx.Token)
	assert.Equal(t, "", r.Command.Remote.Username)
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../../solarmate.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	c := MustReadConfig(log, NewOsFullReader(), "../../solarmate.hcl")
	assert.NoError(t, c.Validate())
}
