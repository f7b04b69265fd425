package command

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

func mxPacket(address int, batteryTenths int, chargerMode int) types.Packet {
	return mate.MXStatus{Address: address, BatteryTenths: batteryTenths, ChargerMode: chargerMode}
}

func TestParseCondition(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input     string
		expect    Condition
		expectErr string
	}{
		{"mx.battery_voltage < 24.0", Condition{"mx", "battery_voltage", "<", 24}, ""},
		{" fx/1.operating_mode>=2", Condition{"fx/1", "operating_mode", ">=", 2}, ""},
		{"mx.charger_mode != 0", Condition{"mx", "charger_mode", "!=", 0}, ""},
		{"mx.battery_voltage", Condition{}, "operator"},
		{"battery_voltage < 2", Condition{}, "selector"},
		{"mx.battery_voltage < low", Condition{}, "value"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			t.Parallel()
			cond, err := ParseCondition(c.input)
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, cond)
		})
	}
}

func TestRulesEvaluate(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	q := &Queue{}
	low, err := ParseRule("low", "mx.battery_voltage < 24.0 && mx/0.charger_mode == 0", "aux_on", time.Minute)
	require.NoError(t, err)
	high, err := ParseRule("high", "mx.battery_voltage >= 28", "AUX_OFF", 0)
	require.NoError(t, err)
	rules := NewRules(NewEnvironment(q), log, low, high)
	assert.Equal(t, 2, rules.Len())

	// no status in this cycle
	rules.Evaluate(nil, testEpoch)
	assert.Equal(t, 0, q.Len())

	status := &types.Collection{ID: "1", Packets: []types.Packet{mxPacket(0, 236, 0), mxPacket(1, 250, 2)}}
	rules.Evaluate(status, testEpoch)
	sc, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, SourcedCommand{mate.CommandAuxOn, "rule/low"}, sc)
	_, ok = q.Poll()
	assert.False(t, ok)

	// cooldown
	rules.Evaluate(status, testEpoch.Add(30*time.Second))
	assert.Equal(t, 0, q.Len())
	rules.Evaluate(status, testEpoch.Add(61*time.Second))
	assert.Equal(t, 1, q.Len())

	// high has no cooldown, but its first command is still queued
	status = &types.Collection{ID: "2", Packets: []types.Packet{mxPacket(0, 281, 1)}}
	rules.Evaluate(status, testEpoch.Add(62*time.Second))
	rules.Evaluate(status, testEpoch.Add(63*time.Second))
	assert.Equal(t, 2, q.Len())
	assert.True(t, q.Has("rule/high"))
	assert.False(t, q.Has("rule/other"))
}

func TestRulesSilentDevice(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	env := newSenderEnv(t, NewAllowList(mate.DefaultAllowed...))
	low1, err := ParseRule("low1", "mx.battery_voltage < 24.0", "AUX_OFF", 0)
	require.NoError(t, err)
	low2, err := ParseRule("low2", "mx.battery_voltage < 24.0", "DROP", 0)
	require.NoError(t, err)
	rules := NewRules(NewEnvironment(env.queue), log, low1, low2)

	status := &types.Collection{ID: "1", Packets: []types.Packet{mxPacket(0, 238, 0)}}
	var out bytes.Buffer
	now := testEpoch
	for i := 0; i < 240; i++ {
		// single status at the start, device silent afterwards
		if i == 0 {
			rules.Evaluate(status, now)
		} else {
			rules.Evaluate(nil, now)
		}
		require.NoError(t, env.sender.Cycle(&out, now))
		now = now.Add(250 * time.Millisecond)
	}
	assert.Len(t, env.ingest.got, 2)
	assert.Equal(t, 0, env.queue.Len())

	// repeated status while commands wait never grows the queue past one per rule
	for i := 0; i < 10; i++ {
		rules.Evaluate(status, now)
		now = now.Add(250 * time.Millisecond)
	}
	assert.Equal(t, 2, env.queue.Len())
}

func TestParseRuleInvalid(t *testing.T) {
	t.Parallel()
	_, err := ParseRule("x", "mx.battery_voltage < 24", "self_destruct", 0)
	assert.Error(t, err)
	_, err = ParseRule("x", "mx.battery_voltage < 24 && ", "AUX_ON", 0)
	assert.Error(t, err)
}

func TestRemotePayload(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	r := NewRemote(RemoteConfig{Broker: "tcp://127.0.0.1:1", ClientID: "mate1", QueueLimit: 1}, log)
	assert.Equal(t, "mate1/command", r.topic)
	r.handlePayload([]byte(" use\n"))
	r.handlePayload([]byte("explode"))
	r.handlePayload([]byte("DROP"))
	assert.Equal(t, 1, r.Len())
	sc, ok := r.Poll()
	require.True(t, ok)
	assert.Equal(t, SourcedCommand{mate.CommandUse, SourceRemote}, sc)
}
