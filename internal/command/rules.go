package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

// Environment accepts commands decided by rules.
// Pending reports whether command from source still waits in the queue.
type Environment interface {
	Enqueue(sc SourcedCommand)
	Pending(source string) bool
}

type env struct {
	queue *Queue
}

func NewEnvironment(q *Queue) Environment { return env{queue: q} }

func (self env) Enqueue(sc SourcedCommand)  { self.queue.Push(sc) }
func (self env) Pending(source string) bool { return self.queue.Has(source) }

// Condition compares one status field: "mx.battery_voltage < 24.0".
// Selector is device type ("fx", "mx") matching any address,
// or exact source ("mx/1") matching single device.
type Condition struct {
	Device string
	Field  string
	Op     string
	Value  float64
}

var ops = []string{"<=", ">=", "==", "!=", "<", ">"}

func ParseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	for _, op := range ops {
		i := strings.Index(s, op)
		if i < 0 {
			continue
		}
		sel := strings.TrimSpace(s[:i])
		dot := strings.LastIndexByte(sel, '.')
		if dot <= 0 || dot == len(sel)-1 {
			return Condition{}, errors.NotValidf("condition selector=%q", sel)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s[i+len(op):]), 64)
		if err != nil {
			return Condition{}, errors.Annotatef(err, "condition=%q value", s)
		}
		return Condition{Device: sel[:dot], Field: sel[dot+1:], Op: op, Value: v}, nil
	}
	return Condition{}, errors.NotValidf("condition=%q operator", s)
}

func (self Condition) matchPacket(p types.Packet) bool {
	if strings.Contains(self.Device, "/") {
		if p.Source() != self.Device {
			return false
		}
	} else if p.Type() != self.Device+"_status" {
		return false
	}
	var x float64
	switch v := p.Fields()[self.Field].(type) {
	case int:
		x = float64(v)
	case float64:
		x = v
	default:
		return false
	}
	switch self.Op {
	case "<":
		return x < self.Value
	case "<=":
		return x <= self.Value
	case ">":
		return x > self.Value
	case ">=":
		return x >= self.Value
	case "==":
		return x == self.Value
	case "!=":
		return x != self.Value
	}
	return false
}

// Match is true when any packet of the collection satisfies condition.
func (self Condition) Match(c *types.Collection) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Packets {
		if self.matchPacket(p) {
			return true
		}
	}
	return false
}

// Rule enqueues Command when all conditions match, at most once per Cooldown.
type Rule struct {
	Name       string
	Conditions []Condition
	Command    mate.Command
	Cooldown   time.Duration
	last       time.Time
}

// ParseRule accepts conditions joined with "&&".
func ParseRule(name, when, command string, cooldown time.Duration) (*Rule, error) {
	c, err := mate.ParseCommand(command)
	if err != nil {
		return nil, errors.Annotatef(err, "rule=%s", name)
	}
	r := &Rule{Name: name, Command: c, Cooldown: cooldown}
	for _, part := range strings.Split(when, "&&") {
		cond, err := ParseCondition(part)
		if err != nil {
			return nil, errors.Annotatef(err, "rule=%s", name)
		}
		r.Conditions = append(r.Conditions, cond)
	}
	return r, nil
}

func (self *Rule) Match(c *types.Collection) bool {
	for _, cond := range self.Conditions {
		if !cond.Match(c) {
			return false
		}
	}
	return len(self.Conditions) != 0
}

// Rules evaluates each dispatched status collection.
// Rule is skipped while its previous command is still queued,
// so silent device or slow link never builds backlog.
type Rules struct {
	log   *log2.Log
	env   Environment
	rules []*Rule
}

func NewRules(env Environment, log *log2.Log, rules ...*Rule) *Rules {
	return &Rules{log: log, env: env, rules: rules}
}

func (self *Rules) Len() int { return len(self.rules) }

func (self *Rules) Evaluate(status *types.Collection, now time.Time) {
	if status == nil {
		return
	}
	for _, r := range self.rules {
		if !r.last.IsZero() && now.Sub(r.last) < r.Cooldown {
			continue
		}
		source := SourceRule + "/" + r.Name
		if self.env.Pending(source) {
			continue
		}
		if !r.Match(status) {
			continue
		}
		r.last = now
		sc := SourcedCommand{Command: r.Command, Source: source}
		self.log.Debugf("rule=%s matched collection=%s enqueue %s", r.Name, status.ID, sc)
		self.env.Enqueue(sc)
	}
}
