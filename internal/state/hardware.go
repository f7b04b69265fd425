package state

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/hardware/mate"
)

type hardware struct {
	Mate struct {
		once
		// preset Transport skips opening serial device, used in tests
		Transport mate.Transport
	}
}

func (g *Global) Mate() (mate.Transport, error) {
	x := &g.Hardware.Mate // short alias
	_ = x.do(func() error {
		if x.Transport != nil {
			return nil
		}
		cfg := &g.Config.Mate
		t, err := mate.OpenSerial(cfg.Device, cfg.Baud, g.Config.Command.Enable)
		x.Transport = t
		return errors.Annotate(err, "mate")
	})
	return x.Transport, x.err
}

func (g *Global) closeMate() {
	x := &g.Hardware.Mate
	if !x.done() || x.Transport == nil {
		return
	}
	if err := x.Transport.Close(); err != nil {
		g.Log.Errorf("mate close err=%v", err)
	}
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
