package sink

import (
	"encoding/json"

	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

type Debug struct {
	log *log2.Log
}

func NewDebug(log *log2.Log) *Debug { return &Debug{log: log} }

func (self *Debug) Name() string { return "debug" }

func (self *Debug) Handle(c *types.Collection) error {
	if !self.log.Enabled(log2.LDebug) {
		return nil
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	self.log.Debugf("%s collection %s", c.Channel, b)
	return nil
}
