package types

// Sink consumes dispatched collections. Errors are reported per call and
// must not stop the pipeline.
type Sink interface {
	Name() string
	Handle(c *Collection) error
}

type SinkFunc struct {
	N string
	F func(c *Collection) error
}

func (self SinkFunc) Name() string                { return self.N }
func (self SinkFunc) Handle(c *Collection) error { return self.F(c) }
