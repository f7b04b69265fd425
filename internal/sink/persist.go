package sink

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/solarmate/helpers"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
	"github.com/temoto/spq"
)

// Publisher delivers one encoded collection. false means retry later.
type Publisher interface {
	Publish(topic string, payload []byte) bool
}

// Persist contract:
// - Handle blocks at most for disk write, network may be slow or absent
// - collections are delivered at least once, order is not preserved on retry
// - Close waits for worker to stop, undelivered items stay on disk
type Persist struct {
	log     *log2.Log
	q       *spq.Queue
	pub     Publisher
	prefix  string
	alive   *alive.Alive
	backoff helpers.Backoff
}

func NewPersist(path string, pub Publisher, topicPrefix string, log *log2.Log) (*Persist, error) {
	if pub == nil {
		panic("code error persist sink publisher=nil")
	}
	if path == "" {
		return nil, errors.NotValidf("persist queue path=empty")
	}
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "persist queue path=%s", path)
	}
	self := &Persist{
		log:    log,
		q:      q,
		pub:    pub,
		prefix: topicPrefix,
		alive:  alive.NewAlive(),
		backoff: helpers.Backoff{
			Min: 100 * time.Millisecond,
			Max: time.Minute,
			K:   2,
		},
	}
	self.alive.Add(1)
	go self.qworker()
	return self, nil
}

func (self *Persist) Name() string { return "persist" }

func (self *Persist) Handle(c *types.Collection) error {
	b, err := EncodeCollection(c)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(self.q.Push(b), "persist collection=%s", c.ID)
}

func (self *Persist) Close() error {
	self.alive.Stop()
	err := self.q.Close()
	self.alive.Wait()
	return errors.Annotate(err, "persist queue close")
}

func (self *Persist) topic(kind types.Kind) string {
	return self.prefix + "/" + kind.String()
}

func (self *Persist) qworker() {
	defer self.alive.Done()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			del, retry := self.qhandle(b)
			if del {
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("persist Delete err=%v", err)
				}
			} else {
				if err = self.q.DeletePush(box); err != nil {
					self.log.Errorf("persist DeletePush err=%v", err)
				}
			}
			if !retry {
				self.backoff.Reset()
				break
			}
			select {
			case <-time.After(self.backoff.DelayAfter(false)):
			case <-self.alive.StopChan():
			}

		case spq.ErrClosed:
			if self.alive.IsRunning() {
				self.log.Errorf("CRITICAL persist spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL persist spq err=%v", err)
			if spq.IsCorrupted(err) || !self.alive.IsRunning() {
				return
			}
			time.Sleep(self.backoff.DelayAfter(false))
		}
	}
}

// qhandle returns del=true when item must leave queue,
// retry=true when delivery failed and should be attempted later.
func (self *Persist) qhandle(b []byte) (del bool, retry bool) {
	kind, payload, _, err := DecodeCollection(b)
	if err != nil {
		self.log.Errorf("persist drop undecodable item b=%x err=%v", b, err)
		return true, false
	}
	if self.pub.Publish(self.topic(kind), payload) {
		return true, false
	}
	return false, true
}
