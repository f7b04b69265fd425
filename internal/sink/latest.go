package sink

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

type storage interface {
	Read() ([]byte, error)
	Write(b []byte) (int, error)
}

// Latest keeps most recent status collection: environment snapshot for rules.
// Replaced on every Handle, never rolled back.
// Optionally stores JSON snapshot on disk, at most once per PersistEvery.
type Latest struct {
	PersistEvery time.Duration

	log      *log2.Log
	mu       sync.RWMutex
	c        *types.Collection
	storage  storage
	stored   time.Time
	snapshot []byte
}

func NewLatest(log *log2.Log) *Latest {
	return &Latest{log: log}
}

// EnablePersist loads previous snapshot from dir.
func (self *Latest) EnablePersist(dir string, every time.Duration) error {
	if dir == "" {
		return errors.NotValidf("latest persist dir=empty")
	}
	self.PersistEvery = every
	self.storage = extremofile.New(extremofile.Config{
		Dir:      dir,
		DirPerm:  0755,
		FilePerm: 0644,
	})
	tbegin := time.Now()
	b, err := self.storage.Read()
	self.log.Debugf("latest storage.read duration=%v", time.Since(tbegin))
	if b != nil {
		if err != nil {
			self.log.Errorf("latest ignore non-critical storage err=%v", err)
		}
		self.mu.Lock()
		self.snapshot = b
		self.mu.Unlock()
		return nil
	}
	return errors.Annotate(err, "latest persist load")
}

func (self *Latest) Name() string { return "latest" }

func (self *Latest) Handle(c *types.Collection) error {
	if c.Channel != types.KindStatus {
		return errors.NotValidf("latest channel=%s", c.Channel)
	}
	cp := c.Copy()
	self.mu.Lock()
	self.c = cp
	self.mu.Unlock()

	if self.storage == nil || c.Time.Sub(self.stored) < self.PersistEvery {
		return nil
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return errors.Annotate(err, "latest marshal")
	}
	if _, err = self.storage.Write(b); err != nil {
		return errors.Annotate(err, "latest persist store")
	}
	self.stored = c.Time
	self.mu.Lock()
	self.snapshot = b
	self.mu.Unlock()
	return nil
}

// Collection is environment snapshot, nil before first status.
// Must not be modified.
func (self *Latest) Collection() *types.Collection {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.c
}

// ServeHTTP responds with current collection JSON or last stored snapshot.
func (self *Latest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var b []byte
	c := self.Collection()
	if c != nil {
		var err error
		if b, err = json.Marshal(c); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		self.mu.RLock()
		b = self.snapshot
		self.mu.RUnlock()
	}
	if b == nil {
		http.Error(w, "no status yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}
