package command

import "sync"

// Queue is FIFO provider for producers running on pipeline goroutine.
type Queue struct {
	items []SourcedCommand
}

func (self *Queue) Push(sc SourcedCommand) { self.items = append(self.items, sc) }
func (self *Queue) Len() int               { return len(self.items) }

func (self *Queue) Has(source string) bool {
	for _, sc := range self.items {
		if sc.Source == source {
			return true
		}
	}
	return false
}

func (self *Queue) Poll() (SourcedCommand, bool) {
	if len(self.items) == 0 {
		return SourcedCommand{}, false
	}
	sc := self.items[0]
	self.items[0] = SourcedCommand{}
	self.items = self.items[1:]
	return sc, true
}

// SyncQueue is Queue for producers on other goroutines.
// Push over Limit drops the command and returns false.
type SyncQueue struct {
	Limit int
	mu    sync.Mutex
	q     Queue
}

func (self *SyncQueue) Push(sc SourcedCommand) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Limit > 0 && self.q.Len() >= self.Limit {
		return false
	}
	self.q.Push(sc)
	return true
}

func (self *SyncQueue) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.q.Len()
}

func (self *SyncQueue) Poll() (SourcedCommand, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.q.Poll()
}
