package mate

// Public API to easy create Mate stubs to test your code.
import (
	"bytes"
	"io"
	"sync"
	"testing"
)

type nullRWC struct {
	r      io.Reader
	w      io.Writer
	closer func() error
}

func (self nullRWC) Read(p []byte) (int, error)  { return self.r.Read(p) }
func (self nullRWC) Write(p []byte) (int, error) { return self.w.Write(p) }
func (self nullRWC) Close() error {
	if self.closer != nil {
		return self.closer()
	}
	return nil
}

// NewNullTransport reads from r and writes to w, Close is no-op.
func NewNullTransport(r io.Reader, w io.Writer, commands bool) Transport {
	return NewTransport(nullRWC{r: r, w: w}, commands)
}

// SafeBuffer is bytes.Buffer safe for concurrent use, to capture written commands.
type SafeBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (self *SafeBuffer) Write(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.b.Write(p)
}

func (self *SafeBuffer) Bytes() []byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]byte(nil), self.b.Bytes()...)
}

func (self *SafeBuffer) Reset() {
	self.mu.Lock()
	self.b.Reset()
	self.mu.Unlock()
}

// NewTestPipeTransport returns transport fed by returned feed function.
// Closing transport makes blocked reads fail, like closing serial port.
func NewTestPipeTransport(t testing.TB, commands bool) (Transport, func([]byte), *SafeBuffer) {
	pr, pw := io.Pipe()
	w := new(SafeBuffer)
	tr := NewTransport(nullRWC{r: pr, w: w, closer: func() error {
		err := pr.Close()
		_ = pw.Close()
		return err
	}}, commands)
	feed := func(b []byte) {
		if _, err := pw.Write(b); err != nil {
			t.Logf("mate test feed err=%v", err)
		}
	}
	return tr, feed, w
}
