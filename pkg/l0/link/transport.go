package link

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Transport is the byte stream under a Link.
// A Read blocked longer than the read timeout returns 0 bytes and no error.
type Transport interface {
	io.ReadWriteCloser
	// ResetInputBuffer discards received bytes not yet read.
	ResetInputBuffer() error
	// ResetOutputBuffer discards written bytes not yet transmitted.
	ResetOutputBuffer() error
	// SetReadTimeout bounds how long a Read waits for data.
	SetReadTimeout(time.Duration) error
}

// inbox is a receive buffer with Transport read semantics.
type inbox struct {
	lock    sync.Mutex
	buf     bytes.Buffer
	timeout time.Duration
	notify  chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newInbox() *inbox {
	return &inbox{
		timeout: -1,
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

func (b *inbox) put(p []byte) {
	b.lock.Lock()
	b.buf.Write(p)
	b.lock.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox) read(p []byte) (int, error) {
	var timer <-chan time.Time
	for {
		b.lock.Lock()
		if b.buf.Len() > 0 {
			n, _ := b.buf.Read(p)
			b.lock.Unlock()
			return n, nil
		}
		timeout := b.timeout
		b.lock.Unlock()
		if timer == nil && timeout >= 0 {
			timer = time.After(timeout)
		}
		select {
		case <-b.notify:
		case <-timer:
			return 0, nil
		case <-b.closed:
			return 0, io.EOF
		}
	}
}

func (b *inbox) reset() {
	b.lock.Lock()
	b.buf.Reset()
	b.lock.Unlock()
}

func (b *inbox) setTimeout(d time.Duration) {
	b.lock.Lock()
	b.timeout = d
	b.lock.Unlock()
}

func (b *inbox) close() {
	b.once.Do(func() { close(b.closed) })
}
