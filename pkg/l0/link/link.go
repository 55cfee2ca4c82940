// Package link implements the host side driver of the robot serial link.
//
// All callers share one Link. A caller must Acquire the link to obtain a
// Session, the only way to put a command on the wire. Acquiring always
// discards whatever is queued in both directions, and waits a settle delay
// when the owner changes or a reply is still outstanding, so a reply
// addressed to a previous owner can never be taken for the answer to the
// next owner's command.
package link

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

const lineQueueLen = 64

// Stats counts link activity.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Answered  uint64 `json:"answered"`
	Timeouts  uint64 `json:"timeouts"`
	Discarded uint64 `json:"discarded"`
	Flushes   uint64 `json:"flushes"`
}

// Link multiplexes logical controllers on one transport.
type Link struct {
	stats Stats

	config    Config
	transport Transport
	simulated bool

	tokenCh chan struct{}
	lineCh  chan string
	doneCh  chan struct{}
	runOnce sync.Once
	runErr  error

	// rxLock is held by the line reader around each Read, a flush takes it
	// so no read can straddle it.
	rxLock  sync.Mutex
	partial []byte

	// owned by the token holder.
	dirty     bool
	lastOwner string

	consecutive int32
}

// New creates a Link over a transport.
func New(t Transport, conf *Config) *Link {
	l := &Link{
		config:    *conf,
		transport: t,
		tokenCh:   make(chan struct{}, 1),
		lineCh:    make(chan string, lineQueueLen),
		doneCh:    make(chan struct{}),
	}
	l.tokenCh <- struct{}{}
	if _, ok := t.(*SimTransport); ok {
		l.simulated = true
	}
	return l
}

// Config returns the link configuration.
func (l *Link) Config() *Config {
	return &l.config
}

// Transport returns the underlying transport.
func (l *Link) Transport() Transport {
	return l.transport
}

// Simulated tells whether the transport is simulated.
func (l *Link) Simulated() bool {
	return l.simulated
}

// Healthy is false once the consecutive timeouts reach the fault threshold.
func (l *Link) Healthy() bool {
	threshold := l.config.FaultThreshold
	return threshold <= 0 || int(atomic.LoadInt32(&l.consecutive)) < threshold
}

// Stats returns a snapshot of the counters.
func (l *Link) Stats() Stats {
	return Stats{
		Sent:      atomic.LoadUint64(&l.stats.Sent),
		Answered:  atomic.LoadUint64(&l.stats.Answered),
		Timeouts:  atomic.LoadUint64(&l.stats.Timeouts),
		Discarded: atomic.LoadUint64(&l.stats.Discarded),
		Flushes:   atomic.LoadUint64(&l.stats.Flushes),
	}
}

// Device describes the transport, e.g. serial:/dev/ttyACM0 or sim.
func (l *Link) Device() string {
	return fmt.Sprint(l.transport)
}

// Name implements framework.Named.
func (l *Link) Name() string {
	return "link"
}

// Run reads lines from the transport until ctx is done or the transport
// fails. It implements framework.Runnable.
func (l *Link) Run(ctx context.Context) error {
	err := l.readLoop(ctx)
	l.runOnce.Do(func() {
		l.runErr = err
		close(l.doneCh)
	})
	return err
}

func (l *Link) readLoop(ctx context.Context) error {
	poll := l.config.PollInterval
	if poll <= 0 {
		poll = time.Millisecond
	}
	if err := l.transport.SetReadTimeout(poll); err != nil {
		return err
	}
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		l.rxLock.Lock()
		n, err := l.transport.Read(buf)
		if err != nil && !os.IsTimeout(err) {
			l.rxLock.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if n > 0 {
			l.partial = append(l.partial, buf[:n]...)
			for _, line := range l.splitLines() {
				glog.V(4).Infof("RX %q", line)
				l.enqueue(line)
			}
		}
		l.rxLock.Unlock()
	}
}

func (l *Link) splitLines() (lines []string) {
	for {
		pos := bytes.IndexByte(l.partial, '\n')
		if pos < 0 {
			return
		}
		line := string(bytes.TrimSpace(l.partial[:pos]))
		l.partial = l.partial[pos+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}
}

func (l *Link) enqueue(line string) {
	for {
		select {
		case l.lineCh <- line:
			return
		default:
		}
		select {
		case dropped := <-l.lineCh:
			atomic.AddUint64(&l.stats.Discarded, 1)
			glog.Warningf("line queue full, dropped %q", dropped)
		default:
		}
	}
}

// flush discards everything queued in both directions.
func (l *Link) flush() {
	l.rxLock.Lock()
	l.partial = nil
	if err := l.transport.ResetInputBuffer(); err != nil {
		glog.Warningf("reset input buffer: %v", err)
	}
	if err := l.transport.ResetOutputBuffer(); err != nil {
		glog.Warningf("reset output buffer: %v", err)
	}
	for drained := false; !drained; {
		select {
		case line := <-l.lineCh:
			atomic.AddUint64(&l.stats.Discarded, 1)
			glog.V(2).Infof("flushed %q", line)
		default:
			drained = true
		}
	}
	l.rxLock.Unlock()
	atomic.AddUint64(&l.stats.Flushes, 1)
}

// Acquire waits for exclusive access to the link. The link is always
// flushed, and settled unless the same owner reacquires a clean link.
func (l *Link) Acquire(ctx context.Context, owner string) (*Session, error) {
	select {
	case <-l.tokenCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.doneCh:
		return nil, ErrClosed
	}
	settle := l.dirty || owner != l.lastOwner
	l.flush()
	l.dirty = false
	if settle {
		if err := sleep(ctx, l.config.SettleDelay); err != nil {
			l.release("")
			return nil, err
		}
	}
	glog.V(3).Infof("link acquired by %s", owner)
	return &Session{link: l, owner: owner}, nil
}

func (l *Link) release(owner string) {
	l.lastOwner = owner
	l.tokenCh <- struct{}{}
}

// Handshake waits for the device to boot and checks it answers PING.
func (l *Link) Handshake(ctx context.Context) error {
	s, err := l.Acquire(ctx, "handshake")
	if err != nil {
		return err
	}
	defer s.Release()
	if !l.simulated {
		if err := sleep(ctx, l.config.BootDelay); err != nil {
			return err
		}
	}
	_, err = s.Ping(ctx)
	return err
}

// Close closes the transport and stops the reader.
func (l *Link) Close() error {
	err := l.transport.Close()
	l.runOnce.Do(func() {
		l.runErr = ErrClosed
		close(l.doneCh)
	})
	return err
}

// Done is closed when the reader stops.
func (l *Link) Done() <-chan struct{} {
	return l.doneCh
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
