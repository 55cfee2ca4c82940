package link

import (
	"bytes"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/robolink/pkg/l0/firmware"
)

// SimTransport runs the firmware in process over a SimBoard.
// It produces exactly the lines the device would, so a Link on top of it
// behaves like one talking to hardware.
type SimTransport struct {
	Board    *firmware.SimBoard
	Firmware *firmware.Firmware

	in      *inbox
	lock    sync.Mutex
	partial []byte
	lineCh  chan string
	latency time.Duration
	mute    bool
	doneCh  chan struct{}
	once    sync.Once
}

const simQueueLen = 16

// NewSimTransport boots a firmware on board and starts serving it.
// The boot banner is queued for reading.
func NewSimTransport(board *firmware.SimBoard) *SimTransport {
	t := &SimTransport{
		Board:    board,
		Firmware: firmware.New(board),
		in:       newInbox(),
		lineCh:   make(chan string, simQueueLen),
		doneCh:   make(chan struct{}),
	}
	t.in.put([]byte(t.Firmware.Boot() + "\n"))
	go t.serve()
	return t
}

func (t *SimTransport) serve() {
	for {
		select {
		case <-t.doneCh:
			return
		case line := <-t.lineCh:
			resp, ok := t.Firmware.Handle(line)
			if !ok {
				continue
			}
			t.lock.Lock()
			latency, mute := t.latency, t.mute
			t.lock.Unlock()
			if latency > 0 {
				select {
				case <-time.After(latency):
				case <-t.doneCh:
					return
				}
			}
			if mute {
				glog.V(4).Infof("sim: muted %q", resp)
				continue
			}
			t.in.put([]byte(resp + "\n"))
		}
	}
}

// SetLatency delays every response by d.
func (t *SimTransport) SetLatency(d time.Duration) {
	t.lock.Lock()
	t.latency = d
	t.lock.Unlock()
}

// SetMute drops responses while enabled, emulating a dead link.
func (t *SimTransport) SetMute(mute bool) {
	t.lock.Lock()
	t.mute = mute
	t.lock.Unlock()
}

// Read implements io.Reader.
func (t *SimTransport) Read(p []byte) (int, error) {
	return t.in.read(p)
}

// Write implements io.Writer. Complete lines are queued to the firmware.
func (t *SimTransport) Write(p []byte) (int, error) {
	var lines []string
	t.lock.Lock()
	t.partial = append(t.partial, p...)
	for {
		pos := bytes.IndexByte(t.partial, '\n')
		if pos < 0 {
			break
		}
		lines = append(lines, string(t.partial[:pos]))
		t.partial = t.partial[pos+1:]
	}
	t.lock.Unlock()
	for _, line := range lines {
		select {
		case t.lineCh <- line:
		case <-t.doneCh:
			return 0, ErrClosed
		}
	}
	return len(p), nil
}

// ResetInputBuffer implements Transport.
func (t *SimTransport) ResetInputBuffer() error {
	t.in.reset()
	return nil
}

// ResetOutputBuffer implements Transport. Lines not yet picked up by the
// firmware are dropped.
func (t *SimTransport) ResetOutputBuffer() error {
	t.lock.Lock()
	t.partial = nil
	t.lock.Unlock()
	for {
		select {
		case <-t.lineCh:
		default:
			return nil
		}
	}
}

// SetReadTimeout implements Transport.
func (t *SimTransport) SetReadTimeout(d time.Duration) error {
	t.in.setTimeout(d)
	return nil
}

// Close implements io.Closer.
func (t *SimTransport) Close() error {
	t.once.Do(func() {
		close(t.doneCh)
		t.in.close()
	})
	return nil
}

// String implements fmt.Stringer.
func (t *SimTransport) String() string {
	return "sim"
}
