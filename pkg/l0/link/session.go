package link

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/robolink/pkg/l0/protocol"
)

// Session is the exclusive right to use the link, obtained by Acquire.
// It must be released, and must not be used from multiple goroutines.
type Session struct {
	link     *Link
	owner    string
	released bool
}

// Owner returns the owner name given to Acquire.
func (s *Session) Owner() string {
	return s.owner
}

// Release returns the link. Releasing twice is a no-op.
func (s *Session) Release() {
	if !s.released {
		s.released = true
		glog.V(3).Infof("link released by %s", s.owner)
		s.link.release(s.owner)
	}
}

// Send writes cmd and waits for its reply. A zero timeout selects the
// configured timeout of the verb class. Lines which do not answer cmd are
// discarded. An ERROR reply is returned together with a
// *protocol.DeviceError, a missing reply yields *TimeoutError.
func (s *Session) Send(ctx context.Context, cmd protocol.Command, timeout time.Duration) (*protocol.Response, error) {
	if timeout <= 0 {
		timeout = s.link.config.Timeout(cmd.Verb.Class())
	}
	return s.exchange(ctx, cmd.String(), cmd.Verb.Class(), timeout, func(r *protocol.Response) bool {
		return r.Answers(cmd)
	})
}

// SendLine writes a raw line. Known commands are sent with Send, any other
// text can only be answered by the unknown command error.
func (s *Session) SendLine(ctx context.Context, line string, timeout time.Duration) (*protocol.Response, error) {
	if cmd, ok := protocol.ParseCommand(line); ok {
		return s.Send(ctx, cmd, timeout)
	}
	line = strings.TrimSpace(line)
	if timeout <= 0 {
		timeout = s.link.config.Timeout(protocol.Query)
	}
	return s.exchange(ctx, line, protocol.Query, timeout, func(r *protocol.Response) bool {
		return r.Rejects(line)
	})
}

// Ping sends PING with the handshake timeout.
func (s *Session) Ping(ctx context.Context) (*protocol.Response, error) {
	return s.Send(ctx, protocol.Cmd(protocol.Ping), 0)
}

func (s *Session) exchange(ctx context.Context, line string, class protocol.TimeoutClass, timeout time.Duration, answers func(*protocol.Response) bool) (*protocol.Response, error) {
	if s.released {
		return nil, ErrReleased
	}
	l := s.link
	select {
	case <-l.doneCh:
		return nil, l.closedErr()
	default:
	}
	if l.dirty {
		// a previous command may still answer
		l.flush()
		l.dirty = false
	}

	glog.V(4).Infof("TX[%s] %q", s.owner, line)
	if _, err := io.WriteString(l.transport, line+"\n"); err != nil {
		return nil, fmt.Errorf("write %q: %w", line, err)
	}
	atomic.AddUint64(&l.stats.Sent, 1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.dirty = true
			return nil, ctx.Err()
		case <-l.doneCh:
			return nil, l.closedErr()
		case <-timer.C:
			l.dirty = true
			return nil, l.timedOut(&TimeoutError{Command: line, Class: class, Timeout: timeout})
		case raw := <-l.lineCh:
			r, err := protocol.ParseResponse(raw)
			if !answers(r) {
				atomic.AddUint64(&l.stats.Discarded, 1)
				glog.V(2).Infof("[%s] discarded %q waiting for %q", s.owner, raw, line)
				continue
			}
			atomic.StoreInt32(&l.consecutive, 0)
			atomic.AddUint64(&l.stats.Answered, 1)
			if err == nil {
				err = r.Err()
			}
			return r, err
		}
	}
}

func (l *Link) timedOut(err *TimeoutError) error {
	atomic.AddUint64(&l.stats.Timeouts, 1)
	n := int(atomic.AddInt32(&l.consecutive, 1))
	if threshold := l.config.FaultThreshold; threshold > 0 && n >= threshold {
		glog.Errorf("link fault: %v", err)
		return &FaultError{Consecutive: n, Err: err}
	}
	glog.Warning(err)
	return err
}

func (l *Link) closedErr() error {
	if l.runErr == nil || l.runErr == ErrClosed {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, l.runErr)
}

// Do acquires the link, sends cmd with its class timeout and releases.
func (l *Link) Do(ctx context.Context, owner string, cmd protocol.Command) (*protocol.Response, error) {
	s, err := l.Acquire(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer s.Release()
	return s.Send(ctx, cmd, 0)
}
