package link

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/robolink/pkg/l0/firmware"
	"github.com/robotalks/robolink/pkg/l0/protocol"
)

type testTransport struct {
	*inbox
	writeCh   chan string
	respond   func(string) []string
	lock      sync.Mutex
	partial   []byte
	resetIn   int32
	resetOut  int32
	closeOnce sync.Once
}

func newTestTransport(respond func(string) []string) *testTransport {
	return &testTransport{
		inbox:   newInbox(),
		writeCh: make(chan string, 16),
		respond: respond,
	}
}

func (t *testTransport) Read(p []byte) (int, error) {
	return t.inbox.read(p)
}

func (t *testTransport) Write(p []byte) (int, error) {
	t.lock.Lock()
	t.partial = append(t.partial, p...)
	var lines []string
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
		t.writeCh <- line
		if t.respond != nil {
			for _, resp := range t.respond(line) {
				t.inject(resp)
			}
		}
	}
	return len(p), nil
}

func (t *testTransport) inject(line string) {
	t.inbox.put([]byte(line + "\n"))
}

func (t *testTransport) ResetInputBuffer() error {
	atomic.AddInt32(&t.resetIn, 1)
	t.inbox.reset()
	return nil
}

func (t *testTransport) ResetOutputBuffer() error {
	atomic.AddInt32(&t.resetOut, 1)
	return nil
}

func (t *testTransport) SetReadTimeout(d time.Duration) error {
	t.inbox.setTimeout(d)
	return nil
}

func (t *testTransport) Close() error {
	t.closeOnce.Do(t.inbox.close)
	return nil
}

func (t *testTransport) expectWrite(tb testing.TB, line string) {
	select {
	case got := <-t.writeCh:
		require.Equal(tb, line, got)
	case <-time.After(500 * time.Millisecond):
		tb.Fatalf("expect write %q timeout", line)
	}
}

func testConfig() *Config {
	conf := NewConfig()
	conf.SettleDelay = 0
	conf.BootDelay = 0
	conf.HandshakeTimeout = 200 * time.Millisecond
	conf.ActuationTimeout = 100 * time.Millisecond
	conf.QueryTimeout = 50 * time.Millisecond
	conf.FaultThreshold = 3
	return conf
}

type linkTestEnv struct {
	t      *testing.T
	link   *Link
	cancel func()
	errCh  chan error
}

func newLinkTestEnv(t *testing.T, tr Transport) *linkTestEnv {
	ctx, cancel := context.WithCancel(context.Background())
	env := &linkTestEnv{
		t:      t,
		link:   New(tr, testConfig()),
		cancel: cancel,
		errCh:  make(chan error, 1),
	}
	go func() {
		env.errCh <- env.link.Run(ctx)
	}()
	return env
}

func (e *linkTestEnv) stop() {
	e.cancel()
	select {
	case <-e.errCh:
	case <-time.After(500 * time.Millisecond):
		e.t.Fatal("link reader did not stop")
	}
	e.link.Close()
}

func (e *linkTestEnv) acquire(owner string) *Session {
	s, err := e.link.Acquire(context.Background(), owner)
	require.NoError(e.t, err)
	return s
}

func echoResponder(line string) []string {
	cmd, ok := protocol.ParseCommand(line)
	if !ok {
		return []string{protocol.FormatUnknown(line)}
	}
	switch cmd.Verb {
	case protocol.Ping:
		return []string{protocol.Pong}
	case protocol.SetSpeed:
		return []string{protocol.Ack("SPEED_SET", cmd.Verb.Clamp(cmd.Arg))}
	case protocol.Status:
		return []string{protocol.FormatStatus(protocol.StatusReport{Speed: 80})}
	case protocol.ReadSensors:
		return []string{protocol.FormatSensors(protocol.SensorReading{Distance: 42})}
	}
	return []string{protocol.Ack(cmd.Verb.AckTag())}
}

func TestSendReceivesReply(t *testing.T) {
	tr := newTestTransport(echoResponder)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	s := env.acquire("motor")
	defer s.Release()
	r, err := s.Send(context.Background(), protocol.NewCommand(protocol.SetSpeed, 999), 0)
	require.NoError(t, err)
	tr.expectWrite(t, "SET_SPEED:255")
	require.Equal(t, "ACTION:SPEED_SET:255", r.Raw)

	r, err = s.Send(context.Background(), protocol.Cmd(protocol.ReadSensors), 0)
	require.NoError(t, err)
	tr.expectWrite(t, "READ_SENSORS")
	require.Equal(t, 42, r.Sensors.Distance)
	require.True(t, env.link.Healthy())
}

func TestAcquireFlushesBothDirections(t *testing.T) {
	tr := newTestTransport(nil)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	// a stale reply left over from a previous owner
	tr.inject("PONG")
	time.Sleep(20 * time.Millisecond)

	s := env.acquire("led")
	require.Equal(t, int32(1), atomic.LoadInt32(&tr.resetIn))
	require.Equal(t, int32(1), atomic.LoadInt32(&tr.resetOut))

	_, err := s.Send(context.Background(), protocol.Cmd(protocol.Ping), 30*time.Millisecond)
	tr.expectWrite(t, "PING")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTimeout))
	s.Release()
	require.Equal(t, uint64(1), env.link.Stats().Timeouts)
}

func TestLateReplyIsDiscarded(t *testing.T) {
	tr := newTestTransport(nil)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	// motor controller times out on SET_SPEED
	s := env.acquire("motor")
	_, err := s.Send(context.Background(), protocol.NewCommand(protocol.SetSpeed, 100), 20*time.Millisecond)
	tr.expectWrite(t, "SET_SPEED:100")
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	require.Equal(t, "SET_SPEED:100", timeoutErr.Command)
	require.Equal(t, protocol.Actuation, timeoutErr.Class)
	s.Release()

	// sensor controller asks STATUS, the late SPEED_SET ack arrives first
	s = env.acquire("sensors")
	defer s.Release()
	done := make(chan struct{})
	var r *protocol.Response
	go func() {
		defer close(done)
		r, err = s.Send(context.Background(), protocol.Cmd(protocol.Status), 0)
	}()
	tr.expectWrite(t, "STATUS")
	tr.inject("ACTION:SPEED_SET:100")
	tr.inject("ARDUINO_READY")
	tr.inject(`STATUS:{"speed":100,"uptime":5,"free_memory":900}`)
	<-done
	require.NoError(t, err)
	require.Equal(t, protocol.KindStatus, r.Kind)
	require.Equal(t, 100, r.Status.Speed)
	require.Equal(t, uint64(2), env.link.Stats().Discarded)
}

func TestDirtySessionFlushesBeforeNextWrite(t *testing.T) {
	tr := newTestTransport(nil)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	s := env.acquire("motor")
	defer s.Release()
	_, err := s.Send(context.Background(), protocol.Cmd(protocol.Stop), 20*time.Millisecond)
	require.True(t, errors.Is(err, ErrTimeout))
	tr.expectWrite(t, "STOP")
	resets := atomic.LoadInt32(&tr.resetIn)

	// late ack of the first STOP arrives before the retry
	tr.inject("ACTION:STOP")
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), protocol.Cmd(protocol.Stop), 50*time.Millisecond)
		done <- err
	}()
	tr.expectWrite(t, "STOP")
	require.Equal(t, resets+1, atomic.LoadInt32(&tr.resetIn))
	require.True(t, errors.Is(<-done, ErrTimeout))
}

func TestUnknownCommandIsDeviceError(t *testing.T) {
	tr := newTestTransport(echoResponder)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	s := env.acquire("shell")
	defer s.Release()
	r, err := s.SendLine(context.Background(), "fly away", 0)
	require.Error(t, err)
	var devErr *protocol.DeviceError
	require.True(t, errors.As(err, &devErr))
	require.Equal(t, protocol.CodeUnknownCommand, devErr.Code)
	require.Equal(t, "ERROR:UNKNOWN_COMMAND:fly away", r.Raw)
	require.False(t, errors.Is(err, ErrTimeout))
	require.True(t, env.link.Healthy())

	r, err = s.SendLine(context.Background(), "ping", 0)
	require.NoError(t, err)
	require.Equal(t, protocol.KindPong, r.Kind)
}

func TestFaultAfterConsecutiveTimeouts(t *testing.T) {
	tr := newTestTransport(nil)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	s := env.acquire("safety")
	defer s.Release()
	for n := 1; n <= 3; n++ {
		_, err := s.Send(context.Background(), protocol.Cmd(protocol.ReadSensors), 10*time.Millisecond)
		tr.expectWrite(t, "READ_SENSORS")
		require.True(t, errors.Is(err, ErrTimeout))
		if n < 3 {
			require.False(t, errors.Is(err, ErrFault))
			require.True(t, env.link.Healthy())
		} else {
			require.True(t, errors.Is(err, ErrFault))
			require.False(t, env.link.Healthy())
		}
	}

	tr.respond = echoResponder
	_, err := s.Send(context.Background(), protocol.Cmd(protocol.Ping), 0)
	require.NoError(t, err)
	require.True(t, env.link.Healthy())
}

func TestExclusiveAccess(t *testing.T) {
	tr := newTestTransport(echoResponder)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	first := env.acquire("motor")
	acquired := make(chan *Session, 1)
	go func() {
		s, err := env.link.Acquire(context.Background(), "led")
		require.NoError(t, err)
		acquired <- s
	}()
	select {
	case <-acquired:
		t.Fatal("second owner acquired while first holds the link")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	_, err := env.link.Acquire(ctx, "sensors")
	cancel()
	require.Equal(t, context.DeadlineExceeded, err)

	first.Release()
	first.Release()
	select {
	case s := <-acquired:
		_, err := s.Send(context.Background(), protocol.NewCommand(protocol.LEDPattern, 1), 0)
		require.NoError(t, err)
		s.Release()
		_, err = s.Send(context.Background(), protocol.Cmd(protocol.Ping), 0)
		require.Equal(t, ErrReleased, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("second owner never acquired")
	}
}

func TestConcurrentDoIsSerialized(t *testing.T) {
	tr := newTestTransport(echoResponder)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	cmds := []protocol.Command{
		protocol.Cmd(protocol.Ping),
		protocol.Cmd(protocol.Status),
		protocol.Cmd(protocol.ReadSensors),
		protocol.Cmd(protocol.Stop),
		protocol.NewCommand(protocol.SetSpeed, 10),
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(cmds))
	for _, cmd := range cmds {
		wg.Add(1)
		go func(cmd protocol.Command) {
			defer wg.Done()
			r, err := env.link.Do(context.Background(), cmd.Verb.String(), cmd)
			if err == nil && !r.Answers(cmd) {
				err = errors.New("misattributed reply " + r.Raw + " for " + cmd.String())
			}
			errs <- err
		}(cmd)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, uint64(len(cmds)), env.link.Stats().Answered)
}

func TestSendAfterClose(t *testing.T) {
	tr := newTestTransport(nil)
	env := newLinkTestEnv(t, tr)
	s := env.acquire("motor")
	env.stop()
	_, err := s.Send(context.Background(), protocol.Cmd(protocol.Ping), 0)
	require.True(t, errors.Is(err, ErrClosed))
	s.Release()
}

func TestCrossTalkWithSimulatedDevice(t *testing.T) {
	board := firmware.NewSimBoard()
	board.RealTime = true
	tr := NewSimTransport(board)
	env := newLinkTestEnv(t, tr)
	defer env.stop()

	// LED controller gives up on a pattern which keeps the device busy
	s := env.acquire("led")
	_, err := s.Send(context.Background(), protocol.NewCommand(protocol.LEDPattern, 2), 50*time.Millisecond)
	require.True(t, errors.Is(err, ErrTimeout))
	s.Release()

	// motor controller must get its own acknowledgement
	s = env.acquire("motor")
	defer s.Release()
	r, err := s.Send(context.Background(), protocol.Cmd(protocol.Stop), time.Second)
	require.NoError(t, err)
	require.Equal(t, "ACTION:STOP", r.Raw)

	r, err = s.Send(context.Background(), protocol.NewCommand(protocol.SetSpeed, 999), 0)
	require.NoError(t, err)
	require.Equal(t, "ACTION:SPEED_SET:255", r.Raw)
	require.Equal(t, 255, tr.Firmware.State().Speed)
}

func TestSimulatedTransportHandshake(t *testing.T) {
	conf := testConfig()
	conf.Simulate = SimulateOn
	conf.SimRealTime = false
	l, err := conf.Open()
	require.NoError(t, err)
	require.True(t, l.Simulated())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Close()

	require.NoError(t, l.Handshake(context.Background()))
	r, err := l.Do(context.Background(), "sensors", protocol.Cmd(protocol.ReadSensors))
	require.NoError(t, err)
	require.Equal(t, conf.SimDistance, r.Sensors.Distance)
}

func TestOpenTransportFallback(t *testing.T) {
	conf := testConfig()
	conf.Device = "/dev/does-not-exist-robolink"

	conf.Simulate = SimulateOff
	_, _, err := conf.OpenTransport()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoTransport))

	conf.Simulate = SimulateAuto
	tr, simulated, err := conf.OpenTransport()
	require.NoError(t, err)
	require.True(t, simulated)
	require.IsType(t, &SimTransport{}, tr)
	tr.Close()
}

func TestSimulateModeFlag(t *testing.T) {
	var m SimulateMode
	require.NoError(t, m.Set("on"))
	require.Equal(t, SimulateOn, m)
	require.Error(t, m.Set("maybe"))
	require.Equal(t, "on", m.String())
}

func TestSettleOnOwnerChange(t *testing.T) {
	tr := newTestTransport(echoResponder)
	l := New(tr, testConfig())
	l.config.SettleDelay = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Close()

	measure := func(owner string) time.Duration {
		start := time.Now()
		s, err := l.Acquire(context.Background(), owner)
		require.NoError(t, err)
		elapsed := time.Since(start)
		s.Release()
		return elapsed
	}
	require.True(t, measure("sensors") >= 50*time.Millisecond)
	require.True(t, measure("sensors") < 50*time.Millisecond)
	require.True(t, measure("motor") >= 50*time.Millisecond)
	require.Equal(t, uint64(3), l.Stats().Flushes)
}
