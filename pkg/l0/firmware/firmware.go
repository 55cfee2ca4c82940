package firmware

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/robolink/pkg/l0/protocol"
)

// ReverseDuty is the fixed duty cycle of a motor turning backwards.
// It compensates a directional bias of the reference drive train and is
// independent of the commanded speed.
// TODO: recalibrate against the current chassis, the value was tuned on
// the first prototype.
const ReverseDuty uint8 = 200

// Ranging constants.
const (
	EchoTimeout  = 30 * time.Millisecond
	MaxDistance  = protocol.NoEcho
	soundCmPerUs = 0.034
)

// State is the device state owned by the dispatch loop.
type State struct {
	Speed      int
	ServoAngle int
	LEDPattern int
}

type handler func(f *Firmware, cmd protocol.Command) string

var handlers = map[protocol.Verb]handler{
	protocol.SetSpeed:     (*Firmware).setSpeed,
	protocol.LEDPattern:   (*Firmware).ledPattern,
	protocol.Servo:        (*Firmware).servo,
	protocol.MoveForward:  (*Firmware).move,
	protocol.MoveBackward: (*Firmware).move,
	protocol.TurnLeft:     (*Firmware).move,
	protocol.TurnRight:    (*Firmware).move,
	protocol.Stop:         (*Firmware).stop,
	protocol.ReadSensors:  (*Firmware).readSensors,
	protocol.Status:       (*Firmware).status,
	protocol.Ping:         (*Firmware).ping,
}

// Firmware is the command interpreter running on the microcontroller.
type Firmware struct {
	Board       Board
	Pins        PinMap
	ReverseDuty uint8

	state State
}

// New creates a Firmware with the default wiring.
func New(board Board) *Firmware {
	return &Firmware{
		Board:       board,
		Pins:        DefaultPins,
		ReverseDuty: ReverseDuty,
		state:       State{Speed: protocol.DefaultSpeed, ServoAngle: protocol.DefaultServoAngle},
	}
}

// State returns a copy of the device state.
func (f *Firmware) State() State {
	return f.state
}

// Boot brings the hardware to its safe state and returns the ready banner.
func (f *Firmware) Boot() string {
	for _, pin := range f.Pins.outputs() {
		f.Board.ConfigureOutput(pin)
	}
	for _, pin := range f.Pins.inputs() {
		f.Board.ConfigureInput(pin)
	}
	f.state = State{Speed: protocol.DefaultSpeed, ServoAngle: protocol.DefaultServoAngle}
	f.halt()
	RunSequence(f.Board, LEDSequence(f.Pins.LED, LEDOff))
	RunSequence(f.Board, ServoSequence(f.Pins.Servo, f.state.ServoAngle))
	return protocol.Ready
}

// Handle executes one received line and returns the response line.
// Blank lines produce no response.
func (f *Firmware) Handle(line string) (string, bool) {
	original := strings.TrimSpace(line)
	if original == "" {
		return "", false
	}
	cmd, ok := protocol.ParseCommand(original)
	if !ok {
		return protocol.FormatUnknown(original), true
	}
	return handlers[cmd.Verb](f, cmd), true
}

// Run boots the firmware and serves lines from rw until ctx is done or the
// stream fails. Each line is fully executed before the next one is read.
// Run returns on ctx without waiting for a pending read, the caller must
// close rw to release it (see framework.RunWithContextCloser).
func (f *Firmware) Run(ctx context.Context, rw io.ReadWriter) error {
	if _, err := io.WriteString(rw, f.Boot()+"\n"); err != nil {
		return err
	}
	lineCh, errCh := make(chan string), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readLines(subCtx, rw, lineCh, errCh)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case line := <-lineCh:
			resp, ok := f.Handle(line)
			if !ok {
				continue
			}
			glog.V(4).Infof("firmware %q -> %q", strings.TrimSpace(line), resp)
			if _, err := io.WriteString(rw, resp+"\n"); err != nil {
				return err
			}
		}
	}
}

// readLines returns when r fails. A cancelled ctx only stops delivery, a
// blocked ReadString stays until r is closed.
func readLines(ctx context.Context, r io.Reader, lineCh chan<- string, errCh chan<- error) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			errCh <- err
			return
		}
		select {
		case lineCh <- line:
		case <-ctx.Done():
			return
		}
	}
}

func (f *Firmware) setSpeed(cmd protocol.Command) string {
	f.state.Speed = cmd.Verb.Clamp(cmd.Arg)
	return protocol.Ack(cmd.Verb.AckTag(), f.state.Speed)
}

func (f *Firmware) ledPattern(cmd protocol.Command) string {
	RunSequence(f.Board, LEDSequence(f.Pins.LED, cmd.Arg))
	f.state.LEDPattern = cmd.Arg
	return protocol.Ack(cmd.Verb.AckTag(), cmd.Arg)
}

func (f *Firmware) servo(cmd protocol.Command) string {
	angle := cmd.Verb.Clamp(cmd.Arg)
	RunSequence(f.Board, ServoSequence(f.Pins.Servo, angle))
	f.state.ServoAngle = angle
	return protocol.Ack(cmd.Verb.AckTag(), angle)
}

func (f *Firmware) stop(cmd protocol.Command) string {
	f.halt()
	return protocol.Ack(cmd.Verb.AckTag())
}

func (f *Firmware) ping(protocol.Command) string {
	return protocol.Pong
}

func (f *Firmware) readSensors(protocol.Command) string {
	reading := protocol.SensorReading{Distance: f.measureDistance()}
	for n, pin := range f.Pins.Light {
		reading.Light[n] = f.Board.ReadAnalog(pin)
	}
	reading.Timestamp = f.Board.Millis()
	return protocol.FormatSensors(reading)
}

func (f *Firmware) status(protocol.Command) string {
	return protocol.FormatStatus(protocol.StatusReport{
		Speed:      f.state.Speed,
		Uptime:     f.Board.Millis(),
		FreeMemory: f.Board.FreeMemory(),
	})
}

func (f *Firmware) measureDistance() int {
	f.Board.SetPin(f.Pins.Trigger, false)
	f.Board.Delay(2 * time.Microsecond)
	f.Board.SetPin(f.Pins.Trigger, true)
	f.Board.Delay(10 * time.Microsecond)
	f.Board.SetPin(f.Pins.Trigger, false)
	return DistanceFromEcho(f.Board.PulseIn(f.Pins.Echo, true, EchoTimeout))
}

// DistanceFromEcho converts an echo pulse into centimeters. Missing or out
// of range echoes report MaxDistance.
func DistanceFromEcho(echo time.Duration) int {
	cm := int(float64(echo/time.Microsecond) * soundCmPerUs / 2)
	if cm <= 0 || cm > MaxDistance {
		return MaxDistance
	}
	return cm
}
