package firmware

import (
	"sync"
	"time"
)

// DefaultFreeMemory is what SimBoard reports as free RAM.
const DefaultFreeMemory = 1480

// Transition records a digital level change on SimBoard.
type Transition struct {
	At   time.Duration
	Pin  Pin
	High bool
}

// SimBoard is an in-memory Board with a virtual clock.
// Delays advance the clock and, with RealTime, also sleep.
type SimBoard struct {
	RealTime bool

	lock        sync.Mutex
	clock       time.Duration
	outputs     map[Pin]bool
	levels      map[Pin]bool
	duties      map[Pin]uint8
	analog      map[Pin]int
	echo        map[Pin]time.Duration
	freeMem     int
	transitions []Transition
	recording   bool
}

// NewSimBoard creates a SimBoard.
func NewSimBoard() *SimBoard {
	return &SimBoard{
		outputs: make(map[Pin]bool),
		levels:  make(map[Pin]bool),
		duties:  make(map[Pin]uint8),
		analog:  make(map[Pin]int),
		echo:    make(map[Pin]time.Duration),
		freeMem: DefaultFreeMemory,
	}
}

// ConfigureOutput implements Board.
func (b *SimBoard) ConfigureOutput(pin Pin) {
	b.lock.Lock()
	b.outputs[pin] = true
	b.lock.Unlock()
}

// ConfigureInput implements Board.
func (b *SimBoard) ConfigureInput(pin Pin) {
	b.lock.Lock()
	b.outputs[pin] = false
	b.lock.Unlock()
}

// SetPin implements Board.
func (b *SimBoard) SetPin(pin Pin, high bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.recording && b.levels[pin] != high {
		b.transitions = append(b.transitions, Transition{At: b.clock, Pin: pin, High: high})
	}
	b.levels[pin] = high
}

// SetDuty implements Board.
func (b *SimBoard) SetDuty(pin Pin, duty uint8) {
	b.lock.Lock()
	b.duties[pin] = duty
	b.lock.Unlock()
}

// ReadAnalog implements Board.
func (b *SimBoard) ReadAnalog(pin Pin) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.analog[pin]
}

// PulseIn implements Board. The echo configured with SetEcho is returned
// when it fits in timeout, the clock advances by the time spent waiting.
func (b *SimBoard) PulseIn(pin Pin, high bool, timeout time.Duration) time.Duration {
	b.lock.Lock()
	d := b.echo[pin]
	b.lock.Unlock()
	if d <= 0 || d > timeout {
		b.Delay(timeout)
		return 0
	}
	b.Delay(d)
	return d
}

// Delay implements Board.
func (b *SimBoard) Delay(d time.Duration) {
	b.lock.Lock()
	b.clock += d
	b.lock.Unlock()
	if b.RealTime {
		time.Sleep(d)
	}
}

// Millis implements Board.
func (b *SimBoard) Millis() int64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return int64(b.clock / time.Millisecond)
}

// FreeMemory implements Board.
func (b *SimBoard) FreeMemory() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.freeMem
}

// Now returns the virtual clock.
func (b *SimBoard) Now() time.Duration {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.clock
}

// Advance moves the virtual clock forward without sleeping.
func (b *SimBoard) Advance(d time.Duration) {
	b.lock.Lock()
	b.clock += d
	b.lock.Unlock()
}

// Level returns the level of a digital pin.
func (b *SimBoard) Level(pin Pin) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.levels[pin]
}

// Duty returns the duty cycle of a PWM pin.
func (b *SimBoard) Duty(pin Pin) uint8 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.duties[pin]
}

// IsOutput tells whether a pin is configured as an output.
func (b *SimBoard) IsOutput(pin Pin) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.outputs[pin]
}

// SetAnalog sets the value returned by ReadAnalog.
func (b *SimBoard) SetAnalog(pin Pin, value int) {
	b.lock.Lock()
	b.analog[pin] = value
	b.lock.Unlock()
}

// SetEcho sets the pulse returned by PulseIn on pin, 0 for no echo.
func (b *SimBoard) SetEcho(pin Pin, d time.Duration) {
	b.lock.Lock()
	b.echo[pin] = d
	b.lock.Unlock()
}

// SetDistance sets the echo on pin for an obstacle at cm centimeters.
func (b *SimBoard) SetDistance(pin Pin, cm int) {
	us := float64(cm) * 2 / soundCmPerUs
	// round up so truncation in DistanceFromEcho lands on cm
	b.SetEcho(pin, time.Duration(us+1)*time.Microsecond)
}

// SetFreeMemory sets the value returned by FreeMemory.
func (b *SimBoard) SetFreeMemory(n int) {
	b.lock.Lock()
	b.freeMem = n
	b.lock.Unlock()
}

// Record starts recording level transitions, dropping earlier ones.
func (b *SimBoard) Record() {
	b.lock.Lock()
	b.recording = true
	b.transitions = nil
	b.lock.Unlock()
}

// Transitions returns the recorded level transitions.
func (b *SimBoard) Transitions() []Transition {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]Transition(nil), b.transitions...)
}
