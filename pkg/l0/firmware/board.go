package firmware

import "time"

// Pin identifies a microcontroller pin number.
type Pin uint8

// Board is the hardware abstraction used by the firmware.
// Only the dispatch loop touches it, implementations need not be
// safe for concurrent use by the firmware itself.
type Board interface {
	// ConfigureOutput configures a pin as a digital output.
	ConfigureOutput(pin Pin)
	// ConfigureInput configures a pin as an input.
	ConfigureInput(pin Pin)
	// SetPin drives a digital output high (true) or low (false).
	SetPin(pin Pin, high bool)
	// SetDuty sets the PWM duty cycle of an output, 0 is off.
	SetDuty(pin Pin, duty uint8)
	// ReadAnalog samples an analog input.
	ReadAnalog(pin Pin) int
	// PulseIn waits for the pin to reach level and measures how long it
	// stays there. Zero is returned if no complete pulse is seen within
	// timeout.
	PulseIn(pin Pin, high bool, timeout time.Duration) time.Duration
	// Delay busy-waits, microsecond resolution.
	Delay(d time.Duration)
	// Millis returns milliseconds since boot.
	Millis() int64
	// FreeMemory approximates the free RAM in bytes.
	FreeMemory() int
}

// PinMap assigns board pins to peripherals.
type PinMap struct {
	// Left motor H-bridge channel.
	LeftEnable Pin `yaml:"left_enable"`
	LeftIn1    Pin `yaml:"left_in1"`
	LeftIn2    Pin `yaml:"left_in2"`
	// Right motor H-bridge channel.
	RightEnable Pin `yaml:"right_enable"`
	RightIn3    Pin `yaml:"right_in3"`
	RightIn4    Pin `yaml:"right_in4"`

	Trigger Pin    `yaml:"trigger"`
	Echo    Pin    `yaml:"echo"`
	Servo   Pin    `yaml:"servo"`
	LED     Pin    `yaml:"led"`
	Light   [4]Pin `yaml:"light"`
}

// Analog input numbering on the reference board.
const (
	A0 Pin = 14 + iota
	A1
	A2
	A3
)

// DefaultPins is the wiring of the reference robot.
var DefaultPins = PinMap{
	LeftEnable:  5,
	LeftIn1:     7,
	LeftIn2:     8,
	RightEnable: 6,
	RightIn3:    9,
	RightIn4:    10,
	Trigger:     12,
	Echo:        11,
	Servo:       3,
	LED:         13,
	Light:       [4]Pin{A0, A1, A2, A3},
}

func (p *PinMap) outputs() []Pin {
	return []Pin{
		p.LeftEnable, p.LeftIn1, p.LeftIn2,
		p.RightEnable, p.RightIn3, p.RightIn4,
		p.Trigger, p.Servo, p.LED,
	}
}

func (p *PinMap) inputs() []Pin {
	return append([]Pin{p.Echo}, p.Light[:]...)
}
