package protocol

import (
	"strings"
	"time"
)

// Verb identifies a device command.
type Verb int

// Supported verbs.
const (
	ReadSensors Verb = iota
	MoveForward
	MoveBackward
	TurnLeft
	TurnRight
	Stop
	SetSpeed
	LEDPattern
	Servo
	Ping
	Status

	verbCount
)

// TimeoutClass groups commands by how long the host should wait for a reply.
type TimeoutClass int

// Timeout classes.
const (
	// Handshake covers the first contact after the device boots.
	Handshake TimeoutClass = iota
	// Actuation covers commands which move something, including the
	// blocking LED sequences.
	Actuation
	// Query covers sensor and status reads.
	Query
)

// Default timeouts per class.
const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultActuationTimeout = 2 * time.Second
	DefaultQueryTimeout     = time.Second
)

// Default returns the default timeout of the class.
func (c TimeoutClass) Default() time.Duration {
	switch c {
	case Handshake:
		return DefaultHandshakeTimeout
	case Actuation:
		return DefaultActuationTimeout
	default:
		return DefaultQueryTimeout
	}
}

func (c TimeoutClass) String() string {
	switch c {
	case Handshake:
		return "handshake"
	case Actuation:
		return "actuation"
	case Query:
		return "query"
	}
	return "unknown"
}

// Argument ranges and defaults shared by host and firmware.
const (
	MinSpeed     = 0
	MaxSpeed     = 255
	DefaultSpeed = 80

	MinServoAngle     = 0
	MaxServoAngle     = 180
	DefaultServoAngle = 90

	MinLEDPattern = 0
	MaxLEDPattern = 3
)

type verbInfo struct {
	name     string
	hasArg   bool
	min, max int
	ack      string
	class    TimeoutClass
}

var verbTable = [verbCount]verbInfo{
	ReadSensors:  {name: "READ_SENSORS", class: Query},
	MoveForward:  {name: "MOVE_FORWARD", ack: "MOVE_FORWARD", class: Actuation},
	MoveBackward: {name: "MOVE_BACKWARD", ack: "MOVE_BACKWARD", class: Actuation},
	TurnLeft:     {name: "TURN_LEFT", ack: "TURN_LEFT", class: Actuation},
	TurnRight:    {name: "TURN_RIGHT", ack: "TURN_RIGHT", class: Actuation},
	Stop:         {name: "STOP", ack: "STOP", class: Actuation},
	SetSpeed:     {name: "SET_SPEED", hasArg: true, min: MinSpeed, max: MaxSpeed, ack: "SPEED_SET", class: Actuation},
	LEDPattern:   {name: "LED_PATTERN", hasArg: true, min: MinLEDPattern, max: MaxLEDPattern, ack: "LED_PATTERN", class: Actuation},
	Servo:        {name: "SERVO", hasArg: true, min: MinServoAngle, max: MaxServoAngle, ack: "SERVO_ANGLE", class: Actuation},
	Ping:         {name: "PING", class: Handshake},
	Status:       {name: "STATUS", class: Query},
}

var verbsByName = func() map[string]Verb {
	m := make(map[string]Verb, len(verbTable))
	for v, info := range verbTable {
		m[info.name] = Verb(v)
	}
	return m
}()

// LookupVerb finds a verb by its wire name, case-insensitively.
func LookupVerb(name string) (Verb, bool) {
	v, ok := verbsByName[strings.ToUpper(strings.TrimSpace(name))]
	return v, ok
}

// Verbs lists all verbs.
func Verbs() []Verb {
	vs := make([]Verb, verbCount)
	for n := range vs {
		vs[n] = Verb(n)
	}
	return vs
}

// IsValid tells whether the verb is known.
func (v Verb) IsValid() bool {
	return v >= 0 && v < verbCount
}

// String returns the wire name.
func (v Verb) String() string {
	if !v.IsValid() {
		return "INVALID"
	}
	return verbTable[v].name
}

// HasArg tells whether the verb carries an integer argument.
func (v Verb) HasArg() bool {
	return v.IsValid() && verbTable[v].hasArg
}

// Range returns the accepted argument range.
func (v Verb) Range() (lo, hi int) {
	if !v.IsValid() {
		return 0, 0
	}
	return verbTable[v].min, verbTable[v].max
}

// Clamp limits arg to the verb range.
// Verbs without argument always clamp to 0.
func (v Verb) Clamp(arg int) int {
	if !v.HasArg() {
		return 0
	}
	info := &verbTable[v]
	if arg < info.min {
		return info.min
	}
	if arg > info.max {
		return info.max
	}
	return arg
}

// AckTag is the tag carried by the ACTION reply, empty if the verb is
// answered by another response kind.
func (v Verb) AckTag() string {
	if !v.IsValid() {
		return ""
	}
	return verbTable[v].ack
}

// Class returns the timeout class.
func (v Verb) Class() TimeoutClass {
	if !v.IsValid() {
		return Query
	}
	return verbTable[v].class
}

// IsMotion tells whether the verb drives the motors.
func (v Verb) IsMotion() bool {
	switch v {
	case MoveForward, MoveBackward, TurnLeft, TurnRight:
		return true
	}
	return false
}
