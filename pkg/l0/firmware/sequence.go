package firmware

import "time"

// Step drives a pin to a level and holds it for Duration.
type Step struct {
	Pin      Pin
	High     bool
	Duration time.Duration
}

// Sequence is a finite list of steps executed synchronously.
type Sequence []Step

// Duration is the total time the sequence blocks.
func (s Sequence) Duration() (d time.Duration) {
	for _, step := range s {
		d += step.Duration
	}
	return
}

// Repeat concatenates n copies of the sequence.
func (s Sequence) Repeat(n int) Sequence {
	out := make(Sequence, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return out
}

// RunSequence executes the steps on the board, blocking until the last one
// completes.
func RunSequence(b Board, seq Sequence) {
	for _, step := range seq {
		b.SetPin(step.Pin, step.High)
		if step.Duration > 0 {
			b.Delay(step.Duration)
		}
	}
}

// LED pattern ids.
const (
	LEDOff = iota
	LEDBlink
	LEDFastPulse
	LEDSlowPulse
)

// LEDSequence builds the sequence of a pattern id. Unknown ids turn the
// LED off.
func LEDSequence(pin Pin, pattern int) Sequence {
	switch pattern {
	case LEDBlink:
		return Sequence{
			{Pin: pin, High: true, Duration: 200 * time.Millisecond},
			{Pin: pin, High: false},
		}
	case LEDFastPulse:
		return Sequence{
			{Pin: pin, High: true, Duration: 100 * time.Millisecond},
			{Pin: pin, High: false, Duration: 100 * time.Millisecond},
		}.Repeat(3)
	case LEDSlowPulse:
		return Sequence{
			{Pin: pin, High: true, Duration: 300 * time.Millisecond},
			{Pin: pin, High: false, Duration: 300 * time.Millisecond},
		}.Repeat(2)
	}
	return Sequence{{Pin: pin, High: false}}
}

// Servo pulse timing.
const (
	ServoPeriod    = 20 * time.Millisecond
	ServoPulses    = 5
	servoBaseWidth = 500
	servoUsPerDeg  = 11
)

// ServoPulseWidth returns the high time for an angle.
func ServoPulseWidth(angle int) time.Duration {
	return time.Duration(angle*servoUsPerDeg+servoBaseWidth) * time.Microsecond
}

// ServoSequence builds the pulse train positioning the servo at angle.
// The angle must be clamped already.
func ServoSequence(pin Pin, angle int) Sequence {
	width := ServoPulseWidth(angle)
	return Sequence{
		{Pin: pin, High: true, Duration: width},
		{Pin: pin, High: false, Duration: ServoPeriod - width},
	}.Repeat(ServoPulses)
}
