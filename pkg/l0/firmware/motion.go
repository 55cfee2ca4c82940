package firmware

import "github.com/robotalks/robolink/pkg/l0/protocol"

type direction int

const (
	released direction = iota
	forward
	backward
)

type motor struct {
	enable, inA, inB Pin
}

func (f *Firmware) left() motor {
	return motor{f.Pins.LeftEnable, f.Pins.LeftIn1, f.Pins.LeftIn2}
}

func (f *Firmware) right() motor {
	return motor{f.Pins.RightEnable, f.Pins.RightIn3, f.Pins.RightIn4}
}

// drive applies the H-bridge truth table:
//
//	forward:  A=H B=L
//	backward: A=L B=H
//	released: A=L B=L, duty 0
func (f *Firmware) drive(m motor, dir direction, duty uint8) {
	f.Board.SetPin(m.inA, dir == forward)
	f.Board.SetPin(m.inB, dir == backward)
	if dir == released {
		duty = 0
	}
	f.Board.SetDuty(m.enable, duty)
}

func (f *Firmware) halt() {
	f.drive(f.left(), released, 0)
	f.drive(f.right(), released, 0)
}

// move handles the four motion verbs. The motor running forward uses the
// commanded speed, a motor running backward always uses ReverseDuty.
func (f *Firmware) move(cmd protocol.Command) string {
	speed := uint8(f.state.Speed)
	switch cmd.Verb {
	case protocol.MoveForward:
		f.drive(f.left(), forward, speed)
		f.drive(f.right(), forward, speed)
	case protocol.MoveBackward:
		f.drive(f.left(), backward, f.ReverseDuty)
		f.drive(f.right(), backward, f.ReverseDuty)
	case protocol.TurnLeft:
		f.drive(f.left(), backward, f.ReverseDuty)
		f.drive(f.right(), forward, speed)
	case protocol.TurnRight:
		f.drive(f.left(), forward, speed)
		f.drive(f.right(), backward, f.ReverseDuty)
	}
	return protocol.Ack(cmd.Verb.AckTag(), "SPEED", f.state.Speed)
}
