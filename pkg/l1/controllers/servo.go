package controllers

import (
	"context"
	"sync"

	"github.com/robotalks/robolink/pkg/l0/protocol"
)

const servoOwner = "servo"

// Servo points the pan servo.
type Servo struct {
	conn Conn

	lock  sync.Mutex
	angle int
}

// NewServo creates the servo controller.
func NewServo(conn Conn) *Servo {
	return &Servo{conn: conn, angle: protocol.DefaultServoAngle}
}

// Name implements framework.Named.
func (s *Servo) Name() string {
	return servoOwner
}

// Point moves the servo, the angle is clamped to 0-180.
func (s *Servo) Point(ctx context.Context, angle int) error {
	cmd := protocol.NewCommand(protocol.Servo, angle)
	r, err := s.conn.Do(ctx, servoOwner, cmd)
	if err != nil {
		return err
	}
	if n, ok := r.IntDetail(); ok {
		cmd.Arg = n
	}
	s.lock.Lock()
	s.angle = cmd.Arg
	s.lock.Unlock()
	return nil
}

// Center points the servo straight ahead.
func (s *Servo) Center(ctx context.Context) error {
	return s.Point(ctx, protocol.DefaultServoAngle)
}

// Angle returns the last acknowledged angle.
func (s *Servo) Angle() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.angle
}
