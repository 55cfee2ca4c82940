package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/robolink/pkg/l0/protocol"
)

var (
	// ErrEmergencyStop rejects motion while the emergency stop is latched.
	ErrEmergencyStop = errors.New("emergency stop active")
	// ErrUnsafe rejects forward motion while the safety monitor objects.
	ErrUnsafe = errors.New("unsafe to move forward")
	// ErrNotInitialized rejects use before Init.
	ErrNotInitialized = errors.New("not initialized")
)

const motorOwner = "motor"

// MotorStatus reports the motor controller state.
type MotorStatus struct {
	Ready            bool   `json:"ready"`
	Speed            int    `json:"speed"`
	Motion           string `json:"motion"`
	EmergencyStopped bool   `json:"emergency_stopped"`
}

// Motor drives the differential drive through the link.
type Motor struct {
	conn      Conn
	baseSpeed int
	maxSpeed  int

	lock      sync.Mutex
	ready     bool
	speed     int
	motion    string
	emergency bool
	guard     func() bool
}

// NewMotor creates the motor controller.
func NewMotor(conn Conn, conf *Config) *Motor {
	return &Motor{
		conn:      conn,
		baseSpeed: protocol.SetSpeed.Clamp(conf.BaseSpeed),
		maxSpeed:  protocol.SetSpeed.Clamp(conf.MaxSpeed),
		speed:     protocol.DefaultSpeed,
		motion:    protocol.Stop.String(),
	}
}

// Name implements framework.Named.
func (m *Motor) Name() string {
	return motorOwner
}

// SetGuard installs the check consulted before moving forward.
func (m *Motor) SetGuard(guard func() bool) {
	m.lock.Lock()
	m.guard = guard
	m.lock.Unlock()
}

// Init performs the handshake, stops the motors and sets the base speed.
func (m *Motor) Init(ctx context.Context) error {
	if err := m.conn.Handshake(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	s, err := m.conn.Acquire(ctx, motorOwner)
	if err != nil {
		return err
	}
	defer s.Release()
	if _, err := s.Send(ctx, protocol.Cmd(protocol.Stop), 0); err != nil {
		return err
	}
	r, err := s.Send(ctx, protocol.NewCommand(protocol.SetSpeed, m.baseSpeed), 0)
	if err != nil {
		return err
	}
	m.lock.Lock()
	m.ready = true
	m.motion = protocol.Stop.String()
	m.speed = ackedSpeed(r, m.baseSpeed)
	m.lock.Unlock()
	glog.Infof("motor ready, base speed %d", m.speed)
	return nil
}

// Forward drives forward, speed <= 0 selects the base speed.
func (m *Motor) Forward(ctx context.Context, speed int) error {
	return m.Move(ctx, protocol.MoveForward, speed)
}

// Backward drives backward.
func (m *Motor) Backward(ctx context.Context, speed int) error {
	return m.Move(ctx, protocol.MoveBackward, speed)
}

// TurnLeft spins left.
func (m *Motor) TurnLeft(ctx context.Context, speed int) error {
	return m.Move(ctx, protocol.TurnLeft, speed)
}

// TurnRight spins right.
func (m *Motor) TurnRight(ctx context.Context, speed int) error {
	return m.Move(ctx, protocol.TurnRight, speed)
}

// Move sets the speed and sends a motion verb, both under a single
// acquisition. The speed is sent every time since other owners may have
// changed it on the device.
func (m *Motor) Move(ctx context.Context, verb protocol.Verb, speed int) error {
	if !verb.IsMotion() {
		return fmt.Errorf("%s is not a motion", verb)
	}
	m.lock.Lock()
	ready, emergency, guard := m.ready, m.emergency, m.guard
	m.lock.Unlock()
	if !ready {
		return ErrNotInitialized
	}
	if emergency {
		return ErrEmergencyStop
	}
	if verb == protocol.MoveForward && guard != nil && !guard() {
		return ErrUnsafe
	}
	speed = m.limit(speed)

	s, err := m.conn.Acquire(ctx, motorOwner)
	if err != nil {
		return err
	}
	defer s.Release()
	r, err := s.Send(ctx, protocol.NewCommand(protocol.SetSpeed, speed), 0)
	if err != nil {
		return err
	}
	speed = ackedSpeed(r, speed)
	m.lock.Lock()
	m.speed = speed
	m.lock.Unlock()
	if _, err := s.Send(ctx, protocol.Cmd(verb), 0); err != nil {
		return err
	}
	m.lock.Lock()
	m.motion = verb.String()
	m.lock.Unlock()
	glog.V(2).Infof("motor %s at %d", verb, speed)
	return nil
}

// MaxSpeed returns the configured speed cap.
func (m *Motor) MaxSpeed() int {
	return m.maxSpeed
}

// SetSpeed changes the commanded speed without moving.
func (m *Motor) SetSpeed(ctx context.Context, speed int) error {
	speed = m.limit(speed)
	r, err := m.conn.Do(ctx, motorOwner, protocol.NewCommand(protocol.SetSpeed, speed))
	if err != nil {
		return err
	}
	m.lock.Lock()
	m.speed = ackedSpeed(r, speed)
	m.lock.Unlock()
	return nil
}

// Stop stops both motors. It is always allowed.
func (m *Motor) Stop(ctx context.Context) error {
	if _, err := m.conn.Do(ctx, motorOwner, protocol.Cmd(protocol.Stop)); err != nil {
		return err
	}
	m.lock.Lock()
	m.motion = protocol.Stop.String()
	m.lock.Unlock()
	return nil
}

// EmergencyStop latches the emergency flag and stops the motors. The flag
// stays set even when STOP is not acknowledged.
func (m *Motor) EmergencyStop(ctx context.Context) error {
	m.lock.Lock()
	m.emergency = true
	m.lock.Unlock()
	glog.Warning("motor emergency stop")
	return m.Stop(ctx)
}

// Resume clears the emergency flag.
func (m *Motor) Resume() {
	m.lock.Lock()
	m.emergency = false
	m.lock.Unlock()
}

// EmergencyStopped tells whether the emergency flag is latched.
func (m *Motor) EmergencyStopped() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.emergency
}

// Status returns the controller state.
func (m *Motor) Status() MotorStatus {
	m.lock.Lock()
	defer m.lock.Unlock()
	return MotorStatus{
		Ready:            m.ready,
		Speed:            m.speed,
		Motion:           m.motion,
		EmergencyStopped: m.emergency,
	}
}

// Shutdown stops the motors.
func (m *Motor) Shutdown(ctx context.Context) error {
	err := m.Stop(ctx)
	m.lock.Lock()
	m.ready = false
	m.lock.Unlock()
	return err
}

func (m *Motor) limit(speed int) int {
	if speed <= 0 {
		speed = m.baseSpeed
	}
	if speed > m.maxSpeed {
		speed = m.maxSpeed
	}
	return speed
}

func ackedSpeed(r *protocol.Response, fallback int) int {
	if n, ok := r.IntDetail(); ok {
		return n
	}
	return fallback
}
