package controllers

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	fw "github.com/robotalks/robolink/pkg/framework"
	"github.com/robotalks/robolink/pkg/l0/firmware"
	"github.com/robotalks/robolink/pkg/l0/link"
	"github.com/robotalks/robolink/pkg/l0/protocol"
)

// Device is the link as seen by the Manager.
type Device interface {
	Conn
	Healthy() bool
	Simulated() bool
	Stats() link.Stats
	Close() error
}

// Component is a controller with a lifecycle managed by the Manager.
type Component interface {
	fw.Named
	Init(context.Context) error
	Shutdown(context.Context) error
}

// SystemStatus aggregates the state of all controllers.
type SystemStatus struct {
	Healthy     bool          `json:"healthy"`
	Simulated   bool          `json:"simulated"`
	Initialized []string      `json:"initialized"`
	Motor       MotorStatus   `json:"motor"`
	LEDPattern  int           `json:"led_pattern"`
	ServoAngle  int           `json:"servo_angle"`
	Sensors     SensorsStatus `json:"sensors"`
	Safety      SafetyStatus  `json:"safety"`
	Link        link.Stats    `json:"link"`
}

// TestStep is a single self test result.
type TestStep struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Manager initializes and shuts down the controllers in order.
type Manager struct {
	Device  Device
	Motor   *Motor
	LED     *LED
	Sensors *Sensors
	Servo   *Servo
	Safety  *Safety

	settle time.Duration
	active []Component
}

// NewManager creates all controllers on the device.
func NewManager(dev Device, conf *Config) *Manager {
	m := &Manager{
		Device:  dev,
		Motor:   NewMotor(dev, conf),
		LED:     NewLED(dev),
		Sensors: NewSensors(dev, conf),
		Servo:   NewServo(dev),
		settle:  conf.ControllerSettle,
	}
	m.Safety = NewSafety(m.Motor, m.LED, m.Sensors, conf)
	return m
}

func (m *Manager) components() []Component {
	return []Component{m.Motor, m.LED, m.Sensors, m.Safety}
}

// Init initializes the controllers one after another. The motor goes first
// and the others wait ControllerSettle after it. A failure stops the
// sequence and shuts down what was already initialized.
func (m *Manager) Init(ctx context.Context) error {
	for n, c := range m.components() {
		if n == 1 && m.settle > 0 {
			select {
			case <-ctx.Done():
				m.unwind(ctx)
				return ctx.Err()
			case <-time.After(m.settle):
			}
		}
		glog.Infof("initializing %s", c.Name())
		if err := c.Init(ctx); err != nil {
			glog.Errorf("initialize %s failed: %v", c.Name(), err)
			m.unwind(ctx)
			return fmt.Errorf("init %s: %w", c.Name(), err)
		}
		m.active = append(m.active, c)
	}
	glog.Info("all controllers initialized")
	return nil
}

func (m *Manager) unwind(ctx context.Context) {
	if err := m.shutdownComponents(ctx); err != nil {
		glog.Warningf("unwind: %v", err)
	}
}

func (m *Manager) shutdownComponents(ctx context.Context) error {
	var errs fw.AggregatedError
	for n := len(m.active) - 1; n >= 0; n-- {
		c := m.active[n]
		glog.Infof("shutting down %s", c.Name())
		errs.AddFrom(c.Name(), c.Shutdown(ctx))
	}
	m.active = nil
	return errs.Aggregate()
}

// Shutdown stops the controllers in reverse order and closes the device.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs fw.AggregatedError
	errs.Add(m.shutdownComponents(ctx))
	errs.AddFrom("link", m.Device.Close())
	return errs.Aggregate()
}

// AddToLoop implements framework.LoopAdder.
func (m *Manager) AddToLoop(loop *fw.Loop) {
	loop.Add(m.Safety)
}

// Initialized returns the names of the initialized controllers.
func (m *Manager) Initialized() []string {
	names := make([]string, 0, len(m.active))
	for _, c := range m.active {
		names = append(names, c.Name())
	}
	return names
}

// SystemStatus collects the status of all controllers.
func (m *Manager) SystemStatus() SystemStatus {
	return SystemStatus{
		Healthy:     m.Device.Healthy(),
		Simulated:   m.Device.Simulated(),
		Initialized: m.Initialized(),
		Motor:       m.Motor.Status(),
		LEDPattern:  m.LED.Pattern(),
		ServoAngle:  m.Servo.Angle(),
		Sensors:     m.Sensors.Status(),
		Safety:      m.Safety.Status(),
		Link:        m.Device.Stats(),
	}
}

// SelfTest exercises every command without moving the wheels.
func (m *Manager) SelfTest(ctx context.Context) []TestStep {
	var steps []TestStep
	record := func(name string, fn func() (string, error)) {
		detail, err := fn()
		step := TestStep{Name: name, Passed: err == nil, Detail: detail}
		if err != nil {
			step.Detail = err.Error()
		}
		steps = append(steps, step)
	}
	record("ping", func() (string, error) {
		r, err := m.Device.Do(ctx, "selftest", protocol.Cmd(protocol.Ping))
		if err != nil {
			return "", err
		}
		return r.Raw, nil
	})
	record("status", func() (string, error) {
		r, err := m.Device.Do(ctx, "selftest", protocol.Cmd(protocol.Status))
		if err != nil {
			return "", err
		}
		if r.Status == nil {
			return "", protocol.ErrMalformedResponse
		}
		return fmt.Sprintf("speed=%d uptime=%dms free=%d", r.Status.Speed, r.Status.Uptime, r.Status.FreeMemory), nil
	})
	record("sensors", func() (string, error) {
		r, err := m.Sensors.Read(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("distance=%dcm light=%v", r.Raw.Distance, r.Raw.Light), nil
	})
	record("stop", func() (string, error) {
		return "", m.Motor.Stop(ctx)
	})
	record("led", func() (string, error) {
		return "", m.LED.SetPattern(ctx, firmware.LEDBlink)
	})
	record("servo", func() (string, error) {
		return "", m.Servo.Center(ctx)
	})
	return steps
}
