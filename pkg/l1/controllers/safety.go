package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	fw "github.com/robotalks/robolink/pkg/framework"
)

// Level is the safety level.
type Level int

// Safety levels.
const (
	LevelSafe Level = iota
	LevelWarning
	LevelDanger
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "SAFE"
	case LevelWarning:
		return "WARNING"
	case LevelDanger:
		return "DANGER"
	case LevelEmergency:
		return "EMERGENCY"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Alert identifies what raised a safety event.
type Alert string

// Alerts.
const (
	AlertNone              Alert = ""
	AlertObstacleTooClose  Alert = "obstacle_too_close"
	AlertSensorFailure     Alert = "sensor_failure"
	AlertCommunicationLost Alert = "communication_lost"
	AlertManualEmergency   Alert = "manual_emergency"
	AlertSystemError       Alert = "system_error"
)

// ErrObstacle refuses to resume while an obstacle is still too close.
var ErrObstacle = errors.New("obstacle within emergency distance")

// Event is emitted on level changes and alerts.
type Event struct {
	Level    Level     `json:"level"`
	Alert    Alert     `json:"alert,omitempty"`
	Distance int       `json:"distance"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// SafetyStatus reports the monitor state.
type SafetyStatus struct {
	Level     string    `json:"level"`
	Emergency bool      `json:"emergency"`
	Distance  int       `json:"distance"`
	LastAlert Alert     `json:"last_alert,omitempty"`
	LastOK    time.Time `json:"last_ok"`
	Checks    int       `json:"checks"`
}

// Safety monitors the distance and stops the robot before it hits things.
type Safety struct {
	Motor   *Motor
	LED     *LED
	Sensors *Sensors

	rate      float64
	warning   int
	emergency int
	staleness time.Duration

	lock      sync.Mutex
	level     Level
	latched   bool
	distance  int
	lastOK    time.Time
	lastAlert Alert
	lost      bool
	checks    int
	listeners []func(Event)
}

// NewSafety creates the safety monitor.
func NewSafety(motor *Motor, led *LED, sensors *Sensors, conf *Config) *Safety {
	return &Safety{
		Motor:     motor,
		LED:       led,
		Sensors:   sensors,
		rate:      conf.SafetyRate,
		warning:   conf.WarningDistance,
		emergency: conf.EmergencyDistance,
		staleness: conf.SensorStaleAfter,
	}
}

// Name implements framework.Named.
func (s *Safety) Name() string {
	return "safety"
}

// Init installs the forward motion guard.
func (s *Safety) Init(context.Context) error {
	s.lock.Lock()
	s.lastOK = time.Now()
	s.lock.Unlock()
	if s.Motor != nil {
		s.Motor.SetGuard(s.SafeToMove)
	}
	return nil
}

// AddToLoop implements framework.LoopAdder.
func (s *Safety) AddToLoop(loop *fw.Loop) {
	ctl := fw.Controller(s)
	if s.rate > 0 && loop.Interval > 0 {
		if interval := time.Duration(float64(time.Second) / s.rate); interval > loop.Interval {
			ctl = fw.Throttle(interval, s)
		}
	}
	loop.AddController(fw.PrLvControl, ctl)
}

// Control implements framework.Controller.
func (s *Safety) Control(ctx fw.ControlContext) error {
	return s.Check(ctx.Context(), ctx.Time())
}

// OnEvent registers a listener. Listeners run on the monitor goroutine.
func (s *Safety) OnEvent(fn func(Event)) {
	s.lock.Lock()
	s.listeners = append(s.listeners, fn)
	s.lock.Unlock()
}

// Check runs one monitoring cycle.
func (s *Safety) Check(ctx context.Context, now time.Time) error {
	reading, err := s.Sensors.Read(ctx)
	if err != nil {
		return s.readFailed(ctx, now, err)
	}
	distance := reading.Raw.Distance

	s.lock.Lock()
	s.checks++
	s.lastOK = now
	s.lost = false
	s.distance = distance
	prev, latched := s.level, s.latched
	switch {
	case distance <= s.emergency:
		s.level, s.latched = LevelEmergency, true
	case latched:
		s.level = LevelEmergency
	case distance <= s.warning:
		s.level = LevelWarning
	default:
		s.level = LevelSafe
	}
	level := s.level
	s.lock.Unlock()

	if level == LevelEmergency && !latched {
		return s.trigger(ctx, now, AlertObstacleTooClose, distance,
			fmt.Sprintf("obstacle at %dcm", distance))
	}
	if level != prev {
		s.emit(Event{Level: level, Distance: distance, Time: now})
	}
	return nil
}

func (s *Safety) readFailed(ctx context.Context, now time.Time, err error) error {
	s.lock.Lock()
	s.checks++
	prev := s.level
	if !s.latched {
		s.level = LevelDanger
	}
	level := s.level
	stale := s.staleness > 0 && now.Sub(s.lastOK) > s.staleness && !s.lost
	if stale {
		s.lost = true
	}
	distance := s.distance
	s.lock.Unlock()

	if prev != LevelDanger && level == LevelDanger {
		if stopErr := s.Motor.Stop(ctx); stopErr != nil {
			glog.Errorf("safety stop failed: %v", stopErr)
		}
		s.alert(Event{Level: level, Alert: AlertSensorFailure, Distance: distance, Message: err.Error(), Time: now})
	}
	if stale {
		s.alert(Event{Level: level, Alert: AlertCommunicationLost, Distance: distance,
			Message: fmt.Sprintf("no sensor reading since %s", s.Status().LastOK.Format(time.RFC3339)), Time: now})
	}
	return err
}

// TriggerEmergency latches the emergency stop on request.
func (s *Safety) TriggerEmergency(ctx context.Context, reason string) error {
	s.lock.Lock()
	s.level, s.latched = LevelEmergency, true
	distance := s.distance
	s.lock.Unlock()
	return s.trigger(ctx, time.Now(), AlertManualEmergency, distance, reason)
}

func (s *Safety) trigger(ctx context.Context, now time.Time, alert Alert, distance int, msg string) error {
	glog.Warningf("EMERGENCY %s: %s", alert, msg)
	s.alert(Event{Level: LevelEmergency, Alert: alert, Distance: distance, Message: msg, Time: now})
	if err := s.Motor.EmergencyStop(ctx); err != nil {
		s.alert(Event{Level: LevelEmergency, Alert: AlertSystemError, Distance: distance,
			Message: "emergency stop: " + err.Error(), Time: now})
		return err
	}
	if s.LED != nil {
		if err := s.LED.Alert(ctx); err != nil {
			glog.Warningf("safety LED alert: %v", err)
		}
	}
	return nil
}

// Resume clears the emergency once the last distance is clear.
func (s *Safety) Resume() error {
	s.lock.Lock()
	if s.latched && s.distance > 0 && s.distance <= s.emergency {
		s.lock.Unlock()
		return ErrObstacle
	}
	s.latched = false
	s.level = LevelSafe
	if s.distance > 0 && s.distance <= s.warning {
		s.level = LevelWarning
	}
	level, distance := s.level, s.distance
	s.lock.Unlock()
	s.Motor.Resume()
	glog.Info("safety resumed")
	s.emit(Event{Level: level, Distance: distance, Time: time.Now()})
	return nil
}

// SafeToMove tells whether forward motion is allowed.
func (s *Safety) SafeToMove() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return !s.latched && s.level == LevelSafe
}

// Level returns the current level.
func (s *Safety) Level() Level {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.level
}

// Status returns the monitor state.
func (s *Safety) Status() SafetyStatus {
	s.lock.Lock()
	defer s.lock.Unlock()
	return SafetyStatus{
		Level:     s.level.String(),
		Emergency: s.latched,
		Distance:  s.distance,
		LastAlert: s.lastAlert,
		LastOK:    s.lastOK,
		Checks:    s.checks,
	}
}

// Shutdown detaches the motion guard.
func (s *Safety) Shutdown(context.Context) error {
	if s.Motor != nil {
		s.Motor.SetGuard(nil)
	}
	return nil
}

func (s *Safety) alert(e Event) {
	s.lock.Lock()
	s.lastAlert = e.Alert
	s.lock.Unlock()
	s.emit(e)
}

func (s *Safety) emit(e Event) {
	s.lock.Lock()
	listeners := s.listeners
	s.lock.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}
