package controllers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robotalks/robolink/pkg/l0/protocol"
)

const sensorsOwner = "sensors"

// ErrNoReading is returned before the first successful read.
var ErrNoReading = errors.New("no sensor reading")

// Reading is a smoothed sensor sample.
type Reading struct {
	// Distance is the moving average of the ultrasonic distance in cm.
	Distance int `json:"distance"`
	// Light is the moving average of the four light sensors.
	Light [4]int `json:"light"`
	// Raw is the latest sample as reported by the device.
	Raw protocol.SensorReading `json:"raw"`
	// Time is the host time of the latest sample.
	Time time.Time `json:"time"`
}

// SensorsStatus reports the sensor controller state.
type SensorsStatus struct {
	Ready     bool      `json:"ready"`
	Samples   int       `json:"samples"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastRead  time.Time `json:"last_read"`
}

// Sensors polls READ_SENSORS and smooths the samples.
type Sensors struct {
	conn   Conn
	window int

	lock     sync.Mutex
	ready    bool
	samples  []protocol.SensorReading
	last     Reading
	failures int
	lastErr  error
	total    int
}

// NewSensors creates the sensor controller.
func NewSensors(conn Conn, conf *Config) *Sensors {
	window := conf.SmoothingWindow
	if window <= 0 {
		window = 1
	}
	return &Sensors{conn: conn, window: window}
}

// Name implements framework.Named.
func (s *Sensors) Name() string {
	return sensorsOwner
}

// Init takes the first reading.
func (s *Sensors) Init(ctx context.Context) error {
	if _, err := s.Read(ctx); err != nil {
		return err
	}
	s.lock.Lock()
	s.ready = true
	s.lock.Unlock()
	return nil
}

// Read samples the sensors and returns the smoothed reading.
func (s *Sensors) Read(ctx context.Context) (Reading, error) {
	r, err := s.conn.Do(ctx, sensorsOwner, protocol.Cmd(protocol.ReadSensors))
	if err == nil && r.Sensors == nil {
		err = protocol.ErrMalformedResponse
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if err != nil {
		s.failures++
		s.lastErr = err
		return s.last, err
	}
	s.add(*r.Sensors, time.Now())
	return s.last, nil
}

func (s *Sensors) add(raw protocol.SensorReading, now time.Time) {
	s.samples = append(s.samples, raw)
	if len(s.samples) > s.window {
		s.samples = s.samples[len(s.samples)-s.window:]
	}
	s.total++
	var distance int
	var light [4]int
	for _, sample := range s.samples {
		distance += sample.Distance
		for n := range light {
			light[n] += sample.Light[n]
		}
	}
	count := len(s.samples)
	s.last.Distance = distance / count
	for n := range light {
		s.last.Light[n] = light[n] / count
	}
	s.last.Raw = raw
	s.last.Time = now
}

// Distance reads the sensors and returns the smoothed distance.
func (s *Sensors) Distance(ctx context.Context) (int, error) {
	r, err := s.Read(ctx)
	return r.Distance, err
}

// Last returns the latest reading without talking to the device.
func (s *Sensors) Last() (Reading, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.total == 0 {
		return Reading{}, ErrNoReading
	}
	return s.last, nil
}

// Status returns the controller state.
func (s *Sensors) Status() SensorsStatus {
	s.lock.Lock()
	defer s.lock.Unlock()
	st := SensorsStatus{
		Ready:    s.ready,
		Samples:  s.total,
		Failures: s.failures,
		LastRead: s.last.Time,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Shutdown marks the controller stopped.
func (s *Sensors) Shutdown(context.Context) error {
	s.lock.Lock()
	s.ready = false
	s.lock.Unlock()
	return nil
}
