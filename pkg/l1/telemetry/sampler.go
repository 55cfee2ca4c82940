package telemetry

import (
	"sync"
	"time"

	"github.com/golang/glog"
	structpb "github.com/golang/protobuf/ptypes/struct"

	fw "github.com/robotalks/robolink/pkg/framework"
	"github.com/robotalks/robolink/pkg/l1/controllers"
)

// Sink receives frames.
type Sink interface {
	Publish(kind string, frame *structpb.Struct) error
}

// Source provides the sampled state.
type Source interface {
	SystemStatus() controllers.SystemStatus
}

// SensorSource provides the latest sensor reading without device access.
type SensorSource interface {
	Last() (controllers.Reading, error)
}

// DefaultInterval is the default sampling interval.
const DefaultInterval = time.Second

// Sampler publishes sensor and status frames at a fixed interval and
// safety events as they happen.
type Sampler struct {
	Robot    string
	Interval time.Duration
	Status   Source
	Sensors  SensorSource

	lock        sync.RWMutex
	sinks       []Sink
	lastReading time.Time
}

// NewSampler creates a Sampler over a Manager.
func NewSampler(robot string, mgr *controllers.Manager) *Sampler {
	s := &Sampler{
		Robot:    robot,
		Interval: DefaultInterval,
		Status:   mgr,
		Sensors:  mgr.Sensors,
	}
	mgr.Safety.OnEvent(s.SafetyEvent)
	return s
}

// AddSink adds a Sink.
func (s *Sampler) AddSink(sinks ...Sink) *Sampler {
	s.lock.Lock()
	s.sinks = append(s.sinks, sinks...)
	s.lock.Unlock()
	return s
}

// Name implements framework.Named.
func (s *Sampler) Name() string {
	return "telemetry"
}

// AddToLoop implements framework.LoopAdder.
func (s *Sampler) AddToLoop(loop *fw.Loop) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	loop.AddController(fw.PrLvPostProc, fw.Throttle(interval, s))
}

// Control implements framework.Controller.
func (s *Sampler) Control(ctx fw.ControlContext) error {
	s.Sample(ctx.Time())
	return nil
}

// Sample publishes the current state. A sensor frame is only published
// when a new reading arrived since the last sample.
func (s *Sampler) Sample(now time.Time) {
	if s.Sensors != nil {
		if r, err := s.Sensors.Last(); err == nil && r.Time.After(s.lastReading) {
			s.lastReading = r.Time
			s.publish(KindSensors, now, r)
		}
	}
	if s.Status != nil {
		s.publish(KindStatus, now, s.Status.SystemStatus())
	}
}

// SafetyEvent publishes a safety frame.
func (s *Sampler) SafetyEvent(e controllers.Event) {
	s.publish(KindSafety, e.Time, e)
}

func (s *Sampler) publish(kind string, now time.Time, data interface{}) {
	frame, err := NewFrame(kind, s.Robot, now, data)
	if err != nil {
		glog.Errorf("telemetry %s: %v", kind, err)
		return
	}
	s.lock.RLock()
	sinks := s.sinks
	s.lock.RUnlock()
	for _, sink := range sinks {
		if err := sink.Publish(kind, frame); err != nil {
			glog.Warningf("telemetry %s publish: %v", kind, err)
		}
	}
}
