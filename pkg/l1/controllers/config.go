package controllers

import (
	"context"
	"flag"
	"time"

	"github.com/robotalks/robolink/pkg/l0/link"
	"github.com/robotalks/robolink/pkg/l0/protocol"
)

// Conn is the part of link.Link used by controllers.
type Conn interface {
	Acquire(ctx context.Context, owner string) (*link.Session, error)
	Do(ctx context.Context, owner string, cmd protocol.Command) (*protocol.Response, error)
	Handshake(ctx context.Context) error
}

// Config defines the controller options.
type Config struct {
	// BaseSpeed is the duty cycle used when no speed is given.
	BaseSpeed int `yaml:"base_speed"`
	// MaxSpeed caps every speed requested by callers.
	MaxSpeed int `yaml:"max_speed"`
	// ControllerSettle separates the motor initialization from the others.
	ControllerSettle time.Duration `yaml:"controller_settle"`

	// SafetyRate is the monitor frequency in Hz.
	SafetyRate float64 `yaml:"safety_rate"`
	// WarningDistance (cm) raises WARNING.
	WarningDistance int `yaml:"warning_distance"`
	// EmergencyDistance (cm) triggers an emergency stop.
	EmergencyDistance int `yaml:"emergency_distance"`
	// SensorStaleAfter declares communication lost without readings.
	SensorStaleAfter time.Duration `yaml:"sensor_stale_after"`

	// SmoothingWindow is the number of readings averaged.
	SmoothingWindow int `yaml:"smoothing_window"`
}

var defaultConfig = Config{
	BaseSpeed:         40,
	MaxSpeed:          100,
	ControllerSettle:  time.Second,
	SafetyRate:        20,
	WarningDistance:   15,
	EmergencyDistance: 10,
	SensorStaleAfter:  2 * time.Second,
	SmoothingWindow:   5,
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.IntVar(&defaultConfig.BaseSpeed, "base-speed", defaultConfig.BaseSpeed, "Default motor speed (0-255)")
	flag.IntVar(&defaultConfig.MaxSpeed, "max-speed", defaultConfig.MaxSpeed, "Maximum motor speed (0-255)")
	flag.Float64Var(&defaultConfig.SafetyRate, "safety-rate", defaultConfig.SafetyRate, "Safety monitor rate in Hz")
	flag.IntVar(&defaultConfig.WarningDistance, "warning-distance", defaultConfig.WarningDistance, "Obstacle warning distance in cm")
	flag.IntVar(&defaultConfig.EmergencyDistance, "emergency-distance", defaultConfig.EmergencyDistance, "Emergency stop distance in cm")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}
