package link

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/robolink/pkg/l0/firmware"
	"github.com/robotalks/robolink/pkg/l0/protocol"
)

// SimulateMode selects the transport variant.
type SimulateMode string

// Simulate modes.
const (
	// SimulateAuto uses the serial device when present, simulation otherwise.
	SimulateAuto SimulateMode = "auto"
	// SimulateOn always simulates.
	SimulateOn SimulateMode = "on"
	// SimulateOff requires the serial device.
	SimulateOff SimulateMode = "off"
)

// String implements flag.Value.
func (m *SimulateMode) String() string {
	return string(*m)
}

// Set implements flag.Value.
func (m *SimulateMode) Set(val string) error {
	switch mode := SimulateMode(val); mode {
	case SimulateAuto, SimulateOn, SimulateOff:
		*m = mode
		return nil
	}
	return fmt.Errorf("invalid simulate mode %q, expect auto, on or off", val)
}

// Config defines the link options.
type Config struct {
	Device   string       `yaml:"device"`
	Baud     int          `yaml:"baud"`
	Simulate SimulateMode `yaml:"simulate"`

	// SimRealTime makes the simulated board block in real time, e.g. during
	// LED sequences.
	SimRealTime bool `yaml:"sim_real_time"`
	// SimDistance is the obstacle distance (cm) seen by the simulated board,
	// 0 means no echo.
	SimDistance int `yaml:"sim_distance"`

	// SettleDelay is waited on acquire when the owner changes or the
	// previous session left a command unanswered.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// BootDelay is waited before the handshake, the device resets when the
	// port is opened.
	BootDelay time.Duration `yaml:"boot_delay"`
	// PollInterval is the transport read timeout of the line reader.
	PollInterval time.Duration `yaml:"poll_interval"`
	// FaultThreshold is the number of consecutive timeouts declaring the
	// link faulty.
	FaultThreshold int `yaml:"fault_threshold"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ActuationTimeout time.Duration `yaml:"actuation_timeout"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
}

var defaultConfig = Config{
	Device:           "/dev/ttyUSB0",
	Baud:             115200,
	Simulate:         SimulateAuto,
	SimRealTime:      true,
	SimDistance:      100,
	SettleDelay:      100 * time.Millisecond,
	BootDelay:        2 * time.Second,
	PollInterval:     time.Millisecond,
	FaultThreshold:   3,
	HandshakeTimeout: protocol.DefaultHandshakeTimeout,
	ActuationTimeout: protocol.DefaultActuationTimeout,
	QueryTimeout:     protocol.DefaultQueryTimeout,
}

func init() {
	if val := os.Getenv("ROBO_SERIAL"); val != "" {
		defaultConfig.Device = val
	}
	if val := os.Getenv("ROBO_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			defaultConfig.Baud = baud
		}
	}
	if val := os.Getenv("ROBO_SIMULATE"); val != "" {
		if err := defaultConfig.Simulate.Set(val); err != nil {
			glog.Warningf("ROBO_SIMULATE: %v", err)
		}
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Device, "serial", defaultConfig.Device, "Serial device of the robot controller")
	flag.IntVar(&defaultConfig.Baud, "baud", defaultConfig.Baud, "Serial baud rate")
	flag.Var(&defaultConfig.Simulate, "simulate", "Simulated transport: auto, on, off")
	flag.DurationVar(&defaultConfig.SettleDelay, "settle-delay", defaultConfig.SettleDelay, "Settle delay after flushing the link")
	flag.DurationVar(&defaultConfig.BootDelay, "boot-delay", defaultConfig.BootDelay, "Wait for the device to boot before handshake")
	flag.DurationVar(&defaultConfig.HandshakeTimeout, "handshake-timeout", defaultConfig.HandshakeTimeout, "Timeout of the handshake")
	flag.DurationVar(&defaultConfig.ActuationTimeout, "actuation-timeout", defaultConfig.ActuationTimeout, "Timeout of actuation commands")
	flag.DurationVar(&defaultConfig.QueryTimeout, "query-timeout", defaultConfig.QueryTimeout, "Timeout of query commands")
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

// Timeout returns the configured timeout of a class.
func (c *Config) Timeout(class protocol.TimeoutClass) time.Duration {
	var d time.Duration
	switch class {
	case protocol.Handshake:
		d = c.HandshakeTimeout
	case protocol.Actuation:
		d = c.ActuationTimeout
	case protocol.Query:
		d = c.QueryTimeout
	}
	if d <= 0 {
		d = class.Default()
	}
	return d
}

// OpenTransport selects the transport according to Simulate.
// The returned bool tells whether the transport is simulated.
func (c *Config) OpenTransport() (Transport, bool, error) {
	if c.Simulate != SimulateOn {
		t, err := OpenSerial(c.Device, c.Baud)
		if err == nil {
			return t, false, nil
		}
		if c.Simulate == SimulateOff {
			return nil, false, err
		}
		if !errors.Is(err, ErrNoTransport) {
			glog.Warningf("serial %s unusable: %v", c.Device, err)
		}
		glog.Warningf("serial %s not available, using simulated transport", c.Device)
	}
	return c.NewSimTransport(), true, nil
}

// NewSimTransport creates the simulated transport.
func (c *Config) NewSimTransport() *SimTransport {
	board := firmware.NewSimBoard()
	board.RealTime = c.SimRealTime
	t := NewSimTransport(board)
	if c.SimDistance > 0 {
		board.SetDistance(t.Firmware.Pins.Echo, c.SimDistance)
	}
	for n, pin := range t.Firmware.Pins.Light {
		board.SetAnalog(pin, 512+n*16)
	}
	return t
}

// Open opens the transport and creates the Link.
func (c *Config) Open() (*Link, error) {
	t, simulated, err := c.OpenTransport()
	if err != nil {
		return nil, err
	}
	l := New(t, c)
	l.simulated = simulated
	return l, nil
}
