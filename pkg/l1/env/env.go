// Package env assembles the daemon from configuration: link, controllers,
// telemetry, MQTT bridge and websocket feed.
package env

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	fw "github.com/robotalks/robolink/pkg/framework"
	"github.com/robotalks/robolink/pkg/l0/link"
	"github.com/robotalks/robolink/pkg/l0/protocol"
	"github.com/robotalks/robolink/pkg/l1/controllers"
	"github.com/robotalks/robolink/pkg/l1/feed"
	"github.com/robotalks/robolink/pkg/l1/mqtt"
	"github.com/robotalks/robolink/pkg/l1/telemetry"
)

// Config provides all options of the daemon.
type Config struct {
	Link        link.Config        `yaml:"link"`
	Controllers controllers.Config `yaml:"controllers"`

	// Robot identifies the robot in MQTT topics and telemetry.
	Robot string `yaml:"robot"`
	// MQTTBrokerURL specifies the MQTT broker to use, empty disables MQTT.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `yaml:"mqtt"`
	// Format is the telemetry encoding on MQTT.
	Format telemetry.Format `yaml:"format"`
	// TelemetryInterval is the sampling interval of telemetry.
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
	// FeedAddr is the listen address of the websocket feed, empty disables it.
	FeedAddr string `yaml:"feed"`
	// LoopRate is the control loop frequency in Hz.
	LoopRate float64 `yaml:"loop_rate"`
}

var (
	defaultConfig = Config{
		MQTTBrokerURL:     "mqtt://localhost:1883/robo/",
		Format:            telemetry.FormatProto,
		TelemetryInterval: telemetry.DefaultInterval,
		LoopRate:          20,
	}

	configFile string
)

func init() {
	if val := os.Getenv("ROBO_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("ROBO_ID"); val != "" {
		defaultConfig.Robot = val
	}
	if val := os.Getenv("ROBO_FEED_ADDR"); val != "" {
		defaultConfig.FeedAddr = val
	}
}

// SetupFlags sets command line flags, including the link and controller ones.
func SetupFlags() {
	link.SetupFlags()
	controllers.SetupFlags()
	flag.StringVar(&configFile, "config", configFile, "YAML config file")
	flag.StringVar(&defaultConfig.Robot, "id", defaultConfig.Robot, "Robot ID, default derived from machine ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL, empty to disable")
	flag.Var(&defaultConfig.Format, "format", "Telemetry format on MQTT: proto, json")
	flag.DurationVar(&defaultConfig.TelemetryInterval, "telemetry-interval", defaultConfig.TelemetryInterval, "Telemetry sampling interval")
	flag.StringVar(&defaultConfig.FeedAddr, "feed", defaultConfig.FeedAddr, "Websocket feed listen address, e.g. :8080")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations, overlaid by the
// config file given on the command line.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	conf.Link = *link.NewConfig()
	conf.Controllers = *controllers.NewConfig()
	if configFile != "" {
		if err := conf.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	return &conf, nil
}

// MustNewConfig creates Config and fails on error.
func MustNewConfig() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	return conf
}

// LoadFile overlays the YAML file on the config.
func (c *Config) LoadFile(fn string) error {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return err
	}
	return c.Load(data)
}

// Load overlays YAML content on the config.
func (c *Config) Load(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return c.Validate()
}

// Validate checks the values.
func (c *Config) Validate() error {
	if err := c.Link.Simulate.Set(string(c.Link.Simulate)); err != nil {
		return err
	}
	if err := c.Format.Set(string(c.Format)); err != nil {
		return err
	}
	if c.Controllers.EmergencyDistance > c.Controllers.WarningDistance {
		return errors.New("emergency distance must not exceed warning distance")
	}
	if c.LoopRate <= 0 {
		return errors.New("loop rate must be positive")
	}
	return nil
}

// Env is the assembled daemon.
type Env struct {
	Config  *Config
	Link    *link.Link
	Manager *controllers.Manager
	Sampler *telemetry.Sampler
	Bridge  *mqtt.Bridge
	Feed    *feed.Hub
}

// NewEnv opens the link and creates all components. Nothing talks to the
// device before Manager.Init.
func (c *Config) NewEnv() (*Env, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	robot := c.Robot
	if robot == "" {
		robot = MachineID()
	}
	l, err := c.Link.Open()
	if err != nil {
		return nil, fmt.Errorf("open link: %w", err)
	}
	e := &Env{
		Config:  c,
		Link:    l,
		Manager: controllers.NewManager(l, &c.Controllers),
	}
	e.Sampler = telemetry.NewSampler(robot, e.Manager)
	e.Sampler.Interval = c.TelemetryInterval
	if c.MQTTBrokerURL != "" {
		if e.Bridge, err = mqtt.NewBridge(c.MQTTBrokerURL, robot, l); err != nil {
			l.Close()
			return nil, fmt.Errorf("create MQTT bridge: %w", err)
		}
		e.Bridge.Format = c.Format
		e.Bridge.Meta = mqtt.Meta{Device: l.Device(), Simulated: l.Simulated()}
		e.Bridge.Allow = e.AllowRemote
		e.Sampler.AddSink(e.Bridge)
	}
	if c.FeedAddr != "" {
		e.Feed = feed.NewHub()
		e.Sampler.AddSink(e.Feed)
	}
	return e, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	env, err := c.NewEnv()
	if err != nil {
		log.Fatalln(err)
	}
	return env
}

// AllowRemote applies the motion guards to remote commands and caps a
// remote SET_SPEED at the motor's MaxSpeed.
func (e *Env) AllowRemote(cmd protocol.Command) (protocol.Command, error) {
	motor := e.Manager.Motor
	switch {
	case cmd.Verb == protocol.SetSpeed:
		if cmd.Arg > motor.MaxSpeed() {
			cmd = protocol.NewCommand(protocol.SetSpeed, motor.MaxSpeed())
		}
	case !cmd.Verb.IsMotion():
	case motor.EmergencyStopped():
		return cmd, controllers.ErrEmergencyStop
	case cmd.Verb == protocol.MoveForward && !e.Manager.Safety.SafeToMove():
		return cmd, controllers.ErrUnsafe
	}
	return cmd, nil
}

// NewLoop creates the control loop with all components added.
func (e *Env) NewLoop() *fw.Loop {
	loop := fw.NewLoopAt(e.Config.LoopRate)
	loop.Add(e.Manager, e.Sampler)
	if e.Bridge != nil {
		loop.AddRunnable(e.Bridge)
	}
	if e.Feed != nil {
		loop.AddRunnable(&feed.Server{Addr: e.Config.FeedAddr, Hub: e.Feed})
	}
	return loop
}
