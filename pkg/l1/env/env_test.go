package env

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/robolink/pkg/l0/link"
	"github.com/robotalks/robolink/pkg/l0/protocol"
	"github.com/robotalks/robolink/pkg/l1/controllers"
	"github.com/robotalks/robolink/pkg/l1/mqtt"
	"github.com/robotalks/robolink/pkg/l1/telemetry"
)

const testYAML = `
robot: r2d2
mqtt: ""
format: json
telemetry_interval: 250ms
link:
  device: /dev/ttyACM0
  simulate: "on"
  sim_real_time: false
  settle_delay: 0s
  query_timeout: 200ms
controllers:
  base_speed: 60
  controller_settle: 0s
  warning_distance: 20
`

func TestLoadOverlaysDefaults(t *testing.T) {
	conf, err := NewConfig()
	require.NoError(t, err)
	require.NoError(t, conf.Load([]byte(testYAML)))

	require.Equal(t, "r2d2", conf.Robot)
	require.Empty(t, conf.MQTTBrokerURL)
	require.Equal(t, telemetry.FormatJSON, conf.Format)
	require.Equal(t, 250*time.Millisecond, conf.TelemetryInterval)
	require.Equal(t, "/dev/ttyACM0", conf.Link.Device)
	require.Equal(t, link.SimulateOn, conf.Link.Simulate)
	require.Equal(t, 200*time.Millisecond, conf.Link.QueryTimeout)
	// untouched values keep their defaults
	require.Equal(t, 115200, conf.Link.Baud)
	require.Equal(t, 60, conf.Controllers.BaseSpeed)
	require.Equal(t, 100, conf.Controllers.MaxSpeed)
	require.Equal(t, 20, conf.Controllers.WarningDistance)
	require.Equal(t, 10, conf.Controllers.EmergencyDistance)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for _, doc := range []string{
		"format: xml",
		"link: {simulate: maybe}",
		"controllers: {warning_distance: 5, emergency_distance: 10}",
		"loop_rate: 0",
		"link: [",
	} {
		conf, err := NewConfig()
		require.NoError(t, err)
		require.Error(t, conf.Load([]byte(doc)), doc)
	}
}

func TestNewEnvSimulated(t *testing.T) {
	conf, err := NewConfig()
	require.NoError(t, err)
	require.NoError(t, conf.Load([]byte(testYAML)))
	e, err := conf.NewEnv()
	require.NoError(t, err)
	require.True(t, e.Link.Simulated())
	require.Nil(t, e.Bridge)
	require.Nil(t, e.Feed)
	require.Equal(t, "r2d2", e.Sampler.Robot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Link.Run(ctx)
	require.NoError(t, e.Manager.Init(context.Background()))
	require.Equal(t, 60, e.Manager.Motor.Status().Speed)

	_, err = e.AllowRemote(protocol.Cmd(protocol.MoveForward))
	require.NoError(t, err)
	require.NoError(t, e.Manager.Motor.EmergencyStop(context.Background()))
	_, err = e.AllowRemote(protocol.Cmd(protocol.TurnLeft))
	require.Equal(t, controllers.ErrEmergencyStop, err)
	_, err = e.AllowRemote(protocol.Cmd(protocol.Stop))
	require.NoError(t, err)

	loop := e.NewLoop()
	require.Equal(t, 50*time.Millisecond, loop.Interval)
	require.NoError(t, e.Manager.Shutdown(context.Background()))
}

func TestNewEnvBridgeMeta(t *testing.T) {
	conf, err := NewConfig()
	require.NoError(t, err)
	require.NoError(t, conf.Load([]byte(testYAML)))
	conf.MQTTBrokerURL = "mqtt://localhost:1883/robo/"
	e, err := conf.NewEnv()
	require.NoError(t, err)
	defer e.Link.Close()
	require.NotNil(t, e.Bridge)
	require.Equal(t, "sim", e.Bridge.Meta.Device)
	require.True(t, e.Bridge.Meta.Simulated)
	require.Equal(t, "robo/", e.Bridge.Queue.TopicPrefix)
}

func TestRemoteSpeedIsCapped(t *testing.T) {
	conf, err := NewConfig()
	require.NoError(t, err)
	require.NoError(t, conf.Load([]byte(testYAML)))
	e, err := conf.NewEnv()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Link.Run(ctx)
	require.NoError(t, e.Manager.Init(context.Background()))
	defer e.Manager.Shutdown(context.Background())
	fw := e.Link.Transport().(*link.SimTransport).Firmware

	bridge := &mqtt.Bridge{Robot: "r2d2", Device: e.Link, Allow: e.AllowRemote}
	require.Equal(t, "ACTION:SPEED_SET:100", bridge.Execute(context.Background(), "SET_SPEED:255"))
	require.Equal(t, 100, fw.State().Speed)
	require.Equal(t, "ACTION:SPEED_SET:80", bridge.Execute(context.Background(), "SET_SPEED:80"))

	// the motor controller sends its own speed with every move
	require.NoError(t, e.Manager.Motor.Forward(context.Background(), 0))
	require.Equal(t, 60, fw.State().Speed)
	require.Equal(t, 60, e.Manager.Motor.Status().Speed)
}

func TestMachineID(t *testing.T) {
	require.NotEmpty(t, MachineID())
	require.Equal(t, MachineID(), MachineID())
}
