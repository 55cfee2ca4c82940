package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/robolink/pkg/cli/sh"
	"github.com/robotalks/robolink/pkg/l0/protocol"
	"github.com/robotalks/robolink/pkg/l1/controllers"
)

func simpleCmd(name string, aliases []string, verb protocol.Verb) *ishell.Cmd {
	return &ishell.Cmd{
		Name:    name,
		Aliases: aliases,
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, protocol.Cmd(verb))
		}),
	}
}

func argCmd(name string, aliases []string, verb protocol.Verb, argName string) *ishell.Cmd {
	lo, hi := verb.Range()
	return &ishell.Cmd{
		Name:    name,
		Aliases: aliases,
		Help:    fmt.Sprintf("%s(%d-%d)", argName, lo, hi),
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			val, err := sh.IntArg(c.Args, 0, argName)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, protocol.NewCommand(verb, val))
		}),
	}
}

// motionCmd sends the motion verb, preceded by SET_SPEED when a speed is
// given, in one session.
func motionCmd(name string, aliases []string, verb protocol.Verb) *ishell.Cmd {
	return &ishell.Cmd{
		Name:    name,
		Aliases: aliases,
		Help:    "[SPEED(0-255)]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			var cmds []protocol.Command
			if len(c.Args) > 0 {
				speed, err := sh.IntArg(c.Args, 0, "SPEED")
				if err != nil {
					c.Err(err)
					return
				}
				cmds = append(cmds, protocol.NewCommand(protocol.SetSpeed, speed))
			}
			sh.DoCommand(c, append(cmds, protocol.Cmd(verb))...)
		}),
	}
}

var (
	// PingCmd checks the device answers.
	PingCmd = simpleCmd("ping", nil, protocol.Ping)
	// StatusCmd queries the device status.
	StatusCmd = simpleCmd("status", []string{"st"}, protocol.Status)
	// SensorsCmd reads the sensors.
	SensorsCmd = simpleCmd("sensors", []string{"s"}, protocol.ReadSensors)
	// StopCmd stops the motors.
	StopCmd = simpleCmd("stop", []string{"x"}, protocol.Stop)

	// ForwardCmd drives forward.
	ForwardCmd = motionCmd("forward", []string{"f"}, protocol.MoveForward)
	// BackwardCmd drives backward.
	BackwardCmd = motionCmd("backward", []string{"b"}, protocol.MoveBackward)
	// LeftCmd turns left.
	LeftCmd = motionCmd("left", []string{"l"}, protocol.TurnLeft)
	// RightCmd turns right.
	RightCmd = motionCmd("right", []string{"r"}, protocol.TurnRight)

	// SpeedCmd sets the motor speed.
	SpeedCmd = argCmd("speed", nil, protocol.SetSpeed, "SPEED")
	// LEDCmd plays a LED pattern.
	LEDCmd = argCmd("led", nil, protocol.LEDPattern, "PATTERN")
	// ServoCmd points the servo.
	ServoCmd = argCmd("servo", nil, protocol.Servo, "ANGLE")

	// RawCmd sends a line as is.
	RawCmd = &ishell.Cmd{
		Name: "raw",
		Help: "LINE",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("LINE required"))
				return
			}
			sh.DoLine(c, strings.Join(c.Args, " "))
		}),
	}

	// SelfTestCmd exercises every command except motion.
	SelfTestCmd = &ishell.Cmd{
		Name: "selftest",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			mgr := controllers.NewManager(s.Link, controllers.NewConfig())
			steps := mgr.SelfTest(context.Background())
			if s.OutputJSON {
				data, err := json.Marshal(steps)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(data))
				return
			}
			for _, step := range steps {
				result := "PASS"
				if !step.Passed {
					result = "FAIL"
				}
				c.Printf("%-8s %s %s\n", step.Name, result, step.Detail)
			}
		}),
	}
)

func init() {
	sh.AddCmds(
		PingCmd,
		StatusCmd,
		SensorsCmd,
		StopCmd,
		ForwardCmd,
		BackwardCmd,
		LeftCmd,
		RightCmd,
		SpeedCmd,
		LEDCmd,
		ServoCmd,
		RawCmd,
		SelfTestCmd,
	)
}
